package services

import (
	"testing"
)

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func TestNormalizeConfigDefaults(t *testing.T) {
	s := &brewService{noCaptionMaxSec: 600}
	cfg := s.NormalizeConfig(BrewConfigInput{})

	if cfg.MaxVideos != 6 || cfg.MaxQueries != 8 || cfg.PerQuery != 8 {
		t.Fatalf("defaults: max_videos=%d max_queries=%d per_query=%d", cfg.MaxVideos, cfg.MaxQueries, cfg.PerQuery)
	}
	if cfg.MinDurationSec != 0 || cfg.MaxDurationSec != 0 {
		t.Fatalf("duration defaults: min=%d max=%d", cfg.MinDurationSec, cfg.MaxDurationSec)
	}
	if cfg.NoCaptionMaxDurationSec != 600 {
		t.Fatalf("no-caption ceiling: want=600 got=%d", cfg.NoCaptionMaxDurationSec)
	}
	if !cfg.CaptionsOnly {
		t.Fatalf("captions_only should default to true")
	}
}

func TestNormalizeConfigClamps(t *testing.T) {
	s := &brewService{noCaptionMaxSec: 600}
	cfg := s.NormalizeConfig(BrewConfigInput{
		MaxVideos:      intPtr(1000),
		MaxQueries:     intPtr(0),
		PerQuery:       intPtr(-5),
		MinDurationSec: intPtr(-10),
		MaxDurationSec: intPtr(7 * 3600),
		CaptionsOnly:   boolPtr(false),
	})

	if cfg.MaxVideos != 40 {
		t.Fatalf("max_videos clamp: want=40 got=%d", cfg.MaxVideos)
	}
	if cfg.MaxQueries != 3 || cfg.PerQuery != 3 {
		t.Fatalf("lower clamps: max_queries=%d per_query=%d", cfg.MaxQueries, cfg.PerQuery)
	}
	if cfg.MinDurationSec != 0 {
		t.Fatalf("min_duration clamp: got=%d", cfg.MinDurationSec)
	}
	if cfg.MaxDurationSec != 6*3600 {
		t.Fatalf("max_duration clamp: want=%d got=%d", 6*3600, cfg.MaxDurationSec)
	}
	if cfg.CaptionsOnly {
		t.Fatalf("explicit captions_only=false should stick")
	}
}

func TestNormalizeConfigShrinksNoCaptionCeiling(t *testing.T) {
	s := &brewService{noCaptionMaxSec: 600}
	cfg := s.NormalizeConfig(BrewConfigInput{MaxDurationSec: intPtr(300)})
	if cfg.NoCaptionMaxDurationSec != 300 {
		t.Fatalf("ceiling should shrink to max duration: want=300 got=%d", cfg.NoCaptionMaxDurationSec)
	}

	cfg = s.NormalizeConfig(BrewConfigInput{MaxDurationSec: intPtr(1200)})
	if cfg.NoCaptionMaxDurationSec != 600 {
		t.Fatalf("ceiling should not grow: want=600 got=%d", cfg.NoCaptionMaxDurationSec)
	}
}
