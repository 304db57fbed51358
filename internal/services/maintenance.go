package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/repos"
	"github.com/hubrts/youtube-command-deck/internal/utils"
)

// MaintenanceService deletes recordings past the retention window and drops
// archive entries whose files have all disappeared.
type MaintenanceService interface {
	Run(ctx context.Context)
	CleanupOldFiles(ctx context.Context) (int, error)
}

type maintenanceService struct {
	log     *logger.Logger
	archive repos.ArchiveIndexRepo

	storageDir    string
	retentionDays int
	startDelay    time.Duration
	interval      time.Duration
}

func NewMaintenanceService(baseLog *logger.Logger, archive repos.ArchiveIndexRepo, storageDir string) MaintenanceService {
	log := baseLog.With("service", "MaintenanceService")
	return &maintenanceService{
		log:           log,
		archive:       archive,
		storageDir:    storageDir,
		retentionDays: utils.GetEnvAsInt("RETENTION_DAYS", 60, log),
		startDelay:    30 * time.Second,
		interval:      24 * time.Hour,
	}
}

// Run blocks until the context is cancelled, sweeping once a day after a
// short startup delay.
func (s *maintenanceService) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(s.startDelay):
	}
	for {
		n, err := s.CleanupOldFiles(ctx)
		if err != nil {
			s.log.Warn("Cleanup sweep failed", "error", err)
		} else if n > 0 {
			s.log.Info("Cleanup deleted old files", "count", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.interval):
		}
	}
}

// CleanupOldFiles removes file groups whose newest file is older than the
// retention window, then drops their archive entries. Entries whose files
// are already gone are dropped too. Returns the number of deleted files.
func (s *maintenanceService) CleanupOldFiles(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	deleted := 0

	index, err := s.archive.LoadIndex(ctx, nil)
	if err != nil {
		return 0, err
	}

	var dropIDs []string
	for vid, rec := range index {
		names := make([]string, 0, 2)
		for _, n := range []string{strings.TrimSpace(rec.Filename), strings.TrimSpace(rec.FullFilename)} {
			if n == "" {
				continue
			}
			dup := false
			for _, seen := range names {
				if seen == n {
					dup = true
					break
				}
			}
			if !dup {
				names = append(names, n)
			}
		}
		if len(names) == 0 {
			continue
		}

		var existing []string
		var newest time.Time
		for _, n := range names {
			p := filepath.Join(s.storageDir, n)
			st, serr := os.Stat(p)
			if serr != nil {
				continue
			}
			existing = append(existing, p)
			if mt := st.ModTime().UTC(); mt.After(newest) {
				newest = mt
			}
		}

		// All referenced files gone: stale entry.
		if len(existing) == 0 {
			dropIDs = append(dropIDs, vid)
			continue
		}

		if newest.Before(cutoff) {
			for _, p := range existing {
				if rerr := os.Remove(p); rerr == nil {
					deleted++
				}
			}
			dropIDs = append(dropIDs, vid)
		}
	}

	for _, vid := range dropIDs {
		if rec, ok := index[vid]; ok {
			s.removeTranscriptFile(rec.TranscriptPath)
		}
		if derr := s.archive.DeleteRecord(ctx, nil, vid); derr != nil {
			s.log.Warn("Failed to drop archive entry", "video_id", vid, "error", derr)
		}
	}

	return deleted, nil
}

// removeTranscriptFile deletes a transcript only when it sits under a
// transcripts directory, so cleanup never reaches outside the data tree.
func (s *maintenanceService) removeTranscriptFile(path string) {
	tr := strings.TrimSpace(path)
	if tr == "" {
		return
	}
	inTranscripts := false
	for _, part := range strings.Split(filepath.ToSlash(filepath.Clean(tr)), "/") {
		if part == "transcripts" {
			inTranscripts = true
			break
		}
	}
	if !inTranscripts {
		return
	}
	if err := os.Remove(tr); err != nil && !os.IsNotExist(err) {
		s.log.Warn("Failed to delete transcript", "path", tr, "error", err)
	}
}
