package services

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// ActiveLive describes one in-flight live recording.
type ActiveLive struct {
	VideoID      string    `json:"video_id"`
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	Channel      string    `json:"channel"`
	StartedLocal time.Time `json:"started_local"`
	DateKey      string    `json:"date_key"`
	ServiceKey   string    `json:"service_key"`
	ServiceLabel string    `json:"service_label"`
	StartedAt    time.Time `json:"started_at"`
}

// RuntimeState holds the process-local live bookkeeping: the active lives
// table with its stop-request bits, and the replay dedupe set. The two groups
// change on independent schedules, so each keeps its own mutex. Nothing here
// survives a restart; durable status lives on the archive record.
type RuntimeState struct {
	liveMu       sync.Mutex
	activeLives  map[string]*ActiveLive
	stopRequests map[string]bool

	replayMu    sync.Mutex
	replayTasks map[string]bool
}

func NewRuntimeState() *RuntimeState {
	return &RuntimeState{
		activeLives:  make(map[string]*ActiveLive),
		stopRequests: make(map[string]bool),
		replayTasks:  make(map[string]bool),
	}
}

// PutActiveLive registers a live recording, replacing any previous entry for
// the same video id.
func (s *RuntimeState) PutActiveLive(live ActiveLive) {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	copyLive := live
	s.activeLives[live.VideoID] = &copyLive
}

// TryPutActiveLive registers a live recording only when the video id is not
// already active. Concurrent starters race here; exactly one wins.
func (s *RuntimeState) TryPutActiveLive(live ActiveLive) bool {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	if _, ok := s.activeLives[live.VideoID]; ok {
		return false
	}
	copyLive := live
	s.activeLives[live.VideoID] = &copyLive
	return true
}

func (s *RuntimeState) GetActiveLive(videoID string) (ActiveLive, bool) {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	live, ok := s.activeLives[videoID]
	if !ok {
		return ActiveLive{}, false
	}
	return *live, true
}

func (s *RuntimeState) IsLiveActive(videoID string) bool {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	_, ok := s.activeLives[videoID]
	return ok
}

// RemoveActiveLive drops the entry and its stop bit in one critical section,
// so a stop request can never outlive the recording it targeted.
func (s *RuntimeState) RemoveActiveLive(videoID string) {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	delete(s.activeLives, videoID)
	delete(s.stopRequests, videoID)
}

// ListActiveLives returns a snapshot ordered by start time, oldest first.
func (s *RuntimeState) ListActiveLives() []ActiveLive {
	s.liveMu.Lock()
	out := make([]ActiveLive, 0, len(s.activeLives))
	for _, live := range s.activeLives {
		out = append(out, *live)
	}
	s.liveMu.Unlock()

	sort.Slice(out, func(i, k int) bool {
		if out[i].StartedAt.Equal(out[k].StartedAt) {
			return out[i].VideoID < out[k].VideoID
		}
		return out[i].StartedAt.Before(out[k].StartedAt)
	})
	return out
}

// RequestLiveStop sets the stop bit for an active recording. False when the
// video has no active recording to stop.
func (s *RuntimeState) RequestLiveStop(videoID string) bool {
	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		return false
	}
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	if _, ok := s.activeLives[videoID]; !ok {
		return false
	}
	s.stopRequests[videoID] = true
	return true
}

func (s *RuntimeState) IsLiveStopRequested(videoID string) bool {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	return s.stopRequests[videoID]
}

func (s *RuntimeState) ClearLiveStopRequest(videoID string) {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	delete(s.stopRequests, videoID)
}

// TryRegisterReplayTask claims the replay slot for a video. Only one replay
// worker per video id may run; the claim holds until FinishReplayTask.
func (s *RuntimeState) TryRegisterReplayTask(videoID string) bool {
	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		return false
	}
	s.replayMu.Lock()
	defer s.replayMu.Unlock()
	if s.replayTasks[videoID] {
		return false
	}
	s.replayTasks[videoID] = true
	return true
}

func (s *RuntimeState) FinishReplayTask(videoID string) {
	s.replayMu.Lock()
	delete(s.replayTasks, videoID)
	s.replayMu.Unlock()
}

func (s *RuntimeState) IsReplayScheduled(videoID string) bool {
	s.replayMu.Lock()
	defer s.replayMu.Unlock()
	return s.replayTasks[videoID]
}
