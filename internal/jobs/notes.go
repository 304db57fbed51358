package jobs

import (
	"strings"
	"time"

	"github.com/hubrts/youtube-command-deck/internal/realtime"
)

const (
	TaskAnalyze = "analyze"
	TaskAsk     = "ask"
)

// TaskProgress is the free-form progress row a notes worker keeps current
// for its video. Keys are owned by the worker; the registry only merges.
type TaskProgress map[string]any

func (p TaskProgress) clone() TaskProgress {
	out := make(TaskProgress, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// NotesProgress is the combined analyze+ask view for one video.
type NotesProgress struct {
	VideoID  string       `json:"video_id"`
	BusyTask string       `json:"busy_task"`
	Ask      TaskProgress `json:"ask"`
	Analyze  TaskProgress `json:"analyze"`
}

func notesTaskKey(videoID, kind string) string {
	vid := strings.TrimSpace(videoID)
	task := strings.ToLower(strings.TrimSpace(kind))
	if vid == "" || task == "" {
		return ""
	}
	return task + ":" + vid
}

// TryStartNotesTask atomically claims the (video, kind) slot. The caller
// must release it with FinishNotesTask when the task returns.
func (r *Registry) TryStartNotesTask(videoID, kind string) bool {
	key := notesTaskKey(videoID, kind)
	if key == "" {
		return false
	}
	r.notesMu.Lock()
	defer r.notesMu.Unlock()
	if r.active[key] {
		return false
	}
	r.active[key] = true
	return true
}

func (r *Registry) FinishNotesTask(videoID, kind string) {
	key := notesTaskKey(videoID, kind)
	if key == "" {
		return
	}
	r.notesMu.Lock()
	delete(r.active, key)
	r.notesMu.Unlock()
}

func (r *Registry) IsNotesTaskRunning(videoID, kind string) bool {
	key := notesTaskKey(videoID, kind)
	if key == "" {
		return false
	}
	r.notesMu.Lock()
	defer r.notesMu.Unlock()
	return r.active[key]
}

func (r *Registry) setTaskProgress(table map[string]TaskProgress, videoID string, changes map[string]any) TaskProgress {
	vid := strings.TrimSpace(videoID)
	if vid == "" {
		return TaskProgress{}
	}
	r.notesMu.Lock()
	row := table[vid]
	if row == nil {
		row = TaskProgress{}
	} else {
		row = row.clone()
	}
	for k, v := range changes {
		row[k] = v
	}
	row["video_id"] = vid
	row["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	table[vid] = row
	snap := row.clone()
	r.notesMu.Unlock()
	return snap
}

func (r *Registry) getTaskProgress(table map[string]TaskProgress, videoID string) TaskProgress {
	vid := strings.TrimSpace(videoID)
	if vid == "" {
		return TaskProgress{}
	}
	r.notesMu.Lock()
	defer r.notesMu.Unlock()
	row := table[vid]
	if row == nil {
		return TaskProgress{}
	}
	return row.clone()
}

// SetAnalyzeProgress merges changes into the video's analyze row and
// publishes the combined notes view.
func (r *Registry) SetAnalyzeProgress(videoID string, changes map[string]any) TaskProgress {
	snap := r.setTaskProgress(r.analyze, videoID, changes)
	r.publishNotes(videoID)
	return snap
}

func (r *Registry) GetAnalyzeProgress(videoID string) TaskProgress {
	return r.getTaskProgress(r.analyze, videoID)
}

// SetAskProgress merges changes into the video's ask row and publishes the
// combined notes view.
func (r *Registry) SetAskProgress(videoID string, changes map[string]any) TaskProgress {
	snap := r.setTaskProgress(r.ask, videoID, changes)
	r.publishNotes(videoID)
	return snap
}

func (r *Registry) GetAskProgress(videoID string) TaskProgress {
	return r.getTaskProgress(r.ask, videoID)
}

func (r *Registry) publishNotes(videoID string) {
	r.publish(realtime.Event{Type: realtime.EventNotesProgress, Job: r.NotesProgressSnapshot(videoID)})
}

// NotesProgressSnapshot composes the analyze+ask view, overlaying running
// state from the single-flight set so a claimed task always reads as busy.
func (r *Registry) NotesProgressSnapshot(videoID string) NotesProgress {
	vid := strings.TrimSpace(videoID)
	if vid == "" {
		return NotesProgress{
			Ask:     TaskProgress{"in_progress": false},
			Analyze: TaskProgress{"in_progress": false},
		}
	}

	ask := r.GetAskProgress(vid)
	analyze := r.GetAnalyzeProgress(vid)
	askRunning := r.IsNotesTaskRunning(vid, TaskAsk)
	analyzeRunning := r.IsNotesTaskRunning(vid, TaskAnalyze)

	if askRunning {
		ask["video_id"] = vid
		ask["status"] = JobStatusRunning
		ask["done"] = false
		if _, ok := ask["message"]; !ok {
			ask["message"] = "Asking transcript..."
		}
	}
	if analyzeRunning {
		analyze["video_id"] = vid
		analyze["status"] = JobStatusRunning
		analyze["done"] = false
		if _, ok := analyze["message"]; !ok {
			analyze["message"] = "Running analysis..."
		}
	}
	ask["in_progress"] = askRunning
	analyze["in_progress"] = analyzeRunning

	busy := ""
	switch {
	case askRunning:
		busy = TaskAsk
	case analyzeRunning:
		busy = TaskAnalyze
	}
	return NotesProgress{VideoID: vid, BusyTask: busy, Ask: ask, Analyze: analyze}
}
