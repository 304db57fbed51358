package jobs

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hubrts/youtube-command-deck/internal/realtime"
)

const (
	componentLogLimit     = 220
	componentJobLimit     = 24
	componentCaseLimit    = 400
	componentLogLineLimit = 700
)

// NormalizeComponent maps user aliases onto the three suite selectors.
func NormalizeComponent(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "web", "ui", "frontend", "website":
		return "web"
	case "tg", "telegram", "bot", "chatbot":
		return "tg"
	default:
		return "all"
	}
}

func ComponentLabel(component string) string {
	switch NormalizeComponent(component) {
	case "web":
		return "UI part"
	case "tg":
		return "BE side"
	default:
		return "UI + BE"
	}
}

// TestCase is one discovered test with its latest observed status.
type TestCase struct {
	TestID string `json:"test_id"`
	Label  string `json:"label"`
	Index  int    `json:"index"`
	Status string `json:"status"`
}

// TestCaseLabel shortens a fully qualified test id for display.
func TestCaseLabel(testID string) string {
	raw := strings.TrimSpace(testID)
	if raw == "" {
		return "test"
	}
	parts := strings.Split(raw, "/")
	if len(parts) >= 2 {
		return strings.Join(parts[len(parts)-2:], "/")
	}
	return raw
}

// BuildTestCaseRows seeds pending rows for a discovered id list, capped at
// the snapshot row limit.
func BuildTestCaseRows(testIDs []string) []TestCase {
	rows := make([]TestCase, 0, len(testIDs))
	for _, id := range testIDs {
		tid := strings.TrimSpace(id)
		if tid == "" {
			continue
		}
		if len(rows) >= componentCaseLimit {
			break
		}
		rows = append(rows, TestCase{
			TestID: tid,
			Label:  TestCaseLabel(tid),
			Index:  len(rows) + 1,
			Status: "pending",
		})
	}
	return rows
}

// TestMetrics is the derived progress summary refreshed on every snapshot.
type TestMetrics struct {
	Total          int     `json:"total"`
	Completed      int     `json:"completed"`
	Remaining      int     `json:"remaining"`
	Passed         int     `json:"passed"`
	Failed         int     `json:"failed"`
	Errors         int     `json:"errors"`
	Skipped        int     `json:"skipped"`
	DurationSec    float64 `json:"duration_sec"`
	ProgressPct    float64 `json:"progress_pct"`
	PassRatePct    float64 `json:"pass_rate_pct"`
	FailureRatePct float64 `json:"failure_rate_pct"`
	TestsPerSec    float64 `json:"tests_per_sec"`
	AvgTestMS      float64 `json:"avg_test_ms"`
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

// SummarizeMetrics derives the display metrics from raw counters.
func SummarizeMetrics(total, completed, passed, failed, errors, skipped int, durationSec float64) TestMetrics {
	clamp := func(n int) int {
		if n < 0 {
			return 0
		}
		return n
	}
	total = clamp(total)
	completed = clamp(completed)
	passed = clamp(passed)
	failed = clamp(failed)
	errors = clamp(errors)
	skipped = clamp(skipped)
	if durationSec < 0 {
		durationSec = 0
	}

	m := TestMetrics{
		Total:       total,
		Completed:   completed,
		Remaining:   clamp(total - completed),
		Passed:      passed,
		Failed:      failed,
		Errors:      errors,
		Skipped:     skipped,
		DurationSec: roundTo(durationSec, 3),
	}
	if total > 0 {
		m.ProgressPct = roundTo(float64(completed)/float64(total)*100, 2)
	}
	if completed > 0 {
		m.PassRatePct = roundTo(float64(passed)/float64(completed)*100, 2)
		m.FailureRatePct = roundTo(float64(failed+errors)/float64(completed)*100, 2)
		m.AvgTestMS = roundTo(durationSec*1000/float64(completed), 2)
	}
	if durationSec > 0 {
		m.TestsPerSec = roundTo(float64(completed)/durationSec, 3)
	}
	return m
}

// ComponentTestJob is one test-suite run tracked in memory. The exported
// counters feed the derived Metrics block; timestamps use the wall clock
// while started/finished marks keep the monotonic reading for duration.
type ComponentTestJob struct {
	JobID          string      `json:"job_id"`
	Component      string      `json:"component"`
	ComponentLabel string      `json:"component_label"`
	Status         string      `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	StartedAt      string      `json:"started_at"`
	FinishedAt     string      `json:"finished_at"`
	Pattern        string      `json:"pattern"`
	CurrentTest    string      `json:"current_test"`
	Summary        string      `json:"summary"`
	Error          string      `json:"error"`
	Metrics        TestMetrics `json:"metrics"`
	LogTail        []string    `json:"log_tail"`
	TestCases      []TestCase  `json:"test_cases"`

	TotalTests     int `json:"-"`
	CompletedTests int `json:"-"`
	PassedTests    int `json:"-"`
	FailedTests    int `json:"-"`
	ErrorTests     int `json:"-"`
	SkippedTests   int `json:"-"`

	startedMark  time.Time
	finishedMark time.Time
}

func (j *ComponentTestJob) IsActive() bool {
	return j.Status == JobStatusQueued || j.Status == JobStatusRunning
}

// MarkStarted and MarkFinished pin the duration window. Both are meant to be
// called inside an UpdateComponentJob mutation.
func (j *ComponentTestJob) MarkStarted(now time.Time) {
	j.startedMark = now
	j.StartedAt = now.UTC().Format(time.RFC3339)
}

func (j *ComponentTestJob) MarkFinished(now time.Time) {
	j.finishedMark = now
	j.FinishedAt = now.UTC().Format(time.RFC3339)
}

func (j *ComponentTestJob) refreshMetrics(now time.Time) {
	var duration float64
	switch {
	case !j.finishedMark.IsZero() && !j.startedMark.IsZero():
		duration = j.finishedMark.Sub(j.startedMark).Seconds()
	case !j.startedMark.IsZero():
		duration = now.Sub(j.startedMark).Seconds()
	}
	if duration < 0 {
		duration = 0
	}
	j.Metrics = SummarizeMetrics(
		j.TotalTests, j.CompletedTests,
		j.PassedTests, j.FailedTests, j.ErrorTests, j.SkippedTests,
		duration,
	)
}

func (j *ComponentTestJob) snapshot(now time.Time) ComponentTestJob {
	j.refreshMetrics(now)
	snap := *j
	logs := j.LogTail
	if len(logs) > componentLogLimit {
		logs = logs[len(logs)-componentLogLimit:]
	}
	snap.LogTail = append([]string(nil), logs...)
	cases := j.TestCases
	if len(cases) > componentCaseLimit {
		cases = cases[:componentCaseLimit]
	}
	snap.TestCases = append([]TestCase(nil), cases...)
	return snap
}

// CreateComponentJob registers a queued suite run, trims the table to the
// retained job limit, and announces the new job.
func (r *Registry) CreateComponentJob(component, pattern string, cases []TestCase) ComponentTestJob {
	now := time.Now()
	comp := NormalizeComponent(component)
	job := &ComponentTestJob{
		JobID:          uuid.New().String(),
		Component:      comp,
		ComponentLabel: ComponentLabel(comp),
		Status:         JobStatusQueued,
		CreatedAt:      now.UTC(),
		UpdatedAt:      now.UTC(),
		Pattern:        pattern,
		LogTail:        []string{},
		TestCases:      append([]TestCase(nil), cases...),
		TotalTests:     len(cases),
	}

	r.compMu.Lock()
	r.component[job.JobID] = job
	r.trimComponentJobsLocked()
	snap := job.snapshot(now)
	r.compMu.Unlock()

	r.publish(realtime.Event{Type: realtime.EventComponentJobCreated, Job: snap})
	return snap
}

func (r *Registry) trimComponentJobsLocked() {
	if len(r.component) <= componentJobLimit {
		return
	}
	all := make([]*ComponentTestJob, 0, len(r.component))
	for _, job := range r.component {
		all = append(all, job)
	}
	sort.Slice(all, func(i, k int) bool {
		return all[i].CreatedAt.After(all[k].CreatedAt)
	})
	for _, job := range all[componentJobLimit:] {
		delete(r.component, job.JobID)
	}
}

// UpdateComponentJob mutates one job under the table lock and publishes the
// refreshed snapshot.
func (r *Registry) UpdateComponentJob(jobID string, mutate func(job *ComponentTestJob)) (ComponentTestJob, bool) {
	now := time.Now()
	r.compMu.Lock()
	job, ok := r.component[jobID]
	if !ok {
		r.compMu.Unlock()
		return ComponentTestJob{}, false
	}
	mutate(job)
	job.UpdatedAt = now.UTC()
	snap := job.snapshot(now)
	r.compMu.Unlock()

	r.publish(realtime.Event{Type: realtime.EventComponentJobUpdate, Job: snap})
	return snap, true
}

// AppendComponentLog adds one trimmed line to the job's log tail.
func (r *Registry) AppendComponentLog(jobID, line string) {
	text := strings.TrimRight(line, "\r\n \t")
	if text == "" {
		return
	}
	if len(text) > componentLogLineLimit {
		text = text[:componentLogLineLimit]
	}
	r.UpdateComponentJob(jobID, func(job *ComponentTestJob) {
		job.LogTail = append(job.LogTail, text)
		if len(job.LogTail) > componentLogLimit {
			job.LogTail = job.LogTail[len(job.LogTail)-componentLogLimit:]
		}
	})
}

// SetTestCaseStatus transitions one case row and bumps the completion
// counters on terminal states. Returns false when the row is unknown or the
// status did not change.
func (r *Registry) SetTestCaseStatus(jobID, testID, status string) bool {
	st := strings.ToLower(strings.TrimSpace(status))
	if st == "" {
		st = "pending"
	}
	changed := false
	r.UpdateComponentJob(jobID, func(job *ComponentTestJob) {
		for i := range job.TestCases {
			if job.TestCases[i].TestID != testID {
				continue
			}
			if job.TestCases[i].Status == st {
				return
			}
			job.TestCases[i].Status = st
			changed = true
			switch st {
			case "passed":
				job.CompletedTests++
				job.PassedTests++
			case "failed":
				job.CompletedTests++
				job.FailedTests++
			case "error":
				job.CompletedTests++
				job.ErrorTests++
			case "skipped":
				job.CompletedTests++
				job.SkippedTests++
			}
			return
		}
	})
	return changed
}

func (r *Registry) GetComponentJob(jobID string) (ComponentTestJob, bool) {
	now := time.Now()
	r.compMu.Lock()
	defer r.compMu.Unlock()
	job, ok := r.component[jobID]
	if !ok {
		return ComponentTestJob{}, false
	}
	return job.snapshot(now), true
}

// ListComponentJobs returns snapshots newest-first.
func (r *Registry) ListComponentJobs(activeOnly bool) []ComponentTestJob {
	now := time.Now()
	r.compMu.Lock()
	out := make([]ComponentTestJob, 0, len(r.component))
	for _, job := range r.component {
		if activeOnly && !job.IsActive() {
			continue
		}
		out = append(out, job.snapshot(now))
	}
	r.compMu.Unlock()

	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	return out
}

// FindActiveComponentJob reports the newest queued or running job for the
// given component, if any.
func (r *Registry) FindActiveComponentJob(component string) (ComponentTestJob, bool) {
	comp := NormalizeComponent(component)
	for _, job := range r.ListComponentJobs(true) {
		if job.Component == comp {
			return job, true
		}
	}
	return ComponentTestJob{}, false
}
