package jobs

import (
	"fmt"
	"sync"
	"testing"

	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/realtime"
	"github.com/hubrts/youtube-command-deck/internal/types"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (r *eventRecorder) Publish(evt realtime.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *eventRecorder) last() (realtime.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return realtime.Event{}, false
	}
	return r.events[len(r.events)-1], true
}

func (r *eventRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newTestRegistry(t *testing.T) (*Registry, *eventRecorder) {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	rec := &eventRecorder{}
	return NewRegistry(log, rec), rec
}

func TestCreateBrewJobPublishesCreated(t *testing.T) {
	reg, rec := newTestRegistry(t)
	snap := reg.CreateBrewJob("  coffee   roasting  ", true, types.ResearchConfig{MaxVideos: 6})

	if snap.Topic != "coffee roasting" {
		t.Fatalf("topic normalization: got=%q", snap.Topic)
	}
	if snap.Status != JobStatusQueued || snap.TotalVideos != 6 {
		t.Fatalf("initial snapshot: status=%q total_videos=%d", snap.Status, snap.TotalVideos)
	}
	evt, ok := rec.last()
	if !ok || evt.Type != realtime.EventJuiceJobCreated {
		t.Fatalf("created event: got=%+v", evt)
	}
}

func TestApplyResearchProgressLifecycle(t *testing.T) {
	reg, _ := newTestRegistry(t)
	snap := reg.CreateBrewJob("pottery studio", false, types.ResearchConfig{MaxVideos: 3})
	jobID := snap.JobID

	reg.ApplyResearchProgress(jobID, types.ResearchProgress{
		EventType: types.ResearchEventStarted,
		Config:    &types.ResearchConfig{MaxVideos: 3, PerQuery: 8},
	})
	got, ok := reg.GetBrewJob(jobID)
	if !ok || got.Status != JobStatusRunning {
		t.Fatalf("after started: ok=%v status=%q", ok, got.Status)
	}
	if got.Config.PerQuery != 8 {
		t.Fatalf("config not applied: %+v", got.Config)
	}

	reg.ApplyResearchProgress(jobID, types.ResearchProgress{
		EventType: types.ResearchEventQueriesReady,
		Queries:   []string{"how to start pottery studio"},
	})
	reg.ApplyResearchProgress(jobID, types.ResearchProgress{
		EventType:       types.ResearchEventCandidatesReady,
		TotalCandidates: 2,
		Videos: []types.VideoPreview{
			{VideoID: "aaaaaaaaaaa", Rank: 1},
			{VideoID: "bbbbbbbbbbb", Rank: 2},
		},
	})
	got, _ = reg.GetBrewJob(jobID)
	if got.TotalCandidates != 2 || len(got.CandidateVideos) != 2 {
		t.Fatalf("candidates: total=%d list=%d", got.TotalCandidates, len(got.CandidateVideos))
	}

	reg.ApplyResearchProgress(jobID, types.ResearchProgress{
		EventType:    types.ResearchEventProcessingVideo,
		CurrentIndex: 1,
		TotalVideos:  2,
		Video:        &types.VideoPreview{VideoID: "aaaaaaaaaaa"},
	})
	got, _ = reg.GetBrewJob(jobID)
	if got.CurrentVideo == nil || got.CurrentVideo.VideoID != "aaaaaaaaaaa" {
		t.Fatalf("current video: %+v", got.CurrentVideo)
	}

	reg.ApplyResearchProgress(jobID, types.ResearchProgress{
		EventType:    types.ResearchEventVideoProcessed,
		CurrentIndex: 1,
		TotalVideos:  2,
		Video:        &types.VideoPreview{VideoID: "aaaaaaaaaaa", TranscriptChars: 900},
	})
	got, _ = reg.GetBrewJob(jobID)
	if len(got.ReviewedVideos) != 1 || got.ReviewedVideos[0].TranscriptChars != 900 {
		t.Fatalf("reviewed append: %+v", got.ReviewedVideos)
	}

	reg.ApplyResearchProgress(jobID, types.ResearchProgress{
		EventType:  types.ResearchEventCompleted,
		RunID:      "run-1",
		IsPublic:   true,
		ReportText: "report",
	})
	got, _ = reg.GetBrewJob(jobID)
	if got.Status != JobStatusCompleted || got.RunID != "run-1" || !got.IsPublic {
		t.Fatalf("completed: %+v", got)
	}
	if got.IsActive() {
		t.Fatalf("completed job still active")
	}
}

func TestReviewedVideosKeepTrailingWindow(t *testing.T) {
	reg, _ := newTestRegistry(t)
	snap := reg.CreateBrewJob("topic", false, types.ResearchConfig{})
	for i := 0; i < brewReviewedLimit+15; i++ {
		reg.ApplyResearchProgress(snap.JobID, types.ResearchProgress{
			EventType: types.ResearchEventVideoProcessed,
			Video:     &types.VideoPreview{VideoID: fmt.Sprintf("vid%08d", i)},
		})
	}
	got, _ := reg.GetBrewJob(snap.JobID)
	if len(got.ReviewedVideos) != brewReviewedLimit {
		t.Fatalf("reviewed window: want=%d got=%d", brewReviewedLimit, len(got.ReviewedVideos))
	}
	// The window keeps the newest entries.
	first := got.ReviewedVideos[0].VideoID
	if first != fmt.Sprintf("vid%08d", 15) {
		t.Fatalf("trailing window start: got=%q", first)
	}
}

func TestCandidateSnapshotClipped(t *testing.T) {
	reg, _ := newTestRegistry(t)
	snap := reg.CreateBrewJob("topic", false, types.ResearchConfig{})
	videos := make([]types.VideoPreview, brewCandidateLimit+10)
	for i := range videos {
		videos[i] = types.VideoPreview{VideoID: fmt.Sprintf("vid%08d", i)}
	}
	reg.ApplyResearchProgress(snap.JobID, types.ResearchProgress{
		EventType: types.ResearchEventCandidatesReady,
		Videos:    videos,
	})
	got, _ := reg.GetBrewJob(snap.JobID)
	if len(got.CandidateVideos) != brewCandidateLimit {
		t.Fatalf("candidate clip: want=%d got=%d", brewCandidateLimit, len(got.CandidateVideos))
	}
}

func TestListBrewJobsActiveOnly(t *testing.T) {
	reg, _ := newTestRegistry(t)
	a := reg.CreateBrewJob("first", false, types.ResearchConfig{})
	b := reg.CreateBrewJob("second", false, types.ResearchConfig{})
	reg.ApplyResearchProgress(a.JobID, types.ResearchProgress{EventType: types.ResearchEventFailed, Error: "boom"})

	active := reg.ListBrewJobs(true)
	if len(active) != 1 || active[0].JobID != b.JobID {
		t.Fatalf("active jobs: %+v", active)
	}
	all := reg.ListBrewJobs(false)
	if len(all) != 2 {
		t.Fatalf("all jobs: want=2 got=%d", len(all))
	}
}

func TestUpdateBrewJobUnknownID(t *testing.T) {
	reg, rec := newTestRegistry(t)
	before := rec.count()
	if _, ok := reg.UpdateBrewJob("missing", func(job *BrewJob) {}); ok {
		t.Fatalf("update of unknown job succeeded")
	}
	if rec.count() != before {
		t.Fatalf("unknown update published an event")
	}
}

func TestComponentJobLifecycle(t *testing.T) {
	reg, rec := newTestRegistry(t)
	cases := BuildTestCaseRows([]string{"pkg/TestAlpha", "pkg/TestBeta", "pkg/TestGamma"})
	snap := reg.CreateComponentJob("web", "./internal/handlers/...", cases)

	if snap.Component != "web" || snap.ComponentLabel != "UI part" {
		t.Fatalf("component fields: %+v", snap)
	}
	if snap.Metrics.Total != 3 || snap.Metrics.Completed != 0 {
		t.Fatalf("initial metrics: %+v", snap.Metrics)
	}
	evt, _ := rec.last()
	if evt.Type != realtime.EventComponentJobCreated {
		t.Fatalf("created event: %+v", evt)
	}

	if !reg.SetTestCaseStatus(snap.JobID, "pkg/TestAlpha", "passed") {
		t.Fatalf("first status change rejected")
	}
	if reg.SetTestCaseStatus(snap.JobID, "pkg/TestAlpha", "passed") {
		t.Fatalf("repeated status change accepted")
	}
	reg.SetTestCaseStatus(snap.JobID, "pkg/TestBeta", "failed")

	got, ok := reg.GetComponentJob(snap.JobID)
	if !ok {
		t.Fatalf("job lost")
	}
	if got.Metrics.Completed != 2 || got.Metrics.Passed != 1 || got.Metrics.Failed != 1 {
		t.Fatalf("metrics after updates: %+v", got.Metrics)
	}
	if got.Metrics.PassRatePct != 50 {
		t.Fatalf("pass rate: %v", got.Metrics.PassRatePct)
	}
}

func TestComponentLogTailBounded(t *testing.T) {
	reg, _ := newTestRegistry(t)
	snap := reg.CreateComponentJob("tg", "./...", nil)
	for i := 0; i < componentLogLimit+30; i++ {
		reg.AppendComponentLog(snap.JobID, fmt.Sprintf("line %d", i))
	}
	reg.AppendComponentLog(snap.JobID, "   ")

	got, _ := reg.GetComponentJob(snap.JobID)
	if len(got.LogTail) != componentLogLimit {
		t.Fatalf("log tail: want=%d got=%d", componentLogLimit, len(got.LogTail))
	}
	if got.LogTail[len(got.LogTail)-1] != fmt.Sprintf("line %d", componentLogLimit+29) {
		t.Fatalf("log tail end: got=%q", got.LogTail[len(got.LogTail)-1])
	}
}

func TestComponentJobTableTrimmed(t *testing.T) {
	reg, _ := newTestRegistry(t)
	for i := 0; i < componentJobLimit+5; i++ {
		reg.CreateComponentJob("all", "./...", nil)
	}
	if got := len(reg.ListComponentJobs(false)); got != componentJobLimit {
		t.Fatalf("retained jobs: want=%d got=%d", componentJobLimit, got)
	}
}

func TestFindActiveComponentJob(t *testing.T) {
	reg, _ := newTestRegistry(t)
	snap := reg.CreateComponentJob("web", "./...", nil)
	reg.UpdateComponentJob(snap.JobID, func(job *ComponentTestJob) {
		job.Status = JobStatusRunning
	})

	if _, ok := reg.FindActiveComponentJob("ui"); !ok {
		t.Fatalf("alias lookup missed running job")
	}
	if _, ok := reg.FindActiveComponentJob("tg"); ok {
		t.Fatalf("found job for wrong component")
	}

	reg.UpdateComponentJob(snap.JobID, func(job *ComponentTestJob) {
		job.Status = JobStatusCompleted
	})
	if _, ok := reg.FindActiveComponentJob("web"); ok {
		t.Fatalf("completed job reported active")
	}
}

func TestNormalizeComponent(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"web", "web"},
		{"UI", "web"},
		{"frontend", "web"},
		{"telegram", "tg"},
		{"BOT", "tg"},
		{"", "all"},
		{"everything", "all"},
	}
	for _, tc := range cases {
		if got := NormalizeComponent(tc.in); got != tc.want {
			t.Fatalf("NormalizeComponent(%q): want=%q got=%q", tc.in, tc.want, got)
		}
	}
}

func TestSummarizeMetrics(t *testing.T) {
	m := SummarizeMetrics(10, 4, 3, 1, 0, 0, 2)
	if m.Remaining != 6 || m.ProgressPct != 40 {
		t.Fatalf("progress: %+v", m)
	}
	if m.PassRatePct != 75 || m.FailureRatePct != 25 {
		t.Fatalf("rates: %+v", m)
	}
	if m.TestsPerSec != 2 || m.AvgTestMS != 500 {
		t.Fatalf("throughput: %+v", m)
	}

	zero := SummarizeMetrics(0, 0, 0, 0, 0, 0, 0)
	if zero.ProgressPct != 0 || zero.TestsPerSec != 0 {
		t.Fatalf("zero metrics: %+v", zero)
	}
}

func TestNotesSingleFlight(t *testing.T) {
	reg, _ := newTestRegistry(t)
	if !reg.TryStartNotesTask("abc123def45", TaskAnalyze) {
		t.Fatalf("first claim rejected")
	}
	if reg.TryStartNotesTask("abc123def45", TaskAnalyze) {
		t.Fatalf("duplicate claim accepted")
	}
	// A different kind for the same video is its own slot.
	if !reg.TryStartNotesTask("abc123def45", TaskAsk) {
		t.Fatalf("ask claim rejected while analyze running")
	}
	reg.FinishNotesTask("abc123def45", TaskAnalyze)
	if !reg.TryStartNotesTask("abc123def45", TaskAnalyze) {
		t.Fatalf("reclaim after finish rejected")
	}
	if reg.TryStartNotesTask("", TaskAnalyze) {
		t.Fatalf("claim with empty video id accepted")
	}
}

func TestNotesProgressSnapshotOverlaysRunning(t *testing.T) {
	reg, _ := newTestRegistry(t)
	reg.SetAnalyzeProgress("abc123def45", map[string]any{"pct": 40})

	if !reg.TryStartNotesTask("abc123def45", TaskAsk) {
		t.Fatalf("claim failed")
	}
	snap := reg.NotesProgressSnapshot("abc123def45")
	if snap.BusyTask != TaskAsk {
		t.Fatalf("busy task: want=%q got=%q", TaskAsk, snap.BusyTask)
	}
	if snap.Ask["status"] != JobStatusRunning || snap.Ask["in_progress"] != true {
		t.Fatalf("ask overlay: %+v", snap.Ask)
	}
	if snap.Ask["message"] != "Asking transcript..." {
		t.Fatalf("default ask message: %+v", snap.Ask["message"])
	}
	if snap.Analyze["in_progress"] != false || snap.Analyze["pct"] != 40 {
		t.Fatalf("analyze row: %+v", snap.Analyze)
	}

	reg.FinishNotesTask("abc123def45", TaskAsk)
	snap = reg.NotesProgressSnapshot("abc123def45")
	if snap.BusyTask != "" || snap.Ask["in_progress"] != false {
		t.Fatalf("after finish: %+v", snap)
	}
}

func TestSetProgressMergesAndStamps(t *testing.T) {
	reg, rec := newTestRegistry(t)
	reg.SetAskProgress("abc123def45", map[string]any{"pct": 10})
	row := reg.SetAskProgress("abc123def45", map[string]any{"message": "thinking"})

	if row["pct"] != 10 || row["message"] != "thinking" {
		t.Fatalf("merge: %+v", row)
	}
	if row["video_id"] != "abc123def45" {
		t.Fatalf("video id stamp: %+v", row)
	}
	if _, ok := row["updated_at"]; !ok {
		t.Fatalf("updated_at missing: %+v", row)
	}
	evt, _ := rec.last()
	if evt.Type != realtime.EventNotesProgress {
		t.Fatalf("notes event: %+v", evt)
	}
}

func TestHelloCarriesActiveJobs(t *testing.T) {
	reg, _ := newTestRegistry(t)
	reg.CreateBrewJob("topic", false, types.ResearchConfig{})
	reg.CreateComponentJob("web", "./...", nil)

	hello := reg.Hello(map[string]any{"version": "test"})
	if hello.Type != realtime.EventHello {
		t.Fatalf("hello type: %q", hello.Type)
	}
	activeJobs, ok := hello.ActiveJobs.([]BrewJob)
	if !ok || len(activeJobs) != 1 {
		t.Fatalf("hello active jobs: %+v", hello.ActiveJobs)
	}
	activeComponent, ok := hello.ActiveComponentJobs.([]ComponentTestJob)
	if !ok || len(activeComponent) != 1 {
		t.Fatalf("hello active component jobs: %+v", hello.ActiveComponentJobs)
	}
}
