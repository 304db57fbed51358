package services

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/hubrts/youtube-command-deck/internal/jobs"
	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/utils"
)

// componentPackages maps a suite selector onto the package trees the suite
// covers.
func componentPackages(component string) []string {
	switch jobs.NormalizeComponent(component) {
	case "web":
		return []string{"./internal/handlers/...", "./internal/server/...", "./internal/realtime/..."}
	case "tg":
		return []string{"./internal/services/...", "./internal/jobs/...", "./internal/repos/..."}
	}
	return []string{"./..."}
}

// ComponentTestService runs one test suite per component as a tracked job.
// Starting a component that already has an active job returns that job.
type ComponentTestService interface {
	StartRun(component string) (jobs.ComponentTestJob, error)
}

type componentTestService struct {
	log      *logger.Logger
	registry *jobs.Registry

	workDir    string
	goBin      string
	runTimeout time.Duration
}

func NewComponentTestService(baseLog *logger.Logger, registry *jobs.Registry) ComponentTestService {
	log := baseLog.With("service", "ComponentTestService")
	return &componentTestService{
		log:        log,
		registry:   registry,
		workDir:    utils.GetEnv("COMPONENT_TESTS_DIR", ".", log),
		goBin:      utils.GetEnv("COMPONENT_TESTS_GO_BIN", "go", log),
		runTimeout: time.Duration(utils.GetEnvAsInt("COMPONENT_TESTS_TIMEOUT_SEC", 1800, log)) * time.Second,
	}
}

// goTestEvent is one line of `go test -json` output.
type goTestEvent struct {
	Action  string  `json:"Action"`
	Package string  `json:"Package"`
	Test    string  `json:"Test"`
	Output  string  `json:"Output"`
	Elapsed float64 `json:"Elapsed"`
}

func testCaseID(pkg, test string) string {
	if pkg == "" {
		return test
	}
	return pkg + "/" + test
}

// discoverTestIDs lists the tests in the component's packages. `go test
// -list` prints the test names of a package followed by its ok/skip line, so
// names are buffered until the package path shows up.
func (s *componentTestService) discoverTestIDs(ctx context.Context, patterns []string) ([]string, error) {
	args := append([]string{"test", "-list", ".*"}, patterns...)
	cmd := exec.CommandContext(ctx, s.goBin, args...)
	cmd.Dir = s.workDir
	out, err := cmd.Output()
	if err != nil && len(out) == 0 {
		return nil, fmt.Errorf("list tests: %w", err)
	}

	var ids []string
	var pending []string
	for _, line := range strings.Split(string(out), "\n") {
		ln := strings.TrimSpace(line)
		if ln == "" {
			continue
		}
		if strings.HasPrefix(ln, "Test") || strings.HasPrefix(ln, "Example") ||
			strings.HasPrefix(ln, "Benchmark") || strings.HasPrefix(ln, "Fuzz") {
			pending = append(pending, ln)
			continue
		}
		fields := strings.Fields(ln)
		if len(fields) >= 2 && (fields[0] == "ok" || fields[0] == "?") {
			for _, name := range pending {
				ids = append(ids, testCaseID(fields[1], name))
			}
			pending = nil
		}
	}
	ids = append(ids, pending...)
	return ids, nil
}

func (s *componentTestService) StartRun(component string) (jobs.ComponentTestJob, error) {
	selected := jobs.NormalizeComponent(component)
	if active, ok := s.registry.FindActiveComponentJob(selected); ok {
		return active, nil
	}

	patterns := componentPackages(selected)
	discoverCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	testIDs, err := s.discoverTestIDs(discoverCtx, patterns)
	cancel()
	if err != nil {
		return jobs.ComponentTestJob{}, err
	}
	if len(testIDs) == 0 {
		return jobs.ComponentTestJob{}, fmt.Errorf(
			"No tests discovered for component '%s' using pattern '%s'.",
			jobs.ComponentLabel(selected), strings.Join(patterns, " "))
	}

	job := s.registry.CreateComponentJob(selected, strings.Join(patterns, " "), jobs.BuildTestCaseRows(testIDs))
	go s.runSuite(job.JobID, selected, patterns, len(testIDs))
	return job, nil
}

func (s *componentTestService) markCaseStarted(jobID, testID string) {
	s.registry.UpdateComponentJob(jobID, func(j *jobs.ComponentTestJob) {
		found := false
		for i := range j.TestCases {
			if j.TestCases[i].TestID == testID {
				j.TestCases[i].Status = "running"
				found = true
				break
			}
		}
		// Subtests show up here without a discovered row.
		if !found {
			j.TestCases = append(j.TestCases, jobs.TestCase{
				TestID: testID,
				Label:  jobs.TestCaseLabel(testID),
				Index:  len(j.TestCases) + 1,
				Status: "running",
			})
			j.TotalTests++
		}
		j.CurrentTest = testID
	})
	s.registry.AppendComponentLog(jobID, "RUN "+testID)
}

func (s *componentTestService) markCaseDone(jobID, testID, status string) {
	s.registry.SetTestCaseStatus(jobID, testID, status)
	s.registry.UpdateComponentJob(jobID, func(j *jobs.ComponentTestJob) {
		if j.CurrentTest == testID {
			j.CurrentTest = ""
		}
	})
	s.registry.AppendComponentLog(jobID, fmt.Sprintf("%-7s %s", strings.ToUpper(status), testID))
}

// runSuite shells out to `go test -json` and folds the event stream into the
// job row until the process exits.
func (s *componentTestService) runSuite(jobID, selected string, patterns []string, totalTests int) {
	ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()

	now := time.Now()
	s.registry.UpdateComponentJob(jobID, func(j *jobs.ComponentTestJob) {
		j.Status = jobs.JobStatusRunning
		j.MarkStarted(now)
		j.Summary = fmt.Sprintf("Running %d tests for %s", totalTests, jobs.ComponentLabel(selected))
	})

	args := append([]string{"test", "-json", "-count=1"}, patterns...)
	cmd := exec.CommandContext(ctx, s.goBin, args...)
	cmd.Dir = s.workDir
	stdout, perr := cmd.StdoutPipe()
	if perr == nil {
		cmd.Stderr = cmd.Stdout
		perr = cmd.Start()
	}
	if perr != nil {
		s.registry.AppendComponentLog(jobID, fmt.Sprintf("FATAL %v", perr))
		s.registry.UpdateComponentJob(jobID, func(j *jobs.ComponentTestJob) {
			j.Status = jobs.JobStatusFailed
			j.MarkFinished(time.Now())
			j.CurrentTest = ""
			j.Error = perr.Error()
			j.Summary = "Component test run crashed before completion."
		})
		return
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		var evt goTestEvent
		if err := json.Unmarshal(line, &evt); err != nil {
			// Non-JSON lines happen on build failures; keep them visible.
			s.registry.AppendComponentLog(jobID, string(line))
			continue
		}
		switch evt.Action {
		case "run":
			if evt.Test != "" {
				s.markCaseStarted(jobID, testCaseID(evt.Package, evt.Test))
			}
		case "pass":
			if evt.Test != "" {
				s.markCaseDone(jobID, testCaseID(evt.Package, evt.Test), "passed")
			}
		case "fail":
			if evt.Test != "" {
				s.markCaseDone(jobID, testCaseID(evt.Package, evt.Test), "failed")
			} else if evt.Package != "" {
				s.registry.AppendComponentLog(jobID, "FAIL "+evt.Package)
			}
		case "skip":
			if evt.Test != "" {
				s.markCaseDone(jobID, testCaseID(evt.Package, evt.Test), "skipped")
			}
		case "output":
			if text := strings.TrimRight(evt.Output, "\r\n"); strings.TrimSpace(text) != "" {
				s.registry.AppendComponentLog(jobID, text)
			}
		case "build-fail":
			s.registry.AppendComponentLog(jobID, "BUILD FAILED "+evt.Package)
		}
	}

	waitErr := cmd.Wait()
	finished := time.Now()
	final, _ := s.registry.GetComponentJob(jobID)

	status := jobs.JobStatusCompleted
	errText := ""
	if final.Metrics.Failed > 0 || final.Metrics.Errors > 0 {
		status = jobs.JobStatusFailed
	}
	if waitErr != nil {
		status = jobs.JobStatusFailed
		var exitErr *exec.ExitError
		// Exit code 1 just means failing tests; anything else is a crash.
		if !isTestFailureExit(waitErr, &exitErr) {
			errText = waitErr.Error()
		}
	}
	summary := fmt.Sprintf("Done: passed=%d, failed=%d, errors=%d, skipped=%d",
		final.Metrics.Passed, final.Metrics.Failed, final.Metrics.Errors, final.Metrics.Skipped)
	if errText != "" {
		summary = "Component test run crashed before completion."
		s.registry.AppendComponentLog(jobID, "FATAL "+errText)
	}

	s.registry.UpdateComponentJob(jobID, func(j *jobs.ComponentTestJob) {
		j.Status = status
		j.MarkFinished(finished)
		j.CurrentTest = ""
		j.Error = errText
		j.Summary = summary
	})
}

func isTestFailureExit(err error, exitErr **exec.ExitError) bool {
	return errors.As(err, exitErr) && (*exitErr).ExitCode() == 1
}
