package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/maestro/internal/oracle"
	"github.com/ShayCichocki/maestro/internal/taskctx"
	"github.com/ShayCichocki/maestro/pkg/models"
)

// stubOracle implements oracle.Oracle with pluggable behavior and call
// counters.
type stubOracle struct {
	mu sync.Mutex

	assessFn    func(description string) (*oracle.Assessment, error)
	breakdownFn func(req oracle.BreakdownRequest) (*oracle.BreakdownResult, error)
	executeFn   func(req oracle.ExecutionRequest) (*oracle.ExecutionResult, error)
	reportFn    func(req oracle.ReportRequest) (*oracle.Report, error)
	planFn      func(description string) (*oracle.Plan, error)

	assessCalls    int
	breakdownCalls int
	executeCalls   int
	planCalls      int
}

func (s *stubOracle) AssessComplexity(ctx context.Context, description, convCtx string) (*oracle.Assessment, error) {
	s.mu.Lock()
	s.assessCalls++
	s.mu.Unlock()
	if s.assessFn != nil {
		return s.assessFn(description)
	}
	return &oracle.Assessment{Complexity: oracle.ComplexityMedium}, nil
}

func (s *stubOracle) Breakdown(ctx context.Context, req oracle.BreakdownRequest) (*oracle.BreakdownResult, error) {
	s.mu.Lock()
	s.breakdownCalls++
	s.mu.Unlock()
	if s.breakdownFn != nil {
		return s.breakdownFn(req)
	}
	return &oracle.BreakdownResult{ShouldBreakdown: false}, nil
}

func (s *stubOracle) ExecuteTask(ctx context.Context, req oracle.ExecutionRequest) (*oracle.ExecutionResult, error) {
	s.mu.Lock()
	s.executeCalls++
	s.mu.Unlock()
	if s.executeFn != nil {
		return s.executeFn(req)
	}
	return &oracle.ExecutionResult{Status: models.TaskStatusCompleted, Result: "done"}, nil
}

func (s *stubOracle) SynthesizeReport(ctx context.Context, req oracle.ReportRequest) (*oracle.Report, error) {
	if s.reportFn != nil {
		return s.reportFn(req)
	}
	return nil, errors.New("no report")
}

func (s *stubOracle) PlanSteps(ctx context.Context, description, convCtx string) (*oracle.Plan, error) {
	s.mu.Lock()
	s.planCalls++
	s.mu.Unlock()
	if s.planFn != nil {
		return s.planFn(description)
	}
	return &oracle.Plan{Steps: []string{"will do it"}, ConfirmationPrompt: "Proceed?"}, nil
}

// recorder captures emitted progress events.
type recorder struct {
	mu     sync.Mutex
	events []models.ProgressUpdate
}

func (r *recorder) Emit(u models.ProgressUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, u)
}

func (r *recorder) types() []models.ProgressType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ProgressType
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) last() models.ProgressUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return models.ProgressUpdate{}
	}
	return r.events[len(r.events)-1]
}

func newTestSupervisor(orc *stubOracle) (*Supervisor, *recorder, *taskctx.Store) {
	rec := &recorder{}
	store := taskctx.New(16, time.Minute)
	sup := New(Config{
		Oracle:    orc,
		Publisher: rec,
		Store:     store,
	})
	return sup, rec, store
}

func TestDelegationShortCircuit(t *testing.T) {
	orc := &stubOracle{
		assessFn: func(string) (*oracle.Assessment, error) {
			return &oracle.Assessment{
				Complexity:         oracle.ComplexityTooSimple,
				ShouldDelegateBack: true,
				Guidance:           "Just answer with the capital of France.",
			}, nil
		},
	}
	sup, rec, store := newTestSupervisor(orc)

	result := sup.Execute(context.Background(), Request{SessionID: "s1", Description: "capital of France?"})

	if !result.Delegated {
		t.Fatal("expected delegated result")
	}
	if result.Strategy != StrategyDirect {
		t.Errorf("strategy = %s, expected direct", result.Strategy)
	}
	if result.Guidance != "Just answer with the capital of France." {
		t.Errorf("guidance = %q", result.Guidance)
	}
	if orc.breakdownCalls != 0 || orc.executeCalls != 0 {
		t.Errorf("delegation must not execute anything: breakdown=%d execute=%d", orc.breakdownCalls, orc.executeCalls)
	}
	if result.Complexity != oracle.ComplexityTooSimple {
		t.Errorf("complexity = %s", result.Complexity)
	}
	last := rec.last()
	if last.Type != models.ProgressCompleted {
		t.Errorf("terminal event = %s", last.Type)
	}
	if last.Details["guidance"] != "Just answer with the capital of France." {
		t.Errorf("terminal event guidance = %v", last.Details["guidance"])
	}
	snap, ok := store.Get("s1")
	if !ok || snap.Status != "completed" {
		t.Errorf("store snapshot = %+v, ok=%v", snap, ok)
	}
}

func TestStrayDelegateFlagStillExecutes(t *testing.T) {
	orc := &stubOracle{
		assessFn: func(string) (*oracle.Assessment, error) {
			return &oracle.Assessment{
				Complexity:         oracle.ComplexityComplex,
				ShouldDelegateBack: true,
			}, nil
		},
		reportFn: func(req oracle.ReportRequest) (*oracle.Report, error) {
			return &oracle.Report{NextResponse: "done the hard way"}, nil
		},
	}
	sup, _, _ := newTestSupervisor(orc)

	result := sup.Execute(context.Background(), Request{SessionID: "s1", Description: "big job"})

	if result.Delegated {
		t.Fatal("a complex request must execute even if the oracle sets the delegate flag")
	}
	if result.Strategy != StrategyHierarchical {
		t.Errorf("strategy = %s", result.Strategy)
	}
	if orc.executeCalls == 0 {
		t.Error("expected execution to run")
	}
}

func TestAssessFailureDefaultsToFlat(t *testing.T) {
	orc := &stubOracle{
		assessFn: func(string) (*oracle.Assessment, error) {
			return nil, errors.New("oracle down")
		},
		executeFn: func(req oracle.ExecutionRequest) (*oracle.ExecutionResult, error) {
			return &oracle.ExecutionResult{
				Status:        models.TaskStatusCompleted,
				Result:        "all set",
				WorkflowSteps: []string{"did a thing"},
			}, nil
		},
	}
	sup, _, _ := newTestSupervisor(orc)

	result := sup.Execute(context.Background(), Request{SessionID: "s1", Description: "mystery"})

	if result.Strategy != StrategyFlat {
		t.Errorf("strategy = %s, expected flat fallback", result.Strategy)
	}
	if result.Err != "" {
		t.Errorf("unexpected error: %s", result.Err)
	}
	if orc.executeCalls != 1 {
		t.Errorf("execute calls = %d", orc.executeCalls)
	}
}

func TestDirectStrategy(t *testing.T) {
	orc := &stubOracle{
		assessFn: func(string) (*oracle.Assessment, error) {
			return &oracle.Assessment{Complexity: oracle.ComplexitySimple}, nil
		},
		executeFn: func(req oracle.ExecutionRequest) (*oracle.ExecutionResult, error) {
			if req.Task.ID != models.RootTaskID {
				t.Errorf("direct execution task id = %s", req.Task.ID)
			}
			return &oracle.ExecutionResult{Status: models.TaskStatusCompleted, Result: "quick answer"}, nil
		},
	}
	sup, rec, _ := newTestSupervisor(orc)

	result := sup.Execute(context.Background(), Request{SessionID: "s1", Description: "small job"})

	if result.Strategy != StrategyDirect {
		t.Errorf("strategy = %s", result.Strategy)
	}
	if result.Response != "quick answer" {
		t.Errorf("response = %q", result.Response)
	}
	if orc.breakdownCalls != 0 {
		t.Error("direct strategy must not break down")
	}
	last := rec.last()
	if last.Type != models.ProgressCompleted || last.Progress != 100 {
		t.Errorf("terminal event = %+v", last)
	}
	if last.Details["result"] != "quick answer" {
		t.Errorf("terminal event result = %v, a reconnecting observer must see the outcome", last.Details["result"])
	}
}

func TestFlatStrategySynthesizesStepBreakdown(t *testing.T) {
	orc := &stubOracle{
		assessFn: func(string) (*oracle.Assessment, error) {
			return &oracle.Assessment{Complexity: oracle.ComplexityMedium}, nil
		},
		executeFn: func(req oracle.ExecutionRequest) (*oracle.ExecutionResult, error) {
			return &oracle.ExecutionResult{
				Status:        models.TaskStatusCompleted,
				Result:        "workflow finished",
				WorkflowSteps: []string{"gathered data", "wrote summary"},
			}, nil
		},
	}
	sup, rec, store := newTestSupervisor(orc)

	result := sup.Execute(context.Background(), Request{SessionID: "s1", Description: "two step job"})

	if result.Strategy != StrategyFlat {
		t.Fatalf("strategy = %s", result.Strategy)
	}
	if len(result.WorkflowSteps) != 2 {
		t.Errorf("workflow steps = %v", result.WorkflowSteps)
	}
	if result.Breakdown == nil || len(result.Breakdown.Subtasks) != 2 {
		t.Errorf("result breakdown = %+v", result.Breakdown)
	}

	steps := 0
	for _, typ := range rec.types() {
		if typ == models.ProgressStepStarted {
			steps++
		}
	}
	if steps != 2 {
		t.Errorf("step_started events = %d, expected 2", steps)
	}

	if last := rec.last(); last.Details["result"] != "workflow finished" {
		t.Errorf("terminal event result = %v", last.Details["result"])
	}

	snap, ok := store.Get("s1")
	if !ok || snap.Breakdown == nil {
		t.Fatal("expected a breakdown snapshot")
	}
	if len(snap.Breakdown.Subtasks) != 2 {
		t.Errorf("display breakdown children = %d", len(snap.Breakdown.Subtasks))
	}
	for _, child := range snap.Breakdown.Subtasks {
		if child.Status != models.TaskStatusCompleted {
			t.Errorf("synthetic step %s status = %s", child.ID, child.Status)
		}
	}
}

func TestHierarchicalStrategy(t *testing.T) {
	orc := &stubOracle{
		assessFn: func(string) (*oracle.Assessment, error) {
			return &oracle.Assessment{Complexity: oracle.ComplexityComplex}, nil
		},
		breakdownFn: func(req oracle.BreakdownRequest) (*oracle.BreakdownResult, error) {
			if req.Task.ID != models.RootTaskID {
				return &oracle.BreakdownResult{ShouldBreakdown: false}, nil
			}
			return &oracle.BreakdownResult{ShouldBreakdown: true, Subtasks: []oracle.SubtaskSpec{
				{Description: "part a", EstimatedComplexity: models.ComplexitySimple},
				{Description: "part b", EstimatedComplexity: models.ComplexitySimple},
			}}, nil
		},
		reportFn: func(req oracle.ReportRequest) (*oracle.Report, error) {
			return &oracle.Report{ExecutionSummary: "both parts done", NextResponse: "Here is everything."}, nil
		},
	}
	sup, rec, store := newTestSupervisor(orc)

	result := sup.Execute(context.Background(), Request{SessionID: "s1", Description: "big job"})

	if result.Strategy != StrategyHierarchical {
		t.Fatalf("strategy = %s", result.Strategy)
	}
	if result.Response != "Here is everything." {
		t.Errorf("response = %q", result.Response)
	}
	if result.Report == nil || result.Report.TasksCompleted != 2 {
		t.Errorf("report = %+v", result.Report)
	}
	if orc.breakdownCalls == 0 {
		t.Error("hierarchical strategy must call breakdown")
	}
	last := rec.last()
	if last.Type != models.ProgressCompleted {
		t.Errorf("terminal event = %s", last.Type)
	}
	if last.Details["result"] != "Here is everything." {
		t.Errorf("terminal event result = %v", last.Details["result"])
	}
	snap, ok := store.Get("s1")
	if !ok || snap.Breakdown == nil || len(snap.Breakdown.Subtasks) != 2 {
		t.Errorf("snapshot breakdown = %+v, ok=%v", snap.Breakdown, ok)
	}
}

func TestMaxStrategyCapsHierarchical(t *testing.T) {
	orc := &stubOracle{
		assessFn: func(string) (*oracle.Assessment, error) {
			return &oracle.Assessment{Complexity: oracle.ComplexityComplex}, nil
		},
		executeFn: func(req oracle.ExecutionRequest) (*oracle.ExecutionResult, error) {
			return &oracle.ExecutionResult{Status: models.TaskStatusCompleted, Result: "capped run"}, nil
		},
	}
	rec := &recorder{}
	sup := New(Config{Oracle: orc, Publisher: rec, MaxStrategy: StrategyFlat})

	result := sup.Execute(context.Background(), Request{SessionID: "s1", Description: "would be complex"})

	if result.Strategy != StrategyFlat {
		t.Errorf("strategy = %s, expected capped to flat", result.Strategy)
	}
	if orc.breakdownCalls != 0 {
		t.Error("capped run must not break down")
	}
}

func TestPlanOnlyMode(t *testing.T) {
	orc := &stubOracle{
		assessFn: func(string) (*oracle.Assessment, error) {
			return &oracle.Assessment{Complexity: oracle.ComplexityComplex}, nil
		},
		planFn: func(string) (*oracle.Plan, error) {
			return &oracle.Plan{
				Steps:              []string{"will research", "will summarize"},
				ConfirmationPrompt: "Shall I proceed with these 2 steps?",
			}, nil
		},
	}
	sup, rec, _ := newTestSupervisor(orc)

	result := sup.Execute(context.Background(), Request{SessionID: "s1", Description: "plan this", PlanOnly: true})

	if result.Plan == nil || len(result.Plan.Steps) != 2 {
		t.Fatalf("plan = %+v", result.Plan)
	}
	if result.Response != "Shall I proceed with these 2 steps?" {
		t.Errorf("response = %q", result.Response)
	}
	if orc.executeCalls != 0 || orc.breakdownCalls != 0 {
		t.Error("plan-only mode must not execute")
	}
	if last := rec.last(); last.Type != models.ProgressCompleted {
		t.Errorf("terminal event = %s", last.Type)
	}
}

func TestExecutionErrorEndsInErrorEvent(t *testing.T) {
	orc := &stubOracle{
		assessFn: func(string) (*oracle.Assessment, error) {
			return &oracle.Assessment{Complexity: oracle.ComplexitySimple}, nil
		},
		executeFn: func(req oracle.ExecutionRequest) (*oracle.ExecutionResult, error) {
			return nil, errors.New("transport exploded")
		},
	}
	sup, rec, store := newTestSupervisor(orc)

	result := sup.Execute(context.Background(), Request{SessionID: "s1", Description: "doomed"})

	if result.Err == "" {
		t.Fatal("expected error result")
	}
	if !strings.Contains(result.Response, "could not be completed") {
		t.Errorf("response = %q", result.Response)
	}
	if last := rec.last(); last.Type != models.ProgressError {
		t.Errorf("terminal event = %s", last.Type)
	}
	snap, ok := store.Get("s1")
	if !ok || snap.Status != "error" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestStartedEventAlwaysFirst(t *testing.T) {
	orc := &stubOracle{}
	sup, rec, _ := newTestSupervisor(orc)

	sup.Execute(context.Background(), Request{SessionID: "s1", Description: "anything"})

	types := rec.types()
	if len(types) == 0 || types[0] != models.ProgressStarted {
		t.Errorf("first event = %v, expected started", types)
	}
}
