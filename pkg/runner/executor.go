package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/uiprobe/uiprobe/pkg/bridge"
	"github.com/uiprobe/uiprobe/pkg/config"
	"github.com/uiprobe/uiprobe/pkg/events"
	"github.com/uiprobe/uiprobe/pkg/models"
	"github.com/uiprobe/uiprobe/pkg/obstacle"
	"github.com/uiprobe/uiprobe/pkg/planner"
	"github.com/uiprobe/uiprobe/pkg/safety"
	"github.com/uiprobe/uiprobe/pkg/selector"
	"github.com/uiprobe/uiprobe/pkg/store"
)

// ContextSupervisor manages the lifecycle of per-run browser contexts.
// Satisfied by bridge.Supervisor.
type ContextSupervisor interface {
	EnsureContext(ctx context.Context, runID string) error
	ReleaseContext(ctx context.Context, runID string)
	Client() *bridge.Client
}

// Executor drives admitted runs through their full lifecycle: screen,
// acquire browser context, plan, run the step loop, classify the outcome,
// persist, publish. One Execute call per run, each on its own goroutine.
type Executor struct {
	cfg        *config.Config
	supervisor ContextSupervisor
	planner    *planner.Planner
	resolver   *selector.Resolver
	detector   *obstacle.Detector
	injection  *safety.InjectionDetector
	reflector  *Reflector
	suggester  *Suggester
	sleeper    obstacle.Sleeper
	runs       store.RunStore
	shots      ScreenshotSink
	publisher  events.Publisher
	logger     *slog.Logger
}

// ExecutorDeps wires an Executor.
type ExecutorDeps struct {
	Config     *config.Config
	Supervisor ContextSupervisor
	Planner    *planner.Planner
	Resolver   *selector.Resolver
	Detector   *obstacle.Detector
	Reflector  *Reflector
	Suggester  *Suggester
	Sleeper    obstacle.Sleeper
	RunStore   store.RunStore
	Shots      ScreenshotSink
	Publisher  events.Publisher
}

func NewExecutor(deps ExecutorDeps) *Executor {
	sleeper := deps.Sleeper
	if sleeper == nil {
		sleeper = CtxSleeper{}
	}
	return &Executor{
		cfg:        deps.Config,
		supervisor: deps.Supervisor,
		planner:    deps.Planner,
		resolver:   deps.Resolver,
		detector:   deps.Detector,
		injection:  safety.NewInjectionDetector(),
		reflector:  deps.Reflector,
		suggester:  deps.Suggester,
		sleeper:    sleeper,
		runs:       deps.RunStore,
		shots:      deps.Shots,
		publisher:  deps.Publisher,
		logger:     slog.Default(),
	}
}

// Execute runs one test run to a terminal state. It always leaves the run
// terminal and persisted, including on panic; the browser context and any
// other resources are released exactly once on every path.
//
// The lifecycle order is fixed: injection screen, deadline clock, browser
// context, plan, then the step loop. The run is marked Running only once a
// plan exists; earlier failures go straight from Pending to Failed.
func (e *Executor) Execute(ctx context.Context, run *models.TestRun) {
	started := time.Now()
	run.StartedAt = &started

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Run panicked", "run_id", run.ID,
				"panic", r, "stack", string(debug.Stack()))
			run.Fail(models.FailureSystemError, fmt.Sprintf("internal panic: %v", r))
		}
		if !run.Status.IsTerminal() {
			run.Fail(models.FailureSystemError, "run ended without a terminal state")
		}
		e.persist(run)
		e.publish(run)
		e.logger.Info("Run finished", "run_id", run.ID,
			"status", run.Status, "steps", len(run.ExecutedSteps),
			"duration", time.Since(started))
	}()

	// Goals and persona reach model prompts verbatim; screen them before
	// anything else spends resources on the run.
	if ok, category := e.injection.AreSafe(append([]string{run.Persona}, run.Goals...)); !ok {
		run.Fail(models.FailureSecurityRejection,
			fmt.Sprintf("prompt injection detected: %s", category))
		return
	}

	deadline := started.Add(e.cfg.Runner.TestTimeout)
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	if err := e.supervisor.EnsureContext(runCtx, run.ID); err != nil {
		if e.failIfExpired(run, deadline, started, "context creation") {
			return
		}
		run.Fail(models.FailureSystemError, fmt.Sprintf("browser context: %v", err))
		return
	}
	defer e.supervisor.ReleaseContext(context.WithoutCancel(ctx), run.ID)
	if e.failIfExpired(run, deadline, started, "context creation") {
		return
	}

	steps, err := e.planner.Plan(runCtx, run.TargetURL, run.Persona, run.Goals)
	if err != nil {
		if e.failIfExpired(run, deadline, started, "planning") {
			return
		}
		switch {
		case errors.Is(err, planner.ErrPlanUnsafe):
			run.Fail(models.FailureSecurityRejection, err.Error())
		case errors.Is(err, planner.ErrPlanEmpty):
			run.Fail(models.FailurePlanEmpty, err.Error())
		default:
			run.Fail(models.FailureSystemError, fmt.Sprintf("planning: %v", err))
		}
		return
	}
	if e.failIfExpired(run, deadline, started, "planning") {
		return
	}

	run.Status = models.RunStatusRunning
	e.persist(run)

	driver := &bridgeDriver{client: e.supervisor.Client(), runID: run.ID}
	loop := &stepLoop{
		cfg:       e.cfg.Runner,
		run:       run,
		driver:    driver,
		resolver:  e.resolver,
		clearer:   obstacle.NewClearer(e.detector, driver, e.sleeper, e.cfg.Runner.MaxObstacleClearAttempts),
		reflector: e.reflector,
		suggester: e.suggester,
		sleeper:   e.sleeper,
		shots:     e.shots,
		persist:   e.persist,
		logger:    e.logger.With("run_id", run.ID),
		queue:     NewActionQueue(steps),
		done:      NewDoneQueue(),
		retries:   make(map[string]int),
		deadline:  deadline,
	}

	outcome, desc, loopErr := loop.drive(runCtx)
	run.ExecutedSteps = loop.done.Steps()

	switch {
	case loopErr != nil:
		run.Fail(models.FailureSystemError, loopErr.Error())
	case outcome == outcomeCompleted:
		run.Complete()
	case outcome == outcomeIterationCap:
		run.Fail(models.FailureIterationCap, desc)
	case outcome == outcomeTimeout:
		run.Fail(models.FailureTimeout, desc)
	default:
		run.Fail(models.FailureAborted, desc)
	}
}

// failIfExpired fails the run with a phase-tagged timeout when the run's
// deadline has passed. Reports whether it fired.
func (e *Executor) failIfExpired(run *models.TestRun, deadline, started time.Time, phase string) bool {
	if time.Now().Before(deadline) {
		return false
	}
	run.Fail(models.FailureTimeout,
		fmt.Sprintf("%s phase exceeded the wall-clock budget of %s (elapsed %s)",
			phase, e.cfg.Runner.TestTimeout, time.Since(started).Round(time.Millisecond)))
	return true
}

func (e *Executor) persist(run *models.TestRun) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.runs.SaveRun(ctx, run); err != nil {
		e.logger.Error("Run persistence failed", "run_id", run.ID, "error", err)
	}
}

func (e *Executor) publish(run *models.TestRun) {
	if e.publisher == nil {
		return
	}
	e.publisher.PublishRunCompleted(run)
}
