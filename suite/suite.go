package suite

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/edgerun/wasmdbg/detect"
	"github.com/edgerun/wasmdbg/engine"
	"github.com/edgerun/wasmdbg/errors"
	"github.com/edgerun/wasmdbg/runner"
)

// Config declares a suite: exactly one wasm source and at least one case.
type Config struct {
	// Path names a wasm file on disk. Mutually exclusive with Wasm.
	Path string
	// Wasm is the raw module binary. Mutually exclusive with Path.
	Wasm []byte

	// Runner options applied to every case's runner.
	Runner []runner.Option

	Cases []Case
}

// Case is one named test against the module.
type Case struct {
	Name string
	Run  func(t *T) error
}

// T is the per-case handle: the live runner plus flow helpers. One T never
// outlives its case.
type T struct {
	ctx    context.Context
	runner runner.Runner
	model  detect.ExecutionModel
}

// Context returns the suite run's context.
func (t *T) Context() context.Context { return t.ctx }

// Runner exposes the case's live runner for direct use.
func (t *T) Runner() runner.Runner { return t.runner }

// Model returns the execution model the module was classified as.
func (t *T) Model() detect.ExecutionModel { return t.model }

// Flow runs one full flow through the case's runner.
func (t *T) Flow(opts FlowOptions) (*runner.FullFlowResult, error) {
	return RunFlow(t.ctx, t.runner, opts)
}

// Suite is a validated, runnable suite definition.
type Suite struct {
	cfg Config
}

// Define validates cfg. The wasm source is not read or compiled here; load
// failures surface from Run so a suite definition stays cheap.
func Define(cfg Config) (*Suite, error) {
	if cfg.Path != "" && len(cfg.Wasm) > 0 {
		return nil, errors.SuiteConfig("both Path and Wasm set; pick one source")
	}
	if cfg.Path == "" && len(cfg.Wasm) == 0 {
		return nil, errors.SuiteConfig("no wasm source: set Path or Wasm")
	}
	if len(cfg.Cases) == 0 {
		return nil, errors.SuiteConfig("suite has no cases")
	}
	for i, c := range cfg.Cases {
		if c.Name == "" {
			return nil, errors.SuiteConfig(fmt.Sprintf("case %d has no name", i))
		}
		if c.Run == nil {
			return nil, errors.SuiteConfig(fmt.Sprintf("case %q has no run function", c.Name))
		}
	}
	return &Suite{cfg: cfg}, nil
}

// CaseStatus is the outcome class of one case.
type CaseStatus string

const (
	// CasePassed means the case's run function returned nil.
	CasePassed CaseStatus = "passed"
	// CaseFailed means the run function returned an assertion error.
	CaseFailed CaseStatus = "failed"
	// CaseErrored means the case could not run to completion: its runner
	// could not be created, or the run function panicked.
	CaseErrored CaseStatus = "errored"
)

// CaseResult reports one case's outcome.
type CaseResult struct {
	Name     string
	Status   CaseStatus
	Err      error
	Duration time.Duration
}

// Summary aggregates a suite run.
type Summary struct {
	Total    int
	Passed   int
	Failed   int
	Errored  int
	Duration time.Duration
	Results  []CaseResult
}

// Run executes the cases sequentially. The module is classified once; every
// case gets a fresh runner that is cleaned up when the case ends, pass or
// fail. An error is returned only when no case could run at all (unreadable
// source, engine failure); case-level problems land in the summary.
func (s *Suite) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()

	wasm := s.cfg.Wasm
	if s.cfg.Path != "" {
		data, err := os.ReadFile(s.cfg.Path)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseSuite, errors.KindSuiteConfig, err, "read wasm source")
		}
		wasm = data
	}

	eng, err := engine.New(ctx)
	if err != nil {
		return nil, err
	}
	defer eng.Close(ctx)

	model := detect.Detect(ctx, eng, wasm)
	factory := runner.NewFactory(eng)
	log := engine.Logger()

	summary := &Summary{Total: len(s.cfg.Cases)}
	for _, c := range s.cfg.Cases {
		res := s.runCase(ctx, factory, model, wasm, c)
		summary.Results = append(summary.Results, res)
		switch res.Status {
		case CasePassed:
			summary.Passed++
		case CaseFailed:
			summary.Failed++
		case CaseErrored:
			summary.Errored++
		}
		log.Debug("suite case finished",
			zap.String("case", c.Name),
			zap.String("status", string(res.Status)),
			zap.Duration("took", res.Duration))
	}
	summary.Duration = time.Since(start)
	return summary, nil
}

func (s *Suite) runCase(ctx context.Context, factory *runner.Factory, model detect.ExecutionModel, wasm []byte, c Case) (res CaseResult) {
	caseStart := time.Now()
	res = CaseResult{Name: c.Name}
	defer func() { res.Duration = time.Since(caseStart) }()

	r, err := factory.Create(ctx, model, wasm, s.cfg.Runner...)
	if err != nil {
		res.Status = CaseErrored
		res.Err = err
		return res
	}
	defer r.Cleanup(ctx)

	defer func() {
		if rec := recover(); rec != nil {
			res.Status = CaseErrored
			res.Err = fmt.Errorf("case panicked: %v", rec)
		}
	}()

	if err := c.Run(&T{ctx: ctx, runner: r, model: model}); err != nil {
		res.Status = CaseFailed
		res.Err = err
		return res
	}
	res.Status = CasePassed
	return res
}
