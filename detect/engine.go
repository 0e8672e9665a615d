package detect

import (
	"context"
	"fmt"
	"time"

	"github.com/drake-forum/technoshield/core"
	"github.com/drake-forum/technoshield/util/goroutine"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Engine runs the correlation detectors over one normalized batch
type Engine struct {
	detectors []Detector
	matcher   core.Matcher
	clock     core.Clock
	logger    *zap.SugaredLogger
	parallel  bool
}

// EngineOption customizes an Engine
type EngineOption func(*Engine)

// WithLogger sets the engine logger
func WithLogger(logger *zap.SugaredLogger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock sets the clock used to stamp alerts
func WithClock(clock core.Clock) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithMatcher replaces keyword matching for every detector
func WithMatcher(m core.Matcher) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.matcher = m
		}
	}
}

// WithParallel toggles concurrent detector execution
func WithParallel(parallel bool) EngineOption {
	return func(e *Engine) {
		e.parallel = parallel
	}
}

// WithDetectors replaces the built-in detectors. Output is concatenated in the given order.
func WithDetectors(detectors ...Detector) EngineOption {
	return func(e *Engine) {
		e.detectors = detectors
	}
}

// DetectorOutcome is the per-detector part of a DetectionResult
type DetectorOutcome struct {
	Name     string
	Category core.AlertCategory
	Alerts   int
	Err      error
	Duration time.Duration
}

// DetectionResult is the output of one Engine.Detect call
type DetectionResult struct {
	// Alerts in fixed detector order, not yet deduplicated
	Alerts   []core.Alert
	Outcomes []DetectorOutcome
	Errors   []*DetectorError
}

// BuiltinDetectors returns the stock detectors in output order
func BuiltinDetectors(s Settings) []Detector {
	return []Detector{
		NewAuthAttackDetector(s),
		NewMalwareDetector(s),
		NewNetworkScanDetector(s),
		NewExfiltrationDetector(s),
	}
}

// NewEngine creates an engine with the built-in detectors configured from s
func NewEngine(s Settings, opts ...EngineOption) (*Engine, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detection settings: %w", err)
	}
	e := &Engine{
		detectors: BuiltinDetectors(s),
		matcher:   core.NewSubstringMatcher(),
		clock:     core.SystemClock{},
		logger:    zap.NewNop().Sugar(),
		parallel:  true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Detectors returns the configured detectors in output order
func (e *Engine) Detectors() []Detector {
	return e.detectors
}

// Detect indexes events by source IP and runs every detector. A detector that
// fails or panics contributes nothing and is reported in Errors. If ctx is
// done, the run is abandoned and ctx.Err() is returned.
func (e *Engine) Detect(ctx context.Context, events []core.Event) (*DetectionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch := NewBatch(events, e.matcher, e.clock)
	slots := make([][]core.Alert, len(e.detectors))
	outcomes := make([]DetectorOutcome, len(e.detectors))

	if e.parallel {
		var g errgroup.Group
		for i, d := range e.detectors {
			i, d := i, d
			g.Go(func() error {
				slots[i], outcomes[i] = e.runDetector(ctx, d, batch)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, d := range e.detectors {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			slots[i], outcomes[i] = e.runDetector(ctx, d, batch)
		}
	}

	if err := ctx.Err(); err != nil {
		e.logger.Warnw("Detection abandoned", "events", len(events), "error", err)
		return nil, err
	}

	result := &DetectionResult{Outcomes: outcomes}
	for i, outcome := range outcomes {
		if outcome.Err != nil {
			result.Errors = append(result.Errors, &DetectorError{Detector: outcome.Name, Err: outcome.Err})
			continue
		}
		result.Alerts = append(result.Alerts, slots[i]...)
	}

	e.logger.Debugw("Detection complete",
		"events", len(events),
		"source_ips", len(batch.SourceIPs()),
		"alerts", len(result.Alerts),
		"detector_errors", len(result.Errors))
	return result, nil
}

func (e *Engine) runDetector(ctx context.Context, d Detector, batch *Batch) (alerts []core.Alert, outcome DetectorOutcome) {
	outcome = DetectorOutcome{Name: d.Name(), Category: d.Category()}
	start := time.Now()

	err := func() (err error) {
		defer goroutine.RecoverToError("detector-"+d.Name(), e.logger, &err)
		alerts, err = d.Detect(ctx, batch)
		return err
	}()

	outcome.Duration = time.Since(start)
	if err != nil {
		if _, ok := err.(*goroutine.PanicError); ok {
			err = fmt.Errorf("%w: %v", ErrDetectorPanic, err)
		}
		if ctx.Err() == nil {
			e.logger.Errorw("Detector failed, discarding its alerts",
				"detector", d.Name(),
				"error", err)
		}
		outcome.Err = err
		return nil, outcome
	}
	outcome.Alerts = len(alerts)
	return alerts, outcome
}
