// Package pipeline runs one batch of raw records through normalization,
// correlation and deduplication.
//
// A Coordinator is built once from a Normalizer and a detection Engine and
// then invoked per batch:
//
//	c := pipeline.NewCoordinator(normalizer, engine,
//	    pipeline.WithMetrics(recorder),
//	    pipeline.WithTimeout(30*time.Second))
//	res := c.Run(ctx, records)
//	if res.Status == pipeline.StatusFailed {
//	    // res.Err explains why; res.Alerts is empty
//	}
//
// Record-level problems are absorbed by the normalizer and detector-level
// problems by the engine; both downgrade the run to StatusDegraded. Anything
// else, including cancellation and panics, fails the run without panicking
// the caller.
package pipeline
