package bandit

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// earlyStopThreshold is the confidence at which a speculative candidate is
// considered "good enough" to cancel its siblings rather than waiting for
// every candidate to finish.
const earlyStopThreshold = 0.9

// Candidate is one parallel generation attempt's outcome, scored by a
// caller-supplied confidence in [0, 1].
type Candidate struct {
	Index      int
	Confidence float64
	Value      any
	Err        error
}

// Stats summarizes one speculative generation round, used for bandit reward
// shaping and observability.
type Stats struct {
	Attempted      int
	Completed      int
	StoppedEarly   bool
	BestIndex      int
	BestConfidence float64
}

// SpeculativeExecutor runs n generation attempts concurrently via work,
// canceling the remaining attempts as soon as one clears earlyStopThreshold.
// It mirrors early-stopping in best-of-n sampling: most of the value comes
// from the first high-confidence hit, not from exhausting every attempt.
type SpeculativeExecutor struct {
	work func(ctx context.Context, attempt int) (Candidate, error)
}

// NewSpeculativeExecutor returns an executor that calls work once per
// attempt index in [0, n).
func NewSpeculativeExecutor(work func(ctx context.Context, attempt int) (Candidate, error)) *SpeculativeExecutor {
	return &SpeculativeExecutor{work: work}
}

// Run launches n attempts concurrently and waits for all of them to return.
// An early stop cancels the context the remaining attempts run under; their
// results (often carrying the cancellation error) are still collected, so
// one Candidate per attempt is returned, in attempt-index order, plus round
// stats.
func (se *SpeculativeExecutor) Run(ctx context.Context, n int) ([]Candidate, Stats) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu           sync.Mutex
		results      = make([]Candidate, 0, n)
		stoppedEarly bool
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			c, err := se.work(gctx, i)
			c.Index = i
			if err != nil {
				c.Err = err
			}

			mu.Lock()
			results = append(results, c)
			if c.Err == nil && c.Confidence >= earlyStopThreshold {
				stoppedEarly = true
				cancel()
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })

	stats := Stats{Attempted: n, Completed: len(results), StoppedEarly: stoppedEarly}
	bestIdx := -1
	bestConf := -1.0
	for _, c := range results {
		if c.Err == nil && c.Confidence > bestConf {
			bestConf, bestIdx = c.Confidence, c.Index
		}
	}
	stats.BestIndex = bestIdx
	stats.BestConfidence = bestConf
	return results, stats
}
