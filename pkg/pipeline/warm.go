package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/Sternrassler/render-gate/pkg/cache"
	"github.com/Sternrassler/render-gate/pkg/strategy"
)

// WarmResult is the outcome of warming one item.
type WarmResult struct {
	ID       string                  `json:"id"`
	Strategy strategy.RenderStrategy `json:"strategy,omitempty"`
	Cached   bool                    `json:"cached"`
	Err      error                   `json:"-"`
	Error    string                  `json:"error,omitempty"`
}

type warmJob struct {
	index int
	id    string
}

// Warm builds and caches pages for ids using a pool of concurrency workers
// (Config.WarmConcurrency when concurrency <= 0). It bypasses the rate
// limiter and shares in-flight builds with live traffic. Results are in the
// order of ids; items not reached before ctx is done carry ctx.Err().
func (p *Pipeline) Warm(ctx context.Context, ids []string, concurrency int) []WarmResult {
	startTime := time.Now()
	if concurrency <= 0 {
		concurrency = p.config.WarmConcurrency
	}
	if concurrency > len(ids) {
		concurrency = len(ids)
	}

	results := make([]WarmResult, len(ids))
	for i, id := range ids {
		results[i] = WarmResult{ID: id}
	}
	if len(ids) == 0 {
		return results
	}

	p.logger.Info().
		Int("items", len(ids)).
		Int("workers", concurrency).
		Msg("Starting cache warm-up")

	jobs := make(chan warmJob, len(ids))
	for i, id := range ids {
		jobs <- warmJob{index: i, id: id}
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go p.warmWorker(ctx, jobs, results, &wg, i)
	}
	wg.Wait()

	var cached, failed int
	for i := range results {
		r := &results[i]
		if r.Err == nil && r.Strategy == "" {
			r.Err = ctx.Err()
		}
		switch {
		case r.Err != nil:
			r.Error = r.Err.Error()
			failed++
			warmedTotal.WithLabelValues("error").Inc()
		case r.Cached:
			cached++
			warmedTotal.WithLabelValues("cached").Inc()
		default:
			warmedTotal.WithLabelValues("uncacheable").Inc()
		}
	}

	p.logger.Info().
		Int("items", len(ids)).
		Int("cached", cached).
		Int("failed", failed).
		Dur("duration", time.Since(startTime)).
		Msg("Cache warm-up complete")

	return results
}

// warmWorker processes ids from the queue. Each worker writes only the
// result slots of the jobs it took.
func (p *Pipeline) warmWorker(ctx context.Context, jobs <-chan warmJob, results []WarmResult, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	processed := 0

	for job := range jobs {
		select {
		case <-ctx.Done():
			p.logger.Debug().
				Int("worker_id", workerID).
				Int("items_processed", processed).
				Msg("Warm worker stopping (context cancelled)")
			return
		default:
		}

		results[job.index] = p.warmOne(ctx, job.id)
		processed++
	}

	if processed > 0 {
		p.logger.Debug().
			Int("worker_id", workerID).
			Int("items_processed", processed).
			Msg("Warm worker completed")
	}
}

func (p *Pipeline) warmOne(ctx context.Context, id string) WarmResult {
	result := WarmResult{ID: id}

	key := cache.NewKey(cache.KindPage, id).String()
	if id == "" || cache.ValidateKey(key) != nil {
		result.Err = ErrInvalidItemID
		return result
	}

	itemCtx, cancel := context.WithTimeout(ctx, p.config.WarmTimeout)
	defer cancel()

	ch := p.group.DoChan(key, func() (any, error) {
		return p.build(context.WithoutCancel(itemCtx), id)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			result.Err = res.Err
			p.logger.Warn().Err(res.Err).Str("item_id", id).Msg("Warm-up failed")
			return result
		}
		built := res.Val.(*builtPage)
		result.Strategy = built.decision.RenderStrategy
		result.Cached = built.cached
	case <-itemCtx.Done():
		result.Err = itemCtx.Err()
	}
	return result
}
