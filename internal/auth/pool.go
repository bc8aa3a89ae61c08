package auth

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tryhardly/apiserver/internal/metrics"
)

// HashPool runs password hashing off the request goroutine with a bounded
// number of concurrent slots, so a burst of logins cannot monopolize every
// core.
type HashPool struct {
	hasher PasswordHasher
	sem    *semaphore.Weighted
}

// NewHashPool wraps hasher; workers <= 0 uses GOMAXPROCS.
func NewHashPool(hasher PasswordHasher, workers int) *HashPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &HashPool{
		hasher: hasher,
		sem:    semaphore.NewWeighted(int64(workers)),
	}
}

type hashResult struct {
	record string
	ok     bool
	err    error
}

// Hash hashes password on a pool slot.
func (p *HashPool) Hash(ctx context.Context, password string) (string, error) {
	res, err := p.run(ctx, "hash", func() hashResult {
		record, err := p.hasher.Hash(password)
		return hashResult{record: record, err: err}
	})
	if err != nil {
		return "", err
	}
	return res.record, res.err
}

// Verify checks password against record on a pool slot.
func (p *HashPool) Verify(ctx context.Context, password, record string) (bool, error) {
	res, err := p.run(ctx, "verify", func() hashResult {
		ok, err := p.hasher.Verify(password, record)
		return hashResult{ok: ok, err: err}
	})
	if err != nil {
		return false, err
	}
	return res.ok, res.err
}

// NeedsUpgrade delegates to the wrapped hasher.
func (p *HashPool) NeedsUpgrade(record string) bool {
	return p.hasher.NeedsUpgrade(record)
}

// run waits for a slot, then executes fn on its own goroutine. A cancelled
// caller stops waiting; the slot is held until fn returns.
func (p *HashPool) run(ctx context.Context, op string, fn func() hashResult) (hashResult, error) {
	start := time.Now()
	defer func() {
		metrics.HashDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return hashResult{}, err
	}

	done := make(chan hashResult, 1)
	go func() {
		defer p.sem.Release(1)
		done <- fn()
	}()

	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		return hashResult{}, ctx.Err()
	}
}
