// Package transfer drives the per-resource-type copy loop between one source
// and one destination, maintaining the in-memory progress cache the worker
// checkpoints from.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/corebase/transfer-engine/internal/models"
	"github.com/corebase/transfer-engine/internal/platform"
)

// defaultWorkers bounds the per-resource-type push concurrency.
const defaultWorkers = 4

// Entry is the recorded outcome for one resource instance.
type Entry struct {
	Status models.TransferStatus `json:"status"`
	Error  string                `json:"error,omitempty"`
}

// Counters tallies per-type outcomes, derived by folding the cache.
type Counters struct {
	Pending int `json:"pending"`
	Success int `json:"success"`
	Skipped int `json:"skipped"`
	Error   int `json:"error"`
}

// Snapshot is a point-in-time copy of the transfer cache handed to the
// progress sink.
type Snapshot struct {
	ResourceData   map[models.ResourceType]map[string]Entry
	StatusCounters map[models.ResourceType]Counters
}

// ProgressSink receives a snapshot after every unit of work. A returned error
// halts the transfer: stale persisted progress is worse than a failed run.
type ProgressSink interface {
	Report(ctx context.Context, snap *Snapshot) error
}

// ProgressSinkFunc adapts a function to the ProgressSink interface.
type ProgressSinkFunc func(ctx context.Context, snap *Snapshot) error

func (f ProgressSinkFunc) Report(ctx context.Context, snap *Snapshot) error {
	return f(ctx, snap)
}

// Coordinator copies the selected resource types from source to destination
// in dependency order. Per-instance failures are recorded and do not halt the
// loop; only structural failures abort the run.
type Coordinator struct {
	source  platform.Source
	dest    platform.Destination
	workers int

	mu    sync.Mutex
	cache map[models.ResourceType]map[string]Entry
}

// New creates a Coordinator over a resolved source/destination pair.
func New(source platform.Source, dest platform.Destination) *Coordinator {
	return &Coordinator{
		source:  source,
		dest:    dest,
		workers: defaultWorkers,
		cache:   make(map[models.ResourceType]map[string]Entry),
	}
}

func (c *Coordinator) setEntry(rt models.ResourceType, id string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byID, ok := c.cache[rt]
	if !ok {
		byID = make(map[string]Entry)
		c.cache[rt] = byID
	}
	byID[id] = e
}

// Cache returns a snapshot of the per-instance transfer records. Safe to call
// at any time, including while Run is in flight.
func (c *Coordinator) Cache() map[models.ResourceType]map[string]Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[models.ResourceType]map[string]Entry, len(c.cache))
	for rt, byID := range c.cache {
		cp := make(map[string]Entry, len(byID))
		for id, e := range byID {
			cp[id] = e
		}
		out[rt] = cp
	}
	return out
}

// StatusCounters folds the cache into per-type tallies.
func (c *Coordinator) StatusCounters() map[models.ResourceType]Counters {
	cache := c.Cache()
	out := make(map[models.ResourceType]Counters, len(cache))
	for rt, byID := range cache {
		var counters Counters
		for _, e := range byID {
			switch e.Status {
			case models.TransferPending:
				counters.Pending++
			case models.TransferSuccess:
				counters.Success++
			case models.TransferSkipped:
				counters.Skipped++
			case models.TransferFailed:
				counters.Error++
			}
		}
		out[rt] = counters
	}
	return out
}

func (c *Coordinator) snapshot() *Snapshot {
	return &Snapshot{
		ResourceData:   c.Cache(),
		StatusCounters: c.StatusCounters(),
	}
}

// checkpoint records one unit of work and reports progress.
func (c *Coordinator) checkpoint(ctx context.Context, sink ProgressSink, rt models.ResourceType, id string, e Entry) error {
	c.setEntry(rt, id, e)
	if err := sink.Report(ctx, c.snapshot()); err != nil {
		return fmt.Errorf("progress checkpoint: %w", err)
	}
	return nil
}

// Run transfers the requested resource types. A non-empty scopeType restricts
// the pass to that type, and scopeID to a single instance of it. The sink is
// invoked once per resource instance, always from Run's goroutine, so
// checkpoint writes never race each other.
func (c *Coordinator) Run(ctx context.Context, requested []string, sink ProgressSink, scopeID, scopeType string) error {
	supported := intersect(c.source.Resources(), c.dest.Resources())
	types := models.OrderResourceTypes(requested, supported)

	for _, rt := range types {
		if scopeType != "" && string(rt) != scopeType {
			continue
		}
		if err := c.runType(ctx, rt, sink, scopeID); err != nil {
			return err
		}
	}
	return nil
}

// runType transfers every instance of one resource type. All instances of
// this type are attempted before Run moves to the next type, preserving the
// dependency ordering across types.
func (c *Coordinator) runType(ctx context.Context, rt models.ResourceType, sink ProgressSink, scopeID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fetched, err := c.source.Fetch(ctx, rt, scopeID)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", rt, err)
	}

	for i, fail := range fetched.Failed {
		id := fail.ResourceID
		if id == "" {
			id = fmt.Sprintf("%s#%d", rt, i)
		}
		if err := c.checkpoint(ctx, sink, rt, id, Entry{Status: models.TransferFailed, Error: fail.Message}); err != nil {
			return err
		}
	}

	// Everything fetched starts pending, then a bounded pool pushes while
	// this goroutine alone drains results and checkpoints.
	for _, res := range fetched.Resources {
		c.setEntry(rt, res.ID, Entry{Status: models.TransferPending})
	}

	type outcome struct {
		id    string
		entry Entry
	}

	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan models.Resource)
	results := make(chan outcome)

	var wg sync.WaitGroup
	workers := c.workers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for res := range jobs {
				entry := Entry{Status: models.TransferSuccess}
				switch err := c.dest.Push(poolCtx, &res); {
				case err == nil:
				case errors.Is(err, platform.ErrSkipped):
					entry = Entry{Status: models.TransferSkipped}
				default:
					entry = Entry{Status: models.TransferFailed, Error: err.Error()}
				}
				select {
				case results <- outcome{id: res.ID, entry: entry}:
				case <-poolCtx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, res := range fetched.Resources {
			select {
			case jobs <- res:
			case <-poolCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var checkpointErr error
	for out := range results {
		if checkpointErr != nil {
			continue
		}
		if err := c.checkpoint(ctx, sink, rt, out.id, out.entry); err != nil {
			checkpointErr = err
			cancel()
		}
	}
	return checkpointErr
}

func intersect(a, b []models.ResourceType) []models.ResourceType {
	inB := make(map[models.ResourceType]bool, len(b))
	for _, rt := range b {
		inB[rt] = true
	}
	var out []models.ResourceType
	for _, rt := range a {
		if inB[rt] {
			out = append(out, rt)
		}
	}
	return out
}
