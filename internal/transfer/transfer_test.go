package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corebase/transfer-engine/internal/models"
	"github.com/corebase/transfer-engine/internal/platform"
)

// fakeSource serves canned resources and fetch failures per type.
type fakeSource struct {
	resources map[models.ResourceType][]models.Resource
	failures  map[models.ResourceType][]*models.TransferError
	mu        sync.Mutex
	errs      []*models.TransferError
	shutDown  bool
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) Resources() []models.ResourceType { return models.DependencyOrder }

func (s *fakeSource) Report(ctx context.Context) error { return nil }

func (s *fakeSource) Fetch(ctx context.Context, rt models.ResourceType, scopeID string) (*platform.FetchResult, error) {
	result := &platform.FetchResult{Failed: s.failures[rt]}
	for _, res := range s.resources[rt] {
		if scopeID != "" && res.ID != scopeID {
			continue
		}
		result.Resources = append(result.Resources, res)
	}
	s.mu.Lock()
	s.errs = append(s.errs, result.Failed...)
	s.mu.Unlock()
	return result, nil
}

func (s *fakeSource) Errors() []*models.TransferError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.TransferError(nil), s.errs...)
}

func (s *fakeSource) ShutDown(ctx context.Context) error { s.shutDown = true; return nil }

func (s *fakeSource) SignalFatal(ctx context.Context) {}

// fakeDest records push order and fails or skips selected ids.
type fakeDest struct {
	mu       sync.Mutex
	pushed   []models.Resource
	failIDs  map[string]bool
	skipIDs  map[string]bool
	errs     []*models.TransferError
	shutDown bool
	fatal    bool
}

func (d *fakeDest) Name() string { return "fake" }

func (d *fakeDest) Resources() []models.ResourceType { return models.DependencyOrder }

func (d *fakeDest) Push(ctx context.Context, res *models.Resource) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pushed = append(d.pushed, *res)
	if d.skipIDs[res.ID] {
		return platform.ErrSkipped
	}
	if d.failIDs[res.ID] {
		fail := &models.TransferError{
			ResourceName: string(res.Type),
			ResourceID:   res.ID,
			Message:      "push rejected",
		}
		d.errs = append(d.errs, fail)
		return errors.New(fail.Message)
	}
	return nil
}

func (d *fakeDest) Errors() []*models.TransferError {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*models.TransferError(nil), d.errs...)
}

func (d *fakeDest) ShutDown(ctx context.Context) error { d.shutDown = true; return nil }

func (d *fakeDest) SignalFatal(ctx context.Context) { d.fatal = true }

func user(id string) models.Resource {
	return models.Resource{Type: models.ResourceUsers, ID: id, Name: id, Data: map[string]any{"id": id}}
}

func resOf(rt models.ResourceType, id string) models.Resource {
	return models.Resource{Type: rt, ID: id, Name: id, Data: map[string]any{"id": id}}
}

func noopSink() ProgressSink {
	return ProgressSinkFunc(func(context.Context, *Snapshot) error { return nil })
}

func TestRun_TransfersAllInstances(t *testing.T) {
	src := &fakeSource{resources: map[models.ResourceType][]models.Resource{
		models.ResourceUsers: {user("u1"), user("u2")},
	}}
	dst := &fakeDest{}
	c := New(src, dst)

	require.NoError(t, c.Run(context.Background(), []string{"users"}, noopSink(), "", ""))

	counters := c.StatusCounters()
	assert.Equal(t, Counters{Success: 2}, counters[models.ResourceUsers])
	assert.Len(t, dst.pushed, 2)
}

func TestRun_PartialFailureDoesNotHalt(t *testing.T) {
	src := &fakeSource{resources: map[models.ResourceType][]models.Resource{
		models.ResourceUsers: {user("u1"), user("u2"), user("u3"), user("u4"), user("u5")},
	}}
	dst := &fakeDest{failIDs: map[string]bool{"u3": true}}
	c := New(src, dst)

	require.NoError(t, c.Run(context.Background(), []string{"users"}, noopSink(), "", ""))

	// All N instances attempted even though one failed.
	assert.Len(t, dst.pushed, 5)
	counters := c.StatusCounters()[models.ResourceUsers]
	assert.Equal(t, 4, counters.Success)
	assert.Equal(t, 1, counters.Error)

	cache := c.Cache()[models.ResourceUsers]
	assert.Equal(t, models.TransferFailed, cache["u3"].Status)
	assert.Equal(t, "push rejected", cache["u3"].Error)
}

func TestRun_FetchFailuresAreRecorded(t *testing.T) {
	src := &fakeSource{
		resources: map[models.ResourceType][]models.Resource{
			models.ResourceUsers: {user("u1"), user("u2")},
		},
		failures: map[models.ResourceType][]*models.TransferError{
			models.ResourceUsers: {{ResourceName: "users", ResourceID: "u3", Message: "timeout"}},
		},
	}
	dst := &fakeDest{}
	c := New(src, dst)

	require.NoError(t, c.Run(context.Background(), []string{"users"}, noopSink(), "", ""))

	counters := c.StatusCounters()[models.ResourceUsers]
	assert.Equal(t, 2, counters.Success)
	assert.Equal(t, 1, counters.Error)
	assert.Equal(t, models.TransferFailed, c.Cache()[models.ResourceUsers]["u3"].Status)
}

func TestRun_DependencyOrdering(t *testing.T) {
	src := &fakeSource{resources: map[models.ResourceType][]models.Resource{
		models.ResourceCollections: {resOf(models.ResourceCollections, "c1"), resOf(models.ResourceCollections, "c2")},
		models.ResourceDocuments:   {resOf(models.ResourceDocuments, "d1"), resOf(models.ResourceDocuments, "d2")},
	}}
	dst := &fakeDest{}
	c := New(src, dst)

	// Requested out of order on purpose.
	require.NoError(t, c.Run(context.Background(), []string{"documents", "collections"}, noopSink(), "", ""))

	require.Len(t, dst.pushed, 4)
	lastCollection, firstDocument := -1, len(dst.pushed)
	for i, res := range dst.pushed {
		switch res.Type {
		case models.ResourceCollections:
			if i > lastCollection {
				lastCollection = i
			}
		case models.ResourceDocuments:
			if i < firstDocument {
				firstDocument = i
			}
		}
	}
	assert.Less(t, lastCollection, firstDocument,
		"no document push may begin before all collection pushes were attempted")
}

func TestRun_SkippedInstances(t *testing.T) {
	src := &fakeSource{resources: map[models.ResourceType][]models.Resource{
		models.ResourceUsers: {user("u1"), user("u2")},
	}}
	dst := &fakeDest{skipIDs: map[string]bool{"u1": true}}
	c := New(src, dst)

	require.NoError(t, c.Run(context.Background(), []string{"users"}, noopSink(), "", ""))

	counters := c.StatusCounters()[models.ResourceUsers]
	assert.Equal(t, 1, counters.Skipped)
	assert.Equal(t, 1, counters.Success)
	assert.Equal(t, models.TransferSkipped, c.Cache()[models.ResourceUsers]["u1"].Status)
}

func TestRun_ScopeToSingleInstance(t *testing.T) {
	src := &fakeSource{resources: map[models.ResourceType][]models.Resource{
		models.ResourceUsers:     {user("u1"), user("u2")},
		models.ResourceDatabases: {resOf(models.ResourceDatabases, "db1")},
	}}
	dst := &fakeDest{}
	c := New(src, dst)

	require.NoError(t, c.Run(context.Background(), []string{"users", "databases"}, noopSink(), "u2", "users"))

	require.Len(t, dst.pushed, 1)
	assert.Equal(t, "u2", dst.pushed[0].ID)
}

func TestRun_CheckpointFailureHalts(t *testing.T) {
	src := &fakeSource{resources: map[models.ResourceType][]models.Resource{
		models.ResourceUsers: {user("u1"), user("u2"), user("u3")},
	}}
	dst := &fakeDest{}
	c := New(src, dst)

	calls := 0
	sink := ProgressSinkFunc(func(context.Context, *Snapshot) error {
		calls++
		if calls >= 2 {
			return errors.New("persistence unavailable")
		}
		return nil
	})

	err := c.Run(context.Background(), []string{"users"}, sink, "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "progress checkpoint")
}

func TestRun_CheckpointCadenceOncePerInstance(t *testing.T) {
	src := &fakeSource{resources: map[models.ResourceType][]models.Resource{
		models.ResourceUsers: {user("u1"), user("u2"), user("u3")},
	}}
	dst := &fakeDest{}
	c := New(src, dst)

	calls := 0
	sink := ProgressSinkFunc(func(_ context.Context, snap *Snapshot) error {
		calls++
		// The snapshot must be consistent at every checkpoint.
		require.NotNil(t, snap.ResourceData[models.ResourceUsers])
		return nil
	})

	require.NoError(t, c.Run(context.Background(), []string{"users"}, sink, "", ""))
	assert.Equal(t, 3, calls)
}

func TestStatusCountersRoundTripThroughJSON(t *testing.T) {
	src := &fakeSource{resources: map[models.ResourceType][]models.Resource{
		models.ResourceUsers: {user("u1")},
	}}
	dst := &fakeDest{}
	c := New(src, dst)
	require.NoError(t, c.Run(context.Background(), []string{"users"}, noopSink(), "", ""))

	raw, err := json.Marshal(c.StatusCounters()[models.ResourceUsers])
	require.NoError(t, err)
	assert.JSONEq(t, `{"pending":0,"success":1,"skipped":0,"error":0}`, string(raw))
}
