// Package platform contains the provider adapters a migration run is wired
// from: one Source (corebase peer, firebase, supabase, nhost) and one
// Destination (corebase peer), resolved by provider tag from a small static
// table. Adapters accumulate per-resource failures internally; only
// structural failures surface as returned errors.
package platform

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/corebase/transfer-engine/internal/models"
)

var (
	// ErrUnsupportedProvider is returned when no adapter is registered for a
	// provider tag.
	ErrUnsupportedProvider = errors.New("unsupported provider")
	// ErrInvalidCredentials is returned when a credential map is missing
	// fields the provider requires.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrConnectivity is returned by Report when the provider cannot be
	// reached or rejects authentication.
	ErrConnectivity = errors.New("connectivity check failed")
	// ErrSkipped is returned by Push when the destination already holds an
	// identical copy of the resource.
	ErrSkipped = errors.New("resource already exists at destination")
)

// Credentials is the opaque provider-specific credential map carried on the
// migration record.
type Credentials map[string]string

// require returns the named field or an ErrInvalidCredentials.
func (c Credentials) require(field string) (string, error) {
	v, ok := c[field]
	if !ok || v == "" {
		return "", fmt.Errorf("%w: missing field %q", ErrInvalidCredentials, field)
	}
	return v, nil
}

// FetchResult carries one resource type's fetch outcome: the instances that
// could be fetched plus the per-instance failures, in source order.
type FetchResult struct {
	Resources []models.Resource
	Failed    []*models.TransferError
}

// Source is the capability set the engine requires of a migration source.
type Source interface {
	// Name returns the provider tag.
	Name() string
	// Resources lists the resource types this provider can enumerate.
	Resources() []models.ResourceType
	// Report checks connectivity and auth before any resource work begins.
	Report(ctx context.Context) error
	// Fetch enumerates instances of one resource type. A non-empty scopeID
	// restricts the pass to a single instance. Per-instance failures are
	// returned in the result and retained for Errors; only structural
	// failures are returned as an error.
	Fetch(ctx context.Context, rt models.ResourceType, scopeID string) (*FetchResult, error)
	// Errors returns every per-resource failure recorded so far, in order.
	Errors() []*models.TransferError
	// ShutDown releases the provider connection.
	ShutDown(ctx context.Context) error
	// SignalFatal is invoked only when the run is abandoned.
	SignalFatal(ctx context.Context)
}

// Destination is the capability set the engine requires of a migration
// destination.
type Destination interface {
	Name() string
	Resources() []models.ResourceType
	// Push writes one resource. It returns ErrSkipped when an identical copy
	// already exists, or a per-resource error that the adapter has also
	// recorded for Errors.
	Push(ctx context.Context, res *models.Resource) error
	Errors() []*models.TransferError
	ShutDown(ctx context.Context) error
	// SignalFatal is invoked only when the run is abandoned, so the adapter
	// can run provider-specific cleanup.
	SignalFatal(ctx context.Context)
}

// sourceFactories maps provider tags to constructors. Adding a provider means
// adding an entry here and a constructor in its own file; the worker never
// changes.
var sourceFactories = map[string]func(Credentials) (Source, error){
	ProviderCorebase: newCorebaseSource,
	ProviderFirebase: newFirebaseSource,
	ProviderSupabase: newSupabaseSource,
	ProviderNHost:    newNHostSource,
}

var destinationFactories = map[string]func(Credentials) (Destination, error){
	ProviderCorebase: newCorebaseDestination,
}

// NewSource resolves a source adapter from its provider tag. Construction
// fails fast on unknown providers and incomplete credentials.
func NewSource(provider string, creds Credentials) (Source, error) {
	factory, ok := sourceFactories[provider]
	if !ok {
		return nil, fmt.Errorf("%w: source %q", ErrUnsupportedProvider, provider)
	}
	return factory(creds)
}

// NewDestination resolves a destination adapter from its provider tag.
func NewDestination(provider string, creds Credentials) (Destination, error) {
	factory, ok := destinationFactories[provider]
	if !ok {
		return nil, fmt.Errorf("%w: destination %q", ErrUnsupportedProvider, provider)
	}
	return factory(creds)
}

// errorSink collects per-resource failures behind a mutex. Embedded by every
// adapter.
type errorSink struct {
	mu   sync.Mutex
	errs []*models.TransferError
}

func (s *errorSink) record(e *models.TransferError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, e)
}

// Errors returns a copy of the recorded failures, in record order.
func (s *errorSink) Errors() []*models.TransferError {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.TransferError, len(s.errs))
	copy(out, s.errs)
	return out
}
