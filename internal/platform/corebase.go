package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/corebase/transfer-engine/internal/models"
)

// ProviderCorebase is the same-platform peer provider tag, usable as both
// source and destination.
const ProviderCorebase = "corebase"

// resourcePaths maps resource types to the peer's migration list endpoints,
// relative to the versioned base URL.
var resourcePaths = map[models.ResourceType]string{
	models.ResourceUsers:       "/users",
	models.ResourceTeams:       "/teams",
	models.ResourceMemberships: "/memberships",
	models.ResourceDatabases:   "/databases",
	models.ResourceCollections: "/collections",
	models.ResourceDocuments:   "/documents",
	models.ResourceBuckets:     "/buckets",
	models.ResourceFiles:       "/files",
	models.ResourceFunctions:   "/functions",
}

func peerCredentials(creds Credentials) (*Client, error) {
	projectID, err := creds.require("projectId")
	if err != nil {
		return nil, err
	}
	endpoint, err := creds.require("endpoint")
	if err != nil {
		return nil, err
	}
	apiKey, err := creds.require("apiKey")
	if err != nil {
		return nil, err
	}
	return NewPeerClient(endpoint, projectID, apiKey), nil
}

type corebaseSource struct {
	errorSink
	client *Client
}

func newCorebaseSource(creds Credentials) (Source, error) {
	client, err := peerCredentials(creds)
	if err != nil {
		return nil, err
	}
	return &corebaseSource{client: client}, nil
}

func (s *corebaseSource) Name() string { return ProviderCorebase }

func (s *corebaseSource) Resources() []models.ResourceType {
	return models.DependencyOrder
}

func (s *corebaseSource) Report(ctx context.Context) error {
	if err := s.client.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	return nil
}

func (s *corebaseSource) Fetch(ctx context.Context, rt models.ResourceType, scopeID string) (*FetchResult, error) {
	path, ok := resourcePaths[rt]
	if !ok {
		return &FetchResult{}, nil
	}

	result := &FetchResult{}

	if scopeID != "" {
		var item map[string]any
		if err := s.client.GetJSON(ctx, path+"/"+scopeID, nil, &item); err != nil {
			fail := &models.TransferError{
				ResourceName: string(rt),
				ResourceID:   scopeID,
				Message:      err.Error(),
			}
			s.record(fail)
			result.Failed = append(result.Failed, fail)
			return result, nil
		}
		result.Resources = append(result.Resources, mapResource(rt, item))
		return result, nil
	}

	items, err := s.client.GetAll(ctx, path)
	if err != nil {
		fail := &models.TransferError{
			ResourceName: string(rt),
			Message:      err.Error(),
		}
		s.record(fail)
		result.Failed = append(result.Failed, fail)
		return result, nil
	}
	for _, item := range items {
		result.Resources = append(result.Resources, mapResource(rt, item))
	}
	return result, nil
}

func (s *corebaseSource) ShutDown(ctx context.Context) error {
	s.client.httpClient.CloseIdleConnections()
	return nil
}

// SignalFatal releases any half-read state on the peer. Best effort.
func (s *corebaseSource) SignalFatal(ctx context.Context) {
	s.client.Post(ctx, "/migrations/fatal", map[string]any{"reason": "migration abandoned"})
}

// mapResource converts a raw peer payload into a transferable resource.
func mapResource(rt models.ResourceType, item map[string]any) models.Resource {
	id, _ := item["id"].(string)
	name, _ := item["name"].(string)
	if name == "" {
		name = id
	}
	return models.Resource{Type: rt, ID: id, Name: name, Data: item}
}

type corebaseDestination struct {
	errorSink
	client *Client
}

func newCorebaseDestination(creds Credentials) (Destination, error) {
	client, err := peerCredentials(creds)
	if err != nil {
		return nil, err
	}
	return &corebaseDestination{client: client}, nil
}

func (d *corebaseDestination) Name() string { return ProviderCorebase }

func (d *corebaseDestination) Resources() []models.ResourceType {
	return models.DependencyOrder
}

func (d *corebaseDestination) Push(ctx context.Context, res *models.Resource) error {
	path, ok := resourcePaths[res.Type]
	if !ok {
		return d.pushError(res, fmt.Errorf("no endpoint for resource type %q", res.Type))
	}

	// An equal-fingerprint copy at the destination means a re-run already
	// transferred this instance; record it as skipped instead of duplicating.
	var existing map[string]any
	if err := d.client.GetJSON(ctx, path+"/"+res.ID, nil, &existing); err == nil && existing != nil {
		if remoteFingerprint(res, existing) == res.Fingerprint() {
			return ErrSkipped
		}
		if _, _, err := d.client.Put(ctx, path+"/"+res.ID, res.Data); err != nil {
			return d.pushError(res, err)
		}
		return nil
	}

	if _, _, err := d.client.Post(ctx, path, res.Data); err != nil {
		return d.pushError(res, err)
	}
	return nil
}

func (d *corebaseDestination) pushError(res *models.Resource, err error) error {
	fail := &models.TransferError{
		ResourceName: string(res.Type),
		ResourceID:   res.ID,
		Message:      err.Error(),
	}
	d.record(fail)
	return errors.New(fail.Message)
}

func (d *corebaseDestination) ShutDown(ctx context.Context) error {
	d.client.httpClient.CloseIdleConnections()
	return nil
}

// SignalFatal tells the peer the run was abandoned so it can release any
// half-created state. Best effort: a failed signal must not mask the run's
// own failure.
func (d *corebaseDestination) SignalFatal(ctx context.Context) {
	d.client.Post(ctx, "/migrations/fatal", map[string]any{"reason": "migration abandoned"})
}

// remoteFingerprint hashes the remote copy restricted to the keys the source
// payload carries, so server-set fields do not defeat skip detection.
func remoteFingerprint(res *models.Resource, remote map[string]any) string {
	slice := make(map[string]any, len(res.Data))
	for k := range res.Data {
		if v, ok := remote[k]; ok {
			slice[k] = v
		}
	}
	shadow := models.Resource{Type: res.Type, ID: res.ID, Data: slice}
	return shadow.Fingerprint()
}
