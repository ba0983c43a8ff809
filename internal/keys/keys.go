// Package keys manages the short-lived API key a migration run uses against
// the same-platform peer destination. A key is issued at the start of exactly
// one run and revoked at the end of that same run, on every exit path.
package keys

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/corebase/transfer-engine/internal/database"
	"github.com/corebase/transfer-engine/internal/models"
)

const (
	// CollectionKeys is the console collection holding API key grants.
	CollectionKeys = "keys"
	// CollectionProjects is the console collection holding project records.
	CollectionProjects = "projects"

	secretBytes = 128
)

// transferScopes covers exactly the operations the destination adapter needs.
var transferScopes = []string{
	"users.read", "users.write",
	"teams.read", "teams.write",
	"databases.read", "databases.write",
	"collections.read", "collections.write",
	"documents.read", "documents.write",
	"buckets.read", "buckets.write",
	"files.read", "files.write",
	"functions.read", "functions.write",
}

// Key is a temporary API key grant owned by a project. No expiry is set at
// issuance; the lifecycle is bounded by explicit revocation.
type Key struct {
	ID                string   `json:"id" bson:"_id"`
	ProjectInternalID string   `json:"project_internal_id" bson:"projectInternalId"`
	ProjectID         string   `json:"project_id" bson:"projectId"`
	Name              string   `json:"name" bson:"name"`
	Scopes            []string `json:"scopes" bson:"scopes"`
	Expire            *string  `json:"expire" bson:"expire"`
	Secret            string   `json:"secret" bson:"secret"`
}

// Empty reports whether the key was never issued.
func (k *Key) Empty() bool {
	return k == nil || k.ID == ""
}

// Manager issues and revokes temporary keys against the console database.
type Manager struct {
	console database.Database
}

// NewManager creates a Manager over the console database handle.
func NewManager(console database.Database) *Manager {
	return &Manager{console: console}
}

// Issue creates a transfer-scoped key for the project and invalidates the
// cached project record, whose embedded grant list is now stale.
func (m *Manager) Issue(ctx context.Context, project *models.Project) (*Key, error) {
	secret := make([]byte, secretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generating key secret: %w", err)
	}

	key := &Key{
		ID:                uuid.New().String(),
		ProjectInternalID: project.InternalID,
		ProjectID:         project.ID,
		Name:              "Transfer API Key",
		Scopes:            transferScopes,
		Secret:            hex.EncodeToString(secret),
	}

	if err := m.console.CreateDocument(ctx, CollectionKeys, key.ID, key); err != nil {
		return nil, fmt.Errorf("persisting key grant: %w", err)
	}
	if err := m.console.PurgeCachedDocument(ctx, CollectionProjects, project.ID); err != nil {
		return nil, fmt.Errorf("purging cached project: %w", err)
	}
	return key, nil
}

// Revoke deletes the key grant. Revoking an empty or already-revoked key is a
// no-op, so callers can revoke unconditionally on every exit path.
func (m *Manager) Revoke(ctx context.Context, key *Key) error {
	if key.Empty() {
		return nil
	}
	err := m.console.DeleteDocument(ctx, CollectionKeys, key.ID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("revoking key %s: %w", key.ID, err)
	}
	return nil
}
