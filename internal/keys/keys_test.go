package keys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corebase/transfer-engine/internal/database"
	"github.com/corebase/transfer-engine/internal/models"
)

func TestManager_Issue(t *testing.T) {
	console := database.NewMemory()
	m := NewManager(console)
	project := &models.Project{ID: "p1", InternalID: "1"}

	key, err := m.Issue(context.Background(), project)
	require.NoError(t, err)

	assert.NotEmpty(t, key.ID)
	assert.Equal(t, "p1", key.ProjectID)
	assert.Equal(t, "Transfer API Key", key.Name)
	// 128 random bytes hex-encoded
	assert.Len(t, key.Secret, 256)
	assert.Contains(t, key.Scopes, "users.write")
	assert.Contains(t, key.Scopes, "functions.read")
	assert.Nil(t, key.Expire)

	assert.True(t, console.Has(CollectionKeys, key.ID))
	assert.Contains(t, console.Purged(), "projects/p1")
}

func TestManager_IssueFailsOnPersistenceError(t *testing.T) {
	console := database.NewMemory()
	console.FailWrites = true
	m := NewManager(console)

	_, err := m.Issue(context.Background(), &models.Project{ID: "p1"})
	assert.ErrorIs(t, err, database.ErrWriteFailed)
}

func TestManager_RevokeDeletesGrant(t *testing.T) {
	console := database.NewMemory()
	m := NewManager(console)
	key, err := m.Issue(context.Background(), &models.Project{ID: "p1"})
	require.NoError(t, err)

	require.NoError(t, m.Revoke(context.Background(), key))
	assert.False(t, console.Has(CollectionKeys, key.ID))
}

func TestManager_RevokeIsIdempotent(t *testing.T) {
	console := database.NewMemory()
	m := NewManager(console)
	key, err := m.Issue(context.Background(), &models.Project{ID: "p1"})
	require.NoError(t, err)

	require.NoError(t, m.Revoke(context.Background(), key))
	// Second revocation of the same key is a no-op, not an error.
	assert.NoError(t, m.Revoke(context.Background(), key))
	// Revoking a never-issued key is also a no-op.
	assert.NoError(t, m.Revoke(context.Background(), &Key{}))
}
