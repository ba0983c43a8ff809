// Package database exposes the narrow multi-tenant document-database handle
// the migration engine needs: documents keyed by collection name and id, with
// a purgeable read cache in front of the primary store.
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

var (
	// ErrNotFound is returned when no document exists under the given id.
	ErrNotFound = errors.New("document not found")
	// ErrWriteFailed wraps persistence failures on create/update/delete.
	ErrWriteFailed = errors.New("write failed")
)

// Database is the per-tenant document handle.
type Database interface {
	GetDocument(ctx context.Context, collection, id string, dest any) error
	CreateDocument(ctx context.Context, collection, id string, doc any) error
	UpdateDocument(ctx context.Context, collection, id string, doc any) error
	DeleteDocument(ctx context.Context, collection, id string) error
	PurgeCachedDocument(ctx context.Context, collection, id string) error
}

const cacheTTL = 5 * time.Minute

// MongoDatabase backs the handle with a MongoDB database and an optional
// Redis read cache. A nil cache client disables caching.
type MongoDatabase struct {
	db    *mongo.Database
	cache *redis.Client
}

// NewMongo wraps one tenant database. The caller picks the database name, so
// multi-tenancy is a naming convention one level up (for example
// "project_<id>" per project and a shared console database).
func NewMongo(client *mongo.Client, name string, cache *redis.Client) *MongoDatabase {
	return &MongoDatabase{db: client.Database(name), cache: cache}
}

func (m *MongoDatabase) cacheKey(collection, id string) string {
	return fmt.Sprintf("doc:%s:%s:%s", m.db.Name(), collection, id)
}

// GetDocument loads a document by id, consulting the read cache first.
func (m *MongoDatabase) GetDocument(ctx context.Context, collection, id string, dest any) error {
	key := m.cacheKey(collection, id)
	if m.cache != nil {
		if raw, err := m.cache.Get(ctx, key).Bytes(); err == nil {
			return json.Unmarshal(raw, dest)
		}
	}
	err := m.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(dest)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	if m.cache != nil {
		if raw, err := json.Marshal(dest); err == nil {
			m.cache.Set(ctx, key, raw, cacheTTL)
		}
	}
	return nil
}

// CreateDocument inserts a new document under the given id.
func (m *MongoDatabase) CreateDocument(ctx context.Context, collection, id string, doc any) error {
	if _, err := m.db.Collection(collection).InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("create %s/%s: %w: %w", collection, id, ErrWriteFailed, err)
	}
	return nil
}

// UpdateDocument replaces the document and purges its cached copy.
func (m *MongoDatabase) UpdateDocument(ctx context.Context, collection, id string, doc any) error {
	res, err := m.db.Collection(collection).ReplaceOne(ctx, bson.M{"_id": id}, doc)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w: %w", collection, id, ErrWriteFailed, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("update %s/%s: %w", collection, id, ErrNotFound)
	}
	return m.PurgeCachedDocument(ctx, collection, id)
}

// DeleteDocument removes the document and purges its cached copy. Deleting a
// document that is already gone returns ErrNotFound.
func (m *MongoDatabase) DeleteDocument(ctx context.Context, collection, id string) error {
	res, err := m.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w: %w", collection, id, ErrWriteFailed, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("delete %s/%s: %w", collection, id, ErrNotFound)
	}
	return m.PurgeCachedDocument(ctx, collection, id)
}

// PurgeCachedDocument invalidates the read cache for one document.
func (m *MongoDatabase) PurgeCachedDocument(ctx context.Context, collection, id string) error {
	if m.cache == nil {
		return nil
	}
	return m.cache.Del(ctx, m.cacheKey(collection, id)).Err()
}
