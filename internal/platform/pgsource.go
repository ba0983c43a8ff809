package platform

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/corebase/transfer-engine/internal/models"
)

// pgSource implements the source capability set over a direct Postgres
// connection. Supabase and NHost both keep their auth users in the "auth"
// schema and application data in "public", so the two adapters share this
// implementation and differ only in how the connection string is built.
type pgSource struct {
	errorSink
	provider string
	dsn      string
	dbName   string
	db       *sql.DB
}

func newPGSource(provider, dsn, dbName string) *pgSource {
	return &pgSource{provider: provider, dsn: dsn, dbName: dbName}
}

func (s *pgSource) Name() string { return s.provider }

func (s *pgSource) Resources() []models.ResourceType {
	return []models.ResourceType{
		models.ResourceUsers,
		models.ResourceDatabases,
		models.ResourceCollections,
		models.ResourceDocuments,
	}
}

func (s *pgSource) conn(ctx context.Context) (*sql.DB, error) {
	if s.db != nil {
		return s.db, nil
	}
	db, err := sql.Open("postgres", s.dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s.db = db
	return db, nil
}

func (s *pgSource) Report(ctx context.Context) error {
	if _, err := s.conn(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	return nil
}

func (s *pgSource) Fetch(ctx context.Context, rt models.ResourceType, scopeID string) (*FetchResult, error) {
	db, err := s.conn(ctx)
	if err != nil {
		fail := &models.TransferError{ResourceName: string(rt), Message: err.Error()}
		s.record(fail)
		return &FetchResult{Failed: []*models.TransferError{fail}}, nil
	}

	switch rt {
	case models.ResourceUsers:
		return s.fetchUsers(ctx, db, scopeID), nil
	case models.ResourceDatabases:
		return s.fetchDatabases(scopeID), nil
	case models.ResourceCollections:
		return s.fetchCollections(ctx, db, scopeID), nil
	case models.ResourceDocuments:
		return s.fetchDocuments(ctx, db, scopeID), nil
	default:
		return &FetchResult{}, nil
	}
}

func (s *pgSource) fetchUsers(ctx context.Context, db *sql.DB, scopeID string) *FetchResult {
	result := &FetchResult{}
	query := `SELECT id::text, COALESCE(email, ''), to_json(u)::text FROM auth.users u`
	args := []any{}
	if scopeID != "" {
		query += ` WHERE id::text = $1`
		args = append(args, scopeID)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		result.Failed = append(result.Failed, s.recordFail(models.ResourceUsers, "", err))
		return result
	}
	defer rows.Close()

	for rows.Next() {
		var id, email, payload string
		if err := rows.Scan(&id, &email, &payload); err != nil {
			result.Failed = append(result.Failed, s.recordFail(models.ResourceUsers, id, err))
			continue
		}
		data := map[string]any{}
		if err := json.Unmarshal([]byte(payload), &data); err != nil {
			result.Failed = append(result.Failed, s.recordFail(models.ResourceUsers, id, err))
			continue
		}
		name := email
		if name == "" {
			name = id
		}
		result.Resources = append(result.Resources, models.Resource{
			Type: models.ResourceUsers, ID: id, Name: name, Data: data,
		})
	}
	if err := rows.Err(); err != nil {
		result.Failed = append(result.Failed, s.recordFail(models.ResourceUsers, "", err))
	}
	return result
}

// fetchDatabases reports the single logical database the connection points at.
func (s *pgSource) fetchDatabases(scopeID string) *FetchResult {
	if scopeID != "" && scopeID != s.dbName {
		return &FetchResult{}
	}
	return &FetchResult{Resources: []models.Resource{{
		Type: models.ResourceDatabases,
		ID:   s.dbName,
		Name: s.dbName,
		Data: map[string]any{"id": s.dbName, "name": s.dbName},
	}}}
}

func (s *pgSource) fetchCollections(ctx context.Context, db *sql.DB, scopeID string) *FetchResult {
	result := &FetchResult{}
	tables, err := s.publicTables(ctx, db)
	if err != nil {
		result.Failed = append(result.Failed, s.recordFail(models.ResourceCollections, "", err))
		return result
	}
	for _, table := range tables {
		if scopeID != "" && table != scopeID {
			continue
		}
		result.Resources = append(result.Resources, models.Resource{
			Type: models.ResourceCollections,
			ID:   table,
			Name: table,
			Data: map[string]any{
				"id":         table,
				"name":       table,
				"databaseId": s.dbName,
			},
		})
	}
	return result
}

func (s *pgSource) fetchDocuments(ctx context.Context, db *sql.DB, scopeID string) *FetchResult {
	result := &FetchResult{}
	tables, err := s.publicTables(ctx, db)
	if err != nil {
		result.Failed = append(result.Failed, s.recordFail(models.ResourceDocuments, "", err))
		return result
	}

	for _, table := range tables {
		rows, err := db.QueryContext(ctx,
			fmt.Sprintf(`SELECT row_to_json(t)::text FROM %s t`, pq.QuoteIdentifier(table)))
		if err != nil {
			result.Failed = append(result.Failed, s.recordFail(models.ResourceDocuments, table, err))
			continue
		}
		rowNum := 0
		for rows.Next() {
			rowNum++
			var payload string
			if err := rows.Scan(&payload); err != nil {
				result.Failed = append(result.Failed, s.recordFail(models.ResourceDocuments, table, err))
				continue
			}
			data := map[string]any{}
			if err := json.Unmarshal([]byte(payload), &data); err != nil {
				result.Failed = append(result.Failed, s.recordFail(models.ResourceDocuments, table, err))
				continue
			}
			id, _ := data["id"].(string)
			if id == "" {
				id = fmt.Sprintf("%s:%d", table, rowNum)
			}
			if scopeID != "" && id != scopeID {
				continue
			}
			data["collectionId"] = table
			data["databaseId"] = s.dbName
			result.Resources = append(result.Resources, models.Resource{
				Type: models.ResourceDocuments, ID: id, Name: id, Data: data,
			})
		}
		if err := rows.Err(); err != nil {
			result.Failed = append(result.Failed, s.recordFail(models.ResourceDocuments, table, err))
		}
		rows.Close()
	}
	return result
}

func (s *pgSource) publicTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		 ORDER BY table_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (s *pgSource) recordFail(rt models.ResourceType, id string, err error) *models.TransferError {
	fail := &models.TransferError{
		ResourceName: string(rt),
		ResourceID:   id,
		Message:      err.Error(),
	}
	s.record(fail)
	return fail
}

func (s *pgSource) ShutDown(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// SignalFatal closes the connection early; reads leave no provider state.
func (s *pgSource) SignalFatal(ctx context.Context) {
	s.ShutDown(ctx)
}
