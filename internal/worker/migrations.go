// Package worker runs migration jobs: it owns the persisted state machine,
// the temporary credential lifecycle, and the transfer coordinator for the
// duration of one run.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/corebase/transfer-engine/internal/database"
	"github.com/corebase/transfer-engine/internal/keys"
	"github.com/corebase/transfer-engine/internal/models"
	"github.com/corebase/transfer-engine/internal/platform"
	"github.com/corebase/transfer-engine/internal/realtime"
	"github.com/corebase/transfer-engine/internal/transfer"
)

// CollectionMigrations is the per-project collection holding migration records.
const CollectionMigrations = "migrations"

// ConsoleProjectID is the platform's reserved console project. Jobs for it
// are ignored.
const ConsoleProjectID = "console"

// ErrMigrationFailed is returned to the queue layer when a run ends failed,
// so its retry/dead-letter policy can act.
var ErrMigrationFailed = errors.New("migration failed")

// Payload is the inbound queue message. A non-empty Events list marks a
// change-notification echo, not a work item.
type Payload struct {
	Events    []string         `json:"events"`
	Project   models.Project   `json:"project"`
	Migration models.Migration `json:"migration"`
}

// ProjectDatabases resolves the per-project database handle.
type ProjectDatabases func(projectID string) database.Database

// Worker processes one migration run at a time.
type Worker struct {
	console   database.Database
	projectDB ProjectDatabases
	keys      *keys.Manager
	notifier  realtime.Notifier
	log       *zap.Logger

	// peerEndpoint is the default endpoint injected into peer credentials
	// when the migration's own project is the peer.
	peerEndpoint string

	// Adapter resolution, overridable in tests.
	newSource      func(provider string, creds platform.Credentials) (platform.Source, error)
	newDestination func(provider string, creds platform.Credentials) (platform.Destination, error)
}

// New creates a Worker.
func New(console database.Database, projectDB ProjectDatabases, km *keys.Manager, notifier realtime.Notifier, peerEndpoint string, log *zap.Logger) *Worker {
	return &Worker{
		console:        console,
		projectDB:      projectDB,
		keys:           km,
		notifier:       notifier,
		peerEndpoint:   peerEndpoint,
		log:            log,
		newSource:      platform.NewSource,
		newDestination: platform.NewDestination,
	}
}

// Process is the single public entry point. It trusts the payload only for
// identity and short-circuits change echoes and console jobs.
func (w *Worker) Process(ctx context.Context, payload *Payload) error {
	if payload == nil || (payload.Project.Empty() && payload.Migration.Empty() && len(payload.Events) == 0) {
		return errors.New("missing payload")
	}
	if len(payload.Events) > 0 {
		return nil
	}
	if payload.Project.ID == ConsoleProjectID {
		return nil
	}

	log := w.log.With(
		zap.String("migration_id", payload.Migration.ID),
		zap.String("project_id", payload.Project.ID),
	)
	return w.processMigration(ctx, payload.Project.ID, payload.Migration.ID, log)
}

func (w *Worker) processMigration(ctx context.Context, projectID, migrationID string, log *zap.Logger) error {
	var project models.Project
	if err := w.console.GetDocument(ctx, keys.CollectionProjects, projectID, &project); err != nil {
		return fmt.Errorf("loading project %s: %w", projectID, err)
	}

	tempKey, err := w.keys.Issue(ctx, &project)
	if err != nil {
		return fmt.Errorf("issuing temporary key: %w", err)
	}

	db := w.projectDB(project.ID)
	migration := &models.Migration{}

	var source platform.Source
	var dest platform.Destination

	runErr := w.run(ctx, db, &project, migration, migrationID, tempKey, &source, &dest, log)

	if runErr != nil {
		log.Error("migration run aborted", zap.Error(runErr))
		if !migration.Empty() && !migration.Status.Terminal() {
			migration.SetStatus(models.StatusFailed)
			migration.SetStage(models.StageFinished)
			migration.Errors = append(migration.Errors, runErr.Error())
		}
	}

	// Finalization happens on every exit path: revoke exactly once, persist
	// the terminal record, and on failure fire the fatal hooks and surface
	// the failure to the queue layer. A failed run with an empty in-memory
	// record is still surfaced; swallowing it was a defect in an earlier
	// revision of this worker.
	if err := w.keys.Revoke(ctx, tempKey); err != nil {
		log.Error("revoking temporary key", zap.Error(err))
	}

	if !migration.Empty() {
		if err := w.updateMigration(ctx, db, migration, &project); err != nil {
			log.Error("persisting final migration record", zap.Error(err))
		}
	}

	if migration.Status == models.StatusFailed || (runErr != nil && migration.Empty()) {
		log.Error("migration failed",
			zap.String("migration_internal", migration.ID),
			zap.String("project_internal", project.InternalID),
			zap.Strings("errors", migration.Errors),
		)
		if dest != nil {
			dest.SignalFatal(ctx)
		}
		if source != nil {
			source.SignalFatal(ctx)
		}
		return ErrMigrationFailed
	}
	return nil
}

// run drives the state machine for one migration. Structural failures return
// an error; per-resource failures end the run failed without one.
func (w *Worker) run(
	ctx context.Context,
	db database.Database,
	project *models.Project,
	migration *models.Migration,
	migrationID string,
	tempKey *keys.Key,
	sourceOut *platform.Source,
	destOut *platform.Destination,
	log *zap.Logger,
) error {
	// Always re-load the authoritative record; the queue payload's embedded
	// copy is only trusted for identity.
	if err := db.GetDocument(ctx, CollectionMigrations, migrationID, migration); err != nil {
		return fmt.Errorf("loading migration %s: %w", migrationID, err)
	}
	migration.Errors = nil

	if migration.Source == platform.ProviderCorebase || migration.Destination == platform.ProviderCorebase {
		w.fillPeerCredentials(migration, project, tempKey)
	}

	migration.SetStage(models.StageProcessing)
	migration.SetStatus(models.StatusProcessing)
	if err := w.updateMigration(ctx, db, migration, project); err != nil {
		return err
	}

	log = log.With(zap.String("source", migration.Source))

	source, err := w.newSource(migration.Source, migration.Credentials)
	if err != nil {
		return err
	}
	*sourceOut = source

	dest, err := w.newDestination(migration.Destination, migration.Credentials)
	if err != nil {
		return err
	}
	*destOut = dest

	if err := source.Report(ctx); err != nil {
		return err
	}

	coordinator := transfer.New(source, dest)

	migration.SetStage(models.StageMigrating)
	if err := w.updateMigration(ctx, db, migration, project); err != nil {
		return err
	}

	sink := transfer.ProgressSinkFunc(func(ctx context.Context, snap *transfer.Snapshot) error {
		resourceData, err := json.Marshal(snap.ResourceData)
		if err != nil {
			return fmt.Errorf("encoding resource data: %w", err)
		}
		counters, err := json.Marshal(snap.StatusCounters)
		if err != nil {
			return fmt.Errorf("encoding status counters: %w", err)
		}
		migration.ResourceData = string(resourceData)
		migration.StatusCounters = string(counters)
		return w.updateMigration(ctx, db, migration, project)
	})

	if err := coordinator.Run(ctx, migration.Resources, sink, migration.ResourceID, migration.ResourceType); err != nil {
		return err
	}

	if err := dest.ShutDown(ctx); err != nil {
		log.Warn("destination shutdown", zap.Error(err))
	}
	if err := source.ShutDown(ctx); err != nil {
		log.Warn("source shutdown", zap.Error(err))
	}

	sourceErrors := source.Errors()
	destErrors := dest.Errors()

	if len(sourceErrors) > 0 || len(destErrors) > 0 {
		migration.SetStatus(models.StatusFailed)
		migration.SetStage(models.StageFinished)

		var messages []string
		for _, e := range sourceErrors {
			messages = append(messages, e.FormatFetch())
		}
		for _, e := range destErrors {
			messages = append(messages, e.FormatPush())
		}
		migration.Errors = messages
		log.Error("migration finished with resource errors", zap.Strings("errors", messages))
		return w.updateMigration(ctx, db, migration, project)
	}

	migration.SetStatus(models.StatusCompleted)
	migration.SetStage(models.StageFinished)
	return nil
}

// fillPeerCredentials defaults the peer credential fields when the
// migration's own project is the corebase peer: the project id, the
// platform-internal endpoint, and the freshly issued temporary key.
func (w *Worker) fillPeerCredentials(migration *models.Migration, project *models.Project, tempKey *keys.Key) {
	if migration.Credentials == nil {
		migration.Credentials = make(map[string]string)
	}
	if migration.Credentials["projectId"] == "" {
		migration.Credentials["projectId"] = project.ID
	}
	if migration.Credentials["endpoint"] == "" {
		migration.Credentials["endpoint"] = w.peerEndpoint
	}
	if migration.Credentials["apiKey"] == "" {
		migration.Credentials["apiKey"] = tempKey.Secret
	}
}

// updateMigration persists the record and notifies live subscribers of both
// the owning project and the console.
func (w *Worker) updateMigration(ctx context.Context, db database.Database, migration *models.Migration, project *models.Project) error {
	if err := db.UpdateDocument(ctx, CollectionMigrations, migration.ID, migration); err != nil {
		return fmt.Errorf("persisting migration %s: %w", migration.ID, err)
	}

	events := []string{fmt.Sprintf("migrations.%s.update", migration.ID)}
	channels := []string{
		"console",
		"migrations",
		"migrations." + migration.ID,
		"projects." + project.ID,
	}
	roles := []string{"any"}

	w.notifier.Send(ConsoleProjectID, migration, events, channels, roles)
	w.notifier.Send(project.ID, migration, events, channels, roles)
	return nil
}
