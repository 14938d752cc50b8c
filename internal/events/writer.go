package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	ProjectCreated        = "project.created"
	ProjectDeleted        = "project.deleted"
	ProjectCancelled      = "project.cancelled"
	ProjectStatusChanged  = "project.status_changed"
	DocumentCreated       = "document.created"
	DocumentTransitioned  = "document.transitioned"
	DocumentAssigned      = "document.assigned"
	DocumentContentSaved  = "document.content_saved"
	CommentAdded          = "comment.added"
	CommentResolved       = "comment.resolved"
	ReferenceUploaded     = "reference.uploaded"
	OutlineGenerated      = "outline.generated"
	LibraryItemCreated    = "library.item_created"
	UserCreated           = "user.created"
	UserUpdated           = "user.updated"
	OrganizationCreated   = "organization.created"
	DocumentFileSaved     = "document.file_saved"
	StorageCleanupFailure = "storage.cleanup_failed"
)

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one event row through the caller's transaction so the event commits
// or rolls back with the change it describes.
func (w Writer) Append(ctx context.Context, ex Execer, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if actorID == "" {
		actorID = "system"
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), evtType, nullable(projectID), entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append event %s: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
