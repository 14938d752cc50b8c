package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"memtech/internal/config"
	"memtech/internal/domain"
	"memtech/internal/engine/auth"
	"memtech/internal/events"
	"memtech/internal/outline"
	"memtech/internal/repo"
	"memtech/internal/storage"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Files    storage.Store
	Analyzer outline.Analyzer
	Logger   *log.Logger
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{},
		Config:   cfg,
		Analyzer: outline.NewAnalyzer(cfg.LLM),
		Now:      time.Now,
	}
}

var (
	ErrTerminalState      = errors.New("document is approved; only an administrator can change it")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrProjectUnderReview = errors.New("project has documents under review")
	ErrStorageUnavailable = errors.New("file storage not configured")
)

// MissingAssignmentError rejects a step that needs a writer or reviewer nobody holds.
type MissingAssignmentError struct {
	DocumentID string
	Role       string
}

func (e MissingAssignmentError) Error() string {
	return fmt.Sprintf("document %s has no %s assigned", e.DocumentID, e.Role)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

// recomputeTx re-derives the project status from every sibling document inside the
// caller's transaction. Cancelled projects keep their status.
func (e Engine) recomputeTx(ctx context.Context, tx *sql.Tx, projectID, actorID string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, tx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if p.Status == domain.ProjectCancelled {
		return p, nil
	}
	statuses, err := e.Repo.DocumentStatuses(ctx, tx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	next := domain.AggregateProjectStatus(statuses)
	if next == p.Status {
		return p, nil
	}
	now := e.timestamp()
	if err := e.Repo.UpdateProjectStatus(ctx, tx, projectID, next, now); err != nil {
		return domain.Project{}, fmt.Errorf("update project status: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.ProjectStatusChanged, projectID, "project", projectID, actorID, events.EventPayload{
		"from_status": p.Status,
		"to_status":   next,
	}); err != nil {
		return domain.Project{}, err
	}
	p.Status = next
	p.UpdatedAt = now
	return p, nil
}

// RecomputeProjectStatus re-derives and stores the aggregate status of a project.
// Calling it repeatedly without document changes yields the same status.
func (e Engine) RecomputeProjectStatus(ctx context.Context, projectID string) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	p, err := e.recomputeTx(ctx, tx, projectID, "system")
	if err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func requireAdmin(actor auth.Actor) error {
	if !actor.IsAdmin() {
		return auth.ForbiddenError{Permission: string(domain.RoleAdmin)}
	}
	return nil
}
