package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"memtech/internal/domain"
	"memtech/internal/engine/auth"
	"memtech/internal/events"
	"memtech/internal/repo"
	"memtech/internal/storage"
)

type ProjectCreateOptions struct {
	ID                string
	Name              string
	MOEID             *string
	MOAID             *string
	OfferDeliveryDate *string
	// DocumentTypes defaults to every mandatory catalog entry when empty.
	DocumentTypes []string
}

// ProjectProgress summarizes the workflow of one project.
type ProjectProgress struct {
	Project    domain.Project                `json:"project"`
	Completion float64                       `json:"completion"`
	Total      int                           `json:"total"`
	Approved   int                           `json:"approved"`
	ByStatus   map[domain.DocumentStatus]int `json:"by_status"`
	Documents  []domain.ProjectDocument      `json:"documents"`
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions, actor auth.Actor) (domain.Project, []domain.ProjectDocument, error) {
	if err := auth.RequireAuthenticated(actor); err != nil {
		return domain.Project{}, nil, err
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.Project{}, nil, invalid("project name is required")
	}
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = uuid.NewString()
	}

	types := opts.DocumentTypes
	if len(types) == 0 {
		catalog, err := e.Repo.ListDocumentTypes(ctx)
		if err != nil {
			return domain.Project{}, nil, err
		}
		for _, dt := range catalog {
			if dt.IsMandatory {
				types = append(types, dt.Type)
			}
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, nil, err
	}
	defer tx.Rollback()

	for _, orgID := range []*string{opts.MOEID, opts.MOAID} {
		if orgID == nil || *orgID == "" {
			continue
		}
		if _, err := e.Repo.GetOrganization(ctx, tx, *orgID); err != nil {
			return domain.Project{}, nil, err
		}
	}

	now := e.timestamp()
	p := domain.Project{
		ID:                id,
		Name:              name,
		MOEID:             opts.MOEID,
		MOAID:             opts.MOAID,
		OfferDeliveryDate: opts.OfferDeliveryDate,
		Status:            domain.ProjectPending,
		CreatedBy:         actor.UserID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, nil, err
	}
	if err := e.events().Append(ctx, tx, events.ProjectCreated, p.ID, "project", p.ID, actor.UserID, events.EventPayload{
		"name":           p.Name,
		"document_types": types,
	}); err != nil {
		return domain.Project{}, nil, err
	}
	docs, err := e.addDocumentsTx(ctx, tx, p.ID, types, actor.UserID)
	if err != nil {
		return domain.Project{}, nil, err
	}
	p, err = e.recomputeTx(ctx, tx, p.ID, actor.UserID)
	if err != nil {
		return domain.Project{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, nil, err
	}
	return p, docs, nil
}

// AddRequiredDocuments links more catalog types to a project. Types already linked are skipped.
func (e Engine) AddRequiredDocuments(ctx context.Context, projectID string, types []string, actor auth.Actor) ([]domain.ProjectDocument, error) {
	if err := auth.RequireAuthenticated(actor); err != nil {
		return nil, err
	}
	if len(types) == 0 {
		return nil, invalid("at least one document type is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetProject(ctx, tx, projectID); err != nil {
		return nil, err
	}
	existing, err := e.Repo.ListProjectDocuments(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	linked := map[string]bool{}
	for _, d := range existing {
		linked[d.DocumentType] = true
	}
	var fresh []string
	for _, t := range types {
		if !linked[t] {
			fresh = append(fresh, t)
			linked[t] = true
		}
	}
	docs, err := e.addDocumentsTx(ctx, tx, projectID, fresh, actor.UserID)
	if err != nil {
		return nil, err
	}
	if _, err := e.recomputeTx(ctx, tx, projectID, actor.UserID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return docs, nil
}

func (e Engine) addDocumentsTx(ctx context.Context, tx *sql.Tx, projectID string, types []string, actorID string) ([]domain.ProjectDocument, error) {
	now := e.timestamp()
	seen := map[string]bool{}
	docs := make([]domain.ProjectDocument, 0, len(types))
	for _, t := range types {
		t = strings.TrimSpace(t)
		if seen[t] {
			continue
		}
		seen[t] = true
		ok, err := e.Repo.DocumentTypeExists(ctx, tx, t)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("document type %q: %w", t, repo.ErrNotFound)
		}
		d := domain.ProjectDocument{
			ID:                   uuid.NewString(),
			ProjectID:            projectID,
			DocumentType:         t,
			Status:               domain.StatusDraft,
			CompletionPercentage: domain.CompletionPercentage(domain.StatusDraft),
			ReviewCycle:          1,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if err := e.Repo.InsertDocument(ctx, tx, d); err != nil {
			return nil, err
		}
		if err := e.events().Append(ctx, tx, events.DocumentCreated, projectID, "document", d.ID, actorID, events.EventPayload{
			"document_type": t,
		}); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, nil
}

func (e Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return e.Repo.GetProject(ctx, nil, id)
}

func (e Engine) ListProjects(ctx context.Context) ([]domain.Project, error) {
	return e.Repo.ListProjects(ctx)
}

func (e Engine) ListProjectDocuments(ctx context.Context, projectID string) ([]domain.ProjectDocument, error) {
	if _, err := e.Repo.GetProject(ctx, nil, projectID); err != nil {
		return nil, err
	}
	return e.Repo.ListProjectDocuments(ctx, nil, projectID)
}

func (e Engine) ProjectProgress(ctx context.Context, projectID string) (ProjectProgress, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ProjectProgress{}, err
	}
	defer tx.Rollback()
	p, err := e.Repo.GetProject(ctx, tx, projectID)
	if err != nil {
		return ProjectProgress{}, err
	}
	docs, err := e.Repo.ListProjectDocuments(ctx, tx, projectID)
	if err != nil {
		return ProjectProgress{}, err
	}
	out := ProjectProgress{
		Project:   p,
		Total:     len(docs),
		ByStatus:  map[domain.DocumentStatus]int{},
		Documents: docs,
	}
	statuses := make([]domain.DocumentStatus, 0, len(docs))
	for _, d := range docs {
		statuses = append(statuses, d.Status)
		out.ByStatus[d.Status]++
		if d.Status == domain.StatusApproved {
			out.Approved++
		}
	}
	out.Completion = domain.ProjectCompletion(statuses)
	return out, nil
}

// CancelProject marks a project CANCELLED. Recomputation leaves cancelled projects alone.
func (e Engine) CancelProject(ctx context.Context, projectID string, actor auth.Actor) (domain.Project, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.Project{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	p, err := e.Repo.GetProject(ctx, tx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if p.Status == domain.ProjectCancelled {
		return p, nil
	}
	now := e.timestamp()
	if err := e.Repo.UpdateProjectStatus(ctx, tx, projectID, domain.ProjectCancelled, now); err != nil {
		return domain.Project{}, err
	}
	if err := e.events().Append(ctx, tx, events.ProjectCancelled, projectID, "project", projectID, actor.UserID, events.EventPayload{
		"from_status": p.Status,
	}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	p.Status = domain.ProjectCancelled
	p.UpdatedAt = now
	return p, nil
}

// SoftDeleteProject hides a project after re-checking the administrator's password.
// Stored files are removed afterwards; a cleanup failure is logged and recorded but
// does not undo the deletion.
func (e Engine) SoftDeleteProject(ctx context.Context, projectID, password string, actor auth.Actor) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	u, err := e.Repo.GetUser(ctx, tx, actor.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrInvalidCredentials
		}
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return ErrInvalidCredentials
	}
	if _, err := e.Repo.GetProject(ctx, tx, projectID); err != nil {
		return err
	}
	statuses, err := e.Repo.DocumentStatuses(ctx, tx, projectID)
	if err != nil {
		return err
	}
	for _, s := range statuses {
		if s.InReview() {
			return ErrProjectUnderReview
		}
	}
	now := e.timestamp()
	if err := e.Repo.SoftDeleteProject(ctx, tx, projectID, actor.UserID, now); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.ProjectDeleted, projectID, "project", projectID, actor.UserID, nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.cleanupProjectFiles(ctx, projectID)
	return nil
}

func (e Engine) cleanupProjectFiles(ctx context.Context, projectID string) {
	if e.Files == nil {
		return
	}
	prefix := storage.ProjectPrefix(projectID)
	err := e.Files.DeletePrefix(ctx, prefix)
	if err == nil {
		return
	}
	e.logger().Printf("storage cleanup for project %s failed: %v", projectID, err)
	if evErr := e.events().Append(ctx, e.DB, events.StorageCleanupFailure, projectID, "project", projectID, "system", events.EventPayload{
		"prefix": prefix,
		"error":  err.Error(),
	}); evErr != nil {
		e.logger().Printf("record cleanup failure for project %s: %v", projectID, evErr)
	}
}
