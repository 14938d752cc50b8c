package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"memtech/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// dbtx is the subset of *sql.DB and *sql.Tx the repo needs.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// on picks the transaction when one is given.
func (r Repo) on(tx *sql.Tx) dbtx {
	if tx != nil {
		return tx
	}
	return r.DB
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func mustAffect(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- document types ---

func (r Repo) UpsertDocumentType(ctx context.Context, tx *sql.Tx, dt domain.DocumentType) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO document_types(type,description,is_mandatory) VALUES (?,?,?)
ON CONFLICT(type) DO UPDATE SET description=excluded.description, is_mandatory=excluded.is_mandatory`,
		dt.Type, dt.Description, boolInt(dt.IsMandatory))
	return err
}

func (r Repo) ListDocumentTypes(ctx context.Context) ([]domain.DocumentType, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT type,description,is_mandatory FROM document_types ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DocumentType
	for rows.Next() {
		var dt domain.DocumentType
		if err := rows.Scan(&dt.Type, &dt.Description, &dt.IsMandatory); err != nil {
			return nil, err
		}
		res = append(res, dt)
	}
	return res, rows.Err()
}

func (r Repo) DocumentTypeExists(ctx context.Context, tx *sql.Tx, typ string) (bool, error) {
	var n int
	err := r.on(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM document_types WHERE type=?`, typ).Scan(&n)
	return n > 0, err
}

// --- organizations ---

func (r Repo) InsertOrganization(ctx context.Context, tx *sql.Tx, o domain.Organization) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO organizations(id,kind,name,address,logo_path,created_at) VALUES (?,?,?,?,?,?)`,
		o.ID, string(o.Kind), o.Name, nullable(o.Address), nullable(o.LogoPath), o.CreatedAt)
	return err
}

func (r Repo) GetOrganization(ctx context.Context, tx *sql.Tx, id string) (domain.Organization, error) {
	row := r.on(tx).QueryRowContext(ctx, `SELECT id,kind,name,COALESCE(address,''),COALESCE(logo_path,''),created_at FROM organizations WHERE id=?`, id)
	var o domain.Organization
	err := row.Scan(&o.ID, &o.Kind, &o.Name, &o.Address, &o.LogoPath, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return o, fmt.Errorf("organization %s: %w", id, ErrNotFound)
	}
	return o, err
}

func (r Repo) ListOrganizations(ctx context.Context, kind domain.OrganizationKind) ([]domain.Organization, error) {
	query := `SELECT id,kind,name,COALESCE(address,''),COALESCE(logo_path,''),created_at FROM organizations`
	var args []any
	if kind != "" {
		query += ` WHERE kind=?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY name`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Organization
	for rows.Next() {
		var o domain.Organization
		if err := rows.Scan(&o.ID, &o.Kind, &o.Name, &o.Address, &o.LogoPath, &o.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// --- projects ---

const projectColumns = `id,name,moe_id,moa_id,offer_delivery_date,status,created_by,created_at,updated_at,deleted_at,deleted_by`

func scanProject(row rowScanner) (domain.Project, error) {
	var p domain.Project
	var moe, moa, offer, deletedAt, deletedBy sql.NullString
	err := row.Scan(&p.ID, &p.Name, &moe, &moa, &offer, &p.Status, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt, &deletedAt, &deletedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.MOEID = stringPtr(moe)
	p.MOAID = stringPtr(moa)
	p.OfferDeliveryDate = stringPtr(offer)
	p.DeletedAt = stringPtr(deletedAt)
	p.DeletedBy = stringPtr(deletedBy)
	return p, nil
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO projects(id,name,moe_id,moa_id,offer_delivery_date,status,created_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, nullableStringPtr(p.MOEID), nullableStringPtr(p.MOAID), nullableStringPtr(p.OfferDeliveryDate),
		string(p.Status), p.CreatedBy, p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("project %s: %w", p.ID, ErrDuplicate)
	}
	return err
}

// GetProject returns a live (not soft-deleted) project.
func (r Repo) GetProject(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	p, err := scanProject(r.on(tx).QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=? AND deleted_at IS NULL`, id))
	if errors.Is(err, ErrNotFound) {
		return p, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return p, err
}

// GetProjectIncludingDeleted is used by audit views.
func (r Repo) GetProjectIncludingDeleted(ctx context.Context, id string) (domain.Project, error) {
	p, err := scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
	if errors.Is(err, ErrNotFound) {
		return p, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return p, err
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE deleted_at IS NULL ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdateProjectStatus(ctx context.Context, tx *sql.Tx, id string, status domain.ProjectStatus, updatedAt string) error {
	return mustAffect(r.on(tx).ExecContext(ctx, `UPDATE projects SET status=?, updated_at=? WHERE id=? AND deleted_at IS NULL`, string(status), updatedAt, id))
}

func (r Repo) SoftDeleteProject(ctx context.Context, tx *sql.Tx, id, deletedBy, deletedAt string) error {
	return mustAffect(r.on(tx).ExecContext(ctx, `UPDATE projects SET deleted_at=?, deleted_by=?, updated_at=? WHERE id=? AND deleted_at IS NULL`,
		deletedAt, deletedBy, deletedAt, id))
}

// --- events ---

// ListEvents returns the latest events, newest first, optionally scoped to a project.
func (r Repo) ListEvents(ctx context.Context, projectID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id,ts,type,COALESCE(project_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id=?`
		args = append(args, projectID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
