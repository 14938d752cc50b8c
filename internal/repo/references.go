package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"memtech/internal/domain"
)

func (r Repo) InsertReferenceDocument(ctx context.Context, tx *sql.Tx, d domain.ReferenceDocument) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO reference_documents(id,project_id,kind,filename,file_path,uploaded_by,created_at) VALUES (?,?,?,?,?,?,?)`,
		d.ID, d.ProjectID, d.Kind, d.Filename, d.FilePath, d.UploadedBy, d.CreatedAt)
	return err
}

func (r Repo) GetReferenceDocument(ctx context.Context, id string) (domain.ReferenceDocument, error) {
	var d domain.ReferenceDocument
	err := r.DB.QueryRowContext(ctx, `SELECT id,project_id,kind,filename,file_path,uploaded_by,created_at FROM reference_documents WHERE id=?`, id).
		Scan(&d.ID, &d.ProjectID, &d.Kind, &d.Filename, &d.FilePath, &d.UploadedBy, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return d, fmt.Errorf("reference document %s: %w", id, ErrNotFound)
	}
	return d, err
}

func (r Repo) ListReferenceDocuments(ctx context.Context, projectID string) ([]domain.ReferenceDocument, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,kind,filename,file_path,uploaded_by,created_at FROM reference_documents WHERE project_id=? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ReferenceDocument
	for rows.Next() {
		var d domain.ReferenceDocument
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Kind, &d.Filename, &d.FilePath, &d.UploadedBy, &d.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) InsertRCAnalysis(ctx context.Context, tx *sql.Tx, a domain.RCAnalysis) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO rc_analyses(id,project_id,reference_document_id,outline_json,created_by,created_at) VALUES (?,?,?,?,?,?)`,
		a.ID, a.ProjectID, nullable(a.ReferenceDocumentID), a.OutlineJSON, a.CreatedBy, a.CreatedAt)
	return err
}

// LatestRCAnalysis returns the most recent outline stored for a project.
func (r Repo) LatestRCAnalysis(ctx context.Context, projectID string) (domain.RCAnalysis, error) {
	var a domain.RCAnalysis
	err := r.DB.QueryRowContext(ctx, `SELECT id,project_id,COALESCE(reference_document_id,''),outline_json,created_by,created_at
FROM rc_analyses WHERE project_id=? ORDER BY rowid DESC LIMIT 1`, projectID).
		Scan(&a.ID, &a.ProjectID, &a.ReferenceDocumentID, &a.OutlineJSON, &a.CreatedBy, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return a, fmt.Errorf("rc analysis for project %s: %w", projectID, ErrNotFound)
	}
	return a, err
}
