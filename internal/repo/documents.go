package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"memtech/internal/domain"
)

const documentColumns = `id,project_id,document_type,status,content,writer_id,reviewer_id,completion_percentage,review_cycle,needs_correction,created_at,updated_at`

func scanDocument(row rowScanner) (domain.ProjectDocument, error) {
	var d domain.ProjectDocument
	var writer, reviewer sql.NullString
	err := row.Scan(&d.ID, &d.ProjectID, &d.DocumentType, &d.Status, &d.Content, &writer, &reviewer,
		&d.CompletionPercentage, &d.ReviewCycle, &d.NeedsCorrection, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.WriterID = stringPtr(writer)
	d.ReviewerID = stringPtr(reviewer)
	return d, nil
}

func (r Repo) InsertDocument(ctx context.Context, tx *sql.Tx, d domain.ProjectDocument) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO project_documents(`+documentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.ProjectID, d.DocumentType, string(d.Status), d.Content, nullableStringPtr(d.WriterID), nullableStringPtr(d.ReviewerID),
		d.CompletionPercentage, d.ReviewCycle, boolInt(d.NeedsCorrection), d.CreatedAt, d.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("document %s for project %s: %w", d.DocumentType, d.ProjectID, ErrDuplicate)
	}
	return err
}

// GetDocument returns a document whose project has not been soft-deleted.
func (r Repo) GetDocument(ctx context.Context, tx *sql.Tx, id string) (domain.ProjectDocument, error) {
	d, err := scanDocument(r.on(tx).QueryRowContext(ctx, `SELECT d.`+prefixed("d.", documentColumns)+`
FROM project_documents d JOIN projects p ON p.id=d.project_id
WHERE d.id=? AND p.deleted_at IS NULL`, id))
	if errors.Is(err, ErrNotFound) {
		return d, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return d, err
}

func (r Repo) ListProjectDocuments(ctx context.Context, tx *sql.Tx, projectID string) ([]domain.ProjectDocument, error) {
	rows, err := r.on(tx).QueryContext(ctx, `SELECT `+documentColumns+` FROM project_documents WHERE project_id=? ORDER BY rowid`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProjectDocument
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// DocumentStatuses returns the statuses of every document linked to the project.
func (r Repo) DocumentStatuses(ctx context.Context, tx *sql.Tx, projectID string) ([]domain.DocumentStatus, error) {
	rows, err := r.on(tx).QueryContext(ctx, `SELECT status FROM project_documents WHERE project_id=?`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DocumentStatus
	for rows.Next() {
		var s domain.DocumentStatus
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// UpdateDocumentStatus writes the workflow fields of a document. The expected status acts
// as a compare-and-swap guard; a concurrent change yields ErrConflict.
func (r Repo) UpdateDocumentStatus(ctx context.Context, tx *sql.Tx, d domain.ProjectDocument, expected domain.DocumentStatus) error {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE project_documents
SET status=?, completion_percentage=?, review_cycle=?, updated_at=?
WHERE id=? AND status=?`,
		string(d.Status), d.CompletionPercentage, d.ReviewCycle, d.UpdatedAt, d.ID, string(expected))
	if err := mustAffect(res, err); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("document %s: %w", d.ID, ErrConflict)
		}
		return err
	}
	return nil
}

// ErrConflict reports a lost compare-and-swap.
var ErrConflict = errors.New("concurrent modification")

func (r Repo) UpdateDocumentContent(ctx context.Context, tx *sql.Tx, id, content, updatedAt string) error {
	return mustAffect(r.on(tx).ExecContext(ctx, `UPDATE project_documents SET content=?, updated_at=? WHERE id=?`, content, updatedAt, id))
}

func (r Repo) UpdateDocumentAssignment(ctx context.Context, tx *sql.Tx, id string, writerID, reviewerID *string, updatedAt string) error {
	return mustAffect(r.on(tx).ExecContext(ctx, `UPDATE project_documents SET writer_id=?, reviewer_id=?, updated_at=? WHERE id=?`,
		nullableStringPtr(writerID), nullableStringPtr(reviewerID), updatedAt, id))
}

func (r Repo) MarkNeedsCorrection(ctx context.Context, tx *sql.Tx, id, updatedAt string) error {
	return mustAffect(r.on(tx).ExecContext(ctx, `UPDATE project_documents SET needs_correction=1, updated_at=? WHERE id=?`, updatedAt, id))
}

// --- status history ---

func (r Repo) AppendStatusHistory(ctx context.Context, tx *sql.Tx, h domain.StatusHistoryEntry) (int64, error) {
	res, err := r.on(tx).ExecContext(ctx, `INSERT INTO document_status_history(document_id,from_status,to_status,user_id,created_at) VALUES (?,?,?,?,?)`,
		h.DocumentID, string(h.FromStatus), string(h.ToStatus), h.UserID, h.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) ListStatusHistory(ctx context.Context, tx *sql.Tx, documentID string) ([]domain.StatusHistoryEntry, error) {
	rows, err := r.on(tx).QueryContext(ctx, `SELECT id,document_id,from_status,to_status,user_id,created_at FROM document_status_history WHERE document_id=? ORDER BY id`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StatusHistoryEntry
	for rows.Next() {
		var h domain.StatusHistoryEntry
		if err := rows.Scan(&h.ID, &h.DocumentID, &h.FromStatus, &h.ToStatus, &h.UserID, &h.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

// --- comments ---

const commentColumns = `id,document_id,author_id,content,review_cycle,requires_correction,resolved,resolved_by,resolved_at,created_at`

func scanComment(row rowScanner) (domain.DocumentComment, error) {
	var c domain.DocumentComment
	var resolvedBy, resolvedAt sql.NullString
	err := row.Scan(&c.ID, &c.DocumentID, &c.AuthorID, &c.Content, &c.ReviewCycle, &c.RequiresCorrection, &c.Resolved, &resolvedBy, &resolvedAt, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.ResolvedBy = stringPtr(resolvedBy)
	c.ResolvedAt = stringPtr(resolvedAt)
	return c, nil
}

func (r Repo) InsertComment(ctx context.Context, tx *sql.Tx, c domain.DocumentComment) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO document_comments(`+commentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.DocumentID, c.AuthorID, c.Content, c.ReviewCycle, boolInt(c.RequiresCorrection), boolInt(c.Resolved),
		nullableStringPtr(c.ResolvedBy), nullableStringPtr(c.ResolvedAt), c.CreatedAt)
	return err
}

func (r Repo) GetComment(ctx context.Context, tx *sql.Tx, id string) (domain.DocumentComment, error) {
	c, err := scanComment(r.on(tx).QueryRowContext(ctx, `SELECT `+commentColumns+` FROM document_comments WHERE id=?`, id))
	if errors.Is(err, ErrNotFound) {
		return c, fmt.Errorf("comment %s: %w", id, ErrNotFound)
	}
	return c, err
}

func (r Repo) ResolveComment(ctx context.Context, tx *sql.Tx, id, resolvedBy, resolvedAt string) error {
	return mustAffect(r.on(tx).ExecContext(ctx, `UPDATE document_comments SET resolved=1, resolved_by=?, resolved_at=? WHERE id=? AND resolved=0`,
		resolvedBy, resolvedAt, id))
}

func (r Repo) ListComments(ctx context.Context, tx *sql.Tx, documentID string) ([]domain.DocumentComment, error) {
	rows, err := r.on(tx).QueryContext(ctx, `SELECT `+commentColumns+` FROM document_comments WHERE document_id=? ORDER BY rowid`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DocumentComment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func prefixed(prefix, columns string) string {
	out := make([]byte, 0, len(columns)*2)
	for i := 0; i < len(columns); i++ {
		out = append(out, columns[i])
		if columns[i] == ',' {
			out = append(out, prefix...)
		}
	}
	return string(out)
}
