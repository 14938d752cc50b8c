package engine

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	"memtech/internal/domain"
	"memtech/internal/engine/auth"
	"memtech/internal/events"
)

// DocumentHistory is the audit trail of one document.
type DocumentHistory struct {
	Document domain.ProjectDocument      `json:"document"`
	History  []domain.StatusHistoryEntry `json:"history"`
	Comments []domain.DocumentComment    `json:"comments"`
}

func (e Engine) GetDocument(ctx context.Context, id string) (domain.ProjectDocument, error) {
	return e.Repo.GetDocument(ctx, nil, id)
}

// Transition moves a document to a new workflow state. Every effect (history entry,
// status, completion, review cycle, project aggregate, event) commits together or not
// at all.
func (e Engine) Transition(ctx context.Context, documentID, rawStatus string, actor auth.Actor) (domain.ProjectDocument, error) {
	target, err := domain.ParseDocumentStatus(rawStatus)
	if err != nil {
		return domain.ProjectDocument{}, err
	}
	if err := auth.Require(actor, auth.CapabilityForStatus(target)); err != nil {
		return domain.ProjectDocument{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProjectDocument{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDocument(ctx, tx, documentID)
	if err != nil {
		return domain.ProjectDocument{}, err
	}
	if d.Status == domain.StatusApproved && !actor.IsAdmin() {
		return domain.ProjectDocument{}, ErrTerminalState
	}
	if err := checkAssignment(d, target, actor); err != nil {
		return domain.ProjectDocument{}, err
	}

	from := d.Status
	now := e.timestamp()
	if _, err := e.Repo.AppendStatusHistory(ctx, tx, domain.StatusHistoryEntry{
		DocumentID: d.ID,
		FromStatus: from,
		ToStatus:   target,
		UserID:     actor.UserID,
		CreatedAt:  now,
	}); err != nil {
		return domain.ProjectDocument{}, err
	}
	if from == domain.StatusCorrection && target.InReview() {
		d.ReviewCycle++
	}
	d.Status = target
	d.CompletionPercentage = domain.CompletionPercentage(target)
	d.UpdatedAt = now
	if err := e.Repo.UpdateDocumentStatus(ctx, tx, d, from); err != nil {
		return domain.ProjectDocument{}, err
	}
	if _, err := e.recomputeTx(ctx, tx, d.ProjectID, actor.UserID); err != nil {
		return domain.ProjectDocument{}, err
	}
	if err := e.events().Append(ctx, tx, events.DocumentTransitioned, d.ProjectID, "document", d.ID, actor.UserID, events.EventPayload{
		"from_status":  from,
		"to_status":    target,
		"review_cycle": d.ReviewCycle,
	}); err != nil {
		return domain.ProjectDocument{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProjectDocument{}, err
	}
	return d, nil
}

// checkAssignment is the single place where missing writer or reviewer assignments
// block a step. Administrators are exempt.
func checkAssignment(d domain.ProjectDocument, target domain.DocumentStatus, actor auth.Actor) error {
	if actor.IsAdmin() {
		return nil
	}
	switch {
	case target.InReview() && d.ReviewerID == nil:
		return MissingAssignmentError{DocumentID: d.ID, Role: "reviewer"}
	case target == domain.StatusCorrection && d.WriterID == nil:
		return MissingAssignmentError{DocumentID: d.ID, Role: "writer"}
	}
	return nil
}

// AddComment records a review remark. Any authenticated user may comment; a remark
// that requires correction flags the document until an explicit decision clears it.
func (e Engine) AddComment(ctx context.Context, documentID, content string, requiresCorrection bool, actor auth.Actor) (domain.DocumentComment, error) {
	if err := auth.RequireAuthenticated(actor); err != nil {
		return domain.DocumentComment{}, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.DocumentComment{}, invalid("comment content is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.DocumentComment{}, err
	}
	defer tx.Rollback()
	d, err := e.Repo.GetDocument(ctx, tx, documentID)
	if err != nil {
		return domain.DocumentComment{}, err
	}
	now := e.timestamp()
	c := domain.DocumentComment{
		ID:                 uuid.NewString(),
		DocumentID:         d.ID,
		AuthorID:           actor.UserID,
		Content:            content,
		ReviewCycle:        d.ReviewCycle,
		RequiresCorrection: requiresCorrection,
		CreatedAt:          now,
	}
	if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
		return domain.DocumentComment{}, err
	}
	if requiresCorrection {
		if err := e.Repo.MarkNeedsCorrection(ctx, tx, d.ID, now); err != nil {
			return domain.DocumentComment{}, err
		}
	}
	if err := e.events().Append(ctx, tx, events.CommentAdded, d.ProjectID, "comment", c.ID, actor.UserID, events.EventPayload{
		"document_id":         d.ID,
		"requires_correction": requiresCorrection,
		"review_cycle":        c.ReviewCycle,
	}); err != nil {
		return domain.DocumentComment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.DocumentComment{}, err
	}
	return c, nil
}

// ResolveComment marks a comment resolved. Resolving twice returns the comment unchanged.
// The document's needs_correction flag is left as is.
func (e Engine) ResolveComment(ctx context.Context, commentID string, actor auth.Actor) (domain.DocumentComment, error) {
	if err := auth.RequireAuthenticated(actor); err != nil {
		return domain.DocumentComment{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.DocumentComment{}, err
	}
	defer tx.Rollback()
	c, err := e.Repo.GetComment(ctx, tx, commentID)
	if err != nil {
		return domain.DocumentComment{}, err
	}
	d, err := e.Repo.GetDocument(ctx, tx, c.DocumentID)
	if err != nil {
		return domain.DocumentComment{}, err
	}
	if c.Resolved {
		return c, nil
	}
	now := e.timestamp()
	if err := e.Repo.ResolveComment(ctx, tx, c.ID, actor.UserID, now); err != nil {
		return domain.DocumentComment{}, err
	}
	if err := e.events().Append(ctx, tx, events.CommentResolved, d.ProjectID, "comment", c.ID, actor.UserID, events.EventPayload{
		"document_id": d.ID,
	}); err != nil {
		return domain.DocumentComment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.DocumentComment{}, err
	}
	c.Resolved = true
	c.ResolvedBy = &actor.UserID
	c.ResolvedAt = &now
	return c, nil
}

// AssignRoles sets the writer and reviewer of a document. A nil id clears the slot.
func (e Engine) AssignRoles(ctx context.Context, documentID string, writerID, reviewerID *string, actor auth.Actor) (domain.ProjectDocument, error) {
	if err := auth.Require(actor, auth.AssignRoles); err != nil {
		return domain.ProjectDocument{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProjectDocument{}, err
	}
	defer tx.Rollback()
	d, err := e.Repo.GetDocument(ctx, tx, documentID)
	if err != nil {
		return domain.ProjectDocument{}, err
	}
	writerID = blankToNil(writerID)
	reviewerID = blankToNil(reviewerID)
	if err := e.checkAssignee(ctx, tx, writerID, domain.RoleWriter); err != nil {
		return domain.ProjectDocument{}, err
	}
	if err := e.checkAssignee(ctx, tx, reviewerID, domain.RoleReviewer); err != nil {
		return domain.ProjectDocument{}, err
	}
	now := e.timestamp()
	if err := e.Repo.UpdateDocumentAssignment(ctx, tx, d.ID, writerID, reviewerID, now); err != nil {
		return domain.ProjectDocument{}, err
	}
	if err := e.events().Append(ctx, tx, events.DocumentAssigned, d.ProjectID, "document", d.ID, actor.UserID, events.EventPayload{
		"writer_id":   writerID,
		"reviewer_id": reviewerID,
	}); err != nil {
		return domain.ProjectDocument{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProjectDocument{}, err
	}
	d.WriterID = writerID
	d.ReviewerID = reviewerID
	d.UpdatedAt = now
	return d, nil
}

func (e Engine) checkAssignee(ctx context.Context, tx *sql.Tx, userID *string, role domain.Role) error {
	if userID == nil {
		return nil
	}
	u, err := e.Repo.GetUser(ctx, tx, *userID)
	if err != nil {
		return err
	}
	if !u.IsActive {
		return invalid("user %s is inactive", u.ID)
	}
	if u.Role != role && u.Role != domain.RoleAdmin {
		return invalid("user %s has role %s, %s or %s required", u.ID, u.Role, role, domain.RoleAdmin)
	}
	return nil
}

func blankToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

// UpdateContent replaces the document body.
func (e Engine) UpdateContent(ctx context.Context, documentID, content string, actor auth.Actor) (domain.ProjectDocument, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProjectDocument{}, err
	}
	defer tx.Rollback()
	d, err := e.updateContentTx(ctx, tx, documentID, actor, func(string) string { return content })
	if err != nil {
		return domain.ProjectDocument{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProjectDocument{}, err
	}
	return d, nil
}

func (e Engine) updateContentTx(ctx context.Context, tx *sql.Tx, documentID string, actor auth.Actor, edit func(current string) string) (domain.ProjectDocument, error) {
	if err := auth.Require(actor, auth.EditDocument); err != nil {
		return domain.ProjectDocument{}, err
	}
	d, err := e.Repo.GetDocument(ctx, tx, documentID)
	if err != nil {
		return domain.ProjectDocument{}, err
	}
	if err := checkEditable(d, actor); err != nil {
		return domain.ProjectDocument{}, err
	}
	now := e.timestamp()
	d.Content = edit(d.Content)
	d.UpdatedAt = now
	if err := e.Repo.UpdateDocumentContent(ctx, tx, d.ID, d.Content, now); err != nil {
		return domain.ProjectDocument{}, err
	}
	if err := e.events().Append(ctx, tx, events.DocumentContentSaved, d.ProjectID, "document", d.ID, actor.UserID, events.EventPayload{
		"length": len(d.Content),
	}); err != nil {
		return domain.ProjectDocument{}, err
	}
	return d, nil
}

// checkEditable guards every write to a document body, whether text or file.
func checkEditable(d domain.ProjectDocument, actor auth.Actor) error {
	if d.Status == domain.StatusApproved && !actor.IsAdmin() {
		return ErrTerminalState
	}
	if actor.Role == domain.RoleWriter && d.WriterID != nil && *d.WriterID != actor.UserID {
		return auth.ForbiddenError{Permission: "ASSIGNED_WRITER"}
	}
	return nil
}

// History returns the status trail and comments of a document.
func (e Engine) History(ctx context.Context, documentID string, actor auth.Actor) (DocumentHistory, error) {
	if err := auth.Require(actor, auth.ViewHistory); err != nil {
		return DocumentHistory{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return DocumentHistory{}, err
	}
	defer tx.Rollback()
	d, err := e.Repo.GetDocument(ctx, tx, documentID)
	if err != nil {
		return DocumentHistory{}, err
	}
	history, err := e.Repo.ListStatusHistory(ctx, tx, d.ID)
	if err != nil {
		return DocumentHistory{}, err
	}
	comments, err := e.Repo.ListComments(ctx, tx, d.ID)
	if err != nil {
		return DocumentHistory{}, err
	}
	if history == nil {
		history = []domain.StatusHistoryEntry{}
	}
	if comments == nil {
		comments = []domain.DocumentComment{}
	}
	return DocumentHistory{Document: d, History: history, Comments: comments}, nil
}
