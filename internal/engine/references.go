package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"

	"memtech/internal/domain"
	"memtech/internal/engine/auth"
	"memtech/internal/events"
	"memtech/internal/outline"
	"memtech/internal/repo"
	"memtech/internal/storage"
)

// OutlineAnalysis pairs the stored analysis with its decoded outline.
type OutlineAnalysis struct {
	Analysis domain.RCAnalysis `json:"analysis"`
	Result   outline.Result    `json:"result"`
}

func (e Engine) files() (storage.Store, error) {
	if e.Files == nil {
		return nil, ErrStorageUnavailable
	}
	return e.Files, nil
}

func cleanFilename(name string) (string, error) {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "" || name == "." || name == "/" || name == ".." {
		return "", invalid("filename is required")
	}
	return name, nil
}

// UploadReference stores an RC or CCTP file under projects/<id>/reference/<kind>/.
func (e Engine) UploadReference(ctx context.Context, projectID, kind, filename string, r io.Reader, size int64, actor auth.Actor) (domain.ReferenceDocument, error) {
	if err := auth.RequireAuthenticated(actor); err != nil {
		return domain.ReferenceDocument{}, err
	}
	kind = strings.ToUpper(strings.TrimSpace(kind))
	if kind != "RC" && kind != "CCTP" {
		return domain.ReferenceDocument{}, invalid("reference kind must be RC or CCTP")
	}
	name, err := cleanFilename(filename)
	if err != nil {
		return domain.ReferenceDocument{}, err
	}
	files, err := e.files()
	if err != nil {
		return domain.ReferenceDocument{}, err
	}
	if _, err := e.Repo.GetProject(ctx, nil, projectID); err != nil {
		return domain.ReferenceDocument{}, err
	}
	doc := domain.ReferenceDocument{
		ID:         uuid.NewString(),
		ProjectID:  projectID,
		Kind:       kind,
		Filename:   name,
		UploadedBy: actor.UserID,
		CreatedAt:  e.timestamp(),
	}
	doc.FilePath = storage.ProjectKey(projectID, "reference", strings.ToLower(kind), doc.ID+"_"+name)
	if err := files.Put(ctx, doc.FilePath, r, size, contentTypeFor(name)); err != nil {
		return domain.ReferenceDocument{}, fmt.Errorf("store reference file: %w", err)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ReferenceDocument{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertReferenceDocument(ctx, tx, doc); err != nil {
		return domain.ReferenceDocument{}, err
	}
	if err := e.events().Append(ctx, tx, events.ReferenceUploaded, projectID, "reference_document", doc.ID, actor.UserID, events.EventPayload{
		"kind":     kind,
		"filename": name,
	}); err != nil {
		return domain.ReferenceDocument{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ReferenceDocument{}, err
	}
	return doc, nil
}

func (e Engine) ListReferences(ctx context.Context, projectID string) ([]domain.ReferenceDocument, error) {
	if _, err := e.Repo.GetProject(ctx, nil, projectID); err != nil {
		return nil, err
	}
	return e.Repo.ListReferenceDocuments(ctx, projectID)
}

// AnalyzeReference extracts the text of a stored reference file, asks the analyzer for
// an outline and stores the result against the project.
func (e Engine) AnalyzeReference(ctx context.Context, referenceID string, actor auth.Actor) (OutlineAnalysis, error) {
	if err := auth.RequireAuthenticated(actor); err != nil {
		return OutlineAnalysis{}, err
	}
	ref, err := e.Repo.GetReferenceDocument(ctx, referenceID)
	if err != nil {
		return OutlineAnalysis{}, err
	}
	if _, err := e.Repo.GetProject(ctx, nil, ref.ProjectID); err != nil {
		return OutlineAnalysis{}, err
	}
	files, err := e.files()
	if err != nil {
		return OutlineAnalysis{}, err
	}
	rc, err := files.Get(ctx, ref.FilePath)
	if err != nil {
		return OutlineAnalysis{}, fmt.Errorf("open reference file: %w", err)
	}
	text, err := outline.ExtractTextFrom(rc)
	rc.Close()
	if err != nil {
		return OutlineAnalysis{}, invalid("%v", err)
	}
	res, err := e.Analyzer.Analyze(ctx, text)
	if err != nil {
		if errors.Is(err, outline.ErrEmptyText) {
			return OutlineAnalysis{}, invalid("reference %s contains no text", ref.ID)
		}
		return OutlineAnalysis{}, err
	}
	return e.storeAnalysis(ctx, ref.ProjectID, ref.ID, res, actor)
}

// AnalyzeText runs the analyzer on text supplied directly by the caller.
func (e Engine) AnalyzeText(ctx context.Context, projectID, text string, actor auth.Actor) (OutlineAnalysis, error) {
	if err := auth.RequireAuthenticated(actor); err != nil {
		return OutlineAnalysis{}, err
	}
	if _, err := e.Repo.GetProject(ctx, nil, projectID); err != nil {
		return OutlineAnalysis{}, err
	}
	res, err := e.Analyzer.Analyze(ctx, text)
	if err != nil {
		if errors.Is(err, outline.ErrEmptyText) {
			return OutlineAnalysis{}, invalid("text is required")
		}
		return OutlineAnalysis{}, err
	}
	return e.storeAnalysis(ctx, projectID, "", res, actor)
}

func (e Engine) storeAnalysis(ctx context.Context, projectID, referenceID string, res outline.Result, actor auth.Actor) (OutlineAnalysis, error) {
	data, err := json.Marshal(res.Outline)
	if err != nil {
		return OutlineAnalysis{}, err
	}
	a := domain.RCAnalysis{
		ID:                  uuid.NewString(),
		ProjectID:           projectID,
		ReferenceDocumentID: referenceID,
		OutlineJSON:         string(data),
		CreatedBy:           actor.UserID,
		CreatedAt:           e.timestamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return OutlineAnalysis{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRCAnalysis(ctx, tx, a); err != nil {
		return OutlineAnalysis{}, err
	}
	if err := e.events().Append(ctx, tx, events.OutlineGenerated, projectID, "rc_analysis", a.ID, actor.UserID, events.EventPayload{
		"source":   res.Source,
		"chapters": len(res.Outline.Chapters),
	}); err != nil {
		return OutlineAnalysis{}, err
	}
	if err := tx.Commit(); err != nil {
		return OutlineAnalysis{}, err
	}
	return OutlineAnalysis{Analysis: a, Result: res}, nil
}

// LatestOutline returns the most recent analysis of a project.
func (e Engine) LatestOutline(ctx context.Context, projectID string) (OutlineAnalysis, error) {
	a, err := e.Repo.LatestRCAnalysis(ctx, projectID)
	if err != nil {
		return OutlineAnalysis{}, err
	}
	var o outline.Outline
	if err := json.Unmarshal([]byte(a.OutlineJSON), &o); err != nil {
		return OutlineAnalysis{}, fmt.Errorf("decode outline %s: %w", a.ID, err)
	}
	return OutlineAnalysis{Analysis: a, Result: outline.Result{Outline: o}}, nil
}

// AttachOutline writes the latest project outline into a document's content.
func (e Engine) AttachOutline(ctx context.Context, documentID string, actor auth.Actor) (domain.ProjectDocument, error) {
	d, err := e.Repo.GetDocument(ctx, nil, documentID)
	if err != nil {
		return domain.ProjectDocument{}, err
	}
	latest, err := e.LatestOutline(ctx, d.ProjectID)
	if err != nil {
		return domain.ProjectDocument{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProjectDocument{}, err
	}
	defer tx.Rollback()
	rendered := outline.Render(latest.Result.Outline)
	d, err = e.updateContentTx(ctx, tx, documentID, actor, func(current string) string {
		return appendBlock(current, rendered)
	})
	if err != nil {
		return domain.ProjectDocument{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProjectDocument{}, err
	}
	return d, nil
}

// MemoKey is the storage name of the edited file of a document.
func MemoKey(projectID, documentID string) string {
	return storage.ProjectKey(projectID, "memoires", "memoire_"+projectID+"_"+documentID+".docx")
}

// SaveDocumentFile stores a new revision of the edited file of a document. The same
// rules as UpdateContent apply.
func (e Engine) SaveDocumentFile(ctx context.Context, documentID string, r io.Reader, size int64, actor auth.Actor) (string, error) {
	if err := auth.Require(actor, auth.EditDocument); err != nil {
		return "", err
	}
	files, err := e.files()
	if err != nil {
		return "", err
	}
	d, err := e.Repo.GetDocument(ctx, nil, documentID)
	if err != nil {
		return "", err
	}
	if err := checkEditable(d, actor); err != nil {
		return "", err
	}
	key := MemoKey(d.ProjectID, d.ID)
	if err := files.Put(ctx, key, r, size, docxContentType); err != nil {
		return "", fmt.Errorf("store document file: %w", err)
	}
	if err := e.events().Append(ctx, e.DB, events.DocumentFileSaved, d.ProjectID, "document", d.ID, actor.UserID, events.EventPayload{
		"key": key,
	}); err != nil {
		return "", err
	}
	return key, nil
}

// SaveEditedFile stores a file coming back from the document editor on behalf of the
// user who edited it. Unknown or inactive editors are refused.
func (e Engine) SaveEditedFile(ctx context.Context, documentID, editorID string, r io.Reader, size int64) (string, error) {
	if _, err := e.Repo.GetDocument(ctx, nil, documentID); err != nil {
		return "", err
	}
	if strings.TrimSpace(editorID) == "" {
		return "", auth.ForbiddenError{Permission: string(auth.EditDocument)}
	}
	u, err := e.Repo.GetUser(ctx, nil, editorID)
	if errors.Is(err, repo.ErrNotFound) {
		return "", auth.ForbiddenError{Permission: string(auth.EditDocument)}
	}
	if err != nil {
		return "", err
	}
	if !u.IsActive {
		return "", auth.ForbiddenError{Permission: string(auth.EditDocument)}
	}
	return e.SaveDocumentFile(ctx, documentID, r, size, auth.Actor{UserID: u.ID, Role: u.Role})
}

// OpenDocumentFile returns the edited file of a document.
func (e Engine) OpenDocumentFile(ctx context.Context, documentID string) (io.ReadCloser, error) {
	files, err := e.files()
	if err != nil {
		return nil, err
	}
	d, err := e.Repo.GetDocument(ctx, nil, documentID)
	if err != nil {
		return nil, err
	}
	return files.Get(ctx, MemoKey(d.ProjectID, d.ID))
}

const docxContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

func contentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return docxContentType
	case ".txt", ".md":
		return "text/plain; charset=utf-8"
	}
	return "application/octet-stream"
}
