package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"memtech/internal/domain"
	"memtech/internal/engine/auth"
	"memtech/internal/events"
	"memtech/internal/repo"
)

var LibraryCategories = []string{"texte", "tableau", "photo", "document_technique", "signalisation", "procedure", "fiche_technique"}

type LibraryItemInput struct {
	Category string
	Title    string
	Content  string
	Tags     []string
}

func validCategory(c string) bool {
	for _, known := range LibraryCategories {
		if c == known {
			return true
		}
	}
	return false
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := map[string]bool{}
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func (e Engine) CreateLibraryItem(ctx context.Context, in LibraryItemInput, actor auth.Actor) (domain.LibraryItem, error) {
	if err := auth.RequireAuthenticated(actor); err != nil {
		return domain.LibraryItem{}, err
	}
	if !validCategory(in.Category) {
		return domain.LibraryItem{}, invalid("category must be one of %s", strings.Join(LibraryCategories, ", "))
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.LibraryItem{}, invalid("title is required")
	}
	now := e.timestamp()
	it := domain.LibraryItem{
		ID:        uuid.NewString(),
		Category:  in.Category,
		Title:     title,
		Content:   in.Content,
		Tags:      cleanTags(in.Tags),
		Version:   1,
		AuthorID:  actor.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.LibraryItem{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertLibraryItem(ctx, tx, it); err != nil {
		return domain.LibraryItem{}, err
	}
	if err := e.events().Append(ctx, tx, events.LibraryItemCreated, "", "library_item", it.ID, actor.UserID, events.EventPayload{
		"category": it.Category,
		"title":    it.Title,
	}); err != nil {
		return domain.LibraryItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.LibraryItem{}, err
	}
	return it, nil
}

// UpdateLibraryItem rewrites an item and bumps its version. Only the author or an
// administrator may edit.
func (e Engine) UpdateLibraryItem(ctx context.Context, id string, in LibraryItemInput, actor auth.Actor) (domain.LibraryItem, error) {
	if err := auth.RequireAuthenticated(actor); err != nil {
		return domain.LibraryItem{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.LibraryItem{}, err
	}
	defer tx.Rollback()
	it, err := e.Repo.GetLibraryItem(ctx, tx, id)
	if err != nil {
		return domain.LibraryItem{}, err
	}
	if it.AuthorID != actor.UserID && !actor.IsAdmin() {
		return domain.LibraryItem{}, auth.ForbiddenError{Permission: "LIBRARY_AUTHOR"}
	}
	if t := strings.TrimSpace(in.Title); t != "" {
		it.Title = t
	}
	if in.Content != "" {
		it.Content = in.Content
	}
	if in.Tags != nil {
		it.Tags = cleanTags(in.Tags)
	}
	it.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateLibraryItem(ctx, tx, it); err != nil {
		return domain.LibraryItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.LibraryItem{}, err
	}
	it.Version++
	return it, nil
}

func (e Engine) ListLibraryItems(ctx context.Context, f repo.LibraryFilter, actor auth.Actor) ([]domain.LibraryItem, error) {
	if err := auth.RequireAuthenticated(actor); err != nil {
		return nil, err
	}
	if f.Category != "" && !validCategory(f.Category) {
		return nil, invalid("unknown category %s", f.Category)
	}
	f.Tag = strings.ToLower(strings.TrimSpace(f.Tag))
	f.ViewerID = actor.UserID
	items, err := e.Repo.ListLibraryItems(ctx, f)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.LibraryItem{}
	}
	return items, nil
}

func (e Engine) SetFavorite(ctx context.Context, itemID string, favorite bool, actor auth.Actor) error {
	if err := auth.RequireAuthenticated(actor); err != nil {
		return err
	}
	if _, err := e.Repo.GetLibraryItem(ctx, nil, itemID); err != nil {
		return err
	}
	return e.Repo.SetFavorite(ctx, actor.UserID, itemID, favorite, e.timestamp())
}

// InsertLibraryItem appends a library item's content to a document body.
func (e Engine) InsertLibraryItem(ctx context.Context, documentID, itemID string, actor auth.Actor) (domain.ProjectDocument, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProjectDocument{}, err
	}
	defer tx.Rollback()
	it, err := e.Repo.GetLibraryItem(ctx, tx, itemID)
	if err != nil {
		return domain.ProjectDocument{}, err
	}
	d, err := e.updateContentTx(ctx, tx, documentID, actor, func(current string) string {
		return appendBlock(current, it.Content)
	})
	if err != nil {
		return domain.ProjectDocument{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProjectDocument{}, err
	}
	return d, nil
}

func appendBlock(current, block string) string {
	if strings.TrimSpace(current) == "" {
		return block
	}
	return strings.TrimRight(current, "\n") + "\n\n" + block
}
