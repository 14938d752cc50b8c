package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"memtech/internal/domain"
)

// LibraryFilter narrows ListLibraryItems. Empty fields are ignored.
type LibraryFilter struct {
	Category    string
	Tag         string
	Query       string
	FavoritesOf string
	ViewerID    string
	Limit       int
}

const libraryColumns = `i.id,i.category,i.title,i.content,i.tags_json,i.version,i.author_id,i.created_at,i.updated_at`

func scanLibraryItem(row rowScanner, withFavorite bool) (domain.LibraryItem, error) {
	var it domain.LibraryItem
	var tagsJSON string
	dest := []any{&it.ID, &it.Category, &it.Title, &it.Content, &tagsJSON, &it.Version, &it.AuthorID, &it.CreatedAt, &it.UpdatedAt}
	if withFavorite {
		dest = append(dest, &it.Favorite)
	}
	err := row.Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &it.Tags); err != nil {
		return it, fmt.Errorf("decode tags of %s: %w", it.ID, err)
	}
	if it.Tags == nil {
		it.Tags = []string{}
	}
	return it, nil
}

func (r Repo) InsertLibraryItem(ctx context.Context, tx *sql.Tx, it domain.LibraryItem) error {
	tags, err := json.Marshal(nonNil(it.Tags))
	if err != nil {
		return err
	}
	_, err = r.on(tx).ExecContext(ctx, `INSERT INTO library_items(id,category,title,content,tags_json,version,author_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		it.ID, it.Category, it.Title, it.Content, string(tags), it.Version, it.AuthorID, it.CreatedAt, it.UpdatedAt)
	return err
}

// UpdateLibraryItem rewrites title, content and tags and bumps the version.
func (r Repo) UpdateLibraryItem(ctx context.Context, tx *sql.Tx, it domain.LibraryItem) error {
	tags, err := json.Marshal(nonNil(it.Tags))
	if err != nil {
		return err
	}
	return mustAffect(r.on(tx).ExecContext(ctx, `UPDATE library_items SET title=?, content=?, tags_json=?, version=version+1, updated_at=? WHERE id=?`,
		it.Title, it.Content, string(tags), it.UpdatedAt, it.ID))
}

func (r Repo) GetLibraryItem(ctx context.Context, tx *sql.Tx, id string) (domain.LibraryItem, error) {
	it, err := scanLibraryItem(r.on(tx).QueryRowContext(ctx, `SELECT `+libraryColumns+` FROM library_items i WHERE i.id=?`, id), false)
	if errors.Is(err, ErrNotFound) {
		return it, fmt.Errorf("library item %s: %w", id, ErrNotFound)
	}
	return it, err
}

func (r Repo) ListLibraryItems(ctx context.Context, f LibraryFilter) ([]domain.LibraryItem, error) {
	var (
		where []string
		args  []any
	)
	args = append(args, f.ViewerID)
	if f.Category != "" {
		where = append(where, "i.category=?")
		args = append(args, f.Category)
	}
	if f.Tag != "" {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(i.tags_json) WHERE json_each.value=?)")
		args = append(args, f.Tag)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		where = append(where, "(i.title LIKE ? OR i.content LIKE ?)")
		like := "%" + q + "%"
		args = append(args, like, like)
	}
	if f.FavoritesOf != "" {
		where = append(where, "EXISTS (SELECT 1 FROM library_favorites lf WHERE lf.item_id=i.id AND lf.user_id=?)")
		args = append(args, f.FavoritesOf)
	}
	query := `SELECT ` + libraryColumns + `, EXISTS (SELECT 1 FROM library_favorites f WHERE f.item_id=i.id AND f.user_id=?) FROM library_items i`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += ` ORDER BY i.updated_at DESC, i.id LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LibraryItem
	for rows.Next() {
		it, err := scanLibraryItem(rows, true)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

func (r Repo) SetFavorite(ctx context.Context, userID, itemID string, favorite bool, now string) error {
	if favorite {
		_, err := r.DB.ExecContext(ctx, `INSERT INTO library_favorites(user_id,item_id,created_at) VALUES (?,?,?) ON CONFLICT(user_id,item_id) DO NOTHING`, userID, itemID, now)
		return err
	}
	_, err := r.DB.ExecContext(ctx, `DELETE FROM library_favorites WHERE user_id=? AND item_id=?`, userID, itemID)
	return err
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
