package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"memtech/internal/domain"
)

const userColumns = `id,email,COALESCE(first_name,''),COALESCE(last_name,''),role,COALESCE(phone,''),COALESCE(department,''),password_hash,is_superuser,is_active,created_at`

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Role, &u.Phone, &u.Department, &u.PasswordHash, &u.IsSuperuser, &u.IsActive, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO users(id,email,first_name,last_name,role,phone,department,password_hash,is_superuser,is_active,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		u.ID, u.Email, nullable(u.FirstName), nullable(u.LastName), string(u.Role), nullable(u.Phone), nullable(u.Department),
		u.PasswordHash, boolInt(u.IsSuperuser), boolInt(u.IsActive), u.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("user %s: %w", u.Email, ErrDuplicate)
	}
	return err
}

func (r Repo) GetUser(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	u, err := scanUser(r.on(tx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
	if errors.Is(err, ErrNotFound) {
		return u, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return u, err
}

// GetUserByEmail expects an already normalized address.
func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	u, err := scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=?`, email))
	if errors.Is(err, ErrNotFound) {
		return u, fmt.Errorf("user %s: %w", email, ErrNotFound)
	}
	return u, err
}

func (r Repo) ListUsers(ctx context.Context, role domain.Role) ([]domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, string(role))
	}
	query += ` ORDER BY email`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) UpdateUserRole(ctx context.Context, tx *sql.Tx, id string, role domain.Role) error {
	return mustAffect(r.on(tx).ExecContext(ctx, `UPDATE users SET role=? WHERE id=?`, string(role), id))
}

func (r Repo) SetUserActive(ctx context.Context, tx *sql.Tx, id string, active bool) error {
	return mustAffect(r.on(tx).ExecContext(ctx, `UPDATE users SET is_active=? WHERE id=?`, boolInt(active), id))
}

func (r Repo) CountSuperusers(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE is_superuser=1`).Scan(&n)
	return n, err
}
