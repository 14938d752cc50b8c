package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"memtech/internal/config"
	"memtech/internal/domain"
	"memtech/internal/engine/auth"
	"memtech/internal/events"
	"memtech/internal/repo"
)

// unusablePassword never matches a bcrypt comparison.
const unusablePassword = "!"

var passwordCost = bcrypt.DefaultCost

type UserOptions struct {
	FirstName   string
	LastName    string
	Role        domain.Role
	Phone       string
	Department  string
	IsSuperuser bool
}

// NormalizeEmail trims the address and lower-cases its domain part.
func NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	return email[:at] + "@" + strings.ToLower(email[at+1:])
}

// NewUser builds a user record. An empty password yields an account that cannot log in.
func NewUser(email, password string, opts UserOptions, now time.Time) (domain.User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return domain.User{}, invalid("email is required")
	}
	if at := strings.LastIndex(email, "@"); at <= 0 || at == len(email)-1 {
		return domain.User{}, invalid("email %q is not valid", email)
	}
	if !opts.Role.Valid() {
		return domain.User{}, invalid("role must be one of ADMIN, WRITER, REVIEWER")
	}
	hash := unusablePassword
	if password != "" {
		b, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
		if err != nil {
			return domain.User{}, fmt.Errorf("hash password: %w", err)
		}
		hash = string(b)
	}
	return domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		FirstName:    strings.TrimSpace(opts.FirstName),
		LastName:     strings.TrimSpace(opts.LastName),
		Role:         opts.Role,
		Phone:        strings.TrimSpace(opts.Phone),
		Department:   strings.TrimSpace(opts.Department),
		PasswordHash: hash,
		IsSuperuser:  opts.IsSuperuser,
		IsActive:     true,
		CreatedAt:    now.UTC().Format(time.RFC3339),
	}, nil
}

// NewSuperuser fills the administrator defaults before delegating to NewUser.
func NewSuperuser(email, password string, opts UserOptions, now time.Time) (domain.User, error) {
	if opts.Role == "" {
		opts.Role = domain.RoleAdmin
	}
	if opts.Role != domain.RoleAdmin {
		return domain.User{}, invalid("superuser must have role ADMIN")
	}
	if opts.FirstName == "" {
		opts.FirstName = "Admin"
	}
	if opts.LastName == "" {
		opts.LastName = "System"
	}
	opts.IsSuperuser = true
	return NewUser(email, password, opts, now)
}

// CreateUser stores a new account. Only administrators may create accounts.
func (e Engine) CreateUser(ctx context.Context, email, password string, opts UserOptions, actor auth.Actor) (domain.User, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.User{}, err
	}
	u, err := NewUser(email, password, opts, e.now())
	if err != nil {
		return domain.User{}, err
	}
	return e.insertUser(ctx, u, actor.UserID)
}

// CreateSuperuser bootstraps an administrator from the command line.
func (e Engine) CreateSuperuser(ctx context.Context, email, password string, opts UserOptions) (domain.User, error) {
	u, err := NewSuperuser(email, password, opts, e.now())
	if err != nil {
		return domain.User{}, err
	}
	return e.insertUser(ctx, u, "system")
}

func (e Engine) insertUser(ctx context.Context, u domain.User, actorID string) (domain.User, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
		return domain.User{}, err
	}
	if err := e.events().Append(ctx, tx, events.UserCreated, "", "user", u.ID, actorID, events.EventPayload{
		"email":        u.Email,
		"role":         u.Role,
		"is_superuser": u.IsSuperuser,
	}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// Authenticate checks an email/password pair. Unknown emails and wrong passwords
// return the same error.
func (e Engine) Authenticate(ctx context.Context, email, password string) (domain.User, error) {
	u, err := e.Repo.GetUserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, err
	}
	if !u.IsActive || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	return u, nil
}

// UserAccess changes what an account may do. Nil fields are left as they are.
type UserAccess struct {
	Role     *domain.Role
	IsActive *bool
}

// UpdateUserAccess changes the role or the active flag of an account. Administrators
// cannot deactivate or demote themselves.
func (e Engine) UpdateUserAccess(ctx context.Context, userID string, access UserAccess, actor auth.Actor) (domain.User, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.User{}, err
	}
	if access.Role != nil && !access.Role.Valid() {
		return domain.User{}, invalid("unknown role %s", *access.Role)
	}
	if userID == actor.UserID && ((access.Role != nil && *access.Role != domain.RoleAdmin) || (access.IsActive != nil && !*access.IsActive)) {
		return domain.User{}, invalid("administrators cannot demote or deactivate themselves")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	u, err := e.Repo.GetUser(ctx, tx, userID)
	if err != nil {
		return domain.User{}, err
	}
	payload := events.EventPayload{}
	if access.Role != nil && *access.Role != u.Role {
		if err := e.Repo.UpdateUserRole(ctx, tx, u.ID, *access.Role); err != nil {
			return domain.User{}, err
		}
		payload["role"] = *access.Role
		u.Role = *access.Role
	}
	if access.IsActive != nil && *access.IsActive != u.IsActive {
		if err := e.Repo.SetUserActive(ctx, tx, u.ID, *access.IsActive); err != nil {
			return domain.User{}, err
		}
		payload["is_active"] = *access.IsActive
		u.IsActive = *access.IsActive
	}
	if len(payload) == 0 {
		return u, nil
	}
	if err := e.events().Append(ctx, tx, events.UserUpdated, "", "user", u.ID, actor.UserID, payload); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (e Engine) GetUser(ctx context.Context, id string) (domain.User, error) {
	return e.Repo.GetUser(ctx, nil, id)
}

func (e Engine) ListUsers(ctx context.Context, role domain.Role) ([]domain.User, error) {
	if role != "" && !role.Valid() {
		return nil, invalid("unknown role %s", role)
	}
	return e.Repo.ListUsers(ctx, role)
}

// CreateAPIKey issues a key for a user and returns the plaintext once. Users may
// issue keys for themselves; administrators for anyone.
func (e Engine) CreateAPIKey(ctx context.Context, userID, name string, actor auth.Actor) (domain.APIKey, string, error) {
	if err := auth.RequireAuthenticated(actor); err != nil {
		return domain.APIKey{}, "", err
	}
	if userID == "" {
		userID = actor.UserID
	}
	if userID != actor.UserID && !actor.IsAdmin() {
		return domain.APIKey{}, "", auth.ForbiddenError{Permission: string(domain.RoleAdmin)}
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	plain := "mt_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.timestamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetUser(ctx, tx, userID); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plain, nil
}

// SeedDocumentTypes upserts the configured catalog. Running it twice is harmless.
func (e Engine) SeedDocumentTypes(ctx context.Context, catalog []config.DocumentTypeSpec) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, spec := range catalog {
		if err := e.Repo.UpsertDocumentType(ctx, tx, domain.DocumentType{
			Type:        spec.Type,
			Description: spec.Description,
			IsMandatory: spec.Mandatory,
		}); err != nil {
			return fmt.Errorf("seed document type %s: %w", spec.Type, err)
		}
	}
	return tx.Commit()
}

func (e Engine) ListDocumentTypes(ctx context.Context) ([]domain.DocumentType, error) {
	return e.Repo.ListDocumentTypes(ctx)
}

func (e Engine) CreateOrganization(ctx context.Context, kind domain.OrganizationKind, name, address string, actor auth.Actor) (domain.Organization, error) {
	if err := auth.RequireAuthenticated(actor); err != nil {
		return domain.Organization{}, err
	}
	if kind != domain.OrgMOA && kind != domain.OrgMOE {
		return domain.Organization{}, invalid("organization kind must be moa or moe")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Organization{}, invalid("organization name is required")
	}
	o := domain.Organization{
		ID:        uuid.NewString(),
		Kind:      kind,
		Name:      name,
		Address:   strings.TrimSpace(address),
		CreatedAt: e.timestamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Organization{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertOrganization(ctx, tx, o); err != nil {
		return domain.Organization{}, err
	}
	if err := e.events().Append(ctx, tx, events.OrganizationCreated, "", "organization", o.ID, actor.UserID, events.EventPayload{
		"kind": o.Kind,
		"name": o.Name,
	}); err != nil {
		return domain.Organization{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Organization{}, err
	}
	return o, nil
}

func (e Engine) ListOrganizations(ctx context.Context, kind domain.OrganizationKind) ([]domain.Organization, error) {
	return e.Repo.ListOrganizations(ctx, kind)
}

func (e Engine) ListEvents(ctx context.Context, projectID string, limit int) ([]domain.Event, error) {
	return e.Repo.ListEvents(ctx, projectID, limit)
}
