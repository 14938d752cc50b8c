package engine_test

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"memtech/internal/config"
	"memtech/internal/db"
	"memtech/internal/domain"
	"memtech/internal/engine"
	"memtech/internal/engine/auth"
	"memtech/internal/migrate"
	"memtech/internal/repo"
	"memtech/internal/storage"
)

type testEnv struct {
	Engine   engine.Engine
	Ctx      context.Context
	Admin    auth.Actor
	Writer   auth.Actor
	Reviewer auth.Actor
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	*engine.PasswordCost = bcrypt.MinCost
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	eng.Logger = log.New(io.Discard, "", 0)
	files, err := storage.NewLocal(filepath.Join(dir, "files"))
	require.NoError(t, err)
	eng.Files = files

	ctx := context.Background()
	require.NoError(t, eng.SeedDocumentTypes(ctx, []config.DocumentTypeSpec{
		{Type: "MEMO_TECHNIQUE", Description: "Mémoire technique", Mandatory: true},
		{Type: "SOGED", Mandatory: true},
		{Type: "PAQ", Mandatory: true},
		{Type: "PPSPS"},
	}))
	admin, err := eng.CreateSuperuser(ctx, "admin@Example.COM", "secret", engine.UserOptions{})
	require.NoError(t, err)
	adminActor := auth.Actor{UserID: admin.ID, Role: admin.Role}
	writer, err := eng.CreateUser(ctx, "writer@example.com", "pw", engine.UserOptions{Role: domain.RoleWriter}, adminActor)
	require.NoError(t, err)
	reviewer, err := eng.CreateUser(ctx, "reviewer@example.com", "pw", engine.UserOptions{Role: domain.RoleReviewer}, adminActor)
	require.NoError(t, err)
	return testEnv{
		Engine:   eng,
		Ctx:      ctx,
		Admin:    adminActor,
		Writer:   auth.Actor{UserID: writer.ID, Role: writer.Role},
		Reviewer: auth.Actor{UserID: reviewer.ID, Role: reviewer.Role},
	}
}

func (env testEnv) newProject(t *testing.T) (domain.Project, []domain.ProjectDocument) {
	t.Helper()
	p, docs, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Name: "Lycée Jean Moulin"}, env.Writer)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	return p, docs
}

func (env testEnv) assign(t *testing.T, documentID string) {
	t.Helper()
	_, err := env.Engine.AssignRoles(env.Ctx, documentID, &env.Writer.UserID, &env.Reviewer.UserID, env.Admin)
	require.NoError(t, err)
}

func (env testEnv) historyLen(t *testing.T, documentID string) int {
	t.Helper()
	h, err := env.Engine.History(env.Ctx, documentID, env.Admin)
	require.NoError(t, err)
	return len(h.History)
}

func TestCreateProjectLinksMandatoryTypes(t *testing.T) {
	env := newTestEnv(t)
	p, docs := env.newProject(t)
	assert.Equal(t, domain.ProjectInProgress, p.Status)
	types := []string{}
	for _, d := range docs {
		types = append(types, d.DocumentType)
		assert.Equal(t, domain.StatusDraft, d.Status)
		assert.Equal(t, 45.0, d.CompletionPercentage)
		assert.Equal(t, 1, d.ReviewCycle)
	}
	assert.ElementsMatch(t, []string{"MEMO_TECHNIQUE", "SOGED", "PAQ"}, types)

	added, err := env.Engine.AddRequiredDocuments(env.Ctx, p.ID, []string{"PAQ", "PPSPS"}, env.Writer)
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.Equal(t, "PPSPS", added[0].DocumentType)
}

func TestCreateProjectRejectsUnknownType(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Name: "x", DocumentTypes: []string{"NOPE"}}, env.Writer)
	require.ErrorIs(t, err, repo.ErrNotFound)
	projects, err := env.Engine.ListProjects(env.Ctx)
	require.NoError(t, err)
	assert.Empty(t, projects)

	_, _, err = env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Name: "x"}, auth.Actor{})
	var fe auth.ForbiddenError
	require.ErrorAs(t, err, &fe)
}

func TestProjectWithoutDocumentsIsCompleted(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Engine.SeedDocumentTypes(env.Ctx, []config.DocumentTypeSpec{
		{Type: "MEMO_TECHNIQUE"}, {Type: "SOGED"}, {Type: "PAQ"},
	}))
	p, docs, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Name: "empty"}, env.Writer)
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Equal(t, domain.ProjectCompleted, p.Status)
	progress, err := env.Engine.ProjectProgress(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, progress.Completion)
	assert.Equal(t, 0, progress.Total)
}

func TestCompletionFollowsStatusTable(t *testing.T) {
	env := newTestEnv(t)
	_, docs := env.newProject(t)
	id := docs[0].ID
	expected := map[domain.DocumentStatus]float64{
		domain.StatusReview1:    30,
		domain.StatusCorrection: 20,
		domain.StatusReview2:    0,
		domain.StatusValidation: 5,
		domain.StatusApproved:   100,
		domain.StatusDraft:      45,
	}
	for _, s := range []domain.DocumentStatus{
		domain.StatusReview1, domain.StatusCorrection, domain.StatusReview2,
		domain.StatusValidation, domain.StatusApproved, domain.StatusDraft,
	} {
		d, err := env.Engine.Transition(env.Ctx, id, string(s), env.Admin)
		require.NoError(t, err, s)
		assert.Equal(t, expected[s], d.CompletionPercentage, s)
		stored, err := env.Engine.GetDocument(env.Ctx, id)
		require.NoError(t, err)
		assert.Equal(t, s, stored.Status)
		assert.Equal(t, expected[s], stored.CompletionPercentage, s)
	}
	assert.Equal(t, 6, env.historyLen(t, id))
}

func TestHistoryGrowsOnlyOnSuccess(t *testing.T) {
	env := newTestEnv(t)
	_, docs := env.newProject(t)
	id := docs[0].ID

	_, err := env.Engine.Transition(env.Ctx, id, "PUBLISHED", env.Admin)
	require.ErrorIs(t, err, domain.ErrInvalidStatus)
	_, err = env.Engine.Transition(env.Ctx, id, "approved", env.Admin)
	require.ErrorIs(t, err, domain.ErrInvalidStatus)
	_, err = env.Engine.Transition(env.Ctx, id, string(domain.StatusApproved), env.Writer)
	require.Error(t, err)
	_, err = env.Engine.Transition(env.Ctx, id, string(domain.StatusReview1), env.Reviewer)
	require.Error(t, err)
	_, err = env.Engine.Transition(env.Ctx, id, string(domain.StatusReview1), auth.Actor{})
	require.Error(t, err)
	assert.Equal(t, 0, env.historyLen(t, id))

	stored, err := env.Engine.GetDocument(env.Ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, stored.Status)
	assert.Equal(t, 45.0, stored.CompletionPercentage)

	_, err = env.Engine.Transition(env.Ctx, id, string(domain.StatusValidation), env.Reviewer)
	require.NoError(t, err)
	assert.Equal(t, 1, env.historyLen(t, id))
	_, err = env.Engine.Transition(env.Ctx, id, string(domain.StatusValidation), env.Reviewer)
	require.NoError(t, err)
	assert.Equal(t, 2, env.historyLen(t, id))
}

func TestApprovalAuthorization(t *testing.T) {
	env := newTestEnv(t)
	_, docs := env.newProject(t)

	_, err := env.Engine.Transition(env.Ctx, docs[0].ID, string(domain.StatusApproved), env.Writer)
	var fe auth.ForbiddenError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, string(auth.ValidateDocument), fe.Permission)

	d, err := env.Engine.Transition(env.Ctx, docs[0].ID, string(domain.StatusApproved), env.Reviewer)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, d.Status)

	for _, s := range domain.DocumentStatuses {
		_, err := env.Engine.Transition(env.Ctx, docs[1].ID, string(s), env.Admin)
		require.NoError(t, err, s)
	}
	d, err = env.Engine.Transition(env.Ctx, docs[1].ID, string(domain.StatusReview1), env.Admin)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReview1, d.Status)
}

func TestApprovedIsTerminalForNonAdmins(t *testing.T) {
	env := newTestEnv(t)
	_, docs := env.newProject(t)
	id := docs[0].ID
	env.assign(t, id)
	_, err := env.Engine.Transition(env.Ctx, id, string(domain.StatusApproved), env.Reviewer)
	require.NoError(t, err)

	_, err = env.Engine.Transition(env.Ctx, id, string(domain.StatusReview1), env.Reviewer)
	require.ErrorIs(t, err, engine.ErrTerminalState)
	_, err = env.Engine.Transition(env.Ctx, id, string(domain.StatusDraft), env.Writer)
	require.ErrorIs(t, err, engine.ErrTerminalState)
	_, err = env.Engine.UpdateContent(env.Ctx, id, "late edit", env.Writer)
	require.ErrorIs(t, err, engine.ErrTerminalState)

	stored, err := env.Engine.GetDocument(env.Ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, stored.Status)
	assert.Equal(t, 100.0, stored.CompletionPercentage)
	assert.Equal(t, 1, env.historyLen(t, id))

	d, err := env.Engine.Transition(env.Ctx, id, string(domain.StatusCorrection), env.Admin)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCorrection, d.Status)
}

func TestMissingAssignment(t *testing.T) {
	env := newTestEnv(t)
	_, docs := env.newProject(t)
	id := docs[0].ID

	_, err := env.Engine.Transition(env.Ctx, id, string(domain.StatusReview1), env.Reviewer)
	var missing engine.MissingAssignmentError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "reviewer", missing.Role)
	assert.Equal(t, id, missing.DocumentID)

	_, err = env.Engine.Transition(env.Ctx, id, string(domain.StatusCorrection), env.Writer)
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "writer", missing.Role)
	assert.Equal(t, 0, env.historyLen(t, id))

	_, err = env.Engine.Transition(env.Ctx, id, string(domain.StatusReview1), env.Admin)
	require.NoError(t, err)

	env.assign(t, docs[1].ID)
	_, err = env.Engine.Transition(env.Ctx, docs[1].ID, string(domain.StatusReview1), env.Reviewer)
	require.NoError(t, err)
}

func TestThreeDocumentScenario(t *testing.T) {
	env := newTestEnv(t)
	p, docs := env.newProject(t)

	progress, err := env.Engine.ProjectProgress(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectInProgress, progress.Project.Status)
	assert.Equal(t, 0.0, progress.Completion)
	assert.Equal(t, 3, progress.ByStatus[domain.StatusDraft])
	for _, d := range progress.Documents {
		assert.Equal(t, 45.0, d.CompletionPercentage)
	}

	actors := []auth.Actor{env.Reviewer, env.Admin, env.Reviewer}
	for i, d := range docs {
		got, err := env.Engine.Transition(env.Ctx, d.ID, string(domain.StatusApproved), actors[i])
		require.NoError(t, err)
		assert.Equal(t, 100.0, got.CompletionPercentage)
	}

	progress, err = env.Engine.ProjectProgress(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectCompleted, progress.Project.Status)
	assert.Equal(t, 100.0, progress.Completion)
	assert.Equal(t, 3, progress.Approved)
}

func TestCommentRequiringCorrectionScenario(t *testing.T) {
	env := newTestEnv(t)
	_, docs := env.newProject(t)
	id := docs[0].ID
	env.assign(t, id)

	_, err := env.Engine.Transition(env.Ctx, id, string(domain.StatusReview1), env.Reviewer)
	require.NoError(t, err)
	c, err := env.Engine.AddComment(env.Ctx, id, "Préciser les moyens humains", true, env.Reviewer)
	require.NoError(t, err)
	assert.Equal(t, 1, c.ReviewCycle)
	assert.False(t, c.Resolved)

	stored, err := env.Engine.GetDocument(env.Ctx, id)
	require.NoError(t, err)
	assert.True(t, stored.NeedsCorrection)

	d, err := env.Engine.Transition(env.Ctx, id, string(domain.StatusCorrection), env.Writer)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCorrection, d.Status)

	h, err := env.Engine.History(env.Ctx, id, env.Writer)
	require.NoError(t, err)
	require.Len(t, h.History, 2)
	last := h.History[1]
	assert.Equal(t, domain.StatusReview1, last.FromStatus)
	assert.Equal(t, domain.StatusCorrection, last.ToStatus)
	assert.Equal(t, env.Writer.UserID, last.UserID)
	require.Len(t, h.Comments, 1)

	d, err = env.Engine.Transition(env.Ctx, id, string(domain.StatusReview2), env.Reviewer)
	require.NoError(t, err)
	assert.Equal(t, 2, d.ReviewCycle)
	c2, err := env.Engine.AddComment(env.Ctx, id, "OK", false, env.Writer)
	require.NoError(t, err)
	assert.Equal(t, 2, c2.ReviewCycle)
}

func TestResolveCommentKeepsCorrectionFlag(t *testing.T) {
	env := newTestEnv(t)
	_, docs := env.newProject(t)
	id := docs[0].ID

	_, err := env.Engine.AddComment(env.Ctx, id, "   ", false, env.Writer)
	require.ErrorIs(t, err, engine.ErrInvalidInput)
	_, err = env.Engine.AddComment(env.Ctx, id, "x", false, auth.Actor{})
	require.Error(t, err)

	c, err := env.Engine.AddComment(env.Ctx, id, "Reprendre le planning", true, env.Writer)
	require.NoError(t, err)
	resolved, err := env.Engine.ResolveComment(env.Ctx, c.ID, env.Reviewer)
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	require.NotNil(t, resolved.ResolvedBy)
	assert.Equal(t, env.Reviewer.UserID, *resolved.ResolvedBy)

	again, err := env.Engine.ResolveComment(env.Ctx, c.ID, env.Admin)
	require.NoError(t, err)
	assert.Equal(t, env.Reviewer.UserID, *again.ResolvedBy)

	stored, err := env.Engine.GetDocument(env.Ctx, id)
	require.NoError(t, err)
	assert.True(t, stored.NeedsCorrection)

	_, err = env.Engine.ResolveComment(env.Ctx, "missing", env.Admin)
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestRecomputeIsIdempotentAndCancelStays(t *testing.T) {
	env := newTestEnv(t)
	p, docs := env.newProject(t)

	first, err := env.Engine.RecomputeProjectStatus(env.Ctx, p.ID)
	require.NoError(t, err)
	second, err := env.Engine.RecomputeProjectStatus(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)

	_, err = env.Engine.CancelProject(env.Ctx, p.ID, env.Writer)
	var fe auth.ForbiddenError
	require.ErrorAs(t, err, &fe)
	cancelled, err := env.Engine.CancelProject(env.Ctx, p.ID, env.Admin)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectCancelled, cancelled.Status)

	for _, d := range docs {
		_, err := env.Engine.Transition(env.Ctx, d.ID, string(domain.StatusApproved), env.Admin)
		require.NoError(t, err)
	}
	after, err := env.Engine.RecomputeProjectStatus(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectCancelled, after.Status)
}

func TestAssignRoles(t *testing.T) {
	env := newTestEnv(t)
	_, docs := env.newProject(t)
	id := docs[0].ID

	_, err := env.Engine.AssignRoles(env.Ctx, id, &env.Writer.UserID, nil, env.Writer)
	var fe auth.ForbiddenError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, string(auth.AssignRoles), fe.Permission)

	_, err = env.Engine.AssignRoles(env.Ctx, id, &env.Reviewer.UserID, nil, env.Admin)
	require.ErrorIs(t, err, engine.ErrInvalidInput)
	_, err = env.Engine.AssignRoles(env.Ctx, id, nil, &env.Writer.UserID, env.Admin)
	require.ErrorIs(t, err, engine.ErrInvalidInput)
	missing := "nobody"
	_, err = env.Engine.AssignRoles(env.Ctx, id, &missing, nil, env.Admin)
	require.ErrorIs(t, err, repo.ErrNotFound)

	d, err := env.Engine.AssignRoles(env.Ctx, id, &env.Writer.UserID, &env.Admin.UserID, env.Admin)
	require.NoError(t, err)
	require.NotNil(t, d.WriterID)
	require.NotNil(t, d.ReviewerID)
	assert.Equal(t, env.Admin.UserID, *d.ReviewerID)

	stored, err := env.Engine.GetDocument(env.Ctx, id)
	require.NoError(t, err)
	assert.Equal(t, env.Writer.UserID, *stored.WriterID)
}

func TestUpdateContentRequiresAssignedWriter(t *testing.T) {
	env := newTestEnv(t)
	_, docs := env.newProject(t)
	id := docs[0].ID

	other, err := env.Engine.CreateUser(env.Ctx, "other@example.com", "pw", engine.UserOptions{Role: domain.RoleWriter}, env.Admin)
	require.NoError(t, err)
	otherActor := auth.Actor{UserID: other.ID, Role: other.Role}

	d, err := env.Engine.UpdateContent(env.Ctx, id, "Introduction", otherActor)
	require.NoError(t, err)
	assert.Equal(t, "Introduction", d.Content)

	env.assign(t, id)
	_, err = env.Engine.UpdateContent(env.Ctx, id, "hijack", otherActor)
	var fe auth.ForbiddenError
	require.ErrorAs(t, err, &fe)
	_, err = env.Engine.UpdateContent(env.Ctx, id, "review edit", env.Reviewer)
	require.ErrorAs(t, err, &fe)

	d, err = env.Engine.UpdateContent(env.Ctx, id, "Chapitre 1", env.Writer)
	require.NoError(t, err)
	assert.Equal(t, "Chapitre 1", d.Content)
}

type failingStore struct {
	storage.Store
	prefixes []string
}

func (f *failingStore) DeletePrefix(_ context.Context, prefix string) error {
	f.prefixes = append(f.prefixes, prefix)
	return errors.New("bucket unavailable")
}

func TestSoftDeleteProject(t *testing.T) {
	env := newTestEnv(t)
	p, docs := env.newProject(t)
	key := storage.ProjectKey(p.ID, "reference", "rc", "rc.txt")
	require.NoError(t, env.Engine.Files.Put(env.Ctx, key, strings.NewReader("rc"), 2, "text/plain"))

	err := env.Engine.SoftDeleteProject(env.Ctx, p.ID, "secret", env.Writer)
	var fe auth.ForbiddenError
	require.ErrorAs(t, err, &fe)
	err = env.Engine.SoftDeleteProject(env.Ctx, p.ID, "wrong", env.Admin)
	require.ErrorIs(t, err, engine.ErrInvalidCredentials)

	_, err = env.Engine.Transition(env.Ctx, docs[0].ID, string(domain.StatusReview2), env.Admin)
	require.NoError(t, err)
	err = env.Engine.SoftDeleteProject(env.Ctx, p.ID, "secret", env.Admin)
	require.ErrorIs(t, err, engine.ErrProjectUnderReview)

	_, err = env.Engine.Transition(env.Ctx, docs[0].ID, string(domain.StatusValidation), env.Admin)
	require.NoError(t, err)
	require.NoError(t, env.Engine.SoftDeleteProject(env.Ctx, p.ID, "secret", env.Admin))

	_, err = env.Engine.GetProject(env.Ctx, p.ID)
	require.ErrorIs(t, err, repo.ErrNotFound)
	_, err = env.Engine.GetDocument(env.Ctx, docs[0].ID)
	require.ErrorIs(t, err, repo.ErrNotFound)
	_, err = env.Engine.Files.Get(env.Ctx, key)
	require.ErrorIs(t, err, storage.ErrNotFound)

	deleted, err := env.Engine.Repo.GetProjectIncludingDeleted(env.Ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, deleted.DeletedBy)
	assert.Equal(t, env.Admin.UserID, *deleted.DeletedBy)
}

func TestSoftDeleteSurvivesStorageFailure(t *testing.T) {
	env := newTestEnv(t)
	p, _ := env.newProject(t)
	store := &failingStore{}
	env.Engine.Files = store

	require.NoError(t, env.Engine.SoftDeleteProject(env.Ctx, p.ID, "secret", env.Admin))
	assert.Equal(t, []string{storage.ProjectPrefix(p.ID)}, store.prefixes)

	evs, err := env.Engine.ListEvents(env.Ctx, p.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, evs)
	assert.Equal(t, "storage.cleanup_failed", evs[0].Type)
	assert.Equal(t, "project.deleted", evs[1].Type)
}

func TestUserConstruction(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	u, err := engine.NewUser("  Jane.Doe@Example.COM ", "pw", engine.UserOptions{Role: domain.RoleWriter}, now)
	require.NoError(t, err)
	assert.Equal(t, "Jane.Doe@example.com", u.Email)
	assert.True(t, u.IsActive)
	assert.False(t, u.IsSuperuser)
	assert.NotEqual(t, "pw", u.PasswordHash)

	_, err = engine.NewUser("", "pw", engine.UserOptions{Role: domain.RoleWriter}, now)
	require.ErrorIs(t, err, engine.ErrInvalidInput)
	_, err = engine.NewUser("a@b.c", "pw", engine.UserOptions{}, now)
	require.ErrorIs(t, err, engine.ErrInvalidInput)

	su, err := engine.NewSuperuser("root@example.com", "pw", engine.UserOptions{}, now)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, su.Role)
	assert.Equal(t, "Admin", su.FirstName)
	assert.Equal(t, "System", su.LastName)
	assert.True(t, su.IsSuperuser)
	_, err = engine.NewSuperuser("root@example.com", "pw", engine.UserOptions{Role: domain.RoleWriter}, now)
	require.ErrorIs(t, err, engine.ErrInvalidInput)

	nopw, err := engine.NewUser("x@example.com", "", engine.UserOptions{Role: domain.RoleReviewer}, now)
	require.NoError(t, err)
	assert.Error(t, bcrypt.CompareHashAndPassword([]byte(nopw.PasswordHash), []byte("")))
}

func TestAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	u, err := env.Engine.Authenticate(env.Ctx, "admin@EXAMPLE.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, env.Admin.UserID, u.ID)

	_, err = env.Engine.Authenticate(env.Ctx, "admin@example.com", "nope")
	require.ErrorIs(t, err, engine.ErrInvalidCredentials)
	_, err = env.Engine.Authenticate(env.Ctx, "ghost@example.com", "secret")
	require.ErrorIs(t, err, engine.ErrInvalidCredentials)

	_, err = env.Engine.CreateUser(env.Ctx, "writer@EXAMPLE.com", "pw", engine.UserOptions{Role: domain.RoleWriter}, env.Admin)
	require.ErrorIs(t, err, repo.ErrDuplicate)
	_, err = env.Engine.CreateUser(env.Ctx, "new@example.com", "pw", engine.UserOptions{Role: domain.RoleWriter}, env.Writer)
	var fe auth.ForbiddenError
	require.ErrorAs(t, err, &fe)
}

func TestAPIKeys(t *testing.T) {
	env := newTestEnv(t)
	key, plain, err := env.Engine.CreateAPIKey(env.Ctx, "", "ci", env.Writer)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(plain, "mt_"))
	assert.Equal(t, env.Writer.UserID, key.UserID)

	found, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(plain))
	require.NoError(t, err)
	assert.Equal(t, key.ID, found.ID)

	_, _, err = env.Engine.CreateAPIKey(env.Ctx, env.Reviewer.UserID, "", env.Writer)
	var fe auth.ForbiddenError
	require.ErrorAs(t, err, &fe)
	_, _, err = env.Engine.CreateAPIKey(env.Ctx, env.Reviewer.UserID, "", env.Admin)
	require.NoError(t, err)
}

func TestOrganizations(t *testing.T) {
	env := newTestEnv(t)
	moa, err := env.Engine.CreateOrganization(env.Ctx, domain.OrgMOA, "Région Occitanie", "Toulouse", env.Writer)
	require.NoError(t, err)
	_, err = env.Engine.CreateOrganization(env.Ctx, "other", "x", "", env.Writer)
	require.ErrorIs(t, err, engine.ErrInvalidInput)

	p, _, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Name: "Gymnase", MOAID: &moa.ID}, env.Writer)
	require.NoError(t, err)
	require.NotNil(t, p.MOAID)
	assert.Equal(t, moa.ID, *p.MOAID)

	ghost := "ghost"
	_, _, err = env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Name: "x", MOEID: &ghost}, env.Writer)
	require.ErrorIs(t, err, repo.ErrNotFound)

	orgs, err := env.Engine.ListOrganizations(env.Ctx, domain.OrgMOA)
	require.NoError(t, err)
	require.Len(t, orgs, 1)
}

func TestLibrary(t *testing.T) {
	env := newTestEnv(t)
	_, docs := env.newProject(t)

	_, err := env.Engine.CreateLibraryItem(env.Ctx, engine.LibraryItemInput{Category: "poème", Title: "x"}, env.Writer)
	require.ErrorIs(t, err, engine.ErrInvalidInput)

	it, err := env.Engine.CreateLibraryItem(env.Ctx, engine.LibraryItemInput{
		Category: "procedure",
		Title:    "Coulage du béton",
		Content:  "Contrôle de la température avant coulage.",
		Tags:     []string{"Beton", " beton ", "hiver"},
	}, env.Writer)
	require.NoError(t, err)
	assert.Equal(t, []string{"beton", "hiver"}, it.Tags)
	_, err = env.Engine.CreateLibraryItem(env.Ctx, engine.LibraryItemInput{Category: "texte", Title: "Présentation"}, env.Writer)
	require.NoError(t, err)

	found, err := env.Engine.ListLibraryItems(env.Ctx, repo.LibraryFilter{Query: "température"}, env.Reviewer)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, it.ID, found[0].ID)
	found, err = env.Engine.ListLibraryItems(env.Ctx, repo.LibraryFilter{Tag: "HIVER"}, env.Reviewer)
	require.NoError(t, err)
	require.Len(t, found, 1)

	require.NoError(t, env.Engine.SetFavorite(env.Ctx, it.ID, true, env.Reviewer))
	favs, err := env.Engine.ListLibraryItems(env.Ctx, repo.LibraryFilter{FavoritesOf: env.Reviewer.UserID}, env.Reviewer)
	require.NoError(t, err)
	require.Len(t, favs, 1)
	assert.True(t, favs[0].Favorite)

	_, err = env.Engine.UpdateLibraryItem(env.Ctx, it.ID, engine.LibraryItemInput{Title: "stolen"}, env.Reviewer)
	var fe auth.ForbiddenError
	require.ErrorAs(t, err, &fe)
	updated, err := env.Engine.UpdateLibraryItem(env.Ctx, it.ID, engine.LibraryItemInput{Title: "Coulage par temps froid"}, env.Writer)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)

	_, err = env.Engine.UpdateContent(env.Ctx, docs[0].ID, "Intro", env.Writer)
	require.NoError(t, err)
	d, err := env.Engine.InsertLibraryItem(env.Ctx, docs[0].ID, it.ID, env.Writer)
	require.NoError(t, err)
	assert.Equal(t, "Intro\n\nContrôle de la température avant coulage.", d.Content)
}

func TestReferenceOutlineFlow(t *testing.T) {
	env := newTestEnv(t)
	p, docs := env.newProject(t)
	rc := "Règlement de consultation\n1 Valeur technique\n1.1 Moyens humains\n1.2 Méthodologie\n2 Environnement\n"

	ref, err := env.Engine.UploadReference(env.Ctx, p.ID, "rc", "../../rc.txt", strings.NewReader(rc), int64(len(rc)), env.Writer)
	require.NoError(t, err)
	assert.Equal(t, "rc.txt", ref.Filename)
	assert.True(t, strings.HasPrefix(ref.FilePath, storage.ProjectPrefix(p.ID)+"reference/rc/"))
	_, err = env.Engine.UploadReference(env.Ctx, p.ID, "devis", "d.pdf", strings.NewReader("x"), 1, env.Writer)
	require.ErrorIs(t, err, engine.ErrInvalidInput)

	refs, err := env.Engine.ListReferences(env.Ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, refs, 1)

	res, err := env.Engine.AnalyzeReference(env.Ctx, ref.ID, env.Writer)
	require.NoError(t, err)
	assert.Equal(t, "headings", res.Result.Source)
	require.Len(t, res.Result.Outline.Chapters, 2)
	assert.Equal(t, "1. Valeur technique", res.Result.Outline.Chapters[0].Title)
	require.Len(t, res.Result.Outline.Chapters[0].Sections, 2)
	assert.Equal(t, ref.ID, res.Analysis.ReferenceDocumentID)

	latest, err := env.Engine.LatestOutline(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Analysis.ID, latest.Analysis.ID)

	d, err := env.Engine.AttachOutline(env.Ctx, docs[0].ID, env.Writer)
	require.NoError(t, err)
	assert.Contains(t, d.Content, "1. Valeur technique")
	assert.Contains(t, d.Content, "1.2. Méthodologie")
}

func TestDocumentFileRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	p, docs := env.newProject(t)
	key, err := env.Engine.SaveDocumentFile(env.Ctx, docs[0].ID, strings.NewReader("docx"), 4, env.Writer)
	require.NoError(t, err)
	assert.Equal(t, "projects/"+p.ID+"/memoires/memoire_"+p.ID+"_"+docs[0].ID+".docx", key)

	rc, err := env.Engine.OpenDocumentFile(env.Ctx, docs[0].ID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "docx", string(data))
}

func TestDocumentFileFollowsEditRules(t *testing.T) {
	env := newTestEnv(t)
	_, docs := env.newProject(t)
	id := docs[0].ID
	env.assign(t, id)
	save := func(actor auth.Actor) error {
		_, err := env.Engine.SaveDocumentFile(env.Ctx, id, strings.NewReader("docx"), 4, actor)
		return err
	}

	other, err := env.Engine.CreateUser(env.Ctx, "other@example.com", "pw", engine.UserOptions{Role: domain.RoleWriter}, env.Admin)
	require.NoError(t, err)
	var fe auth.ForbiddenError
	require.ErrorAs(t, save(auth.Actor{UserID: other.ID, Role: other.Role}), &fe)
	assert.Equal(t, "ASSIGNED_WRITER", fe.Permission)
	require.ErrorAs(t, save(env.Reviewer), &fe)
	require.ErrorAs(t, save(auth.Actor{}), &fe)
	require.NoError(t, save(env.Writer))

	_, err = env.Engine.Transition(env.Ctx, id, string(domain.StatusApproved), env.Reviewer)
	require.NoError(t, err)
	require.ErrorIs(t, save(env.Writer), engine.ErrTerminalState)
	_, err = env.Engine.UpdateContent(env.Ctx, id, "late edit", env.Writer)
	require.ErrorIs(t, err, engine.ErrTerminalState)
	require.NoError(t, save(env.Admin))
}

func TestSaveEditedFileResolvesEditor(t *testing.T) {
	env := newTestEnv(t)
	_, docs := env.newProject(t)
	id := docs[0].ID
	env.assign(t, id)
	saveAs := func(editorID string) error {
		_, err := env.Engine.SaveEditedFile(env.Ctx, id, editorID, strings.NewReader("docx"), 4)
		return err
	}

	require.NoError(t, saveAs(env.Writer.UserID))
	var fe auth.ForbiddenError
	require.ErrorAs(t, saveAs(""), &fe)
	require.ErrorAs(t, saveAs("ghost"), &fe)
	require.ErrorAs(t, saveAs(env.Reviewer.UserID), &fe)
	_, err := env.Engine.SaveEditedFile(env.Ctx, "missing", env.Writer.UserID, strings.NewReader("docx"), 4)
	require.ErrorIs(t, err, repo.ErrNotFound)

	_, err = env.Engine.Transition(env.Ctx, id, string(domain.StatusApproved), env.Reviewer)
	require.NoError(t, err)
	require.ErrorIs(t, saveAs(env.Writer.UserID), engine.ErrTerminalState)
	require.NoError(t, saveAs(env.Admin.UserID))

	inactive := false
	_, err = env.Engine.UpdateUserAccess(env.Ctx, env.Writer.UserID, engine.UserAccess{IsActive: &inactive}, env.Admin)
	require.NoError(t, err)
	_, err = env.Engine.Transition(env.Ctx, id, string(domain.StatusDraft), env.Admin)
	require.NoError(t, err)
	require.ErrorAs(t, saveAs(env.Writer.UserID), &fe)
}

func TestUpdateUserAccess(t *testing.T) {
	env := newTestEnv(t)
	reviewer := domain.RoleReviewer
	inactive := false

	_, err := env.Engine.UpdateUserAccess(env.Ctx, env.Writer.UserID, engine.UserAccess{Role: &reviewer}, env.Writer)
	var fe auth.ForbiddenError
	require.ErrorAs(t, err, &fe)

	bogus := domain.Role("OWNER")
	_, err = env.Engine.UpdateUserAccess(env.Ctx, env.Writer.UserID, engine.UserAccess{Role: &bogus}, env.Admin)
	require.ErrorIs(t, err, engine.ErrInvalidInput)
	_, err = env.Engine.UpdateUserAccess(env.Ctx, "ghost", engine.UserAccess{Role: &reviewer}, env.Admin)
	require.ErrorIs(t, err, repo.ErrNotFound)
	_, err = env.Engine.UpdateUserAccess(env.Ctx, env.Admin.UserID, engine.UserAccess{Role: &reviewer}, env.Admin)
	require.ErrorIs(t, err, engine.ErrInvalidInput)

	u, err := env.Engine.UpdateUserAccess(env.Ctx, env.Writer.UserID, engine.UserAccess{Role: &reviewer, IsActive: &inactive}, env.Admin)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleReviewer, u.Role)
	assert.False(t, u.IsActive)

	stored, err := env.Engine.GetUser(env.Ctx, env.Writer.UserID)
	require.NoError(t, err)
	assert.Equal(t, u, stored)
	_, err = env.Engine.Authenticate(env.Ctx, "writer@example.com", "pw")
	require.ErrorIs(t, err, engine.ErrInvalidCredentials)

	evs, err := env.Engine.ListEvents(env.Ctx, "", 10)
	require.NoError(t, err)
	assert.Equal(t, "user.updated", evs[0].Type)
}

func TestEventsRecorded(t *testing.T) {
	env := newTestEnv(t)
	p, docs := env.newProject(t)
	_, err := env.Engine.Transition(env.Ctx, docs[0].ID, string(domain.StatusApproved), env.Reviewer)
	require.NoError(t, err)

	evs, err := env.Engine.ListEvents(env.Ctx, p.ID, 50)
	require.NoError(t, err)
	types := map[string]int{}
	for _, ev := range evs {
		types[ev.Type]++
	}
	assert.Equal(t, 1, types["project.created"])
	assert.Equal(t, 3, types["document.created"])
	assert.Equal(t, 1, types["document.transitioned"])
	assert.Equal(t, "document.transitioned", evs[0].Type)
	assert.Contains(t, evs[0].Payload, `"to_status":"APPROVED"`)
}
