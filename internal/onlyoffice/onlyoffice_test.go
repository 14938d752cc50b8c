package onlyoffice

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memtech/internal/config"
	"memtech/internal/domain"
)

type recordingSaver struct {
	documentID string
	actor      string
	body       string
}

func (r *recordingSaver) SaveEditedFile(_ context.Context, documentID, editorID string, body io.Reader, _ int64) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	r.documentID, r.actor, r.body = documentID, editorID, string(data)
	return "key", nil
}

func signCallback(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestKeyRoundTrip(t *testing.T) {
	key := Key("p_1", "doc-42")
	assert.Equal(t, "memoire_p_1_doc-42", key)
	id, err := DocumentID(key)
	require.NoError(t, err)
	assert.Equal(t, "doc-42", id)

	for _, bad := range []string{"", "report_1_2", "memoire_", "memoire_p_"} {
		_, err := DocumentID(bad)
		assert.ErrorIs(t, err, ErrInvalidKey, bad)
	}
}

func TestEditorConfigSigned(t *testing.T) {
	svc := Service{
		Config:   config.OnlyOfficeConfig{PublicURL: "http://memtech.local/", JWTSecret: "s3cret", ServerURL: "http://docs.local"},
		BasePath: "/v0",
	}
	doc := domain.ProjectDocument{ID: "d1", ProjectID: "p1", DocumentType: "MEMO_TECHNIQUE", Status: domain.StatusDraft}
	user := domain.User{ID: "u1", FirstName: "Jeanne", LastName: "Martin", Role: domain.RoleWriter}

	cfg, err := svc.EditorConfig(doc, user, "")
	require.NoError(t, err)
	assert.Equal(t, "memoire_p1_d1", cfg.Document.Key)
	assert.Equal(t, "http://memtech.local/v0/documents/d1/file", cfg.Document.URL)
	assert.Equal(t, "http://memtech.local/v0/onlyoffice/callback", cfg.EditorConfig.CallbackURL)
	assert.Equal(t, "edit", cfg.EditorConfig.Mode)
	assert.Equal(t, "Jeanne Martin", cfg.EditorConfig.User.Name)
	require.NotEmpty(t, cfg.Token)

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(cfg.Token, claims, func(*jwt.Token) (interface{}, error) { return []byte("s3cret"), nil })
	require.NoError(t, err)
	document, ok := claims["document"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "memoire_p1_d1", document["key"])

	doc.Status = domain.StatusApproved
	cfg, err = svc.EditorConfig(doc, user, "a b")
	require.NoError(t, err)
	assert.Equal(t, "view", cfg.EditorConfig.Mode)
	assert.Equal(t, "http://memtech.local/v0/documents/d1/file?access_token=a+b", cfg.Document.URL)
}

func TestHandleCallbackStoresFile(t *testing.T) {
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("edited docx"))
	}))
	defer files.Close()
	saver := &recordingSaver{}
	svc := Service{Saver: saver, Logger: log.New(io.Discard, "", 0)}

	saved, err := svc.HandleCallback(context.Background(), CallbackRequest{Key: "memoire_p1_d1", Status: 1, URL: files.URL})
	require.NoError(t, err)
	assert.False(t, saved)

	saved, err = svc.HandleCallback(context.Background(), CallbackRequest{Key: "memoire_p1_d1", Status: StatusForceSave, URL: files.URL, Users: []string{"u1"}})
	require.NoError(t, err)
	assert.True(t, saved)
	assert.Equal(t, "d1", saver.documentID)
	assert.Equal(t, "u1", saver.actor)
	assert.Equal(t, "edited docx", saver.body)
}

func TestHandleCallbackDownloadFailure(t *testing.T) {
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer files.Close()
	svc := Service{Saver: &recordingSaver{}, Logger: log.New(io.Discard, "", 0)}
	_, err := svc.HandleCallback(context.Background(), CallbackRequest{Key: "memoire_p1_d1", Status: StatusMustSave, URL: files.URL})
	require.Error(t, err)
}

func TestVerifyCallback(t *testing.T) {
	svc := Service{Config: config.OnlyOfficeConfig{JWTSecret: "s3cret"}}
	_, err := svc.VerifyCallback(CallbackRequest{}, "")
	require.Error(t, err)

	token := signCallback(t, "s3cret", jwt.MapClaims{
		"key":    "memoire_p1_d1",
		"status": 2,
		"url":    "http://docs.local/cache/d1.docx",
		"users":  []string{"u1"},
	})
	cb, err := svc.VerifyCallback(CallbackRequest{Token: token}, "")
	require.NoError(t, err)
	assert.Equal(t, CallbackRequest{Key: "memoire_p1_d1", Status: 2, URL: "http://docs.local/cache/d1.docx", Users: []string{"u1"}, Token: token}, cb)

	// body fields never override the signed ones
	cb, err = svc.VerifyCallback(CallbackRequest{Key: "memoire_p1_d1", Status: 6, URL: "http://elsewhere/", Users: []string{"admin"}, Token: token}, "")
	require.NoError(t, err)
	assert.Equal(t, 2, cb.Status)
	assert.Equal(t, "http://docs.local/cache/d1.docx", cb.URL)
	assert.Equal(t, []string{"u1"}, cb.Users)

	_, err = svc.VerifyCallback(CallbackRequest{Key: "memoire_p1_d2", Token: token}, "")
	require.Error(t, err)

	wrapped := signCallback(t, "s3cret", jwt.MapClaims{"payload": map[string]any{"key": "memoire_p1_d1", "status": 6}})
	cb, err = svc.VerifyCallback(CallbackRequest{Key: "memoire_p1_d1", Status: 6}, "Bearer "+wrapped)
	require.NoError(t, err)
	assert.Equal(t, StatusForceSave, cb.Status)
	assert.Empty(t, cb.URL)

	_, err = svc.VerifyCallback(CallbackRequest{}, "Bearer "+signCallback(t, "s3cret", jwt.MapClaims{"key": "memoire_p1_d1"}))
	require.Error(t, err)

	forged := signCallback(t, "other", jwt.MapClaims{"key": "memoire_p1_d1", "status": 2})
	_, err = svc.VerifyCallback(CallbackRequest{Token: forged}, "")
	require.Error(t, err)

	plain := CallbackRequest{Key: "memoire_p1_d1", Status: 2}
	cb, err = Service{}.VerifyCallback(plain, "")
	require.NoError(t, err)
	assert.Equal(t, plain, cb)
}

func TestEditorTokenIsNotACallback(t *testing.T) {
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("replaced"))
	}))
	defer files.Close()
	saver := &recordingSaver{}
	svc := Service{
		Config:   config.OnlyOfficeConfig{PublicURL: "http://memtech.local", JWTSecret: "s3cret"},
		BasePath: "/v0",
		Saver:    saver,
		Logger:   log.New(io.Discard, "", 0),
	}
	writer := domain.User{ID: "u1", Role: domain.RoleWriter}
	cfg, err := svc.EditorConfig(domain.ProjectDocument{ID: "d1", ProjectID: "p1", DocumentType: "SOGED"}, writer, "")
	require.NoError(t, err)

	for _, req := range []CallbackRequest{
		{Key: Key("p1", "d2"), Status: StatusMustSave, URL: files.URL, Users: []string{"u1"}, Token: cfg.Token},
		{Key: Key("p1", "d1"), Status: StatusMustSave, URL: files.URL, Users: []string{"u1"}, Token: cfg.Token},
	} {
		_, err := svc.VerifyCallback(req, "")
		require.Error(t, err)
	}
	assert.Empty(t, saver.documentID)
}
