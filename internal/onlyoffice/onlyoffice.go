// Package onlyoffice builds editor configurations for the OnlyOffice document server
// and applies its save callbacks.
package onlyoffice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"memtech/internal/config"
	"memtech/internal/domain"
)

const keyPrefix = "memoire_"

// Callback statuses that carry a file to store: ready for saving and force save.
const (
	StatusMustSave  = 2
	StatusForceSave = 6
)

var ErrInvalidKey = errors.New("invalid document key")

// Key identifies a document towards the document server.
func Key(projectID, documentID string) string {
	return keyPrefix + projectID + "_" + documentID
}

// DocumentID extracts the document id, which is the segment after the last underscore.
func DocumentID(key string) (string, error) {
	if !strings.HasPrefix(key, keyPrefix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	i := strings.LastIndex(key, "_")
	id := key[i+1:]
	if i < len(keyPrefix) || id == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return id, nil
}

type Document struct {
	FileType string `json:"fileType"`
	Key      string `json:"key"`
	Title    string `json:"title"`
	URL      string `json:"url"`
}

type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type EditorConfig struct {
	CallbackURL string `json:"callbackUrl"`
	Lang        string `json:"lang"`
	Mode        string `json:"mode"`
	User        User   `json:"user"`
}

// Config is handed to the browser-side DocsAPI.DocEditor.
type Config struct {
	Document     Document     `json:"document"`
	DocumentType string       `json:"documentType"`
	EditorConfig EditorConfig `json:"editorConfig"`
	Token        string       `json:"token,omitempty"`
	ServerURL    string       `json:"server_url,omitempty"`
}

// CallbackRequest is the body the document server posts on status changes. With a
// secret configured the body may carry nothing but the token.
type CallbackRequest struct {
	Key    string   `json:"key,omitempty"`
	Status int      `json:"status,omitempty"`
	URL    string   `json:"url,omitempty"`
	Users  []string `json:"users,omitempty"`
	Token  string   `json:"token,omitempty"`
}

// FileSaver stores the edited file of a document on behalf of the user who edited it.
type FileSaver interface {
	SaveEditedFile(ctx context.Context, documentID, editorID string, r io.Reader, size int64) (string, error)
}

type Service struct {
	Config     config.OnlyOfficeConfig
	BasePath   string
	Saver      FileSaver
	HTTPClient *http.Client
	Logger     *log.Logger
}

func (s Service) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

func (s Service) client() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

// EditorConfig builds the signed editor configuration of a document for a user.
// fileToken, when set, lets the document server fetch the file without a session.
func (s Service) EditorConfig(doc domain.ProjectDocument, user domain.User, fileToken string) (Config, error) {
	base := strings.TrimRight(s.Config.PublicURL, "/") + s.BasePath
	mode := "edit"
	if doc.Status == domain.StatusApproved && user.Role != domain.RoleAdmin {
		mode = "view"
	}
	fileURL := base + "/documents/" + doc.ID + "/file"
	if fileToken != "" {
		fileURL += "?access_token=" + url.QueryEscape(fileToken)
	}
	cfg := Config{
		Document: Document{
			FileType: "docx",
			Key:      Key(doc.ProjectID, doc.ID),
			Title:    doc.DocumentType + ".docx",
			URL:      fileURL,
		},
		DocumentType: "word",
		EditorConfig: EditorConfig{
			CallbackURL: base + "/onlyoffice/callback",
			Lang:        "fr",
			Mode:        mode,
			User:        User{ID: user.ID, Name: user.FullName()},
		},
		ServerURL: s.Config.ServerURL,
	}
	if s.Config.JWTSecret == "" {
		return cfg, nil
	}
	token, err := s.sign(cfg)
	if err != nil {
		return Config{}, err
	}
	cfg.Token = token
	return cfg, nil
}

func (s Service) sign(cfg Config) (string, error) {
	data, err := json.Marshal(struct {
		Document     Document     `json:"document"`
		DocumentType string       `json:"documentType"`
		EditorConfig EditorConfig `json:"editorConfig"`
	}{cfg.Document, cfg.DocumentType, cfg.EditorConfig})
	if err != nil {
		return "", err
	}
	claims := jwt.MapClaims{}
	if err := json.Unmarshal(data, &claims); err != nil {
		return "", err
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.Config.JWTSecret))
}

// VerifyCallback checks the token of a callback when a secret is configured and returns
// the callback as signed by the document server. The token may come in the body or as a
// Bearer Authorization header, where the callback sits under a "payload" claim. Without
// a secret the request is returned unchanged.
func (s Service) VerifyCallback(req CallbackRequest, authorization string) (CallbackRequest, error) {
	if s.Config.JWTSecret == "" {
		return req, nil
	}
	token := req.Token
	if token == "" {
		token = strings.TrimSpace(strings.TrimPrefix(authorization, "Bearer "))
	}
	if token == "" {
		return CallbackRequest{}, errors.New("callback token missing")
	}
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if _, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.Config.JWTSecret), nil
	}); err != nil {
		return CallbackRequest{}, fmt.Errorf("callback token: %w", err)
	}
	if inner, ok := claims["payload"].(map[string]interface{}); ok {
		claims = jwt.MapClaims(inner)
	}
	if _, ok := claims["document"]; ok {
		return CallbackRequest{}, errors.New("callback token: editor configuration token")
	}
	key, _ := claims["key"].(string)
	status, ok := claims["status"].(float64)
	if key == "" || !ok {
		return CallbackRequest{}, errors.New("callback token: key and status claims required")
	}
	if req.Key != "" && req.Key != key {
		return CallbackRequest{}, errors.New("callback token: key does not match")
	}
	out := CallbackRequest{Key: key, Status: int(status), Token: token}
	out.URL, _ = claims["url"].(string)
	if users, ok := claims["users"].([]interface{}); ok {
		for _, u := range users {
			if id, ok := u.(string); ok {
				out.Users = append(out.Users, id)
			}
		}
	}
	return out, nil
}

// HandleCallback stores the edited file when the document server reports a save.
// It returns whether a file was stored. Other statuses are acknowledged and ignored.
// The first listed user is the editor the save is attributed to and checked against.
func (s Service) HandleCallback(ctx context.Context, req CallbackRequest) (bool, error) {
	if req.Status != StatusMustSave && req.Status != StatusForceSave {
		return false, nil
	}
	if req.URL == "" || req.Key == "" {
		return false, nil
	}
	documentID, err := DocumentID(req.Key)
	if err != nil {
		return false, err
	}
	editor := ""
	if len(req.Users) > 0 {
		editor = req.Users[0]
	}
	body, size, err := s.download(ctx, req.URL)
	if err != nil {
		s.logger().Printf("onlyoffice download for %s failed: %v", req.Key, err)
		return false, err
	}
	defer body.Close()
	if _, err := s.Saver.SaveEditedFile(ctx, documentID, editor, body, size); err != nil {
		return false, err
	}
	return true, nil
}

func (s Service) download(ctx context.Context, fileURL string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := s.client().Do(req)
	if err != nil {
		return nil, 0, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("download status %d", resp.StatusCode)
	}
	return resp.Body, resp.ContentLength, nil
}
