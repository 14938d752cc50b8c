package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"memtech/internal/domain"
	"memtech/internal/engine"
	"memtech/internal/engine/auth"
	"memtech/internal/onlyoffice"
	"memtech/internal/repo"
	"memtech/internal/storage"
)

// Config for the HTTP API handler.
type Config struct {
	Engine     engine.Engine
	BasePath   string
	Auth       AuthConfig
	OnlyOffice onlyoffice.Service
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"missing_assignment"`
	Message string         `json:"message" example:"document 42 has no reviewer assigned"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"role\":\"reviewer\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the memtech API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Engine.Logger
	}
	oo := cfg.OnlyOffice
	if oo.Saver == nil {
		oo.Saver = cfg.Engine
	}
	if oo.Logger == nil {
		oo.Logger = cfg.Engine.Logger
	}
	oo.BasePath = basePath

	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("memtech API", "0.3.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerAuth(group, cfg.Engine, cfg.Auth)
	registerUsers(group, cfg.Engine)
	registerCatalog(group, cfg.Engine)
	registerProjects(group, cfg.Engine)
	registerDocuments(group, cfg.Engine)
	registerOutlines(group, cfg.Engine)
	registerLibrary(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOnlyOffice(group, cfg.Engine, oo, cfg.Auth)
	registerFiles(router, basePath, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	var me engine.MissingAssignmentError
	if errors.As(err, &me) {
		return newAPIError(http.StatusConflict, "missing_assignment", err.Error(), map[string]any{"document_id": me.DocumentID, "role": me.Role})
	}
	msg := err.Error()
	switch {
	case errors.Is(err, domain.ErrInvalidStatus):
		return newAPIError(http.StatusBadRequest, "invalid_status", msg, nil)
	case errors.Is(err, engine.ErrTerminalState):
		return newAPIError(http.StatusConflict, "terminal_state", msg, nil)
	case errors.Is(err, engine.ErrProjectUnderReview):
		return newAPIError(http.StatusConflict, "project_under_review", msg, nil)
	case errors.Is(err, engine.ErrInvalidCredentials):
		return newAPIError(http.StatusUnauthorized, "invalid_credentials", msg, nil)
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, repo.ErrDuplicate):
		return newAPIError(http.StatusConflict, "duplicate", msg, nil)
	case errors.Is(err, repo.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case errors.Is(err, engine.ErrInvalidInput),
		errors.Is(err, onlyoffice.ErrInvalidKey),
		errors.Is(err, storage.ErrInvalidKey):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case errors.Is(err, engine.ErrStorageUnavailable):
		return newAPIError(http.StatusServiceUnavailable, "storage_unavailable", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	public := map[string]bool{
		path.Join("/", basePath, "health"):                 true,
		path.Join("/", basePath, "auth", "login"):          true,
		path.Join("/", basePath, "onlyoffice", "callback"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>memtech API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; from /auth/login or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Exchange email and password for a session token",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body LoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		u, err := e.Authenticate(ctx, input.Body.Email, input.Body.Password)
		if err != nil {
			return nil, handleError(err)
		}
		token, claims, err := issueToken(authCfg, u, "", authCfg.ttl(), time.Now())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		authCfg.logger().Printf("login user=%s", u.ID)
		return &struct {
			Body LoginResponse `json:"body"`
		}{Body: LoginResponse{
			Token:     token,
			ExpiresAt: claims.ExpiresAt.UTC().Format(time.RFC3339),
			User:      u,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "logout",
		Method:        http.MethodPost,
		Path:          "/auth/logout",
		Summary:       "Revoke the current session token",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if principal.Source != "jwt" || principal.TokenID == "" || authCfg.Revoker == nil {
			return nil, nil
		}
		if err := authCfg.Revoker.Revoke(ctx, principal.TokenID, principal.ExpiresAt); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.GetUser(ctx, principal.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		caps := []string{}
		for _, c := range auth.CapabilitiesFor(u.Role) {
			caps = append(caps, string(c))
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: MeResponse{User: u, Source: principal.Source, Capabilities: caps}}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
	}, func(ctx context.Context, input *struct {
		Role string `query:"role" enum:"ADMIN,WRITER,REVIEWER"`
	}) (*struct {
		Body []domain.User `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListUsers(ctx, domain.Role(input.Role))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.User `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create user",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		u, err := e.CreateUser(ctx, b.Email, b.Password, engine.UserOptions{
			FirstName:  b.FirstName,
			LastName:   b.LastName,
			Role:       domain.Role(b.Role),
			Phone:      b.Phone,
			Department: b.Department,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-user",
		Method:      http.MethodPatch,
		Path:        "/users/{user_id}",
		Summary:     "Change the role or the active flag of a user",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		UserID string            `path:"user_id"`
		Body   UpdateUserRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		access := engine.UserAccess{IsActive: input.Body.IsActive}
		if input.Body.Role != nil {
			role := domain.Role(*input.Body.Role)
			access.Role = &role
		}
		u, err := e.UpdateUserAccess(ctx, input.UserID, access, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/users/{user_id}/api-keys",
		Summary:       "Issue an API key",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		UserID string              `path:"user_id"`
		Body   CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		key, plain, err := e.CreateAPIKey(ctx, input.UserID, input.Body.Name, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{APIKey: key, Key: plain}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/api-keys",
		Summary:     "List API keys",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if actor.UserID != input.UserID && !actor.IsAdmin() {
			return nil, handleError(auth.ForbiddenError{Permission: string(domain.RoleAdmin)})
		}
		keys, err := e.Repo.ListAPIKeys(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		out := []APIKeyResponse{}
		for _, k := range keys {
			out = append(out, APIKeyResponse{APIKey: k})
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-api-key",
		Method:        http.MethodDelete,
		Path:          "/users/{user_id}/api-keys/{key_id}",
		Summary:       "Revoke an API key",
		DefaultStatus: http.StatusNoContent,
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
		KeyID  string `path:"key_id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if actor.UserID != input.UserID && !actor.IsAdmin() {
			return nil, handleError(auth.ForbiddenError{Permission: string(domain.RoleAdmin)})
		}
		keys, err := e.Repo.ListAPIKeys(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		for _, k := range keys {
			if k.ID == input.KeyID {
				if err := e.Repo.DeleteAPIKey(ctx, k.ID); err != nil {
					return nil, handleError(err)
				}
				return nil, nil
			}
		}
		return nil, handleError(repo.ErrNotFound)
	})
}

func registerCatalog(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-document-types",
		Method:      http.MethodGet,
		Path:        "/document-types",
		Summary:     "List the document type catalog",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.DocumentType `json:"body"`
	}, error) {
		items, err := e.ListDocumentTypes(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.DocumentType `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-organizations",
		Method:      http.MethodGet,
		Path:        "/organizations",
		Summary:     "List contracting authorities (moa) and project managers (moe)",
	}, func(ctx context.Context, input *struct {
		Kind string `query:"kind" enum:"moa,moe"`
	}) (*struct {
		Body []domain.Organization `json:"body"`
	}, error) {
		items, err := e.ListOrganizations(ctx, domain.OrganizationKind(input.Kind))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Organization `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-organization",
		Method:        http.MethodPost,
		Path:          "/organizations",
		Summary:       "Create organization",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateOrganizationRequest `json:"body"`
	}) (*struct {
		Body domain.Organization `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.CreateOrganization(ctx, domain.OrganizationKind(input.Body.Kind), input.Body.Name, input.Body.Address, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Organization `json:"body"`
		}{Body: o}, nil
	})
}

type projectPath struct {
	ProjectID string `path:"project_id"`
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project with its required documents",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		p, docs, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
			ID:                b.ID,
			Name:              b.Name,
			MOEID:             b.MOEID,
			MOAID:             b.MOAID,
			OfferDeliveryDate: b.OfferDeliveryDate,
			DocumentTypes:     b.DocumentTypes,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: ProjectResponse{Project: p, Documents: docs}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		items, err := e.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		p, err := e.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		docs, err := e.ListProjectDocuments(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: ProjectResponse{Project: p, Documents: docs}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-progress",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/progress",
		Summary:     "Project completion and per-status counts",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body engine.ProjectProgress `json:"body"`
	}, error) {
		progress, err := e.ProjectProgress(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ProjectProgress `json:"body"`
		}{Body: progress}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recompute-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/recompute",
		Summary:     "Re-derive the project status from its documents",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		p, err := e.RecomputeProjectStatus(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/cancel",
		Summary:     "Cancel project",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CancelProject(ctx, input.ProjectID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-project",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}",
		Summary:       "Soft-delete project after password confirmation",
		DefaultStatus: http.StatusNoContent,
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      DeleteProjectRequest `json:"body"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.SoftDeleteProject(ctx, input.ProjectID, input.Body.Password, actor); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-project-documents",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/documents",
		Summary:     "List project documents",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body []domain.ProjectDocument `json:"body"`
	}, error) {
		docs, err := e.ListProjectDocuments(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ProjectDocument `json:"body"`
		}{Body: nonNilSlice(docs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-project-documents",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/documents",
		Summary:       "Link more catalog document types to a project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		Body      AddDocumentsRequest `json:"body"`
	}) (*struct {
		Body []domain.ProjectDocument `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		docs, err := e.AddRequiredDocuments(ctx, input.ProjectID, input.Body.DocumentTypes, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ProjectDocument `json:"body"`
		}{Body: nonNilSlice(docs)}, nil
	})
}

type documentPath struct {
	DocumentID string `path:"document_id"`
}

func registerDocuments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-document",
		Method:      http.MethodGet,
		Path:        "/documents/{document_id}",
		Summary:     "Get document",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *documentPath) (*struct {
		Body domain.ProjectDocument `json:"body"`
	}, error) {
		d, err := e.GetDocument(ctx, input.DocumentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProjectDocument `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-document",
		Method:      http.MethodPost,
		Path:        "/documents/{document_id}/transition",
		Summary:     "Move a document to another workflow status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		DocumentID string            `path:"document_id"`
		Body       TransitionRequest `json:"body"`
	}) (*struct {
		Body domain.ProjectDocument `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.Transition(ctx, input.DocumentID, input.Body.Status, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProjectDocument `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/documents/{document_id}/comments",
		Summary:       "Comment on a document",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		DocumentID string         `path:"document_id"`
		Body       CommentRequest `json:"body"`
	}) (*struct {
		Body domain.DocumentComment `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AddComment(ctx, input.DocumentID, input.Body.Content, input.Body.RequiresCorrection, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.DocumentComment `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-comment",
		Method:      http.MethodPost,
		Path:        "/comments/{comment_id}/resolve",
		Summary:     "Resolve a comment",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CommentID string `path:"comment_id"`
	}) (*struct {
		Body domain.DocumentComment `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.ResolveComment(ctx, input.CommentID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.DocumentComment `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-document",
		Method:      http.MethodPut,
		Path:        "/documents/{document_id}/assignment",
		Summary:     "Assign writer and reviewer",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		DocumentID string            `path:"document_id"`
		Body       AssignmentRequest `json:"body"`
	}) (*struct {
		Body domain.ProjectDocument `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.AssignRoles(ctx, input.DocumentID, input.Body.WriterID, input.Body.ReviewerID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProjectDocument `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-document-content",
		Method:      http.MethodPut,
		Path:        "/documents/{document_id}/content",
		Summary:     "Replace the document body",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		DocumentID string         `path:"document_id"`
		Body       ContentRequest `json:"body"`
	}) (*struct {
		Body domain.ProjectDocument `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.UpdateContent(ctx, input.DocumentID, input.Body.Content, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProjectDocument `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "document-history",
		Method:      http.MethodGet,
		Path:        "/documents/{document_id}/history",
		Summary:     "Status history and comments of a document",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *documentPath) (*struct {
		Body engine.DocumentHistory `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		h, err := e.History(ctx, input.DocumentID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.DocumentHistory `json:"body"`
		}{Body: h}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "attach-outline",
		Method:      http.MethodPost,
		Path:        "/documents/{document_id}/outline",
		Summary:     "Append the latest project outline to the document body",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *documentPath) (*struct {
		Body domain.ProjectDocument `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.AttachOutline(ctx, input.DocumentID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProjectDocument `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "insert-library-item",
		Method:      http.MethodPost,
		Path:        "/documents/{document_id}/library",
		Summary:     "Append a library item to the document body",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		DocumentID string                   `path:"document_id"`
		Body       InsertLibraryItemRequest `json:"body"`
	}) (*struct {
		Body domain.ProjectDocument `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.InsertLibraryItem(ctx, input.DocumentID, input.Body.ItemID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProjectDocument `json:"body"`
		}{Body: d}, nil
	})
}

func registerOutlines(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-references",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/references",
		Summary:     "List uploaded RC and CCTP files",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body []domain.ReferenceDocument `json:"body"`
	}, error) {
		items, err := e.ListReferences(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ReferenceDocument `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "analyze-reference",
		Method:      http.MethodPost,
		Path:        "/references/{reference_id}/analyze",
		Summary:     "Generate an outline from an uploaded RC",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ReferenceID string `path:"reference_id"`
	}) (*struct {
		Body engine.OutlineAnalysis `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.AnalyzeReference(ctx, input.ReferenceID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.OutlineAnalysis `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "analyze-text",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/outline",
		Summary:     "Generate an outline from pasted RC text",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		Body      AnalyzeTextRequest `json:"body"`
	}) (*struct {
		Body engine.OutlineAnalysis `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.AnalyzeText(ctx, input.ProjectID, input.Body.Text, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.OutlineAnalysis `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "latest-outline",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/outline",
		Summary:     "Latest generated outline",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body engine.OutlineAnalysis `json:"body"`
	}, error) {
		res, err := e.LatestOutline(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.OutlineAnalysis `json:"body"`
		}{Body: res}, nil
	})
}

func registerLibrary(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-library",
		Method:      http.MethodGet,
		Path:        "/library",
		Summary:     "Search the shared content library",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Category  string `query:"category"`
		Tag       string `query:"tag"`
		Query     string `query:"q"`
		Favorites bool   `query:"favorites"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.LibraryItem `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f := repo.LibraryFilter{
			Category: input.Category,
			Tag:      input.Tag,
			Query:    input.Query,
			Limit:    normalizeLimit(input.Limit),
		}
		if input.Favorites {
			f.FavoritesOf = actor.UserID
		}
		items, err := e.ListLibraryItems(ctx, f, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.LibraryItem `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-library-item",
		Method:        http.MethodPost,
		Path:          "/library",
		Summary:       "Add a library item",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body LibraryItemRequest `json:"body"`
	}) (*struct {
		Body domain.LibraryItem `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.CreateLibraryItem(ctx, libraryInput(input.Body), actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.LibraryItem `json:"body"`
		}{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-library-item",
		Method:      http.MethodPatch,
		Path:        "/library/{item_id}",
		Summary:     "Edit a library item",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ItemID string `path:"item_id"`
		Body   struct {
			Title   string   `json:"title,omitempty"`
			Content string   `json:"content,omitempty"`
			Tags    []string `json:"tags,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.LibraryItem `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.UpdateLibraryItem(ctx, input.ItemID, engine.LibraryItemInput{
			Title:   input.Body.Title,
			Content: input.Body.Content,
			Tags:    input.Body.Tags,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.LibraryItem `json:"body"`
		}{Body: it}, nil
	})

	for _, fav := range []struct {
		method string
		id     string
		on     bool
	}{
		{http.MethodPut, "favorite-library-item", true},
		{http.MethodDelete, "unfavorite-library-item", false},
	} {
		huma.Register(api, huma.Operation{
			OperationID:   fav.id,
			Method:        fav.method,
			Path:          "/library/{item_id}/favorite",
			Summary:       "Mark or unmark a library item as favorite",
			DefaultStatus: http.StatusNoContent,
			Errors:        []int{http.StatusNotFound},
		}, func(ctx context.Context, input *struct {
			ItemID string `path:"item_id"`
		}) (*struct{}, error) {
			actor, authErr := actorFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			if err := e.SetFavorite(ctx, input.ItemID, fav.on, actor); err != nil {
				return nil, handleError(err)
			}
			return nil, nil
		})
	}
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListEvents(ctx, input.ProjectID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		out := []EventResponse{}
		for _, evt := range items {
			out = append(out, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerOnlyOffice(api huma.API, e engine.Engine, oo onlyoffice.Service, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "editor-config",
		Method:      http.MethodGet,
		Path:        "/documents/{document_id}/editor-config",
		Summary:     "OnlyOffice editor configuration for a document",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *documentPath) (*struct {
		Body onlyoffice.Config `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.GetDocument(ctx, input.DocumentID)
		if err != nil {
			return nil, handleError(err)
		}
		u, err := e.GetUser(ctx, principal.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		fileToken, _, err := issueToken(authCfg, u, fileScope(d.ID), authCfg.ttl(), time.Now())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		cfg, err := oo.EditorConfig(d, u, fileToken)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body onlyoffice.Config `json:"body"`
		}{Body: cfg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "onlyoffice-callback",
		Method:      http.MethodPost,
		Path:        "/onlyoffice/callback",
		Summary:     "Document server save callback",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Authorization string                     `header:"Authorization"`
		Body          onlyoffice.CallbackRequest `json:"body"`
	}) (*struct {
		Body CallbackResponse `json:"body"`
	}, error) {
		cb, err := oo.VerifyCallback(input.Body, input.Authorization)
		if err != nil {
			return nil, newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
		}
		if _, err := oo.HandleCallback(ctx, cb); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CallbackResponse `json:"body"`
		}{Body: CallbackResponse{Error: 0}}, nil
	})
}

// registerFiles mounts the routes that stream bytes rather than JSON.
func registerFiles(r chi.Router, basePath string, e engine.Engine) {
	r.Post(path.Join(basePath, "projects", "{project_id}", "references"), func(w http.ResponseWriter, req *http.Request) {
		actor, authErr := actorFromContext(req.Context())
		if authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		if err := req.ParseMultipartForm(32 << 20); err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "multipart form required", map[string]any{"error": err.Error()}))
			return
		}
		file, header, err := req.FormFile("file")
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "file is required", nil))
			return
		}
		defer file.Close()
		ref, err := e.UploadReference(req.Context(), chi.URLParam(req, "project_id"), req.FormValue("kind"), header.Filename, file, header.Size, actor)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		respondJSON(w, http.StatusCreated, ref)
	})

	filePath := path.Join(basePath, "documents", "{document_id}", "file")
	r.Get(filePath, func(w http.ResponseWriter, req *http.Request) {
		if _, authErr := principalFromRequest(req.Context()); authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		rc, err := e.OpenDocumentFile(req.Context(), chi.URLParam(req, "document_id"))
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		defer rc.Close()
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.wordprocessingml.document")
		w.WriteHeader(http.StatusOK)
		io.Copy(w, rc)
	})

	r.Put(filePath, func(w http.ResponseWriter, req *http.Request) {
		actor, authErr := actorFromContext(req.Context())
		if authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		data := bodyBytes(req.Context())
		if len(data) == 0 {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil))
			return
		}
		key, err := e.SaveDocumentFile(req.Context(), chi.URLParam(req, "document_id"), bytes.NewReader(data), int64(len(data)), actor)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"key": key})
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func eventResponse(evt domain.Event) EventResponse {
	payload := map[string]any{}
	if evt.Payload != "" {
		_ = json.Unmarshal([]byte(evt.Payload), &payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		ProjectID:  evt.ProjectID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}
