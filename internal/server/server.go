package server

import (
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

	"modgate/internal/apperr"
	"modgate/internal/app"
	"modgate/internal/domain"
	"modgate/internal/engine"
	"modgate/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"cannot approve a workflow in status approved"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Modgate API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Modgate API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerAccounts(group, cfg.Engine)
	registerProfiles(group, cfg.Engine)
	registerApplications(group, cfg.Engine)
	registerWorkflows(group, cfg.Engine)
	registerContent(group, cfg.Engine)
	registerNotifications(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine, cfg.Auth.logger())

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

// handleError maps the engine's error taxonomy onto HTTP statuses.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch apperr.KindOf(err) {
	case apperr.NotFound:
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case apperr.Unauthorized:
		return newAPIError(http.StatusForbidden, "forbidden", msg, nil)
	case apperr.InvalidTransition:
		return newAPIError(http.StatusUnprocessableEntity, "invalid_transition", msg, nil)
	case apperr.ValidationError:
		return newAPIError(http.StatusBadRequest, "validation_error", msg, nil)
	case apperr.Conflict:
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation_error"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "invalid_transition"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// resolveActor turns the authenticated principal into an actor with a
// freshly projected role. Roles are never cached across requests.
func resolveActor(ctx context.Context, e engine.Engine) (engine.Actor, huma.StatusError) {
	accountID, authErr := accountIDFromContext(ctx)
	if authErr != nil {
		return engine.Actor{}, authErr
	}
	actor, err := app.ResolveActor(ctx, e, accountID)
	if err != nil {
		return engine.Actor{}, handleError(err)
	}
	return actor, nil
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
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
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
    <title>Modgate API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
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

func registerAccounts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-account",
		Method:        http.MethodPost,
		Path:          "/accounts",
		Summary:       "Create account",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateAccountRequest `json:"body"`
	}) (*struct {
		Body AccountResponse `json:"body"`
	}, error) {
		a, err := e.CreateAccount(ctx, input.Body.Email)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AccountResponse `json:"body"`
		}{Body: accountResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-account",
		Method:      http.MethodGet,
		Path:        "/accounts/{id}",
		Summary:     "Get account",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body AccountResponse `json:"body"`
	}, error) {
		a, err := e.Repo.GetAccount(ctx, input.ID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, newAPIError(http.StatusNotFound, "not_found", "account not found", nil)
			}
			return nil, handleError(err)
		}
		return &struct {
			Body AccountResponse `json:"body"`
		}{Body: accountResponse(a)}, nil
	})
}

func registerProfiles(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-profile",
		Method:      http.MethodGet,
		Path:        "/profiles/{id}",
		Summary:     "Get profile",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ProfileResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetProfile(ctx, input.ID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, newAPIError(http.StatusNotFound, "not_found", "profile not found", nil)
			}
			return nil, handleError(err)
		}
		return &struct {
			Body ProfileResponse `json:"body"`
		}{Body: profileResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-profiles",
		Method:      http.MethodGet,
		Path:        "/profiles",
		Summary:     "List profiles",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
		Search string `query:"search"`
		Limit  int    `query:"limit" default:"50"`
		Offset int    `query:"offset"`
	}) (*struct {
		Body []ProfileResponse `json:"body"`
	}, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if actor.Role != domain.RoleAdmin {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "listing profiles requires the admin role", nil)
		}
		items, err := e.Repo.ListProfiles(ctx, repo.Filter{
			Status: input.Status,
			Search: input.Search,
			Limit:  normalizeLimit(input.Limit),
			Offset: input.Offset,
		})
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]ProfileResponse, 0, len(items))
		for _, p := range items {
			res = append(res, profileResponse(p))
		}
		return &struct {
			Body []ProfileResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-profile",
		Method:      http.MethodPatch,
		Path:        "/profiles/{id}",
		Summary:     "Update profile",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body struct {
			Name       *string `json:"name,omitempty"`
			Bio        *string `json:"bio,omitempty"`
			AdminNotes *string `json:"admin_notes,omitempty"`
			Version    int64   `json:"version"`
		} `json:"body"`
	}) (*struct {
		Body ProfileResponse `json:"body"`
	}, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetProfile(ctx, input.ID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, newAPIError(http.StatusNotFound, "not_found", "profile not found", nil)
			}
			return nil, handleError(err)
		}
		if p.AccountID != actor.AccountID && actor.Role != domain.RoleAdmin {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "profile is not owned by the caller", nil)
		}
		if input.Body.AdminNotes != nil && actor.Role != domain.RoleAdmin {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "admin notes require the admin role", nil)
		}
		if input.Body.Name != nil {
			p.Name = *input.Body.Name
		}
		if input.Body.Bio != nil {
			p.Bio = input.Body.Bio
		}
		if input.Body.AdminNotes != nil {
			p.AdminNotes = input.Body.AdminNotes
		}
		p.Version = input.Body.Version
		p.UpdatedAt = nowRFC3339()
		if err := e.Repo.UpdateProfile(ctx, p); err != nil {
			if errors.Is(err, repo.ErrVersionMismatch) {
				return nil, newAPIError(http.StatusConflict, "conflict", "profile was modified concurrently", nil)
			}
			if errors.Is(err, repo.ErrNotFound) {
				return nil, newAPIError(http.StatusNotFound, "not_found", "profile not found", nil)
			}
			return nil, handleError(err)
		}
		p, err = e.Repo.GetProfile(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProfileResponse `json:"body"`
		}{Body: profileResponse(p)}, nil
	})
}

func registerApplications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-application",
		Method:        http.MethodPost,
		Path:          "/applications",
		Summary:       "Submit creator application",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Name string `json:"name,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body ApplicationResponse `json:"body"`
	}, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.SubmitCreatorApplication(ctx, actor, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ApplicationResponse `json:"body"`
		}{Body: applicationResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-applications",
		Method:      http.MethodGet,
		Path:        "/applications",
		Summary:     "List applications",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		AccountID string `query:"account_id"`
		Status    string `query:"status"`
		Limit     int    `query:"limit" default:"50"`
		Offset    int    `query:"offset"`
	}) (*struct {
		Body []ApplicationResponse `json:"body"`
	}, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		// Non-admins only see their own history.
		accountID := input.AccountID
		if actor.Role != domain.RoleAdmin {
			accountID = actor.AccountID
		}
		items, err := e.Repo.ListApplications(ctx, repo.ApplicationFilters{
			AccountID: accountID,
			Status:    input.Status,
			Limit:     normalizeLimit(input.Limit),
			Offset:    input.Offset,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ApplicationResponse `json:"body"`
		}{Body: mapApplications(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-application",
		Method:      http.MethodGet,
		Path:        "/applications/{id}",
		Summary:     "Get application",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ApplicationResponse `json:"body"`
	}, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.Repo.GetApplication(ctx, input.ID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, newAPIError(http.StatusNotFound, "not_found", "application not found", nil)
			}
			return nil, handleError(err)
		}
		if a.AccountID != actor.AccountID && actor.Role != domain.RoleAdmin {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "application is not owned by the caller", nil)
		}
		return &struct {
			Body ApplicationResponse `json:"body"`
		}{Body: applicationResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "moderate-application",
		Method:      http.MethodPost,
		Path:        "/applications/{id}/moderate",
		Summary:     "Approve or reject application",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body ModerateRequest `json:"body"`
	}) (*struct {
		Body ApplicationResponse `json:"body"`
	}, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		a, _, err := e.ModerateApplication(ctx, actor, input.ID, domain.Action(input.Body.Action), input.Body.Version, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ApplicationResponse `json:"body"`
		}{Body: applicationResponse(a)}, nil
	})
}

func registerWorkflows(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-workflow",
		Method:        http.MethodPost,
		Path:          "/workflows",
		Summary:       "Submit workflow",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Body SubmitWorkflowRequest `json:"body"`
	}) (*struct {
		Body WorkflowResponse `json:"body"`
	}, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.SubmitWorkflow(ctx, actor, input.Body.ProfileID, input.Body.Title, input.Body.BodyJSON)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkflowResponse `json:"body"`
		}{Body: workflowResponse(w)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workflows",
		Method:      http.MethodGet,
		Path:        "/workflows",
		Summary:     "List workflows",
	}, func(ctx context.Context, input *struct {
		OwnerProfileID string `query:"owner_profile_id"`
		Status         string `query:"status"`
		Search         string `query:"search"`
		Limit          int    `query:"limit" default:"50"`
		Offset         int    `query:"offset"`
	}) (*struct {
		Body []WorkflowResponse `json:"body"`
	}, error) {
		if _, authErr := resolveActor(ctx, e); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListWorkflows(ctx, repo.WorkflowFilters{
			OwnerProfileID: input.OwnerProfileID,
			Status:         input.Status,
			Search:         input.Search,
			Limit:          normalizeLimit(input.Limit),
			Offset:         input.Offset,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []WorkflowResponse `json:"body"`
		}{Body: mapWorkflows(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workflow",
		Method:      http.MethodGet,
		Path:        "/workflows/{id}",
		Summary:     "Get workflow",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body WorkflowResponse `json:"body"`
	}, error) {
		if _, authErr := resolveActor(ctx, e); authErr != nil {
			return nil, authErr
		}
		w, err := e.Repo.GetWorkflow(ctx, input.ID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, newAPIError(http.StatusNotFound, "not_found", "workflow not found", nil)
			}
			return nil, handleError(err)
		}
		return &struct {
			Body WorkflowResponse `json:"body"`
		}{Body: workflowResponse(w)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "moderate-workflow",
		Method:      http.MethodPost,
		Path:        "/workflows/{id}/moderate",
		Summary:     "Approve or reject workflow",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body ModerateRequest `json:"body"`
	}) (*struct {
		Body WorkflowResponse `json:"body"`
	}, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		w, _, err := e.ModerateWorkflow(ctx, actor, input.ID, domain.Action(input.Body.Action), input.Body.Version, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkflowResponse `json:"body"`
		}{Body: workflowResponse(w)}, nil
	})
}

func registerContent(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-content",
		Method:        http.MethodPost,
		Path:          "/content",
		Summary:       "Create content item",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateContentRequest `json:"body"`
	}) (*struct {
		Body ContentResponse `json:"body"`
	}, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateContentItem(ctx, actor, input.Body.Kind, input.Body.Title, input.Body.IsFeatured)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ContentResponse `json:"body"`
		}{Body: contentResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-content",
		Method:      http.MethodGet,
		Path:        "/content",
		Summary:     "List content items",
	}, func(ctx context.Context, input *struct {
		Kind   string `query:"kind"`
		Status string `query:"status"`
		Search string `query:"search"`
		Limit  int    `query:"limit" default:"50"`
		Offset int    `query:"offset"`
	}) (*struct {
		Body []ContentResponse `json:"body"`
	}, error) {
		if _, authErr := resolveActor(ctx, e); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListContentItems(ctx, repo.ContentFilters{
			Kind:   input.Kind,
			Status: input.Status,
			Search: input.Search,
			Limit:  normalizeLimit(input.Limit),
			Offset: input.Offset,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ContentResponse `json:"body"`
		}{Body: mapContent(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-content",
		Method:      http.MethodGet,
		Path:        "/content/{id}",
		Summary:     "Get content item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ContentResponse `json:"body"`
	}, error) {
		if _, authErr := resolveActor(ctx, e); authErr != nil {
			return nil, authErr
		}
		c, err := e.Repo.GetContentItem(ctx, input.ID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, newAPIError(http.StatusNotFound, "not_found", "content item not found", nil)
			}
			return nil, handleError(err)
		}
		return &struct {
			Body ContentResponse `json:"body"`
		}{Body: contentResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-content",
		Method:      http.MethodPost,
		Path:        "/content/{id}/transition",
		Summary:     "Publish, archive or cancel content",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                   `path:"id"`
		Body TransitionContentRequest `json:"body"`
	}) (*struct {
		Body ContentResponse `json:"body"`
	}, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		c, _, err := e.TransitionContent(ctx, actor, input.ID, domain.Action(input.Body.Action), input.Body.Version)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ContentResponse `json:"body"`
		}{Body: contentResponse(c)}, nil
	})
}

func registerNotifications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "List my notifications",
	}, func(ctx context.Context, input *struct {
		Unread bool `query:"unread"`
		Limit  int  `query:"limit" default:"50"`
		Offset int  `query:"offset"`
	}) (*struct {
		Body []NotificationResponse `json:"body"`
	}, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListNotifications(ctx, repo.NotificationFilters{
			RecipientAccountID: actor.AccountID,
			UnreadOnly:         input.Unread,
			Limit:              normalizeLimit(input.Limit),
			Offset:             input.Offset,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []NotificationResponse `json:"body"`
		}{Body: mapNotifications(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "read-notification",
		Method:      http.MethodPost,
		Path:        "/notifications/{id}/read",
		Summary:     "Mark notification as read",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body NotificationResponse `json:"body"`
	}, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.Repo.GetNotification(ctx, input.ID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, newAPIError(http.StatusNotFound, "not_found", "notification not found", nil)
			}
			return nil, handleError(err)
		}
		if n.RecipientAccountID != actor.AccountID && actor.Role != domain.RoleAdmin {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "notification belongs to another account", nil)
		}
		if err := e.Repo.MarkNotificationRead(ctx, input.ID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, newAPIError(http.StatusNotFound, "not_found", "notification not found", nil)
			}
			return nil, handleError(err)
		}
		n.Read = true
		return &struct {
			Body NotificationResponse `json:"body"`
		}{Body: notificationResponse(n)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "entity-events",
		Method:      http.MethodGet,
		Path:        "/events/{entity_kind}/{entity_id}",
		Summary:     "Audit trail for one entity",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		EntityKind string `path:"entity_kind" enum:"creator_application,workflow,content_item"`
		EntityID   string `path:"entity_id"`
	}) (*struct {
		Body []TransitionEventResponse `json:"body"`
	}, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if actor.Role != domain.RoleAdmin {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "the audit trail requires the admin role", nil)
		}
		items, err := e.Repo.ListTransitions(ctx, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TransitionEventResponse `json:"body"`
		}{Body: mapTransitions(items)}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current account, projected role and profile",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		res := MeResponse{AccountID: actor.AccountID, Role: string(actor.Role)}
		if p, err := e.Repo.GetProfileByAccount(ctx, actor.AccountID); err == nil {
			pr := profileResponse(p)
			res.Profile = &pr
		} else if !errors.Is(err, repo.ErrNotFound) {
			return nil, handleError(err)
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: res}, nil
	})
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 200 {
		return 200
	}
	return limit
}
