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

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"goalline/internal/domain"
	"goalline/internal/engine"
	"goalline/internal/forecast"
	"goalline/internal/repo"
	"goalline/internal/rollup"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"cycle"`
	Message string         `json:"message" example:"linking g1 under g2 would create a cycle"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Goalline API.
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
	hcfg := huma.DefaultConfig("Goalline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerGoals(group, cfg.Engine)
	registerProgress(group, cfg.Engine)
	registerHierarchy(group, cfg.Engine)
	registerBulk(group, cfg.Engine)
	registerComments(group, cfg.Engine)
	registerNotifications(group, cfg.Engine)
	registerAudit(group, cfg.Engine)
	registerRules(group, cfg.Engine)
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
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ve.Field})
	}
	var ce engine.CycleError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "cycle", err.Error(), map[string]any{"child_goal_id": ce.ChildID, "parent_goal_id": ce.ParentID})
	}
	var le engine.AlreadyLinkedError
	if errors.As(err, &le) {
		return newAPIError(http.StatusConflict, "already_linked", err.Error(), map[string]any{"parent_goal_id": le.ParentID})
	}
	var te engine.TooManyItemsError
	if errors.As(err, &te) {
		return newAPIError(http.StatusBadRequest, "too_many_items", err.Error(), map[string]any{"requested": te.Requested, "max": te.Max})
	}
	var ie engine.InvalidOperationError
	if errors.As(err, &ie) {
		return newAPIError(http.StatusConflict, "invalid_operation", err.Error(), nil)
	}
	var cf engine.CalculationError
	if errors.As(err, &cf) {
		return newAPIError(http.StatusBadGateway, "calculation_failed", err.Error(), map[string]any{"goal_id": cf.GoalID})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusBadGateway:
		return "calculation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
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
    <title>Goalline API Docs</title>
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

type goalPath struct {
	GoalID string `path:"goal_id"`
}

func registerGoals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-goal",
		Method:        http.MethodPost,
		Path:          "/goals",
		Summary:       "Create goal",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateGoalRequest `json:"body"`
	}) (*struct {
		Body domain.Goal `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		g, err := e.CreateGoal(ctx, engine.GoalCreateOptions{
			ID:                strOrEmpty(input.Body.ID),
			Name:              input.Body.Name,
			Description:       strOrEmpty(input.Body.Description),
			Type:              input.Body.Type,
			OwnerType:         strOrEmpty(input.Body.OwnerType),
			OwnerID:           strOrEmpty(input.Body.OwnerID),
			Timeframe:         strOrEmpty(input.Body.Timeframe),
			StartDate:         input.Body.StartDate,
			EndDate:           input.Body.EndDate,
			TargetValue:       input.Body.TargetValue,
			CalculationSource: strOrEmpty(input.Body.CalculationSource),
			ParentID:          strOrEmpty(input.Body.ParentGoalID),
			Weight:            floatOr(input.Body.Weight, 0),
			ActorID:           actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Goal `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-goals",
		Method:      http.MethodGet,
		Path:        "/goals",
		Summary:     "List goals",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status            string `query:"status" enum:"draft,active,completed,cancelled"`
		Type              string `query:"type"`
		OwnerType         string `query:"owner_type"`
		OwnerID           string `query:"owner_id"`
		Timeframe         string `query:"timeframe"`
		CalculationSource string `query:"calculation_source"`
		ParentID          string `query:"parent_id"`
		Limit             int    `query:"limit"`
		Cursor            string `query:"cursor"`
	}) (*struct {
		Body paginatedGoals `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 200 {
			limit = 50
		}
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListGoals(ctx, repo.GoalFilters{
			Status:            input.Status,
			Type:              input.Type,
			OwnerType:         input.OwnerType,
			OwnerID:           input.OwnerID,
			Timeframe:         input.Timeframe,
			CalculationSource: input.CalculationSource,
			ParentID:          input.ParentID,
			Limit:             limit + 1,
			CursorCreatedAt:   cursorCreated,
			CursorID:          cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedGoals{}
		if len(items) > limit {
			items = items[:limit]
			last := items[len(items)-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
		}
		resp.Items = nonNilSlice(items)
		return &struct {
			Body paginatedGoals `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-goal",
		Method:      http.MethodGet,
		Path:        "/goals/{goal_id}",
		Summary:     "Get goal",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *goalPath) (*struct {
		Body domain.Goal `json:"body"`
	}, error) {
		g, err := e.Repo.GetGoal(ctx, input.GoalID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Goal `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-goal",
		Method:      http.MethodPatch,
		Path:        "/goals/{goal_id}",
		Summary:     "Update goal",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GoalID string            `path:"goal_id"`
		Body   UpdateGoalRequest `json:"body"`
	}) (*struct {
		Body domain.Goal `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		g, err := e.UpdateGoal(ctx, input.GoalID, engine.GoalUpdateOptions{
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Type:        input.Body.Type,
			Timeframe:   input.Body.Timeframe,
			StartDate:   input.Body.StartDate,
			EndDate:     input.Body.EndDate,
			TargetValue: input.Body.TargetValue,
			ClearTarget: input.Body.ClearTarget,
			OwnerType:   input.Body.OwnerType,
			OwnerID:     input.Body.OwnerID,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Goal `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-goal",
		Method:        http.MethodDelete,
		Path:          "/goals/{goal_id}",
		Summary:       "Delete goal",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *goalPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteGoal(ctx, input.GoalID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "goal-status-summary",
		Method:      http.MethodGet,
		Path:        "/goals-summary",
		Summary:     "Goal counts by status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatusSummaryResponse `json:"body"`
	}, error) {
		counts, err := e.Repo.CountGoalsByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		total := 0
		for _, c := range counts {
			total += c.Count
		}
		return &struct {
			Body StatusSummaryResponse `json:"body"`
		}{Body: StatusSummaryResponse{Counts: nonNilSlice(counts), Total: total}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "goal-analytics",
		Method:      http.MethodGet,
		Path:        "/goals-analytics",
		Summary:     "Goal analytics",
		Description: "Completion rate, average progress and per-status/per-type breakdowns across all goals.",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Analytics `json:"body"`
	}, error) {
		a, err := e.Analytics(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		a.ByStatus = nonNilSlice(a.ByStatus)
		a.ByType = nonNilSlice(a.ByType)
		return &struct {
			Body domain.Analytics `json:"body"`
		}{Body: a}, nil
	})
}

func registerProgress(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "adjust-progress",
		Method:      http.MethodPost,
		Path:        "/goals/{goal_id}/adjust",
		Summary:     "Manually adjust progress",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GoalID string              `path:"goal_id"`
		Body   ManualAdjustRequest `json:"body"`
	}) (*struct {
		Body domain.Goal `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		g, err := e.ManualAdjust(ctx, input.GoalID, input.Body.NewProgress, input.Body.Justification, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Goal `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recalculate-progress",
		Method:      http.MethodPost,
		Path:        "/goals/{goal_id}/recalculate",
		Summary:     "Recalculate progress from the signal source",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, input *goalPath) (*struct {
		Body domain.Goal `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		g, err := e.Recalculate(ctx, input.GoalID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Goal `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-status",
		Method:      http.MethodPost,
		Path:        "/goals/{goal_id}/status",
		Summary:     "Change goal status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		GoalID string              `path:"goal_id"`
		Body   ChangeStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Goal `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		g, err := e.ChangeStatus(ctx, input.GoalID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Goal `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-snapshot",
		Method:        http.MethodPost,
		Path:          "/goals/{goal_id}/snapshot",
		Summary:       "Record a daily progress snapshot",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *goalPath) (*struct {
		Body domain.ProgressSnapshot `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.RecordSnapshot(ctx, input.GoalID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProgressSnapshot `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "progress-history",
		Method:      http.MethodGet,
		Path:        "/goals/{goal_id}/history",
		Summary:     "Progress history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GoalID string `path:"goal_id"`
		Source string `query:"source" enum:"daily_snapshot,manual_adjustment,significant_change,status_change"`
		Since  string `query:"since" format:"date-time"`
		Until  string `query:"until" format:"date-time"`
		Limit  int    `query:"limit"`
	}) (*struct {
		Body []domain.ProgressSnapshot `json:"body"`
	}, error) {
		if _, err := e.Repo.GetGoal(ctx, input.GoalID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListSnapshots(ctx, repo.SnapshotFilters{
			GoalID: input.GoalID,
			Source: input.Source,
			Since:  input.Since,
			Until:  input.Until,
			Limit:  input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ProgressSnapshot `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "goal-forecast",
		Method:      http.MethodGet,
		Path:        "/goals/{goal_id}/forecast",
		Summary:     "Forecast goal completion",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *goalPath) (*struct {
		Body forecast.Result `json:"body"`
	}, error) {
		g, err := e.Repo.GetGoal(ctx, input.GoalID)
		if err != nil {
			return nil, handleError(err)
		}
		snapshots, err := e.Repo.ListSnapshots(ctx, repo.SnapshotFilters{GoalID: g.ID})
		if err != nil {
			return nil, handleError(err)
		}
		res := forecast.Compute(g, snapshots, e.Rules, e.Now().UTC())
		return &struct {
			Body forecast.Result `json:"body"`
		}{Body: res}, nil
	})
}

func registerHierarchy(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "link-parent",
		Method:        http.MethodPost,
		Path:          "/goals/{goal_id}/link-parent",
		Summary:       "Attach goal under a parent",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		GoalID string            `path:"goal_id"`
		Body   LinkParentRequest `json:"body"`
	}) (*struct {
		Body domain.HierarchyLink `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.ParentGoalID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "parent_goal_id is required", nil)
		}
		link, err := e.Attach(ctx, input.GoalID, input.Body.ParentGoalID, floatOr(input.Body.Weight, 0), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.HierarchyLink `json:"body"`
		}{Body: link}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "unlink-parent",
		Method:        http.MethodPost,
		Path:          "/goals/{goal_id}/unlink-parent",
		Summary:       "Detach goal from its parent",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *goalPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Detach(ctx, input.GoalID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "goal-hierarchy",
		Method:      http.MethodGet,
		Path:        "/goals/{goal_id}/hierarchy",
		Summary:     "Goal with rollup over its direct children",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *goalPath) (*struct {
		Body HierarchyResponse `json:"body"`
	}, error) {
		g, err := e.Repo.GetGoal(ctx, input.GoalID)
		if err != nil {
			return nil, handleError(err)
		}
		links, err := e.Repo.ChildrenOf(ctx, g.ID)
		if err != nil {
			return nil, handleError(err)
		}
		children := make([]domain.Goal, 0, len(links))
		for _, l := range links {
			child, err := e.Repo.GetGoal(ctx, l.ChildGoalID)
			if err != nil {
				return nil, handleError(err)
			}
			children = append(children, child)
		}
		return &struct {
			Body HierarchyResponse `json:"body"`
		}{Body: HierarchyResponse{
			Goal:     g,
			Rollup:   rollup.Compute(g.ID, children),
			Children: children,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "goal-tree",
		Method:      http.MethodGet,
		Path:        "/goals-tree",
		Summary:     "Full goal hierarchy",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []*rollup.Node `json:"body"`
	}, error) {
		goals, err := e.Repo.ListGoals(ctx, repo.GoalFilters{})
		if err != nil {
			return nil, handleError(err)
		}
		links, err := e.Repo.AllLinks(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		tree := rollup.BuildTree(goals, links)
		return &struct {
			Body []*rollup.Node `json:"body"`
		}{Body: nonNilSlice(tree)}, nil
	})
}

func registerBulk(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "bulk-delete",
		Method:      http.MethodPost,
		Path:        "/goals/bulk-delete",
		Summary:     "Delete a bounded set of goals",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body BulkDeleteRequest `json:"body"`
	}) (*struct {
		Body engine.BulkResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !input.Body.Confirmation {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "confirmation is required for bulk delete", nil)
		}
		res, err := e.BulkDelete(ctx, input.Body.GoalIDs, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		res.Succeeded = nonNilSlice(res.Succeeded)
		res.Failed = nonNilSlice(res.Failed)
		return &struct {
			Body engine.BulkResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "bulk-status",
		Method:      http.MethodPost,
		Path:        "/goals/bulk-status",
		Summary:     "Change status on a bounded set of goals",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body BulkStatusRequest `json:"body"`
	}) (*struct {
		Body engine.BulkResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.BulkStatusChange(ctx, input.Body.GoalIDs, input.Body.NewStatus, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		res.Succeeded = nonNilSlice(res.Succeeded)
		res.Failed = nonNilSlice(res.Failed)
		return &struct {
			Body engine.BulkResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerComments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/goals/{goal_id}/comments",
		Summary:       "Add comment",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GoalID string         `path:"goal_id"`
		Body   CommentRequest `json:"body"`
	}) (*struct {
		Body domain.Comment `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AddComment(ctx, input.GoalID, input.Body.Body, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Comment `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/goals/{goal_id}/comments",
		Summary:     "List comments",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *goalPath) (*struct {
		Body []domain.Comment `json:"body"`
	}, error) {
		if _, err := e.Repo.GetGoal(ctx, input.GoalID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListComments(ctx, input.GoalID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Comment `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "edit-comment",
		Method:      http.MethodPatch,
		Path:        "/goals/{goal_id}/comments/{comment_id}",
		Summary:     "Edit comment",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		GoalID    string         `path:"goal_id"`
		CommentID string         `path:"comment_id"`
		Body      CommentRequest `json:"body"`
	}) (*struct {
		Body domain.Comment `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.EditComment(ctx, input.CommentID, input.Body.Body, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Comment `json:"body"`
		}{Body: c}, nil
	})
}

func registerNotifications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/goals/{goal_id}/notifications",
		Summary:     "List notifications for a goal",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GoalID string `path:"goal_id"`
		Unsent bool   `query:"unsent"`
	}) (*struct {
		Body []domain.Notification `json:"body"`
	}, error) {
		if _, err := e.Repo.GetGoal(ctx, input.GoalID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListNotifications(ctx, input.GoalID, input.Unsent, 0)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Notification `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "evaluate-alerts",
		Method:      http.MethodPost,
		Path:        "/goals/{goal_id}/alerts",
		Summary:     "Evaluate at-risk and overdue alerts for a goal",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *goalPath) (*struct {
		Body []domain.Notification `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.EvaluateAlerts(ctx, input.GoalID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Notification `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "goal-audit-log",
		Method:      http.MethodGet,
		Path:        "/goals/{goal_id}/audit",
		Summary:     "Audit trail",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GoalID    string `path:"goal_id"`
		EventType string `query:"event_type" enum:"create,update,delete,progress_update,status_change,ownership_change,calculation_event,hierarchy_change"`
		ActorID   string `query:"actor_id"`
		AfterID   int64  `query:"after_id"`
		Limit     int    `query:"limit"`
	}) (*struct {
		Body []domain.AuditEntry `json:"body"`
	}, error) {
		if _, err := e.Repo.GetGoal(ctx, input.GoalID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListAuditEntries(ctx, repo.AuditFilters{
			GoalID:    input.GoalID,
			EventType: input.EventType,
			ActorID:   input.ActorID,
			AfterID:   input.AfterID,
			Limit:     input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.AuditEntry `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

func registerRules(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-rules",
		Method:      http.MethodGet,
		Path:        "/rules",
		Summary:     "Active rule set",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		out, err := e.Rules.ToYAML()
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{"yaml": out}}, nil
	})
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
