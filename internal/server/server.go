// Package server exposes the commitment engine over HTTP.
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

	"stakeline/internal/domain"
	"stakeline/internal/engine"
	"stakeline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"cannot activate commitment in status completed"`
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

// New returns an HTTP handler exposing the Stakeline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
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
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyData, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyData))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyData)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Stakeline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerCommitments(group, cfg.Engine)
	registerComplaints(group, cfg.Engine)
	registerVerifications(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
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
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), map[string]any{"field": ve.Field})
	}
	var te engine.InvalidTransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{"status": te.Status})
	}
	var ce engine.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
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
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
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
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Stakeline API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt;.
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

type commitmentBody struct {
	Body domain.Commitment `json:"body"`
}

func commitmentOut(c domain.Commitment) *commitmentBody {
	return &commitmentBody{Body: c}
}

func registerCommitments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-commitment",
		Method:        http.MethodPost,
		Path:          "/commitments",
		Summary:       "Create commitment",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateCommitmentRequest `json:"body"`
	}) (*commitmentBody, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.CreateOptions{
			UserID:           userID,
			Title:            input.Body.Title,
			Frequency:        input.Body.Frequency,
			StakeType:        input.Body.StakeType,
			Currency:         input.Body.Currency,
			Leniency:         input.Body.Leniency,
			EvidenceRequired: input.Body.EvidenceRequired,
			EvidenceType:     input.Body.EvidenceType,
			ActorID:          userID,
		}
		if input.Body.Description != nil {
			opts.Description = *input.Body.Description
		}
		if input.Body.StakeAmount != nil {
			opts.StakeAmount = *input.Body.StakeAmount
		}
		if input.Body.StartTime != nil {
			t, err := time.Parse(time.RFC3339, *input.Body.StartTime)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid start_time", map[string]any{"start_time": *input.Body.StartTime})
			}
			opts.StartTime = t
		}
		if input.Body.EndTime != "" {
			t, err := time.Parse(time.RFC3339, input.Body.EndTime)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid end_time", map[string]any{"end_time": input.Body.EndTime})
			}
			opts.EndTime = t
		}
		c, err := e.Create(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return commitmentOut(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-commitments",
		Method:      http.MethodGet,
		Path:        "/commitments",
		Summary:     "List commitments",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		UserID string `query:"user_id"`
		Status string `query:"status" enum:",draft,active,paused,under_review,completed,failed,cancelled,appealed"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Commitment `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		filterUser := input.UserID
		p, _ := principalFromContext(ctx)
		if filterUser == "" && !p.HasRole(RoleReviewer) {
			filterUser = userID
		}
		items, err := e.Repo.ListCommitments(ctx, repo.CommitmentFilters{
			UserID: filterUser,
			Status: input.Status,
			Limit:  normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Commitment{}
		}
		return &struct {
			Body []domain.Commitment `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-commitment",
		Method:      http.MethodGet,
		Path:        "/commitments/{id}",
		Summary:     "Get commitment",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*commitmentBody, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		c, err := e.Repo.GetCommitment(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return commitmentOut(c), nil
	})

	transition := func(opID, pathSuffix, summary string, run func(ctx context.Context, id, userID string) (domain.Commitment, error)) {
		huma.Register(api, huma.Operation{
			OperationID: opID,
			Method:      http.MethodPost,
			Path:        "/commitments/{id}/" + pathSuffix,
			Summary:     summary,
			Errors: []int{
				http.StatusBadRequest,
				http.StatusUnauthorized,
				http.StatusNotFound,
				http.StatusConflict,
			},
		}, func(ctx context.Context, input *struct {
			ID string `path:"id"`
		}) (*commitmentBody, error) {
			userID, authErr := userIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			c, err := run(ctx, input.ID, userID)
			if err != nil {
				return nil, handleError(err)
			}
			return commitmentOut(c), nil
		})
	}

	transition("activate-commitment", "activate", "Activate commitment", func(ctx context.Context, id, userID string) (domain.Commitment, error) {
		return e.Activate(ctx, id, userID)
	})
	transition("pause-commitment", "pause", "Pause commitment", func(ctx context.Context, id, userID string) (domain.Commitment, error) {
		return e.Pause(ctx, id, userID)
	})
	transition("resume-commitment", "resume", "Resume commitment", func(ctx context.Context, id, userID string) (domain.Commitment, error) {
		return e.Resume(ctx, id, userID)
	})
	transition("cancel-commitment", "cancel", "Cancel commitment", func(ctx context.Context, id, userID string) (domain.Commitment, error) {
		return e.Cancel(ctx, id, userID)
	})
	transition("complete-commitment", "complete", "Mark commitment completed", func(ctx context.Context, id, userID string) (domain.Commitment, error) {
		c, _, err := e.MarkCompleted(ctx, id, userID)
		return c, err
	})

	huma.Register(api, huma.Operation{
		OperationID: "fail-commitment",
		Method:      http.MethodPost,
		Path:        "/commitments/{id}/fail",
		Summary:     "Mark commitment failed",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body FailCommitmentRequest `json:"body"`
	}) (*commitmentBody, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, _, err := e.MarkFailed(ctx, input.ID, userID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return commitmentOut(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-evidence",
		Method:      http.MethodPost,
		Path:        "/commitments/{id}/evidence",
		Summary:     "Submit evidence",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body SubmitEvidenceRequest `json:"body"`
	}) (*commitmentBody, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.SubmitEvidence(ctx, engine.SubmitEvidenceOptions{
			ID:           input.ID,
			EvidenceType: input.Body.EvidenceType,
			EvidenceFile: input.Body.EvidenceFile,
			EvidenceText: input.Body.EvidenceText,
			ActorID:      userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return commitmentOut(c), nil
	})
}

type complaintBody struct {
	Body domain.Complaint `json:"body"`
}

func registerComplaints(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "file-complaint",
		Method:        http.MethodPost,
		Path:          "/commitments/{id}/complaints",
		Summary:       "File complaint against a failed commitment",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body FileComplaintRequest `json:"body"`
	}) (*complaintBody, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.FileComplaint(ctx, engine.FileComplaintOptions{
			UserID:         userID,
			CommitmentID:   input.ID,
			ReasonCategory: input.Body.ReasonCategory,
			Description:    input.Body.Description,
			EvidenceFile:   input.Body.EvidenceFile,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &complaintBody{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-complaints",
		Method:      http.MethodGet,
		Path:        "/complaints",
		Summary:     "List complaints",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		UserID       string `query:"user_id"`
		CommitmentID string `query:"commitment_id"`
		Status       string `query:"status" enum:",pending,under_review,approved,rejected"`
		Limit        int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Complaint `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		filterUser := input.UserID
		p, _ := principalFromContext(ctx)
		if filterUser == "" && !p.HasRole(RoleReviewer) {
			filterUser = userID
		}
		items, err := e.Repo.ListComplaints(ctx, repo.ComplaintFilters{
			UserID:       filterUser,
			CommitmentID: input.CommitmentID,
			Status:       input.Status,
			Limit:        normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Complaint{}
		}
		return &struct {
			Body []domain.Complaint `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-complaint",
		Method:      http.MethodGet,
		Path:        "/complaints/{id}",
		Summary:     "Get complaint",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*complaintBody, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		c, err := e.Repo.GetComplaint(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &complaintBody{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-complaint",
		Method:      http.MethodPost,
		Path:        "/complaints/{id}/approve",
		Summary:     "Approve complaint",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                 `path:"id"`
		Body ReviewComplaintRequest `json:"body"`
	}) (*complaintBody, error) {
		reviewerID, authErr := requireReviewer(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.ApproveComplaint(ctx, input.ID, reviewerID, input.Body.Notes, input.Body.RefundAmount)
		if err != nil {
			return nil, handleError(err)
		}
		return &complaintBody{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-complaint",
		Method:      http.MethodPost,
		Path:        "/complaints/{id}/reject",
		Summary:     "Reject complaint",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                 `path:"id"`
		Body ReviewComplaintRequest `json:"body"`
	}) (*complaintBody, error) {
		reviewerID, authErr := requireReviewer(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.RejectComplaint(ctx, input.ID, reviewerID, input.Body.Notes)
		if err != nil {
			return nil, handleError(err)
		}
		return &complaintBody{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "process-refund",
		Method:      http.MethodPost,
		Path:        "/complaints/{id}/refund",
		Summary:     "Mark refund processed",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*complaintBody, error) {
		reviewerID, authErr := requireReviewer(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.ProcessRefund(ctx, input.ID, reviewerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &complaintBody{Body: c}, nil
	})
}

type verificationBody struct {
	Body domain.EvidenceVerification `json:"body"`
}

func registerVerifications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-verifications",
		Method:      http.MethodGet,
		Path:        "/verifications",
		Summary:     "List evidence verifications",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:",pending,approved,rejected,needs_more_info"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.EvidenceVerification `json:"body"`
	}, error) {
		if _, authErr := requireReviewer(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListVerifications(ctx, repo.VerificationFilters{
			Status: input.Status,
			Limit:  normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.EvidenceVerification{}
		}
		return &struct {
			Body []domain.EvidenceVerification `json:"body"`
		}{Body: items}, nil
	})

	review := func(opID, pathSuffix, summary string, run func(ctx context.Context, id, reviewerID, notes string) (domain.EvidenceVerification, error)) {
		huma.Register(api, huma.Operation{
			OperationID: opID,
			Method:      http.MethodPost,
			Path:        "/verifications/{id}/" + pathSuffix,
			Summary:     summary,
			Errors: []int{
				http.StatusUnauthorized,
				http.StatusForbidden,
				http.StatusNotFound,
				http.StatusConflict,
			},
		}, func(ctx context.Context, input *struct {
			ID   string                `path:"id"`
			Body ReviewEvidenceRequest `json:"body"`
		}) (*verificationBody, error) {
			reviewerID, authErr := requireReviewer(ctx)
			if authErr != nil {
				return nil, authErr
			}
			v, err := run(ctx, input.ID, reviewerID, input.Body.Notes)
			if err != nil {
				return nil, handleError(err)
			}
			return &verificationBody{Body: v}, nil
		})
	}

	review("approve-evidence", "approve", "Approve evidence", e.ApproveEvidence)
	review("reject-evidence", "reject", "Reject evidence", e.RejectEvidence)
	review("request-evidence-info", "request-info", "Request more info", e.RequestMoreInfo)

	huma.Register(api, huma.Operation{
		OperationID: "get-verification",
		Method:      http.MethodGet,
		Path:        "/verifications/{id}",
		Summary:     "Get verification",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*verificationBody, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		v, err := e.Repo.GetVerification(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &verificationBody{Body: v}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:",commitment,complaint,verification"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.LatestEvents(ctx, normalizeLimit(input.Limit), input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Event{}
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}
