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
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"avcb/internal/apperr"
	"avcb/internal/domain"
	"avcb/internal/engine"
	"avcb/internal/engine/auth"
	"avcb/internal/identity"
	"avcb/internal/receita"
	"avcb/internal/storage"
	"avcb/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Identity identity.Provider
	BasePath string
	Logger   *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"validation_failed"`
	Message string         `json:"message" example:"reason is required"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"fields\":{\"reason\":\"is required\"}}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the workflow API under BasePath and
// the generic record surface under /api.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
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
	router.Use(requestLogger(logger))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:       []string{"*"},
		AllowedMethods:       []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:       []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:       []string{"X-Request-Id"},
		OptionsSuccessStatus: http.StatusOK,
		MaxAge:               300,
	}))
	router.Use(newAuthMiddleware(basePath, cfg.Identity, cfg.Engine, logger))

	router.Route("/api", tableHandler{store: cfg.Engine.Store, logger: logger}.routes)

	hcfg := huma.DefaultConfig("AVCB Portal API", "1.0.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerAuth(group, cfg.Engine, cfg.Identity)
	registerProcesses(group, cfg.Engine)
	registerDocuments(group, cfg.Engine)
	registerFiles(group, cfg.Engine)
	registerCompanies(group, cfg.Engine)
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
	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "validation_failed", ve.Error(), map[string]any{"fields": ve.Fields})
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), nil)
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, store.ErrUnknownTable):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, apperr.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, apperr.ErrForbidden):
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	case errors.Is(err, apperr.ErrUnauthorized):
		return newAPIError(http.StatusUnauthorized, "unauthorized", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
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
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	public := publicPaths(basePath)
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
<html lang="pt-BR">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>AVCB Portal API</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; from POST /auth/login.
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

func registerAuth(api huma.API, e engine.Engine, provider identity.Provider) {
	huma.Register(api, huma.Operation{
		OperationID:   "signup",
		Method:        http.MethodPost,
		Path:          "/auth/signup",
		Summary:       "Create a citizen account",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body SignUpRequest `json:"body"`
	}) (*principalOutput, error) {
		p, err := provider.SignUp(ctx, identity.SignUpInput{
			Email:    input.Body.Email,
			Password: input.Body.Password,
			FullName: input.Body.FullName,
			Phone:    input.Body.Phone,
			CPF:      input.Body.CPF,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &principalOutput{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Exchange credentials for a bearer token",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*sessionOutput, error) {
		sess, err := provider.Login(ctx, input.Body.Email, input.Body.Password)
		if err != nil {
			return nil, handleError(err)
		}
		return &sessionOutput{Body: sess}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*meOutput, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		out := MeResponse{
			UserID: p.UserID,
			Email:  p.Email,
			Name:   p.Name,
			Source: p.Source,
			Roles:  nonNilSlice(p.Roles),
			Admin:  p.IsAdmin(),
		}
		if prof, err := e.Repo.GetProfile(ctx, p.UserID); err == nil {
			out.Profile = &prof
		}
		return &meOutput{Body: out}, nil
	})
}

// ownedProcess loads a process the caller owns or administers.
func ownedProcess(ctx context.Context, e engine.Engine, id string) (domain.Process, Principal, error) {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return domain.Process{}, principal, authErr
	}
	p, err := e.Repo.GetProcess(ctx, id)
	if err != nil {
		return domain.Process{}, principal, err
	}
	if principal.IsAdmin() || p.UserID == principal.UserID {
		return p, principal, nil
	}
	if err := e.Auth.RequireOwnerOrAdmin(ctx, principal.UserID, p); err != nil {
		return domain.Process{}, principal, err
	}
	return p, principal, nil
}

func registerProcesses(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-processes",
		Method:      http.MethodGet,
		Path:        "/processes",
		Summary:     "List processes; staff see all, citizens their own",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		UserID string `query:"user_id" doc:"Staff only: filter by owner"`
	}) (*processListOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var (
			items []domain.Process
			err   error
		)
		switch {
		case principal.IsAdmin() && input.UserID == "":
			items, err = e.Repo.ListProcesses(ctx)
		case principal.IsAdmin():
			items, err = e.Repo.ListProcessesByUser(ctx, input.UserID)
		default:
			items, err = e.Repo.ListProcessesByUser(ctx, principal.UserID)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &processListOutput{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-process",
		Method:        http.MethodPost,
		Path:          "/processes",
		Summary:       "Open an inspection process",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Lookup bool                 `query:"lookup" doc:"Fill company data from the CNPJ registry"`
		Body   CreateProcessRequest `json:"body"`
	}) (*processOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		userID := principal.UserID
		if input.Body.UserID != "" && input.Body.UserID != principal.UserID {
			if _, authErr := requireAdmin(ctx); authErr != nil {
				return nil, authErr
			}
			userID = input.Body.UserID
		}
		b := input.Body
		p, err := e.CreateProcess(ctx, engine.CreateProcessInput{
			UserID:        userID,
			CompanyName:   b.CompanyName,
			TradeName:     b.TradeName,
			CNPJ:          b.CNPJ,
			Address:       b.Address,
			City:          b.City,
			State:         b.State,
			ZipCode:       b.ZipCode,
			ContactName:   b.ContactName,
			ContactPhone:  b.ContactPhone,
			ContactEmail:  b.ContactEmail,
			CNAEPrimary:   b.CNAEPrimary,
			CNAESecondary: b.CNAESecondary,
			BuiltArea:     b.BuiltArea,
			LookupCompany: input.Lookup,
			Actor:         principal.Actor(),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &processOutput{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-process",
		Method:      http.MethodGet,
		Path:        "/processes/{id}",
		Summary:     "Process with documents, history and stage readiness",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *processPath) (*detailOutput, error) {
		if _, _, err := ownedProcess(ctx, e, input.ID); err != nil {
			return nil, handleError(err)
		}
		d, err := e.Detail(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		d.Documents = nonNilSlice(d.Documents)
		d.History = nonNilSlice(d.History)
		return &detailOutput{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-process",
		Method:      http.MethodDelete,
		Path:        "/processes/{id}",
		Summary:     "Delete an early-stage process after double confirmation",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body DeleteProcessRequest `json:"body"`
	}) (*deleteOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.DeleteProcess(ctx, engine.DeleteInput{
			ProcessID:     input.ID,
			Confirm:       input.Body.Confirm,
			ConfirmNumber: input.Body.ConfirmNumber,
			Actor:         principal.Actor(),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &deleteOutput{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advance-process",
		Method:      http.MethodPost,
		Path:        "/processes/{id}/advance",
		Summary:     "Advance to the next stage when the active stage is ready",
		Description: "A refused advance is not an error: the response carries advanced=false and the pending and rejected counts.",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body *ObservationRequest `json:"body,omitempty" required:"false"`
	}) (*advanceOutput, error) {
		principal, authErr := requireAdmin(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in := engine.AdvanceInput{ProcessID: input.ID, Actor: principal.Actor()}
		if input.Body != nil {
			in.Observation = input.Body.Observation
		}
		res, err := e.AdvanceStage(ctx, in)
		if err != nil {
			return nil, handleError(err)
		}
		return &advanceOutput{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stamp-certificate",
		Method:      http.MethodPost,
		Path:        "/processes/{id}/stamp",
		Summary:     "Issue the final certificate and conclude the process",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body *StampRequest `json:"body,omitempty" required:"false"`
	}) (*stampOutput, error) {
		principal, authErr := requireAdmin(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in := engine.StampInput{ProcessID: input.ID, Actor: principal.Actor()}
		if input.Body != nil {
			in.FileURL = input.Body.FileURL
		}
		res, err := e.StampCertificate(ctx, in)
		if err != nil {
			return nil, handleError(err)
		}
		return &stampOutput{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-fee-paid",
		Method:      http.MethodPost,
		Path:        "/processes/{id}/fee-paid",
		Summary:     "Record the inspection fee payment",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *processPath) (*processOutput, error) {
		principal, authErr := requireAdmin(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.MarkFeePaid(ctx, input.ID, principal.Actor())
		if err != nil {
			return nil, handleError(err)
		}
		return &processOutput{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "process-history",
		Method:      http.MethodGet,
		Path:        "/processes/{id}/history",
		Summary:     "Audit history, oldest first",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *processPath) (*historyOutput, error) {
		if _, _, err := ownedProcess(ctx, e, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListHistoryByProcess(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &historyOutput{Body: nonNilSlice(items)}, nil
	})
}

func registerDocuments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/processes/{id}/documents",
		Summary:     "Documents of a process",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Stage string `query:"stage" enum:"cadastro,triagem,vistoria,comissao,aprovacao,concluido,exigencia"`
	}) (*documentListOutput, error) {
		if _, _, err := ownedProcess(ctx, e, input.ID); err != nil {
			return nil, handleError(err)
		}
		docs, err := e.Repo.ListDocumentsByProcess(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if input.Stage != "" {
			docs = engine.DocumentsForStage(docs, domain.Stage(input.Stage))
		}
		return &documentListOutput{Body: nonNilSlice(docs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "attach-document",
		Method:        http.MethodPost,
		Path:          "/processes/{id}/documents",
		Summary:       "Attach a document by URL; upload bytes first with PUT /files/{name}",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body AttachDocumentRequest `json:"body"`
	}) (*documentOutput, error) {
		_, principal, err := ownedProcess(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		doc, err := e.AttachDocument(ctx, engine.AttachDocumentInput{
			ProcessID: input.ID,
			Name:      input.Body.Name,
			Type:      input.Body.Type,
			Stage:     input.Body.Stage,
			FileURL:   input.Body.FileURL,
			Actor:     principal.Actor(),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &documentOutput{Body: doc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-document",
		Method:      http.MethodPost,
		Path:        "/documents/{id}/approve",
		Summary:     "Approve a document",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body *ObservationRequest `json:"body,omitempty" required:"false"`
	}) (*documentOutput, error) {
		principal, authErr := requireAdmin(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in := engine.ApproveDocumentInput{DocumentID: input.ID, Actor: principal.Actor()}
		if input.Body != nil {
			in.Observation = input.Body.Observation
		}
		doc, err := e.ApproveDocument(ctx, in)
		if err != nil {
			return nil, handleError(err)
		}
		return &documentOutput{Body: doc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-document",
		Method:      http.MethodPost,
		Path:        "/documents/{id}/reject",
		Summary:     "Reject a document and put the process in exigencia",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body RejectRequest `json:"body"`
	}) (*documentOutput, error) {
		principal, authErr := requireAdmin(ctx)
		if authErr != nil {
			return nil, authErr
		}
		doc, err := e.RejectDocument(ctx, engine.RejectDocumentInput{
			DocumentID: input.ID,
			Reason:     input.Body.Reason,
			Actor:      principal.Actor(),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &documentOutput{Body: doc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resubmit-document",
		Method:      http.MethodPost,
		Path:        "/documents/{id}/resubmit",
		Summary:     "Send a corrected document back for review",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body ResubmitRequest `json:"body"`
	}) (*documentOutput, error) {
		if strings.TrimSpace(input.Body.Justification) == "" {
			return nil, handleError(apperr.Invalid("justification", "is required"))
		}
		doc, err := e.Repo.GetDocument(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		_, principal, err := ownedProcess(ctx, e, doc.ProcessID)
		if err != nil {
			return nil, handleError(err)
		}
		doc, err = e.ResubmitDocument(ctx, engine.ResubmitDocumentInput{
			DocumentID:    input.ID,
			FileURL:       input.Body.FileURL,
			Justification: input.Body.Justification,
			Actor:         principal.Actor(),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &documentOutput{Body: doc}, nil
	})
}

func registerFiles(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "upload-file",
		Method:      http.MethodPut,
		Path:        "/files/{name}",
		Summary:     "Upload raw bytes into object storage",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Name        string `path:"name"`
		ProcessID   string `query:"process_id" required:"true"`
		ContentType string `header:"Content-Type"`
		RawBody     []byte
	}) (*fileOutput, error) {
		if e.Files == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "unavailable", "object storage not configured", nil)
		}
		if len(input.RawBody) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if _, _, err := ownedProcess(ctx, e, input.ProcessID); err != nil {
			return nil, handleError(err)
		}
		ct := input.ContentType
		if ct == "" || strings.HasPrefix(ct, "application/json") {
			ct = storage.ContentType(input.Name, input.RawBody)
		}
		key := storage.Key(input.ProcessID, input.Name, e.Now())
		url, err := e.Files.Put(ctx, key, ct, bytes.NewReader(input.RawBody))
		if err != nil {
			return nil, handleError(err)
		}
		return &fileOutput{Body: FileResponse{URL: url}}, nil
	})
}

func registerCompanies(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "lookup-company",
		Method:      http.MethodGet,
		Path:        "/companies/{cnpj}",
		Summary:     "Look up a company in the CNPJ registry",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		CNPJ string `path:"cnpj"`
	}) (*companyOutput, error) {
		if e.Companies == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "unavailable", "company registry not configured", nil)
		}
		if !receita.ValidCNPJ(input.CNPJ) {
			return nil, handleError(apperr.Invalid("cnpj", "is invalid"))
		}
		c, err := e.Companies.GetByCNPJ(ctx, input.CNPJ)
		if errors.Is(err, receita.ErrNotFound) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "company not found", nil)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &companyOutput{Body: c}, nil
	})
}
