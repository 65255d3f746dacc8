package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"uptimeline/internal/domain"
	"uptimeline/internal/engine"
	"uptimeline/internal/metrics"
	"uptimeline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_owner"`
	Message string         `json:"message" example:"caller is not the domain owner"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"domain_id\":\"example.com\"}"`
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

type out[T any] struct {
	Body T `json:"body"`
}

func reply[T any](v T) *out[T] {
	return &out[T]{Body: v}
}

type domainPath struct {
	DomainID string `path:"domain_id"`
}

type cyclePath struct {
	DomainID string `path:"domain_id"`
	CycleID  int64  `path:"cycle_id"`
}

// New returns an HTTP handler exposing the Uptimeline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Logger
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
	hcfg := huma.DefaultConfig("Uptimeline API", "0.3.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	router.Handle("/metrics", cfg.Metrics.Handler())
	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group)
	if cfg.Auth.DevLogin {
		registerDevAuth(group, cfg.Engine, cfg.Auth)
	}
	registerAPIKeys(group, cfg.Engine)
	registerDomains(group, cfg.Engine)
	registerValidators(group, cfg.Engine)
	registerJobs(group, cfg.Engine)
	registerCycles(group, cfg.Engine)
	registerRewards(group, cfg.Engine)
	registerUpkeep(group, cfg.Engine)
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

var errorCodes = []struct {
	err  error
	code string
}{
	{engine.ErrCallerRequired, "unauthorized"},
	{engine.ErrNotOwner, "not_owner"},
	{engine.ErrNotAssigned, "not_assigned"},
	{engine.ErrAlreadyRegistered, "already_registered"},
	{engine.ErrNotRegistered, "not_registered"},
	{engine.ErrUnknownDomain, "unknown_domain"},
	{engine.ErrNotMonitored, "not_monitored"},
	{engine.ErrInsufficientStake, "insufficient_stake"},
	{engine.ErrInvalidInterval, "invalid_interval"},
	{engine.ErrInvalidAmount, "invalid_amount"},
	{engine.ErrInvalidDomain, "invalid_domain"},
	{engine.ErrInsufficientBalance, "insufficient_balance"},
	{engine.ErrInsufficientPool, "insufficient_pool"},
	{engine.ErrNoActiveValidators, "no_active_validators"},
	{engine.ErrJobNotFound, "job_not_found"},
	{engine.ErrCycleNotFound, "cycle_not_found"},
	{engine.ErrCycleFinalized, "cycle_finalized"},
	{engine.ErrCycleExpired, "cycle_expired"},
	{engine.ErrCycleOpen, "cycle_open"},
	{engine.ErrAlreadySubmitted, "already_submitted"},
	{engine.ErrCheckNotDue, "check_not_due"},
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	code := ""
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			code = c.code
			break
		}
	}
	switch engine.KindOf(err) {
	case engine.KindAuthorization:
		if errors.Is(err, engine.ErrCallerRequired) {
			return newAPIError(http.StatusUnauthorized, code, err.Error(), nil)
		}
		return newAPIError(http.StatusForbidden, code, err.Error(), nil)
	case engine.KindValidation:
		return newAPIError(http.StatusBadRequest, code, err.Error(), nil)
	case engine.KindNotFound:
		return newAPIError(http.StatusNotFound, code, err.Error(), nil)
	case engine.KindFunds:
		return newAPIError(http.StatusPaymentRequired, code, err.Error(), nil)
	case engine.KindState, engine.KindTiming:
		return newAPIError(http.StatusConflict, code, err.Error(), nil)
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

func operations(item *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace}
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range operations(item) {
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
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
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
    <title>Uptimeline API Docs</title>
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
	}, func(ctx context.Context, _ *struct{}) (*out[map[string]string], error) {
		return reply(map[string]string{"status": "ok"}), nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*out[WhoAmIResponse], error) {
		p, ok := principalFromContext(ctx)
		if !ok || p.ActorID == "" {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return reply(WhoAmIResponse{ActorID: p.ActorID, Network: p.Network, Source: p.Source}), nil
	})
}

func registerDevAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*out[DevLoginResponse], error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		network := strings.TrimSpace(input.Body.Network)
		if network == "" && e.Config != nil {
			network = e.Config.Network.ID
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, network)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return reply(DevLoginResponse{Token: token}), nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Issue an API key for the caller",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body" required:"false"`
	}) (*out[CreateAPIKeyResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		key, secret, err := e.CreateAPIKey(ctx, actorID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(CreateAPIKeyResponse{
			ID:        key.ID,
			ActorID:   key.ActorID,
			Name:      key.Name,
			Key:       secret,
			CreatedAt: key.CreatedAt,
		}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List the caller's API keys",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*out[APIKeyList], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.ListAPIKeys(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(APIKeyList{Items: nonNil(keys)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-api-key",
		Method:        http.MethodDelete,
		Path:          "/api-keys/{key_id}",
		Summary:       "Revoke one of the caller's API keys",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RevokeAPIKey(ctx, input.KeyID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerDomains(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-domain",
		Method:        http.MethodPost,
		Path:          "/domains",
		Summary:       "Register a domain for monitoring",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body RegisterDomainRequest `json:"body"`
	}) (*out[domain.Domain], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.RegisterDomain(ctx, input.Body.DomainID, input.Body.IntervalSeconds, input.Body.Stake, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-domain",
		Method:      http.MethodGet,
		Path:        "/domains/{domain_id}",
		Summary:     "Get domain record",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *domainPath) (*out[domain.Domain], error) {
		d, err := e.GetDomain(ctx, input.DomainID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unregister-domain",
		Method:      http.MethodDelete,
		Path:        "/domains/{domain_id}",
		Summary:     "Stop monitoring and refund the balance",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *domainPath) (*out[domain.Domain], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.UnregisterDomain(ctx, input.DomainID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stake-domain",
		Method:      http.MethodPost,
		Path:        "/domains/{domain_id}/stake",
		Summary:     "Add to a domain's balance",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DomainID string        `path:"domain_id"`
		Body     AmountRequest `json:"body"`
	}) (*out[domain.Domain], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.Stake(ctx, input.DomainID, input.Body.Amount, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "withdraw-domain",
		Method:      http.MethodPost,
		Path:        "/domains/{domain_id}/withdraw",
		Summary:     "Withdraw from a domain's balance",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusPaymentRequired,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		DomainID string        `path:"domain_id"`
		Body     AmountRequest `json:"body"`
	}) (*out[domain.Domain], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.Withdraw(ctx, input.DomainID, input.Body.Amount, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-domain-interval",
		Method:      http.MethodPut,
		Path:        "/domains/{domain_id}/interval",
		Summary:     "Change the check interval",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		DomainID string          `path:"domain_id"`
		Body     IntervalRequest `json:"body"`
	}) (*out[domain.Domain], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.UpdateInterval(ctx, input.DomainID, input.Body.IntervalSeconds, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-owner-domains",
		Method:      http.MethodGet,
		Path:        "/owners/{owner}/domains",
		Summary:     "List domains registered by an owner",
	}, func(ctx context.Context, input *struct {
		Owner string `path:"owner"`
	}) (*out[DomainList], error) {
		items, err := e.DomainsOwnedBy(ctx, input.Owner)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(DomainList{Items: nonNil(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-domain-stats",
		Method:      http.MethodGet,
		Path:        "/domains/{domain_id}/stats",
		Summary:     "Rolling uptime statistics",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *domainPath) (*out[domain.Stats], error) {
		s, err := e.DomainStats(ctx, input.DomainID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-domain-status",
		Method:      http.MethodGet,
		Path:        "/domains/{domain_id}/status",
		Summary:     "Current consensus status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *domainPath) (*out[domain.Status], error) {
		s, err := e.DomainStatus(ctx, input.DomainID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-domain-schedule",
		Method:      http.MethodGet,
		Path:        "/domains/{domain_id}/schedule",
		Summary:     "Scheduling metadata",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *domainPath) (*out[domain.Schedule], error) {
		s, err := e.GetSchedule(ctx, input.DomainID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-due",
		Method:      http.MethodGet,
		Path:        "/domains/{domain_id}/check-due",
		Summary:     "Whether a new check cycle is due",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *domainPath) (*out[CheckDueResponse], error) {
		due, err := e.IsCheckDue(ctx, input.DomainID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(CheckDueResponse{DomainID: input.DomainID, Due: due}), nil
	})
}

func registerValidators(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-validator",
		Method:        http.MethodPost,
		Path:          "/validators",
		Summary:       "Register the caller as a validator",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnauthorized, http.StatusConflict},
	}, func(ctx context.Context, _ *struct{}) (*out[domain.Validator], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		v, err := e.RegisterValidator(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(v), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deactivate-validator",
		Method:      http.MethodDelete,
		Path:        "/validators/me",
		Summary:     "Leave the active validator set",
		Errors:      []int{http.StatusUnauthorized, http.StatusConflict},
	}, func(ctx context.Context, _ *struct{}) (*out[domain.Validator], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		v, err := e.DeactivateValidator(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(v), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-validators",
		Method:      http.MethodGet,
		Path:        "/validators",
		Summary:     "Active validators in rotation order",
	}, func(ctx context.Context, _ *struct{}) (*out[ValidatorList], error) {
		items, err := e.ActiveValidators(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(ValidatorList{Items: nonNil(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-validator",
		Method:      http.MethodGet,
		Path:        "/validators/{validator_id}",
		Summary:     "Get validator record",
		Errors:      []int{http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ValidatorID string `path:"validator_id"`
	}) (*out[domain.Validator], error) {
		v, err := e.GetValidator(ctx, input.ValidatorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(v), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-validator-jobs",
		Method:      http.MethodGet,
		Path:        "/validators/{validator_id}/jobs",
		Summary:     "Pending jobs of a validator",
	}, func(ctx context.Context, input *struct {
		ValidatorID string `path:"validator_id"`
	}) (*out[JobList], error) {
		items, err := e.PendingJobs(ctx, input.ValidatorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(JobList{Items: nonNil(items)}), nil
	})
}

func registerJobs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "assign-job",
		Method:        http.MethodPost,
		Path:          "/domains/{domain_id}/jobs",
		Summary:       "Assign a check job to the next validator",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *domainPath) (*out[domain.Job], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		j, err := e.AssignJob(ctx, input.DomainID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(j), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-job",
		Method:      http.MethodPost,
		Path:        "/domains/{domain_id}/jobs/complete",
		Summary:     "Mark one of the caller's jobs complete",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DomainID string             `path:"domain_id"`
		Body     CompleteJobRequest `json:"body" required:"false"`
	}) (*out[domain.Job], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		j, err := e.CompleteJob(ctx, input.DomainID, input.Body.JobID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(j), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-domain-jobs",
		Method:      http.MethodGet,
		Path:        "/domains/{domain_id}/jobs",
		Summary:     "Job history of a domain, newest first",
	}, func(ctx context.Context, input *struct {
		DomainID string `path:"domain_id"`
		Limit    int    `query:"limit" default:"50"`
	}) (*out[JobList], error) {
		items, err := e.DomainJobHistory(ctx, input.DomainID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(JobList{Items: nonNil(items)}), nil
	})
}

func registerCycles(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "initiate-cycle",
		Method:        http.MethodPost,
		Path:          "/domains/{domain_id}/cycles",
		Summary:       "Open a check cycle",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusPaymentRequired,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *domainPath) (*out[domain.Cycle], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.InitiateCheckCycle(ctx, input.DomainID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cycles",
		Method:      http.MethodGet,
		Path:        "/domains/{domain_id}/cycles",
		Summary:     "Recent cycles, newest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DomainID string `path:"domain_id"`
		Count    int    `query:"count" default:"10"`
	}) (*out[CycleList], error) {
		items, err := e.RecentCycles(ctx, input.DomainID, normalizeLimit(input.Count))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(CycleList{Items: nonNil(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "latest-cycle",
		Method:      http.MethodGet,
		Path:        "/domains/{domain_id}/cycles/latest",
		Summary:     "Most recent cycle",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *domainPath) (*out[domain.Cycle], error) {
		c, err := e.LatestCycle(ctx, input.DomainID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-cycle",
		Method:      http.MethodGet,
		Path:        "/domains/{domain_id}/cycles/{cycle_id}",
		Summary:     "Get one cycle",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *cyclePath) (*out[domain.Cycle], error) {
		c, err := e.GetCycle(ctx, input.DomainID, input.CycleID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-result",
		Method:      http.MethodPost,
		Path:        "/domains/{domain_id}/cycles/{cycle_id}/results",
		Summary:     "Submit the caller's check result",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		DomainID string              `path:"domain_id"`
		CycleID  int64               `path:"cycle_id"`
		Body     SubmitResultRequest `json:"body"`
	}) (*out[domain.Cycle], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.SubmitResult(ctx, engine.SubmitOptions{
			DomainID:       input.DomainID,
			CycleID:        input.CycleID,
			IsUp:           input.Body.IsUp,
			StatusCode:     input.Body.StatusCode,
			ResponseTimeMs: input.Body.ResponseTimeMs,
			Signature:      input.Body.Signature,
			Caller:         actorID,
		})
		if err != nil {
			if c.Finalized {
				// Late vote: the cycle was settled without it.
				return nil, newAPIError(http.StatusConflict, "cycle_finalized", err.Error(), map[string]any{
					"cycle_id": c.ID,
					"outcome":  c.Outcome,
				})
			}
			return nil, handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "finalize-cycle",
		Method:      http.MethodPost,
		Path:        "/domains/{domain_id}/cycles/{cycle_id}/finalize",
		Summary:     "Settle a cycle past its deadline",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *cyclePath) (*out[domain.Cycle], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.FinalizeCycle(ctx, input.DomainID, input.CycleID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-submissions",
		Method:      http.MethodGet,
		Path:        "/domains/{domain_id}/cycles/{cycle_id}/submissions",
		Summary:     "Results submitted for a cycle",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *cyclePath) (*out[SubmissionList], error) {
		items, err := e.CycleSubmissions(ctx, input.DomainID, input.CycleID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(SubmissionList{Items: nonNil(items)}), nil
	})
}

func registerRewards(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "fund-pool",
		Method:      http.MethodPost,
		Path:        "/rewards/fund",
		Summary:     "Deposit into the reward pool",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body AmountRequest `json:"body"`
	}) (*out[PoolResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		balance, err := e.FundPool(ctx, input.Body.Amount, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(PoolResponse{Balance: balance}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-pool",
		Method:      http.MethodGet,
		Path:        "/rewards/pool",
		Summary:     "Reward pool balance",
	}, func(ctx context.Context, _ *struct{}) (*out[PoolResponse], error) {
		balance, err := e.PoolBalance(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(PoolResponse{Balance: balance}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-transfers",
		Method:      http.MethodGet,
		Path:        "/transfers",
		Summary:     "Outbound transfers, newest first",
	}, func(ctx context.Context, input *struct {
		Recipient string `query:"recipient"`
		Limit     int    `query:"limit" default:"50"`
	}) (*out[TransferList], error) {
		items, err := e.Transfers(ctx, input.Recipient, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(TransferList{Items: nonNil(items)}), nil
	})
}

func registerUpkeep(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "check-upkeep",
		Method:      http.MethodGet,
		Path:        "/upkeep",
		Summary:     "Report whether a domain is due",
	}, func(ctx context.Context, _ *struct{}) (*out[domain.UpkeepProbe], error) {
		probe, err := e.CheckUpkeep(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(probe), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "perform-upkeep",
		Method:      http.MethodPost,
		Path:        "/upkeep",
		Summary:     "Open one due cycle",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body PerformUpkeepRequest `json:"body" required:"false"`
	}) (*out[domain.UpkeepResult], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.PerformUpkeep(ctx, input.Body.DomainID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"domain,validator,pool"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*out[paginatedEvents], error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEvents(ctx, limit+1, repo.EventFilter{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Before:     cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return reply(resp), nil
	})
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
