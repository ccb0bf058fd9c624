package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/dispatcher"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/domain"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/engine"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/eventbus"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/registry"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Engine is the automation engine surface the API drives.
type Engine interface {
	Publish(triggerType string, triggerData map[string]any, ec domain.EventContext) (domain.Event, error)
	Subscribe(ctx context.Context, triggerType string, ruleID uuid.UUID, conditions map[string]any) (uuid.UUID, error)
	Unsubscribe(ctx context.Context, id uuid.UUID) error
	Subscriptions(triggerType string) []domain.Subscription
	ExecuteAction(ctx context.Context, ruleID uuid.UUID, actionType string, actionConfig map[string]any, ec domain.EventContext) (domain.Execution, error)
	CancelExecution(ctx context.Context, id uuid.UUID) (domain.Execution, error)
	Execution(ctx context.Context, id uuid.UUID) (domain.Execution, error)
	Stats() engine.Stats
}

// ActionCatalog lists the action dispatch table.
type ActionCatalog interface {
	Categories() []string
	Actions(category string) []string
}

// HealthChecker provides component health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

func (f HealthCheckFunc) PingContext(ctx context.Context) error {
	return f(ctx)
}

type Handler struct {
	engine  Engine
	catalog ActionCatalog
	checks  map[string]HealthChecker
	router  chi.Router
}

func NewHandler(e Engine, catalog ActionCatalog) *Handler {
	h := &Handler{
		engine:  e,
		catalog: catalog,
		checks:  make(map[string]HealthChecker),
	}
	h.router = h.routes()
	return h
}

// WithHealthChecker registers a named component for verbose /health responses.
func (h *Handler) WithHealthChecker(name string, hc HealthChecker) *Handler {
	h.checks[name] = hc
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)
	r.Post("/events", h.publishEvent)

	r.Route("/subscriptions", func(r chi.Router) {
		r.Post("/", h.createSubscription)
		r.Get("/", h.listSubscriptions)
		r.Delete("/{id}", h.deleteSubscription)
	})

	r.Route("/executions", func(r chi.Router) {
		r.Post("/", h.executeAction)
		r.Get("/{id}", h.getExecution)
		r.Post("/{id}/cancel", h.cancelExecution)
	})

	r.Get("/actions", h.listActions)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
	Queue      *QueueStats       `json:"queue,omitempty"`
}

type QueueStats struct {
	EventsPending       int `json:"events_pending"`
	ActiveSubscriptions int `json:"active_subscriptions"`
	ExecutionsPending   int `json:"executions_pending"`
	ExecutionsDelayed   int `json:"executions_delayed"`
	ExecutionsRunning   int `json:"executions_running"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("verbose") != "true" {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	stats := h.engine.Stats()
	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
		Queue: &QueueStats{
			EventsPending:       stats.EventsPending,
			ActiveSubscriptions: stats.ActiveSubscriptions,
			ExecutionsPending:   stats.Executions.Pending,
			ExecutionsDelayed:   stats.Executions.Delayed,
			ExecutionsRunning:   stats.Executions.Running,
		},
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	for _, name := range sortedKeys(h.checks) {
		if err := h.checks[name].PingContext(ctx); err != nil {
			resp.Status = "degraded"
			resp.Components[name] = "unhealthy: " + err.Error()
		} else {
			resp.Components[name] = "healthy"
		}
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

// decodeBody reads a JSON body under the size limit. It writes the error
// response itself and reports whether decoding succeeded.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func (h *Handler) publishEvent(w http.ResponseWriter, r *http.Request) {
	var req PublishEventRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validatePublishEvent(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	event, err := h.engine.Publish(req.TriggerType, req.TriggerData, req.Context.toDomain())
	if err != nil {
		if errors.Is(err, eventbus.ErrBusStopped) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		log.Printf("api: publish event error: %v", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, EventResponse{
		ID:          event.ID.String(),
		TriggerType: event.TriggerType,
		CreatedAt:   formatTime(event.Context.CreatedAt),
	})
}

func (h *Handler) createSubscription(w http.ResponseWriter, r *http.Request) {
	var req CreateSubscriptionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ruleID, err := validateCreateSubscription(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.engine.Subscribe(r.Context(), req.TriggerType, ruleID, req.Conditions)
	if err != nil {
		log.Printf("api: create subscription error: %v", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, SubscriptionResponse{
		ID:          id.String(),
		TriggerType: req.TriggerType,
		RuleID:      ruleID.String(),
		Conditions:  req.Conditions,
		Active:      true,
	})
}

func (h *Handler) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	subs := h.engine.Subscriptions(r.URL.Query().Get("trigger_type"))
	subs = paginate(subs, limit, offset)

	resp := ListSubscriptionsResponse{Subscriptions: make([]SubscriptionResponse, len(subs))}
	for i, s := range subs {
		resp.Subscriptions[i] = subscriptionResponse(s)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription id")
		return
	}

	if err := h.engine.Unsubscribe(r.Context(), id); err != nil {
		if errors.Is(err, registry.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		log.Printf("api: delete subscription error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to delete subscription")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) executeAction(w http.ResponseWriter, r *http.Request) {
	var req ExecuteActionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ruleID, err := validateExecuteAction(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	exec, err := h.engine.ExecuteAction(r.Context(), ruleID, req.ActionType, req.ActionConfig, req.Context.toDomain())
	if err != nil {
		switch {
		case errors.Is(err, dispatcher.ErrDispatcherStopped):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		case errors.Is(err, dispatcher.ErrEmptyActionType):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			log.Printf("api: execute action error: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to enqueue execution")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, executionResponse(exec))
}

func (h *Handler) getExecution(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid execution id")
		return
	}

	exec, err := h.engine.Execution(r.Context(), id)
	if err != nil {
		if errors.Is(err, dispatcher.ErrExecutionNotFound) {
			writeError(w, http.StatusNotFound, "execution not found")
			return
		}
		log.Printf("api: get execution error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get execution")
		return
	}

	writeJSON(w, http.StatusOK, executionResponse(exec))
}

func (h *Handler) cancelExecution(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid execution id")
		return
	}

	exec, err := h.engine.CancelExecution(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, dispatcher.ErrExecutionNotFound):
			writeError(w, http.StatusNotFound, "execution not found")
		case errors.Is(err, dispatcher.ErrExecutionRunning),
			errors.Is(err, dispatcher.ErrStatusTransitionDenied):
			writeError(w, http.StatusConflict, err.Error())
		default:
			log.Printf("api: cancel execution error: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to cancel execution")
		}
		return
	}

	writeJSON(w, http.StatusOK, executionResponse(exec))
}

func (h *Handler) listActions(w http.ResponseWriter, r *http.Request) {
	resp := ActionCatalogResponse{Categories: make(map[string][]string)}
	if h.catalog != nil {
		for _, c := range h.catalog.Categories() {
			resp.Categories[c] = h.catalog.Actions(c)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func paginate(subs []domain.Subscription, limit, offset int) []domain.Subscription {
	if offset >= len(subs) {
		return nil
	}
	end := offset + limit
	if end > len(subs) {
		end = len(subs)
	}
	return subs[offset:end]
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
// Returns an error if limit exceeds MaxLimit or if values are negative/invalid.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}

func sortedKeys(m map[string]HealthChecker) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
