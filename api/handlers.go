/*
handlers.go - HTTP API handlers for the stock engine

PURPOSE:
  Exposes inventory.Engine via REST. Handles HTTP request/response and JSON
  serialization and delegates every decision to the engine.

ENDPOINTS:
  Items:
    GET    /api/items                    List (?active=, ?category=, ?q=)
    POST   /api/items                    Create, optional initial_quantity
    GET    /api/items/low-stock          Items at or below minimum stock
    GET    /api/items/{id}               Get item
    PATCH  /api/items/{id}               Update descriptive fields only
    POST   /api/items/{id}/deactivate    Hide from default listings

  Stock operations:
    POST   /api/items/{id}/receive       {amount}
    POST   /api/items/{id}/allocate      {amount}
    POST   /api/items/{id}/commit        {amount}
    POST   /api/items/{id}/release       {amount}
    POST   /api/items/{id}/adjust        {new_quantity}

  Ledger:
    GET    /api/items/{id}/stock-log     ?offset=&limit=
    GET    /api/items/{id}/reconcile     Replay check

  Audit:
    POST   /api/reconciliation/run       Replay every item now
    GET    /api/reconciliation/last-run  Last scheduled sweep

ACTOR AND IDEMPOTENCY:
  The acting user comes from the body's "actor" field or the X-Actor
  header. The idempotency key comes from the body or the Idempotency-Key
  header. Body values win.

ERROR HANDLING:
  - 400: invalid amount, invalid item, malformed body
  - 404: item not found (or inactive, for receive/allocate)
  - 409: insufficient stock, reservation floor, duplicate idempotency key
  - 500: data_inconsistency / constraint_violation (corrupted state)
  - 503: storage unavailable, concurrent modification (retry)

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/stock-engine/inventory"
)

const (
	maxBodyBytes    = 1 << 20
	defaultLogLimit = 100
	maxLogLimit     = 1000
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// AuditSource exposes the most recent scheduled sweep.
type AuditSource interface {
	LastReport() (inventory.AuditReport, bool)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *inventory.Engine

	logger *zap.Logger
	checks map[string]HealthCheck
	audits AuditSource
}

// NewHandler creates a handler around engine.
func NewHandler(engine *inventory.Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Engine: engine,
		logger: logger,
		checks: make(map[string]HealthCheck),
	}
}

// AddHealthCheck registers a dependency probe reported by /health.
func (h *Handler) AddHealthCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

// SetAuditSource enables GET /api/reconciliation/last-run.
func (h *Handler) SetAuditSource(src AuditSource) {
	h.audits = src
}

// Health runs every registered check. Any failure turns the response 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := HealthResponse{Status: "ok", Checks: map[string]string{}}
	status := http.StatusOK
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, status, resp)
}

// =============================================================================
// ITEM HANDLERS
// =============================================================================

// ListItems returns items, active only unless ?active=false.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := inventory.ItemFilter{
		Category:   q.Get("category"),
		SearchTerm: q.Get("q"),
	}
	if raw := q.Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "active must be true or false", err)
			return
		}
		filter.Active = &active
	}

	items, err := h.Engine.ListItems(r.Context(), filter)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTOs(items))
}

// CreateItem registers a new item.
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	item, err := h.Engine.CreateItem(r.Context(), inventory.NewItem{
		Details: inventory.Details{
			Name:        req.Name,
			SKU:         req.SKU,
			Category:    req.Category,
			ModelNumber: req.ModelNumber,
			Location:    req.Location,
		},
		InitialQuantity: req.InitialQuantity,
		MinimumStock:    req.MinimumStock,
		CreatedBy:       actor(r, req.Actor),
		Notes:           req.Notes,
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemDTO(item))
}

func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.Engine.GetItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(item))
}

// UpdateItem changes descriptive fields. Any stock field in the body is an
// unknown field and the request is rejected.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req UpdateItemRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	item, err := h.Engine.UpdateItemDetails(r.Context(), chi.URLParam(r, "id"), inventory.DetailsUpdate{
		Name:        req.Name,
		SKU:         req.SKU,
		Category:    req.Category,
		ModelNumber: req.ModelNumber,
		Location:    req.Location,
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(item))
}

func (h *Handler) DeactivateItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.Engine.DeactivateItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(item))
}

func (h *Handler) LowStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.Engine.LowStock(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTOs(items))
}

// =============================================================================
// STOCK OPERATION HANDLERS
// =============================================================================

type stockOp func(context.Context, inventory.Movement) (inventory.Item, error)

func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, h.Engine.Receive)
}

func (h *Handler) Allocate(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, h.Engine.Allocate)
}

func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, h.Engine.Commit)
}

func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, h.Engine.Release)
}

func (h *Handler) movement(w http.ResponseWriter, r *http.Request, op stockOp) {
	var req MovementRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	item, err := op(r.Context(), inventory.Movement{
		ItemID:         chi.URLParam(r, "id"),
		Amount:         req.Amount,
		Actor:          actor(r, req.Actor),
		Notes:          req.Notes,
		Reference:      req.ReferenceDocument,
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(item))
}

// Adjust sets quantity to a counted value.
func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.NewQuantity == nil {
		writeError(w, http.StatusBadRequest, "new_quantity is required", nil)
		return
	}

	item, err := h.Engine.Adjust(r.Context(), inventory.Movement{
		ItemID:         chi.URLParam(r, "id"),
		Amount:         *req.NewQuantity,
		Actor:          actor(r, req.Actor),
		Notes:          req.Notes,
		Reference:      req.ReferenceDocument,
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(item))
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// StockLog returns one page of the item's ledger in append order.
func (h *Handler) StockLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer", err)
		return
	}
	limit, err := queryInt(r, "limit", defaultLogLimit)
	if err != nil || limit <= 0 || limit > maxLogLimit {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxLogLimit), err)
		return
	}

	entries, err := h.Engine.StockLog(r.Context(), id, inventory.Page{Offset: offset, Limit: limit})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	resp := StockLogResponse{
		ItemID:  id,
		Offset:  offset,
		Limit:   limit,
		Entries: make([]StockLogEntryDTO, len(entries)),
	}
	for i, e := range entries {
		resp.Entries[i] = toStockLogEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Engine.Reconcile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(rec))
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// RunAudit replays every item synchronously. Expensive on large catalogs.
func (h *Handler) RunAudit(w http.ResponseWriter, r *http.Request) {
	report, err := h.Engine.Audit(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditReportDTO(report))
}

func (h *Handler) LastAudit(w http.ResponseWriter, r *http.Request) {
	if h.audits == nil {
		writeError(w, http.StatusNotFound, "scheduled reconciliation is disabled", nil)
		return
	}
	report, ok := h.audits.LastReport()
	if !ok {
		writeError(w, http.StatusNotFound, "no reconciliation has completed yet", nil)
		return
	}
	writeJSON(w, http.StatusOK, toAuditReportDTO(report))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps the engine's error taxonomy onto HTTP.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	resp := ErrorResponse{Error: err.Error(), Code: code}

	var insufficient *inventory.InsufficientAvailableError
	if errors.As(err, &insufficient) {
		available := insufficient.Available
		resp.Available = &available
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.String("code", code),
			zap.Error(err),
		)
	}
	writeJSON(w, status, resp)
}

func classify(err error) (int, string) {
	switch {
	case inventory.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, inventory.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, inventory.ErrInvalidItem):
		return http.StatusBadRequest, "invalid_item"
	case errors.Is(err, inventory.ErrInsufficientAvailableStock):
		return http.StatusConflict, "insufficient_available_stock"
	case errors.Is(err, inventory.ErrInsufficientReservedStock):
		return http.StatusConflict, "insufficient_reserved_stock"
	case errors.Is(err, inventory.ErrReservationExceedsNewQuantity):
		return http.StatusConflict, "reservation_exceeds_new_quantity"
	case errors.Is(err, inventory.ErrDuplicateIdempotencyKey):
		return http.StatusConflict, "duplicate_idempotency_key"
	case errors.Is(err, inventory.ErrDataInconsistency):
		return http.StatusInternalServerError, "data_inconsistency"
	case errors.Is(err, inventory.ErrConstraintViolation):
		return http.StatusInternalServerError, "constraint_violation"
	case errors.Is(err, inventory.ErrConcurrentModification):
		return http.StatusServiceUnavailable, "concurrent_modification"
	case errors.Is(err, inventory.ErrStorage):
		return http.StatusServiceUnavailable, "storage_unavailable"
	}
	return http.StatusInternalServerError, "internal"
}

// decodeJSON reads a single JSON object. strict rejects unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, strict bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}

func actor(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return r.Header.Get("X-Actor")
}

func idempotencyKey(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return r.Header.Get("Idempotency-Key")
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
