/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes of the HTTP API. They keep the wire contract (snake_case,
  RFC 3339 timestamps, derived fields like available) separate from the
  inventory types.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Done in the engine, not here. DTOs are pure data carriers. The one
  exception is UpdateItemRequest, which is decoded with unknown fields
  disallowed so stock counters can't be smuggled into a PATCH.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/stock-engine/inventory"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// ItemDTO represents an item in API responses.
type ItemDTO struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	SKU              string `json:"sku"`
	Category         string `json:"category"`
	ModelNumber      string `json:"model_number"`
	Location         string `json:"location"`
	MinimumStock     int64  `json:"minimum_stock"`
	Quantity         int64  `json:"quantity"`
	ReservedQuantity int64  `json:"reserved_quantity"`
	Available        int64  `json:"available"`
	NeedsReorder     bool   `json:"needs_reorder"`
	Active           bool   `json:"active"`
	Version          int64  `json:"version"`
	CreatedBy        string `json:"created_by,omitempty"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

// CreateItemRequest is the body of POST /api/items.
type CreateItemRequest struct {
	Name            string `json:"name"`
	SKU             string `json:"sku"`
	Category        string `json:"category"`
	ModelNumber     string `json:"model_number"`
	Location        string `json:"location"`
	InitialQuantity int64  `json:"initial_quantity"`
	MinimumStock    int64  `json:"minimum_stock"`
	Actor           string `json:"actor"`
	Notes           string `json:"notes"`
}

// UpdateItemRequest is the body of PATCH /api/items/{id}. Omitted fields
// are left unchanged.
type UpdateItemRequest struct {
	Name        *string `json:"name"`
	SKU         *string `json:"sku"`
	Category    *string `json:"category"`
	ModelNumber *string `json:"model_number"`
	Location    *string `json:"location"`
}

// MovementRequest is the body of receive, allocate, commit and release.
type MovementRequest struct {
	Amount            int64  `json:"amount"`
	Actor             string `json:"actor"`
	Notes             string `json:"notes"`
	ReferenceDocument string `json:"reference_document"`
	IdempotencyKey    string `json:"idempotency_key"`
}

// AdjustRequest is the body of POST /api/items/{id}/adjust.
type AdjustRequest struct {
	NewQuantity       *int64 `json:"new_quantity"`
	Actor             string `json:"actor"`
	Notes             string `json:"notes"`
	ReferenceDocument string `json:"reference_document"`
	IdempotencyKey    string `json:"idempotency_key"`
}

// StockLogEntryDTO represents one ledger entry.
type StockLogEntryDTO struct {
	ID                string `json:"id"`
	Seq               int64  `json:"seq"`
	ItemID            string `json:"item_id"`
	EntryType         string `json:"entry_type"`
	QuantityChange    int64  `json:"quantity_change"`
	CreatedBy         string `json:"created_by,omitempty"`
	Notes             string `json:"notes,omitempty"`
	ReferenceDocument string `json:"reference_document,omitempty"`
	IdempotencyKey    string `json:"idempotency_key,omitempty"`
	CreatedAt         string `json:"created_at"`
}

// StockLogResponse wraps a page of entries.
type StockLogResponse struct {
	ItemID  string             `json:"item_id"`
	Offset  int                `json:"offset"`
	Limit   int                `json:"limit"`
	Entries []StockLogEntryDTO `json:"entries"`
}

// ReconciliationDTO reports whether the ledger reproduces the item.
type ReconciliationDTO struct {
	ItemID           string `json:"item_id"`
	Quantity         int64  `json:"quantity"`
	ReservedQuantity int64  `json:"reserved_quantity"`
	ReplayedQuantity int64  `json:"replayed_quantity"`
	ReplayedReserved int64  `json:"replayed_reserved_quantity"`
	Entries          int    `json:"entries"`
	Consistent       bool   `json:"consistent"`
}

// AuditReportDTO summarises a sweep over every item.
type AuditReportDTO struct {
	StartedAt  string              `json:"started_at"`
	FinishedAt string              `json:"finished_at"`
	Checked    int                 `json:"checked"`
	Failed     int                 `json:"failed"`
	Consistent bool                `json:"consistent"`
	Drifted    []ReconciliationDTO `json:"drifted"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Details   any    `json:"details,omitempty"`
	Available *int64 `json:"available,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toItemDTO(it inventory.Item) ItemDTO {
	return ItemDTO{
		ID:               it.ID,
		Name:             it.Name,
		SKU:              it.SKU,
		Category:         it.Category,
		ModelNumber:      it.ModelNumber,
		Location:         it.Location,
		MinimumStock:     it.MinimumStock,
		Quantity:         it.Quantity,
		ReservedQuantity: it.ReservedQuantity,
		Available:        it.Available(),
		NeedsReorder:     it.NeedsReorder(),
		Active:           it.Active,
		Version:          it.Version,
		CreatedBy:        it.CreatedBy,
		CreatedAt:        formatTime(it.CreatedAt),
		UpdatedAt:        formatTime(it.UpdatedAt),
	}
}

func toItemDTOs(items []inventory.Item) []ItemDTO {
	dtos := make([]ItemDTO, len(items))
	for i, it := range items {
		dtos[i] = toItemDTO(it)
	}
	return dtos
}

func toStockLogEntryDTO(e inventory.StockLogEntry) StockLogEntryDTO {
	return StockLogEntryDTO{
		ID:                e.ID,
		Seq:               e.Seq,
		ItemID:            e.ItemID,
		EntryType:         string(e.Type),
		QuantityChange:    e.QuantityChange,
		CreatedBy:         e.CreatedBy,
		Notes:             e.Notes,
		ReferenceDocument: e.Reference,
		IdempotencyKey:    e.IdempotencyKey,
		CreatedAt:         formatTime(e.CreatedAt),
	}
}

func toReconciliationDTO(r inventory.Reconciliation) ReconciliationDTO {
	return ReconciliationDTO{
		ItemID:           r.ItemID,
		Quantity:         r.Quantity,
		ReservedQuantity: r.ReservedQuantity,
		ReplayedQuantity: r.ReplayedQuantity,
		ReplayedReserved: r.ReplayedReserved,
		Entries:          r.Entries,
		Consistent:       r.Consistent(),
	}
}

func toAuditReportDTO(r inventory.AuditReport) AuditReportDTO {
	drifted := make([]ReconciliationDTO, 0, len(r.Drifted))
	for _, rec := range r.Drifted {
		drifted = append(drifted, toReconciliationDTO(rec))
	}
	return AuditReportDTO{
		StartedAt:  formatTime(r.StartedAt),
		FinishedAt: formatTime(r.FinishedAt),
		Checked:    r.Checked,
		Failed:     r.Failed,
		Consistent: r.Consistent(),
		Drifted:    drifted,
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
