package controller

import (
	"strings"
	"time"

	"github.com/cassiomorais/fiscalbridge/internal/correlation"
	"github.com/cassiomorais/fiscalbridge/internal/domain/receipt"
)

// --- Request DTOs ---
// These carry JSON shape and tag validation only. Cross-field rules (exactly
// one of a legacy product or items, forbidden separators) live on
// receipt.Transaction.Validate.

// ItemRequest is one line of an itemised sale.
type ItemRequest struct {
	Name     string  `json:"name" validate:"required,max=64"`
	Quantity float64 `json:"quantity" validate:"gt=0"`
	Price    float64 `json:"price" validate:"gt=0"`
}

// CreateReceiptRequest is either the legacy {product, duration, price}
// triple or a list of items, plus the payment kind.
type CreateReceiptRequest struct {
	Product   string        `json:"product,omitempty" validate:"max=64"`
	Duration  string        `json:"duration,omitempty" validate:"max=32"`
	Price     float64       `json:"price,omitempty" validate:"gte=0"`
	Items     []ItemRequest `json:"items,omitempty" validate:"omitempty,max=100,dive"`
	Payment   string        `json:"payment" validate:"required,oneof=CASH CARD cash card"`
	TimeoutMS int64         `json:"timeout_ms,omitempty" validate:"gte=0"`
}

// CreateReportRequest asks for a close-register report.
type CreateReportRequest struct {
	TimeoutMS int64 `json:"timeout_ms,omitempty" validate:"gte=0"`
}

// toTransaction converts the request into a domain transaction. A request
// that sets both shapes (or neither) still converts; Validate rejects it.
func (r CreateReceiptRequest) toTransaction() receipt.Transaction {
	payment := receipt.PaymentKind(strings.ToUpper(r.Payment))
	if len(r.Items) > 0 {
		items := make([]receipt.LineItem, len(r.Items))
		for i, it := range r.Items {
			items[i] = receipt.LineItem{Name: it.Name, Quantity: it.Quantity, Price: it.Price}
		}
		tx := receipt.NewItemizedSale(items, payment)
		if r.Product != "" {
			tx.Legacy = &receipt.LegacyItem{Product: r.Product, Duration: r.Duration, Price: r.Price}
		}
		return tx
	}
	if r.Product == "" && r.Price == 0 {
		return receipt.Transaction{Kind: receipt.KindSale, Payment: payment}
	}
	return receipt.NewLegacySale(r.Product, r.Duration, r.Price, payment)
}

// --- Response DTOs ---

// ReceiptResponse is a journaled receipt.
type ReceiptResponse struct {
	ID             string     `json:"id"`
	Kind           string     `json:"kind"`
	Mode           string     `json:"mode"`
	Artifact       string     `json:"artifact"`
	Status         string     `json:"status"`
	Total          float64    `json:"total"`
	Details        *string    `json:"details,omitempty"`
	ErrorTimestamp *string    `json:"error_timestamp,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// DispatchResponse is the answer to a sale or report request.
type DispatchResponse struct {
	Outcome      string           `json:"outcome"`
	Artifact     string           `json:"artifact"`
	Details      string           `json:"details,omitempty"`
	EchoMismatch bool             `json:"echo_mismatch,omitempty"`
	Code         string           `json:"code,omitempty"`
	Receipt      *ReceiptResponse `json:"receipt"`
}

// ListReceiptsResponse is one page of the journal.
type ListReceiptsResponse struct {
	Receipts []*ReceiptResponse `json:"receipts"`
	Limit    int                `json:"limit"`
	Offset   int                `json:"offset"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// --- Conversion helpers ---

// FromReceipt converts a journaled receipt to its API form.
func FromReceipt(r *receipt.Receipt) *ReceiptResponse {
	return &ReceiptResponse{
		ID:             r.ID.String(),
		Kind:           string(r.Kind),
		Mode:           string(r.Mode),
		Artifact:       r.ArtifactName,
		Status:         string(r.Status),
		Total:          centsToFloat(r.TotalCents),
		Details:        r.Details,
		ErrorTimestamp: r.ErrorTimestamp,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		ResolvedAt:     r.ResolvedAt,
	}
}

// fromOutcome fills the outcome part of a dispatch response.
func fromOutcome(rc *receipt.Receipt, o correlation.Outcome) *DispatchResponse {
	resp := &DispatchResponse{
		Outcome:  o.State().String(),
		Artifact: o.Artifact(),
		Receipt:  FromReceipt(rc),
	}
	if f, ok := o.(correlation.Failed); ok {
		resp.Details = f.Details
		resp.EchoMismatch = f.EchoMismatch
		resp.Code = "driver_error"
	}
	if o.State() == correlation.StateTimedOut {
		resp.Code = "driver_timeout"
	}
	return resp
}

func centsToFloat(cents int64) float64 {
	return float64(cents) / 100.0
}
