package controller

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cassiomorais/fiscalbridge/internal/correlation"
	domainErrors "github.com/cassiomorais/fiscalbridge/internal/domain/errors"
	"github.com/cassiomorais/fiscalbridge/internal/domain/receipt"
	"github.com/cassiomorais/fiscalbridge/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/fiscalbridge/internal/middleware"
	"github.com/cassiomorais/fiscalbridge/internal/service"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ReceiptController handles sale, report and journal requests.
type ReceiptController struct {
	receiptService *service.ReceiptService
	logger         zerolog.Logger
}

// NewReceiptController creates a new ReceiptController.
func NewReceiptController(receiptService *service.ReceiptService, logger zerolog.Logger) *ReceiptController {
	return &ReceiptController{
		receiptService: receiptService,
		logger:         observability.Component(logger, "receipt_controller"),
	}
}

// CreateReceipt handles POST /api/v1/receipts
func (h *ReceiptController) CreateReceipt(w http.ResponseWriter, r *http.Request) {
	var req CreateReceiptRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	h.dispatch(w, r, req.toTransaction(), req.TimeoutMS)
}

// CreateReport handles POST /api/v1/reports
func (h *ReceiptController) CreateReport(w http.ResponseWriter, r *http.Request) {
	var req CreateReportRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	h.dispatch(w, r, receipt.NewReport(), req.TimeoutMS)
}

func (h *ReceiptController) dispatch(w http.ResponseWriter, r *http.Request, tx receipt.Transaction, timeoutMS int64) {
	res, err := h.receiptService.Dispatch(r.Context(), service.DispatchRequest{
		Transaction: tx,
		Timeout:     time.Duration(timeoutMS) * time.Millisecond,
	})

	log := h.logger.With().Str("request_id", chimw.GetReqID(r.Context())).Logger()
	if terminal, ok := customMW.GetTerminalID(r.Context()); ok {
		log = log.With().Str("terminal_id", terminal).Logger()
	}

	if err != nil {
		if res == nil {
			writeError(w, err)
			return
		}
		// journaled but never reached the driver
		status, code := errorStatus(err)
		resp := &DispatchResponse{
			Outcome:  string(res.Receipt.Status),
			Artifact: res.Receipt.ArtifactName,
			Code:     code,
			Receipt:  FromReceipt(res.Receipt),
		}
		if res.Receipt.Details != nil {
			resp.Details = *res.Receipt.Details
		}
		log.Error().Err(err).Str("receipt_id", res.Receipt.ID.String()).Msg("dispatch did not reach the driver")
		writeJSON(w, status, resp)
		return
	}

	log.Info().
		Str("receipt_id", res.Receipt.ID.String()).
		Str("artifact", res.Receipt.ArtifactName).
		Str("outcome", res.Outcome.State().String()).
		Msg("dispatch finished")
	writeJSON(w, outcomeStatus(res.Outcome), fromOutcome(res.Receipt, res.Outcome))
}

func outcomeStatus(o correlation.Outcome) int {
	switch o.State() {
	case correlation.StateSucceeded:
		return http.StatusOK
	case correlation.StateFailed:
		return http.StatusUnprocessableEntity
	case correlation.StateTimedOut:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// GetReceipt handles GET /api/v1/receipts/{id}
func (h *ReceiptController) GetReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid receipt ID", Code: "invalid_id"})
		return
	}

	rc, err := h.receiptService.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromReceipt(rc))
}

var listableStatuses = map[receipt.Status]bool{
	receipt.StatusPending:     true,
	receipt.StatusPrinted:     true,
	receipt.StatusFailed:      true,
	receipt.StatusTimedOut:    true,
	receipt.StatusWriteFailed: true,
}

// ListReceipts handles GET /api/v1/receipts?status=&kind=&limit=&offset=
func (h *ReceiptController) ListReceipts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter receipt.ListFilter

	if v := q.Get("status"); v != "" {
		s := receipt.Status(v)
		if !listableStatuses[s] {
			writeError(w, domainErrors.NewValidationError("status", "unknown receipt status"))
			return
		}
		filter.Status = &s
	}
	if v := q.Get("kind"); v != "" {
		k := receipt.Kind(v)
		if k != receipt.KindSale && k != receipt.KindReport {
			writeError(w, domainErrors.NewValidationError("kind", "must be sale or report"))
			return
		}
		filter.Kind = &k
	}

	filter.Limit = 20
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			writeError(w, domainErrors.NewValidationError("limit", "must be between 1 and 100"))
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, domainErrors.NewValidationError("offset", "must not be negative"))
			return
		}
		filter.Offset = n
	}

	receipts, err := h.receiptService.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := ListReceiptsResponse{
		Receipts: make([]*ReceiptResponse, 0, len(receipts)),
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	}
	for _, rc := range receipts {
		resp.Receipts = append(resp.Receipts, FromReceipt(rc))
	}
	writeJSON(w, http.StatusOK, resp)
}
