package receipt

import (
	"fmt"
	"math"
	"strings"

	"github.com/cassiomorais/fiscalbridge/internal/domain/errors"
)

// Kind distinguishes a sale from a register report.
type Kind string

const (
	KindSale   Kind = "sale"
	KindReport Kind = "report"
)

// PaymentKind is the tender used to settle a sale.
type PaymentKind string

const (
	PaymentCash PaymentKind = "CASH"
	PaymentCard PaymentKind = "CARD"
)

// Amount ceilings. They keep every total representable in int64 cents and
// well inside what a fiscal register accepts.
const (
	MaxPrice    = 1e9
	MaxQuantity = 1e6
	MaxTotal    = 1e12
)

// Valid reports whether p is a supported tender.
func (p PaymentKind) Valid() bool {
	return p == PaymentCash || p == PaymentCard
}

// LegacyItem is the single-product shape older terminals still send:
// a product, a duration label (e.g. a rental period) and a unit price.
type LegacyItem struct {
	Product  string
	Duration string
	Price    float64
}

// LineItem is one entry of an itemised sale.
type LineItem struct {
	Name     string
	Quantity float64
	Price    float64
}

// Total returns quantity times price.
func (i LineItem) Total() float64 {
	return i.Quantity * i.Price
}

// Transaction is what a caller asks the fiscal device to print. A sale
// carries exactly one of Legacy or Items; a report carries neither.
type Transaction struct {
	Kind    Kind
	Legacy  *LegacyItem
	Items   []LineItem
	Payment PaymentKind
}

// NewLegacySale builds a single-product sale.
func NewLegacySale(product, duration string, price float64, payment PaymentKind) Transaction {
	return Transaction{
		Kind:    KindSale,
		Legacy:  &LegacyItem{Product: product, Duration: duration, Price: price},
		Payment: payment,
	}
}

// NewItemizedSale builds a sale from a list of line items.
func NewItemizedSale(items []LineItem, payment PaymentKind) Transaction {
	return Transaction{
		Kind:    KindSale,
		Items:   items,
		Payment: payment,
	}
}

// NewReport builds a close-register report request.
func NewReport() Transaction {
	return Transaction{Kind: KindReport}
}

// IsReport reports whether the transaction is a register report.
func (t Transaction) IsReport() bool {
	return t.Kind == KindReport
}

// Lines flattens the sale into line items. A legacy sale becomes a single
// line of quantity 1 whose name carries the duration label.
func (t Transaction) Lines() []LineItem {
	if t.Legacy != nil {
		return []LineItem{{
			Name:     fmt.Sprintf("%s (%s)", t.Legacy.Product, t.Legacy.Duration),
			Quantity: 1,
			Price:    t.Legacy.Price,
		}}
	}
	return t.Items
}

// Total sums every line, rounded to cents.
func (t Transaction) Total() float64 {
	var sum float64
	for _, l := range t.Lines() {
		sum += l.Total()
	}
	return math.Round(sum*100) / 100
}

// Validate enforces the shape a sale or report must have before anything is
// rendered. Text fields may not contain the wire separators.
func (t Transaction) Validate() error {
	switch t.Kind {
	case KindReport:
		if t.Legacy != nil || len(t.Items) > 0 {
			return errors.NewValidationError("kind", "a report carries no items")
		}
		return nil
	case KindSale:
	default:
		return errors.NewValidationError("kind", fmt.Sprintf("unknown transaction kind %q", t.Kind))
	}

	hasLegacy := t.Legacy != nil
	hasItems := len(t.Items) > 0
	if hasLegacy == hasItems {
		return errors.NewValidationError("items", "exactly one of a legacy product or a non-empty item list is required")
	}
	if !t.Payment.Valid() {
		return errors.NewValidationError("payment", "must be CASH or CARD")
	}

	if hasLegacy {
		if strings.TrimSpace(t.Legacy.Product) == "" {
			return errors.NewValidationError("product", "cannot be empty")
		}
		if err := validateText("product", t.Legacy.Product); err != nil {
			return err
		}
		if err := validateText("duration", t.Legacy.Duration); err != nil {
			return err
		}
		return validateAmount("price", t.Legacy.Price, MaxPrice)
	}

	for i, item := range t.Items {
		field := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(item.Name) == "" {
			return errors.NewValidationError(field+".name", "cannot be empty")
		}
		if err := validateText(field+".name", item.Name); err != nil {
			return err
		}
		if err := validateAmount(field+".quantity", item.Quantity, MaxQuantity); err != nil {
			return err
		}
		if err := validateAmount(field+".price", item.Price, MaxPrice); err != nil {
			return err
		}
	}
	if t.Total() > MaxTotal {
		return errors.NewValidationError("total", fmt.Sprintf("cannot exceed %.0f", float64(MaxTotal)))
	}
	return nil
}

func validateAmount(field string, v, limit float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return errors.NewValidationError(field, "must be a finite number")
	}
	if v <= 0 {
		return errors.NewValidationError(field, "must be greater than 0")
	}
	if v > limit {
		return errors.NewValidationError(field, fmt.Sprintf("cannot exceed %.0f", limit))
	}
	return nil
}

func validateText(field, s string) error {
	if strings.ContainsAny(s, ";\r\n") {
		return errors.NewValidationError(field, "cannot contain ';' or line breaks")
	}
	return nil
}
