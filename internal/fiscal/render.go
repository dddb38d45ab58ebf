// Package fiscal renders transactions into the command text understood by
// the fiscal printer driver.
package fiscal

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cassiomorais/fiscalbridge/internal/domain/receipt"
)

// Mode selects the wire format.
type Mode string

const (
	// ModeLive produces a fiscal receipt.
	ModeLive Mode = "live"
	// ModeTest produces a plain text slip that is not registered fiscally.
	ModeTest Mode = "test"
)

const (
	testSeparator = "T;--------------------------------"
	testFooter    = "T;*** NON-FISCAL RECEIPT ***"
)

// Config is the driver-specific part of the command format.
type Config struct {
	Mode          Mode
	FiscalCode    string
	VATCode       string
	CashCode      string
	CardCode      string
	ReportCommand string
}

// Renderer turns a transaction into command bytes. It performs no I/O.
type Renderer struct {
	cfg Config
}

// NewRenderer creates a Renderer.
func NewRenderer(cfg Config) *Renderer {
	return &Renderer{cfg: cfg}
}

// Mode returns the configured wire format.
func (r *Renderer) Mode() Mode {
	return r.cfg.Mode
}

// Render returns the command bytes and the echo the driver is expected to
// repeat back in an error artifact. The transaction must already be valid.
func (r *Renderer) Render(tx receipt.Transaction) ([]byte, string) {
	if tx.IsReport() {
		return []byte(r.cfg.ReportCommand), r.cfg.ReportCommand
	}

	var lines []string
	if r.cfg.Mode == ModeTest {
		lines = r.renderText(tx)
	} else {
		lines = r.renderFiscal(tx)
	}

	cmd := strings.Join(lines, "\n")
	return []byte(cmd), cmd
}

func (r *Renderer) renderFiscal(tx receipt.Transaction) []string {
	header := "FISCAL"
	if r.cfg.FiscalCode != "" {
		header += ";" + r.cfg.FiscalCode
	}

	lines := []string{header}
	for _, item := range tx.Lines() {
		lines = append(lines, fmt.Sprintf("I;%s;%s;%s;%s",
			item.Name, formatQuantity(item.Quantity), formatAmount(item.Price), r.cfg.VATCode))
	}
	lines = append(lines, fmt.Sprintf("P;%s;0", r.paymentCode(tx.Payment)))
	return lines
}

func (r *Renderer) renderText(tx receipt.Transaction) []string {
	lines := []string{"TEXT"}
	for _, item := range tx.Lines() {
		if item.Quantity == 1 {
			lines = append(lines, fmt.Sprintf("T;%s %s", item.Name, formatAmount(item.Price)))
			continue
		}
		lines = append(lines, fmt.Sprintf("T;%s %s x %s = %s",
			item.Name, formatQuantity(item.Quantity), formatAmount(item.Price), formatAmount(item.Total())))
	}
	lines = append(lines,
		testSeparator,
		"T;TOTAL "+formatAmount(tx.Total()),
		"T;PAYMENT "+string(tx.Payment),
		testFooter,
	)
	return lines
}

func (r *Renderer) paymentCode(p receipt.PaymentKind) string {
	if p == receipt.PaymentCard {
		return r.cfg.CardCode
	}
	return r.cfg.CashCode
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatQuantity(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
