package fiscal

import (
	"testing"

	"github.com/cassiomorais/fiscalbridge/internal/domain/receipt"
	"github.com/stretchr/testify/assert"
)

func liveConfig() Config {
	return Config{
		Mode:          ModeLive,
		VATCode:       "1",
		CashCode:      "0",
		CardCode:      "1",
		ReportCommand: "Z;1",
	}
}

func TestRender_LiveLegacySale(t *testing.T) {
	r := NewRenderer(liveConfig())

	data, echo := r.Render(receipt.NewLegacySale("Coffee", "", 5.00, receipt.PaymentCash))

	assert.Equal(t, "FISCAL\nI;Coffee ();1;5.00;1\nP;0;0", string(data))
	assert.Equal(t, string(data), echo)
}

func TestRender_LiveWithFiscalCode(t *testing.T) {
	cfg := liveConfig()
	cfg.FiscalCode = "RO12345"
	r := NewRenderer(cfg)

	data, _ := r.Render(receipt.NewLegacySale("Kayak", "2h", 25.5, receipt.PaymentCard))

	assert.Equal(t, "FISCAL;RO12345\nI;Kayak (2h);1;25.50;1\nP;1;0", string(data))
}

func TestRender_LiveItemized(t *testing.T) {
	r := NewRenderer(liveConfig())

	data, _ := r.Render(receipt.NewItemizedSale([]receipt.LineItem{
		{Name: "Tea", Quantity: 2, Price: 3.5},
		{Name: "Cheese", Quantity: 0.25, Price: 40},
	}, receipt.PaymentCash))

	assert.Equal(t, "FISCAL\nI;Tea;2;3.50;1\nI;Cheese;0.25;40.00;1\nP;0;0", string(data))
}

func TestRender_PaymentCodesFollowConfig(t *testing.T) {
	cfg := liveConfig()
	cfg.CashCode = "1"
	cfg.CardCode = "2"
	r := NewRenderer(cfg)

	cash, _ := r.Render(receipt.NewLegacySale("A", "", 1, receipt.PaymentCash))
	card, _ := r.Render(receipt.NewLegacySale("A", "", 1, receipt.PaymentCard))

	assert.Contains(t, string(cash), "\nP;1;0")
	assert.Contains(t, string(card), "\nP;2;0")
}

func TestRender_TestMode(t *testing.T) {
	cfg := liveConfig()
	cfg.Mode = ModeTest
	r := NewRenderer(cfg)

	data, echo := r.Render(receipt.NewItemizedSale([]receipt.LineItem{
		{Name: "Coffee", Quantity: 1, Price: 5},
		{Name: "Tea", Quantity: 2, Price: 3.5},
	}, receipt.PaymentCard))

	want := "TEXT\n" +
		"T;Coffee 5.00\n" +
		"T;Tea 2 x 3.50 = 7.00\n" +
		testSeparator + "\n" +
		"T;TOTAL 12.00\n" +
		"T;PAYMENT CARD\n" +
		testFooter
	assert.Equal(t, want, string(data))
	assert.Equal(t, want, echo)
	assert.NotContains(t, string(data), "FISCAL\n")
}

func TestRender_Report(t *testing.T) {
	for _, mode := range []Mode{ModeLive, ModeTest} {
		cfg := liveConfig()
		cfg.Mode = mode
		r := NewRenderer(cfg)

		data, echo := r.Render(receipt.NewReport())
		assert.Equal(t, "Z;1", string(data), mode)
		assert.Equal(t, "Z;1", echo, mode)
	}
}

func TestRender_Deterministic(t *testing.T) {
	r := NewRenderer(liveConfig())
	tx := receipt.NewItemizedSale([]receipt.LineItem{
		{Name: "Tea", Quantity: 3, Price: 0.1},
	}, receipt.PaymentCash)

	first, firstEcho := r.Render(tx)
	for range 10 {
		again, echo := r.Render(tx)
		assert.Equal(t, first, again)
		assert.Equal(t, firstEcho, echo)
	}
}
