package observability

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"INFO":    zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLogLevel(in), in)
	}
}

func TestComponentLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(InitLogger("debug", &buf), "correlator")

	logger.Info().Str("artifact", "bon_1.txt").Msg("resolved")

	out := buf.String()
	assert.Contains(t, out, `"component":"correlator"`)
	assert.Contains(t, out, `"artifact":"bon_1.txt"`)
}

func TestNewMetrics_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.ReceiptsTotal.WithLabelValues("sale", "live", "succeeded").Inc()
	m.EchoMismatches.Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["test_receipts_total"])
	assert.True(t, names["test_echo_mismatch_total"])
}
