package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestCountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Accepted.Inc()
	m.Accepted.Inc()
	require.Equal(t, float64(2), counterValue(t, m.Accepted))

	m.TeardownsTotal.WithLabelValues(string(TeardownStream)).Inc()
	m.TeardownsTotal.WithLabelValues(string(TeardownSession)).Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}
