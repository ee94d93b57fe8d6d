package dbi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_CountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	fail := false
	c, _ := newTestConn(t, func(string, []any) (reply, error) {
		if fail {
			return reply{}, errors.New("boom")
		}
		return reply{cols: []string{"a"}}, nil
	}, WithMetrics(m))
	ctx := context.Background()

	_, err = c.QueryList(ctx, "SELECT a FROM t")
	require.NoError(t, err)
	_, err = c.QueryRow(ctx, "SELECT a FROM t")
	require.ErrorIs(t, err, ErrNoResult)
	fail = true
	_, err = c.QueryRow(ctx, "SELECT a FROM t")
	require.ErrorIs(t, err, ErrExecution)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.queries.WithLabelValues("mysql", "list", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queries.WithLabelValues("mysql", "row", "no_result")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queries.WithLabelValues("mysql", "row", "error")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.duration))
}

func TestMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)
	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() { m.observe(EngineMySQL, "row", time.Now(), nil) })

	unregistered, err := NewMetrics(nil)
	require.NoError(t, err)
	assert.NotNil(t, unregistered)
}
