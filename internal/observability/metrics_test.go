package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveMessage("message", "ok", time.Now())
	m.ObserveMessage("message", "ok", time.Now())
	m.ObserveMessage("interruption", "not_found", time.Now())
	m.ObserveTransition("greeting", "collecting")
	m.ObserveTransition("collecting", "collecting")
	m.SessionStarted("default")
	m.Swept(3)
	m.Swept(0)
	m.CallOpened()
	m.CallOpened()
	m.CallClosed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesTotal.WithLabelValues("message", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesTotal.WithLabelValues("interruption", "not_found")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.TransitionsTotal), "self-transitions are not recorded")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsStarted.WithLabelValues("default")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SessionsSwept))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveCalls))

	families, err := reg.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveMessage("message", "ok", time.Now())
		m.ObserveTransition("a", "b")
		m.SessionStarted("x")
		m.Swept(1)
		m.CallOpened()
		m.CallClosed()
	})
}
