package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.TaskStarted()
	m.TaskStarted()
	m.TaskFinished("completed")
	m.Item("processed")
	m.Item("processed")
	m.Item("duplicate")
	m.ObserveFetch("article", 10*time.Millisecond, nil)
	m.ObserveFetch("article", 10*time.Millisecond, errors.New("boom"))
	m.EventsDroppedAdd(3)
	m.IndexFailed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TasksStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TasksActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TasksFinished.WithLabelValues("completed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Items.WithLabelValues("processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Fetches.WithLabelValues("article", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.EventsDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexFailures))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.TaskStarted()
	m.TaskFinished("failed")
	m.Item("failed")
	m.ObserveFetch("list", time.Second, nil)
	m.EventsDroppedAdd(1)
	m.IndexFailed()
}
