package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.ObserveReconcile(nil)
	r.ObserveReconcile(errors.New("boom"))
	r.ObserveReconcile(nil)
	r.StaleResponse()
	r.ObserveBulk("markRead", nil)
	r.FeedEvent("messages")
	r.FeedError()
	r.DetailAppended(3)
	r.DetailAppended(0)
	r.SetListSize(20)
	r.SetFallbackActive(true)
	r.ObserveAggregation(15*time.Millisecond, nil)

	require.Equal(t, 2.0, testutil.ToFloat64(r.reconciles.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.reconciles.WithLabelValues("error")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.staleResponses))
	require.Equal(t, 1.0, testutil.ToFloat64(r.bulkActions.WithLabelValues("markRead", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.feedEvents.WithLabelValues("messages")))
	require.Equal(t, 3.0, testutil.ToFloat64(r.detailAppends))
	require.Equal(t, 20.0, testutil.ToFloat64(r.listSize))
	require.Equal(t, 1.0, testutil.ToFloat64(r.fallbackRunning))
	require.Equal(t, 1, testutil.CollectAndCount(r.aggregation))
}

func TestRecorder_NilSafe(t *testing.T) {
	var r *Recorder
	require.NotPanics(t, func() {
		r.ObserveReconcile(nil)
		r.ObserveAggregation(time.Second, nil)
		r.StaleResponse()
		r.ObserveBulk("pin", nil)
		r.FeedEvent("threads")
		r.FeedError()
		r.DetailAppended(1)
		r.SetListSize(1)
		r.SetFallbackActive(false)
	})
}

func TestHandler_ServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)
	r.ObserveBulk("archive", errors.New("rejected"))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `threadline_bulk_actions_total{action="archive",result="error"} 1`)
}
