package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecords(t *testing.T) {
	c := New()

	c.ObserveRequest("GET", "/alerts", "200", 10*time.Millisecond)
	c.ObserveRequest("GET", "/alerts", "200", 20*time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.requestsTotal.WithLabelValues("GET", "/alerts", "200")))

	c.ObserveAppend(nil, 3, time.Millisecond)
	c.ObserveAppend(errors.New("disk full"), 99, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ledgerAppends.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ledgerAppends.WithLabelValues("error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.ledgerHeight))

	c.ObserveVerify(false)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ledgerVerifyTotal.WithLabelValues("broken")))

	c.IncAlertsCreated("twitter", "high")
	c.IncReportsSubmitted("instagram")
	c.IncAuthFailures("forbidden")
	c.ObservePublish("alert.created", nil)
	c.TrackStreamClients(func() int { return 4 })
	assert.Equal(t, 1.0, testutil.ToFloat64(c.alertsCreated.WithLabelValues("twitter", "high")))

	count, err := testutil.GatherAndCount(c.Registry(), "threatlens_stream_clients")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveRequest("GET", "/", "200", time.Second)
		c.ObserveAppend(nil, 1, time.Second)
		c.SetLedgerHeight(1)
		c.ObserveVerify(true)
		c.IncAlertsCreated("twitter", "low")
		c.IncReportsSubmitted("twitter")
		c.IncAuthFailures("unauthorized")
		c.ObservePublish("x", nil)
		c.TrackStreamClients(func() int { return 1 })
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := New()
	c.SetLedgerHeight(7)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "threatlens_ledger_height 7")
}
