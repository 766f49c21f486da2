package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_CountersAndGauges(t *testing.T) {
	m := New()
	m.Inc(OfferDirected)
	m.Inc(OfferDirected)
	m.Delivery("ReceiveOffer", nil)
	m.Delivery("ReceiveOffer", errors.New("queue full"))
	m.SetGauges(Gauges{OnlineUsers: 3, ActiveSessions: 2, SharingSessions: 1})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues(OfferDirected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("ReceiveOffer", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.onlineUsers))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sharing))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Inc(OfferBroadcast)
	m.Delivery("ReceiveAnswer", nil)
	m.SetGauges(Gauges{})
	m.SocketOpened()
	m.SocketClosed()
}

func TestPrometheusHandler(t *testing.T) {
	m := New()
	m.Inc(UserRegistered)
	m.SocketOpened()

	rec := httptest.NewRecorder()
	PrometheusHandler(m).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.True(t, strings.Contains(text, `aero_screenshare_signaling_events_total{event="user_registered"} 1`), text)
	assert.True(t, strings.Contains(text, `aero_screenshare_signaling_signaling_connections 1`), text)
}
