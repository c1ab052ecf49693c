package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/quakesentinel/internal/models"
)

func TestObservers(t *testing.T) {
	m := New()

	m.ObserveEvent(models.EventTypeEarthquake)
	m.ObserveEvent(models.EventTypeEarthquake)
	m.ObserveEvent(models.EventTypeVibration)
	m.ObserveIngestError("invalid_input")
	m.ObserveQueueDepth(7)
	m.ObserveDelivery(models.ChannelWhatsApp, models.StatusSent, 20*time.Millisecond)
	m.ObserveDelivery(models.ChannelWhatsApp, models.StatusFailed, time.Second)
	m.ObserveDispatch(models.EventTypeEarthquake, models.Skipped(models.SkipCooldownActive))
	m.ObserveDispatch(models.EventTypeEarthquake, models.DispatchOutcome{Total: 1, Sent: 1})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("earthquake")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("vibration")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestErrors.WithLabelValues("invalid_input")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.QueueDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsTotal.WithLabelValues("whatsapp", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsTotal.WithLabelValues("whatsapp", "failed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.DispatchSkips))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveAnalysis(55)
	m.ObserveLatency(150 * time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.True(t, strings.Contains(text, "quakesentinel_aftershock_probability_percent_count 1"))
	assert.True(t, strings.Contains(text, "quakesentinel_pipeline_latency_seconds_count 1"))
	assert.True(t, strings.Contains(text, "go_goroutines"))
}

func TestIndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New()
		New()
	})
}
