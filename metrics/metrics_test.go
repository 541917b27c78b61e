package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New(nil)

	m.Admission(true)
	m.Admission(false)
	m.Admission(false)
	m.ValidationRejected("oversize")
	m.RunFinished("done", 3*time.Second)
	m.HTTPRequest("POST /detect/upload", 202, 40*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.admissions.WithLabelValues(AdmissionGranted)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.admissions.WithLabelValues(AdmissionDenied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejections.WithLabelValues("oversize")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpReqs.WithLabelValues("POST /detect/upload", "202")))
}

func TestHandler_ExposesBusyGauge(t *testing.T) {
	busy := 2
	m := New(func() int { return busy })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "lookout_busy_clients 2")
	assert.True(t, strings.Contains(body, "go_goroutines"))
}

func TestNew_IndependentRegistries(t *testing.T) {
	a, b := New(nil), New(nil)
	a.ValidationRejected("corrupt")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.rejections.WithLabelValues("corrupt")))
}
