package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()
	require.NotNil(t, pollsTotal)
	require.NotNil(t, imageUploadsTotal)

	before := testutil.ToFloat64(deliveriesTotal.WithLabelValues("dingtalk", "error"))
	ObserveDelivery("dingtalk", errors.New("boom"))
	assert.Equal(t, before+1, testutil.ToFloat64(deliveriesTotal.WithLabelValues("dingtalk", "error")))

	SetWatermark("147", 101, 7)
	assert.Equal(t, float64(101), testutil.ToFloat64(watermark.WithLabelValues("147", "pid")))
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	ObservePoll("147", "ok")
	router := NewRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "sentinel_polls_total"))
}
