package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestGet_Singleton(t *testing.T) {
	m1 := Get()
	m2 := Get()
	assert.Same(t, m1, m2)
}

func TestCounters(t *testing.T) {
	m := Get()
	before := testutil.ToFloat64(m.RPCRequests.WithLabelValues("ep-test", "eth_getLogs"))
	m.RPCRequests.WithLabelValues("ep-test", "eth_getLogs").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(m.RPCRequests.WithLabelValues("ep-test", "eth_getLogs")))
}

func TestHandler(t *testing.T) {
	Get().ChunksIssued.Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gamefinder_fetch_chunks_total")
}
