package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/devops-activity-snapshot/internal/domain"
	"github.com/kurihiro0119/devops-activity-snapshot/internal/snapshot"
)

func TestMiddleware_RecordsRoutePattern(t *testing.T) {
	gin.SetMode(gin.TestMode)

	collector, err := NewHTTPCollector()
	require.NoError(t, err)

	router := gin.New()
	router.Use(collector.Middleware())
	router.GET("/api/runs/:id/projects", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, id := range []string{"a", "b"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs/"+id+"/projects", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}

	count := testutil.ToFloat64(collector.requestTotal.WithLabelValues(http.MethodGet, "/api/runs/:id/projects", "200"))
	assert.Equal(t, 2.0, count)
}

func TestHandler_ExposesMetrics(t *testing.T) {
	collector, err := NewHTTPCollector()
	require.NoError(t, err)
	collector.requestTotal.WithLabelValues(http.MethodGet, "/health", "200").Inc()

	w := httptest.NewRecorder()
	collector.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "devops_snapshot_http_requests_total")
}

func TestSnapshotCollector(t *testing.T) {
	store := snapshot.NewStore(t.TempDir())
	c := NewSnapshotCollector(store)

	// nothing published yet
	assert.Equal(t, 0, testutil.CollectAndCount(c))

	require.NoError(t, store.WriteActivities([]*domain.ProjectActivity{{ProjectID: "P1"}, {ProjectID: "P2"}}))
	require.NoError(t, store.WriteStatus(domain.NewFailureStatus(time.Unix(1711929600, 0).UTC(), "token expired")))

	expected := `
# HELP devops_snapshot_snapshot_last_run_failed 1 when the last collection run failed.
# TYPE devops_snapshot_snapshot_last_run_failed gauge
devops_snapshot_snapshot_last_run_failed 1
# HELP devops_snapshot_snapshot_last_run_timestamp_seconds Time of the last collection run as reported by the status artifact.
# TYPE devops_snapshot_snapshot_last_run_timestamp_seconds gauge
devops_snapshot_snapshot_last_run_timestamp_seconds 1.7119296e+09
# HELP devops_snapshot_snapshot_projects Number of project records in the published data artifact.
# TYPE devops_snapshot_snapshot_projects gauge
devops_snapshot_snapshot_projects 2
`
	assert.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected)))
}

func TestNewHTTPCollector_RegistersExtraCollectors(t *testing.T) {
	store := snapshot.NewStore(t.TempDir())
	require.NoError(t, store.WriteStatus(domain.NewSuccessStatus(time.Now(), 0)))

	collector, err := NewHTTPCollector(NewSnapshotCollector(store))
	require.NoError(t, err)

	families, err := collector.Registry().Gather()
	require.NoError(t, err)

	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "devops_snapshot_snapshot_last_run_failed")
}
