package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func setupTestMetrics(t *testing.T) *Metrics {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	namespace := "test_" + t.Name() + "_" + time.Now().Format("20060102150405999999999")
	return NewMetrics(logger, namespace)
}

func TestMetrics_Initialization(t *testing.T) {
	m := setupTestMetrics(t)

	assert.NotNil(t, m.httpRequestsTotal)
	assert.NotNil(t, m.runsTotal)
	assert.NotNil(t, m.retryAttemptsTotal)
}

func TestMetrics_HTTPMiddleware(t *testing.T) {
	m := setupTestMetrics(t)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(m.HTTPMiddleware())
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetrics_RunLifecycle(t *testing.T) {
	m := setupTestMetrics(t)

	m.RunStarted()
	m.RunFinished("completed", 250*time.Millisecond)
	m.UpdateWorkerPoolStats(4, 2)
	m.RecordRetryAttempt("adb-pull")
	m.RecordRetrySuccess("adb-pull")
}
