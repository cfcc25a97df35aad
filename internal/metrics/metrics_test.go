package metrics

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordPipelineRun(t *testing.T) {
	before := testutil.ToFloat64(pipelineRuns.WithLabelValues("metrics-test", "success"))
	RecordPipelineRun("metrics-test", "success", 150*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(pipelineRuns.WithLabelValues("metrics-test", "success")))
}

func TestRecordStep(t *testing.T) {
	before := testutil.ToFloat64(steps.WithLabelValues("tool", "skipped"))
	RecordStep("tool", "skipped", 0)
	assert.Equal(t, before+1, testutil.ToFloat64(steps.WithLabelValues("tool", "skipped")))
}

func TestRecordBudgetExceeded(t *testing.T) {
	before := testutil.ToFloat64(budgetExceeded.WithLabelValues("pipeline", "tokens"))
	RecordBudgetExceeded("pipeline", "tokens")
	RecordBudgetExceeded("pipeline", "tokens")
	assert.Equal(t, before+2, testutil.ToFloat64(budgetExceeded.WithLabelValues("pipeline", "tokens")))
}

func TestServer(t *testing.T) {
	RecordPipelineRun("served", "success", time.Millisecond)

	srv, err := Listen("127.0.0.1:0", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer srv.Shutdown(context.Background())

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `sibyl_pipeline_runs_total{pipeline="served",status="success"}`)
}
