package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheus(reg)

	rec.ObserveLoop(OutcomeReplied, 3, 2*time.Second)
	rec.ObserveTool("get_rent_status", true)
	rec.ObserveTool("issue_legal_notice", false)
	rec.ObserveTransition("SUBMITTED", "OWNER_NOTIFIED")
	rec.ObserveConflict("owner_respond")

	assert.InDelta(t, 1, testutil.ToFloat64(rec.loopRuns.WithLabelValues(OutcomeReplied)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.toolCalls.WithLabelValues("issue_legal_notice", "error")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.transitions.WithLabelValues("SUBMITTED", "OWNER_NOTIFIED")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.conflicts.WithLabelValues("owner_respond")), 0)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()
	resp, err := http.Get(srv.URL) //nolint:noctx // test
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNoopRecorder(_ *testing.T) {
	var r Recorder = Noop{}
	r.ObserveLoop(OutcomeFailed, 0, 0)
	r.ObserveTool("x", false)
	r.ObserveTransition("a", "b")
	r.ObserveConflict("c")
}

func TestQueryServiceSummarize(t *testing.T) {
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		query := r.Form.Get("query")
		queries = append(queries, query)

		var result string
		switch {
		case strings.Contains(query, `type="prompt"`):
			result = `[{"metric":{"model":"claude-sonnet-4-5"},"value":[1700000000,"1200"]}]`
		case strings.Contains(query, `type="completion"`):
			result = `[{"metric":{"model":"claude-sonnet-4-5"},"value":[1700000000,"300"]}]`
		case strings.Contains(query, "transitions"):
			result = `[{"metric":{"to_state":"COMPLETED"},"value":[1700000000,"2"]},` +
				`{"metric":{"to_state":"OWNER_NOTIFIED"},"value":[1700000000,"5"]}]`
		default:
			result = `[]`
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","data":{"resultType":"vector","result":` + result + `}}`))
	}))
	defer srv.Close()

	q, err := NewQueryService(srv.URL)
	require.NoError(t, err)

	s, err := q.Summarize(context.Background(), 24*time.Hour)
	require.NoError(t, err)

	assert.InDelta(t, 1200, s.PromptTokens["claude-sonnet-4-5"], 0)
	assert.InDelta(t, 300, s.CompletionTokens["claude-sonnet-4-5"], 0)
	require.Len(t, s.Transitions, 2)
	assert.Equal(t, "OWNER_NOTIFIED", s.Transitions[0].Label)
	assert.Empty(t, s.ToolFailures)
	assert.Len(t, queries, 5)
	assert.Contains(t, queries[0], "[1d]")
}

func TestQueryServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":"error","errorType":"bad_data","error":"parse error"}`))
	}))
	defer srv.Close()

	q, err := NewQueryService(srv.URL)
	require.NoError(t, err)
	_, err = q.Summarize(context.Background(), time.Hour)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompt tokens")
}
