package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funcx-faas/action-provider/internal/domain"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/submit", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req struct {
			Tasks []submitTask `json:"tasks"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		results := make([]map[string]string, 0, len(req.Tasks))
		for _, task := range req.Tasks {
			results = append(results, map[string]string{"task_uuid": "id-" + task.Function})
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{"task_group_id": "grp-1", "results": results})
	})
	mux.HandleFunc("/v2/tasks/", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/v2/tasks/"):]
		switch id {
		case "pending":
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "waiting-for-ep", "pending": true})
		case "running":
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "running"})
		case "ok":
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "success", "pending": false, "result": 3})
		case "boom":
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "failed", "pending": false, "exception": "ZeroDivisionError"})
		case "garbled":
			_, _ = w.Write([]byte("{not json"))
		case "broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPClient_SubmitBatch(t *testing.T) {
	srv := newTestServer(t)
	c, err := NewHTTPClient(HTTPConfig{BaseURL: srv.URL + "/v2/", Token: "secret", Timeout: time.Second})
	require.NoError(t, err)
	defer c.Close()

	b, err := c.SubmitBatch(context.Background(), []domain.TaskDescriptor{
		{EndpointID: "e1", FunctionID: "f1", Args: []any{1.0}},
		{EndpointID: "e1", FunctionID: "f2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "grp-1", b.GroupID)
	assert.Equal(t, []string{"id-f1", "id-f2"}, b.TaskIDs)
}

func TestHTTPClient_SubmitRejected(t *testing.T) {
	srv := newTestServer(t)
	c, err := NewHTTPClient(HTTPConfig{BaseURL: srv.URL + "/v2", Token: "wrong"})
	require.NoError(t, err)

	_, err = c.SubmitBatch(context.Background(), []domain.TaskDescriptor{{EndpointID: "e1", FunctionID: "f1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestHTTPClient_GetResult(t *testing.T) {
	srv := newTestServer(t)
	c, err := NewHTTPClient(HTTPConfig{BaseURL: srv.URL + "/v2"})
	require.NoError(t, err)

	ctx := context.Background()

	o, err := c.GetResult(ctx, "pending")
	require.NoError(t, err)
	assert.Equal(t, KindPending, o.Kind)

	o, err = c.GetResult(ctx, "running")
	require.NoError(t, err)
	assert.Equal(t, KindPending, o.Kind)

	o, err = c.GetResult(ctx, "ok")
	require.NoError(t, err)
	assert.Equal(t, KindSuccess, o.Kind)
	assert.Equal(t, 3.0, o.Value)

	o, err = c.GetResult(ctx, "boom")
	require.NoError(t, err)
	assert.Equal(t, KindFailure, o.Kind)
	assert.Equal(t, "ZeroDivisionError", o.Detail)

	o, err = c.GetResult(ctx, "garbled")
	require.NoError(t, err)
	assert.Equal(t, KindFailure, o.Kind)

	o, err = c.GetResult(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, KindFailure, o.Kind)
	assert.Contains(t, o.Detail, "not found")

	_, err = c.GetResult(ctx, "broken")
	require.Error(t, err)
}

func TestNewHTTPClient_Validation(t *testing.T) {
	_, err := NewHTTPClient(HTTPConfig{})
	assert.Error(t, err)
	_, err = NewHTTPClient(HTTPConfig{BaseURL: "ftp://example.org"})
	assert.Error(t, err)
}

func TestOutcomeKind_String(t *testing.T) {
	assert.Equal(t, "pending", KindPending.String())
	assert.Equal(t, "success", KindSuccess.String())
	assert.Equal(t, "failure", KindFailure.String())
	assert.Equal(t, "OutcomeKind(9)", OutcomeKind(9).String())
}
