package embedding

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOllamaServer(t *testing.T, dim int, vram int64, requests chan<- embedRequest) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if requests != nil {
			requests <- req
		}
		resp := embedResponse{Model: req.Model}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, make([]float32, dim))
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/api/ps", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":[{"name":"e5:latest","model":"e5:latest","size_vram":` +
			jsonInt(vram) + `}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestOllamaEmbedBatch(t *testing.T) {
	requests := make(chan embedRequest, 4)
	srv := newOllamaServer(t, 3, 0, requests)

	m := NewOllamaModel(OllamaConfig{Host: srv.URL, Model: "e5", Dimension: 3})
	vecs, err := m.Embed(context.Background(), []string{"query: a", "query: b"}, BackendCPU)
	require.NoError(t, err)
	assert.Len(t, vecs, 2)

	req := <-requests
	assert.Equal(t, "e5", req.Model)
	assert.Equal(t, []string{"query: a", "query: b"}, req.Input)
	assert.EqualValues(t, 0, req.Options["num_gpu"])
}

func TestOllamaGPURequestHasNoDeviceOverride(t *testing.T) {
	requests := make(chan embedRequest, 1)
	srv := newOllamaServer(t, 3, 0, requests)

	m := NewOllamaModel(OllamaConfig{Host: srv.URL, Model: "e5", Dimension: 3})
	_, err := m.Embed(context.Background(), []string{"x"}, BackendGPU)
	require.NoError(t, err)

	req := <-requests
	assert.Nil(t, req.Options)
}

func TestOllamaDimensionMismatch(t *testing.T) {
	srv := newOllamaServer(t, 5, 0, nil)

	m := NewOllamaModel(OllamaConfig{Host: srv.URL, Model: "e5", Dimension: 3})
	_, err := m.Embed(context.Background(), []string{"x"}, BackendCPU)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestOllamaSupportsGPU(t *testing.T) {
	withGPU := newOllamaServer(t, 3, 1<<30, nil)
	cpuOnly := newOllamaServer(t, 3, 0, nil)

	assert.True(t, NewOllamaModel(OllamaConfig{Host: withGPU.URL, Model: "e5"}).SupportsGPU(context.Background()))
	assert.False(t, NewOllamaModel(OllamaConfig{Host: cpuOnly.URL, Model: "e5"}).SupportsGPU(context.Background()))
}

func TestOllamaLoaderRetriesThenFails(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	loader := NewOllamaLoader(OllamaConfig{Host: srv.URL, Model: "missing", Dimension: 3, ProbeRetries: 2})
	_, err := loader(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(3), hits.Load())
}

func TestOllamaLoaderSucceeds(t *testing.T) {
	srv := newOllamaServer(t, 3, 0, nil)

	m, err := NewOllamaLoader(OllamaConfig{Host: srv.URL, Model: "e5", Dimension: 3})(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, m)
}
