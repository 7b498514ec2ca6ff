package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KanavDutta/bitflip/core"
	"github.com/KanavDutta/bitflip/metrics"
)

type testServer struct {
	store   *core.BitStore
	metrics *metrics.Metrics
	mux     *http.ServeMux
}

func newTestServer(t *testing.T, size uint) *testServer {
	t.Helper()
	store, err := core.New(size)
	require.NoError(t, err)

	m := metrics.New(prometheus.NewRegistry())
	mux := http.NewServeMux()
	Register(mux, NewHandler(store, m))
	return &testServer{store: store, metrics: m, mux: mux}
}

func (s *testServer) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)
	return w
}

func (s *testServer) snapshot(t *testing.T, target string) SnapshotResponse {
	t.Helper()
	w := s.do(http.MethodGet, target, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp SnapshotResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestSnapshot_InitiallyZero(t *testing.T) {
	s := newTestServer(t, 20)

	resp := s.snapshot(t, "/snapshot")
	assert.Equal(t, uint(20), resp.Length)
	assert.Equal(t, EncodingPacked, resp.Encoding)
	assert.Equal(t, ByteList{0, 0, 0}, resp.Data)
}

func TestSnapshot_WireFormat(t *testing.T) {
	s := newTestServer(t, 8)
	require.NoError(t, s.store.Flip(3))

	w := s.do(http.MethodGet, "/snapshot", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"length":8,"encoding":"packed","data":[8]}`, w.Body.String())

	w = s.do(http.MethodGet, "/snapshot?encoding=bits", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"length":8,"encoding":"bits","data":[0,0,0,1,0,0,0,0]}`, w.Body.String())
}

func TestSnapshot_InvalidEncoding(t *testing.T) {
	s := newTestServer(t, 8)

	w := s.do(http.MethodGet, "/snapshot?encoding=base64", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_encoding", decodeError(t, w).Error)
}

func TestFlip_Success(t *testing.T) {
	s := newTestServer(t, 8)

	w := s.do(http.MethodPost, "/flip/3", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, "00010000", s.store.Snapshot().String())

	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.OperationsTotal.WithLabelValues(metrics.OpFlip, metrics.ResultOK)))
}

func TestFlip_OutOfBounds(t *testing.T) {
	s := newTestServer(t, 8)
	require.NoError(t, s.store.Flip(1))
	before := s.store.Snapshot()

	w := s.do(http.MethodPost, "/flip/8", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	resp := decodeError(t, w)
	assert.Equal(t, "out_of_bounds", resp.Error)
	assert.Equal(t, "index 8 out of bounds for length 8", resp.Message)
	assert.True(t, before.Equal(s.store.Snapshot()))
}

func TestFlip_InvalidIndex(t *testing.T) {
	s := newTestServer(t, 8)

	for _, raw := range []string{"-1", "abc", "1.5", "99999999999999999999999"} {
		w := s.do(http.MethodPost, "/flip/"+raw, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, raw)
		assert.Equal(t, "invalid_index", decodeError(t, w).Error, raw)
	}
	assert.Zero(t, s.store.Count())
}

func TestFlip_WrongMethod(t *testing.T) {
	s := newTestServer(t, 8)

	w := s.do(http.MethodGet, "/flip/1", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestFlipBits_Success(t *testing.T) {
	s := newTestServer(t, 8)
	require.NoError(t, s.store.Flip(3))

	w := s.do(http.MethodPost, "/flip_bits", `{"indices":[0,3,7]}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, "10000001", s.store.Snapshot().String())

	assert.Equal(t, 3.0, testutil.ToFloat64(s.metrics.BitsFlippedTotal))
}

func TestFlipBits_OutOfBoundsChangesNothing(t *testing.T) {
	s := newTestServer(t, 8)
	before := s.store.Snapshot()

	w := s.do(http.MethodPost, "/flip_bits", `{"indices":[0,1,8,2]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "out_of_bounds", decodeError(t, w).Error)
	assert.True(t, before.Equal(s.store.Snapshot()))

	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.OperationsTotal.WithLabelValues(metrics.OpFlipBits, metrics.ResultOutOfBounds)))
}

func TestFlipBits_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `{"indices":[1,2`},
		{name: "negative index", body: `{"indices":[-1]}`},
		{name: "string index", body: `{"indices":["1"]}`},
		{name: "fractional index", body: `{"indices":[1.5]}`},
		{name: "missing indices", body: `{}`},
		{name: "null indices", body: `{"indices":null}`},
		{name: "empty body", body: ``},
		{name: "trailing data", body: `{"indices":[1]} garbage{`},
		{name: "second value", body: `{"indices":[1]}{"indices":[2]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, 8)

			w := s.do(http.MethodPost, "/flip_bits", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "invalid_request", decodeError(t, w).Error)
			assert.Zero(t, s.store.Count())
		})
	}
}

func TestFlipBits_EmptyBatch(t *testing.T) {
	s := newTestServer(t, 8)

	w := s.do(http.MethodPost, "/flip_bits", `{"indices":[]}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, s.store.Count())
}

func TestFlipBits_BodyTooLarge(t *testing.T) {
	store, err := core.New(8)
	require.NoError(t, err)
	h := NewHandler(store, nil)

	body := `{"indices":[` + strings.Repeat("1,", 100) + `1]}`
	req := httptest.NewRequest(http.MethodPost, "/flip_bits", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	req.Body = http.MaxBytesReader(w, req.Body, 16)

	h.FlipBits(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Zero(t, store.Count())
}

func TestFlipBits_TrailingWhitespace(t *testing.T) {
	s := newTestServer(t, 8)

	w := s.do(http.MethodPost, "/flip_bits", "{\"indices\":[1]}\n  ")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "01000000", s.store.Snapshot().String())
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, 1000)

	w := s.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"bitflip","length":1000}`, w.Body.String())
}

func TestDashboard(t *testing.T) {
	s := newTestServer(t, 8)

	w := s.do(http.MethodGet, "/dashboard", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "fetch('/snapshot')")
}

func TestMetricsHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.RecordFlip(metrics.ResultOK, 0)

	w := httptest.NewRecorder()
	NewMetricsHandler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `bitflip_store_operations_total{op="flip",result="ok"} 1`)
}

func TestByteList_RoundTrip(t *testing.T) {
	data, err := json.Marshal(ByteList{0, 8, 255})
	require.NoError(t, err)
	assert.Equal(t, "[0,8,255]", string(data))

	var back ByteList
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, ByteList{0, 8, 255}, back)

	assert.Error(t, json.Unmarshal([]byte("[256]"), &back))
}
