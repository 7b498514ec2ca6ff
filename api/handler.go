package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/KanavDutta/bitflip/core"
	"github.com/KanavDutta/bitflip/metrics"
)

// Snapshot encodings accepted by GET /snapshot?encoding=
const (
	EncodingPacked = "packed"
	EncodingBits   = "bits"
)

// BitStore is the part of core.BitStore the handlers use
type BitStore interface {
	Len() uint
	Flip(index uint) error
	FlipMany(indices []uint) error
	Snapshot() *core.Snapshot
}

// MetricsRecorder defines the interface for recording store metrics
type MetricsRecorder interface {
	RecordFlip(result string, took time.Duration)
	RecordBatch(result string, n int, took time.Duration)
	RecordSnapshot(result string, took time.Duration)
}

// Handler decodes HTTP requests into bit store calls
type Handler struct {
	store   BitStore
	metrics MetricsRecorder
}

// NewHandler creates a new API handler. metrics may be nil.
func NewHandler(store BitStore, metrics MetricsRecorder) *Handler {
	return &Handler{
		store:   store,
		metrics: metrics,
	}
}

// FlipBitsRequest is the body of POST /flip_bits
type FlipBitsRequest struct {
	Indices *[]uint `json:"indices"`
}

// SnapshotResponse is the body of GET /snapshot.
// With the packed encoding Data holds ceil(Length/8) bytes, bit i at
// byte i/8, position i%8, least significant bit first. With the bits
// encoding Data holds one 0/1 value per bit.
type SnapshotResponse struct {
	Length   uint     `json:"length"`
	Encoding string   `json:"encoding"`
	Data     ByteList `json:"data"`
}

// ByteList marshals as a JSON array of integers rather than base64.
type ByteList []byte

// MarshalJSON implements json.Marshaler
func (b ByteList) MarshalJSON() ([]byte, error) {
	out := make([]byte, 0, 2+len(b)*4)
	out = append(out, '[')
	for i, v := range b {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendUint(out, uint64(v), 10)
	}
	return append(out, ']'), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (b *ByteList) UnmarshalJSON(data []byte) error {
	var values []uint8
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*b = values
	return nil
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Snapshot handles GET /snapshot
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	encoding := r.URL.Query().Get("encoding")
	if encoding == "" {
		encoding = EncodingPacked
	}
	if encoding != EncodingPacked && encoding != EncodingBits {
		h.recordSnapshot(metrics.ResultInvalid, 0)
		h.sendError(w, http.StatusBadRequest, "invalid_encoding", "encoding must be packed or bits")
		return
	}

	start := time.Now()
	snap := h.store.Snapshot()
	h.recordSnapshot(metrics.ResultOK, time.Since(start))

	// Encoding happens after the read lock is released
	resp := SnapshotResponse{
		Length:   snap.Len(),
		Encoding: encoding,
	}
	if encoding == EncodingBits {
		resp.Data = snap.Bits()
	} else {
		resp.Data = snap.Bytes()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// Flip handles POST /flip/{index}
func (h *Handler) Flip(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("index")
	index, err := strconv.ParseUint(raw, 10, strconv.IntSize)
	if err != nil {
		h.recordFlip(metrics.ResultInvalid, 0)
		h.sendError(w, http.StatusBadRequest, "invalid_index", "index must be a non-negative integer, got "+strconv.Quote(raw))
		return
	}

	start := time.Now()
	if err := h.store.Flip(uint(index)); err != nil {
		h.recordFlip(metrics.ResultOutOfBounds, time.Since(start))
		h.sendStoreError(w, err)
		return
	}
	h.recordFlip(metrics.ResultOK, time.Since(start))

	w.WriteHeader(http.StatusOK)
}

// FlipBits handles POST /flip_bits
func (h *Handler) FlipBits(w http.ResponseWriter, r *http.Request) {
	var req FlipBitsRequest
	if err := decodeBody(r.Body, &req); err != nil {
		h.recordBatch(metrics.ResultInvalid, 0, 0)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.sendError(w, http.StatusRequestEntityTooLarge, "request_too_large", "Request body exceeds the configured limit")
			return
		}
		h.sendError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body: indices must be non-negative integers")
		return
	}
	if req.Indices == nil {
		h.recordBatch(metrics.ResultInvalid, 0, 0)
		h.sendError(w, http.StatusBadRequest, "invalid_request", "indices is required")
		return
	}

	indices := *req.Indices
	start := time.Now()
	if err := h.store.FlipMany(indices); err != nil {
		h.recordBatch(metrics.ResultOutOfBounds, len(indices), time.Since(start))
		h.sendStoreError(w, err)
		return
	}
	h.recordBatch(metrics.ResultOK, len(indices), time.Since(start))

	w.WriteHeader(http.StatusOK)
}

// decodeBody decodes exactly one JSON value; anything after it is an error.
func decodeBody(body io.Reader, v any) error {
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errTrailingData
		}
		return err
	}
	return nil
}

var errTrailingData = errors.New("unexpected data after JSON body")

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "healthy",
		"service": "bitflip",
		"length":  h.store.Len(),
	})
}

func (h *Handler) sendStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, core.ErrOutOfBounds) {
		h.sendError(w, http.StatusBadRequest, "out_of_bounds", err.Error())
		return
	}
	h.sendError(w, http.StatusInternalServerError, "internal_error", err.Error())
}

func (h *Handler) sendError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}

func (h *Handler) recordFlip(result string, took time.Duration) {
	if h.metrics != nil {
		h.metrics.RecordFlip(result, took)
	}
}

func (h *Handler) recordBatch(result string, n int, took time.Duration) {
	if h.metrics != nil {
		h.metrics.RecordBatch(result, n, took)
	}
}

func (h *Handler) recordSnapshot(result string, took time.Duration) {
	if h.metrics != nil {
		h.metrics.RecordSnapshot(result, took)
	}
}
