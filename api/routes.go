package api

import (
	"net/http"
)

// Register mounts the bit store endpoints on mux.
//
//	GET  /snapshot        full copy of the bit vector
//	POST /flip/{index}    toggle one bit
//	POST /flip_bits       toggle a batch, all or nothing
//	GET  /health          liveness
//	GET  /dashboard       HTML view of the vector
func Register(mux *http.ServeMux, h *Handler) {
	mux.HandleFunc("GET /snapshot", h.Snapshot)
	mux.HandleFunc("POST /flip/{index}", h.Flip)
	mux.HandleFunc("POST /flip_bits", h.FlipBits)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /dashboard", Dashboard)
}
