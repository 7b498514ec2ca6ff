package middleware

import (
	"net/http"

	"golang.org/x/sync/semaphore"
)

// Admission bounds the number of handlers running at once to workers.
// Requests beyond that wait for a slot; a request whose context ends while
// waiting gets 503.
func Admission(workers int) Middleware {
	if workers < 1 {
		workers = 1
	}
	sem := semaphore.NewWeighted(int64(workers))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := sem.Acquire(r.Context(), 1); err != nil {
				writeError(w, http.StatusServiceUnavailable, "server_busy", "No worker became available before the request was cancelled")
				return
			}
			defer sem.Release(1)

			next.ServeHTTP(w, r)
		})
	}
}
