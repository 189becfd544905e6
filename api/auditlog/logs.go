// Package auditlog exposes the reallocation audit log over HTTP.
package auditlog

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/kilianp07/evstation/core/auditlog"
	"github.com/kilianp07/evstation/core/events"
)

// NewLogHandler returns an HTTP handler exposing reallocation logs via GET /api/allocations/logs.
// Requests must include an Authorization header with "Bearer <token>" when token is non-empty.
func NewLogHandler(store auditlog.Store, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if token != "" {
			auth := r.Header.Get("Authorization")
			if subtle.ConstantTimeCompare([]byte(auth), []byte("Bearer "+token)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		q := auditlog.Query{}
		params := r.URL.Query()
		for name, dst := range map[string]*time.Time{"start": &q.Start, "end": &q.End} {
			s := params.Get(name)
			if s == "" {
				continue
			}
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				http.Error(w, "invalid "+name+": expected RFC3339", http.StatusBadRequest)
				return
			}
			*dst = t
		}
		q.SessionID = params.Get("session_id")
		switch tr := events.SessionAction(params.Get("trigger")); tr {
		case "", events.SessionStarted, events.SessionUpdated, events.SessionStopped:
			q.Trigger = tr
		default:
			http.Error(w, "unknown trigger "+string(tr), http.StatusBadRequest)
			return
		}
		records, err := store.Query(r.Context(), q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []auditlog.Record{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(records); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}
