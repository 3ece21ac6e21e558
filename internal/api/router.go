package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	serial "github.com/allbin/go-serial-relay"
)

// Controller is the part of a serial session exposed over HTTP
type Controller interface {
	State() serial.State
	Device() (serial.Device, bool)
	Config() serial.Config
	Connect(outcome serial.PermissionOutcome)
	Disconnect()
	Send(data []byte) error
	Trigger(code int) error
}

var _ Controller = (*serial.Session)(nil)

// NewRouter exposes ctrl as a small control API for the relay daemon.
func NewRouter(ctrl Controller, logger zerolog.Logger) *mux.Router {
	h := &handlers{ctrl: ctrl, log: logger.With().Str("component", "api").Logger()}

	r := mux.NewRouter()
	r.Use(h.requestLogger)
	r.HandleFunc("/health", h.health).Methods("GET")
	r.HandleFunc("/status", h.status).Methods("GET")
	r.HandleFunc("/connect", h.connect).Methods("POST")
	r.HandleFunc("/disconnect", h.disconnect).Methods("POST")
	r.HandleFunc("/send", h.send).Methods("POST")
	r.HandleFunc("/trigger/{code:[0-9]+}", h.trigger).Methods("POST")
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (h *handlers) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		h.log.Debug().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}
