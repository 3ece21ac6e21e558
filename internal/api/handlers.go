package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	serial "github.com/allbin/go-serial-relay"
)

const maxSendBody = 4096

type handlers struct {
	ctrl Controller
	log  zerolog.Logger
}

// StatusResponse describes the session as seen by GET /status
type StatusResponse struct {
	State     string   `json:"state"`
	Device    string   `json:"device,omitempty"`
	Ports     []string `json:"ports,omitempty"`
	PortIndex int      `json:"port_index"`
	Framing   string   `json:"framing"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintln(w, "OK")
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.snapshot())
}

func (h *handlers) snapshot() StatusResponse {
	cfg := h.ctrl.Config()
	resp := StatusResponse{
		State:     h.ctrl.State().String(),
		PortIndex: cfg.PortIndex,
		Framing:   cfg.String(),
	}
	if dev, ok := h.ctrl.Device(); ok {
		resp.Device = dev.ID
		resp.Ports = dev.Ports
	}
	return resp
}

// connect accepts an optional permission query parameter carrying the
// outcome of an earlier permission request.
func (h *handlers) connect(w http.ResponseWriter, r *http.Request) {
	outcome := serial.PermissionUnknown
	switch p := r.URL.Query().Get("permission"); p {
	case "":
	case "granted":
		outcome = serial.PermissionGranted
	case "denied":
		outcome = serial.PermissionDenied
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid permission outcome %q", p))
		return
	}

	h.ctrl.Connect(outcome)
	writeJSON(w, http.StatusOK, h.snapshot())
}

func (h *handlers) disconnect(w http.ResponseWriter, r *http.Request) {
	h.ctrl.Disconnect()
	writeJSON(w, http.StatusOK, h.snapshot())
}

func (h *handlers) send(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxSendBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(data) == 0 || len(data) > maxSendBody {
		writeError(w, http.StatusBadRequest, fmt.Errorf("body must hold 1 to %d bytes", maxSendBody))
		return
	}

	if err := h.ctrl.Send(data); err != nil {
		if errors.Is(err, serial.ErrNotConnected) {
			writeError(w, http.StatusConflict, err)
			return
		}
		h.log.Error().Err(err).Msg("send failed")
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"written": len(data)})
}

func (h *handlers) trigger(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(mux.Vars(r)["code"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	connected := h.ctrl.State() == serial.StateConnected
	if err := h.ctrl.Trigger(code); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, serial.ErrInvalidEventCode) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}

	// Trigger drops codes while disconnected; report whether it went out
	writeJSON(w, http.StatusOK, map[string]any{
		"code":      code,
		"delivered": connected,
	})
}
