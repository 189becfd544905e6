// Package station exposes the charging station over HTTP.
package station

import (
	"encoding/json"
	"net/http"

	"github.com/kilianp07/evstation/core/logger"
	"github.com/kilianp07/evstation/core/monitoring"
	"github.com/kilianp07/evstation/core/station"
)

// Service is the station behaviour served by the handler.
type Service interface {
	StartSession(chargerID string, connectorID int, vehicleMaxPower int) (station.Session, error)
	StopSession(sessionID string, consumedEnergy float64) (station.Session, error)
	PowerUpdate(sessionID string, consumedPower float64, vehicleMaxPower int) (station.Session, error)
	FindSession(sessionID string) (station.Session, error)
	Sessions() []station.Session
	Chargers() []station.ChargerInfo
	Status() station.Status
}

type handler struct {
	svc    Service
	logger logger.Logger
}

// NewHandler registers the station routes on a new ServeMux.
func NewHandler(svc Service, log logger.Logger) http.Handler {
	if log == nil {
		log = logger.NopLogger{}
	}
	h := &handler{svc: svc, logger: log}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /station/status", h.status)
	mux.HandleFunc("GET /chargers", h.chargers)
	mux.HandleFunc("GET /sessions", h.sessions)
	mux.HandleFunc("POST /sessions", h.startSession)
	mux.HandleFunc("GET /sessions/{id}", h.session)
	mux.HandleFunc("POST /sessions/{id}/stop", h.stopSession)
	mux.HandleFunc("POST /sessions/{id}/power-update", h.powerUpdate)
	return mux
}

func (h *handler) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

func (h *handler) chargers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Chargers())
}

func (h *handler) sessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Sessions())
}

func (h *handler) session(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.FindSession(r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type startRequest struct {
	ChargerID       *string `json:"chargerId"`
	ConnectorID     *int    `json:"connectorId"`
	VehicleMaxPower *int    `json:"vehicleMaxPower"`
}

type startResponse struct {
	SessionID      string `json:"sessionId"`
	AllocatedPower int    `json:"allocatedPower"`
}

func (h *handler) startSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ChargerID == nil || req.ConnectorID == nil || req.VehicleMaxPower == nil {
		h.writeError(w, r, clientError("Missing required parameters: chargerId, connectorId, vehicleMaxPower"))
		return
	}
	if *req.VehicleMaxPower <= 0 {
		h.writeError(w, r, clientError("vehicleMaxPower must be positive"))
		return
	}
	sess, err := h.svc.StartSession(*req.ChargerID, *req.ConnectorID, *req.VehicleMaxPower)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, startResponse{SessionID: sess.ID, AllocatedPower: sess.AllocatedPower})
}

type stopRequest struct {
	ConsumedEnergy *float64 `json:"consumedEnergy"`
}

type stopResponse struct {
	Success             bool    `json:"success"`
	SessionID           string  `json:"sessionId"`
	TotalConsumedEnergy float64 `json:"totalConsumedEnergy"`
}

func (h *handler) stopSession(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ConsumedEnergy == nil {
		h.writeError(w, r, clientError("Missing required parameters: consumedEnergy"))
		return
	}
	sess, err := h.svc.StopSession(r.PathValue("id"), *req.ConsumedEnergy)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stopResponse{Success: true, SessionID: sess.ID, TotalConsumedEnergy: sess.ConsumedEnergy})
}

type powerUpdateRequest struct {
	ConsumedPower   *float64 `json:"consumedPower"`
	VehicleMaxPower *int     `json:"vehicleMaxPower"`
}

type powerUpdateResponse struct {
	SessionID      string  `json:"sessionId"`
	AllocatedPower int     `json:"allocatedPower"`
	ConsumedPower  float64 `json:"consumedPower"`
}

func (h *handler) powerUpdate(w http.ResponseWriter, r *http.Request) {
	var req powerUpdateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ConsumedPower == nil || req.VehicleMaxPower == nil {
		h.writeError(w, r, clientError("Missing required parameters: consumedPower, vehicleMaxPower"))
		return
	}
	if *req.ConsumedPower < 0 {
		h.writeError(w, r, clientError("consumedPower must be non-negative"))
		return
	}
	if *req.VehicleMaxPower <= 0 {
		h.writeError(w, r, clientError("vehicleMaxPower must be positive"))
		return
	}
	sess, err := h.svc.PowerUpdate(r.PathValue("id"), *req.ConsumedPower, *req.VehicleMaxPower)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, powerUpdateResponse{
		SessionID:      sess.ID,
		AllocatedPower: sess.AllocatedPower,
		ConsumedPower:  sess.ConsumedEnergy,
	})
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, r, clientError("Invalid JSON body: "+err.Error()))
		return false
	}
	return true
}

func clientError(msg string) error {
	return &station.Error{Kind: station.KindClient, Msg: msg}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch station.KindOf(err) {
	case station.KindNotFound:
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case station.KindClient:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case station.KindPhysicalLimit:
		// already reported by the station
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error: " + err.Error()})
	default:
		h.logger.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
		monitoring.CaptureException(err, map[string]string{"module": "api", "path": r.URL.Path})
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error: " + err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
