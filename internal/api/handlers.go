package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/benmeehan/iot-sync/internal/constants"
	"github.com/benmeehan/iot-sync/internal/models"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 500
	maxBodyBytes    = 1 << 20
)

// HandleHealth reports liveness and whether the broker session is up.
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status": "ok",
		"time":   s.now().UTC(),
	}
	if s.sources.Connection != nil {
		phase := s.sources.Connection.State().Phase
		body["connected"] = phase == constants.PhaseConnected
		body["phase"] = phase
	}
	s.respondJSON(w, http.StatusOK, body)
}

// HandleConnection returns the broker session state.
func (s *RESTServer) HandleConnection(w http.ResponseWriter, r *http.Request) {
	if s.sources.Connection == nil {
		s.respondError(w, http.StatusServiceUnavailable, "connection state unavailable")
		return
	}
	s.respondJSON(w, http.StatusOK, s.sources.Connection.State())
}

// HandleListSchedules lists schedules. ?status= filters by schedule status.
func (s *RESTServer) HandleListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules := s.sources.Schedules.List()

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := make([]models.Schedule, 0, len(schedules))
		for _, sc := range schedules {
			if string(sc.ScheduleStatus) == status {
				filtered = append(filtered, sc)
			}
		}
		schedules = filtered
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"schedules": schedules,
		"total":     len(schedules),
	})
}

// HandleGetSchedule returns a single schedule.
func (s *RESTServer) HandleGetSchedule(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.sources.Schedules.Get(chi.URLParam(r, "id"))
	if !ok {
		s.respondError(w, http.StatusNotFound, "schedule not found")
		return
	}
	s.respondJSON(w, http.StatusOK, sc)
}

// HandlePutSchedule records a schedule from a REST response and returns the
// stored record. Acks already collected for the same operation are kept.
func (s *RESTServer) HandlePutSchedule(w http.ResponseWriter, r *http.Request) {
	var sc models.Schedule
	if err := s.decodeBody(w, r, &sc); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid schedule body")
		return
	}

	id := chi.URLParam(r, "id")
	if sc.ScheduleID != "" && sc.ScheduleID != id {
		s.respondError(w, http.StatusBadRequest, "schedule_id does not match path")
		return
	}
	if sc.ScheduleStatus != "" && sc.ScheduleStatus.Operation() == "" {
		s.respondError(w, http.StatusBadRequest, "unknown schedule_status")
		return
	}
	sc.ScheduleID = id

	s.respondJSON(w, http.StatusOK, s.sources.ScheduleIntake.Put(sc))
}

// HandleListDevices lists devices. ?block_id= filters by block.
func (s *RESTServer) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.sources.Devices.List()

	if block := r.URL.Query().Get("block_id"); block != "" {
		filtered := make([]models.Device, 0, len(devices))
		for _, d := range devices {
			if d.BlockID == block {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"devices": devices,
		"total":   len(devices),
	})
}

// HandleGetDevice returns a single device.
func (s *RESTServer) HandleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.sources.Devices.Get(chi.URLParam(r, "id"))
	if !ok {
		s.respondError(w, http.StatusNotFound, "device not found")
		return
	}
	s.respondJSON(w, http.StatusOK, d)
}

// HandlePutDevice provisions or replaces a device.
func (s *RESTServer) HandlePutDevice(w http.ResponseWriter, r *http.Request) {
	var d models.Device
	if err := s.decodeBody(w, r, &d); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid device body")
		return
	}

	id := chi.URLParam(r, "id")
	if d.DeviceID != "" && d.DeviceID != id {
		s.respondError(w, http.StatusBadRequest, "device_id does not match path")
		return
	}
	if !d.DeviceType.Valid() {
		s.respondError(w, http.StatusBadRequest, "unknown device_type")
		return
	}
	d.DeviceID = id
	d.UpdatedAt = s.now().UTC()

	s.sources.DeviceIntake.Load([]models.Device{d})
	s.respondJSON(w, http.StatusOK, d)
}

// HandleListBlocks returns the mode of every known block.
func (s *RESTServer) HandleListBlocks(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"blocks": s.sources.Blocks.Modes(),
	})
}

// HandleRecentLogs returns recent device-update log entries.
func (s *RESTServer) HandleRecentLogs(w http.ResponseWriter, r *http.Request) {
	if s.sources.Logs == nil {
		s.respondError(w, http.StatusNotImplemented, "log store does not support reads")
		return
	}

	limit := defaultLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxLogLimit)
	}

	entries := s.sources.Logs.Recent(limit)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   len(entries),
	})
}

func (s *RESTServer) decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("Rejected request body")
		return err
	}
	return nil
}

func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(response)
}

func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}
