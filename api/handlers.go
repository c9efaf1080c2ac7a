package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/mklimuk/thermohost/thermal"
)

type server struct {
	registry *thermal.Registry
}

type SensorStatus struct {
	Sensor      string    `json:"sensor"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	LastUpdated time.Time `json:"last_updated"`
	Fault       string    `json:"fault,omitempty"`
}

type Health struct {
	Status string            `json:"status"`
	Faults map[string]string `json:"faults,omitempty"`
}

func (s *server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	h := Health{Status: "ok"}
	for _, name := range s.registry.Names() {
		_, m, err := s.registry.Lookup(name)
		if err != nil {
			continue
		}
		if ferr := m.Fault(); ferr != nil {
			if h.Faults == nil {
				h.Faults = make(map[string]string)
			}
			h.Faults[name] = ferr.Error()
		}
	}
	code := http.StatusOK
	if len(h.Faults) > 0 {
		h.Status = "fault"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, h)
}

// listStatus returns the cached status of every sensor.
func (s *server) listStatus(w http.ResponseWriter, _ *http.Request) {
	out := make([]SensorStatus, 0)
	for _, name := range s.registry.Names() {
		st, err := s.status(name)
		if err != nil {
			continue
		}
		out = append(out, st)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) getStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.status(mux.Vars(r)["name"])
	if errors.Is(err, thermal.ErrUnknownSensor) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *server) status(name string) (SensorStatus, error) {
	sensor, m, err := s.registry.Lookup(name)
	if err != nil {
		return SensorStatus{}, err
	}
	now := time.Now()
	st := sensor.Status(now)
	out := SensorStatus{
		Sensor:      name,
		Temperature: st.Temperature,
		Humidity:    st.Humidity,
	}
	if last, ok := m.Last(); ok {
		out.LastUpdated = last.ReadTime
	}
	if ferr := m.Fault(); ferr != nil {
		out.Fault = ferr.Error()
	}
	return out, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("could not write response", "error", err)
	}
}
