package api

import (
	"io"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mklimuk/thermohost/thermal"
)

func NewRouter(registry *thermal.Registry, gatherer prometheus.Gatherer) *mux.Router {
	s := &server{registry: registry}
	r := mux.NewRouter()

	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.HandleFunc("/status", s.listStatus).Methods("GET")
	r.HandleFunc("/status/{name}", s.getStatus).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")

	return r
}

// NewHandler is the router wrapped with access logging.
func NewHandler(registry *thermal.Registry, gatherer prometheus.Gatherer, accessLog io.Writer) http.Handler {
	return handlers.LoggingHandler(accessLog, NewRouter(registry, gatherer))
}
