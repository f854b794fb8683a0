package api

import (
	"net/http"
)

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version,omitempty"`
}

// HandleHealth is the liveness probe. It reports process health only; the
// store backends are consulted lazily per request and a probe that touched
// them would turn a store blip into a restart loop.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, healthResponse{
		Status:  "healthy",
		Service: s.Config.Service,
		Version: s.Config.Build.Version,
	})
}
