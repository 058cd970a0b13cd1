package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"craftworker/core/audio"
	"craftworker/logger"
	"craftworker/model"
)

type killResponse struct {
	JobID     string `json:"jobId"`
	Delivered bool   `json:"delivered"`
}

type currentResponse struct {
	Busy bool              `json:"busy"`
	Job  model.JobSnapshot `json:"job"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"busy":   s.runner.Busy(),
	})
}

func (s *Server) currentJobHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentResponse{Busy: s.runner.Busy(), Job: s.runner.Current()})
}

func (s *Server) killJobHandler(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]
	if !audio.IsUUIDv4(jobID) {
		writeError(w, http.StatusBadRequest, `"jobId" must be a valid GUID`)
		return
	}

	delivered, err := s.bus.RequestKill(r.Context(), jobID)
	if err != nil {
		s.log.Error("Kill request failed", logger.JobID(jobID), logger.ErrorField(err))
		writeError(w, http.StatusBadGateway, "Failed to deliver kill request")
		return
	}
	sub, _ := SubjectFromContext(r.Context())
	s.log.Info("Kill requested", logger.JobID(jobID), logger.String("subject", sub), logger.Bool("delivered", delivered))
	writeJSON(w, http.StatusAccepted, killResponse{JobID: jobID, Delivered: delivered})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to write response", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
