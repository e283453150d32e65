package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"QFMIngest/core/worker"
	"QFMIngest/lease"
	"QFMIngest/logger"
	"QFMIngest/model"

	"github.com/gorilla/mux"
)

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Uptime   string `json:"uptime"`
}

type statsResponse struct {
	Queue map[model.WorkKind]lease.Stats      `json:"queue"`
	Pool  map[model.WorkKind]worker.KindStats `json:"pool,omitempty"`
	Busy  int                                 `json:"busy"`
}

type trackResponse struct {
	*model.Track
	Qualities []uint `json:"qualities"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// healthHandler 健康检查，数据库不可用时返回 503
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Database: "ok", Uptime: time.Since(s.started).Round(time.Second).String()}
	if s.deps.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ping(ctx); err != nil {
			logger.Warn("health check failed", logger.ErrorField(err))
			resp.Status = "degraded"
			resp.Database = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// statsHandler 队列和工作池统计
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	queue, err := s.deps.Leaser.Stats(r.Context())
	if err != nil {
		logger.Error("failed to read queue stats", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to read queue stats")
		return
	}
	resp := statsResponse{Queue: queue}
	if s.deps.Pool != nil {
		resp.Pool = s.deps.Pool.Stats()
		resp.Busy = s.deps.Pool.Busy()
	}
	writeJSON(w, http.StatusOK, resp)
}

// trackHandler 返回曲目的上线状态和已生成的音质
func (s *Server) trackHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	track, err := s.deps.Database.GetTrack(r.Context(), id)
	if err != nil {
		logger.Error("failed to load track", logger.TrackID(id), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to load track")
		return
	}
	if track == nil {
		writeError(w, http.StatusNotFound, "track not found")
		return
	}
	available, err := s.deps.Database.ListAvailableQualities(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load qualities")
		return
	}
	resp := trackResponse{Track: track, Qualities: make([]uint, 0, len(available))}
	for _, q := range available {
		resp.Qualities = append(resp.Qualities, q.QualityPresetID)
	}
	writeJSON(w, http.StatusOK, resp)
}
