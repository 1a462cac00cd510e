package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/storepulse/storepulse/internal/heartbeat"
	"github.com/storepulse/storepulse/internal/registry"
	"github.com/storepulse/storepulse/internal/store"
)

const defaultAlertsLimit = 50

// writeJSON marshals v to JSON into a buffer first, so a marshalling
// failure can still be reported as a proper 500 instead of a half-written
// body.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("encoding JSON response", "path", r.URL.Path, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.Debug("writing JSON response", "path", r.URL.Path, "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, map[string]string{"error": msg})
}

// ackResponse mirrors the shipper's expected ack body.
type ackResponse struct {
	Status               string `json:"status"`
	TotalStoresMonitored int    `json:"total_stores_monitored"`
}

func (s *Server) ingest(w http.ResponseWriter, r *http.Request, logLabel string) {
	var hb heartbeat.Heartbeat
	if err := json.NewDecoder(r.Body).Decode(&hb); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := hb.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	receivedAt := time.Now()
	tr := s.registry.ReceiveHeartbeat(hb, receivedAt)
	s.heartbeatsIngested.Add(1)

	if err := s.store.RecordHeartbeat(r.Context(), hb, tr.Record.Status, receivedAt); err != nil {
		// Persistence failure must not fail the ack — ingestion favours
		// availability over durability on this path.
		slog.Error("persisting heartbeat", "store_id", hb.StoreID, "path", logLabel, "error", err)
	}

	if err := s.dispatcher.Dispatch(r.Context(), tr, receivedAt); err != nil {
		slog.Error("dispatching alert", "store_id", hb.StoreID, "error", err)
	}

	writeJSON(w, r, http.StatusOK, ackResponse{
		Status:               "ok",
		TotalStoresMonitored: len(s.registry.Snapshot()),
	})
}

func (s *Server) handleHeartbeatLive(w http.ResponseWriter, r *http.Request) {
	s.ingest(w, r, "live")
}

func (s *Server) handleHeartbeatBuffered(w http.ResponseWriter, r *http.Request) {
	s.ingest(w, r, "buffered")
}

// storeView is the dashboard's per-store summary shape.
type storeView struct {
	StoreID       string     `json:"store_id"`
	StoreName     string     `json:"store_name"`
	Status        string     `json:"status"`
	LastHeartbeat *time.Time `json:"last_heartbeat"`
	FirstSeen     time.Time  `json:"first_seen"`
	IsOnline      bool       `json:"is_online"`
}

func toStoreView(rec registry.Record) storeView {
	return storeView{
		StoreID:       rec.StoreID,
		StoreName:     rec.StoreName,
		Status:        string(rec.Status),
		LastHeartbeat: rec.LastHeartbeat,
		FirstSeen:     rec.FirstSeen,
		IsOnline:      rec.Status == heartbeat.StatusOnline,
	}
}

type dashboardSummary struct {
	Total       int       `json:"total"`
	Online      int       `json:"online"`
	Offline     int       `json:"offline"`
	Unknown     int       `json:"unknown"`
	LastUpdated time.Time `json:"last_updated"`
}

type dashboardResponse struct {
	Stores  []storeView       `json:"stores"`
	Summary dashboardSummary `json:"summary"`
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	records := s.registry.Snapshot()
	resp := dashboardResponse{
		Stores:  make([]storeView, 0, len(records)),
		Summary: dashboardSummary{LastUpdated: time.Now()},
	}
	for _, rec := range records {
		resp.Stores = append(resp.Stores, toStoreView(rec))
		resp.Summary.Total++
		switch rec.Status {
		case heartbeat.StatusOnline:
			resp.Summary.Online++
		case heartbeat.StatusOffline:
			resp.Summary.Offline++
		default:
			resp.Summary.Unknown++
		}
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// storeDetailView adds a derived staleness field over storeView, useful to
// an operator inspecting a single store without computing it client-side.
type storeDetailView struct {
	storeView
	ConsecutiveHeartbeatGapSeconds *float64 `json:"consecutive_heartbeat_gap_seconds"`
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, ok := s.registry.Get(id)
	if !ok {
		writeError(w, r, http.StatusNotFound, "store not found")
		return
	}

	detail := storeDetailView{storeView: toStoreView(rec)}
	if rec.LastHeartbeat != nil {
		gap := time.Since(*rec.LastHeartbeat).Seconds()
		detail.ConsecutiveHeartbeatGapSeconds = &gap
	}
	writeJSON(w, r, http.StatusOK, detail)
}

// alertView is the wire shape for a persisted alert row.
type alertView struct {
	ID         int64      `json:"id"`
	StoreID    string     `json:"store_id"`
	StoreName  string     `json:"store_name"`
	AlertType  string     `json:"alert_type"`
	Message    string     `json:"message"`
	Severity   string     `json:"severity"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at"`
	Timestamp  time.Time  `json:"timestamp"`
}

func parseLimit(r *http.Request) int {
	limit := defaultAlertsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	return limit
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListAlerts(r.Context(), parseLimit(r))
	if err != nil {
		slog.Error("listing alerts", "error", err)
		writeError(w, r, http.StatusInternalServerError, "listing alerts failed")
		return
	}
	writeJSON(w, r, http.StatusOK, toAlertViews(rows))
}

func (s *Server) handleAlertsForStore(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rows, err := s.store.ListAlertsForStore(r.Context(), id, parseLimit(r))
	if err != nil {
		slog.Error("listing alerts for store", "store_id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, "listing alerts failed")
		return
	}
	writeJSON(w, r, http.StatusOK, toAlertViews(rows))
}

func toAlertViews(rows []store.AlertRow) []alertView {
	out := make([]alertView, len(rows))
	for i, row := range rows {
		out[i] = alertView{
			ID:         row.ID,
			StoreID:    row.StoreID,
			StoreName:  row.StoreName,
			AlertType:  string(row.AlertType),
			Message:    row.Message,
			Severity:   string(row.Severity),
			Resolved:   row.Resolved,
			ResolvedAt: row.ResolvedAt,
			Timestamp:  row.Timestamp,
		}
	}
	return out
}

func (s *Server) handleTriggerHealthCheck(w http.ResponseWriter, r *http.Request) {
	s.sweeper.Sweep(r.Context(), time.Now())
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTestEmail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, ok := s.registry.Get(id)
	if !ok {
		rec = registry.Record{StoreID: id, StoreName: id}
	}

	tr := registry.Transition{
		StoreID:        id,
		AlertCandidate: heartbeat.KindOffline,
		BypassCooldown: true,
		Record:         rec,
	}
	if err := s.dispatcher.Dispatch(r.Context(), tr, time.Now()); err != nil {
		slog.Error("dispatching test alert", "store_id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, "dispatching test alert failed")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleConfigEmail(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.recipients.Snapshot())
}

func (s *Server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	if err := s.recipients.Reload(); err != nil {
		slog.Error("reloading recipients config", "error", err)
		writeError(w, r, http.StatusInternalServerError, "reload failed")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":              "ok",
		"uptime_seconds":      time.Since(s.startedAt).Seconds(),
		"heartbeats_ingested": s.heartbeatsIngested.Load(),
		"stores_monitored":    len(s.registry.Snapshot()),
		"timestamp":           time.Now().Unix(),
	})
}
