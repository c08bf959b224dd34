package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type channelStatus struct {
	Channel       string             `json:"channel"`
	ID            string             `json:"id,omitempty"`
	Cooldowns     map[string]float64 `json:"cooldown_remaining_seconds"`
	ReminderCount *int               `json:"reminders_sent,omitempty"`
	UptimeSeconds *int               `json:"uptime_seconds,omitempty"`
}

type statusResponse struct {
	Nick      string          `json:"nick"`
	Home      string          `json:"home"`
	Connected bool            `json:"connected"`
	Channels  []channelStatus `json:"channels"`
}

// HandleStatus reports the connection and every channel's cooldowns and
// reminder state.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := statusResponse{Channels: []channelStatus{}}
	if h.deps.Conn != nil {
		resp.Nick = h.deps.Conn.Nick()
		resp.Connected = h.deps.Conn.Connected()
	}
	if h.deps.Registry != nil {
		resp.Home = h.deps.Registry.Home()
		for _, s := range h.deps.Registry.Sessions() {
			cs := channelStatus{Channel: s.Channel, ID: s.ID(), Cooldowns: map[string]float64{}}
			for gate, d := range s.CooldownRemaining() {
				cs.Cooldowns[gate] = d.Seconds()
			}
			if rem := s.Reminder(); rem != nil {
				bucket, up := rem.Bucket(), rem.LastUptime()
				cs.ReminderCount = &bucket
				if up >= 0 {
					cs.UptimeSeconds = &up
				}
			}
			resp.Channels = append(resp.Channels, cs)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err), slog.String("component", "http"))
	}
}
