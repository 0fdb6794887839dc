package handler

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/hlog"

	"medtrack/internal/adherence"
	"medtrack/internal/realtime"
)

// FeedHandler upgrades to a websocket that streams day-view snapshots and
// notifications.
type FeedHandler struct {
	Tracker *adherence.Tracker
	Hub     *realtime.Hub
}

// Serve follows today unless ?date= pins a day.
func (h *FeedHandler) Serve(w http.ResponseWriter, r *http.Request) {
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date != "" {
		if _, err := adherence.ParseDate(date); err != nil {
			writeError(w, r, err)
			return
		}
	}

	conn, err := h.Hub.Upgrade(w, r)
	if err != nil {
		// Upgrade already replied.
		hlog.FromRequest(r).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sub, err := h.Tracker.WatchDate(r.Context(), date)
	if err != nil {
		conn.Close()
		return
	}
	realtime.Attach(h.Hub, conn, sub)
}
