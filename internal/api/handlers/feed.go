package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Fantasim/railpay/internal/config"
	"github.com/Fantasim/railpay/internal/feed"
	"github.com/Fantasim/railpay/internal/models"
)

// Feed handles GET /api/feed?limit=N&all=true. "all" includes housekeeping
// entries that the default view hides.
func Feed(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 0)
		includeHousekeeping := r.URL.Query().Get("all") == "true"

		page, err := deps.Engine.Feed(limit, includeHousekeeping)
		if err != nil {
			writeEngineError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, models.APIResponse{
			Data: page,
			Meta: &models.APIMeta{
				PageSize: len(page.Entries),
				Total:    int64(page.Total),
			},
		})
	}
}

// FeedSSE handles GET /api/feed/sse?limit=N&all=true: pushes a feed_updated
// event carrying a fresh page whenever any rail's ledger changes, plus
// periodic keepalives. The page is built per connection at the subscriber's
// requested limit.
func FeedSSE(deps *Deps, hub *feed.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, config.ErrorInternal, "streaming unsupported")
			return
		}

		limit := queryInt(r, "limit", 0)
		includeHousekeeping := r.URL.Query().Get("all") == "true"

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ch := hub.Subscribe()
		defer func() {
			hub.Unsubscribe(ch)
			slog.Info("feed SSE client disconnected", "remoteAddr", r.RemoteAddr)
		}()

		slog.Info("feed SSE client connected",
			"remoteAddr", r.RemoteAddr,
			"totalClients", hub.ClientCount(),
		)

		keepAlive := time.NewTicker(config.SSEKeepAliveInterval)
		defer keepAlive.Stop()

		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return
				}

				if event.Type == "feed_updated" {
					page, err := deps.Engine.Feed(limit, includeHousekeeping)
					if err != nil {
						slog.Error("failed to build feed page for SSE client", "error", err)
						continue
					}
					event.Data = page
				}

				data, err := json.Marshal(event.Data)
				if err != nil {
					slog.Error("failed to marshal feed event", "type", event.Type, "error", err)
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, string(data))
				flusher.Flush()

			case <-keepAlive.C:
				fmt.Fprint(w, ": keepalive\n\n")
				flusher.Flush()

			case <-r.Context().Done():
				return
			}
		}
	}
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
