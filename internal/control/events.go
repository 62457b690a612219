package control

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/luna/internal/notify"
)

// writeTimeout bounds one event write to a websocket client.
const writeTimeout = 5 * time.Second

// handleEvents upgrades to a websocket and streams notifications as JSON
// text messages. The optional kinds query parameter filters by event kind,
// e.g. ?kinds=reply,notice. Slow clients lose events instead of blocking
// the workers.
func (c *Controller) handleEvents(w http.ResponseWriter, r *http.Request) {
	kinds := parseKinds(r.URL.Query().Get("kinds"))

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("control: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	events, cancel := c.deps.Events.Subscribe(notify.DefaultBuffer)
	defer cancel()

	ctx := conn.CloseRead(r.Context())
	err = streamEvents(ctx, conn, events, kinds)
	switch {
	case err == nil:
		conn.Close(websocket.StatusGoingAway, "shutting down")
	case errors.Is(err, context.Canceled), websocket.CloseStatus(err) != -1:
	default:
		slog.Debug("control: event stream ended", "err", err)
	}
}

// streamEvents writes events until the subscription ends (nil) or the
// connection fails.
func streamEvents(ctx context.Context, conn *websocket.Conn, events <-chan notify.Event, kinds map[notify.Kind]bool) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if len(kinds) > 0 && !kinds[ev.Kind] {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func parseKinds(raw string) map[notify.Kind]bool {
	if raw == "" {
		return nil
	}
	out := make(map[notify.Kind]bool)
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out[notify.Kind(k)] = true
		}
	}
	return out
}
