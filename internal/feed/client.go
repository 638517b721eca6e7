package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/trailog/recorder/internal/api"
)

// Follow streams the token owner's saved trails to fn until ctx is done,
// redialing with exponential backoff when the connection drops. It returns
// api.ErrUnauthorized when the server rejects the token.
func Follow(ctx context.Context, wsURL, token string, fn func(api.Trail), logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	backoff := time.Second
	for {
		conn, resp, err := ws.DefaultDialer.DialContext(ctx, wsURL, header)
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return api.ErrUnauthorized
		}
		if err == nil {
			backoff = time.Second
			err = readTrails(ctx, conn, fn, logger)
		}
		if ctx.Err() != nil {
			return nil
		}

		logger.Info("Reconnecting to trail feed", "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// readTrails decodes trail_saved messages until the connection fails or ctx
// is cancelled.
func readTrails(ctx context.Context, conn *ws.Conn, fn func(api.Trail), logger *slog.Logger) error {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = conn.Close()
	})
	defer stop()
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed read failed: %w", err)
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			logger.Debug("Ignoring malformed feed message", "raw", string(message))
			continue
		}
		if env.Type != TypeTrailSaved {
			continue
		}
		var t api.Trail
		if err := json.Unmarshal(env.Payload, &t); err != nil {
			logger.Debug("Ignoring malformed trail", "error", err)
			continue
		}
		fn(t)
	}
}
