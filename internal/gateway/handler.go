package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/opengeoguess/core/internal/apierr"
	"github.com/opengeoguess/core/internal/auth"
	"github.com/opengeoguess/core/internal/match"
	"github.com/opengeoguess/core/internal/supervisor"
)

// Handler is the HTTP entry point that upgrades to WebSocket and runs
// one conn actor per connection (§4.6 per-connection flow).
type Handler struct {
	resolver auth.PlayerResolver
	registry *Registry
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewHandler(resolver auth.PlayerResolver, registry *Registry, log zerolog.Logger) *Handler {
	return &Handler{
		resolver: resolver,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	identity, err := h.resolver.Resolve(r.Context(), token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := newConn(ws, identity, h.log)
	go c.writePump()
	h.readPump(r.Context(), c)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix)
	}
	return r.URL.Query().Get("token")
}

// readPump owns all reads from the socket, routes each inbound envelope
// to the owning Supervisor (local or forwarded), subscribes to the
// match's broadcast stream on first join, and relays events back out
// until the socket closes (§4.6 steps 2-4).
func (h *Handler) readPump(ctx context.Context, c *conn) {
	defer h.onDisconnect(ctx, c)

	c.ws.SetReadDeadline(time.Now().Add(defaultPongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(defaultPongWait))
		return nil
	})

	var relayCancel context.CancelFunc
	defer func() {
		if relayCancel != nil {
			relayCancel()
		}
	}()

	for c.isOpen() {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var env inboundEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.send(encodeError(string(apierr.CodeInvalidState), "malformed message"))
			continue
		}

		if env.Type == inJoin && c.currentMatch() == "" {
			if err := h.joinMatch(ctx, c, env); err != nil {
				c.send(encodeError(errCode(err), err.Error()))
				continue
			}
			if relayCancel != nil {
				relayCancel()
			}
			relayCtx, cancel := context.WithCancel(ctx)
			relayCancel = cancel
			go h.relay(relayCtx, c, env.MatchID)
			continue
		}

		h.dispatch(ctx, c, env)
	}
}

func (h *Handler) joinMatch(ctx context.Context, c *conn, env inboundEnvelope) error {
	var p joinPayload
	_ = json.Unmarshal(env.Payload, &p)

	info := match.PlayerInfo{ID: c.identity.ID, DisplayName: p.DisplayName, AvatarURL: p.AvatarURL, IsGuest: c.identity.IsGuest}
	if info.DisplayName == "" {
		info.DisplayName = c.identity.DisplayName
	}

	result, err := h.registry.Dispatch(ctx, env.MatchID, commandEnvelope{Kind: string(inJoin), PlayerID: info.ID, PlayerInfo: &info})
	if err != nil {
		return err
	}
	if result.Err != nil {
		return result.Err
	}

	c.setCurrentMatch(env.MatchID)
	return nil
}

// relay pushes matchID's broadcast stream to c, whether this instance
// owns the match directly (subscribing to its Supervisor) or another
// instance does (subscribing to the cross-instance events channel that
// owning instance republishes to, §4.6 step 3).
func (h *Handler) relay(ctx context.Context, c *conn, matchID string) {
	if sup, ok := h.registry.lookupLocal(matchID); ok {
		relayLocalEvents(ctx, c, sup)
		return
	}
	relayRemoteEvents(ctx, c, h.registry, matchID)
}

func (h *Handler) dispatch(ctx context.Context, c *conn, env inboundEnvelope) {
	matchID := c.currentMatch()
	if matchID == "" {
		c.send(encodeError(string(apierr.CodeInvalidState), "join a match before sending commands"))
		return
	}

	cmdEnv := commandEnvelope{PlayerID: c.identity.ID}
	switch env.Type {
	case inLeave:
		cmdEnv.Kind = string(inLeave)
	case inStart:
		cmdEnv.Kind = string(inStart)
	case inUpdateSettings:
		var p updateSettingsPayload
		_ = json.Unmarshal(env.Payload, &p)
		patch := p.toPatch()
		cmdEnv.Kind = string(inUpdateSettings)
		cmdEnv.Patch = &patch
	case inSubmitGuess:
		var p submitGuessPayload
		_ = json.Unmarshal(env.Payload, &p)
		cmdEnv.Kind = string(inSubmitGuess)
		cmdEnv.Lat, cmdEnv.Lng, cmdEnv.TimeTaken = p.Lat, p.Lng, p.TimeTakenMs
	default:
		c.send(encodeError(string(apierr.CodeInvalidState), "unrecognized message type"))
		return
	}

	result, err := h.registry.Dispatch(ctx, matchID, cmdEnv)
	if err != nil {
		c.send(encodeError(errCode(err), err.Error()))
		return
	}
	if result.Err != nil {
		c.send(encodeError(errCode(result.Err), result.Err.Error()))
	}
}

func (h *Handler) onDisconnect(ctx context.Context, c *conn) {
	c.closeAsync()
	if matchID := c.currentMatch(); matchID != "" {
		_, _ = h.registry.Dispatch(context.Background(), matchID, commandEnvelope{Kind: string(inLeave), PlayerID: c.identity.ID})
	}
}

// relayLocalEvents pushes a locally-owned Supervisor's broadcast stream
// to the socket until ctx is canceled (a re-join) or the socket closes.
// The Supervisor publishes a full Snapshot on every state change, so
// Lagged is informational only — the next Snapshot delivered carries
// current state, and no extra snapshot is requested; EventLagged itself
// has no wire shape and is simply skipped (it never leaves encodeEvent
// successfully).
func relayLocalEvents(ctx context.Context, c *conn, sup *supervisor.Supervisor) {
	id, ch := sup.Subscribe()
	defer sup.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeCh:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			frame, err := encodeEvent(ev)
			if err != nil {
				continue
			}
			c.send(frame)
		}
	}
}

// relayRemoteEvents subscribes to the cross-instance events channel for
// a match owned by another instance; the owning instance has already
// wire-encoded each frame (registry.republishEvents), so this relay
// forwards payloads verbatim with no re-encoding.
func relayRemoteEvents(ctx context.Context, c *conn, registry *Registry, matchID string) {
	ch, unsub, err := registry.SubscribeEvents(ctx, matchID)
	if err != nil {
		c.send(encodeError(string(apierr.CodeCacheUnavailable), "subscribing to remote match events"))
		return
	}
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeCh:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg.Lagged {
				continue
			}
			c.send(msg.Payload)
		}
	}
}

func errCode(err error) string {
	if apiErr, ok := err.(*apierr.Error); ok {
		return string(apiErr.Code)
	}
	return string(apierr.CodeInternal)
}
