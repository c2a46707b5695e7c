// Package realtime serves the WebSocket endpoint that carries presence
// registration, invites and private messages.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/chatme/backend/internal/auth"
	"github.com/chatme/backend/internal/events"
	"github.com/chatme/backend/internal/friends"
	"github.com/chatme/backend/internal/logging"
	"github.com/chatme/backend/internal/presence"
	"github.com/chatme/backend/internal/router"
)

// MaxFrameBytes bounds the size of an inbound frame.
const MaxFrameBytes = 64 << 10

// TokenVerifier resolves an access token to a user id.
type TokenVerifier interface {
	Verify(accessToken string) (string, error)
}

// Presence records which connection belongs to which user.
type Presence interface {
	Register(ctx context.Context, userID string, handle presence.Handle) error
	Unregister(ctx context.Context, handle presence.Handle) (bool, error)
}

// Service performs the actions requested by inbound events.
type Service interface {
	Invite(ctx context.Context, fromID, toID string) (router.Outcome, error)
	AcceptRealtime(ctx context.Context, acceptorID, fromID string) (router.Outcome, error)
	SendMessage(ctx context.Context, senderID, toID string, msg events.Message) (router.Outcome, error)
}

// Config tunes the gateway.
type Config struct {
	// AllowedOrigins lists accepted Origin headers. Empty accepts any origin.
	AllowedOrigins []string
	SendBuffer     int
}

// Gateway upgrades authenticated requests to WebSocket connections and feeds
// their events to the service.
type Gateway struct {
	presence Presence
	service  Service
	verifier TokenVerifier
	cfg      Config
	logger   *slog.Logger

	server websocket.Server

	mu     sync.Mutex
	conns  map[string]*conn
	wg     sync.WaitGroup
	closed bool
}

// NewGateway constructs a Gateway.
func NewGateway(p Presence, service Service, verifier TokenVerifier, cfg Config, logger *slog.Logger) *Gateway {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 32
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		presence: p,
		service:  service,
		verifier: verifier,
		cfg:      cfg,
		logger:   logger,
		conns:    make(map[string]*conn),
	}
	g.server = websocket.Server{
		Handshake: g.handshake,
		Handler:   g.serve,
	}
	return g
}

type userCtxKey struct{}

// ServeHTTP implements GET /ws. The access token comes from the
// Authorization header or the token query parameter.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	token := auth.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	userID, err := g.verifier.Verify(token)
	if err != nil {
		logging.FromContext(r.Context()).Warn("websocket authentication failed", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"authentication required"}`+"\n")
		return
	}

	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	ctx := context.WithValue(r.Context(), userCtxKey{}, userID)
	g.server.ServeHTTP(w, r.WithContext(ctx))
}

func (g *Gateway) handshake(cfg *websocket.Config, r *http.Request) error {
	if len(g.cfg.AllowedOrigins) > 0 {
		origin, err := websocket.Origin(cfg, r)
		if err != nil || origin == nil {
			return errors.New("missing origin")
		}
		if !slices.Contains(g.cfg.AllowedOrigins, origin.Scheme+"://"+origin.Host) {
			return fmt.Errorf("origin %s not allowed", origin)
		}
	}

	_, proto := events.ForSubprotocols(cfg.Protocol)
	if proto == "" {
		cfg.Protocol = nil
	} else {
		cfg.Protocol = []string{proto}
	}
	return nil
}

func (g *Gateway) serve(ws *websocket.Conn) {
	req := ws.Request()
	userID, _ := req.Context().Value(userCtxKey{}).(string)
	codec, _ := events.ForSubprotocols(ws.Config().Protocol)

	ws.MaxPayloadBytes = MaxFrameBytes
	// Clear deadlines inherited from the HTTP server.
	_ = ws.SetDeadline(time.Time{})

	c := newConn(uuid.NewString(), userID, ws, codec, g.cfg.SendBuffer)
	ctx := logging.WithLogger(context.WithoutCancel(req.Context()), g.logger)
	ctx = logging.WithUser(logging.WithConnection(ctx, c.id), userID)
	logger := logging.FromContext(ctx)

	if !g.track(c) {
		_ = ws.Close()
		return
	}
	defer g.untrack(c)

	go c.writeLoop(func(err error) {
		logger.Debug("websocket write failed", slog.Any("error", err))
	})

	logger.Info("websocket connected", slog.Bool("binary", codec.Binary()))
	defer func() {
		if removed, err := g.presence.Unregister(ctx, c); err != nil {
			logger.Warn("unregister connection", slog.Any("error", err))
		} else if removed {
			logger.Info("user went offline")
		}
		c.closeSend()
		<-c.writerDone
		_ = ws.Close()
		logger.Info("websocket disconnected")
	}()

	for {
		var frame []byte
		if err := websocket.Message.Receive(ws, &frame); err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("websocket read ended", slog.Any("error", err))
			}
			return
		}
		g.handleFrame(ctx, c, frame)
	}
}

func (g *Gateway) handleFrame(ctx context.Context, c *conn, frame []byte) {
	ev, err := c.codec.Decode(frame)
	if err != nil {
		logging.FromContext(ctx).Warn("undecodable frame", slog.Any("error", err))
		g.reject(ctx, c, "", err)
		return
	}

	ctx, span := logging.StartSpan(ctx, "realtime."+string(ev.Kind()))
	err = g.handleEvent(ctx, c, ev)
	if err != nil {
		g.reject(ctx, c, ev.Kind(), err)
	}
	span.End(err)
}

func (g *Gateway) handleEvent(ctx context.Context, c *conn, ev events.Inbound) error {
	if _, ok := ev.(events.Register); !ok && !c.registered {
		return rejection("register before sending events")
	}

	switch e := ev.(type) {
	case events.Register:
		if e.UserID != c.userID {
			return rejection("userId does not match the authenticated user")
		}
		if err := g.presence.Register(ctx, c.userID, c); err != nil {
			return err
		}
		c.registered = true
		logging.FromContext(ctx).Info("user registered")

	case events.SendInvite:
		if e.From.ID != c.userID {
			return rejection("from.id must be the registered user")
		}
		if _, err := g.service.Invite(ctx, c.userID, e.To.ID); err != nil {
			return err
		}

	case events.AcceptInvite:
		if e.To.ID != c.userID {
			return rejection("to.id must be the registered user")
		}
		if _, err := g.service.AcceptRealtime(ctx, c.userID, e.From); err != nil {
			return err
		}

	case events.SendPrivateMessage:
		outcome, err := g.service.SendMessage(ctx, c.userID, e.To, e.Message)
		if err != nil {
			return err
		}
		if outcome == router.OutcomeDropped {
			logging.FromContext(ctx).Info("private message dropped, recipient offline", slog.String("to", e.To))
		}
	}
	return nil
}

func (g *Gateway) reject(ctx context.Context, c *conn, kind events.Kind, err error) {
	message := clientMessage(err)
	logging.FromContext(ctx).Debug("event rejected", slog.String("event", string(kind)), slog.Any("error", err))
	if pushErr := c.Push(events.Error{Event: kind, Message: message}); pushErr != nil {
		logging.FromContext(ctx).Debug("error event not delivered", slog.Any("error", pushErr))
	}
}

// rejection is a gateway-level refusal whose text is safe to show clients.
type rejection string

func (r rejection) Error() string { return string(r) }

func clientMessage(err error) string {
	var r rejection
	switch {
	case errors.As(err, &r):
		return string(r)
	case errors.Is(err, events.ErrMalformed),
		errors.Is(err, events.ErrUnknownKind),
		errors.Is(err, events.ErrInvalid),
		friends.IsConflict(err),
		friends.IsNotFound(err),
		friends.IsValidation(err):
		return err.Error()
	case errors.Is(err, router.ErrClosed):
		return "server is shutting down"
	default:
		return "something went wrong, try again"
	}
}

func (g *Gateway) track(c *conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.conns[c.id] = c
	g.wg.Add(1)
	return true
}

func (g *Gateway) untrack(c *conn) {
	g.mu.Lock()
	delete(g.conns, c.id)
	g.mu.Unlock()
	g.wg.Done()
}

// Connections returns the number of open connections.
func (g *Gateway) Connections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// Shutdown closes every open connection and waits for their handlers to exit.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	for _, c := range g.conns {
		_ = c.ws.Close()
	}
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
