package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aris-ansari/x-clone/internal/auth"
	"github.com/aris-ansari/x-clone/internal/metrics"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	defaultSendBuffer      = 32
	defaultWriteTimeout    = 10 * time.Second
	defaultPongTimeout     = 60 * time.Second
	defaultMaxMessageBytes = 4096
	tracerName             = "github.com/aris-ansari/x-clone/internal/realtime"
)

var (
	errMissingHub           = errors.New("realtime: hub dependency required")
	errMissingPresence      = errors.New("realtime: presence dependency required")
	errMissingAuthenticator = errors.New("realtime: authenticator dependency required")
)

// Authenticator verifies the credential carried by a handshake.
type Authenticator interface {
	AuthenticateHandshake(header http.Header) (auth.Identity, error)
}

// PresenceTracker records which sessions are live for each user.
type PresenceTracker interface {
	Register(userID, sessionID string)
	Unregister(userID, sessionID string)
}

// ReadMarker applies markNotificationRead requests. An empty notificationID marks
// every notification of the recipient as read.
type ReadMarker interface {
	MarkRead(ctx context.Context, recipientID, notificationID string) (int64, error)
}

// GatewayConfig describes the websocket gateway.
type GatewayConfig struct {
	Hub           *Hub
	Presence      PresenceTracker
	Authenticator Authenticator
	ReadMarker    ReadMarker
	Logger        *zap.Logger
	Metrics       *metrics.Collectors

	SendBuffer      int
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	MaxMessageBytes int64
	// AllowedOrigins lists origins permitted to open sockets; "*" allows any.
	// When empty the upgrader enforces same-origin.
	AllowedOrigins []string
	SessionIDs     func() string
}

// Gateway authenticates websocket handshakes and runs joined sessions.
type Gateway struct {
	hub             *Hub
	presence        PresenceTracker
	authenticator   Authenticator
	readMarker      ReadMarker
	logger          *zap.Logger
	metrics         *metrics.Collectors
	upgrader        websocket.Upgrader
	sendBuffer      int
	writeTimeout    time.Duration
	pongTimeout     time.Duration
	pingInterval    time.Duration
	maxMessageBytes int64
	sessionIDs      func() string
}

// NewGateway validates dependencies and applies transport defaults.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.Hub == nil {
		return nil, errMissingHub
	}
	if cfg.Presence == nil {
		return nil, errMissingPresence
	}
	if cfg.Authenticator == nil {
		return nil, errMissingAuthenticator
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	collectors := cfg.Metrics
	if collectors == nil {
		collectors = metrics.NewNop()
	}
	sendBuffer := cfg.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	pongTimeout := cfg.PongTimeout
	if pongTimeout <= 0 {
		pongTimeout = defaultPongTimeout
	}
	maxMessageBytes := cfg.MaxMessageBytes
	if maxMessageBytes <= 0 {
		maxMessageBytes = defaultMaxMessageBytes
	}
	sessionIDs := cfg.SessionIDs
	if sessionIDs == nil {
		sessionIDs = uuid.NewString
	}

	return &Gateway{
		hub:             cfg.Hub,
		presence:        cfg.Presence,
		authenticator:   cfg.Authenticator,
		readMarker:      cfg.ReadMarker,
		logger:          logger,
		metrics:         collectors,
		upgrader:        websocket.Upgrader{CheckOrigin: originChecker(cfg.AllowedOrigins)},
		sendBuffer:      sendBuffer,
		writeTimeout:    writeTimeout,
		pongTimeout:     pongTimeout,
		pingInterval:    pongTimeout * 9 / 10,
		maxMessageBytes: maxMessageBytes,
		sessionIDs:      sessionIDs,
	}, nil
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		if origin != "" {
			set[origin] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}

// ServeHTTP walks a connection through Connecting, Authenticating and Joined, and
// blocks until it is Disconnected.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn := newConnection(g.sessionIDs(), g.sendBuffer)
	if err := conn.beginAuthentication(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	identity, err := g.authenticate(r, conn)
	if err != nil {
		conn.Close()
		g.rejectHandshake(w, conn, err)
		return
	}
	if err := conn.bind(identity.UserID); err != nil {
		conn.Close()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// The client may have hung up while the credential was being verified.
	if r.Context().Err() != nil {
		conn.Close()
		g.logger.Debug("realtime client left during authentication",
			zap.String("user_id", identity.UserID),
			zap.String("session_id", conn.ID()))
		return
	}

	socket, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		conn.Close()
		g.logger.Warn("realtime upgrade failed", zap.String("session_id", conn.ID()), zap.Error(err))
		return
	}

	if err := g.hub.Join(conn); err != nil {
		_ = socket.Close()
		g.logger.Debug("realtime join discarded",
			zap.String("user_id", identity.UserID),
			zap.String("session_id", conn.ID()),
			zap.Error(err))
		return
	}
	g.presence.Register(identity.UserID, conn.ID())
	g.metrics.ActiveConnections.Inc()
	g.logger.Info("realtime connected",
		zap.String("user_id", identity.UserID),
		zap.String("session_id", conn.ID()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.writeLoop(conn, socket)
	g.readLoop(ctx, conn, socket)

	conn.Close()
	g.hub.Leave(conn)
	g.presence.Unregister(identity.UserID, conn.ID())
	g.metrics.ActiveConnections.Dec()
	g.logger.Info("realtime disconnected",
		zap.String("user_id", identity.UserID),
		zap.String("session_id", conn.ID()))
}

func (g *Gateway) authenticate(r *http.Request, conn *Connection) (auth.Identity, error) {
	_, span := otel.Tracer(tracerName).Start(r.Context(), "realtime.authenticate")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", conn.ID()))

	identity, err := g.authenticator.AuthenticateHandshake(r.Header)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handshake rejected")
		return auth.Identity{}, err
	}
	span.SetAttributes(attribute.String("user_id", identity.UserID))
	return identity, nil
}

func (g *Gateway) rejectHandshake(w http.ResponseWriter, conn *Connection, err error) {
	reason := "invalid_credential"
	if errors.Is(err, auth.ErrMissingCredential) {
		reason = "missing_credential"
		g.logger.Info("realtime handshake rejected",
			zap.String("session_id", conn.ID()),
			zap.String("reason", reason),
			zap.Error(err))
	} else {
		g.logger.Warn("realtime handshake rejected",
			zap.String("session_id", conn.ID()),
			zap.String("reason", reason),
			zap.Error(err))
	}
	g.metrics.HandshakeFailures.WithLabelValues(reason).Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": reason})
}

func (g *Gateway) readLoop(ctx context.Context, conn *Connection, socket *websocket.Conn) {
	socket.SetReadLimit(g.maxMessageBytes)
	_ = socket.SetReadDeadline(time.Now().Add(g.pongTimeout))
	socket.SetPongHandler(func(string) error {
		return socket.SetReadDeadline(time.Now().Add(g.pongTimeout))
	})

	for {
		_, message, err := socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				g.logger.Debug("realtime read error", zap.String("session_id", conn.ID()), zap.Error(err))
			}
			return
		}
		g.handleInbound(ctx, conn, message)
	}
}

// writeLoop is the only writer for socket, which keeps each session's events in send order.
func (g *Gateway) writeLoop(conn *Connection, socket *websocket.Conn) {
	ticker := time.NewTicker(g.pingInterval)
	defer func() {
		ticker.Stop()
		_ = socket.Close()
	}()

	for {
		select {
		case payload := <-conn.outbound:
			_ = socket.SetWriteDeadline(time.Now().Add(g.writeTimeout))
			if err := socket.WriteMessage(websocket.TextMessage, payload); err != nil {
				g.logger.Debug("realtime write failed", zap.String("session_id", conn.ID()), zap.Error(err))
				conn.Close()
				return
			}
		case <-ticker.C:
			_ = socket.SetWriteDeadline(time.Now().Add(g.writeTimeout))
			if err := socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		case <-conn.Done():
			_ = socket.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(g.writeTimeout),
			)
			return
		}
	}
}

func (g *Gateway) handleInbound(ctx context.Context, conn *Connection, message []byte) {
	inbound, err := decodeFrame(message)
	if err != nil {
		g.logger.Debug("realtime frame decode failed", zap.String("session_id", conn.ID()), zap.Error(err))
		return
	}

	switch inbound.Event {
	case EventMarkNotificationRead:
		g.handleMarkRead(ctx, conn, inbound.Data)
	default:
		g.logger.Debug("realtime event ignored",
			zap.String("session_id", conn.ID()),
			zap.String("event", inbound.Event))
	}
}

func (g *Gateway) handleMarkRead(ctx context.Context, conn *Connection, data json.RawMessage) {
	var request markReadPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &request); err != nil {
			g.reply(conn, Event{Name: EventError, Payload: errorPayload{Event: EventMarkNotificationRead, Message: "invalid payload"}})
			return
		}
	}
	if g.readMarker == nil {
		g.logger.Debug("markNotificationRead received without a read marker", zap.String("session_id", conn.ID()))
		return
	}

	notificationID := strings.TrimSpace(request.NotificationID)
	updated, err := g.readMarker.MarkRead(ctx, conn.UserID(), notificationID)
	if err != nil {
		g.logger.Warn("markNotificationRead failed",
			zap.String("user_id", conn.UserID()),
			zap.String("notification_id", notificationID),
			zap.Error(err))
		g.reply(conn, Event{Name: EventError, Payload: errorPayload{Event: EventMarkNotificationRead, Message: "mark read failed"}})
		return
	}
	g.reply(conn, Event{Name: EventNotificationRead, Payload: markReadAckPayload{NotificationID: notificationID, Updated: updated}})
}

func (g *Gateway) reply(conn *Connection, event Event) {
	payload, err := encodeEvent(event)
	if err != nil {
		g.logger.Error("realtime reply encode failed", zap.String("event", event.Name), zap.Error(err))
		return
	}
	if err := conn.enqueue(payload); err != nil {
		g.logger.Debug("realtime reply dropped", zap.String("session_id", conn.ID()), zap.Error(err))
	}
}
