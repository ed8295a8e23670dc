package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"

	"marketplace/internal/app/commands"
	"marketplace/internal/app/dto"
	"marketplace/internal/app/handlers/chat"
	"marketplace/internal/app/middleware"
	"marketplace/internal/app/presence"
	"marketplace/internal/app/queries"
	authsvc "marketplace/internal/app/services/auth"
	"marketplace/internal/domain/conversations"
	"marketplace/internal/domain/messages"
	domainuser "marketplace/internal/domain/user"
	"marketplace/internal/infra/security"
)

// Identity resolves a bearer credential to a user.
type Identity interface {
	ResolveToken(ctx context.Context, token string) (*authsvc.ResolveResult, error)
}

// PayloadValidator checks decoded event payloads.
type PayloadValidator interface {
	Struct(value any) error
}

// Metrics receives gateway counters.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	EventReceived(name string)
}

type Config struct {
	Commands       commands.Bus
	Queries        queries.Bus
	Identity       Identity
	Tracker        presence.Tracker
	Presence       domainuser.PresenceWriter
	Bus            Bus
	Validator      PayloadValidator
	Metrics        Metrics
	Logger         *slog.Logger
	Clock          func() time.Time
	TypingTTL      time.Duration
	PingInterval   time.Duration
	AllowedOrigins []string
}

// Gateway is the bidirectional channel: handshake auth, rooms, fan-out, typing and presence.
type Gateway struct {
	cfg      Config
	hub      *Hub
	typing   *Typing
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewGateway(cfg Config) *Gateway {
	if cfg.Bus == nil {
		cfg.Bus = NewLocalBus()
	}
	if cfg.Tracker == nil {
		cfg.Tracker = presence.NewLocalTracker()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{cfg: cfg, hub: NewHub(), logger: logger}
	g.typing = NewTyping(cfg.TypingTTL, g.emitTyping)
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

// Start subscribes the local hub to the fan-out bus.
func (g *Gateway) Start(ctx context.Context) error {
	return g.cfg.Bus.Subscribe(ctx, func(d Delivery) {
		g.hub.Deliver(d)
	})
}

// Shutdown closes every live connection; their cleanup runs in the serving goroutines.
func (g *Gateway) Shutdown() {
	g.hub.CloseAll()
}

func (g *Gateway) Hub() *Hub { return g.hub }

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := security.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	identity, err := g.authenticate(r.Context(), token)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"success":false,"message":"authentication required"}`))
		return
	}
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	conn := newConn(uuid.NewString(), string(identity.User.ID), ws)
	g.serve(r.Context(), conn)
}

func (g *Gateway) authenticate(ctx context.Context, token string) (*authsvc.ResolveResult, error) {
	if g.cfg.Identity == nil {
		return nil, middleware.ErrUnauthenticated
	}
	if token == "" {
		return nil, middleware.ErrUnauthenticated
	}
	return g.cfg.Identity.ResolveToken(ctx, token)
}

func (g *Gateway) serve(ctx context.Context, conn *Conn) {
	log := g.logger.With("user_id", conn.UserID, "conn_id", conn.ID)
	go conn.writePump(g.cfg.PingInterval)

	g.join(ctx, conn, log)
	go g.refreshPresence(ctx, conn, log)
	g.metricsOpened()
	log.Info("socket connected")

	conn.readPump(2*g.cfg.PingInterval, func(data []byte) {
		g.handle(ctx, conn, data, log)
	})

	conn.Close()
	cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	g.leave(cleanup, conn, log)
	g.metricsClosed()
	log.Info("socket disconnected")
}

// join subscribes conn to the rooms of every conversation of its user and announces presence.
func (g *Gateway) join(ctx context.Context, conn *Conn, log *slog.Logger) {
	localFirst := g.hub.Add(conn)
	if g.cfg.Queries != nil {
		list, err := queries.Ask[chat.ListConversationsQuery, dto.ConversationList](ctx, g.cfg.Queries, chat.ListConversationsQuery{UserID: conn.UserID})
		if err != nil {
			log.Warn("failed to load conversations for rooms", "error", err)
		}
		for _, item := range list.Items {
			g.hub.Join(conn, item.ID)
		}
	}
	first, err := g.cfg.Tracker.Connect(ctx, conn.UserID, conn.ID)
	if err != nil {
		log.Warn("presence tracker connect failed", "error", err)
		first = localFirst
	}
	if !first {
		return
	}
	g.setPresence(ctx, conn.UserID, true, log)
	g.publishPresence(ctx, EventUserOnline, conn.UserID, log)
}

// refreshPresence keeps the connection registered with the tracker until it closes.
func (g *Gateway) refreshPresence(ctx context.Context, conn *Conn, log *slog.Logger) {
	ticker := time.NewTicker(g.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-conn.done:
			return
		case <-ticker.C:
			refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if err := g.cfg.Tracker.Refresh(refreshCtx, conn.UserID, conn.ID); err != nil {
				log.Warn("presence tracker refresh failed", "error", err)
			}
			cancel()
		}
	}
}

func (g *Gateway) leave(ctx context.Context, conn *Conn, log *slog.Logger) {
	g.typing.StopAll(conn.ID)
	lastLocal := g.hub.Remove(conn)
	last, err := g.cfg.Tracker.Disconnect(ctx, conn.UserID, conn.ID)
	if err != nil {
		log.Warn("presence tracker disconnect failed", "error", err)
		last = lastLocal
	}
	if !last {
		return
	}
	g.setPresence(ctx, conn.UserID, false, log)
	g.publishPresence(ctx, EventUserOffline, conn.UserID, log)
}

func (g *Gateway) setPresence(ctx context.Context, userID string, online bool, log *slog.Logger) {
	if g.cfg.Presence == nil {
		return
	}
	if err := g.cfg.Presence.SetPresence(ctx, domainuser.ID(userID), online, g.now()); err != nil {
		log.Warn("failed to persist presence", "online", online, "error", err)
	}
}

func (g *Gateway) publishPresence(ctx context.Context, event, userID string, log *slog.Logger) {
	frame, err := Encode(event, userID)
	if err != nil {
		return
	}
	if err := g.cfg.Bus.Publish(ctx, Delivery{Target: TargetAll, Exclude: userID, Frame: frame}); err != nil {
		log.Warn("presence broadcast failed", "event", event, "error", err)
	}
}

func (g *Gateway) emitTyping(event, userID, conversationID string) {
	g.publishTyping(context.Background(), event, userID, conversationID)
}

func (g *Gateway) publishTyping(ctx context.Context, event, userID, conversationID string) {
	frame, err := Encode(event, TypingPayload{ConversationID: conversationID, UserID: userID})
	if err != nil {
		return
	}
	if err := g.cfg.Bus.Publish(ctx, Delivery{Target: TargetRoom, Key: conversationID, Exclude: userID, Frame: frame}); err != nil {
		g.logger.Warn("typing broadcast failed", "conversation_id", conversationID, "error", err)
	}
}

var (
	errUnknownEvent   = errors.New("unknown event")
	errMalformedFrame = errors.New("malformed frame")
)

func (g *Gateway) handle(ctx context.Context, conn *Conn, data []byte, log *slog.Logger) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		g.replyError(conn, errMalformedFrame, log)
		return
	}
	var err error
	switch env.Event {
	case EventMessageSend:
		err = g.onSend(ctx, conn, env.Data)
	case EventMessageRead:
		err = g.onRead(ctx, conn, env.Data)
	case EventTypingStart:
		err = g.onTyping(ctx, conn, env.Data, true)
	case EventTypingStop:
		err = g.onTyping(ctx, conn, env.Data, false)
	case EventConversationJoin:
		err = g.onJoin(ctx, conn, env.Data)
	default:
		err = errUnknownEvent
	}
	if g.cfg.Metrics != nil {
		name := env.Event
		if errors.Is(err, errUnknownEvent) {
			name = "unknown"
		}
		g.cfg.Metrics.EventReceived(name)
	}
	if err != nil {
		g.replyError(conn, err, log)
	}
}

func (g *Gateway) onSend(ctx context.Context, conn *Conn, raw json.RawMessage) error {
	var p SendPayload
	if err := g.decode(raw, &p); err != nil {
		return err
	}
	_, err := commands.Dispatch[chat.SendMessageCommand, *dto.SentMessage](ctx, g.cfg.Commands, chat.SendMessageCommand{
		ActorID:        conn.UserID,
		ConversationID: p.ConversationID,
		Content:        p.Content,
		Transport:      chat.TransportSocket,
	})
	if err == nil {
		// a sent message ends the sender's indicator in that conversation
		g.typing.Stop(conn.ID, p.ConversationID)
	}
	return err
}

func (g *Gateway) onRead(ctx context.Context, conn *Conn, raw json.RawMessage) error {
	var p ConversationPayload
	if err := g.decode(raw, &p); err != nil {
		return err
	}
	_, err := commands.Dispatch[chat.MarkReadCommand, *dto.ReadReceipt](ctx, g.cfg.Commands, chat.MarkReadCommand{
		ActorID:        conn.UserID,
		ConversationID: p.ConversationID,
	})
	return err
}

func (g *Gateway) onTyping(ctx context.Context, conn *Conn, raw json.RawMessage, start bool) error {
	var p ConversationPayload
	if err := g.decode(raw, &p); err != nil {
		return err
	}
	if err := g.authorize(ctx, conn, p.ConversationID); err != nil {
		return err
	}
	if start {
		g.typing.Start(conn.ID, conn.UserID, p.ConversationID)
		return nil
	}
	g.typing.Stop(conn.ID, p.ConversationID)
	return nil
}

func (g *Gateway) onJoin(ctx context.Context, conn *Conn, raw json.RawMessage) error {
	var p ConversationPayload
	if err := g.decode(raw, &p); err != nil {
		return err
	}
	if err := g.authorize(ctx, conn, p.ConversationID); err != nil {
		return err
	}
	g.hub.Join(conn, p.ConversationID)
	return nil
}

// authorize checks that the connection's user takes part in the conversation.
func (g *Gateway) authorize(ctx context.Context, conn *Conn, conversationID string) error {
	if g.cfg.Queries == nil {
		return errors.New("realtime: query bus not configured")
	}
	_, err := queries.Ask[chat.GetConversationQuery, dto.Conversation](ctx, g.cfg.Queries, chat.GetConversationQuery{
		ConversationID: conversationID,
		UserID:         conn.UserID,
	})
	return err
}

func (g *Gateway) decode(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return &middleware.ValidationError{Fields: []middleware.FieldError{{Field: "data", Tag: "required", Message: "payload is required"}}}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &middleware.ValidationError{Fields: []middleware.FieldError{{Field: "data", Tag: "json", Message: "malformed payload"}}}
	}
	if g.cfg.Validator != nil {
		return g.cfg.Validator.Struct(out)
	}
	return nil
}

func (g *Gateway) replyError(conn *Conn, err error, log *slog.Logger) {
	frame, encErr := Encode(EventError, ErrorPayload{Message: errorMessage(err, log)})
	if encErr != nil {
		return
	}
	conn.enqueue(frame)
}

// errorMessage maps failures to the text sent in error events. The connection stays open.
func errorMessage(err error, log *slog.Logger) string {
	var ve *middleware.ValidationError
	switch {
	case errors.As(err, &ve):
		return ve.Error()
	case errors.Is(err, errUnknownEvent):
		return errUnknownEvent.Error()
	case errors.Is(err, conversations.ErrNotFound):
		return "conversation not found"
	case errors.Is(err, conversations.ErrForbidden):
		return "not authorized"
	case errors.Is(err, messages.ErrInvalidContent):
		return messages.ContentMessage(err)
	case errors.Is(err, middleware.ErrUnauthenticated):
		return "authentication required"
	case errors.Is(err, errMalformedFrame):
		return errMalformedFrame.Error()
	default:
		if log != nil {
			log.Error("realtime event failed", "error", err)
		}
		return "internal error"
	}
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range g.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (g *Gateway) metricsOpened() {
	if g.cfg.Metrics != nil {
		g.cfg.Metrics.ConnectionOpened()
	}
}

func (g *Gateway) metricsClosed() {
	if g.cfg.Metrics != nil {
		g.cfg.Metrics.ConnectionClosed()
	}
}

func (g *Gateway) now() time.Time {
	if g.cfg.Clock != nil {
		return g.cfg.Clock()
	}
	return time.Now().UTC()
}
