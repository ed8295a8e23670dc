package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
)

const (
	eventBuffer = 64
	writeWait   = 10 * time.Second
)

var ErrSocketClosed = errors.New("chat: socket closed")

// Socket is a realtime connection. Received frames are delivered on Events
// until the connection ends, after which Err reports why.
type Socket struct {
	ws     *websocket.Conn
	events chan Event

	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}

	errMu sync.Mutex
	err   error
}

// SocketURL derives the socket endpoint from the REST base URL.
func SocketURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", errors.New("chat: unsupported url scheme " + u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/api") + "/socket"
	return u.String(), nil
}

// DialSocket opens the socket with token sent as a Bearer header.
func DialSocket(ctx context.Context, socketURL, token string) (*Socket, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, resp, err := dialer.DialContext(ctx, socketURL, header)
	if err != nil {
		if resp != nil {
			return nil, &APIError{Status: resp.StatusCode, Message: "socket handshake rejected"}
		}
		return nil, err
	}
	s := &Socket{
		ws:     ws,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *Socket) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			s.fail(err)
			return
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *Socket) fail(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err != nil {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		err = ErrSocketClosed
	}
	select {
	case <-s.done:
		err = ErrSocketClosed
	default:
	}
	s.err = err
}

// Events is closed when the connection ends.
func (s *Socket) Events() <-chan Event { return s.events }

func (s *Socket) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Emit sends one frame. data may be nil for events without payload.
func (s *Socket) Emit(event string, data any) error {
	frame := struct {
		Event string `json:"event"`
		Data  any    `json:"data,omitempty"`
	}{Event: event, Data: data}
	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrSocketClosed
	default:
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return s.ws.WriteMessage(websocket.TextMessage, raw)
}

func (s *Socket) SendMessage(conversationID, content string) error {
	return s.Emit(EventMessageSend, map[string]string{"conversationId": conversationID, "content": content})
}

func (s *Socket) MarkRead(conversationID string) error {
	return s.Emit(EventMessageRead, map[string]string{"conversationId": conversationID})
}

func (s *Socket) StartTyping(conversationID string) error {
	return s.Emit(EventTypingStart, map[string]string{"conversationId": conversationID})
}

func (s *Socket) StopTyping(conversationID string) error {
	return s.Emit(EventTypingStop, map[string]string{"conversationId": conversationID})
}

// Join subscribes this connection to a conversation created after it connected.
func (s *Socket) Join(conversationID string) error {
	return s.Emit(EventConversationJoin, conversationID)
}

func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = s.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		err = s.ws.Close()
	})
	return err
}
