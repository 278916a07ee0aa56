package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrStreamClosed is returned by Recv after the subscription ended.
var ErrStreamClosed = errors.New("gateway: stream closed")

// Subscription is a server-push channel of status updates for one hash.
type Subscription struct {
	conn    *websocket.Conn
	updates chan TxStatus
	done    chan struct{}

	mu      sync.Mutex
	err     error
	closed  bool
	closeMu sync.Once
}

// Subscribe opens the streaming endpoint for txHash. The returned
// subscription is closed when ctx is cancelled or Close is called.
func (c *Client) Subscribe(ctx context.Context, txHash string) (*Subscription, error) {
	endpoint, err := c.streamURL(txHash)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set(RequestIDHeader, uuid.NewString())
	c.authorize(header)

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			status := resp.StatusCode
			_ = resp.Body.Close()
			return nil, &Error{StatusCode: status, Message: "stream handshake rejected", RequestID: header.Get(RequestIDHeader)}
		}
		return nil, fmt.Errorf("gateway: dial stream: %w", err)
	}

	s := &Subscription{
		conn:    conn,
		updates: make(chan TxStatus, 16),
		done:    make(chan struct{}),
	}
	go s.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

func (c *Client) streamURL(txHash string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("gateway: parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("gateway: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/tx/stream/" + url.PathEscape(txHash)
	return u.String(), nil
}

func (s *Subscription) readLoop() {
	defer close(s.updates)
	for {
		var st TxStatus
		if err := s.conn.ReadJSON(&st); err != nil {
			s.setErr(err)
			return
		}
		select {
		case s.updates <- st:
		case <-s.done:
			s.setErr(ErrStreamClosed)
			return
		}
	}
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	if s.closed || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.err = ErrStreamClosed
		return
	}
	s.err = fmt.Errorf("gateway: stream read: %w", err)
}

// Recv blocks until the next status arrives, the stream ends or ctx is done.
// A normal close by either side yields ErrStreamClosed.
func (s *Subscription) Recv(ctx context.Context) (TxStatus, error) {
	select {
	case st, ok := <-s.updates:
		if !ok {
			return TxStatus{}, s.Err()
		}
		return st, nil
	case <-ctx.Done():
		return TxStatus{}, ctx.Err()
	}
}

// Err returns why the stream ended, or nil while it is open.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.closeMu.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = s.conn.Close()
	})
}
