package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"studyboard-backend/internal/models"
	"studyboard-backend/internal/protocol"

	"github.com/gorilla/websocket"
)

var ErrClosed = errors.New("connection closed")

// WSTransport speaks the room protocol over one websocket connection.
// Requests are correlated with their acks by requestId; every other frame is
// handed to the message handler from the read goroutine, in arrival order.
type WSTransport struct {
	conn   *websocket.Conn
	send   chan []byte
	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[string]chan *protocol.Ack
	handler func(*protocol.Message)

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// Dial opens the connection, authenticating with a bearer token
func Dial(ctx context.Context, url, token string) (*WSTransport, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	t := &WSTransport{
		conn:    conn,
		send:    make(chan []byte, 256),
		pending: make(map[string]chan *protocol.Ack),
		done:    make(chan struct{}),
	}
	go t.writeLoop()
	go t.readLoop()
	return t, nil
}

// OnMessage sets the handler for server pushed frames
func (t *WSTransport) OnMessage(fn func(*protocol.Message)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = fn
}

// Done is closed once the connection is gone
func (t *WSTransport) Done() <-chan struct{} {
	return t.done
}

func (t *WSTransport) Close() error {
	t.shutdown(ErrClosed)
	return nil
}

func (t *WSTransport) shutdown(err error) {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
		close(t.done)
		t.conn.Close()
	})
}

func (t *WSTransport) writeLoop() {
	for {
		select {
		case <-t.done:
			return
		case msg := <-t.send:
			if err := t.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Println("write error:", err)
				t.shutdown(err)
				return
			}
		}
	}
}

func (t *WSTransport) readLoop() {
	for {
		_, raw, err := t.conn.ReadMessage()
		if err != nil {
			t.shutdown(err)
			return
		}
		msg, err := protocol.Parse(raw)
		if err != nil {
			log.Println("failed to parse frame:", err)
			continue
		}
		if msg.Type == protocol.TypeAck {
			ack, _ := msg.Data.(*protocol.Ack)
			if ack == nil {
				ack = &protocol.Ack{OK: true}
			}
			t.mu.Lock()
			ch, ok := t.pending[msg.RequestID]
			delete(t.pending, msg.RequestID)
			t.mu.Unlock()
			if ok {
				ch <- ack
			}
			continue
		}
		t.mu.Lock()
		handler := t.handler
		t.mu.Unlock()
		if handler != nil {
			handler(msg)
		}
	}
}

func (t *WSTransport) write(ctx context.Context, frame []byte) error {
	select {
	case t.send <- frame:
		return nil
	case <-t.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// request sends a frame and waits for its ack; a failed ack is returned as
// a *protocol.ErrorPayload
func (t *WSTransport) request(ctx context.Context, typ protocol.MessageType, data, result interface{}) error {
	id := strconv.FormatUint(t.nextID.Add(1), 10)
	frame, err := protocol.Encode(typ, id, data)
	if err != nil {
		return err
	}

	ch := make(chan *protocol.Ack, 1)
	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	if err := t.write(ctx, frame); err != nil {
		return err
	}
	select {
	case ack := <-ch:
		if !ack.OK {
			if ack.Error == nil {
				return &protocol.ErrorPayload{Code: protocol.CodeBadRequest, Message: "request rejected"}
			}
			return ack.Error
		}
		if result != nil && len(ack.Result) > 0 {
			return json.Unmarshal(ack.Result, result)
		}
		return nil
	case <-t.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *WSTransport) Join(ctx context.Context, boardId string) (*protocol.JoinRoomResult, error) {
	var res protocol.JoinRoomResult
	if err := t.request(ctx, protocol.TypeJoinRoom, &protocol.BoardRef{BoardID: boardId}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Leave is fire-and-forget
func (t *WSTransport) Leave(ctx context.Context, boardId string) error {
	frame, err := protocol.Encode(protocol.TypeLeaveRoom, "", &protocol.BoardRef{BoardID: boardId})
	if err != nil {
		return err
	}
	return t.write(ctx, frame)
}

func (t *WSTransport) Create(ctx context.Context, boardId string, element models.Element) error {
	return t.request(ctx, protocol.TypeCreateElement, &protocol.CreateElementPayload{BoardID: boardId, Element: element}, nil)
}

func (t *WSTransport) Update(ctx context.Context, boardId, elementId string, patch models.Element) error {
	return t.request(ctx, protocol.TypeUpdateElement, &protocol.UpdateElementPayload{BoardID: boardId, ElementID: elementId, Patch: patch}, nil)
}

func (t *WSTransport) Delete(ctx context.Context, boardId, elementId string) error {
	return t.request(ctx, protocol.TypeDeleteElement, &protocol.DeleteElementPayload{BoardID: boardId, ElementID: elementId}, nil)
}

// MoveCursor is fire-and-forget
func (t *WSTransport) MoveCursor(ctx context.Context, boardId string, pos protocol.Position) error {
	frame, err := protocol.Encode(protocol.TypeMoveCursor, "", &protocol.MoveCursorPayload{BoardID: boardId, Position: pos})
	if err != nil {
		return err
	}
	return t.write(ctx, frame)
}
