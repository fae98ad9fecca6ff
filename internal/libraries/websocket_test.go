package libraries

import (
	"net"
	"testing"
	"time"

	"studyboard-backend/internal/protocol"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func connect(hub *Hub, id string) *Client {
	c := NewClient(id, "user-"+id)
	hub.Register <- c
	return c
}

func recv(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg := <-c.Send:
		return msg
	case <-time.After(time.Second):
		t.Fatalf("client %s received nothing", c.ID)
		return nil
	}
}

func assertIdle(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.Send:
		t.Fatalf("client %s got unexpected frame %s", c.ID, msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_BroadcastSkipsSender(t *testing.T) {
	hub := startHub(t)
	board := uuid.New()
	a, b, outsider := connect(hub, "a"), connect(hub, "b"), connect(hub, "c")
	hub.JoinRoom(board, a)
	hub.JoinRoom(board, b)

	hub.BroadcastToRoom(board, a.ID, []byte("hello"))

	assert.Equal(t, "hello", string(recv(t, b)))
	assertIdle(t, a)
	assertIdle(t, outsider)
}

func TestHub_LeaveRoom(t *testing.T) {
	hub := startHub(t)
	board := uuid.New()
	a := connect(hub, "a")
	hub.JoinRoom(board, a)
	hub.LeaveRoom(board, a)

	hub.BroadcastToRoom(board, "", []byte("x"))
	assertIdle(t, a)
}

func TestHub_JoinRequiresRegistration(t *testing.T) {
	hub := startHub(t)
	board := uuid.New()
	ghost := NewClient("ghost", "u")
	hub.JoinRoom(board, ghost)

	hub.BroadcastToRoom(board, "", []byte("x"))
	assertIdle(t, ghost)
}

func TestHub_SlowClientIsDropped(t *testing.T) {
	hub := startHub(t)
	board := uuid.New()
	slow, fast := connect(hub, "slow"), connect(hub, "fast")
	hub.JoinRoom(board, slow)
	hub.JoinRoom(board, fast)

	for i := 0; i < sendBuffer+1; i++ {
		hub.BroadcastToRoom(board, "", []byte("tick"))
		<-fast.Send
	}

	// one frame more than the buffer holds
	select {
	case <-slow.Done():
	case <-time.After(time.Second):
		t.Fatal("slow client still registered")
	}

	// sending to a dropped client is discarded
	hub.SendMessage(slow, []byte("late"))
	drained := 0
	for len(slow.Send) > 0 {
		assert.Equal(t, "tick", string(<-slow.Send))
		drained++
	}
	assert.Equal(t, sendBuffer, drained)
}

func TestHub_UnregisterMarksDone(t *testing.T) {
	hub := startHub(t)
	a := connect(hub, "a")
	hub.Unregister <- a

	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("client not marked done")
	}
}

func TestHub_BroadcastAfterStop(t *testing.T) {
	hub := NewHub()
	hub.Stop()

	// at most the queue's capacity is accepted once nobody drains it
	var err error
	for i := 0; i <= sendBuffer && err == nil; i++ {
		err = hub.BroadcastToRoom(uuid.New(), "", []byte("x"))
	}
	assert.ErrorIs(t, err, ErrHubStopped)
}

type recordingProcessor struct {
	connected    chan *Client
	disconnected chan *Client
}

func (p *recordingProcessor) Connected(hub *Hub, client *Client) error {
	p.connected <- client
	return nil
}

func (p *recordingProcessor) ProcessMessage(hub *Hub, client *Client, message *protocol.Message) {
	hub.SendMessage(client, []byte(`{"type":"echo"}`))
}

func (p *recordingProcessor) Disconnected(hub *Hub, client *Client) {
	p.disconnected <- client
}

func TestWebSocketHandler_DroppedClientIsDisconnected(t *testing.T) {
	hub := startHub(t)
	processor := &recordingProcessor{connected: make(chan *Client, 1), disconnected: make(chan *Client, 1)}
	app := fiber.New()
	app.Get("/ws", WebSocketHandler(hub, processor))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	conn, _, err := gorillaws.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	var client *Client
	select {
	case client = <-processor.connected:
	case <-time.After(time.Second):
		t.Fatal("handler never connected")
	}
	require.NoError(t, conn.WriteMessage(gorillaws.TextMessage, []byte(`{"type":"hello"}`)))
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"echo"}`, string(msg))

	// what the hub does to a client that cannot keep up
	hub.Unregister <- client

	select {
	case gone := <-processor.disconnected:
		assert.Equal(t, client.ID, gone.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("dropped client kept its connection")
	}
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "the server closed the socket")
}
