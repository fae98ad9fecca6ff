package libraries

import (
	"errors"
	"log"
	"sync"
	"time"

	"studyboard-backend/internal/protocol"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// LocalsUserID is the fiber locals key holding the authenticated user id
const LocalsUserID = "userId"

const (
	sendBuffer   = 256
	flushTimeout = time.Second
)

type Client struct {
	ID     string
	UserID string
	// BoardID is the :boardId route parameter for board scoped endpoints
	BoardID string
	Conn    *websocket.Conn
	// Send is never closed; Done tells the writer to stop
	Send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// Done is closed once the hub dropped the client
func (c *Client) Done() <-chan struct{} {
	return c.done
}

type roomOp struct {
	boardId uuid.UUID
	client  *Client
	done    chan struct{}
}

type roomMessage struct {
	boardId uuid.UUID
	except  string
	message []byte
}

// Hub owns the connection registry and room membership. Everything is
// mutated from the Run goroutine only; callers talk to it over channels.
type Hub struct {
	Clients    map[string]*Client
	Register   chan *Client
	Unregister chan *Client
	rooms      map[uuid.UUID]map[string]*Client
	subscribe  chan roomOp
	leave      chan roomOp
	broadcast  chan roomMessage
	stop       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		Clients:    make(map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		rooms:      make(map[uuid.UUID]map[string]*Client),
		subscribe:  make(chan roomOp),
		leave:      make(chan roomOp),
		broadcast:  make(chan roomMessage, sendBuffer),
		stop:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			for _, client := range h.Clients {
				client.close()
			}
			return
		case client := <-h.Register:
			h.Clients[client.ID] = client
		case client := <-h.Unregister:
			h.drop(client)
		case op := <-h.subscribe:
			if _, ok := h.Clients[op.client.ID]; ok {
				members, ok := h.rooms[op.boardId]
				if !ok {
					members = make(map[string]*Client)
					h.rooms[op.boardId] = members
				}
				members[op.client.ID] = op.client
			}
			close(op.done)
		case op := <-h.leave:
			h.removeFromRoom(op.boardId, op.client.ID)
			close(op.done)
		case msg := <-h.broadcast:
			for id, client := range h.rooms[msg.boardId] {
				if id == msg.except {
					continue
				}
				select {
				case client.Send <- msg.message:
				default:
					// a client that cannot keep up loses its connection rather
					// than stalling the whole room
					log.Printf("client %s send buffer full, dropping", id)
					h.drop(client)
				}
			}
		}
	}
}

// Stop terminates Run and marks every client done
func (h *Hub) Stop() {
	close(h.stop)
}

func (h *Hub) drop(client *Client) {
	if _, exists := h.Clients[client.ID]; !exists {
		return
	}
	delete(h.Clients, client.ID)
	for boardId := range h.rooms {
		h.removeFromRoom(boardId, client.ID)
	}
	client.close()
}

func (h *Hub) removeFromRoom(boardId uuid.UUID, clientId string) {
	members, ok := h.rooms[boardId]
	if !ok {
		return
	}
	delete(members, clientId)
	if len(members) == 0 {
		delete(h.rooms, boardId)
	}
}

// JoinRoom subscribes the client to a room's broadcasts. It returns once the
// hub applied the change so no later broadcast can miss the client.
func (h *Hub) JoinRoom(boardId uuid.UUID, client *Client) {
	done := make(chan struct{})
	h.subscribe <- roomOp{boardId: boardId, client: client, done: done}
	<-done
}

func (h *Hub) LeaveRoom(boardId uuid.UUID, client *Client) {
	done := make(chan struct{})
	h.leave <- roomOp{boardId: boardId, client: client, done: done}
	<-done
}

// ErrHubStopped is returned for broadcasts after Stop
var ErrHubStopped = errors.New("hub stopped")

// BroadcastToRoom queues a frame for every room member except one connection
func (h *Hub) BroadcastToRoom(boardId uuid.UUID, exceptConnectionId string, message []byte) error {
	select {
	case h.broadcast <- roomMessage{boardId: boardId, except: exceptConnectionId, message: message}:
		return nil
	case <-h.stop:
		return ErrHubStopped
	}
}

// SendMessage queues a frame for one client; frames to a dropped client are discarded
func (h *Hub) SendMessage(client *Client, message []byte) {
	select {
	case <-client.done:
		log.Printf("client %s gone, dropping frame", client.ID)
		return
	default:
	}
	select {
	case client.Send <- message:
	default:
		log.Printf("client %s send buffer full, dropping frame", client.ID)
	}
}

// SendErrorMessage sends a standardized error frame to a client
func SendErrorMessage(hub *Hub, client *Client, code protocol.ErrorCode, errorMsg string) {
	errorBytes, err := protocol.Encode(protocol.TypeError, "", &protocol.ErrorPayload{
		Code:    code,
		Message: errorMsg,
	})
	if err != nil {
		log.Println("failed to marshal error response:", err)
		return
	}
	hub.SendMessage(client, errorBytes)
}

// SendAck acknowledges a request
func SendAck(hub *Hub, client *Client, requestId string, result interface{}) {
	ackBytes, err := protocol.EncodeAck(requestId, result)
	if err != nil {
		log.Println("failed to marshal ack:", err)
		return
	}
	hub.SendMessage(client, ackBytes)
}

// SendErrorAck rejects a request
func SendErrorAck(hub *Hub, client *Client, requestId string, code protocol.ErrorCode, errorMsg string) {
	ackBytes, err := protocol.EncodeErrorAck(requestId, code, errorMsg)
	if err != nil {
		log.Println("failed to marshal error ack:", err)
		return
	}
	hub.SendMessage(client, ackBytes)
}

// sendPongMessage sends a standardized pong message to a client
func sendPongMessage(hub *Hub, client *Client) {
	pongBytes, err := protocol.Encode(protocol.TypePong, "", nil)
	if err != nil {
		log.Println("failed to marshal pong response:", err)
		return
	}
	hub.SendMessage(client, pongBytes)
}

// MessageProcessor handles the frames of one connection. ProcessMessage is
// called from the connection's read loop, so a connection's frames are
// processed strictly in arrival order.
type MessageProcessor interface {
	ProcessMessage(hub *Hub, client *Client, message *protocol.Message)
	// Disconnected runs synchronously when the connection's read loop ends
	Disconnected(hub *Hub, client *Client)
}

// ConnectHandler is implemented by processors that set up per-connection
// state before the first frame is read. A returned error closes the connection.
type ConnectHandler interface {
	Connected(hub *Hub, client *Client) error
}

func WebSocketHandler(hub *Hub, processor MessageProcessor) fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userId, _ := conn.Locals(LocalsUserID).(string)
		client := NewClient(uuid.NewString(), userId)
		client.BoardID = conn.Params("boardId")
		client.Conn = conn

		hub.Register <- client

		// Write loop. Whatever ends it closes the conn, which ends the read
		// loop too, so a dropped client never lingers half open.
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			defer conn.Close()
			for {
				select {
				case msg := <-client.Send:
					if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						log.Println("write error:", err)
						return
					}
				case <-client.done:
					flush(conn, client)
					return
				}
			}
		}()

		if opener, ok := processor.(ConnectHandler); ok {
			if err := opener.Connected(hub, client); err != nil {
				log.Println("connection rejected:", err)
				hub.Unregister <- client
				<-writerDone
				conn.Close()
				return
			}
		}

		// Read loop
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				log.Println("read error:", err)
				break
			}

			// Parse message using standard interface
			message, err := protocol.Parse(msg)
			if err != nil {
				log.Println("failed to parse JSON:", err)
				SendErrorMessage(hub, client, protocol.CodeBadRequest, "Invalid JSON format")
				continue
			}

			if message.Type == protocol.TypePing {
				sendPongMessage(hub, client)
				continue
			}
			processor.ProcessMessage(hub, client, message)
		}

		processor.Disconnected(hub, client)
		hub.Unregister <- client
		<-writerDone
		conn.Close()
	})
}

// flush writes the frames queued before the client was dropped
func flush(conn *websocket.Conn, client *Client) {
	_ = conn.SetWriteDeadline(time.Now().Add(flushTimeout))
	for {
		select {
		case msg := <-client.Send:
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

// NewClient builds a client without a connection; WebSocketHandler attaches one
func NewClient(id, userId string) *Client {
	return &Client{
		ID:     id,
		UserID: userId,
		Send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
}
