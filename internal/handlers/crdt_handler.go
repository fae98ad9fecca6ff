package handlers

import (
	"context"
	"fmt"
	"log"
	"sync"

	"studyboard-backend/internal/libraries"
	"studyboard-backend/internal/protocol"
	"studyboard-backend/internal/whiteboard"

	"github.com/google/uuid"
)

// clientPeer exposes a hub client to the document relay
type clientPeer struct {
	hub    *libraries.Hub
	client *libraries.Client
}

func (p clientPeer) ID() string { return p.client.ID }

func (p clientPeer) Send(message []byte) { p.hub.SendMessage(p.client, message) }

// DocHandler processes /ws/crdt/:boardId connections. Each connection is
// bound to the board named in its URL.
type DocHandler struct {
	rooms *whiteboard.Rooms
	relay *whiteboard.DocRelay
	// connections of viewers; they receive updates and share awareness only
	readOnly sync.Map
}

func NewDocHandler(rooms *whiteboard.Rooms, relay *whiteboard.DocRelay) *DocHandler {
	return &DocHandler{rooms: rooms, relay: relay}
}

func (h *DocHandler) Connected(hub *libraries.Hub, client *libraries.Client) error {
	boardId, err := uuid.Parse(client.BoardID)
	if err != nil {
		libraries.SendErrorMessage(hub, client, protocol.CodeBadRequest, "invalid board ID")
		return fmt.Errorf("board %q: %w", client.BoardID, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	board, err := h.rooms.Authorize(ctx, boardId, client.UserID)
	if err != nil {
		libraries.SendErrorMessage(hub, client, whiteboard.CodeOf(err), err.Error())
		return err
	}
	if !whiteboard.CanEdit(board, client.UserID) {
		h.readOnly.Store(client.ID, struct{}{})
	}
	if err := h.relay.Open(ctx, boardId, clientPeer{hub: hub, client: client}); err != nil {
		libraries.SendErrorMessage(hub, client, whiteboard.CodeOf(err), "Failed to load document")
		return err
	}
	log.Printf("user %s opened document %s", client.UserID, boardId)
	return nil
}

func (h *DocHandler) ProcessMessage(hub *libraries.Hub, client *libraries.Client, message *protocol.Message) {
	boardId, err := uuid.Parse(client.BoardID)
	if err != nil {
		return
	}
	peer := clientPeer{hub: hub, client: client}

	switch message.Type {
	case protocol.TypeDocUpdate:
		payload, ok := message.Data.(*protocol.DocUpdate)
		if !ok {
			libraries.SendErrorMessage(hub, client, protocol.CodeBadRequest, "update is required")
			return
		}
		if _, viewer := h.readOnly.Load(client.ID); viewer {
			libraries.SendErrorMessage(hub, client, protocol.CodeAccessDenied, "viewers cannot edit the board")
			return
		}
		err = h.relay.Update(boardId, peer, payload.Update)
	case protocol.TypeAwareness:
		payload, ok := message.Data.(*protocol.AwarenessFrame)
		if !ok {
			libraries.SendErrorMessage(hub, client, protocol.CodeBadRequest, "update is required")
			return
		}
		err = h.relay.Awareness(boardId, peer, payload.Update)
	default:
		libraries.SendErrorMessage(hub, client, protocol.CodeBadRequest, "Type is invalid or not provided")
		return
	}
	if err != nil {
		libraries.SendErrorMessage(hub, client, whiteboard.CodeOf(err), err.Error())
	}
}

func (h *DocHandler) Disconnected(hub *libraries.Hub, client *libraries.Client) {
	h.readOnly.Delete(client.ID)
	boardId, err := uuid.Parse(client.BoardID)
	if err != nil {
		return
	}
	h.relay.Close(boardId, clientPeer{hub: hub, client: client})
}
