package gateway

import (
	"context"
	"log/slog"

	"chatrelay/internal/domain"
)

type subscription struct {
	client *Client
	room   string
}

type emitRequest struct {
	room  string
	frame []byte
}

// Hub owns every live connection of this process and the room table mapping
// connections to logical groups: one personal room per user plus any number
// of chat rooms. All state is confined to the Run goroutine; other
// goroutines talk to it through channels. Room membership is derived state,
// private to the process, and rebuilt from scratch on reconnect.
type Hub struct {
	clients    map[*Client]bool
	rooms      map[string]map[*Client]bool
	membership map[*Client]map[string]bool

	register   chan *Client
	unregister chan *Client
	join       chan subscription
	leave      chan subscription
	broadcast  chan emitRequest

	done chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		membership: make(map[*Client]map[string]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan subscription),
		leave:      make(chan subscription),
		broadcast:  make(chan emitRequest, 256),
		done:       make(chan struct{}),
	}
}

// Run processes hub commands until the context is canceled. Pending emits
// are drained before returning so in-flight notifications flush during
// shutdown.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.drain()
			// Signaling done lets the write pumps flush what is buffered and
			// then tear the connections down. The send channels stay open so
			// racing senders on other goroutines never hit a closed channel.
			for client := range h.clients {
				close(client.done)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			h.joinRoom(client, domain.PersonalRoom(client.identity.UserID))
			slog.Info("Client connected", "user_id", client.identity.UserID)

		case client := <-h.unregister:
			if _, ok := h.clients[client]; !ok {
				continue
			}
			for room := range h.membership[client] {
				h.leaveRoom(client, room)
			}
			delete(h.membership, client)
			delete(h.clients, client)
			close(client.done)
			slog.Info("Client disconnected", "user_id", client.identity.UserID)

		case sub := <-h.join:
			h.joinRoom(sub.client, sub.room)

		case sub := <-h.leave:
			h.leaveRoom(sub.client, sub.room)

		case req := <-h.broadcast:
			h.deliver(req)
		}
	}
}

func (h *Hub) drain() {
	for {
		select {
		case req := <-h.broadcast:
			h.deliver(req)
		default:
			return
		}
	}
}

func (h *Hub) deliver(req emitRequest) {
	for client := range h.rooms[req.room] {
		select {
		case client.send <- req.frame:
		case <-client.done:
		default:
			// Slow consumer: dropping the frame beats stalling the hub.
			slog.Warn("Dropping frame for slow client", "user_id", client.identity.UserID, "room", req.room)
		}
	}
}

func (h *Hub) joinRoom(client *Client, room string) {
	if !h.clients[client] {
		return
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]bool)
	}
	h.rooms[room][client] = true

	if h.membership[client] == nil {
		h.membership[client] = make(map[string]bool)
	}
	h.membership[client][room] = true
}

func (h *Hub) leaveRoom(client *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(h.membership[client], room)
}

// Register admits an authenticated client: it is tracked and auto-joined to
// its personal room before any other frame is processed.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Join adds the client to a room. No chat-membership authorization happens
// here: the client learned the chat id through the authorized HTTP layer.
func (h *Hub) Join(client *Client, room string) {
	select {
	case h.join <- subscription{client: client, room: room}:
	case <-h.done:
	}
}

func (h *Hub) Leave(client *Client, room string) {
	select {
	case h.leave <- subscription{client: client, room: room}:
	case <-h.done:
	}
}

// Emit fans a {type, data} frame out to every member of the room. Safe to
// call from any goroutine; becomes a no-op once the hub has stopped.
func (h *Hub) Emit(room string, event domain.EventType, payload any) {
	frame, err := domain.NewEnvelope(event, payload)
	if err != nil {
		slog.Error("Failed to marshal emit frame", "event", event, "room", room, "error", err)
		return
	}

	select {
	case h.broadcast <- emitRequest{room: room, frame: frame}:
	case <-h.done:
	}
}
