package gateway

import (
	"chatrelay/internal/domain"

	"github.com/gorilla/websocket"
)

// Client is one admitted websocket connection. The identity is attached at
// admission and never mutated for the lifetime of the connection.
//
// The send channel is never closed; the hub closes done instead, on
// unregister or on hub shutdown. Senders select on done, and the write pump
// tears the connection down when done closes. Keeping send open means a
// racing sendDirect or deliver can never hit a closed channel.
type Client struct {
	identity *domain.Identity
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	hub      *Hub
}

func NewClient(identity *domain.Identity, conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		identity: identity,
		conn:     conn,
		send:     make(chan []byte, 64),
		done:     make(chan struct{}),
		hub:      hub,
	}
}

func (c *Client) Identity() *domain.Identity {
	return c.identity
}
