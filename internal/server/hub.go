package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/BioHazard786/peerlink/internal/signaling"
)

// ServerID is the sender id on messages the server originates.
const ServerID = "server"

// inbound is an envelope read from a client, tagged with who sent it.
type inbound struct {
	client *Client
	env    *signaling.Envelope
}

// Hub owns all rooms and their members. Every mutation happens on the Run
// goroutine.
type Hub struct {
	rooms map[string]*Room

	register   chan *Client
	unregister chan *Client
	broadcast  chan inbound
	done       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]*Room),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan inbound),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and messages until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, room := range h.rooms {
				for _, c := range room.members {
					c.close()
				}
			}
			h.rooms = make(map[string]*Room)
			return

		case c := <-h.register:
			slog.Debug("client registered", "addr", c.conn.RemoteAddr())

		case c := <-h.unregister:
			h.leave(c)
			c.close()
			slog.Debug("client unregistered", "addr", c.conn.RemoteAddr(), "id", c.id)

		case in := <-h.broadcast:
			h.handle(in.client, in.env)
		}
	}
}

func (h *Hub) handle(c *Client, env *signaling.Envelope) {
	switch env.Type {
	case signaling.TypeJoin:
		h.join(c, env)

	case signaling.TypeOffer, signaling.TypeAnswer, signaling.TypeICECandidate:
		h.relay(c, env)

	default:
		slog.Debug("dropping message", "type", env.Type, "from", c.id)
	}
}

func (h *Hub) join(c *Client, env *signaling.Envelope) {
	var p struct {
		RoomID string `json:"roomId"`
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			slog.Debug("invalid join payload", "err", err)
			return
		}
	}
	if env.From == "" || p.RoomID == "" {
		slog.Debug("join without id or room", "addr", c.conn.RemoteAddr())
		return
	}
	if !c.authorized(env.From, p.RoomID) {
		slog.Warn("join rejected by token", "from", env.From, "room", p.RoomID)
		c.close()
		return
	}

	if c.roomID != "" {
		h.leave(c)
	}

	room, ok := h.rooms[p.RoomID]
	if !ok {
		room = newRoom(p.RoomID)
		h.rooms[p.RoomID] = room
		slog.Info("room created", "room", room.id)
	}

	if old := room.member(env.From); old != nil && old != c {
		// same user on a new connection takes the slot over
		room.remove(old)
		old.roomID = ""
		old.close()
	}

	c.id = env.From
	c.roomID = room.id

	announce := &signaling.Join{From: c.id, RoomID: room.id}
	for _, m := range room.members {
		m.deliver(announce)
	}
	room.add(c)

	participants := make([]signaling.Participant, 0, len(room.members))
	for _, m := range room.members {
		participants = append(participants, signaling.Participant{ClientID: m.id})
	}
	c.deliver(&signaling.Joined{From: ServerID, Participants: participants})

	slog.Info("client joined room", "id", c.id, "room", room.id, "members", len(room.members))
}

// relay forwards an offer, answer or candidate inside the sender's room. The
// sender id is taken from the connection, never from the message.
func (h *Hub) relay(c *Client, env *signaling.Envelope) {
	room, ok := h.rooms[c.roomID]
	if !ok {
		slog.Debug("relay from client outside a room", "addr", c.conn.RemoteAddr(), "type", env.Type)
		return
	}

	out := *env
	out.From = c.id
	data, err := json.Marshal(&out)
	if err != nil {
		slog.Error("failed to encode relayed message", "err", err)
		return
	}

	if out.To != "" {
		target := room.member(out.To)
		if target == nil {
			slog.Debug("relay target not in room", "to", out.To, "room", room.id)
			return
		}
		target.sendRaw(data)
		return
	}

	for _, m := range room.members {
		if m != c {
			m.sendRaw(data)
		}
	}
}

func (h *Hub) leave(c *Client) {
	if c.roomID == "" {
		return
	}
	room, ok := h.rooms[c.roomID]
	c.roomID = ""
	if !ok {
		return
	}
	room.remove(c)
	if len(room.members) == 0 {
		delete(h.rooms, room.id)
		slog.Info("room deleted", "room", room.id)
	}
}
