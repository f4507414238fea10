package server

// Room is a set of clients that can signal each other. Members are kept in
// join order.
type Room struct {
	id      string
	members []*Client
}

func newRoom(id string) *Room {
	return &Room{id: id}
}

func (r *Room) member(id string) *Client {
	for _, c := range r.members {
		if c.id == id {
			return c
		}
	}
	return nil
}

func (r *Room) add(c *Client) {
	r.members = append(r.members, c)
}

func (r *Room) remove(c *Client) {
	for i, m := range r.members {
		if m == c {
			r.members = append(r.members[:i:i], r.members[i+1:]...)
			return
		}
	}
}
