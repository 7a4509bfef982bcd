package relay

import "testing"

// walk returns the conn IDs reachable from the room head, in list order.
func walk(g *registry, room *Room) []string {
	var ids []string
	for id := room.head; id != ""; id = g.conns[id].next {
		ids = append(ids, id)
	}
	return ids
}

func TestRegistry_LinkUnlink(t *testing.T) {
	g := newRegistry()
	room := &Room{ID: 1}
	g.rooms[1] = room

	a := &Conn{ID: "a", RoomID: 1}
	b := &Conn{ID: "b", RoomID: 1}
	c := &Conn{ID: "c", RoomID: 1}
	g.link(room, a)
	g.link(room, b)
	g.link(room, c)

	// Head insertion: newest first.
	if got := walk(g, room); len(got) != 3 || got[0] != "c" || got[1] != "b" || got[2] != "a" {
		t.Fatalf("list order = %v, want [c b a]", got)
	}
	if room.MemberCount != 3 {
		t.Fatalf("MemberCount = %d, want 3", room.MemberCount)
	}

	// Unlink the middle node: neighbours must be re-joined.
	g.unlink(room, b)
	if got := walk(g, room); len(got) != 2 || got[0] != "c" || got[1] != "a" {
		t.Fatalf("after unlink middle: list = %v, want [c a]", got)
	}
	if g.conns["b"] != nil {
		t.Error("unlinked conn still in arena")
	}
	if room.MemberCount != 2 {
		t.Errorf("MemberCount = %d, want 2", room.MemberCount)
	}

	// Unlink the head.
	g.unlink(room, c)
	if got := walk(g, room); len(got) != 1 || got[0] != "a" {
		t.Fatalf("after unlink head: list = %v, want [a]", got)
	}
	if g.conns["a"].prev != "" {
		t.Error("new head should have empty prev")
	}

	// Unlink the last node: room becomes empty.
	g.unlink(room, a)
	if room.head != "" || room.MemberCount != 0 {
		t.Errorf("empty room: head=%q count=%d", room.head, room.MemberCount)
	}
	if len(g.conns) != 0 {
		t.Errorf("arena not empty: %d conns left", len(g.conns))
	}
}

func TestRegistry_MemberCountMatchesListLength(t *testing.T) {
	g := newRegistry()
	room := &Room{ID: 7}
	g.rooms[7] = room
	conns := []*Conn{{ID: "1"}, {ID: "2"}, {ID: "3"}, {ID: "4"}}
	for _, c := range conns {
		c.RoomID = 7
		g.link(room, c)
		if got := len(walk(g, room)); got != room.MemberCount {
			t.Fatalf("after link %s: list length %d != MemberCount %d", c.ID, got, room.MemberCount)
		}
	}
	for _, c := range []*Conn{conns[2], conns[0], conns[3], conns[1]} {
		g.unlink(room, c)
		if got := len(walk(g, room)); got != room.MemberCount {
			t.Fatalf("after unlink %s: list length %d != MemberCount %d", c.ID, got, room.MemberCount)
		}
	}
}
