package relay

import "time"

// Conn 一条存活的套接字连接，通过 prev/next 挂在所属房间的侵入式双向链表上。
type Conn struct {
	ID     string
	UserID uint
	RoomID uint
	alive  bool
	prev   string
	next   string
	sender Sender
}

// Room 房间记录，MemberCount 始终等于链表长度。
type Room struct {
	ID          uint
	Name        string
	Private     bool
	Allowed     map[uint]struct{}
	MemberCount int
	head        string
	Ring        *RingBuffer
}

// User 用户记录，启动时从存储整体加载，只在重建时刷新资料快照。
type User struct {
	ID          uint
	DisplayName string
	AvatarURL   string
	Bio         string
	ConnID      string
	RoomID      uint
	Budget      int
	BannedUntil time.Time
	LastConnect time.Time
}

// registry 房间、用户与连接池，所有修改只能发生在核心循环里。
type registry struct {
	rooms map[uint]*Room
	users map[uint]*User
	conns map[string]*Conn
}

func newRegistry() *registry {
	return &registry{
		rooms: make(map[uint]*Room),
		users: make(map[uint]*User),
		conns: make(map[string]*Conn),
	}
}

func (g *registry) lookupRoom(id uint) *Room { return g.rooms[id] }
func (g *registry) lookupUser(id uint) *User { return g.users[id] }

// link 头插新连接并递增成员数，O(1)。
func (g *registry) link(room *Room, c *Conn) {
	c.prev = ""
	c.next = room.head
	if room.head != "" {
		g.conns[room.head].prev = c.ID
	}
	room.head = c.ID
	room.MemberCount++
	g.conns[c.ID] = c
}

// unlink 摘除节点并重接前后邻居，递减成员数。
func (g *registry) unlink(room *Room, c *Conn) {
	if room.head == c.ID {
		room.head = c.next
		if c.next != "" {
			g.conns[c.next].prev = ""
		}
	} else {
		g.conns[c.prev].next = c.next
		if c.next != "" {
			g.conns[c.next].prev = c.prev
		}
	}
	room.MemberCount--
	delete(g.conns, c.ID)
	c.prev, c.next = "", ""
}
