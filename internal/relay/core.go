package relay

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"chatrelay/internal/config"
	"chatrelay/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Core 维护房间/用户/连接三张注册表和扇出管线。
// 所有注册表修改都经由 run 循环串行处理：准入、链接、关闭回调、
// 心跳应答和事件流是相互独立的异步来源，汇聚到同一条命令队列，
// 因此不需要任何锁。
type Core struct {
	cfg config.Config
	log zerolog.Logger
	reg *registry
	now func() time.Time

	admitCh  chan admitReq
	linkCh   chan linkReq
	closedCh chan string
	pongCh   chan string
	eventCh  chan InsertEvent
	countCh  chan countReq
	tick     chan time.Time

	done chan struct{}
}

type admitReq struct {
	userID uint
	roomID uint
	reply  chan *Rejection
}

type linkReq struct {
	userID uint
	roomID uint
	sender Sender
	reply  chan linkResp
}

type linkResp struct {
	connID string
	rej    *Rejection
}

type countReq struct {
	roomID uint
	reply  chan int
}

func New(cfg config.Config, logger zerolog.Logger) *Core {
	return &Core{
		cfg:      cfg,
		log:      logger,
		reg:      newRegistry(),
		now:      time.Now,
		admitCh:  make(chan admitReq),
		linkCh:   make(chan linkReq),
		closedCh: make(chan string, 64),
		pongCh:   make(chan string, 64),
		eventCh:  make(chan InsertEvent, 64),
		countCh:  make(chan countReq),
		tick:     make(chan time.Time),
		done:     make(chan struct{}),
	}
}

// Prime 从存储整体重建注册表并回填每个房间的环形缓冲。
// 必须在 Start 之前调用，此时还没有并发访问。
func (c *Core) Prime(ctx context.Context, st Store) error {
	rooms, err := st.ListRooms(ctx)
	if err != nil {
		return err
	}
	users, err := st.ListUsers(ctx)
	if err != nil {
		return err
	}
	reg := newRegistry()
	for _, r := range rooms {
		room := &Room{ID: r.ID, Name: r.Name, Private: r.Private, Ring: NewRingBuffer(c.cfg.RingCapacity)}
		if len(r.AllowedUserIDs) > 0 {
			room.Allowed = make(map[uint]struct{}, len(r.AllowedUserIDs))
			for _, id := range r.AllowedUserIDs {
				room.Allowed[id] = struct{}{}
			}
		}
		reg.rooms[room.ID] = room
	}
	// 公共房间即使没有存储记录也必须存在。
	if reg.rooms[GlobalRoomID] == nil {
		reg.rooms[GlobalRoomID] = &Room{ID: GlobalRoomID, Name: "Public", Ring: NewRingBuffer(c.cfg.RingCapacity)}
	}
	for _, u := range users {
		reg.users[u.ID] = &User{
			ID:          u.ID,
			DisplayName: u.DisplayName,
			AvatarURL:   u.AvatarURL,
			Bio:         u.Bio,
			Budget:      c.cfg.RateLimitMax,
		}
	}
	c.reg = reg
	for id, room := range reg.rooms {
		msgs, err := st.RecentMessages(ctx, id, c.cfg.RingCapacity)
		if err != nil {
			return err
		}
		for _, ev := range msgs {
			user := reg.users[ev.UserID]
			if user == nil {
				continue
			}
			frame, err := EncodeFrame(c.enrich(ev, user), true)
			if err != nil {
				return err
			}
			room.Ring.Push(frame)
		}
		c.log.Debug().Uint("room_id", id).Int("backlog", room.Ring.Len()).Msg("primed room")
	}
	return nil
}

// Start 启动核心循环和心跳发生器，ctx 取消后两者一起退出。
func (c *Core) Start(ctx context.Context) {
	go c.pulse(ctx)
	go c.run(ctx)
}

// Stopped 核心循环退出后关闭。
func (c *Core) Stopped() <-chan struct{} { return c.done }

// Admit 评估一次握手，拒绝时返回结构化响应，不会改动链表。
func (c *Core) Admit(userID, roomID uint) *Rejection {
	req := admitReq{userID: userID, roomID: roomID, reply: make(chan *Rejection, 1)}
	select {
	case c.admitCh <- req:
		return <-req.reply
	case <-c.done:
		return unauthorized()
	}
}

// Link 把已升级的连接挂进房间，同一用户的旧连接先被摘除并关闭。
// 成功后新连接会立刻收到房间当前的回放快照。
func (c *Core) Link(userID, roomID uint, s Sender) (string, *Rejection) {
	req := linkReq{userID: userID, roomID: roomID, sender: s, reply: make(chan linkResp, 1)}
	select {
	case c.linkCh <- req:
		resp := <-req.reply
		return resp.connID, resp.rej
	case <-c.done:
		return "", unauthorized()
	}
}

// Disconnect 套接字关闭后的回调，重复或过期的通知会被安全忽略。
func (c *Core) Disconnect(connID string) {
	select {
	case c.closedCh <- connID:
	case <-c.done:
	}
}

// Pong 心跳应答回调。
func (c *Core) Pong(connID string) {
	select {
	case c.pongCh <- connID:
	case <-c.done:
	}
}

// Publish 投入一条来自事件流的插入事件。
func (c *Core) Publish(ev InsertEvent) {
	select {
	case c.eventCh <- ev:
	case <-c.done:
	}
}

// Online 返回房间当前成员数，未知房间为 0。
func (c *Core) Online(roomID uint) int {
	req := countReq{roomID: roomID, reply: make(chan int, 1)}
	select {
	case c.countCh <- req:
		return <-req.reply
	case <-c.done:
		return 0
	}
}

func (c *Core) pulse(ctx context.Context) {
	t := time.NewTicker(c.cfg.HeartbeatPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			select {
			case c.tick <- now:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *Core) run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.admitCh:
			rej := c.admit(req.userID, req.roomID, c.now())
			if rej != nil {
				metrics.AdmissionRejectionsTotal.WithLabelValues(strconv.Itoa(rej.Code)).Inc()
			}
			req.reply <- rej
		case req := <-c.linkCh:
			req.reply <- c.link(req)
		case connID := <-c.closedCh:
			if conn := c.reg.conns[connID]; conn != nil {
				c.drop(conn)
			}
		case connID := <-c.pongCh:
			if conn := c.reg.conns[connID]; conn != nil {
				conn.alive = true
			}
		case <-c.tick:
			c.probe()
		case ev := <-c.eventCh:
			c.fanout(ev)
		case req := <-c.countCh:
			n := 0
			if room := c.reg.lookupRoom(req.roomID); room != nil {
				n = room.MemberCount
			}
			req.reply <- n
		}
	}
}

func (c *Core) link(req linkReq) linkResp {
	user := c.reg.lookupUser(req.userID)
	room := c.reg.lookupRoom(req.roomID)
	if user == nil || room == nil {
		return linkResp{rej: unauthorized()}
	}
	// 同一用户最多一条连接：旧连接在同一条命令里摘除，
	// 之后到达的过期关闭通知会发现槽位已不指向它。
	if user.ConnID != "" {
		if old := c.reg.conns[user.ConnID]; old != nil {
			c.evict(old)
		}
		user.ConnID = ""
	}
	conn := &Conn{
		ID:     uuid.NewString(),
		UserID: req.userID,
		RoomID: req.roomID,
		alive:  true,
		sender: req.sender,
	}
	c.reg.link(room, conn)
	user.ConnID = conn.ID
	user.RoomID = room.ID
	user.LastConnect = c.now()
	metrics.WsConnections.Inc()
	if frame, err := c.backlogFrame(room); err != nil {
		c.log.Error().Err(err).Uint("room_id", room.ID).Msg("encode backlog")
	} else if err := req.sender.Send(frame); err != nil {
		c.log.Warn().Err(err).Str("conn_id", conn.ID).Msg("send backlog")
	}
	c.log.Info().Uint("user_id", req.userID).Uint("room_id", req.roomID).Str("conn_id", conn.ID).Msg("connection linked")
	return linkResp{connID: conn.ID}
}

// evict 摘除并关闭一条连接，用于顶替旧连接和心跳超时。
func (c *Core) evict(conn *Conn) {
	c.drop(conn)
	conn.sender.Close()
}

// drop 从房间链表摘除连接；用户槽位仍指向它时才清空，防止过期
// 关闭通知与更新的连接竞争。
func (c *Core) drop(conn *Conn) {
	if room := c.reg.lookupRoom(conn.RoomID); room != nil {
		c.reg.unlink(room, conn)
	}
	if user := c.reg.lookupUser(conn.UserID); user != nil && user.ConnID == conn.ID {
		user.ConnID = ""
	}
	metrics.WsConnections.Dec()
}

// probe 心跳巡检：上轮未应答的连接被强制关闭，存活连接标记待应答并
// 发出新探测，同时给属主补满一个窗口的预算（心跳间隔兼作限流恢复时钟）。
func (c *Core) probe() {
	for _, conn := range c.reg.conns {
		if !conn.alive {
			c.log.Info().Str("conn_id", conn.ID).Uint("user_id", conn.UserID).Msg("heartbeat timeout, closing")
			c.evict(conn)
			continue
		}
		conn.alive = false
		if err := conn.sender.Ping(); err != nil {
			c.log.Debug().Err(err).Str("conn_id", conn.ID).Msg("ping failed")
		}
		if user := c.reg.lookupUser(conn.UserID); user != nil {
			user.Budget = min(c.cfg.RateLimitMax, user.Budget+c.cfg.RateLimitMax)
		}
	}
}

// fanout 单条插入事件的完整管线：定位房间、填充资料、编帧、入环、
// 逐个投递。单个接收者失败只记日志，不影响其余投递。
func (c *Core) fanout(ev InsertEvent) {
	roomID := ev.RoomID
	if roomID == 0 {
		roomID = GlobalRoomID
	}
	room := c.reg.lookupRoom(roomID)
	if room == nil {
		c.log.Warn().Uint("room_id", roomID).Msg("event for unknown room dropped")
		return
	}
	msg := ChatMessage{UserID: ev.UserID, RoomID: ev.RoomID, Msg: ev.Msg, Ts: ev.Ts}
	if user := c.reg.lookupUser(ev.UserID); user != nil {
		msg = c.enrich(ev, user)
	}
	compress := room.MemberCount > c.cfg.CompressMinMembers
	frame, err := EncodeFrame(msg, compress)
	if err != nil {
		c.log.Error().Err(err).Msg("encode frame")
		return
	}
	room.Ring.Push(frame)
	for id := room.head; id != ""; {
		conn := c.reg.conns[id]
		if err := conn.sender.Send(frame); err != nil {
			metrics.DeliveryFailuresTotal.Inc()
			c.log.Warn().Err(err).Str("conn_id", conn.ID).Msg("delivery failed")
		}
		id = conn.next
	}
	metrics.FanoutMessagesTotal.Inc()
}

func (c *Core) enrich(ev InsertEvent, user *User) ChatMessage {
	return ChatMessage{
		UserID:      ev.UserID,
		RoomID:      ev.RoomID,
		Msg:         ev.Msg,
		Ts:          ev.Ts,
		DisplayName: user.DisplayName,
		AvatarURL:   user.AvatarURL,
		Bio:         user.Bio,
	}
}

// backlogFrame 新链接的初始帧：按时间序打包环形缓冲快照，
// 每个元素本身就是一条常规帧，客户端复用同一套解码逻辑。
func (c *Core) backlogFrame(room *Room) ([]byte, error) {
	snap := struct {
		Type   string   `json:"type"`
		Frames [][]byte `json:"frames"`
	}{Type: "backlog", Frames: room.Ring.Snapshot()}
	return json.Marshal(snap)
}
