package ws

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"chatrelay/internal/auth"
	"chatrelay/internal/config"
	"chatrelay/internal/relay"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

var errSlowConsumer = errors.New("ws: send queue full")

// Serve 处理 /ws 升级请求：先解析身份、再走核心准入，拒绝时在升级前
// 返回结构化 JSON（401 或 429），通过后才挂进房间开始收消息。
func Serve(core *relay.Core, cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomIDStr := c.Query("room_id")
		rid64, err := strconv.ParseUint(roomIDStr, 10, 64)
		if err != nil || rid64 == 0 {
			reject(c, &relay.Rejection{Message: "Unauthorized access", Code: http.StatusUnauthorized})
			return
		}

		// Token via Authorization header or token query param for WS
		authz := c.GetHeader("Authorization")
		token := c.Query("token")
		if token == "" && len(authz) > 7 && (authz[:7] == "Bearer " || authz[:7] == "bearer ") {
			token = authz[7:]
		}
		if token == "" {
			reject(c, &relay.Rejection{Message: "Unauthorized access", Code: http.StatusUnauthorized})
			return
		}
		claims, err := auth.ParseAccessToken(token, cfg.JWTSecret)
		if err != nil {
			reject(c, &relay.Rejection{Message: "Unauthorized access", Code: http.StatusUnauthorized})
			return
		}

		if rej := core.Admit(claims.UserID, uint(rid64)); rej != nil {
			reject(c, rej)
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := newClient(conn, cfg)
		connID, rej := core.Link(claims.UserID, uint(rid64), client)
		if rej != nil {
			_ = conn.Close()
			return
		}
		client.connID = connID

		go client.writePump()
		client.readPump(core)
	}
}

func reject(c *gin.Context, rej *relay.Rejection) {
	c.JSON(rej.Code, rej)
}

// Client 实现 relay.Sender，出站走带缓冲通道，慢消费者立即报错而不是
// 拖慢其它接收者。
type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	ping      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	connID    string
	readWait  time.Duration
	readLimit int64
}

func newClient(conn *websocket.Conn, cfg config.Config) *Client {
	return &Client{
		conn:      conn,
		send:      make(chan []byte, cfg.SendQueueDepth),
		ping:      make(chan struct{}, 1),
		closed:    make(chan struct{}),
		readWait:  2 * cfg.HeartbeatPeriod,
		readLimit: cfg.MaxPayloadBytes,
	}
}

func (c *Client) Send(frame []byte) error {
	select {
	case c.send <- frame:
		return nil
	case <-c.closed:
		return errors.New("ws: connection closed")
	default:
		return errSlowConsumer
	}
}

func (c *Client) Ping() error {
	select {
	case c.ping <- struct{}{}:
	default:
	}
	return nil
}

func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// readPump 入站只消费控制帧：pong 回报核心并刷新读超时，数据帧忽略
// （消息由外部生产者写入存储，经事件流扇出，套接字是单向下行的）。
func (c *Client) readPump(core *relay.Core) {
	defer func() {
		core.Disconnect(c.connID)
		c.Close()
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(c.readLimit)
	c.conn.SetReadDeadline(time.Now().Add(c.readWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.readWait))
		core.Pong(c.connID)
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()
	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		case <-c.ping:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
