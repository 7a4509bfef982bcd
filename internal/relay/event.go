package relay

import "context"

// GlobalRoomID 公共房间的固定 ID，即使存储中没有记录也始终存在。
const GlobalRoomID uint = 1

// InsertEvent 外部事件源观测到的一条新消息，RoomID 为 0 表示公共房间。
type InsertEvent struct {
	UserID uint   `json:"userId"`
	RoomID uint   `json:"roomId,omitempty"`
	Msg    string `json:"msg"`
	Ts     int64  `json:"ts"`
}

type RoomRecord struct {
	ID             uint
	Name           string
	Private        bool
	AllowedUserIDs []uint
}

type UserRecord struct {
	ID          uint
	DisplayName string
	AvatarURL   string
	Bio         string
}

// Store 只在启动或重建时读取，核心永远不会写回。
type Store interface {
	ListRooms(ctx context.Context) ([]RoomRecord, error)
	ListUsers(ctx context.Context) ([]UserRecord, error)
	// RecentMessages 按时间升序返回某房间最近的消息，用于回填环形缓冲。
	RecentMessages(ctx context.Context, roomID uint, limit int) ([]InsertEvent, error)
}

// Feed 新消息的变更通知流，通道关闭即视为断流，由 Supervisor 重新订阅。
type Feed interface {
	Subscribe(ctx context.Context) (<-chan InsertEvent, error)
}

// Sender 一条连接的发送端，实现必须非阻塞，慢消费者直接返回错误。
type Sender interface {
	Send(frame []byte) error
	Ping() error
	Close()
}

// Listener 套接字监听器，Serve 阻塞直到致命错误。
type Listener interface {
	Serve() error
	Shutdown(ctx context.Context) error
}
