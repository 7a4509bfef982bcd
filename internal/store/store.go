package store

import (
	"context"

	"chatrelay/internal/models"
	"chatrelay/internal/relay"

	"gorm.io/gorm"
)

// Store 基于 gorm 的只读存储适配器，核心只在启动/重建时查询它。
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store { return &Store{db: db} }

func (s *Store) ListRooms(ctx context.Context) ([]relay.RoomRecord, error) {
	var rooms []models.Room
	if err := s.db.WithContext(ctx).Find(&rooms).Error; err != nil {
		return nil, err
	}
	out := make([]relay.RoomRecord, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, relay.RoomRecord{
			ID:             r.ID,
			Name:           r.Name,
			Private:        r.Private,
			AllowedUserIDs: r.AllowedUserIDs,
		})
	}
	return out, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]relay.UserRecord, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Find(&users).Error; err != nil {
		return nil, err
	}
	out := make([]relay.UserRecord, 0, len(users))
	for _, u := range users {
		out = append(out, relay.UserRecord{
			ID:          u.ID,
			DisplayName: u.DisplayName,
			AvatarURL:   u.AvatarURL,
			Bio:         u.Bio,
		})
	}
	return out, nil
}

// RecentMessages 按时间升序返回某房间最近 limit 条消息。
// 公共房间同时包含 room_id 为 0 的历史记录（roomId 缺省即公共房间）。
func (s *Store) RecentMessages(ctx context.Context, roomID uint, limit int) ([]relay.InsertEvent, error) {
	q := s.db.WithContext(ctx).Model(&models.Message{})
	if roomID == relay.GlobalRoomID {
		q = q.Where("room_id IN ?", []uint{0, roomID})
	} else {
		q = q.Where("room_id = ?", roomID)
	}
	var msgs []models.Message
	if err := q.Order("ts desc").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, err
	}
	// 反转为升序
	out := make([]relay.InsertEvent, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		out = append(out, relay.InsertEvent{UserID: m.UserID, RoomID: m.RoomID, Msg: m.Content, Ts: m.Ts})
	}
	return out, nil
}
