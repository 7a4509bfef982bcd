package service

import (
	"time"

	"chatrelay/internal/models"

	"gorm.io/gorm"
)

// MessageService 封装消息相关的业务逻辑。
type MessageService struct {
	db *gorm.DB
}

func NewMessageService(db *gorm.DB) *MessageService {
	return &MessageService{db: db}
}

// MessageDTO 是对外输出的消息数据。
type MessageDTO struct {
	ID          uint   `json:"id"`
	RoomID      uint   `json:"room_id"`
	UserID      uint   `json:"user_id"`
	DisplayName string `json:"display_name"`
	Content     string `json:"content"`
	Ts          int64  `json:"ts"`
}

// Post 写入一条新消息。中继核心不经过这里：轮询事件流发现新行后
// 才会触发扇出。
func (s *MessageService) Post(roomID, userID uint, content string) (*MessageDTO, error) {
	var count int64
	if err := s.db.Model(&models.Room{}).Where("id = ?", roomID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrRoomNotFound
	}
	msg := models.Message{RoomID: roomID, UserID: userID, Content: content, Ts: time.Now().UnixMilli()}
	if err := s.db.Create(&msg).Error; err != nil {
		return nil, err
	}
	return &MessageDTO{ID: msg.ID, RoomID: msg.RoomID, UserID: msg.UserID, Content: msg.Content, Ts: msg.Ts}, nil
}

// ListByRoom 分页查询指定房间的消息，按 ts 升序返回。
func (s *MessageService) ListByRoom(roomID uint, limit int, beforeID uint) ([]MessageDTO, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	q := s.db.Where("room_id = ?", roomID)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}

	var msgs []models.Message
	if err := q.Order("id desc").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, err
	}

	// 反转为升序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	names, err := s.resolveDisplayNames(msgs)
	if err != nil {
		return nil, err
	}

	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageDTO{
			ID:          m.ID,
			RoomID:      m.RoomID,
			UserID:      m.UserID,
			DisplayName: names[m.UserID],
			Content:     m.Content,
			Ts:          m.Ts,
		})
	}
	return out, nil
}

// resolveDisplayNames 批量获取消息涉及的用户显示名。
func (s *MessageService) resolveDisplayNames(msgs []models.Message) (map[uint]string, error) {
	seen := make(map[uint]struct{}, len(msgs))
	userIDs := make([]uint, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.UserID]; ok {
			continue
		}
		seen[m.UserID] = struct{}{}
		userIDs = append(userIDs, m.UserID)
	}

	names := make(map[uint]string, len(userIDs))
	if len(userIDs) > 0 {
		var users []models.User
		if err := s.db.Select("id", "display_name").Where("id IN ?", userIDs).Find(&users).Error; err != nil {
			return nil, err
		}
		for _, u := range users {
			names[u.ID] = u.DisplayName
		}
	}
	return names, nil
}
