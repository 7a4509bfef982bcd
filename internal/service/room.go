package service

import (
	"chatrelay/internal/models"

	"gorm.io/gorm"
)

// RoomService 封装房间相关的业务逻辑，在线人数从中继核心取。
type RoomService struct {
	db     *gorm.DB
	online func(roomID uint) int
}

func NewRoomService(db *gorm.DB, online func(roomID uint) int) *RoomService {
	return &RoomService{db: db, online: online}
}

// RoomDTO 是对外输出的房间数据。
type RoomDTO struct {
	ID      uint   `json:"id"`
	Name    string `json:"name"`
	Private bool   `json:"private"`
	Online  int    `json:"online"`
}

// Create 创建新房间，新房间要等下一次冷重启才会进入中继注册表。
func (s *RoomService) Create(name string, ownerID uint, private bool, allowed []uint) (*RoomDTO, error) {
	room := models.Room{Name: name, OwnerID: ownerID, Private: private, AllowedUserIDs: allowed}
	if err := s.db.Create(&room).Error; err != nil {
		return nil, err
	}
	return &RoomDTO{ID: room.ID, Name: room.Name, Private: room.Private, Online: 0}, nil
}

// List 返回房间列表，附带各房间的在线人数。
func (s *RoomService) List(limit int) ([]RoomDTO, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	var rooms []models.Room
	if err := s.db.Order("id desc").Limit(limit).Find(&rooms).Error; err != nil {
		return nil, err
	}
	out := make([]RoomDTO, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, RoomDTO{ID: r.ID, Name: r.Name, Private: r.Private, Online: s.online(r.ID)})
	}
	return out, nil
}

// Exists 检查房间是否存在。
func (s *RoomService) Exists(roomID uint) (*models.Room, error) {
	var room models.Room
	if err := s.db.First(&room, roomID).Error; err != nil {
		return nil, ErrRoomNotFound
	}
	return &room, nil
}
