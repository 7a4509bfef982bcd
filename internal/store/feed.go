package store

import (
	"context"
	"time"

	"chatrelay/internal/models"
	"chatrelay/internal/relay"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// PollFeed 周期性轮询消息表产生插入事件，是变更通知流的数据库实现。
// 查询失败时关闭通道，由 Supervisor 重新订阅（从"现在"继续，允许
// 短暂的扇出空窗）。
type PollFeed struct {
	db     *gorm.DB
	period time.Duration
}

func NewPollFeed(db *gorm.DB, period time.Duration) *PollFeed {
	return &PollFeed{db: db, period: period}
}

func (f *PollFeed) Subscribe(ctx context.Context) (<-chan relay.InsertEvent, error) {
	var cursor uint
	err := f.db.WithContext(ctx).Model(&models.Message{}).
		Select("COALESCE(MAX(id), 0)").Scan(&cursor).Error
	if err != nil {
		return nil, err
	}
	ch := make(chan relay.InsertEvent, 64)
	go f.poll(ctx, cursor, ch)
	return ch, nil
}

func (f *PollFeed) poll(ctx context.Context, cursor uint, ch chan<- relay.InsertEvent) {
	defer close(ch)
	ticker := time.NewTicker(f.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		var msgs []models.Message
		err := f.db.WithContext(ctx).
			Where("id > ?", cursor).Order("id asc").Find(&msgs).Error
		if err != nil {
			log.Warn().Err(err).Msg("feed poll failed")
			return
		}
		for _, m := range msgs {
			cursor = m.ID
			select {
			case ch <- relay.InsertEvent{UserID: m.UserID, RoomID: m.RoomID, Msg: m.Content, Ts: m.Ts}:
			case <-ctx.Done():
				return
			}
		}
	}
}
