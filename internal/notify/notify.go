// Package notify delivers user notifications produced by contract transitions.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/diewo77/go-brokerage/internal/models"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Message is a typed notification for one user.
type Message struct {
	UserID            uint                    `json:"user_id"`
	Type              models.NotificationType `json:"type"`
	Title             string                  `json:"title"`
	Message           string                  `json:"message"`
	RelatedEntityType string                  `json:"related_entity_type,omitempty"`
	RelatedEntityID   uint                    `json:"related_entity_id,omitempty"`
	Extra             map[string]any          `json:"extra,omitempty"`
}

// Dispatcher delivers a message. Callers treat delivery as best-effort.
type Dispatcher interface {
	Dispatch(ctx context.Context, m Message) error
}

// Store persists notifications to the notifications table.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store { return &Store{db: db} }

func (s *Store) Dispatch(ctx context.Context, m Message) error {
	n := models.Notification{
		UserID:            m.UserID,
		Type:              m.Type,
		Title:             m.Title,
		Message:           m.Message,
		RelatedEntityType: m.RelatedEntityType,
		RelatedEntityID:   m.RelatedEntityID,
	}
	if len(m.Extra) > 0 {
		n.Extra = datatypes.JSONMap(m.Extra)
	}
	if err := s.db.WithContext(ctx).Create(&n).Error; err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	return nil
}

// Publisher is the subset of *redis.Client used by RedisPublisher.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher pushes messages to connected clients over Redis pub/sub.
type RedisPublisher struct {
	rdb Publisher
}

func NewRedisPublisher(rdb Publisher) *RedisPublisher { return &RedisPublisher{rdb: rdb} }

// Channel is the pub/sub channel for a user.
func Channel(userID uint) string {
	return "notifications:" + strconv.FormatUint(uint64(userID), 10)
}

func (p *RedisPublisher) Dispatch(ctx context.Context, m Message) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, Channel(m.UserID), payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Fanout sends each message to every dispatcher and joins their errors.
type Fanout []Dispatcher

func (f Fanout) Dispatch(ctx context.Context, m Message) error {
	var errs []error
	for _, d := range f {
		if err := d.Dispatch(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
