package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	chatdomain "github.com/boddenberg/facturedirect-bot-go/internal/chat/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
)

// ConversationStore implements port.ConversationStore on the
// conversation_states table. Updates are conditional on the version column.
type ConversationStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewConversationStore(db *gorm.DB) *ConversationStore {
	return &ConversationStore{db: db, now: time.Now}
}

func (s *ConversationStore) Get(ctx context.Context, phone string) (*chatdomain.ConversationState, error) {
	var row conversationRow
	err := s.db.WithContext(ctx).
		Where("phone = ? AND expires_at > ?", phone, s.now()).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	st := &chatdomain.ConversationState{
		Phone: row.Phone, Step: row.Step, ExpiresAt: row.ExpiresAt, Version: row.Version,
		CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt,
	}
	if row.Data != "" {
		if err := json.Unmarshal([]byte(row.Data), &st.Data); err != nil {
			return nil, fmt.Errorf("decoding conversation data: %w", err)
		}
	}
	return st, nil
}

func (s *ConversationStore) Save(ctx context.Context, state *chatdomain.ConversationState) error {
	data, err := json.Marshal(state.Data)
	if err != nil {
		return fmt.Errorf("encoding conversation data: %w", err)
	}
	now := s.now()
	conflict := &domain.ErrVersionConflict{Resource: "conversation", ID: state.Phone}

	if state.Version == 0 {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			// an expired leftover must not block a fresh conversation
			if err := tx.Where("phone = ? AND expires_at <= ?", state.Phone, now).
				Delete(&conversationRow{}).Error; err != nil {
				return err
			}
			if state.CreatedAt.IsZero() {
				state.CreatedAt = now
			}
			row := conversationRow{
				Phone: state.Phone, Step: state.Step, Data: string(data), ExpiresAt: state.ExpiresAt,
				Version: 1, CreatedAt: state.CreatedAt, UpdatedAt: now,
			}
			return tx.Create(&row).Error
		})
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return conflict
		}
		if err != nil {
			return err
		}
		state.Version = 1
		state.UpdatedAt = now
		return nil
	}

	res := s.db.WithContext(ctx).Model(&conversationRow{}).
		Where("phone = ? AND version = ?", state.Phone, state.Version).
		Updates(map[string]any{
			"step":       state.Step,
			"data":       string(data),
			"expires_at": state.ExpiresAt,
			"version":    state.Version + 1,
			"updated_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return conflict
	}
	state.Version++
	state.UpdatedAt = now
	return nil
}

func (s *ConversationStore) Delete(ctx context.Context, phone string) error {
	return s.db.WithContext(ctx).Where("phone = ?", phone).Delete(&conversationRow{}).Error
}

func (s *ConversationStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&conversationRow{})
	return int(res.RowsAffected), res.Error
}
