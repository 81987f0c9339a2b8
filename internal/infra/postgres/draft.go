package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	chatdomain "github.com/boddenberg/facturedirect-bot-go/internal/chat/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
)

// DraftStore implements port.DraftStore. The partial unique index
// idx_drafts_one_active rejects a second active draft.
type DraftStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewDraftStore(db *gorm.DB) *DraftStore {
	return &DraftStore{db: db, now: time.Now}
}

func (s *DraftStore) GetActive(ctx context.Context, ownerID string, docType chatdomain.DocType) (*chatdomain.Draft, error) {
	var row draftRow
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND doc_type = ? AND status = ?", ownerID, string(docType), string(chatdomain.DraftActive)).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *DraftStore) ListPaused(ctx context.Context, ownerID string, docType chatdomain.DocType) ([]chatdomain.Draft, error) {
	var rows []draftRow
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND doc_type = ? AND status = ?", ownerID, string(docType), string(chatdomain.DraftPaused)).
		Order("updated_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]chatdomain.Draft, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.toDomain())
	}
	return out, nil
}

func (s *DraftStore) Get(ctx context.Context, id string) (*chatdomain.Draft, error) {
	var row draftRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "draft", id)
	}
	return row.toDomain(), nil
}

func (s *DraftStore) Create(ctx context.Context, draft *chatdomain.Draft) error {
	if draft.Status == "" {
		draft.Status = chatdomain.DraftActive
	}
	now := s.now()
	draft.ID = uuid.New().String()
	draft.Version = 1
	draft.CreatedAt = now
	draft.UpdatedAt = now

	row, err := draftFromDomain(draft)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return &domain.ErrConflict{Message: "an active " + string(draft.DocType) + " draft already exists"}
		}
		return err
	}
	return nil
}

func (s *DraftStore) Update(ctx context.Context, draft *chatdomain.Draft) error {
	row, err := draftFromDomain(draft)
	if err != nil {
		return err
	}
	now := s.now()
	res := s.db.WithContext(ctx).Model(&draftRow{}).
		Where("id = ? AND version = ?", draft.ID, draft.Version).
		Updates(map[string]any{
			"status":     row.Status,
			"title":      row.Title,
			"step":       row.Step,
			"data":       row.Data,
			"version":    draft.Version + 1,
			"updated_at": now,
		})
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return &domain.ErrConflict{Message: "an active " + string(draft.DocType) + " draft already exists"}
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(ctx, draft.ID); err != nil {
			return err
		}
		return &domain.ErrVersionConflict{Resource: "draft", ID: draft.ID}
	}
	draft.Version++
	draft.UpdatedAt = now
	return nil
}

func (s *DraftStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&draftRow{}).Error
}

func draftFromDomain(d *chatdomain.Draft) (draftRow, error) {
	step, data, err := chatdomain.EncodeState(d.State)
	if err != nil {
		return draftRow{}, err
	}
	return draftRow{
		ID: d.ID, OwnerID: d.OwnerID, CompanyID: d.CompanyID, DocType: string(d.DocType),
		Status: string(d.Status), Title: d.Title, Step: string(step), Data: string(data),
		Version: d.Version, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}, nil
}

func (r draftRow) toDomain() *chatdomain.Draft {
	return &chatdomain.Draft{
		ID: r.ID, OwnerID: r.OwnerID, CompanyID: r.CompanyID, DocType: chatdomain.DocType(r.DocType),
		Status: chatdomain.DraftStatus(r.Status), Title: r.Title,
		State:   chatdomain.DecodeState(chatdomain.Step(r.Step), []byte(r.Data)),
		Version: r.Version, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}
