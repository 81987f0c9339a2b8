package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	chatdomain "github.com/boddenberg/facturedirect-bot-go/internal/chat/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
)

// DraftStore implements port.DraftStore. The single-active invariant is
// checked under the same lock as the write.
type DraftStore struct {
	mu     sync.RWMutex
	drafts map[string]*chatdomain.Draft
	now    func() time.Time
}

// NewDraftStore creates an empty store.
func NewDraftStore() *DraftStore {
	return &DraftStore{
		drafts: make(map[string]*chatdomain.Draft),
		now:    time.Now,
	}
}

func (s *DraftStore) GetActive(_ context.Context, ownerID string, docType chatdomain.DocType) (*chatdomain.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.drafts {
		if d.OwnerID == ownerID && d.DocType == docType && d.Status == chatdomain.DraftActive {
			return cloneDraft(d)
		}
	}
	return nil, nil
}

// ListPaused returns paused drafts, most recently updated first.
func (s *DraftStore) ListPaused(_ context.Context, ownerID string, docType chatdomain.DocType) ([]chatdomain.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []chatdomain.Draft
	for _, d := range s.drafts {
		if d.OwnerID == ownerID && d.DocType == docType && d.Status == chatdomain.DraftPaused {
			cp, err := cloneDraft(d)
			if err != nil {
				return nil, err
			}
			out = append(out, *cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *DraftStore) Get(_ context.Context, id string) (*chatdomain.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.drafts[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "draft", ID: id}
	}
	return cloneDraft(d)
}

func (s *DraftStore) Create(_ context.Context, draft *chatdomain.Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if draft.Status == "" {
		draft.Status = chatdomain.DraftActive
	}
	if draft.Status == chatdomain.DraftActive && s.hasActiveLocked(draft.OwnerID, draft.DocType, "") {
		return &domain.ErrConflict{Message: "an active " + string(draft.DocType) + " draft already exists"}
	}

	now := s.now()
	draft.ID = uuid.New().String()
	draft.Version = 1
	draft.CreatedAt = now
	draft.UpdatedAt = now

	cp, err := cloneDraft(draft)
	if err != nil {
		return err
	}
	s.drafts[draft.ID] = cp
	return nil
}

func (s *DraftStore) Update(_ context.Context, draft *chatdomain.Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.drafts[draft.ID]
	if !ok {
		return &domain.ErrNotFound{Resource: "draft", ID: draft.ID}
	}
	if stored.Version != draft.Version {
		return &domain.ErrVersionConflict{Resource: "draft", ID: draft.ID}
	}
	if draft.Status == chatdomain.DraftActive && s.hasActiveLocked(draft.OwnerID, draft.DocType, draft.ID) {
		return &domain.ErrConflict{Message: "an active " + string(draft.DocType) + " draft already exists"}
	}

	draft.Version++
	draft.UpdatedAt = s.now()
	cp, err := cloneDraft(draft)
	if err != nil {
		draft.Version--
		return err
	}
	s.drafts[draft.ID] = cp
	return nil
}

func (s *DraftStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, id)
	return nil
}

// CountActive is used by tests to observe the single-active invariant.
func (s *DraftStore) CountActive(ownerID string, docType chatdomain.DocType) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, d := range s.drafts {
		if d.OwnerID == ownerID && d.DocType == docType && d.Status == chatdomain.DraftActive {
			n++
		}
	}
	return n
}

func (s *DraftStore) hasActiveLocked(ownerID string, docType chatdomain.DocType, exceptID string) bool {
	for id, d := range s.drafts {
		if id != exceptID && d.OwnerID == ownerID && d.DocType == docType && d.Status == chatdomain.DraftActive {
			return true
		}
	}
	return false
}

// Corrupt replaces the stored state with an undecodable step, the way a
// record written by an older release would load.
func (s *DraftStore) Corrupt(id string, step chatdomain.Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.drafts[id]; ok {
		d.State = chatdomain.DecodeState(step, []byte(`{}`))
	}
}

func cloneDraft(d *chatdomain.Draft) (*chatdomain.Draft, error) {
	if _, unknown := d.State.(chatdomain.UnknownStep); unknown {
		cp := *d
		return &cp, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var out chatdomain.Draft
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
