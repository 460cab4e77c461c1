package testing

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/amirphl/Kakehashi/models"
	"github.com/amirphl/Kakehashi/repository"
	"gorm.io/gorm"
)

// memTable is a mutex-guarded row store with auto-increment ids.
// Rows are kept in id order and handed out as copies.
type memTable[T any] struct {
	mu     sync.Mutex
	rows   []*T
	nextID uint
	idOf   func(*T) *uint
	// conflict reports whether two rows violate a unique index
	conflict func(existing, candidate *T) bool

	// SaveErr, when set, fails every Save and SaveBatch
	SaveErr error
}

func newMemTable[T any](idOf func(*T) *uint, conflict func(a, b *T) bool) *memTable[T] {
	return &memTable[T]{idOf: idOf, conflict: conflict}
}

func duplicateKey(table string) error {
	return fmt.Errorf("%s: %w", table, gorm.ErrDuplicatedKey)
}

func (t *memTable[T]) ByID(ctx context.Context, id uint) (*T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if row := t.find(id); row != nil {
		cp := *row
		return &cp, nil
	}
	return nil, nil
}

func (t *memTable[T]) find(id uint) *T {
	for _, row := range t.rows {
		if *t.idOf(row) == id {
			return row
		}
	}
	return nil
}

func (t *memTable[T]) Save(ctx context.Context, entity *T) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SaveErr != nil {
		return t.SaveErr
	}
	return t.insert(entity)
}

func (t *memTable[T]) SaveBatch(ctx context.Context, entities []*T) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SaveErr != nil {
		return t.SaveErr
	}
	for _, e := range entities {
		if err := t.insert(e); err != nil {
			return err
		}
	}
	return nil
}

func (t *memTable[T]) insert(entity *T) error {
	if t.conflict != nil {
		for _, row := range t.rows {
			if t.conflict(row, entity) {
				var zero T
				return duplicateKey(fmt.Sprintf("%T", zero))
			}
		}
	}
	t.nextID++
	*t.idOf(entity) = t.nextID
	cp := *entity
	t.rows = append(t.rows, &cp)
	return nil
}

// update applies fn to the stored row and reports whether it exists
func (t *memTable[T]) update(id uint, fn func(*T)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	row := t.find(id)
	if row == nil {
		return false
	}
	fn(row)
	return true
}

func (t *memTable[T]) list(match func(*T) bool, orderBy string, limit, offset int) []*T {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*T
	for _, row := range t.rows {
		if match(row) {
			cp := *row
			out = append(out, &cp)
		}
	}
	if strings.Contains(strings.ToUpper(orderBy), "DESC") {
		slices.Reverse(out)
	}
	if offset > 0 {
		if offset >= len(out) {
			return nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (t *memTable[T]) count(match func(*T) bool) int64 {
	return int64(len(t.list(match, "", 0, 0)))
}

// Len returns the number of stored rows
func (t *memTable[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rows)
}

func eqPtr[V comparable](want *V, got V) bool {
	return want == nil || *want == got
}

func inRange(t time.Time, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

// MemoryOfferRepository implements repository.OfferRepository in memory
type MemoryOfferRepository struct {
	*memTable[models.Offer]
}

func NewMemoryOfferRepository() *MemoryOfferRepository {
	return &MemoryOfferRepository{newMemTable(func(o *models.Offer) *uint { return &o.ID }, nil)}
}

func (r *MemoryOfferRepository) match(f models.OfferFilter) func(*models.Offer) bool {
	return func(o *models.Offer) bool {
		return eqPtr(f.ID, o.ID) && eqPtr(f.CompanyID, o.CompanyID) && eqPtr(f.Status, o.Status)
	}
}

func (r *MemoryOfferRepository) ByFilter(ctx context.Context, filter models.OfferFilter, orderBy string, limit, offset int) ([]*models.Offer, error) {
	return r.list(r.match(filter), orderBy, limit, offset), nil
}

func (r *MemoryOfferRepository) Count(ctx context.Context, filter models.OfferFilter) (int64, error) {
	return r.count(r.match(filter)), nil
}

func (r *MemoryOfferRepository) Exists(ctx context.Context, filter models.OfferFilter) (bool, error) {
	return r.count(r.match(filter)) > 0, nil
}

// SetProductURL changes an offer's destination in place
func (r *MemoryOfferRepository) SetProductURL(id uint, url string) {
	r.update(id, func(o *models.Offer) { o.ProductURL = url })
}

// Delete removes an offer, leaving its applications dangling
func (r *MemoryOfferRepository) Delete(id uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = slices.DeleteFunc(r.rows, func(o *models.Offer) bool { return o.ID == id })
}

// MemoryApplicationRepository implements repository.ApplicationRepository in memory
type MemoryApplicationRepository struct {
	*memTable[models.Application]
}

func NewMemoryApplicationRepository() *MemoryApplicationRepository {
	return &MemoryApplicationRepository{newMemTable(
		func(a *models.Application) *uint { return &a.ID },
		func(a, b *models.Application) bool {
			return a.TrackingCode != nil && b.TrackingCode != nil && *a.TrackingCode == *b.TrackingCode
		},
	)}
}

func (r *MemoryApplicationRepository) match(f models.ApplicationFilter) func(*models.Application) bool {
	return func(a *models.Application) bool {
		if !eqPtr(f.ID, a.ID) || !eqPtr(f.OfferID, a.OfferID) || !eqPtr(f.CreatorID, a.CreatorID) || !eqPtr(f.Status, a.Status) {
			return false
		}
		if f.AutoApproveDue != nil && (a.AutoApproveAt == nil || a.AutoApproveAt.After(*f.AutoApproveDue)) {
			return false
		}
		if f.CreatedAfter != nil && a.CreatedAt.Before(*f.CreatedAfter) {
			return false
		}
		if f.CreatedBefore != nil && a.CreatedAt.After(*f.CreatedBefore) {
			return false
		}
		return true
	}
}

func (r *MemoryApplicationRepository) ByTrackingCode(ctx context.Context, code string) (*models.Application, error) {
	rows := r.list(func(a *models.Application) bool {
		return a.TrackingCode != nil && *a.TrackingCode == code
	}, "", 1, 0)
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *MemoryApplicationRepository) ListDueForAutoApproval(ctx context.Context, now time.Time, limit int) ([]*models.Application, error) {
	pending := models.ApplicationStatusPending
	return r.ByFilter(ctx, models.ApplicationFilter{Status: &pending, AutoApproveDue: &now}, "", limit, 0)
}

func (r *MemoryApplicationRepository) Approve(ctx context.Context, id uint, code, link string, approvedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SaveErr != nil {
		return false, r.SaveErr
	}
	row := r.find(id)
	if row == nil || row.Status != models.ApplicationStatusPending {
		return false, nil
	}
	for _, other := range r.rows {
		if other.TrackingCode != nil && *other.TrackingCode == code {
			return false, duplicateKey("applications")
		}
	}
	row.Status = models.ApplicationStatusApproved
	row.TrackingCode = &code
	row.TrackingLink = &link
	row.ApprovedAt = &approvedAt
	row.UpdatedAt = approvedAt
	return true, nil
}

func (r *MemoryApplicationRepository) ByFilter(ctx context.Context, filter models.ApplicationFilter, orderBy string, limit, offset int) ([]*models.Application, error) {
	return r.list(r.match(filter), orderBy, limit, offset), nil
}

func (r *MemoryApplicationRepository) Count(ctx context.Context, filter models.ApplicationFilter) (int64, error) {
	return r.count(r.match(filter)), nil
}

func (r *MemoryApplicationRepository) Exists(ctx context.Context, filter models.ApplicationFilter) (bool, error) {
	return r.count(r.match(filter)) > 0, nil
}

// MemoryClickEventRepository implements repository.ClickEventRepository in memory
type MemoryClickEventRepository struct {
	*memTable[models.ClickEvent]
}

func NewMemoryClickEventRepository() *MemoryClickEventRepository {
	return &MemoryClickEventRepository{newMemTable(func(e *models.ClickEvent) *uint { return &e.ID }, nil)}
}

func (r *MemoryClickEventRepository) match(f models.ClickEventFilter) func(*models.ClickEvent) bool {
	return func(e *models.ClickEvent) bool {
		if !eqPtr(f.ApplicationID, e.ApplicationID) || !eqPtr(f.OfferID, e.OfferID) || !eqPtr(f.CreatorID, e.CreatorID) {
			return false
		}
		if f.ClickedAfter != nil && e.ClickedAt.Before(*f.ClickedAfter) {
			return false
		}
		if f.ClickedBefore != nil && !e.ClickedAt.Before(*f.ClickedBefore) {
			return false
		}
		return true
	}
}

func (r *MemoryClickEventRepository) inWindow(applicationID uint, from, to time.Time) func(*models.ClickEvent) bool {
	return func(e *models.ClickEvent) bool {
		return e.ApplicationID == applicationID && inRange(e.ClickedAt, from, to)
	}
}

func (r *MemoryClickEventRepository) CountInRange(ctx context.Context, applicationID uint, from, to time.Time) (int64, error) {
	return r.count(r.inWindow(applicationID, from, to)), nil
}

func (r *MemoryClickEventRepository) CountDistinctIPs(ctx context.Context, applicationID uint, from, to time.Time) (int64, error) {
	seen := make(map[string]struct{})
	for _, e := range r.list(r.inWindow(applicationID, from, to), "", 0, 0) {
		seen[e.IPAddress] = struct{}{}
	}
	return int64(len(seen)), nil
}

func (r *MemoryClickEventRepository) ListApplicationIDsInRange(ctx context.Context, from, to time.Time) ([]uint, error) {
	var ids []uint
	for _, e := range r.list(func(e *models.ClickEvent) bool { return inRange(e.ClickedAt, from, to) }, "", 0, 0) {
		if !slices.Contains(ids, e.ApplicationID) {
			ids = append(ids, e.ApplicationID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (r *MemoryClickEventRepository) ByFilter(ctx context.Context, filter models.ClickEventFilter, orderBy string, limit, offset int) ([]*models.ClickEvent, error) {
	return r.list(r.match(filter), orderBy, limit, offset), nil
}

func (r *MemoryClickEventRepository) Count(ctx context.Context, filter models.ClickEventFilter) (int64, error) {
	return r.count(r.match(filter)), nil
}

func (r *MemoryClickEventRepository) Exists(ctx context.Context, filter models.ClickEventFilter) (bool, error) {
	return r.count(r.match(filter)) > 0, nil
}

// MemoryAnalyticsRepository implements repository.AnalyticsRepository in memory
type MemoryAnalyticsRepository struct {
	*memTable[models.Analytics]
}

func NewMemoryAnalyticsRepository() *MemoryAnalyticsRepository {
	return &MemoryAnalyticsRepository{newMemTable(
		func(a *models.Analytics) *uint { return &a.ID },
		func(a, b *models.Analytics) bool {
			return a.ApplicationID == b.ApplicationID && a.Date.Equal(b.Date)
		},
	)}
}

func (r *MemoryAnalyticsRepository) match(f models.AnalyticsFilter) func(*models.Analytics) bool {
	return func(a *models.Analytics) bool {
		if !eqPtr(f.ApplicationID, a.ApplicationID) || !eqPtr(f.CreatorID, a.CreatorID) || !eqPtr(f.OfferID, a.OfferID) {
			return false
		}
		if f.DateFrom != nil && a.Date.Before(*f.DateFrom) {
			return false
		}
		if f.DateTo != nil && a.Date.After(*f.DateTo) {
			return false
		}
		return true
	}
}

func (r *MemoryAnalyticsRepository) ByApplicationAndDate(ctx context.Context, applicationID uint, date time.Time) (*models.Analytics, error) {
	rows := r.list(func(a *models.Analytics) bool {
		return a.ApplicationID == applicationID && a.Date.Equal(date)
	}, "", 1, 0)
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *MemoryAnalyticsRepository) UpdateClickCounters(ctx context.Context, id uint, clicks, uniqueClicks int64) error {
	if !r.update(id, func(a *models.Analytics) {
		a.Clicks = clicks
		a.UniqueClicks = uniqueClicks
	}) {
		return fmt.Errorf("analytics row %d not found", id)
	}
	return nil
}

func (r *MemoryAnalyticsRepository) ListByApplication(ctx context.Context, applicationID uint, from, to time.Time) ([]*models.Analytics, error) {
	rows := r.list(r.match(models.AnalyticsFilter{ApplicationID: &applicationID, DateFrom: &from, DateTo: &to}), "", 0, 0)
	slices.SortFunc(rows, func(a, b *models.Analytics) int { return a.Date.Compare(b.Date) })
	return rows, nil
}

func (r *MemoryAnalyticsRepository) ByFilter(ctx context.Context, filter models.AnalyticsFilter, orderBy string, limit, offset int) ([]*models.Analytics, error) {
	return r.list(r.match(filter), orderBy, limit, offset), nil
}

func (r *MemoryAnalyticsRepository) Count(ctx context.Context, filter models.AnalyticsFilter) (int64, error) {
	return r.count(r.match(filter)), nil
}

func (r *MemoryAnalyticsRepository) Exists(ctx context.Context, filter models.AnalyticsFilter) (bool, error) {
	return r.count(r.match(filter)) > 0, nil
}

// MemoryConversationRepository implements repository.ConversationRepository in memory
type MemoryConversationRepository struct {
	*memTable[models.Conversation]
}

func NewMemoryConversationRepository() *MemoryConversationRepository {
	return &MemoryConversationRepository{newMemTable(
		func(c *models.Conversation) *uint { return &c.ID },
		func(a, b *models.Conversation) bool { return a.ApplicationID == b.ApplicationID },
	)}
}

func (r *MemoryConversationRepository) match(f models.ConversationFilter) func(*models.Conversation) bool {
	return func(c *models.Conversation) bool {
		return eqPtr(f.ID, c.ID) && eqPtr(f.ApplicationID, c.ApplicationID) &&
			eqPtr(f.CreatorID, c.CreatorID) && eqPtr(f.CompanyID, c.CompanyID)
	}
}

func (r *MemoryConversationRepository) ByApplicationID(ctx context.Context, applicationID uint) (*models.Conversation, error) {
	rows := r.list(r.match(models.ConversationFilter{ApplicationID: &applicationID}), "", 1, 0)
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *MemoryConversationRepository) TouchLastMessage(ctx context.Context, id uint, recipientIsCreator bool, at time.Time) error {
	if !r.update(id, func(c *models.Conversation) {
		c.LastMessageAt = &at
		if recipientIsCreator {
			c.CreatorUnreadCount++
		} else {
			c.CompanyUnreadCount++
		}
	}) {
		return fmt.Errorf("conversation %d not found", id)
	}
	return nil
}

func (r *MemoryConversationRepository) ResetUnread(ctx context.Context, id uint, readerIsCreator bool) error {
	if !r.update(id, func(c *models.Conversation) {
		if readerIsCreator {
			c.CreatorUnreadCount = 0
		} else {
			c.CompanyUnreadCount = 0
		}
	}) {
		return fmt.Errorf("conversation %d not found", id)
	}
	return nil
}

func (r *MemoryConversationRepository) ByFilter(ctx context.Context, filter models.ConversationFilter, orderBy string, limit, offset int) ([]*models.Conversation, error) {
	return r.list(r.match(filter), orderBy, limit, offset), nil
}

func (r *MemoryConversationRepository) Count(ctx context.Context, filter models.ConversationFilter) (int64, error) {
	return r.count(r.match(filter)), nil
}

func (r *MemoryConversationRepository) Exists(ctx context.Context, filter models.ConversationFilter) (bool, error) {
	return r.count(r.match(filter)) > 0, nil
}

// MemoryMessageRepository implements repository.MessageRepository in memory
type MemoryMessageRepository struct {
	*memTable[models.Message]
}

func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{newMemTable(func(m *models.Message) *uint { return &m.ID }, nil)}
}

func (r *MemoryMessageRepository) match(f models.MessageFilter) func(*models.Message) bool {
	return func(m *models.Message) bool {
		if !eqPtr(f.ConversationID, m.ConversationID) || !eqPtr(f.SenderID, m.SenderID) || !eqPtr(f.IsRead, m.IsRead) {
			return false
		}
		return f.BeforeID == nil || m.ID < *f.BeforeID
	}
}

func (r *MemoryMessageRepository) ListByConversation(ctx context.Context, conversationID uint, beforeID uint, limit int) ([]*models.Message, error) {
	filter := models.MessageFilter{ConversationID: &conversationID}
	if beforeID > 0 {
		filter.BeforeID = &beforeID
	}
	rows := r.list(r.match(filter), "id DESC", limit, 0)
	slices.Reverse(rows)
	return rows, nil
}

func (r *MemoryMessageRepository) MarkRead(ctx context.Context, conversationID, readerID uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, m := range r.rows {
		if m.ConversationID == conversationID && m.SenderID != readerID && !m.IsRead {
			m.IsRead = true
			n++
		}
	}
	return n, nil
}

func (r *MemoryMessageRepository) ByFilter(ctx context.Context, filter models.MessageFilter, orderBy string, limit, offset int) ([]*models.Message, error) {
	return r.list(r.match(filter), orderBy, limit, offset), nil
}

func (r *MemoryMessageRepository) Count(ctx context.Context, filter models.MessageFilter) (int64, error) {
	return r.count(r.match(filter)), nil
}

func (r *MemoryMessageRepository) Exists(ctx context.Context, filter models.MessageFilter) (bool, error) {
	return r.count(r.match(filter)) > 0, nil
}

var (
	_ repository.OfferRepository        = (*MemoryOfferRepository)(nil)
	_ repository.ApplicationRepository  = (*MemoryApplicationRepository)(nil)
	_ repository.ClickEventRepository   = (*MemoryClickEventRepository)(nil)
	_ repository.AnalyticsRepository    = (*MemoryAnalyticsRepository)(nil)
	_ repository.ConversationRepository = (*MemoryConversationRepository)(nil)
	_ repository.MessageRepository      = (*MemoryMessageRepository)(nil)
)
