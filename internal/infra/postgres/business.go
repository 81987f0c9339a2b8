package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
)

// numberingAttempts bounds retries when two writers race for the same number.
const numberingAttempts = 3

// BusinessStore implements port.BusinessStore.
type BusinessStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewBusinessStore wraps an opened connection.
func NewBusinessStore(db *gorm.DB) *BusinessStore {
	return &BusinessStore{db: db, now: time.Now}
}

// --- Accounts ---

func (s *BusinessStore) GetUserByPhone(ctx context.Context, phone string) (*domain.User, error) {
	var row userRow
	if err := s.db.WithContext(ctx).Where("phone = ?", phone).First(&row).Error; err != nil {
		return nil, notFound(err, "user", phone)
	}
	return row.toDomain(), nil
}

func (s *BusinessStore) GetCompany(ctx context.Context, companyID string) (*domain.Company, error) {
	var row companyRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", companyID).Error; err != nil {
		return nil, notFound(err, "company", companyID)
	}
	return row.toDomain(), nil
}

func (s *BusinessStore) CreateUserWithCompany(ctx context.Context, user *domain.User, company *domain.Company) error {
	now := s.now()
	company.ID = uuid.New().String()
	company.CreatedAt = now
	user.ID = uuid.New().String()
	user.CompanyID = company.ID
	user.CreatedAt = now

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c := companyFromDomain(company)
		if err := tx.Create(&c).Error; err != nil {
			return err
		}
		u := userRow{
			ID: user.ID, Phone: user.Phone, Name: user.Name, Role: user.Role,
			CompanyID: user.CompanyID, SecretPhraseHash: user.SecretPhraseHash, CreatedAt: user.CreatedAt,
		}
		return tx.Create(&u).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return &domain.ErrConflict{Message: "user already exists"}
	}
	return err
}

func (s *BusinessStore) UpdateCompany(ctx context.Context, company *domain.Company) error {
	row := companyFromDomain(company)
	res := s.db.WithContext(ctx).Model(&companyRow{}).Where("id = ?", company.ID).
		Select("*").Omit("id", "created_at").Updates(&row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &domain.ErrNotFound{Resource: "company", ID: company.ID}
	}
	return nil
}

func (s *BusinessStore) UpdateUser(ctx context.Context, user *domain.User) error {
	res := s.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", user.ID).
		Updates(map[string]any{
			"name":               user.Name,
			"role":               user.Role,
			"company_id":         user.CompanyID,
			"secret_phrase_hash": user.SecretPhraseHash,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &domain.ErrNotFound{Resource: "user", ID: user.ID}
	}
	return nil
}

// --- Clients ---

func (s *BusinessStore) ListClients(ctx context.Context, companyID string, limit int) ([]domain.Client, error) {
	var rows []clientRow
	q := s.db.WithContext(ctx).Where("company_id = ?", companyID).Order("lower(name)")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return clientsToDomain(rows), nil
}

func (s *BusinessStore) SearchClients(ctx context.Context, companyID, query string, limit int) ([]domain.Client, error) {
	var rows []clientRow
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	q := s.db.WithContext(ctx).
		Where("company_id = ? AND name ILIKE ?", companyID, pattern).
		Order("lower(name)")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return clientsToDomain(rows), nil
}

func (s *BusinessStore) GetClient(ctx context.Context, clientID string) (*domain.Client, error) {
	var row clientRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", clientID).Error; err != nil {
		return nil, notFound(err, "client", clientID)
	}
	c := row.toDomain()
	return &c, nil
}

func (s *BusinessStore) CreateClient(ctx context.Context, client *domain.Client) error {
	client.ID = uuid.New().String()
	client.CreatedAt = s.now()
	row := clientRow{
		ID: client.ID, CompanyID: client.CompanyID, Name: client.Name, Address: client.Address,
		SIREN: client.SIREN, VATNumber: client.VATNumber, CreatedAt: client.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// --- Quotes ---

func (s *BusinessStore) CreateQuote(ctx context.Context, quote *domain.Quote) error {
	quote.ID = uuid.New().String()
	quote.CreatedAt = s.now()
	return s.withNumber(ctx, domain.QuotePrefix, quote.CompanyID, &quoteRow{}, func(tx *gorm.DB, number string) error {
		quote.Number = number
		row := quoteFromDomain(quote)
		return tx.Create(&row).Error
	})
}

func (s *BusinessStore) GetQuote(ctx context.Context, quoteID string) (*domain.Quote, error) {
	var row quoteRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", quoteID).Error; err != nil {
		return nil, notFound(err, "quote", quoteID)
	}
	q := row.toDomain()
	return &q, nil
}

func (s *BusinessStore) GetQuoteByNumber(ctx context.Context, companyID, number string) (*domain.Quote, error) {
	var row quoteRow
	err := s.db.WithContext(ctx).
		Where("company_id = ? AND upper(number) = ?", companyID, strings.ToUpper(number)).
		First(&row).Error
	if err != nil {
		return nil, notFound(err, "quote", number)
	}
	q := row.toDomain()
	return &q, nil
}

func (s *BusinessStore) ListQuotes(ctx context.Context, companyID string, limit int) ([]domain.Quote, error) {
	return s.listQuotes(ctx, s.db.Where("company_id = ?", companyID), limit)
}

func (s *BusinessStore) ListConvertibleQuotes(ctx context.Context, companyID string, limit int) ([]domain.Quote, error) {
	q := s.db.Where("company_id = ? AND status IN ? AND (invoice_id IS NULL OR invoice_id = '')", companyID,
		[]string{domain.QuoteStatusDraft, domain.QuoteStatusSent, domain.QuoteStatusAccepted})
	return s.listQuotes(ctx, q, limit)
}

func (s *BusinessStore) listQuotes(ctx context.Context, q *gorm.DB, limit int) ([]domain.Quote, error) {
	var rows []quoteRow
	q = q.WithContext(ctx).Order("number DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Quote, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *BusinessStore) MarkQuoteInvoiced(ctx context.Context, quoteID, invoiceID string) error {
	res := s.db.WithContext(ctx).Model(&quoteRow{}).Where("id = ?", quoteID).
		Updates(map[string]any{"status": domain.QuoteStatusAccepted, "invoice_id": invoiceID})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &domain.ErrNotFound{Resource: "quote", ID: quoteID}
	}
	return nil
}

// --- Invoices ---

func (s *BusinessStore) CreateInvoice(ctx context.Context, invoice *domain.Invoice) error {
	invoice.ID = uuid.New().String()
	invoice.CreatedAt = s.now()
	return s.withNumber(ctx, domain.InvoicePrefix, invoice.CompanyID, &invoiceRow{}, func(tx *gorm.DB, number string) error {
		invoice.Number = number
		row := invoiceFromDomain(invoice)
		return tx.Create(&row).Error
	})
}

func (s *BusinessStore) GetInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	var row invoiceRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", invoiceID).Error; err != nil {
		return nil, notFound(err, "invoice", invoiceID)
	}
	inv := row.toDomain()
	return &inv, nil
}

func (s *BusinessStore) GetInvoiceByNumber(ctx context.Context, companyID, number string) (*domain.Invoice, error) {
	var row invoiceRow
	err := s.db.WithContext(ctx).
		Where("company_id = ? AND upper(number) = ?", companyID, strings.ToUpper(number)).
		First(&row).Error
	if err != nil {
		return nil, notFound(err, "invoice", number)
	}
	inv := row.toDomain()
	return &inv, nil
}

func (s *BusinessStore) ListInvoices(ctx context.Context, companyID string, limit int) ([]domain.Invoice, error) {
	var rows []invoiceRow
	q := s.db.WithContext(ctx).Where("company_id = ?", companyID).Order("number DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Invoice, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *BusinessStore) LatestDraftInvoice(ctx context.Context, companyID string) (*domain.Invoice, error) {
	var row invoiceRow
	err := s.db.WithContext(ctx).
		Where("company_id = ? AND status = ?", companyID, domain.InvoiceStatusDraft).
		Order("created_at DESC").Order("number DESC").
		First(&row).Error
	if err != nil {
		return nil, notFound(err, "draft invoice", companyID)
	}
	inv := row.toDomain()
	return &inv, nil
}

// ValidateInvoice only touches rows still in BROUILLON, so a validated
// invoice is never written again.
func (s *BusinessStore) ValidateInvoice(ctx context.Context, invoiceID, userID string, at time.Time) (*domain.Invoice, error) {
	var out *domain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row invoiceRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "id = ?", invoiceID).Error; err != nil {
			return notFound(err, "invoice", invoiceID)
		}
		if row.Status == domain.InvoiceStatusValidated {
			return &domain.ErrConflict{Message: "invoice " + row.Number + " is already validated"}
		}
		res := tx.Model(&invoiceRow{}).
			Where("id = ? AND status = ?", invoiceID, domain.InvoiceStatusDraft).
			Updates(map[string]any{
				"status":          domain.InvoiceStatusValidated,
				"issued_at":       at,
				"validated_at":    at,
				"validated_by_id": userID,
			})
		if res.Error != nil {
			return res.Error
		}
		row.Status = domain.InvoiceStatusValidated
		row.IssuedAt, row.ValidatedAt, row.ValidatedByID = &at, &at, userID
		inv := row.toDomain()
		out = &inv
		return nil
	})
	return out, err
}

// DeleteDraftInvoice removes a BROUILLON invoice and, in the same
// transaction, frees the quote it was converted from.
func (s *BusinessStore) DeleteDraftInvoice(ctx context.Context, invoiceID string) error {
	var deleted bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row invoiceRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND status = ?", invoiceID, domain.InvoiceStatusDraft).
			Limit(1).Find(&row).Error; err != nil {
			return err
		}
		if row.ID == "" {
			return nil
		}
		if err := tx.Delete(&invoiceRow{}, "id = ?", invoiceID).Error; err != nil {
			return err
		}
		deleted = true
		if row.QuoteID == "" {
			return nil
		}
		return tx.Model(&quoteRow{}).
			Where("id = ? AND invoice_id = ?", row.QuoteID, invoiceID).
			Update("invoice_id", "").Error
	})
	if err != nil {
		return err
	}
	if !deleted {
		if _, err := s.GetInvoice(ctx, invoiceID); err != nil {
			return err
		}
		return &domain.ErrConflict{Message: "invoice is validated and cannot be deleted"}
	}
	return nil
}

// withNumber allocates the next PREFIX-YYYY-NNNN inside a transaction and
// retries when the unique (company_id, number) index reports a collision.
func (s *BusinessStore) withNumber(ctx context.Context, prefix, companyID string, model any, insert func(tx *gorm.DB, number string) error) error {
	year := s.now().Year()
	scope := domain.NumberPrefix(prefix, year)

	var err error
	for attempt := 0; attempt < numberingAttempts; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var numbers []string
			if err := tx.Model(model).
				Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("company_id = ? AND number LIKE ?", companyID, scope+"%").
				Order("number DESC").Limit(1).
				Pluck("number", &numbers).Error; err != nil {
				return err
			}
			last := ""
			if len(numbers) > 0 {
				last = numbers[0]
			}
			return insert(tx, domain.NextNumber(prefix, year, last))
		})
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("allocating %s number: %w", prefix, err)
	}
	return nil
}

func clientsToDomain(rows []clientRow) []domain.Client {
	out := make([]domain.Client, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
