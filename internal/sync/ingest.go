package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/banksync/internal/domain"
	"github.com/dvloznov/banksync/internal/provider/truelayer"
)

// TransactionStore is the persistence surface the ingestor needs.
type TransactionStore interface {
	FindTransactionByExternalID(ctx context.Context, accountID, externalID string) (*domain.Transaction, error)
	FindTransactionByNaturalKey(ctx context.Context, accountID string, amountMinor int64, payee string, date civil.Date) (*domain.Transaction, error)
	InsertTransaction(ctx context.Context, tx *domain.Transaction) error
	UpdateTransactionOnSync(ctx context.Context, transactionID, notes, externalID, userCategoryID, predefinedCategoryID string) error
}

// IngestStats counts the outcome of one ingestion pass.
type IngestStats struct {
	Inserted int
	Updated  int
	Skipped  int
}

// Total is the number of rows the pass touched (inserted + updated).
func (s IngestStats) Total() int {
	return s.Inserted + s.Updated
}

// Ingestor validates, sanitizes, converts and upserts raw provider
// transaction records.
//
// Categories are write-once from the ingestor's point of view: once a
// row carries a category (human- or AI-assigned), re-running a sync
// never changes it. Only the categorization subsystem may turn a null
// category into a non-null one.
type Ingestor struct {
	store            TransactionStore
	incomeCategoryID string
	log              zerolog.Logger
}

// NewIngestor creates an ingestor. incomeCategoryID is the predefined
// "Income" category pre-assigned to credit records.
func NewIngestor(store TransactionStore, incomeCategoryID string, log zerolog.Logger) *Ingestor {
	return &Ingestor{store: store, incomeCategoryID: incomeCategoryID, log: log}
}

// Ingest upserts the given records into the account. Malformed records
// are skipped and counted, never fatal; a store failure aborts the pass
// for this account only.
func (ing *Ingestor) Ingest(ctx context.Context, account *domain.Account, records []truelayer.Transaction) (IngestStats, error) {
	var stats IngestStats

	for _, rec := range records {
		tx, ok := ing.convert(account, rec)
		if !ok {
			stats.Skipped++
			continue
		}

		if err := ing.preassignCategory(ctx, tx, &rec); err != nil {
			return stats, fmt.Errorf("Ingest: account %s: %w", account.ID, err)
		}

		inserted, err := ing.upsert(ctx, tx)
		if err != nil {
			return stats, fmt.Errorf("Ingest: account %s: %w", account.ID, err)
		}
		if inserted {
			stats.Inserted++
		} else {
			stats.Updated++
		}
	}

	if stats.Skipped > 0 {
		ing.log.Warn().
			Str("account_id", account.ID).
			Int("skipped", stats.Skipped).
			Msg("Skipped malformed provider records")
	}

	return stats, nil
}

// convert validates and normalizes one raw record. It returns false for
// records that fail validation.
func (ing *Ingestor) convert(account *domain.Account, rec truelayer.Transaction) (*domain.Transaction, bool) {
	if rec.Amount == nil {
		return nil, false
	}
	payee := sanitizeText(rec.Description)
	if payee == "" {
		return nil, false
	}
	date, ok := parseRecordDate(rec.Timestamp)
	if !ok {
		return nil, false
	}

	return &domain.Transaction{
		AccountID:   account.ID,
		AmountMinor: minorUnits(*rec.Amount),
		Payee:       payee,
		Notes:       sanitizeText(rec.TransactionCategory),
		Date:        date,
		ExternalID:  rec.TransactionID,
	}, true
}

// preassignCategory fills the category fields before the upsert: a
// category already attached to the same external transaction is carried
// forward; credits get the predefined Income category; everything else
// stays null, marking the row for the categorization worker.
func (ing *Ingestor) preassignCategory(ctx context.Context, tx *domain.Transaction, rec *truelayer.Transaction) error {
	if tx.ExternalID != "" {
		existing, err := ing.store.FindTransactionByExternalID(ctx, tx.AccountID, tx.ExternalID)
		if err != nil {
			return fmt.Errorf("finding transaction by external id %s: %w", tx.ExternalID, err)
		}
		if existing != nil && existing.Categorized() {
			tx.UserCategoryID = existing.UserCategoryID
			tx.PredefinedCategoryID = existing.PredefinedCategoryID
			return nil
		}
	}
	if rec.IsCredit() {
		tx.PredefinedCategoryID = ing.incomeCategoryID
	}
	return nil
}

// upsert inserts the transaction or, when a row with the same natural
// key (account, amount, payee, date) exists, updates only its notes and
// external id. The existing row's category wins unless it is null.
// Returns true when a new row was inserted.
func (ing *Ingestor) upsert(ctx context.Context, tx *domain.Transaction) (bool, error) {
	existing, err := ing.store.FindTransactionByNaturalKey(ctx, tx.AccountID, tx.AmountMinor, tx.Payee, tx.Date)
	if err != nil {
		return false, fmt.Errorf("finding transaction by natural key: %w", err)
	}

	if existing == nil {
		tx.ID = uuid.NewString()
		tx.CreatedAt = time.Now()
		if err := ing.store.InsertTransaction(ctx, tx); err != nil {
			return false, fmt.Errorf("inserting transaction: %w", err)
		}
		return true, nil
	}

	userCat := tx.UserCategoryID
	predefCat := tx.PredefinedCategoryID
	if existing.Categorized() {
		userCat = existing.UserCategoryID
		predefCat = existing.PredefinedCategoryID
	}

	if err := ing.store.UpdateTransactionOnSync(ctx, existing.ID, tx.Notes, tx.ExternalID, userCat, predefCat); err != nil {
		return false, fmt.Errorf("updating transaction %s: %w", existing.ID, err)
	}
	return false, nil
}

// sanitizeText trims the value and strips angle brackets so free text
// can never smuggle markup into a rendered field.
func sanitizeText(s string) string {
	s = strings.ReplaceAll(s, "<", "")
	s = strings.ReplaceAll(s, ">", "")
	return strings.TrimSpace(s)
}

// parseRecordDate accepts the timestamp formats the provider emits and
// reduces them to a date.
func parseRecordDate(ts string) (civil.Date, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, ts); err == nil {
			return civil.DateOf(t), true
		}
	}
	return civil.Date{}, false
}

// minorUnits converts a provider decimal amount to signed integer minor
// units without binary float drift.
func minorUnits(amount float64) int64 {
	return decimal.NewFromFloat(amount).Shift(2).Round(0).IntPart()
}
