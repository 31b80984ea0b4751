package categorize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/banksync/internal/domain"
)

const (
	// DefaultBatchSize is the classifier batch size when the caller
	// does not specify one.
	DefaultBatchSize = 5
	// MaxBatchSize is the hard cap on one classifier call.
	MaxBatchSize = 40

	// pendingFetchLimit bounds how many pending expenses one run loads.
	pendingFetchLimit = 500

	// DefaultClassifyTimeout bounds one classifier call independently
	// of the caller's context.
	DefaultClassifyTimeout = 30 * time.Second
)

// Store is the persistence surface the categorization engine needs.
type Store interface {
	// ListPendingExpenses returns transactions with both category fields
	// null and a negative amount, oldest first.
	ListPendingExpenses(ctx context.Context, limit int) ([]*domain.Transaction, error)
	UpdateTransactionCategory(ctx context.Context, transactionID, predefinedCategoryID string) error
	ListCategories(ctx context.Context) ([]domain.Category, error)
	CategorizedPayeeCounts(ctx context.Context) ([]PayeeCount, error)
}

// RunStats reports one categorization pass.
type RunStats struct {
	Cached     int `json:"cached"`
	Classified int `json:"ai_classified"`
	Pending    int `json:"pending"`
}

// Service runs the two-tier categorization engine over pending
// expenses: learned cache first, batched classifier for the remainder.
// Income is never produced here; credits are pre-assigned during
// ingestion and the Income label is excluded from the classifier's
// allow-list.
type Service struct {
	store      Store
	classifier Classifier
	cache      *Cache
	timeout    time.Duration
	log        zerolog.Logger
}

// NewService creates a categorization service. timeout bounds a single
// classifier call; zero means DefaultClassifyTimeout.
func NewService(store Store, classifier Classifier, cache *Cache, timeout time.Duration, log zerolog.Logger) *Service {
	if timeout <= 0 {
		timeout = DefaultClassifyTimeout
	}
	return &Service{
		store:      store,
		classifier: classifier,
		cache:      cache,
		timeout:    timeout,
		log:        log,
	}
}

// RebuildCache repopulates the payee cache from the transaction store.
func (s *Service) RebuildCache(ctx context.Context) error {
	rows, err := s.store.CategorizedPayeeCounts(ctx)
	if err != nil {
		return fmt.Errorf("RebuildCache: %w", err)
	}
	s.cache.Rebuild(rows)
	s.log.Info().Int("payees", s.cache.Len()).Msg("Categorization cache rebuilt")
	return nil
}

// Run executes one categorization pass. batchSize is clamped to
// [1, MaxBatchSize]; zero or negative means DefaultBatchSize. A failed
// classifier call is reported and leaves the affected transactions
// pending for a future run; it never fails the pass.
func (s *Service) Run(ctx context.Context, batchSize int) (*RunStats, error) {
	batchSize = clampBatchSize(batchSize)

	fallback, allowed, err := s.loadVocabulary(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache.Len() == 0 {
		if err := s.RebuildCache(ctx); err != nil {
			return nil, fmt.Errorf("Run: %w", err)
		}
	}

	pending, err := s.store.ListPendingExpenses(ctx, pendingFetchLimit)
	if err != nil {
		return nil, fmt.Errorf("Run: loading pending expenses: %w", err)
	}

	stats := &RunStats{}
	var needsClassification []*domain.Transaction

	for _, tx := range pending {
		categoryID, ok := s.cache.Lookup(tx.Payee)
		if !ok {
			needsClassification = append(needsClassification, tx)
			continue
		}
		if err := s.store.UpdateTransactionCategory(ctx, tx.ID, categoryID); err != nil {
			s.log.Error().Err(err).Str("transaction_id", tx.ID).Msg("Failed to apply cached category")
			continue
		}
		stats.Cached++
	}

	batch := needsClassification
	if len(batch) > batchSize {
		batch = batch[:batchSize]
	}

	if len(batch) > 0 {
		stats.Classified = s.classifyBatch(ctx, batch, allowed, fallback)
	}

	stats.Pending = len(pending) - stats.Cached - stats.Classified
	s.log.Info().
		Int("cached", stats.Cached).
		Int("ai_classified", stats.Classified).
		Int("pending", stats.Pending).
		Msg("Categorization pass finished")
	return stats, nil
}

// loadVocabulary returns the fallback category and the classifier
// allow-list: every predefined category except Income.
func (s *Service) loadVocabulary(ctx context.Context) (*domain.Category, []domain.Category, error) {
	categories, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("Run: loading categories: %w", err)
	}

	var allowed []domain.Category
	for _, cat := range categories {
		if !cat.IsPredefined || strings.EqualFold(cat.Name, domain.CategoryIncome) {
			continue
		}
		allowed = append(allowed, cat)
	}
	if len(allowed) == 0 {
		return nil, nil, fmt.Errorf("Run: no non-income predefined categories available")
	}
	return &allowed[0], allowed, nil
}

// classifyBatch sends one batch to the classifier and applies the
// results. Returns the number of transactions categorized.
func (s *Service) classifyBatch(ctx context.Context, batch []*domain.Transaction, allowed []domain.Category, fallback *domain.Category) int {
	items := make([]BatchItem, len(batch))
	names := make([]string, len(allowed))
	for i, tx := range batch {
		items[i] = BatchItem{Payee: tx.Payee, AmountMinor: tx.AmountMinor, Date: tx.Date, Notes: tx.Notes}
	}
	for i, cat := range allowed {
		names[i] = cat.Name
	}

	classifyCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	results, err := s.classifier.Classify(classifyCtx, items, names)
	if err != nil {
		// The batch stays uncategorized and is retried on a future run.
		s.log.Error().Err(err).Int("batch", len(items)).Msg("Classifier batch call failed")
		return 0
	}

	classified := 0
	for i, name := range results {
		tx := batch[i]
		category, matched := s.resolveCategory(tx, name, allowed, fallback)

		if err := s.store.UpdateTransactionCategory(ctx, tx.ID, category.ID); err != nil {
			s.log.Error().Err(err).Str("transaction_id", tx.ID).Msg("Failed to persist classified category")
			continue
		}
		if matched {
			s.cache.Learn(tx.Payee, category.ID)
		}
		classified++
	}
	return classified
}

// resolveCategory maps a returned name onto the allow-list. An Income
// result (despite its exclusion) or an unknown name falls back to the
// first non-income predefined category. The second return value is
// false when the fallback was used.
func (s *Service) resolveCategory(tx *domain.Transaction, name string, allowed []domain.Category, fallback *domain.Category) (*domain.Category, bool) {
	if strings.EqualFold(strings.TrimSpace(name), domain.CategoryIncome) {
		s.log.Warn().
			Str("transaction_id", tx.ID).
			Str("payee", tx.Payee).
			Msg("Classifier returned excluded Income label, using fallback category")
		return fallback, false
	}

	for i := range allowed {
		if strings.EqualFold(strings.TrimSpace(name), allowed[i].Name) {
			return &allowed[i], true
		}
	}

	s.log.Warn().
		Str("transaction_id", tx.ID).
		Str("payee", tx.Payee).
		Str("returned", name).
		Msg("Classifier returned unknown category, using fallback category")
	return fallback, false
}

func clampBatchSize(batchSize int) int {
	if batchSize <= 0 {
		return DefaultBatchSize
	}
	if batchSize > MaxBatchSize {
		return MaxBatchSize
	}
	return batchSize
}
