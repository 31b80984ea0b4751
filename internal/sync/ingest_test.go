package sync

import (
	"context"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/dvloznov/banksync/internal/domain"
	"github.com/dvloznov/banksync/internal/provider/truelayer"
)

type txKey struct {
	accountID   string
	amountMinor int64
	payee       string
	date        civil.Date
}

type fakeTxStore struct {
	byNaturalKey map[txKey]*domain.Transaction
	byExternalID map[string]*domain.Transaction
	inserted     []*domain.Transaction
	updated      []string
}

func newFakeTxStore() *fakeTxStore {
	return &fakeTxStore{
		byNaturalKey: make(map[txKey]*domain.Transaction),
		byExternalID: make(map[string]*domain.Transaction),
	}
}

func (f *fakeTxStore) add(tx *domain.Transaction) {
	f.byNaturalKey[txKey{tx.AccountID, tx.AmountMinor, tx.Payee, tx.Date}] = tx
	if tx.ExternalID != "" {
		f.byExternalID[tx.AccountID+"/"+tx.ExternalID] = tx
	}
}

func (f *fakeTxStore) FindTransactionByExternalID(ctx context.Context, accountID, externalID string) (*domain.Transaction, error) {
	return f.byExternalID[accountID+"/"+externalID], nil
}

func (f *fakeTxStore) FindTransactionByNaturalKey(ctx context.Context, accountID string, amountMinor int64, payee string, date civil.Date) (*domain.Transaction, error) {
	return f.byNaturalKey[txKey{accountID, amountMinor, payee, date}], nil
}

func (f *fakeTxStore) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	copied := *tx
	f.inserted = append(f.inserted, &copied)
	f.add(&copied)
	return nil
}

func (f *fakeTxStore) UpdateTransactionOnSync(ctx context.Context, transactionID, notes, externalID, userCategoryID, predefinedCategoryID string) error {
	f.updated = append(f.updated, transactionID)
	for _, tx := range f.byNaturalKey {
		if tx.ID == transactionID {
			tx.Notes = notes
			tx.ExternalID = externalID
			tx.UserCategoryID = userCategoryID
			tx.PredefinedCategoryID = predefinedCategoryID
		}
	}
	return nil
}

func floatPtr(f float64) *float64 { return &f }

func testAccount() *domain.Account {
	return &domain.Account{ID: "acc-1", UserID: "user-1", Currency: "GBP"}
}

func debitRecord(id, description string, amount float64, ts string) truelayer.Transaction {
	return truelayer.Transaction{
		TransactionID:   id,
		Amount:          floatPtr(amount),
		Description:     description,
		Timestamp:       ts,
		TransactionType: "DEBIT",
	}
}

func TestIngest_InsertsNewTransactions(t *testing.T) {
	store := newFakeTxStore()
	ing := NewIngestor(store, "cat-income", zerolog.Nop())

	records := []truelayer.Transaction{
		debitRecord("ext-1", "Coffee Shop", -3.50, "2024-03-14T09:15:00Z"),
		debitRecord("ext-2", "Supermarket", -42.17, "2024-03-14T18:30:00Z"),
	}

	stats, err := ing.Ingest(context.Background(), testAccount(), records)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if stats.Inserted != 2 || stats.Updated != 0 || stats.Skipped != 0 {
		t.Errorf("stats = %+v, want Inserted=2", stats)
	}

	first := store.inserted[0]
	if first.AmountMinor != -350 {
		t.Errorf("AmountMinor = %d, want -350", first.AmountMinor)
	}
	if first.Date != (civil.Date{Year: 2024, Month: 3, Day: 14}) {
		t.Errorf("Date = %v, want 2024-03-14", first.Date)
	}
	if first.ID == "" {
		t.Error("inserted transaction has no id")
	}
	if store.inserted[1].AmountMinor != -4217 {
		t.Errorf("AmountMinor = %d, want -4217", store.inserted[1].AmountMinor)
	}
}

func TestIngest_ResyncIsIdempotent(t *testing.T) {
	store := newFakeTxStore()
	ing := NewIngestor(store, "cat-income", zerolog.Nop())
	records := []truelayer.Transaction{
		debitRecord("ext-1", "Coffee Shop", -3.50, "2024-03-14T09:15:00Z"),
	}

	if _, err := ing.Ingest(context.Background(), testAccount(), records); err != nil {
		t.Fatalf("first Ingest() error = %v", err)
	}
	stats, err := ing.Ingest(context.Background(), testAccount(), records)
	if err != nil {
		t.Fatalf("second Ingest() error = %v", err)
	}

	if stats.Inserted != 0 || stats.Updated != 1 {
		t.Errorf("second pass stats = %+v, want Inserted=0 Updated=1", stats)
	}
	if len(store.inserted) != 1 {
		t.Errorf("store holds %d inserts, want 1", len(store.inserted))
	}
}

func TestIngest_PreservesExistingCategory(t *testing.T) {
	store := newFakeTxStore()
	existing := &domain.Transaction{
		ID:             "tx-existing",
		AccountID:      "acc-1",
		AmountMinor:    -350,
		Payee:          "Coffee Shop",
		Date:           civil.Date{Year: 2024, Month: 3, Day: 14},
		UserCategoryID: "cat-eating-out",
	}
	store.add(existing)
	ing := NewIngestor(store, "cat-income", zerolog.Nop())

	records := []truelayer.Transaction{
		debitRecord("ext-1", "Coffee Shop", -3.50, "2024-03-14T09:15:00Z"),
	}
	stats, err := ing.Ingest(context.Background(), testAccount(), records)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if stats.Updated != 1 {
		t.Errorf("stats = %+v, want Updated=1", stats)
	}
	if existing.UserCategoryID != "cat-eating-out" {
		t.Errorf("UserCategoryID = %q, category was overwritten on resync", existing.UserCategoryID)
	}
	if existing.ExternalID != "ext-1" {
		t.Errorf("ExternalID = %q, want ext-1 filled in on update", existing.ExternalID)
	}
}

func TestIngest_FillsNullCategoryOnUpdate(t *testing.T) {
	store := newFakeTxStore()
	existing := &domain.Transaction{
		ID:          "tx-existing",
		AccountID:   "acc-1",
		AmountMinor: 120000,
		Payee:       "Employer Ltd",
		Date:        civil.Date{Year: 2024, Month: 3, Day: 1},
	}
	store.add(existing)
	ing := NewIngestor(store, "cat-income", zerolog.Nop())

	records := []truelayer.Transaction{
		{
			TransactionID:   "ext-1",
			Amount:          floatPtr(1200.00),
			Description:     "Employer Ltd",
			Timestamp:       "2024-03-01T00:00:00Z",
			TransactionType: "CREDIT",
		},
	}
	if _, err := ing.Ingest(context.Background(), testAccount(), records); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if existing.PredefinedCategoryID != "cat-income" {
		t.Errorf("PredefinedCategoryID = %q, want cat-income filled into uncategorized row", existing.PredefinedCategoryID)
	}
}

func TestIngest_CreditsGetIncomeCategory(t *testing.T) {
	store := newFakeTxStore()
	ing := NewIngestor(store, "cat-income", zerolog.Nop())

	records := []truelayer.Transaction{
		{
			TransactionID:   "ext-1",
			Amount:          floatPtr(1200.00),
			Description:     "Employer Ltd",
			Timestamp:       "2024-03-01T00:00:00Z",
			TransactionType: "credit",
		},
		debitRecord("ext-2", "Coffee Shop", -3.50, "2024-03-01T09:00:00Z"),
	}
	if _, err := ing.Ingest(context.Background(), testAccount(), records); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if got := store.inserted[0].PredefinedCategoryID; got != "cat-income" {
		t.Errorf("credit PredefinedCategoryID = %q, want cat-income", got)
	}
	if got := store.inserted[1].PredefinedCategoryID; got != "" {
		t.Errorf("debit PredefinedCategoryID = %q, want empty", got)
	}
}

func TestIngest_CarriesCategoryFromExternalMatch(t *testing.T) {
	store := newFakeTxStore()
	// Same external transaction, previously stored under a different
	// natural key (the provider revised the settled amount).
	store.add(&domain.Transaction{
		ID:                   "tx-old",
		AccountID:            "acc-1",
		AmountMinor:          -340,
		Payee:                "Coffee Shop",
		Date:                 civil.Date{Year: 2024, Month: 3, Day: 14},
		ExternalID:           "ext-1",
		PredefinedCategoryID: "cat-eating-out",
	})
	ing := NewIngestor(store, "cat-income", zerolog.Nop())

	records := []truelayer.Transaction{
		debitRecord("ext-1", "Coffee Shop", -3.50, "2024-03-14T09:15:00Z"),
	}
	if _, err := ing.Ingest(context.Background(), testAccount(), records); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if len(store.inserted) != 1 {
		t.Fatalf("store holds %d inserts, want 1", len(store.inserted))
	}
	if got := store.inserted[0].PredefinedCategoryID; got != "cat-eating-out" {
		t.Errorf("PredefinedCategoryID = %q, want category carried from external match", got)
	}
}

func TestIngest_SkipsMalformedRecords(t *testing.T) {
	store := newFakeTxStore()
	ing := NewIngestor(store, "cat-income", zerolog.Nop())

	records := []truelayer.Transaction{
		{TransactionID: "ext-1", Description: "No amount", Timestamp: "2024-03-14T09:15:00Z", TransactionType: "DEBIT"},
		debitRecord("ext-2", "   ", -1.00, "2024-03-14T09:15:00Z"),
		debitRecord("ext-3", "<script>", -1.00, "2024-03-14T09:15:00Z"),
		debitRecord("ext-4", "Bad timestamp", -1.00, "not-a-date"),
		debitRecord("ext-5", "Good record", -1.00, "2024-03-14T09:15:00Z"),
	}
	stats, err := ing.Ingest(context.Background(), testAccount(), records)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if stats.Skipped != 3 || stats.Inserted != 2 {
		t.Errorf("stats = %+v, want Skipped=3 Inserted=2", stats)
	}
}

func TestIngest_SanitizesText(t *testing.T) {
	store := newFakeTxStore()
	ing := NewIngestor(store, "cat-income", zerolog.Nop())

	rec := debitRecord("ext-1", "  <b>Coffee</b> Shop  ", -3.50, "2024-03-14T09:15:00Z")
	rec.TransactionCategory = "<PURCHASE>"

	if _, err := ing.Ingest(context.Background(), testAccount(), []truelayer.Transaction{rec}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	tx := store.inserted[0]
	if got, want := tx.Payee, "bCoffee/b Shop"; got != want {
		t.Errorf("Payee = %q, want %q", got, want)
	}
	if got, want := tx.Notes, "PURCHASE"; got != want {
		t.Errorf("Notes = %q, want %q", got, want)
	}
}

func TestParseRecordDate(t *testing.T) {
	tests := []struct {
		name   string
		ts     string
		want   civil.Date
		wantOK bool
	}{
		{"rfc3339", "2024-03-14T09:15:00Z", civil.Date{Year: 2024, Month: 3, Day: 14}, true},
		{"no zone", "2024-03-14T09:15:00", civil.Date{Year: 2024, Month: 3, Day: 14}, true},
		{"date only", "2024-03-14", civil.Date{Year: 2024, Month: 3, Day: 14}, true},
		{"garbage", "14/03/2024", civil.Date{}, false},
		{"empty", "", civil.Date{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseRecordDate(tt.ts)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("parseRecordDate(%q) = %v, %v; want %v, %v", tt.ts, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		amount float64
		want   int64
	}{
		{-3.50, -350},
		{1200.00, 120000},
		{0, 0},
		{-0.01, -1},
		{19.99, 1999},
		{-1234.56, -123456},
	}

	for _, tt := range tests {
		if got := minorUnits(tt.amount); got != tt.want {
			t.Errorf("minorUnits(%v) = %d, want %d", tt.amount, got, tt.want)
		}
	}
}
