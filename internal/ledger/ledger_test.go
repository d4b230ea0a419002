package ledger_test

import (
	"PerpPool/internal/ledger"
	"errors"
	"testing"

	"github.com/google/uuid"
)

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_UserPath(t *testing.T) {
	userID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	key := ledger.NewUserAccountKey(userID)

	path := key.AccountPath()
	expected := "user:550e8400-e29b-41d4-a716-446655440000:wallet"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_SystemPath(t *testing.T) {
	if got := ledger.CustodyAccount("pool-1").AccountPath(); got != "system:pool-1:custody" {
		t.Errorf("got %q, want %q", got, "system:pool-1:custody")
	}
	if got := ledger.FeeSinkAccount().AccountPath(); got != "system:treasury:fees" {
		t.Errorf("got %q, want %q", got, "system:treasury:fees")
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	key := ledger.NewExternalAccountKey(ledger.SubTypeExternalEndowment)
	if path := key.AccountPath(); path != "external:endowment" {
		t.Errorf("got %q, want %q", path, "external:endowment")
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func endow(t *testing.T, bt *ledger.BalanceTracker, account uuid.UUID, amount int64) {
	t.Helper()
	gen := ledger.NewJournalGenerator(bt, "pool")
	batch, err := gen.GenerateEndowment("endow:"+account.String(), 0, 0, account, amount)
	if err != nil {
		t.Fatalf("GenerateEndowment failed: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}
}

func TestBalanceTracker_Endowment(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	userID := uuid.New()

	endow(t, bt, userID, 500_000)

	if got := bt.WalletBalance(userID); got != 500_000 {
		t.Errorf("got %d, want %d", got, 500_000)
	}
	if got := bt.ComputeGlobalBalance(); got != 0 {
		t.Errorf("global balance should be zero, got %d", got)
	}
}

func TestBalanceTracker_ValidateSufficient(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	userID := uuid.New()
	wallet := ledger.NewUserAccountKey(userID)

	err := bt.ValidateSufficient(wallet, 100)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Errorf("got %v, want ErrInsufficientBalance", err)
	}

	endow(t, bt, userID, 1_000)

	if err := bt.ValidateSufficient(wallet, 1_000); err != nil {
		t.Errorf("should have sufficient balance: %v", err)
	}
	if err := bt.ValidateSufficient(wallet, 1_001); err == nil {
		t.Error("expected error for 1_001 > 1_000")
	}
}

func TestBalanceTracker_Snapshot(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	userID := uuid.New()
	endow(t, bt, userID, 999)

	snap := bt.Snapshot()
	if len(snap) == 0 {
		t.Fatal("snapshot should not be empty")
	}

	for k := range snap {
		snap[k] = 0
	}

	if bt.WalletBalance(userID) != 999 {
		t.Error("tracker balance should not be affected by snapshot mutation")
	}
}

// ============================================================================
// Test: JournalGenerator
// ============================================================================

func TestGenerateMintTransfers_DepositAndFee(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(bt, "pool")
	userID := uuid.New()
	endow(t, bt, userID, 1_000)

	batch, err := gen.GenerateMintTransfers("mint-1", 1, 0, userID, 200, 1)
	if err != nil {
		t.Fatalf("GenerateMintTransfers failed: %v", err)
	}
	if len(batch.Journals) != 2 {
		t.Fatalf("got %d journals, want 2", len(batch.Journals))
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}

	if got := bt.WalletBalance(userID); got != 799 {
		t.Errorf("wallet: got %d, want %d", got, 799)
	}
	if got := bt.GetBalance(gen.Custody()); got != 200 {
		t.Errorf("custody: got %d, want %d", got, 200)
	}
	if got := bt.GetBalance(gen.FeeSink()); got != 1 {
		t.Errorf("fee sink: got %d, want %d", got, 1)
	}
}

func TestGenerateMintTransfers_WithdrawalFundsFee(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(bt, "pool")
	userID := uuid.New()
	endow(t, bt, userID, 21)

	batch, err := gen.GenerateMintTransfers("mint-1", 1, 0, userID, 21, 0)
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}

	// wallet is empty: the fee is paid out of the collateral coming back
	batch, err = gen.GenerateMintTransfers("mint-2", 2, 0, userID, -1, 1)
	if err != nil {
		t.Fatalf("withdrawal failed: %v", err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}
	if got := bt.WalletBalance(userID); got != 0 {
		t.Errorf("wallet: got %d, want 0", got)
	}
	if got := bt.GetBalance(gen.Custody()); got != 20 {
		t.Errorf("custody: got %d, want 20", got)
	}
}

func TestGenerateMintTransfers_InsufficientFunds(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(bt, "pool")
	userID := uuid.New()
	endow(t, bt, userID, 100)

	tests := []struct {
		name string
		net  int64
		fee  uint64
	}{
		{"deposit exceeds wallet", 101, 0},
		{"fee exceeds remaining wallet", 100, 1},
		{"withdrawal exceeds custody", -1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := gen.GenerateMintTransfers("mint", 1, 0, userID, tt.net, tt.fee)
			if !errors.Is(err, ledger.ErrInsufficientBalance) {
				t.Errorf("got %v, want ErrInsufficientBalance", err)
			}
		})
	}
}

func TestGenerateMintTransfers_NothingToMove(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(bt, "pool")

	batch, err := gen.GenerateMintTransfers("mint", 1, 0, uuid.New(), 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if batch != nil {
		t.Errorf("got %d journals, want nil batch", len(batch.Journals))
	}
}

func TestGenerateMintTransfers_DeterministicIDs(t *testing.T) {
	userID := uuid.New()
	build := func() *ledger.Batch {
		bt := ledger.NewBalanceTracker()
		endow(t, bt, userID, 10)
		batch, err := ledger.NewJournalGenerator(bt, "pool").GenerateMintTransfers("mint-7", 7, 0, userID, 5, 1)
		if err != nil {
			t.Fatalf("GenerateMintTransfers failed: %v", err)
		}
		return batch
	}

	a, b := build(), build()
	if a.BatchID != b.BatchID {
		t.Errorf("batch ids differ: %s vs %s", a.BatchID, b.BatchID)
	}
	for i := range a.Journals {
		if a.Journals[i].JournalID != b.Journals[i].JournalID {
			t.Errorf("journal %d ids differ", i)
		}
	}
}

// ============================================================================
// Test: Batch Validation
// ============================================================================

func TestBatchValidate(t *testing.T) {
	userID := uuid.New()
	batchID := uuid.New()
	wallet := ledger.NewUserAccountKey(userID)
	custody := ledger.CustodyAccount("pool")

	journal := func(amount int64, debit, credit ledger.AccountKey, bid uuid.UUID) ledger.Journal {
		return ledger.Journal{
			JournalID:     uuid.New(),
			BatchID:       bid,
			DebitAccount:  debit,
			CreditAccount: credit,
			Amount:        amount,
		}
	}

	tests := []struct {
		name     string
		journals []ledger.Journal
		wantErr  bool
	}{
		{"empty batch", nil, true},
		{"zero amount", []ledger.Journal{journal(0, custody, wallet, batchID)}, true},
		{"negative amount", []ledger.Journal{journal(-5, custody, wallet, batchID)}, true},
		{"self transfer", []ledger.Journal{journal(5, wallet, wallet, batchID)}, true},
		{"mismatched batch id", []ledger.Journal{journal(5, custody, wallet, uuid.New())}, true},
		{"valid", []ledger.Journal{journal(5, custody, wallet, batchID)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch := &ledger.Batch{BatchID: batchID, Journals: tt.journals}
			err := batch.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("got err=%v, wantErr=%v", err, tt.wantErr)
			}
		})
	}
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)

	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("empty ledger should have zero global balance: %v", err)
	}

	userID := uuid.New()
	endow(t, bt, userID, 1_000_000)

	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("balanced ledger should have zero global balance: %v", err)
	}

	overdraft := &ledger.Batch{BatchID: uuid.New()}
	overdraft.Journals = []ledger.Journal{{
		JournalID:     uuid.New(),
		BatchID:       overdraft.BatchID,
		DebitAccount:  ledger.FeeSinkAccount(),
		CreditAccount: ledger.NewUserAccountKey(userID),
		Amount:        2_000_000,
	}}
	if err := bt.ApplyBatch(overdraft); err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}
	if err := v.ValidateTouchedNonNegative(overdraft); err == nil {
		t.Error("expected negative wallet to be reported")
	}
}
