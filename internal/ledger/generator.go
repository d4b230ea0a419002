package ledger

import (
	fpmath "PerpPool/internal/math"
	"fmt"

	"github.com/google/uuid"
)

// journalNamespace derives deterministic batch and journal ids, so a replayed
// command produces the same journals it produced live.
var journalNamespace = uuid.MustParse("7d0a3c6e-5b1f-4c52-9f0e-3a2b8c4d1e6f")

// JournalGenerator creates balanced journal batches for native-currency
// movements. Every generator pre-checks funds so a batch it returns can be
// applied without any account going negative.
type JournalGenerator struct {
	balanceTracker *BalanceTracker
	custody        AccountKey
	feeSink        AccountKey
}

func NewJournalGenerator(tracker *BalanceTracker, poolID string) *JournalGenerator {
	return &JournalGenerator{
		balanceTracker: tracker,
		custody:        CustodyAccount(poolID),
		feeSink:        FeeSinkAccount(),
	}
}

func (jg *JournalGenerator) Custody() AccountKey {
	return jg.custody
}

func (jg *JournalGenerator) FeeSink() AccountKey {
	return jg.feeSink
}

func newBatch(ref string, sequence, timestamp int64, capacity int) *Batch {
	return &Batch{
		BatchID:   uuid.NewSHA1(journalNamespace, []byte(fmt.Sprintf("%s:%d", ref, sequence))),
		EventRef:  ref,
		Sequence:  sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, capacity),
	}
}

func (b *Batch) add(debit, credit AccountKey, amount int64, jt JournalType) {
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.NewSHA1(b.BatchID, []byte{byte(len(b.Journals))}),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      b.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// GenerateEndowment funds a wallet from the external boundary.
// Moves funds: external:endowment -> user:wallet
func (jg *JournalGenerator) GenerateEndowment(
	ref string,
	sequence int64,
	timestamp int64,
	account uuid.UUID,
	amount int64,
) (*Batch, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("endowment amount must be > 0, got %d", amount)
	}

	batch := newBatch(ref, sequence, timestamp, 1)
	batch.add(NewUserAccountKey(account), NewExternalAccountKey(SubTypeExternalEndowment), amount, JournalTypeEndowment)
	return batch, nil
}

// GenerateMintTransfers moves a mint's net collateral between the wallet and
// the pool custodial account, then routes the fee from the wallet to the fee
// sink. Returns a nil batch when nothing moves.
//
// Pre-check order mirrors application order: a withdrawal from custody is
// credited to the wallet before the fee is taken from it.
func (jg *JournalGenerator) GenerateMintTransfers(
	ref string,
	sequence int64,
	timestamp int64,
	account uuid.UUID,
	netCollateral int64,
	fee uint64,
) (*Batch, error) {
	feeAmount, err := fpmath.AmountFromBalance(fee)
	if err != nil {
		return nil, err
	}

	wallet := NewUserAccountKey(account)
	walletAfter := jg.balanceTracker.GetBalance(wallet)
	batch := newBatch(ref, sequence, timestamp, 2)

	switch {
	case netCollateral > 0:
		if err := jg.balanceTracker.ValidateSufficient(wallet, netCollateral); err != nil {
			return nil, fmt.Errorf("collateral deposit: %w", err)
		}
		walletAfter -= netCollateral
		batch.add(jg.custody, wallet, netCollateral, JournalTypeCollateralDeposit)
	case netCollateral < 0:
		out := fpmath.AbsAmount(netCollateral)
		outAmount, err := fpmath.AmountFromBalance(out)
		if err != nil {
			return nil, err
		}
		if err := jg.balanceTracker.ValidateSufficient(jg.custody, outAmount); err != nil {
			return nil, fmt.Errorf("collateral withdrawal: %w", err)
		}
		walletAfter, err = fpmath.CheckedAdd(walletAfter, outAmount)
		if err != nil {
			return nil, err
		}
		batch.add(wallet, jg.custody, outAmount, JournalTypeCollateralWithdrawal)
	}

	if feeAmount > 0 {
		if walletAfter < feeAmount {
			return nil, fmt.Errorf("transaction fee: %s: have=%d, need=%d: %w",
				wallet.AccountPath(), walletAfter, feeAmount, ErrInsufficientBalance)
		}
		batch.add(jg.feeSink, wallet, feeAmount, JournalTypeTransactionFee)
	}

	if len(batch.Journals) == 0 {
		return nil, nil
	}
	return batch, nil
}
