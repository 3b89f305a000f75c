package services

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treasury-service/internal/apperrors"
	"treasury-service/internal/authz"
	"treasury-service/internal/models"
)

func TestCreateTransaction_PostingConvention(t *testing.T) {
	f := newFixture(t, SeparationDistinctPrincipal)
	fund := f.fund(t, "General", models.FundTypeGeneral, 0)

	tests := []struct {
		name      string
		in        TransactionInput
		wantError error
	}{
		{
			name:      "both sides positive",
			in:        TransactionInput{FundID: fund.ID, Concept: "x", AmountIn: 10, AmountOut: 10},
			wantError: apperrors.ErrValidation,
		},
		{
			name:      "no side positive",
			in:        TransactionInput{FundID: fund.ID, Concept: "x"},
			wantError: apperrors.ErrValidation,
		},
		{
			name:      "negative amount",
			in:        TransactionInput{FundID: fund.ID, Concept: "x", AmountIn: -5},
			wantError: apperrors.ErrValidation,
		},
		{
			name:      "missing concept",
			in:        TransactionInput{FundID: fund.ID, AmountIn: 5},
			wantError: apperrors.ErrValidation,
		},
		{
			name:      "outflow beyond balance",
			in:        TransactionInput{FundID: fund.ID, Concept: "x", AmountOut: 1},
			wantError: apperrors.ErrInsufficientFunds,
		},
		{
			name:      "unknown fund",
			in:        TransactionInput{FundID: 999, Concept: "x", AmountIn: 1},
			wantError: apperrors.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.CreateTransaction(f.ctx, admin, tt.in)
			assert.ErrorIs(t, err, tt.wantError)
		})
	}
	assert.Equal(t, int64(0), f.balance(t, fund.ID))
}

func TestCreateTransaction_AssignsSequenceAndRunningBalance(t *testing.T) {
	f := newFixture(t, SeparationDistinctPrincipal)
	fund := f.fund(t, "General", models.FundTypeGeneral, 1000)

	in, err := f.ledger.CreateTransaction(f.ctx, admin, TransactionInput{FundID: fund.ID, Concept: "Offering", AmountIn: 500})
	require.NoError(t, err)
	out, err := f.ledger.CreateTransaction(f.ctx, admin, TransactionInput{FundID: fund.ID, Concept: "Rent", AmountOut: 300})
	require.NoError(t, err)

	assert.Equal(t, int64(2), in.Sequence)
	assert.Equal(t, int64(1500), in.Balance)
	assert.Equal(t, int64(3), out.Sequence)
	assert.Equal(t, int64(1200), out.Balance)
	assert.Equal(t, int64(1200), f.balance(t, fund.ID))
}

func TestCreateTransaction_RespectsChurchScope(t *testing.T) {
	f := newFixture(t, SeparationDistinctPrincipal)
	fund := f.fund(t, "General", models.FundTypeGeneral, 0)
	treasurer := f.treasurer(f.church.ID)

	_, err := f.ledger.CreateTransaction(f.ctx, treasurer, TransactionInput{
		FundID: fund.ID, Concept: "Offering", AmountIn: 100, ChurchID: &f.otherChurch.ID,
	})
	assert.ErrorIs(t, err, authzErr(authz.ReasonOutOfScope))

	_, err = f.ledger.CreateTransaction(f.ctx, treasurer, TransactionInput{
		FundID: fund.ID, Concept: "Offering", AmountIn: 100,
	})
	assert.ErrorIs(t, err, authzErr(authz.ReasonOutOfScope), "own scope needs a church on the posting")

	_, err = f.ledger.CreateTransaction(f.ctx, treasurer, TransactionInput{
		FundID: fund.ID, Concept: "Offering", AmountIn: 100, ChurchID: &f.church.ID,
	})
	require.NoError(t, err)

	page, err := f.ledger.ListTransactions(f.ctx, f.treasurer(f.otherChurch.ID), models.TransactionQuery{})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)

	page, err = f.ledger.ListTransactions(f.ctx, treasurer, models.TransactionQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, DefaultPageSize, page.Limit)
}

func TestPost_ArchivedFundRejectsPostings(t *testing.T) {
	f := newFixture(t, SeparationDistinctPrincipal)
	fund := f.fund(t, "Building", models.FundTypeSpecial, 100)

	_, err := f.ledger.ArchiveFund(f.ctx, nationalTreasurer, fund.ID)
	require.NoError(t, err)

	_, err = f.ledger.CreateTransaction(f.ctx, admin, TransactionInput{FundID: fund.ID, Concept: "x", AmountIn: 1})
	assert.ErrorIs(t, err, apperrors.ErrDomainState)

	_, err = f.ledger.ArchiveFund(f.ctx, nationalTreasurer, fund.ID)
	assert.ErrorIs(t, err, apperrors.ErrDomainState)

	active, err := f.ledger.ListFunds(f.ctx, admin, false)
	require.NoError(t, err)
	for _, fd := range active {
		assert.NotEqual(t, fund.ID, fd.ID)
	}
	all, err := f.ledger.ListFunds(f.ctx, admin, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestUpdateTransaction_ChangesMetadataOnly(t *testing.T) {
	f := newFixture(t, SeparationDistinctPrincipal)
	fund := f.fund(t, "General", models.FundTypeGeneral, 0)
	posted, err := f.ledger.CreateTransaction(f.ctx, admin, TransactionInput{FundID: fund.ID, Concept: "Offering", AmountIn: 700})
	require.NoError(t, err)

	updated, err := f.ledger.UpdateTransaction(f.ctx, admin, posted.ID, TransactionUpdate{Concept: "Sunday offering", DocumentNumber: "R-12"})
	require.NoError(t, err)
	assert.Equal(t, "Sunday offering", updated.Concept)
	assert.Equal(t, "R-12", updated.DocumentNumber)

	stored, err := f.ledger.GetTransaction(f.ctx, admin, posted.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(700), stored.AmountIn)
	assert.Equal(t, "Sunday offering", stored.Concept)
	assert.Equal(t, int64(700), f.balance(t, fund.ID))
}

func TestDeleteTransaction_ResumsFund(t *testing.T) {
	f := newFixture(t, SeparationDistinctPrincipal)
	fund := f.fund(t, "General", models.FundTypeGeneral, 1000)

	var ids []int64
	for _, in := range []TransactionInput{
		{FundID: fund.ID, Concept: "a", AmountIn: 200},
		{FundID: fund.ID, Concept: "b", AmountOut: 300},
		{FundID: fund.ID, Concept: "c", AmountIn: 50},
	} {
		posted, err := f.ledger.CreateTransaction(f.ctx, admin, in)
		require.NoError(t, err)
		ids = append(ids, posted.ID)
	}
	require.Equal(t, int64(950), f.balance(t, fund.ID))

	require.NoError(t, f.ledger.DeleteTransaction(f.ctx, admin, ids[1]))

	assert.Equal(t, int64(1250), f.balance(t, fund.ID))
	rows, err := f.store.Transactions().ListByFund(f.ctx, fund.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []int64{1000, 1200, 1250}, []int64{rows[0].Balance, rows[1].Balance, rows[2].Balance})

	_, err = f.ledger.GetTransaction(f.ctx, admin, ids[1])
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDeleteTransaction_RefusesNegativeResult(t *testing.T) {
	f := newFixture(t, SeparationDistinctPrincipal)
	fund := f.fund(t, "General", models.FundTypeGeneral, 0)
	deposit, err := f.ledger.CreateTransaction(f.ctx, admin, TransactionInput{FundID: fund.ID, Concept: "deposit", AmountIn: 100})
	require.NoError(t, err)
	_, err = f.ledger.CreateTransaction(f.ctx, admin, TransactionInput{FundID: fund.ID, Concept: "spend", AmountOut: 80})
	require.NoError(t, err)

	err = f.ledger.DeleteTransaction(f.ctx, admin, deposit.ID)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)

	rows, err := f.store.Transactions().ListByFund(f.ctx, fund.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, int64(20), f.balance(t, fund.ID))
}

func TestTransfer(t *testing.T) {
	f := newFixture(t, SeparationDistinctPrincipal)
	from := f.fund(t, "General", models.FundTypeGeneral, 1000)
	to := f.fund(t, "Missions", models.FundTypeDesignated, 0)

	t.Run("insufficient source leaves both funds untouched", func(t *testing.T) {
		_, err := f.ledger.Transfer(f.ctx, nationalTreasurer, TransferInput{FromFundID: from.ID, ToFundID: to.ID, Amount: 5000})
		assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)
		assert.Equal(t, int64(1000), f.balance(t, from.ID))
		assert.Equal(t, int64(0), f.balance(t, to.ID))

		rows, err := f.store.Transactions().ListByFund(f.ctx, to.ID)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("same fund", func(t *testing.T) {
		_, err := f.ledger.Transfer(f.ctx, nationalTreasurer, TransferInput{FromFundID: from.ID, ToFundID: from.ID, Amount: 1})
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("pair shares a transfer id and deletes together", func(t *testing.T) {
		res, err := f.ledger.Transfer(f.ctx, nationalTreasurer, TransferInput{FromFundID: from.ID, ToFundID: to.ID, Amount: 400})
		require.NoError(t, err)
		assert.Equal(t, res.TransferID, res.Out.TransferID)
		assert.Equal(t, res.TransferID, res.In.TransferID)
		assert.Equal(t, int64(600), f.balance(t, from.ID))
		assert.Equal(t, int64(400), f.balance(t, to.ID))

		require.NoError(t, f.ledger.DeleteTransaction(f.ctx, admin, res.In.ID))
		assert.Equal(t, int64(1000), f.balance(t, from.ID))
		assert.Equal(t, int64(0), f.balance(t, to.ID))

		legs, err := f.store.Transactions().ListByTransferID(f.ctx, res.TransferID)
		require.NoError(t, err)
		assert.Empty(t, legs)
	})

	t.Run("pastor cannot transfer", func(t *testing.T) {
		_, err := f.ledger.Transfer(f.ctx, f.pastor(f.church.ID), TransferInput{FromFundID: from.ID, ToFundID: to.ID, Amount: 1})
		assert.ErrorIs(t, err, authzErr(authz.ReasonPermissionDenied))
	})
}

func TestLedger_RecomputesChronologically(t *testing.T) {
	f := newFixture(t, SeparationDistinctPrincipal)
	fund := f.fund(t, "General", models.FundTypeGeneral, 0)

	for _, in := range []TransactionInput{
		{FundID: fund.ID, Concept: "jan 10", AmountIn: 100, Date: day(2026, time.January, 10)},
		{FundID: fund.ID, Concept: "jan 5 backdated", AmountIn: 50, Date: day(2026, time.January, 5)},
		{FundID: fund.ID, Concept: "feb 1", AmountOut: 30, Date: day(2026, time.February, 1)},
	} {
		_, err := f.ledger.CreateTransaction(f.ctx, admin, in)
		require.NoError(t, err)
	}

	from, to := day(2026, time.January, 7), day(2026, time.January, 31)
	view, err := f.ledger.Ledger(f.ctx, admin, fund.ID, &from, &to)
	require.NoError(t, err)
	assert.Equal(t, int64(50), view.OpeningBalance)
	require.Len(t, view.Entries, 1)
	assert.Equal(t, "jan 10", view.Entries[0].Concept)
	assert.Equal(t, int64(150), view.ClosingBalance)

	full, err := f.ledger.Ledger(f.ctx, admin, fund.ID, nil, nil)
	require.NoError(t, err)
	require.Len(t, full.Entries, 3)
	assert.Equal(t, "jan 5 backdated", full.Entries[0].Concept)
	assert.Equal(t, int64(120), full.ClosingBalance)
	assert.Equal(t, f.balance(t, fund.ID), full.ClosingBalance)

	_, err = f.ledger.Ledger(f.ctx, admin, fund.ID, &to, &from)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestReconcileFund_CorrectsDrift(t *testing.T) {
	f := newFixture(t, SeparationDistinctPrincipal)
	fund := f.fund(t, "General", models.FundTypeGeneral, 300)
	require.NoError(t, f.store.Funds().SetBalance(f.ctx, fund.ID, 999))

	res, err := f.ledger.ReconcileFund(f.ctx, admin, fund.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(999), res.CachedBalance)
	assert.Equal(t, int64(300), res.ComputedBalance)
	assert.Equal(t, int64(699), res.Drift)
	assert.Equal(t, int64(300), f.balance(t, fund.ID))

	_, err = f.ledger.ReconcileFund(f.ctx, nationalTreasurer, fund.ID)
	assert.ErrorIs(t, err, authzErr(authz.ReasonPermissionDenied))
}

func TestListFunds_EmptyAssignedScope(t *testing.T) {
	f := newFixture(t, SeparationDistinctPrincipal)
	assigned := f.fund(t, "Youth", models.FundTypeSpecial, 0)

	funds, err := f.ledger.ListFunds(f.ctx, director(), false)
	require.NoError(t, err)
	assert.Empty(t, funds)

	funds, err = f.ledger.ListFunds(f.ctx, director(assigned.ID), false)
	require.NoError(t, err)
	require.Len(t, funds, 1)
	assert.Equal(t, assigned.ID, funds[0].ID)

	_, err = f.ledger.GetFund(f.ctx, director(), assigned.ID)
	assert.ErrorIs(t, err, authzErr(authz.ReasonScopeEmpty))
}

func TestLedger_BalanceAlwaysEqualsSumOfPostings(t *testing.T) {
	f := newFixture(t, SeparationDistinctPrincipal)
	funds := []*models.Fund{
		f.fund(t, "A", models.FundTypeGeneral, 500),
		f.fund(t, "B", models.FundTypeGeneral, 0),
	}
	rng := rand.New(rand.NewSource(42))
	var posted []int64

	for i := 0; i < 300; i++ {
		fund := funds[rng.Intn(len(funds))]
		switch op := rng.Intn(10); {
		case op < 5:
			in := TransactionInput{FundID: fund.ID, Concept: "op"}
			if rng.Intn(2) == 0 {
				in.AmountIn = int64(rng.Intn(1000) + 1)
			} else {
				in.AmountOut = int64(rng.Intn(1000) + 1)
			}
			tx, err := f.ledger.CreateTransaction(f.ctx, admin, in)
			if err == nil {
				posted = append(posted, tx.ID)
			} else {
				assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)
			}
		case op < 7:
			_, err := f.ledger.Transfer(f.ctx, admin, TransferInput{
				FromFundID: funds[0].ID, ToFundID: funds[1].ID, Amount: int64(rng.Intn(300) + 1),
			})
			if err != nil {
				assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)
			}
		default:
			if len(posted) == 0 {
				continue
			}
			idx := rng.Intn(len(posted))
			err := f.ledger.DeleteTransaction(f.ctx, admin, posted[idx])
			if err == nil || apperrors.KindOf(err) == apperrors.KindNotFound {
				posted = append(posted[:idx], posted[idx+1:]...)
			} else {
				assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)
			}
		}

		for _, fund := range funds {
			f.assertBalanceMatchesHistory(t, fund.ID)
			assert.GreaterOrEqual(t, f.balance(t, fund.ID), int64(0))
		}
	}
}

func TestLedger_RedactsEntriesOutsideTransactionScope(t *testing.T) {
	f := newFixture(t, SeparationDistinctPrincipal)
	fund := f.fund(t, "Missions", models.FundTypeDesignated, 0)
	own, other := f.church.ID, f.otherChurch.ID

	for _, in := range []TransactionInput{
		{FundID: fund.ID, Concept: "central offering", AmountIn: 200, ChurchID: &own, Date: day(2026, time.March, 1)},
		{FundID: fund.ID, Concept: "norte secret", AmountIn: 777, ChurchID: &other, DocumentNumber: "N-9", Date: day(2026, time.March, 2)},
		{FundID: fund.ID, Concept: "supplies", AmountOut: 100, ChurchID: &own, Date: day(2026, time.March, 3)},
	} {
		_, err := f.ledger.CreateTransaction(f.ctx, admin, in)
		require.NoError(t, err)
	}

	view, err := f.ledger.Ledger(f.ctx, f.pastor(own), fund.ID, nil, nil)
	require.NoError(t, err)
	require.Len(t, view.Entries, 3)

	hidden := view.Entries[1]
	assert.Equal(t, "Restricted entry", hidden.Concept)
	assert.Nil(t, hidden.ChurchID)
	assert.Empty(t, hidden.DocumentNumber)
	assert.Empty(t, hidden.CreatedBy)
	assert.Zero(t, hidden.ID)
	assert.Equal(t, int64(777), hidden.AmountIn)
	assert.Equal(t, int64(977), hidden.Balance)

	for _, e := range view.Entries {
		assert.NotEqual(t, "norte secret", e.Concept)
	}
	assert.Equal(t, "central offering", view.Entries[0].Concept)
	assert.Equal(t, int64(877), view.ClosingBalance)
	assert.Equal(t, f.balance(t, fund.ID), view.ClosingBalance)

	full, err := f.ledger.Ledger(f.ctx, admin, fund.ID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "norte secret", full.Entries[1].Concept)

	t.Run("no transaction permission", func(t *testing.T) {
		_, err := f.ledger.Ledger(f.ctx, &authz.Principal{ID: "mgr", Role: authz.RoleChurchManager, ChurchID: own}, fund.ID, nil, nil)
		assert.ErrorIs(t, err, authzErr(authz.ReasonPermissionDenied))
	})
}

func TestPost_BackdatedEntryRewritesLaterSnapshots(t *testing.T) {
	f := newFixture(t, SeparationDistinctPrincipal)
	fund := f.fund(t, "General", models.FundTypeGeneral, 0)

	_, err := f.ledger.CreateTransaction(f.ctx, admin, TransactionInput{FundID: fund.ID, Concept: "march", AmountIn: 100, Date: day(2026, time.March, 10)})
	require.NoError(t, err)
	_, err = f.ledger.CreateTransaction(f.ctx, admin, TransactionInput{FundID: fund.ID, Concept: "april", AmountOut: 40, Date: day(2026, time.April, 1)})
	require.NoError(t, err)
	back, err := f.ledger.CreateTransaction(f.ctx, admin, TransactionInput{FundID: fund.ID, Concept: "february", AmountIn: 25, Date: day(2026, time.February, 20)})
	require.NoError(t, err)
	assert.Equal(t, int64(25), back.Balance)
	assert.Equal(t, int64(3), back.Sequence)

	rows, err := f.store.Transactions().ListByFund(f.ctx, fund.ID)
	require.NoError(t, err)
	snapshots := map[string]int64{}
	for _, r := range rows {
		snapshots[r.Concept] = r.Balance
	}
	assert.Equal(t, map[string]int64{"february": 25, "march": 125, "april": 85}, snapshots)
	assert.Equal(t, int64(85), f.balance(t, fund.ID))

	res, err := f.ledger.ReconcileFund(f.ctx, admin, fund.ID)
	require.NoError(t, err)
	assert.Zero(t, res.SnapshotsRewritten)
}
