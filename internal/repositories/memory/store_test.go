package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treasury-service/internal/authz"
	"treasury-service/internal/models"
	"treasury-service/internal/repositories"
)

func TestWithinTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(tx repositories.Store) error {
		require.NoError(t, tx.Funds().Insert(ctx, &models.Fund{Name: "Missions", Type: models.FundTypeDesignated, Active: true}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	funds, err := s.Funds().List(ctx, authz.Unrestricted, true)
	require.NoError(t, err)
	assert.Empty(t, funds)
}

func TestWithinTx_CommitsAndNests(t *testing.T) {
	ctx := context.Background()
	s := New()

	var fundID int64
	err := s.WithinTx(ctx, func(tx repositories.Store) error {
		f := &models.Fund{Name: "Missions", Type: models.FundTypeDesignated, Active: true}
		if err := tx.Funds().Insert(ctx, f); err != nil {
			return err
		}
		fundID = f.ID
		return tx.WithinTx(ctx, func(inner repositories.Store) error {
			return inner.Funds().SetBalance(ctx, f.ID, 700)
		})
	})
	require.NoError(t, err)

	fund, err := s.Funds().GetByID(ctx, fundID)
	require.NoError(t, err)
	assert.Equal(t, int64(700), fund.CurrentBalance)
}

func TestWithinTx_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New().WithinTx(ctx, func(repositories.Store) error { return nil })

	assert.ErrorIs(t, err, context.Canceled)
}

func TestReports_DuplicatePeriod(t *testing.T) {
	ctx := context.Background()
	s := New()

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.Reports().Insert(ctx, &models.MonthlyReport{ChurchID: 1, Month: 3, Year: 2024, Status: models.ReportDraft})
		}()
	}
	wg.Wait()

	dups := 0
	for _, err := range errs {
		if errors.Is(err, repositories.ErrDuplicate) {
			dups++
		} else {
			require.NoError(t, err)
		}
	}
	assert.Equal(t, 3, dups)
}

func TestGetReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Reports().Insert(ctx, &models.MonthlyReport{
		ChurchID: 1, Month: 3, Year: 2024, Tithes: 1000,
		Designated: []models.DesignatedAmount{{FundID: 2, Amount: 50}},
	}))

	got, err := s.Reports().GetByID(ctx, 1)
	require.NoError(t, err)
	got.Designated[0].Amount = 999_999
	got.Tithes = 0

	again, err := s.Reports().GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(50), again.Designated[0].Amount)
	assert.Equal(t, int64(1000), again.Tithes)
}

func TestLineItems_UnknownStage(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := s.FundEvents().InsertLineItem(ctx, &models.LineItem{EventID: 1, Stage: "forecast", Type: models.LineIncome, Amount: 1})

	assert.Error(t, err)
}
