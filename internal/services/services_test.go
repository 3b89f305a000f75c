package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"treasury-service/internal/apperrors"
	"treasury-service/internal/authz"
	"treasury-service/internal/models"
	"treasury-service/internal/repositories/memory"
)

var (
	admin             = &authz.Principal{ID: "admin-1", Role: authz.RoleAdmin}
	secondAdmin       = &authz.Principal{ID: "admin-2", Role: authz.RoleAdmin}
	nationalTreasurer = &authz.Principal{ID: "nt-1", Role: authz.RoleNationalTreasurer}
)

type fixture struct {
	ctx       context.Context
	store     *memory.Store
	resolver  *authz.Resolver
	ledger    *LedgerService
	reports   *ReportService
	events    *FundEventService
	ingestion *IngestionService
	churches  *ChurchService

	nationalFund *models.Fund
	church       *models.Church
	otherChurch  *models.Church
}

func newFixture(t *testing.T, separation SeparationPolicy) *fixture {
	t.Helper()

	ctx := context.Background()
	store := memory.New()
	resolver := authz.NewResolver(authz.DefaultCatalog())
	logger := zap.NewNop()

	f := &fixture{ctx: ctx, store: store, resolver: resolver}
	f.ledger = NewLedgerService(store, resolver, logger)
	f.ingestion = NewIngestionService(store, resolver, f.ledger, logger)
	f.churches = NewChurchService(store, resolver, logger)
	f.events = NewFundEventService(store, resolver, f.ledger, separation, logger)

	var err error
	f.nationalFund, err = f.ledger.CreateFund(ctx, admin, FundInput{Name: "National fund", Type: models.FundTypeNational})
	require.NoError(t, err)
	f.church, err = f.churches.Create(ctx, admin, ChurchInput{Name: "Central", City: "Asuncion"})
	require.NoError(t, err)
	f.otherChurch, err = f.churches.Create(ctx, admin, ChurchInput{Name: "Norte", City: "Luque"})
	require.NoError(t, err)

	f.reports = NewReportService(store, resolver, f.ledger, ReportPolicy{
		NationalFundID:       f.nationalFund.ID,
		ContributorTolerance: 1000,
		DepositTolerance:     1000,
	}, logger)
	return f
}

func (f *fixture) fund(t *testing.T, name, typ string, opening int64) *models.Fund {
	t.Helper()
	fund, err := f.ledger.CreateFund(f.ctx, admin, FundInput{Name: name, Type: typ, OpeningBalance: opening})
	require.NoError(t, err)
	return fund
}

func (f *fixture) balance(t *testing.T, fundID int64) int64 {
	t.Helper()
	fund, err := f.store.Funds().GetByID(f.ctx, fundID)
	require.NoError(t, err)
	return fund.CurrentBalance
}

// assertBalanceMatchesHistory checks the cached balance against the sum of
// the fund's postings.
func (f *fixture) assertBalanceMatchesHistory(t *testing.T, fundID int64) {
	t.Helper()
	rows, err := f.store.Transactions().ListByFund(f.ctx, fundID)
	require.NoError(t, err)

	var sum int64
	for _, tx := range rows {
		sum += tx.Delta()
	}
	assert.Equal(t, sum, f.balance(t, fundID), "fund %d balance", fundID)
}

func (f *fixture) pastor(churchID int64) *authz.Principal {
	return &authz.Principal{ID: "pastor-1", Role: authz.RolePastor, ChurchID: churchID}
}

func (f *fixture) treasurer(churchID int64) *authz.Principal {
	return &authz.Principal{ID: "treasurer-1", Role: authz.RoleTreasurer, ChurchID: churchID}
}

func director(fundIDs ...int64) *authz.Principal {
	return &authz.Principal{ID: "director-1", Role: authz.RoleFundDirector, FundIDs: fundIDs}
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func authzErr(code string) error {
	return &apperrors.Error{Kind: apperrors.KindAuthorization, Code: code}
}
