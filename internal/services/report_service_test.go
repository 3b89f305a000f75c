package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treasury-service/internal/apperrors"
	"treasury-service/internal/authz"
	"treasury-service/internal/models"
)

func marchReport(churchID, designatedFundID int64) ReportInput {
	deposit := day(2026, time.April, 5)
	return ReportInput{
		ChurchID:        churchID,
		Month:           3,
		Year:            2026,
		Tithes:          1_000_000,
		Offerings:       500_000,
		Designated:      []models.DesignatedAmount{{FundID: designatedFundID, Amount: 200_000}},
		Expenses:        []models.ExpenseAmount{{Category: "utilities", Amount: 100_000}},
		DepositReceipt:  "DEP-0042",
		DepositDate:     &deposit,
		DepositedAmount: 350_000,
	}
}

var marchContributors = []ContributorInput{
	{Name: "Ana", Amount: 600_000},
	{Name: "Luis", Amount: 400_000},
}

// submittedReport creates a March report for the fixture church, records
// contributors and submits it.
func submittedReport(t *testing.T, f *fixture, designated *models.Fund) *models.MonthlyReport {
	t.Helper()
	pastor := f.pastor(f.church.ID)

	rep, err := f.reports.Create(f.ctx, pastor, marchReport(f.church.ID, designated.ID))
	require.NoError(t, err)
	_, err = f.reports.SetContributors(f.ctx, pastor, rep.ID, marchContributors)
	require.NoError(t, err)
	rep, err = f.reports.Submit(f.ctx, pastor, rep.ID)
	require.NoError(t, err)
	return rep
}

func TestReportCreate_ComputesDerivedFields(t *testing.T) {
	f := newFixture(t, SeparationDistinctPrincipal)

	rep, err := f.reports.Create(f.ctx, f.pastor(f.church.ID), ReportInput{
		ChurchID:  f.church.ID,
		Month:     1,
		Year:      2026,
		Tithes:    1_000_000,
		Offerings: 500_000,
		Expenses:  []models.ExpenseAmount{{Category: "utilities", Amount: 100_000}},
	})
	require.NoError(t, err)

	assert.Equal(t, models.ReportDraft, rep.Status)
	assert.Equal(t, int64(150_000), rep.NationalFundContribution)
	assert.Equal(t, int64(1_500_000), rep.TotalIncome)
	assert.Equal(t, int64(100_000), rep.OperatingExpensesTotal)
	assert.Equal(t, int64(1_250_000), rep.PastoralHonorarium)
	assert.Equal(t, rep.TotalIncome, rep.TotalOutflows)
	assert.Equal(t, int64(0), rep.MonthBalance)

	stored, err := f.reports.Get(f.ctx, admin, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, rep.NationalFundContribution, stored.NationalFundContribution)
}

func TestReportCreate_Validation(t *testing.T) {
	f := newFixture(t, SeparationDistinctPrincipal)
	pastor := f.pastor(f.church.ID)

	tests := []struct {
		name      string
		mutate    func(in *ReportInput)
		principal *authz.Principal
		wantError error
	}{
		{
			name:      "month out of range",
			mutate:    func(in *ReportInput) { in.Month = 13 },
			wantError: apperrors.ErrValidation,
		},
		{
			name:      "negative tithes",
			mutate:    func(in *ReportInput) { in.Tithes = -1 },
			wantError: apperrors.ErrValidation,
		},
		{
			name:      "unknown designated fund",
			mutate:    func(in *ReportInput) { in.Designated = []models.DesignatedAmount{{FundID: 999, Amount: 1}} },
			wantError: apperrors.ErrValidation,
		},
		{
			name:      "other church",
			mutate:    func(in *ReportInput) { in.ChurchID = f.otherChurch.ID },
			wantError: authzErr(authz.ReasonOutOfScope),
		},
		{
			name:      "secretary cannot create",
			principal: &authz.Principal{ID: "sec-1", Role: authz.RoleSecretary, ChurchID: f.church.ID},
			wantError: authzErr(authz.ReasonPermissionDenied),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := ReportInput{ChurchID: f.church.ID, Month: 2, Year: 2026, Tithes: 10}
			if tt.mutate != nil {
				tt.mutate(&in)
			}
			p := tt.principal
			if p == nil {
				p = pastor
			}
			_, err := f.reports.Create(f.ctx, p, in)
			assert.ErrorIs(t, err, tt.wantError)
		})
	}
}

func TestReportCreate_ConcurrentSamePeriodKeepsOneRow(t *testing.T) {
	f := newFixture(t, SeparationDistinctPrincipal)
	pastor := f.pastor(f.church.ID)
	in := ReportInput{ChurchID: f.church.ID, Month: 5, Year: 2026, Tithes: 1000}

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.reports.Create(f.ctx, pastor, in)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, apperrors.ErrConflict)
	}
	assert.Equal(t, 1, succeeded)

	page, err := f.reports.List(f.ctx, admin, models.ReportQuery{ChurchID: f.church.ID, Month: 5, Year: 2026})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestReportSubmit_Requirements(t *testing.T) {
	f := newFixture(t, SeparationDistinctPrincipal)
	pastor := f.pastor(f.church.ID)

	empty, err := f.reports.Create(f.ctx, pastor, ReportInput{ChurchID: f.church.ID, Month: 1, Year: 2026})
	require.NoError(t, err)
	_, err = f.reports.Submit(f.ctx, pastor, empty.ID)
	assert.ErrorIs(t, err, apperrors.ErrValidation, "no income")

	tithes, err := f.reports.Create(f.ctx, pastor, ReportInput{ChurchID: f.church.ID, Month: 2, Year: 2026, Tithes: 10_000})
	require.NoError(t, err)
	_, err = f.reports.Submit(f.ctx, pastor, tithes.ID)
	assert.ErrorIs(t, err, apperrors.ErrValidation, "contributors missing")

	_, err = f.reports.SetContributors(f.ctx, pastor, tithes.ID, []ContributorInput{{Name: "Ana", Amount: 9_500}})
	require.NoError(t, err)
	submitted, err := f.reports.Submit(f.ctx, pastor, tithes.ID)
	require.NoError(t, err, "within tolerance")
	assert.Equal(t, models.ReportSubmitted, submitted.Status)
	assert.Equal(t, pastor.ID, submitted.SubmittedBy)

	_, err = f.reports.Submit(f.ctx, pastor, tithes.ID)
	assert.ErrorIs(t, err, apperrors.ErrDomainState)
	_, err = f.reports.Update(f.ctx, pastor, tithes.ID, ReportInput{Tithes: 1})
	assert.ErrorIs(t, err, apperrors.ErrDomainState)
}

func TestReportApprove_PostsRemittance(t *testing.T) {
	f := newFixture(t, SeparationDistinctPrincipal)
	missions := f.fund(t, "Missions", models.FundTypeDesignated, 0)
	rep := submittedReport(t, f, missions)

	_, err := f.reports.Approve(f.ctx, f.pastor(f.church.ID), rep.ID)
	assert.ErrorIs(t, err, authzErr(authz.ReasonPermissionDenied))

	approved, err := f.reports.Approve(f.ctx, nationalTreasurer, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReportApproved, approved.Status)
	assert.Equal(t, nationalTreasurer.ID, approved.ApprovedBy)

	assert.Equal(t, int64(150_000), f.balance(t, f.nationalFund.ID))
	assert.Equal(t, int64(200_000), f.balance(t, missions.ID))

	page, err := f.ledger.ListTransactions(f.ctx, admin, models.TransactionQuery{ChurchID: f.church.ID})
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
	for _, tx := range page.Items {
		require.NotNil(t, tx.ReportID)
		assert.Equal(t, rep.ID, *tx.ReportID)
	}

	_, err = f.reports.Approve(f.ctx, nationalTreasurer, rep.ID)
	assert.ErrorIs(t, err, apperrors.ErrDomainState)
}

func TestReportApprove_DepositMismatchKeepsSubmitted(t *testing.T) {
	f := newFixture(t, SeparationDistinctPrincipal)
	missions := f.fund(t, "Missions", models.FundTypeDesignated, 0)
	pastor := f.pastor(f.church.ID)

	in := marchReport(f.church.ID, missions.ID)
	in.DepositedAmount = 300_000
	rep, err := f.reports.Create(f.ctx, pastor, in)
	require.NoError(t, err)
	_, err = f.reports.SetContributors(f.ctx, pastor, rep.ID, marchContributors)
	require.NoError(t, err)
	_, err = f.reports.Submit(f.ctx, pastor, rep.ID)
	require.NoError(t, err)

	_, err = f.reports.Approve(f.ctx, nationalTreasurer, rep.ID)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	stored, err := f.reports.Get(f.ctx, admin, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReportSubmitted, stored.Status)
	assert.Equal(t, int64(0), f.balance(t, f.nationalFund.ID))
	assert.Equal(t, int64(0), f.balance(t, missions.ID))
}

func TestReportReject_ReturnsToChurch(t *testing.T) {
	f := newFixture(t, SeparationDistinctPrincipal)
	missions := f.fund(t, "Missions", models.FundTypeDesignated, 0)
	rep := submittedReport(t, f, missions)
	pastor := f.pastor(f.church.ID)

	_, err := f.reports.Reject(f.ctx, nationalTreasurer, rep.ID, "  ")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	rejected, err := f.reports.Reject(f.ctx, nationalTreasurer, rep.ID, "receipt is unreadable")
	require.NoError(t, err)
	assert.Equal(t, models.ReportRejected, rejected.Status)
	assert.Equal(t, "receipt is unreadable", rejected.RejectionReason)
	assert.Equal(t, int64(0), f.balance(t, f.nationalFund.ID))

	in := marchReport(f.church.ID, missions.ID)
	in.DepositReceipt = "DEP-0043"
	edited, err := f.reports.Update(f.ctx, pastor, rep.ID, in)
	require.NoError(t, err)
	assert.Equal(t, models.ReportDraft, edited.Status)

	resubmitted, err := f.reports.Submit(f.ctx, pastor, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReportSubmitted, resubmitted.Status)
	assert.Empty(t, resubmitted.RejectionReason)
}

func TestApprovedReport_IsImmutableExceptOverride(t *testing.T) {
	f := newFixture(t, SeparationDistinctPrincipal)
	missions := f.fund(t, "Missions", models.FundTypeDesignated, 0)
	rep := submittedReport(t, f, missions)
	_, err := f.reports.Approve(f.ctx, nationalTreasurer, rep.ID)
	require.NoError(t, err)
	pastor := f.pastor(f.church.ID)

	_, err = f.reports.Update(f.ctx, pastor, rep.ID, marchReport(f.church.ID, missions.ID))
	assert.ErrorIs(t, err, apperrors.ErrDomainState)
	_, err = f.reports.SetContributors(f.ctx, pastor, rep.ID, marchContributors)
	assert.ErrorIs(t, err, apperrors.ErrDomainState)
	_, err = f.reports.Submit(f.ctx, pastor, rep.ID)
	assert.ErrorIs(t, err, apperrors.ErrDomainState)
	_, err = f.reports.Reject(f.ctx, nationalTreasurer, rep.ID, "late")
	assert.ErrorIs(t, err, apperrors.ErrDomainState)
	assert.ErrorIs(t, f.reports.Delete(f.ctx, pastor, rep.ID), apperrors.ErrDomainState)
	_, err = f.reports.Override(f.ctx, nationalTreasurer, rep.ID, marchReport(f.church.ID, missions.ID))
	assert.ErrorIs(t, err, authzErr(authz.ReasonPermissionDenied))

	in := marchReport(f.church.ID, missions.ID)
	in.Offerings = 700_000
	in.Designated[0].Amount = 150_000
	overridden, err := f.reports.Override(f.ctx, admin, rep.ID, in)
	require.NoError(t, err)
	assert.Equal(t, models.ReportApproved, overridden.Status)
	assert.Equal(t, int64(170_000), overridden.NationalFundContribution)
	assert.Equal(t, int64(170_000), f.balance(t, f.nationalFund.ID))
	assert.Equal(t, int64(150_000), f.balance(t, missions.ID))
	f.assertBalanceMatchesHistory(t, f.nationalFund.ID)
	f.assertBalanceMatchesHistory(t, missions.ID)
}

func TestDeleteTransaction_LinkedToApprovedReportNeedsOverride(t *testing.T) {
	f := newFixture(t, SeparationDistinctPrincipal)
	missions := f.fund(t, "Missions", models.FundTypeDesignated, 0)
	rep := submittedReport(t, f, missions)
	_, err := f.reports.Approve(f.ctx, nationalTreasurer, rep.ID)
	require.NoError(t, err)

	rows, err := f.store.Transactions().ListByFund(f.ctx, missions.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	err = f.ledger.DeleteTransaction(f.ctx, nationalTreasurer, rows[0].ID)
	assert.ErrorIs(t, err, authzErr(authz.ReasonPermissionDenied))

	require.NoError(t, f.ledger.DeleteTransaction(f.ctx, admin, rows[0].ID))
	assert.Equal(t, int64(0), f.balance(t, missions.ID))
}

func TestReportList_ScopedToOwnChurch(t *testing.T) {
	f := newFixture(t, SeparationDistinctPrincipal)
	_, err := f.reports.Create(f.ctx, f.pastor(f.church.ID), ReportInput{ChurchID: f.church.ID, Month: 1, Year: 2026})
	require.NoError(t, err)
	other, err := f.reports.Create(f.ctx, f.pastor(f.otherChurch.ID), ReportInput{ChurchID: f.otherChurch.ID, Month: 1, Year: 2026})
	require.NoError(t, err)

	page, err := f.reports.List(f.ctx, f.treasurer(f.church.ID), models.ReportQuery{})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, f.church.ID, page.Items[0].ChurchID)

	_, err = f.reports.Get(f.ctx, f.treasurer(f.church.ID), other.ID)
	assert.ErrorIs(t, err, authzErr(authz.ReasonOutOfScope))

	page, err = f.reports.List(f.ctx, nationalTreasurer, models.ReportQuery{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
}

func TestLastForChurch_RollsPeriod(t *testing.T) {
	f := newFixture(t, SeparationDistinctPrincipal)
	pastor := f.pastor(f.church.ID)

	for _, month := range []int{11, 12} {
		_, err := f.reports.Create(f.ctx, pastor, ReportInput{ChurchID: f.church.ID, Month: month, Year: 2025})
		require.NoError(t, err)
	}

	last, err := f.reports.LastForChurch(f.ctx, pastor, f.church.ID)
	require.NoError(t, err)
	require.NotNil(t, last.Report)
	assert.Equal(t, 12, last.Report.Month)
	assert.Equal(t, 1, last.NextMonth)
	assert.Equal(t, 2026, last.NextYear)

	none, err := f.reports.LastForChurch(f.ctx, admin, f.otherChurch.ID)
	require.NoError(t, err)
	assert.Nil(t, none.Report)
	assert.NotZero(t, none.NextMonth)
}

func TestReportDelete_Draft(t *testing.T) {
	f := newFixture(t, SeparationDistinctPrincipal)
	pastor := f.pastor(f.church.ID)
	rep, err := f.reports.Create(f.ctx, pastor, ReportInput{ChurchID: f.church.ID, Month: 7, Year: 2026})
	require.NoError(t, err)

	assert.ErrorIs(t, f.reports.Delete(f.ctx, f.treasurer(f.church.ID), rep.ID), authzErr(authz.ReasonPermissionDenied))
	require.NoError(t, f.reports.Delete(f.ctx, pastor, rep.ID))

	_, err = f.reports.Get(f.ctx, pastor, rep.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
