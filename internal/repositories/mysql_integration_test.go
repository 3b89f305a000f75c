//go:build integration

package repositories_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"treasury-service/internal/authz"
	"treasury-service/internal/models"
	"treasury-service/internal/repositories"
)

// setupMySQL starts a disposable MySQL container, applies the migrations and
// returns a store over it. The container is terminated on test cleanup.
func setupMySQL(t *testing.T) repositories.Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcmysql.Run(ctx,
		"mysql:8.0.36",
		tcmysql.WithDatabase("treasury"),
		tcmysql.WithUsername("treasury"),
		tcmysql.WithPassword("treasury"),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "parseTime=true", "multiStatements=true")
	require.NoError(t, err)

	dir, err := filepath.Abs("../../migrations")
	require.NoError(t, err)
	m, err := migrate.New("file://"+dir, "mysql://"+dsn)
	require.NoError(t, err)
	require.NoError(t, m.Up())
	srcErr, dbErr := m.Close()
	require.NoError(t, srcErr)
	require.NoError(t, dbErr)

	db, err := sql.Open("mysql", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.PingContext(ctx))

	return repositories.NewStore(db)
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func TestIntegration_MySQL_Repositories(t *testing.T) {
	store := setupMySQL(t)
	ctx := context.Background()

	church := &models.Church{Name: "Iglesia Central", City: "Lima", Pastor: "R. Soto", Active: true}
	require.NoError(t, store.Churches().Insert(ctx, church))
	require.NotZero(t, church.ID)

	t.Run("church", func(t *testing.T) {
		got, err := store.Churches().GetByID(ctx, church.ID)
		require.NoError(t, err)
		assert.Equal(t, "Iglesia Central", got.Name)
		assert.Equal(t, "Lima", got.City)
		assert.True(t, got.Active)

		_, err = store.Churches().GetByID(ctx, 999_999)
		assert.ErrorIs(t, err, repositories.ErrNotFound)
	})

	fund := &models.Fund{Name: "Missions", Type: models.FundTypeDesignated, Active: true, CreatedBy: "admin-1"}
	require.NoError(t, store.Funds().Insert(ctx, fund))

	t.Run("fund", func(t *testing.T) {
		national, err := store.Funds().GetByID(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, models.FundTypeNational, national.Type)

		require.NoError(t, store.Funds().SetBalance(ctx, fund.ID, 4_200))
		got, err := store.Funds().GetByID(ctx, fund.ID)
		require.NoError(t, err)
		assert.Equal(t, "Missions", got.Name)
		assert.Equal(t, int64(4_200), got.CurrentBalance)

		funds, err := store.Funds().List(ctx, authz.Unrestricted, false)
		require.NoError(t, err)
		assert.Len(t, funds, 2)
	})

	t.Run("transaction", func(t *testing.T) {
		churchID := church.ID
		for i, d := range []time.Time{day(2026, time.March, 9), day(2026, time.March, 2)} {
			tx := &models.Transaction{
				FundID: fund.ID, Sequence: int64(i + 1), Date: d, Concept: "offering",
				AmountIn: 100, Balance: int64(100 * (i + 1)), ChurchID: &churchID,
				DocumentNumber: "R-1", CreatedBy: "admin-1",
			}
			require.NoError(t, store.Transactions().Insert(ctx, tx))
			require.NotZero(t, tx.ID)
		}

		rows, err := store.Transactions().ListByFund(ctx, fund.ID)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, int64(1), rows[0].Sequence)
		assert.True(t, rows[0].Date.Equal(day(2026, time.March, 9)))
		require.NotNil(t, rows[0].ChurchID)
		assert.Equal(t, church.ID, *rows[0].ChurchID)

		seq, err := store.Transactions().MaxSequence(ctx, fund.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), seq)

		latest, err := store.Transactions().LatestDate(ctx, fund.ID)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.True(t, latest.Equal(day(2026, time.March, 9)))

		none, err := store.Transactions().LatestDate(ctx, 1)
		require.NoError(t, err)
		assert.Nil(t, none)

		dup := *rows[0]
		dup.ID = 0
		assert.Error(t, store.Transactions().Insert(ctx, &dup), "sequence is unique per fund")

		page, total, err := store.Transactions().List(ctx, models.TransactionQuery{FundID: fund.ID, Limit: 1}, authz.Filter{Scope: authz.ScopeOwn, ChurchID: church.ID})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		assert.Len(t, page, 1)
	})

	t.Run("report", func(t *testing.T) {
		rep := &models.MonthlyReport{
			ChurchID: church.ID, Month: 3, Year: 2026,
			Tithes: 1_000_000, Offerings: 250_000,
			Designated: []models.DesignatedAmount{{FundID: fund.ID, Amount: 50_000}},
			Expenses:   []models.ExpenseAmount{{Category: "utilities", Amount: 120_000}},
			Status:     models.ReportDraft, CreatedBy: "treasurer-1",
		}
		rep.Recompute()
		require.NoError(t, store.Reports().Insert(ctx, rep))
		require.NotZero(t, rep.ID)

		again := &models.MonthlyReport{ChurchID: church.ID, Month: 3, Year: 2026, Status: models.ReportDraft, CreatedBy: "treasurer-2"}
		assert.ErrorIs(t, store.Reports().Insert(ctx, again), repositories.ErrDuplicate)

		got, err := store.Reports().GetByPeriod(ctx, church.ID, 3, 2026)
		require.NoError(t, err)
		assert.Equal(t, rep.ID, got.ID)
		assert.Equal(t, rep.Designated, got.Designated)
		assert.Equal(t, rep.Expenses, got.Expenses)
		assert.Equal(t, rep.NationalFundContribution, got.NationalFundContribution)
		assert.Equal(t, rep.PastoralHonorarium, got.PastoralHonorarium)

		got.Status = models.ReportRejected
		got.RejectionReason = "missing deposit slip"
		require.NoError(t, store.Reports().Update(ctx, got))
		reread, err := store.Reports().GetByID(ctx, rep.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ReportRejected, reread.Status)
		assert.Equal(t, "missing deposit slip", reread.RejectionReason)

		require.NoError(t, store.Reports().ReplaceContributors(ctx, rep.ID, []*models.Contributor{
			{Name: "Ana", Amount: 30_000}, {Name: "Luis", Document: "DNI-1", Amount: 20_000},
		}))
		contributors, err := store.Reports().ListContributors(ctx, rep.ID)
		require.NoError(t, err)
		require.Len(t, contributors, 2)
		assert.Equal(t, "DNI-1", contributors[1].Document)

		last, err := store.Reports().LastForChurch(ctx, church.ID)
		require.NoError(t, err)
		assert.Equal(t, rep.ID, last.ID)
	})

	t.Run("fund event", func(t *testing.T) {
		churchID := church.ID
		ev := &models.FundEvent{
			FundID: fund.ID, ChurchID: &churchID, Name: "Youth camp",
			EventDate: day(2026, time.July, 18), Status: models.EventDraft, CreatedBy: "director-1",
		}
		require.NoError(t, store.FundEvents().Insert(ctx, ev))

		item := &models.LineItem{EventID: ev.ID, Stage: models.StageActual, Type: models.LineExpense, Description: "venue", Amount: 80_000}
		require.NoError(t, store.FundEvents().InsertLineItem(ctx, item))
		budget := &models.LineItem{EventID: ev.ID, Stage: models.StageBudget, Type: models.LineIncome, Description: "registrations", Amount: 100_000}
		require.NoError(t, store.FundEvents().InsertLineItem(ctx, budget))

		actuals, err := store.FundEvents().ListLineItems(ctx, ev.ID, models.StageActual)
		require.NoError(t, err)
		require.Len(t, actuals, 1)
		assert.Equal(t, models.StageActual, actuals[0].Stage)
		assert.Equal(t, int64(80_000), actuals[0].Amount)

		ev.Status = models.EventPendingRevision
		ev.RevisionNotes = "attach invoices"
		require.NoError(t, store.FundEvents().Update(ctx, ev))
		got, err := store.FundEvents().GetByID(ctx, ev.ID)
		require.NoError(t, err)
		assert.Equal(t, models.EventPendingRevision, got.Status)
		assert.Equal(t, "attach invoices", got.RevisionNotes)

		counts, err := store.FundEvents().CountByStatus(ctx, authz.Unrestricted)
		require.NoError(t, err)
		assert.Equal(t, 1, counts[models.EventPendingRevision])
	})

	t.Run("audit", func(t *testing.T) {
		entry := &models.AuditEntry{
			EntityType: models.EntityFund, EntityID: fund.ID, Action: models.AuditActionCreated,
			Details: json.RawMessage(`{"name":"Missions"}`), UserID: "admin-1",
		}
		require.NoError(t, store.Audit().Insert(ctx, entry))
		entries, err := store.Audit().ListByEntity(ctx, models.EntityFund, fund.ID)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.JSONEq(t, `{"name":"Missions"}`, string(entries[0].Details))
	})
}

func TestIntegration_MySQL_WithinTx(t *testing.T) {
	store := setupMySQL(t)
	ctx := context.Background()
	errAbort := errors.New("abort")

	var churchID int64
	err := store.WithinTx(ctx, func(tx repositories.Store) error {
		c := &models.Church{Name: "Iglesia Norte", City: "Piura", Active: true}
		if err := tx.Churches().Insert(ctx, c); err != nil {
			return err
		}
		churchID = c.ID
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)
	_, err = store.Churches().GetByID(ctx, churchID)
	assert.ErrorIs(t, err, repositories.ErrNotFound, "rollback discards the insert")

	err = store.WithinTx(ctx, func(tx repositories.Store) error {
		fund, err := tx.Funds().GetForUpdate(ctx, 1)
		if err != nil {
			return err
		}
		return tx.WithinTx(ctx, func(inner repositories.Store) error {
			return inner.Funds().SetBalance(ctx, fund.ID, fund.CurrentBalance+500)
		})
	})
	require.NoError(t, err)
	national, err := store.Funds().GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(500), national.CurrentBalance)
}
