// Package memory is an in-process implementation of repositories.Store.
// Transactions are serialized by one mutex and work on a copy of the state
// that replaces the committed state only when the callback succeeds.
package memory

import (
	"context"
	"slices"
	"sync"

	"treasury-service/internal/models"
	"treasury-service/internal/repositories"
)

type state struct {
	churches     map[int64]models.Church
	funds        map[int64]models.Fund
	transactions map[int64]models.Transaction
	reports      map[int64]models.MonthlyReport
	contributors map[int64][]models.Contributor
	events       map[int64]models.FundEvent
	lineItems    map[models.LineItemStage]map[int64]models.LineItem
	audit        []models.AuditEntry
	seq          map[string]int64
}

func newState() *state {
	return &state{
		churches:     map[int64]models.Church{},
		funds:        map[int64]models.Fund{},
		transactions: map[int64]models.Transaction{},
		reports:      map[int64]models.MonthlyReport{},
		contributors: map[int64][]models.Contributor{},
		events:       map[int64]models.FundEvent{},
		lineItems: map[models.LineItemStage]map[int64]models.LineItem{
			models.StageBudget: {},
			models.StageActual: {},
		},
		seq: map[string]int64{},
	}
}

func copyMap[K comparable, V any](m map[K]V, copyValue func(V) V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func same[V any](v V) V { return v }

func (s *state) clone() *state {
	c := &state{
		churches:     copyMap(s.churches, same[models.Church]),
		funds:        copyMap(s.funds, same[models.Fund]),
		transactions: copyMap(s.transactions, copyTransaction),
		reports:      copyMap(s.reports, copyReport),
		contributors: copyMap(s.contributors, copyContributors),
		events:       copyMap(s.events, copyEvent),
		lineItems:    map[models.LineItemStage]map[int64]models.LineItem{},
		audit:        slices.Clone(s.audit),
		seq:          copyMap(s.seq, same[int64]),
	}
	for stage, items := range s.lineItems {
		c.lineItems[stage] = copyMap(items, same[models.LineItem])
	}
	return c
}

func (s *state) nextID(name string) int64 {
	s.seq[name]++
	return s.seq[name]
}

type shared struct {
	mu   sync.Mutex
	data *state
}

// Store implements repositories.Store in memory.
type Store struct {
	sh   *shared
	work *state
}

var _ repositories.Store = (*Store)(nil)

func New() *Store {
	return &Store{sh: &shared{data: newState()}}
}

// do runs fn against the transaction's working state, or against the
// committed state under the store lock when called outside a transaction.
func (s *Store) do(fn func(st *state) error) error {
	if s.work != nil {
		return fn(s.work)
	}
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	return fn(s.sh.data)
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx repositories.Store) error) error {
	if s.work != nil {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()

	work := s.sh.data.clone()
	if err := fn(&Store{sh: s.sh, work: work}); err != nil {
		return err
	}
	s.sh.data = work
	return nil
}

func (s *Store) Churches() repositories.ChurchRepository { return churchRepo{s} }
func (s *Store) Funds() repositories.FundRepository { return fundRepo{s} }
func (s *Store) Transactions() repositories.TransactionRepository { return transactionRepo{s} }
func (s *Store) Reports() repositories.ReportRepository { return reportRepo{s} }
func (s *Store) FundEvents() repositories.FundEventRepository { return fundEventRepo{s} }
func (s *Store) Audit() repositories.AuditRepository { return auditRepo{s} }

func copyInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyTransaction(t models.Transaction) models.Transaction {
	t.ChurchID = copyInt64(t.ChurchID)
	t.ReportID = copyInt64(t.ReportID)
	t.FundEventID = copyInt64(t.FundEventID)
	t.ProviderID = copyInt64(t.ProviderID)
	return t
}

func copyReport(r models.MonthlyReport) models.MonthlyReport {
	r.Designated = slices.Clone(r.Designated)
	r.Expenses = slices.Clone(r.Expenses)
	return r
}

func copyContributors(c []models.Contributor) []models.Contributor {
	return slices.Clone(c)
}

func copyEvent(e models.FundEvent) models.FundEvent {
	e.ChurchID = copyInt64(e.ChurchID)
	return e
}

func deref(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

// page applies limit/offset to an already ordered slice.
func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
