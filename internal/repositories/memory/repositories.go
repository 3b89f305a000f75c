package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"treasury-service/internal/authz"
	"treasury-service/internal/models"
	"treasury-service/internal/repositories"
)

func now() time.Time {
	return time.Now().UTC()
}

type churchRepo struct{ s *Store }

func (r churchRepo) Insert(_ context.Context, c *models.Church) error {
	return r.s.do(func(st *state) error {
		c.ID = st.nextID("churches")
		c.CreatedAt, c.UpdatedAt = now(), now()
		st.churches[c.ID] = *c
		return nil
	})
}

func (r churchRepo) GetByID(_ context.Context, id int64) (*models.Church, error) {
	var out *models.Church
	err := r.s.do(func(st *state) error {
		c, ok := st.churches[id]
		if !ok {
			return repositories.ErrNotFound
		}
		out = &c
		return nil
	})
	return out, err
}

func (r churchRepo) List(_ context.Context, filter authz.Filter) ([]*models.Church, error) {
	out := []*models.Church{}
	err := r.s.do(func(st *state) error {
		for _, c := range st.churches {
			if filter.Covers(authz.Target{ChurchID: c.ID}) {
				c := c
				out = append(out, &c)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *models.Church) int { return cmp.Compare(a.Name, b.Name) })
	return out, err
}

type fundRepo struct{ s *Store }

func (r fundRepo) Insert(_ context.Context, f *models.Fund) error {
	return r.s.do(func(st *state) error {
		f.ID = st.nextID("funds")
		f.CreatedAt, f.UpdatedAt = now(), now()
		st.funds[f.ID] = *f
		return nil
	})
}

func (r fundRepo) GetByID(_ context.Context, id int64) (*models.Fund, error) {
	var out *models.Fund
	err := r.s.do(func(st *state) error {
		f, ok := st.funds[id]
		if !ok {
			return repositories.ErrNotFound
		}
		out = &f
		return nil
	})
	return out, err
}

// GetForUpdate needs no row lock: transactions are already serialized.
func (r fundRepo) GetForUpdate(ctx context.Context, id int64) (*models.Fund, error) {
	return r.GetByID(ctx, id)
}

func (r fundRepo) List(_ context.Context, filter authz.Filter, includeInactive bool) ([]*models.Fund, error) {
	out := []*models.Fund{}
	err := r.s.do(func(st *state) error {
		for _, f := range st.funds {
			if !includeInactive && !f.Active {
				continue
			}
			if filter.Covers(authz.Target{FundID: f.ID}) {
				f := f
				out = append(out, &f)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *models.Fund) int { return cmp.Compare(a.Name, b.Name) })
	return out, err
}

func (r fundRepo) Update(_ context.Context, f *models.Fund) error {
	return r.s.do(func(st *state) error {
		cur, ok := st.funds[f.ID]
		if !ok {
			return repositories.ErrNotFound
		}
		cur.Name, cur.Type, cur.Description, cur.Active = f.Name, f.Type, f.Description, f.Active
		cur.UpdatedAt = now()
		st.funds[f.ID] = cur
		return nil
	})
}

func (r fundRepo) SetBalance(_ context.Context, id int64, balance int64) error {
	return r.s.do(func(st *state) error {
		cur, ok := st.funds[id]
		if !ok {
			return repositories.ErrNotFound
		}
		cur.CurrentBalance = balance
		cur.UpdatedAt = now()
		st.funds[id] = cur
		return nil
	})
}

type transactionRepo struct{ s *Store }

func (r transactionRepo) Insert(_ context.Context, t *models.Transaction) error {
	return r.s.do(func(st *state) error {
		if _, ok := st.funds[t.FundID]; !ok {
			return fmt.Errorf("fund %d: %w", t.FundID, repositories.ErrNotFound)
		}
		t.ID = st.nextID("transactions")
		t.CreatedAt = now()
		st.transactions[t.ID] = copyTransaction(*t)
		return nil
	})
}

func (r transactionRepo) GetByID(_ context.Context, id int64) (*models.Transaction, error) {
	var out *models.Transaction
	err := r.s.do(func(st *state) error {
		t, ok := st.transactions[id]
		if !ok {
			return repositories.ErrNotFound
		}
		t = copyTransaction(t)
		out = &t
		return nil
	})
	return out, err
}

func (r transactionRepo) UpdateMetadata(_ context.Context, t *models.Transaction) error {
	return r.s.do(func(st *state) error {
		cur, ok := st.transactions[t.ID]
		if !ok {
			return repositories.ErrNotFound
		}
		cur.Concept, cur.DocumentNumber, cur.ProviderID = t.Concept, t.DocumentNumber, copyInt64(t.ProviderID)
		st.transactions[t.ID] = cur
		return nil
	})
}

func (r transactionRepo) Delete(_ context.Context, id int64) error {
	return r.s.do(func(st *state) error {
		if _, ok := st.transactions[id]; !ok {
			return repositories.ErrNotFound
		}
		delete(st.transactions, id)
		return nil
	})
}

func (r transactionRepo) SetRunningBalance(_ context.Context, id int64, balance int64) error {
	return r.s.do(func(st *state) error {
		cur, ok := st.transactions[id]
		if !ok {
			return repositories.ErrNotFound
		}
		cur.Balance = balance
		st.transactions[id] = cur
		return nil
	})
}

func (r transactionRepo) collect(match func(t *models.Transaction) bool) ([]*models.Transaction, error) {
	out := []*models.Transaction{}
	err := r.s.do(func(st *state) error {
		for _, t := range st.transactions {
			t := copyTransaction(t)
			if match(&t) {
				out = append(out, &t)
			}
		}
		return nil
	})
	return out, err
}

func (r transactionRepo) ListByFund(_ context.Context, fundID int64) ([]*models.Transaction, error) {
	out, err := r.collect(func(t *models.Transaction) bool { return t.FundID == fundID })
	slices.SortFunc(out, func(a, b *models.Transaction) int { return cmp.Compare(a.Sequence, b.Sequence) })
	return out, err
}

func (r transactionRepo) ListByTransferID(_ context.Context, transferID string) ([]*models.Transaction, error) {
	out, err := r.collect(func(t *models.Transaction) bool { return transferID != "" && t.TransferID == transferID })
	slices.SortFunc(out, func(a, b *models.Transaction) int { return cmp.Compare(a.ID, b.ID) })
	return out, err
}

func (r transactionRepo) MaxSequence(_ context.Context, fundID int64) (int64, error) {
	var max int64
	err := r.s.do(func(st *state) error {
		for _, t := range st.transactions {
			if t.FundID == fundID && t.Sequence > max {
				max = t.Sequence
			}
		}
		return nil
	})
	return max, err
}

func (r transactionRepo) LatestDate(_ context.Context, fundID int64) (*time.Time, error) {
	var latest *time.Time
	err := r.s.do(func(st *state) error {
		for _, t := range st.transactions {
			if t.FundID == fundID && (latest == nil || t.Date.After(*latest)) {
				d := t.Date
				latest = &d
			}
		}
		return nil
	})
	return latest, err
}

func (r transactionRepo) List(_ context.Context, q models.TransactionQuery, filter authz.Filter) ([]*models.Transaction, int, error) {
	out, err := r.collect(func(t *models.Transaction) bool {
		if !filter.Covers(authz.Target{ChurchID: deref(t.ChurchID), FundID: t.FundID}) {
			return false
		}
		switch {
		case q.FundID != 0 && t.FundID != q.FundID,
			q.ChurchID != 0 && deref(t.ChurchID) != q.ChurchID,
			q.From != nil && t.Date.Before(*q.From),
			q.To != nil && t.Date.After(*q.To),
			q.Month != 0 && int(t.Date.Month()) != q.Month,
			q.Year != 0 && t.Date.Year() != q.Year:
			return false
		}
		return true
	})
	if err != nil {
		return nil, 0, err
	}
	slices.SortFunc(out, func(a, b *models.Transaction) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		if c := cmp.Compare(a.FundID, b.FundID); c != 0 {
			return c
		}
		return cmp.Compare(b.Sequence, a.Sequence)
	})
	return page(out, q.Limit, q.Offset), len(out), nil
}

type reportRepo struct{ s *Store }

func (r reportRepo) Insert(_ context.Context, rep *models.MonthlyReport) error {
	rep.Recompute()
	return r.s.do(func(st *state) error {
		for _, existing := range st.reports {
			if existing.ChurchID == rep.ChurchID && existing.Month == rep.Month && existing.Year == rep.Year {
				return repositories.ErrDuplicate
			}
		}
		rep.ID = st.nextID("reports")
		rep.CreatedAt, rep.UpdatedAt = now(), now()
		st.reports[rep.ID] = copyReport(*rep)
		return nil
	})
}

func (r reportRepo) get(id int64) (*models.MonthlyReport, error) {
	var out *models.MonthlyReport
	err := r.s.do(func(st *state) error {
		rep, ok := st.reports[id]
		if !ok {
			return repositories.ErrNotFound
		}
		rep = copyReport(rep)
		out = &rep
		return nil
	})
	return out, err
}

func (r reportRepo) GetByID(_ context.Context, id int64) (*models.MonthlyReport, error) {
	return r.get(id)
}

func (r reportRepo) GetForUpdate(_ context.Context, id int64) (*models.MonthlyReport, error) {
	return r.get(id)
}

func (r reportRepo) find(match func(rep *models.MonthlyReport) bool) []*models.MonthlyReport {
	out := []*models.MonthlyReport{}
	_ = r.s.do(func(st *state) error {
		for _, rep := range st.reports {
			rep := copyReport(rep)
			if match(&rep) {
				out = append(out, &rep)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *models.MonthlyReport) int {
		if c := cmp.Compare(b.Year, a.Year); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Month, a.Month); c != 0 {
			return c
		}
		return cmp.Compare(a.ChurchID, b.ChurchID)
	})
	return out
}

func (r reportRepo) GetByPeriod(_ context.Context, churchID int64, month, year int) (*models.MonthlyReport, error) {
	found := r.find(func(rep *models.MonthlyReport) bool {
		return rep.ChurchID == churchID && rep.Month == month && rep.Year == year
	})
	if len(found) == 0 {
		return nil, repositories.ErrNotFound
	}
	return found[0], nil
}

func (r reportRepo) Update(_ context.Context, rep *models.MonthlyReport) error {
	rep.Recompute()
	return r.s.do(func(st *state) error {
		cur, ok := st.reports[rep.ID]
		if !ok {
			return repositories.ErrNotFound
		}
		next := copyReport(*rep)
		next.ChurchID, next.Month, next.Year = cur.ChurchID, cur.Month, cur.Year
		next.CreatedBy, next.CreatedAt = cur.CreatedBy, cur.CreatedAt
		next.UpdatedAt = now()
		rep.UpdatedAt = next.UpdatedAt
		st.reports[rep.ID] = next
		return nil
	})
}

func (r reportRepo) Delete(_ context.Context, id int64) error {
	return r.s.do(func(st *state) error {
		if _, ok := st.reports[id]; !ok {
			return repositories.ErrNotFound
		}
		delete(st.reports, id)
		delete(st.contributors, id)
		return nil
	})
}

func (r reportRepo) List(_ context.Context, q models.ReportQuery, filter authz.Filter) ([]*models.MonthlyReport, int, error) {
	out := r.find(func(rep *models.MonthlyReport) bool {
		if !filter.Covers(authz.Target{ChurchID: rep.ChurchID}) {
			return false
		}
		switch {
		case q.ChurchID != 0 && rep.ChurchID != q.ChurchID,
			q.Month != 0 && rep.Month != q.Month,
			q.Year != 0 && rep.Year != q.Year,
			q.Status != "" && rep.Status != q.Status:
			return false
		}
		return true
	})
	return page(out, q.Limit, q.Offset), len(out), nil
}

func (r reportRepo) LastForChurch(_ context.Context, churchID int64) (*models.MonthlyReport, error) {
	found := r.find(func(rep *models.MonthlyReport) bool { return rep.ChurchID == churchID })
	if len(found) == 0 {
		return nil, repositories.ErrNotFound
	}
	return found[0], nil
}

func (r reportRepo) ReplaceContributors(_ context.Context, reportID int64, contributors []*models.Contributor) error {
	return r.s.do(func(st *state) error {
		rows := make([]models.Contributor, 0, len(contributors))
		for _, c := range contributors {
			c.ID = st.nextID("contributors")
			c.ReportID = reportID
			rows = append(rows, *c)
		}
		st.contributors[reportID] = rows
		return nil
	})
}

func (r reportRepo) ListContributors(_ context.Context, reportID int64) ([]*models.Contributor, error) {
	out := []*models.Contributor{}
	err := r.s.do(func(st *state) error {
		for _, c := range st.contributors[reportID] {
			c := c
			out = append(out, &c)
		}
		return nil
	})
	return out, err
}

type fundEventRepo struct{ s *Store }

func (r fundEventRepo) Insert(_ context.Context, e *models.FundEvent) error {
	return r.s.do(func(st *state) error {
		e.ID = st.nextID("fund_events")
		e.CreatedAt, e.UpdatedAt = now(), now()
		st.events[e.ID] = copyEvent(*e)
		return nil
	})
}

func (r fundEventRepo) GetByID(_ context.Context, id int64) (*models.FundEvent, error) {
	var out *models.FundEvent
	err := r.s.do(func(st *state) error {
		e, ok := st.events[id]
		if !ok {
			return repositories.ErrNotFound
		}
		e = copyEvent(e)
		out = &e
		return nil
	})
	return out, err
}

func (r fundEventRepo) GetForUpdate(ctx context.Context, id int64) (*models.FundEvent, error) {
	return r.GetByID(ctx, id)
}

func (r fundEventRepo) Update(_ context.Context, e *models.FundEvent) error {
	return r.s.do(func(st *state) error {
		cur, ok := st.events[e.ID]
		if !ok {
			return repositories.ErrNotFound
		}
		next := copyEvent(*e)
		next.FundID, next.ChurchID = cur.FundID, copyInt64(cur.ChurchID)
		next.CreatedBy, next.CreatedAt = cur.CreatedBy, cur.CreatedAt
		next.UpdatedAt = now()
		e.UpdatedAt = next.UpdatedAt
		st.events[e.ID] = next
		return nil
	})
}

func (r fundEventRepo) Delete(_ context.Context, id int64) error {
	return r.s.do(func(st *state) error {
		if _, ok := st.events[id]; !ok {
			return repositories.ErrNotFound
		}
		delete(st.events, id)
		for _, items := range st.lineItems {
			for itemID, it := range items {
				if it.EventID == id {
					delete(items, itemID)
				}
			}
		}
		return nil
	})
}

func (r fundEventRepo) visible(filter authz.Filter, e *models.FundEvent) bool {
	return filter.Covers(authz.Target{ChurchID: deref(e.ChurchID), FundID: e.FundID})
}

func (r fundEventRepo) List(_ context.Context, q models.FundEventQuery, filter authz.Filter) ([]*models.FundEvent, int, error) {
	out := []*models.FundEvent{}
	err := r.s.do(func(st *state) error {
		for _, e := range st.events {
			e := copyEvent(e)
			if !r.visible(filter, &e) {
				continue
			}
			if (q.FundID != 0 && e.FundID != q.FundID) || (q.Status != "" && e.Status != q.Status) {
				continue
			}
			out = append(out, &e)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	slices.SortFunc(out, func(a, b *models.FundEvent) int {
		if c := b.EventDate.Compare(a.EventDate); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return page(out, q.Limit, q.Offset), len(out), nil
}

func (r fundEventRepo) CountByStatus(_ context.Context, filter authz.Filter) (map[models.FundEventStatus]int, error) {
	counts := make(map[models.FundEventStatus]int, len(models.AllEventStatuses))
	for _, s := range models.AllEventStatuses {
		counts[s] = 0
	}
	err := r.s.do(func(st *state) error {
		for _, e := range st.events {
			if r.visible(filter, &e) {
				counts[e.Status]++
			}
		}
		return nil
	})
	return counts, err
}

func (r fundEventRepo) items(st *state, stage models.LineItemStage) (map[int64]models.LineItem, error) {
	items, ok := st.lineItems[stage]
	if !ok {
		return nil, fmt.Errorf("unknown line item stage %q", stage)
	}
	return items, nil
}

func (r fundEventRepo) InsertLineItem(_ context.Context, item *models.LineItem) error {
	return r.s.do(func(st *state) error {
		items, err := r.items(st, item.Stage)
		if err != nil {
			return err
		}
		item.ID = st.nextID("line_items_" + string(item.Stage))
		item.CreatedAt = now()
		items[item.ID] = *item
		return nil
	})
}

func (r fundEventRepo) GetLineItem(_ context.Context, stage models.LineItemStage, id int64) (*models.LineItem, error) {
	var out *models.LineItem
	err := r.s.do(func(st *state) error {
		items, err := r.items(st, stage)
		if err != nil {
			return err
		}
		it, ok := items[id]
		if !ok {
			return repositories.ErrNotFound
		}
		out = &it
		return nil
	})
	return out, err
}

func (r fundEventRepo) UpdateLineItem(_ context.Context, item *models.LineItem) error {
	return r.s.do(func(st *state) error {
		items, err := r.items(st, item.Stage)
		if err != nil {
			return err
		}
		cur, ok := items[item.ID]
		if !ok {
			return repositories.ErrNotFound
		}
		cur.Type, cur.Description, cur.Amount, cur.Notes = item.Type, item.Description, item.Amount, item.Notes
		items[item.ID] = cur
		return nil
	})
}

func (r fundEventRepo) DeleteLineItem(_ context.Context, stage models.LineItemStage, id int64) error {
	return r.s.do(func(st *state) error {
		items, err := r.items(st, stage)
		if err != nil {
			return err
		}
		if _, ok := items[id]; !ok {
			return repositories.ErrNotFound
		}
		delete(items, id)
		return nil
	})
}

func (r fundEventRepo) ListLineItems(_ context.Context, eventID int64, stage models.LineItemStage) ([]*models.LineItem, error) {
	out := []*models.LineItem{}
	err := r.s.do(func(st *state) error {
		items, err := r.items(st, stage)
		if err != nil {
			return err
		}
		for _, it := range items {
			if it.EventID == eventID {
				it := it
				out = append(out, &it)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b *models.LineItem) int { return cmp.Compare(a.ID, b.ID) })
	return out, err
}

type auditRepo struct{ s *Store }

func (r auditRepo) Insert(_ context.Context, entry *models.AuditEntry) error {
	return r.s.do(func(st *state) error {
		entry.ID = st.nextID("audit")
		entry.CreatedAt = now()
		st.audit = append(st.audit, *entry)
		return nil
	})
}

func (r auditRepo) ListByEntity(_ context.Context, entityType string, entityID int64) ([]*models.AuditEntry, error) {
	out := []*models.AuditEntry{}
	err := r.s.do(func(st *state) error {
		for _, e := range st.audit {
			if e.EntityType == entityType && e.EntityID == entityID {
				e := e
				out = append(out, &e)
			}
		}
		return nil
	})
	return out, err
}
