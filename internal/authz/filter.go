package authz

import "slices"

// Target names the concrete resource a mutation or lookup touches. Zero
// values mean "not applicable"; a zero Target is a listing.
type Target struct {
	ChurchID int64
	FundID   int64
}

func (t Target) IsZero() bool {
	return t.ChurchID == 0 && t.FundID == 0
}

// Filter is the row predicate returned by an allow decision. Callers must
// apply it to every query they run on behalf of the principal.
type Filter struct {
	Scope    Scope
	ChurchID int64
	FundIDs  []int64
}

// Unrestricted is the filter used by internal callers acting with scope all.
var Unrestricted = Filter{Scope: ScopeAll}

// Empty reports whether the filter can match nothing at all.
func (f Filter) Empty() bool {
	switch f.Scope {
	case ScopeAll:
		return false
	case ScopeOwn:
		return f.ChurchID == 0
	case ScopeAssigned:
		return len(f.FundIDs) == 0
	}
	return true
}

func (f Filter) AllowsChurch(churchID int64) bool {
	switch f.Scope {
	case ScopeAll:
		return true
	case ScopeOwn:
		return churchID != 0 && churchID == f.ChurchID
	}
	return false
}

func (f Filter) AllowsFund(fundID int64) bool {
	switch f.Scope {
	case ScopeAll:
		return true
	case ScopeAssigned:
		return fundID != 0 && slices.Contains(f.FundIDs, fundID)
	}
	return false
}

// Covers reports whether target lies inside the filter. Own scope is
// decided by the church, assigned scope by the fund.
func (f Filter) Covers(t Target) bool {
	switch f.Scope {
	case ScopeAll:
		return true
	case ScopeOwn:
		return f.AllowsChurch(t.ChurchID)
	case ScopeAssigned:
		return f.AllowsFund(t.FundID)
	}
	return false
}

func filterFor(p *Principal, scope Scope) Filter {
	switch scope {
	case ScopeOwn:
		return Filter{Scope: ScopeOwn, ChurchID: p.ChurchID}
	case ScopeAssigned:
		return Filter{Scope: ScopeAssigned, FundIDs: slices.Clone(p.FundIDs)}
	}
	return Filter{Scope: ScopeAll}
}
