package engine

import (
	"slices"
	"sync"

	"tws-bridge/internal/model"
)

// AccountFixture is the account state the simulator reports for one account id.
type AccountFixture struct {
	ID        string               `json:"id" yaml:"id"`
	Values    []model.AccountValue `json:"values" yaml:"values"`
	Positions []model.PositionRow  `json:"positions" yaml:"positions"`
}

// Store is a thread-safe in-memory state store for account fixtures and active
// scanner subscriptions.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]AccountFixture
	order    []string
	scanners map[int]model.StartScanner // reqID -> subscription
}

// StoreSnapshot is a point-in-time copy of all store data.
type StoreSnapshot struct {
	Accounts []AccountFixture     `json:"accounts"`
	Scanners []model.StartScanner `json:"scanners"`
}

// NewStore creates an empty state store.
func NewStore() *Store {
	return &Store{
		accounts: make(map[string]AccountFixture),
		scanners: make(map[int]model.StartScanner),
	}
}

// DefaultAccount returns the paper account reported when none is configured.
func DefaultAccount() AccountFixture {
	const id = "DU1234567"
	return AccountFixture{
		ID: id,
		Values: []model.AccountValue{
			{Key: "NetLiquidation", Value: "100000.00", Currency: "USD", AccountName: id},
			{Key: "TotalCashValue", Value: "64512.40", Currency: "USD", AccountName: id},
			{Key: "BuyingPower", Value: "258049.60", Currency: "USD", AccountName: id},
		},
		Positions: []model.PositionRow{
			{Account: id, Symbol: "AAPL", SecType: "STK", Position: 100, MarketPrice: 189.84, MarketValue: 18984, AverageCost: 172.15, UnrealizedPNL: 1769, RealizedPNL: 0},
			{Account: id, Symbol: "MSFT", SecType: "STK", Position: 40, MarketPrice: 412.59, MarketValue: 16503.6, AverageCost: 398.7, UnrealizedPNL: 555.6, RealizedPNL: 120.35},
		},
	}
}

// SetAccount upserts an account fixture. Rows without an account name inherit the fixture id.
// Accounts keep the order they were first added in.
func (s *Store) SetAccount(f AccountFixture) {
	f.Values = slices.Clone(f.Values)
	f.Positions = slices.Clone(f.Positions)
	for i := range f.Values {
		if f.Values[i].AccountName == "" {
			f.Values[i].AccountName = f.ID
		}
	}
	for i := range f.Positions {
		if f.Positions[i].Account == "" {
			f.Positions[i].Account = f.ID
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[f.ID]; !ok {
		s.order = append(s.order, f.ID)
	}
	s.accounts[f.ID] = f
}

// Account returns a copy of the fixture for id.
func (s *Store) Account(id string) (AccountFixture, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.accounts[id]
	if !ok {
		return AccountFixture{}, false
	}
	f.Values = slices.Clone(f.Values)
	f.Positions = slices.Clone(f.Positions)
	return f, true
}

// Accounts returns the known account ids in insertion order.
func (s *Store) Accounts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}

// AddScanner records an active scanner subscription, replacing any with the same reqID.
func (s *Store) AddScanner(sub model.StartScanner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanners[sub.ReqID] = sub
}

// RemoveScanner drops the subscription for reqID and reports whether it existed.
func (s *Store) RemoveScanner(reqID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scanners[reqID]; !ok {
		return false
	}
	delete(s.scanners, reqID)
	return true
}

// Scanners returns the active subscriptions ordered by reqID.
func (s *Store) Scanners() []model.StartScanner {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.StartScanner, 0, len(s.scanners))
	for _, sub := range s.scanners {
		out = append(out, sub)
	}
	slices.SortFunc(out, func(a, b model.StartScanner) int { return a.ReqID - b.ReqID })
	return out
}

// Snapshot returns a point-in-time copy of all state data.
func (s *Store) Snapshot() StoreSnapshot {
	ids := s.Accounts()
	accounts := make([]AccountFixture, 0, len(ids))
	for _, id := range ids {
		if f, ok := s.Account(id); ok {
			accounts = append(accounts, f)
		}
	}
	return StoreSnapshot{
		Accounts: accounts,
		Scanners: s.Scanners(),
	}
}
