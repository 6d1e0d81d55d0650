package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tws-bridge/internal/bridge"
	"tws-bridge/internal/model"
)

var testEndpoint = bridge.Endpoint{Host: "127.0.0.1", Port: 7497, ClientID: 1}

func TestStoreAccounts(t *testing.T) {
	s := NewStore()
	s.SetAccount(AccountFixture{
		ID:        "DU2",
		Values:    []model.AccountValue{{Key: "NetLiquidation", Value: "10.00", Currency: "USD"}},
		Positions: []model.PositionRow{{Symbol: "SPY", SecType: "STK", Position: 1}},
	})
	s.SetAccount(DefaultAccount())
	s.SetAccount(AccountFixture{ID: "DU2"})

	assert.Equal(t, []string{"DU2", "DU1234567"}, s.Accounts())

	f, ok := s.Account("DU2")
	require.True(t, ok)
	assert.Empty(t, f.Values, "upsert replaces the fixture")

	_, ok = s.Account("missing")
	assert.False(t, ok)
}

func TestStoreFillsAccountNames(t *testing.T) {
	s := NewStore()
	values := []model.AccountValue{{Key: "BuyingPower", Value: "5.00", Currency: "USD"}}
	s.SetAccount(AccountFixture{
		ID:        "DU3",
		Values:    values,
		Positions: []model.PositionRow{{Symbol: "QQQ"}},
	})

	f, ok := s.Account("DU3")
	require.True(t, ok)
	assert.Equal(t, "DU3", f.Values[0].AccountName)
	assert.Equal(t, "DU3", f.Positions[0].Account)
	assert.Empty(t, values[0].AccountName, "caller's slice is not modified")

	f.Values[0].Value = "changed"
	again, _ := s.Account("DU3")
	assert.Equal(t, "5.00", again.Values[0].Value)
}

func TestStoreScanners(t *testing.T) {
	s := NewStore()
	s.AddScanner(model.StartScanner{ReqID: 7, ScanCode: "B"})
	s.AddScanner(model.StartScanner{ReqID: 2, ScanCode: "A"})
	s.AddScanner(model.StartScanner{ReqID: 7, ScanCode: "C"})

	subs := s.Scanners()
	require.Len(t, subs, 2)
	assert.Equal(t, 2, subs[0].ReqID)
	assert.Equal(t, "C", subs[1].ScanCode)

	assert.True(t, s.RemoveScanner(2))
	assert.False(t, s.RemoveScanner(2))

	snap := s.Snapshot()
	assert.Len(t, snap.Scanners, 1)
	assert.Empty(t, snap.Accounts)
}

func TestDefaultAccount(t *testing.T) {
	acc := DefaultAccount()
	assert.Equal(t, "DU1234567", acc.ID)
	require.Len(t, acc.Values, 3)
	require.Len(t, acc.Positions, 2)
	for _, p := range acc.Positions {
		assert.Equal(t, acc.ID, p.Account)
	}
}
