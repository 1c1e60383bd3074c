package staking

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/moltbunker/lockstake/internal/ledger"
)

var (
	stakingAddr = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	alice       = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob         = common.HexToAddress("0x2222222222222222222222222222222222222222")

	testNow = time.Unix(1_700_000_000, 0)
)

func newTestLedger() *ledger.MockLedger {
	m := ledger.NewMockLedger(stakingAddr)
	m.SetNow(func() time.Time { return testNow })
	return m
}

func newTestStore() *Store {
	return NewStore(WithClock(func() time.Time { return testNow }))
}

// loadedStore returns a store holding account's view of m.
func loadedStore(t *testing.T, m *ledger.MockLedger, account common.Address) *Store {
	t.Helper()
	s := newTestStore()
	if err := s.Load(context.Background(), m, account); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", timeout, msg)
}

func days(n uint64) uint64 {
	return n * 86400
}

func tokens(n int64) *big.Int {
	return big.NewInt(n)
}
