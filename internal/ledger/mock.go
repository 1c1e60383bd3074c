package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Method names reported to MockLedger hooks and counters.
const (
	MethodBalance        = "balance"
	MethodAllowance      = "allowance"
	MethodPositions      = "positions"
	MethodPendingReward  = "pendingReward"
	MethodIsClaimable    = "isClaimable"
	MethodIsWithdrawable = "isWithdrawable"
	MethodApprove        = "approve"
	MethodDeposit        = "deposit"
	MethodClaim          = "claim"
	MethodWithdraw       = "withdraw"
)

// Call describes one request made against a MockLedger.
type Call struct {
	Method  string
	Account common.Address
	Index   uint64
	Amount  *big.Int
}

// CallHook runs before every MockLedger request, outside the ledger lock.
// It may block on ctx; a non-nil error is returned to the caller as is and
// the request has no effect.
type CallHook func(ctx context.Context, call Call) error

type mockPosition struct {
	Position
	reward       *big.Int
	claimable    *bool
	withdrawable *bool
	withdrawn    bool
}

type mockAccount struct {
	balance    *big.Int
	allowances map[common.Address]*big.Int
	positions  []*mockPosition
}

// MockLedger is an in-memory ledger used by tests and by the CLI's
// mock_ledger mode. Positions become claimable and withdrawable at
// maturity unless overridden.
type MockLedger struct {
	mu       sync.Mutex
	staking  common.Address
	accounts map[common.Address]*mockAccount
	txStatus map[string]TxStatus
	calls    map[string]int
	hook     CallHook
	now      func() time.Time
	txCount  uint64
}

// NewMockLedger creates an empty ledger whose staking contract lives at
// stakingAddr.
func NewMockLedger(stakingAddr common.Address) *MockLedger {
	return &MockLedger{
		staking:  stakingAddr,
		accounts: make(map[common.Address]*mockAccount),
		txStatus: make(map[string]TxStatus),
		calls:    make(map[string]int),
		now:      time.Now,
	}
}

// SetNow replaces the clock used for deposit times and maturity.
func (m *MockLedger) SetNow(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// SetHook installs hook, or removes it when nil.
func (m *MockLedger) SetHook(hook CallHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = hook
}

// SetTxStatus makes every later write of method end with status. Writes
// that do not confirm leave state untouched.
func (m *MockLedger) SetTxStatus(method string, status TxStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txStatus[method] = status
}

// Calls returns how many requests of method were made.
func (m *MockLedger) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// SetBalance sets account's token balance.
func (m *MockLedger) SetBalance(account common.Address, balance *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account(account).balance = new(big.Int).Set(balance)
}

// SetAllowance sets the allowance account granted the staking contract.
func (m *MockLedger) SetAllowance(account common.Address, allowance *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account(account).allowances[m.staking] = new(big.Int).Set(allowance)
}

// AddPosition appends a position for account and returns its index.
func (m *MockLedger) AddPosition(account common.Address, amount *big.Int, depositTime, lockPeriod uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addPosition(m.account(account), amount, depositTime, lockPeriod)
}

// SetReward sets the pending reward of account's position index.
func (m *MockLedger) SetReward(account common.Address, index uint64, reward *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.position(account, index); p != nil {
		p.reward = new(big.Int).Set(reward)
	}
}

// SetClaimable overrides the claim predicate of account's position index.
func (m *MockLedger) SetClaimable(account common.Address, index uint64, claimable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.position(account, index); p != nil {
		p.claimable = &claimable
	}
}

// SetWithdrawable overrides the withdraw predicate of account's position
// index.
func (m *MockLedger) SetWithdrawable(account common.Address, index uint64, withdrawable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.position(account, index); p != nil {
		p.withdrawable = &withdrawable
	}
}

// Gateway returns a Gateway that signs as account.
func (m *MockLedger) Gateway(account common.Address) Gateway {
	return &mockGateway{MockLedger: m, account: account}
}

// StakingAddress returns the staking contract address.
func (m *MockLedger) StakingAddress() common.Address {
	return m.staking
}

// Balance implements Reader.
func (m *MockLedger) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	if err := m.enter(ctx, Call{Method: MethodBalance, Account: account}); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.account(account).balance), nil
}

// Allowance implements Reader.
func (m *MockLedger) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	if err := m.enter(ctx, Call{Method: MethodAllowance, Account: owner}); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.account(owner).allowances[spender]; ok {
		return new(big.Int).Set(a), nil
	}
	return new(big.Int), nil
}

// Positions implements Reader.
func (m *MockLedger) Positions(ctx context.Context, account common.Address) ([]Position, error) {
	if err := m.enter(ctx, Call{Method: MethodPositions, Account: account}); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Position
	for _, p := range m.account(account).positions {
		if !p.withdrawn {
			out = append(out, p.Position.Clone())
		}
	}
	return out, nil
}

// PendingReward implements Reader.
func (m *MockLedger) PendingReward(ctx context.Context, account common.Address, index uint64) (*big.Int, error) {
	if err := m.enter(ctx, Call{Method: MethodPendingReward, Account: account, Index: index}); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.position(account, index)
	if p == nil || p.withdrawn {
		return new(big.Int), nil
	}
	return new(big.Int).Set(p.reward), nil
}

// IsClaimable implements Reader.
func (m *MockLedger) IsClaimable(ctx context.Context, account common.Address, index uint64) (bool, error) {
	if err := m.enter(ctx, Call{Method: MethodIsClaimable, Account: account, Index: index}); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.predicate(account, index, func(p *mockPosition) *bool { return p.claimable }), nil
}

// IsWithdrawable implements Reader.
func (m *MockLedger) IsWithdrawable(ctx context.Context, account common.Address, index uint64) (bool, error) {
	if err := m.enter(ctx, Call{Method: MethodIsWithdrawable, Account: account, Index: index}); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.predicate(account, index, func(p *mockPosition) *bool { return p.withdrawable }), nil
}

func (m *MockLedger) enter(ctx context.Context, call Call) error {
	m.mu.Lock()
	m.calls[call.Method]++
	hook := m.hook
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Unavailable(call.Method, err)
	}
	if hook != nil {
		return hook(ctx, call)
	}
	return nil
}

// account returns the state of addr, creating it. Callers hold mu.
func (m *MockLedger) account(addr common.Address) *mockAccount {
	a, ok := m.accounts[addr]
	if !ok {
		a = &mockAccount{
			balance:    new(big.Int),
			allowances: make(map[common.Address]*big.Int),
		}
		m.accounts[addr] = a
	}
	return a
}

func (m *MockLedger) position(addr common.Address, index uint64) *mockPosition {
	a := m.account(addr)
	if index >= uint64(len(a.positions)) {
		return nil
	}
	return a.positions[index]
}

func (m *MockLedger) addPosition(a *mockAccount, amount *big.Int, depositTime, lockPeriod uint64) uint64 {
	index := uint64(len(a.positions))
	a.positions = append(a.positions, &mockPosition{
		Position: Position{
			Index:       index,
			Amount:      new(big.Int).Set(amount),
			DepositTime: depositTime,
			LockPeriod:  lockPeriod,
		},
		reward: new(big.Int),
	})
	return index
}

func (m *MockLedger) predicate(addr common.Address, index uint64, override func(*mockPosition) *bool) bool {
	p := m.position(addr, index)
	if p == nil || p.withdrawn {
		return false
	}
	if v := override(p); v != nil {
		return *v
	}
	return uint64(m.now().Unix()) >= p.MaturityTime()
}

// nextTx allocates a transaction hash and the configured outcome for
// method. Callers hold mu.
func (m *MockLedger) nextTx(method string) *TxResult {
	m.txCount++
	status, ok := m.txStatus[method]
	if !ok {
		status = TxConfirmed
	}
	return &TxResult{
		Hash:   common.BigToHash(new(big.Int).SetUint64(m.txCount)),
		Status: status,
	}
}

type mockGateway struct {
	*MockLedger
	account common.Address
}

func (g *mockGateway) Account() common.Address {
	return g.account
}

func (g *mockGateway) Approve(ctx context.Context, spender common.Address, amount *big.Int) (*TxResult, error) {
	if err := g.enter(ctx, Call{Method: MethodApprove, Account: g.account, Amount: amount}); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	res := g.nextTx(MethodApprove)
	if res.Confirmed() {
		g.MockLedger.account(g.account).allowances[spender] = new(big.Int).Set(amount)
	}
	return res, nil
}

func (g *mockGateway) Deposit(ctx context.Context, amount *big.Int, lockPeriod uint64) (*TxResult, error) {
	if err := g.enter(ctx, Call{Method: MethodDeposit, Account: g.account, Amount: amount}); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	a := g.MockLedger.account(g.account)
	allowance, ok := a.allowances[g.staking]
	if !ok || allowance.Cmp(amount) < 0 {
		return nil, Rejected(MethodDeposit, fmt.Errorf("execution reverted: insufficient allowance"))
	}
	if a.balance.Cmp(amount) < 0 {
		return nil, Rejected(MethodDeposit, fmt.Errorf("execution reverted: insufficient balance"))
	}

	res := g.nextTx(MethodDeposit)
	if !res.Confirmed() {
		return res, nil
	}

	allowance.Sub(allowance, amount)
	a.balance.Sub(a.balance, amount)
	index := g.addPosition(a, amount, uint64(g.now().Unix()), lockPeriod)
	pos := a.positions[index].Position.Clone()
	res.Position = &pos
	return res, nil
}

func (g *mockGateway) Claim(ctx context.Context, index uint64) (*TxResult, error) {
	if err := g.enter(ctx, Call{Method: MethodClaim, Account: g.account, Index: index}); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.predicate(g.account, index, func(p *mockPosition) *bool { return p.claimable }) {
		return nil, Rejected(MethodClaim, fmt.Errorf("execution reverted: position %d not claimable", index))
	}

	res := g.nextTx(MethodClaim)
	if res.Confirmed() {
		p := g.position(g.account, index)
		a := g.MockLedger.account(g.account)
		a.balance.Add(a.balance, p.reward)
		p.reward = new(big.Int)
	}
	return res, nil
}

func (g *mockGateway) Withdraw(ctx context.Context, index uint64) (*TxResult, error) {
	if err := g.enter(ctx, Call{Method: MethodWithdraw, Account: g.account, Index: index}); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.predicate(g.account, index, func(p *mockPosition) *bool { return p.withdrawable }) {
		return nil, Rejected(MethodWithdraw, fmt.Errorf("execution reverted: position %d not withdrawable", index))
	}

	res := g.nextTx(MethodWithdraw)
	if res.Confirmed() {
		p := g.position(g.account, index)
		a := g.MockLedger.account(g.account)
		a.balance.Add(a.balance, p.Amount)
		a.balance.Add(a.balance, p.reward)
		p.reward = new(big.Int)
		p.withdrawn = true
	}
	return res, nil
}

var (
	_ Reader  = (*MockLedger)(nil)
	_ Gateway = (*mockGateway)(nil)
)
