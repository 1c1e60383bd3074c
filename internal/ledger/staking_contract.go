package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// stakeInfo mirrors the tuple returned by getStakeInfoByAddress.
type stakeInfo struct {
	Amount      *big.Int
	DepositTime *big.Int
	LockPeriod  *big.Int
}

// DepositedEvent is the decoded Deposited log.
type DepositedEvent struct {
	User        common.Address
	Index       *big.Int
	Amount      *big.Int
	LockPeriod  *big.Int
	DepositTime *big.Int
}

// StakingContract is a typed binding for the time-locked staking pool.
type StakingContract struct {
	contract     *bind.BoundContract
	contractABI  abi.ABI
	contractAddr common.Address
}

// NewStakingContract binds the staking pool at contractAddr over backend.
// backend may be nil when only log decoding is needed.
func NewStakingContract(backend bind.ContractBackend, contractAddr common.Address) (*StakingContract, error) {
	parsedABI, err := abi.JSON(strings.NewReader(StakingABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse staking ABI: %w", err)
	}

	return &StakingContract{
		contract:     bind.NewBoundContract(contractAddr, parsedABI, backend, backend, backend),
		contractABI:  parsedABI,
		contractAddr: contractAddr,
	}, nil
}

// Address returns the staking contract address.
func (sc *StakingContract) Address() common.Address {
	return sc.contractAddr
}

// StakeInfos returns every stake entry for user, including withdrawn ones.
// The slice position of an entry is its index.
func (sc *StakingContract) StakeInfos(ctx context.Context, user common.Address) ([]Position, error) {
	var out []interface{}
	if err := sc.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getStakeInfoByAddress", user); err != nil {
		return nil, fmt.Errorf("failed to get stake info: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}

	infos := *abi.ConvertType(out[0], new([]stakeInfo)).(*[]stakeInfo)

	positions := make([]Position, 0, len(infos))
	for i, info := range infos {
		positions = append(positions, Position{
			Index:       uint64(i),
			Amount:      orZero(info.Amount),
			DepositTime: orZero(info.DepositTime).Uint64(),
			LockPeriod:  orZero(info.LockPeriod).Uint64(),
		})
	}
	return positions, nil
}

// PendingReward returns the reward accrued so far on user's entry index.
func (sc *StakingContract) PendingReward(ctx context.Context, user common.Address, index uint64) (*big.Int, error) {
	var out []interface{}
	err := sc.contract.Call(&bind.CallOpts{Context: ctx}, &out, "pendingReward", user, new(big.Int).SetUint64(index))
	if err != nil {
		return nil, fmt.Errorf("failed to get pending reward: %w", err)
	}
	return firstBigInt(out, "pendingReward")
}

// BoolView calls a view method with signature (address, uint256) -> bool.
// Used for the claimability predicates, whose method names are configurable.
func (sc *StakingContract) BoolView(ctx context.Context, method string, user common.Address, index uint64) (bool, error) {
	var out []interface{}
	err := sc.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, user, new(big.Int).SetUint64(index))
	if err != nil {
		return false, fmt.Errorf("failed to call %s: %w", method, err)
	}
	if len(out) == 0 {
		return false, fmt.Errorf("%s returned no values", method)
	}
	v, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("%s returned %T, want bool", method, out[0])
	}
	return v, nil
}

// HasMethod reports whether the bound ABI defines method.
func (sc *StakingContract) HasMethod(method string) bool {
	_, ok := sc.contractABI.Methods[method]
	return ok
}

// Deposit submits deposit(amount, lockPeriod).
func (sc *StakingContract) Deposit(opts *bind.TransactOpts, amount *big.Int, lockPeriod uint64) (*types.Transaction, error) {
	tx, err := sc.contract.Transact(opts, "deposit", amount, new(big.Int).SetUint64(lockPeriod))
	if err != nil {
		return nil, fmt.Errorf("failed to deposit: %w", err)
	}
	return tx, nil
}

// Claim submits claim(index).
func (sc *StakingContract) Claim(opts *bind.TransactOpts, index uint64) (*types.Transaction, error) {
	tx, err := sc.contract.Transact(opts, "claim", new(big.Int).SetUint64(index))
	if err != nil {
		return nil, fmt.Errorf("failed to claim: %w", err)
	}
	return tx, nil
}

// Withdraw submits withdraw(index).
func (sc *StakingContract) Withdraw(opts *bind.TransactOpts, index uint64) (*types.Transaction, error) {
	tx, err := sc.contract.Transact(opts, "withdraw", new(big.Int).SetUint64(index))
	if err != nil {
		return nil, fmt.Errorf("failed to withdraw: %w", err)
	}
	return tx, nil
}

// DepositedFromReceipt finds the Deposited event emitted for user in
// receipt. ok is false when the receipt carries none.
func (sc *StakingContract) DepositedFromReceipt(receipt *types.Receipt, user common.Address) (Position, bool) {
	if receipt == nil {
		return Position{}, false
	}

	for _, log := range receipt.Logs {
		if log == nil || log.Address != sc.contractAddr {
			continue
		}
		var ev DepositedEvent
		if err := sc.contract.UnpackLog(&ev, "Deposited", *log); err != nil {
			continue
		}
		if ev.User != user || ev.Index == nil {
			continue
		}
		return Position{
			Index:       ev.Index.Uint64(),
			Amount:      orZero(ev.Amount),
			DepositTime: orZero(ev.DepositTime).Uint64(),
			LockPeriod:  orZero(ev.LockPeriod).Uint64(),
		}, true
	}
	return Position{}, false
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
