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

// TokenContract is a typed binding for the staked ERC-20 token.
type TokenContract struct {
	contract     *bind.BoundContract
	contractAddr common.Address
}

// NewTokenContract binds the token at contractAddr over backend.
func NewTokenContract(backend bind.ContractBackend, contractAddr common.Address) (*TokenContract, error) {
	parsedABI, err := abi.JSON(strings.NewReader(TokenABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token ABI: %w", err)
	}

	return &TokenContract{
		contract:     bind.NewBoundContract(contractAddr, parsedABI, backend, backend, backend),
		contractAddr: contractAddr,
	}, nil
}

// Address returns the token contract address.
func (tc *TokenContract) Address() common.Address {
	return tc.contractAddr
}

// BalanceOf returns the token balance of account.
func (tc *TokenContract) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	var out []interface{}
	if err := tc.contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", account); err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return firstBigInt(out, "balanceOf")
}

// Allowance returns how much spender may transfer on owner's behalf.
func (tc *TokenContract) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	var out []interface{}
	if err := tc.contract.Call(&bind.CallOpts{Context: ctx}, &out, "allowance", owner, spender); err != nil {
		return nil, fmt.Errorf("failed to get allowance: %w", err)
	}
	return firstBigInt(out, "allowance")
}

// Approve submits approve(spender, amount).
func (tc *TokenContract) Approve(opts *bind.TransactOpts, spender common.Address, amount *big.Int) (*types.Transaction, error) {
	tx, err := tc.contract.Transact(opts, "approve", spender, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to approve: %w", err)
	}
	return tx, nil
}

// firstBigInt extracts a single uint256 return value.
func firstBigInt(out []interface{}, method string) (*big.Int, error) {
	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	v, ok := out[0].(*big.Int)
	if !ok || v == nil {
		return nil, fmt.Errorf("%s returned %T, want *big.Int", method, out[0])
	}
	return v, nil
}
