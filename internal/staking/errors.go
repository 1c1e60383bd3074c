package staking

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/moltbunker/lockstake/internal/ledger"
)

// Error kinds returned by the staking components. Ledger failures keep
// their ledger.ErrUnavailable or ledger.ErrRejected kind.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrTxFailed            = errors.New("transaction failed")
	ErrNotClaimable        = errors.New("position not claimable")
	ErrOperationInProgress = errors.New("operation in progress")
	ErrLoadFailed          = errors.New("load failed")
	ErrApprovalFailed      = errors.New("approval failed")
	ErrDepositFailed       = errors.New("deposit failed")
	ErrAccountChanged      = errors.New("account changed")
	ErrNoSession           = errors.New("no active session")
)

// ActionError reports a failed staking operation. errors.Is matches Kind
// as well as anything in Err's chain.
type ActionError struct {
	Op       string
	Account  common.Address
	Index    uint64
	HasIndex bool
	Kind     error
	Err      error
}

func (e *ActionError) Error() string {
	target := e.Account.Hex()
	if e.HasIndex {
		target = fmt.Sprintf("%s#%d", target, e.Index)
	}

	switch {
	case e.Kind != nil && e.Err != nil:
		return fmt.Sprintf("%s %s: %v: %v", e.Op, target, e.Kind, e.Err)
	case e.Kind != nil:
		return fmt.Sprintf("%s %s: %v", e.Op, target, e.Kind)
	default:
		return fmt.Sprintf("%s %s: %v", e.Op, target, e.Err)
	}
}

func (e *ActionError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func accountError(op string, account common.Address, kind, err error) error {
	return &ActionError{Op: op, Account: account, Kind: kind, Err: err}
}

func indexError(op string, account common.Address, index uint64, kind, err error) error {
	return &ActionError{Op: op, Account: account, Index: index, HasIndex: true, Kind: kind, Err: err}
}

// rejectionReason names err for the rejections metric.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrOperationInProgress):
		return "in_progress"
	case errors.Is(err, ErrNotClaimable):
		return "not_claimable"
	case errors.Is(err, ErrAccountChanged):
		return "account_changed"
	case errors.Is(err, ledger.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ledger.ErrRejected):
		return "rejected"
	default:
		return "other"
	}
}
