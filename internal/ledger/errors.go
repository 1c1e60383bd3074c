package ledger

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrUnavailable means the ledger did not answer: transport failure,
	// timeout, or no connection.
	ErrUnavailable = errors.New("ledger unavailable")

	// ErrRejected means the ledger answered and refused: the call reverted,
	// the signer was denied, or funds were insufficient.
	ErrRejected = errors.New("ledger rejected call")
)

// CallError wraps a ledger failure with the operation that hit it.
// errors.Is matches both Kind and the underlying error.
type CallError struct {
	Op   string
	Kind error
	Err  error
}

func (e *CallError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *CallError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Unavailable builds an ErrUnavailable CallError.
func Unavailable(op string, err error) error {
	return &CallError{Op: op, Kind: ErrUnavailable, Err: err}
}

// Rejected builds an ErrRejected CallError.
func Rejected(op string, err error) error {
	return &CallError{Op: op, Kind: ErrRejected, Err: err}
}

// rejectionMarkers are substrings node implementations put in errors for
// calls the chain refused, as opposed to calls that never got an answer.
var rejectionMarkers = []string{
	"execution reverted",
	"revert",
	"insufficient funds",
	"insufficient allowance",
	"denied",
	"rejected",
	"gas required exceeds",
	"nonce too low",
	"invalid sender",
}

// Classify maps a go-ethereum error onto ErrUnavailable or ErrRejected.
// Errors that are already classified pass through unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrRejected) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Unavailable(op, err)
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		return Rejected(op, err)
	}

	if errors.Is(err, bind.ErrNoCode) {
		return Rejected(op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Unavailable(op, err)
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range rejectionMarkers {
		if strings.Contains(msg, marker) {
			return Rejected(op, err)
		}
	}

	return Unavailable(op, err)
}
