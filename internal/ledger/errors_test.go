package ledger

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
)

type fakeDataError struct{}

func (fakeDataError) Error() string          { return "vm error" }
func (fakeDataError) ErrorData() interface{} { return "0x08c379a0" }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), ErrUnavailable},
		{"canceled", context.Canceled, ErrUnavailable},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, ErrUnavailable},
		{"rpc data error", fakeDataError{}, ErrRejected},
		{"no code", bind.ErrNoCode, ErrRejected},
		{"reverted", errors.New("execution reverted: not matured"), ErrRejected},
		{"insufficient funds", errors.New("insufficient funds for gas * price + value"), ErrRejected},
		{"user denied", errors.New("user denied transaction signature"), ErrRejected},
		{"nonce too low", errors.New("nonce too low"), ErrRejected},
		{"unknown", errors.New("EOF"), ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify("test", tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("Classify(%v) = %v, want kind %v", tt.err, got, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("Classify(%v) lost the underlying error", tt.err)
			}
		})
	}
}

func TestClassify_Nil(t *testing.T) {
	if err := Classify("test", nil); err != nil {
		t.Errorf("Classify(nil) = %v, want nil", err)
	}
}

func TestClassify_AlreadyClassified(t *testing.T) {
	orig := Rejected("deposit", errors.New("timeout while reverting"))
	got := Classify("outer", orig)
	if got != orig {
		t.Errorf("Classify rewrapped a classified error: %v", got)
	}
	if errors.Is(got, ErrUnavailable) {
		t.Error("rejected error should not match ErrUnavailable")
	}
}

func TestCallError_Message(t *testing.T) {
	err := Unavailable("balance", errors.New("dial tcp: refused"))
	want := "balance: ledger unavailable: dial tcp: refused"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	var callErr *CallError
	if !errors.As(err, &callErr) || callErr.Op != "balance" {
		t.Errorf("errors.As did not recover CallError: %#v", err)
	}
}
