package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestStubReturnsSameReferenceOnResubmit(t *testing.T) {
	stub := NewStub(zerolog.Nop())
	sub := Submission{WithdrawalID: uuid.New(), Amount: 500, Method: "mpesa", Destination: "+254700000001"}

	first, err := stub.Submit(context.Background(), sub)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	second, err := stub.Submit(context.Background(), sub)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if first != second || stub.Submitted() != 1 {
		t.Fatalf("expected one reference, got %q and %q (%d submitted)", first, second, stub.Submitted())
	}
}

func TestStubRejects(t *testing.T) {
	stub := NewStub(zerolog.Nop())
	stub.Reject = func(s Submission) bool { return s.Method == "card" }

	_, err := stub.Submit(context.Background(), Submission{WithdrawalID: uuid.New(), Amount: 500, Method: "card"})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if stub.Submitted() != 0 {
		t.Fatalf("rejected submissions must not be recorded")
	}
}

func TestStubHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewStub(zerolog.Nop()).Submit(ctx, Submission{WithdrawalID: uuid.New(), Method: "bank"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
