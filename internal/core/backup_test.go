package core

import (
	"errors"
	"testing"
)

func TestPayloadRoundTripKeepsDiscriminant(t *testing.T) {
	tx := validTx()
	prev := validTx()
	prev.Amount = MustMoney("40.25")
	prev.Category.Direction = Outcome

	kind, body, err := TransactionPayload(tx, &prev).Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if kind != KindTransaction {
		t.Fatalf("expected kind %q, got %q", KindTransaction, kind)
	}

	got, err := DecodePayload(string(kind), body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Kind != KindTransaction || got.Transaction == nil || got.BankAccount != nil {
		t.Fatalf("unexpected payload shape: %+v", got)
	}
	if !got.Transaction.Amount.Equal(tx.Amount) || got.Transaction.Category.Emoji != '💰' {
		t.Fatalf("transaction not preserved: %+v", got.Transaction)
	}
	if got.Previous == nil || !got.Previous.Amount.Equal(MustMoney("40.25")) || got.Previous.Category.Direction != Outcome {
		t.Fatalf("previous version not preserved: %+v", got.Previous)
	}
}

func TestDecodePayloadRejectsUnknownKind(t *testing.T) {
	_, err := DecodePayload("budget", []byte(`{}`))
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestPayloadCheck(t *testing.T) {
	acc := BankAccount{ID: 1}
	tx := validTx()
	bad := []Payload{
		{Kind: KindTransaction},
		{Kind: KindBankAccount},
		{Kind: KindBankAccount, BankAccount: &acc, Transaction: &tx},
		{Kind: "other", Transaction: &tx},
	}
	for i, p := range bad {
		if err := p.Check(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
	if _, _, err := BankAccountPayload(acc).Encode(); err != nil {
		t.Fatalf("bank account payload should encode: %v", err)
	}
}

func TestParseAction(t *testing.T) {
	for _, s := range []string{"create", "update", "delete"} {
		if _, err := ParseAction(s); err != nil {
			t.Fatalf("%q: unexpected error %v", s, err)
		}
	}
	if _, err := ParseAction("upsert"); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
}
