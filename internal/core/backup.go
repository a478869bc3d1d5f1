package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

const (
	KindTransaction PayloadKind = "transaction"
	KindBankAccount PayloadKind = "bankAccount"
)

type (
	// Action is the mutation recorded by an outbox entry.
	Action string

	// PayloadKind discriminates the record carried by a Payload.
	PayloadKind string

	// Payload is a tagged variant: exactly one of Transaction or BankAccount is
	// set, as named by Kind. Previous is only used by transaction updates and
	// holds the version being replaced.
	Payload struct {
		Kind        PayloadKind
		Transaction *Transaction
		Previous    *Transaction
		BankAccount *BankAccount
	}

	// BackupEntry is a durably queued mutation awaiting replay.
	BackupEntry struct {
		Seq       int64 // outbox key, assigned on Add
		ID        int64 // subject id
		Action    Action
		Payload   Payload
		Timestamp time.Time
		Attempts  int64
		LastError string
	}

	// OutboxStats counts queued entries by state.
	OutboxStats struct {
		Pending int64
		Failed  int64
	}
)

var (
	ErrUnknownAction = errors.New("unknown backup action")
	ErrUnknownKind   = errors.New("unknown payload kind")
	ErrKindMismatch  = errors.New("payload body does not match its kind")
)

func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
}

func ParseKind(s string) (PayloadKind, error) {
	switch k := PayloadKind(s); k {
	case KindTransaction, KindBankAccount:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// TransactionPayload wraps a transaction. previous may be nil.
func TransactionPayload(tx Transaction, previous *Transaction) Payload {
	return Payload{Kind: KindTransaction, Transaction: &tx, Previous: previous}
}

// BankAccountPayload wraps a bank account.
func BankAccountPayload(acc BankAccount) Payload {
	return Payload{Kind: KindBankAccount, BankAccount: &acc}
}

// NewTransactionEntry builds an outbox entry for a transaction mutation.
func NewTransactionEntry(action Action, tx Transaction, previous *Transaction, now time.Time) BackupEntry {
	return BackupEntry{
		ID:        tx.ID,
		Action:    action,
		Payload:   TransactionPayload(tx, previous),
		Timestamp: now,
	}
}

// NewBankAccountEntry builds an outbox entry for an account mutation.
func NewBankAccountEntry(action Action, acc BankAccount, now time.Time) BackupEntry {
	return BackupEntry{
		ID:        acc.ID,
		Action:    action,
		Payload:   BankAccountPayload(acc),
		Timestamp: now,
	}
}

// Check verifies that the body matches the discriminant.
func (p Payload) Check() error {
	switch p.Kind {
	case KindTransaction:
		if p.Transaction == nil || p.BankAccount != nil {
			return ErrKindMismatch
		}
	case KindBankAccount:
		if p.BankAccount == nil || p.Transaction != nil || p.Previous != nil {
			return ErrKindMismatch
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, p.Kind)
	}
	return nil
}

type transactionJSON struct {
	ID              int64     `json:"id"`
	AccountID       int64     `json:"accountId"`
	CategoryID      int64     `json:"categoryId"`
	CategoryName    string    `json:"categoryName,omitempty"`
	CategoryEmoji   string    `json:"categoryEmoji,omitempty"`
	IsIncome        bool      `json:"isIncome"`
	Amount          string    `json:"amount"`
	TransactionDate time.Time `json:"transactionDate"`
	Comment         string    `json:"comment"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type transactionBody struct {
	transactionJSON
	Previous *transactionJSON `json:"previous,omitempty"`
}

type bankAccountJSON struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Name      string    `json:"name"`
	Balance   string    `json:"balance"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toTransactionJSON(t Transaction) transactionJSON {
	return transactionJSON{
		ID:              t.ID,
		AccountID:       t.AccountID,
		CategoryID:      t.Category.ID,
		CategoryName:    t.Category.Name,
		CategoryEmoji:   t.Category.EmojiString(),
		IsIncome:        t.Category.Direction.IsIncome(),
		Amount:          t.Amount.String(),
		TransactionDate: t.TransactionDate,
		Comment:         t.Comment,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

func (j transactionJSON) toDomain() (Transaction, error) {
	amount, err := ParseMoney(j.Amount)
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction %d amount: %w", j.ID, err)
	}
	return Transaction{
		ID:        j.ID,
		AccountID: j.AccountID,
		Category: Category{
			ID:        j.CategoryID,
			Name:      j.CategoryName,
			Emoji:     FirstRune(j.CategoryEmoji),
			Direction: ParseDirection(j.IsIncome),
		},
		Amount:          amount,
		TransactionDate: j.TransactionDate,
		Comment:         j.Comment,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	}, nil
}

// Encode serializes the payload body. The discriminant is returned separately and
// must be stored next to the body.
func (p Payload) Encode() (PayloadKind, []byte, error) {
	if err := p.Check(); err != nil {
		return "", nil, err
	}
	var (
		body []byte
		err  error
	)
	switch p.Kind {
	case KindTransaction:
		b := transactionBody{transactionJSON: toTransactionJSON(*p.Transaction)}
		if p.Previous != nil {
			prev := toTransactionJSON(*p.Previous)
			b.Previous = &prev
		}
		body, err = json.Marshal(b)
	case KindBankAccount:
		a := p.BankAccount
		body, err = json.Marshal(bankAccountJSON{
			ID:        a.ID,
			UserID:    a.UserID,
			Name:      a.Name,
			Balance:   a.Balance.String(),
			Currency:  a.Currency,
			CreatedAt: a.CreatedAt,
			UpdatedAt: a.UpdatedAt,
		})
	}
	if err != nil {
		return "", nil, fmt.Errorf("marshal %s payload: %w", p.Kind, err)
	}
	return p.Kind, body, nil
}

// DecodePayload rebuilds a payload from its discriminant and body.
func DecodePayload(kind string, body []byte) (Payload, error) {
	k, err := ParseKind(kind)
	if err != nil {
		return Payload{}, err
	}

	switch k {
	case KindTransaction:
		var b transactionBody
		if err := json.Unmarshal(body, &b); err != nil {
			return Payload{}, fmt.Errorf("unmarshal transaction payload: %w", err)
		}
		tx, err := b.transactionJSON.toDomain()
		if err != nil {
			return Payload{}, err
		}
		p := TransactionPayload(tx, nil)
		if b.Previous != nil {
			prev, err := b.Previous.toDomain()
			if err != nil {
				return Payload{}, err
			}
			p.Previous = &prev
		}
		return p, nil
	default:
		var a bankAccountJSON
		if err := json.Unmarshal(body, &a); err != nil {
			return Payload{}, fmt.Errorf("unmarshal bank account payload: %w", err)
		}
		balance, err := ParseMoney(a.Balance)
		if err != nil {
			return Payload{}, fmt.Errorf("bank account %d balance: %w", a.ID, err)
		}
		return BankAccountPayload(BankAccount{
			ID:        a.ID,
			UserID:    a.UserID,
			Name:      a.Name,
			Balance:   balance,
			Currency:  a.Currency,
			CreatedAt: a.CreatedAt,
			UpdatedAt: a.UpdatedAt,
		}), nil
	}
}
