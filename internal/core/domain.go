package core

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	Income  Direction = "income"
	Outcome Direction = "outcome"
)

type (
	// Direction tells whether a category adds to or subtracts from the balance.
	Direction string

	Category struct {
		ID        int64
		Name      string
		Emoji     rune
		Direction Direction
	}

	BankAccount struct {
		ID        int64
		UserID    int64
		Name      string
		Balance   Money
		Currency  string
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	// Transaction amounts are always positive magnitudes; the sign comes from
	// the category direction.
	Transaction struct {
		ID              int64
		AccountID       int64
		Category        Category
		Amount          Money
		TransactionDate time.Time
		Comment         string
		CreatedAt       time.Time
		UpdatedAt       time.Time
	}
)

var (
	ErrInvalidID       = errors.New("invalid id")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidDate     = errors.New("invalid transaction date")
	ErrInvalidCurrency = errors.New("invalid currency code")
	ErrEmptyName       = errors.New("empty account name")
)

// ParseDirection maps the wire/storage flag to a Direction.
func ParseDirection(isIncome bool) Direction {
	if isIncome {
		return Income
	}
	return Outcome
}

// IsIncome reports whether d is income. Anything else counts as outcome.
func (d Direction) IsIncome() bool {
	return d == Income
}

func (d Direction) String() string {
	if d.IsIncome() {
		return string(Income)
	}
	return string(Outcome)
}

// EmojiString returns the icon as a string, or "" when unset.
func (c Category) EmojiString() string {
	if c.Emoji == 0 {
		return ""
	}
	return string(c.Emoji)
}

// FirstRune returns the first rune of s, used to normalise emoji coming from storage or the API.
func FirstRune(s string) rune {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 || r == utf8.RuneError {
		return 0
	}
	return r
}

// SignedAmount returns the amount with the sign implied by the category direction.
func (t Transaction) SignedAmount() Money {
	if t.Category.Direction.IsIncome() {
		return t.Amount
	}
	return t.Amount.Neg()
}

func (t Transaction) Validate() error {
	if t.ID <= 0 || t.AccountID <= 0 || t.Category.ID <= 0 {
		return ErrInvalidID
	}
	if !t.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if t.TransactionDate.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

func (a BankAccount) Validate() error {
	if a.ID <= 0 {
		return ErrInvalidID
	}
	if strings.TrimSpace(a.Name) == "" {
		return ErrEmptyName
	}
	if !ValidCurrency(a.Currency) {
		return ErrInvalidCurrency
	}
	return nil
}

// ValidCurrency accepts ISO-4217-like codes: three upper-case ASCII letters.
func ValidCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return false
		}
	}
	return true
}

// FilterByDirection keeps the categories matching d.
func FilterByDirection(categories []Category, d Direction) []Category {
	out := make([]Category, 0, len(categories))
	for _, c := range categories {
		if c.Direction.IsIncome() == d.IsIncome() {
			out = append(out, c)
		}
	}
	return out
}
