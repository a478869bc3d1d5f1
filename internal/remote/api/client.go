// Package api is the HTTP/JSON client of the finance backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"finsync/internal/core"
	"finsync/internal/log"
	"finsync/internal/remote"
)

const maxErrorBody = 512

// Client talks to the backend's /api/v1 endpoints with a bearer token.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *log.Logger
}

var _ remote.Gateway = (*Client)(nil)

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
		logger:  log.WithComponent(log.ComponentRemote),
	}
}

type categoryDTO struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Emoji    string `json:"emoji"`
	IsIncome bool   `json:"isIncome"`
}

func (c categoryDTO) toDomain() core.Category {
	return core.Category{
		ID:        c.ID,
		Name:      c.Name,
		Emoji:     core.FirstRune(c.Emoji),
		Direction: core.ParseDirection(c.IsIncome),
	}
}

type accountDTO struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"userId,omitempty"`
	Name      string `json:"name"`
	Balance   string `json:"balance"`
	Currency  string `json:"currency"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

func (a accountDTO) toDomain() (core.BankAccount, error) {
	balance, err := core.ParseMoney(a.Balance)
	if err != nil {
		return core.BankAccount{}, fmt.Errorf("account %d balance %q: %w", a.ID, a.Balance, err)
	}
	return core.BankAccount{
		ID:        a.ID,
		UserID:    a.UserID,
		Name:      a.Name,
		Balance:   balance,
		Currency:  a.Currency,
		CreatedAt: parseTime(a.CreatedAt),
		UpdatedAt: parseTime(a.UpdatedAt),
	}, nil
}

type accountRequest struct {
	Name     string `json:"name"`
	Balance  string `json:"balance"`
	Currency string `json:"currency"`
}

type transactionDTO struct {
	ID              int64       `json:"id"`
	Account         accountDTO  `json:"account"`
	Category        categoryDTO `json:"category"`
	Amount          string      `json:"amount"`
	TransactionDate string      `json:"transactionDate"`
	Comment         string      `json:"comment"`
	CreatedAt       string      `json:"createdAt"`
	UpdatedAt       string      `json:"updatedAt"`
}

func (t transactionDTO) toDomain() (core.Transaction, error) {
	amount, err := core.ParseMoney(t.Amount)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("transaction %d amount %q: %w", t.ID, t.Amount, err)
	}
	date, err := time.Parse(time.RFC3339, t.TransactionDate)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("transaction %d date %q: %w", t.ID, t.TransactionDate, err)
	}
	return core.Transaction{
		ID:              t.ID,
		AccountID:       t.Account.ID,
		Category:        t.Category.toDomain(),
		Amount:          amount,
		TransactionDate: date.UTC(),
		Comment:         t.Comment,
		CreatedAt:       parseTime(t.CreatedAt),
		UpdatedAt:       parseTime(t.UpdatedAt),
	}, nil
}

type transactionRequest struct {
	AccountID       int64  `json:"accountId"`
	CategoryID      int64  `json:"categoryId"`
	Amount          string `json:"amount"`
	TransactionDate string `json:"transactionDate"`
	Comment         string `json:"comment"`
}

func newTransactionRequest(tx core.Transaction) transactionRequest {
	return transactionRequest{
		AccountID:       tx.AccountID,
		CategoryID:      tx.Category.ID,
		Amount:          tx.Amount.String(),
		TransactionDate: formatTime(tx.TransactionDate),
		Comment:         tx.Comment,
	}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func (c *Client) ListCategories(ctx context.Context) ([]core.Category, error) {
	var dtos []categoryDTO
	if err := c.do(ctx, http.MethodGet, "/api/v1/categories", nil, &dtos); err != nil {
		return nil, err
	}
	return categoriesToDomain(dtos), nil
}

func (c *Client) ListCategoriesByDirection(ctx context.Context, d core.Direction) ([]core.Category, error) {
	var dtos []categoryDTO
	path := "/api/v1/categories/type/" + strconv.FormatBool(d.IsIncome())
	if err := c.do(ctx, http.MethodGet, path, nil, &dtos); err != nil {
		return nil, err
	}
	return categoriesToDomain(dtos), nil
}

func categoriesToDomain(dtos []categoryDTO) []core.Category {
	out := make([]core.Category, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, d.toDomain())
	}
	return out
}

// FetchPrimaryAccount returns the first account the backend lists.
func (c *Client) FetchPrimaryAccount(ctx context.Context) (core.BankAccount, error) {
	var dtos []accountDTO
	if err := c.do(ctx, http.MethodGet, "/api/v1/accounts", nil, &dtos); err != nil {
		return core.BankAccount{}, err
	}
	if len(dtos) == 0 {
		return core.BankAccount{}, remote.ErrNoAccount
	}
	return dtos[0].toDomain()
}

func (c *Client) UpdateBalance(ctx context.Context, acc core.BankAccount, balance core.Money) error {
	acc.Balance = balance
	return c.UpdateAccount(ctx, acc)
}

func (c *Client) UpdateAccount(ctx context.Context, acc core.BankAccount) error {
	body := accountRequest{Name: acc.Name, Balance: acc.Balance.String(), Currency: acc.Currency}
	path := "/api/v1/accounts/" + strconv.FormatInt(acc.ID, 10)
	return c.do(ctx, http.MethodPut, path, body, nil)
}

func (c *Client) FetchTransactions(ctx context.Context, accountID int64, from, to time.Time) ([]core.Transaction, error) {
	q := url.Values{}
	q.Set("from", formatTime(from))
	q.Set("to", formatTime(to))
	path := "/api/v1/transactions/account/" + strconv.FormatInt(accountID, 10) + "/period?" + q.Encode()

	var dtos []transactionDTO
	if err := c.do(ctx, http.MethodGet, path, nil, &dtos); err != nil {
		return nil, err
	}
	out := make([]core.Transaction, 0, len(dtos))
	for _, d := range dtos {
		tx, err := d.toDomain()
		if err != nil {
			return nil, fmt.Errorf("decode transactions: %w", err)
		}
		out = append(out, tx)
	}
	return out, nil
}

func (c *Client) CreateTransaction(ctx context.Context, tx core.Transaction) error {
	return c.do(ctx, http.MethodPost, "/api/v1/transactions", newTransactionRequest(tx), nil)
}

func (c *Client) UpdateTransaction(ctx context.Context, tx core.Transaction) error {
	path := "/api/v1/transactions/" + strconv.FormatInt(tx.ID, 10)
	return c.do(ctx, http.MethodPut, path, newTransactionRequest(tx), nil)
}

func (c *Client) DeleteTransaction(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/transactions/"+strconv.FormatInt(id, 10), nil, nil)
}

// do sends one request. Transport failures come back wrapped in
// remote.ErrUnreachable, non-2xx answers as *remote.RejectedError.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "Remote request failed",
			log.FieldPath, path, log.FieldError, err, log.FieldDuration, time.Since(start).Milliseconds())
		return remote.Unreachable(err)
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "Remote request completed",
		log.FieldPath, path, log.FieldStatusCode, resp.StatusCode, log.FieldDuration, time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &remote.RejectedError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("decode %s %s: empty body", method, path)
		}
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
