package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"finsync/internal/amqp"
	"finsync/internal/cli"
	"finsync/internal/config"
	"finsync/internal/core"
	"finsync/internal/log"
	"finsync/internal/services"
)

const dateLayout = "2006-01-02"

type app struct {
	cfg    *config.Config
	logger *log.Logger
	out    io.Writer
	stack  *cli.SyncStack
}

// sync builds the stack on first use so commands that only talk to the broker
// never open the local store.
func (a *app) sync(ctx context.Context) (*services.Coordinator, error) {
	if a.stack == nil {
		stack, err := cli.BuildSyncStack(ctx, a.logger, a.cfg)
		if err != nil {
			return nil, err
		}
		a.stack = stack
	}
	return a.stack.Coordinator, nil
}

func (a *app) table() *tabwriter.Writer {
	return tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
}

func (a *app) offline(reason string) {
	fmt.Fprintf(a.out, "remote unavailable (%s), showing cached data\n", reason)
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("finsync "+name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return t, nil
}

func runStatus(ctx context.Context, a *app, args []string) error {
	if err := newFlagSet("status").Parse(args); err != nil {
		return err
	}
	coord, err := a.sync(ctx)
	if err != nil {
		return err
	}
	status, err := coord.Status(ctx)
	if err != nil {
		return err
	}

	w := a.table()
	fmt.Fprintf(w, "phase\t%s\n", status.Phase)
	fmt.Fprintf(w, "pending\t%d\n", status.Outbox.Pending)
	fmt.Fprintf(w, "failed\t%d\n", status.Outbox.Failed)
	if status.Balance.Loaded {
		fmt.Fprintf(w, "balance\t%s %s\n", core.FormatMoney(status.Balance.Balance), status.Balance.Currency)
	} else {
		fmt.Fprintf(w, "balance\tnot loaded\n")
	}
	return w.Flush()
}

func runDrain(ctx context.Context, a *app, args []string) error {
	if err := newFlagSet("drain").Parse(args); err != nil {
		return err
	}
	coord, err := a.sync(ctx)
	if err != nil {
		return err
	}
	printReport(a, coord.Drain(ctx))
	return nil
}

func printReport(a *app, r services.DrainReport) {
	w := a.table()
	fmt.Fprintf(w, "attempted\t%d\n", r.Attempted)
	fmt.Fprintf(w, "replayed\t%d\n", r.Replayed)
	fmt.Fprintf(w, "failed\t%d\n", r.Failed)
	fmt.Fprintf(w, "parked\t%d\n", r.Parked)
	fmt.Fprintf(w, "skipped\t%d\n", r.Skipped)
	fmt.Fprintf(w, "remaining\t%d\n", r.Remaining())
	if r.Stopped {
		fmt.Fprintf(w, "stopped\tremote unreachable\n")
	}
	_ = w.Flush()
}

func runTransactions(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("transactions")
	fromFlag := fs.String("from", "", "first day, YYYY-MM-DD (default: everything)")
	toFlag := fs.String("to", "", "last day, YYYY-MM-DD (default: today)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	from, err := parseDate(*fromFlag)
	if err != nil {
		return err
	}
	to, err := parseDate(*toFlag)
	if err != nil {
		return err
	}

	coord, err := a.sync(ctx)
	if err != nil {
		return err
	}

	var res services.ReadResult[[]core.Transaction]
	if from.IsZero() && to.IsZero() {
		res, err = coord.FetchAllTransactions(ctx)
	} else {
		if to.IsZero() {
			to = time.Now().UTC()
		} else {
			to = to.Add(24*time.Hour - time.Nanosecond)
		}
		res, err = coord.FetchTransactions(ctx, from, to)
	}
	if err != nil {
		return err
	}

	if res.Offline() {
		a.offline(res.Reason)
	}
	w := a.table()
	fmt.Fprintln(w, "ID\tDATE\tCATEGORY\tAMOUNT\tCOMMENT")
	for _, tx := range res.Data {
		fmt.Fprintf(w, "%d\t%s\t%s %s\t%s\t%s\n",
			tx.ID,
			tx.TransactionDate.Format(dateLayout),
			tx.Category.EmojiString(), tx.Category.Name,
			core.FormatMoney(tx.SignedAmount()),
			tx.Comment)
	}
	return w.Flush()
}

func runCategories(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("categories")
	direction := fs.String("direction", "", "income or outcome (default: both)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	coord, err := a.sync(ctx)
	if err != nil {
		return err
	}

	var res services.ReadResult[[]core.Category]
	switch *direction {
	case "":
		res = coord.FetchCategories(ctx)
	case string(core.Income), string(core.Outcome):
		res = coord.FetchCategoriesByDirection(ctx, core.Direction(*direction))
	default:
		return fmt.Errorf("invalid direction %q: must be income or outcome", *direction)
	}

	if res.Offline() {
		a.offline(res.Reason)
	}
	w := a.table()
	fmt.Fprintln(w, "ID\tNAME\tDIRECTION")
	for _, c := range res.Data {
		fmt.Fprintf(w, "%d\t%s %s\t%s\n", c.ID, c.EmojiString(), c.Name, c.Direction)
	}
	return w.Flush()
}

func findCategory(ctx context.Context, coord *services.Coordinator, id int64) (core.Category, error) {
	res := coord.FetchCategories(ctx)
	for _, c := range res.Data {
		if c.ID == id {
			return c, nil
		}
	}
	return core.Category{}, fmt.Errorf("category %d not found", id)
}

func printWrite(a *app, verb string, res services.WriteResult) {
	if res.Offline() {
		fmt.Fprintf(a.out, "%s queued for retry (%s)\n", verb, res.Reason)
		return
	}
	fmt.Fprintf(a.out, "%s synced\n", verb)
}

func runAdd(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("add")
	id := fs.Int64("id", time.Now().UnixMilli(), "transaction id")
	amountFlag := fs.String("amount", "", "positive amount, e.g. 12.50")
	categoryID := fs.Int64("category", 0, "category id")
	dateFlag := fs.String("date", "", "transaction day, YYYY-MM-DD (default: today)")
	comment := fs.String("comment", "", "free-text comment")
	if err := fs.Parse(args); err != nil {
		return err
	}

	amount, err := core.ParseAmount(*amountFlag)
	if err != nil {
		return fmt.Errorf("amount %q: %w", *amountFlag, err)
	}
	date, err := parseDate(*dateFlag)
	if err != nil {
		return err
	}
	if date.IsZero() {
		date = time.Now().UTC()
	}

	coord, err := a.sync(ctx)
	if err != nil {
		return err
	}
	category, err := findCategory(ctx, coord, *categoryID)
	if err != nil {
		return err
	}
	account, err := coord.FetchPrimaryAccount(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	res, err := coord.CreateTransaction(ctx, core.Transaction{
		ID:              *id,
		AccountID:       account.Data.ID,
		Category:        category,
		Amount:          amount,
		TransactionDate: date,
		Comment:         *comment,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		return err
	}
	printWrite(a, fmt.Sprintf("transaction %d", *id), res)
	return nil
}

func runDelete(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("delete")
	id := fs.Int64("id", 0, "transaction id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id <= 0 {
		return errors.New("-id is required")
	}

	coord, err := a.sync(ctx)
	if err != nil {
		return err
	}
	all, err := coord.FetchAllTransactions(ctx)
	if err != nil {
		return err
	}
	for _, tx := range all.Data {
		if tx.ID != *id {
			continue
		}
		res, err := coord.DeleteTransaction(ctx, tx)
		if err != nil {
			return err
		}
		printWrite(a, fmt.Sprintf("delete of transaction %d", tx.ID), res)
		return nil
	}
	return fmt.Errorf("transaction %d not found", *id)
}

func runBalance(ctx context.Context, a *app, args []string) error {
	if err := newFlagSet("balance").Parse(args); err != nil {
		return err
	}
	coord, err := a.sync(ctx)
	if err != nil {
		return err
	}
	acc, err := coord.LoadBalance(ctx)
	if err != nil {
		if errors.Is(err, services.ErrNoPrimaryAccount) {
			return err
		}
		res, ferr := coord.FetchPrimaryAccount(ctx)
		if ferr != nil {
			return errors.Join(err, ferr)
		}
		a.offline(res.Reason)
		acc = res.Data
	}
	fmt.Fprintf(a.out, "%s: %s %s\n", acc.Name, core.FormatMoney(acc.Balance), acc.Currency)
	return nil
}

func runOverride(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("override")
	amountFlag := fs.String("balance", "", "new balance, may be negative")
	currency := fs.String("currency", "", "ISO currency code (default: keep current)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	balance, err := core.ParseMoney(*amountFlag)
	if err != nil {
		return fmt.Errorf("balance %q: %w", *amountFlag, err)
	}

	coord, err := a.sync(ctx)
	if err != nil {
		return err
	}
	cur := *currency
	if cur == "" {
		if _, err := coord.LoadBalance(ctx); err != nil {
			return err
		}
		cur = coord.Ledger().Snapshot().Currency
	}
	if err := coord.ManualOverride(ctx, balance, cur); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "balance set to %s %s\n", core.FormatMoney(balance), cur)
	return nil
}

func runFailed(ctx context.Context, a *app, args []string) error {
	if err := newFlagSet("failed").Parse(args); err != nil {
		return err
	}
	coord, err := a.sync(ctx)
	if err != nil {
		return err
	}
	entries, err := coord.ListFailed(ctx)
	if err != nil {
		return err
	}
	w := a.table()
	fmt.Fprintln(w, "SEQ\tKIND\tID\tACTION\tATTEMPTS\tQUEUED\tLAST ERROR")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%d\t%s\t%s\n",
			e.Seq, e.Payload.Kind, e.ID, e.Action, e.Attempts,
			e.Timestamp.Format(time.RFC3339), e.LastError)
	}
	return w.Flush()
}

func runRetryFailed(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("retry-failed")
	olderThan := fs.Duration("older-than", 0, "only requeue entries parked at least this long ago")
	if err := fs.Parse(args); err != nil {
		return err
	}
	coord, err := a.sync(ctx)
	if err != nil {
		return err
	}
	n, err := coord.RetryFailed(ctx, time.Now().UTC().Add(-*olderThan))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "requeued %d entries\n", n)
	printReport(a, coord.Drain(ctx))
	return nil
}

func runClearOutbox(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("clear-outbox")
	yes := fs.Bool("yes", false, "confirm dropping every queued entry")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*yes {
		return errors.New("refusing to drop queued entries without -yes")
	}
	coord, err := a.sync(ctx)
	if err != nil {
		return err
	}
	if err := coord.ClearOutbox(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "outbox cleared")
	return nil
}

func runRequest(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("request")
	fromFlag := fs.String("from", "", "refresh: first day, YYYY-MM-DD")
	toFlag := fs.String("to", "", "refresh: last day, YYYY-MM-DD")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("want exactly one kind: %s, %s or %s",
			amqp.RequestDrain, amqp.RequestRefresh, amqp.RequestRetryFailed)
	}
	if !a.cfg.AMQPEnabled() {
		return errors.New("AMQP_URL is not set")
	}

	req := amqp.NewSyncRequest(amqp.SyncRequestKind(fs.Arg(0)))
	var err error
	if req.From, err = parseDate(*fromFlag); err != nil {
		return err
	}
	if req.To, err = parseDate(*toFlag); err != nil {
		return err
	}
	if !req.To.IsZero() {
		req.To = req.To.Add(24*time.Hour - time.Nanosecond)
	}
	// Round-trip through the decoder so a bad request fails here, not in the worker.
	body, err := req.ToJSON()
	if err != nil {
		return err
	}
	if _, err := amqp.SyncRequestFromJSON(body); err != nil {
		return err
	}

	client, err := amqp.NewClient(amqp.Config{
		URL:              a.cfg.AMQPURL,
		Exchange:         a.cfg.AMQPExchange,
		RequestQueue:     a.cfg.AMQPRequestQueue,
		EventsRoutingKey: a.cfg.AMQPEventsRouting,
	})
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer client.Close()

	if err := client.PublishSyncRequest(ctx, req); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "sync request %s sent (%s)\n", req.ID, req.Kind)
	return nil
}
