package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"finsync/internal/cli"
	"finsync/internal/log"
)

const commandTimeout = 2 * time.Minute

type command struct {
	summary string
	run     func(ctx context.Context, app *app, args []string) error
}

var commands = map[string]command{
	"status":       {"show sync phase, outbox counts and balance", runStatus},
	"drain":        {"replay queued entries against the remote", runDrain},
	"transactions": {"list transactions, remote first with cache fallback", runTransactions},
	"categories":   {"list categories, optionally by direction", runCategories},
	"add":          {"record a transaction", runAdd},
	"delete":       {"delete a transaction by id", runDelete},
	"balance":      {"load the primary account balance", runBalance},
	"override":     {"set the balance manually", runOverride},
	"failed":       {"list parked outbox entries", runFailed},
	"retry-failed": {"requeue parked entries and drain", runRetryFailed},
	"clear-outbox": {"drop every queued entry", runClearOutbox},
	"request":      {"ask a running worker to sync over AMQP", runRequest},
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: finsync <command> [flags]\n\ncommands:\n")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-13s %s\n", name, commands[name].summary)
	}
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		if os.Args[1] != "-h" && os.Args[1] != "help" {
			fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		}
		usage()
		os.Exit(2)
	}

	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	app := &app{cfg: cfg, logger: logger, out: os.Stdout}
	err := cmd.run(ctx, app, os.Args[2:])

	if app.stack != nil {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if cerr := app.stack.Close(closeCtx); cerr != nil {
			logger.Error("Failed to close sync stack", log.FieldError, cerr)
		}
		closeCancel()
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "finsync %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}
