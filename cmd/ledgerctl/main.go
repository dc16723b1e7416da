package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/hardware-ledger/cmd/ledgerctl/cli"
	"github.com/odyssey-erp/hardware-ledger/internal/app"
	"github.com/odyssey-erp/hardware-ledger/internal/auth"
	"github.com/odyssey-erp/hardware-ledger/internal/ledger"
	"github.com/odyssey-erp/hardware-ledger/internal/platform/db"
	"github.com/odyssey-erp/hardware-ledger/internal/shared"
)

const usage = `usage: ledgerctl <command> [flags]

commands:
  migrate      apply the database schema
  reconcile    compare balances with their movement history
  enqueue      queue a reconciliation on the worker
  queue        print default queue statistics and recent failures
  token        issue an API bearer token
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	var code int
	switch os.Args[1] {
	case "migrate":
		code = runMigrate(ctx, cfg, logger)
	case "reconcile":
		code = runReconcile(ctx, cfg, logger, os.Args[2:])
	case "enqueue":
		code = runEnqueue(ctx, cfg, os.Args[2:])
	case "queue":
		code = runQueue(cfg, os.Args[2:])
	case "token":
		code = runToken(cfg, os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		code = 2
	}
	stop()
	os.Exit(code)
}

func runMigrate(ctx context.Context, cfg *app.Config, logger *slog.Logger) int {
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		return 1
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		logger.Error("migrate schema", slog.Any("error", err))
		return 1
	}
	logger.Info("schema applied")
	return 0
}

func runReconcile(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	ref := fs.String("ref", "", "reconcile a single entity ref, e.g. stock:S1/HAMMER")
	asJSON := fs.Bool("json", false, "print the summary as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: int32(cfg.ReconcileConcurrency) + 1})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		return 1
	}
	defer pool.Close()

	service := ledger.NewService(ledger.NewRepository(pool), logger, ledger.WithConcurrency(cfg.ReconcileConcurrency))
	return cli.NewLedgerCLI(service).ReconcileCommand(ctx, cli.ReconcileOptions{
		Ref:        *ref,
		JSONOutput: *asJSON,
	})
}

func redisOpts(cfg *app.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}

func runEnqueue(ctx context.Context, cfg *app.Config, args []string) int {
	fs := flag.NewFlagSet("enqueue", flag.ContinueOnError)
	ref := fs.String("ref", "", "limit the run to one entity ref")
	requestedBy := fs.String("by", "ledgerctl", "name recorded as the requester")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *ref != "" {
		if _, err := ledger.ParseEntityRef(*ref); err != nil {
			fmt.Fprintf(os.Stderr, "enqueue: %v\n", err)
			return 2
		}
	}

	queue := cli.DialQueue(redisOpts(cfg))
	defer queue.Close()

	info, err := queue.EnqueueReconcile(ctx, *requestedBy, *ref)
	if err != nil {
		fmt.Fprintf(os.Stderr, "enqueue: %v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	return 0
}

func runQueue(cfg *app.Config, args []string) int {
	fs := flag.NewFlagSet("queue", flag.ContinueOnError)
	failures := fs.Int("failures", 5, "number of recent failed tasks to list")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	queue := cli.DialQueue(redisOpts(cfg))
	defer queue.Close()

	stats, err := queue.Snapshot(*failures)
	if err != nil {
		fmt.Fprintf(os.Stderr, "queue: %v\n", err)
		return 1
	}
	if err := json.NewEncoder(os.Stdout).Encode(stats); err != nil {
		fmt.Fprintf(os.Stderr, "queue: %v\n", err)
		return 1
	}
	return 0
}

func runToken(cfg *app.Config, args []string) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("sub", "", "user id placed in the token subject")
	name := fs.String("name", "", "display name")
	roles := fs.String("roles", "", "comma separated roles")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *subject == "" {
		fmt.Fprintln(os.Stderr, "token: -sub is required")
		return 2
	}

	svc, err := auth.NewService(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "token: %v\n", err)
		return 1
	}
	principal := shared.Principal{UserID: *subject, Name: *name}
	for _, role := range strings.Split(*roles, ",") {
		if role = strings.TrimSpace(role); role != "" {
			principal.Roles = append(principal.Roles, role)
		}
	}
	token, err := svc.Issue(principal, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "token: %v\n", err)
		return 1
	}
	fmt.Fprintln(os.Stdout, token)
	return 0
}
