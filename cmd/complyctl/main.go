/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"

	"github.com/concomplyai/engine/internal/agents"
	"github.com/concomplyai/engine/internal/config"
	"github.com/concomplyai/engine/internal/health"
	"github.com/concomplyai/engine/internal/ledger"
	"github.com/concomplyai/engine/internal/pipeline"
	"github.com/concomplyai/engine/internal/queue"
	"github.com/concomplyai/engine/internal/resilience"
	"github.com/concomplyai/engine/internal/webhook"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type cliConfig struct {
	configPath string
	jsonOutput bool
}

func main() {
	cfg, command, args, err := parseArgs(os.Args[1:])
	if errors.Is(err, errShowUsage) {
		printUsage()
		if len(os.Args) == 1 {
			os.Exit(1)
		}
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		printUsage()
		os.Exit(1)
	}

	if command == "" {
		printUsage()
		os.Exit(1)
	}

	switch command {
	case "run":
		err = runPipeline(cfg, args)
	case "health":
		err = runHealth(cfg, args)
	case "webhook":
		err = runWebhookTest(cfg, args)
	case "version":
		fmt.Printf("complyctl %s (commit: %s, built: %s)\n", version, commit, date)
		return
	case "help", "--help", "-h":
		printUsage()
	default:
		err = fmt.Errorf("unknown command: %s", command)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var errShowUsage = errors.New("show usage")

func parseArgs(args []string) (cliConfig, string, []string, error) {
	cfg := cliConfig{
		configPath: os.Getenv("COMPLYENGINE_CONFIG"),
		jsonOutput: false,
	}

	idx := 0
	for idx < len(args) {
		arg := args[idx]
		if !strings.HasPrefix(arg, "-") {
			break
		}
		switch arg {
		case "--help", "-h":
			return cfg, "", nil, errShowUsage
		case "--config", "-c":
			if idx+1 >= len(args) {
				return cfg, "", nil, fmt.Errorf("--config requires a value")
			}
			cfg.configPath = args[idx+1]
			idx += 2
		case "--json":
			cfg.jsonOutput = true
			idx++
		default:
			return cfg, "", nil, fmt.Errorf("unknown flag: %s", arg)
		}
	}

	if idx >= len(args) {
		return cfg, "", nil, errShowUsage
	}

	return cfg, args[idx], args[idx+1:], nil
}

func printUsage() {
	fmt.Print(`Usage: complyctl [--config <path>] [--json] <command>

Commands:
  run --project <id> --permit <number> --cost <usd> [--document <id>]
                            Run one opportunity through the full pipeline
  health                    Print a point-in-time operational snapshot
  webhook <url>             Send a test "chain.completed" delivery to url
  version                   Print build information
`)
}

func newLogger() logr.Logger {
	zlog, _ := zap.NewProduction()
	return zapr.NewLogger(zlog)
}

// engine bundles the components a CLI invocation needs; each subcommand
// builds its own so that process lifetime matches command lifetime.
type engine struct {
	cfg        config.Config
	log        logr.Logger
	ledger     *ledger.Ledger
	resilience *resilience.Registry
	queues     *queue.Registry
	webhooks   *webhook.Dispatcher
}

func newEngine(cliCfg cliConfig) (*engine, error) {
	cfg, err := config.Load(cliCfg.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := newLogger()
	registry := ledger.NewRegistry(cfg.ModelSpecs())
	ldg := ledger.New(registry, log)
	res := resilience.NewRegistry()
	queues := queue.NewRegistry(cfg.QueueConfigs(), log)
	wh := webhook.New(webhook.Config{
		Queue:      queues.Queue(queue.NameWebhooks),
		Resilience: res,
	}, log)

	return &engine{cfg: cfg, log: log, ledger: ldg, resilience: res, queues: queues, webhooks: wh}, nil
}

func runPipeline(cliCfg cliConfig, args []string) error {
	var projectID, permitNumber, documentID string
	var costUSD float64

	idx := 0
	for idx < len(args) {
		switch args[idx] {
		case "--project":
			projectID = valueAt(args, idx+1)
			idx += 2
		case "--permit":
			permitNumber = valueAt(args, idx+1)
			idx += 2
		case "--cost":
			v, err := strconv.ParseFloat(valueAt(args, idx+1), 64)
			if err != nil {
				return fmt.Errorf("--cost must be numeric: %w", err)
			}
			costUSD = v
			idx += 2
		case "--document":
			documentID = valueAt(args, idx+1)
			idx += 2
		default:
			return fmt.Errorf("unknown flag for run: %s", args[idx])
		}
	}
	if projectID == "" || permitNumber == "" {
		return fmt.Errorf("usage: complyctl run --project <id> --permit <number> --cost <usd> [--document <id>]")
	}

	eng, err := newEngine(cliCfg)
	if err != nil {
		return err
	}

	agentSet := agents.Set{
		Ledger:    eng.ledger,
		ModelName: "gpt-4o-mini",
		Documents: map[string]agents.CertificateOfInsurance{
			documentID: {
				DocumentID:               documentID,
				HasAdditionalInsured:     true,
				HasWaiverOfSubrogation:   true,
				GeneralLiabilityLimitUSD: 2_000_000,
				Legible:                  true,
			},
		},
	}

	runner := pipeline.New(agentSet.Build(), pipeline.Config{
		BudgetPerItemUSD: eng.cfg.PerItemBudgetUSD,
		StrictBudget:     eng.cfg.StrictBudget,
		Ledger:           eng.ledger,
	}, eng.log)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	chain, runErr := runner.Run(ctx, pipeline.Opportunity{
		ProjectID:            projectID,
		PermitNumber:         permitNumber,
		EstimatedProjectCost: costUSD,
	}, documentID)
	if runErr != nil {
		return fmt.Errorf("pipeline run: %w", runErr)
	}

	if cliCfg.jsonOutput {
		return PrintJSON(os.Stdout, chain)
	}

	fmt.Println(chain.Summary())
	fmt.Printf("chain integrity: %v\n", chain.VerifyIntegrity())
	return nil
}

func runHealth(cliCfg cliConfig, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("usage: complyctl health")
	}

	eng, err := newEngine(cliCfg)
	if err != nil {
		return err
	}

	collector := health.Collector{
		Resilience:      eng.resilience,
		Queues:          eng.queues,
		Ledger:          eng.ledger,
		BudgetPerItem:   eng.cfg.PerItemBudgetUSD,
		WebhookDispatch: eng.webhooks,
	}
	snap := collector.Collect()

	if cliCfg.jsonOutput {
		return PrintJSON(os.Stdout, snap)
	}

	fmt.Printf("Snapshot: %s\n", FormatTimeOrDash(snap.Timestamp))
	fmt.Printf("Meets budget: %v\n", snap.MeetsBudget)
	fmt.Printf("Total cost: $%.6f  Total tokens: %d  Operations: %d\n",
		snap.Ledger.TotalCostUSD, snap.Ledger.TotalTokens, snap.Ledger.Operations)

	if len(snap.Breakers) > 0 {
		headers := []string{"ENDPOINT", "STATE"}
		rows := make([][]string, 0, len(snap.Breakers))
		for _, b := range snap.Breakers {
			rows = append(rows, []string{b.Endpoint, ColorStatus(b.State)})
		}
		RenderTable(os.Stdout, headers, rows)
	}

	if len(snap.Queues) > 0 {
		headers := []string{"QUEUE", "DEPTH", "IN-FLIGHT"}
		rows := make([][]string, 0, len(snap.Queues))
		for _, q := range snap.Queues {
			rows = append(rows, []string{q.Name, strconv.Itoa(q.Depth), strconv.Itoa(q.InFlight)})
		}
		RenderTable(os.Stdout, headers, rows)
	}

	return nil
}

func runWebhookTest(cliCfg cliConfig, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: complyctl webhook <url>")
	}
	url := args[0]

	eng, err := newEngine(cliCfg)
	if err != nil {
		return err
	}

	taskIDs := eng.webhooks.Deliver(webhook.Params{
		Event: "chain.completed",
		Data:  map[string]string{"project_id": "test-project"},
		Subscribers: []webhook.Subscriber{
			{URL: url},
		},
	})

	summary := eng.webhooks.Await("chain.completed", taskIDs, 15*time.Second)

	if cliCfg.jsonOutput {
		return PrintJSON(os.Stdout, summary)
	}

	fmt.Printf("delivered: %d  failed: %d\n", summary.Delivered, summary.Failed)
	for u, outcome := range summary.PerURL {
		status := "SUCCEEDED"
		if !outcome.Delivered {
			status = "FAILED"
		}
		fmt.Printf("  %s -> %s (attempts=%d)\n", u, ColorStatus(status), outcome.Attempts)
	}
	return nil
}

func valueAt(args []string, i int) string {
	if i >= len(args) {
		return ""
	}
	return args[i]
}
