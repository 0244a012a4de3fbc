package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/Rajchodisetti/prediction-core/internal/bus"
	"github.com/Rajchodisetti/prediction-core/internal/config"
	"github.com/Rajchodisetti/prediction-core/internal/observ"
	"github.com/Rajchodisetti/prediction-core/internal/outbox"
	"github.com/Rajchodisetti/prediction-core/internal/report"
	"github.com/Rajchodisetti/prediction-core/internal/risk"
)

func readEvents(path string) ([]risk.MarketEvent, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []risk.MarketEvent
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var ev risk.MarketEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		out = append(out, ev)
	}
	return out, scanner.Err()
}

func main() {
	log.SetFlags(0)

	var (
		cfgPath    string
		eventsPath string
		outboxPath string
		persist    bool
		publish    bool
		xlsxPath   string
	)
	flag.StringVar(&cfgPath, "config", "config/config.yaml", "config path")
	flag.StringVar(&eventsPath, "events", "fixtures/market_events.jsonl", "MarketEvent JSONL path")
	flag.StringVar(&outboxPath, "outbox", "", "outbox JSONL whose fills are replayed (defaults to the configured outbox)")
	flag.BoolVar(&persist, "persist", false, "replay into the configured portfolio state and breaker log instead of a scratch book")
	flag.BoolVar(&publish, "publish", false, "publish the events to the kafka event topic instead of replaying locally")
	flag.StringVar(&xlsxPath, "xlsx", "", "write the backtest workbook here (defaults to <report_dir>/backtest_<ts>.xlsx)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if outboxPath == "" && cfg.Outbox.Enabled {
		outboxPath = cfg.Outbox.Path
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events, err := readEvents(eventsPath)
	if err != nil {
		log.Fatalf("read events: %v", err)
	}
	var (
		orders []outbox.Order
		fills  []outbox.Fill
	)
	if outboxPath != "" {
		if orders, err = outbox.ReadOrders(outboxPath); err != nil {
			log.Fatalf("read orders: %v", err)
		}
		if fills, err = outbox.ReadFillRecords(outboxPath); err != nil {
			log.Fatalf("read fills: %v", err)
		}
	}

	all := make([]risk.MarketEvent, 0, len(events)+len(fills))
	all = append(all, events...)
	for _, f := range fills {
		all = append(all, f.MarketEvent())
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })
	if len(all) == 0 {
		log.Fatalf("nothing to replay")
	}

	if publish {
		if !cfg.Kafka.Enabled {
			log.Fatalf("publish needs kafka enabled")
		}
		pub := bus.NewEventPublisher(bus.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.EventTopic))
		defer pub.Close()
		if err := pub.Publish(ctx, all...); err != nil {
			log.Fatalf("publish: %v", err)
		}
		observ.Log("replay_published", map[string]any{"events": len(all), "topic": cfg.Kafka.EventTopic})
		return
	}

	rc := cfg.Risk
	if !persist {
		rc.StatePath = ""
		rc.EventLogPath = ""
	}
	manager, err := risk.NewManager(rc, nil)
	if err != nil {
		log.Fatalf("create manager: %v", err)
	}
	// the book's clock follows the replayed events
	var replayNow time.Time
	manager.WithClock(func() time.Time { return replayNow })

	failed := 0
	for _, ev := range all {
		replayNow = ev.Timestamp
		if err := manager.ProcessEvent(ctx, ev); err != nil {
			failed++
			observ.Log("replay_event_failed", map[string]any{"type": ev.Type, "market_id": ev.MarketID, "error": err.Error()})
		}
	}
	observ.Log("replay_complete", map[string]any{"events": len(all), "failed": failed})

	report.PrintSummary(os.Stdout, manager.Summary(), manager.Metrics())

	results := outbox.Executions(orders, fills, events)
	if len(results) == 0 {
		return
	}
	store, err := cfg.Storage.Open()
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	defer store.Close()
	for _, r := range results {
		if err := store.StoreExecution(ctx, r); err != nil {
			log.Fatalf("store execution %s: %v", r.SignalID, err)
		}
	}

	start, end := all[0].Timestamp, all[len(all)-1].Timestamp
	stats, err := store.GetBacktestStats(ctx, start, end)
	if err != nil {
		log.Fatalf("backtest stats: %v", err)
	}
	report.PrintBacktest(os.Stdout, stats)

	if xlsxPath == "" {
		xlsxPath = filepath.Join(cfg.Paths.ReportDir, fmt.Sprintf("backtest_%s.xlsx", time.Now().UTC().Format("20060102_150405")))
	}
	if err := report.WriteBacktestXLSX(xlsxPath, stats, results); err != nil {
		log.Fatalf("write workbook: %v", err)
	}
	observ.Log("backtest_report_written", map[string]any{"path": xlsxPath, "trades": stats.TotalTrades})
}
