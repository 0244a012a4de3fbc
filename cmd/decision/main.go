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
	"syscall"
	"time"

	"github.com/Rajchodisetti/prediction-core/internal/bus"
	"github.com/Rajchodisetti/prediction-core/internal/config"
	"github.com/Rajchodisetti/prediction-core/internal/observ"
	"github.com/Rajchodisetti/prediction-core/internal/outbox"
	"github.com/Rajchodisetti/prediction-core/internal/risk"
	"github.com/Rajchodisetti/prediction-core/internal/signals"
)

// readInputs loads one SignalInput per line; blank lines are skipped
func readInputs(path string) ([]*signals.SignalInput, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []*signals.SignalInput
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var in signals.SignalInput
		if err := json.Unmarshal(scanner.Bytes(), &in); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		out = append(out, &in)
	}
	return out, scanner.Err()
}

// restoreInventory books the outbox's earlier fills into the generators so
// inventory-aware strategies start from what was already filled
func restoreInventory(ob *outbox.Outbox, registry *signals.Registry) (int, error) {
	orders, err := outbox.ReadOrders(ob.Path())
	if err != nil {
		return 0, fmt.Errorf("read orders: %w", err)
	}
	fills, err := outbox.ReadFillRecords(ob.Path())
	if err != nil {
		return 0, fmt.Errorf("read fills: %w", err)
	}
	types := make(map[string]signals.SignalType, len(orders))
	for _, o := range orders {
		types[o.ID] = o.SignalType
	}
	booked := 0
	for _, f := range fills {
		if f.SignalType == "" {
			f.SignalType = types[f.OrderID]
		}
		if registry.RecordFill(f.GeneratorFill()) {
			booked++
		}
	}
	return booked, nil
}

func main() {
	log.SetFlags(0)

	var (
		cfgPath    string
		inputPath  string
		paper      bool
		latencyMin int
		latencyMax int
		slipMin    int
		slipMax    int
	)
	flag.StringVar(&cfgPath, "config", "config/config.yaml", "config path")
	flag.StringVar(&inputPath, "input", "fixtures/markets.jsonl", "SignalInput JSONL path")
	flag.BoolVar(&paper, "paper", false, "gate orders through the risk manager and simulate fills into the outbox")
	flag.IntVar(&latencyMin, "fill-latency-min-ms", 50, "paper fill latency lower bound")
	flag.IntVar(&latencyMax, "fill-latency-max-ms", 250, "paper fill latency upper bound")
	flag.IntVar(&slipMin, "fill-slippage-min-bps", 0, "paper fill slippage lower bound")
	flag.IntVar(&slipMax, "fill-slippage-max-bps", 30, "paper fill slippage upper bound")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := cfg.Storage.Open()
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	defer store.Close()

	ob, err := cfg.Outbox.Open()
	if err != nil {
		log.Fatalf("open outbox: %v", err)
	}

	sinks := []signals.SignalSink{store}
	if ob != nil {
		sinks = append(sinks, ob)
	}
	if cfg.Kafka.Enabled {
		pub := bus.NewSignalPublisher(bus.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.SignalTopic))
		defer pub.Close()
		sinks = append(sinks, pub)
	}

	registry := cfg.Generators.Registry()
	if ob != nil {
		booked, err := restoreInventory(ob, registry)
		if err != nil {
			log.Fatalf("restore inventory: %v", err)
		}
		observ.Log("inventory_restored", map[string]any{"fills": booked})
	}
	pipeline, err := signals.NewPipeline(cfg.Pipeline, registry, signals.DefaultValidators(cfg.Validators), signals.Tee(sinks...))
	if err != nil {
		log.Fatalf("create pipeline: %v", err)
	}

	inputs, err := readInputs(inputPath)
	if err != nil {
		log.Fatalf("read inputs: %v", err)
	}

	observ.Log("startup", map[string]any{
		"config":      cfgPath,
		"input":       inputPath,
		"markets":     len(inputs),
		"generators":  len(registry.Generators()),
		"concurrency": cfg.Workers.Concurrency,
		"storage":     cfg.Storage.Backend,
		"outbox":      ob != nil,
		"kafka":       cfg.Kafka.Enabled,
		"paper":       paper,
	})

	batch := signals.NewPool(pipeline, cfg.Workers.Concurrency).Run(ctx, inputs)

	approved := make(map[string]bool)
	for i, res := range batch.Results {
		if res == nil {
			continue
		}
		entry := map[string]any{
			"market_id":          res.MarketID,
			"candidates":         res.Candidates,
			"signals":            len(res.Signals),
			"rejections":         len(res.Rejections),
			"generator_failures": len(res.GeneratorFailures),
			"persisted":          res.Persisted,
		}
		if err := batch.Errors[i]; err != nil {
			entry["error"] = err.Error()
		}
		observ.Log("decision", entry)
		for _, s := range res.Signals {
			approved[s.ID] = true
			fmt.Printf("%s %s %s %s@%s size=$%s ev=$%s conf=%.2f\n",
				s.MarketID, s.SignalType, s.Direction, s.OutcomeID,
				s.EntryPrice.StringFixed(4), s.PositionSize.StringFixed(2), s.ExpectedValue.StringFixed(2), s.Confidence)
		}
	}
	observ.Log("done", map[string]any{"markets": len(inputs), "signals": len(approved)})

	if paper {
		if ob == nil {
			log.Fatalf("paper mode needs the outbox enabled")
		}
		sim := outbox.NewFillSimulator(latencyMin, latencyMax, slipMin, slipMax, time.Now().UnixNano())
		if err := paperTrade(ctx, cfg, ob, sim, registry, approved); err != nil {
			log.Fatalf("paper trade: %v", err)
		}
	}
}

// paperTrade gates this run's orders through the risk manager, then fills
// the approved ones and books the fills with the risk manager and the
// generator that produced each order
func paperTrade(ctx context.Context, cfg config.Root, ob *outbox.Outbox, sim *outbox.FillSimulator, registry *signals.Registry, batch map[string]bool) error {
	manager, err := risk.NewManager(cfg.Risk, ob)
	if err != nil {
		return err
	}
	orders, err := outbox.ReadOrders(ob.Path())
	if err != nil {
		return fmt.Errorf("read orders: %w", err)
	}

	for _, order := range orders {
		if !batch[order.SignalID] || !order.LimitPrice.IsPositive() {
			continue
		}
		shares := order.Notional.Div(order.LimitPrice)
		eval, err := manager.EvaluateTrade(order.MarketID, order.OutcomeID, order.Side, order.LimitPrice, shares)
		if err != nil {
			observ.IncCounter("paper_orders_blocked_total", map[string]string{"signal_type": string(order.SignalType)})
			observ.Log("paper_order_blocked", map[string]any{"order_id": order.ID, "market_id": order.MarketID, "reason": err.Error()})
			continue
		}
		for _, w := range eval.Warnings {
			observ.Log("paper_order_warning", map[string]any{"order_id": order.ID, "warning": w.Error()})
		}

		fill, latency := sim.SimulateFill(order)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(latency):
		}
		if err := ob.WriteFill(fill); err != nil {
			return fmt.Errorf("write fill for %s: %w", order.ID, err)
		}
		if err := manager.ProcessEvent(ctx, fill.MarketEvent()); err != nil {
			log.Printf("book fill for %s: %v", order.ID, err)
			continue
		}
		registry.RecordFill(fill.GeneratorFill())
		observ.Observe("paper_fill_latency_ms", float64(fill.LatencyMs), nil)
		observ.Observe("paper_fill_slippage_bps", float64(fill.SlippageBps), nil)
	}

	observ.Log("paper_summary", map[string]any{"summary": manager.Summary().String()})
	return nil
}
