package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/prediction-core/internal/config"
	"github.com/Rajchodisetti/prediction-core/internal/observ"
	"github.com/Rajchodisetti/prediction-core/internal/report"
	"github.com/Rajchodisetti/prediction-core/internal/risk"
)

type demoClock struct{ now time.Time }

func (c *demoClock) Now() time.Time          { return c.now }
func (c *demoClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var politics = []string{"pres-2028-dem", "pres-2028-gop", "senate-control-2026", "house-control-2026"}

func main() {
	log.SetFlags(0)

	var (
		cfgPath string
		dataDir string
		verbose bool
	)
	flag.StringVar(&cfgPath, "config", "", "config path (defaults apply when empty)")
	flag.StringVar(&dataDir, "data", "data/demo", "directory for demo state and breaker log")
	flag.BoolVar(&verbose, "verbose", false, "keep structured logs on stdout")
	flag.Parse()

	cfg := config.Default()
	if cfgPath != "" {
		var err error
		if cfg, err = config.Load(cfgPath); err != nil {
			log.Fatalf("load config: %v", err)
		}
	}
	if !verbose {
		observ.SetOutput(io.Discard)
	}

	if err := os.RemoveAll(dataDir); err != nil {
		log.Fatalf("reset %s: %v", dataDir, err)
	}
	rc := cfg.Risk
	rc.StatePath = filepath.Join(dataDir, "portfolio_state.json")
	rc.EventLogPath = filepath.Join(dataDir, "breaker_events.jsonl")
	rc.ThemeMap = map[string]string{}
	for _, m := range politics {
		rc.ThemeMap[m] = "politics"
	}

	manager, err := risk.NewManager(rc, nil)
	if err != nil {
		log.Fatalf("create manager: %v", err)
	}
	clock := &demoClock{now: time.Now().UTC().Truncate(24 * time.Hour).Add(14 * time.Hour)}
	manager.WithClock(clock.Now)
	ctx := context.Background()

	fmt.Println("Risk manager demo")
	fmt.Println("=================")
	fmt.Printf("bankroll $%s, max position $%s, daily loss limit $%s\n\n",
		rc.Bankroll.StringFixed(2), rc.Limits.MaxPositionSize.StringFixed(2), rc.CircuitBreaker.DailyLossLimit.StringFixed(2))

	step("1. a small trade inside every limit")
	evaluate(manager, "fed-cut-dec", d("0.50"), d("100"))

	step("2. an oversized trade")
	evaluate(manager, "fed-cut-dec", d("0.50"), d("300"))

	step("3. filling the politics theme")
	for _, m := range politics {
		if !evaluate(manager, m, d("0.45"), d("200")) {
			break
		}
		mustProcess(ctx, manager, risk.MarketEvent{
			Type: risk.EventTrade, MarketID: m, OutcomeID: "yes", Side: risk.Buy,
			Price: d("0.45"), Size: d("200"), Timestamp: clock.Now(),
		})
	}

	step("4. closing positions at a loss trips the breaker")
	for _, m := range politics[:2] {
		clock.Advance(5 * time.Minute)
		mustProcess(ctx, manager, risk.MarketEvent{
			Type: risk.EventTrade, MarketID: m, OutcomeID: "yes", Side: risk.Sell,
			Price: d("0.05"), Size: d("200"), Timestamp: clock.Now(),
		})
		fmt.Printf("   sold %s, breaker %s\n", m, manager.BreakerStatus().State)
	}
	evaluate(manager, "fed-cut-dec", d("0.50"), d("10"))

	step("5. the loss persists after each cooldown until the breaker halts")
	for i := 0; i < rc.CircuitBreaker.MaxViolationsPerDay; i++ {
		clock.Advance(time.Duration(rc.CircuitBreaker.CooldownMinutes+1) * time.Minute)
		mustProcess(ctx, manager, risk.MarketEvent{
			Type: risk.EventPriceTick, MarketID: politics[2], OutcomeID: "yes",
			Price: d("0.44"), Timestamp: clock.Now(),
		})
		st := manager.BreakerStatus()
		fmt.Printf("   +%dm: breaker %s (%d/%d violations today)\n",
			rc.CircuitBreaker.CooldownMinutes+1, st.State, st.ViolationsToday, st.MaxViolations)
	}

	step("6. a new UTC day lifts the halt")
	clock.Advance(24 * time.Hour)
	evaluate(manager, "fed-cut-dec", d("0.50"), d("10"))

	step("7. stop loss on a sharp drop")
	mustProcess(ctx, manager, risk.MarketEvent{
		Type: risk.EventPriceTick, MarketID: politics[2], OutcomeID: "yes",
		Price: d("0.30"), Timestamp: clock.Now(),
	})

	fmt.Println()
	report.PrintSummary(os.Stdout, manager.Summary(), manager.Metrics())

	fmt.Println("\nBreaker events:")
	for _, ev := range manager.BreakerEvents(20) {
		fmt.Printf("   %s %-20s %v\n", ev.Timestamp.Format("2006-01-02 15:04"), ev.Type, ev.Data)
	}
}

func step(title string) { fmt.Printf("\n%s\n", title) }

// evaluate prints the decision and reports whether the trade was approved
func evaluate(m *risk.Manager, market string, price, size decimal.Decimal) bool {
	eval, err := m.EvaluateTrade(market, "yes", risk.Buy, price, size)
	if eval == nil {
		fmt.Printf("   %s: invalid request: %v\n", market, err)
		return false
	}
	if !eval.Approved {
		fmt.Printf("   %s $%s: REJECTED %s (%v)\n", market, eval.Value.StringFixed(2), eval.Violation.Kind, err)
		return false
	}
	fmt.Printf("   %s $%s: approved, kelly limit $%s, risk %s\n",
		market, eval.Value.StringFixed(2), eval.KellyLimit.StringFixed(2), eval.RiskLevel)
	for _, w := range eval.Warnings {
		fmt.Printf("      warning: %v\n", w)
	}
	return true
}

func mustProcess(ctx context.Context, m *risk.Manager, ev risk.MarketEvent) {
	if err := m.ProcessEvent(ctx, ev); err != nil {
		log.Fatalf("process %s %s: %v", ev.Type, ev.MarketID, err)
	}
}
