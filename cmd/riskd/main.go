package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/Rajchodisetti/prediction-core/internal/api"
	"github.com/Rajchodisetti/prediction-core/internal/bus"
	"github.com/Rajchodisetti/prediction-core/internal/config"
	"github.com/Rajchodisetti/prediction-core/internal/observ"
	"github.com/Rajchodisetti/prediction-core/internal/risk"
)

var version = "dev"

func main() {
	log.SetFlags(0)

	var (
		cfgPath string
		addr    string
	)
	flag.StringVar(&cfgPath, "config", "config/config.yaml", "config path")
	flag.StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if addr == "" {
		addr = cfg.Server.Addr
	}
	observ.SetVersion(version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ob, err := cfg.Outbox.Open()
	if err != nil {
		log.Fatalf("open outbox: %v", err)
	}
	var sink risk.StopSink
	if ob != nil {
		sink = ob
	}
	manager, err := risk.NewManager(cfg.Risk, sink)
	if err != nil {
		log.Fatalf("create manager: %v", err)
	}

	store, err := cfg.Storage.Open()
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	defer store.Close()

	observ.Log("startup", map[string]any{
		"config":   cfgPath,
		"addr":     addr,
		"version":  version,
		"storage":  cfg.Storage.Backend,
		"outbox":   ob != nil,
		"kafka":    cfg.Kafka.Enabled,
		"bankroll": cfg.Risk.Bankroll.String(),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return api.NewServer(manager, store, cfg.Server.GinMode).Run(gctx, addr)
	})
	if cfg.Kafka.Enabled {
		consumer := bus.NewConsumer(
			bus.NewReader(cfg.Kafka.Brokers, cfg.Kafka.EventTopic, cfg.Kafka.GroupID),
			bus.NewEventHandler(manager),
		)
		defer consumer.Close()
		g.Go(func() error { return consumer.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		log.Fatalf("riskd: %v", err)
	}
	observ.Log("shutdown", map[string]any{"summary": manager.Summary().String()})
}
