// Command mdg serves a simulated broker over websocket. Every connection gets
// its own broker streaming generated quotes.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"tradecore/internal/chaos"
	"tradecore/internal/mdg"
	"tradecore/internal/ops"
	"tradecore/internal/transport"
	"tradecore/internal/transport/sim"
	"tradecore/internal/transport/wsbridge"
)

func main() {
	addr := flag.String("addr", ":7497", "Listen address")
	configPath := flag.String("config", "", "Path to a JSON or YAML config (chaos section is used)")
	interval := flag.Duration("interval", time.Second, "Delay between quotes (0=only on subscribe)")
	basePrice := flag.String("base-price", "100", "Base price")
	step := flag.String("step", "0.01", "Price step between quotes")
	spread := flag.String("spread", "0.02", "Bid/ask spread")
	size := flag.String("size", "100", "Quote size")
	nextID := flag.Int64("next-id", 1, "Next valid order id announced on connect")
	flag.Parse()

	quotes, err := parseQuotes(*basePrice, *step, *spread, *size)
	if err != nil {
		log.Fatalf("invalid quote flags: %v", err)
	}
	var chaosCfg *chaos.Config
	if *configPath != "" {
		loaded, err := ops.Load(*configPath)
		if err != nil {
			log.Fatalf("config load failed: %v", err)
		}
		chaosCfg = loaded.Chaos
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sys.Shutdown()
		cancel()
	}()

	var wg sync.WaitGroup
	backend := func() transport.Transport {
		cfg := sim.Config{NextValidID: *nextID, Auto: true, Quotes: quotes}
		if chaosCfg != nil {
			engine, err := chaos.NewEngine(*chaosCfg)
			if err != nil {
				logs.Errorf("mdg: chaos engine, err: %+v", err)
			} else {
				cfg.Chaos = engine
			}
		}
		b := sim.New(cfg)
		if *interval > 0 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				b.Run(ctx, *interval)
			}()
		}
		return b
	}

	srv := &http.Server{Addr: *addr, Handler: wsbridge.NewServer(backend)}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	logs.Infof("mdg: serving simulated broker on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("serve failed: %v", err)
	}
	cancel()
	wg.Wait()
}

func parseQuotes(basePrice, step, spread, size string) (mdg.Config, error) {
	var (
		cfg mdg.Config
		err error
	)
	if cfg.BasePrice, err = decimal.NewFromString(basePrice); err != nil {
		return cfg, err
	}
	if cfg.Step, err = decimal.NewFromString(step); err != nil {
		return cfg, err
	}
	if cfg.Spread, err = decimal.NewFromString(spread); err != nil {
		return cfg, err
	}
	if cfg.Size, err = decimal.NewFromString(size); err != nil {
		return cfg, err
	}
	return cfg, nil
}
