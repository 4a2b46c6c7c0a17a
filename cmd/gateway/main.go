// Command gateway runs a broker session over the simulated broker or a
// websocket bridge, with taping, journaling and metrics as configured.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"tradecore/internal/bus"
	"tradecore/internal/chaos"
	"tradecore/internal/events"
	"tradecore/internal/journal"
	"tradecore/internal/model"
	"tradecore/internal/obs"
	"tradecore/internal/og"
	"tradecore/internal/ops"
	"tradecore/internal/recorder"
	"tradecore/internal/risk"
	"tradecore/internal/session"
	"tradecore/internal/transport"
	"tradecore/internal/transport/sim"
	"tradecore/internal/transport/wsbridge"
	"tradecore/pkg/conn"
)

func main() {
	configPath := flag.String("config", "", "Path to a JSON or YAML config")
	quotes := flag.String("quotes", "", "Comma separated stock symbols to stream quotes for")
	tickInterval := flag.Duration("sim-tick", time.Second, "Quote interval of the simulated broker (0=off)")
	flag.Parse()

	loaded, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sys.Shutdown()
		cancel()
	}()

	if loaded.Profiler != nil {
		profiler, err := startProfiler(*loaded.Profiler)
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() { _ = profiler.Stop() }()
	}

	if err := run(ctx, loaded, splitSymbols(*quotes), *tickInterval); err != nil {
		log.Fatalf("gateway failed: %v", err)
	}
}

func loadConfig(path string) (ops.Loaded, error) {
	if path == "" {
		return ops.Resolve(ops.FileConfig{})
	}
	return ops.Load(path)
}

func run(ctx context.Context, cfg ops.Loaded, symbols []string, tick time.Duration) error {
	metrics := obs.NewMetrics()
	opts := []session.Option{session.WithMetrics(metrics)}
	if cfg.Risk.Enabled() {
		opts = append(opts, session.WithRisk(risk.NewEngine(cfg.Risk)))
	}

	var tapWriter *recorder.Writer
	if cfg.Recorder != nil {
		w, err := recorder.NewWriter(*cfg.Recorder)
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := w.Close(); err != nil {
				logs.Errorf("gateway: close tape, err: %+v", err)
			}
		}()
		tapWriter = w
		opts = append(opts, session.WithTap(recorder.NewTap(w, time.Now).Record))
	}

	t, err := newTransport(ctx, cfg, tick)
	if err != nil {
		return err
	}
	s := session.New(t, cfg.Session, opts...)
	logEvents(s)

	if cfg.Journal != nil {
		j, client, err := openJournal(ctx, *cfg.Journal)
		if err != nil {
			return err
		}
		j.Attach(s.Bus())
		j.Start(ctx)
		defer func() {
			j.Close()
			_ = client.Close()
		}()
	}
	if cfg.MetricsListen != "" {
		srv := &http.Server{Addr: cfg.MetricsListen, Handler: obs.NewExporter(metrics).Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logs.Errorf("gateway: metrics server, err: %+v", err)
			}
		}()
		defer func() { _ = srv.Close() }()
	}

	if err := s.Connect(ctx, session.ConnectOptions{Sync: cfg.Sync}); err != nil {
		return err
	}
	for _, symbol := range symbols {
		if _, err := s.SubscribeQuotes(ctx, model.Stock(symbol, "SMART", "USD"), model.MarketDataOptions{}); err != nil {
			return err
		}
	}

	err = s.Run(ctx)
	if derr := s.Disconnect(context.Background()); derr != nil {
		logs.Errorf("gateway: disconnect, err: %+v", derr)
	}
	if tapWriter != nil {
		logs.Infof("gateway: taped %d events", tapWriter.Written())
	}
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func newTransport(ctx context.Context, cfg ops.Loaded, tick time.Duration) (transport.Transport, error) {
	if cfg.Transport == ops.TransportWS {
		return wsbridge.NewClient(wsbridge.Config{}), nil
	}
	b, err := newSim(cfg)
	if err != nil {
		return nil, err
	}
	if tick > 0 {
		go b.Run(ctx, tick)
	}
	return b, nil
}

func newSim(cfg ops.Loaded) (*sim.Broker, error) {
	simCfg := sim.Config{Account: cfg.Session.Account, Auto: true}
	if cfg.Chaos != nil {
		engine, err := chaos.NewEngine(*cfg.Chaos)
		if err != nil {
			return nil, err
		}
		simCfg.Chaos = engine
	}
	return sim.New(simCfg), nil
}

func openJournal(ctx context.Context, opt conn.Option) (*journal.Journal, *conn.Client, error) {
	client, err := conn.New(opt)
	if err != nil {
		return nil, nil, err
	}
	j := journal.New(client.DB(), journal.Config{})
	if err := j.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return j, client, nil
}

func startProfiler(cfg ops.ProfilerConfig) (*pyroscope.Profiler, error) {
	name := cfg.ApplicationName
	if name == "" {
		name = "tradecore.gateway"
	}
	return pyroscope.Start(pyroscope.Config{
		ApplicationName: name,
		ServerAddress:   cfg.ServerAddress,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
}

func logEvents(s *session.Session) {
	b := s.Bus()
	bus.Subscribe(b, events.Connected, func(nextID int64) {
		logs.Infof("gateway: connected, next order id %d", nextID)
	})
	bus.Subscribe(b, events.Disconnected, func(reason string) {
		logs.Infof("gateway: disconnected, reason: %s", reason)
	})
	bus.Subscribe(b, events.OrderStatusChanged, func(t *og.Trade) {
		logs.Infof("gateway: order %s %s, filled %s", t.Key(), t.Status(), t.Filled())
	})
	bus.Subscribe(b, events.FillAdded, func(e events.Fill) {
		logs.Infof("gateway: fill %s %s %s @ %s", e.Fill.ExecID(), e.Fill.Execution.Side, e.Fill.Execution.Shares, e.Fill.Execution.Price)
	})
	bus.Subscribe(b, events.Error, func(e events.BrokerError) {
		logs.Errorf("gateway: broker error %d (req %d): %s", e.Code, e.ReqID, e.Message)
	})
}

func splitSymbols(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, strings.ToUpper(s))
		}
	}
	return out
}
