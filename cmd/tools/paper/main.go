// Command paper runs a toy strategy against a simulated broker: it buys one
// lot at the bid every N quote batches and records the session to a tape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"tradecore/internal/bus"
	"tradecore/internal/events"
	"tradecore/internal/model"
	"tradecore/internal/model/enum"
	"tradecore/internal/ops"
	"tradecore/internal/recorder"
	"tradecore/internal/risk"
	"tradecore/internal/session"
	"tradecore/internal/ticker"
	"tradecore/internal/transport/sim"
)

func main() {
	outputDir := flag.String("output-dir", "testdata/tape_paper", "Output tape directory")
	configPath := flag.String("config", "", "Path to a JSON or YAML config (risk section is used)")
	symbol := flag.String("symbol", "AAPL", "Stock to trade")
	orderEvery := flag.Int("order-every", 10, "Place one order every N quote batches (0=disable)")
	maxOrders := flag.Int("max-orders", 5, "Maximum orders to place (0=unlimited)")
	lot := flag.Int64("lot", 100, "Order quantity")
	duration := flag.Duration("duration", 10*time.Second, "How long to trade")
	tick := flag.Duration("tick", 50*time.Millisecond, "Quote interval of the simulated broker")
	fillEvery := flag.Int("fill-every", 2, "Fill every Nth working order at its limit (0=never)")
	flag.Parse()

	if *orderEvery < 0 || *maxOrders < 0 || *lot <= 0 || *fillEvery < 0 {
		log.Fatalf("order-every, max-orders and fill-every must be >= 0, lot must be > 0")
	}

	riskCfg := risk.Config{}
	if *configPath != "" {
		loaded, err := ops.Load(*configPath)
		if err != nil {
			log.Fatalf("config load failed: %v", err)
		}
		riskCfg = loaded.Risk
	}

	writer, err := recorder.NewWriter(recorder.DefaultConfig(*outputDir))
	if err != nil {
		log.Fatalf("writer init failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()
	if err := writer.Start(context.Background()); err != nil {
		log.Fatalf("writer start failed: %v", err)
	}

	broker := sim.New(sim.Config{Auto: true})
	go broker.Run(ctx, *tick)

	s := session.New(broker, session.Config{Endpoint: "sim://paper", ClientID: 1},
		session.WithRisk(risk.NewEngine(riskCfg)),
		session.WithTap(recorder.NewTap(writer, time.Now).Record),
	)
	if err := s.Connect(ctx, session.ConnectOptions{}); err != nil {
		log.Fatalf("connect failed: %v", err)
	}
	contract, err := s.QualifyContract(ctx, model.Stock(*symbol, "SMART", "USD"))
	if err != nil {
		log.Fatalf("qualify failed: %v", err)
	}
	if _, err := s.SubscribeQuotes(ctx, contract, model.MarketDataOptions{}); err != nil {
		log.Fatalf("subscribe failed: %v", err)
	}

	var (
		batches int
		placed  []*model.Order
		rejects int
	)
	bus.Subscribe(s.Bus(), events.PendingTickers, func(tickers []*ticker.Ticker) {
		batches++
		if *orderEvery == 0 || batches%*orderEvery != 0 {
			return
		}
		if *maxOrders > 0 && len(placed) >= *maxOrders {
			return
		}
		bid := tickers[0].Bid()
		if !bid.IsPositive() {
			return
		}
		order := model.LimitOrder(enum.ActionBuy, decimal.NewFromInt(*lot), bid)
		if _, err := s.PlaceOrder(ctx, contract, order); err != nil {
			rejects++
			logs.Errorf("paper: place order, err: %+v", err)
			return
		}
		placed = append(placed, order)
		if *fillEvery > 0 && len(placed)%*fillEvery == 0 {
			if err := broker.Fill(order.OrderID, order.TotalQuantity, order.LmtPrice); err != nil {
				logs.Errorf("paper: fill order %d, err: %+v", order.OrderID, err)
			}
		}
	})

	if err := s.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("session failed: %v", err)
	}
	if err := s.Disconnect(context.Background()); err != nil {
		log.Fatalf("disconnect failed: %v", err)
	}
	if err := writer.Close(); err != nil {
		log.Fatalf("writer close failed: %v", err)
	}

	fmt.Printf("quote batches=%d orders=%d rejected=%d taped=%d\n", batches, len(placed), rejects, writer.Written())
	for _, t := range s.Trades() {
		fmt.Printf("trade %s %s @ %s filled=%s\n", t.Key(), t.Status(), t.Order().LmtPrice, t.Filled())
	}
	for _, p := range s.Positions() {
		fmt.Printf("position %s qty=%s avg_cost=%s\n", p.Contract, p.Quantity, p.AvgCost)
	}
}
