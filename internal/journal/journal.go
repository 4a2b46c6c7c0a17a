// Package journal persists the trade log and fills of a session to
// PostgreSQL. Rows are written by a background worker so the event loop never
// waits on the database.
package journal

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradecore/internal/bus"
	"tradecore/internal/events"
	"tradecore/internal/model"
)

const defaultQueueSize = 4096

// TradeLogRow is one trade log entry.
type TradeLogRow struct {
	ID        string    `gorm:"column:id;primaryKey"`
	ClientID  int64     `gorm:"column:client_id;index:idx_trade_logs_order"`
	OrderID   int64     `gorm:"column:order_id;index:idx_trade_logs_order"`
	PermID    int64     `gorm:"column:perm_id"`
	Symbol    string    `gorm:"column:symbol"`
	Status    string    `gorm:"column:status"`
	Message   string    `gorm:"column:message"`
	ErrorCode int       `gorm:"column:error_code"`
	LoggedAt  time.Time `gorm:"column:logged_at"`
}

func (TradeLogRow) TableName() string { return "trade_logs" }

// FillRow is one execution, keyed by exec id.
type FillRow struct {
	ExecID     string          `gorm:"column:exec_id;primaryKey"`
	ClientID   int64           `gorm:"column:client_id"`
	OrderID    int64           `gorm:"column:order_id"`
	PermID     int64           `gorm:"column:perm_id;index"`
	Account    string          `gorm:"column:account"`
	Symbol     string          `gorm:"column:symbol"`
	Side       string          `gorm:"column:side"`
	Shares     decimal.Decimal `gorm:"column:shares;type:numeric"`
	Price      decimal.Decimal `gorm:"column:price;type:numeric"`
	Commission decimal.Decimal `gorm:"column:commission;type:numeric"`
	Currency   string          `gorm:"column:currency"`
	ExecutedAt time.Time       `gorm:"column:executed_at"`
}

func (FillRow) TableName() string { return "fills" }

type commissionUpdate struct {
	execID     string
	commission decimal.Decimal
	currency   string
}

type write struct {
	log        *TradeLogRow
	fill       *FillRow
	commission *commissionUpdate
}

type Config struct {
	QueueSize int
}

// Journal mirrors bus events into the database.
type Journal struct {
	db      *gorm.DB
	queue   *bus.Queue[write]
	bus     *bus.Bus
	handles []bus.Handle
	wg      sync.WaitGroup
	dropped atomic.Uint64
	failed  atomic.Uint64
}

func New(db *gorm.DB, cfg Config) *Journal {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	return &Journal{db: db, queue: bus.NewQueue[write](cfg.QueueSize)}
}

// Migrate creates or updates the journal tables.
func (j *Journal) Migrate(ctx context.Context) error {
	if err := j.db.WithContext(ctx).AutoMigrate(&TradeLogRow{}, &FillRow{}); err != nil {
		return errors.Wrap(err, "migrate journal")
	}
	return nil
}

// Attach subscribes to b. Listeners run on the loop goroutine and only
// enqueue.
func (j *Journal) Attach(b *bus.Bus) {
	j.bus = b
	j.handles = append(j.handles,
		bus.Subscribe(b, events.TradeLogUpdated, func(e events.TradeLog) {
			key := e.Trade.Key()
			j.enqueue(write{log: &TradeLogRow{
				ID:        fmt.Sprintf("%s#%d", key, len(e.Trade.Log())-1),
				ClientID:  key.ClientID,
				OrderID:   key.OrderID,
				PermID:    e.Trade.OrderStatus().PermID,
				Symbol:    e.Trade.Contract().Symbol,
				Status:    e.Entry.Status.String(),
				Message:   e.Entry.Message,
				ErrorCode: e.Entry.ErrorCode,
				LoggedAt:  e.Entry.Time,
			}})
		}),
		bus.Subscribe(b, events.FillAdded, func(e events.Fill) {
			j.enqueue(write{fill: fillRow(e.Fill)})
		}),
		bus.Subscribe(b, events.CommissionReportReceived, func(e events.Commission) {
			j.enqueue(write{commission: &commissionUpdate{
				execID:     e.Report.ExecID,
				commission: e.Report.Commission,
				currency:   e.Report.Currency,
			}})
		}),
	)
}

// Start runs the writer until Close or ctx is done.
func (j *Journal) Start(ctx context.Context) {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.queue.Run(ctx, func(w write) {
			if err := j.apply(ctx, w); err != nil {
				j.failed.Add(1)
				logs.Errorf("journal: write failed, err: %+v", err)
			}
		})
	}()
}

// Close detaches from the bus and waits for queued rows to be written.
func (j *Journal) Close() {
	if j.bus != nil {
		for _, h := range j.handles {
			j.bus.Unsubscribe(h)
		}
		j.handles = nil
	}
	j.queue.Close()
	j.wg.Wait()
}

// Dropped is the number of rows lost to a full queue.
func (j *Journal) Dropped() uint64 {
	return j.dropped.Load()
}

// Failed is the number of rows the database rejected.
func (j *Journal) Failed() uint64 {
	return j.failed.Load()
}

func (j *Journal) enqueue(w write) {
	if err := j.queue.TryPublish(w); err != nil {
		j.dropped.Add(1)
		logs.Errorf("journal: drop row, err: %+v", err)
	}
}

func (j *Journal) apply(ctx context.Context, w write) error {
	db := j.db.WithContext(ctx)
	switch {
	case w.log != nil:
		return db.Clauses(clause.OnConflict{DoNothing: true}).Create(w.log).Error
	case w.fill != nil:
		return db.Clauses(clause.OnConflict{DoNothing: true}).Create(w.fill).Error
	case w.commission != nil:
		return db.Model(&FillRow{}).
			Where("exec_id = ?", w.commission.execID).
			Updates(map[string]any{
				"commission": w.commission.commission,
				"currency":   w.commission.currency,
			}).Error
	}
	return nil
}

func fillRow(f model.Fill) *FillRow {
	row := &FillRow{
		ExecID:     f.Execution.ExecID,
		ClientID:   f.Execution.ClientID,
		OrderID:    f.Execution.OrderID,
		PermID:     f.Execution.PermID,
		Account:    f.Execution.Account,
		Symbol:     f.Contract.Symbol,
		Side:       f.Execution.Side.String(),
		Shares:     f.Execution.Shares,
		Price:      f.Execution.Price,
		ExecutedAt: f.Time,
	}
	if f.Commission != nil {
		row.Commission = f.Commission.Commission
		row.Currency = f.Commission.Currency
	}
	return row
}
