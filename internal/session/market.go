package session

import (
	"context"
	"time"

	"github.com/yanun0323/errors"

	"tradecore/internal/correlator"
	"tradecore/internal/dispatch"
	"tradecore/internal/model"
	"tradecore/internal/model/enum"
	"tradecore/internal/og"
	"tradecore/internal/ticker"
	"tradecore/pkg/exception"
)

// MaxHistoricalTicks is the most ticks one historical request may ask for.
const MaxHistoricalTicks = 1000

// HistoricalQuery selects historical ticks. Exactly one of Start and End is
// set.
type HistoricalQuery struct {
	Contract   model.Contract
	Start      time.Time
	End        time.Time
	Count      int
	Kind       enum.HistoricalTickKind
	UseRTH     bool
	IgnoreSize bool
}

// SubscribeQuotes starts streaming quotes for contract. Repeated calls share
// one broker subscription.
func (s *Session) SubscribeQuotes(ctx context.Context, contract model.Contract, opts model.MarketDataOptions) (*ticker.Ticker, error) {
	if !s.IsConnected() {
		return nil, exception.ErrNotConnected
	}
	return s.tickers.Subscribe(ctx, contract, opts)
}

// UnsubscribeQuotes drops one quote subscription of contract.
func (s *Session) UnsubscribeQuotes(ctx context.Context, contract model.Contract) error {
	return s.tickers.Unsubscribe(ctx, contract)
}

// SubscribeTickByTick starts a tick-by-tick stream. At most MaxTickByTick
// distinct streams may be active; the next one fails with ErrResourceLimit
// without a round trip.
func (s *Session) SubscribeTickByTick(ctx context.Context, contract model.Contract, kind enum.TickByTickKind) (*ticker.Ticker, error) {
	if !kind.IsAvailable() {
		return nil, errors.Wrapf(exception.ErrInvalidArgument, "tick-by-tick kind %d", kind)
	}
	if !s.IsConnected() {
		return nil, exception.ErrNotConnected
	}
	return s.tickers.SubscribeTickByTick(ctx, contract, kind)
}

// UnsubscribeTickByTick drops one reference of a tick-by-tick stream.
func (s *Session) UnsubscribeTickByTick(ctx context.Context, contract model.Contract, kind enum.TickByTickKind) error {
	return s.tickers.UnsubscribeTickByTick(ctx, contract, kind)
}

// FetchHistoricalTicks loads up to q.Count historical ticks. Invalid queries
// fail before anything is sent.
func (s *Session) FetchHistoricalTicks(ctx context.Context, q HistoricalQuery) ([]model.HistoricalTick, error) {
	switch {
	case q.Start.IsZero() == q.End.IsZero():
		return nil, errors.Wrap(exception.ErrResourceLimit, "historical ticks need exactly one of start and end")
	case q.Count < 1:
		return nil, errors.Wrapf(exception.ErrInvalidArgument, "historical tick count %d", q.Count)
	case q.Count > MaxHistoricalTicks:
		return nil, errors.Wrapf(exception.ErrResourceLimit, "historical tick count %d above %d", q.Count, MaxHistoricalTicks)
	case !q.Kind.IsAvailable():
		return nil, errors.Wrapf(exception.ErrInvalidArgument, "historical tick kind %d", q.Kind)
	}
	if !s.IsConnected() {
		return nil, exception.ErrNotConnected
	}

	f, err := s.requests.Send(ctx, enum.RequestHistoricalTicks, "", s.cfg.HistoricalTimeout, func(id int64) model.Request {
		return model.HistoricalTicksRequest{
			ReqID:      id,
			Contract:   q.Contract,
			Start:      q.Start,
			End:        q.End,
			Count:      q.Count,
			Kind:       q.Kind,
			UseRTH:     q.UseRTH,
			IgnoreSize: q.IgnoreSize,
		}
	})
	if err != nil {
		return nil, err
	}
	if err := s.await(ctx, f); err != nil {
		return nil, err
	}
	return correlator.Collect[model.HistoricalTick](f)
}

// QualifyContract resolves a contract to the single broker definition it
// names. Concurrent calls for the same contract share one request.
func (s *Session) QualifyContract(ctx context.Context, contract model.Contract) (model.Contract, error) {
	if !s.IsConnected() {
		return model.Contract{}, exception.ErrNotConnected
	}
	f, err := s.requests.Send(ctx, enum.RequestContractDetails, contract.Key(), s.cfg.RequestTimeout, func(id int64) model.Request {
		return model.ContractDetailsRequest{ReqID: id, Contract: contract}
	})
	if err != nil {
		return model.Contract{}, err
	}
	if err := s.await(ctx, f); err != nil {
		return model.Contract{}, err
	}
	found, err := correlator.Collect[model.Contract](f)
	if err != nil {
		return model.Contract{}, err
	}
	switch len(found) {
	case 0:
		return model.Contract{}, errors.Wrapf(exception.ErrUnknownContract, "%s", contract)
	case 1:
		return found[0], nil
	default:
		return model.Contract{}, errors.Wrapf(exception.ErrAmbiguousContract, "%s matches %d contracts", contract, len(found))
	}
}

// CurrentTime asks the broker for its clock.
func (s *Session) CurrentTime(ctx context.Context) (time.Time, error) {
	if !s.IsConnected() {
		return time.Time{}, exception.ErrNotConnected
	}
	f, err := s.requests.Send(ctx, enum.RequestCurrentTime, dispatch.KeyCurrentTime, s.cfg.RequestTimeout, func(int64) model.Request {
		return model.CurrentTimeRequest{}
	})
	if err != nil {
		return time.Time{}, err
	}
	if err := s.await(ctx, f); err != nil {
		return time.Time{}, err
	}
	return correlator.Value[time.Time](f)
}

// ReqPositions loads every position of the account. The registry is updated
// as they arrive.
func (s *Session) ReqPositions(ctx context.Context) ([]model.Position, error) {
	if !s.IsConnected() {
		return nil, exception.ErrNotConnected
	}
	f, err := s.requests.Send(ctx, enum.RequestPositions, dispatch.KeyPositions, s.cfg.RequestTimeout, func(int64) model.Request {
		return model.PositionsRequest{}
	})
	if err != nil {
		return nil, err
	}
	if err := s.await(ctx, f); err != nil {
		return nil, err
	}
	return correlator.Collect[model.Position](f)
}

// ReqOpenOrders loads every working order, admitting those placed elsewhere.
func (s *Session) ReqOpenOrders(ctx context.Context) ([]*og.Trade, error) {
	if !s.IsConnected() {
		return nil, exception.ErrNotConnected
	}
	f, err := s.requests.Send(ctx, enum.RequestOpenOrders, dispatch.KeyOpenOrders, s.cfg.RequestTimeout, func(int64) model.Request {
		return model.OpenOrdersRequest{}
	})
	if err != nil {
		return nil, err
	}
	if err := s.await(ctx, f); err != nil {
		return nil, err
	}
	return correlator.Collect[*og.Trade](f)
}

// ReqExecutions loads the executions of the day matching filter. Executions
// the session missed are applied as fills, admitting their orders when
// needed; known ones are returned as already held.
func (s *Session) ReqExecutions(ctx context.Context, filter model.ExecutionFilter) ([]model.Fill, error) {
	if !s.IsConnected() {
		return nil, exception.ErrNotConnected
	}
	f, err := s.requests.Send(ctx, enum.RequestExecutions, "", s.cfg.RequestTimeout, func(id int64) model.Request {
		return model.ExecutionsRequest{ReqID: id, Filter: filter}
	})
	if err != nil {
		return nil, err
	}
	if err := s.await(ctx, f); err != nil {
		return nil, err
	}
	fills, err := correlator.Collect[model.Fill](f)
	if err != nil {
		return nil, err
	}
	for i := range fills {
		if cur, ok := s.trades.FillOf(fills[i].ExecID()); ok {
			fills[i] = cur
		}
	}
	return fills, nil
}
