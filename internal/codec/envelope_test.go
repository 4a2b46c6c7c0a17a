package codec

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/model"
	"tradecore/internal/model/enum"
	"tradecore/pkg/exception"
)

func TestEventKeepsDecimalsAndTypes(t *testing.T) {
	in := model.ExecDetailsEvent{
		ReqID:    -1,
		Contract: model.Forex("EURUSD"),
		Execution: model.Execution{
			ExecID:  "0001f4e8.6571b4c2.01.01",
			Time:    time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC),
			Side:    enum.ActionBuy,
			Shares:  decimal.RequireFromString("10000"),
			Price:   decimal.RequireFromString("1.09015"),
			OrderID: 12,
		},
	}
	b, err := EncodeEvent(in)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), `{"kind":"execDetails"`), string(b))

	out, err := DecodeEvent(b)
	require.NoError(t, err)
	got, ok := out.(model.ExecDetailsEvent)
	require.True(t, ok, "decoded %T", out)
	assert.True(t, got.Execution.Price.Equal(in.Execution.Price))
	assert.Equal(t, in.Execution.ExecID, got.Execution.ExecID)
	assert.True(t, got.Execution.Time.Equal(in.Execution.Time))
	assert.Equal(t, "EUR", got.Contract.Symbol)
}

func TestOrderStatusTravelsByName(t *testing.T) {
	b := []byte(`{"kind":"orderStatus","data":{"status":{"orderId":3,"clientId":1,"status":"PreSubmitted","filled":"0","remaining":"5"}}}`)
	ev, err := DecodeEvent(b)
	require.NoError(t, err)
	st := ev.(model.OrderStatusEvent)
	assert.Equal(t, enum.OrderStatusPreSubmitted, st.Status.Status)
	assert.Equal(t, int64(3), st.Status.OrderID)
	assert.True(t, st.Status.Remaining.Equal(decimal.NewFromInt(5)))

	_, err = DecodeEvent([]byte(`{"kind":"orderStatus","data":{"status":{"status":"Bogus"}}}`))
	assert.ErrorIs(t, err, exception.ErrDecode)
}

func TestDecodeFailures(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"kind":"nope"}`))
	assert.ErrorIs(t, err, exception.ErrTypeUnsupported)

	_, err = DecodeEvent([]byte(`{"data":{}}`))
	assert.ErrorIs(t, err, exception.ErrDecode)

	ev := DecodeEventOrReport([]byte(`not json`))
	bad, ok := ev.(model.DecodeErrorEvent)
	require.True(t, ok)
	assert.Equal(t, []byte("not json"), bad.Raw)
	assert.NotEmpty(t, bad.Reason)
}

func TestDataLessEvents(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"kind":"positionEnd"}`))
	require.NoError(t, err)
	assert.Equal(t, enum.EventPositionEnd, ev.EventKind())
}

func TestRequestEnvelope(t *testing.T) {
	order := model.LimitOrder(enum.ActionSell, decimal.NewFromInt(20000), decimal.RequireFromString("0.05"))
	order.OrderID = 9
	order.WhatIf = true
	b, err := EncodeRequest(model.PlaceOrderRequest{Contract: model.Forex("EURUSD"), Order: *order})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), `{"kind":"whatIf"`), string(b))

	req, err := DecodeRequest(b)
	require.NoError(t, err)
	place, ok := req.(model.PlaceOrderRequest)
	require.True(t, ok)
	assert.True(t, place.Order.WhatIf)
	assert.True(t, place.Order.LmtPrice.Equal(order.LmtPrice))
}
