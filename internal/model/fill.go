package model

import (
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/model/enum"
)

// Execution is the broker report of one execution.
type Execution struct {
	ExecID   string          `json:"execId"`
	Time     time.Time       `json:"time"`
	Account  string          `json:"account,omitempty"`
	Exchange string          `json:"exchange,omitempty"`
	Side     enum.Action     `json:"side"`
	Shares   decimal.Decimal `json:"shares"`
	Price    decimal.Decimal `json:"price"`
	CumQty   decimal.Decimal `json:"cumQty"`
	AvgPrice decimal.Decimal `json:"avgPrice"`
	OrderID  int64           `json:"orderId"`
	ClientID int64           `json:"clientId"`
	PermID   int64           `json:"permId,omitempty"`
}

// Key returns the registry key of the order the execution belongs to.
func (e Execution) Key() OrderKey {
	return KeyOf(e.ClientID, e.OrderID, e.PermID)
}

// ExecutionFilter narrows an executions request. Zero fields match anything.
type ExecutionFilter struct {
	ClientID int64       `json:"clientId,omitempty"`
	Account  string      `json:"account,omitempty"`
	Symbol   string      `json:"symbol,omitempty"`
	Side     enum.Action `json:"side,omitempty"`
	Since    time.Time   `json:"since,omitempty"`
}

// Match reports whether an execution in contract passes the filter.
func (f ExecutionFilter) Match(contract Contract, exec Execution) bool {
	switch {
	case f.ClientID != 0 && exec.ClientID != f.ClientID:
		return false
	case f.Account != "" && exec.Account != f.Account:
		return false
	case f.Symbol != "" && contract.Symbol != f.Symbol:
		return false
	case f.Side.IsAvailable() && exec.Side != f.Side:
		return false
	case !f.Since.IsZero() && exec.Time.Before(f.Since):
		return false
	default:
		return true
	}
}

// CommissionReport is joined to its Fill by execution id.
type CommissionReport struct {
	ExecID      string          `json:"execId"`
	Commission  decimal.Decimal `json:"commission"`
	Currency    string          `json:"currency,omitempty"`
	RealizedPNL decimal.Decimal `json:"realizedPnl"`
}

// Fill is an execution of a Trade. The commission is attached once, when the
// matching report arrives; a Fill is otherwise immutable.
type Fill struct {
	Contract   Contract          `json:"contract"`
	Execution  Execution         `json:"execution"`
	Commission *CommissionReport `json:"commission,omitempty"`
	Time       time.Time         `json:"time"`
}

// ExecID returns the execution id of the fill.
func (f Fill) ExecID() string {
	return f.Execution.ExecID
}

// Position is the broker snapshot of one account's holding in a contract.
type Position struct {
	Account  string          `json:"account"`
	Contract Contract        `json:"contract"`
	Quantity decimal.Decimal `json:"quantity"`
	AvgCost  decimal.Decimal `json:"avgCost"`
}

// Key identifies the position slot the snapshot replaces.
func (p Position) Key() string {
	return p.Account + "|" + p.Contract.Key()
}
