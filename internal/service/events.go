package service

import (
	"github.com/google/uuid"
)

// Pub/sub channels. Market channels are per-market so websocket clients can
// subscribe to just the markets they display; the settlements channel is
// global.
const (
	// MarketChannelPattern matches every per-market channel, for subscribers
	// that want the full firehose.
	MarketChannelPattern = "market:*"

	// SettlementsChannel carries one event per resolved market.
	SettlementsChannel = "settlements"
)

// MarketChannel returns the pub/sub channel for one market's events.
func MarketChannel(marketID uuid.UUID) string {
	return "market:" + marketID.String()
}

// TradeEvent is the payload published on a market's channel after each
// executed trade. Decimal values are strings so subscribers never see floats.
type TradeEvent struct {
	Event         string            `json:"event"`
	MarketID      string            `json:"market_id"`
	Outcome       string            `json:"outcome"`
	Side          string            `json:"side"`
	Tokens        string            `json:"tokens"`
	Shares        string            `json:"shares"`
	Probabilities map[string]string `json:"probabilities"`
}

// SettlementEvent is the payload published on the settlements channel when a
// market resolves.
type SettlementEvent struct {
	Event          string `json:"event"`
	MarketID       string `json:"market_id"`
	WinningOutcome string `json:"winning_outcome"`
	Policy         string `json:"policy"`
	TotalPool      string `json:"total_pool"`
	Winners        int    `json:"winners"`
}
