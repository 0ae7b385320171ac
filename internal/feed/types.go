// Package feed speaks the OpenAlgo transport: a websocket tick stream
// and a REST API for quotes and expiry lists.
package feed

import (
	"encoding/json"
	"time"

	"optionflow/models"
)

// Instrument identifies one subscription target on the stream.
type Instrument struct {
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`
}

type authMessage struct {
	Type   string `json:"type"`
	APIKey string `json:"api_key"`
}

type authResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type subscribeMessage struct {
	Type        string       `json:"type"`
	Stream      string       `json:"stream"`
	Instruments []Instrument `json:"instruments"`
}

// streamMessage is the envelope of every data frame on the stream.
// Payload fields are flat for ltp frames and may be nested under data.
type streamMessage struct {
	Type      string          `json:"type"`
	Symbol    string          `json:"symbol"`
	Exchange  string          `json:"exchange"`
	Timestamp int64           `json:"timestamp"`
	Message   string          `json:"message,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`

	LTP          float64            `json:"ltp"`
	LastTradeQty int64              `json:"last_trade_qty"`
	Open         float64            `json:"open"`
	High         float64            `json:"high"`
	Low          float64            `json:"low"`
	Close        float64            `json:"close"`
	Volume       int64              `json:"volume"`
	Depth        []depthLevelFrame  `json:"depth,omitempty"`
}

// tickPayload carries the same price fields when the server nests them
// under data.
type tickPayload struct {
	LTP           float64           `json:"ltp"`
	LastTradeQty  int64             `json:"last_trade_qty"`
	Open          float64           `json:"open"`
	High          float64           `json:"high"`
	Low           float64           `json:"low"`
	Close         float64           `json:"close"`
	Volume        int64             `json:"volume"`
	Change        float64           `json:"change"`
	ChangePercent float64           `json:"change_percent"`
	AvgTradePrice float64           `json:"average_price"`
	Depth         []depthLevelFrame `json:"depth,omitempty"`
}

type depthLevelFrame struct {
	Level     int     `json:"level"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	BidQty    int64   `json:"bid_qty"`
	AskQty    int64   `json:"ask_qty"`
	BidOrders int64   `json:"bid_orders"`
	AskOrders int64   `json:"ask_orders"`
}

// decodeTick converts a data frame into a models.Tick. The bool result
// is false for non-data frames (acks, errors, unknown types).
func decodeTick(raw []byte) (models.Tick, bool, error) {
	var msg streamMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return models.Tick{}, false, err
	}

	var kind models.TickKind
	switch msg.Type {
	case "ltp":
		kind = models.TickLTP
	case "quote":
		kind = models.TickQuote
	case "depth":
		kind = models.TickDepth
	default:
		return models.Tick{}, false, nil
	}

	payload := tickPayload{
		LTP:          msg.LTP,
		LastTradeQty: msg.LastTradeQty,
		Open:         msg.Open,
		High:         msg.High,
		Low:          msg.Low,
		Close:        msg.Close,
		Volume:       msg.Volume,
		Depth:        msg.Depth,
	}
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return models.Tick{}, false, err
		}
	}

	ts := time.Now()
	if msg.Timestamp > 0 {
		ts = time.UnixMilli(msg.Timestamp)
	}

	tick := models.Tick{
		Kind:          kind,
		Timestamp:     ts,
		Symbol:        msg.Symbol,
		Exchange:      msg.Exchange,
		LTP:           payload.LTP,
		LastTradeQty:  payload.LastTradeQty,
		Open:          payload.Open,
		High:          payload.High,
		Low:           payload.Low,
		Close:         payload.Close,
		Volume:        payload.Volume,
		Change:        payload.Change,
		ChangePercent: payload.ChangePercent,
		AvgTradePrice: payload.AvgTradePrice,
	}
	for _, d := range payload.Depth {
		tick.Depth = append(tick.Depth, models.DepthLevel{
			Level:     d.Level,
			Bid:       d.Bid,
			Ask:       d.Ask,
			BidQty:    d.BidQty,
			AskQty:    d.AskQty,
			BidOrders: d.BidOrders,
			AskOrders: d.AskOrders,
		})
	}
	return tick, true, nil
}
