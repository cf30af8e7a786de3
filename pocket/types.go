package pocket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Action is the trade direction: Call (buy) or Put (sell).
type Action int

const (
	ActionCall Action = iota
	ActionPut
)

func (a Action) String() string {
	if a == ActionPut {
		return "put"
	}
	return "call"
}

func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// CandleLength is one of the expiration lengths (in seconds) the broker
// allows for a given asset.
type CandleLength int

// AssetType classifies the instrument traded.
type AssetType string

const (
	AssetStock          AssetType = "stock"
	AssetCurrency        AssetType = "currency"
	AssetCommodity       AssetType = "commodity"
	AssetCryptocurrency  AssetType = "cryptocurrency"
	AssetIndex           AssetType = "index"
)

// Asset describes a tradable instrument (spec §3).
type Asset struct {
	ID             int32
	Name           string
	Symbol         string
	IsOTC          bool
	IsActive       bool
	Payout         int32
	AllowedCandles []CandleLength
	AssetType      AssetType
}

// Validate reports whether time (in seconds) is a legal expiration for this
// asset: the asset must be active and time must evenly divide one day.
func (a Asset) Validate(seconds uint32) error {
	if !a.IsActive {
		return NewPocketError(PocketInvalidAsset, "asset is not active", nil)
	}
	if seconds == 0 || (24*60*60)%seconds != 0 {
		return NewPocketError(PocketInvalidAsset, "time must be a divisor of 86400 (24 hours)", nil)
	}
	return nil
}

// assetRawTuple mirrors the broker's positional wire array for an asset.
// Unused positional fields are decoded and discarded; only the indices the
// engine consumes are kept.
type assetRawTuple struct {
	ID        int32
	Symbol    string
	Name      string
	AssetType AssetType
	Payout    int32
	IsOTC     bool
	IsActive  bool
	Candles   []CandleLength
}

// UnmarshalJSON decodes the broker's fixed-position asset tuple:
// [id, symbol, name, type, _, payout, _, _, _, is_otc, _, _, _, _, is_active, allowed_candles, _, _, _]
func (a *Asset) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) < 16 {
		return fmt.Errorf("asset tuple: expected at least 16 elements, got %d", len(raw))
	}
	var t assetRawTuple
	if err := json.Unmarshal(raw[0], &t.ID); err != nil {
		return fmt.Errorf("asset.id: %w", err)
	}
	if err := json.Unmarshal(raw[1], &t.Symbol); err != nil {
		return fmt.Errorf("asset.symbol: %w", err)
	}
	if err := json.Unmarshal(raw[2], &t.Name); err != nil {
		return fmt.Errorf("asset.name: %w", err)
	}
	if err := json.Unmarshal(raw[3], &t.AssetType); err != nil {
		return fmt.Errorf("asset.asset_type: %w", err)
	}
	if err := json.Unmarshal(raw[5], &t.Payout); err != nil {
		return fmt.Errorf("asset.payout: %w", err)
	}
	var isOTC int
	if err := json.Unmarshal(raw[9], &isOTC); err != nil {
		return fmt.Errorf("asset.is_otc: %w", err)
	}
	if err := json.Unmarshal(raw[14], &t.IsActive); err != nil {
		return fmt.Errorf("asset.is_active: %w", err)
	}
	var candles []struct {
		Time CandleLength `json:"time"`
	}
	if err := json.Unmarshal(raw[15], &candles); err != nil {
		return fmt.Errorf("asset.allowed_candles: %w", err)
	}
	for _, c := range candles {
		t.Candles = append(t.Candles, c.Time)
	}

	a.ID = t.ID
	a.Symbol = t.Symbol
	a.Name = t.Name
	a.AssetType = t.AssetType
	a.Payout = t.Payout
	a.IsOTC = isOTC == 1
	a.IsActive = t.IsActive
	a.AllowedCandles = t.Candles
	return nil
}

// Deal is a single trade record, open or closed (spec §3).
type Deal struct {
	ID              uuid.UUID       `json:"id"`
	OpenTime        string          `json:"openTime"`
	CloseTime       string          `json:"closeTime"`
	OpenTimestamp   time.Time       `json:"-"`
	CloseTimestamp  time.Time       `json:"-"`
	UID             uint64          `json:"uid"`
	RequestID       *uuid.UUID      `json:"requestId,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Profit          decimal.Decimal `json:"profit"`
	PercentProfit   int32           `json:"percentProfit"`
	PercentLoss     int32           `json:"percentLoss"`
	OpenPrice       decimal.Decimal `json:"openPrice"`
	ClosePrice      decimal.Decimal `json:"closePrice"`
	Command         int32           `json:"command"`
	Asset           string          `json:"asset"`
	IsDemo          uint32          `json:"isDemo"`
	CopyTicket      string          `json:"copyTicket"`
	OpenMS          int32           `json:"openMs"`
	CloseMS         *int32          `json:"closeMs,omitempty"`
	OptionType      int32           `json:"optionType"`
	Currency        string          `json:"currency"`
	AmountUSD       *decimal.Decimal `json:"amountUsd,omitempty"`
}

// Equal reports whether this deal has the given id, for the common
// lookup-by-request pattern modules use.
func (d Deal) Equal(id uuid.UUID) bool { return d.ID == id }

// FailOpenOrder is the broker's rejection payload for a trade request.
type FailOpenOrder struct {
	Error  string          `json:"error"`
	Amount decimal.Decimal `json:"amount"`
	Asset  string          `json:"asset"`
}

// OpenOrder is the outgoing trade-placement command (spec §4.5).
type OpenOrder struct {
	Asset      string          `json:"asset"`
	Action     Action          `json:"action"`
	Amount     decimal.Decimal `json:"amount"`
	IsDemo     uint32          `json:"isDemo"`
	OptionType uint32          `json:"optionType"`
	RequestID  uuid.UUID       `json:"requestId"`
	Time       uint32          `json:"time"`
}

// NewOpenOrder builds an OpenOrder with the broker's fixed optionType (100).
func NewOpenOrder(asset string, action Action, amount decimal.Decimal, seconds uint32, demo uint32, requestID uuid.UUID) OpenOrder {
	return OpenOrder{
		Asset:      asset,
		Action:     action,
		Amount:     amount,
		IsDemo:     demo,
		OptionType: 100,
		RequestID:  requestID,
		Time:       seconds,
	}
}

// Frame renders the wire form: 42["openOrder",{...}]
func (o OpenOrder) Frame() (string, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`42["openOrder",%s]`, data), nil
}

// PendingOrder is a broker-side pending (not-yet-triggered) order (spec §4.10).
type PendingOrder struct {
	Ticket      uuid.UUID       `json:"ticket"`
	OpenType    uint32          `json:"openType"`
	Amount      decimal.Decimal `json:"amount"`
	Symbol      string          `json:"symbol"`
	OpenTime    string          `json:"openTime"`
	OpenPrice   decimal.Decimal `json:"openPrice"`
	Timeframe   uint32          `json:"timeframe"`
	MinPayout   uint32          `json:"minPayout"`
	Command     uint32          `json:"command"`
	DateCreated string          `json:"dateCreated"`
	ID          uint64          `json:"id"`
}

// OpenPendingOrder is the outgoing pending-order placement command.
type OpenPendingOrder struct {
	OpenType  uint32          `json:"openType"`
	Amount    decimal.Decimal `json:"amount"`
	Asset     string          `json:"asset"`
	OpenTime  uint32          `json:"openTime"`
	OpenPrice decimal.Decimal `json:"openPrice"`
	Timeframe uint32          `json:"timeframe"`
	MinPayout uint32          `json:"minPayout"`
	Command   uint32          `json:"command"`
}

// Frame renders the wire form: 42["openPendingOrder",{...}]
func (o OpenPendingOrder) Frame() (string, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`42["openPendingOrder",%s]`, data), nil
}

// StreamData is a single tick as delivered over the price-update socket
// event, wire shape [["SYMBOL", timestamp, price]].
type StreamData struct {
	Symbol    string
	Timestamp int64
	Price     decimal.Decimal
}

// UnmarshalJSON decodes the nested single-element-array wire shape.
func (s *StreamData) UnmarshalJSON(data []byte) error {
	var outer [][]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return err
	}
	if len(outer) != 1 || len(outer[0]) != 3 {
		return fmt.Errorf("stream data: invalid shape")
	}
	if err := json.Unmarshal(outer[0][0], &s.Symbol); err != nil {
		return fmt.Errorf("stream data symbol: %w", err)
	}
	var ts float64
	if err := json.Unmarshal(outer[0][1], &ts); err != nil {
		return fmt.Errorf("stream data timestamp: %w", err)
	}
	s.Timestamp = int64(ts)
	var price float64
	if err := json.Unmarshal(outer[0][2], &price); err != nil {
		return fmt.Errorf("stream data price: %w", err)
	}
	s.Price = decimal.NewFromFloat(price)
	return nil
}

func (s StreamData) Datetime() time.Time {
	return time.Unix(s.Timestamp, 0).UTC()
}

// ServerTime tracks the offset between the broker's clock and the local
// clock, refreshed on every server-time frame (spec §4.10).
type ServerTime struct {
	LastServerTime int64
	LastUpdated    time.Time
	Offset         time.Duration
}

func NewServerTime() ServerTime {
	return ServerTime{LastUpdated: time.Now().UTC()}
}

func (st *ServerTime) Update(serverTimestamp int64) {
	now := time.Now().UTC()
	st.LastServerTime = serverTimestamp
	st.LastUpdated = now
	st.Offset = time.Duration(serverTimestamp-now.Unix()) * time.Second
}

func (st ServerTime) Get() int64 {
	elapsed := time.Since(st.LastUpdated)
	return st.LastServerTime + int64(elapsed.Seconds())
}

func (st ServerTime) IsStale() bool {
	return time.Since(st.LastUpdated) > 30*time.Second
}

func (st ServerTime) String() string {
	return fmt.Sprintf("ServerTime(last_server_time: %d, last_updated: %s, offset: %s)",
		st.LastServerTime, st.LastUpdated.Format(time.RFC3339), st.Offset)
}
