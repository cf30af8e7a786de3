package pocket

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is a finalized OHLC record for one asset/period (spec §4.8).
// Volume is nil unless the source data carried a volume value.
type Candle struct {
	Symbol    string
	Timestamp float64
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    *decimal.Decimal
}

func (c Candle) Datetime() time.Time {
	return time.Unix(int64(c.Timestamp), 0).UTC()
}

func (c Candle) PriceRange() decimal.Decimal { return c.High.Sub(c.Low) }

func (c Candle) IsBullish() bool { return c.Close.GreaterThan(c.Open) }

func (c Candle) IsBearish() bool { return c.Close.LessThan(c.Open) }

// BaseCandle is the in-progress aggregate matching the broker's raw
// [timestamp, open, close, high, low, volume?] wire array.
type BaseCandle struct {
	Timestamp float64
	Open      float64
	Close     float64
	High      float64
	Low       float64
	Volume    *float64
}

// UnmarshalJSON accepts both the 5-element and 6-element (with optional
// null volume) wire forms.
func (b *BaseCandle) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) < 5 {
		return fmt.Errorf("base candle: expected at least 5 elements, got %d", len(raw))
	}
	fields := []*float64{&b.Timestamp, &b.Open, &b.Close, &b.High, &b.Low}
	for i, f := range fields {
		if err := json.Unmarshal(raw[i], f); err != nil {
			return fmt.Errorf("base candle field %d: %w", i, err)
		}
	}
	if len(raw) >= 6 {
		var v *float64
		if err := json.Unmarshal(raw[5], &v); err == nil {
			b.Volume = v
		}
	}
	return nil
}

func (b BaseCandle) timestampTime() time.Time {
	return time.Unix(int64(b.Timestamp), 0).UTC()
}

func (b BaseCandle) toCandle(symbol string) Candle {
	var volume *decimal.Decimal
	if b.Volume != nil {
		v := decimal.NewFromFloat(*b.Volume)
		volume = &v
	}
	return Candle{
		Symbol:    symbol,
		Timestamp: b.Timestamp,
		Open:      decimal.NewFromFloat(b.Open),
		High:      decimal.NewFromFloat(b.High),
		Low:       decimal.NewFromFloat(b.Low),
		Close:     decimal.NewFromFloat(b.Close),
		Volume:    volume,
	}
}

// HistoryTick is a single (timestamp, price) sample from historical/ticks data.
type HistoryTick struct {
	Timestamp float64
	Price     float64
}

// CompileCandlesFromTicks buckets ticks into fixed-width candles of the given
// period (seconds), assigning each tick to floor(timestamp/period)*period.
// Ticks need not arrive sorted; they are stable-sorted by timestamp first.
// Returns nil if ticks is empty or period is zero.
func CompileCandlesFromTicks(ticks []HistoryTick, period uint32, symbol string) []Candle {
	if len(ticks) == 0 || period == 0 {
		return nil
	}

	sorted := make([]HistoryTick, len(ticks))
	copy(sorted, ticks)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	periodSecs := float64(period)
	var candles []Candle
	var current *BaseCandle
	var currentBoundary uint64
	haveBoundary := false

	for _, tick := range sorted {
		boundaryIdx := uint64(math.Floor(tick.Timestamp / periodSecs))
		boundary := float64(boundaryIdx) * periodSecs

		if current != nil && haveBoundary && boundaryIdx == currentBoundary {
			current.High = math.Max(current.High, tick.Price)
			current.Low = math.Min(current.Low, tick.Price)
			current.Close = tick.Price
			continue
		}
		if current != nil {
			candles = append(candles, current.toCandle(symbol))
		}
		currentBoundary = boundaryIdx
		haveBoundary = true
		current = &BaseCandle{
			Timestamp: boundary,
			Open:      tick.Price,
			High:      tick.Price,
			Low:       tick.Price,
			Close:     tick.Price,
		}
	}
	if current != nil {
		candles = append(candles, current.toCandle(symbol))
	}
	return candles
}

// SubscriptionKind tags the SubscriptionType sum type variant (spec §4.7).
type SubscriptionKind int

const (
	SubscriptionNone SubscriptionKind = iota
	SubscriptionChunk
	SubscriptionTime
	SubscriptionTimeAligned
)

// SubscriptionType is the aggregation strategy applied to an asset's
// incoming ticks before a finalized candle is delivered to subscribers
// (spec §4.7): every raw tick (None), fixed tick count (Chunk), rolling
// wall-clock window (Time), or calendar-boundary-aligned window (TimeAligned).
type SubscriptionType struct {
	kind SubscriptionKind

	// Chunk
	chunkSize    int
	chunkCurrent int

	// Time
	timeStartSet bool
	timeStart    float64

	// TimeAligned
	nextBoundary    float64
	haveNextBoundary bool

	duration time.Duration
	candle   BaseCandle
}

func NewSubscriptionNone() SubscriptionType {
	return SubscriptionType{kind: SubscriptionNone}
}

func NewSubscriptionChunk(size int) SubscriptionType {
	return SubscriptionType{kind: SubscriptionChunk, chunkSize: size}
}

func NewSubscriptionTime(duration time.Duration) SubscriptionType {
	return SubscriptionType{kind: SubscriptionTime, duration: duration}
}

// NewSubscriptionTimeAligned requires duration to evenly divide 24h, matching
// the broker's calendar-boundary candle lengths.
func NewSubscriptionTimeAligned(duration time.Duration) (SubscriptionType, error) {
	secs := int64(duration.Seconds())
	if secs <= 0 || (24*60*60)%secs != 0 {
		return SubscriptionType{}, NewPocketError(PocketGeneral,
			fmt.Sprintf("unsupported duration for time-aligned subscription: %s, duration should evenly divide the number of seconds in a day", duration), nil)
	}
	return SubscriptionType{kind: SubscriptionTimeAligned, duration: duration}, nil
}

func (s SubscriptionType) Kind() SubscriptionKind { return s.kind }

func (s SubscriptionType) PeriodSecs() (uint32, bool) {
	switch s.kind {
	case SubscriptionTime, SubscriptionTimeAligned:
		return uint32(s.duration.Seconds()), true
	default:
		return 0, false
	}
}

// Update feeds one new BaseCandle into the aggregation state, returning a
// finalized BaseCandle when the aggregation window completes.
func (s *SubscriptionType) Update(newCandle BaseCandle) (*BaseCandle, error) {
	switch s.kind {
	case SubscriptionNone:
		out := newCandle
		return &out, nil

	case SubscriptionChunk:
		if s.chunkCurrent == 0 {
			s.candle = newCandle
		} else {
			s.candle.Timestamp = newCandle.Timestamp
			s.candle.High = math.Max(s.candle.High, newCandle.High)
			s.candle.Low = math.Min(s.candle.Low, newCandle.Low)
			s.candle.Close = newCandle.Close
		}
		s.chunkCurrent++
		if s.chunkCurrent >= s.chunkSize {
			s.chunkCurrent = 0
			out := s.candle
			return &out, nil
		}
		return nil, nil

	case SubscriptionTime:
		if !s.timeStartSet {
			s.timeStartSet = true
			s.timeStart = newCandle.Timestamp
			s.candle = newCandle
			return nil, nil
		}
		s.candle.Timestamp = newCandle.Timestamp
		s.candle.High = math.Max(s.candle.High, newCandle.High)
		s.candle.Low = math.Min(s.candle.Low, newCandle.Low)
		s.candle.Close = newCandle.Close

		elapsed := newCandle.timestampTime().Sub(time.Unix(int64(s.timeStart), 0).UTC())
		if elapsed >= s.duration {
			s.timeStartSet = false
			out := s.candle
			return &out, nil
		}
		return nil, nil

	case SubscriptionTimeAligned:
		durationSecs := s.duration.Seconds()
		if !s.haveNextBoundary {
			s.candle = newCandle
			bucketID := math.Floor(newCandle.Timestamp / durationSecs)
			s.nextBoundary = (bucketID + 1.0) * durationSecs
			s.haveNextBoundary = true
			return nil, nil
		}
		if newCandle.Timestamp < s.nextBoundary {
			s.candle.High = math.Max(s.candle.High, newCandle.High)
			s.candle.Low = math.Min(s.candle.Low, newCandle.Low)
			s.candle.Close = newCandle.Close
			s.candle.Timestamp = newCandle.Timestamp
			if s.candle.Volume != nil && newCandle.Volume != nil {
				sum := *s.candle.Volume + *newCandle.Volume
				s.candle.Volume = &sum
			} else if newCandle.Volume != nil {
				s.candle.Volume = newCandle.Volume
			}
			return nil, nil
		}
		s.candle.Timestamp = s.nextBoundary - durationSecs
		completed := s.candle

		s.candle = newCandle
		bucketID := math.Floor(newCandle.Timestamp / durationSecs)
		s.nextBoundary = (bucketID + 1.0) * durationSecs
		return &completed, nil

	default:
		return nil, fmt.Errorf("unknown subscription kind %v", s.kind)
	}
}
