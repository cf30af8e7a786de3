package pocket

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBaseCandleUnmarshal(t *testing.T) {
	var c BaseCandle
	if err := json.Unmarshal([]byte(`[1754529180,0.92124,0.92155,0.92162,0.92124]`), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.Timestamp != 1754529180 || c.Open != 0.92124 || c.Close != 0.92155 || c.High != 0.92162 || c.Low != 0.92124 {
		t.Fatalf("unexpected candle: %+v", c)
	}
	if c.Volume != nil {
		t.Fatalf("expected nil volume, got %v", *c.Volume)
	}
}

func TestBaseCandleUnmarshalWithVolume(t *testing.T) {
	var c BaseCandle
	if err := json.Unmarshal([]byte(`[1754529180,0.92124,0.92155,0.92162,0.92124,100.0]`), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.Volume == nil || *c.Volume != 100.0 {
		t.Fatalf("expected volume 100.0, got %v", c.Volume)
	}
}

func TestBaseCandleUnmarshalWithNullVolume(t *testing.T) {
	var c BaseCandle
	if err := json.Unmarshal([]byte(`[1754529180,0.92124,0.92155,0.92162,0.92124,null]`), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.Volume != nil {
		t.Fatalf("expected nil volume for explicit null, got %v", *c.Volume)
	}
}

func TestCompileCandlesZeroPeriod(t *testing.T) {
	ticks := []HistoryTick{{Timestamp: 1000, Price: 1.0}, {Timestamp: 1001, Price: 1.1}}
	if got := CompileCandlesFromTicks(ticks, 0, "TEST"); got != nil {
		t.Fatalf("expected nil for zero period, got %v", got)
	}
}

func TestCompileCandlesEmptyTicks(t *testing.T) {
	if got := CompileCandlesFromTicks(nil, 60, "TEST"); got != nil {
		t.Fatalf("expected nil for empty ticks, got %v", got)
	}
}

func TestCompileCandlesSingleTick(t *testing.T) {
	ticks := []HistoryTick{{Timestamp: 1000, Price: 1.5}}
	candles := CompileCandlesFromTicks(ticks, 60, "TEST")
	if len(candles) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(candles))
	}
	c := candles[0]
	if c.Timestamp != 960 {
		t.Errorf("timestamp = %v, want 960", c.Timestamp)
	}
	if !c.Open.Equal(c.High) || !c.Open.Equal(c.Low) || !c.Open.Equal(c.Close) {
		t.Errorf("expected flat OHLC for single tick, got %+v", c)
	}
}

func TestCompileCandlesMultipleBuckets(t *testing.T) {
	ticks := []HistoryTick{
		{Timestamp: 1000, Price: 1.0},
		{Timestamp: 1010, Price: 1.2},
		{Timestamp: 1005, Price: 0.8}, // out of order, same bucket as the above two
		{Timestamp: 1065, Price: 2.0}, // next bucket
	}
	candles := CompileCandlesFromTicks(ticks, 60, "EURUSD_otc")
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	first := candles[0]
	if !first.Open.Equal(first.Open) {
		t.Fatalf("sanity")
	}
	if first.Close.String() != "1.2" {
		t.Errorf("first candle close = %s, want 1.2 (last tick by timestamp in bucket)", first.Close)
	}
	if first.Low.String() != "0.8" {
		t.Errorf("first candle low = %s, want 0.8", first.Low)
	}
	if candles[1].Open.String() != "2" && candles[1].Open.String() != "2.0" {
		t.Errorf("second candle open = %s, want 2", candles[1].Open)
	}
}

func TestSubscriptionTypeChunk(t *testing.T) {
	sub := NewSubscriptionChunk(3)
	var out *BaseCandle
	for i, price := range []float64{1.0, 1.5, 0.9} {
		var err error
		out, err = sub.Update(BaseCandle{Timestamp: float64(i), Open: price, High: price, Low: price, Close: price})
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}
	if out == nil {
		t.Fatalf("expected a completed candle on the 3rd tick")
	}
	if out.High != 1.5 || out.Low != 0.9 {
		t.Errorf("unexpected aggregate: %+v", out)
	}
}

func TestSubscriptionTypeTimeAligned(t *testing.T) {
	sub, err := NewSubscriptionTimeAligned(60 * time.Second)
	if err != nil {
		t.Fatalf("NewSubscriptionTimeAligned: %v", err)
	}

	first, err := sub.Update(BaseCandle{Timestamp: 965, Open: 1, High: 1, Low: 1, Close: 1})
	if err != nil {
		t.Fatalf("update 1: %v", err)
	}
	if first != nil {
		t.Fatalf("first tick should not complete a window, got %+v", first)
	}

	second, err := sub.Update(BaseCandle{Timestamp: 1030, Open: 2, High: 2, Low: 2, Close: 2})
	if err != nil {
		t.Fatalf("update 2: %v", err)
	}
	if second == nil {
		t.Fatalf("expected a completed window once the boundary (1020) is crossed")
	}
	if second.Timestamp != 960 {
		t.Errorf("completed candle timestamp = %v, want 960 (boundary start)", second.Timestamp)
	}
}

func TestSubscriptionTypeTimeAlignedRejectsNonDivisor(t *testing.T) {
	if _, err := NewSubscriptionTimeAligned(7 * time.Second); err == nil {
		t.Fatalf("expected error for duration not dividing 86400")
	}
}
