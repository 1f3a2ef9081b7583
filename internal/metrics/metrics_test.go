package metrics

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestCents(t *testing.T) {
	tests := []struct {
		amount string
		want   int64
	}{
		{"0", 0},
		{"1", 100},
		{"12.34", 1234},
		{"0.005", 1},
		{"-0.005", -1},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			if got := Cents(decimal.RequireFromString(tt.amount)); got != tt.want {
				t.Errorf("Cents(%s) = %d, want %d", tt.amount, got, tt.want)
			}
		})
	}
}

func TestWriteJSON(t *testing.T) {
	m := New()
	m.BetsPlaced.Inc(3)
	m.RegisterGauge("crash.ws.subscribers", func() int64 { return 7 })

	var buf bytes.Buffer
	m.WriteJSON(&buf)

	var out map[string]map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	if got := out["crash.bets.placed"]["count"]; got != float64(3) {
		t.Errorf("crash.bets.placed = %v, want 3", got)
	}
	if got := out["crash.ws.subscribers"]["value"]; got != float64(7) {
		t.Errorf("crash.ws.subscribers = %v, want 7", got)
	}
}
