// Package metrics keeps the engine's counters in a go-metrics registry.
package metrics

import (
	"io"

	gometrics "github.com/rcrowley/go-metrics"
	"github.com/shopspring/decimal"
)

type Metrics struct {
	Registry gometrics.Registry

	RoundsStarted  gometrics.Counter
	RoundsCrashed  gometrics.Counter
	RoundsVoided   gometrics.Counter
	RoundFailures  gometrics.Counter
	DisabledChecks gometrics.Counter

	BetsPlaced   gometrics.Counter
	BetsRejected gometrics.Counter
	BetsLost     gometrics.Counter
	Cashouts     gometrics.Counter
	AutoCashouts gometrics.Counter
	Conflicts    gometrics.Counter

	// Money is tracked in minor units (cents).
	WageredCents gometrics.Counter
	PaidOutCents gometrics.Counter

	CrashPoints   gometrics.Histogram
	TickDuration  gometrics.Timer
	DroppedEvents gometrics.Counter
}

func New() *Metrics {
	r := gometrics.NewRegistry()
	return &Metrics{
		Registry:       r,
		RoundsStarted:  gometrics.NewRegisteredCounter("crash.rounds.started", r),
		RoundsCrashed:  gometrics.NewRegisteredCounter("crash.rounds.crashed", r),
		RoundsVoided:   gometrics.NewRegisteredCounter("crash.rounds.voided", r),
		RoundFailures:  gometrics.NewRegisteredCounter("crash.rounds.failures", r),
		DisabledChecks: gometrics.NewRegisteredCounter("crash.rounds.disabled", r),
		BetsPlaced:     gometrics.NewRegisteredCounter("crash.bets.placed", r),
		BetsRejected:   gometrics.NewRegisteredCounter("crash.bets.rejected", r),
		BetsLost:       gometrics.NewRegisteredCounter("crash.bets.lost", r),
		Cashouts:       gometrics.NewRegisteredCounter("crash.bets.cashouts", r),
		AutoCashouts:   gometrics.NewRegisteredCounter("crash.bets.auto_cashouts", r),
		Conflicts:      gometrics.NewRegisteredCounter("crash.tx.conflicts", r),
		WageredCents:   gometrics.NewRegisteredCounter("crash.money.wagered_cents", r),
		PaidOutCents:   gometrics.NewRegisteredCounter("crash.money.paid_out_cents", r),
		CrashPoints:    gometrics.NewRegisteredHistogram("crash.rounds.crash_point_x100", r, gometrics.NewExpDecaySample(1028, 0.015)),
		TickDuration:   gometrics.NewRegisteredTimer("crash.scheduler.tick", r),
		DroppedEvents:  gometrics.NewRegisteredCounter("crash.events.dropped", r),
	}
}

// RegisterGauge exposes a value computed on read, e.g. connected subscribers.
func (m *Metrics) RegisterGauge(name string, fn func() int64) {
	gometrics.NewRegisteredFunctionalGauge(name, m.Registry, fn)
}

func Cents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func (m *Metrics) WriteJSON(w io.Writer) {
	gometrics.WriteJSONOnce(m.Registry, w)
}
