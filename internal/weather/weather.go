// Package weather tracks the externally reported weather code, derives the
// rain flag and escalates consecutive feed failures.
package weather

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/greenhoused/internal/mathx"
)

var (
	// ErrStale is reported when the latest report is older than the max age.
	ErrStale = errors.New("weather report is stale")
	// ErrNoData is reported before the first report arrives.
	ErrNoData = errors.New("no weather report received")
)

// CodeRange is an inclusive range of weather codes.
type CodeRange struct {
	From int
	To   int
}

// DefaultRainCodes are thunderstorm, drizzle, rain and the 7xx group.
var DefaultRainCodes = []CodeRange{{From: 200, To: 599}, {From: 700, To: 799}}

// Report is one message from the weather collaborator. Error is set when the
// collaborator failed to fetch a forecast.
type Report struct {
	Code  int       `json:"code"`
	Error string    `json:"error,omitempty"`
	At    time.Time `json:"-"`
}

// Status is the result of one tick.
type Status struct {
	Code    int
	Known   bool
	Raining bool
	// Failures counts consecutive failed ticks.
	Failures int
	// Escalated is set on the tick where Failures reached the threshold.
	Escalated bool
	Err       error
}

// Tracker is fed from any goroutine and polled by the control loop.
type Tracker struct {
	rain      []CodeRange
	threshold int
	maxAge    time.Duration

	mu     sync.Mutex
	latest *Report

	code        int
	lastSuccess time.Time
	failures    int
}

// NewTracker creates a tracker. A non-positive threshold escalates on the
// first failure; a zero maxAge never expires reports.
func NewTracker(rain []CodeRange, threshold int, maxAge time.Duration) *Tracker {
	if len(rain) == 0 {
		rain = DefaultRainCodes
	}
	if threshold < 1 {
		threshold = 1
	}
	return &Tracker{rain: rain, threshold: threshold, maxAge: maxAge}
}

// IsRain reports whether code is in one of the rain ranges.
func (t *Tracker) IsRain(code int) bool {
	for _, r := range t.rain {
		if mathx.Between(code, r.From, r.To) {
			return true
		}
	}
	return false
}

// Feed stores the latest report. Safe for concurrent use.
func (t *Tracker) Feed(r Report) {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	t.mu.Lock()
	t.latest = &r
	t.mu.Unlock()
}

// Update evaluates the latest report at now. The rain flag follows the last
// successful report for up to maxAge after it was received.
func (t *Tracker) Update(now time.Time) Status {
	t.mu.Lock()
	latest := t.latest
	t.mu.Unlock()

	err := t.check(latest, now)
	if err == nil {
		if t.failures >= t.threshold {
			log.Info().Int("failures", t.failures).Msg("Weather feed recovered")
		}
		t.failures = 0
		t.code = latest.Code
		t.lastSuccess = latest.At
		return t.status(now, nil, false)
	}

	t.failures++
	escalated := t.failures == t.threshold
	if escalated {
		log.Warn().Err(err).Int("failures", t.failures).Msg("Weather feed failing")
	} else {
		log.Debug().Err(err).Int("failures", t.failures).Msg("Weather feed failure")
	}
	return t.status(now, err, escalated)
}

func (t *Tracker) check(r *Report, now time.Time) error {
	switch {
	case r == nil:
		return ErrNoData
	case r.Error != "":
		return fmt.Errorf("weather collaborator: %s", r.Error)
	case t.maxAge > 0 && now.Sub(r.At) > t.maxAge:
		return fmt.Errorf("%w: received %s ago", ErrStale, now.Sub(r.At).Round(time.Second))
	}
	return nil
}

func (t *Tracker) status(now time.Time, err error, escalated bool) Status {
	known := !t.lastSuccess.IsZero() && (t.maxAge <= 0 || now.Sub(t.lastSuccess) <= t.maxAge)
	return Status{
		Code:      t.code,
		Known:     known,
		Raining:   known && t.IsRain(t.code),
		Failures:  t.failures,
		Escalated: escalated,
		Err:       err,
	}
}
