// Package window implements the attendance window: a single persisted expiry
// timestamp shared by every observer. The window is open while the current
// time is before the stored expiry; closing needs no write once time passes.
package window

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"classbeacon/internal/metrics"
)

var (
	// ErrInvalidDuration is returned when Open gets a non-positive duration.
	ErrInvalidDuration = errors.New("duration must be a positive number of minutes")
	// ErrDurationTooLong is returned when Open exceeds the configured maximum.
	ErrDurationTooLong = errors.New("duration exceeds the maximum window length")
)

// Slot is the persisted value backing the window plus its change broadcast.
// Every Store or Clear must notify all subscribers, including those in other
// processes sharing the same slot.
type Slot interface {
	Load(ctx context.Context) (value string, ok bool, err error)
	Store(ctx context.Context, value string) error
	Clear(ctx context.Context) error
	Subscribe(ctx context.Context) (<-chan struct{}, error)
}

// Snapshot is a consistent view of the window at one instant.
type Snapshot struct {
	Open        bool   `json:"open"`
	ExpiresAt   *int64 `json:"expires_at"`
	RemainingMS int64  `json:"remaining_ms"`
	Remaining   string `json:"remaining"`
	ServerTime  int64  `json:"server_time"`
}

// Window reads and writes the attendance window through a Slot.
type Window struct {
	slot       Slot
	now        func() time.Time
	maxMinutes float64
	log        *slog.Logger
}

// Option configures a Window.
type Option func(*Window)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Window) { w.now = now }
}

// WithMaxMinutes caps the duration accepted by Open. Zero disables the cap.
func WithMaxMinutes(m int) Option {
	return func(w *Window) { w.maxMinutes = float64(m) }
}

// WithLogger sets the logger used for degraded reads.
func WithLogger(l *slog.Logger) Option {
	return func(w *Window) { w.log = l }
}

// New creates a Window over slot.
func New(slot Slot, opts ...Option) *Window {
	w := &Window{slot: slot, now: time.Now, log: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Open sets the expiry to now + durationMinutes, replacing any existing window.
func (w *Window) Open(ctx context.Context, durationMinutes float64) error {
	if math.IsNaN(durationMinutes) || math.IsInf(durationMinutes, 0) || durationMinutes <= 0 {
		return ErrInvalidDuration
	}
	if w.maxMinutes > 0 && durationMinutes > w.maxMinutes {
		return ErrDurationTooLong
	}
	until := w.now().UnixMilli() + int64(durationMinutes*float64(time.Minute/time.Millisecond))
	if err := w.slot.Store(ctx, strconv.FormatInt(until, 10)); err != nil {
		return fmt.Errorf("store window: %w", err)
	}
	metrics.WindowChanges.WithLabelValues("open").Inc()
	return nil
}

// Close clears the window regardless of its current state.
func (w *Window) Close(ctx context.Context) error {
	if err := w.slot.Clear(ctx); err != nil {
		return fmt.Errorf("clear window: %w", err)
	}
	metrics.WindowChanges.WithLabelValues("close").Inc()
	return nil
}

// CurrentExpiry returns the stored expiry, if any.
func (w *Window) CurrentExpiry(ctx context.Context) (time.Time, bool) {
	ms, ok := w.expiry(ctx)
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// IsOpen reports whether the current time is before the stored expiry.
func (w *Window) IsOpen(ctx context.Context) bool {
	return w.Snapshot(ctx).Open
}

// Remaining returns the time left in the window, never negative.
func (w *Window) Remaining(ctx context.Context) time.Duration {
	return time.Duration(w.Snapshot(ctx).RemainingMS) * time.Millisecond
}

// Snapshot reads the slot once and derives every display field from that read.
func (w *Window) Snapshot(ctx context.Context) Snapshot {
	until, ok := w.expiry(ctx)
	now := w.now().UnixMilli()
	snap := Snapshot{ServerTime: now, Remaining: FormatDuration(0)}
	if !ok {
		return snap
	}
	snap.ExpiresAt = &until
	if now < until {
		snap.Open = true
		snap.RemainingMS = until - now
		snap.Remaining = FormatDuration(snap.RemainingMS)
	}
	return snap
}

// Subscribe exposes the slot's change notifications.
func (w *Window) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	return w.slot.Subscribe(ctx)
}

// expiry loads and parses the stored value. Unreadable or malformed values
// are reported as absent so the window fails closed.
func (w *Window) expiry(ctx context.Context) (int64, bool) {
	raw, ok, err := w.slot.Load(ctx)
	if err != nil {
		w.log.Warn("window slot unreadable, treating as closed", "error", err)
		metrics.WindowReadFallbacks.WithLabelValues("unreadable").Inc()
		return 0, false
	}
	if !ok {
		return 0, false
	}
	ms, ok := parseExpiry(raw)
	if !ok {
		w.log.Warn("window slot holds malformed value, treating as closed", "value", raw)
		metrics.WindowReadFallbacks.WithLabelValues("malformed").Inc()
		return 0, false
	}
	return ms, true
}

func parseExpiry(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return ms, true
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

// FormatDuration renders milliseconds as MM:SS, rounding seconds up.
func FormatDuration(ms int64) string {
	if ms <= 0 {
		return "00:00"
	}
	s := (ms + 999) / 1000
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}
