package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"classbeacon/internal/window"
)

func newCLI(now *time.Time) (cli, *bytes.Buffer) {
	var out bytes.Buffer
	win := window.New(window.NewMemorySlot(), window.WithClock(func() time.Time { return *now }))
	return cli{win: win, out: &out, interval: 10 * time.Millisecond}, &out
}

func TestOpenStatusClose(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local)
	c, out := newCLI(&now)
	ctx := context.Background()

	if err := c.run(ctx, []string{"open", "1.5"}); err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := out.String(); got != "open 01:30 remaining (until 09:01:30)\n" {
		t.Fatalf("open output = %q", got)
	}
	out.Reset()
	if err := c.run(ctx, []string{"close"}); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := out.String(); got != "closed\n" {
		t.Fatalf("close output = %q", got)
	}
}

func TestStatusJSON(t *testing.T) {
	t.Parallel()
	now := time.Now()
	c, out := newCLI(&now)
	c.json = true
	if err := c.run(context.Background(), []string{"status"}); err != nil {
		t.Fatalf("status: %v", err)
	}
	var snap window.Snapshot
	if err := json.Unmarshal(out.Bytes(), &snap); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	if snap.Open || snap.Remaining != "00:00" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestUsageErrors(t *testing.T) {
	t.Parallel()
	now := time.Now()
	c, _ := newCLI(&now)
	for _, args := range [][]string{nil, {"open"}, {"open", "soon"}, {"reopen"}} {
		if err := c.run(context.Background(), args); !errors.Is(err, errUsage) {
			t.Fatalf("run(%v) error = %v, want errUsage", args, err)
		}
	}
	if err := c.run(context.Background(), []string{"open", "-1"}); !errors.Is(err, window.ErrInvalidDuration) {
		t.Fatalf("negative duration error = %v", err)
	}
}

func TestWatchPrintsChangesOnly(t *testing.T) {
	t.Parallel()
	now := time.Now()
	c, out := newCLI(&now)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := c.run(ctx, []string{"watch"}); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if got := strings.Count(out.String(), "closed"); got != 1 {
		t.Fatalf("watch printed %d closed lines, want 1:\n%s", got, out.String())
	}
}
