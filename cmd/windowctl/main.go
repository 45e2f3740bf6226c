// Command windowctl opens, closes and watches the shared attendance window
// from a terminal.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"classbeacon/internal/config"
	"classbeacon/internal/store"
	"classbeacon/internal/window"
)

const usage = `usage: windowctl [flags] <command>

commands:
  open <minutes>  open the window for the given number of minutes
  close           close the window
  status          print the current window state
  watch           stream the window state until interrupted

flags:
`

var errUsage = errors.New("invalid usage")

func main() {
	fs := flag.NewFlagSet("windowctl", flag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "print snapshots as JSON")
	redisAddr := fs.String("redis", "", "redis address (default: REDIS_ADDR)")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := config.NewLogger(cfg)
	slog.SetDefault(log)
	if *redisAddr != "" {
		cfg.RedisAddr = *redisAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := store.NewRedis(cfg.RedisAddr)
	defer rdb.Close()
	if !rdb.Healthy(ctx) {
		log.Warn("redis not reachable, window will read as closed", "addr", cfg.RedisAddr)
	}
	win := window.New(window.NewRedisSlot(rdb.Client, "", ""),
		window.WithMaxMinutes(cfg.WindowMaxMinutes), window.WithLogger(log))

	c := cli{win: win, out: os.Stdout, json: *jsonOutput, interval: cfg.WindowPollInterval}
	if err := c.run(ctx, fs.Args()); err != nil {
		if errors.Is(err, errUsage) {
			fs.Usage()
		}
		fmt.Fprintln(os.Stderr, "windowctl:", err)
		os.Exit(1)
	}
}

type cli struct {
	win      *window.Window
	out      io.Writer
	json     bool
	interval time.Duration
}

func (c cli) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "open":
		if len(args) != 2 {
			return fmt.Errorf("%w: open takes a duration in minutes", errUsage)
		}
		minutes, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("%w: %q is not a number", errUsage, args[1])
		}
		if err := c.win.Open(ctx, minutes); err != nil {
			return err
		}
		slog.Info("attendance window opened", "minutes", minutes)
		return c.print(c.win.Snapshot(ctx))
	case "close":
		if err := c.win.Close(ctx); err != nil {
			return err
		}
		slog.Info("attendance window closed")
		return c.print(c.win.Snapshot(ctx))
	case "status":
		return c.print(c.win.Snapshot(ctx))
	case "watch":
		var last *window.Snapshot
		for snap := range c.win.Watch(ctx, c.interval) {
			if last != nil && !changed(*last, snap) {
				continue
			}
			if err := c.print(snap); err != nil {
				return err
			}
			last = &snap
		}
		return nil
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
}

// changed reports whether a snapshot differs from the last one printed at
// display resolution.
func changed(prev, next window.Snapshot) bool {
	return prev.Open != next.Open || prev.Remaining != next.Remaining
}

func (c cli) print(snap window.Snapshot) error {
	if c.json {
		return json.NewEncoder(c.out).Encode(snap)
	}
	if !snap.Open {
		_, err := fmt.Fprintln(c.out, "closed")
		return err
	}
	until := time.UnixMilli(*snap.ExpiresAt).Format(time.TimeOnly)
	_, err := fmt.Fprintf(c.out, "open %s remaining (until %s)\n", snap.Remaining, until)
	return err
}
