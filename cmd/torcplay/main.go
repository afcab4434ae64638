package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gwsu/torc/config"
	_ "github.com/gwsu/torc/container/mpegts"
	_ "github.com/gwsu/torc/container/wav"
	"github.com/gwsu/torc/player"
	"github.com/gwsu/torc/render"
	"github.com/gwsu/torc/sink"
)

var version = "dev"

var errPlaybackFailed = errors.New("playback failed")

func main() {
	var (
		startPaused bool
		timeout     time.Duration
	)

	root := &cobra.Command{
		Use:     "torcplay <uri>",
		Short:   "Play a media file or stream",
		Args:    cobra.ExactArgs(1),
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], startPaused, timeout)
		},
	}
	root.Flags().BoolVar(&startPaused, "start-paused", false, "open the media but do not start playback")
	root.Flags().DurationVar(&timeout, "timeout", 0, "stop playback after this duration (0 = play to the end)")
	root.SilenceUsage = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, uri string, startPaused bool, timeout time.Duration) error {
	cfg := config.Load()

	level := slog.LevelInfo
	if cfg.Debug || os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("torcplay starting", "version", version, "uri", uri)

	snk := sink.NewClockSink()
	rend := &render.Null{}

	p := player.New(snk, rend,
		player.WithTunables(cfg),
		player.WithUserMessage(func(msg string) {
			fmt.Fprintln(os.Stderr, msg)
		}),
	)
	defer p.Teardown()

	if !p.PlayMedia(uri, startPaused) {
		return errPlaybackFailed
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(time.Duration(cfg.RefreshIntervalMs) * time.Millisecond)
		defer ticker.Stop()

		size := render.Size{Width: 1920, Height: 1080}
		for {
			select {
			case <-ctx.Done():
				p.Stop()
				// Drive the stop to completion.
				for p.GetState() != player.Stopped && p.GetState() != player.None &&
					p.GetState() != player.Errored {
					if !p.Refresh(sink.NowMicros(), size, false) {
						break
					}
					time.Sleep(10 * time.Millisecond)
				}
				return nil

			case <-ticker.C:
				if !p.Refresh(sink.NowMicros(), size, true) {
					state := p.GetState()
					if state == player.Errored {
						return errPlaybackFailed
					}
					if state == player.Stopped {
						slog.Info("playback finished")
						return nil
					}
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("player error", "error", err)
		return err
	}

	slog.Info("frames presented", "count", rend.FrameCount())
	return nil
}
