package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/MJE43/keyscan/internal/runner"
)

var scanFlags struct {
	req      runner.StartRequest
	interval time.Duration
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one scan in the foreground; Ctrl-C stops it and saves a checkpoint",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !scanFlags.req.Resume && scanFlags.req.Target == "" {
			return fmt.Errorf("--target is required unless --resume is set")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx, cfg)
		if err != nil {
			return err
		}
		runErr := runForeground(ctx, a, scanFlags.req, scanFlags.interval)

		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return multierr.Append(runErr, a.Close(closeCtx))
	},
}

// runForeground starts req and reports progress until the scan finishes or
// ctx is cancelled, in which case the scan is stopped and awaited.
func runForeground(ctx context.Context, a *app, req runner.StartRequest, every time.Duration) error {
	runID, err := a.runner.Start(ctx, req)
	if err != nil {
		return err
	}
	a.logger.Info("scan started", zap.String("run_id", runID))

	done := make(chan error, 1)
	go func() { done <- a.runner.Wait(context.Background()) }()

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			st := a.runner.Status()
			a.logger.Info("progress",
				zap.String("examined", humanize.Comma(int64(st.Examined))),
				zap.Uint64("matches", st.Matches),
				zap.String("percent", st.Percent))
		case <-ctx.Done():
			a.logger.Info("interrupt received, stopping scan")
			_ = a.runner.Stop()
			ctx = context.Background()
		case err := <-done:
			if err != nil {
				return err
			}
			return report(a.runner.Status())
		}
	}
}

func report(st runner.Status) error {
	if st.Last == nil {
		return nil
	}
	res := st.Last
	outcome := "completed"
	if res.Stopped {
		outcome = "stopped"
	}
	fmt.Printf("%s: examined %s keys, %d matches, %d invalid, %s\n",
		outcome, humanize.Comma(int64(res.Examined)), res.Matches, res.Invalid, res.Duration.Round(time.Millisecond))
	if res.Stopped {
		fmt.Println("checkpoint saved; rerun with --resume to continue")
	}
	return nil
}

func init() {
	f := scanCmd.Flags()
	f.StringVar(&scanFlags.req.Target, "target", "", "target address")
	f.StringVar(&scanFlags.req.Start, "start", "", "first key, 64 hex digits")
	f.StringVar(&scanFlags.req.End, "end", "", "last key, 64 hex digits")
	f.StringVar(&scanFlags.req.Mode, "mode", "sequential", "sequential or random")
	f.IntVar(&scanFlags.req.Attempts, "attempts", 1, "draws per worker in random mode")
	f.IntVar(&scanFlags.req.PrefixLength, "prefix", 0, "number of leading address characters to match")
	f.IntVar(&scanFlags.req.Workers, "workers", 0, "worker count (0 = scan.workers)")
	f.BoolVar(&scanFlags.req.Resume, "resume", false, "continue from the saved checkpoint")
	f.DurationVar(&scanFlags.interval, "report-every", 5*time.Second, "progress report interval")
}
