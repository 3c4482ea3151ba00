package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/droverhq/drover/internal/activity"
	"github.com/droverhq/drover/internal/broadcast"
	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/monitor"
	"github.com/droverhq/drover/internal/output"
	"github.com/droverhq/drover/internal/tmux"
)

func newMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run the queue and health monitor daemon",
		Long: `Control the long-lived queue/health monitor.

The monitor watches queue depth against thresholds, records agent
heartbeats, detects stuck tasks and hung agents, and nudges idle agents
when ready work piles up.

Subcommands:
  start   Start the daemon (detached unless --foreground)
  stop    Stop a running daemon
  status  Report daemon state and recent queue events
  attach  Follow the queue event stream

Examples:
  drover monitor start
  drover monitor status --json`,
	}

	cmd.AddCommand(
		newMonitorStartCmd(),
		newMonitorStopCmd(),
		newMonitorStatusCmd(),
		newMonitorAttachCmd(),
	)
	return cmd
}

// MonitorStartResponse reports a daemon start.
type MonitorStartResponse struct {
	output.TimestampedResponse
	PID     int    `json:"pid"`
	LogFile string `json:"log_file,omitempty"`
}

func newMonitorStartCmd() *cobra.Command {
	var foreground bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the monitor daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := getPaths()
			if err != nil {
				return err
			}

			if foreground {
				logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
				mon, err := newMonitor(paths, logger)
				if err != nil {
					return err
				}
				ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				if err := mon.Run(ctx); err != nil && ctx.Err() == nil {
					return err
				}
				return nil
			}

			// Detached: re-exec ourselves in foreground mode with the log
			// redirected.
			self, err := os.Executable()
			if err != nil {
				return fmt.Errorf("locating binary: %w", err)
			}
			if err := paths.EnsureDirs(); err != nil {
				return err
			}
			logPath := filepath.Join(paths.BeadsDir(), "queue-monitor.log")
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return err
			}
			defer logFile.Close()

			child := exec.Command(self, "monitor", "start", "--foreground", "--root", paths.Root)
			child.Stdout = logFile
			child.Stderr = logFile
			child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
			if err := child.Start(); err != nil {
				return fmt.Errorf("starting daemon: %w", err)
			}

			resp := MonitorStartResponse{
				TimestampedResponse: output.NewTimestamped(),
				PID:                 child.Process.Pid,
				LogFile:             logPath,
			}
			if IsJSONOutput() {
				return output.PrintJSON(resp)
			}
			fmt.Printf("Monitor started (pid %d), logging to %s\n", resp.PID, logPath)
			return nil
		},
	}

	cmd.Flags().BoolVar(&foreground, "foreground", false, "Run in the foreground")
	return cmd
}

// MonitorStopResponse reports a daemon stop.
type MonitorStopResponse struct {
	output.TimestampedResponse
	PID     int  `json:"pid,omitempty"`
	Stopped bool `json:"stopped"`
}

func newMonitorStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running monitor daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := getPaths()
			if err != nil {
				return err
			}
			status, err := monitor.ReadStatus(paths)
			if err != nil {
				return err
			}

			resp := MonitorStopResponse{TimestampedResponse: output.NewTimestamped()}
			if status.Running {
				if err := syscall.Kill(status.PID, syscall.SIGTERM); err != nil {
					return fmt.Errorf("stopping pid %d: %w", status.PID, err)
				}
				resp.PID = status.PID
				resp.Stopped = true
			}

			if IsJSONOutput() {
				return output.PrintJSON(resp)
			}
			if !resp.Stopped {
				fmt.Println("Monitor is not running")
				return nil
			}
			fmt.Printf("Stopped monitor (pid %d)\n", resp.PID)
			return nil
		},
	}
}

// MonitorStatusResponse wraps the daemon status.
type MonitorStatusResponse struct {
	output.TimestampedResponse
	Status *monitor.Status `json:"status"`
}

func newMonitorStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report daemon state and recent queue events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := getPaths()
			if err != nil {
				return err
			}
			status, err := monitor.ReadStatus(paths)
			if err != nil {
				return err
			}

			resp := MonitorStatusResponse{TimestampedResponse: output.NewTimestamped(), Status: status}
			if IsJSONOutput() {
				return output.PrintJSON(resp)
			}
			if status.Running {
				fmt.Printf("Monitor running (pid %d)\n", status.PID)
			} else {
				fmt.Println("Monitor is not running")
			}
			if !status.LastTick.IsZero() {
				fmt.Printf("  Last tick: %s | Level: %s\n",
					status.LastTick.Format(time.RFC3339), status.LastLevel)
			}
			for _, ev := range status.Recent {
				fmt.Printf("  %s %s %s\n", ev.Timestamp.Format("15:04:05"), ev.Event, ev.Agent)
			}
			return nil
		},
	}
}

func newMonitorAttachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach",
		Short: "Follow the queue event stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := getPaths()
			if err != nil {
				return err
			}

			// Recent context first, then follow appends.
			recent, err := activity.NewLog(paths.QueueEventsLog()).Tail(10)
			if err == nil {
				for _, ev := range recent {
					printQueueEvent(ev)
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return followQueueEvents(ctx, paths.QueueEventsLog())
		},
	}
}

// followQueueEvents polls the log for appended lines until cancelled.
func followQueueEvents(ctx context.Context, path string) error {
	var offset int64
	if info, err := os.Stat(path); err == nil {
		offset = info.Size()
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil || info.Size() <= offset {
				if err == nil && info.Size() < offset {
					offset = 0 // truncated or rotated
				}
				continue
			}
			f, err := os.Open(path)
			if err != nil {
				continue
			}
			if _, err := f.Seek(offset, io.SeekStart); err != nil {
				f.Close()
				continue
			}
			scanner := bufio.NewScanner(f)
			for scanner.Scan() {
				line := scanner.Bytes()
				offset += int64(len(line)) + 1
				var ev activity.Event
				if err := json.Unmarshal(line, &ev); err != nil {
					continue
				}
				printQueueEvent(ev)
			}
			f.Close()
		}
	}
}

func printQueueEvent(ev activity.Event) {
	fmt.Printf("%s %-18s %s", ev.Timestamp.Format(time.RFC3339), ev.Event, ev.Agent)
	for k, v := range ev.Payload {
		fmt.Printf(" %s=%s", k, v)
	}
	fmt.Println()
}

// newMonitor wires a Monitor from the standard CLI dependencies.
func newMonitor(paths config.Paths, logger *slog.Logger) (*monitor.Monitor, error) {
	reg, err := newRegistry(paths)
	if err != nil {
		return nil, err
	}
	resolver := broadcast.NewResolver(paths, reg, paneLister{client: tmux.DefaultClient})
	return monitor.New(paths, newBeadsClient(paths), reg, newTracker(paths),
		newRouter(), resolver, logger)
}
