// Package monitor is the long-lived queue and health daemon: threshold
// events, heartbeats, stuck-task and hung-agent detection, and idle-agent
// nudges.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"

	"github.com/droverhq/drover/internal/activity"
	"github.com/droverhq/drover/internal/beads"
	"github.com/droverhq/drover/internal/broadcast"
	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/history"
	"github.com/droverhq/drover/internal/registry"
)

// processSignature identifies our binary in PID-reuse checks.
const processSignature = "drover"

// BeadSource is the slice of the bead store client the monitor reads.
type BeadSource interface {
	Ready(ctx context.Context) ([]beads.Bead, error)
	InProgress(ctx context.Context) ([]beads.Bead, error)
}

// State is the durable monitor record; the daemon is restart-safe from it.
type State struct {
	PID       int       `json:"pid"`
	LastTick  time.Time `json:"last_tick"`
	LastLevel string    `json:"last_level"`
	StartedAt time.Time `json:"started_at"`
}

// Monitor is the daemon.
type Monitor struct {
	paths    config.Paths
	source   BeadSource
	registry *registry.Registry
	tracker  *history.Tracker
	router   *broadcast.Router
	resolver *broadcast.Resolver

	activityLog *activity.Log
	queueLog    *activity.Log
	heartbeats  *activity.Log

	mu         sync.RWMutex
	thresholds config.Thresholds
	lastLevel  string

	lock *flock.Flock
	slog *slog.Logger
}

// New wires a Monitor. Thresholds are loaded from disk and kept live via
// fsnotify while the daemon runs.
func New(paths config.Paths, source BeadSource, reg *registry.Registry, tracker *history.Tracker, router *broadcast.Router, resolver *broadcast.Resolver, logger *slog.Logger) (*Monitor, error) {
	thresholds, err := config.LoadThresholds(paths.ThresholdsConf())
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		paths:       paths,
		source:      source,
		registry:    reg,
		tracker:     tracker,
		router:      router,
		resolver:    resolver,
		activityLog: activity.NewLog(paths.ActivityLog()),
		queueLog:    activity.NewLog(paths.QueueEventsLog()),
		heartbeats:  activity.NewLog(paths.HeartbeatsLog()),
		thresholds:  thresholds,
		lastLevel:   "normal",
		slog:        logger,
	}, nil
}

// Thresholds returns the current (possibly reloaded) tunables.
func (m *Monitor) Thresholds() config.Thresholds {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.thresholds
}

// Run acquires the startup lock, records the PID, restores state, and
// loops until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.paths.EnsureDirs(); err != nil {
		return err
	}

	m.lock = flock.New(m.paths.MonitorLockFile())
	locked, err := m.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring monitor lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another monitor already holds %s", m.paths.MonitorLockFile())
	}
	defer m.lock.Unlock()

	if live, err := ClearStalePID(m.paths.MonitorPIDFile(), processSignature); err != nil {
		return err
	} else if live {
		return fmt.Errorf("monitor already running (pid file %s)", m.paths.MonitorPIDFile())
	}
	if err := WritePIDFile(m.paths.MonitorPIDFile()); err != nil {
		return err
	}
	defer os.Remove(m.paths.MonitorPIDFile())

	m.restoreState()

	watcher, err := m.watchThresholds()
	if err != nil {
		m.slog.Warn("thresholds watch unavailable", "error", err)
	} else {
		defer watcher.Close()
	}

	checkTicker := time.NewTicker(m.Thresholds().CheckInterval)
	defer checkTicker.Stop()
	healthTicker := time.NewTicker(m.Thresholds().HealthCheckInterval)
	defer healthTicker.Stop()

	m.slog.Info("monitor started", "pid", os.Getpid(), "root", m.paths.Root)

	for {
		select {
		case <-ctx.Done():
			m.slog.Info("monitor stopping")
			return ctx.Err()
		case <-checkTicker.C:
			if err := m.QueueCheck(ctx); err != nil {
				m.slog.Error("queue check failed", "error", err)
			}
			m.persistState()
		case <-healthTicker.C:
			if err := m.HealthCheck(ctx); err != nil {
				m.slog.Error("health check failed", "error", err)
			}
		}
	}
}

// watchThresholds reloads the conf file on change so operators can retune
// a running daemon.
func (m *Monitor) watchThresholds() (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors replace the file, which drops a watch
	// on the file itself.
	if err := watcher.Add(m.paths.BeadsDir()); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != m.paths.ThresholdsConf() {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				thresholds, err := config.LoadThresholds(m.paths.ThresholdsConf())
				if err != nil {
					m.slog.Warn("thresholds reload failed", "error", err)
					continue
				}
				m.mu.Lock()
				m.thresholds = thresholds
				m.mu.Unlock()
				m.slog.Info("thresholds reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.slog.Warn("thresholds watcher error", "error", err)
			}
		}
	}()
	return watcher, nil
}

func (m *Monitor) restoreState() {
	data, err := os.ReadFile(m.paths.MonitorStateFile())
	if err != nil {
		return
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return
	}
	if state.LastLevel != "" {
		m.mu.Lock()
		m.lastLevel = state.LastLevel
		m.mu.Unlock()
	}
}

func (m *Monitor) persistState() {
	m.mu.RLock()
	state := State{
		PID:       os.Getpid(),
		LastTick:  time.Now().UTC(),
		LastLevel: m.lastLevel,
	}
	m.mu.RUnlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(m.paths.MonitorStateFile(), append(data, '\n'), 0644); err != nil {
		m.slog.Warn("persisting monitor state failed", "error", err)
	}
}

// Status describes a (possibly stopped) monitor for the CLI.
type Status struct {
	Running   bool             `json:"running"`
	PID       int              `json:"pid,omitempty"`
	LastTick  time.Time        `json:"last_tick,omitempty"`
	LastLevel string           `json:"last_level,omitempty"`
	Recent    []activity.Event `json:"recent,omitempty"`
}

// ReadStatus inspects the on-disk monitor state without a running daemon.
func ReadStatus(paths config.Paths) (*Status, error) {
	status := &Status{}

	pid, err := ReadPIDFile(paths.MonitorPIDFile())
	if err == nil && pid > 0 && ProcessMatches(pid, processSignature) {
		status.Running = true
		status.PID = pid
	}

	if data, err := os.ReadFile(paths.MonitorStateFile()); err == nil {
		var state State
		if json.Unmarshal(data, &state) == nil {
			status.LastTick = state.LastTick
			status.LastLevel = state.LastLevel
		}
	}

	recent, err := activity.NewLog(paths.QueueEventsLog()).Tail(10)
	if err == nil {
		status.Recent = recent
	}
	return status, nil
}
