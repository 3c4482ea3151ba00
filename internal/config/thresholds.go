package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Thresholds holds the monitor and auto-scaler tunables read from
// .beads/queue-thresholds.conf. All fields have defaults so a missing file
// yields a working configuration.
type Thresholds struct {
	// Queue depth levels.
	QueueLow      int
	QueueMedium   int
	QueueHigh     int
	QueueCritical int

	// Loop intervals.
	CheckInterval       time.Duration
	HealthCheckInterval time.Duration

	// Health detection.
	StuckTaskThreshold time.Duration
	HungAgentThreshold time.Duration

	// Scaling policy.
	ScaleUpThreshold float64
	MaxAgents        int
	MinAgents        int
	IdleTimeout      time.Duration

	// Coordinator notification.
	NotifyCoordinators   bool
	CoordinatorRecipient string
}

// DefaultThresholds returns the built-in defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		QueueLow:             5,
		QueueMedium:          10,
		QueueHigh:            20,
		QueueCritical:        40,
		CheckInterval:        300 * time.Second,
		HealthCheckInterval:  600 * time.Second,
		StuckTaskThreshold:   2 * time.Hour,
		HungAgentThreshold:   30 * time.Minute,
		ScaleUpThreshold:     2.0,
		MaxAgents:            8,
		MinAgents:            0,
		IdleTimeout:          30 * time.Minute,
		NotifyCoordinators:   true,
		CoordinatorRecipient: "@coordinators",
	}
}

// LoadThresholds parses the conf file, overlaying defaults. A missing file
// is not an error. Malformed lines are skipped.
func LoadThresholds(path string) (Thresholds, error) {
	t := DefaultThresholds()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return t, fmt.Errorf("opening thresholds conf: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		t.apply(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	if err := scanner.Err(); err != nil {
		return t, fmt.Errorf("reading thresholds conf: %w", err)
	}

	return t, nil
}

// apply sets a single KEY=value pair. Unknown keys are ignored so older and
// newer tooling can share one file.
func (t *Thresholds) apply(key, value string) {
	switch key {
	case "QUEUE_LOW":
		setInt(&t.QueueLow, value)
	case "QUEUE_MEDIUM":
		setInt(&t.QueueMedium, value)
	case "QUEUE_HIGH":
		setInt(&t.QueueHigh, value)
	case "QUEUE_CRITICAL":
		setInt(&t.QueueCritical, value)
	case "CHECK_INTERVAL":
		setSeconds(&t.CheckInterval, value)
	case "HEALTH_CHECK_INTERVAL":
		setSeconds(&t.HealthCheckInterval, value)
	case "STUCK_TASK_THRESHOLD":
		setSeconds(&t.StuckTaskThreshold, value)
	case "HUNG_AGENT_THRESHOLD":
		setSeconds(&t.HungAgentThreshold, value)
	case "SCALE_UP_THRESHOLD":
		if f, err := strconv.ParseFloat(value, 64); err == nil && f > 0 {
			t.ScaleUpThreshold = f
		}
	case "MAX_AGENTS":
		setInt(&t.MaxAgents, value)
	case "MIN_AGENTS":
		if n, err := strconv.Atoi(value); err == nil && n >= 0 {
			t.MinAgents = n
		}
	case "IDLE_TIMEOUT":
		setSeconds(&t.IdleTimeout, value)
	case "NOTIFY_COORDINATORS":
		t.NotifyCoordinators = value == "true" || value == "1" || value == "yes"
	case "COORDINATOR_RECIPIENT":
		if value != "" {
			t.CoordinatorRecipient = value
		}
	}
}

func setInt(dst *int, value string) {
	if n, err := strconv.Atoi(value); err == nil && n > 0 {
		*dst = n
	}
}

func setSeconds(dst *time.Duration, value string) {
	if n, err := strconv.Atoi(value); err == nil && n > 0 {
		*dst = time.Duration(n) * time.Second
	}
}

// Level classifies a queue depth against the thresholds.
func (t Thresholds) Level(depth int) string {
	switch {
	case depth >= t.QueueCritical:
		return "critical"
	case depth >= t.QueueHigh:
		return "high"
	case depth >= t.QueueMedium:
		return "medium"
	case depth >= t.QueueLow:
		return "low"
	default:
		return "normal"
	}
}
