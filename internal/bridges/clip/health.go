package clip

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// defaultHealthInterval is used when HealthReporterConfig.Interval is zero.
const defaultHealthInterval = 30 * time.Second

// HealthStatus is the bridge's overall state.
type HealthStatus string

// Health statuses.
const (
	HealthStarting HealthStatus = "starting"
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published retained to {ponder}/bridge/health.
type HealthMessage struct {
	Status         HealthStatus `json:"status"`
	Reason         string       `json:"reason,omitempty"`
	Version        string       `json:"version"`
	Timestamp      time.Time    `json:"timestamp"`
	UptimeSeconds  int64        `json:"uptime_seconds"`
	Devices        int          `json:"devices"`
	PendingDeploys int          `json:"pending_deploys"`
	PacketsRx      uint64       `json:"packets_rx"`
	PacketsDropped uint64       `json:"packets_dropped"`
	Writes         uint64       `json:"writes"`
	Subscriptions  int          `json:"subscriptions"`
}

// HealthPublisher is the interface for publishing health messages.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// Link reports whether a broker connection is up.
type Link interface {
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// Version is the bridge software version.
	Version string

	// Topic is where health messages go.
	Topic string

	// Interval is how often to publish. Default 30 seconds.
	Interval time.Duration

	// Publisher is the hub connection.
	Publisher HealthPublisher

	// DeviceLink is the device-side broker connection.
	DeviceLink Link

	// Stats supplies the manager counters.
	Stats func() ManagerStats

	// Subscriptions reports the number of active broker subscriptions.
	Subscriptions func() int
}

// HealthReporter publishes bridge health at a fixed interval.
type HealthReporter struct {
	cfg       HealthReporterConfig
	startTime time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}
	return &HealthReporter{
		cfg:       cfg,
		startTime: time.Now(),
		done:      make(chan struct{}),
	}
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// Start begins periodic reporting until ctx ends or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	if err := h.publish(HealthStarting, "bridge starting"); err != nil {
		h.logError("failed to publish starting status", err)
	}

	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // best effort during shutdown
		h.publish(HealthStopping, "")
	})
}

// PublishNow publishes the current status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publish(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected() {
		return HealthDegraded, "hub disconnected"
	}
	if h.cfg.DeviceLink == nil || !h.cfg.DeviceLink.IsConnected() {
		return HealthDegraded, "device broker disconnected"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	if h.cfg.Publisher == nil {
		return nil
	}

	msg := HealthMessage{
		Status:        status,
		Reason:        reason,
		Version:       h.cfg.Version,
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}
	if h.cfg.Stats != nil {
		stats := h.cfg.Stats()
		msg.Devices = stats.Devices
		msg.PendingDeploys = stats.PendingDeploys
		msg.PacketsRx = stats.PacketsRx
		msg.PacketsDropped = stats.PacketsDropped
		msg.Writes = stats.Writes
	}
	if h.cfg.Subscriptions != nil {
		msg.Subscriptions = h.cfg.Subscriptions()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.cfg.Publisher.Publish(h.cfg.Topic, payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
