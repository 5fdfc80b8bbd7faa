package tabs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/0xethll/meeting-mind/internal/bus"
	"github.com/0xethll/meeting-mind/internal/config"
	"github.com/0xethll/meeting-mind/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// TabInfo is the registry's view of one observed tab. Fresh flips to false
// when the probe stops reporting for longer than the configured staleness
// window.
type TabInfo struct {
	TabID         int       `json:"tab_id"`
	URL           string    `json:"url"`
	Platform      string    `json:"platform"`
	MeetingActive bool      `json:"meeting_active"`
	LastSeen      time.Time `json:"last_seen"`
	Fresh         bool      `json:"fresh"`
}

// Registry tracks tab status reports published by the probe. It is advisory
// state for the coordinator; the audio path never consults it.
type Registry struct {
	cfg    config.ProbeConfig
	log    *slog.Logger
	bus    *bus.Client
	mu     sync.RWMutex
	tabs   map[int]*TabInfo
	cancel context.CancelFunc
	subs   []*nats.Subscription
	meter  metric.Meter
}

func NewRegistry(ctx context.Context, cfg config.ProbeConfig, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg:    cfg,
		log:    log.With(slog.String("component", "tab-registry")),
		bus:    busClient,
		tabs:   make(map[int]*TabInfo),
		meter:  otel.Meter("github.com/0xethll/meeting-mind/runtime"),
		cancel: cancel,
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := r.subscribe(); err != nil {
		r.cancel()
		return nil, err
	}

	go r.monitorFreshness(ctx)
	return r, nil
}

func (r *Registry) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
}

func (r *Registry) subscribe() error {
	subject := fmt.Sprintf("%s.*", protocol.SubjectTabStatusPrefix)
	sub, err := r.bus.Conn().Subscribe(subject, r.handleStatus)
	if err != nil {
		return fmt.Errorf("subscribe tab status: %w", err)
	}
	r.subs = append(r.subs, sub)
	return nil
}

func (r *Registry) handleStatus(msg *nats.Msg) {
	var status protocol.TabStatus
	if err := json.Unmarshal(msg.Data, &status); err != nil {
		r.log.Warn("invalid tab status message", slog.String("error", err.Error()))
		return
	}
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now().UTC()
	}
	r.Update(status)
}

// Update records one status report. Exposed so the in-process probe can feed
// the registry directly in tests.
func (r *Registry) Update(status protocol.TabStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tab, ok := r.tabs[status.TabID]
	if !ok {
		tab = &TabInfo{TabID: status.TabID}
		r.tabs[status.TabID] = tab
	}
	tab.URL = status.URL
	tab.Platform = status.Platform
	tab.MeetingActive = status.MeetingActive
	tab.LastSeen = status.Timestamp
	tab.Fresh = true
}

func (r *Registry) monitorFreshness(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evaluateFreshness(time.Now())
		}
	}
}

func (r *Registry) evaluateFreshness(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	window := time.Duration(r.cfg.StaleAfter) * time.Millisecond
	for _, tab := range r.tabs {
		if now.Sub(tab.LastSeen) > window {
			tab.Fresh = false
		}
	}
}

// Lookup returns the last known state of a tab.
func (r *Registry) Lookup(tabID int) (TabInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tab, ok := r.tabs[tabID]
	if !ok {
		return TabInfo{}, false
	}
	return *tab, true
}

// Query returns all tabs matching the filter; nil matches everything.
func (r *Registry) Query(filter func(TabInfo) bool) []TabInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []TabInfo
	for _, tab := range r.tabs {
		copy := *tab
		if filter == nil || filter(copy) {
			results = append(results, copy)
		}
	}
	return results
}

func WithActiveMeeting() func(TabInfo) bool {
	return func(tab TabInfo) bool {
		return tab.Fresh && tab.MeetingActive
	}
}

func WithPlatform(platform string) func(TabInfo) bool {
	return func(tab TabInfo) bool {
		return tab.Platform == platform
	}
}

func (r *Registry) initMetrics() error {
	if r.meter == nil {
		return nil
	}
	tabGauge, err := r.meter.Int64ObservableGauge("meetingmind.tabs.known",
		metric.WithDescription("Number of tabs the probe has reported"))
	if err != nil {
		return err
	}
	activeGauge, err := r.meter.Int64ObservableGauge("meetingmind.tabs.meetings_active",
		metric.WithDescription("Tabs currently reporting an active meeting"))
	if err != nil {
		return err
	}
	_, err = r.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		known, active := r.snapshotCounts()
		obs.ObserveInt64(tabGauge, known)
		obs.ObserveInt64(activeGauge, active)
		return nil
	}, tabGauge, activeGauge)
	return err
}

func (r *Registry) snapshotCounts() (int64, int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var known, active int64
	for _, tab := range r.tabs {
		known++
		if tab.Fresh && tab.MeetingActive {
			active++
		}
	}
	return known, active
}
