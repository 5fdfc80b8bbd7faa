package probe

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
)

// Service periodically reports the status of the configured tabs on the bus.
// It runs independently of capture and the coordinator; losing it degrades
// tab visibility, nothing else.
type Service struct {
	cfg    config.ProbeConfig
	log    *slog.Logger
	bus    *bus.Client
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
	urls   map[int]string
}

func New(cfg config.ProbeConfig, busClient *bus.Client, log *slog.Logger) *Service {
	urls := make(map[int]string, len(cfg.Tabs))
	for _, tab := range cfg.Tabs {
		urls[tab.ID] = tab.URL
	}
	return &Service{
		cfg:  cfg,
		log:  log.With(slog.String("component", "tab-probe")),
		bus:  busClient,
		urls: urls,
	}
}

func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.log.Info("tab probe disabled")
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
	s.log.Info("tab probe started",
		slog.Int("tabs", len(s.urls)),
		slog.Int("interval_ms", s.cfg.IntervalMS))
	return nil
}

func (s *Service) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// SetTabURL updates or registers the URL reported for a tab. Tabs navigate;
// the probe follows.
func (s *Service) SetTabURL(tabID int, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urls[tabID] = url
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(time.Duration(s.cfg.IntervalMS) * time.Millisecond)
	defer ticker.Stop()

	s.publishAll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publishAll()
		}
	}
}

func (s *Service) publishAll() {
	s.mu.Lock()
	snapshot := make(map[int]string, len(s.urls))
	for id, url := range s.urls {
		snapshot[id] = url
	}
	s.mu.Unlock()

	now := time.Now().UTC()
	for tabID, url := range snapshot {
		platform, active := Detect(url)
		status := protocol.TabStatus{
			TabID:         tabID,
			URL:           url,
			Platform:      platform,
			MeetingActive: active,
			Timestamp:     now,
		}
		payload, err := json.Marshal(status)
		if err != nil {
			s.log.Warn("failed to encode tab status", slog.String("error", err.Error()))
			continue
		}
		subject := fmt.Sprintf("%s.%d", protocol.SubjectTabStatusPrefix, tabID)
		if err := s.bus.Conn().Publish(subject, payload); err != nil {
			s.log.Warn("failed to publish tab status",
				slog.Int("tab_id", tabID),
				slog.String("error", err.Error()))
		}
	}
}
