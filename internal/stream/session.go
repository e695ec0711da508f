// Package stream implements the per-connection dispatcher that turns journal
// signals and log changes into pushed events.
//
// A Session never mutates shared state. Everything it tracks (the delivery
// watermark, per-class journal watermarks, the cached log) is private and is
// discarded when the connection closes; a reconnecting client always starts
// with a fresh history.
package stream

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/patrickspencer/chatbat/internal/metrics"
	"github.com/patrickspencer/chatbat/internal/realtime"
	"github.com/patrickspencer/chatbat/internal/store"
)

// Config holds dispatcher timing.
type Config struct {
	PollInterval      time.Duration
	KeepaliveInterval time.Duration
}

// DefaultConfig returns the default dispatcher timing.
func DefaultConfig() Config {
	return Config{
		PollInterval:      100 * time.Millisecond,
		KeepaliveInterval: 15 * time.Second,
	}
}

const connectedText = "Connection established"

// Session is the dispatcher state of one connected tab.
type Session struct {
	tabID   string
	log     store.MessageLog
	journal realtime.Journal
	cfg     Config
	logger  zerolog.Logger
	now     func() time.Time

	lastDelivered string
	eventTimes    map[realtime.Class]int64
	snapshot      store.Snapshot
	index         map[string]int
	lastKeepalive time.Time
}

// NewSession creates a dispatcher for tabID.
func NewSession(tabID string, log store.MessageLog, journal realtime.Journal, cfg Config, logger zerolog.Logger) *Session {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = def.KeepaliveInterval
	}
	return &Session{
		tabID:      tabID,
		log:        log,
		journal:    journal,
		cfg:        cfg,
		logger:     logger.With().Str("component", "stream").Str("tab_id", tabID).Logger(),
		now:        time.Now,
		eventTimes: make(map[realtime.Class]int64, len(realtime.Classes)),
	}
}

// LastDelivered returns the id of the newest message the peer has received.
func (s *Session) LastDelivered() string {
	return s.lastDelivered
}

// Run streams to sink until ctx is done or a write fails. It is the only
// long-lived part of a session; a done ctx is the normal way to end it.
func (s *Session) Run(ctx context.Context, sink Sink) error {
	metrics.StreamSessions.Inc()
	defer metrics.StreamSessions.Dec()
	s.logger.Debug().Msg("stream opened")
	defer s.logger.Debug().Msg("stream closed")

	var wake <-chan struct{}
	if n, ok := s.journal.(realtime.Notifier); ok {
		ch, cancel := n.Subscribe()
		defer cancel()
		wake = ch
	}

	if err := s.Start(ctx, sink); err != nil {
		return err
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case _, ok := <-wake:
			if !ok {
				wake = nil
				continue
			}
		}
		if err := s.Tick(ctx, sink); err != nil {
			return err
		}
	}
}

// Start sends the initial history and the connected acknowledgement.
// Journal watermarks are taken before the log is read, so any signal the
// history does not already reflect fires on a later tick.
func (s *Session) Start(ctx context.Context, sink Sink) error {
	for _, class := range realtime.Classes {
		rec, fired, err := s.journal.Poll(ctx, class, 0)
		if err != nil {
			s.logger.Debug().Err(err).Str("class", string(class)).Msg("journal poll failed")
			continue
		}
		if fired {
			s.eventTimes[class] = rec.Time
		}
	}

	snap := s.reload(ctx)
	if err := s.send(sink, logEvent(TypeHistory, snap.Messages)); err != nil {
		return err
	}
	s.lastDelivered = snap.Tail()

	if err := s.send(sink, Event{Type: TypeConnected, Text: connectedText}); err != nil {
		return err
	}
	s.lastKeepalive = s.now()
	return nil
}

// Tick runs one dispatcher iteration: consult the journal, fall back to the
// log diff when no signal fired, and keep the connection alive.
func (s *Session) Tick(ctx context.Context, sink Sink) error {
	handled := false
	for _, class := range realtime.Classes {
		rec, fired, err := s.journal.Poll(ctx, class, s.eventTimes[class])
		if err != nil {
			s.logger.Debug().Err(err).Str("class", string(class)).Msg("journal poll failed")
			continue
		}
		if !fired {
			continue
		}
		s.eventTimes[class] = rec.Time
		handled = true

		if rec.Excludes(s.tabID) {
			continue
		}

		switch class {
		case realtime.ClassRefresh:
			err = s.refresh(ctx, sink, "")
		case realtime.ClassNewMessage:
			err = s.newMessage(ctx, sink, rec.MessageID)
		}
		if err != nil {
			return err
		}
	}

	if !handled {
		snap := s.reload(ctx)
		if err := s.deliverThrough(ctx, sink, len(snap.Messages)-1); err != nil {
			return err
		}
	}

	if now := s.now(); now.Sub(s.lastKeepalive) > s.cfg.KeepaliveInterval {
		if err := sink.Keepalive(); err != nil {
			return err
		}
		s.lastKeepalive = now
	}
	return nil
}

// newMessage delivers the referenced message and anything before it the peer
// has not seen. An id that cannot be resolved turns into a full refresh.
func (s *Session) newMessage(ctx context.Context, sink Sink, id string) error {
	snap := s.reload(ctx)
	if id == "" {
		return s.deliverThrough(ctx, sink, len(snap.Messages)-1)
	}
	pos, ok := s.index[id]
	if !ok {
		return s.refresh(ctx, sink, "unresolved_message")
	}
	return s.deliverThrough(ctx, sink, pos)
}

// deliverThrough sends, in log order, every message after the watermark up
// to and including position last. Messages authored by this tab only move
// the watermark. If the watermark has rotated out of the log the peer gets a
// full refresh instead.
func (s *Session) deliverThrough(ctx context.Context, sink Sink, last int) error {
	start := 0
	if s.lastDelivered != "" {
		pos, ok := s.index[s.lastDelivered]
		if !ok {
			return s.refresh(ctx, sink, "watermark_rotated")
		}
		start = pos + 1
	}

	for i := start; i <= last && i < len(s.snapshot.Messages); i++ {
		m := s.snapshot.Messages[i]
		if m.TabID != s.tabID {
			if err := s.send(sink, messageEvent(m)); err != nil {
				return err
			}
		}
		s.lastDelivered = m.ID
	}
	return nil
}

// refresh resends the whole log. A non-empty reason marks a fallback taken
// in place of an incremental update.
func (s *Session) refresh(ctx context.Context, sink Sink, reason string) error {
	if reason != "" {
		metrics.StreamFallbackRefreshes.WithLabelValues(reason).Inc()
		s.logger.Debug().Str("reason", reason).Msg("sending fallback refresh")
	}
	snap := s.reload(ctx)
	if err := s.send(sink, logEvent(TypeRefresh, snap.Messages)); err != nil {
		return err
	}
	s.lastDelivered = snap.Tail()
	return nil
}

// reload reads the log and rebuilds the id index when its version moved. A
// read error keeps the previous snapshot; the next tick retries.
func (s *Session) reload(ctx context.Context) store.Snapshot {
	snap, err := s.log.ReadAll(ctx)
	if err != nil {
		s.logger.Debug().Err(err).Msg("message log read failed")
		return s.snapshot
	}
	if s.index != nil && snap.Version == s.snapshot.Version {
		return s.snapshot
	}
	index := make(map[string]int, len(snap.Messages))
	for i, m := range snap.Messages {
		index[m.ID] = i
	}
	s.snapshot = snap
	s.index = index
	return snap
}

func (s *Session) send(sink Sink, evt Event) error {
	if err := sink.Send(evt); err != nil {
		return err
	}
	metrics.StreamEventsSent.WithLabelValues(evt.Type).Inc()
	return nil
}
