// Package chat implements the stateless submission path: it classifies a
// request, mutates the message log and publishes one journal record.
package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/patrickspencer/chatbat/internal/metrics"
	"github.com/patrickspencer/chatbat/internal/realtime"
	"github.com/patrickspencer/chatbat/internal/store"
)

// Result is the success response of a submission.
type Result struct {
	Success    bool           `json:"success"`
	Type       string         `json:"type,omitempty"`
	SenderName string         `json:"senderName,omitempty"`
	Refresh    bool           `json:"refresh,omitempty"`
	Updated    bool           `json:"updated,omitempty"`
	Message    *store.Message `json:"message,omitempty"`
}

// Service handles submissions. It is safe for concurrent use.
type Service struct {
	log     store.MessageLog
	journal realtime.Journal
	logger  zerolog.Logger
	now     func() time.Time
	newID   func() string
}

// NewService creates a Service writing to log and notifying through journal.
func NewService(log store.MessageLog, journal realtime.Journal, logger zerolog.Logger) *Service {
	return &Service{
		log:     log,
		journal: journal,
		logger:  logger.With().Str("component", "chat").Logger(),
		now:     time.Now,
		newID:   store.NewMessageID,
	}
}

// Handle applies req. Renames and messages cause exactly one log mutation;
// every accepted request publishes exactly one journal record.
func (s *Service) Handle(ctx context.Context, req Request) (*Result, error) {
	var (
		res *Result
		err error
	)
	switch r := req.(type) {
	case RenameRequest:
		res, err = s.rename(ctx, r)
	case PresenceRequest:
		res, err = s.presence(ctx, r)
	case MessageRequest:
		res, err = s.message(ctx, r)
	default:
		return nil, fmt.Errorf("%w: unsupported request %T", ErrInvalidRequest, req)
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.SubmissionsTotal.WithLabelValues(req.requestKind(), outcome).Inc()
	return res, err
}

func (s *Service) rename(ctx context.Context, r RenameRequest) (*Result, error) {
	changed, err := s.log.RewriteSenderName(ctx, r.OldName, r.NewName)
	if err != nil {
		return nil, fmt.Errorf("rename %q: %w", r.OldName, err)
	}
	s.logger.Info().
		Str("tab_id", r.TabID).
		Str("old_name", r.OldName).
		Str("new_name", r.NewName).
		Bool("changed", changed).
		Msg("sender renamed")

	// Publish even when nothing changed so every participant list resyncs.
	s.publish(ctx, realtime.ClassRefresh, realtime.Payload{})
	return &Result{Success: true, Type: r.requestKind(), Refresh: true, Updated: changed}, nil
}

func (s *Service) presence(ctx context.Context, r PresenceRequest) (*Result, error) {
	s.logger.Debug().Str("tab_id", r.TabID).Str("sender", r.SenderName).Msg("presence")
	s.publish(ctx, realtime.ClassRefresh, realtime.Payload{})
	return &Result{Success: true, Type: r.requestKind(), SenderName: r.SenderName, Refresh: true}, nil
}

func (s *Service) message(ctx context.Context, r MessageRequest) (*Result, error) {
	msg := store.Message{
		ID:         s.newID(),
		Content:    r.Content,
		Timestamp:  s.now().Unix(),
		TabID:      r.TabID,
		SenderName: r.SenderName,
	}
	if err := s.log.Append(ctx, msg); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	metrics.MessagesAppended.Inc()

	s.publish(ctx, realtime.ClassNewMessage, realtime.Payload{
		MessageID:    msg.ID,
		ExcludeTabID: msg.TabID,
	})
	return &Result{Success: true, Message: &msg}, nil
}

// publish records a journal signal. A failure is logged, not returned: the
// log mutation is already committed and dispatchers still pick it up through
// their log diff.
func (s *Service) publish(ctx context.Context, class realtime.Class, p realtime.Payload) {
	if err := s.journal.Publish(ctx, class, p); err != nil {
		metrics.JournalPublishes.WithLabelValues(string(class), "error").Inc()
		s.logger.Error().Err(err).Str("class", string(class)).Msg("journal publish failed")
		return
	}
	metrics.JournalPublishes.WithLabelValues(string(class), "ok").Inc()
}
