// Package announce posts configured messages on cron schedules.
package announce

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/patrickspencer/chatbat/internal/chat"
	"github.com/patrickspencer/chatbat/internal/config"
	"github.com/patrickspencer/chatbat/internal/scheduler"
)

// Submitter accepts chat requests.
type Submitter interface {
	Handle(ctx context.Context, req chat.Request) (*chat.Result, error)
}

// Announcer posts announcements through the submission path, so they are
// stored and pushed like any other message.
type Announcer struct {
	submitter Submitter
	byName    map[string]config.Announcement
	timeout   time.Duration
	logger    zerolog.Logger
}

// New creates an Announcer for the enabled entries of anns.
func New(submitter Submitter, anns []config.Announcement, timeout time.Duration, logger zerolog.Logger) *Announcer {
	byName := make(map[string]config.Announcement, len(anns))
	for _, a := range anns {
		if a.IsEnabled() {
			byName[a.Name] = a
		}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Announcer{
		submitter: submitter,
		byName:    byName,
		timeout:   timeout,
		logger:    logger.With().Str("component", "announce").Logger(),
	}
}

// Schedule adds every enabled announcement to s.
func (a *Announcer) Schedule(s *scheduler.Scheduler) error {
	for name, ann := range a.byName {
		sched, err := ann.ParseSchedule()
		if err != nil {
			return fmt.Errorf("announcement %q: %w", name, err)
		}
		s.Add(name, sched)
		if next, ok := s.NextRun(name); ok {
			a.logger.Info().Str("announcement", name).Time("next_run", next).Msg("announcement scheduled")
		}
	}
	return nil
}

// MaxDelay is how late an announcement may still be posted. Older
// occurrences are dropped rather than posted out of context.
const MaxDelay = 5 * time.Minute

// NewScheduler returns a scheduler that fires a's announcements.
func (a *Announcer) NewScheduler() *scheduler.Scheduler {
	return scheduler.New(a.Fire, scheduler.WithMaxDelay(MaxDelay))
}

// Fire posts the announcement named by run. It is the scheduler callback.
func (a *Announcer) Fire(run scheduler.Run) {
	name := run.Name
	ann, ok := a.byName[name]
	if !ok {
		a.logger.Warn().Str("announcement", name).Msg("unknown announcement")
		return
	}
	if run.Missed > 0 {
		a.logger.Warn().Str("announcement", name).Int("missed", run.Missed).Msg("announcement occurrences skipped")
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	res, err := a.submitter.Handle(ctx, chat.MessageRequest{
		TabID:      "announce:" + name,
		SenderName: ann.SenderName,
		Content:    ann.Content,
	})
	if err != nil {
		a.logger.Error().Err(err).Str("announcement", name).Msg("announcement failed")
		return
	}
	a.logger.Info().Str("announcement", name).Str("message_id", res.Message.ID).Msg("announcement posted")
}
