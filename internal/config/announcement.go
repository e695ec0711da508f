package config

import (
	"github.com/robfig/cron/v3"

	"github.com/patrickspencer/chatbat/internal/scheduler"
)

// Announcement is a message posted on a cron schedule.
type Announcement struct {
	Name       string `yaml:"name" json:"name" validate:"required"`
	Schedule   string `yaml:"schedule" json:"schedule" validate:"required"`
	Content    string `yaml:"content" json:"content" validate:"required"`
	SenderName string `yaml:"sender_name" json:"sender_name,omitempty"`
	Enabled    *bool  `yaml:"enabled" json:"enabled,omitempty"`
}

// IsEnabled returns whether the announcement is enabled. Defaults to true if
// not set.
func (a *Announcement) IsEnabled() bool {
	if a.Enabled == nil {
		return true
	}
	return *a.Enabled
}

// ParseSchedule parses the announcement's cron expression.
func (a *Announcement) ParseSchedule() (cron.Schedule, error) {
	return scheduler.ParseSchedule(a.Schedule)
}

func applyAnnouncementDefaults(a *Announcement) {
	if a.SenderName == "" {
		a.SenderName = "chatbat"
	}
}
