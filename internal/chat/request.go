package chat

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// JoinSentinel is the body a client posts to announce itself without sending
// a message.
const JoinSentinel = "__USER_JOINED__"

// NameChangeSentinel is the body clients send alongside a rename request.
const NameChangeSentinel = "__NAME_CHANGE__"

const (
	defaultSenderName  = "Anonymous"
	anonymousTabPrefix = "anon-"
)

var (
	// ErrEmptyPayload is returned when the request carries no body.
	ErrEmptyPayload = errors.New("no data provided")
	// ErrOldNameRequired is returned for a rename without the previous name.
	ErrOldNameRequired = errors.New("old name required")
	// ErrInvalidRequest wraps field validation failures.
	ErrInvalidRequest = errors.New("invalid request")
)

var validate = validator.New()

// Request is one of MessageRequest, PresenceRequest or RenameRequest.
type Request interface {
	requestKind() string
}

// MessageRequest posts an ordinary chat message.
type MessageRequest struct {
	TabID      string `validate:"required,max=128"`
	SenderName string `validate:"required"`
	Content    string `validate:"required"`
}

// PresenceRequest announces a participant without mutating the log.
type PresenceRequest struct {
	TabID      string `validate:"required,max=128"`
	SenderName string `validate:"required"`
}

// RenameRequest rewrites the sender name of earlier messages.
type RenameRequest struct {
	TabID   string `validate:"required,max=128"`
	OldName string `validate:"required"`
	NewName string `validate:"required"`
}

func (MessageRequest) requestKind() string  { return "message" }
func (PresenceRequest) requestKind() string { return "presence" }
func (RenameRequest) requestKind() string   { return "nameChange" }

// AnonymousTabID returns a fresh tab id for a peer that did not send one.
// Two anonymous peers never share an id, so neither is treated as the author
// of the other's messages.
func AnonymousTabID() string {
	return anonymousTabPrefix + uuid.NewString()
}

// Limits bounds user supplied text.
type Limits struct {
	MaxMessageLength int
	MaxNameLength    int
}

// ParseRequest classifies submission parameters into a request variant.
// Classification order: empty body, rename, presence, message.
func ParseRequest(values url.Values, limits Limits) (Request, error) {
	body := values.Get("d")
	if body == "" {
		return nil, ErrEmptyPayload
	}

	tabID := strings.TrimSpace(values.Get("tabId"))
	if tabID == "" {
		tabID = AnonymousTabID()
	}
	senderName := sanitizeName(values.Get("senderName"), limits.MaxNameLength)
	if senderName == "" {
		senderName = defaultSenderName
	}

	var req Request
	switch {
	case values.Get("nameChange") == "true":
		oldName := sanitizeName(values.Get("oldName"), limits.MaxNameLength)
		if oldName == "" {
			return nil, ErrOldNameRequired
		}
		req = RenameRequest{TabID: tabID, OldName: oldName, NewName: senderName}
	case values.Get("presence") == "true" || body == JoinSentinel:
		req = PresenceRequest{TabID: tabID, SenderName: senderName}
	default:
		if limits.MaxMessageLength > 0 {
			if err := validate.Var(body, fmt.Sprintf("max=%d", limits.MaxMessageLength)); err != nil {
				return nil, fmt.Errorf("%w: message longer than %d characters", ErrInvalidRequest, limits.MaxMessageLength)
			}
		}
		req = MessageRequest{TabID: tabID, SenderName: senderName, Content: body}
	}

	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return req, nil
}

// sanitizeName trims the name, removes control characters and limits its
// length in runes.
func sanitizeName(name string, max int) string {
	name = strings.TrimSpace(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	if max > 0 {
		if runes := []rune(name); len(runes) > max {
			name = string(runes[:max])
		}
	}
	return name
}
