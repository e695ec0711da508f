package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/patrickspencer/chatbat/internal/chat"
	"github.com/patrickspencer/chatbat/internal/store"
	"github.com/patrickspencer/chatbat/internal/stream"
)

// Client talks to a chatbat server as one tab.
type Client struct {
	BaseURL    string
	TabID      string
	Name       string
	HTTPClient *http.Client
}

// New creates a Client with a fresh tab id.
func New(baseURL, name string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		TabID:      uuid.NewString(),
		Name:       name,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Send posts an ordinary message. The stored message is returned so it can
// be shown before the stream would have delivered it.
func (c *Client) Send(ctx context.Context, content string) (*chat.Result, error) {
	return c.submit(ctx, url.Values{"d": {content}})
}

// Join announces this tab to every connected viewer.
func (c *Client) Join(ctx context.Context) (*chat.Result, error) {
	return c.submit(ctx, url.Values{"d": {chat.JoinSentinel}, "presence": {"true"}})
}

// Rename rewrites this tab's past messages to newName.
func (c *Client) Rename(ctx context.Context, newName string) (*chat.Result, error) {
	oldName := c.Name
	c.Name = newName
	res, err := c.submit(ctx, url.Values{
		"d":          {chat.NameChangeSentinel},
		"nameChange": {"true"},
		"oldName":    {oldName},
	})
	if err != nil {
		c.Name = oldName
	}
	return res, err
}

func (c *Client) submit(ctx context.Context, form url.Values) (*chat.Result, error) {
	form.Set("tabId", c.TabID)
	form.Set("senderName", c.Name)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/v1/submit", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &errResp)
		return nil, fmt.Errorf("submit failed (%d): %s", resp.StatusCode, errResp.Error)
	}

	var res chat.Result
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode submit response: %w", err)
	}
	return &res, nil
}

// Stream opens the event stream and calls fn for every event until ctx is
// done, the server closes the stream, or fn returns an error.
func (c *Client) Stream(ctx context.Context, fn func(stream.Event) error) error {
	u := c.BaseURL + "/api/v1/events?" + url.Values{"tabId": {c.TabID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	// The shared client's timeout would cut the stream.
	httpClient := *c.HTTPClient
	httpClient.Timeout = 0
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("open stream: %s", resp.Status)
	}

	dec := NewDecoder(resp.Body)
	for {
		evt, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
}

// Follow streams into rec and calls fn with each message that becomes
// visible. Messages replayed by a refresh are not reported again.
func (c *Client) Follow(ctx context.Context, rec *Reconciler, fn func(store.Message)) error {
	return c.Stream(ctx, func(evt stream.Event) error {
		before := make(map[string]struct{})
		if evt.Type == stream.TypeRefresh {
			for _, m := range rec.Messages() {
				before[m.ID] = struct{}{}
			}
		}
		for _, m := range rec.Apply(evt) {
			if _, ok := before[m.ID]; !ok {
				fn(m)
			}
		}
		return nil
	})
}
