package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/patrickspencer/chatbat/internal/stream"
)

const maxFrameLine = 1 << 20

// Decoder reads events from a text/event-stream body.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrameLine)
	return &Decoder{scanner: sc}
}

// Next returns the next event. Comments, retry hints and frames without data
// are skipped. It returns io.EOF when the stream ends.
func (d *Decoder) Next() (stream.Event, error) {
	var (
		name string
		data []string
	)
	for d.scanner.Scan() {
		line := d.scanner.Text()
		if line == "" {
			if len(data) == 0 {
				name = ""
				continue
			}
			return decodeFrame(name, strings.Join(data, "\n"))
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			data = append(data, value)
		}
	}
	if err := d.scanner.Err(); err != nil {
		return stream.Event{}, err
	}
	return stream.Event{}, io.EOF
}

func decodeFrame(name, data string) (stream.Event, error) {
	var evt stream.Event
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		return stream.Event{}, fmt.Errorf("decode %s event: %w", name, err)
	}
	if evt.Type == "" {
		evt.Type = name
	}
	return evt, nil
}
