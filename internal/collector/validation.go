package collector

import (
	"errors"
	"fmt"
	"strings"

	"github.com/blockedby/tgsaver/internal/export"
	"github.com/blockedby/tgsaver/internal/link"
	"github.com/blockedby/tgsaver/internal/queue"
	"github.com/blockedby/tgsaver/internal/walker"
)

// validation errors
var (
	ErrLinksRequired = errors.New("links or text is required")
	ErrRangeRequired = errors.New("start and end links are required")
)

// EnqueueRequest adds links to the queue. Text is scanned for t.me links,
// the way pasted clipboard content is.
type EnqueueRequest struct {
	Links []string `json:"links,omitempty"`
	Text  string   `json:"text,omitempty"`
}

// Validate checks that there is something to add
func (r *EnqueueRequest) Validate() error {
	if len(r.Links) == 0 && strings.TrimSpace(r.Text) == "" {
		return ErrLinksRequired
	}
	return nil
}

// EnqueueResponse reports what was added.
type EnqueueResponse struct {
	Added   int           `json:"added"`
	Skipped int           `json:"skipped"`
	Errors  []string      `json:"errors,omitempty"`
	Queue   []queue.Entry `json:"queue"`
}

// ExportRequest asks for an archive of a message range.
type ExportRequest struct {
	Start  string `json:"start"`
	End    string `json:"end"`
	Format string `json:"format,omitempty"` // html (default) or json
}

// Validate parses both links and the format without touching the network.
// maxRange of 0 skips the size check.
func (r *ExportRequest) Validate(maxRange int) error {
	r.Start = strings.TrimSpace(r.Start)
	r.End = strings.TrimSpace(r.End)
	if r.Start == "" || r.End == "" {
		return ErrRangeRequired
	}

	format, err := export.ParseFormat(r.Format)
	if err != nil {
		return err
	}
	r.Format = string(format)

	start, err := link.Parse(r.Start)
	if err != nil {
		return fmt.Errorf("start link: %w", err)
	}
	end, err := link.Parse(r.End)
	if err != nil {
		return fmt.Errorf("end link: %w", err)
	}
	return walker.Validate(start, end, maxRange)
}
