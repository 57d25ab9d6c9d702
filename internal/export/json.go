package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/blockedby/tgsaver/internal/classify"
	"github.com/blockedby/tgsaver/internal/telegram"
	"github.com/blockedby/tgsaver/internal/walker"
)

// JSONFile is the name of the JSON archive inside the export directory.
const JSONFile = "messages.json"

// Document is the messages.json layout.
type Document struct {
	Export   Header   `json:"export"`
	Messages []Record `json:"messages"`
}

// Header describes the exported range.
type Header struct {
	Channel    string    `json:"channel"`
	StartID    int       `json:"start_id"`
	EndID      int       `json:"end_id"`
	ExportedAt time.Time `json:"exported_at"`
	TotalSlots int       `json:"total_slots"`
	Exported   int       `json:"exported"`
	MissingIDs []int     `json:"missing_ids"`
	FailedIDs  []int     `json:"failed_ids"`
}

// Record is one exported message.
type Record struct {
	ID       int               `json:"id"`
	Date     time.Time         `json:"date"`
	Category classify.Category `json:"category,omitempty"`
	Kind     string            `json:"kind"`
	Text     string            `json:"text,omitempty"`
	Caption  string            `json:"caption,omitempty"`
	Media    *MediaRecord      `json:"media,omitempty"`
	Service  string            `json:"service,omitempty"`
	Sender   string            `json:"sender,omitempty"`
	ReplyTo  int               `json:"reply_to,omitempty"`
	Views    int               `json:"views,omitempty"`
}

// MediaRecord is the metadata of attached media. Bytes are never exported.
type MediaRecord struct {
	Type     string `json:"type"`
	Mime     string `json:"mime,omitempty"`
	FileName string `json:"file_name,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Duration int    `json:"duration,omitempty"`
}

// BuildDocument converts a job into the JSON layout, ascending by id.
func BuildDocument(job *walker.Job, at time.Time) Document {
	doc := Document{
		Export: Header{
			Channel:    job.ChannelKey(),
			StartID:    job.Start,
			EndID:      job.End,
			ExportedAt: at.UTC(),
			TotalSlots: job.Len(),
			MissingIDs: job.MissingIDs(),
			FailedIDs:  job.FailedIDs(),
		},
		Messages: []Record{},
	}
	if doc.Export.MissingIDs == nil {
		doc.Export.MissingIDs = []int{}
	}

	for _, msg := range job.Present() {
		doc.Messages = append(doc.Messages, recordOf(msg, job.ChannelKey()))
	}
	doc.Export.Exported = len(doc.Messages)
	return doc
}

func recordOf(msg *telegram.Message, chKey string) Record {
	rec := Record{
		ID:      msg.ID,
		Date:    msg.Date.UTC(),
		Kind:    string(msg.Kind),
		Service: msg.Service,
		Sender:  msg.Sender,
		ReplyTo: msg.ReplyToID,
		Views:   msg.Views,
	}
	switch c, err := classify.Classify(msg, chKey); {
	case err == nil && c.Primary != nil:
		rec.Category = c.Primary.Category
	case msg.Kind == telegram.KindText:
		// blank text persists no file but keeps its slot in the export
		rec.Category = classify.Text
	}

	if msg.Kind == telegram.KindMedia {
		rec.Caption = msg.Caption()
	} else if msg.Kind == telegram.KindText {
		rec.Text = msg.Text
	}
	if m := msg.Media; m != nil {
		rec.Media = &MediaRecord{
			Type:     string(m.Type),
			Mime:     m.MimeType,
			FileName: m.FileName,
			Size:     m.Size,
			Duration: m.Duration,
		}
	}
	return rec
}

// JSON writes messages.json for the job.
func (e *Exporter) JSON(ctx context.Context, job *walker.Job) (*Result, error) {
	at := e.now()
	res, err := e.newResult(job, FormatJSON, at)
	if err != nil {
		return nil, err
	}

	body, err := json.MarshalIndent(BuildDocument(job, at), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode export: %w", err)
	}
	path, err := e.writeFile(res, JSONFile, append(body, '\n'))
	if err != nil {
		return nil, err
	}
	res.File = path

	e.finish(ctx, job, res)
	return res, nil
}
