// Package classify maps a fetched message onto storage categories and
// deterministic file names.
package classify

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/blockedby/tgsaver/internal/telegram"
)

// Category is a storage bucket.
type Category string

// Categories
const (
	Photo    Category = "photo"
	Video    Category = "video"
	Audio    Category = "audio"
	Document Category = "document"
	Text     Category = "text"
	Caption  Category = "caption"
	Service  Category = "service"
	Export   Category = "export"
)

// Folders under the downloads root.
const (
	FolderMedia   = "media"
	FolderText    = "text"
	FolderCaption = "captions"
	FolderService = "service_messages"
	FolderExports = "exports"
)

// Categories lists every category in display order.
var Categories = []Category{Photo, Video, Audio, Document, Text, Caption, Service, Export}

// Folder returns the subfolder a category is stored in.
func (c Category) Folder() string {
	switch c {
	case Photo, Video, Audio, Document:
		return FolderMedia
	case Text:
		return FolderText
	case Caption:
		return FolderCaption
	case Service:
		return FolderService
	case Export:
		return FolderExports
	}
	return ""
}

// IsMedia reports whether the category holds downloaded bytes.
func (c Category) IsMedia() bool {
	return c.Folder() == FolderMedia
}

// ErrUnclassifiable is returned for messages that claim media but carry none.
var ErrUnclassifiable = errors.New("message cannot be classified")

// Record is one thing to persist.
type Record struct {
	Category  Category
	FileName  string
	MessageID int
	Text      string          // body for text, caption and service records
	Media     *telegram.Media // set for media records
}

// Folder is the record's subfolder.
func (r Record) Folder() string {
	return r.Category.Folder()
}

// Classification is the result for one message: a primary record and an
// optional caption record. An empty message has neither.
type Classification struct {
	Primary *Record
	Caption *Record
}

// Records returns the records in persist order.
func (c Classification) Records() []Record {
	var out []Record
	if c.Primary != nil {
		out = append(out, *c.Primary)
	}
	if c.Caption != nil {
		out = append(out, *c.Caption)
	}
	return out
}

// IsEmpty reports whether there is nothing to persist.
func (c Classification) IsEmpty() bool {
	return c.Primary == nil && c.Caption == nil
}

// Classify decides what a message produces.
// Rule order: media, then text, then service, else nothing.
func Classify(msg *telegram.Message, channelKey string) (Classification, error) {
	if msg == nil {
		return Classification{}, fmt.Errorf("%w: nil message", ErrUnclassifiable)
	}

	switch msg.Kind {
	case telegram.KindMedia:
		if msg.Media == nil {
			return Classification{}, fmt.Errorf("%w: message %d has no media descriptor", ErrUnclassifiable, msg.ID)
		}
		cat := MediaCategory(msg.Media)
		out := Classification{Primary: &Record{
			Category:  cat,
			FileName:  FileName(channelKey, msg.ID, cat, Extension(msg.Media)),
			MessageID: msg.ID,
			Media:     msg.Media,
		}}
		if caption := strings.TrimSpace(msg.Caption()); caption != "" {
			out.Caption = &Record{
				Category:  Caption,
				FileName:  FileName(channelKey, msg.ID, Caption, ".txt"),
				MessageID: msg.ID,
				Text:      msg.Caption(),
			}
		}
		return out, nil

	case telegram.KindText:
		if strings.TrimSpace(msg.Text) == "" {
			return Classification{}, nil
		}
		return Classification{Primary: &Record{
			Category:  Text,
			FileName:  FileName(channelKey, msg.ID, Text, ".txt"),
			MessageID: msg.ID,
			Text:      msg.Text,
		}}, nil

	case telegram.KindService:
		return Classification{Primary: &Record{
			Category:  Service,
			FileName:  FileName(channelKey, msg.ID, Service, ".txt"),
			MessageID: msg.ID,
			Text:      msg.Service,
		}}, nil
	}

	return Classification{}, nil
}

// MediaCategory maps media metadata onto a media category.
func MediaCategory(m *telegram.Media) Category {
	switch m.Type {
	case telegram.MediaPhoto:
		return Photo
	case telegram.MediaVideo, telegram.MediaRound, telegram.MediaAnimation:
		return Video
	case telegram.MediaAudio, telegram.MediaVoice:
		return Audio
	}

	// generic documents may still be audio or video files
	switch {
	case strings.HasPrefix(m.MimeType, "video/"):
		return Video
	case strings.HasPrefix(m.MimeType, "audio/"):
		return Audio
	}
	return Document
}

// Extension derives the file extension from metadata only, never from content.
func Extension(m *telegram.Media) string {
	if m.Type == telegram.MediaPhoto {
		return ".jpg"
	}
	if ext := cleanExt(filepath.Ext(m.FileName)); ext != "" {
		return ext
	}
	if m.MimeType != "" {
		if mt := mimetype.Lookup(m.MimeType); mt != nil && mt.Extension() != "" {
			return mt.Extension()
		}
	}
	return ".bin"
}

// cleanExt keeps short alphanumeric extensions, lowercased.
func cleanExt(ext string) string {
	ext = strings.ToLower(ext)
	if len(ext) < 2 || len(ext) > 10 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

// FileName builds <channelKey>_<msgID>_<category><ext>.
func FileName(channelKey string, id int, cat Category, ext string) string {
	return fmt.Sprintf("%s_%d_%s%s", channelKey, id, cat, ext)
}
