package telegram

import (
	"fmt"
	"strings"
	"time"

	"github.com/gotd/td/tg"
)

// parseMessage converts tg message into the package Message.
// Returns nil for classes that carry no id.
func parseMessage(raw tg.MessageClass, channel *Channel, users map[int64]*tg.User) *Message {
	switch m := raw.(type) {
	case *tg.MessageEmpty:
		return Empty(channel.ID, m.ID)

	case *tg.MessageService:
		return &Message{
			ID:        m.ID,
			ChannelID: channel.ID,
			Kind:      KindService,
			Date:      time.Unix(int64(m.Date), 0).UTC(),
			Service:   describeAction(m.Action),
			Sender:    senderName(m.FromID, "", users),
		}

	case *tg.Message:
		msg := &Message{
			ID:        m.ID,
			ChannelID: channel.ID,
			Kind:      KindText,
			Text:      m.Message,
			Date:      time.Unix(int64(m.Date), 0).UTC(),
			Sender:    senderName(m.FromID, m.PostAuthor, users),
			Views:     m.Views,
			Forwards:  m.Forwards,
		}
		if reply, ok := m.ReplyTo.(*tg.MessageReplyHeader); ok {
			msg.ReplyToID = reply.ReplyToMsgID
			if reply.ForumTopic {
				topic := reply.ReplyToTopID
				if topic == 0 {
					topic = reply.ReplyToMsgID
				}
				msg.TopicID = &topic
			}
		}

		if m.Media != nil {
			if media := extractMedia(m.Media); media != nil {
				msg.Kind = KindMedia
				msg.Media = media
			} else if extra := describeMedia(m.Media); extra != "" {
				msg.Text = strings.TrimSpace(extra + "\n" + msg.Text)
			}
		}

		if msg.Kind == KindText && strings.TrimSpace(msg.Text) == "" {
			msg.Kind = KindEmpty
		}
		return msg
	}
	return nil
}

// parseStory converts a story into a Message so it is classified like a post.
// Skipped stories carry no content and yield nil.
func parseStory(raw tg.StoryItemClass, channel *Channel) *Message {
	switch s := raw.(type) {
	case *tg.StoryItemDeleted:
		return Empty(channel.ID, s.ID)

	case *tg.StoryItem:
		msg := &Message{
			ID:        s.ID,
			ChannelID: channel.ID,
			Kind:      KindText,
			Text:      s.Caption,
			Date:      time.Unix(int64(s.Date), 0).UTC(),
			Sender:    channel.Title,
		}
		if views, ok := s.GetViews(); ok {
			msg.Views = views.ViewsCount
			msg.Forwards = views.ForwardsCount
		}
		if s.Media != nil {
			if media := extractMedia(s.Media); media != nil {
				msg.Kind = KindMedia
				msg.Media = media
			} else if extra := describeMedia(s.Media); extra != "" {
				msg.Text = strings.TrimSpace(extra + "\n" + msg.Text)
			}
		}
		if msg.Kind == KindText && strings.TrimSpace(msg.Text) == "" {
			msg.Kind = KindEmpty
		}
		return msg
	}
	return nil
}

// extractMedia returns downloadable media, nil when the attachment has no file.
func extractMedia(media tg.MessageMediaClass) *Media {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return nil
		}
		return photoMedia(photo)

	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return nil
		}
		out := documentMedia(doc)
		if m.Round {
			out.Type = MediaRound
		}
		if m.Voice {
			out.Type = MediaVoice
		}
		return out
	}
	return nil
}

// photoMedia picks the biggest downloadable size.
func photoMedia(photo *tg.Photo) *Media {
	var (
		bestType string
		bestDim  int
		out      = &Media{Type: MediaPhoto, MimeType: "image/jpeg"}
	)

	for _, s := range photo.Sizes {
		switch size := s.(type) {
		case *tg.PhotoSize:
			if d := max(size.W, size.H); d > bestDim {
				bestDim, bestType = d, size.Type
				out.Width, out.Height, out.Size = size.W, size.H, int64(size.Size)
			}
		case *tg.PhotoSizeProgressive:
			if d := max(size.W, size.H); d > bestDim {
				bestDim, bestType = d, size.Type
				out.Width, out.Height = size.W, size.H
				out.Size = 0
				if n := len(size.Sizes); n > 0 {
					out.Size = int64(size.Sizes[n-1])
				}
			}
		}
	}
	if bestType == "" {
		return nil
	}

	out.Location = &tg.InputPhotoFileLocation{
		ID:            photo.ID,
		AccessHash:    photo.AccessHash,
		FileReference: photo.FileReference,
		ThumbSize:     bestType,
	}
	return out
}

func documentMedia(doc *tg.Document) *Media {
	out := &Media{
		Type:     MediaDocument,
		MimeType: doc.MimeType,
		Size:     doc.Size,
		Location: &tg.InputDocumentFileLocation{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		},
	}

	for _, a := range doc.Attributes {
		switch attr := a.(type) {
		case *tg.DocumentAttributeFilename:
			out.FileName = attr.FileName
		case *tg.DocumentAttributeVideo:
			out.Duration = int(attr.Duration)
			out.Width, out.Height = attr.W, attr.H
			if out.Type == MediaDocument {
				out.Type = MediaVideo
			}
			if attr.RoundMessage {
				out.Type = MediaRound
			}
		case *tg.DocumentAttributeAudio:
			out.Duration = int(attr.Duration)
			out.Title = attr.Title
			out.Performer = attr.Performer
			out.Type = MediaAudio
			if attr.Voice {
				out.Type = MediaVoice
			}
		case *tg.DocumentAttributeAnimated:
			out.Type = MediaAnimation
		case *tg.DocumentAttributeSticker:
			out.Type = MediaSticker
		case *tg.DocumentAttributeImageSize:
			out.Width, out.Height = attr.W, attr.H
		}
	}

	// attribute order is not guaranteed, animations also carry a video attribute
	for _, a := range doc.Attributes {
		if _, ok := a.(*tg.DocumentAttributeAnimated); ok {
			out.Type = MediaAnimation
		}
	}
	return out
}

// describeMedia renders attachments without a file as text.
func describeMedia(media tg.MessageMediaClass) string {
	switch m := media.(type) {
	case *tg.MessageMediaGeo:
		if p, ok := m.Geo.(*tg.GeoPoint); ok {
			return fmt.Sprintf("[location: %.6f, %.6f]", p.Lat, p.Long)
		}
	case *tg.MessageMediaVenue:
		return fmt.Sprintf("[venue: %s, %s]", m.Title, m.Address)
	case *tg.MessageMediaContact:
		return strings.TrimSpace(fmt.Sprintf("[contact: %s %s %s]", m.FirstName, m.LastName, m.PhoneNumber))
	case *tg.MessageMediaPoll:
		return "[poll: " + m.Poll.Question.Text + "]"
	case *tg.MessageMediaDice:
		return fmt.Sprintf("[dice %s: %d]", m.Emoticon, m.Value)
	}
	return ""
}

func describeAction(action tg.MessageActionClass) string {
	switch a := action.(type) {
	case *tg.MessageActionChannelCreate:
		return "channel created: " + a.Title
	case *tg.MessageActionChatEditTitle:
		return "title changed to: " + a.Title
	case *tg.MessageActionChatEditPhoto:
		return "channel photo changed"
	case *tg.MessageActionChatDeletePhoto:
		return "channel photo removed"
	case *tg.MessageActionPinMessage:
		return "message pinned"
	case *tg.MessageActionChatAddUser:
		return fmt.Sprintf("%d member(s) joined", len(a.Users))
	case *tg.MessageActionChatJoinedByLink:
		return "member joined by link"
	case *tg.MessageActionChatDeleteUser:
		return "member left"
	case *tg.MessageActionTopicCreate:
		return "topic created: " + a.Title
	case *tg.MessageActionGroupCall:
		return "video chat"
	}
	return strings.TrimPrefix(action.TypeName(), "messageAction")
}

func senderName(from tg.PeerClass, postAuthor string, users map[int64]*tg.User) string {
	if postAuthor != "" {
		return postAuthor
	}
	peer, ok := from.(*tg.PeerUser)
	if !ok {
		return ""
	}
	u, ok := users[peer.UserID]
	if !ok {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" && u.Username != "" {
		name = "@" + u.Username
	}
	return name
}
