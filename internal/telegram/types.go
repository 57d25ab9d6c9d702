package telegram

import (
	"errors"
	"fmt"
	"time"

	"github.com/gotd/td/tg"
)

// PayloadKind is what a fetched message carries.
type PayloadKind string

// Payload kinds
const (
	KindEmpty   PayloadKind = "empty"   // deleted, inaccessible or blank
	KindMedia   PayloadKind = "media"   // photo/video/audio/document, maybe with caption
	KindText    PayloadKind = "text"    // plain text message
	KindService PayloadKind = "service" // join/leave/pin/title change...
)

// MediaType is the media subtype as reported by telegram.
type MediaType string

// Media types
const (
	MediaPhoto     MediaType = "photo"
	MediaVideo     MediaType = "video"
	MediaRound     MediaType = "video_note"
	MediaAnimation MediaType = "animation"
	MediaAudio     MediaType = "audio"
	MediaVoice     MediaType = "voice"
	MediaSticker   MediaType = "sticker"
	MediaDocument  MediaType = "document"
)

// errors
var (
	// ErrNotFound means the message does not exist, was deleted or is not visible.
	ErrNotFound = errors.New("message not found")
	// ErrUnauthorized means there is no logged in session.
	ErrUnauthorized = errors.New("telegram client not authorized")
)

// FloodWaitError is returned when telegram demands a pause before the next call.
type FloodWaitError struct {
	Seconds int
	Err     error
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("FLOOD_WAIT_%d", e.Seconds)
}

func (e *FloodWaitError) Unwrap() error {
	return e.Err
}

// Wait returns the mandated pause.
func (e *FloodWaitError) Wait() time.Duration {
	return time.Duration(e.Seconds) * time.Second
}

// Channel represents a resolved telegram channel
type Channel struct {
	ID         int64  // channel id
	AccessHash int64  // access hash for api calls
	Username   string // channel username (without @), empty for private channels
	Title      string // channel title
	IsForum    bool   // whether it's a forum-type supergroup
	Restricted bool   // noforwards flag: saving/forwarding disabled
}

// Input returns the api input for the channel.
func (c *Channel) Input() *tg.InputChannel {
	return &tg.InputChannel{ChannelID: c.ID, AccessHash: c.AccessHash}
}

// InputPeer returns the channel as a peer, used by peer-addressed calls.
func (c *Channel) InputPeer() *tg.InputPeerChannel {
	return &tg.InputPeerChannel{ChannelID: c.ID, AccessHash: c.AccessHash}
}

// Media describes downloadable content of a message
type Media struct {
	Type      MediaType
	MimeType  string
	FileName  string // original file name if telegram knows it
	Size      int64  // bytes, 0 if unknown
	Duration  int    // seconds for audio/video
	Title     string // audio title
	Performer string // audio performer
	Width     int
	Height    int

	// Location is what the downloader needs; nil for test doubles.
	Location tg.InputFileLocationClass
}

// Message represents a parsed telegram message
type Message struct {
	ID        int         // message id (unique within channel)
	ChannelID int64       // channel id
	Kind      PayloadKind // what the message carries
	Text      string      // message text, or caption when Kind is media
	Date      time.Time   // message creation timestamp
	Media     *Media      // nil unless Kind is media
	Service   string      // human readable service action
	Sender    string      // post author or sender name when known
	ReplyToID int         // replied message id, 0 if none
	TopicID   *int        // forum topic id (nil for non-forum channels)
	Views     int         // view count
	Forwards  int         // forward count
}

// Caption returns the text attached to media, empty for other kinds.
func (m *Message) Caption() string {
	if m.Kind == KindMedia {
		return m.Text
	}
	return ""
}

// IsEmpty reports whether the message has nothing to persist.
func (m *Message) IsEmpty() bool {
	return m == nil || m.Kind == KindEmpty
}

// Empty builds the sentinel for a missing message.
func Empty(channelID int64, id int) *Message {
	return &Message{ID: id, ChannelID: channelID, Kind: KindEmpty}
}
