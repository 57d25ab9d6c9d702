// Package link parses t.me message and story links into channel + id references.
// Parsing is local and never touches the network.
package link

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind is the link shape.
type Kind string

// Link kinds
const (
	KindPublic  Kind = "public"  // t.me/<username>/<id>
	KindPrivate Kind = "private" // t.me/c/<channel id>/<id>, usually restricted content
	KindStory   Kind = "story"   // t.me/<username>/s/<story id>
)

// ErrParse is matched by every ParseError.
var ErrParse = errors.New("invalid telegram link")

// ParseError describes why a string is not a supported link.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid telegram link %q: %s", e.Input, e.Reason)
}

// Is makes errors.Is(err, ErrParse) work.
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

// ChannelRef addresses a channel either by username or by numeric id.
type ChannelRef struct {
	Username string // public username without @
	ID       int64  // numeric channel id as it appears in t.me/c/ links
}

// IsPrivate reports whether the channel is addressed by numeric id.
func (c ChannelRef) IsPrivate() bool {
	return c.Username == ""
}

// Key is a filesystem and map friendly identifier of the channel.
// Usernames are case-insensitive on telegram, so they are lowered.
func (c ChannelRef) Key() string {
	if c.Username != "" {
		return strings.ToLower(c.Username)
	}
	return "c" + strconv.FormatInt(c.ID, 10)
}

// PeerID returns the bot-api style "-100<id>" peer id for private channels.
func (c ChannelRef) PeerID() int64 {
	if c.ID == 0 {
		return 0
	}
	id, _ := strconv.ParseInt("-100"+strconv.FormatInt(c.ID, 10), 10, 64)
	return id
}

func (c ChannelRef) String() string {
	if c.Username != "" {
		return "@" + c.Username
	}
	return strconv.FormatInt(c.ID, 10)
}

// Ref is a parsed message link.
type Ref struct {
	Raw       string
	Channel   ChannelRef
	MessageID int // story id when Kind is KindStory
	TopicID   int // forum topic, 0 when absent
	Kind      Kind
}

// IsStory reports whether the ref points at a story rather than a message.
func (r Ref) IsStory() bool {
	return r.Kind == KindStory
}

// Key identifies the message regardless of how the link was spelled.
// Story ids live in their own space and get an "s/" segment.
func (r Ref) Key() string {
	if r.IsStory() {
		return r.Channel.Key() + "/s/" + strconv.Itoa(r.MessageID)
	}
	return r.Channel.Key() + "/" + strconv.Itoa(r.MessageID)
}

// FilePrefix is the channel part of file names written for the ref.
func (r Ref) FilePrefix() string {
	if r.IsStory() {
		return r.Channel.Key() + "_story"
	}
	return r.Channel.Key()
}

// URL returns the canonical link for the message.
func (r Ref) URL() string {
	switch r.Kind {
	case KindPrivate:
		return fmt.Sprintf("https://t.me/c/%d/%d", r.Channel.ID, r.MessageID)
	case KindStory:
		return fmt.Sprintf("https://t.me/%s/s/%d", r.Channel.Username, r.MessageID)
	}
	return fmt.Sprintf("https://t.me/%s/%d", r.Channel.Username, r.MessageID)
}

func (r Ref) String() string {
	return r.Key()
}

// SameChannel reports whether both refs point into the same channel.
func SameChannel(a, b Ref) bool {
	return a.Channel.Key() == b.Channel.Key()
}

var (
	usernameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{3,31}$`)
	numericRe  = regexp.MustCompile(`^[0-9]+$`)
	// loose match used to pull links out of pasted text
	extractRe = regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?(?:t|telegram)\.me/[^\s<>"']+`)
)

// paths on t.me that look like usernames but are not channels
var reserved = map[string]bool{
	"joinchat": true, "addstickers": true, "addemoji": true, "share": true,
	"proxy": true, "socks": true, "login": true, "iv": true, "setlanguage": true,
}

// Parse turns a user supplied string into a Ref.
func Parse(raw string) (Ref, error) {
	input := strings.TrimSpace(raw)
	if input == "" {
		return Ref{}, &ParseError{Input: raw, Reason: "empty"}
	}

	rest, ok := trimHost(input)
	if !ok {
		return Ref{}, &ParseError{Input: raw, Reason: "not a t.me link"}
	}

	// drop ?single, ?comment=, #fragment
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	rest = strings.Trim(rest, "/")
	parts := strings.Split(rest, "/")

	if len(parts) > 0 && parts[0] == "c" {
		return parsePrivate(raw, parts[1:])
	}
	return parsePublic(raw, parts)
}

// trimHost strips scheme and host, returning the path.
func trimHost(s string) (string, bool) {
	for _, p := range []string{"https://", "http://"} {
		if hasPrefixFold(s, p) {
			s = s[len(p):]
			break
		}
	}
	if hasPrefixFold(s, "www.") {
		s = s[len("www."):]
	}
	for _, h := range []string{"t.me/", "telegram.me/"} {
		if hasPrefixFold(s, h) {
			return s[len(h):], true
		}
	}
	return "", false
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func parsePrivate(raw string, parts []string) (Ref, error) {
	if len(parts) != 2 && len(parts) != 3 {
		return Ref{}, &ParseError{Input: raw, Reason: "expected t.me/c/<channel>/<message>"}
	}
	if !numericRe.MatchString(parts[0]) {
		return Ref{}, &ParseError{Input: raw, Reason: "channel id must be numeric"}
	}
	channelID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || channelID <= 0 {
		return Ref{}, &ParseError{Input: raw, Reason: "channel id out of range"}
	}

	ref := Ref{Raw: raw, Channel: ChannelRef{ID: channelID}, Kind: KindPrivate}
	if err := fillIDs(&ref, parts[1:]); err != nil {
		return Ref{}, &ParseError{Input: raw, Reason: err.Error()}
	}
	return ref, nil
}

func parsePublic(raw string, parts []string) (Ref, error) {
	if len(parts) < 2 {
		return Ref{}, &ParseError{Input: raw, Reason: "missing message id"}
	}
	username := strings.TrimPrefix(parts[0], "@")
	if reserved[strings.ToLower(username)] || strings.HasPrefix(username, "+") {
		return Ref{}, &ParseError{Input: raw, Reason: "not a message link"}
	}
	if !usernameRe.MatchString(username) {
		return Ref{}, &ParseError{Input: raw, Reason: "invalid username"}
	}
	if parts[1] == "s" {
		return parseStory(raw, username, parts[2:])
	}
	if len(parts) > 3 {
		return Ref{}, &ParseError{Input: raw, Reason: "too many path segments"}
	}

	ref := Ref{Raw: raw, Channel: ChannelRef{Username: username}, Kind: KindPublic}
	if err := fillIDs(&ref, parts[1:]); err != nil {
		return Ref{}, &ParseError{Input: raw, Reason: err.Error()}
	}
	return ref, nil
}

func parseStory(raw, username string, ids []string) (Ref, error) {
	if len(ids) != 1 {
		return Ref{}, &ParseError{Input: raw, Reason: "expected t.me/<username>/s/<story>"}
	}
	ref := Ref{Raw: raw, Channel: ChannelRef{Username: username}, Kind: KindStory}
	if err := fillIDs(&ref, ids); err != nil {
		return Ref{}, &ParseError{Input: raw, Reason: err.Error()}
	}
	return ref, nil
}

// fillIDs reads [<message>] or [<topic>, <message>].
func fillIDs(ref *Ref, ids []string) error {
	nums := make([]int, 0, len(ids))
	for _, s := range ids {
		if !numericRe.MatchString(s) {
			return fmt.Errorf("id %q is not numeric", s)
		}
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return fmt.Errorf("id %q out of range", s)
		}
		nums = append(nums, n)
	}
	switch len(nums) {
	case 1:
		ref.MessageID = nums[0]
	case 2:
		ref.TopicID = nums[0]
		ref.MessageID = nums[1]
	default:
		return errors.New("missing message id")
	}
	return nil
}

// ExtractAll returns every t.me link found in text, in order, without duplicates.
// Only candidates are returned, they still need Parse.
func ExtractAll(text string) []string {
	matches := extractRe.FindAllString(text, -1)
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		m = strings.TrimRight(m, ".,;:)]")
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}
