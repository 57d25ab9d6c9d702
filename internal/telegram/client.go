// Package telegram provides Telegram MTProto client wrapper.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/celestix/gotgproto"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/blockedby/tgsaver/internal/link"
	"github.com/blockedby/tgsaver/internal/logger"
)

// rpc errors that mean "nothing to fetch here"
var notFoundErrors = []string{
	"MESSAGE_ID_INVALID",
	"MESSAGE_IDS_EMPTY",
	"CHANNEL_PRIVATE",
	"CHANNEL_INVALID",
	"USERNAME_NOT_OCCUPIED",
	"USERNAME_INVALID",
	"STORY_ID_INVALID",
	"STORY_ID_EMPTY",
	"STORIES_NEVER_CREATED",
}

// Client wraps gotgproto client and provides the operations the fetcher needs.
// It uses the Manager to access the underlying protocol client.
type Client struct {
	manager     *Manager
	rateLimiter *RateLimiter
	downloader  *downloader.Downloader
	log         *logger.Logger
}

// NewClient creates a new telegram client wrapper using the Manager.
// A nil limiter means DefaultRateLimiter.
func NewClient(manager *Manager, limiter *RateLimiter) *Client {
	if limiter == nil {
		limiter = DefaultRateLimiter()
	}
	return &Client{
		manager:     manager,
		rateLimiter: limiter,
		downloader:  downloader.NewDownloader(),
		log:         logger.Get().With("telegram"),
	}
}

// Close stops the client via the manager.
func (c *Client) Close() {
	if c.manager != nil {
		c.manager.Stop()
	}
}

// GetStatus returns the current status of the telegram client.
func (c *Client) GetStatus() Status {
	return c.manager.GetStatus()
}

// getProto returns the current protocol client if available.
func (c *Client) getProto() (*gotgproto.Client, error) {
	proto := c.manager.GetClient()
	if proto == nil {
		return nil, ErrUnauthorized
	}
	return proto, nil
}

// API returns the raw tg.Client for direct API calls.
func (c *Client) API() (*tg.Client, error) {
	proto, err := c.getProto()
	if err != nil {
		return nil, err
	}
	return proto.API(), nil
}

// ResolveChannel turns a link channel reference into an addressable channel.
// Public refs go through username resolution, private refs through the peer
// cache and then the dialog list.
func (c *Client) ResolveChannel(ctx context.Context, ref link.ChannelRef) (*Channel, error) {
	if ref.IsPrivate() {
		return c.resolvePrivate(ctx, ref.ID)
	}
	return c.resolveUsername(ctx, ref.Username)
}

func (c *Client) resolveUsername(ctx context.Context, username string) (*Channel, error) {
	username = strings.TrimPrefix(username, "@")

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	api, err := c.API()
	if err != nil {
		return nil, err
	}

	c.log.Debug().Str("username", username).Msg("telegram: resolving channel username")
	resolved, err := api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{
		Username: username,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve username %s: %w", username, c.translate(err))
	}

	for _, chat := range resolved.Chats {
		if ch, ok := chat.(*tg.Channel); ok {
			return channelFrom(ch), nil
		}
	}
	return nil, fmt.Errorf("resolve username %s: not a channel: %w", username, ErrNotFound)
}

func (c *Client) resolvePrivate(ctx context.Context, channelID int64) (*Channel, error) {
	proto, err := c.getProto()
	if err != nil {
		return nil, err
	}

	// gotgproto keeps access hashes of every peer it has seen
	if proto.PeerStorage != nil {
		if peer := proto.PeerStorage.GetPeerById(channelID); peer != nil && peer.AccessHash != 0 {
			ch, err := c.channelByInput(ctx, proto.API(), &tg.InputChannel{ChannelID: channelID, AccessHash: peer.AccessHash})
			if err == nil {
				return ch, nil
			}
			c.log.Debug().Err(err).Int64("channel_id", channelID).Msg("telegram: cached peer is stale, scanning dialogs")
		}
	}

	return c.findInDialogs(ctx, proto.API(), channelID)
}

func (c *Client) channelByInput(ctx context.Context, api *tg.Client, input *tg.InputChannel) (*Channel, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	res, err := api.ChannelsGetChannels(ctx, []tg.InputChannelClass{input})
	if err != nil {
		return nil, c.translate(err)
	}
	for _, chat := range res.GetChats() {
		if ch, ok := chat.(*tg.Channel); ok && ch.ID == input.ChannelID {
			return channelFrom(ch), nil
		}
	}
	return nil, ErrNotFound
}

// findInDialogs pages through the account dialogs looking for the channel.
// Private channels can only be addressed after the account has seen them.
func (c *Client) findInDialogs(ctx context.Context, api *tg.Client, channelID int64) (*Channel, error) {
	c.log.Info().Int64("channel_id", channelID).Msg("telegram: searching dialogs for private channel")

	var (
		offsetDate int
		offsetID   int
		offsetPeer tg.InputPeerClass = &tg.InputPeerEmpty{}
	)

	for page := 0; page < 50; page++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
		res, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetDate: offsetDate,
			OffsetID:   offsetID,
			OffsetPeer: offsetPeer,
			Limit:      100,
		})
		if err != nil {
			return nil, fmt.Errorf("get dialogs: %w", c.translate(err))
		}

		modified, ok := res.AsModified()
		if !ok {
			break
		}

		for _, chat := range modified.GetChats() {
			if ch, ok := chat.(*tg.Channel); ok && ch.ID == channelID {
				return channelFrom(ch), nil
			}
		}

		dialogs := modified.GetDialogs()
		if _, isSlice := res.(*tg.MessagesDialogsSlice); !isSlice || len(dialogs) == 0 {
			break
		}

		// continue from the oldest top message of this page
		msgs := modified.GetMessages()
		if len(msgs) == 0 {
			break
		}
		last, ok := msgs[len(msgs)-1].(*tg.Message)
		if !ok {
			break
		}
		offsetDate = last.Date
		offsetID = last.ID
		offsetPeer = inputPeerOf(last.PeerID, modified.GetChats())
	}

	return nil, fmt.Errorf("channel %d not in dialogs: %w", channelID, ErrNotFound)
}

// GetMessage fetches one message by id.
// Deleted or invisible messages yield ErrNotFound.
func (c *Client) GetMessage(ctx context.Context, channel *Channel, id int) (*Message, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	api, err := c.API()
	if err != nil {
		return nil, err
	}

	c.log.Debug().Int64("channel_id", channel.ID).Int("message_id", id).Msg("telegram: calling ChannelsGetMessages")
	res, err := api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
		Channel: channel.Input(),
		ID:      []tg.InputMessageClass{&tg.InputMessageID{ID: id}},
	})
	if err != nil {
		return nil, fmt.Errorf("get message %d: %w", id, c.translate(err))
	}

	modified, ok := res.AsModified()
	if !ok {
		return nil, ErrNotFound
	}
	users := usersByID(modified.GetUsers())
	for _, raw := range modified.GetMessages() {
		if m := parseMessage(raw, channel, users); m != nil && m.ID == id {
			return m, nil
		}
	}
	return nil, ErrNotFound
}

// GetStory fetches one story posted by the channel.
// Expired, deleted or hidden stories yield ErrNotFound.
func (c *Client) GetStory(ctx context.Context, channel *Channel, id int) (*Message, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	api, err := c.API()
	if err != nil {
		return nil, err
	}

	c.log.Debug().Int64("channel_id", channel.ID).Int("story_id", id).Msg("telegram: calling StoriesGetStoriesByID")
	res, err := api.StoriesGetStoriesByID(ctx, &tg.StoriesGetStoriesByIDRequest{
		Peer: channel.InputPeer(),
		ID:   []int{id},
	})
	if err != nil {
		return nil, fmt.Errorf("get story %d: %w", id, c.translate(err))
	}

	for _, raw := range res.Stories {
		if m := parseStory(raw, channel); m != nil && m.ID == id {
			return m, nil
		}
	}
	return nil, ErrNotFound
}

// DownloadMedia streams media content into w and returns the byte count.
func (c *Client) DownloadMedia(ctx context.Context, media *Media, w io.Writer) (int64, error) {
	if media == nil || media.Location == nil {
		return 0, errors.New("media has no file location")
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return 0, err
	}

	api, err := c.API()
	if err != nil {
		return 0, err
	}

	cw := &countingWriter{w: w}
	if _, err := c.downloader.Download(api, media.Location).Stream(ctx, cw); err != nil {
		return cw.n, fmt.Errorf("download media: %w", c.translate(err))
	}
	return cw.n, nil
}

// translate maps rpc errors onto the package error taxonomy and feeds flood
// waits into the shared limiter so every worker pauses.
func (c *Client) translate(err error) error {
	if err == nil {
		return nil
	}
	if wait := c.checkFloodWait(err); wait > 0 {
		c.log.Warn().Int("wait_seconds", wait).Msg("telegram: FLOOD_WAIT detected, updating rate limiter")
		c.rateLimiter.SetFloodWait(wait)
		return &FloodWaitError{Seconds: wait, Err: err}
	}
	if tgerr.Is(err, notFoundErrors...) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

// checkFloodWait checks if error is a FLOOD_WAIT error and returns wait seconds
func (c *Client) checkFloodWait(err error) int {
	if err == nil {
		return 0
	}
	if d, ok := tgerr.AsFloodWait(err); ok {
		if s := int(d.Seconds()); s > 0 {
			return s
		}
		return 1
	}

	// wrapped errors sometimes only keep the text, e.g. "rpc error code 420: FLOOD_WAIT (15)"
	str := err.Error()
	for _, marker := range []string{"FLOOD_WAIT_", "FLOOD_PREMIUM_WAIT_"} {
		if idx := strings.Index(str, marker); idx >= 0 {
			var seconds int
			_, _ = fmt.Sscanf(str[idx+len(marker):], "%d", &seconds)
			if seconds > 0 {
				return seconds
			}
		}
	}
	return 0
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

func channelFrom(ch *tg.Channel) *Channel {
	return &Channel{
		ID:         ch.ID,
		AccessHash: ch.AccessHash,
		Username:   ch.Username,
		Title:      ch.Title,
		IsForum:    ch.Forum,
		Restricted: ch.Noforwards,
	}
}

func inputPeerOf(peer tg.PeerClass, chats []tg.ChatClass) tg.InputPeerClass {
	switch p := peer.(type) {
	case *tg.PeerChannel:
		for _, chat := range chats {
			if ch, ok := chat.(*tg.Channel); ok && ch.ID == p.ChannelID {
				return &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
			}
		}
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: p.ChatID}
	}
	return &tg.InputPeerEmpty{}
}

func usersByID(users []tg.UserClass) map[int64]*tg.User {
	out := make(map[int64]*tg.User, len(users))
	for _, u := range users {
		if user, ok := u.(*tg.User); ok {
			out[user.ID] = user
		}
	}
	return out
}
