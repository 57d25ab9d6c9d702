package link

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_ValidLinks(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantChan  ChannelRef
		wantMsg   int
		wantTopic int
		wantKind  Kind
	}{
		{
			name:     "public https",
			input:    "https://t.me/golang_jobs/123",
			wantChan: ChannelRef{Username: "golang_jobs"},
			wantMsg:  123,
			wantKind: KindPublic,
		},
		{
			name:     "public without scheme with single suffix",
			input:    "t.me/durov_news/45?single",
			wantChan: ChannelRef{Username: "durov_news"},
			wantMsg:  45,
			wantKind: KindPublic,
		},
		{
			name:      "public forum topic",
			input:     "https://t.me/somegroup/10/999",
			wantChan:  ChannelRef{Username: "somegroup"},
			wantMsg:   999,
			wantTopic: 10,
			wantKind:  KindPublic,
		},
		{
			name:     "telegram.me host with www and trailing slash",
			input:    "  https://www.telegram.me/SomeChannel/7/  ",
			wantChan: ChannelRef{Username: "SomeChannel"},
			wantMsg:  7,
			wantKind: KindPublic,
		},
		{
			name:     "private channel",
			input:    "https://t.me/c/1234567890/42",
			wantChan: ChannelRef{ID: 1234567890},
			wantMsg:  42,
			wantKind: KindPrivate,
		},
		{
			name:      "private topic with comment query",
			input:     "http://t.me/c/1234567890/5/77?comment=3",
			wantChan:  ChannelRef{ID: 1234567890},
			wantMsg:   77,
			wantTopic: 5,
			wantKind:  KindPrivate,
		},
		{
			name:     "channel story",
			input:    "https://t.me/durov/s/12",
			wantChan: ChannelRef{Username: "durov"},
			wantMsg:  12,
			wantKind: KindStory,
		},
		{
			name:     "uppercase scheme and host",
			input:    "HTTPS://T.ME/c/99/1",
			wantChan: ChannelRef{ID: 99},
			wantMsg:  1,
			wantKind: KindPrivate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.wantChan, ref.Channel)
			assert.Equal(t, tt.wantMsg, ref.MessageID)
			assert.Equal(t, tt.wantTopic, ref.TopicID)
			assert.Equal(t, tt.wantKind, ref.Kind)
			assert.Equal(t, tt.input, ref.Raw)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"hello world",
		"https://example.com/channel/1",
		"https://t.me/",
		"https://t.me/golang_jobs",
		"https://t.me/golang_jobs/abc",
		"https://t.me/golang_jobs/0",
		"https://t.me/golang_jobs/-5",
		"https://t.me/c/abc/1",
		"https://t.me/c/123",
		"https://t.me/c/123/1/2/3",
		"https://t.me/joinchat/AAAAAE",
		"https://t.me/+AbCdEf/1",
		"https://t.me/abc/1",
		"https://t.me/durov/s",
		"https://t.me/durov/s/abc",
		"https://t.me/durov/s/1/2",
		"https://t.me/a/b/c/d",
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrParse), "error should match ErrParse: %v", err)

			var pe *ParseError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, in, pe.Input)
			assert.NotEmpty(t, pe.Reason)
		})
	}
}

func TestRef_KeysAndURL(t *testing.T) {
	pub, err := Parse("https://t.me/GoLang_Jobs/12")
	require.NoError(t, err)
	pub2, err := Parse("t.me/golang_jobs/12?single")
	require.NoError(t, err)

	assert.Equal(t, "golang_jobs/12", pub.Key())
	assert.Equal(t, pub.Key(), pub2.Key(), "spelling must not affect dedup key")
	assert.Equal(t, "https://t.me/GoLang_Jobs/12", pub.URL())
	assert.True(t, SameChannel(pub, pub2))

	priv, err := Parse("https://t.me/c/1234/5")
	require.NoError(t, err)
	assert.Equal(t, "c1234/5", priv.Key())
	assert.Equal(t, int64(-1001234), priv.Channel.PeerID())
	assert.True(t, priv.Channel.IsPrivate())
	assert.Equal(t, "https://t.me/c/1234/5", priv.URL())
	assert.False(t, SameChannel(pub, priv))
}

func TestExtractAll(t *testing.T) {
	text := `look at https://t.me/chan_one/1, and t.me/c/55/9.
dup https://t.me/chan_one/1 plus noise https://example.com/x
and (https://telegram.me/chan_two/3)`

	got := ExtractAll(text)
	assert.Equal(t, []string{
		"https://t.me/chan_one/1",
		"t.me/c/55/9",
		"https://telegram.me/chan_two/3",
	}, got)
}

func TestRef_StoryKeyDoesNotCollideWithMessage(t *testing.T) {
	story, err := Parse("t.me/Durov/s/12?single")
	require.NoError(t, err)
	msg, err := Parse("https://t.me/durov/12")
	require.NoError(t, err)

	assert.True(t, story.IsStory())
	assert.False(t, msg.IsStory())
	assert.Equal(t, "durov/s/12", story.Key())
	assert.NotEqual(t, msg.Key(), story.Key())
	assert.Equal(t, "https://t.me/Durov/s/12", story.URL())
	assert.Equal(t, "durov_story", story.FilePrefix())
	assert.Equal(t, "durov", msg.FilePrefix())
	assert.True(t, SameChannel(story, msg))
}
