package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tgsaver/internal/telegram"
)

func TestClassify_Media(t *testing.T) {
	tests := []struct {
		name     string
		media    telegram.Media
		wantCat  Category
		wantFile string
	}{
		{
			name:     "photo is always jpg",
			media:    telegram.Media{Type: telegram.MediaPhoto, MimeType: "image/png"},
			wantCat:  Photo,
			wantFile: "chan_10_photo.jpg",
		},
		{
			name:     "video by type",
			media:    telegram.Media{Type: telegram.MediaVideo, MimeType: "video/mp4"},
			wantCat:  Video,
			wantFile: "chan_10_video.mp4",
		},
		{
			name:     "round video",
			media:    telegram.Media{Type: telegram.MediaRound, MimeType: "video/mp4"},
			wantCat:  Video,
			wantFile: "chan_10_video.mp4",
		},
		{
			name:     "animation counts as video",
			media:    telegram.Media{Type: telegram.MediaAnimation, MimeType: "video/mp4", FileName: "funny.MP4"},
			wantCat:  Video,
			wantFile: "chan_10_video.mp4",
		},
		{
			name:     "voice is audio",
			media:    telegram.Media{Type: telegram.MediaVoice, MimeType: "audio/ogg"},
			wantCat:  Audio,
			wantFile: "chan_10_audio.oga",
		},
		{
			name:     "document keeps original extension",
			media:    telegram.Media{Type: telegram.MediaDocument, MimeType: "application/octet-stream", FileName: "Report.PDF"},
			wantCat:  Document,
			wantFile: "chan_10_document.pdf",
		},
		{
			name:     "document falls back to mime",
			media:    telegram.Media{Type: telegram.MediaDocument, MimeType: "application/zip"},
			wantCat:  Document,
			wantFile: "chan_10_document.zip",
		},
		{
			name:     "unknown document is bin",
			media:    telegram.Media{Type: telegram.MediaDocument},
			wantCat:  Document,
			wantFile: "chan_10_document.bin",
		},
		{
			name:     "weird extension ignored",
			media:    telegram.Media{Type: telegram.MediaDocument, FileName: "x.t@r"},
			wantCat:  Document,
			wantFile: "chan_10_document.bin",
		},
		{
			name:     "generic document with audio mime",
			media:    telegram.Media{Type: telegram.MediaDocument, MimeType: "audio/mpeg", FileName: "song.mp3"},
			wantCat:  Audio,
			wantFile: "chan_10_audio.mp3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			media := tt.media
			msg := &telegram.Message{ID: 10, Kind: telegram.KindMedia, Media: &media}

			c, err := Classify(msg, "chan")
			require.NoError(t, err)
			require.NotNil(t, c.Primary)
			assert.Equal(t, tt.wantCat, c.Primary.Category)
			assert.Equal(t, tt.wantFile, c.Primary.FileName)
			assert.Equal(t, FolderMedia, c.Primary.Folder())
			assert.Nil(t, c.Caption)
		})
	}
}

func TestClassify_MediaWithCaption(t *testing.T) {
	msg := &telegram.Message{
		ID:    7,
		Kind:  telegram.KindMedia,
		Text:  "look at this",
		Media: &telegram.Media{Type: telegram.MediaPhoto},
	}

	c, err := Classify(msg, "c1234")
	require.NoError(t, err)
	records := c.Records()
	require.Len(t, records, 2)
	assert.Equal(t, Photo, records[0].Category)
	assert.Equal(t, Caption, records[1].Category)
	assert.Equal(t, "c1234_7_caption.txt", records[1].FileName)
	assert.Equal(t, FolderCaption, records[1].Folder())
	assert.Equal(t, "look at this", records[1].Text)
}

func TestClassify_TextServiceEmpty(t *testing.T) {
	text, err := Classify(&telegram.Message{ID: 1, Kind: telegram.KindText, Text: "hello"}, "chan")
	require.NoError(t, err)
	assert.Equal(t, Text, text.Primary.Category)
	assert.Equal(t, "chan_1_text.txt", text.Primary.FileName)
	assert.Equal(t, FolderText, text.Primary.Folder())

	svc, err := Classify(&telegram.Message{ID: 2, Kind: telegram.KindService, Service: "message pinned"}, "chan")
	require.NoError(t, err)
	assert.Equal(t, Service, svc.Primary.Category)
	assert.Equal(t, FolderService, svc.Primary.Folder())
	assert.Equal(t, "message pinned", svc.Primary.Text)

	empty, err := Classify(telegram.Empty(1, 3), "chan")
	require.NoError(t, err)
	assert.True(t, empty.IsEmpty())
	assert.Empty(t, empty.Records())

	blank, err := Classify(&telegram.Message{ID: 4, Kind: telegram.KindText, Text: "  \n"}, "chan")
	require.NoError(t, err)
	assert.True(t, blank.IsEmpty())
}

func TestClassify_Errors(t *testing.T) {
	_, err := Classify(nil, "chan")
	assert.ErrorIs(t, err, ErrUnclassifiable)

	_, err = Classify(&telegram.Message{ID: 1, Kind: telegram.KindMedia}, "chan")
	assert.ErrorIs(t, err, ErrUnclassifiable)
}

func TestClassify_Deterministic(t *testing.T) {
	msg := &telegram.Message{ID: 99, Kind: telegram.KindMedia, Media: &telegram.Media{Type: telegram.MediaVideo, MimeType: "video/quicktime"}}
	a, err := Classify(msg, "chan")
	require.NoError(t, err)
	b, err := Classify(msg, "chan")
	require.NoError(t, err)
	assert.Equal(t, a.Primary.FileName, b.Primary.FileName)
	assert.Equal(t, "chan_99_video.mov", a.Primary.FileName)
}
