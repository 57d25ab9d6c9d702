package export

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tgsaver/internal/classify"
	"github.com/blockedby/tgsaver/internal/link"
	"github.com/blockedby/tgsaver/internal/repository"
	"github.com/blockedby/tgsaver/internal/stats"
	"github.com/blockedby/tgsaver/internal/storage"
	"github.com/blockedby/tgsaver/internal/telegram"
	"github.com/blockedby/tgsaver/internal/walker"
)

var exportTime = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

type mockMedia struct {
	mu     sync.Mutex
	failOn map[int]bool
	calls  int
}

func (m *mockMedia) FetchMedia(_ context.Context, _ string, msg *telegram.Message, w io.Writer) (int64, error) {
	m.mu.Lock()
	m.calls++
	fail := m.failOn[msg.ID]
	m.mu.Unlock()
	if fail {
		return 0, errors.New("file reference expired")
	}
	n, err := io.WriteString(w, "bytes-of-"+string(msg.Media.Type))
	return int64(n), err
}

type mockHistory struct {
	records []repository.HistoryRecord
}

func (h *mockHistory) Add(_ context.Context, records ...repository.HistoryRecord) error {
	h.records = append(h.records, records...)
	return nil
}

type mockPDF struct {
	err error
}

func (p *mockPDF) RenderFile(_ context.Context, htmlPath, pdfPath string) error {
	if p.err != nil {
		return p.err
	}
	if _, err := os.Stat(htmlPath); err != nil {
		return err
	}
	return os.WriteFile(pdfPath, []byte("%PDF-1.4"), 0o644)
}

// rangeJob is 10..15 with 13 deleted: text, photo+caption, service, -, video, text.
func rangeJob() *walker.Job {
	date := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	job := &walker.Job{
		RunID:    "run-1",
		Channel:  link.ChannelRef{Username: "somechannel"},
		Start:    10,
		End:      15,
		Messages: make([]*telegram.Message, 6),
		Errors:   map[int]error{},
	}
	job.Messages[0] = &telegram.Message{ID: 10, Kind: telegram.KindText, Text: "first <b>post</b>", Date: date, Sender: "Editor"}
	job.Messages[1] = &telegram.Message{ID: 11, Kind: telegram.KindMedia, Text: "a photo", Date: date,
		Media: &telegram.Media{Type: telegram.MediaPhoto, MimeType: "image/jpeg", Size: 2048}}
	job.Messages[2] = &telegram.Message{ID: 12, Kind: telegram.KindService, Service: "message pinned", Date: date}
	job.Messages[4] = &telegram.Message{ID: 14, Kind: telegram.KindMedia, Date: date, ReplyToID: 11,
		Media: &telegram.Media{Type: telegram.MediaVideo, MimeType: "video/mp4", Size: 5 << 20, Duration: 75}}
	job.Messages[5] = &telegram.Message{ID: 15, Kind: telegram.KindText, Text: "last", Date: date}
	return job
}

type fixture struct {
	exp     *Exporter
	store   *storage.Store
	media   *mockMedia
	stats   *stats.Tracker
	history *mockHistory
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)

	fx := &fixture{store: store, media: &mockMedia{failOn: map[int]bool{}}, stats: stats.New(), history: &mockHistory{}}
	opts = append([]Option{WithRecorder(fx.stats), WithHistory(fx.history)}, opts...)
	fx.exp = New(fx.media, store, opts...)
	fx.exp.now = func() time.Time { return exportTime }
	return fx
}

func loadDoc(t *testing.T, path string) *goquery.Document {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	doc, err := goquery.NewDocumentFromReader(f)
	require.NoError(t, err)
	return doc
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatHTML, f)

	f, err = ParseFormat(" JSON ")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseFormat("pdf")
	assert.Error(t, err)
}

func TestJSON_RangeWithGap(t *testing.T) {
	fx := newFixture(t)

	res, err := fx.exp.JSON(context.Background(), rangeJob())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(fx.store.Root(), "exports", "somechannel_10-15_20240301_123000", "messages.json"), res.File)
	assert.Equal(t, 6, res.Slots)
	assert.Equal(t, 5, res.Exported)
	assert.Equal(t, 1, res.Missing)
	assert.Zero(t, fx.media.calls, "json export never downloads media")

	raw, err := os.ReadFile(res.File)
	require.NoError(t, err)
	var doc Document
	require.NoError(t, json.Unmarshal(raw, &doc))

	assert.Equal(t, "somechannel", doc.Export.Channel)
	assert.Equal(t, 10, doc.Export.StartID)
	assert.Equal(t, 15, doc.Export.EndID)
	assert.Equal(t, 6, doc.Export.TotalSlots)
	assert.Equal(t, 5, doc.Export.Exported)
	assert.Equal(t, []int{13}, doc.Export.MissingIDs)
	assert.Empty(t, doc.Export.FailedIDs)
	assert.True(t, doc.Export.ExportedAt.Equal(exportTime))

	require.Len(t, doc.Messages, 5)
	var ids []int
	for _, m := range doc.Messages {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []int{10, 11, 12, 14, 15}, ids)

	photo := doc.Messages[1]
	assert.Equal(t, classify.Photo, photo.Category)
	assert.Equal(t, "a photo", photo.Caption)
	assert.Empty(t, photo.Text)
	require.NotNil(t, photo.Media)
	assert.Equal(t, "photo", photo.Media.Type)
	assert.Equal(t, int64(2048), photo.Media.Size)

	assert.Equal(t, classify.Service, doc.Messages[2].Category)
	assert.Equal(t, "message pinned", doc.Messages[2].Service)
	assert.Equal(t, 11, doc.Messages[3].ReplyTo)
	assert.Equal(t, 75, doc.Messages[3].Media.Duration)

	// recorded once under the export category
	assert.Equal(t, 1, fx.stats.Snapshot().Categories[classify.Export].Files)
	require.Len(t, fx.history.records, 1)
	assert.Equal(t, repository.KindExport, fx.history.records[0].Kind)
	assert.Equal(t, 10, fx.history.records[0].RangeFrom)
	assert.Equal(t, 15, fx.history.records[0].RangeTo)
}

func TestJSON_EmptyRangeStillHasArrays(t *testing.T) {
	fx := newFixture(t)
	job := &walker.Job{Channel: link.ChannelRef{ID: 777}, Start: 1, End: 2, Messages: make([]*telegram.Message, 2), Errors: map[int]error{}}

	res, err := fx.exp.JSON(context.Background(), job)
	require.NoError(t, err)

	raw, err := os.ReadFile(res.File)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"messages": []`)
	assert.Contains(t, string(raw), `"failed_ids": []`)
	assert.Contains(t, filepath.Base(res.Dir), "c777_1-2_")
}

func TestBuildDocument_BlankTextKeepsTextCategory(t *testing.T) {
	job := &walker.Job{
		Channel:  link.ChannelRef{Username: "somechannel"},
		Start:    1,
		End:      1,
		Messages: []*telegram.Message{{ID: 1, Kind: telegram.KindText, Text: " \n\t "}},
		Errors:   map[int]error{},
	}

	doc := BuildDocument(job, exportTime)
	require.Len(t, doc.Messages, 1)
	assert.Equal(t, classify.Text, doc.Messages[0].Category)
	assert.Equal(t, " \n\t ", doc.Messages[0].Text)

	raw, err := json.Marshal(doc.Messages[0])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"category":"text"`)
}

func TestHTML_RendersCardsInOrder(t *testing.T) {
	fx := newFixture(t, WithMediaWorkers(2))

	res, err := fx.exp.HTML(context.Background(), rangeJob())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(res.Dir, HTMLFile), res.File)
	assert.Zero(t, res.MediaFailed)
	assert.Equal(t, 2, fx.media.calls)

	for _, name := range []string{CSSFile, JSFile} {
		_, err := os.Stat(filepath.Join(res.Dir, name))
		assert.NoError(t, err, name)
	}

	doc := loadDoc(t, res.File)
	var ids []string
	doc.Find(".message").Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("data-id")
		ids = append(ids, id)
	})
	assert.Equal(t, []string{"10", "11", "12", "13", "14", "15"}, ids)

	deleted := doc.Find(`.message.deleted[data-id="13"]`)
	require.Equal(t, 1, deleted.Length())
	assert.Contains(t, deleted.Text(), "This message was deleted")

	// text is escaped, not interpreted
	first := doc.Find(`.message[data-id="10"] .message-text`)
	assert.Equal(t, "first <b>post</b>", first.Text())
	assert.Zero(t, first.Find("b").Length())
	assert.Equal(t, "Editor", doc.Find(`.message[data-id="10"] .username`).Text())

	img := doc.Find(`.message[data-id="11"] img.media-item`)
	src, ok := img.Attr("src")
	require.True(t, ok)
	assert.Equal(t, "media/somechannel_11_photo.jpg", src)
	body, err := os.ReadFile(filepath.Join(res.Dir, src))
	require.NoError(t, err)
	assert.Equal(t, "bytes-of-photo", string(body))
	assert.Equal(t, "a photo", doc.Find(`.message[data-id="11"] .caption`).Text())

	video, ok := doc.Find(`.message[data-id="14"] video source`).Attr("src")
	require.True(t, ok)
	assert.Equal(t, "media/somechannel_14_video.mp4", video)
	assert.Contains(t, doc.Find(`.message[data-id="14"] .reply-to`).Text(), "#11")

	assert.Contains(t, doc.Find(`.message[data-id="12"]`).Text(), "message pinned")

	assert.Equal(t, "5", doc.Find(".stat-total").Text())
	assert.Equal(t, "2", doc.Find(".stat-media").Text())
	assert.Equal(t, "2", doc.Find(".stat-text").Text())
	assert.Equal(t, "1", doc.Find(".stat-missing").Text())
	assert.Zero(t, doc.Find(".stat-failed").Length())

	// index, css, js and two media files
	assert.Len(t, res.Files, 5)
	assert.Equal(t, 5, fx.stats.Snapshot().Categories[classify.Export].Files)
	assert.Len(t, fx.history.records, 5)
}

func TestHTML_MediaFailureRendersPlaceholder(t *testing.T) {
	fx := newFixture(t)
	fx.media.failOn[11] = true

	res, err := fx.exp.HTML(context.Background(), rangeJob())
	require.NoError(t, err)
	assert.Equal(t, 1, res.MediaFailed)

	doc := loadDoc(t, res.File)
	card := doc.Find(`.message[data-id="11"]`)
	assert.Zero(t, card.Find("img").Length())
	placeholder := card.Find(".media-placeholder").Text()
	assert.Contains(t, placeholder, "2.0 KiB")
	assert.Contains(t, placeholder, "not downloaded")

	_, err = os.Stat(filepath.Join(res.Dir, "media", "somechannel_11_photo.jpg"))
	assert.True(t, os.IsNotExist(err), "no partial file left behind")

	// the other media still made it
	assert.Equal(t, 1, doc.Find(`.message[data-id="14"] video`).Length())
}

func TestHTML_FailedSlot(t *testing.T) {
	fx := newFixture(t)
	job := rangeJob()
	job.Messages[5] = nil
	job.Errors[15] = errors.New("rate limited")

	res, err := fx.exp.HTML(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	doc := loadDoc(t, res.File)
	assert.Contains(t, doc.Find(`.message.failed[data-id="15"] .error-message`).Text(), "rate limited")
	assert.Equal(t, "1", doc.Find(".stat-failed").Text())
}

func TestHTML_PDF(t *testing.T) {
	t.Run("rendered", func(t *testing.T) {
		fx := newFixture(t, WithPDF(&mockPDF{}))
		res, err := fx.exp.HTML(context.Background(), rangeJob())
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(res.Dir, PDFFile), res.PDF)
		_, err = os.Stat(res.PDF)
		assert.NoError(t, err)
		assert.Len(t, res.Files, 6)
	})

	t.Run("failure does not fail the export", func(t *testing.T) {
		fx := newFixture(t, WithPDF(&mockPDF{err: errors.New("chrome not found")}))
		res, err := fx.exp.HTML(context.Background(), rangeJob())
		require.NoError(t, err)
		assert.Empty(t, res.PDF)
		assert.Len(t, res.Files, 5)
	})
}

func TestHTML_Cancelled(t *testing.T) {
	fx := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fx.exp.HTML(ctx, rangeJob())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, fx.media.calls)
}

func TestExport_Dispatch(t *testing.T) {
	fx := newFixture(t)
	res, err := fx.exp.Export(context.Background(), rangeJob(), FormatJSON)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(res.File, JSONFile))

	_, err = fx.exp.Export(context.Background(), rangeJob(), Format("xml"))
	assert.Error(t, err)
}

func TestMessageLink_Private(t *testing.T) {
	job := &walker.Job{Channel: link.ChannelRef{ID: 12345}}
	assert.Equal(t, "https://t.me/c/12345/7", messageLink(job, 7))
}
