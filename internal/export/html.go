package export

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/blockedby/tgsaver/internal/classify"
	"github.com/blockedby/tgsaver/internal/events"
	"github.com/blockedby/tgsaver/internal/storage"
	"github.com/blockedby/tgsaver/internal/telegram"
	"github.com/blockedby/tgsaver/internal/walker"
)

// files inside an HTML export directory
const (
	HTMLFile  = "index.html"
	PDFFile   = "index.pdf"
	CSSFile   = "style.css"
	JSFile    = "script.js"
	MediaDir  = "media"
	timeStamp = "2006-01-02 15:04:05"
)

//go:embed templates/*.html static/*
var assets embed.FS

var pageTemplate = template.Must(template.New("index.html").Funcs(template.FuncMap{
	"lower": strings.ToLower,
}).ParseFS(assets, "templates/*.html"))

type pageView struct {
	Channel    string
	StartID    int
	EndID      int
	StartLink  string
	EndLink    string
	ExportedAt string
	Cards      []cardView
	Stats      footerView
}

type footerView struct {
	Total     int
	WithMedia int
	TextOnly  int
	Missing   int
	Failed    int
}

type cardView struct {
	ID      int
	Link    string
	Deleted bool
	Failed  bool
	Error   string
	Date    string
	Sender  string
	ReplyTo int
	Text    string
	Caption string
	Service string
	Media   *mediaView
}

type mediaView struct {
	Kind        string // image, video, audio, file
	Type        string
	Src         string // relative to index.html, empty when the download failed
	FileName    string
	Size        string
	Duration    string
	Title       string
	Placeholder bool
}

type mediaOutcome struct {
	src string
	err error
}

// HTML writes index.html with its assets and downloads media into media/.
// A media download failure renders a placeholder and never aborts the export.
func (e *Exporter) HTML(ctx context.Context, job *walker.Job) (*Result, error) {
	at := e.now()
	res, err := e.newResult(job, FormatHTML, at)
	if err != nil {
		return nil, err
	}

	media := e.downloadMedia(ctx, job, res)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	view := buildPage(job, media, at)
	for _, m := range media {
		if m.err != nil {
			res.MediaFailed++
		}
	}

	var buf bytes.Buffer
	if err := pageTemplate.ExecuteTemplate(&buf, "index.html", view); err != nil {
		return nil, fmt.Errorf("render export: %w", err)
	}
	index, err := e.writeFile(res, HTMLFile, buf.Bytes())
	if err != nil {
		return nil, err
	}
	res.File = index

	for _, name := range []string{CSSFile, JSFile} {
		body, err := assets.ReadFile("static/" + name)
		if err != nil {
			return nil, fmt.Errorf("read asset %s: %w", name, err)
		}
		if _, err := e.writeFile(res, name, body); err != nil {
			return nil, err
		}
	}

	if e.pdf != nil {
		e.renderPDF(ctx, res)
	}

	e.finish(ctx, job, res)
	return res, nil
}

// downloadMedia fetches every media slot with a bounded pool.
func (e *Exporter) downloadMedia(ctx context.Context, job *walker.Job, res *Result) map[int]mediaOutcome {
	var (
		mu  sync.Mutex
		out = make(map[int]mediaOutcome)
	)

	var withMedia []*telegram.Message
	for _, msg := range job.Present() {
		if msg.Kind == telegram.KindMedia && msg.Media != nil {
			withMedia = append(withMedia, msg)
		}
	}
	if len(withMedia) == 0 {
		return out
	}

	chKey := job.ChannelKey()
	work := context.WithoutCancel(ctx)
	g := new(errgroup.Group)
	g.SetLimit(e.workers)
	for _, msg := range withMedia {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			cat := classify.MediaCategory(msg.Media)
			name := classify.FileName(chKey, msg.ID, cat, classify.Extension(msg.Media))
			dest := filepath.Join(res.Dir, MediaDir, name)

			n, err := storage.AtomicWrite(dest, func(f *os.File) (int64, error) {
				return e.fetcher.FetchMedia(work, chKey, msg, f)
			})

			ev := events.Event{
				RunID:   res.RunID,
				Phase:   events.PhaseExport,
				ItemRef: fmt.Sprintf("%s/%d", chKey, msg.ID),
				Total:   len(withMedia),
			}
			mu.Lock()
			if err != nil {
				out[msg.ID] = mediaOutcome{err: err}
				ev.Status = events.StatusFailed
				ev.Error = err.Error()
				e.log.Warn().Err(err).Str("channel", chKey).Int("message_id", msg.ID).Msg("export: media download failed")
			} else {
				out[msg.ID] = mediaOutcome{src: path.Join(MediaDir, name)}
				res.Files = append(res.Files, storage.Result{
					Path: dest, Bytes: n, Category: classify.Export, MessageID: msg.ID, MimeType: msg.Media.MimeType,
				})
				ev.Status = events.StatusDone
			}
			ev.Completed = len(out)
			mu.Unlock()
			e.publish(ev)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (e *Exporter) renderPDF(ctx context.Context, res *Result) {
	pdfPath := filepath.Join(res.Dir, PDFFile)
	if err := e.pdf.RenderFile(ctx, res.File, pdfPath); err != nil {
		e.log.Warn().Err(err).Str("path", pdfPath).Msg("export: pdf rendering failed")
		return
	}
	info, err := os.Stat(pdfPath)
	if err != nil {
		e.log.Warn().Err(err).Str("path", pdfPath).Msg("export: pdf missing after render")
		return
	}
	res.PDF = pdfPath
	res.Files = append(res.Files, storage.Result{Path: pdfPath, Bytes: info.Size(), Category: classify.Export, MimeType: "application/pdf"})
}

func buildPage(job *walker.Job, media map[int]mediaOutcome, at time.Time) pageView {
	view := pageView{
		Channel:    job.ChannelKey(),
		StartID:    job.Start,
		EndID:      job.End,
		StartLink:  messageLink(job, job.Start),
		EndLink:    messageLink(job, job.End),
		ExportedAt: at.Format(timeStamp),
	}

	for i, msg := range job.Messages {
		id := job.Start + i
		card := cardView{ID: id, Link: messageLink(job, id)}

		if msg == nil {
			if err, failed := job.Errors[id]; failed {
				card.Failed = true
				card.Error = err.Error()
				view.Stats.Failed++
			} else {
				card.Deleted = true
				view.Stats.Missing++
			}
			view.Cards = append(view.Cards, card)
			continue
		}

		view.Stats.Total++
		if !msg.Date.IsZero() {
			card.Date = msg.Date.UTC().Format(timeStamp)
		}
		card.Sender = msg.Sender
		card.ReplyTo = msg.ReplyToID

		switch msg.Kind {
		case telegram.KindMedia:
			card.Caption = msg.Caption()
			if msg.Media != nil {
				card.Media = mediaViewOf(msg.Media, media[msg.ID])
				view.Stats.WithMedia++
			}
		case telegram.KindText:
			card.Text = msg.Text
			view.Stats.TextOnly++
		case telegram.KindService:
			card.Service = msg.Service
		}
		view.Cards = append(view.Cards, card)
	}
	return view
}

func mediaViewOf(m *telegram.Media, outcome mediaOutcome) *mediaView {
	v := &mediaView{
		Type:     string(m.Type),
		Src:      outcome.src,
		FileName: m.FileName,
		Size:     humanSize(m.Size),
	}
	if m.Duration > 0 {
		v.Duration = fmt.Sprintf("%d:%02d", m.Duration/60, m.Duration%60)
	}
	if m.Title != "" {
		v.Title = m.Title
		if m.Performer != "" {
			v.Title = m.Performer + " - " + m.Title
		}
	}

	switch classify.MediaCategory(m) {
	case classify.Photo:
		v.Kind = "image"
	case classify.Video:
		v.Kind = "video"
	case classify.Audio:
		v.Kind = "audio"
	default:
		v.Kind = "file"
	}
	if m.Type == telegram.MediaSticker && strings.HasPrefix(m.MimeType, "image/") {
		v.Kind = "image"
	}
	if v.FileName == "" && outcome.src != "" {
		v.FileName = path.Base(outcome.src)
	}
	v.Placeholder = outcome.src == ""
	return v
}

func humanSize(n int64) string {
	if n <= 0 {
		return "unknown size"
	}
	return humanize.IBytes(uint64(n))
}

func messageLink(job *walker.Job, id int) string {
	if job.Channel.IsPrivate() {
		return fmt.Sprintf("https://t.me/c/%d/%d", job.Channel.ID, id)
	}
	return fmt.Sprintf("https://t.me/%s/%d", job.Channel.Username, id)
}
