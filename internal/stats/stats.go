// Package stats keeps per-category counts of persisted files.
package stats

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blockedby/tgsaver/internal/classify"
	"github.com/blockedby/tgsaver/internal/storage"
)

// CategoryStats is the count and size of one category.
type CategoryStats struct {
	Files int   `json:"files"`
	Bytes int64 `json:"bytes"`
}

// RecentFile is one entry of the recent list.
type RecentFile struct {
	Path     string            `json:"path"`
	Category classify.Category `json:"category"`
	Bytes    int64             `json:"bytes"`
	ModTime  time.Time         `json:"mod_time"`
}

// Snapshot is a copy of the tracker state.
type Snapshot struct {
	Categories map[classify.Category]CategoryStats `json:"categories"`
	TotalFiles int                                 `json:"total_files"`
	TotalBytes int64                               `json:"total_bytes"`
	Recent     []RecentFile                        `json:"recent"`
}

const recentInSnapshot = 10

type entry struct {
	category classify.Category
	bytes    int64
	modTime  time.Time
}

// Tracker counts persisted files. Entries are keyed by path, so writing the
// same file twice updates its size instead of counting it again.
type Tracker struct {
	mu    sync.Mutex
	files map[string]entry
	now   func() time.Time

	filesDesc *prometheus.Desc
	bytesDesc *prometheus.Desc
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{
		files: make(map[string]entry),
		now:   time.Now,
		filesDesc: prometheus.NewDesc("tgsaver_files",
			"Number of persisted files per category.", []string{"category"}, nil),
		bytesDesc: prometheus.NewDesc("tgsaver_bytes",
			"Bytes of persisted files per category.", []string{"category"}, nil),
	}
}

// Record adds or updates a persisted file.
func (t *Tracker) Record(res storage.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files[res.Path] = entry{category: res.Category, bytes: res.Bytes, modTime: t.now()}
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{Categories: make(map[classify.Category]CategoryStats, len(classify.Categories))}
	for _, c := range classify.Categories {
		snap.Categories[c] = CategoryStats{}
	}
	for _, e := range t.files {
		cs := snap.Categories[e.category]
		cs.Files++
		cs.Bytes += e.bytes
		snap.Categories[e.category] = cs
		snap.TotalFiles++
		snap.TotalBytes += e.bytes
	}
	snap.Recent = t.recentLocked(recentInSnapshot)
	return snap
}

// Recent returns up to n files, newest first.
func (t *Tracker) Recent(n int) []RecentFile {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recentLocked(n)
}

func (t *Tracker) recentLocked(n int) []RecentFile {
	out := make([]RecentFile, 0, len(t.files))
	for path, e := range t.files {
		out = append(out, RecentFile{Path: path, Category: e.category, Bytes: e.bytes, ModTime: e.modTime})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].Path < out[j].Path
		}
		return out[i].ModTime.After(out[j].ModTime)
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Rescan replaces the state with what is on disk under root.
func (t *Tracker) Rescan(root string) error {
	files := make(map[string]entry)

	for _, folder := range []string{
		classify.FolderMedia, classify.FolderText, classify.FolderCaption,
		classify.FolderService, classify.FolderExports,
	} {
		dir := filepath.Join(root, folder)
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) && path == dir {
					return filepath.SkipDir
				}
				return err
			}
			if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			files[path] = entry{
				category: categoryOf(folder, d.Name()),
				bytes:    info.Size(),
				modTime:  info.ModTime(),
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	t.mu.Lock()
	t.files = files
	t.mu.Unlock()
	return nil
}

// categoryOf reads the category back from <key>_<id>_<category>.<ext>.
func categoryOf(folder, name string) classify.Category {
	switch folder {
	case classify.FolderExports:
		return classify.Export
	case classify.FolderText:
		return classify.Text
	case classify.FolderCaption:
		return classify.Caption
	case classify.FolderService:
		return classify.Service
	}

	base := strings.TrimSuffix(name, filepath.Ext(name))
	if i := strings.LastIndex(base, "_"); i >= 0 {
		switch c := classify.Category(base[i+1:]); c {
		case classify.Photo, classify.Video, classify.Audio, classify.Document:
			return c
		}
	}
	return classify.Document
}

// Describe implements prometheus.Collector.
func (t *Tracker) Describe(ch chan<- *prometheus.Desc) {
	ch <- t.filesDesc
	ch <- t.bytesDesc
}

// Collect implements prometheus.Collector.
func (t *Tracker) Collect(ch chan<- prometheus.Metric) {
	snap := t.Snapshot()
	for _, c := range classify.Categories {
		cs := snap.Categories[c]
		ch <- prometheus.MustNewConstMetric(t.filesDesc, prometheus.GaugeValue, float64(cs.Files), string(c))
		ch <- prometheus.MustNewConstMetric(t.bytesDesc, prometheus.GaugeValue, float64(cs.Bytes), string(c))
	}
}
