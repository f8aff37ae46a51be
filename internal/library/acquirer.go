package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"crossdeck/internal/cache"
	"crossdeck/pkg/models"
)

var (
	ErrTooLarge  = errors.New("download exceeds size limit")
	ErrBadStatus = errors.New("unexpected HTTP status")
	ErrBadURL    = errors.New("unsupported URL")
)

// Catalog receives acquired tracks. Append returns the new track's index.
type Catalog interface {
	Append(track *models.Track) int
}

// Index is the persistent library index
type Index interface {
	UpsertTrack(entry models.LibraryEntry) (int, error)
	TrackExists(path string) (bool, error)
	RemoveTrackByPath(path string) error
}

// FailureReporter is told about every failed acquisition. Failures never
// touch deck or director state.
type FailureReporter interface {
	ReportFailure(source string, err error)
}

// CatalogListener is told about every track appended to the catalog
type CatalogListener interface {
	TrackAdded(index int, track *models.Track)
}

// Option configures an Acquirer
type Option func(*Acquirer)

// WithIndex records acquired files in idx
func WithIndex(idx Index) Option {
	return func(a *Acquirer) { a.index = idx }
}

// WithReporter sets where failures are published
func WithReporter(r FailureReporter) Option {
	return func(a *Acquirer) { a.reporter = r }
}

// WithListener sets who hears about catalog appends
func WithListener(l CatalogListener) Option {
	return func(a *Acquirer) { a.listener = l }
}

// WithHTTPClient replaces the client used for URL acquisition
func WithHTTPClient(c *http.Client) Option {
	return func(a *Acquirer) { a.client = c }
}

// WithMaxDownload caps the size of a URL download in bytes
func WithMaxDownload(n int64) Option {
	return func(a *Acquirer) { a.maxBytes = n }
}

// WithDownloadCache keeps decoded URL downloads so a repeated URL is
// appended again without another fetch
func WithDownloadCache(c *cache.MemoryCache[models.Track]) Option {
	return func(a *Acquirer) { a.downloads = c }
}

// WithLogger sets the logger
func WithLogger(l *logrus.Logger) Option {
	return func(a *Acquirer) { a.logger = l.WithField("component", "library") }
}

// Acquirer decodes files and URLs into tracks and appends them to the catalog
type Acquirer struct {
	catalog  Catalog
	index    Index
	reporter FailureReporter
	listener CatalogListener
	client   *http.Client
	maxBytes int64
	logger   *logrus.Entry

	downloads *cache.MemoryCache[models.Track]
}

// NewAcquirer creates an acquirer feeding catalog
func NewAcquirer(catalog Catalog, opts ...Option) *Acquirer {
	a := &Acquirer{
		catalog:  catalog,
		client:   &http.Client{Timeout: 60 * time.Second},
		maxBytes: 100 << 20,
		logger:   logrus.StandardLogger().WithField("component", "library"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AcquireFile decodes the file at filePath and appends it to the catalog
func (a *Acquirer) AcquireFile(ctx context.Context, filePath string) (int, *models.Track, error) {
	track, entry, err := a.load(ctx, filePath)
	if err != nil {
		a.fail(filePath, err)
		return -1, nil, err
	}
	return a.admit(track, &entry), track, nil
}

// load decodes a file without touching the catalog
func (a *Acquirer) load(ctx context.Context, filePath string) (*models.Track, models.LibraryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.LibraryEntry{}, err
	}
	started := time.Now()

	track, err := a.decode(readFile(filePath))
	if err != nil {
		return nil, models.LibraryEntry{}, fmt.Errorf("acquire %s: %w", filepath.Base(filePath), err)
	}
	track.Source = filePath

	entry := models.LibraryEntry{
		Path:       filePath,
		Title:      track.Title,
		DurationMS: track.Duration.Milliseconds(),
		SampleRate: track.Buffer.SampleRate,
		Channels:   track.Buffer.NumChannels(),
		AddedAt:    time.Now(),
	}
	a.logger.WithFields(logrus.Fields{
		"file_path":       filePath,
		"title":           track.Title,
		"duration":        track.Duration,
		"processing_time": time.Since(started),
	}).Debug("Decoded audio file")
	return track, entry, nil
}

// AcquireURL downloads and decodes a remote file and appends it to the catalog
func (a *Acquirer) AcquireURL(ctx context.Context, rawURL string) (int, *models.Track, error) {
	if a.downloads != nil {
		if cached, ok := a.downloads.Get(rawURL); ok {
			// the sample buffer is immutable so the copy shares it
			track := cached
			track.ID = uuid.NewString()
			a.logger.WithField("url", rawURL).Debug("Reusing cached download")
			return a.admit(&track, nil), &track, nil
		}
	}

	track, err := a.fetch(ctx, rawURL)
	if err != nil {
		a.fail(rawURL, err)
		return -1, nil, err
	}
	track.Source = rawURL
	if a.downloads != nil {
		a.downloads.Set(rawURL, *track)
	}
	return a.admit(track, nil), track, nil
}

func (a *Acquirer) fetch(ctx context.Context, rawURL string) (*models.Track, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrBadURL, rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrBadStatus, resp.Status)
	}
	if resp.ContentLength > a.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, a.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	if int64(len(data)) > a.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, a.maxBytes)
	}

	name := path.Base(u.Path)
	ext := strings.ToLower(path.Ext(name))
	if !IsAudioFile(name, []string{".wav", ".flac", ".mp3"}) {
		ext = extensionFor(resp.Header.Get("Content-Type"))
	}
	return a.decode(file{name: name, ext: ext, data: data})
}

type file struct {
	name string
	ext  string
	data []byte
	err  error
}

func readFile(filePath string) file {
	f := file{name: filepath.Base(filePath), ext: filepath.Ext(filePath)}
	f.data, f.err = readAll(filePath)
	return f
}

func (a *Acquirer) decode(f file) (*models.Track, error) {
	if f.err != nil {
		return nil, f.err
	}
	buf, err := DecodeBytes(f.data, f.ext)
	if err != nil {
		return nil, err
	}

	duration := buf.Duration()
	if strings.EqualFold(f.ext, ".mp3") {
		if d, err := frameDuration(f.data); err == nil && d > 0 {
			duration = d
		}
	}
	return &models.Track{
		ID:       uuid.NewString(),
		Title:    Title(f.data, f.name),
		Duration: duration,
		Buffer:   buf,
	}, nil
}

// admit appends a decoded track to the catalog and, for files, the index
func (a *Acquirer) admit(track *models.Track, entry *models.LibraryEntry) int {
	index := a.catalog.Append(track)

	if entry != nil && a.index != nil {
		if _, err := a.index.UpsertTrack(*entry); err != nil {
			a.logger.WithError(err).WithField("file_path", entry.Path).Warn("Failed to index track")
		}
	}
	if a.listener != nil {
		a.listener.TrackAdded(index, track)
	}
	a.logger.WithFields(logrus.Fields{
		"index":  index,
		"title":  track.Title,
		"source": track.Source,
	}).Info("Added track")
	return index
}

func (a *Acquirer) fail(source string, err error) {
	a.logger.WithError(err).WithField("source", source).Warn("Acquisition failed")
	if a.reporter != nil {
		a.reporter.ReportFailure(source, err)
	}
}
