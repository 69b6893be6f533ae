// Package ingest turns an uploaded audio file into a library song: the blob
// goes to the audio host, the metadata to the library.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/dhowden/tag"
	"github.com/dustin/go-humanize"

	"github.com/wliuy/TGmusic/internal/library"
	"github.com/wliuy/TGmusic/internal/lyrics"
	"github.com/wliuy/TGmusic/internal/shared"
	"github.com/wliuy/TGmusic/internal/telegram"
)

// DefaultMaxSize is the Bot API upload limit.
const DefaultMaxSize int64 = 50 << 20

const (
	unknownArtist = "Unknown"
	unknownName   = "Unknown"
)

type AudioHost interface {
	SendAudio(ctx context.Context, name string, r io.Reader, meta telegram.AudioMeta) (string, error)
	SendPhoto(ctx context.Context, name string, r io.Reader) (string, error)
}

type Library interface {
	CheckTarget(ctx context.Context, target string) error
	Ingest(ctx context.Context, song library.Song, target string) (library.Song, error)
	LogUpload(ctx context.Context, filename, status, reason string) error
}

// Meta is the optional JSON "meta" form part. Empty fields are filled from
// the file itself.
type Meta struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
	Lrc    string `json:"lrc"`
	Lyrics string `json:"lyrics"`
	Cover  string `json:"cover"`
}

type Upload struct {
	Filename  string
	Audio     io.ReadSeeker
	Size      int64
	Cover     io.Reader
	CoverName string
	Meta      Meta
	Target    string
}

type Service struct {
	host    AudioHost
	lib     Library
	maxSize int64
	log     *log.Logger
}

func NewService(host AudioHost, lib Library, maxSize int64, logger *log.Logger) *Service {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Service{
		host:    host,
		lib:     lib,
		maxSize: maxSize,
		log:     shared.Component(logger, "ingest"),
	}
}

// CoverURL is how songs reference a cover image stored on the audio host.
func CoverURL(fileID string) string {
	return "/api/stream?file_id=" + url.QueryEscape(fileID)
}

// Upload runs the whole pipeline and journals the outcome. Validation errors
// wrap library.ErrInvalidInput, or library.ErrNotFound for an unknown target,
// and happen before any call to the host.
func (s *Service) Upload(ctx context.Context, up Upload) (library.Song, error) {
	name := strings.TrimSpace(up.Filename)
	if name == "" {
		name = unknownName
	}

	song, err := s.upload(ctx, name, up)
	if err != nil {
		s.journal(ctx, name, library.UploadFail, err.Error())
		return library.Song{}, err
	}
	s.journal(ctx, name, library.UploadSuccess, "OK")
	return song, nil
}

func (s *Service) journal(ctx context.Context, name, status, reason string) {
	// the upload outcome stands even if the journal write fails
	if err := s.lib.LogUpload(context.WithoutCancel(ctx), name, status, reason); err != nil {
		s.log.Warn("journal upload", "file", name, "status", status, "err", err)
	}
}

func (s *Service) validate(ctx context.Context, up Upload) error {
	if up.Audio == nil || up.Size == 0 {
		return fmt.Errorf("no audio file: %w", library.ErrInvalidInput)
	}
	if up.Size > s.maxSize {
		return fmt.Errorf("file is %s, the limit is %s: %w",
			humanize.IBytes(uint64(up.Size)), humanize.IBytes(uint64(s.maxSize)), library.ErrInvalidInput)
	}
	return s.lib.CheckTarget(ctx, strings.TrimSpace(up.Target))
}

func (s *Service) upload(ctx context.Context, name string, up Upload) (library.Song, error) {
	if err := s.validate(ctx, up); err != nil {
		return library.Song{}, err
	}

	song, picture := s.resolveMeta(name, up)

	song.Cover = strings.TrimSpace(up.Meta.Cover)
	switch {
	case up.Cover != nil:
		song.Cover = s.sendCover(ctx, up.CoverName, up.Cover)
	case song.Cover == "" && picture != nil:
		song.Cover = s.sendCover(ctx, "cover."+picture.Ext, bytes.NewReader(picture.Data))
	}

	if _, err := up.Audio.Seek(0, io.SeekStart); err != nil {
		return library.Song{}, fmt.Errorf("rewind audio: %w", err)
	}
	fileID, err := s.host.SendAudio(ctx, name, up.Audio, telegram.AudioMeta{Title: song.Title, Performer: song.Artist})
	if err != nil {
		return library.Song{}, err
	}
	song.FileID = fileID

	saved, err := s.lib.Ingest(ctx, song, strings.TrimSpace(up.Target))
	if err != nil {
		return library.Song{}, err
	}
	s.log.Info("ingested", "file", name, "file_id", fileID, "title", saved.Title)
	return saved, nil
}

// sendCover uploads a cover image. Failures degrade to no cover.
func (s *Service) sendCover(ctx context.Context, name string, r io.Reader) string {
	if name == "" {
		name = "cover.jpg"
	}
	id, err := s.host.SendPhoto(ctx, name, r)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return ""
		}
		s.log.Warn("cover upload failed", "file", name, "err", err)
		return ""
	}
	return CoverURL(id)
}

// resolveMeta merges, by precedence, the form metadata, the embedded tags,
// the LRC header and the file name.
func (s *Service) resolveMeta(name string, up Upload) (library.Song, *tag.Picture) {
	song := library.Song{
		Title:  strings.TrimSpace(up.Meta.Title),
		Artist: strings.TrimSpace(up.Meta.Artist),
	}

	var picture *tag.Picture
	var embedded string
	if m, err := tag.ReadFrom(up.Audio); err == nil {
		if song.Title == "" {
			song.Title = strings.TrimSpace(m.Title())
		}
		if song.Artist == "" {
			song.Artist = strings.TrimSpace(m.Artist())
		}
		embedded = m.Lyrics()
		picture = m.Picture()
	} else if !errors.Is(err, tag.ErrNoTagsFound) {
		s.log.Debug("read tags", "file", name, "err", err)
	}

	song.Lyrics = up.Meta.Lrc
	if song.Lyrics == "" {
		song.Lyrics = pickLyrics(up.Meta.Lyrics, embedded)
	}

	// only a real LRC header can name the song
	if lyrics.Looks(song.Lyrics) && (song.Title == "" || song.Artist == "") {
		doc := lyrics.Parse(song.Lyrics)
		if song.Title == "" {
			song.Title = doc.Title()
		}
		if song.Artist == "" {
			song.Artist = doc.Artist()
		}
	}

	if song.Title == "" {
		song.Title = titleFromFilename(name)
	}
	if song.Artist == "" {
		song.Artist = unknownArtist
	}
	return song, picture
}

// pickLyrics returns the first candidate that parses as LRC, else the first
// non-empty one.
func pickLyrics(candidates ...string) string {
	for _, c := range candidates {
		if lyrics.Looks(c) {
			return c
		}
	}
	for _, c := range candidates {
		if strings.TrimSpace(c) != "" {
			return c
		}
	}
	return ""
}

// titleFromFilename returns the base name without its extension.
func titleFromFilename(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	title := strings.TrimSpace(strings.TrimSuffix(base, path.Ext(base)))
	if title == "" || title == "." {
		return unknownName
	}
	return title
}
