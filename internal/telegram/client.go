// Package telegram talks to the Bot API, which stores the audio blobs and
// cover images of the library.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/wliuy/TGmusic/internal/shared"
)

// ErrUpstream wraps every failure reported by or while reaching the Bot API.
var ErrUpstream = errors.New("audio host error")

// ErrNotConfigured is returned when no bot token or chat id is set.
var ErrNotConfigured = errors.New("audio host not configured")

const DefaultBaseURL = "https://api.telegram.org"

type Config struct {
	Token             string
	ChatID            string
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
}

// PathCache remembers getFile results. Bot API file paths stay valid for
// about an hour.
type PathCache interface {
	Get(ctx context.Context, fileID string) (string, bool)
	Set(ctx context.Context, fileID, path string)
	Forget(ctx context.Context, fileID string)
}

type Client struct {
	token   string
	chatID  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	cache   PathCache
	log     *log.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithPathCache(pc PathCache) Option {
	return func(c *Client) { c.cache = pc }
}

func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.log = shared.Component(l, "telegram") }
}

func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	c := &Client{
		token:   cfg.Token,
		chatID:  cfg.ChatID,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(limit, 1),
		log:     shared.DiscardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Configured() bool {
	return c.token != "" && c.chatID != ""
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

type fileRef struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

type message struct {
	Audio    *fileRef  `json:"audio"`
	Document *fileRef  `json:"document"`
	Photo    []fileRef `json:"photo"`
}

type file struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
}

func (c *Client) methodURL(method string) string {
	return c.baseURL + "/bot" + c.token + "/" + method
}

// FileURL is the download location of a file path returned by getFile.
func (c *Client) FileURL(filePath string) string {
	return c.baseURL + "/file/bot" + c.token + "/" + strings.TrimPrefix(filePath, "/")
}

// upstreamError hides the request URL, which carries the bot token.
func upstreamError(method string, err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		err = uerr.Err
	}
	return fmt.Errorf("telegram %s: %w: %w", method, ErrUpstream, err)
}

func (c *Client) do(req *http.Request, method string, out any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return upstreamError(method, err)
	}
	defer resp.Body.Close()

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return upstreamError(method, fmt.Errorf("status %d: decode: %w", resp.StatusCode, err))
	}
	if !body.OK {
		desc := body.Description
		if desc == "" {
			desc = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("telegram %s: %w: %d %s", method, ErrUpstream, body.ErrorCode, desc)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body.Result, out); err != nil {
		return upstreamError(method, fmt.Errorf("decode result: %w", err))
	}
	return nil
}

// upload streams a multipart body to method without buffering the file.
func (c *Client) upload(ctx context.Context, method, field, name string, r io.Reader, fields map[string]string) (*message, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := func() error {
			if err := mw.WriteField("chat_id", c.chatID); err != nil {
				return err
			}
			for k, v := range fields {
				if v == "" {
					continue
				}
				if err := mw.WriteField(k, v); err != nil {
					return err
				}
			}
			part, err := mw.CreateFormFile(field, name)
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, r); err != nil {
				return err
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	// unblocks the writer if the body was not fully consumed
	defer pr.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var msg message
	if err := c.do(req, method, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

type AudioMeta struct {
	Title     string
	Performer string
}

// SendAudio uploads an audio file to the storage chat and returns its
// file_id. Files the API classifies as documents are accepted too.
func (c *Client) SendAudio(ctx context.Context, name string, r io.Reader, meta AudioMeta) (string, error) {
	msg, err := c.upload(ctx, "sendAudio", "audio", name, r, map[string]string{
		"title":     meta.Title,
		"performer": meta.Performer,
	})
	if err != nil {
		return "", err
	}
	switch {
	case msg.Audio != nil && msg.Audio.FileID != "":
		return msg.Audio.FileID, nil
	case msg.Document != nil && msg.Document.FileID != "":
		return msg.Document.FileID, nil
	}
	return "", fmt.Errorf("telegram sendAudio: %w: reply has no file", ErrUpstream)
}

// SendPhoto uploads a cover image and returns the file_id of the largest
// size the API produced.
func (c *Client) SendPhoto(ctx context.Context, name string, r io.Reader) (string, error) {
	msg, err := c.upload(ctx, "sendPhoto", "photo", name, r, nil)
	if err != nil {
		return "", err
	}
	best := largestPhoto(msg.Photo)
	if best == "" {
		return "", fmt.Errorf("telegram sendPhoto: %w: reply has no photo", ErrUpstream)
	}
	return best, nil
}

func largestPhoto(sizes []fileRef) string {
	var (
		best  string
		score int64 = -1
	)
	for _, p := range sizes {
		s := p.FileSize
		if s == 0 {
			s = int64(p.Width) * int64(p.Height)
		}
		if s >= score && p.FileID != "" {
			best, score = p.FileID, s
		}
	}
	return best
}

// FilePath resolves a file_id to a downloadable path, consulting the cache
// first.
func (c *Client) FilePath(ctx context.Context, fileID string) (string, error) {
	if c.token == "" {
		return "", ErrNotConfigured
	}
	if c.cache != nil {
		if p, ok := c.cache.Get(ctx, fileID); ok {
			return p, nil
		}
	}

	q := url.Values{}
	q.Set("file_id", fileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.methodURL("getFile")+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}

	var f file
	if err := c.do(req, "getFile", &f); err != nil {
		return "", err
	}
	if f.FilePath == "" {
		return "", fmt.Errorf("telegram getFile: %w: empty file_path", ErrUpstream)
	}
	if c.cache != nil {
		c.cache.Set(ctx, fileID, f.FilePath)
	}
	return f.FilePath, nil
}

// ForgetPath drops a cached path, used when a download with it failed.
func (c *Client) ForgetPath(ctx context.Context, fileID string) {
	if c.cache != nil {
		c.cache.Forget(ctx, fileID)
	}
}
