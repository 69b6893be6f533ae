package telegram

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type RoundTripFunc func(req *http.Request) (*http.Response, error)

func (f RoundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func newTestClient(fn RoundTripFunc, opts ...Option) *Client {
	opts = append([]Option{WithHTTPClient(&http.Client{Transport: fn})}, opts...)
	return NewClient(Config{Token: "123:secret", ChatID: "-1001", BaseURL: "http://tg.test"}, opts...)
}

func TestSendAudio(t *testing.T) {
	var fields map[string]string
	var fileBody string

	c := newTestClient(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "/bot123:secret/sendAudio", req.URL.Path)
		mr, err := req.MultipartReader()
		require.NoError(t, err)
		fields = map[string]string{}
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			require.NoError(t, err)
			data, _ := io.ReadAll(part)
			if part.FormName() == "audio" {
				assert.Equal(t, "song.mp3", part.FileName())
				fileBody = string(data)
				continue
			}
			fields[part.FormName()] = string(data)
		}
		return jsonResponse(200, `{"ok":true,"result":{"audio":{"file_id":"AUD1","file_name":"song.mp3"}}}`), nil
	})

	id, err := c.SendAudio(context.Background(), "song.mp3", strings.NewReader("ID3 data"), AudioMeta{Title: "T", Performer: "P"})
	require.NoError(t, err)
	assert.Equal(t, "AUD1", id)
	assert.Equal(t, "ID3 data", fileBody)
	assert.Equal(t, map[string]string{"chat_id": "-1001", "title": "T", "performer": "P"}, fields)
}

func TestSendAudio_DocumentFallback(t *testing.T) {
	c := newTestClient(func(req *http.Request) (*http.Response, error) {
		io.Copy(io.Discard, req.Body)
		return jsonResponse(200, `{"ok":true,"result":{"document":{"file_id":"DOC1"}}}`), nil
	})

	id, err := c.SendAudio(context.Background(), "track.flac", strings.NewReader("fLaC"), AudioMeta{})
	require.NoError(t, err)
	assert.Equal(t, "DOC1", id)
}

func TestSendAudio_Errors(t *testing.T) {
	t.Run("ApiRejects", func(t *testing.T) {
		c := newTestClient(func(req *http.Request) (*http.Response, error) {
			return jsonResponse(413, `{"ok":false,"error_code":413,"description":"Request Entity Too Large"}`), nil
		})
		_, err := c.SendAudio(context.Background(), "big.mp3", strings.NewReader("x"), AudioMeta{})
		assert.ErrorIs(t, err, ErrUpstream)
		assert.ErrorContains(t, err, "Request Entity Too Large")
	})

	t.Run("TransportErrorHidesToken", func(t *testing.T) {
		c := newTestClient(func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("connection reset")
		})
		_, err := c.SendAudio(context.Background(), "a.mp3", strings.NewReader("x"), AudioMeta{})
		assert.ErrorIs(t, err, ErrUpstream)
		assert.NotContains(t, err.Error(), "secret")
	})

	t.Run("EmptyReply", func(t *testing.T) {
		c := newTestClient(func(req *http.Request) (*http.Response, error) {
			return jsonResponse(200, `{"ok":true,"result":{}}`), nil
		})
		_, err := c.SendAudio(context.Background(), "a.mp3", strings.NewReader("x"), AudioMeta{})
		assert.ErrorIs(t, err, ErrUpstream)
	})

	t.Run("NotConfigured", func(t *testing.T) {
		c := NewClient(Config{})
		_, err := c.SendAudio(context.Background(), "a.mp3", strings.NewReader("x"), AudioMeta{})
		assert.ErrorIs(t, err, ErrNotConfigured)
	})
}

func TestSendPhoto_PicksLargest(t *testing.T) {
	c := newTestClient(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "/bot123:secret/sendPhoto", req.URL.Path)
		return jsonResponse(200, `{"ok":true,"result":{"photo":[
			{"file_id":"small","file_size":1000,"width":90,"height":90},
			{"file_id":"large","file_size":90000,"width":800,"height":800},
			{"file_id":"medium","file_size":20000,"width":320,"height":320}
		]}}`), nil
	})

	id, err := c.SendPhoto(context.Background(), "cover.jpg", strings.NewReader("jpeg"))
	require.NoError(t, err)
	assert.Equal(t, "large", id)
}

func TestLargestPhoto_WithoutSizes(t *testing.T) {
	got := largestPhoto([]fileRef{
		{FileID: "a", Width: 320, Height: 320},
		{FileID: "b", Width: 1280, Height: 1280},
	})
	assert.Equal(t, "b", got)
	assert.Empty(t, largestPhoto(nil))
}

func TestFilePath_UsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	var calls atomic.Int32
	c := newTestClient(func(req *http.Request) (*http.Response, error) {
		calls.Add(1)
		assert.Equal(t, "/bot123:secret/getFile", req.URL.Path)
		assert.Equal(t, "AUD1", req.URL.Query().Get("file_id"))
		return jsonResponse(200, `{"ok":true,"result":{"file_id":"AUD1","file_path":"music/file_7.mp3"}}`), nil
	}, WithPathCache(NewRedisPathCache(rdb, time.Minute, nil)))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		p, err := c.FilePath(ctx, "AUD1")
		require.NoError(t, err)
		assert.Equal(t, "music/file_7.mp3", p)
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, time.Minute, mr.TTL(filePathPrefix+"AUD1"))

	c.ForgetPath(ctx, "AUD1")
	_, err := c.FilePath(ctx, "AUD1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFilePath_Errors(t *testing.T) {
	c := newTestClient(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(400, `{"ok":false,"error_code":400,"description":"Bad Request: file is too big"}`), nil
	})
	_, err := c.FilePath(context.Background(), "AUD1")
	assert.ErrorIs(t, err, ErrUpstream)

	c = newTestClient(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(502, `<html>bad gateway</html>`), nil
	})
	_, err = c.FilePath(context.Background(), "AUD1")
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestRedisPathCache_DownRedisIsMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	cache := NewRedisPathCache(rdb, 0, nil)
	mr.Close()

	_, ok := cache.Get(context.Background(), "x")
	assert.False(t, ok)
	cache.Set(context.Background(), "x", "y")
}

func TestFileURL(t *testing.T) {
	c := NewClient(Config{Token: "1:abc", BaseURL: "http://tg.test/"})
	assert.Equal(t, "http://tg.test/file/bot1:abc/music/a.mp3", c.FileURL("/music/a.mp3"))
}
