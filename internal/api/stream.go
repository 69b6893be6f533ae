package api

import (
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"path"
	"strings"
)

const (
	streamCacheControl = "public, max-age=31536000"
	upstreamDownMsg    = "upstream service unavailable"
)

// forwarded request headers; everything else stays behind
var streamRequestHeaders = []string{"Range", "If-Range"}

// audioContentType guesses a type for downloads the host labels generically.
func audioContentType(filePath string) string {
	if strings.EqualFold(path.Ext(filePath), ".flac") {
		return "audio/flac"
	}
	return "audio/mpeg"
}

func streamResult(status int) string {
	switch {
	case status < 300:
		return "ok"
	case status == http.StatusNotFound:
		return "not_found"
	default:
		return "upstream_status"
	}
}

// handleStream proxies the audio (or cover) blob of file_id, forwarding
// Range so players can seek.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	fileID := strings.TrimSpace(r.URL.Query().Get("file_id"))
	if fileID == "" {
		writeError(w, http.StatusBadRequest, "file_id is required")
		return
	}

	filePath, err := s.files.FilePath(r.Context(), fileID)
	if err != nil {
		s.metrics.ObserveStream("resolve_error")
		s.log.Warn("resolve file", "file_id", fileID, "err", err)
		writeError(w, http.StatusBadGateway, upstreamDownMsg)
		return
	}
	target, err := url.Parse(s.files.FileURL(filePath))
	if err != nil {
		s.metrics.ObserveStream("resolve_error")
		writeError(w, http.StatusBadGateway, upstreamDownMsg)
		return
	}

	// the proxied response sets its own CORS header
	w.Header().Del("Access-Control-Allow-Origin")

	proxy := &httputil.ReverseProxy{
		Transport: s.transport,
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL = target
			pr.Out.Host = ""
			pr.Out.Header = make(http.Header)
			for _, h := range streamRequestHeaders {
				if v := pr.In.Header.Get(h); v != "" {
					pr.Out.Header.Set(h, v)
				}
			}
		},
		ModifyResponse: func(resp *http.Response) error {
			h := resp.Header
			h.Set("Access-Control-Allow-Origin", "*")
			if resp.StatusCode < 300 {
				h.Set("Cache-Control", streamCacheControl)
				ct := h.Get("Content-Type")
				if ct == "" || strings.HasPrefix(ct, "application/octet-stream") {
					h.Set("Content-Type", audioContentType(filePath))
				}
			}
			if resp.StatusCode == http.StatusNotFound {
				// the path expired; resolve again next time
				s.files.ForgetPath(resp.Request.Context(), fileID)
			}
			s.metrics.ObserveStream(streamResult(resp.StatusCode))
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.metrics.ObserveStream("upstream_error")
			// the download URL embeds the bot token
			var ue *url.Error
			if errors.As(err, &ue) {
				err = ue.Err
			}
			s.log.Warn("stream proxy", "file_id", fileID, "err", err)
			w.Header().Set("Access-Control-Allow-Origin", "*")
			writeError(w, http.StatusBadGateway, upstreamDownMsg)
		},
	}
	proxy.ServeHTTP(w, r)
}
