package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/wliuy/TGmusic/internal/ingest"
	"github.com/wliuy/TGmusic/internal/library"
)

// parts beyond this spill to temp files
const multipartMemory = 32 << 20

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if !errors.As(err, &tooLarge) {
			err = fmt.Errorf("%w: bad multipart form: %v", library.ErrInvalidInput, err)
		}
		s.metrics.ObserveUpload(library.UploadFail, started)
		s.writeLibraryError(w, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	up := ingest.Upload{Target: r.FormValue("target_playlist")}

	// unreadable meta falls back to the tags and the file name
	if raw := r.FormValue("meta"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &up.Meta); err != nil {
			s.log.Warn("ignoring upload meta", "err", err)
			up.Meta = ingest.Meta{}
		}
	}

	// a missing audio part is reported and journaled by the ingest service
	if file, hdr, err := r.FormFile("file"); err == nil {
		defer file.Close()
		up.Audio, up.Size, up.Filename = file, hdr.Size, hdr.Filename
	} else if !errors.Is(err, http.ErrMissingFile) {
		s.metrics.ObserveUpload(library.UploadFail, started)
		s.writeLibraryError(w, r, fmt.Errorf("%w: %v", library.ErrInvalidInput, err))
		return
	}

	if cover, hdr, err := r.FormFile("cover"); err == nil {
		defer cover.Close()
		up.Cover, up.CoverName = cover, coverName(hdr)
	}

	song, err := s.uploader.Upload(r.Context(), up)
	if err != nil {
		s.metrics.ObserveUpload(library.UploadFail, started)
		s.writeLibraryError(w, r, err)
		return
	}
	s.metrics.ObserveUpload(library.UploadSuccess, started)
	writeOK(w, map[string]any{
		"file_id": song.FileID,
		"song":    song,
	})
}

func coverName(hdr *multipart.FileHeader) string {
	if hdr == nil || hdr.Filename == "" {
		return "cover.jpg"
	}
	return hdr.Filename
}
