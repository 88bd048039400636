package main

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/mahaj/devchat/pkg/model"
	"github.com/mahaj/devchat/pkg/objstore"
)

type UploadResponse struct {
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"download_url"`
}

// imageTypes are the content types accepted for uploads, sniffed from the
// bytes rather than taken from the request.
var imageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

func chatImageName(name string) bool {
	return strings.HasSuffix(name, ".jpg") && len(name) > len(".jpg")
}

// canUpload reports whether uid may write the object at p.
func canUpload(uid, p string) bool {
	segs := model.SplitPath(p)
	switch {
	case len(segs) == 3 && strings.Join(segs[:2], "/") == model.AvatarPrefix:
		return segs[2] == uid
	case len(segs) == 3 && strings.Join(segs[:2], "/") == model.PublicChatPrefix:
		return chatImageName(segs[2])
	case len(segs) == 4 && strings.Join(segs[:2], "/") == model.PrivateChatPrefix:
		return chatImageName(segs[3]) && model.IsParticipant(segs[2], uid)
	}
	return false
}

func (s *Server) UploadHandler(w http.ResponseWriter, r *http.Request) {
	c, ok := claims(w, r)
	if !ok {
		return
	}
	p := strings.Trim(chi.URLParam(r, "*"), "/")
	if !canUpload(c.UserID, p) {
		writeError(w, http.StatusForbidden, "Not allowed to write "+p)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.MaxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to read upload")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "Empty upload")
		return
	}
	contentType := http.DetectContentType(data)
	if !imageTypes[contentType] {
		writeError(w, http.StatusUnsupportedMediaType, "Only JPEG and PNG images can be uploaded")
		return
	}

	obj, err := s.Objects.Put(p, contentType, data)
	if errors.Is(err, objstore.ErrInvalidPath) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		log.Error().Err(err).Str("path", p).Msg("failed to store object")
		writeError(w, http.StatusInternalServerError, "Failed to store file")
		return
	}
	log.Info().Str("uid", c.UserID).Str("path", obj.Path).Int64("size", obj.Size).Msg("object stored")
	writeJSON(w, http.StatusOK, UploadResponse{
		Path:        obj.Path,
		Size:        obj.Size,
		DownloadURL: s.PublicURL + "/files/" + obj.Path,
	})
}

// FileHandler serves stored objects. Download URLs are unguessable for
// chat images and public for avatars.
func (s *Server) FileHandler(w http.ResponseWriter, r *http.Request) {
	p := chi.URLParam(r, "*")
	obj, data, err := s.Objects.Get(p)
	if errors.Is(err, objstore.ErrNotFound) || errors.Is(err, objstore.ErrInvalidPath) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("path", p).Msg("failed to read object")
		http.Error(w, "Failed to read file", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, obj.Path, obj.Updated, bytes.NewReader(data))
}
