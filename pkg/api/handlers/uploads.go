package handlers

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"emberline/pkg/logger"
	"emberline/pkg/utils"
)

// maxUploadBytes bounds a single attachment body.
const maxUploadBytes = 10 << 20

// upload stores an attachment body and returns its opaque reference string.
// The reference is what callers embed as message content; the engine never
// interprets it beyond the /uploads/ prefix.
func (a *API) upload(w http.ResponseWriter, r *http.Request) {
	if a.UploadsDir == "" {
		utils.JSONError(w, http.StatusNotImplemented, "uploads disabled")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "file field required")
		return
	}
	defer f.Close()

	if err := os.MkdirAll(a.UploadsDir, 0o750); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "uploads dir unavailable")
		return
	}
	name := uuid.NewString() + "-" + sanitizeFilename(hdr.Filename)
	dst, err := os.OpenFile(filepath.Join(a.UploadsDir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "store failed")
		return
	}
	defer dst.Close()
	if _, err := io.Copy(dst, f); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "store failed")
		return
	}
	ref := "/uploads/" + name
	logger.Info("attachment_stored", "ref", ref, "bytes", hdr.Size)
	_ = utils.JSONWrite(w, http.StatusCreated, map[string]string{"url": ref})
}

// ServeUploads returns the handler for attachment downloads.
func (a *API) ServeUploads() http.Handler {
	return http.StripPrefix("/uploads/", http.FileServer(http.Dir(a.UploadsDir)))
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return fmt.Sprintf("file-%s", uuid.NewString()[:8])
	}
	return b.String()
}
