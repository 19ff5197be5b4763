package api

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/starford/albumshare/internal/apperr"
	"github.com/starford/albumshare/internal/upload"
)

const maxUploadBytes = 200 << 20 // 200 MB per request

// Upload handles POST /api/uploads (multipart/form-data, repeated field "files").
//
//	@Summary		Upload photos through pre-signed slots
//	@Tags			uploads
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			files	formData	file	true	"Images"
//	@Success		201		{object}	upload.Summary
//	@Failure		400		{object}	errResponse
//	@Failure		502		{object}	uploadFailure
//	@Security		BearerAuth
//	@Router			/uploads [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.uploader == nil {
		http.NotFound(w, r)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'files' field in multipart form"))
		return
	}

	files := make([]upload.File, len(headers))
	for i, fh := range headers {
		files[i] = upload.File{Name: fh.Filename, Open: opener(fh)}
	}

	sum, err := h.uploader.Upload(r.Context(), files)
	if errors.Is(err, apperr.ErrTotalUploadFailure) {
		writeJSON(w, http.StatusBadGateway, uploadFailure{Error: err.Error(), Summary: sum})
		return
	}
	if err != nil {
		writeError(w, "upload", err)
		return
	}
	writeJSON(w, http.StatusCreated, sum)
}

type uploadFailure struct {
	Error   string         `json:"error"`
	Summary upload.Summary `json:"summary"`
}

func opener(fh *multipart.FileHeader) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) { return fh.Open() }
}
