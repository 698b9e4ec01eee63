package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/enaupload/internal/api/response"
	"github.com/kiranshivaraju/enaupload/internal/store"
	"github.com/kiranshivaraju/enaupload/pkg/models"
)

// FileService lists the run files recorded for submitted jobs.
type FileService interface {
	GetFile(ctx context.Context, id uuid.UUID) (*models.File, error)
	ListFiles(ctx context.Context, filter store.FileFilter) ([]*models.File, int, error)
}

// NewListFilesHandler returns an http.HandlerFunc for GET /api/v1/files[?job=<id>].
func NewListFilesHandler(svc FileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := queryID(w, r, "job")
		if !ok {
			return
		}
		page, limit := pagination(r)
		files, total, err := svc.ListFiles(r.Context(), store.FileFilter{JobID: jobID, Page: page, Limit: limit})
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Collection(w, files, response.NewMeta(page, limit, total))
	}
}

// NewGetFileHandler returns an http.HandlerFunc for GET /api/v1/files/{fileID}.
func NewGetFileHandler(svc FileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "fileID")
		if !ok {
			return
		}
		file, err := svc.GetFile(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, file)
	}
}
