package document

import (
	"context"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/esp1745/voicerag/internal/model/document"
	"github.com/esp1745/voicerag/pkg/utils"
)

const maxUploadBytes = 10 << 20 // per file

var allowedExtensions = map[string]bool{
	".txt": true,
	".md":  true,
	".csv": true,
}

// Ingestor abstracts the retrieval service for testing.
type Ingestor interface {
	Ingest(ctx context.Context, doc document.Document) (int, error)
	IngestRecords(ctx context.Context, filename string, records []string) (int, error)
	Documents(ctx context.Context) ([]document.Info, error)
	DeleteDocument(ctx context.Context, filename string) error
}

// Handler serves document ingestion and management routes.
type Handler struct {
	ingestor Ingestor
}

// New creates the document handler.
func New(ingestor Ingestor) *Handler {
	return &Handler{ingestor: ingestor}
}

// RegisterRoutes mounts document routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/documents", h.handleUpload)
	r.Get("/documents", h.handleList)
	r.Delete("/documents/{filename}", h.handleDelete)
}

type uploadResponse struct {
	Message        string   `json:"message"`
	FilesProcessed int      `json:"files_processed"`
	PassagesAdded  int      `json:"passages_added"`
	Errors         []string `json:"errors,omitempty"`
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if h.ingestor == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "document ingestion unavailable")
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form: "+err.Error())
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "no files provided")
		return
	}

	var (
		processed int
		passages  int
		errs      []string
	)

	for _, header := range files {
		count, err := h.ingestFile(r.Context(), header)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", header.Filename, err))
			continue
		}
		processed++
		passages += count
	}

	utils.RespondJSON(w, http.StatusOK, uploadResponse{
		Message:        fmt.Sprintf("Processed %d files, added %d passages", processed, passages),
		FilesProcessed: processed,
		PassagesAdded:  passages,
		Errors:         errs,
	})
}

func (h *Handler) ingestFile(ctx context.Context, header *multipart.FileHeader) (int, error) {
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		return 0, fmt.Errorf("unsupported file type %q", ext)
	}
	if header.Size > maxUploadBytes {
		return 0, fmt.Errorf("file too large (%d bytes)", header.Size)
	}

	f, err := header.Open()
	if err != nil {
		return 0, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		return 0, fmt.Errorf("read upload: %w", err)
	}
	if len(content) > maxUploadBytes {
		return 0, fmt.Errorf("file too large")
	}
	if !utf8.Valid(content) {
		return 0, fmt.Errorf("could not decode file as text")
	}

	if ext == ".csv" {
		records, err := RecordsFromCSV(string(content))
		if err != nil {
			return 0, err
		}
		count, err := h.ingestor.IngestRecords(ctx, header.Filename, records)
		if err != nil {
			return 0, err
		}
		log.Printf("[document] ingested csv %s: %d passages", header.Filename, count)
		return count, nil
	}

	count, err := h.ingestor.Ingest(ctx, document.Document{
		Filename: header.Filename,
		Content:  string(content),
	})
	if err != nil {
		return 0, err
	}
	log.Printf("[document] ingested %s: %d passages", header.Filename, count)
	return count, nil
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if h.ingestor == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "document ingestion unavailable")
		return
	}

	infos, err := h.ingestor.Documents(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"documents": infos})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if h.ingestor == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "document ingestion unavailable")
		return
	}

	filename := chi.URLParam(r, "filename")
	if err := h.ingestor.DeleteDocument(r.Context(), filename); err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"message": "document " + filename + " deleted",
	})
}
