package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/okulov/ragserver/internal/ingest"
)

// maxUploadBytes caps one multipart ingest request.
const maxUploadBytes = 32 << 20

// IngestHandler serves document upload and indexing.
type IngestHandler struct {
	indexer Indexer
}

// NewIngestHandler creates an ingest handler over the document index.
func NewIngestHandler(indexer Indexer) *IngestHandler {
	return &IngestHandler{indexer: indexer}
}

// RegisterRoutes mounts the ingest endpoint on the router.
func (h *IngestHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/v1/ingest", h.handleIngest)
}

// ingestResponse reports what one upload produced. A generated client id is
// returned when the request carried none.
type ingestResponse struct {
	Message            string `json:"message"`
	DocumentsProcessed int    `json:"documents_processed"`
	ChunksCreated      int    `json:"chunks_created"`
	ClientID           string `json:"client_id"`
}

func (h *IngestHandler) handleIngest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		Error(w, http.StatusBadRequest, "invalid multipart request")
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		Error(w, http.StatusBadRequest, "no files provided")
		return
	}

	clientID := r.FormValue("client_id")
	if clientID == "" {
		clientID = "client_" + uuid.NewString()[:8]
	}
	chunkSize := formInt(r, "chunk_size", ingest.DefaultChunkSize)
	chunkOverlap := formInt(r, "chunk_overlap", ingest.DefaultChunkOverlap)

	slog.Info("Ingest request", "files", len(files), "client_id", clientID)

	processed := 0
	chunks := 0
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			Error(w, http.StatusInternalServerError, "failed to read upload")
			return
		}
		content, err := io.ReadAll(f)
		closeErr := f.Close()
		if err != nil || closeErr != nil {
			Error(w, http.StatusInternalServerError, "failed to read upload")
			return
		}

		docs, err := ingest.Documents(fh.Filename, content, chunkSize, chunkOverlap)
		if err != nil {
			if errors.Is(err, ingest.ErrUnsupportedType) {
				Error(w, http.StatusBadRequest,
					"file type not supported for "+fh.Filename+
						" (allowed: "+strings.Join(ingest.SupportedExtensions(), ", ")+")")
				return
			}
			slog.Error("Failed to process upload", "file", fh.Filename, "error", err)
			Error(w, http.StatusInternalServerError, "failed to process "+fh.Filename)
			return
		}

		chunks += h.indexer.Add(clientID, docs)
		processed++
	}

	slog.Info("Ingest completed", "client_id", clientID,
		"documents", processed, "chunks", chunks, "elapsed", time.Since(start))

	JSON(w, http.StatusOK, ingestResponse{
		Message:            "documents ingested successfully",
		DocumentsProcessed: processed,
		ChunksCreated:      chunks,
		ClientID:           clientID,
	})
}

func formInt(r *http.Request, key string, fallback int) int {
	value := r.FormValue(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
