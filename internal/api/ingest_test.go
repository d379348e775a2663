package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/okulov/ragserver/internal/domain"
)

type fakeIndexer struct {
	added map[string]int
}

func (f *fakeIndexer) Add(clientID string, docs []domain.Document) int {
	if f.added == nil {
		f.added = make(map[string]int)
	}
	f.added[clientID] += len(docs)
	return len(docs)
}

func newIngestRouter(idx *fakeIndexer) http.Handler {
	r := chi.NewRouter()
	NewIngestHandler(idx).RegisterRoutes(r)
	return r
}

func multipartUpload(t *testing.T, fields map[string]string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	for filename, content := range files {
		fw, err := mw.CreateFormFile("files", filename)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestIngest_Success(t *testing.T) {
	idx := &fakeIndexer{}
	body, contentType := multipartUpload(t,
		map[string]string{"client_id": "c1"},
		map[string]string{"notes.txt": strings.Repeat("useful words ", 200)},
	)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	newIngestRouter(idx).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp ingestResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.ClientID != "c1" {
		t.Errorf("Expected client_id c1, got %s", resp.ClientID)
	}
	if resp.DocumentsProcessed != 1 || resp.ChunksCreated == 0 {
		t.Errorf("Unexpected counts: %+v", resp)
	}
	if idx.added["c1"] != resp.ChunksCreated {
		t.Errorf("Index received %d chunks, response claims %d", idx.added["c1"], resp.ChunksCreated)
	}
}

func TestIngest_GeneratesClientID(t *testing.T) {
	body, contentType := multipartUpload(t, nil,
		map[string]string{"notes.txt": "some text"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	newIngestRouter(&fakeIndexer{}).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp ingestResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !strings.HasPrefix(resp.ClientID, "client_") {
		t.Errorf("Expected generated client id, got %q", resp.ClientID)
	}
}

func TestIngest_RejectsUnsupportedType(t *testing.T) {
	body, contentType := multipartUpload(t, nil,
		map[string]string{"data.csv": "a,b,c"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	newIngestRouter(&fakeIndexer{}).ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for csv upload, got %d", w.Code)
	}
}

func TestIngest_NoFiles(t *testing.T) {
	body, contentType := multipartUpload(t, map[string]string{"client_id": "c1"}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	newIngestRouter(&fakeIndexer{}).ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty upload, got %d", w.Code)
	}
}
