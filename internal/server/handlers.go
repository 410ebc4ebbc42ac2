package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ppiankov/reconcile/internal/llm"
	"github.com/ppiankov/reconcile/internal/model"
	"github.com/ppiankov/reconcile/internal/pipeline"
	"github.com/ppiankov/reconcile/internal/store"
)

// maxTextBytes bounds /parse and /submit bodies
const maxTextBytes = 1 << 20

var rawPage = template.Must(template.New("raw").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Raw response {{.ID}}</title></head>
<body>
<h1>Raw response</h1>
<p>Request {{.ID}}</p>
<pre>{{.Raw}}</pre>
</body>
</html>
`))

type uploadRequest struct {
	ImageBase64 string `json:"image_base64"`
}

type uploadResponse struct {
	Success   bool          `json:"success"`
	RequestID string        `json:"request_id,omitempty"`
	Strategy  string        `json:"strategy,omitempty"`
	Data      model.Receipt `json:"data"`
	Warnings  []string      `json:"warnings,omitempty"`
	Error     string        `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"provider": s.pipeline.Provider().Name(),
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// base64 inflates by 4/3; leave room for the JSON envelope
	limit := int64(maxTextBytes)
	if s.maxImageBytes > 0 {
		limit = int64(s.maxImageBytes)*4/3 + 4096
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondUploadError(w, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		respondUploadError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.ImageBase64) == "" {
		respondUploadError(w, http.StatusBadRequest, "missing field: image_base64")
		return
	}

	img, err := pipeline.FromBase64(req.ImageBase64)
	if err != nil {
		respondUploadError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.pipeline.Process(r.Context(), img)
	switch {
	case err == nil:
	case errors.Is(err, llm.ErrImageTooLarge):
		respondUploadError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	case errors.Is(err, llm.ErrModelUnavailable):
		respondUploadError(w, http.StatusBadGateway, err.Error())
		return
	default:
		s.log.Error("upload failed", map[string]interface{}{"error": err.Error()})
		respondUploadError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	respondJSON(w, http.StatusOK, uploadResponse{
		Success:   true,
		RequestID: result.RequestID,
		Strategy:  string(result.Strategy),
		Data:      result.Receipt,
		Warnings:  result.Warnings,
	})
}

func respondUploadError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, uploadResponse{
		Success: false,
		Data:    model.EmptyReceipt(),
		Error:   message,
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTextBytes))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "request body too large", err)
		return
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var receipt model.Receipt
	if err := dec.Decode(&receipt); err != nil || receipt == nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}

	if missing := receipt.Missing(); len(missing) > 0 {
		respondError(w, http.StatusBadRequest, "missing field: "+missing[0], nil)
		return
	}

	saved, err := s.store.Save(receipt)
	if err != nil {
		s.log.Error("save receipt failed", map[string]interface{}{"error": err.Error()})
		respondError(w, http.StatusInternalServerError, "failed to save receipt", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"receipt_id": saved.ReceiptID,
		"duplicate":  saved.Duplicate,
		"items":      saved.Items,
		"header_csv": store.HeaderFile,
		"line_csv":   store.LineFile,
	})
}

func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTextBytes))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "request body too large", err)
		return
	}

	result := s.pipeline.ParseText(string(body))
	respondJSON(w, http.StatusOK, map[string]any{
		"request_id": result.RequestID,
		"strategy":   result.Strategy,
		"data":       result.Receipt,
		"warnings":   result.Warnings,
	})
}

func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.store.ReadAll()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read receipts", err)
		return
	}
	if receipts == nil {
		receipts = []*store.StoredReceipt{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"receipts": receipts})
}

func (s *Server) handleReceiptFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")

	path, err := s.store.FilePath(name)
	if err != nil {
		respondError(w, http.StatusNotFound, "file not found", nil)
		return
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		respondError(w, http.StatusNotFound, "file not found", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read file", err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleLatestRaw(w http.ResponseWriter, r *http.Request) {
	id, raw, ok := s.pipeline.RawStore().Latest()
	if !ok {
		respondError(w, http.StatusNotFound, "no raw response recorded", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"request_id":   id,
		"raw_response": raw,
	})
}

func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	raw, ok := s.pipeline.RawStore().Load(id)
	if !ok {
		respondError(w, http.StatusNotFound, "raw response not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"request_id":   id,
		"raw_response": raw,
	})
}

func (s *Server) handleViewRaw(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	raw, ok := s.pipeline.RawStore().Load(id)
	if !ok {
		http.Error(w, "raw response not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := rawPage.Execute(w, struct{ ID, Raw string }{id, raw}); err != nil {
		s.log.Error("render raw page failed", map[string]interface{}{"error": err.Error()})
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]any{
		"success": false,
		"error":   message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}
