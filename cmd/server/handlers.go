package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ukdeposit/tribunalengine"
	"github.com/ukdeposit/tribunalengine/casefile"
	"github.com/ukdeposit/tribunalengine/retrieval"
)

type handler struct {
	engine tribunalengine.Engine
}

func newHandler(e tribunalengine.Engine) *handler {
	return &handler{engine: e}
}

// POST /ingest
// Accepts a JSON body naming a directory of tribunal decisions already
// readable on the server's filesystem. Upload plumbing is out of scope
// — this endpoint exists to trigger ingestion, not to receive files.
func (h *handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	var req struct {
		PDFDir    string `json:"pdf_dir"`
		BatchSize int    `json:"batch_size,omitempty"`
		Force     bool   `json:"force,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.PDFDir == "" {
		writeError(w, http.StatusBadRequest, "pdf_dir is required")
		return
	}

	var opts []tribunalengine.IngestOption
	if req.Force {
		opts = append(opts, tribunalengine.WithForceReparse())
	}
	if req.BatchSize > 0 {
		opts = append(opts, tribunalengine.WithBatchSize(req.BatchSize))
	}

	result, err := h.engine.Ingest(ctx, req.PDFDir, opts...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ingestion failed")
		slog.Error("ingest error", "pdf_dir", req.PDFDir, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// POST /retrieve
func (h *handler) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req struct {
		QueryText string `json:"query_text"`
		TopK      int    `json:"top_k,omitempty"`
		Region    string `json:"region,omitempty"`
		YearMin   int    `json:"year_min,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.QueryText == "" {
		writeError(w, http.StatusBadRequest, "query_text is required")
		return
	}
	if req.TopK < 0 || req.TopK > 100 {
		req.TopK = 0
	}

	results, trace, err := h.engine.Retrieve(ctx, req.QueryText, req.TopK, retrieval.Filters{
		Region:  req.Region,
		YearMin: req.YearMin,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "retrieval failed")
		slog.Error("retrieve error", "query_text", req.QueryText, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"trace":   trace,
	})
}

// POST /predictions
func (h *handler) handleGeneratePrediction(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Minute)
	defer cancel()

	var cf casefile.CaseFile
	if err := json.NewDecoder(r.Body).Decode(&cf); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON case file")
		return
	}

	pred, err := h.engine.GeneratePrediction(ctx, cf)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "prediction failed")
		slog.Error("generate_prediction error", "case_id", cf.CaseID, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, pred)
}

// GET /stats
func (h *handler) handleCorpusStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.CorpusStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute corpus stats")
		slog.Error("corpus_stats error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// POST /rebuild-bm25
func (h *handler) handleRebuildSparse(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	result, err := h.engine.RebuildSparseFromSemantic(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "rebuild failed")
		slog.Error("rebuild_sparse error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf("%s", msg)})
}
