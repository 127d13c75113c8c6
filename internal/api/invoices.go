package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.io/infrasutra/mockinvoice/internal/invoice"
	"github.io/infrasutra/mockinvoice/internal/pagination"
	"github.io/infrasutra/mockinvoice/internal/sse"
)

const defaultSeedCount = 10

type generateResponse struct {
	Data        []invoice.Email `json:"data"`
	Count       int             `json:"count"`
	GeneratedAt string          `json:"generated_at"`
}

// handleGenerate returns a fresh batch; without count the size is picked at random
// within the configured per-request bounds.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	persist, err := queryBool(q.Get("store"))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	count, err := s.countParam(q.Get("count"))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	records, err := s.svc.Generate(count)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if persist {
		if err := s.svc.Store(r.Context(), records); err != nil {
			s.respondServiceError(w, r, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, generateResponse{
		Data:        records,
		Count:       len(records),
		GeneratedAt: s.timestamp(),
	})
}

func (s *Server) handleStored(w http.ResponseWriter, r *http.Request) {
	params, err := pagination.ParamsFromQuery(r.URL.Query())
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	page, err := s.svc.FetchPage(r.Context(), params.Page, params.PageSize)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ClearAll(r.Context()); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"message":   "All stored invoices cleared successfully",
		"timestamp": s.timestamp(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.Context())
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"total_invoices": stats.TotalInvoices,
		"storage_kind":   stats.StorageKind,
		"timestamp":      s.timestamp(),
	})
}

func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	count, err := queryInt(r.URL.Query().Get("count"), defaultSeedCount)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	records, err := s.svc.Seed(r.Context(), count)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"message":   fmt.Sprintf("Successfully seeded database with %d invoices", len(records)),
		"count":     len(records),
		"timestamp": s.timestamp(),
	})
}

func (s *Server) handleDeliver(w http.ResponseWriter, r *http.Request) {
	count, err := s.countParam(r.URL.Query().Get("count"))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	sent, err := s.svc.Deliver(r.Context(), count)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"message":   fmt.Sprintf("Delivered %d invoices", sent),
		"count":     sent,
		"timestamp": s.timestamp(),
	})
}

// handleStream pushes stored/cleared events as text/event-stream.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsubscribe := s.hub.Subscribe(sse.TopicInvoices)
	defer unsubscribe()

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(payload)
			flusher.Flush()
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		}
	}
}

// countParam parses an optional count; when absent the service picks one.
func (s *Server) countParam(raw string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return s.svc.DefaultCount(), nil
	}
	return queryInt(raw, 0)
}

func queryInt(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", errBadRequest, raw)
	}
	return v, nil
}

func queryBool(raw string) (bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %q is not a boolean", errBadRequest, raw)
	}
	return v, nil
}
