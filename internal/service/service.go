// Package service exposes the invoice operations used by the HTTP API and the CLI:
// generation, persistence, paginated reads, clearing, stats, seeding and delivery.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.io/infrasutra/mockinvoice/internal/invoice"
	"github.io/infrasutra/mockinvoice/internal/mailer"
	"github.io/infrasutra/mockinvoice/internal/pagination"
	"github.io/infrasutra/mockinvoice/internal/sse"
	"github.io/infrasutra/mockinvoice/internal/store"
)

// Sender delivers invoice emails somewhere outside the process.
type Sender interface {
	Configured() bool
	Send(ctx context.Context, records ...invoice.Email) (int, error)
}

type Stats struct {
	TotalInvoices int    `json:"total_invoices"`
	StorageKind   string `json:"storage_kind"`
}

type Service struct {
	gen    *invoice.Generator
	store  store.Store
	sender Sender
	hub    *sse.Hub
	logger *slog.Logger
	now    func() time.Time
}

// New wires the service. sender and hub may be nil.
func New(gen *invoice.Generator, st store.Store, sender Sender, hub *sse.Hub, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		gen:    gen,
		store:  st,
		sender: sender,
		hub:    hub,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Service) MaxBatchSize() int {
	return s.gen.MaxBatchSize()
}

func (s *Service) StorageKind() string {
	return s.store.Kind()
}

// Generate returns count fresh records without persisting them.
func (s *Service) Generate(count int) ([]invoice.Email, error) {
	return s.gen.Generate(count)
}

// DefaultCount picks a batch size for requests that do not name one.
func (s *Service) DefaultCount() int {
	return s.gen.DefaultCount()
}

// Store appends records to the configured store.
func (s *Service) Store(ctx context.Context, records []invoice.Email) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.store.Insert(ctx, records); err != nil {
		return fmt.Errorf("store invoices: %w", err)
	}
	s.hub.Publish(sse.TopicInvoices, "stored", map[string]any{
		"count":  len(records),
		"source": "api",
		"at":     s.now().UTC().Format(time.RFC3339),
	})
	return nil
}

// FetchPage reads one page of the stored collection.
func (s *Service) FetchPage(ctx context.Context, page, pageSize int) (pagination.Page, error) {
	return pagination.Paginate(ctx, s.store, page, pageSize)
}

// ClearAll removes every stored record. It is idempotent.
func (s *Service) ClearAll(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear invoices: %w", err)
	}
	s.logger.Info("stored invoices cleared", "storage", s.store.Kind())
	s.hub.Publish(sse.TopicInvoices, "cleared", map[string]any{
		"at": s.now().UTC().Format(time.RFC3339),
	})
	return nil
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	total, err := s.store.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count invoices: %w", err)
	}
	return Stats{TotalInvoices: total, StorageKind: s.store.Kind()}, nil
}

// Seed generates count records and stores them.
func (s *Service) Seed(ctx context.Context, count int) ([]invoice.Email, error) {
	records, err := s.gen.Generate(count)
	if err != nil {
		return nil, err
	}
	if err := s.Store(ctx, records); err != nil {
		return nil, err
	}
	s.logger.Info("store seeded", "count", len(records), "storage", s.store.Kind())
	return records, nil
}

// Deliver generates count records and sends them through the configured relay.
// The count is validated before the relay is checked.
func (s *Service) Deliver(ctx context.Context, count int) (int, error) {
	if err := s.gen.CheckCount(count); err != nil {
		return 0, err
	}
	if s.sender == nil || !s.sender.Configured() {
		return 0, mailer.ErrNotConfigured
	}
	records, err := s.gen.Generate(count)
	if err != nil {
		return 0, err
	}
	sent, err := s.sender.Send(ctx, records...)
	if err != nil {
		s.logger.Warn("invoice delivery incomplete", "sent", sent, "requested", count, "error", err)
		return sent, fmt.Errorf("deliver invoices: %w", err)
	}
	s.logger.Info("invoices delivered", "count", sent)
	return sent, nil
}
