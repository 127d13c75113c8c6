package invoice

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// ErrInvalidCount is returned when a batch size falls outside the configured bounds.
var ErrInvalidCount = errors.New("invalid invoice count")

const (
	DefaultMaxBatchSize = 100
	historyLimit        = 1000
	firstInvoiceNumber  = 1001
)

var (
	currencies     = []string{"USD", "EUR", "GBP", "CAD", "AUD"}
	statuses       = []string{"paid", "pending", "due", "overdue"}
	vendorSuffixes = []string{"Inc.", "Corp", "LLC", "Services", "Technologies", "Global", "Co.", "Solutions", "Innovations"}
)

// Options configures a Generator.
type Options struct {
	InconsistencyRate float64
	DuplicateRate     float64
	MinPerRequest     int
	MaxPerRequest     int
	MaxBatchSize      int
	// Seed makes generation reproducible; zero picks a random seed.
	Seed uint64
	// Weights defaults to DefaultWeights when left zero.
	Weights Weights
	Now     func() time.Time
}

// Generator builds invoice emails. It is safe for concurrent use.
type Generator struct {
	opts  Options
	rates Rates
	now   func() time.Time

	mu          sync.Mutex
	rng         *rand.Rand
	faker       *gofakeit.Faker
	nextMessage int
	nextInvoice int
	history     []Email
}

// NewGenerator validates opts and returns a ready Generator.
func NewGenerator(opts Options) (*Generator, error) {
	if !(opts.InconsistencyRate >= 0 && opts.InconsistencyRate <= 1) {
		return nil, fmt.Errorf("inconsistency rate %v outside [0,1]", opts.InconsistencyRate)
	}
	if !(opts.DuplicateRate >= 0 && opts.DuplicateRate <= 1) {
		return nil, fmt.Errorf("duplicate rate %v outside [0,1]", opts.DuplicateRate)
	}
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = DefaultMaxBatchSize
	}
	if opts.MinPerRequest <= 0 {
		opts.MinPerRequest = 1
	}
	if opts.MaxPerRequest < opts.MinPerRequest {
		opts.MaxPerRequest = opts.MinPerRequest
	}
	if opts.MaxPerRequest > opts.MaxBatchSize {
		return nil, fmt.Errorf("max per request %d exceeds max batch size %d", opts.MaxPerRequest, opts.MaxBatchSize)
	}
	if opts.Weights == (Weights{}) {
		opts.Weights = DefaultWeights()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	seed := opts.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Generator{
		opts:        opts,
		rates:       Rates{Inconsistency: opts.InconsistencyRate, Weights: opts.Weights},
		now:         now,
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		faker:       gofakeit.New(seed),
		nextMessage: 1,
		nextInvoice: firstInvoiceNumber,
	}, nil
}

// MaxBatchSize is the largest count Generate accepts.
func (g *Generator) MaxBatchSize() int {
	return g.opts.MaxBatchSize
}

// CheckCount reports whether Generate would accept count.
func (g *Generator) CheckCount(count int) error {
	if count < 1 || count > g.opts.MaxBatchSize {
		return fmt.Errorf("%w: %d not in [1,%d]", ErrInvalidCount, count, g.opts.MaxBatchSize)
	}
	return nil
}

// DefaultCount picks a batch size in [MinPerRequest, MaxPerRequest] for requests
// that do not name one.
func (g *Generator) DefaultCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.opts.MinPerRequest + g.rng.IntN(g.opts.MaxPerRequest-g.opts.MinPerRequest+1)
}

// Generate returns exactly count invoice emails. Each slot is a duplicate of an
// earlier record with probability DuplicateRate, otherwise a fresh record run
// through Inject.
func (g *Generator) Generate(count int) ([]Email, error) {
	if err := g.CheckCount(count); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	batch := make([]Email, 0, count)
	for range count {
		if len(g.history) > 0 && g.rng.Float64() < g.opts.DuplicateRate {
			batch = append(batch, g.duplicateLocked())
			continue
		}
		batch = append(batch, g.freshLocked("", ""))
	}
	return batch, nil
}

func (g *Generator) duplicateLocked() Email {
	prior := g.history[g.rng.IntN(len(g.history))]
	switch g.rng.IntN(3) {
	case 1:
		return g.freshLocked(prior.MessageID, "")
	case 2:
		if id, ok := prior.InvoiceID(); ok {
			return g.freshLocked("", id)
		}
	}
	return prior.Clone()
}

// freshLocked builds and injects a new record. Non-empty ids are reused instead of
// allocated; a reused invoice id survives injection.
func (g *Generator) freshLocked(messageID, invoiceID string) Email {
	if messageID == "" {
		messageID = fmt.Sprintf("msg_%03d", g.nextMessage)
		g.nextMessage++
	}
	reuseInvoice := invoiceID != ""
	if !reuseInvoice {
		invoiceID = fmt.Sprintf("INV-%d", g.nextInvoice)
		g.nextInvoice++
	}

	clean := g.cleanLocked(messageID, invoiceID)
	out, _ := Inject(clean, g.rates, g.rng)
	if reuseInvoice {
		out.InvoiceData[FieldInvoiceID] = invoiceID
	}

	g.history = append(g.history, out)
	if len(g.history) > historyLimit {
		g.history = g.history[len(g.history)-historyLimit:]
	}
	return out.Clone()
}

func (g *Generator) cleanLocked(messageID, invoiceID string) Email {
	now := g.now().UTC()
	amount := round2(100 + g.rng.Float64()*9900)
	date := now.AddDate(0, 0, -g.rng.IntN(31)).Format(dateLayout)
	vendor := fmt.Sprintf("%s %s", g.faker.Company(), vendorSuffixes[g.rng.IntN(len(vendorSuffixes))])
	received := now.Add(-time.Duration(1+g.rng.IntN(30)) * 24 * time.Hour).
		Add(-time.Duration(g.rng.IntN(86400)) * time.Second).
		Format(timestampLayout)

	subjects := []string{
		fmt.Sprintf("Invoice %s", invoiceID),
		fmt.Sprintf("Invoice #%s", invoiceID),
		fmt.Sprintf("URGENT: Invoice %s", invoiceID),
		fmt.Sprintf("%s Payment Request", invoiceID),
		fmt.Sprintf("%s for Project %s", invoiceID, projectSeries[g.rng.IntN(len(projectSeries))]),
		"Invoice Notification",
	}
	money := fmt.Sprintf("$%.2f", amount)
	bodies := []string{
		fmt.Sprintf("Please find invoice %s for %s dated %s", invoiceID, money, date),
		fmt.Sprintf("Invoice %s Amount: %s", invoiceID, money),
		fmt.Sprintf("Invoice details: %s for %s", invoiceID, money),
		"Here's our invoice for services",
		fmt.Sprintf("Amount: %s", money),
		"Final invoice for project completion",
	}

	return Email{
		MessageID:  messageID,
		Subject:    subjects[g.rng.IntN(len(subjects))],
		Sender:     g.faker.Email(),
		ReceivedAt: &received,
		Body:       bodies[g.rng.IntN(len(bodies))],
		InvoiceData: Data{
			FieldInvoiceID:  invoiceID,
			FieldAmount:     amount,
			FieldCurrency:   currencies[g.rng.IntN(len(currencies))],
			FieldDate:       date,
			FieldVendorName: vendor,
			FieldStatus:     statuses[g.rng.IntN(len(statuses))],
		},
	}
}
