package invoice

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGenerator(t *testing.T, opts Options) *Generator {
	t.Helper()
	if opts.Seed == 0 {
		opts.Seed = 42
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC) }
	}
	g, err := NewGenerator(opts)
	require.NoError(t, err)
	return g
}

func cleanRecord(t *testing.T, g *Generator) Email {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cleanLocked("msg_900", "INV-9000")
}

func TestGenerateReturnsRequestedCount(t *testing.T) {
	g := newTestGenerator(t, Options{InconsistencyRate: 0.3, DuplicateRate: 0.1, MaxBatchSize: 50})

	for _, count := range []int{1, 2, 17, 50} {
		batch, err := g.Generate(count)
		require.NoError(t, err)
		require.Len(t, batch, count)
		for _, e := range batch {
			assert.NotEmpty(t, e.MessageID)
		}
	}
}

func TestGenerateRejectsOutOfBoundCounts(t *testing.T) {
	g := newTestGenerator(t, Options{MaxBatchSize: 20})

	for _, count := range []int{0, -3, 21} {
		_, err := g.Generate(count)
		assert.ErrorIs(t, err, ErrInvalidCount, "count %d", count)
	}
}

func TestGenerateWithoutDefectsIsClean(t *testing.T) {
	g := newTestGenerator(t, Options{})

	batch, err := g.Generate(30)
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, e := range batch {
		assert.False(t, seen[e.MessageID], "duplicate message id %s", e.MessageID)
		seen[e.MessageID] = true

		require.NotNil(t, e.ReceivedAt)
		_, err := time.Parse(timestampLayout, *e.ReceivedAt)
		assert.NoError(t, err)

		assert.Len(t, e.InvoiceData, 6)
		assert.IsType(t, float64(0), e.InvoiceData[FieldAmount])
		assert.Contains(t, currencies, e.InvoiceData[FieldCurrency])
		assert.Contains(t, statuses, e.InvoiceData[FieldStatus])
	}
}

func TestMessageAndInvoiceIDsAreSequential(t *testing.T) {
	g := newTestGenerator(t, Options{})

	batch, err := g.Generate(3)
	require.NoError(t, err)

	assert.Equal(t, "msg_001", batch[0].MessageID)
	assert.Equal(t, "msg_003", batch[2].MessageID)
	assert.Equal(t, "INV-1001", batch[0].InvoiceData[FieldInvoiceID])
	assert.Equal(t, "INV-1003", batch[2].InvoiceData[FieldInvoiceID])
}

func TestInjectWithZeroRateLeavesRecordUnchanged(t *testing.T) {
	g := newTestGenerator(t, Options{})
	clean := cleanRecord(t, g)
	rng := rand.New(rand.NewPCG(1, 2))

	for range 200 {
		out, defects := Inject(clean, Rates{Inconsistency: 0, Weights: DefaultWeights()}, rng)
		assert.Empty(t, defects)
		assert.Equal(t, clean, out)
	}
}

func TestInjectDoesNotMutateInput(t *testing.T) {
	g := newTestGenerator(t, Options{})
	clean := cleanRecord(t, g)
	snapshot := clean.Clone()
	rng := rand.New(rand.NewPCG(3, 4))

	for range 50 {
		_, _ = Inject(clean, Rates{Inconsistency: 1, Weights: DefaultWeights()}, rng)
	}
	assert.Equal(t, snapshot, clean)
}

func TestInjectWithFullRateAlwaysDefects(t *testing.T) {
	g := newTestGenerator(t, Options{})
	clean := cleanRecord(t, g)
	rng := rand.New(rand.NewPCG(5, 6))

	const samples = 500
	defective := 0
	for range samples {
		out, defects := Inject(clean, Rates{Inconsistency: 1, Weights: DefaultWeights()}, rng)
		if len(defects) > 0 {
			defective++
		}
		assert.Contains(t, defects, DefectSchemaDrift)
		assert.NotEqual(t, clean, out)
	}
	assert.Equal(t, samples, defective)
}

func TestInjectCategoriesFireIndependently(t *testing.T) {
	g := newTestGenerator(t, Options{})
	clean := cleanRecord(t, g)
	rng := rand.New(rand.NewPCG(7, 8))

	counts := map[Defect]int{}
	stacked := 0
	const samples = 4000
	for range samples {
		_, defects := Inject(clean, Rates{Inconsistency: 0.5, Weights: DefaultWeights()}, rng)
		for _, d := range defects {
			counts[d]++
		}
		if len(defects) > 1 {
			stacked++
		}
	}

	// p = 0.5 * weight for each category.
	assert.InDelta(t, 0.5, float64(counts[DefectTimestamp])/samples, 0.05)
	assert.InDelta(t, 0.25, float64(counts[DefectMissingCurrency])/samples, 0.05)
	assert.InDelta(t, 0.10, float64(counts[DefectMissingAmount])/samples, 0.05)
	assert.Positive(t, stacked)
}

func TestSchemaDriftAddsExtensionFields(t *testing.T) {
	g := newTestGenerator(t, Options{})
	clean := cleanRecord(t, g)
	rng := rand.New(rand.NewPCG(9, 10))
	weights := Weights{SchemaDrift: 1}

	drift := []string{FieldDueDate, FieldProjectCode, FieldTaxAmount, FieldApprover, FieldLineItems}
	for range 100 {
		out, _ := Inject(clean, Rates{Inconsistency: 1, Weights: weights}, rng)
		found := 0
		for _, field := range drift {
			if _, ok := out.InvoiceData[field]; ok {
				found++
			}
		}
		assert.GreaterOrEqual(t, found, 1)

		if items, ok := out.InvoiceData[FieldLineItems].([]any); ok {
			require.NotEmpty(t, items)
			item := items[0].(map[string]any)
			assert.Contains(t, item, "item")
			assert.IsType(t, float64(0), item["quantity"])
			assert.IsType(t, float64(0), item["rate"])
		}
	}
}

func TestCorruptedAmountShapes(t *testing.T) {
	g := newTestGenerator(t, Options{})
	clean := cleanRecord(t, g)
	clean.InvoiceData[FieldAmount] = 1250.5
	rng := rand.New(rand.NewPCG(11, 12))

	shapes := map[string]bool{}
	for range 300 {
		out, _ := Inject(clean, Rates{Inconsistency: 1, Weights: Weights{CorruptAmount: 1}}, rng)
		switch v := out.InvoiceData[FieldAmount].(type) {
		case nil:
			shapes["null"] = true
		case float64:
			assert.Equal(t, -1250.5, v)
			shapes["negative"] = true
		case string:
			if v == "$1,250.50" {
				shapes["symbol"] = true
			} else if v == "1250.50" {
				shapes["numeric"] = true
			} else {
				assert.Contains(t, amountPhrases, v)
				shapes["phrase"] = true
			}
		}
	}
	assert.Len(t, shapes, 5)
}

func TestDuplicateRateReusesIdentifiers(t *testing.T) {
	g := newTestGenerator(t, Options{InconsistencyRate: 0.3, DuplicateRate: 1, Seed: 7})

	batch, err := g.Generate(5)
	require.NoError(t, err)
	require.Len(t, batch, 5)

	messageIDs := map[string]int{}
	invoiceIDs := map[string]int{}
	for _, e := range batch {
		messageIDs[e.MessageID]++
		if id, ok := e.InvoiceID(); ok {
			invoiceIDs[id]++
		}
	}
	shared := false
	for _, n := range messageIDs {
		shared = shared || n > 1
	}
	for _, n := range invoiceIDs {
		shared = shared || n > 1
	}
	assert.True(t, shared, "expected a reused message_id or invoice_id")
}

func TestDefaultCountWithinBounds(t *testing.T) {
	g := newTestGenerator(t, Options{MinPerRequest: 2, MaxPerRequest: 5})
	for range 100 {
		n := g.DefaultCount()
		assert.GreaterOrEqual(t, n, 2)
		assert.LessOrEqual(t, n, 5)
	}
}

func TestNewGeneratorValidatesRates(t *testing.T) {
	_, err := NewGenerator(Options{InconsistencyRate: 1.5})
	assert.Error(t, err)
	_, err = NewGenerator(Options{DuplicateRate: -0.1})
	assert.Error(t, err)
	_, err = NewGenerator(Options{InconsistencyRate: math.NaN()})
	assert.Error(t, err)
	_, err = NewGenerator(Options{DuplicateRate: math.NaN()})
	assert.Error(t, err)
	_, err = NewGenerator(Options{MaxPerRequest: 200, MaxBatchSize: 100})
	assert.Error(t, err)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name  string
		in    any
		want  float64
		valid bool
	}{
		{"symbol and comma", "$1,250.50", 1250.50, true},
		{"formatted by injector", FormatMoney(1250.5), 1250.50, true},
		{"euro", "€ 99.10", 99.10, true},
		{"plain string", "310.25", 310.25, true},
		{"number", 42.5, 42.5, true},
		{"negative", -12.0, -12.0, true},
		{"phrase", "TWO THOUSAND", 0, false},
		{"tbd", "TBD", 0, false},
		{"null", nil, 0, false},
		{"empty", "  ", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseAmount(tt.in)
			assert.Equal(t, tt.valid, ok)
			assert.InDelta(t, tt.want, got, 0.001)
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	ts := "2025-01-01T00:00:00Z"
	e := Email{
		MessageID:  "msg_001",
		ReceivedAt: &ts,
		InvoiceData: Data{
			FieldLineItems: []any{map[string]any{"item": "Audit"}},
		},
	}
	c := e.Clone()
	c.InvoiceData[FieldLineItems].([]any)[0].(map[string]any)["item"] = "Changed"
	*c.ReceivedAt = "changed"

	assert.Equal(t, "Audit", e.InvoiceData[FieldLineItems].([]any)[0].(map[string]any)["item"])
	assert.Equal(t, "2025-01-01T00:00:00Z", *e.ReceivedAt)
}
