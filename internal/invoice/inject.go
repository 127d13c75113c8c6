package invoice

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Defect names a single corruption applied to a record.
type Defect string

const (
	DefectMissingInvoiceID Defect = "missing_invoice_id"
	DefectMissingAmount    Defect = "missing_amount"
	DefectMissingCurrency  Defect = "missing_currency"
	DefectMissingStatus    Defect = "missing_status"
	DefectAmountType       Defect = "amount_type"
	DefectTimestamp        Defect = "timestamp"
	DefectSchemaDrift      Defect = "schema_drift"
)

// Weights scale the inconsistency rate per defect category. Every category is an
// independent coin flip with probability rate*weight, clamped to [0, 1].
type Weights struct {
	OmitInvoiceID    float64
	OmitAmount       float64
	OmitCurrency     float64
	OmitStatus       float64
	CorruptAmount    float64
	CorruptTimestamp float64
	SchemaDrift      float64
}

// DefaultWeights mirrors the defect mix of the hosted mock.
func DefaultWeights() Weights {
	return Weights{
		OmitInvoiceID:    0.3,
		OmitAmount:       0.2,
		OmitCurrency:     0.5,
		OmitStatus:       1,
		CorruptAmount:    1,
		CorruptTimestamp: 1,
		SchemaDrift:      1,
	}
}

// Rates configures Inject.
type Rates struct {
	Inconsistency float64
	Weights       Weights
}

const (
	timestampLayout = "2006-01-02T15:04:05Z"
	dateLayout      = "2006-01-02"
)

var (
	moneyPrinter = message.NewPrinter(language.English)

	amountPhrases = []string{"TWO THOUSAND", "invalid_amount", "TBD", "N/A"}
	projectSeries = []string{"X", "Y", "Z"}
	lineItemNames = []string{
		"Consulting", "Licenses", "Hosting", "Support", "Hardware",
		"Training", "Maintenance", "Design", "Audit", "Storage",
	}
	approverFirst = []string{"alex", "jordan", "sam", "taylor", "morgan", "casey", "riley", "jamie"}
	approverLast  = []string{"smith", "garcia", "chen", "patel", "nguyen", "kowalski", "okafor", "meyer"}
)

// Inject returns a copy of e with defects applied according to rates. The input is
// never modified. The returned slice lists the defect categories that fired, in
// application order; it is empty when the record came through clean.
func Inject(e Email, rates Rates, rng *rand.Rand) (Email, []Defect) {
	out := e.Clone()
	if out.InvoiceData == nil {
		out.InvoiceData = Data{}
	}
	w := rates.Weights
	flip := func(weight float64) bool {
		p := min(max(rates.Inconsistency*weight, 0), 1)
		return p > 0 && rng.Float64() < p
	}

	var defects []Defect
	if flip(w.CorruptAmount) {
		if amount, ok := out.InvoiceData[FieldAmount].(float64); ok {
			out.InvoiceData[FieldAmount] = corruptAmount(amount, rng)
			defects = append(defects, DefectAmountType)
		}
	}
	if flip(w.OmitInvoiceID) {
		delete(out.InvoiceData, FieldInvoiceID)
		defects = append(defects, DefectMissingInvoiceID)
	}
	if flip(w.OmitAmount) {
		delete(out.InvoiceData, FieldAmount)
		defects = append(defects, DefectMissingAmount)
	}
	if flip(w.OmitCurrency) {
		delete(out.InvoiceData, FieldCurrency)
		defects = append(defects, DefectMissingCurrency)
	}
	if flip(w.OmitStatus) {
		delete(out.InvoiceData, FieldStatus)
		defects = append(defects, DefectMissingStatus)
	}
	if flip(w.CorruptTimestamp) {
		out.ReceivedAt = corruptTimestamp(out.ReceivedAt, rng)
		defects = append(defects, DefectTimestamp)
	}
	if flip(w.SchemaDrift) {
		addDriftFields(out.InvoiceData, rng)
		defects = append(defects, DefectSchemaDrift)
	}
	return out, defects
}

// FormatMoney renders an amount the way vendors type it: "$1,250.50".
func FormatMoney(amount float64) string {
	return moneyPrinter.Sprintf("$%.2f", amount)
}

func corruptAmount(amount float64, rng *rand.Rand) any {
	switch rng.IntN(5) {
	case 0:
		return FormatMoney(amount)
	case 1:
		return fmt.Sprintf("%.2f", amount)
	case 2:
		return amountPhrases[rng.IntN(len(amountPhrases))]
	case 3:
		return nil
	default:
		return -amount
	}
}

func corruptTimestamp(current *string, rng *rand.Rand) *string {
	base := time.Now().UTC()
	if current != nil {
		if parsed, err := time.Parse(timestampLayout, *current); err == nil {
			base = parsed
		}
	}
	var value string
	switch rng.IntN(4) {
	case 0:
		value = base.Format("02/01/2006 15:04")
	case 1:
		value = base.Format("2006-01-02T15:04:05")
	case 2:
		value = "invalid_datetime"
	default:
		return nil
	}
	return &value
}

func addDriftFields(data Data, rng *rand.Rand) {
	added := 0
	add := func(p float64, fn func()) {
		if rng.Float64() < p {
			fn()
			added++
		}
	}
	dueDate := func() {
		base, err := time.Parse(dateLayout, fmt.Sprint(data[FieldDate]))
		if err != nil {
			base = time.Now().UTC()
		}
		data[FieldDueDate] = base.AddDate(0, 0, rng.IntN(61)).Format(dateLayout)
	}
	projectCode := func() {
		data[FieldProjectCode] = fmt.Sprintf("PROJ-%s%d", projectSeries[rng.IntN(len(projectSeries))], 1+rng.IntN(9))
	}
	taxAmount := func() {
		base := 100.0
		if amount, ok := data[FieldAmount].(float64); ok {
			base = amount
		}
		data[FieldTaxAmount] = round2(base * 0.15)
	}
	approver := func() {
		data[FieldApprover] = fmt.Sprintf("%s.%s@%s",
			approverFirst[rng.IntN(len(approverFirst))],
			approverLast[rng.IntN(len(approverLast))],
			vendorDomain(fmt.Sprint(data[FieldVendorName])))
	}
	lineItems := func() {
		n := 1 + rng.IntN(3)
		items := make([]any, 0, n)
		for range n {
			items = append(items, map[string]any{
				"item":     lineItemNames[rng.IntN(len(lineItemNames))],
				"quantity": float64(1 + rng.IntN(20)),
				"rate":     round2(10 + rng.Float64()*490),
			})
		}
		data[FieldLineItems] = items
	}

	add(0.4, dueDate)
	add(0.4, projectCode)
	add(0.3, taxAmount)
	add(0.2, approver)
	add(0.15, lineItems)
	if added == 0 {
		[]func(){dueDate, projectCode, taxAmount, approver, lineItems}[rng.IntN(5)]()
	}
}

func vendorDomain(vendor string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(vendor) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "example.com"
	}
	return b.String() + ".com"
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
