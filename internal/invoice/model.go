// Package invoice generates synthetic invoice emails and injects the data-quality
// defects (omitted fields, type drift, broken timestamps, schema drift, duplicates)
// that downstream pipelines are expected to cope with.
package invoice

import "maps"

// Email is a single invoice email as returned by the API and persisted by the stores.
// ReceivedAt is nil when the timestamp was corrupted to null.
type Email struct {
	MessageID   string  `json:"message_id" bson:"message_id"`
	Subject     string  `json:"subject" bson:"subject"`
	Sender      string  `json:"sender" bson:"sender"`
	ReceivedAt  *string `json:"received_at" bson:"received_at"`
	Body        string  `json:"body" bson:"body"`
	InvoiceData Data    `json:"invoice_data" bson:"invoice_data"`
}

// Data is the open, schema-flexible invoice payload. Values are JSON-shaped:
// string, float64, bool, nil, []any or map[string]any.
type Data map[string]any

// Core and drift field names.
const (
	FieldInvoiceID   = "invoice_id"
	FieldAmount      = "amount"
	FieldCurrency    = "currency"
	FieldDate        = "date"
	FieldVendorName  = "vendor_name"
	FieldStatus      = "status"
	FieldDueDate     = "due_date"
	FieldProjectCode = "project_code"
	FieldTaxAmount   = "tax_amount"
	FieldApprover    = "approver"
	FieldLineItems   = "line_items"
)

// Clone returns a deep copy of the email so callers can mutate it freely.
func (e Email) Clone() Email {
	out := e
	if e.ReceivedAt != nil {
		ts := *e.ReceivedAt
		out.ReceivedAt = &ts
	}
	out.InvoiceData = e.InvoiceData.Clone()
	return out
}

// InvoiceID returns the invoice id when present and a string.
func (e Email) InvoiceID() (string, bool) {
	id, ok := e.InvoiceData[FieldInvoiceID].(string)
	return id, ok
}

// Clone deep-copies nested maps and slices.
func (d Data) Clone() Data {
	if d == nil {
		return nil
	}
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := maps.Clone(t)
		for k, inner := range m {
			m[k] = cloneValue(inner)
		}
		return m
	case Data:
		return t.Clone()
	case []any:
		s := make([]any, len(t))
		for i, inner := range t {
			s[i] = cloneValue(inner)
		}
		return s
	default:
		return v
	}
}
