package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.io/infrasutra/mockinvoice/internal/config"
	"github.io/infrasutra/mockinvoice/internal/invoice"
)

func TestCompose(t *testing.T) {
	m := New(config.RelayConfig{To: []string{"ap@mockinvoice.local"}})
	m.now = func() time.Time { return time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC) }

	received := "01/03/2025 09:00"
	record := invoice.Email{
		MessageID:  "msg_007",
		Subject:    "URGENT: Invoice INV-1007",
		Sender:     "billing@acme.test",
		ReceivedAt: &received,
		Body:       "Invoice INV-1007 Amount: $1,250.50",
		InvoiceData: invoice.Data{
			invoice.FieldInvoiceID: "INV-1007",
			invoice.FieldAmount:    "$1,250.50",
		},
	}

	raw, err := m.Compose(record)
	require.NoError(t, err)

	reader, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)
	subject, err := reader.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, record.Subject, subject)
	assert.Equal(t, "msg_007", reader.Header.Get(HeaderMessageID))
	assert.Equal(t, received, reader.Header.Get(HeaderReceivedAt))
	assert.NotEmpty(t, reader.Header.Get("Message-Id"))

	date, err := reader.Header.Date()
	require.NoError(t, err)
	assert.True(t, date.Equal(m.now()))

	var text string
	var data invoice.Data
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		body, err := io.ReadAll(part.Body)
		require.NoError(t, err)
		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			text = string(body)
		case *mail.AttachmentHeader:
			name, _ := h.Filename()
			assert.Equal(t, AttachmentName, name)
			require.NoError(t, json.Unmarshal(body, &data))
		}
	}
	assert.Equal(t, record.Body, text)
	assert.Equal(t, record.InvoiceData, data)
}

func TestSendNotConfigured(t *testing.T) {
	m := New(config.RelayConfig{})
	assert.False(t, m.Configured())
	_, err := m.Send(context.Background(), invoice.Email{MessageID: "msg_001"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	var nilMailer *Mailer
	assert.False(t, nilMailer.Configured())
}

func TestSendNothing(t *testing.T) {
	m := New(config.RelayConfig{Addr: "127.0.0.1:1"})
	n, err := m.Send(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
