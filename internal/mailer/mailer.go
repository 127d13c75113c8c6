// Package mailer renders invoice emails as MIME messages and delivers them to an
// SMTP relay.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.io/infrasutra/mockinvoice/internal/config"
	"github.io/infrasutra/mockinvoice/internal/invoice"
)

// ErrNotConfigured is returned by Send when no relay address is set.
var ErrNotConfigured = errors.New("mail relay not configured")

const (
	HeaderMessageID  = "X-Invoice-Message-Id"
	HeaderReceivedAt = "X-Received-At"
	AttachmentName   = "invoice.json"

	messageIDDomain = "mockinvoice.local"
)

type Mailer struct {
	cfg config.RelayConfig
	now func() time.Time
}

func New(cfg config.RelayConfig) *Mailer {
	return &Mailer{cfg: cfg, now: time.Now}
}

func (m *Mailer) Configured() bool {
	return m != nil && strings.TrimSpace(m.cfg.Addr) != ""
}

// Compose renders e as a multipart message: the body as text/plain and the invoice
// data as an invoice.json attachment.
func (m *Mailer) Compose(e invoice.Email) ([]byte, error) {
	var h mail.Header
	h.SetDate(m.now())
	h.SetSubject(e.Subject)
	h.SetAddressList("From", []*mail.Address{{Address: e.Sender}})
	to := make([]*mail.Address, 0, len(m.cfg.To))
	for _, addr := range m.cfg.To {
		to = append(to, &mail.Address{Address: addr})
	}
	h.SetAddressList("To", to)
	h.Set("Message-Id", fmt.Sprintf("<%s@%s>", uuid.NewString(), messageIDDomain))
	h.Set(HeaderMessageID, e.MessageID)
	if e.ReceivedAt != nil {
		h.Set(HeaderReceivedAt, *e.ReceivedAt)
	}

	data, err := json.MarshalIndent(e.InvoiceData, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode invoice data: %w", err)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("create inline part: %w", err)
	}
	var th mail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	th.Set("Content-Transfer-Encoding", "quoted-printable")
	w, err := tw.CreatePart(th)
	if err != nil {
		return nil, fmt.Errorf("create text part: %w", err)
	}
	if _, err := io.WriteString(w, e.Body); err != nil {
		return nil, fmt.Errorf("write text part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close text part: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close inline part: %w", err)
	}

	var ah mail.AttachmentHeader
	ah.SetContentType("application/json", nil)
	ah.SetFilename(AttachmentName)
	ah.Set("Content-Transfer-Encoding", "base64")
	aw, err := mw.CreateAttachment(ah)
	if err != nil {
		return nil, fmt.Errorf("create attachment: %w", err)
	}
	if _, err := aw.Write(data); err != nil {
		return nil, fmt.Errorf("write attachment: %w", err)
	}
	if err := aw.Close(); err != nil {
		return nil, fmt.Errorf("close attachment: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close message: %w", err)
	}
	return buf.Bytes(), nil
}

// Send delivers records over a single relay connection and returns how many were
// accepted before the first failure.
func (m *Mailer) Send(ctx context.Context, records ...invoice.Email) (int, error) {
	if !m.Configured() {
		return 0, ErrNotConfigured
	}
	if len(records) == 0 {
		return 0, nil
	}
	if len(m.cfg.To) == 0 {
		return 0, errors.New("mail relay has no recipients")
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", m.cfg.Addr)
	if err != nil {
		return 0, fmt.Errorf("dial relay %s: %w", m.cfg.Addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client := smtp.NewClient(conn)
	defer client.Close()

	if m.cfg.Username != "" {
		if err := client.Auth(sasl.NewPlainClient("", m.cfg.Username, m.cfg.Password)); err != nil {
			return 0, fmt.Errorf("relay auth: %w", err)
		}
	}

	sent := 0
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		raw, err := m.Compose(record)
		if err != nil {
			return sent, err
		}
		if err := client.SendMail(m.cfg.From, m.cfg.To, bytes.NewReader(raw)); err != nil {
			return sent, fmt.Errorf("send invoice %s: %w", record.MessageID, err)
		}
		sent++
	}
	if err := client.Quit(); err != nil {
		return sent, fmt.Errorf("quit relay: %w", err)
	}
	return sent, nil
}
