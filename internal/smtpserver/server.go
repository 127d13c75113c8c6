// Package smtpserver accepts invoice emails over SMTP and appends them to the
// configured store.
package smtpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.io/infrasutra/mockinvoice/internal/invoice"
	"github.io/infrasutra/mockinvoice/internal/mailer"
	"github.io/infrasutra/mockinvoice/internal/sse"
	"github.io/infrasutra/mockinvoice/internal/store"
)

const (
	defaultDomain = "mockinvoice"
	storeTimeout  = 10 * time.Second
)

type AuthConfig struct {
	Enabled  bool
	Username string
	Password string
}

type Server struct {
	smtp   *smtp.Server
	logger *slog.Logger
}

func New(st store.Store, hub *sse.Hub, logger *slog.Logger, addr string, authCfg AuthConfig) *Server {
	backend := &backend{
		store:        st,
		hub:          hub,
		logger:       logger,
		authEnabled:  authCfg.Enabled,
		authUsername: authCfg.Username,
		authPassword: authCfg.Password,
	}
	server := smtp.NewServer(backend)
	server.Addr = addr
	server.Domain = defaultDomain
	server.AllowInsecureAuth = true
	server.ReadTimeout = 15 * time.Second
	server.WriteTimeout = 15 * time.Second
	server.MaxRecipients = 100
	server.MaxMessageBytes = 5 << 20

	return &Server{smtp: server, logger: logger}
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("smtp intake listening", "addr", s.smtp.Addr)
	return s.smtp.ListenAndServe()
}

// Serve accepts connections on an existing listener.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("smtp intake listening", "addr", l.Addr().String())
	return s.smtp.Serve(l)
}

func (s *Server) Close() error {
	return s.smtp.Close()
}

type backend struct {
	store        store.Store
	hub          *sse.Hub
	logger       *slog.Logger
	authEnabled  bool
	authUsername string
	authPassword string
}

func (b *backend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &session{backend: b}, nil
}

type session struct {
	backend       *backend
	from          string
	to            []string
	authenticated bool
}

func (s *session) AuthMechanisms() []string {
	if s.backend.authEnabled {
		return []string{sasl.Plain}
	}
	return nil
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	if !s.backend.authEnabled {
		return nil, errors.New("authentication not enabled")
	}
	if mech != sasl.Plain {
		return nil, errors.New("unsupported authentication mechanism")
	}
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username == s.backend.authUsername && password == s.backend.authPassword {
			s.authenticated = true
			return nil
		}
		return errors.New("invalid credentials")
	}), nil
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	if s.backend.authEnabled && !s.authenticated {
		return smtp.ErrAuthRequired
	}
	s.from = normalizeEmail(from)
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	if s.backend.authEnabled && !s.authenticated {
		return smtp.ErrAuthRequired
	}
	s.to = append(s.to, normalizeEmail(to))
	return nil
}

func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	record, err := ParseMessage(s.from, data)
	if err != nil {
		s.backend.logger.Warn("parse smtp message", "error", err, "from", s.from)
		return &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 6, 0},
			Message:      "message is not an invoice email",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := s.backend.store.Insert(ctx, []invoice.Email{record}); err != nil {
		s.backend.logger.Error("store smtp invoice", "error", err, "message_id", record.MessageID)
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "storage unavailable, try again later",
		}
	}

	s.backend.logger.Debug("smtp invoice stored", "message_id", record.MessageID, "from", s.from, "rcpt", len(s.to))
	s.backend.hub.Publish(sse.TopicInvoices, "stored", map[string]any{
		"count":      1,
		"source":     "smtp",
		"message_id": record.MessageID,
		"at":         time.Now().UTC().Format(time.RFC3339),
	})
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error {
	return nil
}

// ParseMessage rebuilds an invoice email from a message composed by the mailer
// package. Messages without an invoice.json attachment are rejected.
func ParseMessage(envelopeFrom string, raw []byte) (invoice.Email, error) {
	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return invoice.Email{}, fmt.Errorf("read message: %w", err)
	}

	record := invoice.Email{
		MessageID: strings.TrimSpace(reader.Header.Get(mailer.HeaderMessageID)),
	}
	if record.MessageID == "" {
		record.MessageID = "msg_" + uuid.NewString()
	}
	if subject, err := reader.Header.Subject(); err == nil {
		record.Subject = subject
	}
	if fromList, err := reader.Header.AddressList("From"); err == nil && len(fromList) > 0 {
		record.Sender = fromList[0].Address
	}
	if record.Sender == "" {
		record.Sender = normalizeEmail(envelopeFrom)
	}
	if reader.Header.Has(mailer.HeaderReceivedAt) {
		received := reader.Header.Get(mailer.HeaderReceivedAt)
		record.ReceivedAt = &received
	}

	found := false
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return invoice.Email{}, fmt.Errorf("read message part: %w", err)
		}

		switch header := part.Header.(type) {
		case *mail.InlineHeader:
			mediaType, _, _ := header.ContentType()
			if mediaType != "" && !strings.HasPrefix(mediaType, "text/plain") {
				continue
			}
			body, err := io.ReadAll(part.Body)
			if err != nil {
				return invoice.Email{}, fmt.Errorf("read text part: %w", err)
			}
			record.Body = strings.ReplaceAll(string(body), "\r\n", "\n")
		case *mail.AttachmentHeader:
			filename, _ := header.Filename()
			if filename != mailer.AttachmentName {
				continue
			}
			body, err := io.ReadAll(part.Body)
			if err != nil {
				return invoice.Email{}, fmt.Errorf("read attachment: %w", err)
			}
			var data invoice.Data
			if err := json.Unmarshal(body, &data); err != nil {
				return invoice.Email{}, fmt.Errorf("decode %s: %w", mailer.AttachmentName, err)
			}
			record.InvoiceData = data
			found = true
		}
	}
	if !found {
		return invoice.Email{}, fmt.Errorf("missing %s attachment", mailer.AttachmentName)
	}
	return record, nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
