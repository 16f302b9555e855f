package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Message is one outbound email.
type Message struct {
	To        string
	Subject   string
	HTMLBody  string
	ReplyTo   string
	FromName  string
	InReplyTo string
}

// Result reports the transport outcome of a send.
type Result struct {
	Success   bool
	MessageID string
}

// Sender delivers outbound email. Implementations must be safe for concurrent
// use and must apply their own transport timeout.
type Sender interface {
	Send(ctx context.Context, msg Message) (*Result, error)
}

// SMTPConfig holds the SMTP transport settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// SMTPSender sends mail over plain SMTP with AUTH PLAIN.
type SMTPSender struct {
	cfg    SMTPConfig
	logger *zap.Logger

	// sendMail is swappable for tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender creates an SMTP-backed sender.
func NewSMTPSender(cfg SMTPConfig, logger *zap.Logger) (*SMTPSender, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SMTPSender{
		cfg:      cfg,
		logger:   logger,
		sendMail: smtp.SendMail,
	}, nil
}

// Send delivers the message, generating a Message-ID for threading. A
// transport failure is returned as an error with a nil-success result so
// callers can keep the session in a retry-safe state.
func (s *SMTPSender) Send(ctx context.Context, msg Message) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return &Result{}, err
	}

	to := strings.TrimSpace(msg.To)
	if to == "" {
		return &Result{}, fmt.Errorf("recipient is required")
	}

	messageID := newMessageID(s.cfg.From)
	payload := buildPayload(s.cfg, msg, messageID)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	if err := s.sendMail(addr, auth, s.cfg.From, []string{to}, payload); err != nil {
		return &Result{}, fmt.Errorf("smtp send: %w", err)
	}

	s.logger.Debug("email sent",
		zap.String("to", to),
		zap.String("subject", msg.Subject),
		zap.String("message_id", messageID),
	)

	return &Result{Success: true, MessageID: messageID}, nil
}

func buildPayload(cfg SMTPConfig, msg Message, messageID string) []byte {
	from := cfg.From
	fromName := strings.TrimSpace(msg.FromName)
	if fromName == "" {
		fromName = cfg.FromName
	}
	if fromName != "" {
		from = fmt.Sprintf("%s <%s>", fromName, cfg.From)
	}

	var b strings.Builder
	writeHeader(&b, "From", from)
	writeHeader(&b, "To", msg.To)
	writeHeader(&b, "Subject", msg.Subject)
	writeHeader(&b, "Message-ID", messageID)
	if msg.ReplyTo != "" {
		writeHeader(&b, "Reply-To", msg.ReplyTo)
	}
	if msg.InReplyTo != "" {
		writeHeader(&b, "In-Reply-To", msg.InReplyTo)
		writeHeader(&b, "References", msg.InReplyTo)
	}
	writeHeader(&b, "MIME-Version", "1.0")
	writeHeader(&b, "Content-Type", `text/html; charset="UTF-8"`)
	b.WriteString("\r\n")
	b.WriteString(msg.HTMLBody)

	return []byte(b.String())
}

func writeHeader(b *strings.Builder, key, value string) {
	b.WriteString(key)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\r\n")
}

func newMessageID(from string) string {
	domain := "screenvet.local"
	if at := strings.LastIndex(from, "@"); at != -1 && at < len(from)-1 {
		domain = from[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}
