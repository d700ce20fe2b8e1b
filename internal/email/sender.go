// Package email sends transactional mail over SMTP: the code-word
// instructions for a verification test and account email confirmation links.
package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// SMTPConfig holds the SMTP server configuration.
type SMTPConfig struct {
	Host     string // SMTP server hostname
	Port     string // SMTP port (25, 587, 465)
	From     string // From email address
	Username string // SMTP auth username
	Password string // SMTP auth password
	TLS      string // "none", "starttls", "tls"
}

// Valid returns true if the minimum required fields are set.
func (c SMTPConfig) Valid() bool {
	return c.Host != "" && c.Port != "" && c.From != ""
}

// CodeWordsEmail carries everything needed to tell a user how to complete
// a verification call.
type CodeWordsEmail struct {
	To         string   // recipient email address
	Name       string   // recipient display name
	Words      []string // the code words, in order
	DialNumber string   // number to call to run the test
}

// VerificationLinkEmail carries an account email confirmation link.
type VerificationLinkEmail struct {
	To   string
	Name string
	Link string
}

// Sender sends emails via SMTP.
type Sender struct {
	cfg    SMTPConfig
	logger *slog.Logger
	// dialFunc allows injecting a custom dialer for testing.
	dialFunc func(addr string, tlsConfig *tls.Config, tlsMode string) (smtpClient, error)
}

// smtpClient abstracts the methods used from *smtp.Client for testing.
type smtpClient interface {
	Hello(localName string) error
	Extension(ext string) (bool, string)
	StartTLS(config *tls.Config) error
	Auth(a smtp.Auth) error
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

// NewSender creates a new email Sender.
func NewSender(cfg SMTPConfig, logger *slog.Logger) *Sender {
	return &Sender{
		cfg:      cfg,
		logger:   logger.With("component", "email"),
		dialFunc: defaultDial,
	}
}

// SendCodeWords emails the code words and the number to dial for a
// verification test.
func (s *Sender) SendCodeWords(ctx context.Context, msg CodeWordsEmail) error {
	if msg.To == "" {
		return fmt.Errorf("no recipient email address")
	}
	if len(msg.Words) == 0 {
		return fmt.Errorf("no code words to send")
	}

	greeting := "Hello"
	if msg.Name != "" {
		greeting = "Hello " + msg.Name
	}

	body := fmt.Sprintf(
		"%s,\n\n"+
			"Your phone verification test is ready.\n\n"+
			"Your code words are:\n\n"+
			"    %s\n\n"+
			"Call %s from your registered phone number and read the words\n"+
			"out loud, in order, when prompted. You have a limited number of\n"+
			"attempts, so speak clearly.\n",
		greeting,
		strings.Join(msg.Words, " "),
		msg.DialNumber,
	)

	raw := buildMessage(s.cfg.From, msg.To, "Your verification code words", body)

	if err := s.send(ctx, msg.To, raw); err != nil {
		return err
	}

	s.logger.Info("code words email sent", "to", msg.To, "words", len(msg.Words))
	return nil
}

// SendVerificationLink emails an account confirmation link.
func (s *Sender) SendVerificationLink(ctx context.Context, msg VerificationLinkEmail) error {
	if msg.To == "" {
		return fmt.Errorf("no recipient email address")
	}
	if msg.Link == "" {
		return fmt.Errorf("no verification link")
	}

	greeting := "Hello"
	if msg.Name != "" {
		greeting = "Hello " + msg.Name
	}

	body := fmt.Sprintf(
		"%s,\n\n"+
			"Confirm your email address by opening the link below:\n\n"+
			"    %s\n\n"+
			"If you did not create this account, you can ignore this email.\n",
		greeting,
		msg.Link,
	)

	raw := buildMessage(s.cfg.From, msg.To, "Confirm your email address", body)

	if err := s.send(ctx, msg.To, raw); err != nil {
		return err
	}

	s.logger.Info("verification link email sent", "to", msg.To)
	return nil
}

// send delivers a raw message to a single recipient over SMTP.
func (s *Sender) send(_ context.Context, to string, raw []byte) error {
	if !s.cfg.Valid() {
		return fmt.Errorf("smtp not configured")
	}

	addr := net.JoinHostPort(s.cfg.Host, s.cfg.Port)
	tlsConfig := &tls.Config{ServerName: s.cfg.Host}

	client, err := s.dialFunc(addr, tlsConfig, s.cfg.TLS)
	if err != nil {
		return fmt.Errorf("connecting to smtp server: %w", err)
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("smtp hello: %w", err)
	}

	// STARTTLS upgrade if requested and supported.
	if strings.EqualFold(s.cfg.TLS, "starttls") {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}

	// Authenticate if credentials are provided.
	if s.cfg.Username != "" && s.cfg.Password != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}

	if err := client.Quit(); err != nil {
		s.logger.Warn("smtp quit error (non-fatal)", "error", err)
	}

	return nil
}

// defaultDial connects to the SMTP server using either plain TCP or implicit TLS.
func defaultDial(addr string, tlsConfig *tls.Config, tlsMode string) (smtpClient, error) {
	if strings.EqualFold(tlsMode, "tls") {
		conn, err := tls.DialWithDialer(&net.Dialer{Timeout: 10 * time.Second}, "tcp", addr, tlsConfig)
		if err != nil {
			return nil, err
		}
		return smtp.NewClient(conn, tlsConfig.ServerName)
	}

	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, err
	}
	host, _, _ := net.SplitHostPort(addr)
	return smtp.NewClient(conn, host)
}

// buildMessage constructs a plain text email message.
func buildMessage(from, to, subject, body string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: text/plain; charset=utf-8\r\n")
	fmt.Fprintf(&buf, "\r\n")
	buf.WriteString(body)
	return buf.Bytes()
}
