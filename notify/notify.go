// Package notify sends the zero-detection alarm.
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/lookout/am"
	"github.com/teranos/lookout/errors"
	"github.com/teranos/lookout/logger"
)

// ErrNotification marks every failure to deliver an alarm
var ErrNotification = errors.New("notification failed")

// Nop drops every notification. Used by the CLI and tests.
type Nop struct{}

// NotifyNoDetections does nothing
func (Nop) NotifyNoDetections(context.Context, string, int) error { return nil }

// sendFunc delivers one message; swapped in tests
type sendFunc func(ctx context.Context, addr, host string, auth smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier mails the configured recipients when a run finds nothing.
// With incomplete settings it logs and skips instead of failing.
type SMTPNotifier struct {
	host     string
	port     int
	from     string
	to       []string
	password string

	send    sendFunc
	timeout time.Duration
	logger  *zap.SugaredLogger
}

// NewSMTPNotifier builds a notifier from the [notify] section, which the
// config loader already binds to SMTP_* environment variables
func NewSMTPNotifier(cfg am.NotifyConfig) *SMTPNotifier {
	port := cfg.SMTPPort
	if port == 0 {
		port = 587
	}

	var to []string
	for _, addr := range cfg.SMTPTo {
		for _, part := range strings.Split(addr, ",") {
			if part = strings.TrimSpace(part); part != "" {
				to = append(to, part)
			}
		}
	}

	return &SMTPNotifier{
		host:     cfg.SMTPHost,
		port:     port,
		from:     cfg.SMTPFrom,
		to:       to,
		password: cfg.SMTPPass,
		send:     sendStartTLS,
		timeout:  30 * time.Second,
		logger:   logger.ComponentLogger("notify"),
	}
}

// Configured reports whether enough settings are present to send mail
func (n *SMTPNotifier) Configured() bool {
	return n.host != "" && n.from != "" && len(n.to) > 0 && n.password != ""
}

// NotifyNoDetections mails "[lookout alarm] NO detections for run <id>"
func (n *SMTPNotifier) NotifyNoDetections(ctx context.Context, runID string, processed int) error {
	if !n.Configured() {
		n.logger.Infow("SMTP not configured, skipping zero-detection alarm", logger.FieldRunID, runID)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	msg := buildMessage(n.from, n.to, runID, processed)
	addr := net.JoinHostPort(n.host, strconv.Itoa(n.port))
	auth := smtp.PlainAuth("", n.from, n.password, n.host)

	if err := n.send(ctx, addr, n.host, auth, n.from, n.to, msg); err != nil {
		return errors.Mark(errors.Wrapf(err, "failed to send alarm for run %s via %s", runID, addr), ErrNotification)
	}

	n.logger.Infow("Zero-detection alarm sent",
		logger.FieldRunID, runID,
		logger.FieldCount, processed,
		"recipients", len(n.to))
	return nil
}

func buildMessage(from string, to []string, runID string, processed int) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: [lookout alarm] NO detections for run %s\r\n", runID)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&b, "The detector processed %d image(s) and found zero objects above the confidence threshold.\r\n", processed)
	return []byte(b.String())
}

// sendStartTLS speaks SMTP with a mandatory STARTTLS upgrade before auth
func sendStartTLS(ctx context.Context, addr, host string, auth smtp.Auth, from string, to []string, msg []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if err := c.StartTLS(&tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}); err != nil {
		return errors.Wrap(err, "STARTTLS failed")
	}
	if err := c.Auth(auth); err != nil {
		return errors.Wrap(err, "SMTP auth failed")
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return errors.Wrapf(err, "recipient %s refused", rcpt)
		}
	}

	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
