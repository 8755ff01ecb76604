// Package mailer delivers rendered notifications over SMTP.
package mailer

import (
	"chat-relay/contract"
	"chat-relay/errors"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"
)

var _ contract.Mailer = (*SMTP)(nil)

// sendMailHook allows tests to override SMTP sending behavior.
var sendMailHook = smtp.SendMail

type SMTP struct {
	log  *slog.Logger
	Host string
	Port int
	User string
	Pass string
	From string
}

func NewSMTP(log *slog.Logger, host string, port int, user, pass, from string) *SMTP {
	return &SMTP{log: log, Host: host, Port: port, User: user, Pass: pass, From: from}
}

// Send delivers one html email. The returned error is classified: quota and
// authentication rejections are permanent, connection trouble is transient.
func (s *SMTP) Send(ctx context.Context, to, subject, html string) error {
	addr := net.JoinHostPort(s.Host, fmt.Sprint(s.Port))
	var auth smtp.Auth
	if s.User != "" {
		auth = smtp.PlainAuth("", s.User, s.Pass, s.Host)
	}
	msg := buildMessage(s.From, to, subject, html)

	// net/smtp has no context support: the send is abandoned, not interrupted.
	send := sendMailHook
	done := make(chan error, 1)
	go func() {
		done <- send(addr, auth, s.From, []string{to}, msg)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: smtp send: %v", errors.ErrTransient, ctx.Err())
	case err := <-done:
		if err != nil {
			return Classify(err)
		}
		s.log.Debug("Email sent", "to", to, "subject", subject)
		return nil
	}
}

func buildMessage(from, to, subject, html string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("Date: " + time.Now().UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(html)
	return []byte(b.String())
}

// Classify maps an SMTP failure onto the error taxonomy. Unknown failures are
// returned unclassified.
func Classify(err error) error {
	text := strings.ToLower(err.Error())
	if strings.Contains(text, "quota") || strings.Contains(text, "5.4.5") {
		return fmt.Errorf("%w: %v", errors.ErrQuotaExceeded, err)
	}

	var protoErr *textproto.Error
	if stderrors.As(err, &protoErr) {
		switch protoErr.Code {
		case 421, 450, 451, 452:
			return fmt.Errorf("%w: smtp %d: %s", errors.ErrTransient, protoErr.Code, protoErr.Msg)
		case 530, 534, 535:
			return fmt.Errorf("%w: smtp %d: %s", errors.ErrProviderAuth, protoErr.Code, protoErr.Msg)
		}
		return fmt.Errorf("smtp %d: %s", protoErr.Code, protoErr.Msg)
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", errors.ErrTransient, err)
	}
	var opErr *net.OpError
	if stderrors.As(err, &opErr) {
		return fmt.Errorf("%w: %v", errors.ErrTransient, err)
	}
	return err
}
