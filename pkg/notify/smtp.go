package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
)

// SMTPMailer delivers plain-text mail through an SMTP relay without
// authentication.
type SMTPMailer struct {
	Host       string
	Port       int
	Sender     string
	Recipients []string

	// send is swapped in tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer returns a mailer for host:port.
func NewSMTPMailer(host string, port int, sender string, recipients []string) *SMTPMailer {
	return &SMTPMailer{Host: host, Port: port, Sender: sender, Recipients: recipients, send: smtp.SendMail}
}

// Send implements Mailer.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(m.Recipients) == 0 {
		return errors.New("no mail recipients configured")
	}
	port := m.Port
	if port == 0 {
		port = 25
	}
	addr := net.JoinHostPort(m.Host, strconv.Itoa(port))
	send := m.send
	if send == nil {
		send = smtp.SendMail
	}
	if err := send(addr, nil, m.Sender, m.Recipients, m.compose(msg)); err != nil {
		return fmt.Errorf("smtp %s: %w", addr, err)
	}
	return nil
}

func (m *SMTPMailer) compose(msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.Sender)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(m.Recipients, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}
