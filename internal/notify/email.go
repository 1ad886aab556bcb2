package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// SendFunc delivers a raw MIME message. net/smtp backs the default.
type SendFunc func(ctx context.Context, from string, to []string, msg []byte) error

// Email sends notifications as HTML mail through an SMTP relay.
type Email struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	// Send overrides delivery, mostly for tests.
	Send SendFunc
}

var emailTemplate = template.Must(template.New("notification").Parse(`<!doctype html>
<html><body style="font-family:sans-serif">
<h2>Processo {{.N.ProcessNumber}}</h2>
<p>{{.Text}}</p>
{{if .N.Reason}}<p><strong>Motivo:</strong> {{.N.Reason}}</p>{{end}}
<p style="color:#666">Etapa atual: {{.N.CurrentStageLabel}}{{if .N.NextStageLabel}} &rarr; {{.N.NextStageLabel}}{{end}}</p>
</body></html>
`))

func (e Email) Dispatch(ctx context.Context, n Notification) error {
	if n.Contact.Email == "" {
		return fmt.Errorf("email: process %s has no contact e-mail", n.ProcessNumber)
	}
	var body bytes.Buffer
	if err := emailTemplate.Execute(&body, struct {
		N    Notification
		Text string
	}{n, Message(n)}); err != nil {
		return fmt.Errorf("email: render: %w", err)
	}
	msg := buildMessage(e.FromName, e.From, n.Contact.Email, Subject(n), body.String())
	send := e.Send
	if send == nil {
		send = e.smtpSend
	}
	if err := send(ctx, e.From, []string{n.Contact.Email}, msg); err != nil {
		return fmt.Errorf("email: %w", err)
	}
	return nil
}

func buildMessage(fromName, from, to, subject, html string) []byte {
	var b strings.Builder
	sender := from
	if fromName != "" {
		sender = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", fromName), from)
	}
	fmt.Fprintf(&b, "From: %s\r\n", sender)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n\r\n")
	b.WriteString(html)
	return []byte(b.String())
}

func (e Email) smtpSend(ctx context.Context, from string, to []string, msg []byte) error {
	if e.Host == "" {
		return fmt.Errorf("smtp host not configured")
	}
	port := e.Port
	if port == 0 {
		port = 587
	}
	d := net.Dialer{Timeout: 15 * time.Second}
	if deadline, ok := ctx.Deadline(); ok {
		d.Deadline = deadline
	}
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", e.Host, port))
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	c, err := smtp.NewClient(conn, e.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("new client: %w", err)
	}
	defer c.Close()
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: e.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if e.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", e.Username, e.Password, e.Host)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}
	return c.Quit()
}
