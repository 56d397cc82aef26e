package notify

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/matcornic/hermes/v2"

	"github.com/teleguard-io/teleguard-worker/internal/model"
)

// smtpSender renders an alert email with hermes and delivers it over
// SMTP, choosing implicit TLS (port 465) or a STARTTLS-capable plain dial
// for anything else, matching the two transports the teacher's other
// mail-sending dependency supports.
type smtpSender struct {
	host string
	port int
	user string
	pass string
	from string
}

func hermesConfig() hermes.Hermes {
	return hermes.Hermes{
		Theme: new(hermes.Default),
		Product: hermes.Product{
			Name:      "TeleGuard",
			Link:      "https://teleguard.io",
			Copyright: "© TeleGuard. All rights reserved.",
		},
	}
}

func (d *Dispatcher) sendEmail(to string, rule model.Rule, trigger, from, body string) error {
	subject := fmt.Sprintf("%s: %s", alertPrefix, trigger)

	email := hermes.Email{
		Body: hermes.Body{
			Title: subject,
			Intros: []string{
				fmt.Sprintf("Your alert on **%s** matched the keyword **%q** in %s, sent by **%s**.", rule.SourceName, trigger, sourceLabel(rule), from),
			},
			Dictionary: []hermes.Entry{
				{Key: "Trigger", Value: trigger},
				{Key: "Sender", Value: from},
				{Key: "Source", Value: sourceLabel(rule)},
				{Key: "Message", Value: "> " + model.TruncateMessage(body, BodyPreviewLen)},
			},
			Outros: []string{
				"Manage this alert from the TeleGuard dashboard.",
			},
		},
	}

	h := hermesConfig()
	htmlBody, err := h.GenerateHTML(email)
	if err != nil {
		return fmt.Errorf("render html body: %w", err)
	}
	plainBody, err := h.GeneratePlainText(email)
	if err != nil {
		return fmt.Errorf("render plain text body: %w", err)
	}

	return d.smtp.send(to, subject, plainBody, htmlBody)
}

func sourceLabel(rule model.Rule) string {
	if rule.SourceName != "" {
		return rule.SourceName
	}
	return "a monitored chat"
}

func (s *smtpSender) send(to, subject, plainBody, htmlBody string) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	auth := smtp.PlainAuth("", s.user, s.pass, s.host)

	boundary := "teleguard-alert-boundary"
	headers := []string{
		fmt.Sprintf("From: %s", s.from),
		fmt.Sprintf("To: %s", to),
		fmt.Sprintf("Subject: %s", subject),
		"MIME-Version: 1.0",
		fmt.Sprintf(`Content-Type: multipart/alternative; boundary="%s"`, boundary),
	}
	var b strings.Builder
	b.WriteString(strings.Join(headers, "\r\n"))
	b.WriteString("\r\n\r\n")
	fmt.Fprintf(&b, "--%s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s\r\n\r\n", boundary, plainBody)
	fmt.Fprintf(&b, "--%s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s\r\n\r\n", boundary, htmlBody)
	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	msg := []byte(b.String())

	if s.port == 465 {
		return s.sendWithImplicitTLS(addr, auth, to, msg)
	}
	return smtp.SendMail(addr, auth, s.from, []string{to}, msg)
}

func (s *smtpSender) sendWithImplicitTLS(addr string, auth smtp.Auth, to string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: s.host})
	if err != nil {
		return fmt.Errorf("tls dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("split host port: %w", err)
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("new smtp client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := client.Mail(s.from); err != nil {
		return fmt.Errorf("smtp mail: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data writer: %w", err)
	}
	return client.Quit()
}
