package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"html"
	"sync"

	mail "github.com/go-mail/mail"

	"github.com/dropDatabas3/sokoni/internal/observability/logger"
)

// Sender envía un email.
type Sender interface {
	Send(to, subject, htmlBody, textBody string) error
}

// SMTPSender implementa Sender usando SMTP.
type SMTPSender struct {
	Host               string
	Port               int
	From               string
	User               string
	Pass               string
	TLSMode            string // "auto" | "starttls" | "ssl" | "none"
	InsecureSkipVerify bool
}

// NewSMTPSender crea un nuevo SMTPSender con los parámetros dados.
func NewSMTPSender(host string, port int, from, user, pass, tlsMode string) *SMTPSender {
	if tlsMode == "" {
		tlsMode = "auto"
	}
	if port == 0 {
		port = 587
	}
	return &SMTPSender{Host: host, Port: port, From: from, User: user, Pass: pass, TLSMode: tlsMode}
}

// Send envía un email multipart (texto + html).
func (s *SMTPSender) Send(to, subject, htmlBody, textBody string) error {
	m := mail.NewMessage()
	m.SetHeader("From", s.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	if textBody != "" {
		m.SetBody("text/plain", textBody)
	}
	if htmlBody != "" {
		if textBody == "" {
			m.SetBody("text/html", htmlBody)
		} else {
			m.AddAlternative("text/html", htmlBody)
		}
	}

	d := mail.NewDialer(s.Host, s.Port, s.User, s.Pass)
	d.TLSConfig = &tls.Config{ServerName: s.Host, InsecureSkipVerify: s.InsecureSkipVerify}
	switch s.TLSMode {
	case "ssl":
		d.SSL = true
	case "none":
		d.TLSConfig = &tls.Config{InsecureSkipVerify: s.InsecureSkipVerify}
	default:
		// "auto"/"starttls": go-mail negocia STARTTLS si corresponde
	}

	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// Mailer manda el mail de bienvenida. Ignora cualquier notice que no sea KindWelcome
// o que no tenga destinatario. El envío corre en background.
type Mailer struct {
	Sender  Sender
	AppName string

	wg sync.WaitGroup
}

func (m *Mailer) Notify(ctx context.Context, n Notice) {
	if n.Kind != KindWelcome || n.Recipient == "" || m.Sender == nil {
		return
	}
	app := m.AppName
	if app == "" {
		app = "Sokoni"
	}
	subject, htmlBody, textBody := welcomeMail(app, n)
	log := logger.From(ctx).With(logger.Component("notify.mailer"))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.Sender.Send(n.Recipient, subject, htmlBody, textBody); err != nil {
			log.Warn("welcome mail failed", logger.Err(err))
			return
		}
		log.Debug("welcome mail sent")
	}()
}

// Wait espera los envíos en curso.
func (m *Mailer) Wait() { m.wg.Wait() }

func welcomeMail(app string, n Notice) (subject, htmlBody, textBody string) {
	name := n.Name
	if name == "" {
		name = "there"
	}
	subject = fmt.Sprintf("Welcome to %s", app)
	textBody = fmt.Sprintf("Hi %s,\n\n%s\n\nThe %s team", name, n.Message, app)
	htmlBody = fmt.Sprintf("<p>Hi %s,</p><p>%s</p><p>The %s team</p>",
		html.EscapeString(name), html.EscapeString(n.Message), html.EscapeString(app))
	return subject, htmlBody, textBody
}
