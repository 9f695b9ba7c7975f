package emailsvc

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"net/mail"

	"gopkg.in/gomail.v2"

	"github.com/trezcool/masomo-portal/core"
)

type smtpService struct {
	dialer          *gomail.Dialer
	from            mail.Address
	subjPrefix      string
	frontendBaseURL string
	logger          core.Logger
}

var _ core.EmailService = (*smtpService)(nil)

func NewSMTPService(conf *core.Config, logger core.Logger) core.EmailService {
	ec := conf.Email
	return &smtpService{
		dialer:          gomail.NewDialer(ec.SMTPHost, ec.SMTPPort, ec.SMTPUser, ec.SMTPPassword),
		from:            conf.DefaultFromEmail(),
		subjPrefix:      "[" + conf.AppName + "] ",
		frontendBaseURL: conf.FrontendBaseURL,
		logger:          logger,
	}
}

// SendMessages renders messages and sends them over a single SMTP connection, in the background.
func (svc *smtpService) SendMessages(messages ...*core.EmailMessage) {
	go func() {
		toSend := make([]*gomail.Message, 0, len(messages))
		for _, msg := range messages {
			if err := msg.Render(svc.frontendBaseURL); err != nil {
				svc.logger.Error(fmt.Sprintf("emailsvc.smtp: rendering %q: %v", msg.Subject, err), err)
				continue
			}
			if msg.HasRecipients() && (msg.HasContent() || msg.HasAttachments()) {
				toSend = append(toSend, svc.prepare(*msg))
			}
		}
		if len(toSend) == 0 {
			return
		}
		if err := svc.dialer.DialAndSend(toSend...); err != nil {
			svc.logger.Error(fmt.Sprintf("emailsvc.smtp: sending %d message(s): %v", len(toSend), err), err)
		}
	}()
}

func (svc *smtpService) prepare(msg core.EmailMessage) *gomail.Message {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", svc.from.Address, svc.from.Name)
	m.SetHeader("Subject", svc.subjPrefix+msg.Subject)
	m.SetHeader("To", formatAddresses(m, msg.To)...)
	if len(msg.Cc) > 0 {
		m.SetHeader("Cc", formatAddresses(m, msg.Cc)...)
	}
	if len(msg.Bcc) > 0 {
		m.SetHeader("Bcc", formatAddresses(m, msg.Bcc)...)
	}

	switch {
	case msg.TextContent != "" && msg.HTMLContent != "":
		m.SetBody("text/plain", msg.TextContent)
		m.AddAlternative("text/html", msg.HTMLContent)
	case msg.HTMLContent != "":
		m.SetBody("text/html", msg.HTMLContent)
	default:
		m.SetBody("text/plain", msg.TextContent)
	}

	for _, at := range msg.Attachments {
		content := at.Content.Bytes()
		m.Attach(at.Filename,
			gomail.SetHeader(map[string][]string{"Content-Type": {at.ContentType}}),
			gomail.SetCopyFunc(func(w io.Writer) error {
				// Attachment.Content is already base64 encoded, gomail encodes it again
				_, err := io.Copy(w, base64.NewDecoder(base64.StdEncoding, bytes.NewReader(content)))
				return err
			}),
		)
	}
	return m
}

func formatAddresses(m *gomail.Message, addrs []mail.Address) []string {
	formatted := make([]string, 0, len(addrs))
	for _, a := range addrs {
		formatted = append(formatted, m.FormatAddress(a.Address, a.Name))
	}
	return formatted
}
