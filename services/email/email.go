package emailsvc

import (
	"github.com/trezcool/masomo-portal/core"
)

// New returns the EmailService configured by conf.Email.Backend (console by default).
func New(conf *core.Config, logger core.Logger) core.EmailService {
	switch conf.Email.Backend {
	case core.EmailSendgrid:
		return NewSendgridService(conf, logger)
	case core.EmailSMTP:
		return NewSMTPService(conf, logger)
	default:
		return NewConsoleService(conf, logger)
	}
}
