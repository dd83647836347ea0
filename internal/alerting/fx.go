package alerting

import (
	"github.com/smallbiznis/agencyledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("alerting",
	fx.Provide(NewLogNotifier),
	fx.Decorate(withMail),
)

func withMail(n Notifier, cfg config.Config, log *zap.Logger) Notifier {
	if !cfg.AlertMailEnabled() {
		return n
	}
	sender := NewSMTPSender(SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
	return NewMailNotifier(n, sender, cfg.AlertEmailTo, log)
}
