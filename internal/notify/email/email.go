// Package email implements the notification channel over SMTP.
package email

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/rizwan0110/JobSearch-Agent/internal/notify"
	"github.com/rizwan0110/JobSearch-Agent/internal/retry"
)

const channelName = "email"

// Config holds the SMTP settings for the email channel.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	StartTLS bool
}

// Channel sends notifications as plain-text emails.
type Channel struct {
	client *mail.Client
	from   string
	logger *zap.Logger
}

// New builds the email channel from SMTP settings.
func New(cfg Config, logger *zap.Logger) (*Channel, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp host is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("sender address is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []mail.Option{
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
	}
	if cfg.Port > 0 {
		opts = append(opts, mail.WithPort(cfg.Port))
	}
	if cfg.StartTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}

	return &Channel{client: client, from: cfg.From, logger: logger}, nil
}

// Name implements notify.Channel.
func (c *Channel) Name() string { return channelName }

// Send implements notify.Channel. Connection-level failures are transient;
// a rejected message (bad address, policy refusal) is not.
func (c *Channel) Send(ctx context.Context, n notify.Notification) error {
	msg := mail.NewMsg()
	if err := msg.From(c.from); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	if err := msg.To(n.Recipient); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}
	msg.Subject(n.Subject)
	msg.SetBodyString(mail.TypeTextPlain, n.Body)

	c.logger.Debug("sending email",
		zap.String("recipient", n.Recipient),
		zap.String("subject", n.Subject),
	)

	if err := c.client.DialAndSendWithContext(ctx, msg); err != nil {
		if isTransientSMTPError(err) {
			return retry.Transient(fmt.Errorf("send email: %w", err))
		}
		return fmt.Errorf("send email: %w", err)
	}

	return nil
}

func isTransientSMTPError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// 4xx SMTP replies are flagged temporary by go-mail.
	var sendErr *mail.SendError
	if errors.As(err, &sendErr) {
		return sendErr.IsTemp()
	}

	return false
}
