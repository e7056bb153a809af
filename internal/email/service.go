package email

import (
	"context"
	"fmt"
	"time"
)

// Transport delivers rendered messages.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// Service renders identity emails and hands them to a transport, bounding
// each delivery with a timeout.
type Service struct {
	transport Transport
	appName   string
	timeout   time.Duration
}

func NewService(transport Transport, appName string, timeout time.Duration) *Service {
	return &Service{transport: transport, appName: appName, timeout: timeout}
}

func (s *Service) SendPasswordlessLoginCode(ctx context.Context, to, code string, ttl time.Duration) error {
	minutes := int(ttl.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	msg, err := loginCodeTemplate.render(to, SubjectLoginCode, map[string]any{
		"AppName": s.appName,
		"Code":    code,
		"Minutes": minutes,
	})
	if err != nil {
		return fmt.Errorf("rendering login code email: %w", err)
	}
	return s.send(ctx, msg)
}

func (s *Service) SendConfirmationLink(ctx context.Context, to, userName, link string) error {
	msg, err := confirmEmailTemplate.render(to, SubjectConfirmEmail, map[string]any{
		"AppName":  s.appName,
		"UserName": plain(userName),
		"Link":     link,
	})
	if err != nil {
		return fmt.Errorf("rendering confirmation email: %w", err)
	}
	return s.send(ctx, msg)
}

func (s *Service) SendPasswordResetCode(ctx context.Context, to, userName, code string) error {
	msg, err := passwordResetTemplate.render(to, SubjectPasswordReset, map[string]any{
		"AppName":  s.appName,
		"UserName": plain(userName),
		"Code":     code,
	})
	if err != nil {
		return fmt.Errorf("rendering password reset email: %w", err)
	}
	return s.send(ctx, msg)
}

func (s *Service) send(ctx context.Context, msg Message) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.transport.Send(ctx, msg)
}
