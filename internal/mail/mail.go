// Package mail composes account emails and hands them to a Sender.
package mail

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"kontakt.org/internal/obs"
)

// Message is a plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ConfirmationLink is the URL that confirms email ownership for token.
func ConfirmationLink(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + "/api/auth/confirmed_email/" + url.PathEscape(token)
}

// ConfirmationMessage builds the "confirm your email" message.
func ConfirmationMessage(baseURL, username, email, token string) Message {
	link := ConfirmationLink(baseURL, token)
	return Message{
		To:      email,
		Subject: "Confirm your email",
		Body: fmt.Sprintf("Hi %s,\n\nplease confirm your email address by opening the link below:\n\n%s\n",
			username, link),
	}
}

// LogSender writes messages to the log instead of an SMTP relay.
type LogSender struct {
	log *zap.Logger
}

func NewLogSender(l *zap.Logger) *LogSender {
	if l == nil {
		l = obs.Logger()
	}
	return &LogSender{log: l}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.log.Info("mail_outbound",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}

// Dispatcher sends in the background so request handlers never wait on delivery.
type Dispatcher struct {
	sender  Sender
	timeout time.Duration
	log     *zap.Logger
	wg      sync.WaitGroup
}

func NewDispatcher(sender Sender, timeout time.Duration, l *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if l == nil {
		l = obs.Logger()
	}
	return &Dispatcher{sender: sender, timeout: timeout, log: l}
}

// Dispatch queues msg. The send outlives ctx cancellation but keeps its values.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) {
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		if err := d.sender.Send(sendCtx, msg); err != nil {
			d.log.Error("mail_send_failed", zap.String("to", msg.To), zap.Error(err))
		}
	}()
}

// Wait blocks until queued sends finish. Used on shutdown and in tests.
func (d *Dispatcher) Wait() { d.wg.Wait() }
