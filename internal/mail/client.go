package mail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/gomail.v2"
)

var (
	ErrDisabled       = errors.New("mail delivery disabled")
	ErrInvalidMessage = errors.New("invalid mail message")
)

type Config struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// Inline is an attachment referenced from the HTML body as cid:<Name>.
type Inline struct {
	Name string
	Data []byte
}

type Message struct {
	To       []string
	Subject  string
	TextBody string
	HTMLBody string
	Inline   []Inline
}

// Sender delivers one message synchronously.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

type SMTPClient struct {
	cfg Config
}

func NewSMTPClient(cfg Config) *SMTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SMTPClient{cfg: cfg}
}

func (c *SMTPClient) Send(ctx context.Context, m Message) error {
	if !c.cfg.Enabled {
		return ErrDisabled
	}

	msg, err := buildMessage(c.cfg.From, m)
	if err != nil {
		return err
	}

	d := gomail.NewDialer(c.cfg.Host, c.cfg.Port, c.cfg.Username, c.cfg.Password)

	done := make(chan error, 1)
	go func() {
		done <- d.DialAndSend(msg)
	}()

	wait := c.cfg.Timeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left > 0 && left < wait {
			wait = left
		}
	}

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return context.DeadlineExceeded
	}
}

func buildMessage(from string, m Message) (*gomail.Message, error) {
	from = strings.TrimSpace(from)
	if from == "" {
		return nil, fmt.Errorf("%w: from is required", ErrInvalidMessage)
	}
	to := cleanAddrs(m.To)
	if len(to) == 0 {
		return nil, fmt.Errorf("%w: no recipients", ErrInvalidMessage)
	}
	subject := strings.TrimSpace(m.Subject)
	if subject == "" {
		return nil, fmt.Errorf("%w: subject is required", ErrInvalidMessage)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", from)
	msg.SetHeader("To", to...)
	msg.SetHeader("Subject", subject)

	hasText := strings.TrimSpace(m.TextBody) != ""
	hasHTML := strings.TrimSpace(m.HTMLBody) != ""
	switch {
	case hasText && hasHTML:
		msg.SetBody("text/plain", m.TextBody)
		msg.AddAlternative("text/html", m.HTMLBody)
	case hasHTML:
		msg.SetBody("text/html", m.HTMLBody)
	case hasText:
		msg.SetBody("text/plain", m.TextBody)
	default:
		return nil, fmt.Errorf("%w: body is required", ErrInvalidMessage)
	}

	for _, in := range m.Inline {
		data := in.Data
		msg.Embed(in.Name, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		}))
	}

	return msg, nil
}

func cleanAddrs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
