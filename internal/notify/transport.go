package notify

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
)

// Message is a rendered plain-text mail.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Transport delivers rendered messages.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig configures SMTPTransport.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	MaxAttempts int
}

// SMTPTransport sends mail through an SMTP relay, retrying transient failures
// with exponential backoff.
type SMTPTransport struct {
	addr     string
	auth     smtp.Auth
	retryCfg retry.Config
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPTransport returns a transport for cfg. Authentication is only used
// when a username is configured.
func NewSMTPTransport(cfg SMTPConfig) *SMTPTransport {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	t := &SMTPTransport{
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		retryCfg: retry.Config{
			MaxAttempts:   attempts,
			InitialDelay:  500 * time.Millisecond,
			BackoffPolicy: retry.BackoffExponential,
		},
		sendMail: smtp.SendMail,
	}
	if cfg.Username != "" {
		t.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return t
}

// Send delivers msg to every recipient in a single SMTP transaction.
func (t *SMTPTransport) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return nil
	}
	raw := encode(msg)
	r := retry.New[struct{}](t.retryCfg)
	_, err := r.Do(ctx, func(ctx context.Context) (struct{}, error) {
		if err := ctx.Err(); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, t.sendMail(t.addr, t.auth, msg.From, msg.To, raw)
	})
	if err != nil {
		return fmt.Errorf("smtp send to %s: %w", t.addr, err)
	}
	return nil
}

func encode(msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", stripCRLF(msg.From))
	fmt.Fprintf(&b, "To: %s\r\n", stripCRLF(strings.Join(msg.To, ", ")))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}

var crlf = strings.NewReplacer("\r", "", "\n", "")

// stripCRLF keeps an address header on one line.
func stripCRLF(s string) string { return crlf.Replace(s) }

// LogTransport writes messages to a logger instead of sending them.
type LogTransport struct {
	logger *slog.Logger
}

// NewLogTransport returns a LogTransport. A nil logger uses slog.Default().
func NewLogTransport(logger *slog.Logger) *LogTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Send(_ context.Context, msg Message) error {
	t.logger.Info("mail", "from", msg.From, "to", strings.Join(msg.To, ","), "subject", msg.Subject, "body", msg.Body)
	return nil
}
