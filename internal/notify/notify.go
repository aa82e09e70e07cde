// Package notify delivers verification codes to users.
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// Message is one verification code addressed to a pending account.
type Message struct {
	Username  string
	Email     string
	Code      string
	ExpiresIn time.Duration
}

type Notifier interface {
	SendVerificationCode(ctx context.Context, msg Message) error
}

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

const defaultSMTPTimeout = 10 * time.Second

// SMTPNotifier sends codes as plain-text mail. The whole SMTP exchange is
// bounded by Timeout and by the caller's context; cancelling the context
// closes the connection, so no mail leaves after the caller gave up.
type SMTPNotifier struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
	Timeout  time.Duration

	dial dialFunc
}

func NewSMTPNotifier(host string, port int, from, username, password string) *SMTPNotifier {
	dialer := &net.Dialer{}
	return &SMTPNotifier{
		Host:     host,
		Port:     port,
		From:     from,
		Username: username,
		Password: password,
		Timeout:  defaultSMTPTimeout,
		dial:     dialer.DialContext,
	}
}

func (n *SMTPNotifier) SendVerificationCode(ctx context.Context, msg Message) error {
	if strings.ContainsAny(msg.Email, "\r\n") {
		return fmt.Errorf("invalid recipient address")
	}

	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: Your verification code\r\n\r\n"+
		"Hello %s,\r\n\r\nYour verification code is %s. It expires in %s.\r\n",
		n.From,
		msg.Email,
		msg.Username,
		msg.Code,
		msg.ExpiresIn.Round(time.Second),
	)

	if err := n.deliver(ctx, msg.Email, []byte(body)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("send verification mail: %w", ctxErr)
		}
		return fmt.Errorf("send verification mail: %w", err)
	}
	return nil
}

func (n *SMTPNotifier) deliver(ctx context.Context, to string, body []byte) error {
	timeout := n.Timeout
	if timeout <= 0 {
		timeout = defaultSMTPTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := n.dial(ctx, "tcp", net.JoinHostPort(n.Host, strconv.Itoa(n.Port)))
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	client, err := smtp.NewClient(conn, n.Host)
	if err != nil {
		return fmt.Errorf("greeting: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: n.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if n.Username != "" {
		if ok, _ := client.Extension("AUTH"); !ok {
			return fmt.Errorf("server does not support authentication")
		}
		if err := client.Auth(smtp.PlainAuth("", n.Username, n.Password, n.Host)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(n.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("end data: %w", err)
	}

	return client.Quit()
}

// LogNotifier writes codes to the log instead of sending them. It exists for
// local development where no SMTP relay is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendVerificationCode(ctx context.Context, msg Message) error {
	n.logger.InfoContext(ctx, "verification code issued",
		"username", msg.Username,
		"email", msg.Email,
		"code", msg.Code,
		"expires_in", msg.ExpiresIn.String(),
	)
	return nil
}
