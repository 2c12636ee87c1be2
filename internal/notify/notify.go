// Package notify emails applicants when they complete a form.
package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"sync"
	"time"

	"github.com/ashureev/carebridge/internal/domain"
)

var (
	// ErrQueueFull is returned when too many emails are waiting to be sent.
	ErrQueueFull = errors.New("notification queue full")
	// ErrClosed is returned for notices raised after Close.
	ErrClosed = errors.New("notifier closed")
)

// Config configures the SMTP relay. An empty Host disables sending.
type Config struct {
	Host      string
	Port      int
	Username  string
	Password  string
	From      string
	QueueSize int
}

// Message is a plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ProfileReader fetches a user's profile. A missing profile is (nil, nil).
type ProfileReader interface {
	GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error)
}

type deliverFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender sends through an SMTP relay with PLAIN auth when a username
// is configured. STARTTLS is used when the relay offers it.
type SMTPSender struct {
	cfg     Config
	deliver deliverFunc
}

// NewSMTPSender creates a sender for cfg.
func NewSMTPSender(cfg Config) *SMTPSender {
	s := &SMTPSender{cfg: cfg}
	s.deliver = s.dialAndSend
	return s
}

// Send formats and delivers msg. The SMTP conversation is abandoned when
// ctx is done.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	from, err := mail.ParseAddress(s.cfg.From)
	if err != nil {
		return fmt.Errorf("parse sender address: %w", err)
	}
	to, err := mail.ParseAddress(msg.To)
	if err != nil {
		return fmt.Errorf("parse recipient address: %w", err)
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	if err := s.deliver(ctx, addr, auth, from.Address, []string{to.Address}, formatMessage(from, to, msg, time.Now())); err != nil {
		return fmt.Errorf("send mail to %s: %w", addr, err)
	}
	return nil
}

// dialAndSend runs one SMTP transaction. Once ctx is done the connection
// deadline is moved to now, so a stalled relay cannot hold the caller.
func (s *SMTPSender) dialAndSend(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	err = smtpTransaction(conn, s.cfg.Host, a, from, to, msg)
	if ctxErr := ctx.Err(); err != nil && ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}

func smtpTransaction(conn net.Conn, host string, a smtp.Auth, from string, to []string, msg []byte) error {
	c, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer func() { _ = c.Close() }()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}); err != nil {
			return err
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(a); err != nil {
				return err
			}
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func formatMessage(from, to *mail.Address, msg Message, now time.Time) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from.String())
	fmt.Fprintf(&b, "To: %s\r\n", to.String())
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	b.WriteString(msg.Body)
	return b.Bytes()
}

// Notifier queues completion emails and sends them on a background
// goroutine. With no sender it does nothing.
type Notifier struct {
	profiles ProfileReader
	sender   Sender
	logger   *slog.Logger
	timeout  time.Duration

	queue     chan Message
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a notifier. It is disabled when cfg.Host is empty.
func New(cfg Config, profiles ProfileReader, logger *slog.Logger) *Notifier {
	var sender Sender
	if cfg.Host != "" {
		sender = NewSMTPSender(cfg)
	}
	return NewWithSender(sender, profiles, cfg.QueueSize, logger)
}

// NewWithSender creates a notifier over an arbitrary sender.
func NewWithSender(sender Sender, profiles ProfileReader, queueSize int, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	n := &Notifier{
		profiles: profiles,
		sender:   sender,
		logger:   logger,
		timeout:  30 * time.Second,
		queue:    make(chan Message, queueSize),
		done:     make(chan struct{}),
	}
	if sender != nil {
		n.wg.Add(1)
		go n.run()
	}
	return n
}

// Enabled reports whether emails are sent.
func (n *Notifier) Enabled() bool {
	return n.sender != nil
}

// Sender returns the underlying sender, nil when emails are disabled.
func (n *Notifier) Sender() Sender {
	return n.sender
}

// SessionCompleted queues a confirmation email to the profile's address.
// Users without a profile email are skipped.
func (n *Notifier) SessionCompleted(ctx context.Context, session *domain.FormSession, tpl *domain.FormTemplate) error {
	if n.sender == nil {
		return nil
	}
	profile, err := n.profiles.GetProfile(ctx, session.UserID)
	if err != nil {
		return fmt.Errorf("get profile %s: %w", session.UserID, err)
	}
	if profile == nil || profile.Email == "" {
		n.logger.Debug("No email on profile, skipping completion notice", "session_id", session.ID)
		return nil
	}

	msg := completionMessage(profile, session, tpl)
	select {
	case <-n.done:
		return ErrClosed
	default:
	}
	select {
	case n.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

func completionMessage(p *domain.UserProfile, session *domain.FormSession, tpl *domain.FormTemplate) Message {
	name := p.FullName
	if name == "" {
		name = "applicant"
	}
	var body bytes.Buffer
	fmt.Fprintf(&body, "Hello %s,\r\n\r\n", name)
	fmt.Fprintf(&body, "Your %q form is complete.\r\n\r\n", tpl.Name)
	fmt.Fprintf(&body, "Reference: %s\r\n", session.ID)
	fmt.Fprintf(&body, "Completed fields: %d\r\n", len(session.CompletedFields))
	fmt.Fprintf(&body, "Completed at: %s\r\n\r\n", session.LastActivity.UTC().Format("2006-01-02 15:04 MST"))
	body.WriteString("You can now generate your application documents in CareBridge.\r\n")
	return Message{
		To:      p.Email,
		Subject: "Your application form is complete: " + tpl.Name,
		Body:    body.String(),
	}
}

func (n *Notifier) run() {
	defer n.wg.Done()
	for {
		select {
		case msg := <-n.queue:
			n.send(msg)
		case <-n.done:
			for {
				select {
				case msg := <-n.queue:
					n.send(msg)
				default:
					return
				}
			}
		}
	}
}

func (n *Notifier) send(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	if err := n.sender.Send(ctx, msg); err != nil {
		n.logger.Warn("Failed to send completion email", "error", err)
		return
	}
	n.logger.Info("Completion email sent")
}

// Close sends any queued emails and stops the worker.
func (n *Notifier) Close() {
	n.closeOnce.Do(func() {
		close(n.done)
		n.wg.Wait()
	})
}
