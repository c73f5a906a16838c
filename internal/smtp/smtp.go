package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"majordomo/internal/config"
)

const (
	dialTimeout        = 30 * time.Second
	defaultSendTimeout = 2 * time.Minute
)

// Send delivers one message. Every step of the session shares one deadline:
// cfg.SMTP.Timeout from now, or ctx's deadline when that is sooner.
func Send(ctx context.Context, cfg config.Config, from string, recipients []string, msg []byte) error {
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients provided")
	}

	timeout := cfg.SMTP.Timeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := net.JoinHostPort(cfg.SMTP.Host, fmt.Sprint(cfg.SMTP.Port))
	host := cfg.SMTP.Host
	tlsConfig := &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
	}

	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return err
	}
	if cfg.SMTP.TLS {
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return err
		}
		conn = tlsConn
	}

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer c.Close()

	if !cfg.SMTP.TLS && cfg.SMTP.StartTLS {
		if err := c.StartTLS(tlsConfig); err != nil {
			return err
		}
	}

	if cfg.Auth.Username != "" {
		auth := smtp.PlainAuth("", cfg.Auth.Username, cfg.Auth.Password, host)
		if err := c.Auth(auth); err != nil {
			return err
		}
	}

	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range recipients {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	return c.Quit()
}
