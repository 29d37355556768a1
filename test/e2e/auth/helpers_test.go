package auth_test

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KasunCSB/University-Information-System-sub001/internal/auth/app"
	"github.com/KasunCSB/University-Information-System-sub001/pkg/slogx"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

/*
 * Common helpers for the auth core end-to-end tests: an SMTP sink that
 * captures the emailed tokens, an optional redis container for the shared
 * deny list, and instances of the full application wired from the
 * environment the way cmd/auth does it.
 */

const (
	accessSecret  = "e2e-access-secret-e2e-access-secret-0123"
	refreshSecret = "e2e-refresh-secret-e2e-refresh-secret-0123"
	publicBaseURL = "https://portal.uni.example"
)

var tokenRe = regexp.MustCompile(`token=([A-Za-z0-9_-]+)`)

type message struct {
	to   string
	body string
}

// mailSink is a minimal SMTP server that keeps every message it receives.
type mailSink struct {
	addr string

	mu   sync.Mutex
	msgs []message
}

func newMailSink(t *testing.T) *mailSink {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	s := &mailSink{addr: ln.Addr().String()}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()
	return s
}

func (s *mailSink) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	reply := func(line string) { _, _ = conn.Write([]byte(line + "\r\n")) }
	reply("220 sink ESMTP")

	var to string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimSpace(line)
		upper := strings.ToUpper(cmd)
		switch {
		case strings.HasPrefix(upper, "RCPT TO:"):
			to = strings.Trim(cmd[len("RCPT TO:"):], "<> ")
			reply("250 ok")
		case upper == "DATA":
			reply("354 end with <CRLF>.<CRLF>")
			var b strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				b.WriteString(l)
			}
			s.mu.Lock()
			s.msgs = append(s.msgs, message{to: to, body: b.String()})
			s.mu.Unlock()
			reply("250 queued")
		case upper == "QUIT":
			reply("221 bye")
			return
		default:
			reply("250 ok")
		}
	}
}

// lastToken returns the token in the newest message to `to` whose link
// points at path, waiting briefly for it to arrive.
func (s *mailSink) lastToken(t *testing.T, to, path string) string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		for i := len(s.msgs) - 1; i >= 0; i-- {
			m := s.msgs[i]
			if m.to != to || !strings.Contains(m.body, publicBaseURL+path) {
				continue
			}
			if match := tokenRe.FindStringSubmatch(m.body); match != nil {
				s.mu.Unlock()
				return match[1]
			}
		}
		s.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no %s message for %s", path, to)
	return ""
}

func (s *mailSink) count(to string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.msgs {
		if m.to == to {
			n++
		}
	}
	return n
}

// setupRedis starts a redis container and returns its address.
func setupRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container test in -short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)
	return fmt.Sprintf("%s:%s", host, port.Port())
}

// deployment is the shared environment several instances run against.
type deployment struct {
	dir       string
	sink      *mailSink
	redisAddr string // empty selects the sqlite revocation backend
}

func newDeployment(t *testing.T, redisAddr string) *deployment {
	t.Helper()
	d := &deployment{dir: t.TempDir(), sink: newMailSink(t), redisAddr: redisAddr}

	t.Setenv("AUTH_ACCESS_SECRET", accessSecret)
	t.Setenv("AUTH_REFRESH_SECRET", refreshSecret)
	t.Setenv("DATABASE_FILE", filepath.Join(d.dir, "auth.db"))
	t.Setenv("PEPPER_FILE", filepath.Join(d.dir, "pepper"))
	t.Setenv("MAILER", app.MailerSMTP)
	t.Setenv("SMTP_ADDR", d.sink.addr)
	t.Setenv("SMTP_FROM", "noreply@uni.example")
	t.Setenv("PUBLIC_BASE_URL", publicBaseURL)
	t.Setenv("METRICS_ADDR", "127.0.0.1:0")
	t.Setenv("ENV", "test")
	if redisAddr != "" {
		t.Setenv("REVOCATION_BACKEND", app.RevocationBackendRedis)
		t.Setenv("REDIS_ADDR", redisAddr)
		t.Setenv("REDIS_PREFIX", "e2e:revoked:")
	}
	return d
}

// instance boots one application process against the deployment.
func (d *deployment) instance(t *testing.T) *app.Application {
	t.Helper()
	cfg, err := app.LoadConfig("")
	require.NoError(t, err)

	a, err := app.NewWithLogger(cfg, slogx.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown() })
	return a
}
