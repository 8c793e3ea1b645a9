package command

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/chatdesk/internal/tests/fakeauth"
)

// syncBuffer is written by command goroutines and read by the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// harness runs chatdesk invocations against one fake backend and one
// badger store directory, the way consecutive shell commands would.
type harness struct {
	t        *testing.T
	srv      *fakeauth.Server
	home     string
	storeDir string
	global   []string
}

func newHarness(t *testing.T, opts ...fakeauth.Option) *harness {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)

	srv := fakeauth.New(t, opts...)
	h := &harness{
		t:        t,
		srv:      srv,
		home:     home,
		storeDir: filepath.Join(home, "credentials"),
	}
	h.global = []string{
		"--auth-url", srv.URL,
		"--chat-url", srv.URL,
		"--docs-url", srv.URL,
		"--store-dir", h.storeDir,
	}
	return h
}

type result struct {
	stdout string
	stderr string
	code   int
}

// run executes one invocation with stdin as input.
func (h *harness) run(stdin string, args ...string) result {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return h.runContext(ctx, stdin, args...)
}

func (h *harness) runContext(ctx context.Context, stdin string, args ...string) result {
	h.t.Helper()
	var stdout, stderr syncBuffer
	app := newApp(openStore)
	app.Reader = strings.NewReader(stdin)
	app.Writer = &stdout
	app.ErrWriter = &stderr

	full := append([]string{"chatdesk"}, h.global...)
	full = append(full, args...)
	code := run(ctx, app, full)
	return result{stdout: stdout.String(), stderr: stderr.String(), code: code}
}

// mustRun fails the test unless the invocation exits 0.
func (h *harness) mustRun(stdin string, args ...string) result {
	h.t.Helper()
	res := h.run(stdin, args...)
	if res.code != 0 {
		h.t.Fatalf("chatdesk %s: exit %d\nstdout: %s\nstderr: %s",
			strings.Join(args, " "), res.code, res.stdout, res.stderr)
	}
	return res
}

func (h *harness) login() {
	h.t.Helper()
	h.mustRun(fakeauth.DefaultPassword+"\n", "login", "--username", fakeauth.DefaultUser, "--password-stdin")
}

// status returns the decoded `session status -o json` output.
func (h *harness) status() statusView {
	h.t.Helper()
	res := h.mustRun("", "-o", "json", "session", "status")
	var v statusView
	if err := json.Unmarshal([]byte(res.stdout), &v); err != nil {
		h.t.Fatalf("decode status: %v\n%s", err, res.stdout)
	}
	return v
}

// writeConfig writes a config file under the harness home.
func (h *harness) writeConfig(content string) string {
	h.t.Helper()
	path := filepath.Join(h.home, "chatdesk.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		h.t.Fatal(err)
	}
	return path
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}
