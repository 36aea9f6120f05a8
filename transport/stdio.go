package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// Stdio is the subprocess transport: it spawns the configured command,
// pipes its stdout through a MessageBuffer, writes each outbound message as
// one newline-terminated JSON line to its stdin, and surfaces the child's
// exit status as the transport's close reason.
type Stdio struct {
	command string
	args    []string
	env     []string
	dir     string
	fs      afero.Fs
	logger  *log.Logger

	mu        sync.Mutex
	owner     Owner
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	buffer    *MessageBuffer
	connected bool
	closeOnce sync.Once
	closeErr  error

	// waitDone and exitCode are owned by waitLoop, which is the only
	// goroutine ever allowed to call cmd.Wait() — os/exec does not support
	// calling Wait concurrently from two goroutines. Close() waits on
	// waitDone and reads exitCode instead of calling Wait() itself.
	waitDone chan struct{}
	exitCode int
}

// StdioOption configures a Stdio transport at construction.
type StdioOption func(*Stdio)

// WithEnv sets additional environment variables (appended to the parent
// process's environment) for the spawned subprocess.
func WithEnv(env []string) StdioOption {
	return func(s *Stdio) { s.env = env }
}

// WithDir sets the subprocess's working directory.
func WithDir(dir string) StdioOption {
	return func(s *Stdio) { s.dir = dir }
}

// WithFilesystem overrides the afero.Fs used to locate the subprocess
// executable and validate its working directory. Tests use this to exercise
// PATH search and cd validation against an afero.NewMemMapFs() fixture
// without touching the real filesystem; production code defaults to
// afero.NewOsFs().
func WithFilesystem(fs afero.Fs) StdioOption {
	return func(s *Stdio) { s.fs = fs }
}

// WithStdioLogger overrides the logger used for diagnostics. Diagnostics
// never touch stdout — only the logger's writer (stderr by default) — so
// stray bytes can't corrupt the newline-delimited JSON framing.
func WithStdioLogger(l *log.Logger) StdioOption {
	return func(s *Stdio) { s.logger = l }
}

// NewStdio constructs a Stdio transport for the given command and
// arguments. The command is resolved at Start time: a path that is absolute
// or contains a separator is used as-is, otherwise it is searched on PATH.
func NewStdio(command string, args []string, opts ...StdioOption) *Stdio {
	s := &Stdio{
		command: command,
		args:    args,
		fs:      afero.NewOsFs(),
		logger:  log.New(os.Stderr, "mcpclient/stdio: ", log.LstdFlags),
		buffer:  NewMessageBuffer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// resolveCommand locates the executable for command on fs: a path that is
// absolute or contains a separator is used as-is once it is confirmed to
// exist and not be a directory; otherwise every directory on PATH is checked
// in order for a non-directory entry.
func resolveCommand(fs afero.Fs, command string) (string, error) {
	if filepath.IsAbs(command) || strings.ContainsRune(command, os.PathSeparator) {
		info, err := fs.Stat(command)
		if err != nil {
			return "", fmt.Errorf("transport: stat %q: %w", command, err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("transport: %q is a directory", command)
		}
		return command, nil
	}

	pathEnv := os.Getenv("PATH")
	for _, dir := range filepath.SplitList(pathEnv) {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, command)
		info, err := fs.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		return candidate, nil
	}
	return "", fmt.Errorf("transport: %q not found on PATH", command)
}

// Start spawns the subprocess and begins streaming its stdout through the
// MessageBuffer. It returns once the process has been started; OnReady
// fires asynchronously right before the stdout-reading loop begins.
func (s *Stdio) Start(ctx context.Context, owner Owner) error {
	s.mu.Lock()
	s.owner = owner
	s.mu.Unlock()

	if s.dir != "" {
		info, err := s.fs.Stat(s.dir)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("transport: working directory %q: %w", s.dir, err)
		}
	}

	resolved, err := resolveCommand(s.fs, s.command)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, resolved, s.args...)
	if s.dir != "" {
		cmd.Dir = s.dir
	}
	if len(s.env) > 0 {
		cmd.Env = append(os.Environ(), s.env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("transport: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("transport: stdout pipe: %w", err)
	}
	cmd.Stderr = &stderrLogWriter{logger: s.logger}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("transport: start %q: %w", resolved, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.stdin = stdin
	s.connected = true
	s.waitDone = make(chan struct{})
	s.mu.Unlock()

	go s.readLoop(stdout)
	go s.waitLoop()

	return nil
}

// stderrLogWriter routes the subprocess's stderr to the transport's logger,
// one line at a time, so diagnostic output never touches stdout.
type stderrLogWriter struct {
	logger *log.Logger
	buf    bytes.Buffer
}

func (w *stderrLogWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Put back the partial line we consumed looking for '\n'.
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		w.logger.Printf("subprocess stderr: %s", strings.TrimRight(line, "\n"))
	}
	return len(p), nil
}

func (s *Stdio) readLoop(stdout io.ReadCloser) {
	s.owner.OnReady()

	buf := make([]byte, 64*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			frames, bufErr := s.buffer.Append(buf[:n])
			if bufErr != nil {
				s.owner.OnError(bufErr)
				s.Close()
				return
			}
			for _, frame := range frames {
				s.owner.OnMessage(frame)
			}
		}
		if err != nil {
			if err != io.EOF {
				s.owner.OnError(fmt.Errorf("transport: read: %w", err))
			}
			if frame := s.buffer.Reset(); frame != nil {
				s.owner.OnMessage(frame)
			}
			s.Close()
			return
		}
	}
}

// waitLoop is the sole caller of cmd.Wait() for this subprocess. Close()
// never calls Wait() itself; it waits on waitDone and reads exitCode,
// since os/exec does not support concurrent Wait() calls on the same Cmd.
func (s *Stdio) waitLoop() {
	s.mu.Lock()
	cmd := s.cmd
	waitDone := s.waitDone
	s.mu.Unlock()
	if cmd == nil {
		return
	}

	_ = cmd.Wait()

	s.mu.Lock()
	if cmd.ProcessState != nil {
		s.exitCode = cmd.ProcessState.ExitCode()
	}
	s.mu.Unlock()
	close(waitDone)
}

// Send writes encode(message) + "\n" to the subprocess's stdin.
func (s *Stdio) Send(ctx context.Context, message map[string]any) error {
	raw, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("transport: encode: %w", err)
	}
	raw = append(raw, '\n')

	s.mu.Lock()
	stdin := s.stdin
	connected := s.connected
	s.mu.Unlock()

	if !connected || stdin == nil {
		return fmt.Errorf("transport: not connected")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	_, err = stdin.Write(raw)
	if err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

// Close closes stdin first (signalling EOF to the child), then waits briefly
// for the child to exit before killing it, and finally surfaces the closed
// event with the exit status ("normal" for code 0, else the numeric status).
func (s *Stdio) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		stdin := s.stdin
		cmd := s.cmd
		owner := s.owner
		waitDone := s.waitDone
		s.connected = false
		s.mu.Unlock()

		if stdin != nil {
			_ = stdin.Close()
		}

		reason := "normal"
		if cmd != nil && cmd.Process != nil && waitDone != nil {
			select {
			case <-waitDone:
			case <-time.After(5 * time.Second):
				_ = cmd.Process.Kill()
				<-waitDone
			}
			s.mu.Lock()
			code := s.exitCode
			s.mu.Unlock()
			if code != 0 {
				reason = fmt.Sprintf("%d", code)
			}
		}

		if owner != nil {
			owner.OnClosed(reason)
		}
	})
	return s.closeErr
}

// IsConnected reports whether the subprocess is currently running and its
// stdin is open for writes.
func (s *Stdio) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}
