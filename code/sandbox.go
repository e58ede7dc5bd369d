package code

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/hupe1980/agentcouncil/logging"
)

var (
	// ErrUnsupportedLanguage is returned for languages without a runner.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrNoIsolation is returned when snippets cannot be confined to their
	// scratch directory. The sandbox refuses to run them unconfined.
	ErrNoIsolation = errors.New("sandbox isolation unavailable")
)

// Isolator wraps a command line so that the command can write only inside
// dir. Errors wrap ErrNoIsolation.
type Isolator interface {
	Wrap(dir string, argv []string) ([]string, error)
}

// Bubblewrap confines commands with bwrap(1). The host root is mounted
// read-only, /tmp is private, every namespace including the network is
// unshared and dir is the only writable bind mount.
type Bubblewrap struct {
	// Binary is the bwrap executable; "" looks up "bwrap" in PATH.
	Binary   string
	LookPath func(file string) (string, error)
}

// Wrap implements Isolator.
func (b Bubblewrap) Wrap(dir string, argv []string) ([]string, error) {
	binary := b.Binary
	if binary == "" {
		binary = "bwrap"
	}
	lookPath := b.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	path, err := lookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoIsolation, err)
	}
	wrapped := []string{
		path,
		"--ro-bind", "/", "/",
		"--dev", "/dev",
		"--proc", "/proc",
		"--tmpfs", "/tmp",
		"--bind", dir, dir,
		"--chdir", dir,
		"--unshare-all",
		"--die-with-parent",
		"--new-session",
		"--",
	}
	return append(wrapped, argv...), nil
}

type runner struct {
	file string
	// argv of the command; "{file}" is replaced with the script path
	argv []string
}

var runners = map[string]runner{
	"python":     {file: "main.py", argv: []string{"python3", "{file}"}},
	"bash":       {file: "main.sh", argv: []string{"bash", "{file}"}},
	"sh":         {file: "main.sh", argv: []string{"sh", "{file}"}},
	"go":         {file: "main.go", argv: []string{"go", "run", "{file}"}},
	"javascript": {file: "main.js", argv: []string{"node", "{file}"}},
}

var aliases = map[string]string{
	"py":      "python",
	"python3": "python",
	"shell":   "bash",
	"golang":  "go",
	"js":      "javascript",
	"node":    "javascript",
}

// CanonicalLanguage resolves aliases; it returns "" for unsupported languages.
func CanonicalLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if a, ok := aliases[lang]; ok {
		lang = a
	}
	if _, ok := runners[lang]; ok {
		return lang
	}
	return ""
}

// SandboxOptions configures a SandboxExecutor.
type SandboxOptions struct {
	Timeout time.Duration
	// MaxOutput caps stdout and stderr each, in bytes.
	MaxOutput int
	// BaseDir is where scratch directories are created; "" uses os.TempDir.
	BaseDir string
	// Isolator confines each snippet; nil uses Bubblewrap.
	Isolator Isolator
	Logger   logging.Logger
}

// SandboxExecutor runs snippets in a fresh scratch directory per call. A
// snippet can write only to that directory.
type SandboxExecutor struct {
	opts   SandboxOptions
	logger logging.Logger
}

// NewSandboxExecutor creates a SandboxExecutor with a 10s timeout.
func NewSandboxExecutor(optFns ...func(o *SandboxOptions)) *SandboxExecutor {
	opts := SandboxOptions{
		Timeout:   10 * time.Second,
		MaxOutput: 64 << 10,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Isolator == nil {
		opts.Isolator = Bubblewrap{}
	}
	return &SandboxExecutor{opts: opts, logger: logging.OrNoOp(opts.Logger)}
}

// Execute implements Executor. A non-zero exit or a timeout is reported in the
// Result; the error is reserved for setup failures.
func (s *SandboxExecutor) Execute(ctx context.Context, language, source string) (res Result, err error) {
	lang := CanonicalLanguage(language)
	if lang == "" {
		return Result{Language: language}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}
	res.Language = lang
	r := runners[lang]

	start := time.Now()
	defer func() {
		logging.LogToolCall(s.logger, "code_"+lang, time.Since(start), err == nil && res.OK(), err)
	}()

	dir, err := os.MkdirTemp(s.opts.BaseDir, "council-run-*")
	if err != nil {
		return res, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	for _, sub := range []string{"home", "tmp"} {
		if err := os.Mkdir(filepath.Join(dir, sub), 0o700); err != nil {
			return res, fmt.Errorf("create scratch dir: %w", err)
		}
	}
	script := filepath.Join(dir, r.file)
	if err := os.WriteFile(script, []byte(source), 0o600); err != nil {
		return res, fmt.Errorf("write source: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	argv := make([]string, len(r.argv))
	for i, a := range r.argv {
		argv[i] = strings.ReplaceAll(a, "{file}", script)
	}
	argv, err = s.opts.Isolator.Wrap(dir, argv)
	if err != nil {
		s.logger.Warn("Refusing unconfined code execution", "language", lang, "error", err)
		return res, err
	}
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = minimalEnv(dir)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	res.Stdout = capOutput(stdout.String(), s.opts.MaxOutput)
	res.Stderr = capOutput(stderr.String(), s.opts.MaxOutput)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		res.ExitCode = -1
		return res, nil
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, fmt.Errorf("run %s: %w", lang, runErr)
	}
	return res, nil
}

func minimalEnv(dir string) []string {
	env := []string{
		"HOME=" + filepath.Join(dir, "home"),
		"TMPDIR=" + filepath.Join(dir, "tmp"),
		"LANG=C.UTF-8",
		"GOCACHE=" + filepath.Join(dir, "tmp", "gocache"),
		"GOPATH=" + filepath.Join(dir, "tmp", "gopath"),
		"GO111MODULE=off",
	}
	if p := os.Getenv("PATH"); p != "" {
		env = append(env, "PATH="+p)
	}
	return env
}

func capOutput(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n] + "\n... [output truncated]"
}
