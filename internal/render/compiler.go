package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

var (
	ErrCompileTimeout       = errors.New("latex compile timed out")
	ErrCompileFailed        = errors.New("latex compile failed")
	ErrConverterUnavailable = errors.New("document converter not available")
	ErrConvertFailed        = errors.New("document conversion failed")
)

const logTailBytes = 4 << 10

// Compiler runs pdflatex in a scratch directory. Every run has a deadline.
type Compiler struct {
	runner  Runner
	binary  string
	timeout time.Duration
	workDir string
	logger  *slog.Logger
}

func NewCompiler(runner Runner, binary string, timeout time.Duration, workDir string, logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	if binary == "" {
		binary = "pdflatex"
	}
	if timeout <= 0 {
		timeout = 240 * time.Second
	}
	return &Compiler{runner: runner, binary: binary, timeout: timeout, workDir: workDir, logger: logger}
}

// Compile writes tex to a temporary directory, compiles it and returns the PDF
// bytes. Hitting the compile timeout yields ErrCompileTimeout, while an expired
// or cancelled ctx is returned as ctx.Err(). A non-zero exit or a missing PDF
// yields ErrCompileFailed with the tail of the log.
func (c *Compiler) Compile(ctx context.Context, tex string) ([]byte, error) {
	dir, err := os.MkdirTemp(c.workDir, "note2tex-compile-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	src := filepath.Join(dir, "main.tex")
	if err := os.WriteFile(src, []byte(tex), 0o600); err != nil {
		return nil, fmt.Errorf("write tex: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, err := c.runner.Run(runCtx, dir, c.binary,
		"-interaction=nonstopmode", "-halt-on-error", "-output-directory", dir, src)
	if err != nil || runCtx.Err() != nil {
		// the caller's own deadline or cancellation is not a compile timeout
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if runCtx.Err() == context.DeadlineExceeded {
			c.logger.Warn("render.compile.timeout", "timeout", c.timeout)
			return nil, fmt.Errorf("%w after %s", ErrCompileTimeout, c.timeout)
		}
		return nil, fmt.Errorf("%w: %v\n%s", ErrCompileFailed, err, c.logTail(dir, stdout, stderr))
	}

	pdf, err := os.ReadFile(filepath.Join(dir, "main.pdf"))
	if err != nil {
		return nil, fmt.Errorf("%w: no pdf produced\n%s", ErrCompileFailed, c.logTail(dir, stdout, stderr))
	}
	c.logger.Debug("render.compile.ok", "bytes", len(pdf), "duration_ms", time.Since(start).Milliseconds())
	return pdf, nil
}

func (c *Compiler) logTail(dir string, stdout, stderr []byte) string {
	if b, err := os.ReadFile(filepath.Join(dir, "main.log")); err == nil && len(b) > 0 {
		return tail(string(b), logTailBytes)
	}
	return tail(string(stdout)+string(stderr), logTailBytes)
}
