package render

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Converter turns LaTeX source into DOCX using pandoc.
type Converter struct {
	runner  Runner
	binary  string
	timeout time.Duration
	workDir string
	logger  *slog.Logger
}

func NewConverter(runner Runner, binary string, timeout time.Duration, workDir string, logger *slog.Logger) *Converter {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	if binary == "" {
		binary = "pandoc"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Converter{runner: runner, binary: binary, timeout: timeout, workDir: workDir, logger: logger}
}

// Available reports whether the converter binary is on PATH.
func (c *Converter) Available() bool {
	_, err := c.runner.LookPath(c.binary)
	return err == nil
}

// ToDocx converts tex and returns the DOCX bytes.
func (c *Converter) ToDocx(ctx context.Context, tex string) ([]byte, error) {
	if !c.Available() {
		return nil, fmt.Errorf("%w: %s", ErrConverterUnavailable, c.binary)
	}

	dir, err := os.MkdirTemp(c.workDir, "note2tex-convert-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	src := filepath.Join(dir, "main.tex")
	dst := filepath.Join(dir, "main.docx")
	if err := os.WriteFile(src, []byte(tex), 0o600); err != nil {
		return nil, fmt.Errorf("write tex: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, stderr, err := c.runner.Run(runCtx, dir, c.binary, "-f", "latex", "-t", "docx", "-o", dst, src)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v: %s", ErrConvertFailed, err, tail(string(stderr), logTailBytes))
	}
	out, err := os.ReadFile(dst)
	if err != nil {
		return nil, fmt.Errorf("%w: no output: %v", ErrConvertFailed, err)
	}
	c.logger.Debug("render.convert.ok", "bytes", len(out))
	return out, nil
}
