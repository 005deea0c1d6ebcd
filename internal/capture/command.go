package capture

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/teslashibe/go-echo/internal/sensing"
)

// CommandOptions configures the capture subprocess
type CommandOptions struct {
	Path string   `mapstructure:"path" json:"path"`
	Args []string `mapstructure:"args" json:"args"` // Extra arguments appended after the format flags
}

// DefaultCommandOptions captures with ALSA's arecord
func DefaultCommandOptions() CommandOptions {
	return CommandOptions{
		Path: "arecord",
	}
}

func (o CommandOptions) path() string {
	if o.Path == "" {
		return DefaultCommandOptions().Path
	}
	return o.Path
}

// CommandDriver captures raw S16_LE audio from a subprocess such as arecord
type CommandDriver struct{}

// Name returns "command"
func (CommandDriver) Name() string { return DriverCommand }

// Key identifies the capture device passed to the command
func (CommandDriver) Key(opts Options) string {
	return DriverCommand + ":" + opts.deviceName()
}

// Available checks that the capture command is installed
func (CommandDriver) Available(opts Options) error {
	if _, err := exec.LookPath(opts.Command.path()); err != nil {
		return fmt.Errorf("%w: %w", sensing.ErrDeviceUnavailable, err)
	}
	return nil
}

// Open resolves the command; the process is spawned on Start
func (d CommandDriver) Open(_ context.Context, cfg sensing.Config, opts Options, logger *slog.Logger) (Device, error) {
	if err := d.Available(opts); err != nil {
		return nil, err
	}

	path, _ := exec.LookPath(opts.Command.path())

	return &CommandDevice{
		cfg:    cfg,
		path:   path,
		args:   commandArgs(cfg, opts),
		logger: logger,
	}, nil
}

// commandArgs builds the arecord argument list:
// arecord [-D dev] -f S16_LE -r <rate> -c <channels> -t raw -q
func commandArgs(cfg sensing.Config, opts Options) []string {
	var args []string
	if opts.Device != "" {
		args = append(args, "-D", opts.Device)
	}
	args = append(args,
		"-f", "S16_LE",
		"-r", fmt.Sprintf("%d", cfg.SampleRate),
		"-c", fmt.Sprintf("%d", max(cfg.Channels, 1)),
		"-t", "raw",
		"-q",
	)
	return append(args, opts.Command.Args...)
}

// CommandDevice reads PCM16 from the stdout of a capture process
type CommandDevice struct {
	cfg    sensing.Config
	path   string
	args   []string
	logger *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout *bufio.Reader
	raw    []byte
}

// Start spawns the capture process
func (c *CommandDevice) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd != nil {
		return nil
	}

	cmd := exec.CommandContext(ctx, c.path, c.args...)
	pipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", c.path, err)
	}

	c.cmd = cmd
	c.stdout = bufio.NewReaderSize(pipe, c.cfg.FrameLen()*4)

	c.logger.Info("capture command started",
		"command", c.path,
		"pid", cmd.Process.Pid,
	)
	return nil
}

// Read reads exactly one frame of PCM16 from the process. Killing the
// process on Stop unblocks it.
func (c *CommandDevice) Read(_ context.Context, buf []float64) error {
	c.mu.Lock()
	stdout := c.stdout
	if len(c.raw) != len(buf)*2 {
		c.raw = make([]byte, len(buf)*2)
	}
	raw := c.raw
	c.mu.Unlock()

	if stdout == nil {
		return fmt.Errorf("capture command not running")
	}

	if _, err := io.ReadFull(stdout, raw); err != nil {
		return fmt.Errorf("read %s: %w", c.path, err)
	}

	sensing.DecodePCM16(raw, buf[:0])
	return nil
}

// Stop kills the capture process
func (c *CommandDevice) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd == nil {
		return nil
	}

	cmd := c.cmd
	c.cmd = nil
	c.stdout = nil

	if cmd.Process != nil {
		cmd.Process.Kill()
	}

	// Reap in the background; the pipe may still be draining
	go cmd.Wait()

	c.logger.Info("capture command stopped", "command", c.path)
	return nil
}

// Close stops the process
func (c *CommandDevice) Close() error {
	return c.Stop()
}

// Name returns "command"
func (c *CommandDevice) Name() string { return DriverCommand }
