package pushproc

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"streamcast/internal/models"
)

const (
	defaultBinary      = "ffmpeg"
	defaultGracePeriod = 5 * time.Second
	audioBitrate       = "160k"
	audioSampleRate    = "44100"
)

// FFmpegLauncher starts one ffmpeg process per ingestion destination.
type FFmpegLauncher struct {
	Binary      string
	GracePeriod time.Duration
	Logger      *slog.Logger
}

// NewFFmpegLauncher constructs a launcher with defaults filled in.
func NewFFmpegLauncher(binary string, gracePeriod time.Duration, logger *slog.Logger) *FFmpegLauncher {
	if binary == "" {
		binary = defaultBinary
	}
	if gracePeriod <= 0 {
		gracePeriod = defaultGracePeriod
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegLauncher{Binary: binary, GracePeriod: gracePeriod, Logger: logger}
}

// BuildArgs assembles the ffmpeg argument list for a spec: looped realtime
// input, x264/aac encode sized from the requested bitrate, an optional scale
// filter derived from the resolution label, and a single FLV output.
func BuildArgs(spec Spec) ([]string, error) {
	if spec.Content.Source == "" {
		return nil, fmt.Errorf("content source is required")
	}
	if spec.Destination == "" {
		return nil, fmt.Errorf("destination is required")
	}
	bitrate := spec.Bitrate
	if bitrate == "" {
		bitrate = "4500k"
	}
	kbps, err := models.BitrateKbps(bitrate)
	if err != nil {
		return nil, err
	}

	var args []string
	if spec.Content.Loop {
		args = append(args, "-stream_loop", "-1")
	}
	args = append(args, "-re", "-i", spec.Content.Source)
	args = append(args,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-b:v", bitrate,
		"-maxrate", bitrate,
		"-bufsize", fmt.Sprintf("%dk", kbps*2),
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-ar", audioSampleRate,
		"-b:a", audioBitrate,
	)
	if spec.Resolution != "" {
		height, err := models.ResolutionHeight(spec.Resolution)
		if err != nil {
			return nil, err
		}
		args = append(args, "-vf", fmt.Sprintf("scale=-2:%d", height))
	}
	args = append(args, "-f", "flv", spec.Destination)
	return args, nil
}

// Launch starts ffmpeg and begins tracking its liveness and output activity.
func (l *FFmpegLauncher) Launch(ctx context.Context, spec Spec) (Handle, error) {
	args, err := BuildArgs(spec)
	if err != nil {
		return nil, &LaunchError{Destination: spec.Destination, Err: err}
	}

	binary := l.Binary
	if binary == "" {
		binary = defaultBinary
	}
	cmd := exec.Command(binary, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &LaunchError{Destination: spec.Destination, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Destination: spec.Destination, Err: err}
	}

	grace := l.GracePeriod
	if grace <= 0 {
		grace = defaultGracePeriod
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	proc := &ffmpegProcess{
		cmd:    cmd,
		grace:  grace,
		logger: logger.With("destination", spec.Destination),
		done:   make(chan struct{}),
	}
	proc.lastActivity.Store(time.Now().UnixNano())

	// ffmpeg writes progress to stderr; every line counts as forward
	// progress for the staleness check.
	go func() {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
		for scanner.Scan() {
			proc.lastActivity.Store(time.Now().UnixNano())
		}
	}()

	go func() {
		err := cmd.Wait()
		code := 0
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else if err != nil {
			code = -1
		}
		proc.exitCode.Store(int64(code))
		close(proc.done)
	}()

	return proc, nil
}

type ffmpegProcess struct {
	cmd          *exec.Cmd
	grace        time.Duration
	logger       *slog.Logger
	done         chan struct{}
	lastActivity atomic.Int64
	exitCode     atomic.Int64
	terminateOne sync.Once
	terminateErr error
}

func (p *ffmpegProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *ffmpegProcess) ExitCode() (int, bool) {
	select {
	case <-p.done:
		return int(p.exitCode.Load()), true
	default:
		return 0, false
	}
}

func (p *ffmpegProcess) LastActivity() time.Time {
	return time.Unix(0, p.lastActivity.Load())
}

// Terminate sends SIGTERM and escalates to SIGKILL when the process survives
// the grace period. Safe to call multiple times.
func (p *ffmpegProcess) Terminate(ctx context.Context) error {
	p.terminateOne.Do(func() {
		p.terminateErr = p.terminate(ctx)
	})
	return p.terminateErr
}

func (p *ffmpegProcess) terminate(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// The process may have exited between the liveness check and
		// the signal.
		select {
		case <-p.done:
			return nil
		default:
			return fmt.Errorf("signal push process: %w", err)
		}
	}

	graceTimer := time.NewTimer(p.grace)
	defer graceTimer.Stop()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
	case <-graceTimer.C:
		p.logger.Warn("push process ignored SIGTERM, killing")
	}

	if err := p.cmd.Process.Kill(); err != nil {
		select {
		case <-p.done:
			return nil
		default:
			return fmt.Errorf("kill push process: %w", err)
		}
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
