package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	sandboxDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "sandbox",
		Name:      "run_duration_seconds",
		Help:      "Duration of sandboxed program runs used as grading context",
		Buckets:   prometheus.DefBuckets,
	}, []string{"image"})

	sandboxOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "sandbox",
		Name:      "runs_total",
		Help:      "Sandboxed program runs by outcome",
	}, []string{"image", "outcome"})
)

const maxCapturedOutput = 16 * 1024

// Runner executes a student program in an isolated container.
type Runner interface {
	Run(ctx context.Context, program Program) (Outcome, error)
}

// Program describes the files and command of a sandboxed run.
type Program struct {
	Image   string
	Cmd     []string
	Files   map[string]string
	Stdin   string
	Timeout time.Duration
}

// Outcome summarises a sandboxed run.
type Outcome struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// Config groups sandbox configuration values.
type Config struct {
	Host          string
	Timeout       time.Duration
	MemoryLimitMB int64
	CPUShares     int64
	WorkspaceRoot string
	Logger        zerolog.Logger
}

// Sandbox implements Runner on top of the Docker engine API.
type Sandbox struct {
	client *client.Client
	cfg    Config
	tracer trace.Tracer
	logger zerolog.Logger
}

const containerWorkdir = "/workspace"

// NewSandbox constructs a Docker backed sandbox.
func NewSandbox(cfg Config) (*Sandbox, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = os.TempDir()
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &Sandbox{
		client: cli,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-feedback-api/pkg/docker"),
		logger: logger.With().Str("component", "sandbox").Logger(),
	}, nil
}

// Run writes the program files into a throwaway workspace and executes the command without network access.
func (s *Sandbox) Run(parent context.Context, program Program) (Outcome, error) {
	if program.Image == "" {
		return Outcome{}, errors.New("image is required")
	}

	ctx, span := s.tracer.Start(parent, "sandbox.run", trace.WithAttributes(
		attribute.String("docker.image", program.Image),
	))
	defer span.End()

	workspace, err := os.MkdirTemp(s.cfg.WorkspaceRoot, "draft-")
	if err != nil {
		return Outcome{}, fmt.Errorf("create workspace: %w", err)
	}
	defer os.RemoveAll(workspace)

	for name, body := range program.Files {
		target := filepath.Join(workspace, filepath.Base(name))
		if err := os.WriteFile(target, []byte(body), 0o600); err != nil {
			return Outcome{}, fmt.Errorf("write %s: %w", name, err)
		}
	}

	timeout := program.Timeout
	if timeout <= 0 {
		timeout = s.cfg.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			Memory:    s.cfg.MemoryLimitMB * 1024 * 1024,
			CPUShares: s.cfg.CPUShares,
		},
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: workspace,
			Target: containerWorkdir,
		}},
	}

	containerCfg := &container.Config{
		Image:           program.Image,
		Cmd:             program.Cmd,
		WorkingDir:      containerWorkdir,
		AttachStdout:    true,
		AttachStderr:    true,
		NetworkDisabled: true,
	}

	start := time.Now()
	outcome := Outcome{}

	created, err := s.client.ContainerCreate(ctx, containerCfg, hostCfg, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return outcome, s.fail(span, program.Image, fmt.Errorf("container create: %w", err))
	}
	containerID := created.ID
	defer s.remove(containerID)

	if err := s.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return outcome, s.fail(span, program.Image, fmt.Errorf("container start: %w", err))
	}

	statusCh, errCh := s.client.ContainerWait(ctx, containerID, container.WaitConditionNextExit)
	select {
	case status := <-statusCh:
		outcome.ExitCode = int(status.StatusCode)
	case err := <-errCh:
		if !errors.Is(err, context.DeadlineExceeded) {
			return outcome, s.fail(span, program.Image, fmt.Errorf("container wait: %w", err))
		}
		outcome.TimedOut = true
	case <-ctx.Done():
		outcome.TimedOut = true
	}

	outcome.Duration = time.Since(start)
	sandboxDuration.WithLabelValues(program.Image).Observe(outcome.Duration.Seconds())

	if outcome.TimedOut {
		killCtx, cancelKill := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancelKill()
		if err := s.client.ContainerKill(killCtx, containerID, "KILL"); err != nil {
			s.logger.Warn().Err(err).Str("container_id", containerID).Msg("failed to kill timed out container")
		}
		sandboxOutcomes.WithLabelValues(program.Image, "timeout").Inc()
		span.SetStatus(codes.Error, "execution timed out")
	} else {
		sandboxOutcomes.WithLabelValues(program.Image, "exited").Inc()
	}

	logs, err := s.client.ContainerLogs(parent, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		s.logger.Warn().Err(err).Str("container_id", containerID).Msg("failed to fetch container logs")
		return outcome, nil
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, io.LimitReader(logs, 4*maxCapturedOutput)); err != nil {
		s.logger.Warn().Err(err).Str("container_id", containerID).Msg("failed to demultiplex container logs")
	}
	outcome.Stdout = truncate(stdout.String())
	outcome.Stderr = truncate(stderr.String())

	return outcome, nil
}

// Close shuts down the underlying Docker client.
func (s *Sandbox) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Sandbox) remove(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		s.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to remove container")
	}
}

func (s *Sandbox) fail(span trace.Span, image string, err error) error {
	sandboxOutcomes.WithLabelValues(image, "failed").Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func truncate(output string) string {
	if len(output) <= maxCapturedOutput {
		return output
	}
	return output[:maxCapturedOutput] + "\n[output truncated]"
}
