package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"github.com/sakif/actionrunner/internal/apperror"
	"github.com/sakif/actionrunner/internal/capability"
	"github.com/sakif/actionrunner/internal/executor"
)

// timeoutExitCode follows the unix timeout command.
const timeoutExitCode = 124

// Executor implements the executor.Executor interface using Docker.
type Executor struct {
	cli      *client.Client
	config   Config
	registry *capability.Registry
	logger   *slog.Logger
	pool     *Pool
}

// New creates a new Docker Executor and initializes the connection.
func New(cfg Config, registry *capability.Registry, logger *slog.Logger) (*Executor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := ensureImage(ctx, cli, cfg.Image, logger); err != nil {
		cli.Close()
		return nil, err
	}

	if registry == nil {
		registry = capability.Empty()
	}
	exec := &Executor{
		cli:      cli,
		config:   cfg,
		registry: registry,
		logger:   logger,
	}

	exec.pool = NewPool(cli, cfg, logger)
	exec.pool.Start()

	return exec, nil
}

// ensureImage pulls the image unless it is already present locally.
func ensureImage(ctx context.Context, cli *client.Client, ref string, logger *slog.Logger) error {
	if _, err := cli.ImageInspect(ctx, ref); err == nil {
		logger.Info("docker image is ready", slog.String("image", ref))
		return nil
	}

	logger.Info("pulling docker image", slog.String("image", ref))
	reader, err := cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()
	// Read everything to block until the pull is complete
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	logger.Info("docker image is ready", slog.String("image", ref))
	return nil
}

// Close shuts down the executor pool and docker client.
func (e *Executor) Close() error {
	e.pool.Stop()
	return e.cli.Close()
}

// IdleContainers reports how many warm containers are ready for a snippet.
func (e *Executor) IdleContainers() int {
	return e.pool.Idle()
}

// Execute runs the snippet inside a pre-warmed container through the python harness.
func (e *Executor) Execute(ctx context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	start := time.Now()

	marker := "__actionrunner_" + uuid.NewString() + "__"
	payload, err := buildPayload(req.Code, e.registry, marker)
	if err != nil {
		res := executor.Failure("ValueError: " + err.Error())
		res.Duration = time.Since(start)
		return res, nil
	}

	containerID, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperror.Unavailable("container pool"), err)
	}

	defer e.pool.discard(containerID)

	executeCtx, executeCancel := ctx, context.CancelFunc(func() {})
	if e.config.Timeout > 0 {
		executeCtx, executeCancel = context.WithTimeout(ctx, e.config.Timeout)
	}
	defer executeCancel()

	execResp, err := e.cli.ContainerExecCreate(executeCtx, containerID, container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		User:         e.config.User,
		WorkingDir:   e.config.ScratchRoot,
		Cmd:          []string{"python", "-c", harness, payload},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}

	attachResp, err := e.cli.ContainerExecAttach(executeCtx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to exec: %w", err)
	}
	defer attachResp.Close()

	budget := &outputBudget{left: MaxOutputBytes}
	stdout, stderr := budget.writer(), budget.writer()

	done := make(chan struct{})
	go func() {
		// Use stdcopy to demultiplex stdout from stderr
		_, _ = stdcopy.StdCopy(stdout, stderr, attachResp.Reader)
		close(done)
	}()

	var res *executor.ExecutionResult
	select {
	case <-done:
		if budget.exceeded() {
			e.logger.Warn("snippet output limit exceeded", slog.String("container", containerID))
			res = executor.Failure(fmt.Sprintf("OutputLimitError: output exceeded %d bytes", MaxOutputBytes))
			break
		}
		exitCode := -1
		inspectResp, err := e.cli.ContainerExecInspect(ctx, execResp.ID)
		if err == nil {
			exitCode = inspectResp.ExitCode
		}
		res = decodeOutput(stdout.String(), stderr.String(), marker, exitCode)
	case <-executeCtx.Done():
		// The container is force-removed on return, which kills the process.
		if ctx.Err() != nil {
			e.logger.Warn("snippet interrupted", slog.String("container", containerID), slog.String("reason", ctx.Err().Error()))
			kind := "InterruptedError: "
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				kind = "TimeoutError: "
			}
			res = executor.Failure(kind + ctx.Err().Error())
			break
		}
		e.logger.Warn("snippet timed out", slog.String("container", containerID), slog.Int("exitCode", timeoutExitCode))
		res = executor.Failure(fmt.Sprintf("TimeoutError: execution exceeded %s", e.config.Timeout))
	}

	res.Duration = time.Since(start)
	return res, nil
}

// MaxOutputBytes caps what is kept from a snippet's stdout and stderr combined.
const MaxOutputBytes = 8 << 20

var errOutputLimit = errors.New("output limit exceeded")

// outputBudget is shared by the stdout and stderr buffers of one execution.
type outputBudget struct {
	mu   sync.Mutex
	left int
	over bool
}

func (b *outputBudget) writer() *limitedBuffer {
	return &limitedBuffer{budget: b}
}

func (b *outputBudget) exceeded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.over
}

type limitedBuffer struct {
	budget *outputBudget
	buf    bytes.Buffer
}

func (w *limitedBuffer) Write(p []byte) (int, error) {
	w.budget.mu.Lock()
	defer w.budget.mu.Unlock()
	if len(p) > w.budget.left {
		w.budget.over = true
		return 0, errOutputLimit
	}
	w.budget.left -= len(p)
	return w.buf.Write(p)
}

func (w *limitedBuffer) String() string {
	return w.buf.String()
}
