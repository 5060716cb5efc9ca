package docker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
)

const (
	poolLabel   = "actionrunner.pool"
	idleBackoff = 100 * time.Millisecond
	maxBackoff  = 30 * time.Second
)

// Pool keeps PoolSize idle containers ready. A container serves exactly one
// execution and is then removed, so no state survives between snippets.
type Pool struct {
	cli       *client.Client
	config    Config
	logger    *slog.Logger
	idle      chan string
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewPool sizes the pool; nothing is created until Start.
func NewPool(cli *client.Client, cfg Config, logger *slog.Logger) *Pool {
	size := cfg.PoolSize
	if size <= 0 {
		size = 1
	}
	return &Pool{
		cli:    cli,
		config: cfg,
		logger: logger,
		idle:   make(chan string, size),
		done:   make(chan struct{}),
	}
}

// Start launches the background refill loop.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.logger.Info("container pool starting", slog.Int("poolSize", cap(p.idle)))
		p.wg.Add(1)
		go p.manager()
	})
}

// Stop shuts down the manager and removes every idle container.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("container pool stopping")
		close(p.done)
		p.wg.Wait()

		for {
			select {
			case id := <-p.idle:
				p.discard(id)
			default:
				return
			}
		}
	})
}

// Idle reports how many warm containers are waiting.
func (p *Pool) Idle() int {
	return len(p.idle)
}

// Acquire hands out one warm container. The caller owns it and must discard
// it after the run. It blocks until one is ready, the pool stops or ctx ends.
func (p *Pool) Acquire(ctx context.Context) (string, error) {
	select {
	case id := <-p.idle:
		return id, nil
	case <-p.done:
		return "", fmt.Errorf("container pool is stopped")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// manager keeps the pool at capacity, backing off exponentially while the
// daemon refuses to create containers.
func (p *Pool) manager() {
	defer p.wg.Done()

	backoff := time.Second
	for {
		wait := idleBackoff
		if len(p.idle) < cap(p.idle) {
			id, err := p.warm()
			if err != nil {
				p.logger.Error("warming container failed", slog.String("error", err.Error()), slog.Duration("retryIn", backoff))
				wait = backoff
				backoff = min(backoff*2, maxBackoff)
			} else {
				backoff = time.Second
				select {
				case p.idle <- id:
					continue
				case <-p.done:
					p.discard(id)
					return
				}
			}
		}

		select {
		case <-p.done:
			return
		case <-time.After(wait):
		}
	}
}

// warm creates and starts an idle container with the scratch root mounted at
// the same path it has on the host.
func (p *Pool) warm() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hostConfig := &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			Memory:   p.config.MemoryLimit,
			NanoCPUs: int64(p.config.CPULimit * 1e9),
		},
		ReadonlyRootfs: true,
	}
	if p.config.ScratchRoot != "" {
		hostConfig.Mounts = []mount.Mount{{
			Type:   mount.TypeBind,
			Source: p.config.ScratchRoot,
			Target: p.config.ScratchRoot,
		}}
	}

	resp, err := p.cli.ContainerCreate(ctx, &container.Config{
		Image:  p.config.Image,
		Cmd:    []string{"sleep", "infinity"},
		User:   p.config.User,
		Labels: map[string]string{poolLabel: "true"},
	}, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("creating container: %w", err)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.discard(resp.ID)
		return "", fmt.Errorf("starting container: %w", err)
	}

	return resp.ID, nil
}

// discard force-removes a container; failures are only logged.
func (p *Pool) discard(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		p.logger.Error("discarding container failed", slog.String("id", id), slog.String("error", err.Error()))
	}
}
