// Package service runs downloads on a bounded worker pool and manages user accounts.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"vidgrab/internal/config"
	"vidgrab/internal/consts"
	"vidgrab/internal/entity"
	"vidgrab/internal/errs"
	"vidgrab/internal/observability"
)

// Resolver turns a request into a file inside dir.
type Resolver interface {
	Resolve(ctx context.Context, req entity.DownloadRequest, dir string) (string, error)
}

// Workspaces runs fn inside a fresh directory that is removed afterwards.
type Workspaces interface {
	Run(ctx context.Context, fn func(ctx context.Context, dir string) error) error
}

// DeliverFunc sends the resolved file to the caller. It runs on the worker
// while the workspace still exists.
type DeliverFunc func(ctx context.Context, path string) error

// Downloads executes download requests with bounded concurrency.
type Downloads interface {
	Start(ctx context.Context)
	// Download blocks until deliver returned, the request was dropped or the
	// resolve failed.
	Download(ctx context.Context, req entity.DownloadRequest, deliver DeliverFunc) error
}

const (
	taskPending int32 = iota
	taskRunning
	taskAbandoned
)

type task struct {
	ctx     context.Context
	req     entity.DownloadRequest
	deliver DeliverFunc
	state   atomic.Int32
	done    chan error
}

type downloads struct {
	log        *slog.Logger
	metrics    *observability.Metrics
	resolver   Resolver
	workspaces Workspaces

	workers int
	timeout time.Duration
	queue   chan *task
	stopped chan struct{}

	wg        sync.WaitGroup
	closed    atomic.Bool
	startOnce sync.Once
}

var _ Downloads = (*downloads)(nil)

// NewDownloads creates the download service. Call Start before Download.
func NewDownloads(log *slog.Logger, cfg config.Job, metrics *observability.Metrics,
	workspaces Workspaces, resolver Resolver,
) Downloads {
	workers := cfg.Workers
	if workers <= 0 {
		workers = consts.DefaultJobWorkers
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = consts.DefaultQueueSize
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = consts.DefaultJobTimeout
	}

	return &downloads{
		log:        log.With(slog.String("package", "service"), slog.String("service", "downloads")),
		metrics:    metrics,
		resolver:   resolver,
		workspaces: workspaces,
		workers:    workers,
		timeout:    timeout,
		queue:      make(chan *task, queueSize),
		stopped:    make(chan struct{}),
	}
}

func (svc *downloads) Start(ctx context.Context) {
	svc.startOnce.Do(func() {
		for i := range svc.workers {
			svc.wg.Go(func() { svc.worker(ctx, i) })
		}

		go func() {
			<-ctx.Done()
			svc.closed.Store(true)
			svc.wg.Wait()
			close(svc.stopped)
		}()

		svc.log.InfoContext(ctx, "download workers started",
			slog.Int("workers", svc.workers), slog.Int("queue_size", cap(svc.queue)))
	})
}

func (svc *downloads) Download(ctx context.Context, req entity.DownloadRequest, deliver DeliverFunc) error {
	if svc.closed.Load() {
		return errs.ErrServiceClosed
	}

	t := &task{ctx: ctx, req: req, deliver: deliver, done: make(chan error, 1)}

	select {
	case svc.queue <- t:
		svc.metrics.RecordQueued()
	default:
		svc.log.WarnContext(ctx, "download queue is full",
			slog.Int("queued", len(svc.queue)), slog.Int("capacity", cap(svc.queue)))

		return fmt.Errorf("%w: %d/%d", errs.ErrJobQueueFull, len(svc.queue), cap(svc.queue))
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		if t.state.CompareAndSwap(taskPending, taskAbandoned) {
			svc.metrics.RecordAbandoned()
			svc.log.InfoContext(ctx, "download abandoned before start", slog.Any("request", req))

			return fmt.Errorf("%w: %w", errs.ErrJobAbandoned, ctx.Err())
		}

		return <-t.done
	case <-svc.stopped:
		if t.state.CompareAndSwap(taskPending, taskAbandoned) {
			svc.metrics.RecordAbandoned()

			return errs.ErrServiceClosed
		}

		return <-t.done
	}
}

func (svc *downloads) worker(ctx context.Context, workerID int) {
	log := svc.log.With(slog.Int("worker_id", workerID))

	for {
		select {
		case t := <-svc.queue:
			if t == nil {
				log.WarnContext(ctx, "received nil task")

				continue
			}

			svc.process(ctx, log, t)
		case <-ctx.Done():
			log.InfoContext(ctx, "got ctx done signal", slog.Any("error", ctx.Err()))

			return
		}
	}
}

// process runs t under its request context, which is also cancelled when the
// service stops.
func (svc *downloads) process(ctx context.Context, log *slog.Logger, t *task) {
	if !t.state.CompareAndSwap(taskPending, taskRunning) {
		log.DebugContext(ctx, "skipping abandoned task", slog.Any("request", t.req))

		return
	}

	svc.metrics.RecordStarted()
	defer svc.metrics.RecordDone()

	taskCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	started := time.Now()

	err := svc.workspaces.Run(taskCtx, func(wsCtx context.Context, dir string) error {
		resolveCtx, cancelResolve := context.WithTimeout(wsCtx, svc.timeout)
		path, err := svc.resolver.Resolve(resolveCtx, t.req, dir)

		cancelResolve()

		if err != nil {
			return err
		}

		return t.deliver(wsCtx, path)
	})

	log.DebugContext(ctx, "task processed", slog.Any("request", t.req),
		slog.Duration("elapsed", time.Since(started)), slog.Any("error", err))

	t.done <- err
}
