package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handler verarbeitet einen geleasten Job. Das Ergebnis wird beim Eltern-Job abgelegt.
type Handler func(ctx context.Context, job *Job) (string, error)

// WorkerOptions konfiguriert einen Worker.
type WorkerOptions struct {
	Concurrency  int
	PollInterval time.Duration
	// JobTimeout begrenzt einen einzelnen Versuch; danach endet die Lease-Verlängerung und der Versuch schlägt fehl.
	JobTimeout time.Duration
	Logger     *zap.Logger
	// OnFinish wird nach jedem Versuch aufgerufen (Metriken).
	OnFinish func(job *Job, err error, elapsed time.Duration)
}

// Worker pollt eine Queue und führt Jobs mit begrenzter Parallelität aus.
type Worker struct {
	broker  *Broker
	queue   string
	handler Handler
	opts    WorkerOptions
	logger  *zap.Logger
}

// NewWorker erstellt einen Worker für eine Queue.
func NewWorker(b *Broker, queue string, h Handler, opts WorkerOptions) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Worker{
		broker:  b,
		queue:   queue,
		handler: h,
		opts:    opts,
		logger:  opts.Logger.With(zap.String("queue", queue)),
	}
}

// Run blockiert, bis ctx beendet ist, und wartet dann auf laufende Jobs.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("Worker gestartet.", zap.Int("concurrency", w.opts.Concurrency),
		zap.Duration("poll", w.opts.PollInterval), zap.Duration("visibility", w.broker.Visibility()))

	sem := make(chan struct{}, w.opts.Concurrency)
	var wg sync.WaitGroup

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Worker stoppt, warte auf laufende Jobs.")
			wg.Wait()
			w.logger.Info("Worker gestoppt.")
			return
		case <-ticker.C:
			w.fill(ctx, sem, &wg)
		}
	}
}

// fill claimt Jobs, solange freie Slots vorhanden und Jobs sichtbar sind.
func (w *Worker) fill(ctx context.Context, sem chan struct{}, wg *sync.WaitGroup) {
	for {
		select {
		case sem <- struct{}{}:
		default:
			return
		}

		job, err := w.broker.Claim(ctx, w.queue)
		if err != nil || job == nil {
			<-sem
			if err != nil && ctx.Err() == nil {
				w.logger.Warn("Claim fehlgeschlagen.", zap.Error(err))
			}
			return
		}

		wg.Add(1)
		go func(j *Job) {
			defer wg.Done()
			defer func() { <-sem }()
			w.process(ctx, j)
		}(job)
	}
}

// ProcessOnce claimt und verarbeitet höchstens einen Job synchron.
func (w *Worker) ProcessOnce(ctx context.Context) (bool, error) {
	job, err := w.broker.Claim(ctx, w.queue)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	return true, w.process(ctx, job)
}

func (w *Worker) process(ctx context.Context, job *Job) error {
	log := w.logger.With(zap.String("job_id", job.ID), zap.String("job", job.Name), zap.Int("attempt", job.Attempts))

	if job.MaxAttempts > 0 && job.Attempts > job.MaxAttempts {
		log.Warn("Job hat maximale Versuche durch abgelaufene Leases überschritten.")
		_, err := w.broker.Fail(context.WithoutCancel(ctx), job, Permanent(ErrStalled))
		w.finish(job, ErrStalled, 0)
		return err
	}

	jobCtx := ctx
	if w.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.opts.JobTimeout)
		defer cancel()
	}

	hbCtx, stopHeartbeat := context.WithCancel(jobCtx)
	var hb sync.WaitGroup
	hb.Add(1)
	go func() {
		defer hb.Done()
		w.heartbeat(hbCtx, job, log)
	}()

	start := time.Now()
	result, herr := w.runHandler(jobCtx, job)
	elapsed := time.Since(start)
	stopHeartbeat()
	hb.Wait()
	w.finish(job, herr, elapsed)

	if herr != nil && ctx.Err() != nil {
		log.Info("Worker beendet während der Verarbeitung, Job wird nach Ablauf der Lease erneut sichtbar.", zap.Error(herr))
		return herr
	}

	ackCtx := context.WithoutCancel(ctx)
	if herr == nil {
		if err := w.broker.Complete(ackCtx, job, result); err != nil {
			log.Error("Job konnte nicht abgeschlossen werden.", zap.Error(err))
			return err
		}
		log.Info("Job abgeschlossen.", zap.Duration("elapsed", elapsed))
		return nil
	}

	retrying, err := w.broker.Fail(ackCtx, job, herr)
	if err != nil {
		log.Error("Fehlschlag konnte nicht verbucht werden.", zap.Error(err), zap.NamedError("cause", herr))
		return err
	}
	if retrying {
		log.Warn("Job fehlgeschlagen, neuer Versuch geplant.", zap.Error(herr),
			zap.Duration("backoff", job.Backoff.After(job.Attempts)))
	} else {
		log.Error("Job endgültig fehlgeschlagen.", zap.Error(herr))
	}
	return herr
}

func (w *Worker) runHandler(ctx context.Context, job *Job) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in handler: %v", r)
		}
	}()
	return w.handler(ctx, job)
}

func (w *Worker) heartbeat(ctx context.Context, job *Job, log *zap.Logger) {
	interval := w.broker.Visibility() / 3
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := w.broker.Extend(ctx, job, w.broker.Visibility()); err != nil {
				if errors.Is(err, ErrLeaseLost) {
					log.Warn("Lease verloren.", zap.Error(err))
					return
				}
				if ctx.Err() == nil {
					log.Warn("Heartbeat fehlgeschlagen.", zap.Error(err))
				}
			}
		}
	}
}

func (w *Worker) finish(job *Job, err error, elapsed time.Duration) {
	if w.opts.OnFinish != nil {
		w.opts.OnFinish(job, err, elapsed)
	}
}
