package supervisor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/clipforge/clipforge/internal/common/entities"
	"github.com/clipforge/clipforge/internal/queue"
)

// Source abstracts the durable work queue.
type Source interface {
	Receive(ctx context.Context, max int, wait time.Duration) ([]queue.Delivery, error)
	Delete(ctx context.Context, d queue.Delivery) error
}

// Worker is the asynchronous mode: a bounded polling loop that pulls jobs
// from the queue and renders them with up to Capacity in flight. Queue
// messages are deleted only after the artifact is uploaded and the job
// record marked completed; any failure leaves the message for the queue's
// redelivery machinery.
type Worker struct {
	Renderer     *Renderer
	Queue        Source
	Capacity     int
	PollWait     time.Duration
	DrainTimeout time.Duration
	Logger       zerolog.Logger
}

// Run polls until ctx is cancelled, then stops accepting work and waits up
// to DrainTimeout for in-flight renders. Renders still running past the
// timeout are abandoned; their unacknowledged messages get redelivered to
// another worker.
func (w *Worker) Run(ctx context.Context) error {
	capacity := w.Capacity
	if capacity < 1 {
		capacity = 1
	}
	sem := make(chan struct{}, capacity)
	var g errgroup.Group

	w.Logger.Info().Int("capacity", capacity).Msg("worker started")

poll:
	for {
		select {
		case <-ctx.Done():
			break poll
		default:
		}

		select {
		case sem <- struct{}{}:
		default:
			// At capacity; recheck shortly.
			sleepCtx(ctx, time.Second)
			continue
		}

		deliveries, err := w.Queue.Receive(ctx, 1, w.PollWait)
		if err != nil {
			<-sem
			if ctx.Err() != nil {
				break poll
			}
			w.Logger.Error().Err(err).Msg("queue receive failed, backing off")
			sleepCtx(ctx, backoff)
			continue
		}
		if len(deliveries) == 0 {
			<-sem
			continue
		}

		d := deliveries[0]
		// In-flight renders keep running through shutdown so the drain
		// window can let them finish.
		jobCtx := context.WithoutCancel(ctx)
		g.Go(func() error {
			defer func() { <-sem }()
			w.process(jobCtx, d)
			return nil
		})
	}

	w.Logger.Info().Msg("draining in-flight jobs")
	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()
	select {
	case <-done:
		w.Logger.Info().Msg("worker stopped")
	case <-time.After(w.DrainTimeout):
		w.Logger.Warn().Msg("drain timeout reached, abandoning in-flight jobs")
	}
	return nil
}

func (w *Worker) process(ctx context.Context, d queue.Delivery) {
	job := d.Job
	log := w.Logger.With().Str("job_id", job.ID).Int64("delivery", d.DeliveryCount).Logger()
	log.Info().Msg("processing render job")

	if err := w.Renderer.Jobs.SetStatus(ctx, job.ID, entities.JobStatusProcessing, ""); err != nil {
		// First sight of a job enqueued elsewhere: create the record.
		job.Status = entities.JobStatusProcessing
		if cerr := w.Renderer.Jobs.Create(ctx, &job); cerr != nil {
			log.Error().Err(cerr).Msg("failed to persist job record")
		}
	}

	res, err := w.Renderer.render(ctx, &job, log)
	if err != nil {
		log.Error().Err(err).Msg("render failed, leaving message for redelivery")
		w.Renderer.recordFailure(ctx, job.ID, err, log)
		return
	}

	location, err := w.Renderer.uploadOutputs(ctx, job.ID, res.Outputs)
	if err != nil {
		log.Error().Err(err).Msg("upload failed, leaving message for redelivery")
		w.Renderer.recordFailure(ctx, job.ID, err, log)
		return
	}
	if err := w.Renderer.Jobs.SetResult(ctx, job.ID, location); err != nil {
		log.Error().Err(err).Msg("failed to persist result, leaving message for redelivery")
		return
	}
	if err := w.Queue.Delete(ctx, d); err != nil {
		log.Error().Err(err).Msg("failed to acknowledge message")
		return
	}
	w.Renderer.cleanupScratch(job.ID, log)
	log.Info().Str("location", location).Msg("render job completed")
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
