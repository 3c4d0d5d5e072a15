package usecase

import (
	"context"

	"voice-agent/internal/domain"
)

// waitForAudio polls a synthesis job until it has an output URL. The first
// poll is immediate and later polls are spaced by the poll interval, with at
// most one request in flight. It returns the number of polls performed.
func (o *Orchestrator) waitForAudio(ctx context.Context, jobID string) (domain.SynthesisJob, int, error) {
	start := o.now()
	polls := 0
	for {
		job, err := o.synthesis.Poll(ctx, jobID)
		polls++
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return domain.SynthesisJob{}, polls, ctxErr
			}
			return domain.SynthesisJob{}, polls, newError(ErrorPoll, "playht_poll_error", err)
		}
		o.observer.JobPolled(job.Status)

		if job.Ready() {
			return job, polls, nil
		}
		if job.Status == domain.JobFailed {
			return domain.SynthesisJob{}, polls, newError(ErrorPoll, "synthesis_failed", nil)
		}

		if o.cfg.PollTimeout > 0 && o.now().Sub(start)+o.cfg.PollInterval > o.cfg.PollTimeout {
			return domain.SynthesisJob{}, polls, newError(ErrorTimeout, "synthesis_timeout", nil)
		}
		if err := o.wait(ctx, o.cfg.PollInterval); err != nil {
			return domain.SynthesisJob{}, polls, err
		}
	}
}
