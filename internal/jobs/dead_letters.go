package jobs

import (
	"context"
	"log/slog"
)

// DeadLetterReplaySchedule retries dead letters every fifteen minutes.
const DeadLetterReplaySchedule = "@every 15m"

// Replayer pushes dead-lettered events back onto the pipeline queue.
type Replayer interface {
	ReplayDeadLetters(ctx context.Context) (int, error)
}

// DeadLetterReplayJob gives dead-lettered events another pass through the
// pipeline. Redelivery is idempotent, so replaying an event whose write
// eventually landed does not double count.
type DeadLetterReplayJob struct {
	replayer Replayer
	logger   *slog.Logger
}

func NewDeadLetterReplayJob(replayer Replayer, logger *slog.Logger) *DeadLetterReplayJob {
	return &DeadLetterReplayJob{replayer: replayer, logger: logger}
}

func (j *DeadLetterReplayJob) Name() string {
	return "dead_letter_replay"
}

func (j *DeadLetterReplayJob) Run(ctx context.Context) error {
	replayed, err := j.replayer.ReplayDeadLetters(ctx)
	if err != nil {
		return err
	}
	if replayed == 0 {
		j.logger.Debug("No dead letters to replay")
	}
	return nil
}
