// Package worker consumes media-processing jobs for finished broadcasts.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/pulselive/backend/internal/store"
	"github.com/pulselive/backend/pkg/queue"
	"github.com/pulselive/backend/pkg/storage"
)

// MediaProcessor turns a finished recording into an on-demand asset: uploads
// the recording file to S3 and records the playback URL on the stream.
// Highlight intervals travel with the job for downstream clip generation.
type MediaProcessor struct {
	repo   *store.Repository
	s3     *storage.S3
	queue  *queue.Queue
	logger *zap.Logger
}

// NewMediaProcessor creates the media job processor.
func NewMediaProcessor(repo *store.Repository, s3 *storage.S3, q *queue.Queue, logger *zap.Logger) *MediaProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MediaProcessor{repo: repo, s3: s3, queue: q, logger: logger}
}

// Process executes one media job.
func (p *MediaProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeMediaProcess {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.MediaProcessPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	stream, err := p.repo.GetLiveStream(ctx, payload.StreamID)
	if err != nil || stream == nil {
		return fmt.Errorf("stream not found: %s", payload.StreamID)
	}
	if stream.PlaybackURL != "" {
		p.logger.Info("stream already processed", zap.String("stream_id", stream.ID.String()))
		return nil
	}

	f, err := os.Open(payload.RecordingRef)
	if err != nil {
		return fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	key := storage.RecordingKey(payload.StreamID.String(), payload.StreamID.String())
	url, err := p.s3.Upload(ctx, p.s3.RecordingsBucket(), key, "video/mp4", f)
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	if err := p.repo.SetLiveStreamPlaybackURL(ctx, payload.StreamID, url); err != nil {
		return fmt.Errorf("set playback url: %w", err)
	}

	// Local file no longer needed once the object is durable.
	_ = os.Remove(payload.RecordingRef)

	p.logger.Info("media job completed",
		zap.String("stream_id", payload.StreamID.String()),
		zap.Int("highlights", len(payload.Highlights)),
		zap.String("playback_url", url))
	return nil
}

// Run consumes jobs until ctx is cancelled. Failed jobs are retried with the
// queue's backoff policy.
func (p *MediaProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("dequeue failed", zap.Error(err))
			continue
		}
		if job == nil {
			continue
		}
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("media job failed", zap.Error(err), zap.String("job_id", job.ID))
			_ = p.queue.Retry(ctx, job)
		}
	}
}
