// Package recording manages broadcast recordings and hands finished ones to
// the media pipeline.
package recording

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulselive/backend/internal/models"
	"github.com/pulselive/backend/pkg/queue"
)

// Service implements the session core's Recorder collaborator. A recording is
// tracked by an opaque handle that doubles as the local file reference the
// ingest side writes to.
type Service struct {
	mu        sync.Mutex
	active    map[string]uuid.UUID // handle -> session id
	outputDir string
	logger    *zap.Logger
}

// NewService creates the recording service. outputDir empty means os.TempDir().
func NewService(outputDir string, logger *zap.Logger) *Service {
	if outputDir == "" {
		outputDir = os.TempDir()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		active:    make(map[string]uuid.UUID),
		outputDir: outputDir,
		logger:    logger,
	}
}

// Start registers a recording for the session and returns its handle.
func (s *Service) Start(_ context.Context, sessionID uuid.UUID) (string, error) {
	handle := filepath.Join(s.outputDir, fmt.Sprintf("rec_%s_%d.mp4", sessionID, time.Now().Unix()))
	s.mu.Lock()
	s.active[handle] = sessionID
	s.mu.Unlock()
	s.logger.Info("recording started",
		zap.String("session_id", sessionID.String()),
		zap.String("handle", handle))
	return handle, nil
}

// Stop closes out an active recording.
func (s *Service) Stop(_ context.Context, handle string) error {
	s.mu.Lock()
	_, ok := s.active[handle]
	delete(s.active, handle)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown recording handle %q", handle)
	}
	s.logger.Info("recording stopped", zap.String("handle", handle))
	return nil
}

// QueuePipeline implements the session core's Pipeline collaborator by
// enqueueing a media-processing job for the background worker.
type QueuePipeline struct {
	queue  *queue.Queue
	logger *zap.Logger
}

// NewQueuePipeline creates the queue-backed media pipeline handoff.
func NewQueuePipeline(q *queue.Queue, logger *zap.Logger) *QueuePipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueuePipeline{queue: q, logger: logger}
}

// Process hands a finished recording plus its highlights to the worker.
func (p *QueuePipeline) Process(ctx context.Context, streamID uuid.UUID, recordingRef string, highlights []models.Highlight) error {
	return p.queue.EnqueueMediaProcess(ctx, queue.MediaProcessPayload{
		StreamID:     streamID,
		RecordingRef: recordingRef,
		Highlights:   highlights,
	})
}
