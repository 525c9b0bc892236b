package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
)

// AnalysisJob is one request to run the driver against a set of archive
// paths already staged on local disk (pulled from a device, or dropped
// into the watched inbound directory).
type AnalysisJob struct {
	RunID        string   `json:"run_id"`
	ArchiveHash  string   `json:"archive_hash"`
	Title        string   `json:"title"`
	ArchivePaths []string `json:"archive_paths"`
}

// Producer publishes AnalysisJob messages to the queue.
type Producer struct {
	mq     *RabbitMQ
	logger *logrus.Logger
}

func NewProducer(mq *RabbitMQ, logger *logrus.Logger) *Producer {
	return &Producer{mq: mq, logger: logger}
}

func (p *Producer) PublishJob(ctx context.Context, job *AnalysisJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := p.mq.Publish(ctx, body); err != nil {
		p.logger.WithError(err).WithField("run_id", job.RunID).Error("failed to publish analysis job")
		return fmt.Errorf("failed to publish: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"run_id":       job.RunID,
		"archive_hash": job.ArchiveHash,
		"title":        job.Title,
	}).Info("analysis job published to queue")

	return nil
}

func (p *Producer) GetQueueSize() (int, error) {
	messageCount, _, err := p.mq.GetQueueStats()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue stats: %w", err)
	}
	return messageCount, nil
}
