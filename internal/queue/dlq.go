package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/therealutkarshpriyadarshi/vodpipeline/pkg/models"
)

const (
	DeadLetterQueueName    = "vod_transcoding_dlq"
	DeadLetterExchangeName = "vod_dlq"
	RetryQueueName         = "vod_transcoding_retry"
	MaxRetries             = 5

	retryCountHeader    = "x-retry-count"
	failureReasonHeader = "x-failure-reason"
)

// SetupDeadLetterQueue declares the retry and dead letter queues. Messages
// expire out of the retry queue back onto the transcoding queue.
func (q *Queue) SetupDeadLetterQueue() error {
	err := q.channel.ExchangeDeclare(
		DeadLetterExchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ exchange: %w", err)
	}

	_, err = q.channel.QueueDeclare(DeadLetterQueueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ: %w", err)
	}

	if err := q.channel.QueueBind(DeadLetterQueueName, DeadLetterQueueName, DeadLetterExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind DLQ: %w", err)
	}

	retryArgs := amqp.Table{
		"x-dead-letter-exchange":    ExchangeName,
		"x-dead-letter-routing-key": TranscodeQueueName,
	}

	_, err = q.channel.QueueDeclare(RetryQueueName, true, false, false, false, retryArgs)
	if err != nil {
		return fmt.Errorf("failed to declare retry queue: %w", err)
	}

	q.logger.Debug("dead letter queue infrastructure declared")
	return nil
}

// PublishToRetryQueue schedules a failed job to run again from the start
// after a backoff delay. Jobs past MaxRetries go to the dead letter queue.
func (q *Queue) PublishToRetryQueue(ctx context.Context, job *models.PipelineJob, retryCount int, reason string) error {
	if retryCount >= MaxRetries {
		return q.PublishToDeadLetterQueue(ctx, job, reason)
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	delay := calculateBackoffDelay(retryCount)

	err = q.publish(ctx, "", RetryQueueName, body, amqp.Publishing{
		Headers: amqp.Table{
			retryCountHeader:    int32(retryCount + 1),
			failureReasonHeader: reason,
		},
		Priority:   clampPriority(job.Priority),
		MessageId:  job.ID,
		Type:       job.Type,
		Expiration: fmt.Sprintf("%d", delay.Milliseconds()),
	})
	if err != nil {
		return fmt.Errorf("failed to publish to retry queue: %w", err)
	}

	q.logger.LogJobEvent(job.ID, "retry_scheduled", "retrying", map[string]interface{}{
		"attempt": retryCount + 1,
		"delay":   delay.String(),
		"reason":  reason,
	})
	return nil
}

// PublishToDeadLetterQueue parks a job that keeps failing for manual inspection
func (q *Queue) PublishToDeadLetterQueue(ctx context.Context, job *models.PipelineJob, reason string) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = q.publish(ctx, DeadLetterExchangeName, DeadLetterQueueName, body, amqp.Publishing{
		Headers: amqp.Table{
			failureReasonHeader: reason,
			"x-failed-at":       time.Now().Format(time.RFC3339),
		},
		MessageId: job.ID,
		Type:      job.Type,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	q.logger.LogJobEvent(job.ID, "dead_lettered", "failed", map[string]interface{}{"reason": reason})
	return nil
}

// GetDLQDepth returns the number of messages in the dead letter queue
func (q *Queue) GetDLQDepth() (int, error) {
	info, err := q.channel.QueueInspect(DeadLetterQueueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect DLQ: %w", err)
	}

	return info.Messages, nil
}

// retryCountFromHeaders reads the attempt counter, tolerating the integer
// widths AMQP decoders produce
func retryCountFromHeaders(headers amqp.Table) int {
	switch v := headers[retryCountHeader].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	}
	return 0
}

// calculateBackoffDelay doubles from one minute per attempt, capped at an hour
func calculateBackoffDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 6 {
		return time.Hour
	}

	delay := time.Minute * time.Duration(1<<retryCount)
	if delay > time.Hour {
		delay = time.Hour
	}

	return delay
}
