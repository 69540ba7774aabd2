package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/config"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/logging"
	"github.com/therealutkarshpriyadarshi/vodpipeline/pkg/models"
)

const (
	TranscodeQueueName  = "vod_transcoding"
	StoryboardQueueName = "video_storyboards"
	ExchangeName        = "vod"

	maxPriority = 10
)

// publisher is the part of an AMQP channel used to send messages
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Queue provides message queue operations
type Queue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	pub     publisher
	logger  *logging.Logger
}

// New creates a new queue client and declares the pipeline topology
func New(cfg config.QueueConfig, logger *logging.Logger) (*Queue, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	url := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Vhost)

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	q := &Queue{
		conn:    conn,
		channel: channel,
		pub:     channel,
		logger:  logger,
	}

	if err := q.declare(); err != nil {
		q.Close()
		return nil, err
	}

	return q, nil
}

func (q *Queue) declare() error {
	err := q.channel.ExchangeDeclare(
		ExchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	queues := []struct {
		name string
		args amqp.Table
	}{
		{TranscodeQueueName, amqp.Table{"x-max-priority": int32(maxPriority)}},
		{StoryboardQueueName, nil},
	}

	for _, def := range queues {
		_, err = q.channel.QueueDeclare(
			def.name,
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			def.args,
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", def.name, err)
		}

		if err := q.channel.QueueBind(def.name, def.name, ExchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", def.name, err)
		}
	}

	return q.SetupDeadLetterQueue()
}

// Close closes the queue connection
func (q *Queue) Close() error {
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

func clampPriority(p int) uint8 {
	if p < 0 {
		return 0
	}
	if p > maxPriority {
		return maxPriority
	}
	return uint8(p)
}

func (q *Queue) publish(ctx context.Context, exchange, key string, body []byte, msg amqp.Publishing) error {
	msg.DeliveryMode = amqp.Persistent
	msg.ContentType = "application/json"
	msg.Body = body
	msg.Timestamp = time.Now()

	return q.pub.PublishWithContext(ctx, exchange, key, false, false, msg)
}

// PublishJob publishes a pipeline job to the transcoding queue
func (q *Queue) PublishJob(ctx context.Context, job *models.PipelineJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = q.publish(ctx, ExchangeName, TranscodeQueueName, body, amqp.Publishing{
		Priority:  clampPriority(job.Priority),
		MessageId: job.ID,
		Type:      job.Type,
	})
	if err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}

	q.logger.LogJobEvent(job.ID, "published", "queued", map[string]interface{}{
		"type":       job.Type,
		"asset_uuid": job.AssetUUID,
	})
	return nil
}

// Dispatch schedules a follow-on job. It does not wait for the job to run.
func (q *Queue) Dispatch(ctx context.Context, job *models.FollowOnJob) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal follow-on job: %w", err)
	}

	err = q.publish(ctx, ExchangeName, StoryboardQueueName, body, amqp.Publishing{Type: job.Type})
	if err != nil {
		return fmt.Errorf("failed to dispatch %s: %w", job.Type, err)
	}

	q.logger.WithAssetID(job.AssetUUID).Debugf("dispatched %s", job.Type)
	return nil
}

// ErrPermanent marks a handler failure that retrying cannot fix. Such jobs
// go straight to the dead letter queue.
var ErrPermanent = errors.New("permanent job failure")

// JobHandler runs one pipeline job
type JobHandler func(ctx context.Context, job *models.PipelineJob) error

// ConsumeJobs starts consuming pipeline jobs. prefetch bounds how many
// unacknowledged jobs this consumer holds, normally the worker count.
func (q *Queue) ConsumeJobs(ctx context.Context, prefetch int, handler JobHandler) error {
	if prefetch < 1 {
		prefetch = 1
	}

	err := q.channel.Qos(
		prefetch, // prefetch count
		0,        // prefetch size
		false,    // global
	)
	if err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := q.channel.Consume(
		TranscodeQueueName,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	sem := make(chan struct{}, prefetch)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}

				sem <- struct{}{}
				go func(msg amqp.Delivery) {
					defer func() { <-sem }()
					q.settle(msg, q.process(ctx, msg.Body, msg.Headers, handler))
				}(msg)
			}
		}
	}()

	return nil
}

// outcome is how a delivery is settled with the broker
type outcome int

const (
	outcomeAck outcome = iota
	outcomeReject
	outcomeRequeue
)

func (q *Queue) settle(msg amqp.Delivery, o outcome) {
	var err error
	switch o {
	case outcomeAck:
		err = msg.Ack(false)
	case outcomeReject:
		err = msg.Nack(false, false)
	case outcomeRequeue:
		err = msg.Nack(false, true)
	}
	if err != nil {
		q.logger.WithError(err).Warn("failed to settle delivery")
	}
}

// process runs the handler for one delivery. Failed jobs go to the retry
// queue; if that publish fails the delivery is requeued instead.
func (q *Queue) process(ctx context.Context, body []byte, headers amqp.Table, handler JobHandler) outcome {
	var job models.PipelineJob
	if err := json.Unmarshal(body, &job); err != nil {
		q.logger.WithError(err).Error("dropping malformed job")
		return outcomeReject
	}

	if !models.ValidJobType(job.Type) {
		q.logger.WithJobID(job.ID).Errorf("dropping job of unknown type %q", job.Type)
		return outcomeReject
	}

	err := handler(ctx, &job)
	if err == nil {
		return outcomeAck
	}

	if errors.Is(err, ErrPermanent) {
		if err := q.PublishToDeadLetterQueue(ctx, &job, err.Error()); err != nil {
			q.logger.WithJobID(job.ID).WithError(err).Error("failed to dead letter job")
			return outcomeRequeue
		}
		return outcomeAck
	}

	retries := retryCountFromHeaders(headers)
	if err := q.PublishToRetryQueue(ctx, &job, retries, err.Error()); err != nil {
		q.logger.WithJobID(job.ID).WithError(err).Error("failed to schedule retry")
		return outcomeRequeue
	}

	return outcomeAck
}

// GetQueueDepth returns the number of messages in the transcoding queue
func (q *Queue) GetQueueDepth() (int, error) {
	info, err := q.channel.QueueInspect(TranscodeQueueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue: %w", err)
	}

	return info.Messages, nil
}
