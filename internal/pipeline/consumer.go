package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/resolvd/support-ai-platform/internal/ticket"
	"github.com/resolvd/support-ai-platform/pkg/logging"
)

// ticketJob is the queue payload: one ticket to run through the
// pipeline.
type ticketJob struct {
	TicketID string `json:"ticket_id"`
}

// Consumer drains the intake queue with a pool of workers, running one
// pipeline pass per message. Each message is processed on its own
// goroutine slot; tickets have no ordering guarantee across messages.
type Consumer struct {
	orchestrator *Orchestrator
	queue        queueClient
	logger       *logging.Logger
	workerCount  int
	waitSeconds  int
	jobTimeout   time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ConsumerOption customizes a Consumer.
type ConsumerOption func(*Consumer)

// WithWorkerCount sets the number of polling workers (minimum 1).
func WithWorkerCount(n int) ConsumerOption {
	return func(c *Consumer) {
		if n >= 1 {
			c.workerCount = n
		}
	}
}

// WithJobTimeout bounds one pipeline run started from the queue.
func WithJobTimeout(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d > 0 {
			c.jobTimeout = d
		}
	}
}

// NewConsumer creates a consumer over the queue and orchestrator.
func NewConsumer(orchestrator *Orchestrator, queue queueClient, logger *logging.Logger, opts ...ConsumerOption) *Consumer {
	if orchestrator == nil {
		panic("pipeline: orchestrator required")
	}
	if queue == nil {
		panic("pipeline: queue required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	c := &Consumer{
		orchestrator: orchestrator,
		queue:        queue,
		logger:       logger,
		workerCount:  4,
		waitSeconds:  10,
		jobTimeout:   2 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enqueue submits a ticket for processing.
func (c *Consumer) Enqueue(ctx context.Context, ticketID uuid.UUID) error {
	body, err := json.Marshal(ticketJob{TicketID: ticketID.String()})
	if err != nil {
		return fmt.Errorf("pipeline: encode job: %w", err)
	}
	return c.queue.Send(ctx, string(body))
}

// Start launches the worker pool. Workers run until Shutdown.
func (c *Consumer) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	for i := 0; i < c.workerCount; i++ {
		c.wg.Add(1)
		go c.runWorker(ctx, i)
	}
	c.logger.Info("pipeline consumer started", "workers", c.workerCount)
}

// Shutdown stops polling and waits for in-flight jobs, or returns when
// ctx expires first.
func (c *Consumer) Shutdown(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Consumer) runWorker(ctx context.Context, workerID int) {
	defer c.wg.Done()

	for {
		messages, err := c.queue.Receive(ctx, 5, c.waitSeconds)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("queue receive failed",
				"worker", workerID,
				"error", err.Error(),
			)
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range messages {
			c.handleMessage(ctx, msg)
		}

		if ctx.Err() != nil {
			return
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, msg queueMessage) {
	var job ticketJob
	if err := json.Unmarshal([]byte(msg.Body), &job); err != nil {
		c.logger.Error("dropping malformed queue message", "message_id", msg.ID)
		c.deleteMessage(msg)
		return
	}
	ticketID, err := uuid.Parse(job.TicketID)
	if err != nil {
		c.logger.Error("dropping job with invalid ticket id",
			"message_id", msg.ID,
			"ticket_id", job.TicketID,
		)
		c.deleteMessage(msg)
		return
	}

	runCtx, cancel := context.WithTimeout(context.Background(), c.jobTimeout)
	defer cancel()

	_, err = c.orchestrator.Run(runCtx, ticketID)
	switch {
	case err == nil:
		c.deleteMessage(msg)
	case errors.Is(err, ticket.ErrVersionConflict):
		// Retryable: hand the message back for redelivery.
		c.logger.Warn("pipeline run exhausted commit retries, releasing message for redelivery",
			"ticket_id", ticketID.String(),
		)
		c.releaseMessage(msg)
	default:
		// Terminal: re-running the same message cannot help.
		c.logger.Error("pipeline run failed",
			"ticket_id", ticketID.String(),
			"error", err.Error(),
		)
		c.deleteMessage(msg)
	}
}

func (c *Consumer) releaseMessage(msg queueMessage) {
	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.queue.Release(releaseCtx, msg); err != nil {
		c.logger.Error("queue release failed", "message_id", msg.ID, "error", err.Error())
	}
}

func (c *Consumer) deleteMessage(msg queueMessage) {
	deleteCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.queue.Delete(deleteCtx, msg.ReceiptHandle); err != nil {
		c.logger.Error("queue delete failed", "message_id", msg.ID, "error", err.Error())
	}
}
