package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/nexus-dashboard/nexus/internal/mail"
)

// Task type constants
const (
	TaskPasswordResetMail   = "mail:password_reset"
	TaskAccountApprovedMail = "mail:account_approved"
	TaskPurge               = "maintenance:purge"
)

// PasswordResetPayload is the payload of TaskPasswordResetMail.
type PasswordResetPayload struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

// AccountApprovedPayload is the payload of TaskAccountApprovedMail.
type AccountApprovedPayload struct {
	Email string `json:"email"`
}

// Queue enqueues notification tasks. Implemented by Client (asynq) and
// InlineQueue (no Redis).
type Queue interface {
	EnqueuePasswordReset(ctx context.Context, email, token string) error
	EnqueueAccountApproved(ctx context.Context, email string) error
}

// Client enqueues tasks on the asynq queue.
type Client struct {
	client *asynq.Client
}

// NewClient connects an asynq client for task enqueueing.
func NewClient(redisURL string) (*Client, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &Client{client: asynq.NewClient(opt)}, nil
}

// Close closes the asynq client connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueuePasswordReset enqueues the reset mail. Mail tasks retry up to 5
// times and are retained for a day after completion.
func (c *Client) EnqueuePasswordReset(ctx context.Context, email, token string) error {
	return c.enqueue(ctx, TaskPasswordResetMail, PasswordResetPayload{Email: email, Token: token})
}

func (c *Client) EnqueueAccountApproved(ctx context.Context, email string) error {
	return c.enqueue(ctx, TaskAccountApprovedMail, AccountApprovedPayload{Email: email})
}

func (c *Client) enqueue(ctx context.Context, taskType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	task := asynq.NewTask(
		taskType,
		data,
		asynq.MaxRetry(5),
		asynq.Timeout(time.Minute),
		asynq.Retention(24*time.Hour),
	)
	if _, err := c.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", taskType, err)
	}
	return nil
}

// InlineQueue sends mail synchronously. Used when no Redis is configured.
type InlineQueue struct {
	sender  mail.Sender
	baseURL string
}

// NewInlineQueue creates an InlineQueue.
func NewInlineQueue(sender mail.Sender, baseURL string) *InlineQueue {
	return &InlineQueue{sender: sender, baseURL: baseURL}
}

func (q *InlineQueue) EnqueuePasswordReset(ctx context.Context, email, token string) error {
	return q.sender.Send(ctx, mail.PasswordReset(email, q.baseURL, token))
}

func (q *InlineQueue) EnqueueAccountApproved(ctx context.Context, email string) error {
	return q.sender.Send(ctx, mail.AccountApproved(email, q.baseURL))
}
