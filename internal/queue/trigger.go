// Package queue provides the SQS producer used when the scheduler fans
// tasks out to dispatch workers instead of running them in-process.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"podconnect/internal/config"
	"podconnect/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// TaskEnqueuer sends one TaskMessage per (account, source) to the task queue.
type TaskEnqueuer struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewTaskEnqueuer reads the queue URL from AWSConfig.
func NewTaskEnqueuer(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) *TaskEnqueuer {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskEnqueuer{
		client:   client,
		queueURL: awsCfg.TaskQueueURL,
		logger:   logger,
	}
}

// Enqueue sends the message for one task. The message group is the task key
// so a FIFO queue never delivers two messages for the same task concurrently.
func (e *TaskEnqueuer) Enqueue(ctx context.Context, accountID int64, source string) error {
	if e.queueURL == "" {
		return types.NewAppError(types.ErrCodeConfigMissingSecret, "SQS_TASK_QUEUE is not configured", nil)
	}

	msg := types.TaskMessage{
		AccountID:  accountID,
		SourceName: source,
		CycleID:    types.GetCycleID(ctx),
		TraceID:    uuid.New().String(),
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal TaskMessage: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(e.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"source": {
				DataType:    aws.String("String"),
				StringValue: aws.String(source),
			},
		},
	}

	if _, err := e.client.SendMessage(ctx, input); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("failed to send task message to %s", e.queueURL), err)
	}

	e.logger.InfoContext(ctx, "task message sent",
		"account_id", accountID,
		"source", source,
		"trace_id", msg.TraceID,
	)
	return nil
}
