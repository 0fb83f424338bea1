// Package main is the entrypoint for the Dispatch Worker Lambda function.
//
// The Dispatch Worker consumes task messages that connector-manager fans out
// in queue mode ({account_id, source_name}) and runs each one through the
// same Dispatcher the daemon uses.
//
// Handler flow, for each SQS message in the batch:
//  1. Unmarshal and validate the TaskMessage. Malformed messages are logged
//     and acknowledged.
//  2. Dispatcher.DispatchOne (lock, decrypt, refresh, plan, post).
//  3. A transient failure (collector down, database unavailable, upstream
//     errors that survived in-process retries) is reported as a batch item
//     failure so SQS redelivers only that message. Configuration and auth
//     failures are acknowledged: redelivery cannot fix them.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"podconnect/internal/app"
	"podconnect/internal/scheduler"
	"podconnect/internal/types"
)

// TaskRunner is the part of the Dispatcher the worker needs.
type TaskRunner interface {
	DispatchOne(ctx context.Context, accountID int64, sourceName string) (*scheduler.CycleReport, error)
}

// Handler holds the dependencies for the dispatch worker Lambda handler.
type Handler struct {
	runner TaskRunner
	logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(runner TaskRunner, logger *slog.Logger) *Handler {
	return &Handler{runner: runner, logger: logger}
}

// Handle processes a batch and reports partial failures.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.logger.ErrorContext(ctx, "task will be redelivered",
				"message_id", record.MessageId,
				"error", err)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

// processMessage returns an error only when the message should be redelivered.
func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	var msg types.TaskMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		h.logger.ErrorContext(ctx, "dropping malformed task message",
			"message_id", record.MessageId, "error", err)
		return nil
	}
	if err := msg.Validate(); err != nil {
		h.logger.ErrorContext(ctx, "dropping invalid task message",
			"message_id", record.MessageId, "error", err)
		return nil
	}

	logger := h.logger.With(
		"message_id", record.MessageId,
		"account_id", msg.AccountID,
		"source", msg.SourceName,
		"enqueue_cycle_id", msg.CycleID,
	)
	logger.InfoContext(ctx, "processing task message")

	report, err := h.runner.DispatchOne(ctx, msg.AccountID, msg.SourceName)
	if err != nil {
		if redeliver(err) {
			return err
		}
		logger.ErrorContext(ctx, "task cannot be dispatched", "error", err)
		return nil
	}

	for _, out := range report.Outcomes {
		if out.Status == types.TaskStatusFailed && redeliver(out.Err) {
			return out.Err
		}
	}
	return nil
}

func redeliver(err error) bool {
	return types.IsRetryable(err) && !types.HasCode(err, types.ErrCodeTaskTimeout)
}

func main() {
	cfg, logger, err := app.LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("Dispatch Worker Lambda initializing (cold start)")

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to initialise dispatcher", "error", err)
		os.Exit(1)
	}

	lambda.Start(NewHandler(a.Dispatcher, logger).Handle)
}
