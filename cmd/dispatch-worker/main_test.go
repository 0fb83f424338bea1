package main

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podconnect/internal/scheduler"
	"podconnect/internal/types"
)

type call struct {
	accountID int64
	source    string
}

type fakeRunner struct {
	calls  []call
	result func(accountID int64) (*scheduler.CycleReport, error)
}

func (f *fakeRunner) DispatchOne(_ context.Context, accountID int64, source string) (*scheduler.CycleReport, error) {
	f.calls = append(f.calls, call{accountID, source})
	return f.result(accountID)
}

func outcome(status types.TaskStatus, err error) (*scheduler.CycleReport, error) {
	return &scheduler.CycleReport{Outcomes: []types.TaskOutcome{{Status: status, Err: err}}}, nil
}

func record(id, body string) events.SQSMessage {
	return events.SQSMessage{MessageId: id, Body: body}
}

func TestHandle_DispatchesEachMessage(t *testing.T) {
	runner := &fakeRunner{result: func(int64) (*scheduler.CycleReport, error) {
		return outcome(types.TaskStatusSuccess, nil)
	}}
	h := NewHandler(runner, slog.New(slog.DiscardHandler))

	resp, err := h.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		record("m1", `{"account_id":1,"source_name":"podigee","cycle_id":"c"}`),
		record("m2", `{"account_id":2,"source_name":"spotify"}`),
	}})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	assert.Equal(t, []call{{1, "podigee"}, {2, "spotify"}}, runner.calls)
}

func TestHandle_DropsBadMessages(t *testing.T) {
	runner := &fakeRunner{}
	h := NewHandler(runner, slog.New(slog.DiscardHandler))

	resp, err := h.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		record("m1", `not json`),
		record("m2", `{"account_id":0,"source_name":"podigee"}`),
		record("m3", `{"account_id":3,"source_name":" "}`),
	}})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	assert.Empty(t, runner.calls)
}

func TestHandle_PartialFailures(t *testing.T) {
	unavailable := fmt.Errorf("%w: %w", scheduler.ErrCollectorUnavailable,
		types.NewAppError(types.ErrCodeUpstreamUnavailable, "collector returned 503", nil))

	runner := &fakeRunner{result: func(accountID int64) (*scheduler.CycleReport, error) {
		switch accountID {
		case 1:
			return nil, unavailable
		case 2:
			return nil, types.NewAppError(types.ErrCodeConfigInvalidTask, "podcast source not found", nil)
		case 3:
			return outcome(types.TaskStatusFailed, types.NewAppError(types.ErrCodeUpstreamRateLimited, "429", nil))
		case 4:
			return outcome(types.TaskStatusFailed, types.NewAppError(types.ErrCodeAuthReauthRequired, "reauth", nil))
		case 5:
			return outcome(types.TaskStatusFailed, types.NewAppError(types.ErrCodeTaskTimeout, "timed out", nil))
		default:
			return outcome(types.TaskStatusSkipped, nil)
		}
	}}
	h := NewHandler(runner, slog.New(slog.DiscardHandler))

	var records []events.SQSMessage
	for i := 1; i <= 6; i++ {
		records = append(records, record(fmt.Sprintf("m%d", i),
			fmt.Sprintf(`{"account_id":%d,"source_name":"podigee"}`, i)))
	}

	resp, err := h.Handle(context.Background(), events.SQSEvent{Records: records})
	require.NoError(t, err)
	assert.Equal(t, []events.SQSBatchItemFailure{
		{ItemIdentifier: "m1"},
		{ItemIdentifier: "m3"},
	}, resp.BatchItemFailures)
	assert.Len(t, runner.calls, 6)
}
