package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/cuemby/djt/pkg/events"
	"github.com/cuemby/djt/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent() *events.Event {
	return events.NewEvent(events.EventJobUpdated, &types.Job{
		Key:        types.JobKey{AppID: "ocr", TenantID: "t1", PatientID: "p1", DocumentID: "d1", RunID: "r1"},
		TotalPages: 2,
		Status:     types.StatusInProgress,
		Pages: map[int]*types.PageStatus{
			1: {PageNumber: 1, Status: types.StatusCompleted},
			2: {PageNumber: 2, Status: types.StatusInProgress},
		},
		Version: 3,
	})
}

func TestKafkaSinkSend(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "djt.jobs" {
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "ocr:t1:p1:d1:r1" {
			return fmt.Errorf("unexpected key %s", key)
		}
		headers := make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			headers[string(h.Key)] = string(h.Value)
		}
		if headers["event_type"] != string(events.EventJobUpdated) {
			return fmt.Errorf("unexpected event_type header %q", headers["event_type"])
		}
		if headers["job_version"] != "3" {
			return fmt.Errorf("unexpected job_version header %q", headers["job_version"])
		}

		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var decoded struct {
			Type events.EventType `json:"type"`
			Job  types.Job        `json:"job"`
		}
		if err := json.Unmarshal(value, &decoded); err != nil {
			return err
		}
		if decoded.Type != events.EventJobUpdated || decoded.Job.Status != types.StatusInProgress {
			return fmt.Errorf("unexpected payload %s", value)
		}
		if len(decoded.Job.Pages) != 2 {
			return fmt.Errorf("expected 2 pages, got %d", len(decoded.Job.Pages))
		}
		return nil
	})

	sink := NewKafkaSink(producer, "djt.jobs")
	require.NoError(t, sink.Send(context.Background(), testEvent()))
	assert.Equal(t, "kafka", sink.Name())
}

func TestKafkaSinkSendFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()

	producer.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)

	sink := NewKafkaSink(producer, "djt.jobs")
	err := sink.Send(context.Background(), testEvent())
	require.Error(t, err)
	assert.True(t, errors.Is(err, sarama.ErrNotLeaderForPartition))
}

func TestKafkaSinkCanceledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// No expectation is set, so a send would fail the mock
	err := NewKafkaSink(producer, "djt.jobs").Send(ctx, testEvent())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewProducerConfigIsValid(t *testing.T) {
	config := NewProducerConfig("djt-test")
	require.NoError(t, config.Validate())
	assert.Equal(t, "djt-test", config.ClientID)
	assert.Equal(t, sarama.WaitForAll, config.Producer.RequiredAcks)
	assert.True(t, config.Producer.Return.Successes)
}
