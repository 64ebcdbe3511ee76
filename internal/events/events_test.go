package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/tether/internal/domain"
)

func sampleEvent() Event {
	execID := uuid.New()
	return Event{
		Type:          TypeExecution,
		ExecutionID:   &execID,
		PolicyID:      uuid.New(),
		Result:        domain.ResultDenied,
		Reason:        "spend limit exceeded",
		PolicyVersion: 2,
		Timestamp:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestBrokerPublisher_PublishesToBothChannels(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := NewLocalBroker()
	e := sampleEvent()

	all, cleanupAll, err := broker.Subscribe(ctx, ExecutionsChannel)
	require.NoError(t, err)
	defer cleanupAll()
	scoped, cleanupScoped, err := broker.Subscribe(ctx, PolicyChannel(e.PolicyID))
	require.NoError(t, err)
	defer cleanupScoped()

	require.NoError(t, NewBrokerPublisher(broker).Publish(ctx, e))

	for _, ch := range []<-chan []byte{all, scoped} {
		select {
		case msg := <-ch:
			var got Event
			require.NoError(t, json.Unmarshal(msg, &got))
			assert.Equal(t, e.PolicyID, got.PolicyID)
			assert.Equal(t, e.Reason, got.Reason)
		case <-time.After(time.Second):
			t.Fatal("no message received")
		}
	}
}

func TestLocalBroker_CleanupClosesChannel(t *testing.T) {
	t.Parallel()

	broker := NewLocalBroker()
	ch, cleanup, err := broker.Subscribe(context.Background(), "c")
	require.NoError(t, err)

	cleanup()
	cleanup() // idempotent

	_, ok := <-ch
	assert.False(t, ok)
	require.NoError(t, broker.Publish(context.Background(), "c", []byte("x")))
}

func TestLocalBroker_ContextCancelUnsubscribes(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	broker := NewLocalBroker()
	ch, _, err := broker.Subscribe(ctx, "c")
	require.NoError(t, err)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

type failing struct{ err error }

func (f failing) Publish(context.Context, Event) error { return f.err }

func TestMulti_JoinsErrors(t *testing.T) {
	t.Parallel()

	errA := errors.New("a")
	errB := errors.New("b")
	err := Multi{failing{errA}, Discard{}, failing{errB}}.Publish(context.Background(), sampleEvent())
	require.ErrorIs(t, err, errA)
	require.ErrorIs(t, err, errB)

	require.NoError(t, Logged(failing{errA}).Publish(context.Background(), sampleEvent()))
}

func TestNewKafkaPublisherValidation(t *testing.T) {
	t.Parallel()

	_, err := NewKafkaPublisher(KafkaConfig{Topic: "executions"})
	require.Error(t, err)

	_, err = NewKafkaPublisher(KafkaConfig{Brokers: []string{" "}, Topic: "executions"})
	require.Error(t, err)

	_, err = NewKafkaPublisher(KafkaConfig{Brokers: []string{"127.0.0.1:9092"}})
	require.Error(t, err)

	k, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{" 127.0.0.1:9092 "}, Topic: "executions"})
	require.NoError(t, err)
	require.NoError(t, k.Close())
}

type fakeKafkaWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafkaWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisher_KeysByPolicy(t *testing.T) {
	t.Parallel()

	w := &fakeKafkaWriter{}
	k := &KafkaPublisher{writer: w}
	e := sampleEvent()

	require.NoError(t, k.Publish(context.Background(), e))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, e.PolicyID.String(), string(w.msgs[0].Key))
	assert.Equal(t, "type", w.msgs[0].Headers[0].Key)
	assert.Equal(t, string(TypeExecution), string(w.msgs[0].Headers[0].Value))

	w.err = errors.New("broker down")
	require.Error(t, k.Publish(context.Background(), e))

	require.NoError(t, k.Close())
	assert.True(t, w.closed)

	var nilPub *KafkaPublisher
	require.Error(t, nilPub.Publish(context.Background(), e))
	require.NoError(t, nilPub.Close())
}
