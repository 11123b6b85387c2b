package inbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"steward/internal/shared/commandbus"
	"steward/internal/shared/events"
)

type recordingSender struct {
	commands []commandbus.Command
	fail     error
}

func (s *recordingSender) Send(_ context.Context, cmd commandbus.Command) (any, error) {
	if s.fail != nil {
		return nil, s.fail
	}
	s.commands = append(s.commands, cmd)
	return nil, nil
}

type applyCommand struct {
	AggregateID string
}

func (applyCommand) CommandName() string   { return "test.apply" }
func (c applyCommand) ResourceKey() string { return "agg:" + c.AggregateID }

func envelopePayload(t *testing.T, eventID string, aggregateID string) []byte {
	t.Helper()
	env := events.Envelope{
		EventID:       eventID,
		EventType:     "test.topic",
		SourceService: "elsewhere",
		OccurredAt:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		PartitionKey:  aggregateID,
		SchemaVersion: 1,
		Data:          []byte(`{"aggregate_id":"` + aggregateID + `"}`),
	}
	payload, err := env.Marshal()
	require.NoError(t, err)
	return payload
}

func newTestConsumer(sender *recordingSender, store *MemoryStore) *Consumer {
	c := &Consumer{
		Dispatcher:  sender,
		Idempotency: store,
		UnitOfWork:  commandbus.NewMemoryUnitOfWork(store),
		Group:       "steward-test",
	}
	c.RegisterMapper("test.topic", func(env events.Envelope) (commandbus.Command, error) {
		return applyCommand{AggregateID: env.PartitionKey}, nil
	})
	return c
}

func TestConsumerProcessesAndRecords(t *testing.T) {
	sender := &recordingSender{}
	store := NewMemoryStore()
	c := newTestConsumer(sender, store)

	err := c.OnMessage(context.Background(), "test.topic", "msg-1", envelopePayload(t, "msg-1", "agg-1"))
	require.NoError(t, err)
	require.Len(t, sender.commands, 1)
	require.Equal(t, applyCommand{AggregateID: "agg-1"}, sender.commands[0])

	seen, err := store.Seen(context.Background(), "msg-1")
	require.NoError(t, err)
	require.True(t, seen)
}

func TestConsumerAcksDuplicateWithoutSideEffects(t *testing.T) {
	sender := &recordingSender{}
	store := NewMemoryStore()
	c := newTestConsumer(sender, store)

	payload := envelopePayload(t, "msg-1", "agg-1")
	require.NoError(t, c.OnMessage(context.Background(), "test.topic", "msg-1", payload))
	require.NoError(t, c.OnMessage(context.Background(), "test.topic", "msg-1", payload))

	require.Len(t, sender.commands, 1)
	require.Equal(t, 1, store.Count())
}

func TestConsumerFailureLeavesNoIdempotencyRecord(t *testing.T) {
	sender := &recordingSender{fail: errors.New("command failed")}
	store := NewMemoryStore()
	c := newTestConsumer(sender, store)

	err := c.OnMessage(context.Background(), "test.topic", "msg-1", envelopePayload(t, "msg-1", "agg-1"))
	require.Error(t, err)

	// A nack must leave the slot open for the redelivery.
	seen, seenErr := store.Seen(context.Background(), "msg-1")
	require.NoError(t, seenErr)
	require.False(t, seen)

	// Redelivery after the failure clears succeeds.
	sender.fail = nil
	require.NoError(t, c.OnMessage(context.Background(), "test.topic", "msg-1", envelopePayload(t, "msg-1", "agg-1")))
	require.Len(t, sender.commands, 1)
}

func TestConsumerFallsBackToEnvelopeEventID(t *testing.T) {
	sender := &recordingSender{}
	store := NewMemoryStore()
	c := newTestConsumer(sender, store)

	require.NoError(t, c.OnMessage(context.Background(), "test.topic", "", envelopePayload(t, "env-7", "agg-1")))

	seen, err := store.Seen(context.Background(), "env-7")
	require.NoError(t, err)
	require.True(t, seen)
}

func TestConsumerRejectsUnmappedTopic(t *testing.T) {
	sender := &recordingSender{}
	store := NewMemoryStore()
	c := newTestConsumer(sender, store)

	err := c.OnMessage(context.Background(), "unknown.topic", "msg-1", envelopePayload(t, "msg-1", "agg-1"))
	require.Error(t, err)
	require.Empty(t, sender.commands)
}

func TestConsumerDuplicateRaceAcks(t *testing.T) {
	// Seen returns false but the Record hits an existing row, as happens
	// when two workers process the same delivery concurrently.
	sender := &recordingSender{}
	store := NewMemoryStore()
	require.NoError(t, store.Record(context.Background(), "msg-1", time.Now()))

	c := &Consumer{
		Dispatcher:  sender,
		Idempotency: racingStore{store},
		UnitOfWork:  commandbus.NewMemoryUnitOfWork(store),
		Group:       "steward-test",
	}
	c.RegisterMapper("test.topic", func(env events.Envelope) (commandbus.Command, error) {
		return applyCommand{AggregateID: env.PartitionKey}, nil
	})

	err := c.OnMessage(context.Background(), "test.topic", "msg-1", envelopePayload(t, "msg-1", "agg-1"))
	require.NoError(t, err)
}

// racingStore hides the existing record from Seen so Record collides.
type racingStore struct {
	*MemoryStore
}

func (racingStore) Seen(context.Context, string) (bool, error) { return false, nil }
