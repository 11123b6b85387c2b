package converters

import (
	"encoding/json"
	"fmt"

	"steward/contexts/identity/domain/events"
	"steward/internal/shared/commandbus"
	sharedevents "steward/internal/shared/events"
)

// TopicUserCreated is published for external subscribers. Nothing in this
// process consumes it.
const TopicUserCreated = "user.created"

type UserCreatedPayload struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

type UserCreatedConverter struct{}

func (UserCreatedConverter) DomainEventName() string { return events.UserCreated{}.EventName() }

func (UserCreatedConverter) Convert(event commandbus.DomainEvent) (sharedevents.Envelope, error) {
	e, ok := event.(events.UserCreated)
	if !ok {
		return sharedevents.Envelope{}, fmt.Errorf("user created converter: unexpected event %T", event)
	}
	data, err := json.Marshal(UserCreatedPayload{UserID: e.UserID, Email: e.Email})
	if err != nil {
		return sharedevents.Envelope{}, err
	}
	return sharedevents.Envelope{
		EventType:     TopicUserCreated,
		PartitionKey:  e.UserID,
		SchemaVersion: 1,
		Data:          data,
	}, nil
}
