package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"storefront-api/internal/model"
)

// Publisher announces account lifecycle changes so downstream consumers
// (mailers, audit trails) can react. Publishing is always best-effort.
type Publisher interface {
	PublishUserRegistered(user *model.User) error
	PublishUserLinked(user *model.User) error
}

type UserRegisteredEvent struct {
	EventType    string    `json:"event_type"`
	UserID       uuid.UUID `json:"user_id"`
	Email        string    `json:"email"`
	Provider     string    `json:"provider"`
	RegisteredAt time.Time `json:"registered_at"`
}

type UserLinkedEvent struct {
	EventType string    `json:"event_type"`
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email"`
	LinkedAt  time.Time `json:"linked_at"`
}

type NatsPublisher struct {
	conn *nats.Conn
}

func NewNatsPublisher(natsURL string) (Publisher, error) {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, err
	}

	return &NatsPublisher{conn: nc}, nil
}

func (p *NatsPublisher) PublishUserRegistered(user *model.User) error {
	event := UserRegisteredEvent{
		EventType:    "user.registered",
		UserID:       user.ID,
		Email:        user.Email,
		Provider:     string(user.Provider),
		RegisteredAt: time.Now(),
	}

	return p.publish("user.registered", event)
}

func (p *NatsPublisher) PublishUserLinked(user *model.User) error {
	event := UserLinkedEvent{
		EventType: "user.linked",
		UserID:    user.ID,
		Email:     user.Email,
		LinkedAt:  time.Now(),
	}

	return p.publish("user.linked", event)
}

func (p *NatsPublisher) publish(subject string, event any) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.conn.Publish(subject, eventJSON)
}

// NoopPublisher is used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishUserRegistered(*model.User) error { return nil }
func (NoopPublisher) PublishUserLinked(*model.User) error     { return nil }
