// Package event publishes account lifecycle events to Kafka. Publishing is
// best-effort: failures are logged and never surfaced to the caller, so a
// broker outage cannot fail a user request.
package event

import (
	"context"
	"log/slog"

	"github.com/streamtube/account-service/internal/domain"
	"github.com/streamtube/account-service/internal/kafka"
	"github.com/streamtube/account-service/internal/logging"
)

const (
	TopicAccountRegistered      = "streamtube.account.registered"
	TopicAccountUpdated         = "streamtube.account.updated"
	TopicAccountPasswordChanged = "streamtube.account.password_changed"

	aggregateType = "account"
	source        = "account-service"
)

// Publisher is the narrow producer surface the event layer needs, satisfied
// by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *kafka.Event) error
}

// RegisteredPayload is the body of an account.registered event.
type RegisteredPayload struct {
	AccountID string `json:"account_id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
}

// UpdatedPayload is the body of an account.updated event. Fields lists the
// attributes that changed.
type UpdatedPayload struct {
	AccountID string   `json:"account_id"`
	Fields    []string `json:"fields"`
}

// PasswordChangedPayload is the body of an account.password_changed event.
type PasswordChangedPayload struct {
	AccountID string `json:"account_id"`
}

// Producer emits account domain events.
type Producer struct {
	publisher Publisher
	logger    *slog.Logger
}

func NewProducer(publisher Publisher, logger *slog.Logger) *Producer {
	return &Producer{publisher: publisher, logger: logger}
}

// AccountRegistered emits an event for a newly created account.
func (p *Producer) AccountRegistered(ctx context.Context, account *domain.Account) {
	p.emit(ctx, TopicAccountRegistered, "account.registered", account.ID, RegisteredPayload{
		AccountID: account.ID,
		Username:  account.Username,
		Email:     account.Email,
		FullName:  account.FullName,
	})
}

// AccountUpdated emits an event naming the changed profile attributes.
func (p *Producer) AccountUpdated(ctx context.Context, accountID string, fields []string) {
	p.emit(ctx, TopicAccountUpdated, "account.updated", accountID, UpdatedPayload{
		AccountID: accountID,
		Fields:    fields,
	})
}

// PasswordChanged emits an event after a successful password change.
func (p *Producer) PasswordChanged(ctx context.Context, accountID string) {
	p.emit(ctx, TopicAccountPasswordChanged, "account.password_changed", accountID, PasswordChangedPayload{
		AccountID: accountID,
	})
}

func (p *Producer) emit(ctx context.Context, topic, eventType, aggregateID string, payload any) {
	if p.publisher == nil {
		return
	}

	ev, err := kafka.NewEvent(eventType, aggregateID, aggregateType, source, payload)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to build event",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
		return
	}
	ev.CorrelationID = logging.CorrelationIDFromContext(ctx)

	if err := p.publisher.Publish(ctx, topic, ev); err != nil {
		p.logger.WarnContext(ctx, "event publish failed, continuing",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
	}
}
