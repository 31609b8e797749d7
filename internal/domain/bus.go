package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (community) or NATS (pro).
// All methods require tenantID for strict multi-tenancy isolation.
// Subscribing with GlobalTenant receives the topic for every tenant.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message. Metadata carries the publisher's
// trace id under MetaTraceID when a span was active.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages. Messages already delivered to
	// the subscription are handled before it returns.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `mapstructure:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `mapstructure:"channel_buffer_size"`

	// NATS settings (Pro tier)
	NATSUrl           string `mapstructure:"nats_url"`
	NATSToken         string `mapstructure:"nats_token"`
	NATSMaxReconnects int    `mapstructure:"nats_max_reconnects"`
	NATSReconnectWait int    `mapstructure:"nats_reconnect_wait"` // seconds
	NATSQueueGroup    string `mapstructure:"nats_queue_group"`
}

// MetaTraceID is the message metadata key holding the publisher trace id.
const MetaTraceID = "trace_id"

// GlobalTenant is the tenant used by workers that serve every organization.
const GlobalTenant = "_global"

// Standard topic names for the contract pipeline.
const (
	TopicContractUploaded = "conrisk.contract.uploaded"
	TopicContractAnalyzed = "conrisk.contract.analyzed"
	TopicRiskAlert        = "conrisk.risk.alert"
	TopicKeyDateReminder  = "conrisk.keydate.reminder"
	TopicContractExpired  = "conrisk.contract.expired"
)
