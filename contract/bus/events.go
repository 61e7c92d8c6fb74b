package bus

// IntegrationEvent represents events destined to external brokers. Topic() guides routing.
type IntegrationEvent interface{ Topic() string }
