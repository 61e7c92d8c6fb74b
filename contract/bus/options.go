package bus

// QueueOptions represents enqueue parameters for deferred requests.
// Queue is the full name of the target request queue. ReplyTo, when set, receives the
// response instead of the service's default response queue.
type QueueOptions struct {
	Queue   string
	ReplyTo string
	Headers map[string]string
}

// PublishOptions controls integration event publishing.
type PublishOptions struct {
	TopicOverride string
	Key           string
	Headers       map[string]string
}
