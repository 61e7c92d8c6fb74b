package bus

import "github.com/next-trace/scg-api-bus/contract/envelope"

// Command is a request envelope queued for asynchronous execution by the owning service.
type Command = envelope.Request
