/*
Package rabbitmq binds the request envelope protocol to RabbitMQ.

Consumer serves a service's durable request queue with a prefetch-bounded worker pool and
answers on the delivery's reply-to queue or the default response queue. Caller is the
matching broker-RPC client. Adapter publishes integration events to the topic exchange and
enqueues deferred requests; its auto-reconnecting publisher survives broker restarts.
*/
package rabbitmq
