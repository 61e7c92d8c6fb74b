/*
Package servicebus hosts one service's API behind the request envelope protocol.
A Server validates the envelope, resolves the route, applies deduplication and middleware,
and always answers with a response envelope. It stays decoupled from the broker through
contract/bus.Handler; transports live under adapters.
*/
package servicebus
