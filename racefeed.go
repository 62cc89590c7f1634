// Package racefeed is a client for live race-data feeds (telemetry and
// broadcast streams) delivered as JSON frames over WebSocket.
//
// A Channel owns one logical connection and runs four parts:
//  1. Lifecycle - Idle -> Connecting -> Open -> Closing -> Closed, owned by the caller
//  2. Retry - bounded linear backoff (BaseDelay * attempt, 5 attempts), then Failed
//  3. Dispatch - frames parsed once, delivered in order to a single subscriber
//  4. Keepalive - ping every 30s while Open; pongs are recorded, not forwarded
//
// Failures reach the subscriber as ParseError, TransportError and finally
// ErrConnectionExhausted.
package racefeed
