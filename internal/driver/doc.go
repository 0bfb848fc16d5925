// Package driver runs device driver instances.
//
// An Instance owns one field registry, one comm resource and one Driver
// implementation. A single goroutine per instance drives the lifecycle:
//
//	WaitingForConfig -> WaitingForCommResource -> Connecting -> Connected
//	                          ^                                   |
//	                          +--------- LostConnection <---------+
//
// Terminated is reachable from every state and is final.
//
// Field reads go straight to the registry and are safe from any goroutine.
// Field writes and backdoor commands are submitted to the lifecycle goroutine
// and run between polls, so the driver never has more than one I/O exchange
// in flight and competing writes apply in submission order.
//
// Every hook call is guarded: returned errors are classified with Classify and
// panics are recovered. Nothing a driver does can stop the lifecycle loop.
//
// The Manager maps monikers to instances, builds them from a Factory per
// driver kind, persists their Config through a ConfigRepository and is the
// entry point for the HTTP API and the MQTT command channel.
package driver
