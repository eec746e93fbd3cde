// Package broker provides the pub/sub transport for job lifecycle events.
// A Broker hands out Topics (one per job), a Topic fans events out to its
// Subscriptions, and each Subscription forwards events to an events.Hook.
// Fan-out is best effort: a slow or abandoned subscriber is unsubscribed
// rather than allowed to stall the publisher.
//
// Two implementations exist: an in-process broker backed by haxmap for the
// single-binary deployment, and a NATS broker for multi-process fan-out.
package broker
