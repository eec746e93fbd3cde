// Package provider defines the interface between delver's agents and the
// model vendors that back them. A Provider turns a completion request into a
// channel of stream events so callers handle streaming and one-shot
// responses the same way: Delim events mark stream boundaries, Chunk events
// carry incremental content, Response carries the complete message, and
// Error carries a failure with its run context attached.
package provider
