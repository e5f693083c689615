// Package natsclient wraps a NATS connection and its JetStream context with
// the operations the gateway runtime needs.
//
// # Connection Lifecycle
//
// A Client is built for one gateway runtime: Connect once, Close once. Close
// unsubscribes core subscriptions, drains the connection and waits for the
// drain to finish (bounded by the drain timeout or the context deadline).
//
// # Streams
//
// StreamNameBySubject resolves the stream covering a subject and returns
// errors.ErrStreamNotFound when none does. CreateStream reports a name
// collision as a fatal errors.ErrStreamConflict.
//
// # Consumers
//
// EnsureDurable creates or updates an explicit-ack durable pull consumer. Each
// Open on it starts a one-message-at-a-time Session with server heartbeats;
// every missing heartbeat is signalled on Session.MissedHeartbeats and the
// caller decides when to Stop the session:
//
//	consumer, err := client.EnsureDurable(ctx, "billing", "billing", 10*time.Second)
//	session, err := consumer.Open(5 * time.Second)
//	for {
//	    msg, err := session.Next()
//	    if errors.Is(err, natsclient.ErrSessionClosed) {
//	        break
//	    }
//	    ...
//	}
//
// OpenReplyListener creates an ephemeral consumer restricted to one subject
// and to messages published after it exists. Listener.Close deletes it from
// the server exactly once.
//
// # Key/Value
//
// OpenKVStore opens an existing bucket; the gateway reads endpoint descriptors
// through it.
//
// # Metrics
//
// NewJetStreamMetrics registers stream and consumer gauges once per process.
// Pass them to every client with WithJetStreamMetrics.
package natsclient
