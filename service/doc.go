// Package service runs the bus side of the webhook gateway.
//
// A Gateway is one runtime: it owns a broker connection from Start until it
// ends, and the process builds a fresh Gateway whenever a runtime ends with
// OutcomeRestart.
//
// # Startup
//
// Start subscribes to "services.>" for discovery requests, initializes the
// Handler, resolves the streams covering the handler's subjects of interest
// (creating a stream named after the service when allowed and needed) and
// starts one supervisor per stream. Every supervisor consumes through a
// durable pull consumer named after the service.
//
// # Consumption
//
// A supervisor keeps one consumption session open, one message at a time.
// Two missed heartbeats stop the session and the supervisor opens a new one
// on the same durable consumer. Every message ends in exactly one outcome:
//
//	not a subject of interest      ack, ignored
//	handler success                ack, failure counter reset
//	bad envelope or refusal        ack, command_refused event, counter reset
//	any other handler error        no ack, processing_error event, counter +1
//
// # Pause and Stop
//
// When the failure counter reaches the configured limit the runtime halts
// its sessions before the next message is taken, publishes a paused event,
// then stops telemetry and waits for one message on
// {service}.command.service.resume. Then it closes its
// connection and ends with OutcomeRestart. Stop publishes a stopped event,
// halts, closes and ends with OutcomeStopped; stopping a paused runtime
// abandons the resume wait.
package service
