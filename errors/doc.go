// Package errors provides standardized error handling patterns for gateway components.
//
// # Overview
//
// Errors are put into one of four classes:
//
//   - Transient: temporary failures (broker unavailable, handler crash). Messages failing
//     with a transient error are left unacknowledged for redelivery and count towards
//     the consecutive failure limit.
//   - Invalid: malformed input or a handler refusal. The message is acknowledged and
//     reported on the command_refused subject with no penalty.
//   - Fatal: unrecoverable states such as a stream provisioning conflict. Startup aborts.
//   - Timeout: a bounded wait expired, e.g. a request waiting for its reply.
//
// Classification integrates with errors.Is and errors.As; the outermost
// ClassifiedError in a chain decides the class.
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Classification-aware wrappers set the class:
//
//	errors.WrapTransient(err, "Client", "Connect", "establish connection")
//	errors.WrapInvalid(err, "Codec", "Decode", "parse envelope")
//	errors.WrapFatal(err, "Provisioner", "Resolve", "create stream")
//	errors.WrapTimeout(err, "Correlator", "Wait", "await reply")
//
// Wrap preserves the class of the error it wraps.
//
// # Refusals
//
// Handlers reject a message they cannot accept with Refuse. The optional detail
// value is published as the errorJson field of the refusal event:
//
//	if !isObject(payload) {
//	    return errors.Refuse("payload must be a JSON object", map[string]any{"got": kind})
//	}
package errors
