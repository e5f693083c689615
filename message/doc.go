// Package message defines the envelope that wraps every payload exchanged with
// the bus and the codec that stamps and validates it.
//
// # Envelope
//
// On the wire an envelope is a JSON object:
//
//	{
//	  "id": "5d3c...",          // uuid, unique per send
//	  "origin": "billing",      // service id of the publisher
//	  "timestamp": 1718000000000,
//	  "payload": { ... },
//	  "requestId": "9a1f..."    // only on correlated requests
//	}
//
// Encoding always generates a fresh id, origin and timestamp. Decoding rejects
// any envelope whose id, origin or timestamp is absent or falsy with an error of
// class errors.ErrorInvalid; the consumer acknowledges such messages and reports
// them instead of redelivering.
//
// # Publishing
//
// The Publisher interface is what handlers and the HTTP router see. The service
// runtime implements it on top of JetStream:
//
//	err := pub.Publish(ctx, "billing.event.invoice.received", payload)
//	err := pub.Publish(ctx, "billing.request.quote.received", payload, message.WithRequestID(id))
package message
