// Package gateway holds the routing records of the webhook surface.
//
// Every webhook path is described by an EndpointDescriptor stored as JSON in
// a KV bucket under the normalized path:
//
//	key "orders.new"  ->  {"type":"event","entity":"order","methods":["POST"]}
//
// An event endpoint publishes the request to {service}.event.{entity}.received
// and answers at once. A request endpoint publishes to
// {service}.request.{entity}.received and answers with the reply published on
// {service}.response.{entity}.send.{requestId}, or 504 when none arrives in
// time.
//
// Descriptors are validated against a JSON schema on every read. The router
// in gateway/http applies them.
package gateway
