// Package config loads the gateway configuration.
//
// Values come from three layers applied in order: Default, an optional
// JSON or YAML file (chosen by extension), and environment variables.
//
//	service:
//	  id: billing
//	  allow_create_stream: true
//	  failures_limit: 3
//	  ack_wait: 10s
//	nats:
//	  urls: [nats://localhost:4222]
//	http:
//	  port: 8080
//	  webhook_path: /webhook
//	  health_path: /health
//
// The environment variables keep the names operators already use:
// SERVICE_ID, ALLOW_CREATE_SERVICE_STREAM, SERVICE_FAILURES_LIMIT,
// HEALTH_ENDPOINT, NATS_SERVERS_CONFIG (comma separated), LISTEN_PORT and
// WEBHOOK_ENDPOINT, plus the ones listed by EnvNames. Booleans accept
// true/yes/1 and false/no/0. METRICS_ENDPOINT set to an empty value
// disables the metrics route.
package config
