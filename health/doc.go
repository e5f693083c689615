// Package health provides health monitoring for the gateway's parts with
// thread-safe status tracking and aggregation.
//
// Three states are tracked: healthy, degraded (operating with reduced
// function, such as a paused runtime) and unhealthy. A Monitor holds the
// latest Status per component and aggregates them: any unhealthy part makes
// the system unhealthy, otherwise any degraded part makes it degraded.
//
//	monitor := health.NewMonitor()
//	monitor.UpdateHealthy("nats", "Connected")
//	monitor.UpdateDegraded("runtime", "Paused, waiting for resume command")
//
//	status := monitor.AggregateHealth("webhook-gateway") // degraded
//
// Monitor.Handler serves the aggregate as JSON, answering 503 while the
// system is unhealthy. Messages built with FromError are sanitized so
// server addresses, file paths and credentials never reach the endpoint.
package health
