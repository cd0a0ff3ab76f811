// Package coebackend is the root of the CoE backend gateway, a service
// that exposes stored flow definitions as live HTTP endpoints.
//
// # Architecture
//
// Flow definitions live in a NATS JetStream key-value bucket
// (flowstore). Each stored flow is bound to POST /run/{endpoint_name}
// by the dynamic route registry (gateway), which keeps the generated
// OpenAPI document in sync through cache invalidation. Requests to a
// run endpoint are translated by the execution bridge into request/
// reply calls against the external flow engine over NATS (engine), and
// every outcome is returned in a uniform envelope.
//
// The whole HTTP surface is wrapped by an interception pipeline that
// rewrites reverse-proxy path prefixes, masks sensitive data in logged
// request bodies, and suppresses access log noise from internet
// scanners.
//
// Services are composed and run by the service manager (service), which
// owns the shared HTTP server, system health endpoints, Prometheus
// metrics, and API documentation. The cmd/coe-backend binary wires it
// all together.
package coebackend
