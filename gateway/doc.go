// Package gateway turns stored flow definitions into live HTTP endpoints.
//
// The Registry binds each flow to POST /run/{endpoint_name} on a shared
// mux and keeps the generated API schema in sync. The Bridge translates
// those requests into flow engine executions and wraps every outcome in
// a uniform response envelope. The Interceptor wraps the whole HTTP
// surface with forwarded-prefix rewriting, request body inspection, and
// scanner-noise-aware access logging.
package gateway
