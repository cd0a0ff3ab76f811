// Package service provides lifecycle management for the gateway's
// long-running services and the shared HTTP server they register on.
// It includes health monitoring, OpenAPI document generation, and the
// flow administration API.
package service
