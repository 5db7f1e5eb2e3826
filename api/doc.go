// Package api defines the request and response types of the DataForge
// HTTP API.
//
// # API Overview
//
// DataForge provides a RESTful API for:
//   - Launching synthetic sample generation runs over topic trees
//   - Inspecting run progress and per-topic outcomes
//   - Streaming run progress over WebSocket
//   - Persisting accepted samples
//   - Model catalog lookup
//   - Health monitoring and metrics
//
// # Authentication
//
// When authentication is enabled, endpoints require either the
// X-API-Key header or a Bearer JWT:
//
//	X-API-Key: your-api-key
//	Authorization: Bearer <token>
package api
