// Package httpapi serves the tile read/append surface and the discovery
// queries over HTTP.
//
// Routes:
//
//	GET  /v1/spaces/{space}/tiles/{tile}/tip
//	POST /v1/spaces/{space}/tiles/{tile}/segments   {"after_event": "..."}
//	POST /v1/spaces/{space}/tiles/{tile}/events     {"events": [...]}
//	GET  /v1/spaces/{space}/tiles/{tile}/state      ?full=true
//	GET  /v1/spaces/{space}/tiles/{tile}/peers
//	GET  /v1/spaces/{space}/tiles/{tile}/best
//	GET  /v1/objects/{hash}
//	GET  /v1/peers
//	GET  /v1/peers/{peer}/tiles
//	GET  /health
//	GET  /metrics
package httpapi
