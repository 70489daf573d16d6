// Package pairapi exposes the pairing service over HTTP.
//
// Routes:
//
//	POST /pair                 start an attempt, 201 {"attemptId"}
//	GET  /pair/{id}/status     poll; acknowledges a reported success
//	GET  /pair/{id}/qr.png     PNG of the pending code
//
// The websocket route shares the same status projection through StatusSource.
package pairapi
