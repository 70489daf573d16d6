// Package realtime pushes pairing status changes to browsers over websockets.
//
// Each websocket subscribes to one attempt's Topic in the Hub. The pairing
// service calls Hub.Changed on every transition; subscribers are woken (never
// blocked) and re-read the attempt's status, so a slow browser only ever sees
// the latest state.
package realtime
