// Package whatsapp is the protocol client behind pairing attempts.
//
// Each attempt gets its own whatsmeow client whose device store is a sqlite
// database inside the attempt directory, so promoting the directory
// promotes the credentials with it.
package whatsapp
