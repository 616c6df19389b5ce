// Package secrets detects and redacts credentials before run output leaves
// the process.
//
// Model responses, tool outcomes and error messages can echo back API keys
// or bearer tokens. The runs manager passes every snapshot through a
// Scrubber before it is stored, published over NATS or streamed to clients.
package secrets
