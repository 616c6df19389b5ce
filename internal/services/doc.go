// Package services wires the assistd components from configuration.
//
// NewRegistry builds the secret scrubber, tool registry, gateway client,
// orchestration driver, optional NATS connection and run manager, in that
// order. The daemon and the CLI share it so that a question asked locally
// runs through exactly the same stack as one submitted over HTTP.
package services
