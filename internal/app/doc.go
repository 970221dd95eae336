// Package app wires the loader runtime together: it loads the bundle manifest,
// builds the script host, transport, cache and plugins, and runs the bundle
// alongside the optional status server. It is decoupled from any specific
// entrypoint like a CLI.
package app
