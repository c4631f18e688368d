// Command vellum drives the document processing pipeline: one subcommand per
// stage, a combined run command, and publish/status/repair utilities over the
// shared item inventory.
package main
