// Package services holds the error taxonomy and context plumbing shared by
// every stage and external collaborator.
//
// Stage code wraps failures with one of the exported sentinel markers so the
// driver and CLI can distinguish configuration problems (which abort a run)
// from per-item failures (which are logged and skipped). Context helpers carry
// the current item key, stage name, and correlation ID so loggers can tag
// lines automatically.
package services
