// Package inference wraps a local OpenAI-compatible chat completions
// endpoint for vision model calls.
//
// The client sends images as base64 data URLs alongside a text prompt and
// retries transient failures with exponential backoff, honoring Retry-After
// on rate-limit responses. Responses are expected to be JSON or markdown
// depending on the caller; DecodeModelJSON tolerates the usual model
// formatting quirks (code fences, prose around the payload).
package inference
