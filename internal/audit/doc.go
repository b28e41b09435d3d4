// Package audit emits a structured trail of security-relevant decisions:
// authentication outcomes, permission denials, rate-limit denials, and key
// lifecycle operations.
//
// Events are JSON lines written to stdout, stderr, or a file through an
// asynchronous buffered writer. When the buffer is full events are dropped
// rather than blocking the request path; drops are counted and exported.
//
// Events identify keys by record id and displayable prefix only. Plaintext
// keys and digests never appear in the trail.
package audit
