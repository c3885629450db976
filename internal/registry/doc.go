// Package registry resolves per-repository branch flows, library/service
// classification, and deployment checkpoints from static configuration.
//
// The Registry is assembled once at process start and performs pure lookups
// for the promotion engine; it never touches the remote host.
package registry
