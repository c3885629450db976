// Package cli constructs the mrflow command-line interface, wiring the Cobra
// command hierarchy, configuration loader, and structured logging primitives.
// It assembles the promotion engine, merge request monitor, deployment gate,
// and notification sink from one loaded configuration.
package cli
