// Package notify publishes promotion progress events to chat sinks.
//
// The Sink interface decouples the promotion engine from delivery: event
// methods return nothing, and implementations log delivery failures instead
// of propagating them so notification trouble can never abort a run.
// DiscordSink posts webhook embeds; NopSink discards everything and backs
// dry runs and tests.
package notify
