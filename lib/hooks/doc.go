// Package hooks is a registry of named, lazily evaluated metrics.
//
// Components register a Hook per metric. Nothing is sampled in the
// background: a hook runs only when someone reads the registry, for example
// through Dump or WritePrometheus. Registering a name twice replaces the first
// hook without error.
//
// Components receive the Registry they publish to explicitly. Default
// returns a process-wide Profiler for callers that want a shared one.
package hooks
