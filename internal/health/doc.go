// Package health provides the composable checks behind the readiness probe.
//
// A [Probe] returns nil when healthy and an error describing the failure
// otherwise. Checks compose with [All] (AND) and [Any] (OR); [Fixed] is a
// static result and [CheckFunc] adapts a plain function.
//
// Dependency checks are wrapped with [Named] so failures say which dependency
// broke, and with [Throttle] so orchestrator polling cannot hammer a database.
//
// [ShutdownGate] fails readiness during drain so load balancers stop routing
// new traffic before the listeners close.
package health
