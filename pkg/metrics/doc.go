/*
Package metrics provides Prometheus metrics collection and exposition for
Memory Palace's core.

Gauges and counters are grouped by subsystem: store size, write guard
verdicts, write lane admission/wait, index worker queue depth and job
outcomes, retrieval pipeline requests/degrade reasons, governance loop
decay ticks and cleanup outcomes, external adapter call outcomes, and HTTP
control plane request counts. Handler() exposes them on /metrics via
promhttp; Timer is a small helper for observing operation durations into a
histogram without hand-computing elapsed time at each call site.
*/
package metrics
