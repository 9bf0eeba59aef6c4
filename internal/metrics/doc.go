// Package metrics collects per-send statistics for a run.
//
// Every worker reports each send attempt to a shared [Collector]:
//
//	collector := metrics.NewCollector()
//	collector.Start()
//
//	collector.RecordSend(workerID, latency, bytesWritten, err)
//
//	stats := collector.Stats(collector.Elapsed())
//
// [Stats] carries totals, bytes written, latency percentiles, throughput in
// sends and bytes per second, failures grouped by [ErrorKind] and the number
// of attempts made by each worker.
//
// Latencies are tracked in an HDR histogram with microsecond resolution.
// The Collector is safe for concurrent use.
package metrics
