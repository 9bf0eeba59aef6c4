// Package output renders run results for humans and machines.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/torosent/dgramfire/internal/metrics"
	"github.com/torosent/dgramfire/internal/threshold"
)

// Summary is the complete record of one run.
type Summary struct {
	RunID       string                `json:"run_id"`
	Destination string                `json:"destination"`
	Workers     int                   `json:"workers"`
	Cause       string                `json:"cause"`
	StartedAt   time.Time             `json:"started_at"`
	Stats       metrics.Stats         `json:"stats"`
	Thresholds  []ThresholdResultJSON `json:"thresholds,omitempty"`
}

// ThresholdResultJSON is the serialized outcome of one threshold.
type ThresholdResultJSON struct {
	Threshold string  `json:"threshold"`
	Metric    string  `json:"metric"`
	Aggregate string  `json:"aggregate"`
	Operator  string  `json:"operator"`
	Expected  float64 `json:"expected"`
	Actual    float64 `json:"actual"`
	Pass      bool    `json:"pass"`
}

// ThresholdResults converts evaluator results for serialization.
func ThresholdResults(results []threshold.Result) []ThresholdResultJSON {
	if len(results) == 0 {
		return nil
	}
	out := make([]ThresholdResultJSON, len(results))
	for i, r := range results {
		out[i] = ThresholdResultJSON{
			Threshold: r.Threshold.Raw,
			Metric:    r.Threshold.Metric,
			Aggregate: r.Threshold.Aggregate,
			Operator:  r.Threshold.Operator,
			Expected:  r.Threshold.Value,
			Actual:    r.Actual,
			Pass:      r.Pass,
		}
	}
	return out
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, summary Summary) {
	stats := summary.Stats

	fmt.Fprintln(w, "\n--- Traffic Run Results ---")
	if summary.RunID != "" {
		fmt.Fprintf(w, "Run:               %s\n", summary.RunID)
	}
	if summary.Destination != "" {
		fmt.Fprintf(w, "Destination:       %s (udp)\n", summary.Destination)
	}
	if summary.Workers > 0 {
		fmt.Fprintf(w, "Workers:           %d\n", summary.Workers)
	}
	if summary.Cause != "" {
		fmt.Fprintf(w, "Stopped by:        %s\n", summary.Cause)
	}
	fmt.Fprintf(w, "Total Sends:       %s\n", humanize.Comma(stats.Total))
	fmt.Fprintf(w, "Successful:        %s\n", humanize.Comma(stats.Successes))
	fmt.Fprintf(w, "Failed:            %s\n", humanize.Comma(stats.Failures))
	fmt.Fprintf(w, "Bytes Sent:        %s\n", humanize.Bytes(uint64(stats.Bytes)))
	fmt.Fprintf(w, "Duration:          %s\n", stats.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Sends/sec:         %.2f\n", stats.SendsPerSec)
	fmt.Fprintf(w, "Throughput:        %s/s\n", humanize.Bytes(uint64(stats.BytesPerSec)))
	fmt.Fprintln(w, "\nSend Latency:")
	fmt.Fprintf(w, "  Min:             %s\n", stats.MinLatency)
	fmt.Fprintf(w, "  Max:             %s\n", stats.MaxLatency)
	fmt.Fprintf(w, "  Mean:            %s\n", stats.MeanLatency)
	fmt.Fprintf(w, "  P50:             %s\n", stats.P50Latency)
	fmt.Fprintf(w, "  P90:             %s\n", stats.P90Latency)
	fmt.Fprintf(w, "  P99:             %s\n", stats.P99Latency)

	if len(stats.Errors) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		for _, row := range metrics.FlattenErrors(stats.Errors) {
			fmt.Fprintf(w, "  %s: %d\n", row.Kind, row.Count)
		}
	}

	if len(stats.Workers) > 1 {
		fmt.Fprintln(w, "\nPer Worker:")
		ids := make([]int, 0, len(stats.Workers))
		for id := range stats.Workers {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			fmt.Fprintf(w, "  #%d: %d sends\n", id, stats.Workers[id])
		}
	}

	if len(summary.Thresholds) > 0 {
		passed := 0
		for _, t := range summary.Thresholds {
			if t.Pass {
				passed++
			}
		}
		fmt.Fprintf(w, "\nThresholds (%d/%d passed):\n", passed, len(summary.Thresholds))
		for _, t := range summary.Thresholds {
			status := "PASS"
			if !t.Pass {
				status = "FAIL"
			}
			fmt.Fprintf(w, "  [%s] %s (actual %.2f)\n", status, t.Threshold, t.Actual)
		}
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
