// Package threshold evaluates pass/fail assertions against run statistics.
package threshold

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/therenotomorrow/ex"

	"github.com/torosent/dgramfire/internal/metrics"
)

const (
	ErrEmpty              = ex.Error("empty threshold string")
	ErrFormat             = ex.Error("invalid threshold format")
	ErrUnsupportedMetric  = ex.Error("unsupported metric")
	ErrUnsupportedAgg     = ex.Error("unsupported aggregate")
	ErrUnsupportedCompare = ex.Error("unsupported operator")
)

// Threshold represents a run assertion that can pass or fail.
type Threshold struct {
	Metric    string  // e.g., "send_duration", "send_failed"
	Aggregate string  // e.g., "p99", "avg", "max", "rate", "count"
	Operator  string  // e.g., "<", "<=", ">", ">=", "=="
	Value     float64 // The threshold value to compare against
	Raw       string  // Original threshold string for display
}

// Result represents the outcome of evaluating a threshold.
type Result struct {
	Threshold Threshold
	Actual    float64
	Pass      bool
	Message   string
}

type extractor func(stats metrics.Stats) float64

// metricTable maps metric name to the aggregates it supports.
var metricTable = map[string]map[string]extractor{
	"send_duration": {
		"p50": func(s metrics.Stats) float64 { return s.P50LatencyMs },
		"p90": func(s metrics.Stats) float64 { return s.P90LatencyMs },
		"p99": func(s metrics.Stats) float64 { return s.P99LatencyMs },
		"avg": func(s metrics.Stats) float64 { return s.MeanLatencyMs },
		"min": func(s metrics.Stats) float64 { return s.MinLatencyMs },
		"max": func(s metrics.Stats) float64 { return s.MaxLatencyMs },
	},
	"send_failed": {
		"count": func(s metrics.Stats) float64 { return float64(s.Failures) },
		"rate": func(s metrics.Stats) float64 {
			if s.Total == 0 {
				return 0
			}
			return float64(s.Failures) / float64(s.Total)
		},
	},
	"sends": {
		"count": func(s metrics.Stats) float64 { return float64(s.Total) },
		"rate":  func(s metrics.Stats) float64 { return s.SendsPerSec },
	},
	"bytes": {
		"count": func(s metrics.Stats) float64 { return float64(s.Bytes) },
		"rate":  func(s metrics.Stats) float64 { return s.BytesPerSec },
	},
}

var (
	pattern   = regexp.MustCompile(`^([a-z_]+):([a-z0-9]+)\s*([<>=!]+)\s*([0-9.]+)$`)
	operators = []string{"<", "<=", ">", ">=", "=="}
)

// Evaluator evaluates thresholds against collected metrics.
type Evaluator struct {
	thresholds []Threshold
}

// NewEvaluator creates a new threshold evaluator.
func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{
		thresholds: thresholds,
	}
}

// Evaluate checks all thresholds against the provided stats.
func (e *Evaluator) Evaluate(stats metrics.Stats) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}

	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, evaluateOne(t, stats))
	}
	return results
}

// Failed reports how many results did not pass.
func Failed(results []Result) int {
	failed := 0
	for _, r := range results {
		if !r.Pass {
			failed++
		}
	}
	return failed
}

func evaluateOne(t Threshold, stats metrics.Stats) Result {
	extract, ok := metricTable[t.Metric][t.Aggregate]
	if !ok {
		return Result{
			Threshold: t,
			Message:   fmt.Sprintf("error: %v", ErrUnsupportedAgg.Reason(t.Metric+":"+t.Aggregate)),
		}
	}

	actual := extract(stats)
	pass := compareValues(actual, t.Operator, t.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}

	return Result{
		Threshold: t,
		Actual:    actual,
		Pass:      pass,
		Message:   fmt.Sprintf("%s %s: %.2f %s %.2f", status, t.Raw, actual, t.Operator, t.Value),
	}
}

// Parse parses a threshold string into a Threshold struct.
// Supported formats:
// - "send_duration:p99 < 50"   (latency percentile in ms; also p50, p90, avg, min, max)
// - "send_failed:rate < 0.01"  (failure rate as decimal)
// - "send_failed:count < 10"   (failure count)
// - "sends:rate > 100"         (sends per second; count for the total)
// - "bytes:count >= 1000000"   (bytes written; rate for bytes per second)
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, ErrEmpty
	}

	matches := pattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, ErrFormat.Reason(fmt.Sprintf("%q (expected metric:aggregate operator value, e.g., 'send_failed:rate < 0.01')", s))
	}

	metric, aggregate, operator, raw := matches[1], matches[2], matches[3], matches[4]

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Threshold{}, ErrFormat.Reason(fmt.Sprintf("value %q: %v", raw, err))
	}

	aggregates, ok := metricTable[metric]
	if !ok {
		return Threshold{}, ErrUnsupportedMetric.Reason(fmt.Sprintf("%q (supported: %s)", metric, strings.Join(metricNames(), ", ")))
	}
	if _, ok := aggregates[aggregate]; !ok {
		return Threshold{}, ErrUnsupportedAgg.Reason(fmt.Sprintf("%q for %s (supported: %s)", aggregate, metric, strings.Join(sortedKeys(aggregates), ", ")))
	}
	if !isValidOperator(operator) {
		return Threshold{}, ErrUnsupportedCompare.Reason(fmt.Sprintf("%q (supported: %s)", operator, strings.Join(operators, ", ")))
	}

	return Threshold{
		Metric:    metric,
		Aggregate: aggregate,
		Operator:  operator,
		Value:     value,
		Raw:       s,
	}, nil
}

// ParseMultiple parses multiple threshold strings, reporting every invalid one.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var issues []string

	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			issues = append(issues, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}

	if len(issues) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(issues, "; "))
	}

	return result, nil
}

func isValidOperator(operator string) bool {
	for _, v := range operators {
		if operator == v {
			return true
		}
	}
	return false
}

func metricNames() []string {
	return sortedKeys(metricTable)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func compareValues(actual float64, operator string, expected float64) bool {
	// Handle floating point comparison with small epsilon
	epsilon := 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}
