// Package dashboard renders a live terminal view of a running traffic run.
package dashboard

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/torosent/dgramfire/internal/metrics"
)

const (
	refreshInterval = 500 * time.Millisecond
	historySize     = 100
	maxListRows     = 10
)

// RunInfo holds run parameters for display.
type RunInfo struct {
	Destination  string
	Workers      int
	Duration     time.Duration
	Interval     time.Duration
	ArrivalModel string
	PayloadSize  int
	RunID        string
}

// Dashboard renders a live terminal UI for send metrics.
type Dashboard struct {
	collector    *metrics.Collector
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownFunc func()
	wg           sync.WaitGroup
	mu           sync.Mutex

	grid           *ui.Grid
	latencySparkle *widgets.SparklineGroup
	latencyPara    *widgets.Paragraph
	rateGauge      *widgets.Gauge
	errorList      *widgets.List
	workerList     *widgets.List
	summaryPara    *widgets.Paragraph
	metricsPara    *widgets.Paragraph
	latencyHistory []float64
	startTime      time.Time
	info           RunInfo
}

// New initializes the terminal and builds the widgets. shutdownFunc is called
// when the user presses q or Ctrl-C.
func New(collector *metrics.Collector, info RunInfo, shutdownFunc func()) (*Dashboard, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize termui: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Dashboard{
		collector:      collector,
		ctx:            ctx,
		cancel:         cancel,
		shutdownFunc:   shutdownFunc,
		latencyHistory: make([]float64, 0, historySize),
		startTime:      time.Now(),
		info:           info,
	}

	d.initWidgets()
	d.setupGrid()

	return d, nil
}

func (d *Dashboard) initWidgets() {
	sparkline := widgets.NewSparkline()
	sparkline.Title = "Send latency (ms)"
	sparkline.LineColor = ui.ColorGreen
	sparkline.Data = []float64{0}

	d.latencySparkle = widgets.NewSparklineGroup(sparkline)
	d.latencySparkle.Title = "Real-time Latency"
	d.latencySparkle.BorderStyle.Fg = ui.ColorCyan

	d.latencyPara = widgets.NewParagraph()
	d.latencyPara.Title = "Latency Stats"
	d.latencyPara.Text = "Min: 0ms\nMean: 0ms\nP50: 0ms\nP90: 0ms\nP99: 0ms"
	d.latencyPara.BorderStyle.Fg = ui.ColorCyan

	d.rateGauge = widgets.NewGauge()
	d.rateGauge.Title = "Sends Per Second (of target)"
	d.rateGauge.BarColor = ui.ColorBlue
	d.rateGauge.BorderStyle.Fg = ui.ColorCyan
	d.rateGauge.LabelStyle = ui.NewStyle(ui.ColorWhite)

	d.errorList = widgets.NewList()
	d.errorList.Title = "Send Failures"
	d.errorList.Rows = []string{"No failures"}
	d.errorList.TextStyle = ui.NewStyle(ui.ColorYellow)
	d.errorList.BorderStyle.Fg = ui.ColorCyan

	d.workerList = widgets.NewList()
	d.workerList.Title = "Workers"
	d.workerList.Rows = []string{"Awaiting data"}
	d.workerList.TextStyle = ui.NewStyle(ui.ColorCyan)
	d.workerList.BorderStyle.Fg = ui.ColorCyan

	d.summaryPara = widgets.NewParagraph()
	d.summaryPara.Title = "Run"
	d.summaryPara.Text = "Initializing..."
	d.summaryPara.BorderStyle.Fg = ui.ColorCyan

	d.metricsPara = widgets.NewParagraph()
	d.metricsPara.Title = "Traffic"
	d.metricsPara.Text = "Waiting for data..."
	d.metricsPara.BorderStyle.Fg = ui.ColorCyan
}

func (d *Dashboard) setupGrid() {
	termWidth, termHeight := ui.TerminalDimensions()

	d.grid = ui.NewGrid()
	d.grid.SetRect(0, 0, termWidth, termHeight)

	d.grid.Set(
		ui.NewRow(0.16,
			ui.NewCol(1.0, d.summaryPara),
		),
		ui.NewRow(0.22,
			ui.NewCol(0.5, d.rateGauge),
			ui.NewCol(0.5, d.metricsPara),
		),
		ui.NewRow(0.30,
			ui.NewCol(0.65, d.latencySparkle),
			ui.NewCol(0.35, d.latencyPara),
		),
		ui.NewRow(0.32,
			ui.NewCol(0.5, d.workerList),
			ui.NewCol(0.5, d.errorList),
		),
	)
}

// Start begins the dashboard update loop.
func (d *Dashboard) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop stops the update loop and restores the terminal.
func (d *Dashboard) Stop() {
	d.cancel()
	d.wg.Wait()
	ui.Close()
	// Give terminal time to restore
	time.Sleep(100 * time.Millisecond)
}

func (d *Dashboard) run() {
	defer d.wg.Done()
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	uiEvents := ui.PollEvents()

	d.render()

	for {
		select {
		case <-d.ctx.Done():
			return
		case e := <-uiEvents:
			switch e.ID {
			case "q", "<C-c>":
				if d.shutdownFunc != nil {
					d.shutdownFunc()
				}
				// Stop cancels the loop once the run has drained.
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				d.grid.SetRect(0, 0, payload.Width, payload.Height)
				ui.Clear()
				d.render()
			}
		case <-ticker.C:
			d.update()
			d.render()
		}
	}
}

func (d *Dashboard) update() {
	d.mu.Lock()
	defer d.mu.Unlock()

	elapsed := time.Since(d.startTime)
	stats := d.collector.Stats(elapsed)

	if stats.Total > 0 {
		d.latencyHistory = appendHistory(d.latencyHistory, stats.MeanLatencyMs)
		d.latencySparkle.Sparklines[0].Data = d.latencyHistory
		d.latencySparkle.Title = fmt.Sprintf(
			"Real-time Latency | Current: %.2fms | Min: %.2fms | Max: %.2fms",
			stats.MeanLatencyMs,
			stats.MinLatencyMs,
			stats.MaxLatencyMs,
		)
	}

	target := targetRate(d.info.Workers, d.info.Interval)
	d.rateGauge.Percent = ratePercent(stats.SendsPerSec, target)
	d.rateGauge.Label = fmt.Sprintf("%.1f / %.1f sends/s", stats.SendsPerSec, target)

	d.summaryPara.Text = fmt.Sprintf(
		"Destination: %s (udp)\n%s\nElapsed: %s | Sends: %d | Success Rate: %.1f%%  (q to stop)",
		d.info.Destination,
		formatRunInfo(d.info),
		elapsed.Round(time.Second),
		stats.Total,
		successRate(stats),
	)

	d.metricsPara.Text = fmt.Sprintf(
		"Total Sends:   %s\nSuccessful:    %s\nFailed:        %s\nBytes Sent:    %s\nThroughput:    %s/s",
		humanize.Comma(stats.Total),
		humanize.Comma(stats.Successes),
		humanize.Comma(stats.Failures),
		humanize.Bytes(uint64(stats.Bytes)),
		humanize.Bytes(uint64(stats.BytesPerSec)),
	)

	d.latencyPara.Text = fmt.Sprintf(
		"Min:  %.2fms\nMean: %.2fms\nP50:  %.2fms\nP90:  %.2fms\nP99:  %.2fms",
		stats.MinLatencyMs,
		stats.MeanLatencyMs,
		stats.P50LatencyMs,
		stats.P90LatencyMs,
		stats.P99LatencyMs,
	)

	d.errorList.Rows = formatErrorRows(stats.Errors)
	d.workerList.Rows = formatWorkerRows(stats.Workers, stats.Total)
}

func (d *Dashboard) render() {
	d.mu.Lock()
	defer d.mu.Unlock()

	ui.Render(d.grid)
}

func appendHistory(history []float64, v float64) []float64 {
	history = append(history, v)
	if len(history) > historySize {
		history = history[len(history)-historySize:]
	}
	return history
}

// targetRate is the aggregate send rate the pacing aims for.
func targetRate(workers int, interval time.Duration) float64 {
	if workers <= 0 || interval <= 0 {
		return 0
	}
	return float64(workers) / interval.Seconds()
}

func ratePercent(current, target float64) int {
	if target <= 0 {
		return 0
	}
	percent := int(current / target * 100)
	if percent > 100 {
		percent = 100
	}
	return percent
}

func successRate(stats metrics.Stats) float64 {
	if stats.Total == 0 {
		return 0
	}
	return float64(stats.Successes) / float64(stats.Total) * 100
}

func formatErrorRows(errs map[string]int) []string {
	rows := metrics.FlattenErrors(errs)
	if len(rows) == 0 {
		return []string{"[No failures](fg:green)"}
	}
	if len(rows) > maxListRows {
		rows = rows[:maxListRows]
	}
	formatted := make([]string, 0, len(rows))
	for _, row := range rows {
		formatted = append(formatted, fmt.Sprintf("[%s](fg:red) %d", row.Kind, row.Count))
	}
	return formatted
}

func formatWorkerRows(workers map[int]int64, total int64) []string {
	if len(workers) == 0 {
		return []string{"[No sends yet](fg:green)"}
	}
	ids := make([]int, 0, len(workers))
	for id := range workers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	if len(ids) > maxListRows {
		ids = ids[:maxListRows]
	}
	formatted := make([]string, 0, len(ids))
	for _, id := range ids {
		share := 0.0
		if total > 0 {
			share = float64(workers[id]) / float64(total) * 100
		}
		formatted = append(formatted, fmt.Sprintf("[#%d](fg:cyan) | %5.1f%% | %d sends", id, share, workers[id]))
	}
	return formatted
}

// formatRunInfo formats the run parameters for display.
func formatRunInfo(info RunInfo) string {
	var parts []string

	if info.Workers > 0 {
		parts = append(parts, fmt.Sprintf("Workers: %d", info.Workers))
	}
	if info.Duration > 0 {
		parts = append(parts, fmt.Sprintf("Duration: %s", info.Duration))
	}
	if info.Interval > 0 {
		parts = append(parts, fmt.Sprintf("Interval: %s", info.Interval))
	}
	if info.ArrivalModel != "" && info.ArrivalModel != "uniform" {
		parts = append(parts, fmt.Sprintf("Arrival: %s", info.ArrivalModel))
	}
	if info.PayloadSize > 0 {
		parts = append(parts, fmt.Sprintf("Payload: %s", humanize.Bytes(uint64(info.PayloadSize))))
	}
	if info.RunID != "" {
		parts = append(parts, fmt.Sprintf("Run: %s", info.RunID))
	}

	return strings.Join(parts, " | ")
}
