package monitor

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/juju/errors"
	"github.com/temoto/uplink/monitor"
)

const (
	tailLines   = 50
	historyRows = 200
	keyHelp     = "tab/shift-tab focus  a autoscale  s smoothing  l lock  q quit"
)

var plotColors = []termui.Color{
	termui.ColorWhite, termui.ColorGreen, termui.ColorRed, termui.ColorBlue,
	termui.ColorCyan, termui.ColorYellow, termui.ColorMagenta,
}

type screen struct {
	set    *monitor.Set
	tail   *tailWriter
	focus  int
	grid   *termui.Grid
	plots  []*widgets.Plot
	info   *widgets.Paragraph
	hist   *widgets.List
	logs   *widgets.List
	status *widgets.Paragraph
}

func runScreen(ctx context.Context, set *monitor.Set, frame time.Duration, tail *tailWriter) error {
	if err := termui.Init(); err != nil {
		return errors.Annotate(err, "termui init")
	}
	defer termui.Close()

	self := newScreen(set, tail)
	w, h := termui.TerminalDimensions()
	self.grid.SetRect(0, 0, w, h)
	self.draw()

	events := termui.PollEvents()
	tick := time.NewTicker(frame)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-events:
			if e.ID == "<Resize>" {
				r := e.Payload.(termui.Resize)
				self.grid.SetRect(0, 0, r.Width, r.Height)
				termui.Clear()
			} else if handleKey(set, &self.focus, e.ID) {
				return nil
			}
			self.draw()
		case <-tick.C:
			self.draw()
		}
	}
}

func newScreen(set *monitor.Set, tail *tailWriter) *screen {
	self := &screen{set: set, tail: tail}
	plotRows := make([]interface{}, 0, len(set.Series))
	for i := range set.Series {
		p := widgets.NewPlot()
		p.Marker = widgets.MarkerBraille
		p.PlotType = widgets.LineChart
		// data is shifted to 0..span, bounds go to title
		p.ShowAxes = false
		p.LineColors = []termui.Color{plotColors[i%len(plotColors)]}
		self.plots = append(self.plots, p)
		plotRows = append(plotRows, termui.NewRow(1.0/float64(len(set.Series)), p))
	}

	self.info = widgets.NewParagraph()
	self.info.Title = "Series"
	self.hist = widgets.NewList()
	self.hist.Title = "History"
	self.logs = widgets.NewList()
	self.logs.Title = "Log"
	self.status = widgets.NewParagraph()
	self.status.Border = false

	self.grid = termui.NewGrid()
	self.grid.Set(
		termui.NewRow(0.95,
			termui.NewCol(0.7, plotRows...),
			termui.NewCol(0.3,
				termui.NewRow(0.25, self.info),
				termui.NewRow(0.45, self.hist),
				termui.NewRow(0.3, self.logs),
			),
		),
		termui.NewRow(0.05, self.status),
	)
	return self
}

func (self *screen) draw() {
	for i, s := range self.set.Series {
		v := s.Frame()
		p := self.plots[i]
		data, span := plotData(v)
		p.Data = [][]float64{data}
		p.MaxVal = span
		p.Title = plotTitle(i, v)
		p.BorderStyle = termui.NewStyle(termui.ColorWhite)
		if i == self.focus {
			p.BorderStyle = termui.NewStyle(termui.ColorYellow)
			self.info.Text = infoText(i, v)
			self.hist.Rows = historyText(v.History, historyRows)
		}
	}
	if self.tail != nil {
		self.logs.Rows = self.tail.Lines()
		self.logs.ScrollBottom()
	}
	self.status.Text = fmt.Sprintf("lines=%d  %s", self.set.Lines(), keyHelp)
	termui.Render(self.grid)
}

// handleKey applies view key to focused series, returns true to quit.
func handleKey(set *monitor.Set, focus *int, id string) bool {
	n := len(set.Series)
	if n == 0 {
		return id == "q" || id == "<C-c>"
	}
	s := set.Series[*focus]
	switch id {
	case "q", "<C-c>":
		return true
	case "<Tab>", "<Down>", "j":
		*focus = (*focus + 1) % n
	case "<Backtab>", "<Up>", "k":
		*focus = (*focus - 1 + n) % n
	case "a":
		s.ToggleAutoscale()
	case "s":
		s.CycleSmoothing()
	case "l":
		s.ToggleLock()
	}
	return false
}

// plotData shifts visible points into 0..span of view bounds, values outside are clamped.
func plotData(v monitor.View) ([]float64, float64) {
	span := v.Bounds.Max - v.Bounds.Min
	if !(span > 0) || math.IsInf(span, 0) {
		span = 1
	}
	data := make([]float64, len(v.Points))
	for i, p := range v.Points {
		data[i] = math.Min(math.Max(p.Y-v.Bounds.Min, 0), span)
	}
	return data, span
}

func plotTitle(idx int, v monitor.View) string {
	flags := ""
	if v.Locked {
		flags += " LOCK"
	}
	if v.Autoscale {
		flags += " AUTO"
	}
	return fmt.Sprintf("%d %s %s last=%s%s", idx, v.Name, v.Bounds, formatValue(v.Last), flags)
}

func infoText(idx int, v monitor.View) string {
	onOff := func(b bool) string {
		if b {
			return "on"
		}
		return "off"
	}
	return fmt.Sprintf("#%d %s\nautoscale=%s smoothing=%.2f lock=%s\nstate=%s bounds=%s\nmin=%s max=%s last=%s",
		idx, v.Name,
		onOff(v.Autoscale), v.Smoothing, onOff(v.Locked),
		v.State, v.Bounds,
		formatValue(v.Min), formatValue(v.Max), formatValue(v.Last))
}

// historyText lists newest first, at most limit rows.
func historyText(history []monitor.Point, limit int) []string {
	n := len(history)
	if n > limit {
		n = limit
	}
	rows := make([]string, 0, n)
	for i := len(history) - 1; i >= len(history)-n; i-- {
		p := history[i]
		rows = append(rows, fmt.Sprintf("%6.0f  %s", p.X, formatValue(p.Y)))
	}
	return rows
}

func summaryLine(lines uint64, views []monitor.View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "monitor lines=%d", lines)
	for _, v := range views {
		fmt.Fprintf(&b, " %q=%s", v.Name, formatValue(v.Last))
	}
	return b.String()
}

func formatValue(x float64) string {
	switch {
	case math.IsNaN(x) || math.IsInf(x, 0):
		return "-"
	case x == math.Trunc(x) && math.Abs(x) < 1e9:
		return fmt.Sprintf("%.0f", x)
	}
	return fmt.Sprintf("%.2f", x)
}

// tailWriter keeps last complete lines written, for log panel.
type tailWriter struct {
	mu    sync.Mutex
	max   int
	lines []string
	part  string
}

func newTailWriter(max int) *tailWriter {
	return &tailWriter{max: max, lines: make([]string, 0, max)}
}

func (self *tailWriter) Write(b []byte) (int, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	s := self.part + string(b)
	parts := strings.Split(s, "\n")
	self.part = parts[len(parts)-1]
	for _, line := range parts[:len(parts)-1] {
		self.lines = append(self.lines, line)
	}
	if over := len(self.lines) - self.max; over > 0 {
		self.lines = append(self.lines[:0], self.lines[over:]...)
	}
	return len(b), nil
}

func (self *tailWriter) Lines() []string {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([]string(nil), self.lines...)
}
