package monitor

import (
	"fmt"
	"math"
	"sync"

	"github.com/juju/errors"
)

var ErrNoBounds = errors.New("no_bounds")

// Smoothing presets cycled from keyboard, 0 keeps bounds, 1 snaps to target.
var SmoothingPresets = []float64{0, 0.25, 0.5, 0.75, 1}

const (
	DefaultWindow     = 50
	DefaultMaxHistory = 1000

	shrinkConfirmFrames = 8
	shrinkMarginFrac    = 0.2
)

type Point struct{ X, Y float64 }

type Bounds struct{ Min, Max float64 }

func (b Bounds) String() string { return fmt.Sprintf("[%.3f,%.3f]", b.Min, b.Max) }

type SeriesConfig struct {
	Window     int // visible points
	MaxHistory int
	YRange     Bounds // used without autoscale and as fallback
}

type ViewState uint8

const (
	ViewStable ViewState = iota
	ViewExpanding
	ViewShrinking
)

func (s ViewState) String() string {
	switch s {
	case ViewStable:
		return "stable"
	case ViewExpanding:
		return "expanding"
	case ViewShrinking:
		return "shrinking"
	}
	return fmt.Sprintf("ViewState(%d)", uint8(s))
}

// View is a consistent copy of series state for one rendered frame.
type View struct {
	Name      string
	Points    []Point
	History   []Point
	Bounds    Bounds
	XMin      float64
	XMax      float64
	Min       float64
	Max       float64
	Last      float64
	State     ViewState
	Autoscale bool
	Smoothing float64
	Locked    bool
}

// Series is one telemetry field: sliding window of visible points,
// bounded history and view bounds. Safe for concurrent use.
type Series struct {
	Name string

	mu        sync.RWMutex
	config    SeriesConfig
	points    []Point
	history   []Point
	autoscale bool
	smoothing float64
	locked    *Bounds
	current   *Bounds
	stable    int
	state     ViewState
}

// NewSeries pre-fills the window with points at middle of YRange, so plots always have data.
func NewSeries(name string, c SeriesConfig, autoscale bool, smoothing float64) *Series {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = DefaultMaxHistory
	}
	mid := (c.YRange.Min + c.YRange.Max) / 2
	self := &Series{
		Name:      name,
		config:    c,
		points:    make([]Point, 0, c.Window),
		autoscale: autoscale,
		smoothing: clamp01(smoothing),
	}
	for i := 0; i < c.Window; i++ {
		self.points = append(self.points, Point{X: float64(i), Y: mid})
	}
	self.history = append(make([]Point, 0, c.MaxHistory), self.points...)
	if len(self.history) > c.MaxHistory {
		self.history = self.history[len(self.history)-c.MaxHistory:]
	}
	return self
}

func (self *Series) Config() SeriesConfig { return self.config }

// Add pushes y with x following last history point.
func (self *Series) Add(y float64) {
	self.mu.Lock()
	defer self.mu.Unlock()
	x := 0.0
	if n := len(self.history); n != 0 {
		x = self.history[n-1].X + 1
	}
	self.push(Point{X: x, Y: y})
}

// Push keeps len(points) <= Window and len(history) <= MaxHistory.
func (self *Series) Push(x, y float64) {
	self.mu.Lock()
	self.push(Point{X: x, Y: y})
	self.mu.Unlock()
}

func (self *Series) push(p Point) {
	if len(self.points) >= self.config.Window {
		copy(self.points, self.points[len(self.points)-self.config.Window+1:])
		self.points = self.points[:self.config.Window-1]
	}
	self.points = append(self.points, p)

	self.history = append(self.history, p)
	if over := len(self.history) - self.config.MaxHistory; over > 0 {
		self.history = append(self.history[:0], self.history[over:]...)
	}
}

func (self *Series) Len() (points, history int) {
	self.mu.RLock()
	defer self.mu.RUnlock()
	return len(self.points), len(self.history)
}

// Stats returns min, max and last of visible points, YRange and its middle when empty.
func (self *Series) Stats() (min, max, last float64) {
	self.mu.RLock()
	defer self.mu.RUnlock()
	return self.stats()
}

func (self *Series) stats() (min, max, last float64) {
	min, max = math.Inf(1), math.Inf(-1)
	for _, p := range self.points {
		min = math.Min(min, p.Y)
		max = math.Max(max, p.Y)
	}
	if math.IsInf(min, 1) || math.IsInf(max, -1) {
		r := self.config.YRange
		return r.Min, r.Max, (r.Min + r.Max) / 2
	}
	return min, max, self.points[len(self.points)-1].Y
}

func (self *Series) xBounds() (float64, float64) {
	if len(self.points) == 0 {
		return 0, 0
	}
	return self.points[0].X, self.points[len(self.points)-1].X
}

// ToggleAutoscale returns new state. Enabling autoscale drops locked bounds.
func (self *Series) ToggleAutoscale() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.autoscale = !self.autoscale
	if self.autoscale {
		self.locked = nil
	}
	return self.autoscale
}

func (self *Series) SetSmoothing(x float64) {
	self.mu.Lock()
	self.smoothing = clamp01(x)
	self.mu.Unlock()
}

// CycleSmoothing moves to next preset, unknown values restart from first.
func (self *Series) CycleSmoothing() float64 {
	self.mu.Lock()
	defer self.mu.Unlock()
	idx := 0
	for i, p := range SmoothingPresets {
		if math.Abs(p-self.smoothing) < 1e-9 {
			idx = i
			break
		}
	}
	self.smoothing = SmoothingPresets[(idx+1)%len(SmoothingPresets)]
	return self.smoothing
}

// Lock freezes current view bounds. ErrNoBounds before first frame.
func (self *Series) Lock() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.current == nil {
		return ErrNoBounds
	}
	b := *self.current
	self.locked = &b
	return nil
}

func (self *Series) Unlock() {
	self.mu.Lock()
	self.locked = nil
	self.mu.Unlock()
}

// ToggleLock locks current bounds or unlocks, returns true when locked.
func (self *Series) ToggleLock() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.locked != nil {
		self.locked = nil
		return false
	}
	if self.current == nil {
		return false
	}
	b := *self.current
	self.locked = &b
	return true
}

// Frame advances view bounds one step toward the data and returns a snapshot.
// Data outside bounds expands them at once (smoothing at least 0.5);
// shrinking waits for shrinkConfirmFrames frames with data comfortably inside.
func (self *Series) Frame() View {
	self.mu.Lock()
	defer self.mu.Unlock()

	min, max, last := self.stats()
	var target Bounds
	switch {
	case self.locked != nil:
		target = *self.locked
	case self.autoscale:
		target = self.targetBounds()
	default:
		target = self.config.YRange
	}
	if self.current == nil {
		b := target
		self.current = &b
		self.stable, self.state = 0, ViewStable
	}
	cur := *self.current

	if self.locked != nil {
		self.state = ViewStable
	} else if min < cur.Min || max > cur.Max {
		self.state, self.stable = ViewExpanding, 0
		cur = interpBounds(cur, target, math.Max(self.smoothing, 0.5))
	} else {
		margin := shrinkMarginFrac * math.Max(math.Abs(cur.Max-cur.Min), 1e-9)
		comfortable := target.Min >= cur.Min+margin && target.Max <= cur.Max-margin
		switch {
		case comfortable:
			self.stable++
			if self.stable >= shrinkConfirmFrames {
				self.state = ViewShrinking
				cur = interpBounds(cur, target, self.smoothing)
			} else {
				self.state = ViewStable
			}
		default:
			self.stable, self.state = 0, ViewStable
			if self.smoothing == 1 {
				cur = target
			}
		}
	}
	*self.current = cur

	xmin, xmax := self.xBounds()
	view := View{
		Name:      self.Name,
		Points:    append([]Point(nil), self.points...),
		History:   append([]Point(nil), self.history...),
		Bounds:    cur,
		XMin:      xmin,
		XMax:      xmax,
		Min:       min,
		Max:       max,
		Last:      last,
		State:     self.state,
		Autoscale: self.autoscale,
		Smoothing: self.smoothing,
		Locked:    self.locked != nil,
	}
	if view.Locked {
		view.Bounds = *self.locked
	}
	return view
}

// targetBounds pads visible data range by 10%, flat data by 10% of magnitude (at least 0.1).
func (self *Series) targetBounds() Bounds {
	if len(self.points) == 0 {
		return self.config.YRange
	}
	min, max, _ := self.stats()
	if math.IsNaN(min) || math.IsNaN(max) || math.IsInf(min, 0) || math.IsInf(max, 0) {
		return self.config.YRange
	}
	pad := (max - min) * 0.1
	if max-min < 1e-12 {
		pad = math.Max(math.Abs(min), 1) * 0.1
	}
	return Bounds{Min: min - pad, Max: max + pad}
}

func interpBounds(cur, target Bounds, alpha float64) Bounds {
	a := clamp01(alpha)
	return Bounds{
		Min: cur.Min*(1-a) + target.Min*a,
		Max: cur.Max*(1-a) + target.Max*a,
	}
}

func clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x) || x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}
