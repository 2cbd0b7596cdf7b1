package monitor

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/uplink/config"
	"github.com/temoto/uplink/log2"
	"github.com/temoto/uplink/monitor"
)

func TestHandleKey(t *testing.T) {
	t.Parallel()
	set := monitor.NewSet(monitor.DefaultLayout, 4, 10)
	focus := 0
	n := len(monitor.DefaultLayout)

	assert.False(t, handleKey(set, &focus, "<Backtab>"))
	assert.Equal(t, n-1, focus)
	assert.False(t, handleKey(set, &focus, "<Tab>"))
	assert.Equal(t, 0, focus)
	assert.False(t, handleKey(set, &focus, "j"))
	assert.Equal(t, 1, focus)

	s := set.Series[1]
	require.True(t, s.Frame().Autoscale)
	handleKey(set, &focus, "a")
	assert.False(t, s.Frame().Autoscale)
	handleKey(set, &focus, "s")
	assert.Equal(t, 0.75, s.Frame().Smoothing)
	handleKey(set, &focus, "l")
	assert.True(t, s.Frame().Locked)
	handleKey(set, &focus, "l")
	assert.False(t, s.Frame().Locked)
	assert.False(t, handleKey(set, &focus, "x"))

	assert.True(t, handleKey(set, &focus, "q"))
	assert.True(t, handleKey(set, &focus, "<C-c>"))
}

func TestPlotData(t *testing.T) {
	t.Parallel()

	type Case struct {
		name       string
		bounds     monitor.Bounds
		ys         []float64
		expect     []float64
		expectSpan float64
	}
	cases := []Case{
		{"shift", monitor.Bounds{Min: -120, Max: 0}, []float64{-120, -60, 0}, []float64{0, 60, 120}, 120},
		{"clamp", monitor.Bounds{Min: 10, Max: 20}, []float64{5, 15, 25}, []float64{0, 5, 10}, 10},
		{"flat-bounds", monitor.Bounds{Min: 3, Max: 3}, []float64{3, 4}, []float64{0, 1}, 1},
		{"nan-bounds", monitor.Bounds{Min: math.NaN(), Max: 1}, []float64{}, []float64{}, 1},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			v := monitor.View{Bounds: c.bounds}
			for i, y := range c.ys {
				v.Points = append(v.Points, monitor.Point{X: float64(i), Y: y})
			}
			data, span := plotData(v)
			assert.Equal(t, c.expectSpan, span)
			assert.Equal(t, c.expect, data)
		})
	}
}

func TestViewText(t *testing.T) {
	t.Parallel()
	v := monitor.View{
		Name: "RSSI ACK (dBm)", Bounds: monitor.Bounds{Min: -100, Max: -50},
		Min: -91, Max: -60.5, Last: -61.25, Autoscale: true, Smoothing: 0.5, Locked: true,
		State: monitor.ViewExpanding,
	}
	assert.Equal(t, "1 RSSI ACK (dBm) [-100.000,-50.000] last=-61.25 LOCK AUTO", plotTitle(1, v))
	assert.Equal(t, "#1 RSSI ACK (dBm)\nautoscale=on smoothing=0.50 lock=on\nstate=expanding bounds=[-100.000,-50.000]\nmin=-91 max=-60.50 last=-61.25",
		infoText(1, v))

	history := []monitor.Point{{X: 1, Y: 10}, {X: 2, Y: 20.5}, {X: 3, Y: 30}}
	assert.Equal(t, []string{"     3  30", "     2  20.50"}, historyText(history, 2))
	assert.Len(t, historyText(history, 10), 3)
	assert.Empty(t, historyText(nil, 10))

	assert.Equal(t, `monitor lines=7 "RSSI ACK (dBm)"=-61.25`, summaryLine(7, []monitor.View{v}))
	assert.Equal(t, "-", formatValue(math.Inf(1)))
}

func TestTailWriter(t *testing.T) {
	t.Parallel()
	w := newTailWriter(3)
	log := log2.NewWriter(w, log2.LDebug)
	log.SetFlags(0)
	for i := 1; i <= 5; i++ {
		log.Infof("line %d", i)
	}
	assert.Equal(t, []string{"line 3", "line 4", "line 5"}, w.Lines())

	_, err := w.Write([]byte("par"))
	require.NoError(t, err)
	assert.Equal(t, "line 5", w.Lines()[2])
	_, _ = w.Write([]byte("tial\nnext\n"))
	assert.Equal(t, []string{"line 5", "partial", "next"}, w.Lines())
}

func TestOpenSourceFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "base.out")
	lines := []string{
		"Received:  1  -50.0  21.5  1001.00  40.00  100.000000",
		"RSSI_PACKET: -60.0 dBm",
	}
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	src, err := openSource(&config.MonitorConfig{Source: path})
	require.NoError(t, err)
	defer src.Close()
	set := monitor.NewSet(monitor.DefaultLayout, 4, 10)
	n, err := monitor.Feed(context.Background(), src, set)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = openSource(&config.MonitorConfig{Source: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}

func TestRunHeadless(t *testing.T) {
	t.Parallel()
	set := monitor.NewSet(monitor.DefaultLayout, 4, 10)
	set.Apply(monitor.Values{monitor.FieldPacketRSSI: -70})
	var logged []string
	log := log2.NewFunc(func(format string, args ...interface{}) {
		logged = append(logged, fmt.Sprintf(format, args...))
	}, log2.LInfo)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, runHeadless(ctx, set, 5*time.Millisecond, log))
	require.NotEmpty(t, logged)
	assert.Contains(t, logged[0], `monitor lines=1`)
	assert.Contains(t, logged[0], `"RSSI PACKET (dBm)"=-70`)
	// frames ran, lock has bounds
	assert.NoError(t, set.Series[6].Lock())
}
