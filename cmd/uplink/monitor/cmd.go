// Package monitor runs ground station view: read base station output, plot each
// telemetry field, accept view commands over TCP.
//
//	uplink base | uplink monitor
package monitor

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/tarm/serial"
	"github.com/temoto/uplink/cmd/uplink/subcmd"
	"github.com/temoto/uplink/config"
	"github.com/temoto/uplink/log2"
	"github.com/temoto/uplink/monitor"
	"golang.org/x/sync/errgroup"
)

const (
	modName       = "monitor"
	controlOff    = "off"
	headlessEvery = 5 * time.Second
)

var Mod = subcmd.Mod{Name: modName, Usage: "ground station view of base output", Main: Main}

func Main(ctx context.Context, c *config.Config, log *log2.Log) error {
	mc := &c.Monitor
	src, err := openSource(mc)
	if err != nil {
		return errors.Annotate(err, modName)
	}
	defer src.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var tail *tailWriter
	if !mc.Headless {
		// terminal belongs to view, keep log lines in a panel
		tail = newTailWriter(tailLines)
		level := log2.LInfo
		if log.Enabled(log2.LDebug) {
			level = log2.LDebug
		}
		log = log2.NewWriter(tail, level)
	}

	set := monitor.NewSet(monitor.DefaultLayout, mc.Window, mc.History)
	g, gctx := errgroup.WithContext(ctx)

	// blocking read may outlive ctx on stdin, so not part of group
	feedDone := make(chan error, 1)
	go func() {
		n, err := monitor.Feed(gctx, src, set)
		log.Infof("monitor source=%s closed lines=%d", mc.Source, n)
		feedDone <- err
	}()
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-feedDone:
			if err != nil && gctx.Err() == nil {
				return errors.Annotatef(err, "monitor source=%s", mc.Source)
			}
			// keep showing what was received until quit
			<-gctx.Done()
			return nil
		}
	})

	if mc.ControlListen != controlOff {
		ctl := monitor.NewControl(set, log)
		g.Go(func() error { return ctl.ListenAndServe(gctx, mc.ControlListen) })
	}

	if mc.Headless {
		g.Go(func() error { return runHeadless(gctx, set, mc.Frame(), log) })
	} else {
		g.Go(func() error {
			defer cancel()
			return runScreen(gctx, set, mc.Frame(), tail)
		})
	}
	return g.Wait()
}

// openSource: "-" is stdin, "serial:NAME" or /dev/ path is serial port, anything else is a file to replay.
func openSource(mc *config.MonitorConfig) (io.ReadCloser, error) {
	name := mc.Source
	switch {
	case name == "-":
		return io.NopCloser(os.Stdin), nil

	case strings.HasPrefix(name, "serial:") || strings.HasPrefix(name, "/dev/"):
		name = strings.TrimPrefix(name, "serial:")
		port, err := serial.OpenPort(&serial.Config{Name: name, Baud: mc.Baud})
		if err != nil {
			return nil, errors.Annotatef(err, "serial open port=%s baud=%d", name, mc.Baud)
		}
		return port, nil
	}
	f, err := os.Open(name)
	return f, errors.Annotatef(err, "source=%s", name)
}

// runHeadless advances view bounds like screen would, so lock works, and logs last values.
func runHeadless(ctx context.Context, set *monitor.Set, frame time.Duration, log *log2.Log) error {
	tick := time.NewTicker(frame)
	defer tick.Stop()
	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-tick.C:
			views := make([]monitor.View, len(set.Series))
			for i, s := range set.Series {
				views[i] = s.Frame()
			}
			if now.Sub(last) >= headlessEvery {
				last = now
				log.Info(summaryLine(set.Lines(), views))
			}
		}
	}
}
