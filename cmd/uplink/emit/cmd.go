// Package emit runs telemetry emitter: sample sensor, send with acknowledgment, repeat.
package emit

import (
	"context"
	"expvar"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/uplink/cmd/uplink/subcmd"
	"github.com/temoto/uplink/config"
	"github.com/temoto/uplink/journal"
	"github.com/temoto/uplink/log2"
	"github.com/temoto/uplink/sensor"
	"github.com/temoto/uplink/tele"
	"github.com/temoto/uplink/uplink"
	"golang.org/x/sync/errgroup"
)

const modName = "emit"

var Mod = subcmd.Mod{Name: modName, Usage: "sample sensor and transmit telemetry", Main: Main}

func Main(ctx context.Context, c *config.Config, log *log2.Log) error {
	reporters := uplink.MultiReporter{uplink.LogReporter{Log: log}}
	if c.Journal.Enable {
		jr, err := journal.Open(c.Journal.Dir, log)
		if err != nil {
			return errors.Annotate(err, "journal")
		}
		defer func() {
			log.SetErrorFunc(nil)
			if err := jr.Close(); err != nil {
				log.Errorf("journal close err=%v", err)
			}
		}()
		log.SetErrorFunc(jr.ErrorFunc())
		reporters = append(reporters, jr)
		jr.Info("emitter started")
	}

	sampler, err := sensor.New(&c.Sensor, log)
	if err != nil {
		return errors.Annotate(err, "sensor")
	}
	defer sampler.Close()

	node, err := subcmd.OpenNode(&c.Radio, subcmd.RoleEmitter, log)
	if err != nil {
		return errors.Trace(err)
	}
	defer node.Close()

	scfg, err := uplink.SchedulerConfigFrom(&c.Uplink)
	if err != nil {
		return errors.Trace(err)
	}
	ctl := uplink.NewController(node, log)
	expvar.Publish("uplink", ctl.Stat)
	sched := uplink.NewScheduler(log, sampler, ctl, reporters, scfg)

	g, gctx := errgroup.WithContext(ctx)
	if c.Metrics.Listen != "" {
		ms := tele.NewMetricsServer(c.Metrics.Listen, log)
		ms.Registry.MustRegister(tele.NewUplinkCollector(ctl.Stat, sched.State))
		g.Go(func() error { return ms.Serve(gctx) })
	}
	g.Go(func() error { return sched.Run(gctx) })
	subcmd.SdNotify(daemon.SdNotifyReady)
	return g.Wait()
}
