// Package base runs base station: receive, acknowledge, print, forward to MQTT.
package base

import (
	"context"
	"expvar"
	"fmt"
	"os"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/uplink/basestation"
	"github.com/temoto/uplink/cmd/uplink/subcmd"
	"github.com/temoto/uplink/config"
	"github.com/temoto/uplink/log2"
	"github.com/temoto/uplink/tele"
	"golang.org/x/sync/errgroup"
)

const modName = "base"

var Mod = subcmd.Mod{Name: modName, Usage: "receive telemetry, print and forward", Main: Main}

func Main(ctx context.Context, c *config.Config, log *log2.Log) error {
	node, err := subcmd.OpenNode(&c.Radio, subcmd.RoleBase, log)
	if err != nil {
		return errors.Trace(err)
	}
	defer node.Close()

	stationID := fmt.Sprintf("base%d", node.Addr)
	g, gctx := errgroup.WithContext(ctx)

	var pub tele.Publisher = tele.NewNoop()
	if c.Tele.Enable {
		tele.SetLogger(log, c.Tele.LogDebug)
		mp, err := tele.NewMqtt(&c.Tele, stationID, log)
		if err != nil {
			return errors.Annotate(err, "tele")
		}
		defer mp.Close()
		expvar.Publish("tele", &mp.Stat)
		pub = mp
		// station works without broker, publish errors are logged
		g.Go(func() error {
			if err := mp.Connect(gctx); err != nil && gctx.Err() == nil {
				log.Errorf("tele connect, forwarding disabled: %v", err)
			}
			return nil
		})
	}

	st := basestation.New(node, pub, stationID, log)
	st.Out = os.Stdout
	expvar.Publish("base", expvar.Func(func() interface{} { return stationID }))

	if c.Metrics.Listen != "" {
		ms := tele.NewMetricsServer(c.Metrics.Listen, log)
		st.Metrics = basestation.NewMetrics(ms.Registry)
		g.Go(func() error { return ms.Serve(gctx) })
	}
	g.Go(func() error { return st.Run(gctx) })
	subcmd.SdNotify(daemon.SdNotifyReady)
	return g.Wait()
}
