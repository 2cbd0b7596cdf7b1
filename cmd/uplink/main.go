package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/errors"
	"github.com/temoto/uplink/cmd/uplink/base"
	"github.com/temoto/uplink/cmd/uplink/emit"
	"github.com/temoto/uplink/cmd/uplink/monitor"
	"github.com/temoto/uplink/cmd/uplink/radiocli"
	"github.com/temoto/uplink/cmd/uplink/subcmd"
	"github.com/temoto/uplink/config"
	"github.com/temoto/uplink/log2"
)

var log = log2.NewStderr(log2.LInfo)

var modules = []subcmd.Mod{
	emit.Mod,
	base.Mod,
	radiocli.Mod,
	monitor.Mod,
}

func main() {
	flagConfig := flag.String("config", "uplink.hcl", "")
	flagDebug := flag.Bool("debug", false, "log debug messages, overrides log_debug config")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] command\n\ncommands:\n", os.Args[0])
		for _, m := range modules {
			fmt.Fprintf(flag.CommandLine.Output(), "  %-8s %s\n", m.Name, m.Usage)
		}
		fmt.Fprintf(flag.CommandLine.Output(), "\nflags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if subcmd.SdNotify("start") {
		// we're under systemd, assume systemd journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}

	mod, err := subcmd.Parse(flag.Arg(0), modules)
	if err != nil {
		flag.Usage()
		log.Fatal(err)
	}

	c := config.MustReadConfig(log, config.NewOsFullReader(), *flagConfig)
	if c.LogDebug || *flagDebug {
		log.SetLevel(log2.LDebug)
	}
	log.Debugf("config radio=%s sensor=%s journal=%t tele=%t", c.Radio.Driver, c.Sensor.Driver, c.Journal.Enable, c.Tele.Enable)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := mod.Main(ctx, c, log); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}
