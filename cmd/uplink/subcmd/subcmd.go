// Support sub-commands in uplink application.
package subcmd

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/uplink/config"
	"github.com/temoto/uplink/log2"
)

type Mod struct {
	Name  string
	Usage string
	Main  func(context.Context, *config.Config, *log2.Log) error
}

func Parse(command string, modules []Mod) (*Mod, error) {
	if command == "" {
		return nil, fmt.Errorf("empty command, expected one of: %s", Names(modules))
	}

	var found *Mod
	for i := range modules {
		m := &modules[i]
		if m.Name == "" {
			panic(fmt.Sprintf("code error Name='' module=%#v", m))
		}
		if command == m.Name {
			found = m
			break
		}
	}
	if found == nil {
		return nil, fmt.Errorf("unknown command='%s', expected one of: %s", command, Names(modules))
	}
	return found, nil
}

func Names(modules []Mod) string {
	ss := make([]string, len(modules))
	for i, m := range modules {
		ss[i] = m.Name
	}
	return strings.Join(ss, ", ")
}

// SdNotify returns true when running under systemd.
func SdNotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Fatal("sdnotify: ", errors.ErrorStack(err))
	}
	return ok
}
