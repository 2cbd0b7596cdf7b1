// Package radiocli is interactive radio tool for bench testing.
package radiocli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/uplink/cmd/uplink/subcmd"
	"github.com/temoto/uplink/config"
	"github.com/temoto/uplink/helpers/cli"
	"github.com/temoto/uplink/log2"
	"github.com/temoto/uplink/radio"
)

const modName = "radio"

var Mod = subcmd.Mod{Name: modName, Usage: "interactive radio tool", Main: Main}

const help = `commands:
- send TEXT   transmit TEXT to destination and wait for acknowledgment
- recv [MS]   wait for packet addressed to this node, acknowledge it
- rssi        instant signal strength (rfm69 only)
- timeout MS  acknowledgment and receive timeout
- help
`

var suggests = []prompt.Suggest{
	{Text: "send", Description: "transmit text, wait ack"},
	{Text: "recv", Description: "receive one packet"},
	{Text: "rssi", Description: "instant signal strength"},
	{Text: "timeout", Description: "set timeout, ms"},
	{Text: "help"},
}

type rssier interface {
	RSSI() (float64, error)
}

type tool struct {
	ctx     context.Context
	log     *log2.Log
	node    *radio.Node
	out     io.Writer
	timeout time.Duration
}

func Main(ctx context.Context, c *config.Config, log *log2.Log) error {
	node, err := subcmd.OpenNode(&c.Radio, subcmd.RoleEmitter, log)
	if err != nil {
		return errors.Trace(err)
	}
	defer node.Close()

	t := &tool{ctx: ctx, log: log, node: node, out: os.Stdout, timeout: c.Uplink.AckTimeout()}
	fmt.Fprint(t.out, help)
	return errors.Annotate(cli.MainLoop(ctx, modName, t.exec, complete), modName)
}

func complete(d prompt.Document) []prompt.Suggest {
	if strings.Contains(d.TextBeforeCursor(), " ") {
		return nil
	}
	return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
}

func (t *tool) exec(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	cmd, arg := line, ""
	if i := strings.IndexByte(line, ' '); i > 0 {
		cmd, arg = line[:i], strings.TrimSpace(line[i+1:])
	}
	if err := t.do(cmd, arg); err != nil {
		t.log.Errorf("%s: %v", cmd, err)
	}
}

func (t *tool) do(cmd, arg string) error {
	switch cmd {
	case "help":
		fmt.Fprint(t.out, help)

	case "send":
		if arg == "" {
			return errors.NotValidf("send requires text")
		}
		if len(arg) > radio.MaxPayload {
			return errors.NotValidf("text length=%d > max=%d", len(arg), radio.MaxPayload)
		}
		ack, err := t.node.SendWithAck(t.ctx, []byte(arg), t.timeout)
		if errors.IsTimeout(err) {
			fmt.Fprintf(t.out, "no ack within %v\n", t.timeout)
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(t.out, "ack rssi=%.1f dBm\n", ack.RSSI)

	case "recv":
		timeout := t.timeout
		if arg != "" {
			ms, err := strconv.ParseUint(arg, 10, 32)
			if err != nil {
				return errors.NotValidf("recv timeout=%q", arg)
			}
			timeout = time.Duration(ms) * time.Millisecond
		}
		p, err := t.node.Receive(t.ctx, timeout)
		if errors.IsTimeout(err) {
			fmt.Fprintf(t.out, "nothing within %v\n", timeout)
			return nil
		}
		if err != nil {
			return err
		}
		if err = t.node.Ack(t.ctx, &p); err != nil {
			return errors.Annotate(err, "ack")
		}
		fmt.Fprintf(t.out, "from=%d id=%d rssi=%.1f dBm payload=%q\n", p.From, p.ID, p.RSSI, p.Payload)

	case "rssi":
		r, ok := t.node.Medium().(rssier)
		if !ok {
			return errors.NotSupportedf("rssi on this radio driver")
		}
		v, err := r.RSSI()
		if err != nil {
			return err
		}
		fmt.Fprintf(t.out, "rssi=%.1f dBm\n", v)

	case "timeout":
		ms, err := strconv.ParseUint(arg, 10, 32)
		if err != nil || ms == 0 {
			return errors.NotValidf("timeout=%q", arg)
		}
		t.timeout = time.Duration(ms) * time.Millisecond
		fmt.Fprintf(t.out, "timeout=%v\n", t.timeout)

	default:
		return errors.NotValidf("unknown command=%q, try help", cmd)
	}
	return nil
}
