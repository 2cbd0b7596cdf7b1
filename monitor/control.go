package monitor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/uplink/helpers"
	"github.com/temoto/uplink/log2"
)

const DefaultControlListen = "127.0.0.1:4000"

// Control is line based ASCII remote for series view settings.
// One reply line per command: OK or ERR <msg>.
//
//	toggle autoscale <idx>
//	set smoothing <idx> <val>
//	lock <idx>
//	unlock <idx>
//	quit
type Control struct {
	Log *log2.Log

	set   *Set
	alive *alive.Alive
	conns struct {
		sync.Mutex
		m map[net.Conn]struct{}
	}
}

func NewControl(set *Set, log *log2.Log) *Control {
	self := &Control{Log: log, set: set, alive: alive.NewAlive()}
	self.conns.m = make(map[net.Conn]struct{})
	return self
}

// Exec runs one command. Empty line gives empty reply. quit=true asks to close connection.
func (self *Control) Exec(line string) (reply string, quit bool) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return "", false
	}
	verb := strings.ToLower(parts[0])
	switch {
	case verb == "toggle" && len(parts) == 3 && strings.EqualFold(parts[1], "autoscale"):
		return self.withSeries(parts[2], func(s *Series) string {
			s.ToggleAutoscale()
			return "OK"
		}), false

	case verb == "set" && len(parts) == 4 && strings.EqualFold(parts[1], "smoothing"):
		return self.withSeries(parts[2], func(s *Series) string {
			x, err := strconv.ParseFloat(parts[3], 64)
			if err != nil {
				return "ERR val"
			}
			s.SetSmoothing(x)
			return "OK"
		}), false

	case verb == "lock" && len(parts) == 2:
		return self.withSeries(parts[1], func(s *Series) string {
			if err := s.Lock(); err != nil {
				return "ERR " + err.Error()
			}
			return "OK"
		}), false

	case verb == "unlock" && len(parts) == 2:
		return self.withSeries(parts[1], func(s *Series) string {
			s.Unlock()
			return "OK"
		}), false

	case verb == "quit":
		return "OK bye", true
	}
	return "ERR unknown " + strings.Join(parts, " "), false
}

func (self *Control) withSeries(arg string, f func(*Series) string) string {
	idx, err := strconv.ParseUint(arg, 10, 31)
	if err != nil {
		return "ERR idx"
	}
	s, ok := self.set.Get(int(idx))
	if !ok {
		return fmt.Sprintf("ERR no graph %d", idx)
	}
	return f(s)
}

func (self *Control) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Annotatef(err, "monitor control listen=%s", addr)
	}
	return self.Serve(ctx, l)
}

// Serve accepts clients until ctx is done, then closes listener and all clients.
func (self *Control) Serve(ctx context.Context, l net.Listener) error {
	self.Log.Debugf("monitor control listen=%s", l.Addr())
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		self.stop(l)
	}()

	for {
		conn, err := l.Accept()
		if !self.alive.IsRunning() {
			if conn != nil {
				_ = conn.Close()
			}
			self.alive.Wait()
			return nil
		}
		if err != nil {
			self.stop(l)
			self.alive.Wait()
			return errors.Annotatef(err, "monitor control accept listen=%s", l.Addr())
		}
		if !self.alive.Add(1) {
			_ = conn.Close()
			continue
		}
		helpers.WithLock(&self.conns, func() {
			// stop may have swept conns already
			if !self.alive.IsRunning() {
				_ = conn.Close()
			}
			self.conns.m[conn] = struct{}{}
		})
		go self.serveConn(conn)
	}
}

func (self *Control) stop(l net.Listener) {
	self.alive.Stop()
	_ = l.Close()
	helpers.WithLock(&self.conns, func() {
		for c := range self.conns.m {
			_ = c.Close()
		}
	})
}

func (self *Control) serveConn(conn net.Conn) {
	defer self.alive.Done()
	defer func() {
		_ = conn.Close()
		helpers.WithLock(&self.conns, func() { delete(self.conns.m, conn) })
	}()
	addr := conn.RemoteAddr().String()
	self.Log.Debugf("monitor control client=%s connected", addr)

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		reply, quit := self.Exec(scanner.Text())
		if reply == "" {
			continue
		}
		self.Log.Debugf("monitor control client=%s cmd=%q reply=%q", addr, scanner.Text(), reply)
		if _, err := io.WriteString(conn, reply+"\n"); err != nil {
			self.Log.Debugf("monitor control client=%s write err=%v", addr, err)
			return
		}
		if quit {
			return
		}
	}
}
