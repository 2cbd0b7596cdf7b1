// Package journal keeps human readable numbered log files of radio sessions:
//
//	=== LOGS STARTED (v0.1) ===
//	[00:00:15.750]  [INFO]     seq=1 payload=" 1  0.0  ..." ack rssi=-42.3 attempts=1
//	[00:00:17.750]  [ERROR]    seq=2 sample error: ...
//
// Time is counted from journal open. Writes are asynchronous,
// lines are dropped (and counted) when writer falls behind.
package journal

import (
	"bufio"
	"expvar"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/uplink/helpers"
	"github.com/temoto/uplink/log2"
	"github.com/temoto/uplink/uplink"
)

const (
	Header       = "=== LOGS STARTED (v0.1) ==="
	DefaultQueue = 256

	typeWidth = 11
)

type Stat struct {
	Lines   expvar.Int
	Dropped expvar.Int
	Bytes   expvar.Int
}

type Journal struct {
	Log  *log2.Log
	Path string
	Stat Stat

	alive *alive.Alive
	ch    chan string
	flush chan chan struct{}
	start time.Time
	now   func() time.Time
	f     *os.File
	w     *bufio.Writer
	err   helpers.AtomicError
}

// Open creates next numbered file log_N.txt in dir, N = count of existing entries.
func Open(dir string, log *log2.Log) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Annotatef(err, "journal dir=%s", dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Annotatef(err, "journal dir=%s", dir)
	}
	n := len(entries)
	var f *os.File
	var path string
	for {
		path = filepath.Join(dir, fmt.Sprintf("log_%d.txt", n))
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			n++
			continue
		}
		if err != nil {
			return nil, errors.Annotatef(err, "journal create path=%s", path)
		}
		break
	}
	return newJournal(f, path, time.Now, DefaultQueue, log)
}

func newJournal(f *os.File, path string, now func() time.Time, queue int, log *log2.Log) (*Journal, error) {
	self := &Journal{
		Log:   log,
		Path:  path,
		alive: alive.NewAlive(),
		ch:    make(chan string, queue),
		flush: make(chan chan struct{}),
		start: now(),
		now:   now,
		f:     f,
	}
	self.w = bufio.NewWriter(helpers.NewStatWriter(f, &self.Stat.Bytes, 0))
	if _, err := self.w.WriteString(Header + "\n"); err != nil {
		_ = f.Close()
		return nil, errors.Annotatef(err, "journal header path=%s", path)
	}
	self.alive.Add(1)
	go self.run()
	log.Debugf("journal path=%s", path)
	return self, nil
}

func (self *Journal) Info(text string)    { self.Add("INFO", text) }
func (self *Journal) Warning(text string) { self.Add("WARNING", text) }
func (self *Journal) Error(text string)   { self.Add("ERROR", text) }

// Add never blocks. After Close lines are silently dropped.
func (self *Journal) Add(typ, text string) {
	if self == nil || !self.alive.IsRunning() {
		return
	}
	line := self.format(self.now().Sub(self.start), typ, text)
	select {
	case self.ch <- line:
	default:
		self.Stat.Dropped.Add(1)
	}
}

// Report implements uplink.Reporter.
func (self *Journal) Report(r *uplink.Report) {
	if r.Failed() {
		self.Error(r.String())
	} else {
		self.Info(r.String())
	}
}

// ErrorFunc for log2.Log.SetErrorFunc, copies logged errors into journal.
func (self *Journal) ErrorFunc() log2.ErrorFunc {
	return func(e error) { self.Error(e.Error()) }
}

// Flush waits until queued lines reach the file.
func (self *Journal) Flush() error {
	done := make(chan struct{})
	select {
	case self.flush <- done:
		<-done
	case <-self.alive.WaitChan():
	}
	err, _ := self.err.Load()
	return err
}

// Close writes all accepted lines and closes file.
func (self *Journal) Close() error {
	self.alive.Stop()
	self.alive.Wait()
	err, _ := self.err.Load()
	return err
}

// Err returns first write error, journal keeps accepting lines after it.
func (self *Journal) Err() error {
	err, _ := self.err.Load()
	return err
}

func (self *Journal) run() {
	defer self.alive.Done()
	stopch := self.alive.StopChan()
	for {
		select {
		case line := <-self.ch:
			self.write(line)
		case done := <-self.flush:
			self.drain()
			self.sync()
			close(done)
		case <-stopch:
			self.drain()
			self.sync()
			if err := self.f.Close(); err != nil {
				self.fail(err)
			}
			return
		}
	}
}

func (self *Journal) drain() {
	for {
		select {
		case line := <-self.ch:
			self.write(line)
		default:
			return
		}
	}
}

func (self *Journal) write(line string) {
	if _, err := self.w.WriteString(line); err != nil {
		self.fail(err)
		return
	}
	self.Stat.Lines.Add(1)
}

func (self *Journal) sync() {
	if err := self.w.Flush(); err != nil {
		self.fail(err)
	}
}

func (self *Journal) fail(err error) {
	err = errors.Annotatef(err, "journal path=%s", self.Path)
	if _, set := self.err.StoreOnce(err); !set {
		// plain Logf, error hook may point back here
		self.Log.Logf(log2.LError, "error: %v", err)
	}
}

func (self *Journal) format(d time.Duration, typ, text string) string {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	h := ms / 3600000
	m := ms / 60000 % 60
	s := ms / 1000 % 60
	typ = "[" + strings.ToUpper(strings.TrimSpace(typ)) + "]"
	return fmt.Sprintf("[%02d:%02d:%02d.%03d]  %-*s%s\n", h, m, s, ms%1000, typeWidth, typ, strings.TrimSpace(text))
}
