package monitor

import (
	"bufio"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/uplink/log2"
)

func TestControlExec(t *testing.T) {
	t.Parallel()
	set := NewSet(DefaultLayout, 4, 10)
	ctl := NewControl(set, log2.NewTest(t, log2.LDebug))

	type Case struct {
		input string
		reply string
		quit  bool
	}
	// commands share state, run in order
	cases := []Case{
		{"", "", false},
		{"   ", "", false},
		{"toggle autoscale 0", "OK", false},
		{"set smoothing 2 0.75", "OK", false},
		{"set smoothing 2 9", "OK", false},
		{"set smoothing 2 abc", "ERR val", false},
		{"lock 1", "ERR no_bounds", false},
		{"lock x", "ERR idx", false},
		{"lock -1", "ERR idx", false},
		{"unlock 7", "ERR no graph 7", false},
		{"toggle autoscale", "ERR unknown toggle autoscale", false},
		{"toggle smoothing 1", "ERR unknown toggle smoothing 1", false},
		{"fly  3", "ERR unknown fly 3", false},
		{"QUIT", "OK bye", true},
	}
	for _, c := range cases {
		reply, quit := ctl.Exec(c.input)
		assert.Equal(t, c.reply, reply, "input=%q", c.input)
		assert.Equal(t, c.quit, quit, "input=%q", c.input)
	}

	assert.False(t, set.Series[0].Frame().Autoscale)
	reply, _ := ctl.Exec("Toggle AUTOSCALE 0")
	assert.Equal(t, "OK", reply)
	assert.True(t, set.Series[0].Frame().Autoscale)
	assert.Equal(t, 1.0, set.Series[2].Frame().Smoothing)

	set.Series[1].Frame()
	reply, _ = ctl.Exec("lock 1")
	assert.Equal(t, "OK", reply)
	assert.True(t, set.Series[1].Frame().Locked)
	reply, _ = ctl.Exec("unlock 1")
	assert.Equal(t, "OK", reply)
	assert.False(t, set.Series[1].Frame().Locked)
}

func TestControlServe(t *testing.T) {
	t.Parallel()
	set := NewSet(DefaultLayout, 4, 10)
	ctl := NewControl(set, log2.NewTest(t, log2.LDebug))
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- ctl.Serve(ctx, l) }()

	dial := func() (net.Conn, *bufio.Reader) {
		conn, err := net.Dial("tcp", l.Addr().String())
		require.NoError(t, err)
		require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
		return conn, bufio.NewReader(conn)
	}
	roundtrip := func(conn net.Conn, r *bufio.Reader, cmd string) string {
		_, err := io.WriteString(conn, cmd+"\n")
		require.NoError(t, err)
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		return line
	}

	c1, r1 := dial()
	defer c1.Close()
	assert.Equal(t, "OK\n", roundtrip(c1, r1, "toggle autoscale 3"))
	assert.False(t, set.Series[3].Frame().Autoscale)
	// empty line has no reply, next reply belongs to next command
	assert.Equal(t, "ERR unknown bogus\n", roundtrip(c1, r1, "\nbogus"))
	assert.Equal(t, "OK bye\n", roundtrip(c1, r1, "quit"))
	_, err = r1.ReadString('\n')
	assert.Equal(t, io.EOF, err)

	c2, r2 := dial()
	defer c2.Close()
	assert.Equal(t, "ERR no graph 99\n", roundtrip(c2, r2, "lock 99"))

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	_, err = r2.ReadString('\n')
	assert.Error(t, err)
	_, err = net.Dial("tcp", l.Addr().String())
	assert.Error(t, err)
}
