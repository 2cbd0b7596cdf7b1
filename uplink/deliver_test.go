package uplink

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/temoto/uplink/log2"
	"github.com/temoto/uplink/radio"
)

func TestDeliver(t *testing.T) {
	t.Parallel()

	type Case struct {
		name       string
		script     []step
		maxRetries uint32
		status     Status
		rssi       float64
		attempts   []AttemptOutcome
	}
	cases := []Case{
		{"first-ack", []step{ack(-42.3)}, 2, StatusAcknowledged, -42.3,
			[]AttemptOutcome{AttemptAcknowledged}},
		{"ack-on-last", []step{timeout(), timeout(), ack(-80)}, 2, StatusAcknowledged, -80,
			[]AttemptOutcome{AttemptTimedOut, AttemptTimedOut, AttemptAcknowledged}},
		{"exhausted", nil, 2, StatusExhausted, 0,
			[]AttemptOutcome{AttemptTimedOut, AttemptTimedOut, AttemptTimedOut}},
		{"ack-after-budget", []step{timeout(), timeout(), timeout(), ack(-50)}, 2, StatusExhausted, 0,
			[]AttemptOutcome{AttemptTimedOut, AttemptTimedOut, AttemptTimedOut}},
		{"no-retries", nil, 0, StatusExhausted, 0, []AttemptOutcome{AttemptTimedOut}},
		{"no-retries-ack", []step{ack(-1)}, 0, StatusAcknowledged, -1, []AttemptOutcome{AttemptAcknowledged}},
		{"max-retries-no-wrap", []step{timeout(), ack(-61)}, math.MaxUint32, StatusAcknowledged, -61,
			[]AttemptOutcome{AttemptTimedOut, AttemptAcknowledged}},
		{"max-retries-fault", []step{fault(fmt.Errorf("spi write"))}, math.MaxUint32, StatusFault, 0,
			[]AttemptOutcome{AttemptFault}},
		{"fault-stops", []step{timeout(), fault(fmt.Errorf("spi write"))}, 5, StatusFault, 0,
			[]AttemptOutcome{AttemptTimedOut, AttemptFault}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			tx := newScript(c.script...)
			ctl := NewController(tx, log2.NewTest(t, log2.LDebug))
			payload := []byte(" 1  0.0  23.5  1013.25  45.00  -9.375000")
			o := ctl.Deliver(context.Background(), payload, c.maxRetries, 7*time.Millisecond)

			assert.Equal(t, c.status, o.Status)
			assert.Equal(t, c.rssi, o.RSSI)
			require.Len(t, o.Attempts, len(c.attempts))
			for i, a := range o.Attempts {
				assert.Equal(t, uint64(i+1), a.Number)
				assert.Equal(t, c.attempts[i], a.Outcome, "attempt=%d", a.Number)
				assert.False(t, a.SentAt.IsZero())
			}
			sent := tx.Sent()
			assert.Len(t, sent, len(c.attempts))
			assert.True(t, len(sent) >= 1 && uint64(len(sent)) <= uint64(c.maxRetries)+1)
			for _, s := range sent {
				assert.Equal(t, payload, s)
			}
			for _, d := range tx.timeouts {
				assert.Equal(t, 7*time.Millisecond, d)
			}
			if c.status == StatusFault {
				require.Error(t, o.Err)
				assert.Contains(t, o.Err.Error(), "spi write")
				assert.Equal(t, int64(1), ctl.Stat.Faults.Value())
			} else {
				assert.NoError(t, o.Err)
			}
		})
	}
}

func TestDeliverPayloadCopied(t *testing.T) {
	t.Parallel()
	payload := []byte("abc")
	var sent []string
	tx := transportFunc(func(_ context.Context, p []byte, _ time.Duration) (radio.AckInfo, error) {
		sent = append(sent, string(p))
		// caller reusing its buffer must not affect retransmissions
		payload[0] = 'X'
		return radio.AckInfo{}, radio.ErrAckTimeout
	})
	ctl := NewController(tx, log2.NewTest(t, log2.LDebug))
	o := ctl.Deliver(context.Background(), payload, 1, time.Millisecond)
	assert.Equal(t, StatusExhausted, o.Status)
	assert.Equal(t, []string{"abc", "abc"}, sent)
}

func TestDeliverCanceled(t *testing.T) {
	t.Parallel()
	tx := newScript()
	ctl := NewController(tx, log2.NewTest(t, log2.LDebug))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := ctl.Deliver(ctx, []byte("x"), 2, time.Millisecond)
	assert.Equal(t, StatusCanceled, o.Status)
	assert.Equal(t, context.Canceled, o.Err)
	assert.Len(t, tx.Sent(), 0)
	assert.Equal(t, int64(1), ctl.Stat.Canceled.Value())
}

func TestDeliverBusy(t *testing.T) {
	t.Parallel()
	m := &mockTransport{}
	release := make(chan struct{})
	started := make(chan struct{})
	m.On("SendWithAck", mock.Anything, []byte("x"), time.Second).
		Run(func(mock.Arguments) { close(started); <-release }).
		Return(radio.AckInfo{RSSI: -30}, nil).Once()
	ctl := NewController(m, log2.NewTest(t, log2.LDebug))

	done := make(chan Outcome)
	go func() { done <- ctl.Deliver(context.Background(), []byte("x"), 0, time.Second) }()
	<-started
	busy := ctl.Deliver(context.Background(), []byte("y"), 0, time.Second)
	assert.Equal(t, StatusFault, busy.Status)
	assert.Equal(t, ErrBusy, busy.Err)
	assert.Len(t, busy.Attempts, 0)

	close(release)
	o := <-done
	assert.Equal(t, StatusAcknowledged, o.Status)
	assert.Equal(t, -30.0, o.RSSI)
	m.AssertExpectations(t)
}

func TestDeliverMockTransport(t *testing.T) {
	t.Parallel()
	m := &mockTransport{}
	m.On("SendWithAck", mock.Anything, []byte("p"), 250*time.Millisecond).
		Return(radio.AckInfo{}, errors.Timeoutf("ack")).Twice()
	m.On("SendWithAck", mock.Anything, []byte("p"), 250*time.Millisecond).
		Return(radio.AckInfo{RSSI: -91.5}, nil).Once()
	ctl := NewController(m, log2.NewTest(t, log2.LDebug))
	o := ctl.Deliver(context.Background(), []byte("p"), 2, 250*time.Millisecond)
	assert.Equal(t, StatusAcknowledged, o.Status)
	assert.Equal(t, -91.5, o.RSSI)
	m.AssertNumberOfCalls(t, "SendWithAck", 3)
	assert.Equal(t, int64(3), ctl.Stat.Attempts.Value())
	assert.Equal(t, int64(2), ctl.Stat.Timeouts.Value())
	assert.Equal(t, 1.0, ctl.Stat.Delivered())
}

// Controller over real radio node and in-memory air.
func TestDeliverOverRadio(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	log := log2.NewTest(t, log2.LDebug)
	ma, mb := radio.NewMemoryPair(-55, -65)
	emitter := radio.NewNode(ma, 120, 100, log)
	base := radio.NewNode(mb, 100, 120, log)
	defer emitter.Close()
	defer base.Close()

	// lose first two transmissions
	lost := 0
	ma.SetDrop(func([]byte) bool { lost++; return lost <= 2 })
	go func() {
		for {
			p, err := base.Receive(ctx, 0)
			if err != nil {
				return
			}
			_ = base.Ack(ctx, &p)
		}
	}()

	ctl := NewController(emitter, log)
	o := ctl.Deliver(ctx, []byte(" 1  0.0  1.0  2.00  3.00  4.000000"), 2, 50*time.Millisecond)
	assert.Equal(t, StatusAcknowledged, o.Status)
	assert.Equal(t, -55.0, o.RSSI)
	assert.Len(t, o.Attempts, 3)
	assert.Len(t, ma.Sent(), 3)
}
