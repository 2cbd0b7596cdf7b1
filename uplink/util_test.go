package uplink

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/temoto/uplink/radio"
)

type step struct {
	rssi float64
	err  error
}

func ack(rssi float64) step { return step{rssi: rssi} }
func timeout() step         { return step{err: radio.ErrAckTimeout} }
func fault(err error) step  { return step{err: err} }

type transportFunc func(ctx context.Context, payload []byte, timeout time.Duration) (radio.AckInfo, error)

func (f transportFunc) SendWithAck(ctx context.Context, payload []byte, timeout time.Duration) (radio.AckInfo, error) {
	return f(ctx, payload, timeout)
}

// scriptTransport answers SendWithAck from script, then times out forever.
type scriptTransport struct {
	mu       sync.Mutex
	script   []step
	sent     [][]byte
	timeouts []time.Duration
}

func newScript(steps ...step) *scriptTransport { return &scriptTransport{script: steps} }

func (s *scriptTransport) SendWithAck(ctx context.Context, payload []byte, timeout time.Duration) (radio.AckInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, append([]byte(nil), payload...))
	s.timeouts = append(s.timeouts, timeout)
	if len(s.script) == 0 {
		return radio.AckInfo{}, radio.ErrAckTimeout
	}
	st := s.script[0]
	s.script = s.script[1:]
	if st.err != nil {
		return radio.AckInfo{}, st.err
	}
	return radio.AckInfo{RSSI: st.rssi}, nil
}

func (s *scriptTransport) push(steps ...step) {
	s.mu.Lock()
	s.script = append(s.script, steps...)
	s.mu.Unlock()
}

func (s *scriptTransport) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.sent...)
}

type mockTransport struct{ mock.Mock }

func (m *mockTransport) SendWithAck(ctx context.Context, payload []byte, timeout time.Duration) (radio.AckInfo, error) {
	args := m.Called(ctx, payload, timeout)
	return args.Get(0).(radio.AckInfo), args.Error(1)
}

type collectReporter struct {
	mu      sync.Mutex
	reports []*Report
}

func (c *collectReporter) Report(r *Report) {
	c.mu.Lock()
	c.reports = append(c.reports, r)
	c.mu.Unlock()
}

func (c *collectReporter) All() []*Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Report(nil), c.reports...)
}
