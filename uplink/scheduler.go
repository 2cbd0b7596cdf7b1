package uplink

import (
	"context"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/uplink/config"
	"github.com/temoto/uplink/helpers"
	"github.com/temoto/uplink/log2"
	"github.com/temoto/uplink/sensor"
)

type FaultPolicy uint8

const (
	// Sleep growing cooldown after transport fault, then continue.
	FaultCooldown FaultPolicy = iota
	// Stop Run with fault error.
	FaultStop
)

func ParseFaultPolicy(s string) (FaultPolicy, error) {
	switch strings.ToLower(s) {
	case "", config.FaultPolicyCooldown:
		return FaultCooldown, nil
	case config.FaultPolicyStop:
		return FaultStop, nil
	}
	return 0, errors.NotValidf("fault policy=%q", s)
}

type SchedulerConfig struct {
	MaxRetries    uint32
	AckTimeout    time.Duration
	Pause         time.Duration
	FaultPolicy   FaultPolicy
	FaultCooldown time.Duration
}

func SchedulerConfigFrom(c *config.UplinkConfig) (SchedulerConfig, error) {
	policy, err := ParseFaultPolicy(c.FaultPolicy)
	if err != nil {
		return SchedulerConfig{}, err
	}
	return SchedulerConfig{
		MaxRetries:    c.MaxRetries(),
		AckTimeout:    c.AckTimeout(),
		Pause:         c.Pause(),
		FaultPolicy:   policy,
		FaultCooldown: c.FaultCooldown(),
	}, nil
}

// Scheduler drives cycles strictly one after another:
// sample, encode, deliver, update link state, report, advance sequence, pause.
type Scheduler struct {
	Log        *log2.Log
	Sampler    sensor.Sampler
	Controller *Controller
	State      *LinkState
	Reporter   Reporter
	Config     SchedulerConfig

	backoff helpers.Backoff
	now     func() time.Time
}

func NewScheduler(log *log2.Log, s sensor.Sampler, c *Controller, r Reporter, cfg SchedulerConfig) *Scheduler {
	self := &Scheduler{
		Log:        log,
		Sampler:    s,
		Controller: c,
		State:      NewLinkState(),
		Reporter:   r,
		Config:     cfg,
		now:        time.Now,
	}
	self.backoff = helpers.Backoff{
		Min: cfg.FaultCooldown,
		Max: 10 * cfg.FaultCooldown,
		K:   2,
	}
	return self
}

// Step runs single cycle without trailing pause.
func (self *Scheduler) Step(ctx context.Context) *Report {
	r := &Report{Seq: self.State.Sequence(), At: self.now()}
	defer self.State.Advance()

	reading, err := self.Sampler.Sample(ctx)
	if err != nil {
		r.SampleErr = errors.Annotate(err, "sample")
		self.Controller.Stat.SampleErrors.Add(1)
		r.Link = self.State.Snapshot()
		self.report(r)
		return r
	}
	msg := self.State.Message(reading)
	r.Reading = reading
	r.Payload = msg.Encode()
	self.Log.Debugf("uplink send %q", r.Payload)

	r.Outcome = self.Controller.Deliver(ctx, r.Payload, self.Config.MaxRetries, self.Config.AckTimeout)
	self.State.Apply(&r.Outcome, self.now())
	r.Link = self.State.Snapshot()
	self.report(r)
	return r
}

// Run repeats cycles until ctx is done (returns nil)
// or transport fault with FaultStop policy (returns fault).
func (self *Scheduler) Run(ctx context.Context) error {
	self.Log.Infof("uplink start retries=%d ack_timeout=%v pause=%v",
		self.Config.MaxRetries, self.Config.AckTimeout, self.Config.Pause)
	for ctx.Err() == nil {
		r := self.Step(ctx)
		wait := self.Config.Pause
		switch {
		case r.Outcome.Status == StatusCanceled:
			continue
		case r.Outcome.Status == StatusFault:
			if self.Config.FaultPolicy == FaultStop {
				return errors.Annotatef(r.Outcome.Err, "uplink seq=%d", r.Seq)
			}
			self.backoff.Failure()
			wait = self.backoff.Current()
			self.Log.Errorf("uplink seq=%d transport fault, cooldown=%v err=%v", r.Seq, wait, r.Outcome.Err)
		case r.SampleErr == nil:
			self.backoff.Reset()
		}
		if !helpers.SleepContext(ctx, wait) {
			break
		}
	}
	self.Log.Infof("uplink stop seq=%d", self.State.Sequence())
	return nil
}

func (self *Scheduler) report(r *Report) {
	if self.Reporter != nil {
		self.Reporter.Report(r)
	}
}
