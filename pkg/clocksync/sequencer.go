// Package clocksync synchronizes the clock and display settings of LYWSD02 sensors.
//
// A [Sequencer] runs one operation per call to [Sequencer.SetTime]:
//
//	Idle -> Connecting -> Connected -> WritingTime -> [WritingTemperatureMode] -> [WritingClockMode] -> Completed
//
// Any step may end in Failed instead. Writes are best-effort sequential rather than atomic: the
// device has no undo, so a failure after the time write is reported as a partial apply. The
// session is released exactly once however the operation ends, after the outcome has been
// handed to the Reporter.
//
// Concurrent calls for different addresses are independent. Calls for the same address are not
// coordinated here and must be serialized by the caller.
package clocksync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lywsd02/clock-sync/internal/log"
	"github.com/lywsd02/clock-sync/pkg/clock"
	"github.com/lywsd02/clock-sync/pkg/connector/ble"
	"github.com/lywsd02/clock-sync/pkg/connector/ble/iface"
	"github.com/lywsd02/clock-sync/pkg/payload"
	"github.com/lywsd02/clock-sync/pkg/protocol"
)

//go:generate mockgen -package mocks -destination ../../mocks/clocksync.go -mock_names Reporter=Reporter,Resolver=Resolver github.com/lywsd02/clock-sync/pkg/clocksync Reporter,Resolver

// Resolver finds a device by address.
type Resolver interface {
	Resolve(ctx context.Context, address string, connectable bool) (*iface.ScanResult, error)
}

// Connector opens sessions. *ble.Manager implements Connector.
type Connector interface {
	Connect(ctx context.Context, target *iface.ScanResult, timeout time.Duration) (*ble.Session, error)
}

// Reporter receives every terminal Outcome.
type Reporter interface {
	Report(ctx context.Context, outcome *Outcome) error
}

// TransitionFunc observes state changes.
type TransitionFunc func(address string, from, to State)

type Sequencer struct {
	resolver  Resolver
	connector Connector
	reporter  Reporter
	logger    log.Logger

	now          func() time.Time
	onTransition TransitionFunc
}

// New returns a Sequencer. reporter may be nil.
func New(resolver Resolver, connector Connector, reporter Reporter, logger log.Logger) *Sequencer {
	return &Sequencer{
		resolver:  resolver,
		connector: connector,
		reporter:  reporter,
		logger:    log.OrDiscard(logger),
		now:       time.Now,
	}
}

// SetClock replaces the time source used to localize timestamps.
func (s *Sequencer) SetClock(now func() time.Time) {
	s.now = now
}

// OnTransition registers fn to be called on every state change.
func (s *Sequencer) OnTransition(fn TransitionFunc) {
	s.onTransition = fn
}

// SetTime runs one sync operation. The returned error is the one that ended the operation (nil
// on success); the Outcome is returned in both cases and has already been reported.
func (s *Sequencer) SetTime(ctx context.Context, req *Request) (*Outcome, error) {
	r := &run{seq: s, req: req, state: StateIdle, started: s.now()}
	defer r.release()

	err := r.execute(ctx)
	outcome := r.outcome(err)
	if err != nil {
		s.logger.Error("FAILED - Error writing to '%s': %s", outcome.Address, err)
	} else {
		s.logger.Info("SUCCESS - All operations completed for '%s' (timestamp: %d, tz_offset: %dh)", outcome.Address, outcome.Timestamp, outcome.TimezoneOffset)
	}

	if s.reporter != nil {
		// Report even if ctx has expired; a timeout is exactly what the user needs to hear about.
		if rerr := s.reporter.Report(context.WithoutCancel(ctx), outcome); rerr != nil {
			s.logger.Warning("Failed to report outcome for '%s': %s", outcome.Address, rerr)
		}
	}
	return outcome, err
}

type run struct {
	seq *Sequencer
	req *Request

	state     State
	session   *ble.Session
	timestamp int64
	applied   []payload.Kind
	failed    *payload.Kind
	started   time.Time
}

func (r *run) transition(to State) {
	from := r.state
	if from.Terminal() {
		panic(fmt.Sprintf("clocksync: %s: transition %s -> %s after the run ended", r.req.Address, from, to))
	}
	r.state = to
	r.seq.logger.Debug("%s: %s -> %s", r.req.Address, from, to)
	if r.seq.onTransition != nil {
		r.seq.onTransition(r.req.Address, from, to)
	}
}

func (r *run) fail(err error) error {
	r.transition(StateFailed)
	return err
}

func (r *run) execute(ctx context.Context) error {
	if r.req == nil {
		r.req = &Request{}
		return r.fail(protocol.ErrMissingAddress)
	}
	if err := r.req.Validate(); err != nil {
		return r.fail(err)
	}
	address := r.req.Address

	connectCtx, cancel := context.WithTimeout(ctx, r.req.ConnectTimeout)
	defer cancel()

	target, err := r.seq.resolver.Resolve(connectCtx, address, true)
	if err != nil {
		if !errors.Is(err, protocol.ErrDeviceNotFound) {
			err = fmt.Errorf("%w: %s: %w", protocol.ErrDeviceNotFound, address, err)
		}
		return r.fail(err)
	}
	r.seq.logger.Info("Found '%s' (%s) - Attempting to update time.", address, target.LocalName)

	r.transition(StateConnecting)
	session, err := r.seq.connector.Connect(connectCtx, target, r.req.ConnectTimeout)
	if err != nil {
		var connErr *protocol.ConnectionError
		if !errors.As(err, &connErr) {
			err = &protocol.ConnectionError{Address: address, Attempts: 1, Err: err}
		}
		return r.fail(err)
	}
	r.session = session
	r.transition(StateConnected)

	r.timestamp = clock.Resolve(r.req.TimestampOverride, r.seq.now(), r.req.Location)
	if err := checkTimestamp(r.timestamp); err != nil {
		return r.fail(err)
	}

	steps := payload.Build(int32(r.timestamp), int8(r.req.TimezoneOffsetHours), r.req.TemperatureMode, r.req.ClockMode)
	for _, step := range steps {
		r.transition(writingState(step.Kind()))
		r.seq.logger.Info("Writing %s to '%s'...", step.Kind(), address)
		if err := r.write(ctx, step); err != nil {
			kind := step.Kind()
			r.failed = &kind
			return r.fail(&protocol.WriteError{
				Address: address,
				Step:    kind,
				Applied: append([]payload.Kind(nil), r.applied...),
				Err:     err,
			})
		}
		r.applied = append(r.applied, step.Kind())
		r.seq.logger.Info("%s successfully written to '%s'", step.Kind(), address)
	}

	r.transition(StateCompleted)
	return nil
}

func (r *run) write(ctx context.Context, p payload.CommandPayload) error {
	stepCtx, cancel := context.WithTimeout(ctx, r.req.CommandTimeout)
	defer cancel()
	return r.session.WriteCharacteristic(stepCtx, p.Characteristic().UUID(), p.Bytes())
}

func (r *run) outcome(err error) *Outcome {
	o := &Outcome{
		Address:        r.req.Address,
		Success:        err == nil,
		Timestamp:      r.timestamp,
		TimezoneOffset: r.req.TimezoneOffsetHours,
		State:          r.state.String(),
		Started:        r.started,
		Finished:       r.seq.now(),
		err:            err,
	}
	for _, kind := range r.applied {
		o.Applied = append(o.Applied, kind.String())
	}
	if r.failed != nil {
		o.Failed = r.failed.String()
	}
	if err != nil {
		o.ErrorKind = protocol.KindOf(err).String()
		o.Error = err.Error()
	}
	return o
}

// release disconnects the session if one was opened.
func (r *run) release() {
	if r.session != nil {
		r.session.Close()
	}
}
