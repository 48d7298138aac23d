package clocksync_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/lywsd02/clock-sync/mocks"
	"github.com/lywsd02/clock-sync/pkg/clocksync"
	"github.com/lywsd02/clock-sync/pkg/connector/ble"
	"github.com/lywsd02/clock-sync/pkg/connector/ble/iface"
	"github.com/lywsd02/clock-sync/pkg/payload"
	"github.com/lywsd02/clock-sync/pkg/protocol"
)

const (
	address   = "A4:C1:38:00:11:22"
	timestamp = int64(1700000000)
)

var (
	timeUUID   = payload.TimeCharacteristicUUID
	configUUID = payload.ConfigCharacteristicUUID
)

var _ = Describe("Sequencer", func() {
	var (
		ctrl     *gomock.Controller
		resolver *mocks.Resolver
		adapter  *mocks.Adapter
		session  *mocks.Session
		reporter *mocks.Reporter
		seq      *clocksync.Sequencer
		target   *iface.ScanResult
		states   []clocksync.State
		reported []*clocksync.Outcome
		req      *clocksync.Request
	)

	expectFound := func() {
		resolver.EXPECT().Resolve(gomock.Any(), address, true).Return(target, nil)
	}
	expectConnect := func() {
		adapter.EXPECT().TryToConnect(gomock.Any(), target).Return(session, false, nil)
	}
	timeBytes := func(ts int64, tz int8) []byte {
		return payload.Time(int32(ts), tz).Bytes()
	}

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		resolver = mocks.NewResolver(ctrl)
		adapter = mocks.NewAdapter(ctrl)
		session = mocks.NewSession(ctrl)
		reporter = mocks.NewReporter(ctrl)
		adapter.EXPECT().IsAdapterError(gomock.Any()).Return(false).AnyTimes()

		manager := ble.NewManager(adapter, nil)
		manager.SetRetryPolicy(2, time.Millisecond)
		seq = clocksync.New(resolver, manager, reporter, nil)

		states = []clocksync.State{clocksync.StateIdle}
		seq.OnTransition(func(_ string, _, to clocksync.State) {
			states = append(states, to)
		})
		reported = nil
		reporter.EXPECT().Report(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, outcome *clocksync.Outcome) error {
				reported = append(reported, outcome)
				return nil
			}).AnyTimes()

		target = &iface.ScanResult{Address: address, LocalName: "LYWSD02", Connectable: true}
		req = clocksync.NewRequest("a4:c1:38:00:11:22")
		req.SetTimestamp(timestamp)
		DeferCleanup(ctrl.Finish)
	})

	Context("successful sync", func() {
		It("writes only the time when no modes are requested", func() {
			req.TimezoneOffsetHours = 1
			expectFound()
			expectConnect()
			gomock.InOrder(
				session.EXPECT().WriteCharacteristic(gomock.Any(), timeUUID, timeBytes(timestamp, 1)).Return(nil),
				session.EXPECT().Disconnect().Return(nil),
			)

			outcome, err := seq.SetTime(context.Background(), req)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Success).To(BeTrue())
			Expect(outcome.Address).To(Equal(address))
			Expect(outcome.Timestamp).To(Equal(timestamp))
			Expect(outcome.TimezoneOffset).To(Equal(1))
			Expect(outcome.Applied).To(Equal([]string{"time"}))
			Expect(outcome.Err()).To(BeNil())
			Expect(states).To(Equal([]clocksync.State{
				clocksync.StateIdle,
				clocksync.StateConnecting,
				clocksync.StateConnected,
				clocksync.StateWritingTime,
				clocksync.StateCompleted,
			}))
			Expect(reported).To(ConsistOf(outcome))
		})

		It("writes time, temperature mode and clock mode in order", func() {
			req.TemperatureMode = payload.Fahrenheit
			req.ClockMode = payload.Hour12
			expectFound()
			expectConnect()
			gomock.InOrder(
				session.EXPECT().WriteCharacteristic(gomock.Any(), timeUUID, timeBytes(timestamp, 0)).Return(nil),
				session.EXPECT().WriteCharacteristic(gomock.Any(), configUUID, []byte{0x01}).Return(nil),
				session.EXPECT().WriteCharacteristic(gomock.Any(), timeUUID, []byte{0, 0, 0, 0, 0, 0, 0xAA}).Return(nil),
				session.EXPECT().Disconnect().Return(nil),
			)

			outcome, err := seq.SetTime(context.Background(), req)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Applied).To(Equal([]string{"time", "temperature mode", "clock mode"}))
			Expect(states).To(ContainElements(
				clocksync.StateWritingTemperatureMode,
				clocksync.StateWritingClockMode,
			))
		})

		It("reports before releasing the session", func() {
			ctrl = gomock.NewController(GinkgoT())
			resolver = mocks.NewResolver(ctrl)
			adapter = mocks.NewAdapter(ctrl)
			session = mocks.NewSession(ctrl)
			reporter = mocks.NewReporter(ctrl)
			seq = clocksync.New(resolver, ble.NewManager(adapter, nil), reporter, nil)

			expectFound()
			expectConnect()
			gomock.InOrder(
				session.EXPECT().WriteCharacteristic(gomock.Any(), timeUUID, gomock.Any()).Return(nil),
				reporter.EXPECT().Report(gomock.Any(), gomock.Any()).Return(nil),
				session.EXPECT().Disconnect().Return(nil),
			)
			_, err := seq.SetTime(context.Background(), req)
			Expect(err).NotTo(HaveOccurred())
		})

		It("localizes the current time when no timestamp is given", func() {
			now := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)
			seq.SetClock(func() time.Time { return now })
			req.TimestampOverride = nil
			req.Location = time.FixedZone("CEST", 2*60*60)
			req.TimezoneOffsetHours = 2
			expected := now.Unix() + 2*60*60

			expectFound()
			expectConnect()
			session.EXPECT().WriteCharacteristic(gomock.Any(), timeUUID, timeBytes(expected, 2)).Return(nil)
			session.EXPECT().Disconnect().Return(nil)

			outcome, err := seq.SetTime(context.Background(), req)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Timestamp).To(Equal(expected))
		})

		It("ignores disconnect failures", func() {
			expectFound()
			expectConnect()
			session.EXPECT().WriteCharacteristic(gomock.Any(), timeUUID, gomock.Any()).Return(nil)
			session.EXPECT().Disconnect().Return(errors.New("not connected")).Times(1)

			outcome, err := seq.SetTime(context.Background(), req)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Success).To(BeTrue())
		})

		It("ignores reporter failures", func() {
			ctrl = gomock.NewController(GinkgoT())
			resolver = mocks.NewResolver(ctrl)
			adapter = mocks.NewAdapter(ctrl)
			session = mocks.NewSession(ctrl)
			reporter = mocks.NewReporter(ctrl)
			seq = clocksync.New(resolver, ble.NewManager(adapter, nil), reporter, nil)

			expectFound()
			expectConnect()
			session.EXPECT().WriteCharacteristic(gomock.Any(), timeUUID, gomock.Any()).Return(nil)
			session.EXPECT().Disconnect().Return(nil)
			reporter.EXPECT().Report(gomock.Any(), gomock.Any()).Return(errors.New("home assistant unavailable"))

			outcome, err := seq.SetTime(context.Background(), req)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Success).To(BeTrue())
		})
	})

	Context("failures before connecting", func() {
		It("rejects a missing address without touching the radio", func() {
			outcome, err := seq.SetTime(context.Background(), clocksync.NewRequest("  "))
			Expect(err).To(MatchError(protocol.ErrMissingAddress))
			Expect(outcome.Success).To(BeFalse())
			Expect(outcome.ErrorKind).To(Equal("MissingAddress"))
			Expect(reported).To(HaveLen(1))
			Expect(states).To(Equal([]clocksync.State{clocksync.StateIdle, clocksync.StateFailed}))
		})

		It("rejects a nil request", func() {
			_, err := seq.SetTime(context.Background(), nil)
			Expect(err).To(MatchError(protocol.ErrMissingAddress))
		})

		It("rejects offsets that do not fit in a byte", func() {
			req.TimezoneOffsetHours = 200
			outcome, err := seq.SetTime(context.Background(), req)
			Expect(err).To(MatchError(protocol.ErrInvalidRequest))
			Expect(outcome.Kind()).To(Equal(protocol.KindInvalidRequest))
		})

		It("rejects timestamps that do not fit in 32 bits", func() {
			req.SetTimestamp(1 << 33)
			_, err := seq.SetTime(context.Background(), req)
			Expect(err).To(MatchError(protocol.ErrInvalidRequest))
		})

		It("reports a device that cannot be found", func() {
			resolver.EXPECT().Resolve(gomock.Any(), address, true).Return(nil, protocol.ErrDeviceNotFound)

			outcome, err := seq.SetTime(context.Background(), req)
			Expect(err).To(MatchError(protocol.ErrDeviceNotFound))
			Expect(outcome.ErrorKind).To(Equal("DeviceNotFound"))
			Expect(outcome.Applied).To(BeEmpty())
			Expect(reported).To(ConsistOf(outcome))
		})

		It("classifies resolver errors as not found", func() {
			resolver.EXPECT().Resolve(gomock.Any(), address, true).Return(nil, errors.New("bus closed"))
			_, err := seq.SetTime(context.Background(), req)
			Expect(protocol.KindOf(err)).To(Equal(protocol.KindDeviceNotFound))
		})
	})

	Context("connection failures", func() {
		It("attempts no writes and no disconnect", func() {
			expectFound()
			adapter.EXPECT().TryToConnect(gomock.Any(), target).Return(nil, true, errors.New("le-connection-abort-by-local")).Times(2)

			outcome, err := seq.SetTime(context.Background(), req)
			Expect(protocol.KindOf(err)).To(Equal(protocol.KindConnection))
			Expect(outcome.ErrorKind).To(Equal("ConnectionError"))
			Expect(outcome.Partial()).To(BeFalse())
			Expect(states).To(Equal([]clocksync.State{clocksync.StateIdle, clocksync.StateConnecting, clocksync.StateFailed}))
		})

		It("times out", func() {
			req.ConnectTimeout = 20 * time.Millisecond
			expectFound()
			adapter.EXPECT().TryToConnect(gomock.Any(), target).DoAndReturn(
				func(ctx context.Context, _ *iface.ScanResult) (iface.Session, bool, error) {
					<-ctx.Done()
					return nil, true, ctx.Err()
				})

			_, err := seq.SetTime(context.Background(), req)
			var connErr *protocol.ConnectionError
			Expect(errors.As(err, &connErr)).To(BeTrue())
			Expect(connErr.Timeout()).To(BeTrue())
		})
	})

	Context("write failures", func() {
		It("fails without partial state when the time write fails", func() {
			req.TemperatureMode = payload.Celsius
			expectFound()
			expectConnect()
			session.EXPECT().WriteCharacteristic(gomock.Any(), timeUUID, gomock.Any()).Return(errors.New("att: write rejected"))
			session.EXPECT().Disconnect().Return(nil).Times(1)

			outcome, err := seq.SetTime(context.Background(), req)
			var writeErr *protocol.WriteError
			Expect(errors.As(err, &writeErr)).To(BeTrue())
			Expect(writeErr.Step).To(Equal(payload.KindTime))
			Expect(writeErr.Partial()).To(BeFalse())
			Expect(outcome.Failed).To(Equal("time"))
			Expect(outcome.TimeApplied()).To(BeFalse())
			Expect(outcome.Partial()).To(BeFalse())
		})

		It("reports a partial apply when a later write fails", func() {
			req.TemperatureMode = payload.Celsius
			req.ClockMode = payload.Hour24
			expectFound()
			expectConnect()
			gomock.InOrder(
				session.EXPECT().WriteCharacteristic(gomock.Any(), timeUUID, gomock.Any()).Return(nil),
				session.EXPECT().WriteCharacteristic(gomock.Any(), configUUID, []byte{0xFF}).Return(errors.New("att: write rejected")),
				session.EXPECT().Disconnect().Return(nil),
			)

			outcome, err := seq.SetTime(context.Background(), req)
			Expect(protocol.KindOf(err)).To(Equal(protocol.KindWrite))
			Expect(protocol.MayHaveSucceeded(err)).To(BeTrue())
			Expect(outcome.Partial()).To(BeTrue())
			Expect(outcome.TimeApplied()).To(BeTrue())
			Expect(outcome.StepApplied(payload.KindClockMode)).To(BeFalse())
			Expect(outcome.Failed).To(Equal("temperature mode"))
			Expect(outcome.State).To(Equal("Failed"))
		})

		It("bounds each write by the command timeout", func() {
			req.CommandTimeout = 10 * time.Millisecond
			release := make(chan struct{})
			DeferCleanup(func() { close(release) })
			expectFound()
			expectConnect()
			session.EXPECT().WriteCharacteristic(gomock.Any(), timeUUID, gomock.Any()).DoAndReturn(
				func(context.Context, string, []byte) error {
					<-release
					return nil
				})
			session.EXPECT().Disconnect().Return(nil)

			_, err := seq.SetTime(context.Background(), req)
			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(protocol.KindOf(err)).To(Equal(protocol.KindWrite))
		})
	})
})

var _ = Describe("Request", func() {
	It("fills in default timeouts", func() {
		req := &clocksync.Request{Address: "aa:bb:cc:dd:ee:ff"}
		Expect(req.Validate()).To(Succeed())
		Expect(req.Address).To(Equal("AA:BB:CC:DD:EE:FF"))
		Expect(req.ConnectTimeout).To(Equal(clocksync.DefaultConnectTimeout))
		Expect(req.CommandTimeout).To(Equal(clocksync.DefaultCommandTimeout))
	})

	It("rejects negative timeouts", func() {
		req := clocksync.NewRequest(address)
		req.ConnectTimeout = -time.Second
		Expect(req.Validate()).To(MatchError(protocol.ErrInvalidRequest))
	})
})

var _ = DescribeTable("State.Terminal",
	func(state clocksync.State, terminal bool) {
		Expect(state.Terminal()).To(Equal(terminal))
	},
	Entry("idle", clocksync.StateIdle, false),
	Entry("connecting", clocksync.StateConnecting, false),
	Entry("connected", clocksync.StateConnected, false),
	Entry("writing time", clocksync.StateWritingTime, false),
	Entry("writing clock mode", clocksync.StateWritingClockMode, false),
	Entry("completed", clocksync.StateCompleted, true),
	Entry("failed", clocksync.StateFailed, true),
)
