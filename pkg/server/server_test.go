package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/lywsd02/clock-sync/mocks"
	"github.com/lywsd02/clock-sync/pkg/cache"
	"github.com/lywsd02/clock-sync/pkg/clocksync"
	"github.com/lywsd02/clock-sync/pkg/payload"
	"github.com/lywsd02/clock-sync/pkg/protocol"
	"github.com/lywsd02/clock-sync/pkg/server"
)

const address = "A4:C1:38:00:11:22"

type reply struct {
	Response   json.RawMessage `json:"response"`
	Error      string          `json:"error"`
	ErrDetails string          `json:"error_description"`
}

func decode(rr *httptest.ResponseRecorder) reply {
	var r reply
	Expect(json.Unmarshal(rr.Body.Bytes(), &r)).To(Succeed())
	return r
}

var _ = Describe("Server", func() {
	var (
		ctrl    *gomock.Controller
		syncer  *mocks.Syncer
		history *cache.OutcomeCache
		s       *server.Server
	)

	sendRequest := func(method, path string, body []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewReader(body))
		rr := httptest.NewRecorder()
		s.ServeHTTP(rr, req)
		return rr
	}

	outcomeFor := func(req *clocksync.Request, err error) *clocksync.Outcome {
		return &clocksync.Outcome{Address: req.Address, Success: err == nil, TimezoneOffset: req.TimezoneOffsetHours}
	}

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		DeferCleanup(ctrl.Finish)
		syncer = mocks.NewSyncer(ctrl)
		history = cache.New(10)
		s = server.New(syncer, history, nil)
	})

	Describe("set_time", func() {
		It("applies server defaults when the body is empty", func() {
			s.Defaults = server.Defaults{TimezoneOffsetHours: 3, ClockMode: payload.Hour24}
			syncer.EXPECT().SetTime(gomock.Any(), gomock.Any()).DoAndReturn(
				func(_ context.Context, req *clocksync.Request) (*clocksync.Outcome, error) {
					Expect(req.Address).To(Equal(address))
					Expect(req.TimezoneOffsetHours).To(Equal(3))
					Expect(req.ClockMode).To(Equal(payload.Hour24))
					Expect(req.TemperatureMode).To(Equal(payload.TemperatureUnset))
					Expect(req.TimestampOverride).To(BeNil())
					return outcomeFor(req, nil), nil
				})

			rr := sendRequest(http.MethodPost, "/api/1/devices/a4:c1:38:00:11:22/set_time", nil)
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(rr.Header().Get("Content-Type")).To(Equal("application/json"))
			r := decode(rr)
			Expect(r.Error).To(BeEmpty())

			var outcome clocksync.Outcome
			Expect(json.Unmarshal(r.Response, &outcome)).To(Succeed())
			Expect(outcome.Success).To(BeTrue())
			Expect(outcome.TimezoneOffset).To(Equal(3))
		})

		It("reads parameters from the body", func() {
			syncer.EXPECT().SetTime(gomock.Any(), gomock.Any()).DoAndReturn(
				func(_ context.Context, req *clocksync.Request) (*clocksync.Outcome, error) {
					Expect(req.TimezoneOffsetHours).To(Equal(-5))
					Expect(req.TemperatureMode).To(Equal(payload.Fahrenheit))
					Expect(req.ClockMode).To(Equal(payload.Hour12))
					Expect(*req.TimestampOverride).To(Equal(int64(1700000000)))
					Expect(req.ConnectTimeout).To(Equal(30 * time.Second))
					return outcomeFor(req, nil), nil
				})

			body := []byte(`{"tz_offset": -5, "temp_mode": "f", "clock_mode": 12, "timestamp": 1700000000, "timeout": 30}`)
			rr := sendRequest(http.MethodPost, "/api/1/devices/"+address+"/set_time", body)
			Expect(rr.Code).To(Equal(http.StatusOK))
		})

		It("rejects malformed bodies", func() {
			rr := sendRequest(http.MethodPost, "/api/1/devices/"+address+"/set_time", []byte("{"))
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
			Expect(decode(rr).Error).To(ContainSubstring("parsing request parameters"))
		})

		It("ignores unknown display modes and still syncs", func() {
			s.Defaults = server.Defaults{TemperatureMode: payload.Celsius, ClockMode: payload.Hour24}
			syncer.EXPECT().SetTime(gomock.Any(), gomock.Any()).DoAndReturn(
				func(_ context.Context, req *clocksync.Request) (*clocksync.Outcome, error) {
					Expect(req.ClockMode).To(Equal(payload.ClockUnset))
					Expect(req.TemperatureMode).To(Equal(payload.TemperatureUnset))
					return outcomeFor(req, nil), nil
				})

			rr := sendRequest(http.MethodPost, "/api/1/devices/"+address+"/set_time", []byte(`{"clock_mode": 13, "temp_mode": "K"}`))
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(decode(rr).Error).To(BeEmpty())
		})

		It("reads the timeout as whole seconds", func() {
			syncer.EXPECT().SetTime(gomock.Any(), gomock.Any()).DoAndReturn(
				func(_ context.Context, req *clocksync.Request) (*clocksync.Outcome, error) {
					Expect(req.ConnectTimeout).To(Equal(60 * time.Second))
					return outcomeFor(req, nil), nil
				})
			rr := sendRequest(http.MethodPost, "/api/1/devices/"+address+"/set_time", []byte(`{"timeout": 60}`))
			Expect(rr.Code).To(Equal(http.StatusOK))
		})

		DescribeTable("rejects invalid timeouts",
			func(body string) {
				rr := sendRequest(http.MethodPost, "/api/1/devices/"+address+"/set_time", []byte(body))
				Expect(rr.Code).To(Equal(http.StatusBadRequest))
			},
			Entry("duration string", `{"timeout": "30s"}`),
			Entry("zero", `{"timeout": 0}`),
			Entry("negative", `{"timeout": -5}`),
		)

		It("rejects oversized bodies", func() {
			body := bytes.Repeat([]byte(" "), 1024)
			rr := sendRequest(http.MethodPost, "/api/1/devices/"+address+"/set_time", body)
			Expect(rr.Code).To(Equal(http.StatusRequestEntityTooLarge))
		})

		It("requires POST", func() {
			rr := sendRequest(http.MethodGet, "/api/1/devices/"+address+"/set_time", nil)
			Expect(rr.Code).To(Equal(http.StatusMethodNotAllowed))
		})

		It("reports partial applies with the outcome", func() {
			writeErr := &protocol.WriteError{
				Address: address,
				Step:    payload.KindClockMode,
				Applied: []payload.Kind{payload.KindTime},
				Err:     errors.New("att: write rejected"),
			}
			syncer.EXPECT().SetTime(gomock.Any(), gomock.Any()).DoAndReturn(
				func(_ context.Context, req *clocksync.Request) (*clocksync.Outcome, error) {
					o := outcomeFor(req, writeErr)
					o.Applied = []string{"time"}
					o.Failed = "clock mode"
					return o, writeErr
				})

			rr := sendRequest(http.MethodPost, "/api/1/devices/"+address+"/set_time", nil)
			Expect(rr.Code).To(Equal(http.StatusBadGateway))
			r := decode(rr)
			Expect(r.Error).To(Equal("WriteError"))
			Expect(r.ErrDetails).To(ContainSubstring("already applied: time"))

			var outcome clocksync.Outcome
			Expect(json.Unmarshal(r.Response, &outcome)).To(Succeed())
			Expect(outcome.Partial()).To(BeTrue())
		})

		It("serializes requests for one address", func() {
			var active, peak int32
			syncer.EXPECT().SetTime(gomock.Any(), gomock.Any()).Times(3).DoAndReturn(
				func(_ context.Context, req *clocksync.Request) (*clocksync.Outcome, error) {
					n := atomic.AddInt32(&active, 1)
					for {
						p := atomic.LoadInt32(&peak)
						if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
							break
						}
					}
					time.Sleep(5 * time.Millisecond)
					atomic.AddInt32(&active, -1)
					return outcomeFor(req, nil), nil
				})

			var wg sync.WaitGroup
			for i := 0; i < 3; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					rr := sendRequest(http.MethodPost, "/api/1/devices/"+address+"/set_time", nil)
					Expect(rr.Code).To(Equal(http.StatusOK))
				}()
			}
			wg.Wait()
			Expect(atomic.LoadInt32(&peak)).To(Equal(int32(1)))
		})

		It("gives up waiting for a busy address", func() {
			s.Timeout = 20 * time.Millisecond
			release := make(chan struct{})
			started := make(chan struct{})
			syncer.EXPECT().SetTime(gomock.Any(), gomock.Any()).DoAndReturn(
				func(_ context.Context, req *clocksync.Request) (*clocksync.Outcome, error) {
					close(started)
					<-release
					return outcomeFor(req, nil), nil
				})

			done := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				defer close(done)
				sendRequest(http.MethodPost, "/api/1/devices/"+address+"/set_time", nil)
			}()
			<-started

			rr := sendRequest(http.MethodPost, "/api/1/devices/"+address+"/set_time", nil)
			Expect(rr.Code).To(Equal(http.StatusServiceUnavailable))
			close(release)
			<-done
		})
	})

	Describe("history", func() {
		BeforeEach(func() {
			now := time.Now()
			history.Add(&clocksync.Outcome{Address: address, Success: true, Timestamp: 100, Finished: now.Add(-time.Minute)})
			history.Add(&clocksync.Outcome{Address: address, Success: false, Error: "boom", Finished: now})
		})

		It("returns the last successful sync", func() {
			rr := sendRequest(http.MethodGet, "/api/1/devices/"+address+"/last_sync", nil)
			Expect(rr.Code).To(Equal(http.StatusOK))
			var outcome clocksync.Outcome
			Expect(json.Unmarshal(decode(rr).Response, &outcome)).To(Succeed())
			Expect(outcome.Success).To(BeTrue())
			Expect(outcome.Timestamp).To(Equal(int64(100)))
		})

		It("returns every recorded outcome", func() {
			rr := sendRequest(http.MethodGet, "/api/1/devices/"+address+"/history", nil)
			Expect(rr.Code).To(Equal(http.StatusOK))
			var outcomes []clocksync.Outcome
			Expect(json.Unmarshal(decode(rr).Response, &outcomes)).To(Succeed())
			Expect(outcomes).To(HaveLen(2))
		})

		It("lists known devices", func() {
			rr := sendRequest(http.MethodGet, "/api/1/devices", nil)
			Expect(rr.Code).To(Equal(http.StatusOK))
			var addresses []string
			Expect(json.Unmarshal(decode(rr).Response, &addresses)).To(Succeed())
			Expect(addresses).To(ConsistOf(address))
		})

		It("returns 404 for unknown devices", func() {
			rr := sendRequest(http.MethodGet, "/api/1/devices/A4:C1:38:FF:FF:FF/last_sync", nil)
			Expect(rr.Code).To(Equal(http.StatusNotFound))
		})

		It("returns 404 when history is disabled", func() {
			s = server.New(syncer, nil, nil)
			rr := sendRequest(http.MethodGet, "/api/1/devices/"+address+"/last_sync", nil)
			Expect(rr.Code).To(Equal(http.StatusNotFound))
		})
	})

	It("returns 404 for unknown paths", func() {
		Expect(sendRequest(http.MethodGet, "/api/1/thermostats", nil).Code).To(Equal(http.StatusNotFound))
		Expect(sendRequest(http.MethodGet, "/api/1/devices/"+address+"/reboot", nil).Code).To(Equal(http.StatusNotFound))
	})
})

var _ = DescribeTable("StatusCode",
	func(err error, code int) {
		Expect(server.StatusCode(err)).To(Equal(code))
	},
	Entry("success", nil, http.StatusOK),
	Entry("missing address", protocol.ErrMissingAddress, http.StatusBadRequest),
	Entry("invalid request", protocol.ErrInvalidRequest, http.StatusBadRequest),
	Entry("not found", protocol.ErrDeviceNotFound, http.StatusNotFound),
	Entry("connection refused", &protocol.ConnectionError{Address: address, Attempts: 4, Err: errors.New("refused")}, http.StatusServiceUnavailable),
	Entry("connection timeout", &protocol.ConnectionError{Address: address, Attempts: 2, Err: context.DeadlineExceeded}, http.StatusGatewayTimeout),
	Entry("write", &protocol.WriteError{Address: address, Step: payload.KindTime, Err: errors.New("rejected")}, http.StatusBadGateway),
	Entry("unknown", errors.New("surprise"), http.StatusInternalServerError),
)
