package report_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/jarcoal/httpmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/lywsd02/clock-sync/mocks"
	"github.com/lywsd02/clock-sync/pkg/cache"
	"github.com/lywsd02/clock-sync/pkg/clocksync"
	"github.com/lywsd02/clock-sync/pkg/connector/inet"
	"github.com/lywsd02/clock-sync/pkg/report"
)

const (
	address = "A4:C1:38:00:11:22"
	haURL   = "http://homeassistant.local:8123"
)

func successOutcome() *clocksync.Outcome {
	return &clocksync.Outcome{
		Address:        address,
		Success:        true,
		Timestamp:      1700003600,
		TimezoneOffset: 1,
		Applied:        []string{"time"},
	}
}

func failedOutcome(applied ...string) *clocksync.Outcome {
	return &clocksync.Outcome{
		Address:   address,
		Applied:   applied,
		Failed:    "clock mode",
		ErrorKind: "WriteError",
		Error:     "att: write rejected",
	}
}

var _ = Describe("Notification", func() {
	It("uses one id per device and status", func() {
		Expect(report.NotificationID(address, true)).To(Equal("lywsd02_A4:C1:38:00:11:22"))
		Expect(report.NotificationID(address, false)).To(Equal("lywsd02_A4:C1:38:00:11:22_error"))
	})

	It("describes successes", func() {
		n := report.NewNotification(successOutcome())
		Expect(n.Title).To(Equal(report.SuccessTitle))
		Expect(n.Message).To(ContainSubstring("MAC: " + address))
		Expect(n.Message).To(ContainSubstring("Timestamp: 1700003600"))
		Expect(n.Message).To(ContainSubstring("Offset: 1h"))
	})

	It("describes failures and partial applies", func() {
		n := report.NewNotification(failedOutcome("time", "temperature mode"))
		Expect(n.Title).To(Equal(report.ErrorTitle))
		Expect(n.Message).To(ContainSubstring("Error: WriteError: att: write rejected"))
		Expect(n.Message).To(ContainSubstring("Applied before failure: time, temperature mode"))

		Expect(report.NewNotification(failedOutcome()).Message).NotTo(ContainSubstring("Applied"))
	})
})

var _ = Describe("HomeAssistant", func() {
	var reporter *report.HomeAssistant

	BeforeEach(func() {
		httpmock.Activate()
		DeferCleanup(httpmock.DeactivateAndReset)
		reporter = report.NewHomeAssistant(inet.NewClient(haURL, "token", "test", nil, nil), nil)
	})

	It("creates a persistent notification", func() {
		var received report.Notification
		httpmock.RegisterResponder(http.MethodPost, haURL+"/api/services/persistent_notification/create", func(r *http.Request) (*http.Response, error) {
			Expect(r.Header.Get("Authorization")).To(Equal("Bearer token"))
			Expect(json.NewDecoder(r.Body).Decode(&received)).To(Succeed())
			return httpmock.NewJsonResponse(http.StatusOK, []interface{}{})
		})

		Expect(reporter.Report(context.Background(), failedOutcome("time"))).To(Succeed())
		Expect(received.ID).To(Equal("lywsd02_A4:C1:38:00:11:22_error"))
		Expect(received.Title).To(Equal(report.ErrorTitle))
		Expect(httpmock.GetTotalCallCount()).To(Equal(1))
	})

	It("clears the error notification after a success", func() {
		var created report.Notification
		var dismissed map[string]string
		httpmock.RegisterResponder(http.MethodPost, haURL+"/api/services/persistent_notification/create", func(r *http.Request) (*http.Response, error) {
			Expect(json.NewDecoder(r.Body).Decode(&created)).To(Succeed())
			return httpmock.NewJsonResponse(http.StatusOK, []interface{}{})
		})
		httpmock.RegisterResponder(http.MethodPost, haURL+"/api/services/persistent_notification/dismiss", func(r *http.Request) (*http.Response, error) {
			Expect(json.NewDecoder(r.Body).Decode(&dismissed)).To(Succeed())
			return httpmock.NewJsonResponse(http.StatusOK, []interface{}{})
		})

		Expect(reporter.Report(context.Background(), successOutcome())).To(Succeed())
		Expect(created.ID).To(Equal("lywsd02_A4:C1:38:00:11:22"))
		Expect(dismissed).To(HaveKeyWithValue("notification_id", "lywsd02_A4:C1:38:00:11:22_error"))
		Expect(httpmock.GetTotalCallCount()).To(Equal(2))
	})

	It("still succeeds when the stale error notification cannot be dismissed", func() {
		httpmock.RegisterResponder(http.MethodPost, haURL+"/api/services/persistent_notification/create",
			httpmock.NewStringResponder(http.StatusOK, "[]"))
		httpmock.RegisterResponder(http.MethodPost, haURL+"/api/services/persistent_notification/dismiss",
			httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))

		Expect(reporter.Report(context.Background(), successOutcome())).To(Succeed())
	})

	It("returns HTTP errors", func() {
		httpmock.RegisterResponder(http.MethodPost, haURL+"/api/services/persistent_notification/create",
			httpmock.NewStringResponder(http.StatusUnauthorized, "401: Unauthorized"))

		err := reporter.Report(context.Background(), successOutcome())
		Expect(inet.IsUnauthorized(err)).To(BeTrue())
		Expect(httpmock.GetCallCountInfo()["POST "+haURL+"/api/services/persistent_notification/dismiss"]).To(BeZero())
	})

	It("dismisses notifications", func() {
		httpmock.RegisterResponder(http.MethodPost, haURL+"/api/services/persistent_notification/dismiss", func(r *http.Request) (*http.Response, error) {
			var body map[string]string
			Expect(json.NewDecoder(r.Body).Decode(&body)).To(Succeed())
			Expect(body).To(HaveKeyWithValue("notification_id", "lywsd02_A4:C1:38:00:11:22_error"))
			return httpmock.NewJsonResponse(http.StatusOK, []interface{}{})
		})
		Expect(reporter.Dismiss(context.Background(), address, false)).To(Succeed())
	})
})

var _ = Describe("Console", func() {
	var (
		out      bytes.Buffer
		console  *report.Console
		noColors bool
	)

	BeforeEach(func() {
		noColors = color.NoColor
		color.NoColor = true
		DeferCleanup(func() { color.NoColor = noColors })
		out.Reset()
		console = report.NewConsole(&out)
	})

	It("prints outcomes", func() {
		Expect(console.Report(context.Background(), successOutcome())).To(Succeed())
		Expect(out.String()).To(HavePrefix(report.SuccessTitle + "\n  Time synchronized successfully!"))
	})

	It("suppresses repeated successes", func() {
		Expect(console.Report(context.Background(), successOutcome())).To(Succeed())
		Expect(console.Report(context.Background(), successOutcome())).To(Succeed())
		Expect(bytes.Count(out.Bytes(), []byte(report.SuccessTitle))).To(Equal(1))

		Expect(console.Report(context.Background(), failedOutcome())).To(Succeed())
		changed := successOutcome()
		changed.Timestamp++
		Expect(console.Report(context.Background(), changed)).To(Succeed())
		Expect(bytes.Count(out.Bytes(), []byte(report.SuccessTitle))).To(Equal(2))
		Expect(bytes.Count(out.Bytes(), []byte(report.ErrorTitle))).To(Equal(1))
	})

	It("prints every failure", func() {
		Expect(console.Report(context.Background(), failedOutcome())).To(Succeed())
		Expect(console.Report(context.Background(), failedOutcome())).To(Succeed())
		Expect(bytes.Count(out.Bytes(), []byte(report.ErrorTitle))).To(Equal(2))
	})
})

var _ = Describe("History", func() {
	It("persists outcomes", func() {
		filename := filepath.Join(GinkgoT().TempDir(), "history.json")
		history := report.NewHistory(filename, 0)
		Expect(history.Report(context.Background(), successOutcome())).To(Succeed())

		restored, err := cache.ImportFromFile(filename)
		Expect(err).NotTo(HaveOccurred())
		last, ok := restored.Last(address)
		Expect(ok).To(BeTrue())
		Expect(last.Timestamp).To(Equal(int64(1700003600)))

		Expect(report.NewHistory(filename, 0).Cache.History(address)).To(HaveLen(1))
	})

	It("keeps history in memory without a file", func() {
		history := report.NewHistory("", 0)
		Expect(history.Report(context.Background(), failedOutcome())).To(Succeed())
		_, ok := history.Cache.LastSuccess(address)
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("Multi", func() {
	It("forwards to every reporter and joins errors", func() {
		ctrl := gomock.NewController(GinkgoT())
		first := mocks.NewReporter(ctrl)
		second := mocks.NewReporter(ctrl)
		outcome := successOutcome()
		failure := errors.New("unreachable")

		gomock.InOrder(
			first.EXPECT().Report(gomock.Any(), outcome).Return(failure),
			second.EXPECT().Report(gomock.Any(), outcome).Return(nil),
		)
		err := report.Multi{first, second}.Report(context.Background(), outcome)
		Expect(err).To(MatchError(failure))
	})
})
