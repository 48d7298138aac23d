package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lywsd02/clock-sync/internal/log"
	"github.com/lywsd02/clock-sync/pkg/cache"
	"github.com/lywsd02/clock-sync/pkg/clocksync"
	"github.com/lywsd02/clock-sync/pkg/connector/ble"
	"github.com/lywsd02/clock-sync/pkg/connector/inet"
	"github.com/lywsd02/clock-sync/pkg/payload"
	"github.com/lywsd02/clock-sync/pkg/protocol"
)

const (
	DefaultTimeout      = clocksync.DefaultConnectTimeout + 4*clocksync.DefaultCommandTimeout
	maxRequestBodyBytes = 512
	devicesPath         = "/api/1/devices"
)

//go:generate mockgen -package mocks -destination ../../mocks/server.go -mock_names Syncer=Syncer github.com/lywsd02/clock-sync/pkg/server Syncer

// Syncer runs sync operations. *clocksync.Sequencer implements Syncer.
type Syncer interface {
	SetTime(ctx context.Context, req *clocksync.Request) (*clocksync.Outcome, error)
}

// Defaults are applied to set_time requests that omit a field.
type Defaults struct {
	TimezoneOffsetHours int
	TemperatureMode     payload.TemperatureMode
	ClockMode           payload.ClockMode
	ConnectTimeout      time.Duration
	CommandTimeout      time.Duration
	Location            *time.Location
}

// Server exposes an HTTP API for sync operations.
type Server struct {
	// Timeout bounds each set_time request, including time spent waiting for another request to
	// the same address.
	Timeout  time.Duration
	Defaults Defaults

	syncer      Syncer
	history     *cache.OutcomeCache
	logger      log.Logger
	router      *chi.Mux
	addressLock sync.Map
}

// New creates a server. history may be nil, in which case the read-only endpoints return 404.
func New(syncer Syncer, history *cache.OutcomeCache, logger log.Logger) *Server {
	s := &Server{
		Timeout: DefaultTimeout,
		syncer:  syncer,
		history: history,
		logger:  log.OrDiscard(logger),
		router:  chi.NewMux(),
	}
	s.router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSONError(w, http.StatusNotFound, nil)
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSONError(w, http.StatusMethodNotAllowed, nil)
	})
	s.router.Get(devicesPath, s.handleDevices)
	s.router.Route(devicesPath+"/{address}", func(r chi.Router) {
		r.Post("/set_time", s.handleSetTime)
		r.Get("/last_sync", s.handleLastSync)
		r.Get("/history", s.handleHistory)
	})
	return s
}

// lockAddress locks an address-specific mutex, blocking until the operation succeeds or ctx
// expires.
func (s *Server) lockAddress(ctx context.Context, address string) error {
	lock := make(chan bool, 1)
	for {
		if obj, loaded := s.addressLock.LoadOrStore(address, lock); loaded {
			select {
			case <-obj.(chan bool):
				// Waking up does not confer ownership; loop and race for the entry again.
			case <-ctx.Done():
				return ctx.Err()
			}
		} else {
			return nil
		}
	}
}

func (s *Server) unlockAddress(address string) {
	obj, ok := s.addressLock.Load(address)
	if !ok {
		panic("called unlock without owning mutex")
	}
	s.addressLock.Delete(address)
	close(obj.(chan bool))
}

// Response contains a server's response to a client request.
type Response struct {
	Response   interface{} `json:"response"`
	Error      string      `json:"error,omitempty"`
	ErrDetails string      `json:"error_description,omitempty"`
}

// SetTimeParameters is the optional JSON body of a set_time request.
type SetTimeParameters struct {
	TimezoneOffset  *int   `json:"tz_offset"`
	TemperatureMode string `json:"temp_mode"`
	ClockMode       int    `json:"clock_mode"`
	Timestamp       *int64 `json:"timestamp"`
	// Timeout is the connect timeout in seconds.
	Timeout *int `json:"timeout"`
}

// StatusCode maps a sync error to an HTTP status.
func StatusCode(err error) int {
	switch protocol.KindOf(err) {
	case protocol.KindNone:
		return http.StatusOK
	case protocol.KindMissingAddress, protocol.KindInvalidRequest:
		return http.StatusBadRequest
	case protocol.KindDeviceNotFound:
		return http.StatusNotFound
	case protocol.KindConnection:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	case protocol.KindWrite:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, reply *Response) {
	jsonBytes, err := json.Marshal(reply)
	if err != nil {
		s.logger.Error("Error serializing reply %+v: %s", reply, err)
		code = http.StatusInternalServerError
		jsonBytes = []byte("{\"error\": \"internal server error\"}")
	}
	if code != http.StatusOK {
		s.logger.Warning("Returning error %s", http.StatusText(code))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	jsonBytes = append(jsonBytes, '\n')
	w.Write(jsonBytes)
}

func (s *Server) writeJSONError(w http.ResponseWriter, code int, err error) {
	reply := Response{}
	var httpErr *inet.HttpError
	if errors.As(err, &httpErr) {
		code = httpErr.Code
		reply.Error = httpErr.Message
	} else if err == nil {
		reply.Error = http.StatusText(code)
	} else {
		reply.Error = err.Error()
	}
	s.writeJSON(w, code, &reply)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.logger.Info("Received %s request for %s", req.Method, req.URL.Path)
	s.router.ServeHTTP(w, req)
}

func addressParam(req *http.Request) string {
	return ble.NormalizeAddress(chi.URLParam(req, "address"))
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	addresses := []string{}
	if s.history != nil {
		addresses = append(addresses, s.history.Addresses()...)
	}
	s.writeJSON(w, http.StatusOK, &Response{Response: addresses})
}

func (s *Server) handleLastSync(w http.ResponseWriter, req *http.Request) {
	address := addressParam(req)
	if s.history == nil {
		s.writeJSONError(w, http.StatusNotFound, errors.New("history is disabled"))
		return
	}
	outcome, ok := s.history.LastSuccess(address)
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, fmt.Errorf("no successful sync recorded for '%s'", address))
		return
	}
	s.writeJSON(w, http.StatusOK, &Response{Response: outcome})
}

func (s *Server) handleHistory(w http.ResponseWriter, req *http.Request) {
	address := addressParam(req)
	if s.history == nil {
		s.writeJSONError(w, http.StatusNotFound, errors.New("history is disabled"))
		return
	}
	outcomes := s.history.History(address)
	if len(outcomes) == 0 {
		s.writeJSONError(w, http.StatusNotFound, fmt.Errorf("no history for '%s'", address))
		return
	}
	s.writeJSON(w, http.StatusOK, &Response{Response: outcomes})
}

func (s *Server) handleSetTime(w http.ResponseWriter, req *http.Request) {
	request, err := s.parseSetTime(req, addressParam(req))
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), s.Timeout)
	defer cancel()

	// The device accepts a single connection, so operations on one address are serialized.
	if err := s.lockAddress(ctx, request.Address); err != nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, err)
		return
	}
	defer s.unlockAddress(request.Address)

	s.logger.Debug("Executing set_time on %s", request.Address)
	outcome, err := s.syncer.SetTime(ctx, request)
	reply := &Response{Response: outcome}
	if err != nil {
		reply.Error = protocol.KindOf(err).String()
		reply.ErrDetails = err.Error()
	}
	s.writeJSON(w, StatusCode(err), reply)
}

func (s *Server) parseSetTime(req *http.Request, address string) (*clocksync.Request, error) {
	request := &clocksync.Request{
		Address:             address,
		TimezoneOffsetHours: s.Defaults.TimezoneOffsetHours,
		TemperatureMode:     s.Defaults.TemperatureMode,
		ClockMode:           s.Defaults.ClockMode,
		ConnectTimeout:      s.Defaults.ConnectTimeout,
		CommandTimeout:      s.Defaults.CommandTimeout,
		Location:            s.Defaults.Location,
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, maxRequestBodyBytes+1))
	if err != nil {
		return nil, &inet.HttpError{Code: http.StatusBadRequest, Message: "could not read request body"}
	}
	if len(body) > maxRequestBodyBytes {
		return nil, &inet.HttpError{Code: http.StatusRequestEntityTooLarge, Message: "request body too large"}
	}
	if len(body) == 0 {
		return request, nil
	}

	var params SetTimeParameters
	if err := json.Unmarshal(body, &params); err != nil {
		return nil, &inet.HttpError{Code: http.StatusBadRequest, Message: "error occurred while parsing request parameters"}
	}
	if params.TimezoneOffset != nil {
		request.TimezoneOffsetHours = *params.TimezoneOffset
	}
	if params.TemperatureMode != "" {
		if mode := payload.ParseTemperatureMode(params.TemperatureMode); mode != payload.TemperatureUnset {
			request.TemperatureMode = mode
		} else {
			s.logger.Warning("Ignoring unknown temp_mode %q; temperature unit will not be changed", params.TemperatureMode)
			request.TemperatureMode = payload.TemperatureUnset
		}
	}
	if params.ClockMode != 0 {
		if mode := payload.ClockModeFromHours(params.ClockMode); mode != payload.ClockUnset {
			request.ClockMode = mode
		} else {
			s.logger.Warning("Ignoring unknown clock_mode %d; clock mode will not be changed", params.ClockMode)
			request.ClockMode = payload.ClockUnset
		}
	}
	request.TimestampOverride = params.Timestamp
	if params.Timeout != nil {
		if *params.Timeout <= 0 {
			return nil, fmt.Errorf("%w: timeout must be a positive number of seconds", protocol.ErrInvalidRequest)
		}
		request.ConnectTimeout = time.Duration(*params.Timeout) * time.Second
	}
	return request, nil
}
