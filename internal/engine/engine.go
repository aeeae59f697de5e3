// Package engine runs the request lifecycle: submitted work moves through
// pending, processing and a terminal completed or error state, with waiters
// notified exactly once on settlement.
package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/nebulaforge/forge/internal/concurrency"
	"github.com/nebulaforge/forge/internal/config"
	errs "github.com/nebulaforge/forge/internal/errors"
	"github.com/nebulaforge/forge/internal/eventlog"
	"github.com/nebulaforge/forge/internal/observe"

	"github.com/oklog/ulid/v2"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// statusRank orders the machine; transitions may only move to a higher rank.
func statusRank(s Status) int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusError:
		return 2
	default:
		return -1
	}
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

const (
	// ErrDetail kinds.
	KindCapabilityNotFound = "CapabilityNotFound"
	KindSimulatedFailure   = "SimulatedFailure"
)

type ErrDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type Request struct {
	ID           string                 `json:"id"`
	CapabilityID string                 `json:"capability_id"`
	Action       string                 `json:"action"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
	Status       Status                 `json:"status"`
	Result       map[string]interface{} `json:"result,omitempty"`
	ErrDetail    *ErrDetail             `json:"err_detail,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	SettledAt    time.Time              `json:"settled_at,omitempty"`
}

// Result is what a waiter receives when a request settles.
type Result struct {
	RequestID string
	Status    Status
	Result    map[string]interface{}
	ErrDetail *ErrDetail
}

type State struct {
	Requests map[string]Request
	Order    []string // creation order, oldest first
}

// Catalog is the slice of the capability registry the engine consults.
type Catalog interface {
	Has(id string) bool
}

// Events is the slice of the event log the engine writes to.
type Events interface {
	Append(kind eventlog.Kind, content string) (string, error)
}

// Outcome decides how a processing request settles. A nil error means the
// returned map is the completed result.
type Outcome func(req Request) (map[string]interface{}, error)

// SimulatedOutcome fails a fraction of requests and fabricates a result for
// the rest.
func SimulatedOutcome(failureRate float64) Outcome {
	return func(req Request) (map[string]interface{}, error) {
		if rand.Float64() < failureRate {
			return nil, errs.Simulated("capability " + req.CapabilityID + " failed to process " + req.Action)
		}
		return map[string]interface{}{
			"capability": req.CapabilityID,
			"action":     req.Action,
			"status":     "ok",
		}, nil
	}
}

// Delay models processing latency before a request settles.
type Delay func() time.Duration

// RandomDelay returns a uniform duration in [min, max].
func RandomDelay(min, max time.Duration) Delay {
	return func() time.Duration {
		if max <= min {
			return min
		}
		return min + time.Duration(rand.Int63n(int64(max-min)))
	}
}

// NoDelay settles immediately.
func NoDelay() time.Duration { return 0 }

type Engine struct {
	state       *observe.Store[State]
	catalog     Catalog
	events      Events
	delay       Delay
	outcome     Outcome
	clock       func() time.Time
	maxRetained int

	waiterMu sync.Mutex
	waiters  map[string][]chan Result
}

type Option func(*Engine)

func WithDelay(delay Delay) Option {
	return func(e *Engine) { e.delay = delay }
}

func WithOutcome(outcome Outcome) Option {
	return func(e *Engine) { e.outcome = outcome }
}

func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

func New(catalog Catalog, events Events, cfg config.EngineConfig, opts ...Option) (*Engine, error) {
	min, err := config.DurationOrDefault(cfg.LatencyMin, config.DefaultEngineLatencyMin)
	if err != nil {
		return nil, err
	}
	max, err := config.DurationOrDefault(cfg.LatencyMax, config.DefaultEngineLatencyMax)
	if err != nil {
		return nil, err
	}

	failureRate := cfg.FailureRate
	if failureRate <= 0 {
		failureRate = config.DefaultEngineFailureRate
	}
	maxRetained := cfg.MaxRetained
	if maxRetained <= 0 {
		maxRetained = config.DefaultEngineMaxRetained
	}

	e := &Engine{
		state:       observe.New(State{Requests: map[string]Request{}}),
		catalog:     catalog,
		events:      events,
		delay:       RandomDelay(min, max),
		outcome:     SimulatedOutcome(failureRate),
		clock:       time.Now,
		maxRetained: maxRetained,
		waiters:     map[string][]chan Result{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Submit accepts work and returns its request id immediately. The request
// settles later on a background goroutine. An unknown capability still yields
// an id; its request settles with a CapabilityNotFound error detail.
func (e *Engine) Submit(capabilityID, action string, payload map[string]interface{}) (string, error) {
	if capabilityID == "" {
		return "", errs.Validation("capability id is required")
	}
	if action == "" {
		return "", errs.Validation("action is required")
	}

	req := Request{
		ID:           ulid.Make().String(),
		CapabilityID: capabilityID,
		Action:       action,
		Payload:      payload,
		Status:       StatusPending,
		CreatedAt:    e.clock().UTC(),
	}

	e.state.Mutate(func(s State) State {
		return s.withRequest(req)
	})

	e.transition(req.ID, StatusProcessing)

	concurrency.SafeGo(func() {
		e.process(req)
	}, func(interface{}) {
		e.settle(req.ID, nil, &ErrDetail{Kind: KindSimulatedFailure, Message: "processing panicked"})
	})

	return req.ID, nil
}

func (e *Engine) process(req Request) {
	if d := e.delay(); d > 0 {
		time.Sleep(d)
	}

	if e.catalog != nil && !e.catalog.Has(req.CapabilityID) {
		e.settle(req.ID, nil, &ErrDetail{
			Kind:    KindCapabilityNotFound,
			Message: "unknown capability: " + req.CapabilityID,
		})
		return
	}

	result, err := e.outcome(req)
	if err != nil {
		e.settle(req.ID, nil, &ErrDetail{Kind: KindSimulatedFailure, Message: err.Error()})
		return
	}
	e.settle(req.ID, result, nil)
}

// transition advances a request to the given status. Attempts to move
// backwards or out of a terminal state are dropped and escalated to the log.
func (e *Engine) transition(id string, to Status) {
	e.state.Mutate(func(s State) State {
		req, ok := s.Requests[id]
		if !ok {
			return s
		}
		if statusRank(to) <= statusRank(req.Status) {
			err := errs.InvalidTransition(fmt.Sprintf("request %s: %s -> %s", id, req.Status, to))
			slog.Error("Illegal request transition dropped", "request", id, "from", req.Status, "to", to, "error", err)
			return s
		}
		req.Status = to
		return s.withRequest(req)
	})
}

// settle moves a request to its terminal state, appends the event-log entry
// and releases waiters. A second settle attempt for the same request is a
// no-op.
func (e *Engine) settle(id string, result map[string]interface{}, detail *ErrDetail) {
	settled := false
	var terminal Request

	e.state.Mutate(func(s State) State {
		req, ok := s.Requests[id]
		if !ok || req.Status.Terminal() {
			if ok {
				err := errs.InvalidTransition(fmt.Sprintf("request %s already settled as %s", id, req.Status))
				slog.Error("Illegal request transition dropped", "request", id, "error", err)
			}
			return s
		}

		if detail != nil {
			req.Status = StatusError
			req.ErrDetail = detail
		} else {
			req.Status = StatusCompleted
			req.Result = result
		}
		req.SettledAt = e.clock().UTC()

		settled = true
		terminal = req
		return s.withRequest(req).evicted(e.maxRetained)
	})

	if !settled {
		return
	}

	e.appendTerminalEvent(terminal)

	e.waiterMu.Lock()
	pending := e.waiters[id]
	delete(e.waiters, id)
	e.waiterMu.Unlock()

	res := terminal.toResult()
	for _, ch := range pending {
		ch <- res
		close(ch)
	}
}

func (e *Engine) appendTerminalEvent(req Request) {
	if e.events == nil {
		return
	}

	var content string
	if req.Status == StatusCompleted {
		size := 0
		if data, err := json.Marshal(req.Result); err == nil {
			size = len(data)
		}
		content = fmt.Sprintf("%s completed (%d bytes)", req.Action, size)
	} else {
		content = fmt.Sprintf("%s failed: %s", req.Action, req.ErrDetail.Message)
	}

	if _, err := e.events.Append(eventlog.KindSystem, content); err != nil {
		slog.Error("Failed to record request settlement", "request", req.ID, "error", err)
	}
}

// OnSettled returns a channel that receives the request's terminal result
// exactly once and is then closed. Already settled requests resolve
// immediately with the stored result.
func (e *Engine) OnSettled(id string) (<-chan Result, error) {
	ch := make(chan Result, 1)

	e.waiterMu.Lock()
	defer e.waiterMu.Unlock()

	// Check under the waiter lock so a settlement between the snapshot and
	// registration cannot strand the waiter.
	req, ok := e.Get(id)
	if !ok {
		return nil, errs.NotFound("request not found: " + id)
	}
	if req.Status.Terminal() {
		ch <- req.toResult()
		close(ch)
		return ch, nil
	}

	e.waiters[id] = append(e.waiters[id], ch)
	return ch, nil
}

// Await blocks until the request settles.
func (e *Engine) Await(id string) (Result, error) {
	ch, err := e.OnSettled(id)
	if err != nil {
		return Result{}, err
	}
	return <-ch, nil
}

// Get returns a request snapshot by id.
func (e *Engine) Get(id string) (Request, bool) {
	req, ok := e.state.Get().Requests[id]
	return req, ok
}

// List returns all retained requests in creation order.
func (e *Engine) List() []Request {
	s := e.state.Get()
	out := make([]Request, 0, len(s.Order))
	for _, id := range s.Order {
		if req, ok := s.Requests[id]; ok {
			out = append(out, req)
		}
	}
	return out
}

// Subscribe registers a callback for request state changes.
func (e *Engine) Subscribe(fn func(State)) func() {
	return e.state.Subscribe(fn)
}

func (req Request) toResult() Result {
	return Result{
		RequestID: req.ID,
		Status:    req.Status,
		Result:    req.Result,
		ErrDetail: req.ErrDetail,
	}
}

// withRequest returns a state copy with the request upserted.
func (s State) withRequest(req Request) State {
	requests := make(map[string]Request, len(s.Requests)+1)
	for k, v := range s.Requests {
		requests[k] = v
	}
	_, existed := s.Requests[req.ID]
	requests[req.ID] = req

	order := s.Order
	if !existed {
		order = make([]string, len(s.Order), len(s.Order)+1)
		copy(order, s.Order)
		order = append(order, req.ID)
	}
	return State{Requests: requests, Order: order}
}

// evicted drops the oldest terminal requests until the retained count fits
// the limit. Non-terminal requests are never evicted.
func (s State) evicted(limit int) State {
	if limit <= 0 || len(s.Order) <= limit {
		return s
	}

	requests := make(map[string]Request, len(s.Requests))
	for k, v := range s.Requests {
		requests[k] = v
	}

	excess := len(s.Order) - limit
	order := make([]string, 0, len(s.Order))
	for _, id := range s.Order {
		req, ok := requests[id]
		if excess > 0 && ok && req.Status.Terminal() {
			delete(requests, id)
			excess--
			continue
		}
		order = append(order, id)
	}
	return State{Requests: requests, Order: order}
}
