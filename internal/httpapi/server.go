// Package httpapi serves one stepping engine over HTTP for browser
// visualizers. Mutations are POST requests; every successful mutation is
// also pushed, with the new snapshot, to websocket subscribers.
//
// Routes:
//
//	GET  /api/rules           rule list
//	GET  /api/graph           class id -> node hash -> node
//	GET  /api/snapshot        ordered snapshot
//	GET  /api/extract?class=  cheapest term of the root or of one class
//	GET  /api/history         strategies applied so far
//	POST /api/step            {"rule": "add_comm"}; no rule fires all rules
//	POST /api/saturate        {"max_steps": 30}
//	POST /api/back
//	POST /api/reset
//	GET  /api/ws              websocket event stream
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/gitrdm/eggstep/pkg/egraph"
)

// Event is one websocket message.
type Event struct {
	Type      string             `json:"type"`
	Iteration int                `json:"iteration"`
	Report    *egraph.StepReport `json:"report,omitempty"`
	Snapshot  *egraph.Snapshot   `json:"snapshot"`
}

// Event types.
const (
	EventHello = "hello"
	EventStep  = "step"
	EventBack  = "back"
	EventReset = "reset"
)

const subscriberBuffer = 16

// statusClientClosedRequest is the nginx convention for a request whose
// client went away before the answer was ready.
const statusClientClosedRequest = 499

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

// Server wraps an engine. Engines are single-threaded, so handlers hold mu
// for the whole engine call.
type Server struct {
	logger *slog.Logger

	mu     sync.Mutex
	engine *egraph.Engine

	subMu       sync.Mutex
	subscribers map[chan Event]struct{}
}

// NewServer creates a server for e. A nil logger uses slog.Default.
func NewServer(e *egraph.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger:      logger.With(slog.String("component", "httpapi")),
		engine:      e,
		subscribers: make(map[chan Event]struct{}),
	}
}

// Router returns a gin engine with every route registered. Callers may add
// their own routes, such as /metrics.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	api := router.Group("/api")
	api.GET("/rules", s.handleRules)
	api.GET("/graph", s.handleGraph)
	api.GET("/snapshot", s.handleSnapshot)
	api.GET("/extract", s.handleExtract)
	api.GET("/history", s.handleHistory)
	api.POST("/step", s.handleStep)
	api.POST("/saturate", s.handleSaturate)
	api.POST("/back", s.handleBack)
	api.POST("/reset", s.handleReset)
	api.GET("/ws", s.handleWebSocket)
	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
}

// status maps engine errors to HTTP status codes.
func status(err error) int {
	var cfg *egraph.ConfigurationError
	var inv *egraph.InvariantError
	var st *egraph.StructuralError
	switch {
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &cfg):
		return http.StatusBadRequest
	case errors.Is(err, egraph.ErrNoHistory):
		return http.StatusConflict
	case errors.As(err, &inv) && errors.Is(err, egraph.ErrUnknownClass):
		return http.StatusNotFound
	case errors.As(err, &st):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func abort(c *gin.Context, err error) {
	c.JSON(status(err), gin.H{"error": err.Error()})
}

// --- Read handlers ---

type ruleView struct {
	Label egraph.RuleLabel `json:"label"`
	Left  string           `json:"left"`
	Right string           `json:"right"`
}

func (s *Server) handleRules(c *gin.Context) {
	s.mu.Lock()
	rules := s.engine.Rules().Rules()
	s.mu.Unlock()

	out := make([]ruleView, len(rules))
	for i, r := range rules {
		out[i] = ruleView{Label: r.Label, Left: r.LHS.String(), Right: r.RHS.String()}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) snapshot() (*egraph.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Snapshot()
}

func (s *Server) handleGraph(c *gin.Context) {
	snap, err := s.snapshot()
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, snap.Graph())
}

func (s *Server) handleSnapshot(c *gin.Context) {
	snap, err := s.snapshot()
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleExtract(c *gin.Context) {
	raw := c.Query("class")

	s.mu.Lock()
	var (
		x   *egraph.Extraction
		err error
	)
	if raw == "" {
		x, err = s.engine.Extract()
	} else {
		var id uint64
		id, err = strconv.ParseUint(raw, 10, 32)
		if err != nil {
			s.mu.Unlock()
			c.JSON(http.StatusBadRequest, gin.H{"error": "class must be a non-negative integer"})
			return
		}
		x, err = s.engine.ExtractClass(egraph.ClassID(id))
	}
	s.mu.Unlock()
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, x)
}

func (s *Server) handleHistory(c *gin.Context) {
	s.mu.Lock()
	history := s.engine.History()
	s.mu.Unlock()

	out := make([]string, len(history))
	for i, st := range history {
		out[i] = st.String()
	}
	c.JSON(http.StatusOK, out)
}

// --- Mutating handlers ---

type stepRequest struct {
	Rule string `json:"rule"`
}

type saturateRequest struct {
	MaxSteps *int `json:"max_steps"`
}

func (s *Server) handleStep(c *gin.Context) {
	var req stepRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	strategy := egraph.Auto()
	if req.Rule != "" {
		label, err := egraph.ParseLabel(req.Rule)
		if err != nil {
			abort(c, err)
			return
		}
		strategy = egraph.Only(label)
	}

	s.mu.Lock()
	report, err := s.engine.Step(strategy)
	var snap *egraph.Snapshot
	if err == nil {
		snap, err = s.engine.Snapshot()
	}
	s.mu.Unlock()
	if err != nil {
		abort(c, err)
		return
	}
	s.publish(Event{Type: EventStep, Iteration: snap.Iteration, Report: report, Snapshot: snap})
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleSaturate(c *gin.Context) {
	req := saturateRequest{}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	maxSteps := 30
	if req.MaxSteps != nil {
		maxSteps = *req.MaxSteps
	}
	if maxSteps < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_steps must not be negative"})
		return
	}

	// Step events carry the snapshot of their own step and are published
	// even when saturation stops on an error, since the graph has moved.
	var events []Event
	s.mu.Lock()
	report, err := s.engine.SaturateFunc(c.Request.Context(), maxSteps, func(r *egraph.StepReport) {
		snap, serr := s.engine.Snapshot()
		if serr != nil {
			s.logger.Error("snapshot after step", slog.Int("iteration", r.Iteration), slog.Any("error", serr))
			return
		}
		events = append(events, Event{Type: EventStep, Iteration: r.Iteration, Report: r, Snapshot: snap})
	})
	s.mu.Unlock()
	for _, ev := range events {
		s.publish(ev)
	}
	if err != nil {
		c.JSON(status(err), gin.H{"error": err.Error(), "report": report})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleBack(c *gin.Context) {
	s.mutate(c, EventBack, s.engine.Back)
}

func (s *Server) handleReset(c *gin.Context) {
	s.mutate(c, EventReset, s.engine.Reset)
}

// mutate runs fn under the engine lock and answers with the new snapshot.
func (s *Server) mutate(c *gin.Context, event string, fn func() error) {
	s.mu.Lock()
	err := fn()
	var snap *egraph.Snapshot
	if err == nil {
		snap, err = s.engine.Snapshot()
	}
	s.mu.Unlock()
	if err != nil {
		abort(c, err)
		return
	}
	s.publish(Event{Type: event, Iteration: snap.Iteration, Snapshot: snap})
	c.JSON(http.StatusOK, snap)
}

// --- Websocket ---

func (s *Server) subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	s.subMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subMu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan Event) {
	s.subMu.Lock()
	delete(s.subscribers, ch)
	s.subMu.Unlock()
}

// publish delivers ev to every subscriber. Slow subscribers miss events
// rather than blocking the engine.
func (s *Server) publish(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			s.logger.Warn("dropping event for slow subscriber", slog.String("type", ev.Type))
		}
	}
}

func (s *Server) handleWebSocket(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade the websocket", slog.Any("error", err))
		return
	}
	defer ws.Close()

	events := s.subscribe()
	defer s.unsubscribe(events)

	snap, err := s.snapshot()
	if err != nil {
		s.logger.Error("snapshot for new subscriber", slog.Any("error", err))
		return
	}
	if err := ws.WriteJSON(Event{Type: EventHello, Iteration: snap.Iteration, Snapshot: snap}); err != nil {
		return
	}

	// The read loop only notices the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			s.logger.Debug("websocket client disconnected")
			return
		case ev := <-events:
			if err := ws.WriteJSON(ev); err != nil {
				s.logger.Warn("failed to write websocket event", slog.Any("error", err))
				return
			}
		}
	}
}
