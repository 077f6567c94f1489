package egraph

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger used for step tracing.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics exports step activity to m.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithCost selects the cost function used by Extract.
func WithCost(c CostFunction) Option {
	return func(e *Engine) {
		if c != nil {
			e.cost = c
		}
	}
}

// WithNodeLimit stops Saturate once the graph holds at least n nodes.
// Zero disables the limit.
func WithNodeLimit(n int) Option {
	return func(e *Engine) { e.nodeLimit = n }
}

// StepReport describes one step.
type StepReport struct {
	// Iteration is the 1-based number of the step within the engine.
	// It is zero for a no-op step against an empty rule set.
	Iteration int `json:"iteration"`

	// Strategy describes the rule selection used.
	Strategy string `json:"strategy"`

	// Fired lists the rules that had at least one match, in application order.
	Fired []RuleLabel `json:"fired,omitempty"`

	// Applied lists the rules whose application changed the node count or
	// the class count. A rule may fire without being applied when every
	// match already held.
	Applied []RuleLabel `json:"applied"`

	// Matches counts substitutions per searched rule.
	Matches map[RuleLabel]int `json:"matches"`

	NodesBefore   int `json:"nodes_before"`
	NodesAfter    int `json:"nodes_after"`
	ClassesBefore int `json:"classes_before"`
	ClassesAfter  int `json:"classes_after"`

	Diff     Diff          `json:"diff"`
	Duration time.Duration `json:"duration"`
}

// Changed reports whether any rule produced an observable change.
func (r *StepReport) Changed() bool { return len(r.Applied) > 0 }

// StopReason says why Saturate returned.
type StopReason int

const (
	// Saturated means the last step applied no rule.
	Saturated StopReason = iota
	// StepLimit means maxSteps steps were taken.
	StepLimit
	// NodeLimit means the graph reached the configured node limit.
	NodeLimit
	// Cancelled means the context was done.
	Cancelled
)

func (r StopReason) String() string {
	switch r {
	case Saturated:
		return "saturated"
	case StepLimit:
		return "step limit"
	case NodeLimit:
		return "node limit"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r StopReason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// SaturationReport is the result of Saturate.
type SaturationReport struct {
	Steps  []*StepReport `json:"steps"`
	Reason StopReason    `json:"reason"`
}

// Extraction is the best term of a class.
type Extraction struct {
	Class ClassID `json:"class"`
	Cost  int     `json:"cost"`
	Term  Term    `json:"-"`
	Expr  string  `json:"term"`
}

// Engine owns one e-graph, its rule set and the saturation loop. Callers
// advance it one Step at a time, choosing a Strategy per step, and may read
// it (Extract, Snapshot) between steps.
//
// Every step is recorded so that Back can rebuild the graph as it was before
// the most recent step.
//
// Thread safety: Engine is NOT safe for concurrent use. Run independent
// engines on separate goroutines instead.
//
// Example:
//
//	rules, _ := NewRuleSet(MustRule(NamedLabel("add_comm"),
//		NewInvocation("add", NewGeneric("?a"), NewGeneric("?b")),
//		NewInvocation("add", NewGeneric("?b"), NewGeneric("?a"))))
//	e, _ := NewEngine(program, rules)
//	report, _ := e.Step(Only(NamedLabel("add_comm")))
//	fmt.Println(report.Applied) // [add_comm]
type Engine struct {
	id      uuid.UUID
	program Term
	rules   *RuleSet
	graph   *EGraph
	root    ClassID

	iteration int
	history   []Strategy

	logger    *slog.Logger
	metrics   *Metrics
	cost      CostFunction
	nodeLimit int

	extractor   *Extractor
	extractedAt uint64
}

// NewEngine interns program and prepares to saturate it with rules.
// A nil rule set is treated as empty.
func NewEngine(program Term, rules *RuleSet, opts ...Option) (*Engine, error) {
	if program == nil {
		return nil, configError(RuleLabel{}, ErrNilTerm, "program is nil")
	}
	if rules == nil {
		rules = &RuleSet{byLabel: map[RuleLabel]*Rule{}}
	}
	e := &Engine{
		program: program,
		rules:   rules,
		logger:  slog.Default().With(slog.String("component", "egraph")),
		cost:    AstSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.reset(); err != nil {
		return nil, err
	}
	e.logger.Debug("engine created",
		slog.String("engine", e.id.String()),
		slog.Int("rules", rules.Len()),
		slog.Int("classes", e.graph.ClassCount()),
	)
	return e, nil
}

// reset discards all saturation state and interns the program again.
func (e *Engine) reset() error {
	g := NewEGraph()
	root, err := g.AddTerm(e.program)
	if err != nil {
		return err
	}
	e.id = uuid.New()
	e.graph = g
	e.root = root
	e.iteration = 0
	e.history = nil
	e.extractor = nil
	e.publishSize()
	return nil
}

// Reset returns the engine to its initial state under a new instance id.
func (e *Engine) Reset() error {
	if err := e.reset(); err != nil {
		return err
	}
	e.logger.Debug("engine reset", slog.String("engine", e.id.String()))
	return nil
}

// ID returns the engine instance id. It changes on Reset.
func (e *Engine) ID() string { return e.id.String() }

// Program returns the initial term.
func (e *Engine) Program() Term { return e.program }

// Rules returns the engine's rule set.
func (e *Engine) Rules() *RuleSet { return e.rules }

// Graph exposes the underlying e-graph for read-only inspection.
// Mutating it directly invalidates the engine's history.
func (e *Engine) Graph() *EGraph { return e.graph }

// Root returns the canonical class of the initial term.
func (e *Engine) Root() ClassID { return e.graph.find(e.root) }

// Iteration returns the number of steps taken.
func (e *Engine) Iteration() int { return e.iteration }

// History returns the strategies of the steps taken so far, oldest first.
func (e *Engine) History() []Strategy {
	out := make([]Strategy, len(e.history))
	copy(out, e.history)
	return out
}

// Stats returns the statistics of the current graph.
func (e *Engine) Stats() Stats { return e.graph.Stats().Snapshot() }

// Step runs one saturation iteration restricted to the rules s permits.
//
// Every permitted rule is searched before anything is applied. Then, rule by
// rule, all matches are applied together and congruence is restored; a rule
// is reported as applied only if that changed the node count or the class
// count. A rule never fires more than once per step.
//
// Strategy errors are returned before the graph is touched. Against an empty
// rule set every request is a no-op and the iteration does not advance.
func (e *Engine) Step(s Strategy) (*StepReport, error) {
	if s == nil {
		return nil, configError(RuleLabel{}, ErrNilStrategy, "")
	}
	report, err := e.step(s)
	if err != nil {
		e.logger.Debug("step rejected", slog.String("strategy", s.String()), slog.Any("error", err))
		return nil, err
	}
	if report.Iteration == 0 {
		return report, nil
	}

	e.metrics.observe(report)
	e.logger.Debug("step",
		slog.Int("iteration", report.Iteration),
		slog.String("strategy", report.Strategy),
		slog.Any("applied", report.Applied),
		slog.Int("nodes", report.NodesAfter),
		slog.Int("classes", report.ClassesAfter),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}

type searchResult struct {
	rule    *Rule
	matches []Match
	count   int
}

func (e *Engine) step(s Strategy) (*StepReport, error) {
	start := time.Now()
	nodes, err := e.graph.NodeCount()
	if err != nil {
		return nil, err
	}
	classes := e.graph.ClassCount()
	report := &StepReport{
		Strategy:      s.String(),
		Applied:       []RuleLabel{},
		Matches:       make(map[RuleLabel]int),
		NodesBefore:   nodes,
		NodesAfter:    nodes,
		ClassesBefore: classes,
		ClassesAfter:  classes,
	}
	if e.rules.Len() == 0 {
		return report, nil
	}

	rules, err := s.Permit(e.rules)
	if err != nil {
		return nil, err
	}
	for _, r := range rules {
		if err := r.validate(); err != nil {
			return nil, err
		}
	}
	before, err := e.graph.Snapshot()
	if err != nil {
		return nil, err
	}

	results := make([]searchResult, 0, len(rules))
	for _, r := range rules {
		matches, err := e.graph.Search(r.LHS)
		if err != nil {
			return nil, err
		}
		n := 0
		for _, m := range matches {
			n += len(m.Substs)
		}
		e.graph.stats.RecordSearch(n)
		report.Matches[r.Label] = n
		results = append(results, searchResult{rule: r, matches: matches, count: n})
	}

	e.iteration++
	report.Iteration = e.iteration
	e.history = append(e.history, s)

	for _, res := range results {
		if res.count == 0 {
			continue
		}
		report.Fired = append(report.Fired, res.rule.Label)
		nodesBefore, classesBefore := nodes, classes
		for _, m := range res.matches {
			for _, subst := range m.Substs {
				if _, _, err := e.graph.Apply(res.rule.RHS, m.Class, subst); err != nil {
					e.graph.Rebuild()
					return nil, err
				}
			}
		}
		e.graph.stats.RecordApplications(res.count)

		rebuildStart := time.Now()
		merges := e.graph.Rebuild()
		e.metrics.observeRebuild(time.Since(rebuildStart))

		nodes, _ = e.graph.NodeCount()
		classes = e.graph.ClassCount()
		applied := nodes != nodesBefore || classes != classesBefore
		if applied {
			report.Applied = append(report.Applied, res.rule.Label)
		}
		e.logger.Debug("rule",
			slog.Int("iteration", e.iteration),
			slog.String("rule", res.rule.Label.String()),
			slog.Int("matches", res.count),
			slog.Int("merges", merges),
			slog.Bool("applied", applied),
		)
	}

	after, err := e.graph.Snapshot()
	if err != nil {
		return nil, err
	}
	report.Diff = DiffSnapshots(before, after)
	report.NodesAfter = nodes
	report.ClassesAfter = classes
	report.Duration = time.Since(start)
	e.graph.stats.RecordStep(report.Duration)
	return report, nil
}

// Saturate repeats auto steps until a step applies no rule, maxSteps steps
// have been taken (zero means no limit), the node limit is reached or ctx is
// done. The context is checked between steps only.
func (e *Engine) Saturate(ctx context.Context, maxSteps int) (*SaturationReport, error) {
	return e.SaturateFunc(ctx, maxSteps, nil)
}

// SaturateFunc is Saturate with a hook: onStep, if not nil, is called after
// every completed step while the graph is clean, so it may take a Snapshot.
func (e *Engine) SaturateFunc(ctx context.Context, maxSteps int, onStep func(*StepReport)) (*SaturationReport, error) {
	out := &SaturationReport{}
	for {
		if err := ctx.Err(); err != nil {
			out.Reason = Cancelled
			return out, err
		}
		if maxSteps > 0 && len(out.Steps) >= maxSteps {
			out.Reason = StepLimit
			return out, nil
		}
		if e.nodeLimit > 0 {
			if n, _ := e.graph.NodeCount(); n >= e.nodeLimit {
				out.Reason = NodeLimit
				return out, nil
			}
		}

		report, err := e.Step(Auto())
		if err != nil {
			return out, err
		}
		if report.Iteration == 0 {
			out.Reason = Saturated
			return out, nil
		}
		out.Steps = append(out.Steps, report)
		if onStep != nil {
			onStep(report)
		}
		if !report.Changed() {
			out.Reason = Saturated
			return out, nil
		}
	}
}

// Back undoes the most recent step. The graph is rebuilt from the initial
// term and every earlier step is replayed; replay is deterministic, so the
// result equals the graph as it was before the undone step. If replay fails
// the engine is left exactly as it was.
func (e *Engine) Back() error {
	if len(e.history) == 0 {
		return ErrNoHistory
	}
	replay := e.history[:len(e.history)-1]
	saved := *e
	if err := e.reset(); err != nil {
		*e = saved
		return err
	}
	e.id = saved.id
	for _, s := range replay {
		if _, err := e.step(s); err != nil {
			*e = saved
			e.publishSize()
			return err
		}
	}
	e.publishSize()
	e.logger.Debug("stepped back",
		slog.String("engine", e.id.String()),
		slog.Int("iteration", e.iteration),
	)
	return nil
}

func (e *Engine) publishSize() {
	if e.metrics == nil {
		return
	}
	n, _ := e.graph.NodeCount()
	e.metrics.setSize(n, e.graph.ClassCount())
}

// Extract returns the best term of the root class.
func (e *Engine) Extract() (*Extraction, error) {
	return e.ExtractClass(e.root)
}

// ExtractClass returns the best term of the class containing id. Best
// choices are cached until the graph next changes.
func (e *Engine) ExtractClass(id ClassID) (*Extraction, error) {
	if e.extractor == nil || e.extractedAt != e.graph.Version() {
		x, err := NewExtractor(e.graph, e.cost)
		if err != nil {
			return nil, err
		}
		e.extractor = x
		e.extractedAt = e.graph.Version()
	}
	cost, t, err := e.extractor.FindBest(id)
	if err != nil {
		return nil, err
	}
	return &Extraction{Class: e.graph.find(id), Cost: cost, Term: t, Expr: t.String()}, nil
}

// Snapshot copies the current graph, tagged with the engine id, the
// iteration and the root class.
func (e *Engine) Snapshot() (*Snapshot, error) {
	s, err := e.graph.Snapshot()
	if err != nil {
		return nil, err
	}
	s.Engine = e.id.String()
	s.Iteration = e.iteration
	s.Root = e.Root()
	return s, nil
}
