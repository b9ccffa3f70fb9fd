// Package flow interprets tenant-authored flow graphs against per-conversation state.
package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/metrics"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// Result is the outcome of one engine step.
type Result struct {
	Message  string
	State    *models.ConversationState
	Continue bool
	Handled  bool
}

// Engine executes one node of a flow per call. It holds no per-conversation state and is
// safe for concurrent use.
type Engine struct {
	catalog  store.Catalog
	leads    store.LeadTracker
	handlers map[models.Domain]ConversationHandler
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithCatalog sets the catalog used by search and card nodes.
func WithCatalog(c store.Catalog) Option {
	return func(e *Engine) {
		e.catalog = c
	}
}

// WithLeadTracker sets the lead tracker used by search, decision nodes and effects.
func WithLeadTracker(l store.LeadTracker) Option {
	return func(e *Engine) {
		e.leads = l
	}
}

// WithHandler overrides the legacy handler of a domain.
func WithHandler(domain models.Domain, h ConversationHandler) Option {
	return func(e *Engine) {
		e.handlers[domain] = h
	}
}

// WithClock sets the time source used by date parsing.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an Engine. Domains without an explicit handler get the built-in one.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{handlers: make(map[models.Domain]ConversationHandler), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	deps := HandlerDeps{Catalog: e.catalog, Leads: e.leads, Now: e.now}
	if _, ok := e.handlers[models.DomainRealEstate]; !ok {
		e.handlers[models.DomainRealEstate] = NewRealEstateHandler(deps)
	}
	if _, ok := e.handlers[models.DomainCarDealer]; !ok {
		e.handlers[models.DomainCarDealer] = NewCarDealerHandler(deps)
	}
	return e
}

// handlerFor returns the handler for domain, falling back to the default domain.
func (e *Engine) handlerFor(domain models.Domain) ConversationHandler {
	if h, ok := e.handlers[domain]; ok {
		return h
	}
	return e.handlers[models.DomainRealEstate]
}

// nodeCall carries one node invocation. Processors record their outcome on it.
type nodeCall struct {
	def       *models.FlowDefinition
	node      *models.FlowNode
	kind      models.NodeType
	domain    models.Domain
	senderID  string
	raw       string
	norm      string
	state     *models.ConversationState
	message   string
	cont      bool
	moved     bool
	unhandled bool
}

// say sets the outgoing message.
func (c *nodeCall) say(msg string) {
	c.message = msg
}

// moveTo sets the next stage.
func (c *nodeCall) moveTo(stage string) {
	c.state.MoveTo(stage)
	c.moved = true
}

// hold keeps the conversation on the current node.
func (c *nodeCall) hold() {
	c.moved = true
}

// prompt renders the node prompt, or fallback when the node has none.
func (c *nodeCall) prompt(fallback string) string {
	if c.node.Prompt == "" {
		return fallback
	}
	return Render(c.node.Prompt, c.state)
}

// resolveNode finds the node the conversation is positioned at. An empty stage, or "start"
// when no node carries that id, resolves to the definition's start node.
func resolveNode(def *models.FlowDefinition, state *models.ConversationState) (*models.FlowNode, bool) {
	if def == nil {
		return nil, false
	}
	stage := state.Stage
	if stage == "" || (stage == models.StageStart && !def.HasNode(models.StageStart)) {
		stage = def.Start
	}
	return def.Node(stage)
}

// Process runs the node the state is positioned at. The input state is not modified;
// Result.State carries the new state. Errors are returned only for collaborator failures.
func (e *Engine) Process(ctx context.Context, def *models.FlowDefinition, senderID string, domain models.Domain, raw, normalized string, state *models.ConversationState) (Result, error) {
	if state == nil {
		state = models.NewConversationState("", senderID)
	}
	st := state.Clone()
	node, ok := resolveNode(def, st)
	if !ok {
		slog.Debug("Engine.Process: stage not in flow", "stage", st.Stage, "senderID", senderID)
		return Result{State: state}, nil
	}
	kind := node.Kind()
	if st.Stage != node.ID {
		st.MoveTo(node.ID)
	}
	if node.ID == def.Start {
		st.Finished = false
	}

	cfg, err := models.DecodeNodeConfig(kind, node.Config)
	if err != nil {
		slog.Warn("Engine.Process: node config rejected", "node", node.ID, "type", node.Type, "error", err)
		metrics.NodeVisits.WithLabelValues(string(kind), metrics.OutcomeUnhandled).Inc()
		return Result{State: state}, nil
	}

	c := &nodeCall{def: def, node: node, kind: kind, domain: domain, senderID: senderID, raw: raw, norm: normalized, state: st}
	if err := e.dispatch(ctx, c, cfg); err != nil {
		slog.Error("Engine.Process: node failed", "node", node.ID, "type", kind, "error", err, "senderID", senderID)
		metrics.NodeVisits.WithLabelValues(string(kind), metrics.OutcomeError).Inc()
		return Result{State: state}, err
	}
	if c.unhandled {
		metrics.NodeVisits.WithLabelValues(string(kind), metrics.OutcomeUnhandled).Inc()
		return Result{State: state}, nil
	}

	if !c.moved && len(node.Transitions) > 0 {
		override, err := e.ApplyTransition(ctx, st, &node.Transitions[0], senderID)
		if err != nil {
			metrics.NodeVisits.WithLabelValues(string(kind), metrics.OutcomeError).Inc()
			return Result{State: state}, err
		}
		if override != "" {
			c.message = override
		}
	}

	metrics.NodeVisits.WithLabelValues(string(kind), metrics.OutcomeHandled).Inc()
	slog.Debug("Engine.Process succeeded", "node", node.ID, "type", kind, "nextStage", st.Stage,
		"hasMessage", c.message != "", "continue", c.cont)
	return Result{Message: c.message, State: st, Continue: c.cont, Handled: true}, nil
}

// dispatch routes the call to the processor of the node's config type.
func (e *Engine) dispatch(ctx context.Context, c *nodeCall, cfg models.NodeConfig) error {
	switch cfg := cfg.(type) {
	case models.MessageConfig:
		e.processMessage(c)
	case models.EndConfig:
		e.processEnd(c, cfg)
	case models.SetStateConfig:
		e.processSetState(c, cfg)
	case models.PromptConfig:
		return e.processPrompt(ctx, c, cfg)
	case models.HandlerConfig:
		return e.processHandler(ctx, c)
	case models.TextCaptureConfig:
		e.processTextCapture(c, cfg)
	case models.NumberCaptureConfig:
		e.processNumberCapture(c, cfg)
	case models.PhoneCaptureConfig:
		e.processPhoneCapture(c, cfg)
	case models.DomainCaptureConfig:
		e.processDomainCapture(c, cfg)
	case models.SearchConfig:
		return e.processSearch(ctx, c, cfg)
	case models.CardConfig:
		return e.processCard(ctx, c, cfg)
	case models.DecisionConfig:
		if c.kind == models.NodeTypeRefinementDecision {
			return e.processRefinementDecision(ctx, c, cfg)
		}
		return e.processFeedbackDecision(ctx, c, cfg)
	default:
		c.unhandled = true
	}
	return nil
}

// stageFor returns the id of the node that plays a built-in role: a node literally named
// preferred, else the first node of kind, else preferred itself (handled by the legacy
// dispatcher when the flow lacks it).
func stageFor(def *models.FlowDefinition, kind models.NodeType, preferred string) string {
	if def == nil || kind == "" || def.HasNode(preferred) {
		return preferred
	}
	for _, n := range def.Nodes {
		if n.Kind() == kind {
			return n.ID
		}
	}
	return preferred
}
