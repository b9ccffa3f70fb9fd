package flow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/metrics"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// DefaultMaxSteps bounds the engine steps of one turn.
const DefaultMaxSteps = 10

// Fixed replies of the orchestrator.
const (
	FallbackMessage = "Desculpe, não entendi. Pode reformular?"
	CeilingMessage  = "Desculpe, me perdi por aqui. Mande uma nova mensagem para continuarmos."
	ApologyMessage  = "Desculpe, tivemos um problema técnico. Tente novamente em instantes."
)

// Turn is one inbound message.
type Turn struct {
	TenantID string
	SenderID string
	Text     string
	Domain   models.Domain
}

// TurnResult is the reply to a turn.
type TurnResult struct {
	Message string
	State   *models.ConversationState
	Steps   int
	Outcome string
}

// Orchestrator runs a turn end to end: load state, enrich it, step the engine, persist.
type Orchestrator struct {
	engine        *Engine
	legacy        *LegacyDispatcher
	conversations store.ConversationStore
	flows         store.FlowStore
	extractor     IntentExtractor
	ttl           time.Duration
	maxSteps      int
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithExtractor enables intent/entity enrichment.
func WithExtractor(x IntentExtractor) OrchestratorOption {
	return func(o *Orchestrator) {
		o.extractor = x
	}
}

// WithConversationTTL sets how long idle conversations are kept.
func WithConversationTTL(ttl time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.ttl = ttl
	}
}

// WithMaxSteps overrides the per-turn step ceiling.
func WithMaxSteps(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxSteps = n
		}
	}
}

// NewOrchestrator creates an Orchestrator. flows may be nil, in which case every turn goes
// to the legacy dispatcher.
func NewOrchestrator(engine *Engine, conversations store.ConversationStore, flows store.FlowStore, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		engine:        engine,
		legacy:        NewLegacyDispatcher(engine),
		conversations: conversations,
		flows:         flows,
		ttl:           store.DefaultConversationTTL,
		maxSteps:      DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// HandleTurn processes one inbound message and returns the reply. Collaborator failures
// degrade to ApologyMessage without persisting state; the error is logged, not returned.
// Only an empty tenant or sender is reported as an error.
func (o *Orchestrator) HandleTurn(ctx context.Context, turn Turn) (TurnResult, error) {
	if turn.TenantID == "" {
		return TurnResult{}, models.ErrEmptyTenant
	}
	if turn.SenderID == "" {
		return TurnResult{}, models.ErrEmptySender
	}
	if turn.Domain == "" {
		turn.Domain = models.DomainRealEstate
	}
	start := time.Now()
	defer func() {
		metrics.TurnDuration.WithLabelValues(turn.TenantID).Observe(time.Since(start).Seconds())
	}()

	res, err := o.runTurn(ctx, turn)
	if err != nil {
		slog.Error("Orchestrator.HandleTurn failed", "error", err, "tenantID", turn.TenantID, "senderID", turn.SenderID)
		res = TurnResult{Message: ApologyMessage, Steps: res.Steps, Outcome: metrics.TurnApology}
	}
	metrics.TurnsProcessed.WithLabelValues(turn.TenantID, res.Outcome).Inc()
	metrics.TurnSteps.Observe(float64(res.Steps))
	slog.Debug("Orchestrator.HandleTurn succeeded", "tenantID", turn.TenantID, "senderID", turn.SenderID,
		"steps", res.Steps, "outcome", res.Outcome)
	return res, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, turn Turn) (TurnResult, error) {
	st, err := o.conversations.GetConversation(ctx, turn.TenantID, turn.SenderID)
	if err != nil {
		return TurnResult{}, err
	}
	if st == nil {
		st = models.NewConversationState(turn.TenantID, turn.SenderID)
	}
	withIdentity(st, turn)

	normalized := Normalize(turn.Text)
	enrich(ctx, o.extractor, st, turn.Text, normalized)

	def, err := o.publishedFlow(ctx, turn)
	if err != nil {
		return TurnResult{}, err
	}

	raw := turn.Text
	for step := 1; step <= o.maxSteps; step++ {
		res, err := o.step(ctx, def, turn, raw, normalized, st)
		if err != nil {
			return TurnResult{Steps: step}, err
		}
		st = res.State
		withIdentity(st, turn)

		if res.Message != "" {
			return o.finish(ctx, turn, st, res.Message, step, metrics.TurnMessage)
		}
		if !res.Continue {
			return o.finish(ctx, turn, st, FallbackMessage, step, metrics.TurnFallback)
		}
		if err := o.persist(ctx, turn, st); err != nil {
			return TurnResult{Steps: step}, err
		}
		raw, normalized = "", ""
	}
	slog.Warn("Orchestrator step ceiling reached", "tenantID", turn.TenantID, "senderID", turn.SenderID,
		"stage", st.Stage, "maxSteps", o.maxSteps)
	return o.finish(ctx, turn, st, CeilingMessage, o.maxSteps, metrics.TurnCeiling)
}

// step runs the engine, or the legacy dispatcher when the flow cannot serve the stage.
func (o *Orchestrator) step(ctx context.Context, def *models.FlowDefinition, turn Turn, raw, normalized string, st *models.ConversationState) (Result, error) {
	if def != nil {
		res, err := o.engine.Process(ctx, def, turn.SenderID, turn.Domain, raw, normalized, st)
		if err != nil || res.Handled {
			return res, err
		}
	}
	return o.legacy.Dispatch(ctx, turn.Domain, turn.SenderID, raw, normalized, st)
}

func (o *Orchestrator) publishedFlow(ctx context.Context, turn Turn) (*models.FlowDefinition, error) {
	if o.flows == nil {
		return nil, nil
	}
	def, err := o.flows.GetPublished(ctx, turn.TenantID, turn.Domain)
	if errors.Is(err, models.ErrFlowNotFound) {
		slog.Debug("Orchestrator no published flow, using legacy handlers", "tenantID", turn.TenantID, "domain", turn.Domain)
		return nil, nil
	}
	return def, err
}

func (o *Orchestrator) finish(ctx context.Context, turn Turn, st *models.ConversationState, message string, steps int, outcome string) (TurnResult, error) {
	if err := o.persist(ctx, turn, st); err != nil {
		return TurnResult{Steps: steps}, err
	}
	return TurnResult{Message: message, State: st, Steps: steps, Outcome: outcome}, nil
}

func (o *Orchestrator) persist(ctx context.Context, turn Turn, st *models.ConversationState) error {
	return o.conversations.SetConversation(ctx, turn.TenantID, turn.SenderID, st, o.ttl)
}

// withIdentity restores sender and tenant after effects that clear the state.
func withIdentity(st *models.ConversationState, turn Turn) {
	if st.SenderID == "" {
		st.SenderID = turn.SenderID
	}
	if st.TenantID == "" {
		st.TenantID = turn.TenantID
	}
}
