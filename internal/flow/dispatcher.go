package flow

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/LeadPipe/internal/metrics"
	"github.com/BTreeMap/LeadPipe/internal/models"
)

// legacyStages maps legacy stage names to the handler serving them.
var legacyStages = map[string]models.HandlerName{
	"":                               models.HandlerStart,
	models.StageStart:                models.HandlerStart,
	models.StageAwaitingPurpose:      models.HandlerPurpose,
	models.StageAwaitingPropertyType: models.HandlerPropertyType,
	models.StageAwaitingCity:         models.HandlerCity,
	models.StageAwaitingNeighborhood: models.HandlerCity,
	models.StageAwaitingPriceMin:     models.HandlerPrice,
	models.StageAwaitingPriceMax:     models.HandlerPrice,
	models.StageAwaitingBedrooms:     models.HandlerBedrooms,
	models.StageSearching:            models.HandlerResults,
	models.StageShowingProperty:      models.HandlerResults,
	models.StagePropertyFeedback:     models.HandlerResults,
	models.StageAwaitingRefinement:   models.HandlerStart,
	models.StageAwaitingVisitPhone:   models.HandlerVisitPhone,
	models.StageAwaitingVisitDate:    models.HandlerVisitDate,
	models.StageAwaitingVisitTime:    models.HandlerVisitTime,
	models.StageAwaitingVisitConfirm: models.HandlerVisitConfirm,
	models.StageHandoff:              models.HandlerHandoff,
}

var handoffMarkers = []string{"atendente", "corretor", "consultor", "humano", "pessoa real"}

// HandlerForStage returns the legacy handler of stage. Unknown stages restart the
// conversation.
func HandlerForStage(stage string) models.HandlerName {
	if name, ok := legacyStages[stage]; ok {
		return name
	}
	return models.HandlerStart
}

// LegacyDispatcher runs the legacy stage handlers for conversations the published flow
// cannot serve: no flow published, or a stage that is not a node of the flow.
type LegacyDispatcher struct {
	engine *Engine
}

// NewLegacyDispatcher creates a dispatcher using the engine's domain handlers.
func NewLegacyDispatcher(engine *Engine) *LegacyDispatcher {
	return &LegacyDispatcher{engine: engine}
}

// Dispatch runs one legacy stage. The input state is not modified.
func (d *LegacyDispatcher) Dispatch(ctx context.Context, domain models.Domain, senderID, raw, normalized string, state *models.ConversationState) (Result, error) {
	st := state.Clone()
	name := HandlerForStage(st.Stage)
	if raw != "" && containsAny(normalized, handoffMarkers) {
		name = models.HandlerHandoff
	}
	metrics.LegacyFallbacks.WithLabelValues(string(name)).Inc()
	slog.Debug("LegacyDispatcher dispatching", "stage", st.Stage, "handler", name, "domain", domain, "senderID", senderID)

	reply, err := callHandler(ctx, d.engine.handlerFor(domain), name, raw, senderID, st)
	if err != nil {
		slog.Error("LegacyDispatcher handler failed", "handler", name, "error", err, "senderID", senderID)
		return Result{State: state}, err
	}
	return Result{Message: reply.Message, State: st, Continue: reply.Continue, Handled: true}, nil
}
