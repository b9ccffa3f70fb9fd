package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// HandlerReply is what a legacy stage method produces. Handlers mutate the state in place,
// including its stage.
type HandlerReply struct {
	Message  string
	Continue bool
}

// ConversationHandler is the per-domain implementation of the legacy stage-by-stage
// conversation. Each method serves one legacy stage; the parameters each one takes are
// fixed per stage.
type ConversationHandler interface {
	HandleStart(ctx context.Context, senderID string, st *models.ConversationState) (HandlerReply, error)
	HandlePurpose(ctx context.Context, text string, st *models.ConversationState) (HandlerReply, error)
	HandlePropertyType(ctx context.Context, text string, st *models.ConversationState) (HandlerReply, error)
	HandleCity(ctx context.Context, text string, st *models.ConversationState) (HandlerReply, error)
	HandlePrice(ctx context.Context, text string, st *models.ConversationState) (HandlerReply, error)
	HandleBedrooms(ctx context.Context, text string, st *models.ConversationState) (HandlerReply, error)
	HandleResults(ctx context.Context, st *models.ConversationState) (HandlerReply, error)
	HandleVisitPhone(ctx context.Context, text, senderID string, st *models.ConversationState) (HandlerReply, error)
	HandleVisitDate(ctx context.Context, text string, st *models.ConversationState) (HandlerReply, error)
	HandleVisitTime(ctx context.Context, text string, st *models.ConversationState) (HandlerReply, error)
	HandleVisitConfirm(ctx context.Context, text, senderID string, st *models.ConversationState) (HandlerReply, error)
	HandleHandoff(ctx context.Context, st *models.ConversationState) (HandlerReply, error)
}

// HandlerDeps are the collaborators handlers use.
type HandlerDeps struct {
	Catalog store.Catalog
	Leads   store.LeadTracker
	Now     func() time.Time
}

// callHandler invokes the stage method named by name.
func callHandler(ctx context.Context, h ConversationHandler, name models.HandlerName, text, senderID string, st *models.ConversationState) (HandlerReply, error) {
	switch name {
	case models.HandlerStart:
		return h.HandleStart(ctx, senderID, st)
	case models.HandlerPurpose:
		return h.HandlePurpose(ctx, text, st)
	case models.HandlerPropertyType:
		return h.HandlePropertyType(ctx, text, st)
	case models.HandlerCity:
		return h.HandleCity(ctx, text, st)
	case models.HandlerPrice:
		return h.HandlePrice(ctx, text, st)
	case models.HandlerBedrooms:
		return h.HandleBedrooms(ctx, text, st)
	case models.HandlerResults:
		return h.HandleResults(ctx, st)
	case models.HandlerVisitPhone:
		return h.HandleVisitPhone(ctx, text, senderID, st)
	case models.HandlerVisitDate:
		return h.HandleVisitDate(ctx, text, st)
	case models.HandlerVisitTime:
		return h.HandleVisitTime(ctx, text, st)
	case models.HandlerVisitConfirm:
		return h.HandleVisitConfirm(ctx, text, senderID, st)
	case models.HandlerHandoff:
		return h.HandleHandoff(ctx, st)
	}
	return HandlerReply{}, fmt.Errorf("%w: %s", models.ErrUnknownHandler, name)
}
