package flow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// legacyBase holds the stage methods both domains share: city, price, results and the
// visit scheduling tail.
type legacyBase struct {
	deps        HandlerDeps
	searchKind  models.NodeType
	askBedrooms bool
}

func (b *legacyBase) now() time.Time {
	if b.deps.Now != nil {
		return b.deps.Now()
	}
	return time.Now()
}

func ask(st *models.ConversationState, stage, msg string) (HandlerReply, error) {
	st.MoveTo(stage)
	return HandlerReply{Message: msg}, nil
}

func (b *legacyBase) HandleCity(ctx context.Context, text string, st *models.ConversationState) (HandlerReply, error) {
	city, ok := ParsePlace(text)
	if !ok {
		return HandlerReply{Message: domainCaptures[models.NodeTypeCaptureCity].invalid}, nil
	}
	st.City = city
	return ask(st, models.StageAwaitingPriceMax, "Até quanto você pretende investir?")
}

func (b *legacyBase) HandlePrice(ctx context.Context, text string, st *models.ConversationState) (HandlerReply, error) {
	v, ok := ParsePrice(Normalize(text), st.Purpose, true)
	if !ok {
		return HandlerReply{Message: domainCaptures[models.NodeTypeCapturePriceMax].invalid}, nil
	}
	st.PriceMax = &v
	if b.askBedrooms {
		return ask(st, models.StageAwaitingBedrooms, "Quantos quartos, no mínimo?")
	}
	st.MoveTo(models.StageSearching)
	return HandlerReply{Continue: true}, nil
}

// HandleResults runs the search and lists the best matches.
func (b *legacyBase) HandleResults(ctx context.Context, st *models.ConversationState) (HandlerReply, error) {
	if b.deps.Catalog == nil {
		return HandlerReply{}, ErrNoCatalog
	}
	items, err := b.deps.Catalog.Search(ctx, st.TenantID, BuildSearchFilter(st, b.searchKind, 3))
	if err != nil {
		return HandlerReply{}, fmt.Errorf("catalog search failed: %w", err)
	}
	if len(items) == 0 {
		if b.deps.Leads != nil {
			if err := b.deps.Leads.CreateUnqualified(ctx, st.SenderID, st, false); err != nil {
				return HandlerReply{}, fmt.Errorf("failed to record unqualified lead: %w", err)
			}
		}
		st.Finished = true
		return ask(st, models.StageStart, "Não encontrei opções com esses critérios. Mande qualquer mensagem para fazer uma nova busca ou escreva *atendente* para falar com um consultor.")
	}

	var msg strings.Builder
	msg.WriteString("Encontrei estas opções:\n")
	ids := make([]string, 0, len(items))
	for i := range items {
		ids = append(ids, items[i].ID)
		fmt.Fprintf(&msg, "\n%d. %s\n", i+1, FormatCard(&items[i]))
	}
	msg.WriteString("\nPara agendar uma visita, me envie um telefone para contato (ou responda \"este número\").")
	st.ResultIDs = ids
	st.ResultCursor = 0
	st.CurrentItemID = ids[0]
	return ask(st, models.StageAwaitingVisitPhone, msg.String())
}

func (b *legacyBase) HandleVisitPhone(ctx context.Context, text, senderID string, st *models.ConversationState) (HandlerReply, error) {
	phone, ok := ParsePhone(text, Normalize(text), senderID)
	if !ok {
		return HandlerReply{Message: domainCaptures[models.NodeTypeCapturePhone].invalid}, nil
	}
	st.VisitPhone = phone
	return ask(st, models.StageAwaitingVisitDate, domainCaptures[models.NodeTypeCaptureDate].question)
}

func (b *legacyBase) HandleVisitDate(ctx context.Context, text string, st *models.ConversationState) (HandlerReply, error) {
	d, ok := ParseDate(Normalize(text), b.now())
	if !ok {
		return HandlerReply{Message: domainCaptures[models.NodeTypeCaptureDate].invalid}, nil
	}
	st.VisitDate = d.Format(DateLayout)
	return ask(st, models.StageAwaitingVisitTime, domainCaptures[models.NodeTypeCaptureTime].question)
}

func (b *legacyBase) HandleVisitTime(ctx context.Context, text string, st *models.ConversationState) (HandlerReply, error) {
	t, ok := ParseTime(Normalize(text))
	if !ok {
		return HandlerReply{Message: domainCaptures[models.NodeTypeCaptureTime].invalid}, nil
	}
	st.VisitTime = t
	return ask(st, models.StageAwaitingVisitConfirm,
		fmt.Sprintf("Confirma a visita em %s às %s? (sim/não)", displayDate(st.VisitDate), st.VisitTime))
}

func (b *legacyBase) HandleVisitConfirm(ctx context.Context, text, senderID string, st *models.ConversationState) (HandlerReply, error) {
	switch DetectYesNo(text) {
	case "yes":
		phone := st.VisitPhone
		if phone == "" {
			phone = senderID
		}
		if b.deps.Leads != nil {
			if err := b.deps.Leads.UpsertStatus(ctx, phone, st, models.LeadStatusScheduled, st.LeadName, st.LeadEmail, st.CurrentItemID); err != nil {
				return HandlerReply{}, fmt.Errorf("failed to schedule visit: %w", err)
			}
		}
		msg := fmt.Sprintf("Visita agendada para %s às %s! Um consultor vai confirmar com você pelo %s.",
			displayDate(st.VisitDate), st.VisitTime, phone)
		st.Qualified = true
		st.Finished = true
		return ask(st, models.StageStart, msg)
	case "no":
		st.VisitDate, st.VisitTime = "", ""
		return ask(st, models.StageAwaitingVisitDate, "Sem problemas. Qual outro dia fica melhor?")
	}
	return HandlerReply{Message: "Responda *sim* para confirmar ou *não* para escolher outra data."}, nil
}

func (b *legacyBase) HandleHandoff(ctx context.Context, st *models.ConversationState) (HandlerReply, error) {
	if st.Stage != models.StageHandoff && b.deps.Leads != nil {
		if err := b.deps.Leads.UpsertStatus(ctx, leadPhoneOf(st), st, models.LeadStatusHandoff, st.LeadName, st.LeadEmail, st.CurrentItemID); err != nil {
			return HandlerReply{}, fmt.Errorf("failed to hand off lead: %w", err)
		}
	}
	return ask(st, models.StageHandoff, "Certo! Um consultor vai continuar o atendimento por aqui em instantes.")
}

func leadPhoneOf(st *models.ConversationState) string {
	if st.VisitPhone != "" {
		return st.VisitPhone
	}
	return st.SenderID
}

func displayDate(stored string) string {
	d, err := time.Parse(DateLayout, stored)
	if err != nil {
		return stored
	}
	return d.Format("02/01/2006")
}

// RealEstateHandler is the legacy conversation for property listings.
type RealEstateHandler struct {
	legacyBase
}

var _ ConversationHandler = (*RealEstateHandler)(nil)

// NewRealEstateHandler creates the real-estate handler.
func NewRealEstateHandler(deps HandlerDeps) *RealEstateHandler {
	return &RealEstateHandler{legacyBase{deps: deps, searchKind: models.NodeTypeExecuteSearch, askBedrooms: true}}
}

func (h *RealEstateHandler) HandleStart(ctx context.Context, senderID string, st *models.ConversationState) (HandlerReply, error) {
	st.ClearAnswers()
	if st.SenderID == "" {
		st.SenderID = senderID
	}
	return ask(st, models.StageAwaitingPurpose,
		"Olá! Sou o assistente virtual da imobiliária. "+domainCaptures[models.NodeTypeCapturePurpose].question)
}

func (h *RealEstateHandler) HandlePurpose(ctx context.Context, text string, st *models.ConversationState) (HandlerReply, error) {
	p := ParsePurpose(Normalize(text))
	if p == "" {
		return HandlerReply{Message: domainCaptures[models.NodeTypeCapturePurpose].invalid}, nil
	}
	st.Purpose = p
	return ask(st, models.StageAwaitingPropertyType, domainCaptures[models.NodeTypeCapturePropertyType].question)
}

func (h *RealEstateHandler) HandlePropertyType(ctx context.Context, text string, st *models.ConversationState) (HandlerReply, error) {
	t := ParsePropertyType(Normalize(text))
	if t == "" {
		return HandlerReply{Message: domainCaptures[models.NodeTypeCapturePropertyType].invalid}, nil
	}
	st.PropertyType = t
	return ask(st, models.StageAwaitingCity, domainCaptures[models.NodeTypeCaptureCity].question)
}

func (h *RealEstateHandler) HandleBedrooms(ctx context.Context, text string, st *models.ConversationState) (HandlerReply, error) {
	n, ok := ParseBedrooms(Normalize(text))
	if !ok {
		return HandlerReply{Message: domainCaptures[models.NodeTypeCaptureBedrooms].invalid}, nil
	}
	st.Bedrooms = &n
	st.MoveTo(models.StageSearching)
	return HandlerReply{Continue: true}, nil
}
