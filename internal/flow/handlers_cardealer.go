package flow

import (
	"context"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// CarDealerHandler is the legacy conversation for vehicle listings. The property-type
// stage asks for brand and model and there is no bedroom stage.
type CarDealerHandler struct {
	legacyBase
}

var _ ConversationHandler = (*CarDealerHandler)(nil)

// NewCarDealerHandler creates the car-dealer handler.
func NewCarDealerHandler(deps HandlerDeps) *CarDealerHandler {
	return &CarDealerHandler{legacyBase{deps: deps, searchKind: models.NodeTypeExecuteVehicleSearch}}
}

func (h *CarDealerHandler) HandleStart(ctx context.Context, senderID string, st *models.ConversationState) (HandlerReply, error) {
	st.ClearAnswers()
	if st.SenderID == "" {
		st.SenderID = senderID
	}
	return ask(st, models.StageAwaitingPurpose,
		"Olá! Sou o assistente virtual da loja. Você procura um carro novo ou seminovo?\n1) Novo\n2) Seminovo")
}

func (h *CarDealerHandler) HandlePurpose(ctx context.Context, text string, st *models.ConversationState) (HandlerReply, error) {
	n := Normalize(text)
	condition := ""
	switch {
	case n == "1" || (strings.Contains(n, "novo") && !strings.Contains(n, "semi")):
		condition = "new"
	case n == "2" || containsAny(n, []string{"seminovo", "semi novo", "usado"}):
		condition = "used"
	default:
		return HandlerReply{Message: "Não entendi. Responda 1 para novo ou 2 para seminovo."}, nil
	}
	st.Purpose = PurposeSale
	if err := st.Set("vehicle_condition", condition); err != nil {
		return HandlerReply{}, err
	}
	return ask(st, models.StageAwaitingPropertyType, "Qual marca ou modelo você procura? (ex.: Fiat Argo)")
}

// HandlePropertyType captures brand and model: the first word is the brand, the rest the model.
func (h *CarDealerHandler) HandlePropertyType(ctx context.Context, text string, st *models.ConversationState) (HandlerReply, error) {
	words := strings.Fields(strings.TrimSpace(text))
	if len(words) == 0 {
		return HandlerReply{Message: "Me diga a marca ou o modelo, por exemplo: Fiat Argo."}, nil
	}
	st.Brand = words[0]
	st.Model = strings.Join(words[1:], " ")
	return ask(st, models.StageAwaitingCity, "Em qual cidade você está?")
}

func (h *CarDealerHandler) HandleBedrooms(ctx context.Context, text string, st *models.ConversationState) (HandlerReply, error) {
	st.MoveTo(models.StageSearching)
	return HandlerReply{Continue: true}, nil
}
