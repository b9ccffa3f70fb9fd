package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Default texts of the decision nodes.
const (
	DefaultFeedbackClarify   = "Não entendi. Quer ver o próximo, mais detalhes deste ou agendar uma visita?"
	DefaultRefinementClarify = "Quer ajustar algum filtro (cidade, bairro, tipo, quartos ou preço) ou começar uma nova busca?"
	DefaultAskWhichFilter    = "Claro! Qual filtro você quer ajustar: cidade, bairro, tipo, quartos ou preço?"
	DefaultDisengage         = "Tudo bem! Se quiser retomar a busca, é só mandar uma mensagem."
	DefaultAskVisitPhone     = "Ótimo! Vamos agendar uma visita. Qual telefone podemos usar? Se for este mesmo, responda \"este número\"."
)

// refinementField is a search criterion a user can ask to change.
type refinementField struct {
	name      string
	keywords  []string
	kind      models.NodeType
	stage     string
	question  string
	parse     func(normalized string, st *models.ConversationState) (any, bool)
	entityKey string
}

var (
	priceKeywords = []string{"preco", "valor", "orcamento", "ate", "maximo", "barato", "caro"}
	// bedroomPattern anchors the count to its noun so other numbers in the reply are ignored.
	bedroomPattern = regexp.MustCompile(`\b(\d{1,2}|um|uma|dois|duas|tres|quatro|cinco)\s*(?:quartos?|dormitorios?|suites?)\b`)
)

// priceAfterKeyword parses the first amount after a price keyword, checked against the
// bounds of the current purpose.
func priceAfterKeyword(normalized string, st *models.ConversationState) (any, bool) {
	tokens := strings.Fields(normalized)
	for i, tok := range tokens {
		if !slices.Contains(priceKeywords, strings.Trim(tok, ".,:")) {
			continue
		}
		if v, ok := ParsePrice(strings.Join(tokens[i+1:], " "), st.Purpose, true); ok {
			return v, true
		}
	}
	return nil, false
}

var refinementFields = []refinementField{
	{
		name: "price", keywords: []string{"preco", "valor", "barato", "caro", "orcamento", "ate "},
		kind: models.NodeTypeCapturePriceMax, stage: models.StageAwaitingPriceMax,
		question:  "Qual o novo valor máximo?",
		entityKey: "price_max",
		parse:     priceAfterKeyword,
	},
	{
		name: "bedrooms", keywords: []string{"quarto", "dormitorio", "suite"},
		kind: models.NodeTypeCaptureBedrooms, stage: models.StageAwaitingBedrooms,
		question:  "Quantos quartos, no mínimo?",
		entityKey: "bedrooms",
		parse: func(normalized string, _ *models.ConversationState) (any, bool) {
			m := bedroomPattern.FindStringSubmatch(normalized)
			if m == nil {
				return nil, false
			}
			return ParseBedrooms(m[1])
		},
	},
	{
		name: "neighborhood", keywords: []string{"bairro", "regiao"},
		kind: models.NodeTypeCaptureNeighborhood, stage: models.StageAwaitingNeighborhood,
		question:  "Qual bairro você prefere?",
		entityKey: "neighborhood",
	},
	{
		name: "city", keywords: []string{"cidade"},
		kind: models.NodeTypeCaptureCity, stage: models.StageAwaitingCity,
		question:  "Em qual cidade você quer buscar?",
		entityKey: "city",
	},
	{
		name: "property_type", keywords: []string{"tipo", "casa", "apartamento", "apto", "terreno", "comercial"},
		kind: models.NodeTypeCapturePropertyType, stage: models.StageAwaitingPropertyType,
		question:  "Qual tipo de imóvel?\n1) Apartamento\n2) Casa\n3) Terreno\n4) Comercial",
		entityKey: "property_type",
		parse: func(normalized string, _ *models.ConversationState) (any, bool) {
			t := ParsePropertyType(normalized)
			return t, t != ""
		},
	},
}

var (
	refineVerbs      = []string{"mudar", "trocar", "alterar", "ajustar", "refinar", "outra", "outro", "diferente", "mais barato", "menor", "maior", "com mais", "com menos"}
	disengageMarkers = []string{"nao gostei de nenhum", "nenhum", "parar", "chega", "nao quero mais", "tchau", "sair", "deixa pra la", "desisto", "obrigado", "obrigada"}
	detailMarkers    = []string{"detalhe", "mais informac", "foto", "link", "descricao", "me fala mais", "saber mais"}
	nextMarkers      = []string{"proximo", "proxima", "outro", "outra opcao", "mais opcoes", "seguinte", "nao gostei", "pular"}
	interestMarkers  = []string{"gostei", "interess", "quero esse", "quero este", "quero essa", "amei", "perfeito"}
	restartMarkers   = []string{"nova busca", "buscar de novo", "recomecar", "comecar de novo", "do zero", "outra busca"}
)

// refinement is one criterion named in a reply, with its new value when the reply carries it.
type refinement struct {
	field *refinementField
	value any
	found bool
}

// detectRefinements finds every criterion the user wants to change, in field order, with the
// new values the input (or the sanitized extraction) carries. requireVerb demands an explicit
// change request for fields named without a value.
func detectRefinements(c *nodeCall, requireVerb bool) []refinement {
	var out []refinement
	for i := range refinementFields {
		f := &refinementFields[i]
		if !containsAny(c.norm, f.keywords) {
			continue
		}
		r := refinement{field: f}
		if f.parse != nil {
			r.value, r.found = f.parse(c.norm, c.state)
		}
		if !r.found && f.parse == nil {
			if v, ok := c.state.LLMEntities[f.entityKey]; ok && v != nil && v != "" {
				r.value, r.found = v, true
			}
		}
		if requireVerb && !r.found && !containsAny(c.norm, refineVerbs) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// refine applies the refinements of one reply: when any carries a value all values are stored
// and the search reruns silently, otherwise the conversation moves to the first field's
// capture with refinement mode on.
func (e *Engine) refine(c *nodeCall, refs []refinement) {
	st := c.state
	applied := false
	for _, r := range refs {
		if !r.found {
			continue
		}
		if err := st.Set(r.field.entityKey, r.value); err != nil {
			slog.Warn("Engine refinement value rejected", "field", r.field.entityKey, "error", err)
			continue
		}
		applied = true
	}
	if applied {
		st.Refinement = false
		c.moveTo(searchStage(c.def, c.domain))
		c.cont = true
		return
	}
	f := refs[0].field
	if err := st.Set(f.entityKey, nil); err != nil {
		slog.Warn("Engine refinement could not clear field", "field", f.entityKey, "error", err)
	}
	st.Refinement = true
	c.moveTo(stageFor(c.def, f.kind, f.stage))
	c.say(f.question)
}

func (e *Engine) disengage(c *nodeCall) {
	c.say(DefaultDisengage)
	c.state.Finished = true
	c.moveTo(models.StageStart)
}

// processFeedbackDecision interprets the reply to a result card. Priority: refinement,
// disengagement, more detail, next item, interest, clarification.
func (e *Engine) processFeedbackDecision(ctx context.Context, c *nodeCall, cfg models.DecisionConfig) error {
	st := c.state
	clarify := DefaultFeedbackClarify
	if cfg.ClarifyMessage != "" {
		clarify = Render(cfg.ClarifyMessage, st)
	}
	if c.norm == "" {
		c.say(c.prompt(clarify))
		c.hold()
		return nil
	}

	if refs := detectRefinements(c, true); len(refs) > 0 {
		e.refine(c, refs)
		return nil
	}
	yesNo := DetectYesNo(c.raw)
	switch {
	case containsAny(c.norm, disengageMarkers):
		e.disengage(c)
	case containsAny(c.norm, detailMarkers):
		if e.catalog == nil {
			return ErrNoCatalog
		}
		item, err := e.catalog.Get(ctx, st.TenantID, st.CurrentItemID)
		if errors.Is(err, models.ErrItemNotFound) {
			c.say(clarify)
			c.hold()
			return nil
		}
		if err != nil {
			return fmt.Errorf("catalog get failed: %w", err)
		}
		c.say(FormatDetails(item) + "\n\n" + DefaultCardFooter)
		c.hold()
	case containsAny(c.norm, nextMarkers) || yesNo == "no":
		st.ResultCursor++
		c.moveTo(stageFor(c.def, models.NodeTypeShowPropertyCard, models.StageShowingProperty))
		c.cont = true
	case HasScheduleIntent(c.norm) || containsAny(c.norm, interestMarkers) || yesNo == "yes":
		st.Qualified = true
		if e.leads != nil {
			if err := e.leads.MarkQualified(ctx, c.senderID, st); err != nil {
				return fmt.Errorf("failed to mark lead qualified: %w", err)
			}
		}
		c.say(DefaultAskVisitPhone)
		c.moveTo(stageFor(c.def, models.NodeTypeCapturePhone, models.StageAwaitingVisitPhone))
	default:
		c.say(clarify)
		c.hold()
	}
	return nil
}

// processRefinementDecision interprets the reply after an empty or exhausted search.
// Priority: refinement, disengagement, restart, generic yes, clarification.
func (e *Engine) processRefinementDecision(ctx context.Context, c *nodeCall, cfg models.DecisionConfig) error {
	st := c.state
	clarify := DefaultRefinementClarify
	if cfg.ClarifyMessage != "" {
		clarify = Render(cfg.ClarifyMessage, st)
	}
	if c.norm == "" {
		c.say(c.prompt(clarify))
		c.hold()
		return nil
	}

	if refs := detectRefinements(c, false); len(refs) > 0 {
		e.refine(c, refs)
		return nil
	}
	yesNo := DetectYesNo(c.raw)
	switch {
	case yesNo == "no" || containsAny(c.norm, disengageMarkers):
		e.disengage(c)
	case containsAny(c.norm, restartMarkers):
		st.ClearAnswers()
		c.moveTo(stageFor(c.def, models.NodeTypeCapturePurpose, models.StageAwaitingPurpose))
		c.cont = true
	case yesNo == "yes" || strings.Contains(c.norm, "ajust"):
		st.Refinement = true
		c.say(DefaultAskWhichFilter)
		c.hold()
	default:
		c.say(clarify)
		c.hold()
	}
	return nil
}
