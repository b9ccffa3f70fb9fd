package flow

import (
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// domainCapture describes one built-in capture: its question, its invalid-answer message,
// and where the built-in chain goes next.
type domainCapture struct {
	question  string
	invalid   string
	nextKind  models.NodeType
	nextStage string
}

var domainCaptures = map[models.NodeType]domainCapture{
	models.NodeTypeCapturePurpose: {
		question:  "Você procura um imóvel para comprar ou alugar?\n1) Comprar\n2) Alugar",
		invalid:   "Não entendi. Responda 1 para comprar ou 2 para alugar.",
		nextKind:  models.NodeTypeCapturePropertyType,
		nextStage: models.StageAwaitingPropertyType,
	},
	models.NodeTypeCapturePropertyType: {
		question:  "Qual tipo de imóvel?\n1) Apartamento\n2) Casa\n3) Terreno\n4) Comercial",
		invalid:   "Não reconheci o tipo. Responda com 1, 2, 3 ou 4.",
		nextKind:  models.NodeTypeCaptureCity,
		nextStage: models.StageAwaitingCity,
	},
	models.NodeTypeCaptureCity: {
		question:  "Em qual cidade você procura?",
		invalid:   "Não consegui entender a cidade. Pode digitar só o nome?",
		nextKind:  models.NodeTypeCaptureBedrooms,
		nextStage: models.StageAwaitingBedrooms,
	},
	models.NodeTypeCaptureNeighborhood: {
		question:  "Tem algum bairro de preferência?",
		invalid:   "Não entendi o bairro. Pode digitar só o nome?",
		nextKind:  models.NodeTypeCaptureBedrooms,
		nextStage: models.StageAwaitingBedrooms,
	},
	models.NodeTypeCaptureBedrooms: {
		question:  "Quantos quartos, no mínimo?",
		invalid:   "Me diga um número de quartos entre 0 e 10.",
		nextKind:  models.NodeTypeCapturePriceMin,
		nextStage: models.StageAwaitingPriceMin,
	},
	models.NodeTypeCapturePriceMin: {
		question:  "Qual o valor mínimo que você considera?",
		invalid:   "Esse valor não parece válido. Tente algo como 200 mil ou 1.500.",
		nextKind:  models.NodeTypeCapturePriceMax,
		nextStage: models.StageAwaitingPriceMax,
	},
	models.NodeTypeCapturePriceMax: {
		question:  "Até quanto você pretende investir?",
		invalid:   "Esse valor não parece válido. Tente algo como 500 mil ou 3.000.",
		nextKind:  models.NodeTypeExecuteSearch,
		nextStage: models.StageSearching,
	},
	models.NodeTypeCapturePhone: {
		question:  "Qual telefone podemos usar para a visita? Se for este mesmo, responda \"este número\".",
		invalid:   "Não reconheci o telefone. Envie com DDD, por exemplo 81 99999-0000.",
		nextKind:  models.NodeTypeCaptureDate,
		nextStage: models.StageAwaitingVisitDate,
	},
	models.NodeTypeCaptureDate: {
		question:  "Qual dia fica melhor para a visita? (ex.: amanhã, sábado ou 25/12)",
		invalid:   "Não entendi a data. Pode mandar algo como amanhã, sexta ou 25/12?",
		nextKind:  models.NodeTypeCaptureTime,
		nextStage: models.StageAwaitingVisitTime,
	},
	models.NodeTypeCaptureTime: {
		question:  "E qual horário? Atendemos das 8h às 20h (ex.: 10h, 14h30, de manhã).",
		invalid:   "Esse horário não está disponível. Escolha entre 8h e 20h.",
		nextStage: models.StageAwaitingVisitConfirm,
	},
}

// processDomainCapture parses immediately whenever there is input, so a preceding node may
// ask the question itself. Empty input shows the question.
func (e *Engine) processDomainCapture(c *nodeCall, cfg models.DomainCaptureConfig) {
	dc := domainCaptures[c.kind]
	if strings.TrimSpace(c.raw) == "" {
		c.state.PromptShown = true
		c.say(c.prompt(dc.question))
		c.hold()
		return
	}
	if !e.storeDomainAnswer(c, cfg) {
		c.state.Retries++
		msg := dc.invalid
		if cfg.InvalidMessage != "" {
			msg = Render(cfg.InvalidMessage, c.state)
		}
		c.say(msg)
		c.hold()
		return
	}
	c.state.PromptShown = false
	c.state.Retries = 0
	c.cont = true

	switch {
	case c.state.Refinement && searchReady(c.state, c.domain):
		c.state.Refinement = false
		c.moveTo(searchStage(c.def, c.domain))
	case len(c.node.Transitions) > 0:
		// default transition applied by the engine
	default:
		next := stageFor(c.def, dc.nextKind, dc.nextStage)
		if dc.nextKind == models.NodeTypeExecuteSearch {
			next = searchStage(c.def, c.domain)
		}
		c.moveTo(next)
	}
}

// storeDomainAnswer parses the answer for the node kind and writes it to state.
func (e *Engine) storeDomainAnswer(c *nodeCall, cfg models.DomainCaptureConfig) bool {
	st := c.state
	switch c.kind {
	case models.NodeTypeCapturePurpose:
		p := ParsePurpose(c.norm)
		if p == "" {
			return false
		}
		st.Purpose = p
	case models.NodeTypeCapturePropertyType:
		t := ParsePropertyType(c.norm)
		if t == "" {
			return false
		}
		st.PropertyType = t
	case models.NodeTypeCaptureCity:
		city, ok := ParsePlace(c.raw)
		if !ok {
			return false
		}
		st.City = city
	case models.NodeTypeCaptureNeighborhood:
		if hasWord(c.norm, "qualquer", "tanto", "nenhum", "indiferente") {
			st.Neighborhood = ""
			return true
		}
		n, ok := ParsePlace(c.raw)
		if !ok {
			return false
		}
		st.Neighborhood = n
	case models.NodeTypeCaptureBedrooms:
		n, ok := ParseBedrooms(c.norm)
		if !ok {
			return false
		}
		st.Bedrooms = &n
	case models.NodeTypeCapturePriceMin:
		v, ok := ParsePrice(c.norm, st.Purpose, cfg.TreatAsThousands)
		if !ok {
			return false
		}
		st.PriceMin = &v
	case models.NodeTypeCapturePriceMax:
		v, ok := ParsePrice(c.norm, st.Purpose, cfg.TreatAsThousands)
		if !ok {
			return false
		}
		st.PriceMax = &v
	case models.NodeTypeCapturePhone:
		p, ok := ParsePhone(c.raw, c.norm, c.senderID)
		if !ok {
			return false
		}
		st.VisitPhone = p
	case models.NodeTypeCaptureDate:
		d, ok := ParseDate(c.norm, e.now())
		if !ok {
			return false
		}
		st.VisitDate = d.Format(DateLayout)
	case models.NodeTypeCaptureTime:
		t, ok := ParseTime(c.norm)
		if !ok {
			return false
		}
		st.VisitTime = t
	default:
		return false
	}
	return true
}

// searchReady reports whether the fields a search needs are present.
func searchReady(st *models.ConversationState, domain models.Domain) bool {
	if domain == models.DomainCarDealer {
		return st.Brand != "" || st.Model != ""
	}
	return st.City != "" && st.PropertyType != ""
}

// searchStage is the node that runs the search for domain.
func searchStage(def *models.FlowDefinition, domain models.Domain) string {
	if domain == models.DomainCarDealer {
		return stageFor(def, models.NodeTypeExecuteVehicleSearch, models.StageSearching)
	}
	return stageFor(def, models.NodeTypeExecuteSearch, models.StageSearching)
}
