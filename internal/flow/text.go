package flow

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize lowercases s, folds accents and collapses whitespace. Punctuation other than the
// separators used by numbers, dates and times is replaced by spaces.
func Normalize(s string) string {
	folder := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(folder, strings.ToLower(s))
	if err != nil {
		folded = strings.ToLower(s)
	}
	mapped := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return r
		case r == '/', r == ':', r == '.', r == ',', r == '-', r == '+':
			return r
		}
		return ' '
	}, folded)
	return strings.Trim(strings.Join(strings.Fields(mapped), " "), ".,-")
}

var (
	noWords = map[string]struct{}{
		"nao": {}, "n": {}, "nope": {}, "negativo": {}, "nunca": {},
	}
	// "no" and "nem" are also Portuguese contractions ("no sabado", "nem sei"), so they only
	// count as a refusal when they make up the whole reply.
	noPhrases = []string{"no", "no thanks", "no obrigado", "nem pensar", "nem a pau"}
	yesPhrases = []string{
		"sim", "s", "claro", "pode", "pode ser", "ok", "okay", "quero", "isso", "com certeza",
		"yes", "y", "beleza", "bora", "perfeito", "certo", "confirmo", "confirmar", "confirmado",
		"positivo", "aham", "uhum", "top", "fechado", "combinado",
	}
)

// DetectYesNo classifies raw text as "yes", "no" or "" when it is neither.
func DetectYesNo(raw string) string {
	n := strings.Join(strings.Fields(strings.NewReplacer(",", " ", ".", " ").Replace(Normalize(raw))), " ")
	if n == "" {
		return ""
	}
	for _, tok := range strings.Fields(n) {
		if _, ok := noWords[tok]; ok {
			return "no"
		}
	}
	for _, p := range noPhrases {
		if n == p {
			return "no"
		}
	}
	for _, p := range yesPhrases {
		if n == p || strings.HasPrefix(n, p+" ") {
			return "yes"
		}
	}
	return ""
}

var scheduleMarkers = []string{
	"agendar", "agenda", "agendamento", "visita", "visitar", "marcar", "conhecer",
	"ver pessoalmente", "test drive", "schedule", "horario",
}

// HasScheduleIntent reports whether normalized text asks to book a visit.
func HasScheduleIntent(normalized string) bool {
	return containsAny(normalized, scheduleMarkers)
}

// IsSimpleInput reports whether normalized text is too short or too generic to carry
// entities worth extracting: confirmations, keypad digits and one or two letter replies.
func IsSimpleInput(normalized string) bool {
	if len([]rune(normalized)) < 4 {
		return true
	}
	if isDigits(strings.ReplaceAll(normalized, " ", "")) && len(normalized) <= 2 {
		return true
	}
	return DetectYesNo(normalized) != "" && len(strings.Fields(normalized)) <= 2
}

func containsAny(normalized string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(normalized, m) {
			return true
		}
	}
	return false
}

func hasWord(normalized string, words ...string) bool {
	for _, tok := range strings.Fields(normalized) {
		for _, w := range words {
			if tok == w {
				return true
			}
		}
	}
	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// Render replaces {{key}} placeholders with values from state. Missing keys render empty.
func Render(template string, state *models.ConversationState) string {
	if !strings.Contains(template, "{{") {
		return template
	}
	return placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		key := placeholderPattern.FindStringSubmatch(m)[1]
		return state.GetString(key)
	})
}
