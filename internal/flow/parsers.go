package flow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Purposes and property types written to state.
const (
	PurposeSale = "sale"
	PurposeRent = "rent"

	PropertyApartment  = "apartment"
	PropertyHouse      = "house"
	PropertyLand       = "land"
	PropertyCommercial = "commercial"
)

// priceBounds are the accepted ranges per purpose, inclusive.
var priceBounds = map[string][2]float64{
	PurposeSale: {10_000, 100_000_000},
	PurposeRent: {100, 1_000_000},
}

var numberPattern = regexp.MustCompile(`(\d+(?:[.,]\d+)*)\s*(milhoes|milhao|mil|mi|k)?\b`)

var groupedThousands = regexp.MustCompile(`^\d{1,3}([.,]\d{3})+$`)

// parseNumber reads the first number in normalized text. It accepts "70", "70.5", "70,5",
// "1.200", "70k" and "70 mil". scaled reports whether a multiplier suffix was present.
func parseNumber(normalized string) (value float64, scaled bool, ok bool) {
	m := numberPattern.FindStringSubmatch(normalized)
	if m == nil {
		return 0, false, false
	}
	digits := m[1]
	switch {
	case groupedThousands.MatchString(digits):
		digits = strings.NewReplacer(".", "", ",", "").Replace(digits)
	case strings.Contains(digits, ".") && strings.Contains(digits, ","):
		digits = strings.ReplaceAll(digits, ".", "")
		digits = strings.ReplaceAll(digits, ",", ".")
	default:
		digits = strings.ReplaceAll(digits, ",", ".")
	}
	v, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return 0, false, false
	}
	switch m[2] {
	case "k", "mil":
		return v * 1_000, true, true
	case "mi", "milhao", "milhoes":
		return v * 1_000_000, true, true
	}
	return v, false, true
}

// ParseNumber parses a number, expanding values below 1000 to thousands when asked.
func ParseNumber(normalized string, treatAsThousands bool) (float64, bool) {
	v, scaled, ok := parseNumber(normalized)
	if !ok {
		return 0, false
	}
	if treatAsThousands && !scaled && v < 1000 {
		v *= 1000
	}
	return v, true
}

// ParsePrice parses a price and checks it against the bounds of purpose.
func ParsePrice(normalized, purpose string, treatAsThousands bool) (float64, bool) {
	v, ok := ParseNumber(normalized, treatAsThousands)
	if !ok {
		return 0, false
	}
	bounds, known := priceBounds[purpose]
	if !known {
		bounds = [2]float64{priceBounds[PurposeRent][0], priceBounds[PurposeSale][1]}
	}
	if v < bounds[0] || v > bounds[1] {
		return 0, false
	}
	return v, true
}

// ParsePurpose maps keypad shortcuts and free text to PurposeSale or PurposeRent.
func ParsePurpose(normalized string) string {
	switch {
	case normalized == "1" || containsAny(normalized, []string{"compr", "buy", "venda", "adquirir"}):
		return PurposeSale
	case normalized == "2" || containsAny(normalized, []string{"alug", "rent", "locacao", "locar"}):
		return PurposeRent
	}
	return ""
}

// ParsePropertyType maps keypad shortcuts and free text to a property type.
func ParsePropertyType(normalized string) string {
	switch {
	case normalized == "1" || containsAny(normalized, []string{"apartamento", "apto", "flat", "kitnet", "cobertura", "studio"}) || hasWord(normalized, "ap"):
		return PropertyApartment
	case normalized == "2" || containsAny(normalized, []string{"casa", "sobrado", "house"}):
		return PropertyHouse
	case normalized == "3" || containsAny(normalized, []string{"terreno", "lote"}):
		return PropertyLand
	case normalized == "4" || containsAny(normalized, []string{"comercial", "sala", "loja", "galpao"}):
		return PropertyCommercial
	}
	return ""
}

var smallWords = map[string]struct{}{"de": {}, "da": {}, "do": {}, "das": {}, "dos": {}, "e": {}}

// ParsePlace cleans a free-text city or neighborhood name into title case.
func ParsePlace(raw string) (string, bool) {
	fields := strings.Fields(strings.Trim(strings.TrimSpace(raw), ".!?,"))
	name := strings.Join(fields, " ")
	if len([]rune(name)) < 2 || len([]rune(name)) > 60 || strings.ContainsAny(name, "0123456789") {
		return "", false
	}
	titled := strings.Fields(cases.Title(language.BrazilianPortuguese).String(name))
	for i, w := range titled {
		if _, ok := smallWords[strings.ToLower(w)]; ok && i > 0 {
			titled[i] = strings.ToLower(w)
		}
	}
	return strings.Join(titled, " "), true
}

var bedroomWords = map[string]int{
	"um": 1, "uma": 1, "dois": 2, "duas": 2, "tres": 3, "quatro": 4, "cinco": 5,
}

// ParseBedrooms reads a bedroom count between 0 and 10. Studios count as zero.
func ParseBedrooms(normalized string) (int, bool) {
	if containsAny(normalized, []string{"studio", "kitnet", "nenhum"}) {
		return 0, true
	}
	for _, tok := range strings.Fields(normalized) {
		if n, ok := bedroomWords[tok]; ok {
			return n, true
		}
	}
	v, _, ok := parseNumber(normalized)
	if !ok || v != float64(int(v)) || v < 0 || v > 10 {
		return 0, false
	}
	return int(v), true
}

var thisNumberMarkers = []string{"este numero", "esse numero", "mesmo numero", "meu numero", "this number", "deste numero", "desse numero"}

// ParsePhone extracts a phone of 10 to 13 digits, or derives it from the sender id when
// the user answers with "this number".
func ParsePhone(raw, normalized, senderID string) (string, bool) {
	digits := onlyDigits(raw)
	if len(digits) >= 10 && len(digits) <= 13 {
		return digits, true
	}
	if containsAny(normalized, thisNumberMarkers) || hasWord(normalized, "este", "esse") {
		p := PhoneFromSender(senderID)
		return p, p != ""
	}
	return "", false
}

// PhoneFromSender returns the digits of a WhatsApp sender id ("5581999990000@s.whatsapp.net",
// "whatsapp:+5581999990000") when they form a plausible phone.
func PhoneFromSender(senderID string) string {
	id := strings.TrimPrefix(senderID, "whatsapp:")
	if at := strings.IndexAny(id, "@:"); at >= 0 {
		id = id[:at]
	}
	digits := onlyDigits(id)
	if len(digits) < 10 || len(digits) > 13 {
		return ""
	}
	return digits
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var weekdays = map[string]time.Weekday{
	"domingo": time.Sunday, "segunda": time.Monday, "terca": time.Tuesday, "quarta": time.Wednesday,
	"quinta": time.Thursday, "sexta": time.Friday, "sabado": time.Saturday,
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
}

var datePattern = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{2,4}))?\b`)

// DateLayout is the format visit dates are stored in.
const DateLayout = "2006-01-02"

// ParseDate understands today/tomorrow/day after tomorrow, weekday names and DD/MM[/YYYY].
// Dates in the past are rejected; a DD/MM already passed this year rolls to the next.
func ParseDate(normalized string, now time.Time) (time.Time, bool) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch {
	case strings.Contains(normalized, "depois de amanha") || strings.Contains(normalized, "day after tomorrow"):
		return today.AddDate(0, 0, 2), true
	case strings.Contains(normalized, "amanha") || strings.Contains(normalized, "tomorrow"):
		return today.AddDate(0, 0, 1), true
	case hasWord(normalized, "hoje", "today"):
		return today, true
	}
	if m := datePattern.FindStringSubmatch(normalized); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year := today.Year()
		explicitYear := m[3] != ""
		if explicitYear {
			year, _ = strconv.Atoi(m[3])
			if year < 100 {
				year += 2000
			}
		}
		d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, now.Location())
		if d.Day() != day || int(d.Month()) != month {
			return time.Time{}, false
		}
		if d.Before(today) {
			if explicitYear {
				return time.Time{}, false
			}
			d = d.AddDate(1, 0, 0)
		}
		return d, true
	}
	for _, tok := range strings.Fields(strings.ReplaceAll(normalized, "-", " ")) {
		if wd, ok := weekdays[tok]; ok {
			ahead := (int(wd) - int(today.Weekday()) + 7) % 7
			if ahead == 0 {
				ahead = 7
			}
			return today.AddDate(0, 0, ahead), true
		}
	}
	return time.Time{}, false
}

// Visiting hours, inclusive.
const (
	FirstVisitHour = 8
	LastVisitHour  = 20
)

var (
	timePattern = regexp.MustCompile(`\b(\d{1,2})\s*(?::|horas?\b|hs?\b|h)\s*(\d{2})?\b`)
	// loneHourPattern is a reply ending in a bare hour, as in "14" or "pode ser as 14".
	loneHourPattern = regexp.MustCompile(`^(?:.*\bas\s+)?(\d{1,2})()$`)
)

// ParseTime understands periods of the day (morning 10:00, afternoon 15:00, evening 19:00),
// "HH:MM", "HHh", "14h30", "10 horas" and a bare hour. Times outside visiting hours are rejected.
func ParseTime(normalized string) (string, bool) {
	m := timePattern.FindStringSubmatch(normalized)
	if m == nil {
		m = loneHourPattern.FindStringSubmatch(normalized)
	}
	if m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if minute > 59 || hour < FirstVisitHour || hour > LastVisitHour || (hour == LastVisitHour && minute > 0) {
			return "", false
		}
		return fmt.Sprintf("%02d:%02d", hour, minute), true
	}
	switch {
	case containsAny(normalized, []string{"manha", "morning"}):
		return "10:00", true
	case containsAny(normalized, []string{"tarde", "afternoon"}):
		return "15:00", true
	case containsAny(normalized, []string{"noite", "evening"}):
		return "19:00", true
	}
	return "", false
}
