package flow

import (
	"testing"
	"time"
)

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in        string
		thousands bool
		want      float64
		ok        bool
	}{
		{"70", false, 70, true},
		{"70", true, 70000, true},
		{"70.5", false, 70.5, true},
		{"70,5", false, 70.5, true},
		{"1.200", false, 1200, true},
		{"1.200", true, 1200, true},
		{"r 1.500,50", false, 1500.5, true},
		{"70k", false, 70000, true},
		{"70 mil", false, 70000, true},
		{"300 mil", true, 300000, true},
		{"2 milhoes", false, 2000000, true},
		{"ate 450.000", false, 450000, true},
		{"nao sei", false, 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseNumber(tt.in, tt.thousands)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseNumber(%q, %v) = %v, %v; want %v, %v", tt.in, tt.thousands, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParsePrice_BoundsByPurpose(t *testing.T) {
	tests := []struct {
		in      string
		purpose string
		ok      bool
	}{
		{"5 mil", PurposeSale, false},
		{"50 mil", PurposeSale, true},
		{"200 milhoes", PurposeSale, false},
		{"50", PurposeRent, false},
		{"2.500", PurposeRent, true},
		{"2 milhoes", PurposeRent, false},
		{"150", "", true},
	}
	for _, tt := range tests {
		if _, ok := ParsePrice(tt.in, tt.purpose, false); ok != tt.ok {
			t.Errorf("ParsePrice(%q, %q) ok = %v, want %v", tt.in, tt.purpose, ok, tt.ok)
		}
	}
}

func TestParsePurposeAndPropertyType(t *testing.T) {
	if got := ParsePurpose("1"); got != PurposeSale {
		t.Errorf("ParsePurpose(1) = %q", got)
	}
	if got := ParsePurpose(Normalize("Quero alugar")); got != PurposeRent {
		t.Errorf("ParsePurpose(alugar) = %q", got)
	}
	if got := ParsePurpose("talvez"); got != "" {
		t.Errorf("ParsePurpose(talvez) = %q", got)
	}
	if got := ParsePropertyType(Normalize("um apê? não, apartamento")); got != PropertyApartment {
		t.Errorf("ParsePropertyType(apartamento) = %q", got)
	}
	if got := ParsePropertyType("2"); got != PropertyHouse {
		t.Errorf("ParsePropertyType(2) = %q", got)
	}
}

func TestParsePlace(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"são paulo", "São Paulo", true},
		{"  rio de janeiro. ", "Rio de Janeiro", true},
		{"x", "", false},
		{"123", "", false},
	}
	for _, tt := range tests {
		got, ok := ParsePlace(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParsePlace(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseBedrooms(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"3", 3, true},
		{"dois quartos", 2, true},
		{"kitnet", 0, true},
		{"15", 0, false},
		{"muitos", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseBedrooms(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseBedrooms(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParsePhone(t *testing.T) {
	sender := "5581999990000@s.whatsapp.net"
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"81 99999-0000", "81999990000", true},
		{"+55 (81) 98888-7777", "5581988887777", true},
		{"pode ser este número", "5581999990000", true},
		{"esse aqui: 81 98888 7777", "81988887777", true},
		{"12345", "", false},
	}
	for _, tt := range tests {
		got, ok := ParsePhone(tt.in, Normalize(tt.in), sender)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParsePhone(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
	if got := PhoneFromSender("whatsapp:+5581977776666"); got != "5581977776666" {
		t.Errorf("PhoneFromSender(twilio) = %q", got)
	}
	if got := PhoneFromSender("web-session-1"); got != "" {
		t.Errorf("PhoneFromSender(non-phone) = %q", got)
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"hoje", "2025-03-12", true},
		{"amanhã", "2025-03-13", true},
		{"depois de amanhã", "2025-03-14", true},
		{"sexta-feira", "2025-03-14", true},
		{"quarta", "2025-03-19", true},
		{"20/03", "2025-03-20", true},
		{"10/03", "2026-03-10", true},
		{"dia 5/4/2025", "2025-04-05", true},
		{"10/03/2025", "", false},
		{"31/02", "", false},
		{"qualquer dia", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseDate(Normalize(tt.in), testNow)
		if ok != tt.ok {
			t.Errorf("ParseDate(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && got.Format(DateLayout) != tt.want {
			t.Errorf("ParseDate(%q) = %s, want %s", tt.in, got.Format(DateLayout), tt.want)
		}
		if ok && got.Before(time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("ParseDate(%q) returned a past date %s", tt.in, got)
		}
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"de manhã", "10:00", true},
		{"à tarde", "15:00", true},
		{"noite", "19:00", true},
		{"14h30", "14:30", true},
		{"às 15h", "15:00", true},
		{"09:15", "09:15", true},
		{"20h", "20:00", true},
		{"10 horas", "10:00", true},
		{"16hs", "16:00", true},
		{"às 14", "14:00", true},
		{"pode ser às 9", "09:00", true},
		{"às 23", "", false},
		{"20:30", "", false},
		{"7h", "", false},
		{"22h", "", false},
		{"sei la", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseTime(Normalize(tt.in))
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseTime(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
