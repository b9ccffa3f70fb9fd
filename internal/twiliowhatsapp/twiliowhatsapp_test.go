package twiliowhatsapp

import (
	"context"
	"errors"
	"testing"

	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type fakeAPI struct {
	params []*twilioApi.CreateMessageParams
	err    error
}

func (f *fakeAPI) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	sid := "SM123"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func TestWhatsAppAddress(t *testing.T) {
	tests := map[string]string{
		"5581999990000":           "whatsapp:+5581999990000",
		"+5581999990000":          "whatsapp:+5581999990000",
		"whatsapp:+5581999990000": "whatsapp:+5581999990000",
		" whatsapp:5581999990000": "whatsapp:+5581999990000",
	}
	for in, want := range tests {
		if got := WhatsAppAddress(in); got != want {
			t.Errorf("WhatsAppAddress(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClientSendMessage(t *testing.T) {
	api := &fakeAPI{}
	c := newClient(api, "+14155238886")

	if err := c.SendMessage(context.Background(), "5581999990000", "Olá"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(api.params) != 1 {
		t.Fatalf("expected 1 call, got %d", len(api.params))
	}
	p := api.params[0]
	if *p.To != "whatsapp:+5581999990000" {
		t.Errorf("To = %q", *p.To)
	}
	if *p.From != "whatsapp:+14155238886" {
		t.Errorf("From = %q", *p.From)
	}
	if *p.Body != "Olá" {
		t.Errorf("Body = %q", *p.Body)
	}
}

func TestClientSendMessageError(t *testing.T) {
	boom := errors.New("rate limited")
	c := newClient(&fakeAPI{err: boom}, "+14155238886")
	if err := c.SendMessage(context.Background(), "5581999990000", "Olá"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestNewClientValidation(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
	if _, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok")); !errors.Is(err, ErrMissingFromNumber) {
		t.Fatalf("expected ErrMissingFromNumber, got %v", err)
	}

	t.Setenv("TWILIO_FROM_NUMBER", "+14155238886")
	c, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.fromWhats != "whatsapp:+14155238886" {
		t.Errorf("fromWhats = %q", c.fromWhats)
	}
}

func TestMockClient(t *testing.T) {
	m := NewMockClient()
	if err := m.SendMessage(context.Background(), "12345", "Hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent := m.Sent(); len(sent) != 1 || sent[0].Body != "Hello" {
		t.Fatalf("unexpected sent messages: %+v", sent)
	}
}
