package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/twiliowhatsapp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validFlow = `
start: welcome
nodes:
  - id: welcome
    type: message
    prompt: "Bem-vindo à Acme Imóveis!"
    transitions:
      - to: city
  - id: city
    type: capture_text
    prompt: "Em qual cidade?"
    config:
      path: city
    transitions:
      - to: bye
  - id: bye
    type: end
`

type apiResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *store.InMemoryStore) {
	t.Helper()
	mem := store.NewInMemoryStore()
	engine := flow.NewEngine(flow.WithCatalog(mem), flow.WithLeadTracker(mem))
	o := flow.NewOrchestrator(engine, mem, mem)
	opts = append([]Option{WithFlowRepository(mem), WithLeadReader(mem)}, opts...)
	return NewServer(o, opts...), mem
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var resp apiResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	}
	return rec, resp
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec, _ := do(t, s.Router(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Router()
	do(t, h, http.MethodPost, "/tenants/acme/chat", `{"sender_id":"5581999990000","text":"oi"}`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "leadpipe_turns_processed_total")
}

func TestChat_LegacyConversation(t *testing.T) {
	s, mem := newTestServer(t)
	h := s.Router()

	rec, resp := do(t, h, http.MethodPost, "/tenants/acme/chat", `{"sender_id":"5581999990000","text":"oi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", resp.Status)

	var reply ChatReply
	require.NoError(t, json.Unmarshal(resp.Result, &reply))
	assert.True(t, strings.HasPrefix(reply.Message, "Olá!"), reply.Message)
	assert.Equal(t, models.StageAwaitingPurpose, reply.Stage)

	st, err := mem.GetConversation(context.Background(), "acme", "5581999990000")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, models.StageAwaitingPurpose, st.Stage)
}

func TestChat_BadRequests(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Router()

	rec, resp := do(t, h, http.MethodPost, "/tenants/acme/chat", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "error", resp.Status)

	rec, resp = do(t, h, http.MethodPost, "/tenants/acme/chat", `{"text":"oi"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, models.ErrEmptySender.Error(), resp.Message)

	rec, _ = do(t, h, http.MethodGet, "/tenants/acme/chat", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestValidateFlow(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Router()

	rec, resp := do(t, h, http.MethodPost, "/flows/validate", validFlow)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "ok", resp.Status)
	assert.JSONEq(t, `{"start":"welcome","nodes":3}`, string(resp.Result))

	broken := `{"start":"missing","nodes":[{"id":"a","type":"warp_drive"}]}`
	rec, resp = do(t, h, http.MethodPost, "/flows/validate", broken)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid", resp.Status)
	var problems []string
	require.NoError(t, json.Unmarshal(resp.Result, &problems))
	assert.GreaterOrEqual(t, len(problems), 2, "expected the missing start and the unknown type, got %v", problems)

	rec, resp = do(t, h, http.MethodPost, "/flows/validate", "start: [")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid", resp.Status)
}

func TestFlowLifecycleDrivesChat(t *testing.T) {
	s, mem := newTestServer(t)
	h := s.Router()

	rec, resp := do(t, h, http.MethodPost, "/tenants/acme/flows/real_estate", validFlow)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"version":1}`, string(resp.Result))

	rec, _ = do(t, h, http.MethodPost, "/tenants/acme/flows/real_estate/7/publish", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = do(t, h, http.MethodPost, "/tenants/acme/flows/real_estate/abc/publish", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/tenants/acme/flows/real_estate/1/publish", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, resp = do(t, h, http.MethodGet, "/tenants/acme/flows", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var records []store.FlowRecord
	require.NoError(t, json.Unmarshal(resp.Result, &records))
	require.Len(t, records, 1)
	assert.True(t, records[0].Published)

	// welcome is a message node: it replies and stops at the city capture.
	rec, resp = do(t, h, http.MethodPost, "/tenants/acme/chat", `{"sender_id":"5581999990000","text":"oi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var reply ChatReply
	require.NoError(t, json.Unmarshal(resp.Result, &reply))
	assert.Equal(t, "Bem-vindo à Acme Imóveis!", reply.Message)

	rec, resp = do(t, h, http.MethodPost, "/tenants/acme/chat", `{"sender_id":"5581999990000","text":"qualquer"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(resp.Result, &reply))
	assert.Equal(t, "Em qual cidade?", reply.Message)

	rec, resp = do(t, h, http.MethodPost, "/tenants/acme/chat", `{"sender_id":"5581999990000","text":"Olinda"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(resp.Result, &reply))
	assert.Equal(t, flow.DefaultFarewell, reply.Message)
	st, err := mem.GetConversation(context.Background(), "acme", "5581999990000")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "Olinda", st.City)
}

func TestSaveFlowRejectsInvalidDocument(t *testing.T) {
	s, _ := newTestServer(t)
	rec, resp := do(t, s.Router(), http.MethodPost, "/tenants/acme/flows/real_estate", `{"start":"a","nodes":[]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid", resp.Status)
}

func TestGetLead(t *testing.T) {
	s, mem := newTestServer(t)
	h := s.Router()

	rec, _ := do(t, h, http.MethodGet, "/tenants/acme/leads/5581999990000", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	st := models.NewConversationState("acme", "5581999990000")
	st.City = "Recife"
	require.NoError(t, mem.CreateUnqualified(context.Background(), "5581999990000", st, true))

	rec, resp := do(t, h, http.MethodGet, "/tenants/acme/leads/5581999990000", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var lead models.Lead
	require.NoError(t, json.Unmarshal(resp.Result, &lead))
	assert.Equal(t, "5581999990000", lead.Phone)
	assert.True(t, lead.Consent)
}

func TestMissingCollaborators(t *testing.T) {
	s := NewServer(flow.NewOrchestrator(flow.NewEngine(), store.NewInMemoryStore(), nil))
	h := s.Router()
	for _, tc := range []struct{ method, target string }{
		{http.MethodGet, "/tenants/acme/flows"},
		{http.MethodPost, "/tenants/acme/flows/real_estate"},
		{http.MethodPost, "/tenants/acme/flows/real_estate/1/publish"},
		{http.MethodGet, "/tenants/acme/leads/5581999990000"},
	} {
		rec, _ := do(t, h, tc.method, tc.target, validFlow)
		assert.Equal(t, http.StatusNotImplemented, rec.Code, tc.target)
	}
	rec, _ := do(t, h, http.MethodPost, "/webhooks/twilio", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTwilioWebhookRoute(t *testing.T) {
	svc := messaging.NewTwilioService(twiliowhatsapp.NewMockClient(), "acme")
	s, _ := newTestServer(t, WithTwilioWebhook(svc))

	form := url.Values{"From": {"whatsapp:+5581999990000"}, "Body": {"oi"}, "MessageSid": {"SM1"}}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	r := <-svc.Responses()
	assert.Equal(t, "5581999990000", r.From)
	assert.Equal(t, "SM1", r.MessageID)
}

func TestWriteJSONResponseFallback(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSONResponse(rec, http.StatusOK, map[string]any{"bad": make(chan int)})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, string(fallbackErrorResponse), rec.Body.String())
}
