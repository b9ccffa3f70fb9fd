package messaging

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// fakeService is an in-memory Service.
type fakeService struct {
	*eventChannels
	mu      sync.Mutex
	sent    []sentMessage
	sendErr error
}

type sentMessage struct {
	to, body string
}

func newFakeService() *fakeService {
	return &fakeService{eventChannels: newEventChannels()}
}

func (f *fakeService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(recipient)
}

func (f *fakeService) SendMessage(ctx context.Context, to, body string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{to, body})
	return nil
}

func (f *fakeService) Start(ctx context.Context) error { return nil }
func (f *fakeService) Stop() error                     { f.close(); return nil }
func (f *fakeService) Receipts() <-chan models.Receipt { return f.receipts }
func (f *fakeService) Responses() <-chan models.Response {
	return f.responses
}

func (f *fakeService) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

// echoTurns replies with the inbound text and tracks concurrency per sender.
type echoTurns struct {
	calls    atomic.Int32
	active   sync.Map
	overlaps atomic.Int32
	delay    time.Duration
	err      error
	turns    []flow.Turn
	mu       sync.Mutex
}

func (e *echoTurns) HandleTurn(ctx context.Context, turn flow.Turn) (flow.TurnResult, error) {
	e.calls.Add(1)
	e.mu.Lock()
	e.turns = append(e.turns, turn)
	e.mu.Unlock()
	if e.err != nil {
		return flow.TurnResult{}, e.err
	}
	if _, busy := e.active.LoadOrStore(turn.SenderID, true); busy {
		e.overlaps.Add(1)
	}
	time.Sleep(e.delay)
	e.active.Delete(turn.SenderID)
	return flow.TurnResult{Message: "eco: " + turn.Text, Outcome: "message"}, nil
}

func (e *echoTurns) lastTurn() flow.Turn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.turns[len(e.turns)-1]
}

func TestProcessResponse_SendsReply(t *testing.T) {
	svc := newFakeService()
	turns := &echoTurns{}
	rh := NewResponseHandler(svc, turns, WithDefaultTenant("acme"), WithDomain(models.DomainCarDealer))

	err := rh.ProcessResponse(context.Background(), models.Response{From: "whatsapp:+5581999990000", Body: "oi"})
	if err != nil {
		t.Fatalf("ProcessResponse failed: %v", err)
	}
	got := turns.lastTurn()
	if got.TenantID != "acme" || got.SenderID != "5581999990000" || got.Domain != models.DomainCarDealer {
		t.Errorf("unexpected turn %+v", got)
	}
	sent := svc.messages()
	if len(sent) != 1 || sent[0].to != "5581999990000" || sent[0].body != "eco: oi" {
		t.Fatalf("unexpected sends %+v", sent)
	}
}

func TestProcessResponse_TenantFromMessage(t *testing.T) {
	turns := &echoTurns{}
	rh := NewResponseHandler(newFakeService(), turns, WithDefaultTenant("acme"))
	if err := rh.ProcessResponse(context.Background(), models.Response{TenantID: "other", From: "5581999990000", Body: "oi"}); err != nil {
		t.Fatalf("ProcessResponse failed: %v", err)
	}
	if turns.lastTurn().TenantID != "other" {
		t.Errorf("expected tenant from the message, got %q", turns.lastTurn().TenantID)
	}
}

func TestProcessResponse_Errors(t *testing.T) {
	ctx := context.Background()

	rh := NewResponseHandler(newFakeService(), &echoTurns{})
	if err := rh.ProcessResponse(ctx, models.Response{From: "5581999990000", Body: "oi"}); !errors.Is(err, models.ErrEmptyTenant) {
		t.Errorf("expected ErrEmptyTenant, got %v", err)
	}
	if err := rh.ProcessResponse(ctx, models.Response{TenantID: "acme", From: "abc", Body: "oi"}); err == nil {
		t.Error("expected invalid sender error")
	}

	boom := errors.New("boom")
	rh = NewResponseHandler(newFakeService(), &echoTurns{err: boom}, WithDefaultTenant("acme"))
	if err := rh.ProcessResponse(ctx, models.Response{From: "5581999990000", Body: "oi"}); !errors.Is(err, boom) {
		t.Errorf("expected turn error, got %v", err)
	}

	svc := newFakeService()
	svc.sendErr = ErrServiceStopped
	rh = NewResponseHandler(svc, &echoTurns{}, WithDefaultTenant("acme"))
	if err := rh.ProcessResponse(ctx, models.Response{From: "5581999990000", Body: "oi"}); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected send error, got %v", err)
	}
}

func TestProcessResponse_DedupDropsRedelivery(t *testing.T) {
	mem := store.NewInMemoryStore()
	svc := newFakeService()
	turns := &echoTurns{}
	rh := NewResponseHandler(svc, turns, WithDefaultTenant("acme"), WithDedupRepo(mem))

	msg := models.Response{MessageID: "wamid-1", From: "5581999990000", Body: "oi"}
	for i := 0; i < 3; i++ {
		if err := rh.ProcessResponse(context.Background(), msg); err != nil {
			t.Fatalf("ProcessResponse #%d failed: %v", i, err)
		}
	}
	if turns.calls.Load() != 1 {
		t.Errorf("expected one turn, got %d", turns.calls.Load())
	}
	if len(svc.messages()) != 1 {
		t.Errorf("expected one reply, got %d", len(svc.messages()))
	}
	if dup, _ := mem.IsDuplicate("acme", "wamid-1"); !dup {
		t.Error("message id should be recorded")
	}
	if rec, ok := mem.DedupRecord("acme", "wamid-1"); !ok || rec.ProcessedAt == nil || rec.SenderID != "5581999990000" {
		t.Errorf("unexpected dedup record %+v", rec)
	}

	// the same provider id from another tenant is a different message
	other := msg
	other.TenantID = "globex"
	if err := rh.ProcessResponse(context.Background(), other); err != nil {
		t.Fatalf("ProcessResponse for another tenant failed: %v", err)
	}
	if turns.calls.Load() != 2 {
		t.Errorf("expected a turn for the second tenant, got %d turns", turns.calls.Load())
	}

	// messages without an id are never deduplicated
	noID := models.Response{From: "5581999990000", Body: "de novo"}
	_ = rh.ProcessResponse(context.Background(), noID)
	_ = rh.ProcessResponse(context.Background(), noID)
	if turns.calls.Load() != 4 {
		t.Errorf("expected 4 turns, got %d", turns.calls.Load())
	}
}

func TestProcessResponse_OutboxQueuesReply(t *testing.T) {
	mem := store.NewInMemoryStore()
	svc := newFakeService()
	rh := NewResponseHandler(svc, &echoTurns{}, WithDefaultTenant("acme"), WithOutbox(mem))

	msg := models.Response{MessageID: "wamid-9", From: "5581999990000", Body: "oi"}
	if err := rh.ProcessResponse(context.Background(), msg); err != nil {
		t.Fatalf("ProcessResponse failed: %v", err)
	}
	if len(svc.messages()) != 0 {
		t.Fatalf("reply should be queued, not sent: %+v", svc.messages())
	}
	queued := mem.OutboxMessages()
	if len(queued) != 1 {
		t.Fatalf("expected 1 queued reply, got %d", len(queued))
	}
	if queued[0].Recipient != "5581999990000" || queued[0].Body != "eco: oi" || queued[0].DedupeKey != "reply:wamid-9" {
		t.Errorf("unexpected outbox message %+v", queued[0])
	}

	sender := store.NewOutboxSender(mem, "acme", OutboxSendFunc(svc), time.Second)
	sender.Poll(context.Background())
	sent := svc.messages()
	if len(sent) != 1 || sent[0].body != "eco: oi" {
		t.Fatalf("outbox sender did not deliver: %+v", sent)
	}
	if st := mem.OutboxMessages()[0].Status; st != store.OutboxStatusSent {
		t.Errorf("outbox status %s, want sent", st)
	}
}

func TestStart_SerializesSameSender(t *testing.T) {
	svc := newFakeService()
	turns := &echoTurns{delay: 20 * time.Millisecond}
	rh := NewResponseHandler(svc, turns, WithDefaultTenant("acme"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rh.Start(ctx)

	for i := 0; i < 5; i++ {
		svc.emitResponse(models.Response{From: "5581999990000", Body: "a"})
		svc.emitResponse(models.Response{From: "5581988880000", Body: "b"})
	}
	deadline := time.Now().Add(5 * time.Second)
	for turns.calls.Load() < 10 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	rh.Wait()

	if turns.calls.Load() != 10 {
		t.Fatalf("expected 10 turns, got %d", turns.calls.Load())
	}
	if turns.overlaps.Load() != 0 {
		t.Errorf("turns of the same sender overlapped %d times", turns.overlaps.Load())
	}
	if len(svc.messages()) != 10 {
		t.Errorf("expected 10 replies, got %d", len(svc.messages()))
	}
	rh.locksMu.Lock()
	left := len(rh.locks)
	rh.locksMu.Unlock()
	if left != 0 {
		t.Errorf("sender locks leaked: %d", left)
	}
}

func TestStart_RecordsReceipts(t *testing.T) {
	mem := store.NewInMemoryStore()
	svc := newFakeService()
	rh := NewResponseHandler(svc, &echoTurns{}, WithDefaultTenant("acme"), WithReceiptRecorder(mem))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rh.Start(ctx)

	svc.emitReceipt(models.Receipt{To: "5581999990000", Status: models.MessageStatusDelivered, Time: 1})
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if receipts, _ := mem.GetReceipts(); len(receipts) == 1 {
			if receipts[0].Status != models.MessageStatusDelivered {
				t.Errorf("unexpected receipt %+v", receipts[0])
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("receipt was not recorded")
}

func TestProcessResponse_WithOrchestrator(t *testing.T) {
	mem := store.NewInMemoryStore()
	engine := flow.NewEngine(flow.WithCatalog(mem), flow.WithLeadTracker(mem))
	o := flow.NewOrchestrator(engine, mem, mem)
	svc := newFakeService()
	rh := NewResponseHandler(svc, o, WithDefaultTenant("acme"), WithDedupRepo(mem))

	if err := rh.ProcessResponse(context.Background(), models.Response{MessageID: "m1", From: "whatsapp:+5581999990000", Body: "oi"}); err != nil {
		t.Fatalf("ProcessResponse failed: %v", err)
	}
	sent := svc.messages()
	if len(sent) != 1 || !strings.HasPrefix(sent[0].body, "Olá!") {
		t.Fatalf("expected greeting, got %+v", sent)
	}
	st, err := mem.GetConversation(context.Background(), "acme", "5581999990000")
	if err != nil || st == nil {
		t.Fatalf("conversation not stored: %v", err)
	}
	if st.Stage != models.StageAwaitingPurpose {
		t.Errorf("stage %q, want %q", st.Stage, models.StageAwaitingPurpose)
	}
}

func TestCanonicalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"5581999990000", "5581999990000", false},
		{"+55 (81) 99999-0000", "5581999990000", false},
		{"whatsapp:+5581999990000", "5581999990000", false},
		{"5581999990000@s.whatsapp.net", "5581999990000", false},
		{"5581999990000:12@s.whatsapp.net", "5581999990000", false},
		{"", "", true},
		{"abc", "", true},
		{"123", "", true},
	}
	for _, tt := range tests {
		got, err := CanonicalizePhone(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("CanonicalizePhone(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("CanonicalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
