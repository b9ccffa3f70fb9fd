package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/metrics"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// DefaultTurnTimeout bounds the processing of one inbound message.
const DefaultTurnTimeout = 30 * time.Second

// TurnHandler runs one conversation turn.
type TurnHandler interface {
	HandleTurn(ctx context.Context, turn flow.Turn) (flow.TurnResult, error)
}

// ReceiptRecorder persists delivery receipts.
type ReceiptRecorder interface {
	AddReceipt(r models.Receipt) error
}

// ResponseHandler routes inbound messages from a Service to the orchestrator and sends the
// reply back. A message id is processed at most once when a dedup repo is configured;
// turns of the same sender are serialized, different senders run in parallel.
type ResponseHandler struct {
	msgService Service
	turns      TurnHandler
	dedup      store.DedupRepo
	outbox     store.OutboxRepo
	receipts   ReceiptRecorder
	tenantID   string
	domain     models.Domain
	timeout    time.Duration

	locksMu sync.Mutex
	locks   map[string]*senderLock
	wg      sync.WaitGroup
}

type senderLock struct {
	mu   sync.Mutex
	refs int
}

// ResponseHandlerOption configures a ResponseHandler.
type ResponseHandlerOption func(*ResponseHandler)

// WithDedupRepo drops inbound messages whose id was already recorded.
func WithDedupRepo(repo store.DedupRepo) ResponseHandlerOption {
	return func(rh *ResponseHandler) { rh.dedup = repo }
}

// WithOutbox queues replies in the outbox instead of sending them inline.
func WithOutbox(repo store.OutboxRepo) ResponseHandlerOption {
	return func(rh *ResponseHandler) { rh.outbox = repo }
}

// WithReceiptRecorder persists the receipts emitted by the service.
func WithReceiptRecorder(r ReceiptRecorder) ResponseHandlerOption {
	return func(rh *ResponseHandler) { rh.receipts = r }
}

// WithDefaultTenant sets the tenant used when an inbound message carries none.
func WithDefaultTenant(tenantID string) ResponseHandlerOption {
	return func(rh *ResponseHandler) { rh.tenantID = tenantID }
}

// WithDomain sets the business domain of the turns.
func WithDomain(domain models.Domain) ResponseHandlerOption {
	return func(rh *ResponseHandler) { rh.domain = domain }
}

// WithTurnTimeout overrides DefaultTurnTimeout.
func WithTurnTimeout(d time.Duration) ResponseHandlerOption {
	return func(rh *ResponseHandler) {
		if d > 0 {
			rh.timeout = d
		}
	}
}

// NewResponseHandler creates a ResponseHandler for msgService.
func NewResponseHandler(msgService Service, turns TurnHandler, opts ...ResponseHandlerOption) *ResponseHandler {
	rh := &ResponseHandler{
		msgService: msgService,
		turns:      turns,
		domain:     models.DomainRealEstate,
		timeout:    DefaultTurnTimeout,
		locks:      make(map[string]*senderLock),
	}
	for _, opt := range opts {
		opt(rh)
	}
	return rh
}

// ProcessResponse handles one inbound message: dedup, run the turn under the sender's
// lock and deliver the reply.
func (rh *ResponseHandler) ProcessResponse(ctx context.Context, response models.Response) error {
	from, err := rh.msgService.ValidateAndCanonicalizeRecipient(response.From)
	if err != nil {
		slog.Error("ResponseHandler ProcessResponse validation failed", "error", err, "from", response.From)
		return fmt.Errorf("invalid sender: %w", err)
	}
	tenantID := response.TenantID
	if tenantID == "" {
		tenantID = rh.tenantID
	}
	if tenantID == "" {
		return models.ErrEmptyTenant
	}

	if rh.dedup != nil && response.MessageID != "" {
		fresh, err := rh.dedup.RecordInbound(tenantID, response.MessageID, from)
		if err != nil {
			return fmt.Errorf("failed to record inbound message: %w", err)
		}
		if !fresh {
			metrics.DuplicateMessages.Inc()
			slog.Info("ResponseHandler skipping duplicate message", "tenantID", tenantID, "messageID", response.MessageID, "from", from)
			return nil
		}
	}

	unlock := rh.lockSender(tenantID + "/" + from)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, rh.timeout)
	defer cancel()

	res, err := rh.turns.HandleTurn(ctx, flow.Turn{
		TenantID: tenantID,
		SenderID: from,
		Text:     response.Body,
		Domain:   rh.domain,
	})
	if err != nil {
		slog.Error("ResponseHandler HandleTurn failed", "error", err, "from", from)
		return fmt.Errorf("turn failed: %w", err)
	}

	if res.Message != "" {
		if err := rh.deliver(ctx, tenantID, from, response.MessageID, res.Message); err != nil {
			return err
		}
	}
	if rh.dedup != nil && response.MessageID != "" {
		if err := rh.dedup.MarkProcessed(tenantID, response.MessageID); err != nil {
			slog.Warn("ResponseHandler MarkProcessed failed", "error", err, "tenantID", tenantID, "messageID", response.MessageID)
		}
	}
	slog.Debug("ResponseHandler ProcessResponse succeeded", "from", from, "tenantID", tenantID, "outcome", res.Outcome)
	return nil
}

func (rh *ResponseHandler) deliver(ctx context.Context, tenantID, to, messageID, body string) error {
	if rh.outbox != nil {
		key := ""
		if messageID != "" {
			key = "reply:" + messageID
		}
		id, err := rh.outbox.EnqueueOutboxMessage(tenantID, to, body, key)
		if err != nil {
			slog.Error("ResponseHandler outbox enqueue failed", "error", err, "to", to)
			return fmt.Errorf("failed to enqueue reply: %w", err)
		}
		slog.Debug("ResponseHandler reply queued", "outboxID", id, "to", to)
		return nil
	}
	if err := rh.msgService.SendMessage(ctx, to, body); err != nil {
		slog.Error("ResponseHandler send reply failed", "error", err, "to", to)
		return fmt.Errorf("failed to send reply: %w", err)
	}
	return nil
}

// lockSender acquires the per-sender lock and returns its release function.
func (rh *ResponseHandler) lockSender(key string) func() {
	rh.locksMu.Lock()
	l, ok := rh.locks[key]
	if !ok {
		l = &senderLock{}
		rh.locks[key] = l
	}
	l.refs++
	rh.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		rh.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(rh.locks, key)
		}
		rh.locksMu.Unlock()
	}
}

// Start consumes the service's responses and receipts until ctx is cancelled or the
// service is stopped. Each inbound message is processed on its own goroutine.
func (rh *ResponseHandler) Start(ctx context.Context) {
	slog.Info("ResponseHandler starting response processing")

	go func() {
		defer slog.Info("ResponseHandler stopped response processing")
		for {
			select {
			case response, ok := <-rh.msgService.Responses():
				if !ok {
					return
				}
				rh.wg.Add(1)
				go func() {
					defer rh.wg.Done()
					if err := rh.ProcessResponse(ctx, response); err != nil {
						slog.Error("ResponseHandler failed to process response", "error", err, "from", response.From)
					}
				}()
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		for {
			select {
			case receipt, ok := <-rh.msgService.Receipts():
				if !ok {
					return
				}
				rh.recordReceipt(receipt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Wait blocks until in-flight messages started by Start are processed.
func (rh *ResponseHandler) Wait() {
	rh.wg.Wait()
}

func (rh *ResponseHandler) recordReceipt(receipt models.Receipt) {
	slog.Debug("ResponseHandler receipt", "to", receipt.To, "status", receipt.Status)
	if rh.receipts == nil {
		return
	}
	if err := rh.receipts.AddReceipt(receipt); err != nil {
		slog.Warn("ResponseHandler AddReceipt failed", "error", err, "to", receipt.To)
	}
}

// OutboxSendFunc delivers queued replies through svc.
func OutboxSendFunc(svc Service) store.OutboxSendFunc {
	return func(ctx context.Context, msg store.OutboxMessage) error {
		if err := svc.SendMessage(ctx, msg.Recipient, msg.Body); err != nil {
			return fmt.Errorf("outbox %s: %w", msg.ID, err)
		}
		return nil
	}
}
