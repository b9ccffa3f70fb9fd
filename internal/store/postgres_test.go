package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStoreFromDB(db), mock
}

func TestSQLBackend_BindRewritesPlaceholders(t *testing.T) {
	pg := &sqlBackend{dollars: true}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.bind("SELECT a FROM t WHERE x = ? AND y = ?"))

	lite := &sqlBackend{}
	assert.Equal(t, "x = ?", lite.bind("x = ?"))
}

func TestPostgresStore_GetPublished(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	payload := `{"version":1,"start":"hello","nodes":[{"id":"hello","type":"message","prompt":"Oi"}]}`

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT definition FROM flow_definitions WHERE tenant_id = $1 AND domain = $2 AND published = $3`)).
		WithArgs("acme", "real_estate", true).
		WillReturnRows(sqlmock.NewRows([]string{"definition"}).AddRow([]byte(payload)))

	def, err := s.GetPublished(context.Background(), "acme", models.DomainRealEstate)
	require.NoError(t, err)
	assert.Equal(t, "hello", def.Start)
	assert.Len(t, def.Nodes, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetPublishedMissing(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`SELECT definition FROM flow_definitions`).
		WillReturnRows(sqlmock.NewRows([]string{"definition"}))

	_, err := s.GetPublished(context.Background(), "acme", models.DomainRealEstate)
	assert.True(t, errors.Is(err, models.ErrFlowNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordInbound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`(?s)INSERT INTO inbound_dedup \(tenant_id, message_id, sender_id, received_at\).*ON CONFLICT \(tenant_id, message_id\) DO NOTHING`).
		WithArgs("acme", "m1", "5581", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO inbound_dedup`).
		WithArgs("acme", "m1", "5581", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS (SELECT 1 FROM inbound_dedup WHERE tenant_id = $1 AND message_id = $2)`)).
		WithArgs("globex", "m1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE inbound_dedup SET processed_at = $1 WHERE tenant_id = $2 AND message_id = $3`)).
		WithArgs(sqlmock.AnyArg(), "acme", "m1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	isNew, err := s.RecordInbound("acme", "m1", "5581")
	require.NoError(t, err)
	assert.True(t, isNew)

	isNew, err = s.RecordInbound("acme", "m1", "5581")
	require.NoError(t, err)
	assert.False(t, isNew)

	dup, err := s.IsDuplicate("globex", "m1")
	require.NoError(t, err)
	assert.False(t, dup)

	require.NoError(t, s.MarkProcessed("acme", "m1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimDueOutboxMessages(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()
	created := now.Add(-time.Minute)
	cols := []string{"id", "tenant_id", "recipient", "body", "status", "attempts", "next_attempt_at", "dedupe_key", "locked_at", "last_error", "created_at", "updated_at"}

	mock.ExpectQuery(`(?s)UPDATE outbox_messages SET status = 'sending'.*WHERE o.tenant_id = \$1 AND o.status = 'queued'.*p.recipient = o.recipient.*FOR UPDATE SKIP LOCKED`).
		WithArgs("acme", now, 10).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("ob-2", "acme", "5582", "b", "sending", 0, nil, nil, now, nil, now, now).
			AddRow("ob-1", "acme", "5581", "a", "sending", 1, nil, "reply:m1", now, "timeout", created, now))

	msgs, err := s.ClaimDueOutboxMessages("acme", now, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "ob-1", msgs[0].ID, "claimed replies come back oldest first")
	assert.Equal(t, "reply:m1", msgs[0].DedupeKey)
	assert.Equal(t, "acme", msgs[1].TenantID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_OutboxFailureAndRecovery(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	retryAt := time.Now().Add(time.Minute)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE outbox_messages SET status = $1, attempts = attempts + 1`)).
		WithArgs("queued", "timeout", retryAt, sqlmock.AnyArg(), "ob-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE outbox_messages SET status = $1, attempts = attempts + 1`)).
		WithArgs("failed", "gave up", nil, sqlmock.AnyArg(), "ob-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`WHERE tenant_id = $2 AND status = 'sending' AND locked_at < $3`)).
		WithArgs(sqlmock.AnyArg(), "acme", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, s.FailOutboxMessage("ob-1", "timeout", retryAt))
	require.NoError(t, s.FailOutboxMessage("ob-1", "gave up", time.Time{}))
	n, err := s.RequeueStaleSendingMessages("acme", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertLead(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	state := models.NewConversationState("acme", "5581")

	mock.ExpectExec(`INSERT INTO leads`).
		WithArgs(sqlmock.AnyArg(), "acme", "5581", "qualified", "", "", "", false, sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.MarkQualified(context.Background(), "5581", state))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetLead(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()
	mock.ExpectQuery(`SELECT id, tenant_id, phone, status`).
		WithArgs("acme", "5581").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "phone", "status", "name", "email", "property_id", "consent", "criteria", "created_at", "updated_at"}).
			AddRow("lead-1", "acme", "5581", "visit_scheduled", "Ana", "", "p1", true, []byte(`{"city":"Recife"}`), now, now))

	lead, err := s.GetLead(context.Background(), "acme", "5581")
	require.NoError(t, err)
	assert.Equal(t, models.LeadStatusScheduled, lead.Status)
	assert.Equal(t, "Recife", lead.Criteria["city"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
