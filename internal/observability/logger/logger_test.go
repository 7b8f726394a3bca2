package logger

import (
	"context"
	"testing"

	obscontext "github.com/smallbiznis/vestora/internal/observability/context"
	"github.com/smallbiznis/vestora/pkg/telemetry/correlation"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsRequestFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = obscontext.WithActor(ctx, "user", "42")
	ctx = correlation.ContextWithCorrelationID(ctx, "01CORR")

	WithContext(ctx, base).Info("investment.created")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	require.Equal(t, "req-1", fields["request_id"])
	require.Equal(t, "01CORR", fields["correlation_id"])
	require.Equal(t, "user", fields["actor_type"])
	require.Equal(t, "42", fields["actor_id"])
	require.Equal(t, "", fields["trace_id"])
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(nil, Config{Level: "loud"})
	require.Error(t, err)
}

func TestOperationFromSQL(t *testing.T) {
	require.Equal(t, "SELECT", operationFromSQL("SELECT * FROM plans WHERE status = 'active'"))
	require.Equal(t, "SELECT_FOR_UPDATE", operationFromSQL("SELECT * FROM investments WHERE id = 1 FOR UPDATE"))
	require.Equal(t, "INSERT", operationFromSQL("INSERT INTO ledger_entries (id) VALUES (1)"))
	require.Equal(t, "UPDATE", operationFromSQL("  update ledger_accounts SET balance = 1"))
	require.Equal(t, "UNKNOWN", operationFromSQL(""))
}

func TestLockedTable(t *testing.T) {
	require.Equal(t, "investments", lockedTable(`SELECT * FROM "investments" WHERE id = 1 FOR UPDATE`))
	require.Equal(t, "ledger_accounts", lockedTable("select id from ledger_accounts for update"))
	require.Equal(t, "unknown", lockedTable("UPDATE plans SET status = 'inactive'"))
}

func TestRequestLevel(t *testing.T) {
	require.Equal(t, zap.DebugLevel, requestLevel("/health", 200, ""))
	require.Equal(t, zap.DebugLevel, requestLevel("/api/investments", 400, "validation_error"))
	require.Equal(t, zap.WarnLevel, requestLevel("/api/investments", 422, "insufficient_funds"))
	require.Equal(t, zap.WarnLevel, requestLevel("/admin/breakdowns/:id/approve", 409, "invalid_state_transition"))
	require.Equal(t, zap.ErrorLevel, requestLevel("/api/investments", 500, "internal"))
	require.Equal(t, zap.InfoLevel, requestLevel("/api/plans", 200, ""))
}
