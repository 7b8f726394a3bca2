package authorization

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vestora/internal/apperror"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T, admins ...string) Service {
	t.Helper()
	enforcer, err := NewMemoryEnforcer(admins...)
	require.NoError(t, err)
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func TestAuthorizeAdmin(t *testing.T) {
	svc := newTestService(t, "101")
	ctx := context.Background()

	require.NoError(t, svc.Authorize(ctx, User(101), ObjectBreakdown, ActionBreakdownApprove))
	require.NoError(t, svc.Authorize(ctx, User(101), ObjectPlan, ActionPlanManage))

	err := svc.Authorize(ctx, User(202), ObjectBreakdown, ActionBreakdownApprove)
	require.ErrorIs(t, err, ErrForbidden)
	require.Equal(t, apperror.KindForbidden, apperror.KindOf(err))
}

func TestAuthorizeSystemAlwaysAllowed(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.Authorize(context.Background(), System, ObjectInvestment, ActionInvestmentCancel))
}

func TestGrantAndRevokeRole(t *testing.T) {
	svc := newTestService(t, "101")
	ctx := context.Background()
	admin := User(101)
	user := snowflake.ID(303)

	require.ErrorIs(t, svc.Authorize(ctx, User(user), ObjectWallet, ActionWalletAdjust), ErrForbidden)

	require.NoError(t, svc.GrantRole(ctx, admin, user, "admin"))
	require.NoError(t, svc.Authorize(ctx, User(user), ObjectWallet, ActionWalletAdjust))
	// granting twice is a no-op
	require.NoError(t, svc.GrantRole(ctx, admin, user, "role:admin"))

	require.NoError(t, svc.RevokeRole(ctx, admin, user, "role:admin"))
	require.ErrorIs(t, svc.Authorize(ctx, User(user), ObjectWallet, ActionWalletAdjust), ErrForbidden)
}

func TestRoleChangesRequireRoleManage(t *testing.T) {
	svc := newTestService(t, "101")
	ctx := context.Background()

	require.ErrorIs(t, svc.GrantRole(ctx, User(202), 202, "admin"), ErrForbidden)
	require.ErrorIs(t, svc.Authorize(ctx, User(202), ObjectPlan, ActionPlanManage), ErrForbidden)

	require.ErrorIs(t, svc.RevokeRole(ctx, User(202), 101, "admin"), ErrForbidden)
	require.NoError(t, svc.Authorize(ctx, User(101), ObjectPlan, ActionPlanManage))

	require.ErrorIs(t, svc.GrantRole(ctx, User(101), 202, "auditor"), ErrInvalidRole)
	require.ErrorIs(t, svc.GrantRole(ctx, User(101), 0, "admin"), ErrInvalidActor)
	require.NoError(t, svc.GrantRole(ctx, System, 202, "admin"))
}

func TestAuthorizeRejectsMalformedInput(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.ErrorIs(t, svc.Authorize(ctx, Actor{}, ObjectPlan, ActionPlanManage), ErrInvalidActor)
	require.ErrorIs(t, svc.Authorize(ctx, User(1), "", ActionPlanManage), ErrInvalidObject)
	require.ErrorIs(t, svc.Authorize(ctx, User(1), ObjectPlan, " "), ErrInvalidAction)
}

func TestParseActor(t *testing.T) {
	actor, err := ParseActor("system")
	require.NoError(t, err)
	require.True(t, actor.IsSystem())
	require.Equal(t, "system", actor.Subject())

	actor, err = ParseActor("user:42")
	require.NoError(t, err)
	require.Equal(t, User(42), actor)
	require.Equal(t, "user:42", actor.Subject())
	require.Equal(t, "42", actor.IDString())

	for _, raw := range []string{"", "user:", "user:abc", "admin:1", "user:0"} {
		_, err := ParseActor(raw)
		require.ErrorIs(t, err, ErrInvalidActor, raw)
	}
}
