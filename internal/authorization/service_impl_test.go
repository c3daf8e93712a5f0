package authorization

import (
	"context"
	"errors"
	"net/http"
	"testing"

	identitydomain "github.com/smallbiznis/coursemart/internal/identity/domain"
	"github.com/smallbiznis/coursemart/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeIdentity struct {
	roles map[string]identitydomain.Role
	err   error
}

func (f *fakeIdentity) HandleWebhook(context.Context, []byte, http.Header) (identitydomain.EventResult, error) {
	return identitydomain.EventResult{}, nil
}

func (f *fakeIdentity) GetLearner(_ context.Context, id string) (*identitydomain.Learner, error) {
	role, ok := f.roles[id]
	if !ok {
		return nil, identitydomain.ErrLearnerNotFound
	}
	return &identitydomain.Learner{ID: id, Role: role}, nil
}

func (f *fakeIdentity) RoleOf(ctx context.Context, id string) (identitydomain.Role, error) {
	if f.err != nil {
		return "", f.err
	}
	learner, err := f.GetLearner(ctx, id)
	if err != nil {
		return "", err
	}
	return learner.Role, nil
}

func newTestService(t *testing.T, identity *fakeIdentity) Service {
	t.Helper()
	enforcer, err := NewMemoryEnforcer()
	require.NoError(t, err)
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer, IdentitySvc: identity})
}

func TestAuthorizeByRole(t *testing.T) {
	identity := &fakeIdentity{roles: map[string]identitydomain.Role{
		"user_admin":    identitydomain.RoleAdmin,
		"user_educator": identitydomain.RoleEducator,
		"user_learner":  identitydomain.RoleLearner,
	}}
	svc := newTestService(t, identity)
	ctx := context.Background()

	require.NoError(t, svc.Authorize(ctx, UserActor("user_admin"), ObjectPurchase, ActionPurchaseInspect))
	require.NoError(t, svc.Authorize(ctx, UserActor("user_admin"), ObjectSweeper, ActionSweepRun))
	require.NoError(t, svc.Authorize(ctx, UserActor("user_admin"), ObjectConsistency, ActionConsistencyView))

	require.ErrorIs(t, svc.Authorize(ctx, UserActor("user_educator"), ObjectPurchase, ActionPurchaseInspect), ErrForbidden)
	require.ErrorIs(t, svc.Authorize(ctx, UserActor("user_learner"), ObjectSweeper, ActionSweepRun), ErrForbidden)
	require.ErrorIs(t, svc.Authorize(ctx, UserActor("user_unknown"), ObjectSweeper, ActionSweepRun), ErrForbidden)

	require.NoError(t, svc.Authorize(ctx, "system", ObjectSweeper, ActionSweepRun))
	require.ErrorIs(t, svc.Authorize(ctx, "system", ObjectPurchase, ActionPurchaseInspect), ErrForbidden)
}

func TestAuthorizeFollowsRoleChanges(t *testing.T) {
	identity := &fakeIdentity{roles: map[string]identitydomain.Role{"user_1": identitydomain.RoleAdmin}}
	svc := newTestService(t, identity)
	ctx := context.Background()

	require.NoError(t, svc.Authorize(ctx, UserActor("user_1"), ObjectSweeper, ActionSweepRun))

	identity.roles["user_1"] = identitydomain.RoleLearner
	require.ErrorIs(t, svc.Authorize(ctx, UserActor("user_1"), ObjectSweeper, ActionSweepRun), ErrForbidden)

	identity.roles["user_1"] = identitydomain.RoleAdmin
	require.NoError(t, svc.Authorize(ctx, UserActor("user_1"), ObjectSweeper, ActionSweepRun))
}

func TestAuthorizeValidatesInput(t *testing.T) {
	svc := newTestService(t, &fakeIdentity{})
	ctx := context.Background()

	require.ErrorIs(t, svc.Authorize(ctx, "", ObjectPurchase, ActionPurchaseInspect), ErrInvalidActor)
	require.ErrorIs(t, svc.Authorize(ctx, "user:", ObjectPurchase, ActionPurchaseInspect), ErrInvalidActor)
	require.ErrorIs(t, svc.Authorize(ctx, "api_key:1", ObjectPurchase, ActionPurchaseInspect), ErrInvalidActor)
	require.ErrorIs(t, svc.Authorize(ctx, "system", "", ActionPurchaseInspect), ErrInvalidObject)
	require.ErrorIs(t, svc.Authorize(ctx, "system", ObjectPurchase, " "), ErrInvalidAction)
}

func TestAuthorizePropagatesLookupFailure(t *testing.T) {
	boom := errors.New("db down")
	svc := newTestService(t, &fakeIdentity{err: boom})

	err := svc.Authorize(context.Background(), UserActor("user_1"), ObjectPurchase, ActionPurchaseInspect)
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, ErrForbidden)
}

func TestGormEnforcerPersistsSeededPolicies(t *testing.T) {
	db := testutil.NewTestDB(t)

	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)
	allowed, err := enforcer.Enforce("role:admin", ObjectSweeper, ActionSweepRun)
	require.NoError(t, err)
	require.True(t, allowed)

	// Reopening against the same database does not duplicate seeds.
	again, err := NewEnforcer(db)
	require.NoError(t, err)
	policies, err := again.GetPolicy()
	require.NoError(t, err)
	require.Len(t, policies, 5)
}
