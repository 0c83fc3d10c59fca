package rowguard_test

import (
	"context"
	"testing"
	"time"

	"github.com/oarkflow/rowguard"
	"github.com/oarkflow/rowguard/logger"
	"github.com/oarkflow/rowguard/stores"
)

type testEnv struct {
	engine        *rowguard.Engine
	repo          *stores.MemoryPolicyRepository
	meta          *stores.MemoryResourceMetaStore
	actors        *stores.MemoryActorStore
	relationships *stores.MemoryRelationshipStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:          stores.NewMemoryPolicyRepository(),
		meta:          stores.NewMemoryResourceMetaStore(),
		actors:        stores.NewMemoryActorStore(),
		relationships: stores.NewMemoryRelationshipStore(),
	}
	eng, err := rowguard.NewEngine(env.repo, env.meta, env.actors, env.relationships,
		rowguard.WithLogger(logger.NewNullLogger()))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	env.engine = eng

	env.meta.Register(rowguard.ResourceMeta{
		Object:        "ticket",
		OwnerColumn:   "user_id",
		CreatorColumn: "created_by",
		UpdatorColumn: "updated_by",
	})
	env.meta.Register(rowguard.ResourceMeta{Object: "report"})

	env.actors.Register(rowguard.Actor{ID: 1, Identifier: "root", Domains: []string{}})
	env.actors.Register(rowguard.Actor{ID: 101, Identifier: "alice", Domains: []string{"7"}})
	env.actors.Register(rowguard.Actor{ID: 55, Identifier: "bob", Domains: []string{}})
	return env
}

func (env *testEnv) mustAssign(t *testing.T, actor, role, domain string) {
	t.Helper()
	if err := env.engine.AssignRole(context.Background(), actor, role, domain); err != nil {
		t.Fatalf("assign %s/%s/%s: %v", actor, role, domain, err)
	}
}

func (env *testEnv) mustAddPolicy(t *testing.T, p rowguard.Policy) {
	t.Helper()
	if err := env.engine.AddPolicy(context.Background(), p); err != nil {
		t.Fatalf("add policy %+v: %v", p, err)
	}
}

func TestCustomerReadScopedToOwnRows(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.mustAssign(t, "alice", "agent", "7")
	env.mustAddPolicy(t, rowguard.Policy{
		Subject: "agent", Domain: "7", Object: "ticket", Action: rowguard.ActionRead,
		Condition: rowguard.ConditionOwnership, Attributes: rowguard.AttrsNone, Effect: rowguard.EffectAllow,
	})

	dec, err := env.engine.Authorize(ctx, &rowguard.Request{
		Subject: "alice", Domain: "7", Object: "ticket", Action: rowguard.ActionRead,
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected allow, got deny: %s", dec.Reason)
	}
	if got := dec.Where["user_id"]; got != int64(101) {
		t.Fatalf("expected where user_id=101, got %v", got)
	}
}

func TestCustomerUpdateForeignOwnerDenied(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.mustAssign(t, "alice", "agent", "7")
	env.mustAddPolicy(t, rowguard.Policy{
		Subject: "agent", Domain: "7", Object: "ticket", Action: rowguard.ActionUpdate,
		Condition: rowguard.ConditionOwnership, Attributes: rowguard.AttrsNone, Effect: rowguard.EffectAllow,
	})

	req := &rowguard.Request{
		Subject: "alice", Domain: "7", Object: "ticket", Action: rowguard.ActionUpdate,
		Attrs: &rowguard.Attributes{Where: map[string]any{"user_id": int64(999)}},
	}
	dec, err := env.engine.Authorize(ctx, req)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("expected deny for foreign-owned row")
	}
}

func TestCustomerUpdateOwnRowStampsUpdator(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.mustAssign(t, "alice", "agent", "7")
	env.mustAddPolicy(t, rowguard.Policy{
		Subject: "agent", Domain: "7", Object: "ticket", Action: rowguard.ActionUpdate,
		Condition: rowguard.ConditionOwnership, Attributes: rowguard.AttrsNone, Effect: rowguard.EffectAllow,
	})

	req := &rowguard.Request{
		Subject: "alice", Domain: "7", Object: "ticket", Action: rowguard.ActionUpdate,
		Attrs: &rowguard.Attributes{Where: map[string]any{"user_id": int64(101)}},
	}
	dec, err := env.engine.Authorize(ctx, req)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected allow, got deny: %s", dec.Reason)
	}
	if got := dec.Set["updated_by"]; got != int64(101) {
		t.Fatalf("expected set updated_by=101, got %v", got)
	}
}

func TestCustomerCreateCannotAssignForeignOwner(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.mustAssign(t, "alice", "agent", "7")
	env.mustAddPolicy(t, rowguard.Policy{
		Subject: "agent", Domain: "7", Object: "ticket", Action: rowguard.ActionCreate,
		Condition: rowguard.ConditionOwnership, Attributes: rowguard.AttrsNone, Effect: rowguard.EffectAllow,
	})

	foreign := &rowguard.Request{
		Subject: "alice", Domain: "7", Object: "ticket", Action: rowguard.ActionCreate,
		Attrs: &rowguard.Attributes{Set: map[string]any{"user_id": int64(999)}},
	}
	dec, err := env.engine.Authorize(ctx, foreign)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("expected deny when creating a record owned by someone else")
	}

	own := &rowguard.Request{
		Subject: "alice", Domain: "7", Object: "ticket", Action: rowguard.ActionCreate,
		Attrs: &rowguard.Attributes{Set: map[string]any{"user_id": int64(101)}},
	}
	dec, err = env.engine.Authorize(ctx, own)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected allow, got deny: %s", dec.Reason)
	}
	if got := dec.Set["created_by"]; got != int64(101) {
		t.Fatalf("expected set created_by=101, got %v", got)
	}
}

func TestInternalDeleteBypassesScoping(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.mustAssign(t, "root", "admin", "0")
	env.mustAddPolicy(t, rowguard.Policy{
		Subject: "admin", Domain: "0", Object: "ticket", Action: rowguard.ActionDelete,
		Condition: rowguard.ConditionOwnership, Attributes: rowguard.AttrsNone, Effect: rowguard.EffectAllow,
	})

	dec, err := env.engine.Authorize(ctx, &rowguard.Request{
		Subject: "root", Domain: "7", Object: "ticket", Action: rowguard.ActionDelete,
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected allow, got deny: %s", dec.Reason)
	}
	if len(dec.Where) != 0 || len(dec.Set) != 0 {
		t.Fatalf("expected no scoping predicates for internal actor, got where=%v set=%v", dec.Where, dec.Set)
	}
}

func TestRelationshipConditionRequiresLink(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.mustAssign(t, "bob", "advisor", "0")
	env.mustAddPolicy(t, rowguard.Policy{
		Subject: "advisor", Domain: "0", Object: "report", Action: rowguard.ActionRead,
		Condition: rowguard.ConditionRelationship, Attributes: rowguard.AttrsNone, Effect: rowguard.EffectAllow,
	})

	req := func() *rowguard.Request {
		return &rowguard.Request{Subject: "bob", Domain: "7", Object: "report", Action: rowguard.ActionRead}
	}

	dec, err := env.engine.Authorize(ctx, req())
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("expected deny without a relationship")
	}

	env.relationships.Link(55, "7", time.Time{}, time.Time{})
	dec, err = env.engine.Authorize(ctx, req())
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected allow with relationship, got deny: %s", dec.Reason)
	}

	env.relationships.Unlink(55, "7")
	dec, err = env.engine.Authorize(ctx, req())
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("expected deny after unlink")
	}
}

func TestExplicitDenyWinsOverAllow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.mustAssign(t, "alice", "agent", "7")
	env.mustAddPolicy(t, rowguard.Policy{
		Subject: "agent", Domain: "7", Object: "ticket", Action: rowguard.ActionRead,
		Condition: rowguard.ConditionNone, Attributes: rowguard.AttrsNone, Effect: rowguard.EffectAllow,
	})
	env.mustAddPolicy(t, rowguard.Policy{
		Subject: "alice", Domain: "7", Object: "ticket", Action: rowguard.ActionRead,
		Condition: rowguard.ConditionNone, Attributes: rowguard.AttrsNone, Effect: rowguard.EffectDeny,
	})

	dec, err := env.engine.Authorize(ctx, &rowguard.Request{
		Subject: "alice", Domain: "7", Object: "ticket", Action: rowguard.ActionRead,
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("expected explicit deny to win")
	}
}

func TestDefaultDeny(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.mustAssign(t, "alice", "agent", "7")

	dec, err := env.engine.Authorize(ctx, &rowguard.Request{
		Subject: "alice", Domain: "7", Object: "ticket", Action: rowguard.ActionRead,
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("expected default deny without policies")
	}
}

func TestUnknownActorFailsClosed(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	dec, err := env.engine.Authorize(ctx, &rowguard.Request{
		Subject: "nobody", Domain: "7", Object: "ticket", Action: rowguard.ActionRead,
	})
	if err == nil {
		t.Fatalf("expected lookup error for unknown actor")
	}
	if !rowguard.IsLookup(err) {
		t.Fatalf("expected LookupError, got %T: %v", err, err)
	}
	if dec.Allowed {
		t.Fatalf("expected deny on lookup failure")
	}
}

func TestMalformedDomainRejected(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.mustAssign(t, "alice", "agent", "7")

	dec, err := env.engine.Authorize(ctx, &rowguard.Request{
		Subject: "alice", Domain: "seven", Object: "ticket", Action: rowguard.ActionRead,
	})
	if err == nil || !rowguard.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if dec.Allowed {
		t.Fatalf("expected deny for malformed domain")
	}
}

func TestDefaultDomainForCustomer(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.mustAssign(t, "alice", "agent", "7")
	env.mustAddPolicy(t, rowguard.Policy{
		Subject: "agent", Domain: "7", Object: "ticket", Action: rowguard.ActionRead,
		Condition: rowguard.ConditionNone, Attributes: rowguard.AttrsNone, Effect: rowguard.EffectAllow,
	})

	// Empty domain resolves to the customer's first tenant domain.
	dec, err := env.engine.Authorize(ctx, &rowguard.Request{
		Subject: "alice", Object: "ticket", Action: rowguard.ActionRead,
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected allow in defaulted domain, got deny: %s", dec.Reason)
	}
}

func TestAttributeGatedPolicy(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.mustAssign(t, "alice", "agent", "7")
	env.mustAddPolicy(t, rowguard.Policy{
		Subject: "agent", Domain: "7", Object: "ticket", Action: rowguard.ActionRead,
		Condition: rowguard.ConditionNone, Attributes: `{"where":{"status":"open"}}`, Effect: rowguard.EffectAllow,
	})

	miss, err := env.engine.Authorize(ctx, &rowguard.Request{
		Subject: "alice", Domain: "7", Object: "ticket", Action: rowguard.ActionRead,
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if miss.Allowed {
		t.Fatalf("expected deny when attributes do not match")
	}

	hit, err := env.engine.Authorize(ctx, &rowguard.Request{
		Subject: "alice", Domain: "7", Object: "ticket", Action: rowguard.ActionRead,
		Attrs: &rowguard.Attributes{Where: map[string]any{"status": "open"}},
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !hit.Allowed {
		t.Fatalf("expected allow for matching attributes, got deny: %s", hit.Reason)
	}
}

func TestAllowPoliciesEvaluatedInIsolation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.mustAssign(t, "alice", "agent", "7")
	// An ownership policy that will fail (no owner filter on the request),
	// ordered before an attribute-gated policy that should match.
	env.mustAddPolicy(t, rowguard.Policy{
		Subject: "agent", Domain: "7", Object: "ticket", Action: rowguard.ActionUpdate,
		Condition: rowguard.ConditionOwnership, Attributes: rowguard.AttrsNone, Effect: rowguard.EffectAllow,
	})
	env.mustAddPolicy(t, rowguard.Policy{
		Subject: "agent", Domain: "7", Object: "ticket", Action: rowguard.ActionUpdate,
		Condition: rowguard.ConditionNone, Attributes: `{"where":{"status":"open"}}`, Effect: rowguard.EffectAllow,
	})

	req := &rowguard.Request{
		Subject: "alice", Domain: "7", Object: "ticket", Action: rowguard.ActionUpdate,
		Attrs: &rowguard.Attributes{Where: map[string]any{"status": "open"}},
	}
	dec, err := env.engine.Authorize(ctx, req)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("failed policy's stamps must not poison the next policy's attribute gate: %s", dec.Reason)
	}
	if got := dec.Where["status"]; got != "open" {
		t.Fatalf("expected caller's filter preserved, got %v", dec.Where)
	}
	if got := dec.Set["updated_by"]; got != int64(101) {
		t.Fatalf("expected updator stamp from the allowing policy, got %v", dec.Set)
	}
}

func TestDeniedRequestLeavesAttributesUntouched(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.mustAssign(t, "alice", "agent", "7")
	env.mustAddPolicy(t, rowguard.Policy{
		Subject: "agent", Domain: "7", Object: "ticket", Action: rowguard.ActionUpdate,
		Condition: rowguard.ConditionOwnership, Attributes: rowguard.AttrsNone, Effect: rowguard.EffectAllow,
	})

	req := &rowguard.Request{
		Subject: "alice", Domain: "7", Object: "ticket", Action: rowguard.ActionUpdate,
		Attrs: &rowguard.Attributes{Where: map[string]any{"user_id": int64(999)}},
	}
	dec, err := env.engine.Authorize(ctx, req)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("expected deny for foreign-owned row")
	}
	if len(req.Attrs.Set) != 0 {
		t.Fatalf("denied request must carry no stamps, got %v", req.Attrs.Set)
	}
	if len(req.Attrs.Where) != 1 || req.Attrs.Where["user_id"] != int64(999) {
		t.Fatalf("denied request must keep its original filters, got %v", req.Attrs.Where)
	}
}

func TestCanGrant(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.mustAssign(t, "root", "admin", "0")
	env.mustAssign(t, "alice", "agent", "7")

	ok, err := env.engine.CanGrant(ctx, "root", "7", "ticket", rowguard.ActionRead)
	if err != nil {
		t.Fatalf("can grant: %v", err)
	}
	if !ok {
		t.Fatalf("internal actor should always be able to grant")
	}

	ok, err = env.engine.CanGrant(ctx, "alice", "7", "ticket", rowguard.ActionRead)
	if err != nil {
		t.Fatalf("can grant: %v", err)
	}
	if ok {
		t.Fatalf("customer without a grant policy should not grant")
	}

	env.mustAddPolicy(t, rowguard.Policy{
		Subject: "agent", Domain: "7", Object: "ticket", Action: rowguard.ActionGrantRead,
		Condition: rowguard.ConditionNone, Attributes: rowguard.AttrsNone, Effect: rowguard.EffectAllow,
	})
	ok, err = env.engine.CanGrant(ctx, "alice", "7", "ticket", rowguard.ActionRead)
	if err != nil {
		t.Fatalf("can grant: %v", err)
	}
	if !ok {
		t.Fatalf("customer holding grant-read should be able to grant")
	}
}

func TestPublicActorDeniedOwnedResource(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.actors.Register(rowguard.Actor{ID: 200, Identifier: "anon", Domains: []string{}})
	env.mustAssign(t, "anon", rowguard.RolePublic, "0")
	env.mustAddPolicy(t, rowguard.Policy{
		Subject: rowguard.RolePublic, Domain: "0", Object: "ticket", Action: rowguard.ActionRead,
		Condition: rowguard.ConditionOwnership, Attributes: rowguard.AttrsNone, Effect: rowguard.EffectAllow,
	})

	dec, err := env.engine.Authorize(ctx, &rowguard.Request{
		Subject: "anon", Domain: "0", Object: "ticket", Action: rowguard.ActionRead,
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("public actor must not reach owned resources")
	}

	// Unowned resources stay reachable.
	env.mustAddPolicy(t, rowguard.Policy{
		Subject: rowguard.RolePublic, Domain: "0", Object: "report", Action: rowguard.ActionRead,
		Condition: rowguard.ConditionOwnership, Attributes: rowguard.AttrsNone, Effect: rowguard.EffectAllow,
	})
	dec, err = env.engine.Authorize(ctx, &rowguard.Request{
		Subject: "anon", Domain: "0", Object: "report", Action: rowguard.ActionRead,
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("public actor should reach unowned resources, got deny: %s", dec.Reason)
	}
}
