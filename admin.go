package rowguard

import (
	"context"
	"fmt"
)

// ============================================================================
// ROLE ASSIGNMENT ADMINISTRATION
// ============================================================================

// AssignRole grants a role to an actor in a domain. Idempotent: assigning an
// already-held role is a no-op.
func (e *Engine) AssignRole(ctx context.Context, actor, role, domain string) error {
	if actor == "" || role == "" {
		return &ValidationError{Field: "assignment", Reason: "actor and role are required"}
	}
	if _, err := ParseDomain(domain); err != nil {
		return err
	}
	if err := e.repo.AddGroupingPolicy(ctx, actor, role, domain); err != nil {
		return &LookupError{Kind: "policy", Key: actor, Err: err}
	}
	return e.commit(ctx)
}

// RevokeRole removes one role assignment. Idempotent: revoking an absent
// assignment is a no-op.
func (e *Engine) RevokeRole(ctx context.Context, actor, role, domain string) error {
	if err := e.repo.RemoveGroupingPolicy(ctx, actor, role, domain); err != nil {
		return &LookupError{Kind: "policy", Key: actor, Err: err}
	}
	return e.commit(ctx)
}

// RevokeAllRoles removes every role assignment an actor holds in one domain,
// or across all domains when domain is empty.
func (e *Engine) RevokeAllRoles(ctx context.Context, actor, domain string) (int, error) {
	if actor == "" {
		return 0, &ValidationError{Field: "actor", Reason: "actor is required"}
	}
	var (
		n   int
		err error
	)
	if domain == "" {
		n, err = e.repo.RemoveFilteredGroupingPolicy(ctx, 0, actor)
	} else {
		if _, derr := ParseDomain(domain); derr != nil {
			return 0, derr
		}
		n, err = e.repo.RemoveFilteredGroupingPolicy(ctx, 0, actor, "", domain)
	}
	if err != nil {
		return 0, &LookupError{Kind: "policy", Key: actor, Err: err}
	}
	return n, e.commit(ctx)
}

// RolesForActor lists the roles an actor holds in one domain.
func (e *Engine) RolesForActor(ctx context.Context, actor, domain string) ([]string, error) {
	roles, err := e.repo.GetRolesForActor(ctx, actor, domain)
	if err != nil {
		return nil, &LookupError{Kind: "policy", Key: actor, Err: err}
	}
	return roles, nil
}

// RolesAcrossDomains resolves the actor's tenant domains and lists its roles
// per domain, including the global domain.
func (e *Engine) RolesAcrossDomains(ctx context.Context, actorIdentifier string) (map[string][]string, error) {
	actor, err := e.resolveActor(ctx, actorIdentifier)
	if err != nil {
		return nil, err
	}
	domains := append([]string{DomainGlobal}, actor.Domains...)
	out := make(map[string][]string, len(domains))
	for _, d := range domains {
		roles, err := e.RolesForActor(ctx, actorIdentifier, d)
		if err != nil {
			return nil, err
		}
		if len(roles) > 0 {
			out[d] = roles
		}
	}
	return out, nil
}

// AllAssignments lists every role assignment an actor holds, in any domain.
func (e *Engine) AllAssignments(ctx context.Context, actor string) ([]RoleAssignment, error) {
	assignments, err := e.repo.GetFilteredGroupingPolicy(ctx, 0, actor)
	if err != nil {
		return nil, &LookupError{Kind: "policy", Key: actor, Err: err}
	}
	return assignments, nil
}

// ============================================================================
// POLICY ADMINISTRATION
// ============================================================================

// PolicyFilter selects policies by any subset of tuple fields; empty fields
// are wildcards.
type PolicyFilter struct {
	Subject    string
	Domain     string
	Object     string
	Action     string
	Condition  string
	Attributes string
	Effect     string
}

func (f PolicyFilter) values() []string {
	return []string{f.Subject, f.Domain, f.Object, f.Action, f.Condition, f.Attributes, f.Effect}
}

// ListPolicies returns the policies matching the filter.
func (e *Engine) ListPolicies(ctx context.Context, filter PolicyFilter) ([]Policy, error) {
	pols, err := e.repo.GetFilteredPolicy(ctx, 0, filter.values()...)
	if err != nil {
		return nil, &LookupError{Kind: "policy", Key: filter.Subject, Err: err}
	}
	return pols, nil
}

// AddPolicy validates and stores a policy tuple.
func (e *Engine) AddPolicy(ctx context.Context, p Policy) error {
	p, err := validatePolicy(p)
	if err != nil {
		return err
	}
	if err := e.repo.AddPolicy(ctx, p); err != nil {
		return &LookupError{Kind: "policy", Key: p.Subject, Err: err}
	}
	return e.commit(ctx)
}

// AddPolicyTuple builds a policy from raw fields, serializing a map attributes
// value before storage, and stores it.
func (e *Engine) AddPolicyTuple(ctx context.Context, subject, domain, object, action, condition string, attributes any, effect string) error {
	act, err := ParseAction(action)
	if err != nil {
		return err
	}
	cond, err := ParseConditionKind(condition)
	if err != nil {
		return err
	}
	attrs, err := NormalizeAttributes(attributes)
	if err != nil {
		return err
	}
	eff, err := ParseEffect(effect)
	if err != nil {
		return err
	}
	return e.AddPolicy(ctx, Policy{
		Subject:    subject,
		Domain:     domain,
		Object:     object,
		Action:     act,
		Condition:  cond,
		Attributes: attrs,
		Effect:     eff,
	})
}

// RemovePolicies removes every policy matching the filter. It refuses when a
// matched policy's subject role is still assigned to an actor in the policy's
// domain, so no dangling grant survives.
func (e *Engine) RemovePolicies(ctx context.Context, filter PolicyFilter) (int, error) {
	matched, err := e.ListPolicies(ctx, filter)
	if err != nil {
		return 0, err
	}
	if len(matched) == 0 {
		return 0, nil
	}
	checked := map[string]struct{}{}
	for _, pol := range matched {
		key := pol.Subject + "\x00" + pol.Domain
		if _, ok := checked[key]; ok {
			continue
		}
		checked[key] = struct{}{}
		actors, err := e.repo.GetActorsForRoleInDomain(ctx, pol.Subject, pol.Domain)
		if err != nil {
			return 0, &LookupError{Kind: "policy", Key: pol.Subject, Err: err}
		}
		if len(actors) > 0 {
			return 0, &ConflictError{Subject: pol.Subject, Domain: pol.Domain, Actors: actors}
		}
	}
	n, err := e.repo.RemoveFilteredPolicy(ctx, 0, filter.values()...)
	if err != nil {
		return 0, &LookupError{Kind: "policy", Key: filter.Subject, Err: err}
	}
	return n, e.commit(ctx)
}

// UpsertResourceMeta registers or replaces an object's scoping columns and
// drops cached metadata so the next decision observes the new columns.
func (e *Engine) UpsertResourceMeta(ctx context.Context, meta ResourceMeta) error {
	if meta.Object == "" {
		return &ValidationError{Field: "object", Reason: "required"}
	}
	w, ok := e.meta.(ResourceMetaWriter)
	if !ok {
		return &ValidationError{Field: "resource-meta", Reason: "metadata store is read-only"}
	}
	if err := w.UpsertResourceMeta(ctx, meta); err != nil {
		return &LookupError{Kind: "resource-meta", Key: meta.Object, Err: err}
	}
	return e.commit(ctx)
}

// commit persists the repository and drops cached lookups so the next
// evaluation observes the write.
func (e *Engine) commit(ctx context.Context) error {
	if err := e.repo.Save(ctx); err != nil {
		return &LookupError{Kind: "policy", Key: "save", Err: err}
	}
	e.flushCaches()
	return nil
}

func validatePolicy(p Policy) (Policy, error) {
	if p.Subject == "" {
		return p, &ValidationError{Field: "subject", Reason: "required"}
	}
	if p.Object == "" {
		return p, &ValidationError{Field: "object", Reason: "required"}
	}
	if _, err := ParseDomain(p.Domain); err != nil {
		return p, err
	}
	if _, err := ParseAction(string(p.Action)); err != nil {
		return p, err
	}
	if p.Effect != EffectAllow && p.Effect != EffectDeny {
		return p, &ValidationError{Field: "effect", Reason: fmt.Sprintf("unknown effect %q", p.Effect)}
	}
	attrs, err := NormalizeAttributes(p.Attributes)
	if err != nil {
		return p, err
	}
	p.Attributes = attrs
	return p, nil
}
