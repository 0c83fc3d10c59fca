package rowguard

import "context"

// RelationshipEvaluator authorizes an actor acting on behalf of a tenant when
// no ownership column applies but a business relationship (advisor to customer
// domain) must hold. The request's domain field doubles as the counterpart
// tenant identifier in this mode.
type RelationshipEvaluator struct {
	lookup RelationshipLookup
}

// NewRelationshipEvaluator binds the evaluator to a relationship lookup.
func NewRelationshipEvaluator(lookup RelationshipLookup) *RelationshipEvaluator {
	return &RelationshipEvaluator{lookup: lookup}
}

// Evaluate decides the relationship condition. Every fault (malformed domain,
// missing lookup, lookup failure) converts to deny.
func (e *RelationshipEvaluator) Evaluate(ctx context.Context, req *Request, tier Tier, actor *Actor, meta ResourceMeta) bool {
	if tier == TierPublic {
		return false
	}
	if e.lookup == nil {
		return false
	}
	// The counterpart must be a real tenant; the global domain has none.
	d, err := ParseDomain(req.Domain)
	if err != nil || d == 0 {
		return false
	}
	ok, err := e.lookup.HasRelationship(ctx, actor.ID, req.Domain)
	if err != nil || !ok {
		return false
	}

	req.Attrs.ensure()
	switch req.Action.Base() {
	case ActionCreate:
		if meta.CreatorColumn != "" {
			req.Attrs.Set[meta.CreatorColumn] = actor.ID
		}
	case ActionUpdate:
		if meta.UpdatorColumn != "" {
			req.Attrs.Set[meta.UpdatorColumn] = actor.ID
		}
	}
	return true
}
