package rowguard

import "context"

// OwnershipEvaluator scopes row access to rows whose owner column equals the
// acting actor. It never emits a predicate that would let an actor reach rows
// outside its ownership scope, and it never lets a create or update reassign
// ownership to another principal.
type OwnershipEvaluator struct{}

// Evaluate decides the ownership condition for one request and mutates the
// request's where/set predicates on success. Internal actors bypass the check
// entirely and keep whatever predicates the request already carries.
func (OwnershipEvaluator) Evaluate(_ context.Context, req *Request, tier Tier, actor *Actor, meta ResourceMeta) bool {
	req.Attrs.ensure()

	// Owned resources are never reachable by public actors.
	if tier == TierPublic && meta.OwnerColumn != "" {
		return false
	}
	if tier == TierInternal {
		return true
	}

	switch req.Action.Base() {
	case ActionCreate:
		if meta.OwnerColumn != "" {
			// An actor cannot create a record owned by someone else.
			v, ok := req.Attrs.Set[meta.OwnerColumn]
			if !ok || !sameID(v, actor.ID) {
				return false
			}
		}
		if meta.CreatorColumn != "" {
			req.Attrs.Set[meta.CreatorColumn] = actor.ID
		}
		return true

	case ActionRead:
		if meta.OwnerColumn != "" {
			// A caller-supplied owner filter must not probe other owners.
			if v, ok := req.Attrs.Where[meta.OwnerColumn]; ok && !sameID(v, actor.ID) {
				return false
			}
			req.Attrs.Where[meta.OwnerColumn] = actor.ID
		}
		return true

	case ActionUpdate:
		if meta.OwnerColumn != "" {
			// The target row must already be scoped to the actor.
			v, ok := req.Attrs.Where[meta.OwnerColumn]
			if !ok || !sameID(v, actor.ID) {
				return false
			}
			// No ownership transfer through this path.
			if sv, ok := req.Attrs.Set[meta.OwnerColumn]; ok && !sameID(sv, actor.ID) {
				return false
			}
		}
		if meta.UpdatorColumn != "" {
			req.Attrs.Set[meta.UpdatorColumn] = actor.ID
		}
		return true

	case ActionDelete:
		if meta.OwnerColumn != "" {
			if v, ok := req.Attrs.Where[meta.OwnerColumn]; ok {
				if !sameID(v, actor.ID) {
					return false
				}
			} else {
				req.Attrs.Where[meta.OwnerColumn] = actor.ID
			}
		}
		return true
	}

	// Closed world: anything else is denied.
	return false
}
