package rowguard

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/oarkflow/rowguard/logger"
)

// ConditionEvaluator decides one dynamic policy condition for a request and
// mutates the request's where/set predicates on success. Implementations must
// convert every internal fault to false; deny is always the safe default.
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, req *Request, tier Tier, actor *Actor, meta ResourceMeta) bool
}

// Engine orchestrates static attribute matching, dynamic condition dispatch,
// and predicate accumulation. Evaluation is per-request and stateless; the
// only shared state is the repository and the lookup caches.
type Engine struct {
	repo       PolicyRepository
	meta       ResourceMetaLookup
	actors     ActorLookup
	classifier *Classifier
	evaluators map[Condition]ConditionEvaluator

	cache    *ristretto.Cache
	cacheTTL time.Duration

	logger logger.Logger
}

// EngineOption customizes an Engine at construction time.
type EngineOption func(*Engine)

// WithLogger installs a Logger on the engine.
func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithClassifier replaces the default trust-tier classifier.
func WithClassifier(c *Classifier) EngineOption {
	return func(e *Engine) { e.classifier = c }
}

// WithCacheTTL sets the TTL for cached actor and resource-metadata records.
func WithCacheTTL(d time.Duration) EngineOption {
	return func(e *Engine) { e.cacheTTL = d }
}

// NewEngine wires the decision engine. relationships may be nil, in which case
// every relationship-check policy denies. The condition registry is closed
// here: new condition kinds require a new enum value and evaluator binding.
func NewEngine(repo PolicyRepository, meta ResourceMetaLookup, actors ActorLookup, relationships RelationshipLookup, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		repo:       repo,
		meta:       meta,
		actors:     actors,
		classifier: NewClassifier(DefaultInternalRoles, DefaultPrivilegedRoles),
		cacheTTL:   time.Second,
		logger:     logger.NewPhusluLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.evaluators = map[Condition]ConditionEvaluator{
		ConditionOwnership:    OwnershipEvaluator{},
		ConditionRelationship: NewRelationshipEvaluator(relationships),
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1 << 14,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	e.cache = cache
	return e, nil
}

// Classifier exposes the engine's trust-tier classifier.
func (e *Engine) Classifier() *Classifier { return e.classifier }

// ============================================================================
// LOOKUPS (cached)
// ============================================================================

func (e *Engine) resolveActor(ctx context.Context, identifier string) (*Actor, error) {
	key := "actor:" + identifier
	if v, ok := e.cache.Get(key); ok {
		return v.(*Actor), nil
	}
	actor, err := e.actors.ActorByIdentifier(ctx, identifier)
	if err != nil {
		return nil, &LookupError{Kind: "actor", Key: identifier, Err: err}
	}
	e.cache.SetWithTTL(key, actor, 1, e.cacheTTL)
	return actor, nil
}

func (e *Engine) resolveMeta(ctx context.Context, object string) (ResourceMeta, error) {
	key := "meta:" + object
	if v, ok := e.cache.Get(key); ok {
		return v.(ResourceMeta), nil
	}
	meta, err := e.meta.ResourceMeta(ctx, object)
	if err != nil {
		return ResourceMeta{}, &LookupError{Kind: "resource-meta", Key: object, Err: err}
	}
	e.cache.SetWithTTL(key, meta, 1, e.cacheTTL)
	return meta, nil
}

// flushCaches drops every cached lookup. Called after administration writes so
// a decision made right after an admin call observes the new state.
func (e *Engine) flushCaches() {
	e.cache.Clear()
}

// ============================================================================
// EVALUATION
// ============================================================================

// Evaluate decides a single policy against a request. On allow it mutates
// req.Attrs with the scoping predicates the caller must apply. A lookup
// failure returns deny together with the error; an unknown condition is a
// configuration error and never default-allows.
func (e *Engine) Evaluate(ctx context.Context, req *Request, pol Policy, tier Tier) (bool, error) {
	if req.Attrs == nil {
		req.Attrs = NewAttributes()
	}

	// Static attribute gate: mismatch denies with no side effects.
	ok, err := matchAttributes(pol.Attributes, req.Attrs)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	actor, err := e.resolveActor(ctx, req.Subject)
	if err != nil {
		return false, err
	}
	meta, err := e.resolveMeta(ctx, req.Object)
	if err != nil {
		return false, err
	}

	// Default authorship stamping happens before condition dispatch so that
	// create/update carry creator/updator even without a condition. Internal
	// actors under a dynamic condition keep their request untouched.
	if pol.Condition == ConditionNone || tier != TierInternal {
		stampDefaults(req, actor.ID, meta)
	}

	if pol.Condition == ConditionNone {
		return true, nil
	}
	ev, ok := e.evaluators[pol.Condition]
	if !ok {
		return false, &ValidationError{Field: "condition", Reason: "no evaluator registered for " + pol.Condition.String()}
	}
	return ev.Evaluate(ctx, req, tier, actor, meta), nil
}

func stampDefaults(req *Request, actorID int64, meta ResourceMeta) {
	req.Attrs.ensure()
	switch req.Action.Base() {
	case ActionCreate:
		if meta.CreatorColumn != "" {
			req.Attrs.Set[meta.CreatorColumn] = actorID
		}
	case ActionUpdate:
		if meta.UpdatorColumn != "" {
			req.Attrs.Set[meta.UpdatorColumn] = actorID
		}
	}
}

// Authorize answers a full request: it resolves the actor, classifies its
// trust tier from all role-domain memberships, collects the candidate
// policies, applies explicit-deny-first precedence, and defaults to deny.
func (e *Engine) Authorize(ctx context.Context, req *Request) (*Decision, error) {
	if req == nil || req.Subject == "" || req.Object == "" {
		return deny("invalid request"), &ValidationError{Field: "request", Reason: "subject and object are required"}
	}
	if _, err := ParseAction(string(req.Action)); err != nil {
		return deny("invalid request"), err
	}
	if req.Attrs == nil {
		req.Attrs = NewAttributes()
	}
	req.Attrs.ensure()

	actor, err := e.resolveActor(ctx, req.Subject)
	if err != nil {
		return e.logDecision(req, deny("actor lookup failed")), err
	}
	pairs, err := e.repo.GetFilteredGroupingPolicy(ctx, 0, actor.Identifier)
	if err != nil {
		return e.logDecision(req, deny("role lookup failed")), &LookupError{Kind: "policy", Key: actor.Identifier, Err: err}
	}
	tier, err := e.classifier.Classify(pairs)
	if err != nil {
		return e.logDecision(req, deny("unclassifiable memberships")), err
	}

	if req.Domain == "" {
		req.Domain = defaultDomain(tier, actor)
	}
	if _, err := ParseDomain(req.Domain); err != nil {
		return e.logDecision(req, deny("malformed domain")), err
	}

	policies, err := e.candidatePolicies(ctx, req, actor, pairs)
	if err != nil {
		return e.logDecision(req, deny("policy lookup failed")), err
	}

	// Explicit deny has the highest precedence. Deny policies match
	// statically; their condition never scopes anything.
	for _, pol := range policies {
		if pol.Effect != EffectDeny {
			continue
		}
		ok, err := matchAttributes(pol.Attributes, req.Attrs)
		if err != nil {
			return e.logDecision(req, deny("attribute match failed")), err
		}
		if ok {
			return e.logDecision(req, deny("explicit deny policy")), nil
		}
	}

	// Each candidate is evaluated against a fresh copy of the caller's
	// attributes; a failed policy's stamps must not bleed into the next one.
	// Only the allowing policy's mutations are committed to the request.
	original := req.Attrs
	for _, pol := range policies {
		if pol.Effect != EffectAllow {
			continue
		}
		req.Attrs = original.clone()
		ok, err := e.Evaluate(ctx, req, pol, tier)
		if err != nil {
			req.Attrs = original
			return e.logDecision(req, deny("evaluation failed")), err
		}
		if ok {
			return e.logDecision(req, allow(req, "policy allow")), nil
		}
	}
	req.Attrs = original

	return e.logDecision(req, deny("no matching allow policy")), nil
}

// CanGrant reports whether the actor may author policies for the given object
// and action. Internal actors always may; everyone else must hold the grant
// variant of the action.
func (e *Engine) CanGrant(ctx context.Context, actorIdentifier, domain, object string, action Action) (bool, error) {
	actor, err := e.resolveActor(ctx, actorIdentifier)
	if err != nil {
		return false, err
	}
	pairs, err := e.repo.GetFilteredGroupingPolicy(ctx, 0, actor.Identifier)
	if err != nil {
		return false, &LookupError{Kind: "policy", Key: actor.Identifier, Err: err}
	}
	tier, err := e.classifier.Classify(pairs)
	if err != nil {
		return false, err
	}
	if tier == TierInternal {
		return true, nil
	}
	grant := Action("grant-" + string(action.Base()))
	dec, err := e.Authorize(ctx, &Request{Subject: actorIdentifier, Domain: domain, Object: object, Action: grant, Attrs: NewAttributes()})
	if err != nil {
		return false, err
	}
	return dec.Allowed, nil
}

// candidatePolicies loads policies whose subject is the actor itself or one of
// its roles in the request domain or the global domain, and whose domain and
// action fit the request.
func (e *Engine) candidatePolicies(ctx context.Context, req *Request, actor *Actor, pairs []RoleAssignment) ([]Policy, error) {
	subjects := []string{actor.Identifier}
	seen := map[string]struct{}{actor.Identifier: {}}
	for _, pair := range pairs {
		if pair.Domain != req.Domain && pair.Domain != DomainGlobal {
			continue
		}
		if _, ok := seen[pair.Role]; ok {
			continue
		}
		seen[pair.Role] = struct{}{}
		subjects = append(subjects, pair.Role)
	}

	out := make([]Policy, 0)
	for _, subject := range subjects {
		pols, err := e.repo.GetFilteredPolicy(ctx, 0, subject)
		if err != nil {
			return nil, &LookupError{Kind: "policy", Key: subject, Err: err}
		}
		for _, pol := range pols {
			if pol.Domain != req.Domain && pol.Domain != DomainGlobal {
				continue
			}
			if pol.Object != req.Object || pol.Action != req.Action {
				continue
			}
			out = append(out, pol)
		}
	}
	return out, nil
}

func defaultDomain(tier Tier, actor *Actor) string {
	if tier == TierCustomer && len(actor.Domains) > 0 {
		return actor.Domains[0]
	}
	return DomainGlobal
}

func deny(reason string) *Decision {
	return &Decision{Allowed: false, Reason: reason}
}

func allow(req *Request, reason string) *Decision {
	return &Decision{
		Allowed: true,
		Reason:  reason,
		Where:   copyMap(req.Attrs.Where),
		Set:     copyMap(req.Attrs.Set),
	}
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (e *Engine) logDecision(req *Request, dec *Decision) *Decision {
	e.logger.Info("authorize decision",
		"actor", req.Subject,
		"domain", req.Domain,
		"object", req.Object,
		"action", string(req.Action),
		"allowed", dec.Allowed,
		"reason", dec.Reason,
	)
	return dec
}
