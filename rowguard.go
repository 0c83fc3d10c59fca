package rowguard

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// Action identifies how a resource is being accessed. Grant variants are used
// when a non-internal actor wants permission to author policies for others.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"

	ActionGrantCreate Action = "grant-create"
	ActionGrantRead   Action = "grant-read"
	ActionGrantUpdate Action = "grant-update"
	ActionGrantDelete Action = "grant-delete"
)

// Base strips the grant prefix, mapping grant-update to update and so on.
// Non-grant actions map to themselves.
func (a Action) Base() Action {
	if s, ok := strings.CutPrefix(string(a), "grant-"); ok {
		return Action(s)
	}
	return a
}

// IsGrant reports whether the action is a grant variant.
func (a Action) IsGrant() bool {
	return strings.HasPrefix(string(a), "grant-")
}

// ParseAction validates an action string from a policy tuple or import record.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	switch a.Base() {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete:
		return a, nil
	}
	return "", &ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", s)}
}

// Effect represents the outcome a policy carries
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// ParseEffect validates an effect string from a policy tuple or import record.
func ParseEffect(s string) (Effect, error) {
	switch Effect(s) {
	case EffectAllow, EffectDeny:
		return Effect(s), nil
	}
	return "", &ValidationError{Field: "effect", Reason: fmt.Sprintf("unknown effect %q", s)}
}

// Condition is the closed set of dynamic checks a policy can demand. Each kind
// is bound to a ConditionEvaluator in the engine registry; unknown names fail
// at parse time and never reach evaluation.
type Condition uint8

const (
	ConditionNone Condition = iota
	ConditionOwnership
	ConditionRelationship
)

const (
	conditionNoneName         = "none"
	conditionOwnershipName    = "ownership-check"
	conditionRelationshipName = "relationship-check"
)

func (c Condition) String() string {
	switch c {
	case ConditionNone:
		return conditionNoneName
	case ConditionOwnership:
		return conditionOwnershipName
	case ConditionRelationship:
		return conditionRelationshipName
	}
	return fmt.Sprintf("condition(%d)", uint8(c))
}

// ParseConditionKind maps a stored condition name onto the closed enum.
func ParseConditionKind(s string) (Condition, error) {
	switch s {
	case conditionNoneName, "":
		return ConditionNone, nil
	case conditionOwnershipName:
		return ConditionOwnership, nil
	case conditionRelationshipName:
		return ConditionRelationship, nil
	}
	return ConditionNone, &ValidationError{Field: "condition", Reason: fmt.Sprintf("unknown condition %q", s)}
}

// AttrsNone is the literal stored in the attributes field when a policy does
// not constrain request attributes.
const AttrsNone = "none"

// Policy is a single authorization tuple. Subject is a role name or an actor
// identifier; Domain "0" is the platform-global domain. Attributes is either
// AttrsNone or a JSON object string that must deep-equal the request
// attributes during evaluation.
type Policy struct {
	Subject    string    `json:"subject" yaml:"subject"`
	Domain     string    `json:"domain" yaml:"domain"`
	Object     string    `json:"object" yaml:"object"`
	Action     Action    `json:"action" yaml:"action"`
	Condition  Condition `json:"condition" yaml:"condition"`
	Attributes string    `json:"attributes" yaml:"attributes"`
	Effect     Effect    `json:"effect" yaml:"effect"`
}

// policyFieldCount is the tuple width used by filtered repository operations.
const policyFieldCount = 7

// Fields returns the tuple in canonical field order (subject, domain, object,
// action, condition, attributes, effect), as used by fieldIndex filters.
func (p Policy) Fields() [policyFieldCount]string {
	return [policyFieldCount]string{
		p.Subject, p.Domain, p.Object, string(p.Action), p.Condition.String(), p.Attributes, string(p.Effect),
	}
}

// RoleAssignment binds an actor to a role inside one domain.
type RoleAssignment struct {
	Actor  string `json:"actor" yaml:"actor"`
	Role   string `json:"role" yaml:"role"`
	Domain string `json:"domain" yaml:"domain"`
}

// ResourceMeta describes which columns of an object carry ownership and
// authorship. An empty column name means that scoping dimension does not apply.
type ResourceMeta struct {
	Object        string `json:"object"`
	OwnerColumn   string `json:"owner_column"`
	CreatorColumn string `json:"creator_column"`
	UpdatorColumn string `json:"updator_column"`
}

// Actor is the resolved identity behind a request subject.
type Actor struct {
	ID         int64          `json:"id"`
	Identifier string         `json:"identifier"`
	Domains    []string       `json:"domains"`
	Attrs      map[string]any `json:"attrs,omitempty"`
}

// Attributes carries the mutable where/set predicate maps of a request. The
// engine populates them during evaluation; the caller applies them to its own
// data query afterward.
type Attributes struct {
	Where map[string]any `json:"where"`
	Set   map[string]any `json:"set"`
}

// NewAttributes returns an empty, ready-to-mutate attribute pair.
func NewAttributes() *Attributes {
	return &Attributes{Where: map[string]any{}, Set: map[string]any{}}
}

// clone copies the attribute maps so one policy's predicate mutations cannot
// leak into the evaluation of another.
func (a *Attributes) clone() *Attributes {
	out := NewAttributes()
	if a == nil {
		return out
	}
	for k, v := range a.Where {
		out.Where[k] = v
	}
	for k, v := range a.Set {
		out.Set[k] = v
	}
	return out
}

func (a *Attributes) ensure() {
	if a.Where == nil {
		a.Where = map[string]any{}
	}
	if a.Set == nil {
		a.Set = map[string]any{}
	}
}

// asValue renders the attributes as a generic JSON-shaped value for structural
// comparison against a policy's attributes object. Empty maps are omitted so
// that a fresh request compares equal to an empty policy object.
func (a *Attributes) asValue() map[string]any {
	out := map[string]any{}
	if a == nil {
		return out
	}
	if len(a.Where) > 0 {
		out["where"] = a.Where
	}
	if len(a.Set) > 0 {
		out["set"] = a.Set
	}
	return out
}

// Request is one authorization question: may Subject perform Action on Object
// within Domain. Attrs is mutated in place by the engine.
type Request struct {
	Subject string      `json:"subject"`
	Domain  string      `json:"domain"`
	Object  string      `json:"object"`
	Action  Action      `json:"action"`
	Attrs   *Attributes `json:"attrs"`
}

// Decision is the explicit result of an evaluation. Where and Set are the
// scoping predicates the caller must apply to its data access; they are only
// meaningful when Allowed is true.
type Decision struct {
	Allowed bool           `json:"allowed"`
	Reason  string         `json:"reason"`
	Where   map[string]any `json:"where"`
	Set     map[string]any `json:"set"`
}

// ============================================================================
// STORAGE INTERFACES
// ============================================================================

// PolicyRepository stores policy and role-assignment tuples. Filtered
// operations use casbin-style semantics: fieldIndex is the offset of the first
// filter value in canonical field order and empty strings are wildcards.
// Implementations must synchronize their own reads and writes; the engine
// never interleaves a multi-step read-modify-write across calls.
type PolicyRepository interface {
	AddPolicy(ctx context.Context, p Policy) error
	RemovePolicy(ctx context.Context, p Policy) error
	RemoveFilteredPolicy(ctx context.Context, fieldIndex int, values ...string) (int, error)
	GetFilteredPolicy(ctx context.Context, fieldIndex int, values ...string) ([]Policy, error)

	AddGroupingPolicy(ctx context.Context, actor, role, domain string) error
	RemoveGroupingPolicy(ctx context.Context, actor, role, domain string) error
	RemoveFilteredGroupingPolicy(ctx context.Context, fieldIndex int, values ...string) (int, error)
	GetFilteredGroupingPolicy(ctx context.Context, fieldIndex int, values ...string) ([]RoleAssignment, error)

	GetRolesForActor(ctx context.Context, actor, domain string) ([]string, error)
	GetActorsForRoleInDomain(ctx context.Context, role, domain string) ([]string, error)

	Save(ctx context.Context) error
}

// ResourceMetaLookup resolves per-object column metadata.
type ResourceMetaLookup interface {
	ResourceMeta(ctx context.Context, object string) (ResourceMeta, error)
}

// ResourceMetaWriter is implemented by metadata lookups that also accept
// administration writes. Engine.UpsertResourceMeta requires it.
type ResourceMetaWriter interface {
	UpsertResourceMeta(ctx context.Context, meta ResourceMeta) error
}

// ActorLookup resolves an actor identifier to its record.
type ActorLookup interface {
	ActorByIdentifier(ctx context.Context, identifier string) (*Actor, error)
}

// RelationshipLookup answers whether a currently-valid business relationship
// exists between an actor and a tenant domain.
type RelationshipLookup interface {
	HasRelationship(ctx context.Context, actorID int64, domain string) (bool, error)
}

// ============================================================================
// DOMAIN PARSING
// ============================================================================

// DomainGlobal is the platform-global domain shared by internal staff roles
// and the synthetic public/enduser roles.
const DomainGlobal = "0"

// ParseDomain validates a tenant scope identifier. Domains are non-negative
// integers; anything else is a validation error and must never be coerced to a
// privileged scope.
func ParseDomain(s string) (int64, error) {
	d, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || d < 0 {
		return 0, &ValidationError{Field: "domain", Reason: fmt.Sprintf("malformed domain %q", s)}
	}
	return d, nil
}

// sameID compares a predicate value, which may arrive as any JSON scalar
// shape, against an actor id.
func sameID(v any, id int64) bool {
	switch x := v.(type) {
	case int64:
		return x == id
	case int:
		return int64(x) == id
	case int32:
		return int64(x) == id
	case float64:
		return x == float64(id)
	case json.Number:
		n, err := x.Int64()
		return err == nil && n == id
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return err == nil && n == id
	}
	return false
}
