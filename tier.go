package rowguard

// Tier classifies an actor's trust level from its role-domain memberships.
type Tier uint8

const (
	TierUnknown Tier = iota
	TierPublic
	TierExternal
	TierCustomer
	TierInternal
)

func (t Tier) String() string {
	switch t {
	case TierPublic:
		return "public"
	case TierExternal:
		return "external"
	case TierCustomer:
		return "customer"
	case TierInternal:
		return "internal"
	}
	return "unknown"
}

// Synthetic roles held in the global domain by self-registered and anonymous
// actors.
const (
	RoleEndUser = "enduser"
	RolePublic  = "public"
)

// Classifier derives a Tier from role-domain pairs. The role sets are fixed at
// construction; use Config.Classifier to build one from configuration.
type Classifier struct {
	internalRoles   map[string]struct{}
	privilegedRoles map[string]struct{}
}

// NewClassifier builds a classifier from the internal-staff role set and the
// customer-facing privileged role set (both matched in the global domain only).
func NewClassifier(internalRoles, privilegedRoles []string) *Classifier {
	c := &Classifier{
		internalRoles:   make(map[string]struct{}, len(internalRoles)),
		privilegedRoles: make(map[string]struct{}, len(privilegedRoles)),
	}
	for _, r := range internalRoles {
		c.internalRoles[r] = struct{}{}
	}
	for _, r := range privilegedRoles {
		c.privilegedRoles[r] = struct{}{}
	}
	return c
}

// Classify OR-accumulates tier flags across all pairs and returns the
// highest-priority true flag: internal > customer > external > public. A pair
// with a malformed domain aborts classification with a validation error; it
// must never contribute a privileged flag.
func (c *Classifier) Classify(pairs []RoleAssignment) (Tier, error) {
	var internal, customer, external, public bool
	for _, pair := range pairs {
		d, err := ParseDomain(pair.Domain)
		if err != nil {
			return TierUnknown, err
		}
		if d > 0 {
			customer = true
			continue
		}
		if _, ok := c.internalRoles[pair.Role]; ok {
			internal = true
			continue
		}
		if _, ok := c.privilegedRoles[pair.Role]; ok {
			customer = true
			continue
		}
		switch pair.Role {
		case RoleEndUser:
			external = true
		case RolePublic:
			public = true
		}
	}
	switch {
	case internal:
		return TierInternal, nil
	case customer:
		return TierCustomer, nil
	case external:
		return TierExternal, nil
	case public:
		return TierPublic, nil
	}
	return TierUnknown, nil
}

// ClassifyInDomain is the single-pair fast path used when a role/domain pair
// is already in hand, e.g. a policy subject under evaluation. In the global
// domain a role outside all three sets defaults to public.
func (c *Classifier) ClassifyInDomain(role, domain string) (Tier, error) {
	d, err := ParseDomain(domain)
	if err != nil {
		return TierUnknown, err
	}
	if d > 0 {
		return TierCustomer, nil
	}
	if _, ok := c.internalRoles[role]; ok {
		return TierInternal, nil
	}
	if _, ok := c.privilegedRoles[role]; ok {
		return TierCustomer, nil
	}
	if role == RoleEndUser {
		return TierExternal, nil
	}
	return TierPublic, nil
}
