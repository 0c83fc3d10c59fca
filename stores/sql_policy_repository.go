package stores

import (
	"context"
	"fmt"
	"strings"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/rowguard"
)

// SQLPolicyRepository persists policy and role-assignment tuples in SQL
// (squealx). Every write is durable per statement, so Save is a no-op.
type SQLPolicyRepository struct {
	db *squealx.DB
}

func NewSQLPolicyRepository(db *squealx.DB) *SQLPolicyRepository {
	return &SQLPolicyRepository{db: db}
}

var policyColumns = []string{"subject", "domain", "object", "action", "condition", "attributes", "effect"}
var groupingColumns = []string{"actor", "role", "domain"}

func (s *SQLPolicyRepository) AddPolicy(ctx context.Context, p rowguard.Policy) error {
	q := `INSERT OR IGNORE INTO policies(subject, domain, object, action, condition, attributes, effect)
	      VALUES(:subject, :domain, :object, :action, :condition, :attributes, :effect)`
	_, err := s.db.NamedExecContext(ctx, q, policyParams(p))
	return err
}

func (s *SQLPolicyRepository) RemovePolicy(ctx context.Context, p rowguard.Policy) error {
	q := `DELETE FROM policies WHERE subject = :subject AND domain = :domain AND object = :object
	      AND action = :action AND condition = :condition AND attributes = :attributes AND effect = :effect`
	_, err := s.db.NamedExecContext(ctx, q, policyParams(p))
	return err
}

func (s *SQLPolicyRepository) RemoveFilteredPolicy(ctx context.Context, fieldIndex int, values ...string) (int, error) {
	where, params, err := filterClause(policyColumns, fieldIndex, values)
	if err != nil {
		return 0, err
	}
	res, err := s.db.NamedExecContext(ctx, "DELETE FROM policies"+where, params)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLPolicyRepository) GetFilteredPolicy(ctx context.Context, fieldIndex int, values ...string) ([]rowguard.Policy, error) {
	where, params, err := filterClause(policyColumns, fieldIndex, values)
	if err != nil {
		return nil, err
	}
	q := `SELECT subject, domain, object, action, condition, attributes, effect FROM policies` + where
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]rowguard.Policy, 0)
	for r.Next() {
		var subject, domain, object, action, condition, attributes, effect string
		if err := r.Scan(&subject, &domain, &object, &action, &condition, &attributes, &effect); err != nil {
			return nil, err
		}
		cond, err := rowguard.ParseConditionKind(condition)
		if err != nil {
			return nil, fmt.Errorf("policy %s/%s/%s: %w", subject, domain, object, err)
		}
		out = append(out, rowguard.Policy{
			Subject:    subject,
			Domain:     domain,
			Object:     object,
			Action:     rowguard.Action(action),
			Condition:  cond,
			Attributes: attributes,
			Effect:     rowguard.Effect(effect),
		})
	}
	return out, nil
}

func (s *SQLPolicyRepository) AddGroupingPolicy(ctx context.Context, actor, role, domain string) error {
	q := `INSERT OR IGNORE INTO role_assignments(actor, role, domain) VALUES(:actor, :role, :domain)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"actor": actor, "role": role, "domain": domain})
	return err
}

func (s *SQLPolicyRepository) RemoveGroupingPolicy(ctx context.Context, actor, role, domain string) error {
	q := `DELETE FROM role_assignments WHERE actor = :actor AND role = :role AND domain = :domain`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"actor": actor, "role": role, "domain": domain})
	return err
}

func (s *SQLPolicyRepository) RemoveFilteredGroupingPolicy(ctx context.Context, fieldIndex int, values ...string) (int, error) {
	where, params, err := filterClause(groupingColumns, fieldIndex, values)
	if err != nil {
		return 0, err
	}
	res, err := s.db.NamedExecContext(ctx, "DELETE FROM role_assignments"+where, params)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLPolicyRepository) GetFilteredGroupingPolicy(ctx context.Context, fieldIndex int, values ...string) ([]rowguard.RoleAssignment, error) {
	where, params, err := filterClause(groupingColumns, fieldIndex, values)
	if err != nil {
		return nil, err
	}
	q := `SELECT actor, role, domain FROM role_assignments` + where
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]rowguard.RoleAssignment, 0)
	for r.Next() {
		var a rowguard.RoleAssignment
		if err := r.Scan(&a.Actor, &a.Role, &a.Domain); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *SQLPolicyRepository) GetRolesForActor(ctx context.Context, actor, domain string) ([]string, error) {
	q := `SELECT role FROM role_assignments WHERE actor = :actor AND domain = :domain`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"actor": actor, "domain": domain})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]string, 0)
	for r.Next() {
		var role string
		if err := r.Scan(&role); err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, nil
}

func (s *SQLPolicyRepository) GetActorsForRoleInDomain(ctx context.Context, role, domain string) ([]string, error) {
	q := `SELECT actor FROM role_assignments WHERE role = :role AND domain = :domain`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"role": role, "domain": domain})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]string, 0)
	for r.Next() {
		var actor string
		if err := r.Scan(&actor); err != nil {
			return nil, err
		}
		out = append(out, actor)
	}
	return out, nil
}

func (s *SQLPolicyRepository) Save(ctx context.Context) error { return nil }

// filterClause builds a WHERE clause from casbin-style fieldIndex filters:
// values align to columns starting at fieldIndex and an empty value is a
// wildcard, expressed as (:col = '' OR col = :col).
func filterClause(columns []string, fieldIndex int, values []string) (string, map[string]any, error) {
	if fieldIndex < 0 || fieldIndex+len(values) > len(columns) {
		return "", nil, fmt.Errorf("filter out of range: fieldIndex=%d values=%d columns=%d", fieldIndex, len(values), len(columns))
	}
	if len(values) == 0 {
		return "", map[string]any{}, nil
	}
	conds := make([]string, 0, len(values))
	params := map[string]any{}
	for i, v := range values {
		col := columns[fieldIndex+i]
		conds = append(conds, fmt.Sprintf("(:%s = '' OR %s = :%s)", col, col, col))
		params[col] = v
	}
	return " WHERE " + strings.Join(conds, " AND "), params, nil
}

func policyParams(p rowguard.Policy) map[string]any {
	attrs := p.Attributes
	if attrs == "" {
		attrs = rowguard.AttrsNone
	}
	return map[string]any{
		"subject":    p.Subject,
		"domain":     p.Domain,
		"object":     p.Object,
		"action":     string(p.Action),
		"condition":  p.Condition.String(),
		"attributes": attrs,
		"effect":     string(p.Effect),
	}
}
