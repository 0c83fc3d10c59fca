package rowguard

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// Import record shapes:
//   actor;role;domain
//   subject;domain;object;action;condition;attributes;effect
//
// One record per line, '#' comments and blank lines skipped. The attributes
// field is the literal "none" or a JSON object string.
const importFieldSep = ";"

type importBatch struct {
	assignments []RoleAssignment
	policies    []Policy
}

// ImportPolicies reads newline-delimited role-assignment and policy records
// and applies them as one batch. The whole input is parsed and validated
// first; a single malformed record aborts the import with nothing applied.
// Returns the number of records applied.
func (e *Engine) ImportPolicies(ctx context.Context, r io.Reader) (int, error) {
	batch, err := parseImport(r)
	if err != nil {
		return 0, err
	}
	for _, a := range batch.assignments {
		if err := e.repo.AddGroupingPolicy(ctx, a.Actor, a.Role, a.Domain); err != nil {
			return 0, &LookupError{Kind: "policy", Key: a.Actor, Err: err}
		}
	}
	for _, p := range batch.policies {
		if err := e.repo.AddPolicy(ctx, p); err != nil {
			return 0, &LookupError{Kind: "policy", Key: p.Subject, Err: err}
		}
	}
	if err := e.commit(ctx); err != nil {
		return 0, err
	}
	n := len(batch.assignments) + len(batch.policies)
	e.logger.Info("bulk import applied",
		"assignments", len(batch.assignments),
		"policies", len(batch.policies),
	)
	return n, nil
}

func parseImport(r io.Reader) (*importBatch, error) {
	batch := &importBatch{}
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Split(text, importFieldSep)
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		switch len(fields) {
		case 3:
			a, err := parseAssignmentRecord(fields)
			if err != nil {
				return nil, importError(line, err)
			}
			batch.assignments = append(batch.assignments, a)
		case policyFieldCount:
			p, err := parsePolicyRecord(fields)
			if err != nil {
				return nil, importError(line, err)
			}
			batch.policies = append(batch.policies, p)
		default:
			return nil, importError(line, &ValidationError{
				Field:  "record",
				Reason: fmt.Sprintf("expected 3 or %d fields, got %d", policyFieldCount, len(fields)),
			})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return batch, nil
}

func parseAssignmentRecord(fields []string) (RoleAssignment, error) {
	a := RoleAssignment{Actor: fields[0], Role: fields[1], Domain: fields[2]}
	if a.Actor == "" || a.Role == "" {
		return a, &ValidationError{Field: "assignment", Reason: "actor and role are required"}
	}
	if _, err := ParseDomain(a.Domain); err != nil {
		return a, err
	}
	return a, nil
}

func parsePolicyRecord(fields []string) (Policy, error) {
	act, err := ParseAction(fields[3])
	if err != nil {
		return Policy{}, err
	}
	cond, err := ParseConditionKind(fields[4])
	if err != nil {
		return Policy{}, err
	}
	return validatePolicy(Policy{
		Subject:    fields[0],
		Domain:     fields[1],
		Object:     fields[2],
		Action:     act,
		Condition:  cond,
		Attributes: fields[5],
		Effect:     Effect(fields[6]),
	})
}

func importError(line int, err error) error {
	return fmt.Errorf("import line %d: %w", line, err)
}
