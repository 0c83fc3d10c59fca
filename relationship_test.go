package rowguard

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type stubRelationships struct {
	links map[string]bool
	err   error
}

func (s *stubRelationships) HasRelationship(_ context.Context, actorID int64, domain string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.links[fmt.Sprintf("%d:%s", actorID, domain)], nil
}

func relationshipReq(action Action) *Request {
	return &Request{Subject: "bob", Domain: "7", Object: "report", Action: action, Attrs: NewAttributes()}
}

func TestRelationshipAllowsLinkedDomain(t *testing.T) {
	lookup := &stubRelationships{links: map[string]bool{"55:7": true}}
	ev := NewRelationshipEvaluator(lookup)
	actor := &Actor{ID: 55, Identifier: "bob"}
	meta := ResourceMeta{Object: "report", CreatorColumn: "created_by", UpdatorColumn: "updated_by"}

	req := relationshipReq(ActionRead)
	if !ev.Evaluate(context.Background(), req, TierCustomer, actor, meta) {
		t.Fatalf("expected allow for linked domain")
	}

	req = relationshipReq(ActionCreate)
	if !ev.Evaluate(context.Background(), req, TierCustomer, actor, meta) {
		t.Fatalf("expected allow")
	}
	if req.Attrs.Set["created_by"] != int64(55) {
		t.Fatalf("expected creator stamp, got %v", req.Attrs.Set)
	}

	req = relationshipReq(ActionUpdate)
	if !ev.Evaluate(context.Background(), req, TierCustomer, actor, meta) {
		t.Fatalf("expected allow")
	}
	if req.Attrs.Set["updated_by"] != int64(55) {
		t.Fatalf("expected updator stamp, got %v", req.Attrs.Set)
	}
}

func TestRelationshipDeniesUnlinkedDomain(t *testing.T) {
	ev := NewRelationshipEvaluator(&stubRelationships{links: map[string]bool{}})
	actor := &Actor{ID: 55, Identifier: "bob"}

	if ev.Evaluate(context.Background(), relationshipReq(ActionRead), TierCustomer, actor, ResourceMeta{}) {
		t.Fatalf("expected deny without link")
	}
}

func TestRelationshipFailsClosed(t *testing.T) {
	actor := &Actor{ID: 55, Identifier: "bob"}

	// No lookup wired.
	ev := NewRelationshipEvaluator(nil)
	if ev.Evaluate(context.Background(), relationshipReq(ActionRead), TierCustomer, actor, ResourceMeta{}) {
		t.Fatalf("expected deny with nil lookup")
	}

	// Lookup failure.
	ev = NewRelationshipEvaluator(&stubRelationships{err: errors.New("redis down")})
	if ev.Evaluate(context.Background(), relationshipReq(ActionRead), TierCustomer, actor, ResourceMeta{}) {
		t.Fatalf("expected deny on lookup error")
	}

	// Public tier never passes.
	ev = NewRelationshipEvaluator(&stubRelationships{links: map[string]bool{"55:7": true}})
	if ev.Evaluate(context.Background(), relationshipReq(ActionRead), TierPublic, actor, ResourceMeta{}) {
		t.Fatalf("expected deny for public tier")
	}
}

func TestRelationshipRejectsGlobalAndMalformedDomain(t *testing.T) {
	ev := NewRelationshipEvaluator(&stubRelationships{links: map[string]bool{"55:0": true}})
	actor := &Actor{ID: 55, Identifier: "bob"}

	req := relationshipReq(ActionRead)
	req.Domain = DomainGlobal
	if ev.Evaluate(context.Background(), req, TierCustomer, actor, ResourceMeta{}) {
		t.Fatalf("global domain has no relationship counterpart")
	}

	req = relationshipReq(ActionRead)
	req.Domain = "tenant-7"
	if ev.Evaluate(context.Background(), req, TierCustomer, actor, ResourceMeta{}) {
		t.Fatalf("malformed domain must deny")
	}
}
