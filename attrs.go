package rowguard

import (
	"encoding/json"
	"fmt"

	"github.com/oarkflow/rowguard/utils"
)

// NormalizeAttributes validates a policy attributes field and returns its
// canonical stored form: AttrsNone, or the JSON serialization of an object.
// Accepts a string (AttrsNone or JSON object text) or a map that gets
// serialized before storage.
func NormalizeAttributes(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return AttrsNone, nil
	case string:
		if x == "" || x == AttrsNone {
			return AttrsNone, nil
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(x), &obj); err != nil {
			return "", &ValidationError{Field: "attributes", Reason: fmt.Sprintf("not %q and not a JSON object: %v", AttrsNone, err)}
		}
		return x, nil
	case map[string]any:
		b, err := json.Marshal(x)
		if err != nil {
			return "", &ValidationError{Field: "attributes", Reason: err.Error()}
		}
		return string(b), nil
	}
	return "", &ValidationError{Field: "attributes", Reason: fmt.Sprintf("unsupported type %T", v)}
}

// matchAttributes implements the static attribute gate of evaluation. A policy
// carrying AttrsNone matches any request. Otherwise the stored JSON object
// must deep-equal the request's attributes (order-independent for objects,
// order-sensitive for arrays). Malformed stored attributes are a policy
// configuration fault and surface as a validation error.
func matchAttributes(stored string, attrs *Attributes) (bool, error) {
	if stored == "" || stored == AttrsNone {
		return true, nil
	}
	var want any
	if err := json.Unmarshal([]byte(stored), &want); err != nil {
		return false, &ValidationError{Field: "attributes", Reason: fmt.Sprintf("stored attributes not valid JSON: %v", err)}
	}
	// Round-trip the request side through JSON so both values share the same
	// scalar shapes before comparison.
	got := attrs.asValue()
	b, err := json.Marshal(got)
	if err != nil {
		return false, err
	}
	var gotv any
	if err := json.Unmarshal(b, &gotv); err != nil {
		return false, err
	}
	return utils.DeepEqual(want, gotv), nil
}
