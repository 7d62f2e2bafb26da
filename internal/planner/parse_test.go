package planner

import "testing"

func TestParseFilterImplicitEquality(t *testing.T) {
	e, err := ParseFilter([]byte(`{"status":"active"}`))
	if err != nil {
		t.Fatalf("ParseFilter: %v", err)
	}
	if !Matches(e, map[string]interface{}{"status": "active"}) {
		t.Error("expected status=active to match")
	}
	if Matches(e, map[string]interface{}{"status": "inactive"}) {
		t.Error("expected status=inactive not to match")
	}
}

func TestParseFilterRangeOperator(t *testing.T) {
	e, err := ParseFilter([]byte(`{"age":{"$gt":25}}`))
	if err != nil {
		t.Fatalf("ParseFilter: %v", err)
	}
	if !Matches(e, map[string]interface{}{"age": float64(30)}) {
		t.Error("expected age=30 to match age>25")
	}
	if Matches(e, map[string]interface{}{"age": float64(20)}) {
		t.Error("expected age=20 not to match age>25")
	}
}

func TestParseFilterAndOr(t *testing.T) {
	e, err := ParseFilter([]byte(`{"$or":[{"status":"active"},{"age":{"$gte":65}}]}`))
	if err != nil {
		t.Fatalf("ParseFilter: %v", err)
	}
	if !Matches(e, map[string]interface{}{"status": "inactive", "age": float64(70)}) {
		t.Error("expected senior inactive user to match via $or")
	}
	if Matches(e, map[string]interface{}{"status": "inactive", "age": float64(40)}) {
		t.Error("expected non-senior inactive user not to match")
	}
}

func TestParseFilterEmptyMeansMatchAll(t *testing.T) {
	e, err := ParseFilter(nil)
	if err != nil {
		t.Fatalf("ParseFilter: %v", err)
	}
	if !Matches(e, map[string]interface{}{"anything": true}) {
		t.Error("expected empty filter to match every document")
	}
}

func TestParseFilterUnknownOperatorErrors(t *testing.T) {
	if _, err := ParseFilter([]byte(`{"age":{"$bogus":1}}`)); err == nil {
		t.Fatal("expected error for unknown operator")
	}
}
