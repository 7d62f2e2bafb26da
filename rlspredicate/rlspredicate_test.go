package rlspredicate

import "testing"

func TestCompileOwnerOnlyPredicate(t *testing.T) {
	eng, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	pred, err := eng.Compile(`auth.uid == resource.owner_id`, AuthContext{UID: "u1"})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !pred(map[string]interface{}{"owner_id": "u1"}) {
		t.Error("expected owner to pass")
	}
	if pred(map[string]interface{}{"owner_id": "u2"}) {
		t.Error("expected non-owner to be denied")
	}
}

func TestCompileEmptyExpressionDeniesAll(t *testing.T) {
	eng, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	pred, err := eng.Compile("", AuthContext{UID: "u1"})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if pred(map[string]interface{}{"owner_id": "u1"}) {
		t.Error("expected empty expression to deny by default")
	}
}

func TestCompileCachesPrograms(t *testing.T) {
	eng, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	expr := `auth.uid == resource.owner_id`
	if _, err := eng.Compile(expr, AuthContext{UID: "u1"}); err != nil {
		t.Fatalf("Compile 1: %v", err)
	}
	if _, ok := eng.prgCache.Load(expr); !ok {
		t.Error("expected program to be cached after first compile")
	}
	if _, err := eng.Compile(expr, AuthContext{UID: "u2"}); err != nil {
		t.Fatalf("Compile 2: %v", err)
	}
}
