package testutil

import "testing"

func TestNewTestStore(t *testing.T) {
	s := NewTestStore(t)

	version, err := s.GetSchemaVersion()
	if err != nil {
		t.Fatalf("GetSchemaVersion: %v", err)
	}
	if version == 0 {
		t.Error("schema version should be set after InitSchema")
	}
}

func TestSeedRecord(t *testing.T) {
	s := NewTestStore(t)
	SeedRecord(t, s, "people", "p1", map[string]any{"name": "Jane Doe"})

	r, err := s.GetRecord("people", "p1")
	AssertNoError(t, err)
	AssertEqual(t, r.Field("name"), "Jane Doe")
}

func TestAssertError(t *testing.T) {
	s := NewTestStore(t)
	_, err := s.GetRecord("people", "missing")
	AssertError(t, err)
}

func TestAssertEqual(t *testing.T) {
	AssertEqual(t, 1, 1)
	AssertEqual(t, "test", "test")
}
