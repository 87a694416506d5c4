package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
)

func TestGeneratorSessionIDs(t *testing.T) {
	t.Parallel()

	gen := New()
	first, err := gen.NewSessionID()
	if err != nil {
		t.Fatalf("NewSessionID() error = %v", err)
	}
	second, err := gen.NewSessionID()
	if err != nil {
		t.Fatalf("NewSessionID() error = %v", err)
	}
	if first == second {
		t.Fatalf("expected unique ids, got %s twice", first)
	}
	if first.Version() != 7 {
		t.Fatalf("expected v7, got v%d", first.Version())
	}
	if first.String() >= second.String() {
		t.Fatalf("expected time-ordered ids: %s then %s", first, second)
	}
}

func TestGeneratorRequestID(t *testing.T) {
	t.Parallel()

	id, err := New().NewRequestID()
	if err != nil {
		t.Fatalf("NewRequestID() error = %v", err)
	}
	if _, err := goUUID.Parse(id); err != nil {
		t.Fatalf("request id not a uuid: %v", err)
	}
}
