package dedupe

import "testing"

func TestInMemory_ChangedAndApply(t *testing.T) {
	s := NewInMemoryStore()

	changed, err := s.Changed("srid-1", 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Fatalf("unknown srid should report changed")
	}

	// Changed is read-only: asking does not record
	changed, _ = s.Changed("srid-1", 100)
	if !changed {
		t.Fatalf("unrecorded srid should still report changed")
	}

	if err := s.Apply("srid-1", 100); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// same or older change must not report changed (replay suppression)
	changed, _ = s.Changed("srid-1", 100)
	if changed {
		t.Fatalf("replay of same change should not report changed")
	}
	changed, _ = s.Changed("srid-1", 50)
	if changed {
		t.Fatalf("older change should not report changed")
	}

	// a later mutation (e.g. cancellation) must pass through
	changed, _ = s.Changed("srid-1", 200)
	if !changed {
		t.Fatalf("newer change should report changed")
	}

	// an older apply must not move the watermark backwards
	if err := s.Apply("srid-1", 50); err != nil {
		t.Fatalf("apply: %v", err)
	}
	changed, _ = s.Changed("srid-1", 100)
	if changed {
		t.Fatalf("watermark moved backwards")
	}

	// independent keys do not interfere
	changed, _ = s.Changed("srid-2", 100)
	if !changed {
		t.Fatalf("new srid should report changed")
	}
}

func TestNopStore(t *testing.T) {
	var s NopStore
	for i := 0; i < 3; i++ {
		changed, err := s.Changed("srid-1", 100)
		if err != nil || !changed {
			t.Fatalf("nop store must always report changed")
		}
		if err := s.Apply("srid-1", 100); err != nil {
			t.Fatalf("nop apply: %v", err)
		}
	}
}
