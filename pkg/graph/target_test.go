package graph

import "testing"

func TestTargetListAddRemove(t *testing.T) {
	var l targetList
	a := &Target{}
	b := &Target{}
	c := &Target{}

	ha := l.Add(a)
	hb := l.Add(b)
	hc := l.Add(c)

	if l.Len() != 3 {
		t.Fatalf("Expected 3 targets, got %d", l.Len())
	}

	l.Remove(hb)
	if l.Len() != 2 {
		t.Errorf("Expected 2 targets after remove, got %d", l.Len())
	}
	if b.handle != invalidHandle {
		t.Error("Removed target should have an invalid handle")
	}

	var seen []*Target
	l.ForEach(func(tg *Target) { seen = append(seen, tg) })
	if len(seen) != 2 || seen[0] != a || seen[1] != c {
		t.Errorf("Expected [a c], got %v", seen)
	}

	// Freed slot is reused.
	d := &Target{}
	hd := l.Add(d)
	if hd != hb {
		t.Errorf("Expected reused handle %d, got %d", hb, hd)
	}

	l.Remove(ha)
	l.Remove(hc)
	l.Remove(hd)
	if l.Len() != 0 {
		t.Errorf("Expected empty list, got %d", l.Len())
	}
}

func TestTargetListRemoveInvalid(t *testing.T) {
	var l targetList
	l.Remove(invalidHandle)
	l.Remove(5)

	h := l.Add(&Target{})
	l.Remove(h)
	l.Remove(h) // double remove is a no-op
	if l.Len() != 0 {
		t.Errorf("Expected empty list, got %d", l.Len())
	}
}
