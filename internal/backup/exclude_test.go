package backup

import "testing"

func TestExcluderMatch(t *testing.T) {
	excluder, err := NewExcluder([]string{"**/*.lock", "cache/**", " "})
	if err != nil {
		t.Fatalf("failed to create excluder: %v", err)
	}

	cases := map[string]bool{
		"session.lock":      true,
		"region/r.0.0.lock": true,
		"deep/a/b/c.lock":   true,
		"cache/chunk.bin":   true,
		"level.dat":         false,
		"region/r.0.0.mca":  false,
		"locks/readme.txt":  false,
		"session.lock.bak":  false,
	}
	for rel, want := range cases {
		if got := excluder.Match(rel); got != want {
			t.Fatalf("Match(%q) = %v, want %v", rel, got, want)
		}
	}

	if len(excluder.Patterns()) != 2 {
		t.Fatalf("expected blank pattern to be dropped, got %v", excluder.Patterns())
	}
}

func TestExcluderRejectsInvalidPattern(t *testing.T) {
	if _, err := NewExcluder([]string{"[unclosed"}); err == nil {
		t.Fatalf("expected invalid pattern error")
	}
}

func TestNilExcluderMatchesNothing(t *testing.T) {
	var excluder *Excluder
	if excluder.Match("session.lock") {
		t.Fatalf("nil excluder should not match")
	}
}
