package gwnntp

import "testing"

func TestGlobMatcherExact(t *testing.T) {
	if !GlobMatcher("comp.lang.go", "comp.lang.go") {
		t.Fatal("expected exact match")
	}
	if GlobMatcher("comp.lang.go", "comp.lang.rust") {
		t.Fatal("expected no match")
	}
}

func TestGlobMatcherSingleLevelWildcard(t *testing.T) {
	if !GlobMatcher("comp.lang.*", "comp.lang.go") {
		t.Fatal("expected single-level wildcard to match one segment")
	}
	if GlobMatcher("comp.lang.*", "comp.lang.go.moderated") {
		t.Fatal("single-level wildcard should not cross a hierarchy boundary")
	}
}

func TestGlobMatcherDoubleStarSuffix(t *testing.T) {
	if !GlobMatcher("alt.binaries.**", "alt.binaries.pictures.misc") {
		t.Fatal("expected deep match under alt.binaries.**")
	}
	if !GlobMatcher("alt.binaries.**", "alt.binaries") {
		t.Fatal("expected the root itself to match")
	}
	if GlobMatcher("alt.binaries.**", "alt.sources") {
		t.Fatal("unrelated hierarchy should not match")
	}
}

func TestGlobMatcherStar(t *testing.T) {
	if !GlobMatcher("*", "anything.at.all") {
		t.Fatal("bare * should admit every group")
	}
}
