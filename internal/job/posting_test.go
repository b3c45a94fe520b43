package job

import "testing"

func TestPostingIDIsStable(t *testing.T) {
	a := PostingID("jobtech", "se-123")
	b := PostingID("jobtech", "se-123")
	if a != b {
		t.Fatalf("expected identical ids, got %s and %s", a, b)
	}

	if PostingID("jobtech", "se-124") == a {
		t.Fatalf("expected different source ids to produce different posting ids")
	}
	if PostingID("other", "se-123") == a {
		t.Fatalf("expected different sources to produce different posting ids")
	}
}

func TestContentHashIgnoresFormatting(t *testing.T) {
	a := ContentHash("ML Engineer", "Python, 3 years")
	b := ContentHash("  ml   engineer ", "python,   3 years\n")
	if a != b {
		t.Fatalf("expected normalized content to hash identically")
	}

	if ContentHash("ML Engineer", "Python, 5 years") == a {
		t.Fatalf("expected changed description to change the hash")
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusNew, StatusEvaluating, true},
		{StatusEvaluating, StatusMatched, true},
		{StatusEvaluating, StatusRejected, true},
		{StatusEvaluating, StatusError, true},
		{StatusMatched, StatusNotified, true},
		{StatusRejected, StatusEvaluating, true},
		{StatusError, StatusEvaluating, true},
		{StatusError, StatusNew, true},
		{StatusNotified, StatusEvaluating, true},

		{StatusNew, StatusMatched, false},
		{StatusNew, StatusNotified, false},
		{StatusEvaluating, StatusEvaluating, false},
		{StatusRejected, StatusNotified, false},
		{StatusNotified, StatusNew, false},
		{StatusMatched, StatusRejected, false},
	}

	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusNew, StatusEvaluating, StatusMatched, StatusRejected, StatusError, StatusNotified} {
		if !s.Valid() {
			t.Errorf("expected %s to be valid", s)
		}
	}
	if Status("BOGUS").Valid() {
		t.Errorf("expected BOGUS to be invalid")
	}
}
