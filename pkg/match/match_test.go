package match

import "testing"

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"The Fellowship of the Ring", "fellowship of the ring"},
		{"Dune.Messiah.Frank.Herbert-GRP", "dune messiah frank herbert grp"},
		{"Léon: The Professional", "leon professional"},
		{"Foundation & Empire", "foundation and empire"},
		{"The Dark Tower VII", "dark tower 7"},
		{"Harry Potter and the Philosopher's Stone", "harry potter and the philosophers stone"},
		{"A Wizard of Earthsea", "wizard of earthsea"},
	}
	for _, tt := range tests {
		if got := CleanTitle(tt.in); got != tt.want {
			t.Errorf("CleanTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBestMatch(t *testing.T) {
	candidates := []string{
		"Dune.Frank.Herbert.Unabridged.M4B-GRP",
		"Dune Messiah Frank Herbert [epub]",
		"Children.of.Dune.Frank.Herbert",
		"Completely Unrelated Title",
	}

	result := BestMatch("Dune Messiah - Frank Herbert", candidates)
	if result.Name != "Dune Messiah Frank Herbert [epub]" {
		t.Errorf("Name = %q", result.Name)
	}
	if result.Confidence < ConfidenceMedium {
		t.Errorf("Confidence = %v, want >= medium (score %.2f)", result.Confidence, result.Score)
	}
}

func TestBestMatch_NoCandidates(t *testing.T) {
	result := BestMatch("Dune", nil)
	if result.Confidence != ConfidenceNone || result.Name != "" {
		t.Errorf("result = %+v, want none", result)
	}
}

func TestBestMatch_NothingClose(t *testing.T) {
	result := BestMatch("Dune", []string{"War and Peace", "Moby Dick"})
	if result.Confidence >= ConfidenceMedium {
		t.Errorf("Confidence = %v (score %.2f) for unrelated candidates", result.Confidence, result.Score)
	}
}

func TestBestMatch_SeriesNumberMismatchPenalized(t *testing.T) {
	candidates := []string{
		"The Expanse Book 3 Abaddons Gate",
		"The Expanse Book 2 Calibans War",
	}
	result := BestMatch("The Expanse Book 2", candidates)
	if result.Name != "The Expanse Book 2 Calibans War" {
		t.Errorf("Name = %q, want the book-2 candidate", result.Name)
	}
}

func TestRemoveAccents(t *testing.T) {
	if got := RemoveAccents("Gabriel García Márquez"); got != "Gabriel Garcia Marquez" {
		t.Errorf("RemoveAccents = %q", got)
	}
}

func TestConfidenceString(t *testing.T) {
	if ConfidenceHigh.String() != "high" || ConfidenceNone.String() != "none" {
		t.Error("unexpected Confidence strings")
	}
}
