package verify

import (
	"errors"
	"math/rand"
	"testing"
)

func TestGeneratorPhraseLengthAndMembership(t *testing.T) {
	vocab := map[string]bool{}
	for _, w := range DefaultVocabulary {
		vocab[w] = true
	}

	g, err := NewGenerator(DefaultVocabulary, DefaultPhraseLength, rand.NewSource(42))
	if err != nil {
		t.Fatalf("NewGenerator() error: %v", err)
	}

	for i := 0; i < 100; i++ {
		phrase := g.Phrase()
		if len(phrase) != DefaultPhraseLength {
			t.Fatalf("phrase length = %d, want %d", len(phrase), DefaultPhraseLength)
		}
		for _, w := range phrase {
			if !vocab[w] {
				t.Fatalf("phrase word %q not in vocabulary", w)
			}
		}
	}
}

func TestGeneratorDeterministicWithSeed(t *testing.T) {
	g1, err := NewGenerator(DefaultVocabulary, 5, rand.NewSource(7))
	if err != nil {
		t.Fatalf("NewGenerator() error: %v", err)
	}
	g2, err := NewGenerator(DefaultVocabulary, 5, rand.NewSource(7))
	if err != nil {
		t.Fatalf("NewGenerator() error: %v", err)
	}

	for i := 0; i < 10; i++ {
		p1 := g1.Phrase()
		p2 := g2.Phrase()
		for j := range p1 {
			if p1[j] != p2[j] {
				t.Fatalf("seeded generators diverged at phrase %d position %d: %q vs %q", i, j, p1[j], p2[j])
			}
		}
	}
}

func TestGeneratorSingleWordVocabulary(t *testing.T) {
	g, err := NewGenerator([]string{"alpha"}, 3, rand.NewSource(1))
	if err != nil {
		t.Fatalf("NewGenerator() error: %v", err)
	}
	for _, w := range g.Phrase() {
		if w != "alpha" {
			t.Errorf("word = %q, want alpha", w)
		}
	}
}

func TestGeneratorRejectsEmptyVocabulary(t *testing.T) {
	if _, err := NewGenerator(nil, 5, rand.NewSource(1)); !errors.Is(err, ErrEmptyVocabulary) {
		t.Errorf("NewGenerator(nil vocab) = %v, want ErrEmptyVocabulary", err)
	}
}

func TestGeneratorRejectsBadLength(t *testing.T) {
	if _, err := NewGenerator(DefaultVocabulary, 0, rand.NewSource(1)); !errors.Is(err, ErrInvalidLength) {
		t.Errorf("NewGenerator(length 0) = %v, want ErrInvalidLength", err)
	}
}
