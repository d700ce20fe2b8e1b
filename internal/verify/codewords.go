// Package verify implements the phone verification core: code-word phrase
// generation, fuzzy phrase matching, and the webhook-driven IVR controller
// that walks a caller through reading their phrase back.
package verify

import (
	"errors"
	"math/rand"
	"sync"
)

// DefaultVocabulary is the closed set of code words phrases are drawn from.
// NATO phonetic words transcribe far more reliably than arbitrary English.
var DefaultVocabulary = []string{
	"alpha", "bravo", "charlie", "delta",
	"echo", "foxtrot", "golf", "hotel",
}

// DefaultPhraseLength is the number of code words in a verification phrase.
const DefaultPhraseLength = 5

// ErrEmptyVocabulary is returned when constructing a generator with no words.
var ErrEmptyVocabulary = errors.New("vocabulary is empty")

// ErrInvalidLength is returned when the phrase length is not positive.
var ErrInvalidLength = errors.New("phrase length must be positive")

// Generator produces verification phrases from a fixed vocabulary. The random
// source is injected so tests can seed it.
type Generator struct {
	mu     sync.Mutex // rand.Rand is not safe for concurrent use
	rng    *rand.Rand
	vocab  []string
	length int
}

// NewGenerator creates a phrase generator. A nil source falls back to an
// unseeded time-based source.
func NewGenerator(vocab []string, length int, src rand.Source) (*Generator, error) {
	if len(vocab) == 0 {
		return nil, ErrEmptyVocabulary
	}
	if length < 1 {
		return nil, ErrInvalidLength
	}

	var rng *rand.Rand
	if src != nil {
		rng = rand.New(src)
	} else {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	return &Generator{
		rng:    rng,
		vocab:  append([]string(nil), vocab...),
		length: length,
	}, nil
}

// Phrase returns a fresh ordered phrase of code words, each drawn
// independently and uniformly from the vocabulary. Repeats are allowed.
func (g *Generator) Phrase() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	words := make([]string, g.length)
	for i := range words {
		words[i] = g.vocab[g.rng.Intn(len(g.vocab))]
	}
	return words
}
