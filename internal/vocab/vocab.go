// Package vocab holds the vocabulary-to-class-id mapping used to grade
// practice attempts. The table is loaded once at startup and never mutated;
// class ids are decimal strings because that is how the inference service
// encodes them on the wire, and correctness comparison is string equality.
package vocab

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

//go:embed vocabulary.json
var defaultTable []byte

// Mapper is a build-once bidirectional word <-> class-id lookup. Safe for
// concurrent use after construction.
type Mapper struct {
	wordToID map[string]string
	idToWord map[string]string
	words    []string
}

// Load builds a Mapper from the JSON table at path, falling back to the
// embedded default table when path is empty.
func Load(path string) (*Mapper, error) {
	data := defaultTable
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read vocabulary: %w", err)
		}
		data = b
	}
	return parse(data)
}

func parse(data []byte) (*Mapper, error) {
	var table map[string]string
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse vocabulary: %w", err)
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("vocabulary table is empty")
	}

	m := &Mapper{
		wordToID: make(map[string]string, len(table)),
		idToWord: make(map[string]string, len(table)),
	}
	for word, id := range table {
		w := strings.ToLower(strings.TrimSpace(word))
		if w == "" {
			return nil, fmt.Errorf("vocabulary contains an empty word")
		}
		if id == "" {
			return nil, fmt.Errorf("word %q has an empty class id", w)
		}
		if _, dup := m.wordToID[w]; dup {
			return nil, fmt.Errorf("duplicate word %q in vocabulary", w)
		}
		// Duplicate ids make reverse lookup ambiguous; refuse to load
		// rather than keep one arbitrarily.
		if prev, dup := m.idToWord[id]; dup {
			return nil, fmt.Errorf("class id %q mapped by both %q and %q", id, prev, w)
		}
		m.wordToID[w] = id
		m.idToWord[id] = w
		m.words = append(m.words, w)
	}
	sort.Strings(m.words)
	return m, nil
}

// IDForWord returns the class id for word (case-insensitive). ok is false
// when the word has no mapping.
func (m *Mapper) IDForWord(word string) (id string, ok bool) {
	id, ok = m.wordToID[strings.ToLower(strings.TrimSpace(word))]
	return id, ok
}

// WordForID returns the vocabulary word for a wire class id.
func (m *Mapper) WordForID(id string) (word string, ok bool) {
	word, ok = m.idToWord[id]
	return word, ok
}

// Words returns all vocabulary words in sorted order.
func (m *Mapper) Words() []string {
	out := make([]string, len(m.words))
	copy(out, m.words)
	return out
}

// Len returns the number of vocabulary entries.
func (m *Mapper) Len() int { return len(m.wordToID) }
