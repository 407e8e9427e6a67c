package scoring

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Invalid marks an answer key entry whose letter is not in the alphabet.
// It never matches a student answer.
const Invalid = -1

// DefaultAlphabet maps A, B, C and D to choices 0 through 3.
const DefaultAlphabet = "ABCD"

// AnswerKey holds the correct choice index per question, or Invalid.
type AnswerKey []int

// Letters renders the key with the given alphabet, "?" for Invalid entries.
func (k AnswerKey) Letters(alphabet string) []string {
	if alphabet == "" {
		alphabet = DefaultAlphabet
	}
	letters := make([]string, len(k))
	for i, v := range k {
		if v < 0 || v >= len(alphabet) {
			letters[i] = "?"
			continue
		}
		letters[i] = alphabet[v : v+1]
	}
	return letters
}

// ParseAnswerKey reads (question, letter) records from CSV.
//
// Parameters:
//   - r: CSV source. Each record is "question,letter"; extra fields are ignored.
//   - alphabet: Choice letters in index order. Empty means DefaultAlphabet.
//
// Returns the key in record order. Letters are trimmed and upper-cased before
// lookup; a letter outside the alphabet becomes Invalid. Records with fewer
// than two fields, or whose question field is not a number (a header row),
// are skipped.
//
// Example:
//
//	1,A
//	2,c
//	3,E   -> Invalid
//
// yields AnswerKey{0, 2, Invalid}.
func ParseAnswerKey(r io.Reader, alphabet string) (AnswerKey, error) {
	if alphabet == "" {
		alphabet = DefaultAlphabet
	}
	alphabet = strings.ToUpper(alphabet)

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	key := AnswerKey{}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read answer key: %w", err)
		}
		if len(record) < 2 {
			continue
		}
		if _, err := strconv.Atoi(strings.TrimSpace(record[0])); err != nil {
			continue
		}
		key = append(key, letterIndex(record[1], alphabet))
	}
	return key, nil
}

// LoadAnswerKey reads an answer key CSV file.
func LoadAnswerKey(path, alphabet string) (AnswerKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open answer key: %w", err)
	}
	defer f.Close()

	key, err := ParseAnswerKey(f, alphabet)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return key, nil
}

// letterIndex maps a single letter to its alphabet position.
func letterIndex(field, alphabet string) int {
	letter := strings.ToUpper(strings.TrimSpace(field))
	if len(letter) != 1 {
		return Invalid
	}
	if i := strings.IndexByte(alphabet, letter[0]); i >= 0 {
		return i
	}
	return Invalid
}
