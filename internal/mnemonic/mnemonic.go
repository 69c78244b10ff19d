// Package mnemonic provides BIP39 mnemonic generation, validation, and
// seed derivation for the master wallet, plus typo suggestions for
// operator-entered recovery phrases.
package mnemonic

import (
	"math"
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/tyler-smith/go-bip39"

	vaulterr "github.com/mrz1836/hotvault/pkg/errors"
)

var (
	// whitespaceRegex matches one or more whitespace characters.
	whitespaceRegex = regexp.MustCompile(`\s+`)

	// numberedListRegex matches numbered list prefixes like "1." "2)" "3:"
	numberedListRegex = regexp.MustCompile(`(?m)^\s*\d+[\.\)\:]\s*`)

	// bulletListRegex matches bullet prefixes like "- " "* " "• "
	bulletListRegex = regexp.MustCompile(`(?m)^\s*[-*•]\s*`)
)

// Generate creates a new BIP39 mnemonic phrase.
// wordCount must be 12 (128 bits entropy) or 24 (256 bits entropy).
func Generate(wordCount int) (string, error) {
	var bitSize int
	switch wordCount {
	case 12:
		bitSize = 128
	case 24:
		bitSize = 256
	default:
		return "", vaulterr.WithDetails(vaulterr.ErrInvalidInput,
			map[string]string{"word_count": "must be 12 or 24"})
	}

	entropy, err := bip39.NewEntropy(bitSize)
	if err != nil {
		return "", err
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", err
	}

	return mnemonic, nil
}

// Validate checks if a mnemonic phrase is valid according to BIP39.
// It verifies word count, word validity, and checksum.
func Validate(phrase string) error {
	if phrase == "" {
		return vaulterr.ErrInvalidMnemonic
	}

	normalized := Normalize(phrase)

	// Early exit: fast word count check before checksum validation.
	// BIP39 only supports 12 or 24-word mnemonics here.
	words := strings.Fields(normalized)
	if len(words) != 12 && len(words) != 24 {
		return vaulterr.ErrInvalidMnemonic
	}

	// EntropyFromMnemonic validates word validity AND checksum
	if _, err := bip39.EntropyFromMnemonic(normalized); err != nil {
		return vaulterr.ErrInvalidMnemonic
	}

	return nil
}

// Normalize cleans and normalizes mnemonic input by:
// - Converting to lowercase
// - Removing numbered list prefixes (1. 2) 3: etc.)
// - Removing bullet prefixes (- * •)
// - Replacing commas with spaces
// - Collapsing whitespace runs to single spaces and trimming
func Normalize(input string) string {
	input = strings.ToLower(input)
	input = numberedListRegex.ReplaceAllString(input, " ")
	input = bulletListRegex.ReplaceAllString(input, " ")
	input = strings.ReplaceAll(input, ",", " ")
	input = whitespaceRegex.ReplaceAllString(input, " ")
	return strings.TrimSpace(input)
}

// ToSeed converts a BIP39 mnemonic phrase to a 64-byte seed.
// The passphrase is optional (can be empty string).
// The returned seed should be handled securely and zeroed after use.
func ToSeed(phrase, passphrase string) ([]byte, error) {
	normalized := Normalize(phrase)

	seed, err := bip39.NewSeedWithErrorChecking(normalized, passphrase)
	if err != nil {
		return nil, vaulterr.ErrInvalidMnemonic
	}
	return seed, nil
}

// IsValidWord checks if a word is in the BIP39 word list.
func IsValidWord(word string) bool {
	word = strings.ToLower(word)
	for _, w := range bip39.GetWordList() {
		if w == word {
			return true
		}
	}
	return false
}

// MaxTypoDistance is the maximum Levenshtein distance to consider a suggestion.
// Words with distance > 2 are considered too different to suggest.
const MaxTypoDistance = 2

// TypoInfo contains information about a detected typo and its suggestion.
type TypoInfo struct {
	// Index is the word position in the mnemonic (0-based).
	Index int
	// Word is the original (possibly misspelled) word.
	Word string
	// Suggestion is the closest BIP39 word, or empty if none found.
	Suggestion string
	// Distance is the Levenshtein distance to the suggestion.
	Distance int
}

// SuggestWord finds the closest BIP39 word to the input using Levenshtein distance.
// Returns empty string if no word is close enough (distance > MaxTypoDistance).
func SuggestWord(input string) string {
	input = strings.ToLower(input)

	minDist := math.MaxInt
	var suggestion string

	for _, word := range bip39.GetWordList() {
		dist := levenshtein.ComputeDistance(input, word)
		if dist < minDist {
			minDist = dist
			suggestion = word
		}
		// Early exit for exact match
		if dist == 0 {
			return word
		}
	}

	if minDist <= MaxTypoDistance {
		return suggestion
	}
	return ""
}

// DetectTypos scans a mnemonic phrase and returns information about detected
// typos: words not in the BIP39 word list with suggested corrections.
func DetectTypos(phrase string) []TypoInfo {
	if phrase == "" {
		return nil
	}

	normalized := Normalize(phrase)
	words := strings.Fields(normalized)
	var typos []TypoInfo

	for i, word := range words {
		if !IsValidWord(word) {
			suggestion := SuggestWord(word)
			distance := 0
			if suggestion != "" {
				distance = levenshtein.ComputeDistance(word, suggestion)
			}
			typos = append(typos, TypoInfo{
				Index:      i,
				Word:       word,
				Suggestion: suggestion,
				Distance:   distance,
			})
		}
	}

	return typos
}
