package docenc

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/xerrors"
)

// KeySize is the length of a document key R.
const KeySize = 32

// ErrCorruptDocument is returned when a ciphertext does not open under the
// recovered key. It is distinct from an access denial.
var ErrCorruptDocument = xerrors.New("corrupt document")

// NewKey samples a fresh document key.
func NewKey() ([]byte, error) {
	r := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, r); err != nil {
		return nil, xerrors.Errorf("sampling document key: %v", err)
	}
	return r, nil
}

// Seal encrypts with AES-256-GCM; the output is nonce || ciphertext.
func Seal(key, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open is the inverse of Seal.
func Open(key, ciphertext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	ns := aead.NonceSize()
	if len(ciphertext) < ns+aead.Overhead() {
		return nil, xerrors.Errorf("ciphertext of %d bytes: %w", len(ciphertext), ErrCorruptDocument)
	}
	pt, err := aead.Open(nil, ciphertext[:ns], ciphertext[ns:], nil)
	if err != nil {
		return nil, xerrors.Errorf("%v: %w", err, ErrCorruptDocument)
	}
	return pt, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, xerrors.Errorf("key of %d bytes: %w", len(key), ErrCorruptDocument)
	}
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(c)
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "any": true, "can": true,
	"had": true, "her": true, "was": true, "one": true, "our": true,
	"out": true, "has": true, "his": true, "how": true, "its": true,
	"who": true, "this": true, "that": true, "with": true, "from": true,
	"have": true, "they": true, "will": true, "were": true, "been": true,
	"into": true, "than": true, "then": true, "them": true, "there": true,
}

// ExtractKeywords lower-cases the text, splits it on anything that is not a
// letter or digit and returns the distinct tokens of at least three runes
// that are not stop words, sorted.
func ExtractKeywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool)
	var out []string
	for _, f := range fields {
		if len([]rune(f)) < 3 || stopWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
