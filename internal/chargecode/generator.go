package chargecode

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// rejectAbove is the largest multiple of len(Alphabet) that fits in a byte.
// Bytes at or above it are discarded so every symbol is equally likely.
const rejectAbove = 256 - 256%len(Alphabet)

// Generator draws charge codes from a cryptographically secure source.
type Generator struct {
	rand io.Reader
	now  func() time.Time
}

func NewGenerator() *Generator {
	return &Generator{rand: rand.Reader, now: time.Now}
}

// NewGeneratorWithReader is used by tests to inject a deterministic source.
func NewGeneratorWithReader(r io.Reader) *Generator {
	return &Generator{rand: r, now: time.Now}
}

// Generate returns count distinct codes sharing amount and a fresh batch id.
// Nothing is persisted.
func (g *Generator) Generate(count int, amount int64) ([]ChargeCode, error) {
	if count <= 0 {
		return nil, newError(KindInvalidInput, "count must be positive", nil)
	}
	if amount <= 0 {
		return nil, newError(KindInvalidInput, "amount must be positive", nil)
	}

	template := ChargeCode{
		Amount:    amount,
		BatchID:   uuid.New(),
		CreatedAt: g.now().UTC(),
	}
	return g.Regenerate(count, template, make(map[string]struct{}, count))
}

// Regenerate draws n more codes distinct from taken, reusing template's
// amount, batch and timestamp. New codes are added to taken.
func (g *Generator) Regenerate(n int, template ChargeCode, taken map[string]struct{}) ([]ChargeCode, error) {
	out := make([]ChargeCode, 0, n)
	budget := n*CodeLength + 64
	for len(out) < n {
		if budget == 0 {
			return nil, newError(KindGeneration, MsgGeneration,
				fmt.Errorf("entropy source produced too many rejected codes"))
		}
		budget--

		code, err := g.draw()
		if err != nil {
			return nil, newError(KindGeneration, MsgGeneration, err)
		}
		if !hasLetterAndDigit(code) {
			continue
		}
		if _, dup := taken[code]; dup {
			continue
		}
		taken[code] = struct{}{}
		c := template
		c.Code = code
		out = append(out, c)
	}
	return out, nil
}

func (g *Generator) draw() (string, error) {
	buf := make([]byte, CodeLength)
	if _, err := io.ReadFull(g.rand, buf); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}

	var sb strings.Builder
	sb.Grow(CodeLength)
	one := make([]byte, 1)
	for _, b := range buf {
		for int(b) >= rejectAbove {
			if _, err := io.ReadFull(g.rand, one); err != nil {
				return "", fmt.Errorf("read entropy: %w", err)
			}
			b = one[0]
		}
		sb.WriteByte(Alphabet[int(b)%len(Alphabet)])
	}
	return sb.String(), nil
}

func hasLetterAndDigit(code string) bool {
	var letter, digit bool
	for i := 0; i < len(code); i++ {
		switch c := code[i]; {
		case c >= 'A' && c <= 'Z':
			letter = true
		case c >= '0' && c <= '9':
			digit = true
		}
	}
	return letter && digit
}

// ValidFormat reports whether code is exactly CodeLength symbols of A-Z0-9.
func ValidFormat(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

// Normalize trims surrounding whitespace and upper-cases a submitted code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
