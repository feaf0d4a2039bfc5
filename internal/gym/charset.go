package gym

import (
	"sync"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/rangetable"
)

// DefaultMaxLength bounds observations and actions, in runes.
const DefaultMaxLength = 10000

// leanRanges are the code point blocks Lean sources and goals draw from.
var leanRanges = [...][2]rune{
	{0x0020, 0x024F},   // Basic Latin, Latin-1, Latin Extended
	{0x0250, 0x02AF},   // IPA Extensions
	{0x0300, 0x036F},   // Combining Diacritical Marks
	{0x0370, 0x03FF},   // Greek and Coptic
	{0x1F00, 0x1FFF},   // Greek Extended
	{0x0400, 0x04FF},   // Cyrillic
	{0x1D400, 0x1D7FF}, // Mathematical Alphanumeric Symbols
	{0x2000, 0x206F},   // General Punctuation
	{0x2070, 0x209F},   // Superscripts and Subscripts
	{0x20A0, 0x20CF},   // Currency Symbols
	{0x20D0, 0x20FF},   // Combining Marks for Symbols
	{0x2100, 0x214F},   // Letterlike Symbols
	{0x2150, 0x218F},   // Number Forms
	{0x2190, 0x21FF},   // Arrows
	{0x27F0, 0x27FF},   // Supplemental Arrows-A
	{0x2900, 0x297F},   // Supplemental Arrows-B
	{0x2200, 0x22FF},   // Mathematical Operators
	{0x2300, 0x23FF},   // Miscellaneous Technical
	{0x2400, 0x243F},   // Control Pictures
	{0x2440, 0x245F},   // Optical Character Recognition
	{0x2460, 0x24FF},   // Enclosed Alphanumerics
	{0x2500, 0x25FF},   // Box Drawing, Block Elements, Geometric Shapes
	{0x2600, 0x26FF},   // Miscellaneous Symbols
	{0x2700, 0x27BF},   // Dingbats
	{0x27C0, 0x27EF},   // Miscellaneous Mathematical Symbols-A
	{0x2980, 0x29FF},   // Miscellaneous Mathematical Symbols-B
	{0x2A00, 0x2AFF},   // Supplemental Mathematical Operators
	{0x2B00, 0x2BFF},   // Miscellaneous Symbols and Arrows
	{0x2E00, 0x2E7F},   // Supplemental Punctuation
	{0x3000, 0x303F},   // CJK Symbols and Punctuation
	{0x1EE00, 0x1EEFF}, // Arabic Mathematical Alphabetic Symbols
}

// LeanCharset returns the printable characters of the Lean code point
// blocks. The table is built on first use and shared afterwards; callers must
// not modify it.
var LeanCharset = sync.OnceValue(func() *unicode.RangeTable {
	var runes []rune
	for _, r := range leanRanges {
		for c := r[0]; c <= r[1]; c++ {
			if unicode.IsPrint(c) {
				runes = append(runes, c)
			}
		}
	}
	return rangetable.New(runes...)
})

// TextSpace describes the strings accepted as observations or actions.
type TextSpace struct {
	MaxLength int
	Charset   *unicode.RangeTable
}

// LeanTextSpace is the space used for both observations and actions.
func LeanTextSpace() TextSpace {
	return TextSpace{MaxLength: DefaultMaxLength, Charset: LeanCharset()}
}

// Contains reports whether text fits the space.
func (s TextSpace) Contains(text string) bool {
	if s.MaxLength > 0 && utf8.RuneCountInString(text) > s.MaxLength {
		return false
	}
	if s.Charset == nil {
		return true
	}
	for _, r := range text {
		if !unicode.Is(s.Charset, r) {
			return false
		}
	}
	return true
}

// Size returns the number of characters in the charset.
func (s TextSpace) Size() int {
	if s.Charset == nil {
		return 0
	}
	n := 0
	rangetable.Visit(s.Charset, func(rune) { n++ })
	return n
}
