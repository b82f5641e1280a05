package captcha

import (
	"strings"
	"unicode"

	"github.com/einvoicetw/captcha-solver/internal/observability"
)

// CodeLength is the number of digits a valid challenge code carries.
const CodeLength = 5

// spokenDigits is the fixed table translating transcript characters onto
// ASCII digits: the ten Chinese numerals the challenge voice reads, ASCII
// digits passing through unchanged, and 'E', which the transcriber produces
// when it garbles 一 and is routed to '1'. Do not extend the fallback set
// without evidence from real transcripts.
var spokenDigits = map[rune]rune{
	'一': '1',
	'二': '2',
	'三': '3',
	'四': '4',
	'五': '5',
	'六': '6',
	'七': '7',
	'八': '8',
	'九': '9',
	'零': '0',
	'0': '0',
	'1': '1',
	'2': '2',
	'3': '3',
	'4': '4',
	'5': '5',
	'6': '6',
	'7': '7',
	'8': '8',
	'9': '9',
	'E': '1',
}

// CleanTranscript strips raw transcript text down to the characters that can
// possibly encode a digit: Unicode letters and digits plus the spoken-digit
// glyphs. Punctuation, whitespace, and symbols are discarded, not replaced.
func CleanTranscript(text string) string {
	var b strings.Builder
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || isSpokenDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isSpokenDigit(r rune) bool {
	_, ok := spokenDigits[r]
	return ok
}

// MapDigits translates a cleaned transcript into an ASCII digit string
// through the spoken-digit table. Characters without a mapping are logged
// and skipped; they never fail the mapping. Identical input always yields
// identical output.
func MapDigits(cleaned string) string {
	logger := observability.WithComponent("captcha")

	var b strings.Builder
	for _, r := range cleaned {
		mapped, ok := spokenDigits[r]
		if !ok {
			logger.Warn().Str("char", string(r)).Msg("Skipping unmappable transcript character")
			continue
		}
		b.WriteRune(mapped)
	}
	return b.String()
}

// ValidateCode accepts a mapped digit sequence only when it is exactly
// CodeLength digits long. Anything else is an InvalidLengthError; the code
// is never truncated or padded to fit.
func ValidateCode(digits string) error {
	if len(digits) != CodeLength {
		return &InvalidLengthError{Digits: digits, Length: len(digits)}
	}
	return nil
}
