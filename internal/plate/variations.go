// Package plate holds the confusion model and matching rules for Brazilian
// plates in the AAA#A## layout.
package plate

import (
	"sort"

	"plate-search-service/internal/utils"
)

// PlateLength is the only length the confusion model applies to.
const PlateLength = 7

// gConfusions are the digits OCR commonly emits for a middle 'G'.
var gConfusions = []byte{'6', '8', '9', '0'}

// digitToLetter maps digits to the letter OCR most likely mistook for them.
var digitToLetter = map[byte]byte{
	'0': 'O',
	'6': 'G',
	'8': 'B',
	'5': 'S',
	'1': 'I',
	'2': 'Z',
}

// Variations returns the normalized strings a noisy OCR engine could emit for
// target, sorted and without duplicates. The normalized target is always
// present. Targets whose normalized length is not PlateLength are returned
// unchanged as the only element.
func Variations(target string) []string {
	n := utils.NormalizePlate(target)
	if len(n) != PlateLength {
		return []string{n}
	}

	letters := n[:3]
	digit := n[3:4]
	middle := n[4]
	tail := n[5:]

	set := map[string]struct{}{}
	add := func(s string) {
		set[utils.NormalizePlate(s)] = struct{}{}
	}

	add(n)

	if middle == 'G' {
		for _, sub := range gConfusions {
			add(letters + digit + string(sub) + tail)
			// OCR merging the digit and the G into a single glyph.
			add(letters + string(sub) + tail)
		}
	}

	if converted, ok := digitToLetter[middle]; ok && converted != middle {
		add(letters + digit + string(converted) + tail)
	}

	// Spaced reads collapse back to n once normalized.
	add(letters + " " + digit + string(middle) + tail)
	add(letters + digit + " " + string(middle) + tail)
	add(letters + " " + digit + " " + string(middle) + tail)

	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
