// Package keyword loads keyword lists and matches them against tender fields.
//
// Keywords longer than two runes match anywhere in the text so that German
// compound words are found ("Rückstand" in "Produktionsrückstand"). Shorter
// keywords must stand between non-letters. A leading or trailing space in the
// keyword file pins that side to whitespace or the edge of the text.
package keyword
