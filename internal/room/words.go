package room

import (
	"fmt"
	"math/rand/v2"
)

// codeWords is the dictionary for verify codes. Words are short,
// pronounceable, and unambiguous when read aloud.
var codeWords = []string{
	"apple", "bamboo", "cedar", "dahlia", "ember", "fennel",
	"ginger", "hazel", "iris", "jade", "kiwi", "lime",
	"mango", "nori", "olive", "pecan", "quince", "rowan",
	"sage", "tulip", "umber", "violet", "wasabi", "yarrow",
	"zinnia", "basil", "clove", "dune", "fern", "grove",
	"heron", "ivy", "juniper", "kelp", "lotus", "maple",
}

// NewVerifyCode generates a pronounceable shared secret of the form
// "lime-nori-482": two dictionary words plus three digits. Generated once
// per room and compared case-insensitively on submission.
func NewVerifyCode() string {
	first := codeWords[rand.IntN(len(codeWords))]
	second := codeWords[rand.IntN(len(codeWords))]
	return fmt.Sprintf("%s-%s-%03d", first, second, rand.IntN(1000))
}
