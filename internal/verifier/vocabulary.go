package verifier

import (
	"fmt"
	"strings"

	"github.com/MeKo-Tech/omnishelf/internal/catalog"
)

// Choices is the product vocabulary offered to the vision model.
var Choices = []string{
	"Pringles Original",
	"Pringles Sour Cream & Onion",
	"Lay's Classic Potato Chips",
	"Ruffles Sour Cream & Onion",
	"Doritos Nacho Cheese",
	"Kit Kat",
	"Snickers",
	"Twix",
	"M&M's",
	"Reese's",
	"Skittles",
	"Starburst",
	"Monster Energy",
	"Red Bull",
	"Coca-Cola",
	"Pepsi",
	"Mountain Dew",
	"Gatorade",
	"Cheerios",
	"Oreo",
	"Chips Ahoy",
	"Unknown Product",
}

// LabelMapping maps an answer fragment to a product code.
type LabelMapping struct {
	Key  string
	Code string
}

// LabelTable is scanned in order; the first key contained in the answer
// wins, so longer and more specific keys come first.
var LabelTable = []LabelMapping{
	{"pringles original", "grozi_36"},
	{"pringles sour cream & onion", "grozi_35"},
	{"pringles sour cream", "grozi_35"},
	{"pringles", "grozi_36"},
	{"lay's classic potato chips", "grozi_51"},
	{"lay's classic", "grozi_51"},
	{"lay's", "grozi_51"},
	{"lays", "grozi_51"},
	{"ruffles sour cream & onion", "grozi_117"},
	{"ruffles", "grozi_117"},
	{"doritos nacho cheese", "grozi_39"},
	{"doritos", "grozi_39"},
	{"kit kat", "grozi_30"},
	{"kitkat", "grozi_30"},
	{"snickers", "grozi_12"},
	{"twix", "grozi_11"},
	{"m&m's", "grozi_10"},
	{"m&ms", "grozi_10"},
	{"reese's", "grozi_31"},
	{"reeses", "grozi_31"},
	{"skittles", "grozi_38"},
	{"starburst", "grozi_37"},
	{"monster energy", "grozi_42"},
	{"monster", "grozi_42"},
	{"red bull", "grozi_61"},
	{"redbull", "grozi_61"},
	{"coca-cola", "grozi_54"},
	{"coke", "grozi_54"},
	{"pepsi", "grozi_59"},
	{"mountain dew", "grozi_105"},
	{"gatorade", "grozi_15"},
	{"cheerios", "grozi_4"},
	{"oreo", "grozi_107"},
	{"chips ahoy", "grozi_107"},
}

// LookupCode maps a free-text answer to a product code.
func LookupCode(answer string) (string, bool) {
	a := catalog.NormalizeLabel(answer)
	if a == "" {
		return "", false
	}
	for _, m := range LabelTable {
		if strings.Contains(a, m.Key) {
			return m.Code, true
		}
	}
	return "", false
}

// Agrees reports whether the verifier answer names the predicted product:
// either label contains the other, or the answer's first word appears in the
// prediction. Comparison ignores case.
func Agrees(predicted, answer string) bool {
	p := catalog.NormalizeLabel(predicted)
	a := catalog.NormalizeLabel(answer)
	if a == "" || p == "" {
		return false
	}
	if strings.Contains(p, a) || strings.Contains(a, p) {
		return true
	}
	first := strings.Fields(a)[0]
	return strings.Contains(p, first)
}

// BuildPrompt asks the model to confirm or correct a prediction.
func BuildPrompt(predicted string, confidence float64) string {
	return fmt.Sprintf("Look at this product image. The shelf model predicted: %q with %.1f%% confidence.\n\n"+
		"Is this prediction correct? If not, what is the actual product?\n\n"+
		"Choose from these options:\n%s\n\n"+
		"Respond with ONLY the product name, nothing else.",
		predicted, confidence*100, strings.Join(Choices, ", "))
}
