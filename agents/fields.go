package agents

import "strings"

// Field identifies a research domain an agent can cover.
type Field string

const (
	FieldPhysics      Field = "physics"
	FieldChemistry    Field = "chemistry"
	FieldBiology      Field = "biology"
	FieldMedicine     Field = "medicine"
	FieldCS           Field = "computer_science"
	FieldAI           Field = "artificial_intelligence"
	FieldMathematics  Field = "mathematics"
	FieldNeuroscience Field = "neuroscience"
)

// AllFields lists every supported domain in registry order.
func AllFields() []Field {
	return []Field{
		FieldPhysics,
		FieldChemistry,
		FieldBiology,
		FieldMedicine,
		FieldCS,
		FieldAI,
		FieldMathematics,
		FieldNeuroscience,
	}
}

var displayNames = map[Field]string{
	FieldPhysics:      "Physics",
	FieldChemistry:    "Chemistry",
	FieldBiology:      "Biology",
	FieldMedicine:     "Medicine",
	FieldCS:           "Computer Science",
	FieldAI:           "Artificial Intelligence",
	FieldMathematics:  "Mathematics",
	FieldNeuroscience: "Neuroscience",
}

// DisplayName returns a human readable name for the field.
func (f Field) DisplayName() string {
	if n, ok := displayNames[f]; ok {
		return n
	}
	return string(f)
}

// Valid reports whether f is a known field.
func (f Field) Valid() bool {
	_, ok := displayNames[f]
	return ok
}

// fieldKeywords drives keyword routing when the routing model is
// unavailable or returns something unusable. Keywords are matched as
// lowercase substrings of the query.
var fieldKeywords = map[Field][]string{
	FieldPhysics:      {"quantum", "particle", "relativity", "thermodynamic", "photon", "superconduct", "optics", "plasma"},
	FieldChemistry:    {"molecule", "chemical", "catalyst", "polymer", "reaction", "compound", "synthesis", "electrochem"},
	FieldBiology:      {"cell", "gene", "protein", "organism", "evolution", "dna", "rna", "enzyme", "microbio"},
	FieldMedicine:     {"disease", "clinical", "therapy", "drug", "patient", "cancer", "vaccine", "diagnos", "treatment"},
	FieldCS:           {"algorithm", "software", "database", "distributed", "compiler", "network protocol", "cryptograph", "complexity"},
	FieldAI:           {"machine learning", "neural network", "deep learning", "llm", "language model", "reinforcement learning", "transformer", "artificial intelligence"},
	FieldMathematics:  {"theorem", "topology", "algebra", "proof", "geometry", "number theory", "calculus", "statistic"},
	FieldNeuroscience: {"brain", "neuron", "cogniti", "synap", "cortex", "neural circuit", "memory formation"},
}

// KeywordRoute picks fields by keyword hits in the query, most hits
// first. Ties break in registry order. Returns at most max fields and
// never an empty slice: with no hits it falls back to the generalist
// pairing of AI and computer science.
func KeywordRoute(query string, max int) []Field {
	if max <= 0 {
		max = 1
	}
	q := strings.ToLower(query)

	type scored struct {
		field Field
		hits  int
	}
	var ranked []scored
	for _, f := range AllFields() {
		hits := 0
		for _, kw := range fieldKeywords[f] {
			if strings.Contains(q, kw) {
				hits++
			}
		}
		if hits > 0 {
			ranked = append(ranked, scored{field: f, hits: hits})
		}
	}
	// Stable sort keeps registry order among equals.
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && ranked[j].hits > ranked[j-1].hits; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}

	if len(ranked) == 0 {
		fallback := []Field{FieldAI, FieldCS}
		if max < len(fallback) {
			fallback = fallback[:max]
		}
		return fallback
	}
	if len(ranked) > max {
		ranked = ranked[:max]
	}
	out := make([]Field, len(ranked))
	for i, s := range ranked {
		out[i] = s.field
	}
	return out
}
