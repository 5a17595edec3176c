// Package extractor produces entities and relations from chunk or section
// text, dispatching between a deterministic regex-based heuristic path and
// an LLM-backed path, grounded on the teacher's regex-alternation,
// longest-match-first entity recognizer.
package extractor

import (
	"regexp"
	"sort"
	"strings"

	"github.com/graphrag/core/internal/domain"
)

// Candidate is a single recognized span, prior to relation derivation.
type Candidate struct {
	Name       string
	Label      domain.Label
	Confidence float64
	Sentence   int
}

// knownTechnology is a seed list of common technology names matched as whole
// words, independent of the suffix-pattern rules.
var knownTechnology = map[string]bool{
	"kubernetes": true, "docker": true, "postgres": true, "postgresql": true,
	"kafka": true, "redis": true, "python": true, "golang": true, "rust": true,
	"react": true, "graphql": true, "grpc": true, "terraform": true, "spark": true,
	"hadoop": true, "airflow": true, "tensorflow": true, "pytorch": true,
}

var (
	// capitalizedPhraseRe matches runs of 2-5 capitalized tokens.
	capitalizedPhraseRe = regexp.MustCompile(`\b([A-Z][a-zA-Z0-9&.]*(?:\s+[A-Z][a-zA-Z0-9&.]*){1,4})\b`)

	techSuffixRe = regexp.MustCompile(`(?i)^[A-Za-z0-9]+(\.js|DB|SQL|QL)$`)
	orgSuffixRe  = regexp.MustCompile(`(?i)\b(Inc\.?|Ltd\.?|LLC|Corp\.?|Corporation|University|Institute|Foundation)\b`)
	roleRe       = regexp.MustCompile(`(?i)\b([A-Z][a-z]+\s+)?([A-Z][a-z]+\s+)?(Engineer|Manager|Scientist|Director|Architect|Designer|Analyst)\b`)
	achievementRe = regexp.MustCompile(`(?i)\b(launched|shipped|led|awarded|built|delivered|architected)\b\s+([A-Za-z0-9][\w\- ]{2,60})`)

	sentenceSplitRe = regexp.MustCompile(`[.!?\n]+`)
)

// ExtractHeuristic runs the deterministic regex extraction path over text,
// returning candidate entities and the derived relations among them.
func ExtractHeuristic(text string) ([]Candidate, []DerivedRelation) {
	sentences := sentenceSplitRe.Split(text, -1)
	var candidates []Candidate
	seen := map[string]bool{}

	for si, sentence := range sentences {
		for _, m := range capitalizedPhraseRe.FindAllString(sentence, -1) {
			tokens := strings.Fields(m)
			if len(tokens) < 2 || len(tokens) > 5 {
				continue
			}
			label := classify(m)
			key := domain.NormalizeName(m)
			if seen[key] {
				continue
			}
			seen[key] = true
			candidates = append(candidates, Candidate{
				Name: m, Label: label, Confidence: confidenceFor(label), Sentence: si,
			})
		}
		for _, word := range strings.Fields(sentence) {
			cleaned := strings.Trim(word, ".,;:()")
			lower := strings.ToLower(cleaned)
			if knownTechnology[lower] && !seen[lower] {
				seen[lower] = true
				candidates = append(candidates, Candidate{
					Name: cleaned, Label: domain.LabelTechnology, Confidence: 0.85, Sentence: si,
				})
			}
		}

		if m := achievementRe.FindStringSubmatch(sentence); m != nil {
			name := strings.TrimSpace(m[2])
			key := domain.NormalizeName(name)
			if name != "" && !seen[key] {
				seen[key] = true
				candidates = append(candidates, Candidate{
					Name: name, Label: domain.LabelAchievement, Confidence: 0.6, Sentence: si,
				})
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return len(candidates[i].Name) > len(candidates[j].Name)
	})

	relations := deriveRelations(sentences, candidates)
	return candidates, relations
}

// classify assigns a label to a capitalized multi-word phrase using the
// technology/organization/role suffix families; defaults to Entity.
func classify(phrase string) domain.Label {
	if techSuffixRe.MatchString(strings.ReplaceAll(phrase, " ", "")) {
		return domain.LabelTechnology
	}
	if orgSuffixRe.MatchString(phrase) {
		return domain.LabelOrganization
	}
	if roleRe.MatchString(phrase) {
		return domain.LabelRole
	}
	return domain.LabelEntity
}

func confidenceFor(label domain.Label) float64 {
	switch label {
	case domain.LabelOrganization, domain.LabelTechnology:
		return 0.75
	case domain.LabelRole:
		return 0.65
	default:
		return domain.DefaultConfidence
	}
}

// DerivedRelation is a relation inferred between two candidate names before
// node identity resolution.
type DerivedRelation struct {
	SourceName string
	TargetName string
	Relation   domain.Relation
	Confidence float64
}

// deriveRelations emits CO_OCCURS for any two candidates sharing a sentence,
// ROLE_AT when a Role and Organization share a sentence, and USES_TECH when
// a Technology co-occurs with a Role or Organization anywhere in the text
// (section-scoped, approximated here as whole-input scope per caller's
// section-bounded invocation).
func deriveRelations(sentences []string, candidates []Candidate) []DerivedRelation {
	var relations []DerivedRelation
	bySentence := map[int][]Candidate{}
	for _, c := range candidates {
		bySentence[c.Sentence] = append(bySentence[c.Sentence], c)
	}

	for _, group := range bySentence {
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i], group[j]
				conf := a.Confidence
				if b.Confidence < conf {
					conf = b.Confidence
				}
				relations = append(relations, DerivedRelation{
					SourceName: a.Name, TargetName: b.Name, Relation: domain.RelCoOccurs, Confidence: conf,
				})
				if a.Label == domain.LabelRole && b.Label == domain.LabelOrganization {
					relations = append(relations, DerivedRelation{
						SourceName: a.Name, TargetName: b.Name, Relation: domain.RelRoleAt, Confidence: conf,
					})
				}
				if a.Label == domain.LabelOrganization && b.Label == domain.LabelRole {
					relations = append(relations, DerivedRelation{
						SourceName: b.Name, TargetName: a.Name, Relation: domain.RelRoleAt, Confidence: conf,
					})
				}
			}
		}
	}

	for _, a := range candidates {
		if a.Label != domain.LabelRole && a.Label != domain.LabelOrganization {
			continue
		}
		for _, b := range candidates {
			if b.Label != domain.LabelTechnology || a.Name == b.Name {
				continue
			}
			conf := a.Confidence
			if b.Confidence < conf {
				conf = b.Confidence
			}
			relations = append(relations, DerivedRelation{
				SourceName: a.Name, TargetName: b.Name, Relation: domain.RelUsesTech, Confidence: conf,
			})
		}
	}

	return relations
}
