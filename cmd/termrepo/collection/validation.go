package collection

import (
	"github.com/SanteonNL/termrepo/models/terminology"
)

// nameRule selects the names that must be unique per locale.
type nameRule struct {
	applies func(terminology.LocalizedText) bool
	message string
}

var openMRSNameRules = []nameRule{
	{
		applies: terminology.LocalizedText.IsFullySpecified,
		message: terminology.MsgFullySpecifiedNameUnique,
	},
	{
		applies: func(name terminology.LocalizedText) bool { return name.LocalePreferred },
		message: terminology.MsgPreferredNameUnique,
	},
}

// nameIndex tracks the names of concepts already in an expansion, keyed by
// rule, locale and name.
type nameIndex struct {
	owners map[int]map[string]int64
}

func newNameIndex(concepts []*terminology.Concept) *nameIndex {
	idx := &nameIndex{owners: make(map[int]map[string]int64, len(openMRSNameRules))}
	for i := range openMRSNameRules {
		idx.owners[i] = make(map[string]int64)
	}
	for _, concept := range concepts {
		idx.add(concept)
	}
	return idx
}

func nameKey(name terminology.LocalizedText) string {
	return name.Locale + "\x00" + name.Name
}

func (idx *nameIndex) add(concept *terminology.Concept) {
	for i, rule := range openMRSNameRules {
		for _, name := range concept.Names {
			if rule.applies(name) {
				idx.owners[i][nameKey(name)] = concept.VersionedObjectID
			}
		}
	}
}

// check returns a ValidationViolation when concept repeats a restricted name
// within itself, or shares one with a different concept in the index.
// Other versions of the same concept never conflict.
func (idx *nameIndex) check(expression string, concept *terminology.Concept) error {
	for i, rule := range openMRSNameRules {
		seen := make(map[string]bool)
		for _, name := range concept.Names {
			if !rule.applies(name) {
				continue
			}
			key := nameKey(name)
			if seen[key] {
				return terminology.NewReferenceError(terminology.ValidationViolation, expression, rule.message)
			}
			seen[key] = true
			if owner, ok := idx.owners[i][key]; ok && owner != concept.VersionedObjectID {
				return terminology.NewReferenceError(terminology.ValidationViolation, expression, rule.message)
			}
		}
	}
	return nil
}
