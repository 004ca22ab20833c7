package bundle

import (
	"time"

	"github.com/SanteonNL/termrepo/models/terminology"
)

const (
	entryTypeConcept = "Concept"
	entryTypeMapping = "Mapping"
)

type briefConcept struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	URL        string `json:"url"`
	VersionURL string `json:"version_url"`
	Retired    bool   `json:"retired"`
}

type verboseConcept struct {
	briefConcept
	Owner           string                      `json:"owner"`
	OwnerType       string                      `json:"owner_type"`
	Source          string                      `json:"source"`
	Version         string                      `json:"version"`
	ConceptClass    string                      `json:"concept_class"`
	Datatype        string                      `json:"datatype"`
	DisplayName     string                      `json:"display_name"`
	IsActive        bool                        `json:"is_active"`
	IsLatestVersion bool                        `json:"is_latest_version"`
	Names           []terminology.LocalizedText `json:"names,omitempty"`
	Descriptions    []terminology.LocalizedText `json:"descriptions,omitempty"`
	UpdatedOn       time.Time                   `json:"updated_on"`
}

type briefMapping struct {
	Type           string `json:"type"`
	ID             string `json:"id"`
	URL            string `json:"url"`
	VersionURL     string `json:"version_url"`
	MapType        string `json:"map_type"`
	FromConceptURL string `json:"from_concept_url"`
	ToConceptURL   string `json:"to_concept_url,omitempty"`
	Retired        bool   `json:"retired"`
}

type verboseMapping struct {
	briefMapping
	Owner           string    `json:"owner"`
	OwnerType       string    `json:"owner_type"`
	Source          string    `json:"source"`
	Version         string    `json:"version"`
	ToSourceURL     string    `json:"to_source_url,omitempty"`
	ToConceptCode   string    `json:"to_concept_code,omitempty"`
	IsActive        bool      `json:"is_active"`
	IsLatestVersion bool      `json:"is_latest_version"`
	UpdatedOn       time.Time `json:"updated_on"`
}

// conceptEntry projects a concept for a bundle entry.
func conceptEntry(c *terminology.Concept, verbose bool) any {
	brief := briefConcept{
		Type:       entryTypeConcept,
		ID:         c.Mnemonic,
		URL:        c.VersionlessURI(),
		VersionURL: c.URI,
		Retired:    c.Retired,
	}
	if !verbose {
		return brief
	}
	return verboseConcept{
		briefConcept:    brief,
		Owner:           c.Owner,
		OwnerType:       c.OwnerType,
		Source:          c.Source,
		Version:         c.Version,
		ConceptClass:    c.ConceptClass,
		Datatype:        c.Datatype,
		DisplayName:     c.DisplayName(),
		IsActive:        c.IsActive,
		IsLatestVersion: c.IsLatestVersion,
		Names:           c.Names,
		Descriptions:    c.Descriptions,
		UpdatedOn:       c.UpdatedAt,
	}
}

func mappingEntry(m *terminology.Mapping, verbose bool) any {
	brief := briefMapping{
		Type:           entryTypeMapping,
		ID:             m.Mnemonic,
		URL:            m.VersionlessURI(),
		VersionURL:     m.URI,
		MapType:        m.MapType,
		FromConceptURL: m.FromConceptURI,
		ToConceptURL:   m.ToConceptURI,
		Retired:        m.Retired,
	}
	if !verbose {
		return brief
	}
	return verboseMapping{
		briefMapping:    brief,
		Owner:           m.Owner,
		OwnerType:       m.OwnerType,
		Source:          m.Source,
		Version:         m.Version,
		ToSourceURL:     m.ToSourceURL,
		ToConceptCode:   m.ToConceptCode,
		IsActive:        m.IsActive,
		IsLatestVersion: m.IsLatestVersion,
		UpdatedOn:       m.UpdatedAt,
	}
}

// entries lists concepts first, then mappings.
func entries(concepts []*terminology.Concept, mappings []*terminology.Mapping, verbose bool) []any {
	out := make([]any, 0, len(concepts)+len(mappings))
	for _, c := range concepts {
		out = append(out, conceptEntry(c, verbose))
	}
	for _, m := range mappings {
		out = append(out, mappingEntry(m, verbose))
	}
	return out
}
