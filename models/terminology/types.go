package terminology

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/exp/slices"
)

const (
	HEAD = "HEAD"

	OwnerTypeOrgs  = "orgs"
	OwnerTypeUsers = "users"

	KindConcept    = "concepts"
	KindMapping    = "mappings"
	KindSource     = "sources"
	KindCollection = "collections"

	AccessView = "View"
	AccessEdit = "Edit"
	AccessNone = "None"

	SchemaOpenMRS = "OpenMRS"

	NameTypeFullySpecified = "FULLY_SPECIFIED"
)

// FullySpecifiedNameTypes lists the name types treated as fully specified.
var FullySpecifiedNameTypes = []string{NameTypeFullySpecified, "Fully Specified"}

// User is the acting user of a request.
type User struct {
	Username      string   `json:"username"`
	IsStaff       bool     `json:"is_staff"`
	Organizations []string `json:"organizations,omitempty"`
	Token         string   `json:"-"`
}

// LocalizedText is a locale tagged name or description.
type LocalizedText struct {
	Name            string `json:"name" db:"name"`
	Locale          string `json:"locale" db:"locale"`
	Type            string `json:"type,omitempty" db:"type"`
	LocalePreferred bool   `json:"locale_preferred" db:"locale_preferred"`
}

func (t LocalizedText) IsFullySpecified() bool {
	return slices.Contains(FullySpecifiedNameTypes, t.Type)
}

// Concept is one immutable version of a coded term.
type Concept struct {
	ID                int64           `json:"id" db:"id"`
	VersionedObjectID int64           `json:"versioned_object_id" db:"versioned_object_id"`
	OwnerType         string          `json:"owner_type" db:"owner_type"`
	Owner             string          `json:"owner" db:"owner"`
	Source            string          `json:"source" db:"source"`
	Mnemonic          string          `json:"id_mnemonic" db:"mnemonic"`
	Version           string          `json:"version" db:"version"`
	URI               string          `json:"version_url" db:"uri"`
	ConceptClass      string          `json:"concept_class" db:"concept_class"`
	Datatype          string          `json:"datatype" db:"datatype"`
	Retired           bool            `json:"retired" db:"retired"`
	IsActive          bool            `json:"is_active" db:"is_active"`
	IsLatestVersion   bool            `json:"is_latest_version" db:"is_latest_version"`
	PublicAccess      string          `json:"public_access" db:"public_access"`
	Names             []LocalizedText `json:"names,omitempty" db:"-"`
	Descriptions      []LocalizedText `json:"descriptions,omitempty" db:"-"`
	SourceVersions    []string        `json:"source_versions,omitempty" db:"-"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// VersionlessURI returns the identity URI of the concept.
func (c *Concept) VersionlessURI() string {
	return fmt.Sprintf("/%s/%s/sources/%s/concepts/%s/", c.OwnerType, c.Owner, c.Source, c.Mnemonic)
}

func (c *Concept) SourceURI() string {
	return fmt.Sprintf("/%s/%s/sources/%s/", c.OwnerType, c.Owner, c.Source)
}

// DisplayName returns the preferred name, falling back to the first name.
func (c *Concept) DisplayName() string {
	for _, name := range c.Names {
		if name.LocalePreferred {
			return name.Name
		}
	}
	if len(c.Names) > 0 {
		return c.Names[0].Name
	}
	return ""
}

func (c *Concept) InSourceVersion(version string) bool {
	return slices.Contains(c.SourceVersions, version)
}

// Mapping is one immutable version of a typed edge between concepts.
type Mapping struct {
	ID                int64     `json:"id" db:"id"`
	VersionedObjectID int64     `json:"versioned_object_id" db:"versioned_object_id"`
	OwnerType         string    `json:"owner_type" db:"owner_type"`
	Owner             string    `json:"owner" db:"owner"`
	Source            string    `json:"source" db:"source"`
	Mnemonic          string    `json:"id_mnemonic" db:"mnemonic"`
	Version           string    `json:"version" db:"version"`
	URI               string    `json:"version_url" db:"uri"`
	MapType           string    `json:"map_type" db:"map_type"`
	FromConceptID     int64     `json:"from_concept_id" db:"from_concept_id"`
	FromConceptURI    string    `json:"from_concept_url" db:"from_concept_uri"`
	ToConceptID       *int64    `json:"to_concept_id,omitempty" db:"to_concept_id"`
	ToConceptURI      string    `json:"to_concept_url,omitempty" db:"to_concept_uri"`
	ToSourceURL       string    `json:"to_source_url,omitempty" db:"to_source_url"`
	ToConceptCode     string    `json:"to_concept_code,omitempty" db:"to_concept_code"`
	Retired           bool      `json:"retired" db:"retired"`
	IsActive          bool      `json:"is_active" db:"is_active"`
	IsLatestVersion   bool      `json:"is_latest_version" db:"is_latest_version"`
	PublicAccess      string    `json:"public_access" db:"public_access"`
	SourceVersions    []string  `json:"source_versions,omitempty" db:"-"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

func (m *Mapping) VersionlessURI() string {
	return fmt.Sprintf("/%s/%s/sources/%s/mappings/%s/", m.OwnerType, m.Owner, m.Source, m.Mnemonic)
}

func (m *Mapping) InSourceVersion(version string) bool {
	return slices.Contains(m.SourceVersions, version)
}

// HierarchyEdge links a parent concept identity to a child concept identity.
type HierarchyEdge struct {
	ParentID int64 `json:"parent_id" db:"parent_id"`
	ChildID  int64 `json:"child_id" db:"child_id"`
}

// Source owns concepts and mappings.
type Source struct {
	ID           int64     `json:"id" db:"id"`
	OwnerType    string    `json:"owner_type" db:"owner_type"`
	Owner        string    `json:"owner" db:"owner"`
	Mnemonic     string    `json:"short_code" db:"mnemonic"`
	Version      string    `json:"version" db:"version"`
	URI          string    `json:"url" db:"uri"`
	PublicAccess string    `json:"public_access" db:"public_access"`
	CanonicalURL string    `json:"canonical_url,omitempty" db:"canonical_url"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

func (s *Source) IsHead() bool {
	return s.Version == "" || s.Version == HEAD
}

// CanViewAllContent reports whether private content of the source is visible to the user.
func (s *Source) CanViewAllContent(user *User) bool {
	if s.PublicAccess == AccessView || s.PublicAccess == AccessEdit {
		return true
	}
	if user == nil {
		return false
	}
	if user.IsStaff {
		return true
	}
	if s.OwnerType == OwnerTypeUsers {
		return user.Username == s.Owner
	}
	return slices.Contains(user.Organizations, s.Owner)
}

// CollectionVersion is a version of a collection. HEAD is the mutable head.
type CollectionVersion struct {
	ID                     int64     `json:"id" db:"id"`
	OwnerType              string    `json:"owner_type" db:"owner_type"`
	Owner                  string    `json:"owner" db:"owner"`
	Mnemonic               string    `json:"short_code" db:"mnemonic"`
	Name                   string    `json:"name" db:"name"`
	Version                string    `json:"version" db:"version"`
	URI                    string    `json:"url" db:"uri"`
	AutoexpandHead         bool      `json:"autoexpand_head" db:"autoexpand_head"`
	Autoexpand             bool      `json:"autoexpand" db:"autoexpand"`
	ExpansionURI           string    `json:"expansion_url,omitempty" db:"expansion_uri"`
	CustomValidationSchema string    `json:"custom_validation_schema,omitempty" db:"custom_validation_schema"`
	CanonicalURL           string    `json:"canonical_url,omitempty" db:"canonical_url"`
	UpdatedBy              string    `json:"updated_by,omitempty" db:"updated_by"`
	UpdatedAt              time.Time `json:"updated_at" db:"updated_at"`
}

func (cv *CollectionVersion) IsHead() bool {
	return cv.Version == "" || cv.Version == HEAD
}

// ShouldAutoExpand reports whether adding references materializes them into the default expansion.
func (cv *CollectionVersion) ShouldAutoExpand() bool {
	if cv.IsHead() {
		return cv.AutoexpandHead
	}
	return cv.Autoexpand
}

func (cv *CollectionVersion) IsOpenMRSSchema() bool {
	return strings.EqualFold(cv.CustomValidationSchema, SchemaOpenMRS)
}

// CollectionURI returns the versionless collection URI.
func (cv *CollectionVersion) CollectionURI() string {
	return fmt.Sprintf("/%s/%s/collections/%s/", cv.OwnerType, cv.Owner, cv.Mnemonic)
}

func (cv *CollectionVersion) ExpansionsURI() string {
	if cv.IsHead() {
		return cv.CollectionURI() + "HEAD/expansions/"
	}
	return cv.CollectionURI() + cv.Version + "/expansions/"
}
