// Package schema infers column roles from sheet headers using ordered alias
// lists. The strategy is pluggable so localized or house-style headers can be
// matched by supplying an override table.
package schema

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/outreach-cli/internal/model"
)

// Role names understood by the engines.
const (
	RoleCompany   = "company"
	RoleEmail     = "email"
	RoleContact   = "contact"
	RoleWebsite   = "website"
	RoleIndustry  = "industry"
	RoleLocation  = "location"
	RoleSummary   = "summary"
	RoleScore     = "score"
	RoleQualified = "qualified"
	RoleMessage   = "message"
	RoleStatus    = "status"
)

// Strategy infers a role→column mapping from a header row.
type Strategy interface {
	Infer(headers []string) model.ColumnMapping
	Validate(mapping model.ColumnMapping) error
}

// Role is one inferable column role with its ordered alias list. A header
// matches when it contains any alias as a case-insensitive substring.
type Role struct {
	Name     string   `yaml:"name"`
	Aliases  []string `yaml:"aliases"`
	Required bool     `yaml:"required"`
}

// AliasStrategy is the default substring-matching strategy.
type AliasStrategy struct {
	Roles []Role `yaml:"roles"`
}

// Default returns the built-in alias table. The company role is the primary
// entity and is required: no run can start without it.
func Default() *AliasStrategy {
	return &AliasStrategy{
		Roles: []Role{
			{Name: RoleCompany, Aliases: []string{"company", "organization", "organisation", "business", "account", "firm"}, Required: true},
			{Name: RoleEmail, Aliases: []string{"email", "e-mail", "mail"}},
			{Name: RoleContact, Aliases: []string{"contact", "name", "person", "owner"}},
			{Name: RoleWebsite, Aliases: []string{"website", "url", "domain", "site"}},
			{Name: RoleIndustry, Aliases: []string{"industry", "sector", "vertical"}},
			{Name: RoleLocation, Aliases: []string{"location", "city", "state", "country", "region"}},
			{Name: RoleSummary, Aliases: []string{"summary"}},
			{Name: RoleScore, Aliases: []string{"score"}},
			{Name: RoleQualified, Aliases: []string{"qualified", "possible client", "qualifies"}},
			{Name: RoleMessage, Aliases: []string{"message", "outreach"}},
			{Name: RoleStatus, Aliases: []string{"status", "delivery"}},
		},
	}
}

// Load reads an alias table from a YAML file, merging it over the defaults:
// a role present in the file replaces the built-in role of the same name.
func Load(path string) (*AliasStrategy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "schema: read alias file")
	}

	var override AliasStrategy
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, eris.Wrap(err, "schema: parse alias file")
	}

	merged := Default()
	for _, or := range override.Roles {
		replaced := false
		for i, r := range merged.Roles {
			if r.Name == or.Name {
				merged.Roles[i] = or
				replaced = true
				break
			}
		}
		if !replaced {
			merged.Roles = append(merged.Roles, or)
		}
	}
	return merged, nil
}

// Infer maps each role to the first unclaimed header containing one of its
// aliases. Roles are evaluated in table order, aliases in list order, so more
// specific aliases should come first.
func (s *AliasStrategy) Infer(headers []string) model.ColumnMapping {
	mapping := make(model.ColumnMapping)
	claimed := make(map[int]bool)

	lowered := make([]string, len(headers))
	for i, h := range headers {
		lowered[i] = strings.ToLower(strings.TrimSpace(h))
	}

	for _, role := range s.Roles {
		for _, alias := range role.Aliases {
			found := -1
			for i, h := range lowered {
				if claimed[i] || h == "" {
					continue
				}
				if strings.Contains(h, alias) {
					found = i
					break
				}
			}
			if found >= 0 {
				mapping[role.Name] = found
				claimed[found] = true
				break
			}
		}
	}

	return mapping
}

// Validate checks that every required role is mapped.
func (s *AliasStrategy) Validate(mapping model.ColumnMapping) error {
	for _, role := range s.Roles {
		if !role.Required {
			continue
		}
		if _, ok := mapping[role.Name]; !ok {
			return eris.Errorf("schema: required role %q is not mapped to any column", role.Name)
		}
	}
	return nil
}
