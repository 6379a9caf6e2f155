// Package rules loads and indexes the permission rule document that maps raw
// OAuth permission names to plain-language descriptions, risk categories and
// impact scores.
package rules

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/praetorian-inc/oauthkitchen/pkg/types"
)

//go:embed permissions.json
var embeddedRules []byte

// UnknownImpactScore is the conservative default assigned to permissions the
// rule document does not know about.
const UnknownImpactScore = 30

// HighImpactThreshold is the impact score at or above which a permission is
// treated as high impact.
const HighImpactThreshold = 65

// highImpactAllowList names permissions that are always high impact, even if
// the loaded rule document scores them lower. Keys are lowercase.
var highImpactAllowList = map[string]struct{}{
	"directory.readwrite.all":            {},
	"rolemanagement.readwrite.directory": {},
	"application.readwrite.all":          {},
	"approleassignment.readwrite.all":    {},
	"mail.readwrite":                     {},
	"mail.read":                          {},
	"files.readwrite.all":                {},
	"files.read.all":                     {},
	"sites.readwrite.all":                {},
	"user.readwrite.all":                 {},
	"group.readwrite.all":                {},
	"groupmember.readwrite.all":          {},
	"chat.read.all":                      {},
	"channelmessage.read.all":            {},
}

// Rule is one permission entry as authored in the rule document.
type Rule struct {
	DisplayName     string   `json:"displayName" yaml:"displayName"`
	PlainEnglish    string   `json:"plainEnglish" yaml:"plainEnglish"`
	Category        string   `json:"category" yaml:"category"`
	ImpactScore     int      `json:"impactScore" yaml:"impactScore"`
	AbuseScenarios  []string `json:"abuseScenarios" yaml:"abuseScenarios"`
	AdminImpactNote string   `json:"adminImpactNote,omitempty" yaml:"adminImpactNote,omitempty"`
}

// Translation is the human-readable rendering of one permission.
type Translation struct {
	Permission      string             `json:"permission"`
	Resource        string             `json:"resource"`
	PlainEnglish    string             `json:"plainEnglish"`
	Category        types.RiskCategory `json:"category"`
	CategoryLabel   string             `json:"categoryLabel"`
	ImpactScore     int                `json:"impactScore"`
	AbuseScenarios  []string           `json:"abuseScenarios,omitempty"`
	AdminImpactNote string             `json:"adminImpactNote,omitempty"`
	IsKnown         bool               `json:"isKnown"`
}

var categoryLabels = map[types.RiskCategory]string{
	types.CategoryReadOnly:            "Read-only",
	types.CategoryDataExfiltration:    "Data exfiltration",
	types.CategoryPrivilegeEscalation: "Privilege escalation",
	types.CategoryTenantTakeover:      "Tenant takeover potential",
	types.CategoryPersistence:         "Persistence",
	types.CategoryLateralMovement:     "Lateral movement",
	types.CategoryUnknown:             "Unknown",
}

// Source fetches the raw rule document bytes.
type Source func() ([]byte, error)

// EmbeddedSource serves the rule document bundled into the binary.
func EmbeddedSource() ([]byte, error) {
	return embeddedRules, nil
}

// FileSource reads the rule document from disk.
func FileSource(path string) Source {
	return func() ([]byte, error) {
		return os.ReadFile(path)
	}
}

type indexedRule struct {
	rule     Rule
	resource string
	// name preserves the document's original casing for reporting.
	name string
}

// Store indexes the permission rule document. Loading is idempotent;
// concurrent callers share a single in-flight load. A failed load leaves the
// store empty (all permissions translate as unknown) rather than failing the
// caller.
type Store struct {
	source Source
	isYAML bool
	logger *slog.Logger

	mu    sync.RWMutex
	once  *sync.Once
	rules map[string]indexedRule
}

// NewStore builds a store over the embedded rule document.
func NewStore(logger *slog.Logger) *Store {
	return newStore(EmbeddedSource, false, logger)
}

// NewStoreFromFile builds a store over a rule document on disk. Files ending
// in .yaml/.yml are parsed as YAML; everything else as JSON.
func NewStoreFromFile(path string, logger *slog.Logger) *Store {
	ext := strings.ToLower(filepath.Ext(path))
	return newStore(FileSource(path), ext == ".yaml" || ext == ".yml", logger)
}

func newStore(source Source, isYAML bool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		source: source,
		isYAML: isYAML,
		logger: logger,
		once:   new(sync.Once),
		rules:  make(map[string]indexedRule),
	}
}

// Load fetches and indexes the rule document. Safe for concurrent use; only
// the first caller performs the fetch.
func (s *Store) Load(ctx context.Context) {
	s.mu.RLock()
	once := s.once
	s.mu.RUnlock()

	once.Do(func() {
		if err := s.load(); err != nil {
			s.logger.Warn("failed to load permission rules, proceeding with empty rule set",
				"error", err)
		}
	})
}

// Reload fully clears and rebuilds the index on the next Load.
func (s *Store) Reload(ctx context.Context) {
	s.mu.Lock()
	s.rules = make(map[string]indexedRule)
	s.once = new(sync.Once)
	s.mu.Unlock()

	s.Load(ctx)
}

func (s *Store) load() error {
	raw, err := s.source()
	if err != nil {
		return fmt.Errorf("fetch rule document: %w", err)
	}

	// resource family -> permission name -> rule
	var doc map[string]map[string]Rule
	if s.isYAML {
		err = yaml.Unmarshal(raw, &doc)
	} else {
		err = json.Unmarshal(raw, &doc)
	}
	if err != nil {
		return fmt.Errorf("parse rule document: %w", err)
	}

	index := make(map[string]indexedRule)
	for resource, perms := range doc {
		for name, rule := range perms {
			// Keys normalized to lowercase at insertion, not at lookup.
			index[strings.ToLower(name)] = indexedRule{
				rule:     rule,
				resource: resource,
				name:     name,
			}
		}
	}

	s.mu.Lock()
	s.rules = index
	s.mu.Unlock()

	s.logger.Info("loaded permission rules", "count", len(index))
	return nil
}

// Translate renders a permission name into plain language. Lookup is
// case-insensitive. Unknown permissions translate to category unknown with
// the conservative default impact score.
func (s *Store) Translate(permission, defaultResource string) Translation {
	s.mu.RLock()
	entry, found := s.rules[strings.ToLower(permission)]
	s.mu.RUnlock()

	if !found {
		return Translation{
			Permission:    permission,
			Resource:      defaultResource,
			PlainEnglish:  fmt.Sprintf("Permission: %s (no translation available)", permission),
			Category:      types.CategoryUnknown,
			CategoryLabel: "Unknown - requires review",
			ImpactScore:   UnknownImpactScore,
			IsKnown:       false,
		}
	}

	category := parseCategory(entry.rule.Category)
	plain := entry.rule.PlainEnglish
	if plain == "" {
		plain = entry.rule.DisplayName
	}
	if plain == "" {
		plain = permission
	}

	return Translation{
		Permission:      permission,
		Resource:        entry.resource,
		PlainEnglish:    plain,
		Category:        category,
		CategoryLabel:   categoryLabels[category],
		ImpactScore:     entry.rule.ImpactScore,
		AbuseScenarios:  entry.rule.AbuseScenarios,
		AdminImpactNote: entry.rule.AdminImpactNote,
		IsKnown:         true,
	}
}

// HighImpact reports whether a permission warrants extra scrutiny: its
// impact score meets the threshold, or it is on the hardcoded allow list.
// The list defends against rules the document has not classified yet; when
// the two disagree, that is a rule-document data issue, not a logic bug.
func (s *Store) HighImpact(permission string) bool {
	key := strings.ToLower(permission)
	if _, listed := highImpactAllowList[key]; listed {
		return true
	}

	s.mu.RLock()
	entry, found := s.rules[key]
	s.mu.RUnlock()

	return found && entry.rule.ImpactScore >= HighImpactThreshold
}

// KnownCount returns the number of indexed rules.
func (s *Store) KnownCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

func parseCategory(c string) types.RiskCategory {
	switch strings.ToLower(c) {
	case "read_only":
		return types.CategoryReadOnly
	case "data_exfiltration":
		return types.CategoryDataExfiltration
	case "privilege_escalation":
		return types.CategoryPrivilegeEscalation
	case "tenant_takeover":
		return types.CategoryTenantTakeover
	case "persistence":
		return types.CategoryPersistence
	case "lateral_movement":
		return types.CategoryLateralMovement
	default:
		return types.CategoryUnknown
	}
}

// FormatReport renders one permission as a multi-line human-readable report
// for the translate command.
func (s *Store) FormatReport(permission string, includeScenarios bool) string {
	t := s.Translate(permission, "microsoft_graph")

	var b strings.Builder
	fmt.Fprintf(&b, "Permission: %s\n", t.Permission)
	fmt.Fprintf(&b, "Resource: %s\n", t.Resource)
	fmt.Fprintf(&b, "Description: %s\n", t.PlainEnglish)
	fmt.Fprintf(&b, "Risk Category: %s\n", t.CategoryLabel)
	fmt.Fprintf(&b, "Impact Score: %d/100\n", t.ImpactScore)

	if t.AdminImpactNote != "" {
		fmt.Fprintf(&b, "Admin Impact: %s\n", t.AdminImpactNote)
	}

	if includeScenarios && len(t.AbuseScenarios) > 0 {
		b.WriteString("Potential Abuse Scenarios:\n")
		for _, scenario := range t.AbuseScenarios {
			fmt.Fprintf(&b, "  - %s\n", scenario)
		}
	}

	if !t.IsKnown {
		b.WriteString("\nThis permission is not in the rules database. Review the raw permission documentation.\n")
	}

	return b.String()
}
