package rules

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetorian-inc/oauthkitchen/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func loadedStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(discardLogger())
	s.Load(context.Background())
	require.Greater(t, s.KnownCount(), 0)
	return s
}

func TestTranslateKnownPermission(t *testing.T) {
	s := loadedStore(t)

	tr := s.Translate("Mail.Read", "microsoft_graph")
	assert.True(t, tr.IsKnown)
	assert.Equal(t, "microsoft_graph", tr.Resource)
	assert.Equal(t, types.CategoryDataExfiltration, tr.Category)
	assert.Equal(t, 60, tr.ImpactScore)
	assert.NotEmpty(t, tr.PlainEnglish)
	assert.NotEmpty(t, tr.AbuseScenarios)
}

func TestTranslateIsCaseInsensitive(t *testing.T) {
	s := loadedStore(t)

	upper := s.Translate("MAIL.READ", "microsoft_graph")
	lower := s.Translate("mail.read", "microsoft_graph")
	mixed := s.Translate("Mail.Read", "microsoft_graph")

	assert.True(t, upper.IsKnown)
	assert.Equal(t, lower.ImpactScore, upper.ImpactScore)
	assert.Equal(t, mixed.Category, upper.Category)
	assert.Equal(t, mixed.PlainEnglish, lower.PlainEnglish)
}

func TestTranslateUnknownPermission(t *testing.T) {
	s := loadedStore(t)

	tr := s.Translate("Widgets.ReadWrite.All", "microsoft_graph")
	assert.False(t, tr.IsKnown)
	assert.Equal(t, types.CategoryUnknown, tr.Category)
	assert.Equal(t, UnknownImpactScore, tr.ImpactScore)
	assert.Contains(t, tr.PlainEnglish, "Widgets.ReadWrite.All")
	assert.Equal(t, "microsoft_graph", tr.Resource)
}

func TestHighImpactByThreshold(t *testing.T) {
	s := loadedStore(t)

	// 95 in the document, well over the threshold.
	assert.True(t, s.HighImpact("Directory.ReadWrite.All"))
	// 65 exactly meets the threshold.
	assert.True(t, s.HighImpact("Mail.Send"))
	// 40, not listed.
	assert.False(t, s.HighImpact("Directory.Read.All"))
	assert.False(t, s.HighImpact("User.Read"))
}

func TestHighImpactByAllowList(t *testing.T) {
	s := loadedStore(t)

	// Mail.Read scores 60, below the threshold, but is on the allow list.
	tr := s.Translate("Mail.Read", "microsoft_graph")
	require.Less(t, tr.ImpactScore, HighImpactThreshold)
	assert.True(t, s.HighImpact("Mail.Read"))
	assert.True(t, s.HighImpact("mail.read"))
}

func TestHighImpactUnknownPermission(t *testing.T) {
	s := loadedStore(t)

	assert.False(t, s.HighImpact("Widgets.ReadWrite.All"))
	// Allow-listed entries are high impact even before any rule load.
	empty := newStore(func() ([]byte, error) { return nil, errors.New("unavailable") }, false, discardLogger())
	empty.Load(context.Background())
	assert.True(t, empty.HighImpact("AppRoleAssignment.ReadWrite.All"))
}

func TestLoadFailureLeavesStoreEmpty(t *testing.T) {
	s := newStore(func() ([]byte, error) { return nil, errors.New("fetch failed") }, false, discardLogger())
	s.Load(context.Background())

	assert.Equal(t, 0, s.KnownCount())
	tr := s.Translate("Mail.Read", "microsoft_graph")
	assert.False(t, tr.IsKnown)
	assert.Equal(t, UnknownImpactScore, tr.ImpactScore)
}

func TestLoadIsIdempotent(t *testing.T) {
	calls := 0
	s := newStore(func() ([]byte, error) {
		calls++
		return EmbeddedSource()
	}, false, discardLogger())

	ctx := context.Background()
	s.Load(ctx)
	s.Load(ctx)
	s.Load(ctx)

	assert.Equal(t, 1, calls)
}

func TestReloadRebuildsIndex(t *testing.T) {
	calls := 0
	docs := [][]byte{
		[]byte(`{"microsoft_graph":{"Mail.Read":{"plainEnglish":"old","category":"data_exfiltration","impactScore":60}}}`),
		[]byte(`{"microsoft_graph":{"Tasks.Read":{"plainEnglish":"new","category":"read_only","impactScore":15}}}`),
	}
	s := newStore(func() ([]byte, error) {
		doc := docs[calls]
		calls++
		return doc, nil
	}, false, discardLogger())

	ctx := context.Background()
	s.Load(ctx)
	assert.True(t, s.Translate("Mail.Read", "microsoft_graph").IsKnown)
	assert.False(t, s.Translate("Tasks.Read", "microsoft_graph").IsKnown)

	s.Reload(ctx)
	assert.False(t, s.Translate("Mail.Read", "microsoft_graph").IsKnown)
	assert.True(t, s.Translate("Tasks.Read", "microsoft_graph").IsKnown)
	assert.Equal(t, 1, s.KnownCount())
}

func TestYAMLSource(t *testing.T) {
	doc := []byte("microsoft_graph:\n  Notes.Read:\n    plainEnglish: Read user notebooks.\n    category: read_only\n    impactScore: 20\n")
	s := newStore(func() ([]byte, error) { return doc, nil }, true, discardLogger())
	s.Load(context.Background())

	tr := s.Translate("notes.read", "microsoft_graph")
	assert.True(t, tr.IsKnown)
	assert.Equal(t, 20, tr.ImpactScore)
	assert.Equal(t, types.CategoryReadOnly, tr.Category)
}

func TestFormatReport(t *testing.T) {
	s := loadedStore(t)

	report := s.FormatReport("Directory.ReadWrite.All", true)
	assert.Contains(t, report, "Permission: Directory.ReadWrite.All")
	assert.Contains(t, report, "Impact Score: 95/100")
	assert.Contains(t, report, "Potential Abuse Scenarios:")

	unknown := s.FormatReport("Widgets.ReadWrite.All", false)
	assert.Contains(t, unknown, "not in the rules database")
}
