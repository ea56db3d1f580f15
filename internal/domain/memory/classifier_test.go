package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultClassifier(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		category string
	}{
		{"worklog keyword", "daily log from the north site", "worklog"},
		{"finance keyword", "the invoice arrived this morning", "finance"},
		{"schedule keyword", "deadline moved to next monday", "schedule"},
		{"task keyword", "new action item for the crew", "tasks"},
		{"case insensitive", "BUDGET review at noon", "finance"},
		{"no keyword", "how was your weekend", "general"},
		{"empty content", "", "general"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			category, importance := DefaultClassifier(tt.content)
			assert.Equal(t, tt.category, category)
			assert.Equal(t, DefaultImportance, importance)
		})
	}
}

func TestDefaultClassifierFirstRuleWins(t *testing.T) {
	// 同时命中 worklog 和 finance，按规则声明顺序归入 worklog
	category, _ := DefaultClassifier("construction budget for the quarter")
	assert.Equal(t, "worklog", category)
}

func TestHashContentStable(t *testing.T) {
	assert.Equal(t, HashContent("same text"), HashContent("same text"))
	assert.NotEqual(t, HashContent("same text"), HashContent("same text edited"))
	assert.Len(t, HashContent(""), 64)
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleAssistant.Valid())
	assert.True(t, RoleSystem.Valid())
	assert.False(t, Role("moderator").Valid())
	assert.False(t, Role("").Valid())
}
