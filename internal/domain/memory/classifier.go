package memory

import "strings"

// Classifier 基于内容的分类函数
// 注入写入路径，返回 (category, importance)，
// 规则可替换、可独立测试，不依赖任何全局可变状态。
type Classifier func(content string) (category string, importance int)

// DefaultImportance 未命中任何规则时的默认重要度
const DefaultImportance = 3

// categoryRule 单条分类规则
type categoryRule struct {
	category string
	words    []string
}

// defaultRules 默认分类规则，按声明顺序匹配保证结果稳定
var defaultRules = []categoryRule{
	{"worklog", []string{"site report", "daily log", "construction", "inspection"}},
	{"finance", []string{"payment", "cost", "budget", "invoice", "price"}},
	{"schedule", []string{"deadline", "schedule", "milestone", "due date"}},
	{"tasks", []string{"task", "todo", "pending", "action item"}},
}

// DefaultClassifier 默认关键词分类器
// 命中首条规则即归类，全部未命中归入 general。
func DefaultClassifier(content string) (string, int) {
	lower := strings.ToLower(content)
	for _, rule := range defaultRules {
		for _, word := range rule.words {
			if strings.Contains(lower, word) {
				return rule.category, DefaultImportance
			}
		}
	}
	return "general", DefaultImportance
}
