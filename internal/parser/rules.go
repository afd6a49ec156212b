package parser

import (
	"strings"

	"github.com/JakeFAU/policy-crawler/internal/crawler"
)

// field identifies the record attribute a labeled row fills.
type field int

const (
	fieldTitle field = iota
	fieldDocNumber
	fieldPubDate
	fieldImplementDate
	fieldLevel
	fieldValidity
	fieldCategory
)

// rowRule classifies a label/value row. Rules are evaluated top to bottom
// and the first matching label wins, even when accept then rejects the
// value.
type rowRule struct {
	field  field
	match  func(label string) bool
	accept func(value string) bool
}

// rowRules is the label table for the portal's record tables. Labels are
// matched after removing spaces and non-breaking spaces.
var rowRules = []rowRule{
	{
		field: fieldTitle,
		match: func(l string) bool {
			return containsAny(l, "标题", "名称") ||
				strings.Contains(strings.ToLower(l), "title") ||
				containsAll(l, "标", "题") ||
				containsAll(l, "名", "称")
		},
	},
	{
		field: fieldDocNumber,
		match: func(l string) bool {
			return containsAny(l, "发文字号", "文号") || containsAll(l, "发", "号")
		},
	},
	{
		field: fieldPubDate,
		match: func(l string) bool {
			return containsAny(l, "成文时间", "成文日期", "生成日期", "发布日期", "公布日期") &&
				!containsAny(l, "效力", "级别")
		},
		accept: crawler.LooksLikeDate,
	},
	{
		field: fieldImplementDate,
		match: func(l string) bool {
			return containsAny(l, "实施日期", "生效日期") ||
				(strings.Contains(l, "日期") && containsAny(l, "实施", "生效"))
		},
		accept: crawler.LooksLikeDate,
	},
	{
		field: fieldLevel,
		match: func(l string) bool { return containsAny(l, "发布机构", "机构", "发文机关", "发布机关") },
	},
	{
		field: fieldValidity,
		match: func(l string) bool { return containsAny(l, "效力级别", "级别", "时效性") },
	},
	{
		field: fieldCategory,
		match: func(l string) bool { return containsAny(l, "分类", "类别") },
	},
}

// classify returns the first rule whose label predicate matches.
func classify(label string) (rowRule, bool) {
	for _, rule := range rowRules {
		if rule.match(label) {
			return rule, true
		}
	}
	return rowRule{}, false
}

// value applies the rule's guard; rejected and empty values come back as "".
func (r rowRule) value(raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" {
		return ""
	}
	if r.accept != nil && !r.accept(v) {
		return ""
	}
	return v
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}

// cleanLabel removes ordinary and non-breaking spaces from a label cell.
func cleanLabel(s string) string {
	return strings.TrimSpace(strings.NewReplacer(" ", "", "\u00a0", "", "\u3000", "").Replace(s))
}
