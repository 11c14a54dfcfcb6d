// Package classifier assigns a category and tags to crawled articles.
package classifier

import (
	"sort"
	"strings"
	"sync"

	ahocorasick "github.com/cloudflare/ahocorasick"
	"github.com/timmy/mpcrawl/internal/domain"
)

// FallbackCategory is used when no rule matches.
const FallbackCategory = "其他"

// Classifier derives a category and a sorted tag set from an article.
// Implementations must be pure: the same article yields the same result.
type Classifier interface {
	Classify(a *domain.Article) (category string, tags []string)
}

// Rule maps keywords to a category. Rules are evaluated in order.
type Rule struct {
	Category string
	Keywords []string
}

// DefaultRules returns the built-in category rules.
func DefaultRules() []Rule {
	return []Rule{
		{Category: "技术", Keywords: []string{"技术", "编程", "开发", "代码", "算法", "框架", "工具"}},
		{Category: "生活", Keywords: []string{"生活", "日常", "经验", "分享", "故事", "感悟"}},
		{Category: "教育", Keywords: []string{"教育", "学习", "教程", "培训", "知识", "技能"}},
		{Category: "商业", Keywords: []string{"商业", "创业", "投资", "营销", "管理", "职场"}},
		{Category: "文化", Keywords: []string{"文化", "艺术", "历史", "文学", "音乐", "电影"}},
		{Category: "健康", Keywords: []string{"健康", "医疗", "运动", "养生", "心理"}},
		{Category: "科技", Keywords: []string{"科技", "科学", "创新", "未来", "人工智能", "互联网"}},
	}
}

// DefaultTags returns the built-in tag vocabulary.
func DefaultTags() []string {
	return []string{
		"技术", "教程", "分享", "经验", "总结", "分析", "研究", "开发",
		"设计", "产品", "运营", "营销", "创业", "投资", "职场", "管理",
		"生活", "健康", "教育", "文化", "艺术", "娱乐", "体育", "旅游",
	}
}

// RuleClassifier matches keyword dictionaries with one Aho-Corasick pass per
// dictionary. The category is looked up in title and description, tags in
// the title only.
type RuleClassifier struct {
	// ahocorasick.Matcher keeps per-call scratch state, so Match is serialized.
	mu sync.Mutex

	categories  []string
	catKeywords []string
	catRules    [][]int // keyword index -> rule indices
	catMatcher  *ahocorasick.Matcher
	tagKeywords []string
	tagMatcher  *ahocorasick.Matcher
}

// NewRuleClassifier builds a classifier from ordered rules and a tag vocabulary.
func NewRuleClassifier(rules []Rule, tags []string) *RuleClassifier {
	c := &RuleClassifier{}

	kwIndex := make(map[string]int)
	for ruleIdx, rule := range rules {
		c.categories = append(c.categories, rule.Category)
		for _, kw := range rule.Keywords {
			kw = normalize(kw)
			if kw == "" {
				continue
			}
			idx, ok := kwIndex[kw]
			if !ok {
				idx = len(c.catKeywords)
				kwIndex[kw] = idx
				c.catKeywords = append(c.catKeywords, kw)
				c.catRules = append(c.catRules, nil)
			}
			c.catRules[idx] = append(c.catRules[idx], ruleIdx)
		}
	}
	if len(c.catKeywords) > 0 {
		c.catMatcher = ahocorasick.NewStringMatcher(c.catKeywords)
	}

	seen := make(map[string]struct{})
	for _, tag := range tags {
		tag = normalize(tag)
		if _, dup := seen[tag]; dup || tag == "" {
			continue
		}
		seen[tag] = struct{}{}
		c.tagKeywords = append(c.tagKeywords, tag)
	}
	if len(c.tagKeywords) > 0 {
		c.tagMatcher = ahocorasick.NewStringMatcher(c.tagKeywords)
	}

	return c
}

// NewDefault returns a classifier with the built-in dictionaries.
func NewDefault() *RuleClassifier {
	return NewRuleClassifier(DefaultRules(), DefaultTags())
}

// Classify implements Classifier.
func (c *RuleClassifier) Classify(a *domain.Article) (string, []string) {
	catText := normalize(a.Title + " " + a.Description)
	tagText := normalize(a.Title)

	c.mu.Lock()
	catHits := match(c.catMatcher, catText)
	tagHits := match(c.tagMatcher, tagText)
	c.mu.Unlock()

	category := FallbackCategory
	best := len(c.categories)
	for _, hit := range catHits {
		for _, ruleIdx := range c.catRules[hit] {
			if ruleIdx < best {
				best = ruleIdx
			}
		}
	}
	if best < len(c.categories) {
		category = c.categories[best]
	}

	tags := make([]string, 0, len(tagHits))
	for _, hit := range tagHits {
		tags = append(tags, c.tagKeywords[hit])
	}
	sort.Strings(tags)

	return category, tags
}

func match(m *ahocorasick.Matcher, text string) []int {
	if m == nil || text == "" {
		return nil
	}
	return m.Match([]byte(text))
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
