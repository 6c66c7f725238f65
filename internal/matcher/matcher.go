// Package matcher resolves transaction text to a category. User-defined
// rules are checked first in strict match-type order, then the system
// keyword table; no match is a valid outcome, never an invented
// category.
package matcher

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"fintrack/internal/core"
	"fintrack/internal/store"
)

// Matcher owns the per-user rule cache and the global keyword table.
// Rule mutations must call InvalidateUser before the next Match call in
// the same process.
type Matcher struct {
	store store.Store

	mu        sync.RWMutex
	userRules map[string][]core.CategoryRule
	keywords  []keywordEntry
}

type keywordEntry struct {
	keyword    string
	categoryID string
}

func New(st store.Store) *Matcher {
	return &Matcher{
		store:     st,
		userRules: make(map[string][]core.CategoryRule),
	}
}

// Match resolves description/merchant text to a category id. Returns ""
// when nothing matches.
func (m *Matcher) Match(ctx context.Context, userID, description, merchant string) (string, error) {
	rules, err := m.rulesFor(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load rules for user %s: %w", userID, err)
	}

	if id := matchRules(rules, description, merchant); id != "" {
		return id, nil
	}

	keywords, err := m.keywordTable(ctx)
	if err != nil {
		return "", fmt.Errorf("load keyword table: %w", err)
	}
	return matchKeywords(keywords, description, merchant), nil
}

// InvalidateUser drops the cached rule list for a user. Called by the
// rule service after every create, update or delete.
func (m *Matcher) InvalidateUser(userID string) {
	m.mu.Lock()
	delete(m.userRules, userID)
	m.mu.Unlock()
}

// InvalidateKeywords drops the cached keyword table.
func (m *Matcher) InvalidateKeywords() {
	m.mu.Lock()
	m.keywords = nil
	m.mu.Unlock()
}

func (m *Matcher) rulesFor(ctx context.Context, userID string) ([]core.CategoryRule, error) {
	m.mu.RLock()
	rules, ok := m.userRules[userID]
	m.mu.RUnlock()
	if ok {
		return rules, nil
	}

	// Store returns active rules already ordered by descending priority.
	rules, err := m.store.ListActiveRules(ctx, userID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.userRules[userID] = rules
	m.mu.Unlock()
	return rules, nil
}

// matchRules evaluates all exact rules, then all contains rules, then
// all regex rules, each group in descending priority. Exact and contains
// comparisons are case-insensitive; invalid regex patterns are skipped,
// never raised.
func matchRules(rules []core.CategoryRule, description, merchant string) string {
	descLower := strings.ToLower(description)
	merchLower := strings.ToLower(merchant)

	for _, r := range rules {
		if r.MatchType != core.MatchExact {
			continue
		}
		pattern := strings.ToLower(r.Pattern)
		if r.Field == core.FieldDescription && pattern == descLower {
			return r.CategoryID
		}
		if r.Field == core.FieldMerchant && merchant != "" && pattern == merchLower {
			return r.CategoryID
		}
	}

	for _, r := range rules {
		if r.MatchType != core.MatchContains {
			continue
		}
		pattern := strings.ToLower(r.Pattern)
		if r.Field == core.FieldDescription && strings.Contains(descLower, pattern) {
			return r.CategoryID
		}
		if r.Field == core.FieldMerchant && merchant != "" && strings.Contains(merchLower, pattern) {
			return r.CategoryID
		}
	}

	for _, r := range rules {
		if r.MatchType != core.MatchRegex {
			continue
		}
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			continue
		}
		if r.Field == core.FieldDescription && re.MatchString(description) {
			return r.CategoryID
		}
		if r.Field == core.FieldMerchant && merchant != "" && re.MatchString(merchant) {
			return r.CategoryID
		}
	}

	return ""
}

// matchKeywords checks the merchant text before the description, the
// merchant being the more reliable signal.
func matchKeywords(keywords []keywordEntry, description, merchant string) string {
	descLower := strings.ToLower(description)
	merchLower := strings.ToLower(merchant)

	if merchant != "" {
		for _, e := range keywords {
			if strings.Contains(merchLower, e.keyword) {
				return e.categoryID
			}
		}
	}
	for _, e := range keywords {
		if strings.Contains(descLower, e.keyword) {
			return e.categoryID
		}
	}
	return ""
}

func (m *Matcher) keywordTable(ctx context.Context) ([]keywordEntry, error) {
	m.mu.RLock()
	keywords := m.keywords
	m.mu.RUnlock()
	if keywords != nil {
		return keywords, nil
	}

	cats, err := m.store.ListSystemCategories(ctx)
	if err != nil {
		return nil, err
	}
	keywords = buildKeywordTable(cats)

	m.mu.Lock()
	m.keywords = keywords
	m.mu.Unlock()
	return keywords, nil
}

// buildKeywordTable decomposes every system-category tag into keyword
// fragments and layers the curated merchant keywords on top. A later
// entry for the same keyword replaces the earlier target but keeps its
// table position.
func buildKeywordTable(cats []core.Category) []keywordEntry {
	var entries []keywordEntry
	index := map[string]int{}

	add := func(keyword, categoryID string) {
		keyword = strings.ToLower(keyword)
		if i, ok := index[keyword]; ok {
			entries[i].categoryID = categoryID
			return
		}
		index[keyword] = len(entries)
		entries = append(entries, keywordEntry{keyword: keyword, categoryID: categoryID})
	}

	byTag := map[string]string{}
	for _, c := range cats {
		if c.SystemCategory == "" {
			continue
		}
		byTag[c.SystemCategory] = c.ID
		add(c.SystemCategory, c.ID)
		for _, part := range strings.Split(c.SystemCategory, "_") {
			add(part, c.ID)
		}
	}

	for _, ck := range curatedKeywords {
		categoryID, ok := byTag[ck.tag]
		if !ok {
			continue
		}
		for _, kw := range ck.keywords {
			add(kw, categoryID)
		}
	}

	return entries
}
