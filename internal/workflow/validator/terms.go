package validator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"tale-weaver-api/internal/domain/entity"
)

// DefaultDisallowedTerms 内置第三方知识产权词表（小写）
var DefaultDisallowedTerms = []string{
	"mickey mouse", "minnie mouse", "donald duck", "disney",
	"pokemon", "pokémon", "pikachu",
	"harry potter", "hogwarts", "voldemort",
	"spider-man", "spiderman", "batman", "superman", "wonder woman", "avengers", "marvel",
	"peppa pig", "paw patrol", "bluey", "sesame street", "elmo",
	"minecraft", "fortnite", "roblox", "super mario", "sonic the hedgehog",
	"barbie", "star wars", "darth vader", "paddington", "winnie the pooh",
	"shrek", "toy story", "buzz lightyear", "moana", "minions", "transformers", "teletubbies",
}

type termMatcher struct {
	term string
	re   *regexp.Regexp
}

// termScanner 第一阶段：大小写不敏感、按词边界匹配的本地词表扫描
type termScanner struct {
	matchers []termMatcher
}

func newTermScanner(terms []string) (*termScanner, error) {
	if len(terms) == 0 {
		terms = DefaultDisallowedTerms
	}

	seen := make(map[string]struct{}, len(terms))
	s := &termScanner{matchers: make([]termMatcher, 0, len(terms))}
	for _, raw := range terms {
		term := strings.ToLower(strings.Join(strings.Fields(raw), " "))
		if term == "" {
			continue
		}
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}

		parts := strings.Split(term, " ")
		for i := range parts {
			parts[i] = regexp.QuoteMeta(parts[i])
		}
		re, err := regexp.Compile(`(?i)(^|[^\p{L}\p{N}])` + strings.Join(parts, `\s+`) + `($|[^\p{L}\p{N}])`)
		if err != nil {
			return nil, fmt.Errorf("invalid disallowed term %q: %w", raw, err)
		}
		s.matchers = append(s.matchers, termMatcher{term: term, re: re})
	}
	return s, nil
}

type termHit struct {
	Field string
	Term  string
}

// scan 返回所有命中（按字段、词排序，去重）
func (s *termScanner) scan(fields []entity.TextField) []termHit {
	var hits []termHit
	seen := make(map[termHit]struct{})
	for _, f := range fields {
		for _, m := range s.matchers {
			if !m.re.MatchString(f.Value) {
				continue
			}
			h := termHit{Field: f.Field, Term: m.term}
			if _, dup := seen[h]; dup {
				continue
			}
			seen[h] = struct{}{}
			hits = append(hits, h)
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Field != hits[j].Field {
			return hits[i].Field < hits[j].Field
		}
		return hits[i].Term < hits[j].Term
	})
	return hits
}
