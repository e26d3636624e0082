// Package domain contains core domain types for the Answer Book service.
package domain

import "strings"

// Category groups answers and astro hints by life topic.
type Category string

const (
	CategoryLove          Category = "love"
	CategoryCareer        Category = "career"
	CategoryMoney         Category = "money"
	CategoryHealth        Category = "health"
	CategoryRelationships Category = "relationships"
	CategoryRandom        Category = "random"
)

var categories = []Category{
	CategoryLove,
	CategoryCareer,
	CategoryMoney,
	CategoryHealth,
	CategoryRelationships,
	CategoryRandom,
}

// Aliases accepted from the consult API.
var categoryAliases = map[string]Category{
	"wealth":  CategoryMoney,
	"general": CategoryRandom,
}

// Categories returns every known category in display order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// ParseCategory normalizes s into a Category. An empty value maps to
// CategoryRandom. The second return is false for unknown values.
func ParseCategory(s string) (Category, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return CategoryRandom, true
	}
	if c, ok := categoryAliases[s]; ok {
		return c, true
	}
	for _, c := range categories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Filters reports whether the category narrows a pool. Random does not.
func (c Category) Filters() bool {
	return c != "" && c != CategoryRandom
}

func (c Category) String() string {
	return string(c)
}
