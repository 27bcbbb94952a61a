package progress

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Category is an entry of the fixed transaction category catalog.
type Category struct {
	ID    string            `json:"id"`
	Label string            `json:"label"`
	Icon  string            `json:"icon"`
	Types []TransactionType `json:"types"`
}

var (
	incomeOnly  = []TransactionType{TransactionIncome}
	expenseOnly = []TransactionType{TransactionExpense}
	both        = []TransactionType{TransactionIncome, TransactionExpense}
)

var categoryCatalog = []Category{
	{ID: "allowance", Icon: "💵", Types: incomeOnly},
	{ID: "part_time_job", Icon: "💼", Types: incomeOnly},
	{ID: "side_hustle", Icon: "🚀", Types: incomeOnly},
	{ID: "gift", Icon: "🎁", Types: both},
	{ID: "food", Icon: "🍔", Types: expenseOnly},
	{ID: "transportation", Icon: "🚌", Types: expenseOnly},
	{ID: "entertainment", Icon: "🎮", Types: expenseOnly},
	{ID: "shopping", Icon: "🛍️", Types: expenseOnly},
	{ID: "education", Icon: "📚", Types: expenseOnly},
	{ID: "subscriptions", Icon: "📱", Types: expenseOnly},
	{ID: "health", Icon: "💊", Types: expenseOnly},
	{ID: "savings", Icon: "🏦", Types: expenseOnly},
	{ID: "other", Icon: "📦", Types: both},
}

// CategoryLabel turns a category id such as "part_time_job" into "Part Time Job".
// A Caser keeps state between calls, so each call gets its own.
func CategoryLabel(id string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(id, "_", " "))
}

// Categories returns the catalog with display labels filled in.
func Categories() []Category {
	out := make([]Category, len(categoryCatalog))
	for i, c := range categoryCatalog {
		c.Label = CategoryLabel(c.ID)
		c.Types = append([]TransactionType(nil), c.Types...)
		out[i] = c
	}
	return out
}

func lookupCategory(id string) (Category, bool) {
	for _, c := range categoryCatalog {
		if c.ID == id {
			return c, true
		}
	}
	return Category{}, false
}

// categoryAllows reports whether id is a known category usable for typ. An empty typ accepts any known category.
func categoryAllows(id string, typ TransactionType) bool {
	c, ok := lookupCategory(id)
	if !ok {
		return false
	}
	if typ == "" {
		return true
	}
	for _, t := range c.Types {
		if t == typ {
			return true
		}
	}
	return false
}
