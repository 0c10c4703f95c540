package gemini

import "strings"

// Built-in word lists per subcategory
var wordLists = map[string][]string{
	// Sports
	"NBA":    {"Basketball", "Lakers", "Jordan", "Lebron", "Dunk"},
	"NFL":    {"Football", "Touchdown", "Quarterback", "Patriots", "Brady"},
	"Soccer": {"Goal", "Messi", "Ronaldo", "WorldCup", "Penalty"},
	// Politics
	"US Politics":   {"President", "Congress", "Senate", "Election", "Democracy"},
	"World Leaders": {"Prime Minister", "Chancellor", "President", "Diplomat", "Summit"},
	// Computer Science
	"Programming": {"Python", "JavaScript", "Algorithm", "Function", "Variable"},
	"Algorithms":  {"Sorting", "Recursion", "Binary Search", "Dynamic Programming", "Graph"},
}

var fallbackWords = []string{"Example", "Word", "Test", "Sample", "Demo"}

// Categories lists the subcategories per category, for menus
var Categories = map[string][]string{
	"Sports":           {"NBA", "NFL", "Soccer"},
	"Politics":         {"US Politics", "World Leaders"},
	"Computer Science": {"Programming", "Algorithms"},
}

// WordsFor returns a copy of the word list of subcategory
func WordsFor(subcategory string) []string {
	for name, words := range wordLists {
		if strings.EqualFold(name, strings.TrimSpace(subcategory)) {
			return append([]string(nil), words...)
		}
	}
	return append([]string(nil), fallbackWords...)
}
