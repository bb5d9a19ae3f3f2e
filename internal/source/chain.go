package source

import "strings"

// Walk calls fn for every source from head to the end of the chain, stopping
// early when fn returns false.
func Walk(head Source, fn func(Source) bool) {
	for s := head; s != nil; s = s.Next() {
		if !fn(s) {
			return
		}
	}
}

// IDs lists the chain's source ids in delegation order.
func IDs(head Source) []string {
	var ids []string
	Walk(head, func(s Source) bool {
		ids = append(ids, s.ID())
		return true
	})
	return ids
}

// Attribution joins the distinct attribution texts of the chain.
func Attribution(head Source) string {
	var parts []string
	seen := make(map[string]bool)
	Walk(head, func(s Source) bool {
		if a := s.Attribution(); a != "" && !seen[a] {
			seen[a] = true
			parts = append(parts, a)
		}
		return true
	})
	return strings.Join(parts, " | ")
}

// Find returns the first source in the chain with the given id.
func Find(head Source, id string) Source {
	var found Source
	Walk(head, func(s Source) bool {
		if s.ID() == id {
			found = s
			return false
		}
		return true
	})
	return found
}
