package core

import "strings"

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// FilterOrderings drops orderings on fields not in `allowed` (case-insensitive).
func FilterOrderings(ords []DBOrdering, allowed ...string) []DBOrdering {
	res := make([]DBOrdering, 0, len(ords))
	for _, ord := range ords {
		field := strings.ToLower(ord.Field)
		if ContainsString(allowed, field) {
			res = append(res, DBOrdering{Field: field, Ascending: ord.Ascending})
		}
	}
	return res
}
