package util

// ListFilter carries the parsed query, order and page of a list request
// down to the repositories.
type ListFilter struct {
	Filters []QueryFilter
	Order   []OrderClause
	Page    int
	PerPage int
}

// Offset is the number of rows skipped before the current page.
func (f ListFilter) Offset() int {
	if f.Page <= 1 || f.PerPage <= 0 {
		return 0
	}
	return (f.Page - 1) * f.PerPage
}
