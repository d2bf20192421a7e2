package shared

// Paging contains metadata for windowed listings.
type Paging struct {
	Page     int  `json:"page"`
	PageSize int  `json:"pageSize"`
	HasNext  bool `json:"hasNext"`
	PrevPage int  `json:"prevPage,omitempty"`
	NextPage int  `json:"nextPage,omitempty"`
}

// NewPaging normalises page/pageSize and fills navigation hints.
func NewPaging(page, pageSize int, hasNext bool) Paging {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	if page <= 0 {
		page = 1
	}
	p := Paging{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		p.PrevPage = page - 1
	}
	if hasNext {
		p.NextPage = page + 1
	}
	return p
}
