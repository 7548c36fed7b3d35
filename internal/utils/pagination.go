// internal/utils/pagination.go
package utils

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// PageParams selects one page of an admin listing.
type PageParams struct {
	Page  int
	Limit int
	Sort  string
	Order string
}

// Normalized clamps the page into range. Order is asc or desc.
func (p PageParams) Normalized() PageParams {
	if p.Page < 1 {
		p.Page = 1
	}
	switch {
	case p.Limit < 1:
		p.Limit = defaultPageLimit
	case p.Limit > maxPageLimit:
		p.Limit = maxPageLimit
	}
	if p.Order != "asc" {
		p.Order = "desc"
	}
	return p
}

func PageParamsFromQuery(c *gin.Context) PageParams {
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	return PageParams{
		Page:  page,
		Limit: limit,
		Sort:  c.Query("sort"),
		Order: c.Query("order"),
	}.Normalized()
}

// Paginate orders by p.Sort when it is one of sortable, created_at otherwise.
func Paginate(db *gorm.DB, p PageParams, sortable ...string) *gorm.DB {
	p = p.Normalized()
	column := "created_at"
	for _, field := range sortable {
		if field == p.Sort {
			column = field
			break
		}
	}
	return db.Order(column + " " + p.Order).Offset((p.Page - 1) * p.Limit).Limit(p.Limit)
}

type PageResult struct {
	Page       int
	Limit      int
	Total      int64
	TotalPages int
	Data       interface{}
}

func NewPageResult(data interface{}, total int64, p PageParams) PageResult {
	p = p.Normalized()
	return PageResult{
		Page:       p.Page,
		Limit:      p.Limit,
		Total:      total,
		TotalPages: int((total + int64(p.Limit) - 1) / int64(p.Limit)),
		Data:       data,
	}
}
