package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/martijn/snapkeep/internal/api/dto"
	"github.com/martijn/snapkeep/internal/api/middleware"
	"github.com/martijn/snapkeep/internal/api/util"
	"github.com/martijn/snapkeep/internal/core/service"
)

const (
	defaultPerPage = 25
	maxPerPage     = 500
)

func abortWith(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, dto.ErrorResponse{
		Error:   http.StatusText(code),
		Message: message,
		Code:    code,
	})
}

func badRequest(c *gin.Context, message string) {
	abortWith(c, http.StatusBadRequest, message)
}

// respondError maps a service error kind onto a status code. Anything
// unclassified is a 500 and is also attached to the gin context for the
// request logger.
func respondError(c *gin.Context, err error) {
	switch service.KindOf(err) {
	case service.KindValidation:
		abortWith(c, http.StatusBadRequest, err.Error())
	case service.KindNotFound:
		abortWith(c, http.StatusNotFound, err.Error())
	case service.KindConflict:
		abortWith(c, http.StatusConflict, err.Error())
	default:
		_ = c.Error(err)
		abortWith(c, http.StatusInternalServerError, err.Error())
	}
}

func parseID(c *gin.Context, param string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id < 1 {
		badRequest(c, "Invalid "+param)
		return 0, false
	}
	return id, true
}

// parseListFilter reads page, per_page, query and order from the request
// and converts them against the endpoint's schema.
func parseListFilter(c *gin.Context, schema util.Schema) (util.ListFilter, bool) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		badRequest(c, "page must be a positive integer")
		return util.ListFilter{}, false
	}
	perPage, err := strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(defaultPerPage)))
	if err != nil || perPage < 1 || perPage > maxPerPage {
		badRequest(c, "per_page must be between 1 and "+strconv.Itoa(maxPerPage))
		return util.ListFilter{}, false
	}

	filters, err := schema.ParseQuery(c.Query("query"))
	if err != nil {
		badRequest(c, err.Error())
		return util.ListFilter{}, false
	}
	orders, err := schema.ParseOrder(c.Query("order"))
	if err != nil {
		badRequest(c, err.Error())
		return util.ListFilter{}, false
	}

	return util.ListFilter{Filters: filters, Order: orders, Page: page, PerPage: perPage}, true
}

// principal names the caller for audit fields
func principal(c *gin.Context) string {
	if claims, ok := middleware.GetAuthClaims(c); ok && claims.Subject != "" {
		return "client:" + claims.Subject
	}
	return "api"
}
