package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/abdul-abdi/blockcreative-sub000/internal/repository"
)

const (
	codeOK            = 0
	codeInvalidParams = 40001
	codeNotFound      = 40401
	codeUnavailable   = 50301
	codeInternal      = 50001
)

// Response is the uniform HTTP envelope.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// PagedResponse wraps a page of items with totals.
type PagedResponse struct {
	Items    interface{} `json:"items"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

// Success writes a 200 envelope.
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, &Response{Code: codeOK, Message: "ok", Data: data})
}

// SuccessWithPagination writes a 200 envelope around a page of items.
func SuccessWithPagination(c *gin.Context, items interface{}, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, &Response{
		Code:    codeOK,
		Message: "ok",
		Data: &PagedResponse{
			Items:    items,
			Total:    total,
			Page:     page,
			PageSize: pageSize,
		},
	})
}

// BadRequest writes a 400 envelope.
func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, &Response{Code: codeInvalidParams, Message: message})
}

// NotFound writes a 404 envelope.
func NotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, &Response{Code: codeNotFound, Message: message})
}

// InternalError writes a 500 envelope.
func InternalError(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, &Response{Code: codeInternal, Message: "internal error"})
}

// ParsePagination reads page/page_size query parameters.
func ParsePagination(c *gin.Context) *repository.Pagination {
	page := 1
	pageSize := 20
	if raw := c.Query("page"); raw != "" {
		if p, err := strconv.Atoi(raw); err == nil && p > 0 {
			page = p
		}
	}
	if raw := c.Query("page_size"); raw != "" {
		if ps, err := strconv.Atoi(raw); err == nil && ps > 0 {
			pageSize = ps
		}
	}
	return &repository.Pagination{Page: page, PageSize: pageSize}
}
