package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/gemini-chat/internal/errs"
)

// Response 统一响应
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// success 成功响应
func success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Code: 0, Message: "success", Data: data})
}

// created 创建成功响应
func created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Code: 0, Message: "created", Data: data})
}

// badRequest 参数错误响应
func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{Code: -1, Message: msg})
}

// errorResponse 按错误类别映射状态码
func errorResponse(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch errs.KindOf(err) {
	case errs.KindInvalidArgument:
		status = http.StatusBadRequest
	case errs.KindNotFound:
		status = http.StatusNotFound
	case errs.KindUpstream:
		status = http.StatusBadGateway
	case errs.KindConfiguration:
		status = http.StatusInternalServerError
	}
	c.JSON(status, Response{Code: -1, Message: err.Error()})
}

// getLimit 获取条数参数
func getLimit(c *gin.Context, fallback int) int {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", ""))
	if limit <= 0 {
		return fallback
	}
	return limit
}
