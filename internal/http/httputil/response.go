package httputil

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hxuan190/hybrid-router/internal/common"
)

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    data,
	})
}

func Error(c *gin.Context, status int, err string) {
	c.JSON(status, Response{
		Success: false,
		Error:   err,
	})
}

// Fail writes herr with its status and code.
func Fail(c *gin.Context, herr *common.HttpError) {
	c.JSON(herr.StatusCode, Response{
		Success: false,
		Error:   herr.Message,
		Code:    herr.Code,
	})
}

func BadRequest(c *gin.Context, err string) {
	Fail(c, common.HTTPErrorBadRequest(err))
}

func NotFound(c *gin.Context, err string) {
	Fail(c, common.HTTPErrorNotFound(err))
}
