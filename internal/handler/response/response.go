package response

import (
	"net/http"

	"wallet-relay/pkg/config"
	"wallet-relay/pkg/errno"

	"github.com/gin-gonic/gin"
)

// Response defines the standard JSON structure
type Response struct {
	Status  bool        `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Success returns a success response with data
func Success(c *gin.Context, data interface{}) {
	if data == nil {
		data = gin.H{} // Return empty object instead of null
	}
	c.JSON(http.StatusOK, Response{
		Status:  true,
		Message: errno.OK.Message,
		Data:    data,
	})
}

// Error returns an error response, HTTP status comes from the errno classification
func Error(c *gin.Context, err error) {
	ErrorWithData(c, err, nil)
}

// ErrorWithData 失败但仍需返回转账记录 (部分失败、等待确认)
func ErrorWithData(c *gin.Context, err error, data interface{}) {
	en := errno.From(err)
	msg := en.Message
	// 开发环境附带内部原因
	if config.Global.App.IsDevelopment() {
		if detail := errno.Detail(err); detail != "" {
			msg += ": " + detail
		}
	}
	status := en.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	c.JSON(status, Response{
		Status:  false,
		Message: msg,
		Data:    data,
	})
}

// Abort 中间件使用，终止后续 handler
func Abort(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}
