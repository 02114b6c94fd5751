package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tradeflow/internal/consts"
)

// 代表响应给客户端的的一个消息结构，包括错误码，错误信息，响应数据
type ApiResponse struct {
	RequestId string      `json:"request_id"` // 请求的唯一ID
	Code      int         `json:"code"`       // 错误码 0表示无错误
	Message   string      `json:"message"`    // 提示信息
	Data      interface{} `json:"data"`       // 响应数据
}

// 发送json格式数据。err 非空时返回http 400
func JSON(c *gin.Context, err error, data interface{}) {
	if err != nil {
		c.JSON(http.StatusBadRequest, ApiResponse{
			RequestId: c.GetString(consts.RequestId),
			Code:      http.StatusBadRequest,
			Message:   err.Error(),
			Data:      data,
		})
		return
	}
	c.JSON(http.StatusOK, ApiResponse{
		RequestId: c.GetString(consts.RequestId),
		Code:      0,
		Message:   "success",
		Data:      data,
	})
}

func BadRequests(c *gin.Context) {
	c.JSON(http.StatusBadRequest, ApiResponse{
		RequestId: c.GetString(consts.RequestId),
		Code:      http.StatusBadRequest,
		Message:   "bad request",
	})
}

func TooManyRequests(c *gin.Context) {
	c.JSON(http.StatusTooManyRequests, ApiResponse{
		RequestId: c.GetString(consts.RequestId),
		Code:      http.StatusTooManyRequests,
		Message:   "too many requests",
	})
}
