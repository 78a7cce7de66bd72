package response

import (
	"Storefront/internal/api/dto"
	"Storefront/internal/service"
	"errors"
	log "log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

const (
	Ok                  = 200
	BadRequest          = 400
	NotFound            = 404
	InternalServerError = 500
)

// Success 成功返回封装
func Success(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, dto.Response{
		Code:    Ok,
		Message: "success",
		Data:    data,
	})
}

// Fail 失败返回封装
func Fail(c *gin.Context, businessCode int, message string) {
	c.JSON(http.StatusOK, dto.Response{
		Code:    businessCode,
		Message: message,
		Data:    nil,
	})
}

// FailWithData 失败但仍需返回数据，例如发送失败的待发送记录
func FailWithData(c *gin.Context, businessCode int, message string, data interface{}) {
	c.JSON(http.StatusOK, dto.Response{
		Code:    businessCode,
		Message: message,
		Data:    data,
	})
}

// Code 错误对应的业务码，包装过的哨兵错误同样识别
func Code(err error) int {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		return BadRequest
	}
	var unmarshalTypeError *json.UnmarshalTypeError
	if errors.As(err, &unmarshalTypeError) {
		return BadRequest
	}
	if code, ok := service.ErrorMap[err]; ok {
		return code
	}
	for target, code := range service.ErrorMap {
		if errors.Is(err, target) {
			return code
		}
	}
	return InternalServerError
}

// Error 处理错误
func Error(c *gin.Context, err error) {
	code := Code(err)
	if code == InternalServerError {
		log.ErrorContext(c.Request.Context(), "Error", "err", err)
	}
	Fail(c, code, err.Error())
}
