package validator

import (
	"fmt"
	"reflect"
	"strings"

	"wallet-relay/pkg/address"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// MinAmount 所有金额必须大于 1e-18
var MinAmount = decimal.New(1, -18)

var validate *validator.Validate

// Init registers the wallet tags on gin's validator engine
func Init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		validate = v
		register(v)
	}
}

func register(v *validator.Validate) {
	// decimal.Decimal 以字符串参与校验
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})

	_ = v.RegisterValidation("amount", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && d.GreaterThan(MinAmount)
	})
	_ = v.RegisterValidation("eth_address", func(fl validator.FieldLevel) bool {
		return address.IsValidETHAddress(fl.Field().String())
	})

	// 错误信息里使用 json 字段名
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
}

// GetErrorMsg translates validation errors into user-friendly messages
func GetErrorMsg(err error) string {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		var errMsgs []string
		for _, e := range validationErrors {
			field := e.Field()
			tag := e.Tag()
			param := e.Param()

			switch tag {
			case "required":
				errMsgs = append(errMsgs, fmt.Sprintf("%s is required", field))
			case "amount":
				errMsgs = append(errMsgs, fmt.Sprintf("%s must be greater than %s", field, MinAmount.String()))
			case "eth_address":
				errMsgs = append(errMsgs, fmt.Sprintf("%s must be a valid ethereum address", field))
			case "max":
				errMsgs = append(errMsgs, fmt.Sprintf("%s must be at most %s characters", field, param))
			case "oneof":
				errMsgs = append(errMsgs, fmt.Sprintf("%s must be one of [%s]", field, param))
			default:
				errMsgs = append(errMsgs, fmt.Sprintf("%s failed validation (%s)", field, tag))
			}
		}
		return strings.Join(errMsgs, "; ")
	}
	return "Invalid request body"
}
