package http

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var (
	validate = newValidator()
	tickerRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9.\-]{0,15}$`)
)

// newValidator reports json field names so errors match the request body,
// and adds the `ticker` rule for exchange symbols.
func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("ticker", func(fl validator.FieldLevel) bool {
		return tickerRe.MatchString(strings.TrimSpace(fl.Field().String()))
	})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// ReadAndValidateRequest binds the body, fills zero fields from `default`
// tags and validates. It returns a []ValidationError or nil.
func ReadAndValidateRequest(c echo.Context, req interface{}) interface{} {
	if err := c.Bind(req); err != nil {
		return validatorDefaultRules(err)
	}
	if err := defaults.Set(req); err != nil {
		return validatorDefaultRules(err)
	}
	return ValidateStruct(c, req)
}

// BindOntoAndValidate decodes the body over an already populated req, so
// absent fields keep their current values and explicit zeros survive.
func BindOntoAndValidate(c echo.Context, req interface{}) interface{} {
	if err := (&echo.DefaultBinder{}).BindBody(c, req); err != nil {
		return validatorDefaultRules(err)
	}
	return ValidateStruct(c, req)
}

// ValidateStruct runs the validator on req.
func ValidateStruct(c echo.Context, req interface{}) interface{} {
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		return validatorDefaultRules(err)
	}
	return nil
}

func validatorDefaultRules(err error) interface{} {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		errs := make([]ValidationError, 0, len(validationErrors))
		for _, e := range validationErrors {
			code := "ERR_" + strings.ToUpper(e.Tag())
			errs = append(errs, ValidationError{
				Code:    code,
				Field:   e.Field(),
				Message: getErrorMessage(e),
				Params:  getErrorParams(e),
			})
		}
		return errs
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		return []ValidationError{{
			Code:    "ERR_UNKNOWN",
			Message: fmt.Sprintf("%v", he.Message),
		}}
	}

	return []ValidationError{{
		Code:    "ERR_UNKNOWN",
		Message: err.Error(),
	}}
}

func getErrorMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		if fe.Type().Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		if fe.Type().Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "ticker":
		return fmt.Sprintf("%s must be an exchange symbol such as AAPL or BRK.B", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lt":
		return fmt.Sprintf("%s must be less than %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}

func getErrorParams(fe validator.FieldError) map[string]interface{} {
	params := make(map[string]interface{})

	switch fe.Tag() {
	case "min", "gte":
		params["min"] = fe.Param()
	case "max", "lte":
		params["max"] = fe.Param()
	case "gt", "lt":
		params["value"] = fe.Param()
	case "oneof":
		params["options"] = strings.Split(fe.Param(), " ")
	}

	return params
}
