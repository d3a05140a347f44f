package messages

import (
	"net/netip"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// addrport accepts a literal ip:port, no host names.
	if err := v.RegisterValidation("addrport", func(fl validator.FieldLevel) bool {
		_, err := netip.ParseAddrPort(fl.Field().String())
		return err == nil
	}); err != nil {
		panic(err)
	}
	return v
}

// Validate checks the field constraints of a request payload before it is
// sent or served. v must be a struct or a pointer to one. Responses are not
// validated: the agent takes whatever values the control plane sends.
func Validate(v any) error {
	return validate.Struct(v)
}
