package models

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// validate is shared; validator caches struct metadata and is safe for concurrent use.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// ValidateStruct runs struct-tag validation and flattens the failures into a
// single error naming every offending field.
func ValidateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(problems, "; "))
}

// Validate checks an asset batch against the schema for its declared type.
func (a AssetBatch) Validate() error {
	if err := ValidateStruct(a); err != nil {
		return err
	}
	return ValidateAttributes(a.Type, a.Metal, a.Property)
}

// ValidateAttributes checks that exactly the attribute block matching the
// type's category is present and well-formed.
func ValidateAttributes(t AssetType, metal *MetalAttributes, property *PropertyAttributes) error {
	switch t.Category() {
	case CategoryMetal:
		if metal == nil {
			return fmt.Errorf("asset type %s requires metal attributes", t)
		}
		if property != nil {
			return fmt.Errorf("asset type %s must not carry property attributes", t)
		}
		return ValidateStruct(metal)
	case CategoryProperty:
		if property == nil {
			return fmt.Errorf("asset type %s requires property attributes", t)
		}
		if metal != nil {
			return fmt.Errorf("asset type %s must not carry metal attributes", t)
		}
		return ValidateStruct(property)
	default:
		return fmt.Errorf("unknown asset type %q", t)
	}
}
