package core

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// Translation is the message of a validation tag. Func is nil for tags raised by
// struct-level validators or built into the validator.
type Translation struct {
	Tag      string
	Text     string
	Func     validator.Func
	Override bool
}

var (
	identifierRegex = regexp.MustCompile(`^[\w\s]+$`)
	requiredText    = "this field is required"

	globalTranslations = []Translation{
		{Tag: "alphanum_", Text: "only alphanumeric characters and underscores are allowed", Func: isIdentifier},
		{Tag: "notblank", Text: "this field cannot be blank", Func: isNotBlank},
		{Tag: "required", Text: requiredText, Override: true},
		{Tag: "required_with", Text: requiredText, Override: true},
	}
)

// NewTranslator returns the english translator used for validation messages.
func NewTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

// InitValidators sets up validate with JSON field names and the app-wide tags.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	RegisterTranslations(validate, translator, globalTranslations...)
}

// RegisterTranslations registers each translation, and its validation func when set.
func RegisterTranslations(validate *validator.Validate, translator ut.Translator, translations ...Translation) {
	for _, tr := range translations {
		if tr.Func != nil {
			_ = validate.RegisterValidation(tr.Tag, tr.Func)
		}
		RegisterCustomTranslation(validate, translator, tr.Tag, tr.Text, tr.Override)
	}
}

// RegisterCustomTranslation registers a custom translation for the specified validation tag.
func RegisterCustomTranslation(validate *validator.Validate, translator ut.Translator, tag, text string, override ...bool) {
	ovrd := len(override) > 0 && override[0]
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, ovrd) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

// isIdentifier allows letters, digits, underscores and spaces.
func isIdentifier(fl validator.FieldLevel) bool {
	return identifierRegex.MatchString(fl.Field().String())
}

func isNotBlank(fl validator.FieldLevel) bool {
	str, ok := fl.Field().Interface().(string)
	return ok && strings.TrimSpace(str) != ""
}
