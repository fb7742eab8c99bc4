package auth

import (
	"errors"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

var (
	upperRe   = regexp.MustCompile(`[A-Z]`)
	lowerRe   = regexp.MustCompile(`[a-z]`)
	digitRe   = regexp.MustCompile(`[0-9]`)
	specialRe = regexp.MustCompile(`[!@#$%^&*(),.?":{}|<>]`)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return len(passwordProblems(fl.Field().String())) == 0
	}); err != nil {
		panic(err)
	}
	return v
}

// ValidationError maps form fields to user-facing messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "auth: invalid form: " + strings.Join(parts, "; ")
}

// passwordProblems lists the strength rules a signup password misses.
func passwordProblems(password string) []string {
	var problems []string
	if utf8.RuneCountInString(password) < 8 {
		problems = append(problems, "At least 8 characters")
	}
	if !upperRe.MatchString(password) {
		problems = append(problems, "One uppercase letter")
	}
	if !lowerRe.MatchString(password) {
		problems = append(problems, "One lowercase letter")
	}
	if !digitRe.MatchString(password) {
		problems = append(problems, "One number")
	}
	if !specialRe.MatchString(password) {
		problems = append(problems, "One special character")
	}
	return problems
}

var messages = map[string]string{
	"email.required":            "Email is required",
	"email.email":               "Please enter a valid email address",
	"password.required":         "Password is required",
	"name.required":             "Full name is required",
	"name.min":                  "Name must be at least 2 characters long",
	"confirm_password.required": "Please confirm your password",
	"confirm_password.eqfield":  "Passwords do not match",
	"otp.required":              "Please enter a 6-digit OTP",
	"otp.len":                   "Please enter a 6-digit OTP",
	"otp.number":                "Please enter a 6-digit OTP",
}

func message(fe validator.FieldError) string {
	if fe.Tag() == "password" {
		value, _ := fe.Value().(string)
		return "Password must contain: " + strings.Join(passwordProblems(value), ", ")
	}
	if msg, ok := messages[fe.Field()+"."+fe.Tag()]; ok {
		return msg
	}
	return "Invalid value"
}

// check validates a tagged form and turns failures into a *ValidationError.
func check(form any) error {
	err := validate.Struct(form)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	fields := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = message(fe)
	}
	return &ValidationError{Fields: fields}
}

type loginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type verifyForm struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp" validate:"required,len=6,number"`
}

func validateLogin(email, password string) error {
	return check(loginForm{Email: email, Password: password})
}

func validateSignup(f SignupForm) error {
	f.Name = strings.TrimSpace(f.Name)
	return check(f)
}

func validateVerify(email, otp string) error {
	return check(verifyForm{Email: email, OTP: otp})
}
