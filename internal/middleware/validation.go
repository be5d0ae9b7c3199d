package middleware

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// Field length limits matching database schema constraints.
const (
	MaxContentIDLen = 100 // votes.content_id VARCHAR(100)
	MaxUserIDLen    = 64  // votes.user_id VARCHAR(64)
	DefaultPageSize = 20
	MaxPageSize     = 100
)

var (
	// contentIDRe matches content ids: UUIDs, slugs, numeric ids.
	contentIDRe = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)
	// userIDRe matches opaque caller ids handed over by the auth layer.
	userIDRe = regexp.MustCompile(`^[A-Za-z0-9_.:@|-]+$`)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report json names so messages line up with the request body.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// ErrorResponse is a helper that returns a standard API error response.
func ErrorResponse(c fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": message,
		},
	})
}

// ValidateStruct runs the struct tag rules on a request body and returns the
// first failure as a client-facing message.
func ValidateStruct(v any) string {
	err := validate.Struct(v)
	if err == nil {
		return ""
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request body"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// ValidateContentID checks that a content id is well-formed and within DB limits.
// The returned id owns its memory and may outlive the request.
func ValidateContentID(id string) (string, string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", "contentId is required"
	}
	if len(id) > MaxContentIDLen {
		return "", fmt.Sprintf("contentId must be at most %d characters", MaxContentIDLen)
	}
	if !contentIDRe.MatchString(id) {
		return "", "contentId contains invalid characters"
	}
	return strings.Clone(id), ""
}

// ValidateUserID checks the caller id. It is passed through as-is, never
// hashed or case-folded, and copied off the request buffer.
func ValidateUserID(id string) (string, string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", "X-User-ID header is required"
	}
	if len(id) > MaxUserIDLen {
		return "", fmt.Sprintf("userId must be at most %d characters", MaxUserIDLen)
	}
	if !userIDRe.MatchString(id) {
		return "", "userId contains invalid characters"
	}
	return strings.Clone(id), ""
}

// Paging reads limit/offset query params, clamping limit to MaxPageSize.
func Paging(c fiber.Ctx) (limit, offset int, errMsg string) {
	limit = fiber.Query[int](c, "limit", DefaultPageSize)
	offset = fiber.Query[int](c, "offset", 0)
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		return 0, 0, "offset must be non-negative"
	}
	return limit, offset, ""
}
