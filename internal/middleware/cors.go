package middleware

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
)

const corsMaxAge = 24 * 60 * 60

// NewCORS allows browser clients from origins to call the vote API. The
// caller id header must be allowed in, and the rate limit headers let a
// client back off before it hits a 429.
func NewCORS(origins []string) fiber.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{fiber.MethodGet, fiber.MethodPost, fiber.MethodOptions},
		AllowHeaders:  []string{fiber.HeaderOrigin, fiber.HeaderContentType, fiber.HeaderAccept, UserIDHeader},
		ExposeHeaders: []string{HeaderRateLimitLimit, HeaderRateLimitRemaining, fiber.HeaderRetryAfter},
		MaxAge:        corsMaxAge,
	})
}
