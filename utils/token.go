package utils

import (
	"log"
	"os"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/joho/godotenv"
)

var JwtSecret []byte

func init() {
	// It's okay if the .env file isn't found; environment variables may be
	// set elsewhere.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env file:", err)
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		// Tests and local tooling run without an identity service.
		secret = "development-secret"
	}

	JwtSecret = []byte(secret)
}

// GenerateAccessToken mints a short-lived bearer token for a tenant. The
// identity service owns real issuance; this exists for tests and local
// tooling.
func GenerateAccessToken(tenantID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"tenant_id": tenantID,
		"exp":       time.Now().Add(15 * time.Minute).Unix(),
	})

	return token.SignedString(JwtSecret)
}
