package integration

import (
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var BaseURL = baseURL()

func baseURL() string {
	if url := os.Getenv("API_BASE_URL"); url != "" {
		return url
	}
	return "http://localhost:8080"
}

func TestMain(m *testing.M) {
	// Wait for the service to come up
	time.Sleep(5 * time.Second)

	code := m.Run()

	os.Exit(code)
}

// signToken mints a bearer token the way the platform issues them.
func signToken(wallet, role string) (string, error) {
	claims := jwt.MapClaims{
		"sub":  wallet,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(os.Getenv("JWT_SECRET")))
}
