// Command opstoken mints an ops API access token from the same JWT_* environment
// the API reads. Intended for operators and local testing.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"prank-platform/internal/auth"
	"prank-platform/internal/config"
	"prank-platform/internal/rbac"
	"prank-platform/pkg/logger"
)

func main() {
	userID := flag.String("user", "", "user id (required)")
	ownerID := flag.String("owner", "", "owner id (required)")
	role := flag.String("role", rbac.RoleOperator, "role: owner, operator or super_admin")
	ttl := flag.Duration("ttl", 0, "token lifetime, defaults to JWT_ACCESS_TTL or 15m")
	flag.Parse()

	log := logger.New("opstoken", strings.TrimSpace(os.Getenv("APP_ENV")))

	switch *role {
	case rbac.RoleOwner, rbac.RoleOperator, rbac.RoleSuperAdmin:
	default:
		log.Error("unknown role", "role", *role)
		os.Exit(2)
	}

	cfg := config.AuthConfig{
		JWTSecret:   os.Getenv("JWT_SECRET"),
		JWTIssuer:   strings.TrimSpace(os.Getenv("JWT_ISSUER")),
		JWTAudience: strings.TrimSpace(os.Getenv("JWT_AUDIENCE")),
	}
	if *ttl > 0 {
		cfg.AccessTokenTTL = *ttl
	} else if v := strings.TrimSpace(os.Getenv("JWT_ACCESS_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Error("invalid JWT_ACCESS_TTL", "value", v, "err", err)
			os.Exit(2)
		}
		cfg.AccessTokenTTL = d
	}

	m, err := auth.NewManager(cfg)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}
	tok, err := m.Issue(time.Now(), *userID, *ownerID, *role)
	if err != nil {
		log.Error("token issuance failed", "err", err)
		os.Exit(2)
	}
	fmt.Println(tok)
}
