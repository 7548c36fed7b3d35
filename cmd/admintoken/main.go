// cmd/admintoken/main.go
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/javajoker/keyshop-backend/internal/config"
	"github.com/javajoker/keyshop-backend/internal/utils"
)

// admintoken mints an operator JWT for the admin API. It signs with the same
// JWT_SECRET and JWT_ISSUER the server loads.
func main() {
	userID := flag.String("user", "", "operator id recorded in the audit log")
	email := flag.String("email", "", "operator email")
	ttl := flag.Duration("ttl", 12*time.Hour, "token lifetime")
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "usage: admintoken -user <id> [-email <email>] [-ttl 12h]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	utils.SetJWTSecret(cfg.JWT.SecretKey)
	utils.SetJWTIssuer(cfg.JWT.Issuer)

	token, err := utils.GenerateJWT(*userID, *email, utils.RoleAdmin, *ttl)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to sign token")
	}
	fmt.Println(token)
}
