// seed-admin creates or updates the platform admin account.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-admin
//
// Override the defaults with ADMIN_EMAIL / ADMIN_PASSWORD / ADMIN_NAME.
package main

import (
	"context"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/pharmtrace_backend/config"
	"bitbucket.org/mmdatafocus/pharmtrace_backend/models"
	"bitbucket.org/mmdatafocus/pharmtrace_backend/utils"
	"gorm.io/gorm"
)

const (
	defaultAdminEmail    = "admin@pharmtrace.local"
	defaultAdminPassword = "Ph@rmTr@ceAdmin"
	defaultAdminName     = "PharmTrace Admin"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	email := envOr("ADMIN_EMAIL", defaultAdminEmail)
	password := envOr("ADMIN_PASSWORD", defaultAdminPassword)
	name := envOr("ADMIN_NAME", defaultAdminName)

	hashed, err := utils.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}
	hashedStr := string(hashed)

	var existing models.Party
	err = db.WithContext(ctx).Model(&models.Party{}).Where("email = ?", email).First(&existing).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			fmt.Fprintf(os.Stderr, "failed to lookup party: %v\n", err)
			os.Exit(1)
		}
		p := models.Party{
			Name:     name,
			Email:    email,
			Phone:    "0000000000",
			Password: hashedStr,
			Role:     models.PartyRoleAdmin,
			Status:   models.ApprovalStatusApproved,
		}
		if err := db.WithContext(ctx).Create(&p).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin party: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created admin party: email=%q\n", email)
		return
	}

	if err := db.WithContext(ctx).Model(&models.Party{}).Where("email = ?", email).Updates(map[string]any{
		"password": hashedStr,
		"name":     name,
		"role":     models.PartyRoleAdmin,
		"status":   models.ApprovalStatusApproved,
	}).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to update admin party: %v\n", err)
		os.Exit(1)
	}
	_ = existing.RemoveInstanceRedis()
	fmt.Printf("Updated admin party: email=%q\n", email)
}
