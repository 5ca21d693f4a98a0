package main

import (
	"fmt"
	"log"
	"os"

	"github.com/perimeterd/perimeter/internal/config"
	"github.com/perimeterd/perimeter/internal/database"
	"github.com/perimeterd/perimeter/internal/models"
)

// Seeds the initial admin account so the security operations API is
// reachable on a fresh install.
func main() {
	if len(os.Args) != 3 {
		log.Fatalf("Usage: %s <admin-email> <admin-password>", os.Args[0])
	}
	email := os.Args[1]
	password := os.Args[2]

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	if err := db.AutoMigrate(&models.User{}, &models.SecurityAlert{}); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	fmt.Println("✓ Database migrated successfully")

	var existing models.User
	if err := db.Where("email = ?", email).First(&existing).Error; err == nil {
		log.Fatalf("User %s already exists", email)
	}

	admin := models.User{
		Email:   email,
		Name:    "Administrator",
		Role:    "admin",
		Enabled: true,
	}
	if err := admin.SetPassword(password); err != nil {
		log.Fatal("Failed to hash password:", err)
	}
	if err := db.Create(&admin).Error; err != nil {
		log.Fatal("Failed to create admin user:", err)
	}

	fmt.Printf("✓ Admin user %s created\n", email)
}
