package main

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"craftfolio/internal/auth"
	"craftfolio/internal/config"
	"craftfolio/internal/database"
)

func main() {
	var (
		listUsers  = flag.Bool("list", false, "list registered accounts")
		resetEmail = flag.String("reset-email", "", "force a new random password for this account")
		dbHost     = flag.String("db-host", "", "database host (defaults to DATABASE_HOST)")
		dbPort     = flag.Int("db-port", 0, "database port (defaults to DATABASE_PORT)")
		dbName     = flag.String("db-name", "", "database name (defaults to POSTGRES_DB)")
		dbUser     = flag.String("db-user", "", "database user (defaults to POSTGRES_USER)")
		dbPass     = flag.String("db-password", "", "database password (defaults to POSTGRES_PASSWORD)")
		sslMode    = flag.String("db-sslmode", "", "database sslmode (defaults to DATABASE_SSLMODE)")
	)
	flag.Parse()

	email := strings.TrimSpace(strings.ToLower(*resetEmail))
	if !*listUsers && email == "" {
		log.Fatal("nothing to do: pass --list or --reset-email")
	}

	dbCfg, err := loadDatabaseConfig(*dbHost, *dbPort, *dbName, *dbUser, *dbPass, *sslMode)
	if err != nil {
		log.Fatalf("load database config: %v", err)
	}

	db, err := database.InitDatabase(dbCfg)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}

	if *listUsers {
		runList(db)
		return
	}

	runPasswordReset(db, email)
}

func runList(db *gorm.DB) {
	var users []database.User
	if err := db.Order("id").Find(&users).Error; err != nil {
		log.Fatalf("list users: %v", err)
	}

	fmt.Printf("%-6s %-30s %-30s %s\n", "ID", "EMAIL", "NAME", "CREATED")
	for _, u := range users {
		fmt.Printf("%-6d %-30s %-30s %s\n", u.ID, u.Email, u.Name, u.CreatedAt.Format("2006-01-02 15:04"))
	}
}

func runPasswordReset(db *gorm.DB, email string) {
	var user database.User
	switch err := db.Where("email = ?", email).First(&user).Error; {
	case err == nil:
	case errors.Is(err, gorm.ErrRecordNotFound):
		log.Fatalf("no account with email %q", email)
	default:
		log.Fatalf("query user: %v", err)
	}

	password, err := generateRandomPassword(24)
	if err != nil {
		log.Fatalf("generate password: %v", err)
	}

	hashed, err := auth.HashPassword(password)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	updates := map[string]any{
		"password_hash":      hashed,
		"reset_token":        nil,
		"reset_token_expiry": nil,
	}
	if err := db.Model(&user).Updates(updates).Error; err != nil {
		log.Fatalf("update password: %v", err)
	}

	fmt.Printf("Password reset for %s:\n", user.Email)
	fmt.Printf("New password: %s\n", password)
	fmt.Printf("Note: this password is shown only once.\n")
}

func loadDatabaseConfig(host string, port int, name, user, password, sslmode string) (config.DatabaseConfig, error) {
	if strings.TrimSpace(host) == "" {
		host = os.Getenv("DATABASE_HOST")
	}
	if port <= 0 {
		if env := strings.TrimSpace(os.Getenv("DATABASE_PORT")); env != "" {
			p, err := strconv.Atoi(env)
			if err != nil {
				return config.DatabaseConfig{}, fmt.Errorf("parse DATABASE_PORT: %w", err)
			}
			port = p
		}
	}
	if strings.TrimSpace(name) == "" {
		name = os.Getenv("POSTGRES_DB")
	}
	if strings.TrimSpace(user) == "" {
		user = os.Getenv("POSTGRES_USER")
	}
	if strings.TrimSpace(password) == "" {
		password = os.Getenv("POSTGRES_PASSWORD")
	}
	if strings.TrimSpace(sslmode) == "" {
		sslmode = os.Getenv("DATABASE_SSLMODE")
	}

	if strings.TrimSpace(host) == "" {
		host = "localhost"
	}
	if port <= 0 {
		port = 5432
	}
	if strings.TrimSpace(sslmode) == "" {
		sslmode = "disable"
	}
	if strings.TrimSpace(name) == "" {
		return config.DatabaseConfig{}, errors.New("database name is required (POSTGRES_DB)")
	}
	if strings.TrimSpace(user) == "" {
		return config.DatabaseConfig{}, errors.New("database user is required (POSTGRES_USER)")
	}
	if strings.TrimSpace(password) == "" {
		return config.DatabaseConfig{}, errors.New("database password is required (POSTGRES_PASSWORD)")
	}

	return config.DatabaseConfig{
		Host:     host,
		Port:     port,
		Name:     name,
		User:     user,
		Password: password,
		SSLMode:  sslmode,
	}, nil
}

func generateRandomPassword(bytesLen int) (string, error) {
	if bytesLen <= 0 {
		bytesLen = 24
	}
	buf := make([]byte, bytesLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
