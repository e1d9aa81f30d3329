package main

import (
	"log"
	"os"

	"reflection-chat-be/pkg/database"
	"reflection-chat-be/pkg/docstore/gormstore"

	"github.com/joho/godotenv"
)

func main() {
	// 1. Load Environment Variables
	if err := godotenv.Load(); err != nil {
		log.Println("Info: No .env file found, using system env")
	}

	dsn := os.Getenv("DB_CONNECTION_STRING")
	if dsn == "" {
		log.Fatal("Error: DB_CONNECTION_STRING is not set")
	}

	// 2. Connect to Database using existing GORM helpers
	db, err := database.NewGormDBFromDSN(dsn)
	if err != nil {
		log.Fatal("Error: Failed to connect to database:", err)
	}

	log.Println("Starting document store migration...")

	// 3. AutoMigrate the document and collection tables
	store := gormstore.New(db)
	defer store.Close()
	if err := store.Migrate(); err != nil {
		log.Fatalf("Error: AutoMigrate failed: %v", err)
	}

	// 4. Post-Migration: indexes GORM tags cannot express
	postMigrationSQL := []string{
		`CREATE INDEX IF NOT EXISTS idx_documents_collection_seq ON documents (collection, create_seq);`,
	}
	for _, sql := range postMigrationSQL {
		if err := db.Exec(sql).Error; err != nil {
			log.Printf("Warn: Failed to execute post-migration SQL: %v", err)
		}
	}

	log.Println("✅ Success: Database migration completed successfully via GORM.")
}
