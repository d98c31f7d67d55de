package main

import (
	"errors"
	"flag"
	"log"

	"wallet-relay/internal/model"
	"wallet-relay/pkg/config"
	"wallet-relay/pkg/database"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	var (
		command string
		dir     string
		version int
	)
	flag.StringVar(&command, "cmd", "up", "Command to run: up, down, force, auto")
	flag.StringVar(&dir, "dir", "migrations", "Migrations directory")
	flag.IntVar(&version, "version", -1, "Version for force")
	flag.Parse()

	// 加载配置
	config.Init()
	cfg := config.Global.DB

	// auto: 开发环境直接用 gorm AutoMigrate
	if command == "auto" {
		db, err := database.ConnectPostgres(database.DSN(cfg), cfg.LogLevel)
		if err != nil {
			log.Fatalf("Database connect failed: %v", err)
		}
		if err := db.AutoMigrate(model.AllModels()...); err != nil {
			log.Fatalf("AutoMigrate failed: %v", err)
		}
		log.Println("AutoMigrate done")
		return
	}

	m, err := migrate.New("file://"+dir, database.MigrateURL(cfg))
	if err != nil {
		log.Fatalf("Migration init failed: %v", err)
	}
	defer m.Close()

	switch command {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("Migration up failed: %v", err)
		}
		log.Println("Migration up done")
	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("Migration down failed: %v", err)
		}
		log.Println("Migration down done")
	case "force":
		if version < 0 {
			log.Fatal("force requires -version")
		}
		if err := m.Force(version); err != nil {
			log.Fatalf("Migration force failed: %v", err)
		}
		log.Printf("Migration forced to version %d", version)
	default:
		log.Fatalf("Unknown command: %s", command)
	}
}
