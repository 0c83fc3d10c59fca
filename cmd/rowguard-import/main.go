package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"

	"github.com/oarkflow/rowguard"
	"github.com/oarkflow/rowguard/logger"
	"github.com/oarkflow/rowguard/stores"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML configuration")
		filePath   = flag.String("file", "", "policy file to import")
	)
	flag.Parse()

	if *filePath == "" {
		fmt.Println("rowguard-import - load policy and role-assignment records into the policy store")
		fmt.Println()
		fmt.Println("Usage:")
		fmt.Println("  rowguard-import -file <policies.txt> [-config <config.yaml>]")
		os.Exit(1)
	}

	cfg := &rowguard.Config{}
	if *configPath != "" {
		loaded, err := rowguard.LoadConfigFile(*configPath)
		if err != nil {
			fmt.Printf("Error loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	driver, dsn := cfg.Database.Driver, cfg.Database.DSN
	if driver == "" {
		driver = "sqlite"
	}
	if dsn == "" {
		dsn = "rowguard.db"
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		fmt.Printf("Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	db := squealx.NewDb(sqlDB, driver, "rowguard")
	if err := stores.Migrate(db); err != nil {
		fmt.Printf("Error migrating database: %v\n", err)
		os.Exit(1)
	}

	opts := append(cfg.EngineOptions(), rowguard.WithLogger(logger.NewPhusluLogger()))
	engine, err := rowguard.NewEngine(
		stores.NewSQLPolicyRepository(db),
		stores.NewSQLResourceMetaStore(db),
		stores.NewSQLActorStore(db),
		stores.NewSQLRelationshipStore(db),
		opts...,
	)
	if err != nil {
		fmt.Printf("Error building engine: %v\n", err)
		os.Exit(1)
	}

	f, err := os.Open(*filePath)
	if err != nil {
		fmt.Printf("Error opening policy file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	n, err := engine.ImportPolicies(context.Background(), f)
	if err != nil {
		fmt.Printf("Import failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Imported %d records from %s\n", n, *filePath)
}
