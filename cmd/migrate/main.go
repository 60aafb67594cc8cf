package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"certflow/backend/internal/config"
	"certflow/backend/internal/logging"
	"certflow/backend/internal/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// migrate applies the database schema and optionally seeds a demo project so
// a fresh environment has something to run a workflow against.
func main() {
	seed := flag.Bool("seed", false, "insert a demo project and documents after migrating")
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	ctx := context.Background()
	logger := logging.NewLogger()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	if err := repository.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("Failed to apply schema: %v", err)
	}
	logger.Info("Schema applied")

	if *seed {
		if err := seedDemoProject(ctx, pool, logger); err != nil {
			log.Fatalf("Failed to seed demo data: %v", err)
		}
	}
	logger.Info("Migration complete")
}

func seedDemoProject(ctx context.Context, pool *pgxpool.Pool, logger *logging.Logger) error {
	store := repository.NewPostgresProjectStore(pool)

	const projectName = "Demo Rail Door Controller"
	var projectID string
	err := pool.QueryRow(ctx, "SELECT id FROM projects WHERE name = $1", projectName).Scan(&projectID)
	if err == nil {
		logger.Info("Found existing demo project", "id", projectID)
	} else {
		projectID = uuid.New().String()
		if _, err := pool.Exec(ctx,
			"INSERT INTO projects (id, name, industry, framework) VALUES ($1, $2, $3, $4)",
			projectID, projectName, "rail", "EN 50128"); err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		logger.Info("Created demo project", "id", projectID)
	}

	existing, err := store.ListDocuments(ctx, projectID, nil)
	if err != nil {
		return err
	}
	existingNames := make(map[string]bool, len(existing))
	for _, d := range existing {
		existingNames[d.Name] = true
	}

	docs := []struct {
		Name    string
		DocType string
		Content string
	}{
		{
			Name:    "door-controller-concept.md",
			DocType: "system_description",
			Content: "The door controller governs passenger door release on a light rail vehicle. Doors shall remain locked while vehicle speed exceeds 5 km/h. The controller monitors speed via two independent sensors and commands the door actuators over a redundant bus. Loss of both speed sensors shall drive the doors to the locked state within 200 ms.",
		},
		{
			Name:    "door-controller-hazard-log.md",
			DocType: "hazard_log",
			Content: "H-1: Doors open while the vehicle is moving. Severity: catastrophic. Candidate mitigations include dual-channel speed interlock and mechanical latch. H-2: Doors fail to open during evacuation. Severity: critical. Candidate mitigations include manual release handle and battery-backed actuator supply.",
		},
	}

	for _, d := range docs {
		if existingNames[d.Name] {
			logger.Info("Skipping existing document", "name", d.Name)
			continue
		}
		if _, err := pool.Exec(ctx,
			"INSERT INTO documents (id, project_id, name, content, doc_type, uploaded_by) VALUES ($1, $2, $3, $4, $5, $6)",
			uuid.New().String(), projectID, d.Name, d.Content, d.DocType, "seed-script"); err != nil {
			return fmt.Errorf("insert document %s: %w", d.Name, err)
		}
		logger.Info("Seeded document", "name", d.Name)
	}

	logger.Info("Demo project ready", "project_id", projectID)
	return nil
}
