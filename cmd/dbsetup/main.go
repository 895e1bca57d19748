package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/windowbot/internal/config"
	"github.com/web3guy0/windowbot/model"
	"github.com/web3guy0/windowbot/storage"
)

// dbsetup migrates the audit schema and optionally imports a probability
// matrix file as a snapshot.
//
//	dbsetup                          migrate and report
//	dbsetup -matrix output/matrix.json -activate
func main() {
	matrixPath := flag.String("matrix", "", "matrix JSON file to import as a snapshot")
	name := flag.String("name", "", "snapshot name (defaults to the file name)")
	activate := flag.Bool("activate", true, "make the imported snapshot the active one")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	log.Info().Msg("🔌 Connecting to database...")
	db, err := storage.Open(cfg.Secrets.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Connection error")
	}
	defer db.Close()
	log.Info().Msg("✅ Schema migrated")

	if *matrixPath != "" {
		m, err := model.LoadMatrixFile(*matrixPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *matrixPath).Msg("Matrix import failed")
		}
		snapName := *name
		if snapName == "" {
			snapName = strings.TrimSuffix(filepath.Base(*matrixPath), filepath.Ext(*matrixPath))
		}
		if _, err := db.SaveMatrix(ctx, snapName, m, *activate); err != nil {
			log.Fatal().Err(err).Msg("Matrix import failed")
		}
	}

	if err := report(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("Report failed")
	}
}

func report(ctx context.Context, db *storage.Database) error {
	fmt.Println("\n📋 Database summary:")

	m, err := db.LoadActiveMatrix(ctx)
	switch {
	case errors.Is(err, storage.ErrNoActiveMatrix):
		fmt.Println("  - active matrix: (none, use -matrix to import one)")
	case err != nil:
		return err
	default:
		fmt.Printf("  - active matrix: %d windows, %d populated cells\n", m.TotalWindows, m.PopulatedCells())
	}

	s, err := db.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("  - trade attempts: %d (rejected %d)\n", s.Attempts, s.Rejected)
	fmt.Printf("  - closed positions: %d (wins %d, losses %d, P&L $%s)\n",
		s.Settled, s.Wins, s.Losses, s.TotalPnL.StringFixed(2))

	since := time.Now().Add(-24 * time.Hour)
	outcomes, err := db.Outcomes(ctx, since)
	if err != nil {
		return err
	}
	up := 0
	for _, o := range outcomes {
		if o.Outcome == "UP" {
			up++
		}
	}
	fmt.Printf("  - windows resolved (24h): %d (%d up, %d down)\n", len(outcomes), up, len(outcomes)-up)
	return nil
}
