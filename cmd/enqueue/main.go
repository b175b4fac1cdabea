// enqueue führt einen einzelnen Harvest-Lauf aus und reiht die Analyse-Flows ein.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"hn-digest/app"
	"hn-digest/config"

	"go.uber.org/zap"
)

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Fehler beim Laden der Konfiguration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, logging)
	if err != nil {
		logging.Fatal("Start fehlgeschlagen", zap.Error(err))
	}
	defer a.Close()

	pipeline, err := a.Pipeline(ctx)
	if err != nil {
		logging.Fatal("Pipeline konnte nicht erstellt werden", zap.Error(err))
	}

	report, err := pipeline.RunHarvest(ctx)
	if err != nil {
		logging.Fatal("Harvest fehlgeschlagen", zap.Error(err))
	}
	logging.Info("Harvest erfolgreich abgeschlossen.",
		zap.Int("candidates", report.Candidates), zap.Int("skipped", report.Skipped),
		zap.Int("submitted", report.Submitted), zap.Int("failed", report.Failed))
}
