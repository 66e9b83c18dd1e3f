package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mhenrichs/notisync/internal/pkg/cache"
	"github.com/mhenrichs/notisync/internal/pkg/config"
	"github.com/mhenrichs/notisync/internal/pkg/database"
	"github.com/mhenrichs/notisync/internal/pkg/env"
	"github.com/mhenrichs/notisync/internal/pkg/notionapi"
	"github.com/mhenrichs/notisync/internal/pkg/stripeapi"
	"github.com/mhenrichs/notisync/internal/pkg/sweep"
	"github.com/mhenrichs/notisync/internal/pkg/syncer"
)

// syncpage is the operator tool for one-off reconciliation: a single Notion
// page, a single Stripe invoice, or one full sweep, without running the
// service.
func main() {
	pageID := flag.String("page", "", "Notion page id to reconcile")
	invoiceID := flag.String("invoice", "", "Stripe invoice id to reconcile")
	runSweep := flag.Bool("sweep", false, "run one full sweep and exit")
	flag.Parse()

	if *pageID == "" && *invoiceID == "" && !*runSweep {
		flag.Usage()
		os.Exit(2)
	}

	env.SetupEnvFile()
	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	database.SetupDatabase()
	cache.SetupCache()

	stripeClient := stripeapi.New(cfg.StripeAPIKey)
	notionClient := notionapi.New(cfg.NotionSecret, cfg.NotionInvoicesDatabase, cfg.NotionClientsDatabase)
	repo := syncer.NewRepository(database.GetDB())
	dedup := syncer.NewEventDeduper(cache.GetClient(), cfg.EventRetention)
	service := syncer.NewService(stripeClient, notionClient, repo, dedup)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	switch {
	case *runSweep:
		manager := sweep.NewManager(service, stripeClient, notionClient, repo, cfg)
		res, err := manager.RunOnce(ctx, time.Now().Add(-cfg.StartupLookback))
		if err != nil {
			log.Fatalf("sweep failed: %v", err)
		}
		fmt.Printf("sweep done: checked=%d created=%d updated=%d unchanged=%d archived=%d skipped=%d failed=%d\n",
			res.Checked, res.Created, res.Updated, res.Unchanged, res.Archived, res.Skipped, res.Failed)

	case *pageID != "":
		page, err := notionClient.GetInvoicePage(ctx, *pageID)
		if err != nil {
			log.Fatalf("fetch page %s: %v", *pageID, err)
		}
		if page.StripeID == "" {
			log.Fatalf("page %s has no Stripe ID property", *pageID)
		}
		outcome, err := service.SyncInvoice(ctx, page.StripeID)
		if err != nil {
			log.Fatalf("sync invoice %s: %v", page.StripeID, err)
		}
		fmt.Printf("invoice %s: %s\n", page.StripeID, outcome)

	default:
		outcome, err := service.SyncInvoice(ctx, *invoiceID)
		if err != nil {
			log.Fatalf("sync invoice %s: %v", *invoiceID, err)
		}
		fmt.Printf("invoice %s: %s\n", *invoiceID, outcome)
	}
}
