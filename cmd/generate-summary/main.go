package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mmdatafocus/txsummary/config"
	"github.com/mmdatafocus/txsummary/models"
	"github.com/mmdatafocus/txsummary/models/reports"
	"github.com/mmdatafocus/txsummary/workflow"
)

const (
	exitOK           = 0
	exitFatal        = 1
	exitBucketErrors = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	settings, err := config.LoadSettings()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFatal
	}

	scopeFlag := flag.String("scope", settings.SummaryScope, "merchant (one summary set per merchant) or global (one set for all transactions)")
	merchantIDs := flag.String("merchant-id", "", "Optional: comma separated merchant ids to rebuild. If empty, rebuilds every merchant.")
	concurrency := flag.Int("concurrency", settings.SummaryConcurrency, "Merchant x mode units processed in parallel")
	noPrune := flag.Bool("no-prune", !settings.SummaryPruneStale, "Keep summaries whose transactions no longer exist")
	flag.Parse()

	if err := config.SetLogLevel(settings.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFatal
	}
	logger := config.GetLogger()

	scope, err := models.ParseSummaryScope(*scopeFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFatal
	}
	if scope == models.SummaryScopeGlobal && strings.TrimSpace(*merchantIDs) != "" {
		fmt.Fprintln(os.Stderr, "-merchant-id cannot be combined with -scope=global")
		return exitFatal
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancelConnect := context.WithTimeout(ctx, 2*time.Minute)
	defer cancelConnect()
	db, err := config.ConnectDatabaseWithRetry(connectCtx, settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database not available: %v\n", err)
		return exitFatal
	}
	store := models.NewStore(db)
	defer store.Close()

	// Ensure schema is up-to-date (creates transaction_summaries if missing).
	if !settings.SkipMigrations {
		if err := models.MigrateTable(db); err != nil {
			fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
			return exitFatal
		}
	}

	rdb, locker, err := config.ConnectRedisWithRetry(connectCtx, settings.RedisAddress)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis not available: %v\n", err)
		return exitFatal
	}
	if rdb != nil {
		defer rdb.Close()
	}

	release, err := workflow.AcquireRunLock(ctx, locker, settings.SummaryLockTTL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot start: %v\n", err)
		return exitFatal
	}
	defer release()

	m := workflow.NewMaterializer(store, logger)
	m.Scope = scope
	m.Concurrency = *concurrency
	m.PruneStale = !*noPrune
	m.Statuses = settings.SummaryStatuses
	m.MerchantIds = config.SplitAndTrim(*merchantIDs)
	m.OnProgress = func(p workflow.Progress) {
		merchant := p.MerchantId
		if merchant == "" {
			merchant = "(global)"
		}
		fmt.Printf("merchant=%s mode=%s written=%d failed=%d pruned=%d\n", merchant, p.Mode, p.Written, p.Failed, p.Pruned)
	}

	fmt.Printf("Generating transaction summaries scope=%s concurrency=%d prune=%t\n", scope, m.Concurrency, m.PruneStale)
	report, err := m.MaterializeAll(ctx)
	if report != nil {
		fmt.Printf("run=%s merchants=%d buckets_written=%d buckets_pruned=%d bucket_errors=%d duration=%s\n",
			report.RunId, report.MerchantsProcessed, report.BucketsWritten, report.BucketsPruned, len(report.Errors),
			report.FinishedAt.Sub(report.StartedAt).Round(time.Second))
		for _, be := range report.Errors {
			fmt.Fprintf(os.Stderr, "bucket error: %v\n", be)
		}
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "interrupted; completed buckets are kept, re-run to finish")
		} else {
			fmt.Fprintf(os.Stderr, "summary generation failed: %v\n", err)
		}
		return exitFatal
	}

	if rdb != nil {
		if err := reports.NewRedisCache(rdb, settings.CacheTTL).Invalidate(ctx); err != nil {
			config.LogError(logger, "generate-summary", "run", "Invalidate", nil, err)
		}
	}
	notifyRun(ctx, settings, report)

	if len(report.Errors) > 0 {
		return exitBucketErrors
	}
	fmt.Println("Summary generation complete")
	return exitOK
}

// notifyRun tells API instances to drop cached summaries. Failures are
// logged only; the summaries are already written.
func notifyRun(ctx context.Context, settings config.Settings, report *workflow.MaterializeReport) {
	if settings.SummaryRunsTopic == "" {
		return
	}
	logger := config.GetLogger()
	client, err := config.NewPubSubClient(ctx, settings.PubSubProjectID, settings.PubSubCredentialsJSON)
	if err != nil {
		config.LogError(logger, "generate-summary", "notifyRun", "NewPubSubClient", nil, err)
		return
	}
	defer client.Close()

	id, err := workflow.PublishSummaryRun(ctx, client, settings.SummaryRunsTopic, workflow.NewSummaryRunMessage(report))
	if err != nil {
		config.LogError(logger, "generate-summary", "notifyRun", "PublishSummaryRun", report.RunId, err)
		return
	}
	fmt.Printf("published run notification message_id=%s\n", id)
}
