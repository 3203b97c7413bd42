package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"

	cfg "github.com/aetherpay/aetherpay-backend/config"
	"github.com/aetherpay/aetherpay-backend/internal/core/ports"
	"github.com/aetherpay/aetherpay-backend/internal/events"
	"github.com/aetherpay/aetherpay-backend/internal/handlers"
	"github.com/aetherpay/aetherpay-backend/internal/usecases"
	"github.com/aetherpay/aetherpay-backend/internal/usecases/repository"
	"github.com/aetherpay/aetherpay-backend/internal/workers"
	"github.com/aetherpay/aetherpay-backend/pkg/database"
)

// Server timeout constants.
const (
	readTimeoutSeconds     = 15
	writeTimeoutSeconds    = 15
	idleTimeoutSeconds     = 60
	shutdownTimeoutSeconds = 5
)

func main() {
	time.Local = time.UTC

	config, err := cfg.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.LogLevel(),
	}))

	logger.Info("starting application",
		"name", config.App.Name,
		"environment", config.App.Environment,
		"rpc_url", config.Blockchain.RPCURL,
		"server_port", config.HTTP.Port,
		"db_enabled", config.DB.Enabled)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Engine components.
	maxAmount, err := decimal.NewFromString(config.Fees.MaxAmount)
	if err != nil {
		logger.Error("invalid max amount in config", "value", config.Fees.MaxAmount)
		log.Fatal(err)
	}

	assetRegistry := usecases.NewAssetRegistry(logger, config.Engine.AdminAddress)
	feeEngine := usecases.NewFeeEngine(config.Fees.PlatformBps, config.Fees.StablePairBps, maxAmount)
	oracle := usecases.NewOracleConsensus(logger, config.Engine.AdminAddress, consensusParams(config))
	fx := usecases.NewFXSettlement(logger, oracle, feeEngine, config.Fees.MaxSlippageBps)

	treasuryWallet, err := usecases.NewTreasuryWallet(logger, config.Blockchain.TreasurySeed)
	if err != nil {
		logger.Error("failed to derive treasury wallet", "error", err)
		log.Fatal(err)
	}

	ethClient, err := ethclient.DialContext(ctx, config.Blockchain.RPCURL)
	if err != nil {
		logger.Error("failed to connect to blockchain RPC", "error", err)
		log.Fatal(err)
	}
	defer ethClient.Close()

	tokenClient := usecases.NewERC20TokenClient(logger, ethClient, treasuryWallet, config.Blockchain.ChainID)

	bus := events.NewBus(logger)
	merchantRegistry := usecases.NewMerchantRegistry(logger, tokenClient, assetRegistry, config.Engine.AdminAddress, config.Fees.DefaultMerchantBps)
	donationRouter := usecases.NewDonationRouter(logger, tokenClient, bus,
		config.Engine.AdminAddress,
		config.Donation.Bps,
		config.Donation.PoolAddress,
		usecases.BadgeThresholds{
			Bronze: decimal.NewFromInt(config.Donation.BronzeThreshold),
			Silver: decimal.NewFromInt(config.Donation.SilverThreshold),
			Gold:   decimal.NewFromInt(config.Donation.GoldThreshold),
		},
		[]string{ports.OrderRegistryCallerID})
	orderRegistry := usecases.NewOrderRegistry(logger, bus, assetRegistry, merchantRegistry, fx, feeEngine, donationRouter, tokenClient, treasuryWallet.Address())

	// Optional Postgres mirror.
	var (
		orderHistory        handlers.OrderHistory
		contributionHistory handlers.ContributionHistory
	)
	if config.DB.Enabled {
		pg, pgErr := database.New(ctx, config.DB.DatabaseURL,
			database.MaxPoolSize(config.DB.PoolMax),
			database.ConnTimeout(time.Duration(config.DB.ConnectTimeout)*time.Second),
			database.HealthCheckPeriod(time.Duration(config.DB.HealthCheckPeriod)*time.Minute),
		)
		if pgErr != nil {
			logger.Error("postgres connection failed", "error", pgErr)
			log.Fatal(pgErr)
		}
		defer pg.Close()

		migrationsPath := findMigrationsPath()
		logger.Info("running database migrations", "path", migrationsPath)
		if err = database.RunMigrations(logger, config.DB.DatabaseURL, migrationsPath); err != nil {
			logger.Error("failed to run database migrations", "error", err)
			log.Fatal(err)
		}

		ordersMirror := repository.NewOrdersMirror(logger, pg)
		contributionsMirror := repository.NewContributionsMirror(logger, pg)
		orderHistory = ordersMirror
		contributionHistory = contributionsMirror

		mirrorSync := workers.NewMirrorSync(logger, bus, orderRegistry, donationRouter, ordersMirror, contributionsMirror)
		go mirrorSync.Start(ctx)
	}

	// Background workers.
	orderExpirer := workers.NewOrderExpirer(logger, orderRegistry,
		time.Duration(config.Workers.SweepIntervalSec)*time.Second)
	go orderExpirer.Start(ctx)

	if config.Workers.ReporterNode != "" {
		sources := parseReporterSources(config.Workers.ReporterSources)
		if len(sources) == 0 {
			logger.Warn("oracle reporter enabled but no sources configured")
		} else {
			if err = oracle.AddNode(config.Engine.AdminAddress, config.Workers.ReporterNode); err != nil {
				logger.Error("failed to register reporter node", "error", err)
				log.Fatal(err)
			}
			reporter := workers.NewOracleReporter(logger, oracle,
				config.Workers.ReporterNode,
				time.Duration(config.Workers.ReporterIntervalSec)*time.Second,
				sources)
			go reporter.Start(ctx)
		}
	}

	// HTTP surface.
	websocketManager := handlers.NewWebSocketManager(logger)
	wsHandler := handlers.NewWebSocketHandler(logger, bus, websocketManager)
	go wsHandler.Start(ctx)

	httpHandler := handlers.NewHTTPHandler(logger,
		orderRegistry, merchantRegistry, oracle, fx, assetRegistry, donationRouter,
		orderHistory, contributionHistory)

	router := mux.NewRouter()
	wsHandler.RegisterRoutes(router)
	httpHandler.RegisterRoutes(router)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Caller"},
		AllowCredentials: true,
	})
	handler := c.Handler(router)

	server := &http.Server{
		Addr:         ":" + config.HTTP.Port,
		Handler:      handler,
		ReadTimeout:  readTimeoutSeconds * time.Second,
		WriteTimeout: writeTimeoutSeconds * time.Second,
		IdleTimeout:  idleTimeoutSeconds * time.Second,
	}

	go func() {
		logger.Info("starting server", "address", server.Addr)
		if err = server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeoutSeconds*time.Second)
	defer shutdownCancel()

	if err = server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		return
	}

	logger.Info("server exited properly")
}

func consensusParams(config *cfg.Config) usecases.ConsensusParams {
	return usecases.ConsensusParams{
		RequiredSubmissions: config.Oracle.RequiredSubmissions,
		Window:              time.Duration(config.Oracle.WindowSeconds) * time.Second,
		MaxDeviationBps:     config.Oracle.MaxDeviationBps,
		AgreementBps:        config.Oracle.AgreementBps,
		MinUpdateInterval:   time.Duration(config.Oracle.MinUpdateIntervalSec) * time.Second,
		MinConfidence:       config.Oracle.MinConfidence,
		MaxStaleness:        time.Duration(config.Oracle.MaxStalenessSec) * time.Second,
		ReputationStart:     config.Oracle.ReputationStart,
		ReputationCap:       config.Oracle.ReputationCap,
		AgreeStep:           config.Oracle.AgreeStep,
		DisagreeStep:        config.Oracle.DisagreeStep,
		SuspendBelow:        config.Oracle.SuspendBelow,
	}
}

// parseReporterSources parses "PAIR=URL,PAIR=URL" into a source map.
func parseReporterSources(raw string) map[string]string {
	sources := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		pair, url, ok := strings.Cut(entry, "=")
		if !ok || pair == "" || url == "" {
			continue
		}
		sources[pair] = url
	}
	return sources
}

func findMigrationsPath() string {
	migrationsPath := "./migrations"
	if workDir, err := os.Getwd(); err == nil {
		if _, err = os.Stat(filepath.Join(workDir, "migrations")); !os.IsNotExist(err) {
			migrationsPath = filepath.Join(workDir, "migrations")
		} else if _, err = os.Stat(filepath.Join(workDir, "..", "migrations")); !os.IsNotExist(err) {
			migrationsPath = filepath.Join(workDir, "..", "migrations")
		}
	}
	return migrationsPath
}
