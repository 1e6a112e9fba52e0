package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/HSouheill/barrim_referral/config"
	"github.com/HSouheill/barrim_referral/controllers"
	"github.com/HSouheill/barrim_referral/metrics"
	"github.com/HSouheill/barrim_referral/middleware"
	"github.com/HSouheill/barrim_referral/repositories"
	"github.com/HSouheill/barrim_referral/routes"
	"github.com/HSouheill/barrim_referral/services"
	"github.com/HSouheill/barrim_referral/utils"
)

// CustomValidator is a custom validator for Echo
type CustomValidator struct {
	validator *validator.Validate
}

// Validate validates the request body
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

func main() {
	settings, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := config.NewLogger(settings.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, settings, logger)
	if err != nil {
		logger.Fatal("storage unavailable", zap.String("driver", settings.Driver), zap.Error(err))
	}

	redisClient := config.ConnectRedis(ctx, settings, logger)
	overviewCache := services.NewRedisOverviewCache(redisClient, logger)

	currency := utils.Currency{Code: settings.Currency, MinorUnits: settings.CurrencyMinorUnits}
	networkService := services.NewNetworkService(store.Network, logger, settings.MaxDescendantDepth)
	rateService := services.NewRateConfigService(store.Rates, logger)
	commissionService := services.NewCommissionService(networkService, rateService, store.Ledger, currency, logger)
	analyticsService := services.NewAnalyticsService(networkService, store.Ledger, overviewCache, settings.AnalyticsCacheTTL, logger)

	seed, err := config.LoadRateConfigSeed(settings.RateConfigSeedFile)
	if err != nil {
		logger.Fatal("rate config seed", zap.Error(err))
	}
	seeded, err := rateService.Seed(ctx, seed)
	if err != nil {
		logger.Fatal("seed rate config", zap.Error(err))
	}
	if seeded {
		logger.Info("seeded initial rate configuration", zap.Int("maxLevels", seed.MaxLevels))
	}

	scheduler := services.NewScheduler(logger)
	if err := scheduler.Add(settings.AnalyticsRefreshCron, "analytics-refresh", analyticsService.RefreshOverview); err != nil {
		logger.Fatal("scheduler", zap.Error(err))
	}
	scheduler.Start()

	// Create a new Echo instance
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: utils.NewValidator()}

	// Initialize rate limiter
	rateLimiter := middleware.NewRateLimiter()
	go rateLimiter.Cleanup(ctx, time.Minute)

	// Middleware
	e.Use(echoMiddleware.Logger())
	e.Use(echoMiddleware.Recover())
	e.Use(metrics.Middleware())
	e.Use(middleware.CORS(middleware.AllowedOrigins(settings.AllowedOrigins)))
	e.Use(middleware.SecurityHeaders())
	e.Use(rateLimiter.RateLimit())
	e.Use(httpsRedirect())

	routes.SetupRoutes(e, settings.JWTSecret, routes.Controllers{
		Health:     controllers.NewHealthController(settings.Driver, redisClient != nil),
		Members:    controllers.NewMemberController(networkService, commissionService, settings.PublicBaseURL, logger),
		Commission: controllers.NewCommissionController(commissionService, logger),
		Analytics:  controllers.NewAnalyticsController(analyticsService, logger),
		Rates:      controllers.NewRateConfigController(rateService, logger),
	})

	go func() {
		logger.Info("listening", zap.String("port", settings.Port), zap.String("driver", settings.Driver))
		if err := e.Start(":" + settings.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	scheduler.Stop(shutdownCtx)
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if err := store.Close(shutdownCtx); err != nil {
		logger.Error("storage shutdown", zap.Error(err))
	}
}

// openStore connects the storage backend selected by STORE_DRIVER.
func openStore(ctx context.Context, s *config.Settings, log *zap.Logger) (*repositories.Store, error) {
	switch s.Driver {
	case config.DriverMemory:
		log.Warn("using in-memory storage; data is lost on restart")
		return repositories.NewMemoryStore(), nil
	case config.DriverPostgres:
		db, err := config.ConnectPostgres(ctx, s.PostgresDSN, log)
		if err != nil {
			return nil, err
		}
		return repositories.NewPostgresStore(db), nil
	default:
		client, err := config.ConnectDB(ctx, s, log)
		if err != nil {
			return nil, err
		}
		return repositories.NewMongoStore(client, s.DBName), nil
	}
}

func httpsRedirect() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get("X-Forwarded-Proto") == "http" {
				return c.Redirect(http.StatusMovedPermanently, "https://"+c.Request().Host+c.Request().RequestURI)
			}
			return next(c)
		}
	}
}
