package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/makala-pay/makala_pay/internal/category"
	"github.com/makala-pay/makala_pay/internal/config"
	"github.com/makala-pay/makala_pay/internal/funding"
	"github.com/makala-pay/makala_pay/internal/ledger"
	"github.com/makala-pay/makala_pay/internal/middleware"
	"github.com/makala-pay/makala_pay/internal/payment"
	"github.com/makala-pay/makala_pay/internal/payout"
	"github.com/makala-pay/makala_pay/internal/trigger"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Services bundles the wired domain services so main can hand them to the
// pollers as well.
type Services struct {
	Ledgers  *ledger.Service
	Fundings *funding.Service
	Payouts  *payout.Service
	Triggers *trigger.Service
}

// Setup configures middlewares, all application routes, and the domain
// services behind them.
func Setup(app *fiber.App, d Deps) (*Services, error) {
	if !isDev(d.Cfg.AppEnv) {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	svcs := buildServices(d)

	ledgerHandler := ledger.NewHandler(svcs.Ledgers)
	fundingHandler := funding.NewHandler(svcs.Fundings, svcs.Ledgers)
	payoutHandler := payout.NewHandler(svcs.Payouts, svcs.Ledgers, svcs.Fundings.Store())
	triggerHandler := trigger.NewHandler(svcs.Triggers)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	admin := api.Group("/admin", middleware.AdminKey(d.Cfg.AdminKeyHash))
	if d.Cache != nil {
		admin.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	RegisterLedgerRoutes(admin, ledgerHandler)
	RegisterFundingRoutes(admin, fundingHandler)
	RegisterPayoutRoutes(admin, payoutHandler)
	RegisterTriggerRoutes(admin, triggerHandler)

	return svcs, nil
}

// buildServices wires Postgres-backed services, or in-memory ones when no
// database is configured (development only).
func buildServices(d Deps) *Services {
	var (
		ledgerStore   ledger.Store
		categoryStore category.Store
		fundingStore  funding.Store
		payoutStore   payout.Store
		triggerStore  trigger.Store
	)
	if d.DB != nil {
		ledgerStore = ledger.NewPostgresStore(d.DB)
		categoryStore = category.NewPostgresStore(d.DB)
		fundingStore = funding.NewPostgresStore(d.DB)
		payoutStore = payout.NewPostgresStore(d.DB)
		triggerStore = trigger.NewPostgresStore(d.DB)
	} else {
		ledgerStore = ledger.NewMemoryStore()
		categoryStore = category.NewMemoryStore()
		fundingStore = funding.NewMemoryStore()
		payoutStore = payout.NewMemoryStore()
		triggerStore = trigger.NewMemoryStore()
	}

	ledgers := ledger.NewService(ledgerStore, categoryStore, d.Cfg.Currency)
	tickets := payment.NewLoggerTickets(d.Logger)
	fundings := funding.NewService(ledgers, fundingStore, &funding.Strategies{
		Ach:  funding.StaticAchGateway{},
		Card: funding.StaticCardGateway{},
	}, tickets, d.Logger)
	payouts := payout.NewService(ledgers, payoutStore, &payout.Strategies{
		Refunds: payout.StaticRefundGateway{},
	}, tickets, d.Logger)
	triggers := trigger.NewService(triggerStore, ledgers, nil)

	return &Services{Ledgers: ledgers, Fundings: fundings, Payouts: payouts, Triggers: triggers}
}

func isDev(env string) bool {
	switch strings.ToLower(env) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}
