package http

import (
	"context"
	"errors"
	"fmt"
	gohttp "net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	container "github.com/thehyperflames/dicontainer-go"

	"github.com/hxuan190/hybrid-router/internal/config"
	"github.com/hxuan190/hybrid-router/internal/http/httputil"
	"github.com/hxuan190/hybrid-router/internal/http/middlewares"
	"github.com/hxuan190/hybrid-router/internal/services"
	"github.com/hxuan190/hybrid-router/internal/services/ledger"
	"github.com/hxuan190/hybrid-router/internal/services/router"
	"github.com/hxuan190/hybrid-router/internal/services/settlement"
	"github.com/hxuan190/hybrid-router/internal/services/venue"
)

const (
	API_VERSION  = "v1"
	HTTP_SERVICE = "http-service"

	limiterSweepInterval = time.Minute
)

type HTTPService struct {
	container.BaseDIInstance
	logger *services.ServiceLogger

	rateLimiter *middlewares.RateLimiter
	server      *gohttp.Server
	conf        *config.GeneralConfig
	stopSweep   chan struct{}

	handlers []httputil.IHttpHandler
}

func (svc *HTTPService) ID() string {
	return HTTP_SERVICE
}

func (svc *HTTPService) Configure(c container.IContainer) error {
	svc.logger = services.NewServiceLogger(svc)
	svc.conf = c.GetConfig(config.GENERAL_CONFIG_KEY).(*config.GeneralConfig)
	if svc.conf == nil {
		return errors.New("invalid server config")
	}

	routerSvc := c.Instance(router.ROUTER_SERVICE).(*router.Service)
	ledgerSvc := c.Instance(ledger.LEDGER_SERVICE).(*ledger.Service)
	settlementSvc := c.Instance(settlement.SETTLEMENT_SERVICE).(*settlement.Service)
	venueSvc := c.Instance(venue.VENUE_SERVICE).(*venue.Service)

	svc.rateLimiter = middlewares.NewRateLimiter(svc.conf.RateLimit, svc.conf.RateBurst)

	var bookAdmin BookAdmin
	if local := venueSvc.LocalBook(); local != nil {
		bookAdmin = local
	}
	svc.handlers = []httputil.IHttpHandler{
		NewOrderHandler(routerSvc, ledgerSvc.Ledger()),
		NewFillHandler(ledgerSvc.Ledger()),
		NewRouteHandler(routerSvc),
		NewSettlementHandler(settlementSvc.Coordinator()),
		NewBookHandler(venueSvc.Book(), bookAdmin),
	}
	return nil
}

// NewEngine builds the gin engine with middlewares, probes and every handler
// mounted under /api/v1.
func NewEngine(limiter *middlewares.RateLimiter, handlers ...httputil.IHttpHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	corsConf := cors.DefaultConfig()
	corsConf.AllowAllOrigins = true
	corsConf.AddAllowHeaders("Authorization")
	r.Use(cors.New(corsConf))

	r.Use(middlewares.MetricsMiddleware())
	if limiter != nil {
		r.Use(limiter.RateLimitMiddleware())
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(gohttp.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("api")
	pub := api.Group(API_VERSION)
	admin := api.Group(fmt.Sprintf("%s/admin", API_VERSION))

	for _, h := range handlers {
		h.SetRoutes(pub.Group(h.Root()), admin.Group(h.Root()))
	}
	return r
}

func (svc *HTTPService) Start() error {
	if svc.conf.Env != config.DevEnv {
		gin.SetMode(gin.ReleaseMode)
	}
	svc.server = &gohttp.Server{
		Addr:              svc.conf.HTTPHost + ":" + svc.conf.HTTPPort,
		Handler:           NewEngine(svc.rateLimiter, svc.handlers...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	svc.stopSweep = make(chan struct{})
	go svc.sweepLimiter()

	svc.logger.Info().Str("host", svc.conf.HTTPHost).Str("port", svc.conf.HTTPPort).Msg("http server started")
	if err := svc.server.ListenAndServe(); err != nil && err != gohttp.ErrServerClosed {
		return err
	}
	return nil
}

func (svc *HTTPService) sweepLimiter() {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-svc.stopSweep:
			return
		case <-ticker.C:
			if n := svc.rateLimiter.Sweep(); n > 0 {
				svc.logger.Debug().Int("clients", n).Msg("dropped idle rate limit buckets")
			}
		}
	}
}

func (svc *HTTPService) Stop() error {
	if svc.stopSweep != nil {
		close(svc.stopSweep)
	}
	if svc.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := svc.server.Shutdown(ctx); err != nil {
		svc.logger.Error().Err(err).Msg("failed to stop http server")
		return err
	}
	svc.logger.Info().Msg("http server stopped gracefully")
	return nil
}
