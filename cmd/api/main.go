package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/storefront-checkout/internal/aws"
	"github.com/imrishuroy/storefront-checkout/internal/config"
	"github.com/imrishuroy/storefront-checkout/internal/customers"
	"github.com/imrishuroy/storefront-checkout/internal/handlers"
	"github.com/imrishuroy/storefront-checkout/internal/idempotency"
	"github.com/imrishuroy/storefront-checkout/internal/logging"
	"github.com/imrishuroy/storefront-checkout/internal/orders"
	"github.com/imrishuroy/storefront-checkout/internal/payments"
	"github.com/imrishuroy/storefront-checkout/internal/validation"
)

func setupRouter(cfg config.Config, clients *aws.Clients) *gin.Engine {
	var metrics *aws.Metrics
	if cfg.Metrics.Enabled {
		metrics = aws.NewMetrics(clients.CloudWatch, cfg.Metrics.Namespace, "api")
	}

	v := validation.New(validation.Options{
		TaxRate:     cfg.Pricing.TaxRate,
		VerifyTotal: cfg.Pricing.VerifyTotal,
	})
	customerStore := customers.NewStore(clients.DynamoDB, cfg.Tables.Customers, cfg.Tables.CustomerEmails)
	orderStore := orders.NewStore(clients.DynamoDB, cfg.Tables.Orders, cfg.Tables.OrderItems)

	deps := payments.Deps{
		Customers: customerStore,
		Orders:    orderStore,
		Sessions:  payments.NewStore(clients.DynamoDB, cfg.Tables.PaymentSessions),
		Gateway:   payments.NewGatewayClient(cfg.Gateway.SandboxBaseURL, cfg.Gateway.Timeout.Duration),
		Metrics:   metrics,
		Validate:  v,
	}
	if cfg.QueueURL != "" {
		deps.Events = aws.NewPublisher(clients.SQS, cfg.QueueURL)
	} else {
		slog.Warn("ORDERS_QUEUE_URL not set; payment confirmations will not advance orders")
	}

	ordersHandler := &handlers.OrdersHandler{
		Orders:      orders.NewService(customerStore, orderStore, v, metrics),
		Idempotency: idempotency.NewStore(clients.DynamoDB, cfg.Tables.Idempotency, cfg.IdempotencyTTL.Duration),
	}
	paymentsHandler := &handlers.PaymentsHandler{
		Payments: payments.NewService(deps, payments.Settings{
			MerchantID:    cfg.Gateway.MerchantID,
			Password:      cfg.Gateway.Password,
			Currency:      cfg.Gateway.Currency,
			Vendor:        cfg.Gateway.Vendor,
			ConfirmPath:   cfg.Gateway.ConfirmPath,
			PayWithCharge: cfg.Gateway.PayWithCharge,
		}),
		ConfirmPath: cfg.Gateway.ConfirmPath,
	}

	return handlers.NewRouter(ordersHandler, paymentsHandler)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logging.Init("api", cfg.LogLevel)
	gin.SetMode(gin.ReleaseMode)

	clients, err := aws.NewClients(context.Background(), aws.Settings{
		Region:           cfg.AWS.Region,
		EndpointOverride: cfg.AWS.EndpointOverride,
	})
	if err != nil {
		slog.Error("failed to init aws clients", "error", err)
		os.Exit(1)
	}

	r := setupRouter(cfg, clients)

	// RUN_LOCAL=true serves plain HTTP for development.
	if cfg.RunLocal {
		slog.Info("running local server", "addr", cfg.Addr)
		if err := r.Run(cfg.Addr); err != nil {
			slog.Error("local server stopped", "error", err)
			os.Exit(1)
		}
		return
	}

	adapter := ginadapter.New(r)
	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
