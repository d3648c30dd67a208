package main

import (
	"context"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"messaging-service/internal/accounts"
	"messaging-service/internal/calls"
	"messaging-service/internal/db"
	"messaging-service/internal/handlers"
	"messaging-service/internal/messaging"
	"messaging-service/internal/middleware"
	"messaging-service/internal/observability"
	"messaging-service/internal/presence"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/ws"
)

func main() {
	ctx := context.Background()

	serviceName := getEnv("SERVICE_NAME", "messaging-service")
	environment := getEnv("ENVIRONMENT", "development")

	otlpEndpoint := getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	if otlpEndpoint != "" {
		shutdown, err := observability.InitTracing(ctx, serviceName, otlpEndpoint)
		if err != nil {
			log.Fatalf("failed to init tracing: %v", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Printf("tracing shutdown error: %v", err)
			}
		}()
	}

	database, err := db.Connect()
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	accountsClient := accounts.NewClient(getEnv("ACCOUNTS_BASE_URL", "http://localhost:8081"))

	publisher := rabbitmq.NewPublisher(
		getEnv("AMQP_URL", ""),
		getEnv("AMQP_EXCHANGE", "messaging.events"),
	)
	defer publisher.Close()
	log.Printf("event publisher mode=%s", rabbitmq.PublisherMode(publisher))

	audit := telemetry.NewAuditEmitter(publisher, "audit.messaging", serviceName, environment)

	conversationRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	registry := presence.NewRegistry(accountsClient)
	hub := ws.NewHub()

	engine := messaging.NewEngine(conversationRepo, messageRepo, registry, accountsClient, publisher)
	relay := calls.NewRelay(registry, hub)

	gateway := ws.NewGateway(hub, registry, engine, relay, accountsClient, publisher)

	conversationHandler := handlers.NewConversationHandler(engine, audit)
	messageHandler := handlers.NewMessageHandler(engine, audit)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authMiddleware := middleware.AuthMiddleware(accountsClient)

	router.GET("/conversations", authMiddleware, conversationHandler.List)
	router.POST("/conversations/direct", authMiddleware, conversationHandler.StartDirect)
	router.POST("/conversations/groups", authMiddleware, conversationHandler.CreateGroup)
	router.GET("/conversations/:conversation_id", authMiddleware, conversationHandler.Get)
	router.POST("/conversations/:conversation_id/members", authMiddleware, conversationHandler.AddMembers)
	router.DELETE("/conversations/:conversation_id/members", authMiddleware, conversationHandler.RemoveMembers)
	router.PATCH("/conversations/:conversation_id", authMiddleware, conversationHandler.Rename)
	router.DELETE("/conversations/:conversation_id/me", authMiddleware, conversationHandler.Leave)

	router.GET("/conversations/:conversation_id/messages", authMiddleware, messageHandler.List)
	router.POST("/conversations/:conversation_id/messages", authMiddleware, messageHandler.Send)
	router.POST("/conversations/:conversation_id/read", authMiddleware, messageHandler.MarkRead)
	router.PATCH("/messages/:message_id", authMiddleware, messageHandler.Edit)
	router.DELETE("/messages/:message_id", authMiddleware, messageHandler.Delete)
	router.GET("/messages/unread", authMiddleware, messageHandler.UnreadCount)
	router.GET("/conversations/:conversation_id/unread", authMiddleware, messageHandler.ConversationUnreadCount)

	router.GET("/ws", gateway.Handle)

	port := getEnv("PORT", "8083")
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
