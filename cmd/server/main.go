package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"matchfabric/internal/agent"
	"matchfabric/internal/api"
	"matchfabric/internal/broker"
	"matchfabric/internal/connector"
	"matchfabric/internal/creator"
	"matchfabric/internal/ezauth"
	"matchfabric/internal/matchmaking"
	"matchfabric/internal/ranking"
	"matchfabric/internal/redis"
	"matchfabric/internal/state"
)

func main() {
	config := LoadConfig()
	ctx := context.Background()

	rdb, err := redis.New(config.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()

	comm, err := broker.Connect(config.AMQPURL, broker.DefaultQueues())
	if err != nil {
		log.Fatalf("Failed to open broker channel: %v", err)
	}
	defer comm.Close()

	store := state.NewStore(rdb.Client)
	authClient := ezauth.NewClient(config.EZAuthURL)
	rankClient := ranking.NewClient(config.RankingURL, config.RankingAPIKey)

	// Match pipeline: sweep forms proposals, the aggregator assembles them,
	// the creator hands them to the game servers.
	aggregator := state.NewAggregator(store)
	creator.New(store, comm).Register(ctx, aggregator)
	go aggregator.Run(ctx)

	sweeper := matchmaking.NewSweeper(store, matchmaking.DefaultConfig())
	go sweeper.Run(ctx)

	gamesAgent := agent.New(store, comm, rankClient, agent.Options{
		DisableRanking: config.DisableRanking,
	})
	if err := gamesAgent.Run(ctx, comm); err != nil {
		log.Fatalf("Failed to start games agent: %v", err)
	}

	notifier := connector.NewNotifier(store)
	notifier.Watch(ctx)

	wsServer := connector.NewServer(store, authClient, rankClient, notifier, connector.Options{
		DisableAuth: config.DisableAuth,
		DisableELO:  config.DisableELO,
		SearcherTTL: config.SearcherTTL,
	})

	// Set Gin mode based on environment
	if config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	corsConfig := cors.Config{
		AllowOriginFunc: func(origin string) bool {
			return true // Allow all origins
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "X-Requested-With", "Accept", "Origin"},
		ExposeHeaders:    []string{"Content-Length", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           86400 * time.Second,
	}
	r.Use(cors.New(corsConfig))

	r.GET("/health", func(c *gin.Context) {
		if err := rdb.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api.New(store, authClient).Register(r)

	// WebSocket endpoint (handles auth internally)
	r.GET("/ws/match", wsServer.HandleWebSocket)

	addr := config.HostAddr + ":" + config.ServerPort
	log.Printf("Server starting on %s", addr)
	log.Fatal(r.Run(addr))
}
