package main

import (
	"context"
	"encoding/base64"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/ebelyak/sealwire/api"
	"github.com/ebelyak/sealwire/cache/redis"
	"github.com/ebelyak/sealwire/store"
	"github.com/ebelyak/sealwire/store/dynamo"
	"github.com/ebelyak/sealwire/store/sqlite"
)

const DynamoDBTable = "Sealwire"

func main() {
	ctx := context.Background()
	devMode := os.Getenv("DEV_MODE") == "true"

	if level, err := log.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(level)
	}
	log.SetFormatter(&log.JSONFormatter{})

	var messageStore store.MessageStore
	if sqlitePath := os.Getenv("SQLITE_PATH"); sqlitePath != "" {
		sqliteStore, err := sqlite.NewSQLiteMessageStore(sqlitePath)
		if err != nil {
			log.Fatalf("Failed to create sqlite store: %v", err)
		}
		defer sqliteStore.Close()
		messageStore = sqliteStore
	} else {
		dynamoStore, err := dynamo.NewDynamoMessageStore(ctx, DynamoDBTable, devMode, os.Getenv("DYNAMODB_ENDPOINT"))
		if err != nil {
			log.Fatalf("Failed to create dynamodb store: %v", err)
		}
		messageStore = dynamoStore
	}

	sealwireCache, err := redis.NewRedisSealwireCache(ctx, devMode, os.Getenv("REDIS_ENDPOINT"))
	if err != nil {
		log.Fatalf("Failed to create redis cache: %v", err)
	}

	jwtSecret, err := base64.StdEncoding.DecodeString(os.Getenv("JWT_SECRET"))
	if err != nil || len(jwtSecret) == 0 {
		log.Fatalf("JWT_SECRET must be non-empty base64: %v", err)
	}

	shutdownCtx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	sealwireApi := api.NewSealwireAPI(messageStore, sealwireCache, jwtSecret, shutdownCtx)

	mux := http.NewServeMux()
	sealwireApi.RegisterRoutes(mux, os.Getenv("ALLOWED_ORIGIN"))

	hostPort := "8080"
	if p := os.Getenv("HOST_PORT"); p != "" {
		hostPort = p
	}
	log.Infof("Starting server on host port: %s", hostPort)
	log.Fatal(http.ListenAndServe(":"+hostPort, mux))
}
