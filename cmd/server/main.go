// Command server starts the collaborative editing relay.
//
// It reads configuration from flags and COLLAB_-prefixed environment
// variables and serves a websocket endpoint at /ws that clients join with
// ?document=<id>&author=<id> query parameters.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/albertsyd/collabengine/internal/hub"
	"github.com/albertsyd/collabengine/internal/operations"
)

func main() {
	pflag.String("listen", ":8080", "listen address")
	pflag.String("priority", string(operations.PriorityUserID), "insert tie-break strategy: left_wins, right_wins, timestamp, user_id")
	pflag.String("log-level", "info", "log level: debug, info, warn, error")
	pflag.Parse()

	v := viper.New()
	v.SetEnvPrefix("COLLAB")
	v.AutomaticEnv()
	if err := v.BindPFlags(pflag.CommandLine); err != nil {
		slog.Error("failed to bind flags", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log-level"))); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	priority := operations.Priority(v.GetString("priority"))
	switch priority {
	case operations.PriorityLeftWins, operations.PriorityRightWins,
		operations.PriorityTimestamp, operations.PriorityUserID:
	default:
		logger.Error("unknown priority strategy", "priority", string(priority))
		os.Exit(1)
	}

	h := hub.NewHub(priority, logger)
	go h.Run()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		documentID := r.URL.Query().Get("document")
		author := r.URL.Query().Get("author")
		if documentID == "" || author == "" {
			http.Error(w, "document and author query parameters are required", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "error", err)
			return
		}

		client := hub.NewClient(h, conn, documentID, author)
		h.Register(client)
		go client.WritePump()
		go client.ReadPump()
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:    v.GetString("listen"),
		Handler: mux,
	}

	go func() {
		logger.Info("server listening", "addr", server.Addr, "priority", string(priority))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	h.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("shutdown did not complete cleanly", "error", err)
	}
}
