package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/cpu"

	"twitchtmi/client"
	"twitchtmi/config"
	"twitchtmi/irc"
	"twitchtmi/pkg/logger"
)

const configPath = "config.json"

var startApp = time.Now()

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	manager, err := config.New(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := manager.Get()

	log := logger.NewWith(logger.Options{
		Level:    cfg.App.LogLevel,
		FilePath: cfg.App.LogFile,
	})

	opts := manager.ClientOptions()
	opts.Logger = log
	c := client.New(opts)

	channelLogs := make(map[string]logger.Logger, len(cfg.Channels))
	for _, channel := range cfg.Channels {
		channelLogs[channel] = logger.NewPrefixedLogger(log, strings.TrimPrefix(channel, "#"))
	}
	chanLog := func(channel string) logger.Logger {
		if l, ok := channelLogs[channel]; ok {
			return l
		}
		return log
	}

	c.On("connected", func(args ...any) {
		log.Info("Connected", "server", args[0], "port", args[1])
	})
	c.On("reconnected", func(args ...any) {
		log.Warn("Reconnected after connection loss")
	})
	c.On("disconnected", func(args ...any) {
		log.Warn("Disconnected", "reason", args[0])
	})
	c.On("join", func(args ...any) {
		channel, _ := args[0].(string)
		if self, _ := args[2].(bool); self {
			chanLog(channel).Info("Joined channel")
		}
	})
	c.On("notice", func(args ...any) {
		channel, _ := args[0].(string)
		chanLog(channel).Debug("Server notice", "msgid", args[1], "text", args[2])
	})

	c.OnAsync("message", func(args ...any) {
		channel, _ := args[0].(string)
		tags, _ := args[1].(irc.Tags)
		text, _ := args[2].(string)
		self, _ := args[3].(bool)
		if self {
			return
		}
		handleMessage(c, chanLog(channel), channel, tags, text)
	})

	router := newRouter(c)
	srv := &http.Server{
		Addr:              cfg.App.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server stopped", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	<-ctx.Done()
	log.Info("Shutting down")

	if err := c.Disconnect(); err != nil && !errors.Is(err, client.ErrNotConnected) {
		log.Error("Disconnect failed", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newRouter(c *client.Client) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	pprof.Register(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(ctx *gin.Context) {
		if c.ReadyState() == client.Open {
			ctx.JSON(http.StatusOK, gin.H{"status": "ok", "channels": c.GetChannels()})
			return
		}
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "disconnected"})
	})

	return router
}

func handleMessage(c *client.Client, log logger.Logger, channel string, tags irc.Tags, text string) {
	parts := strings.Fields(text)
	if len(parts) == 0 || !strings.HasPrefix(parts[0], "!") {
		return
	}
	cmd, args := parts[0], parts[1:]

	if cmd == "!stats" {
		if _, _, err := c.Say(channel, statsLine()); err != nil {
			log.Error("Failed to answer !stats", err)
		}
		return
	}

	// moderation relays require mod or broadcaster standing
	if !tags.Bool("mod") && tags.Badges()["broadcaster"] == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var err error
	switch cmd {
	case "!ban":
		if len(args) == 0 {
			return
		}
		_, _, _, err = c.Ban(ctx, channel, args[0], strings.Join(args[1:], " "))
	case "!unban":
		if len(args) == 0 {
			return
		}
		_, _, err = c.Unban(ctx, channel, args[0])
	case "!timeout":
		if len(args) == 0 {
			return
		}
		seconds := 0
		reason := ""
		if len(args) > 1 {
			seconds, _ = strconv.Atoi(args[1])
		}
		if len(args) > 2 {
			reason = strings.Join(args[2:], " ")
		}
		_, _, _, _, err = c.Timeout(ctx, channel, args[0], seconds, reason)
	case "!clear":
		_, err = c.Clear(ctx, channel)
	default:
		return
	}

	if err != nil {
		log.Error("Moderation command failed", err, "command", cmd)
		return
	}
	log.Info("Moderation command applied", "command", cmd, "issuer", tags.String("display-name"))
}

func statsLine() string {
	uptime := time.Since(startApp).Truncate(time.Second)

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	usage := 0.0
	if percent, err := cpu.Percent(0, false); err == nil && len(percent) > 0 {
		usage = percent[0]
	}
	return fmt.Sprintf("up %v | CPU %.2f%% | RAM %d MB", uptime, usage, m.Sys/1024/1024)
}
