package main

import (
	"context"
	"net/http"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/OE3ANC/m17web-proxy/internal/config"
	"github.com/OE3ANC/m17web-proxy/internal/hub"
	"github.com/OE3ANC/m17web-proxy/internal/resolver"
	"github.com/OE3ANC/m17web-proxy/internal/supervisor"
	"github.com/OE3ANC/m17web-proxy/internal/wsgateway"
	"github.com/gin-gonic/gin"
	"github.com/ztrue/shutdown"
	"k8s.io/klog/v2"
)

func main() {
	os.Exit(start())
}

func start() int {
	cfg := config.GetConfig()
	if cfg.Debug {
		_ = os.Setenv("GIN_MODE", "debug")
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	klog.Infof("m17web-proxy starting, callsign=%s listener=%s", cfg.Callsign, cfg.Listener)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hostfile := resolver.NewHostfileResolver(cfg.HostfileURL)
	sched, err := hostfile.StartPeriodicRefresh(ctx)
	if err != nil {
		klog.Errorf("failed to start hostfile refresh scheduler: %v", err)
		return 1
	}
	defer sched.Shutdown() //nolint:errcheck

	h := hub.New()

	sv := supervisor.New(cfg.Callsign, hostfile, h)
	if err := sv.Start(ctx, cfg.Subscription); err != nil {
		klog.Errorf("failed to start session supervisor: %v", err)
		return 1
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	gateway := wsgateway.New(h)
	gateway.ApplyRoutes(engine)

	srv := &http.Server{
		Addr:    cfg.Listener,
		Handler: engine,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			klog.Errorf("HTTP server error: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			klog.Errorf("HTTP server shutdown error: %v", err)
		}
	}()

	stop := func(sig os.Signal) {
		klog.Infof("shutting down due to %v", sig)
		cancel()

		wg := new(sync.WaitGroup)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sv.Wait()
		}()

		const timeout = 10 * time.Second
		done := make(chan struct{})
		go func() {
			defer close(done)
			wg.Wait()
		}()
		select {
		case <-done:
			klog.Info("shutdown completed")
			os.Exit(0)
		case <-time.After(timeout):
			klog.Error("shutdown timed out")
			os.Exit(1)
		}
	}

	shutdown.AddWithParam(stop)
	shutdown.Listen(syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)

	return 0
}
