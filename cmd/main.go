package main

import (
	"os"
	"os/signal"
	"syscall"

	"optionsmetrics/internal/bootstrap"
)

func main() {
	c := bootstrap.NewContainer()
	c.MustInit()

	if c.Config.App.RunOnce {
		err := c.RunOnce()
		c.Shutdown()
		if err != nil {
			c.Log.Error("cycle finished with failures", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := c.Start(); err != nil {
		c.Log.Error("failed to start", "error", err)
		c.Shutdown()
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		c.Log.Info("received shutdown signal", "signal", sig.String())
	case <-c.Context.Done():
		c.Log.Warn("context cancelled, shutting down")
	}

	c.Shutdown()
}
