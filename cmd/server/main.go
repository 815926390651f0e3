package main

import (
	"fmt"
	"net/http"
	"os"

	"google.golang.org/appengine"

	"github.com/SplitFi/go-threads/server"
	"github.com/SplitFi/go-threads/service/logger"
	sentryutil "github.com/SplitFi/go-threads/service/sentry"
)

func main() {
	defer sentryutil.RecoverAndRaise(nil)

	server.Init()
	if appengine.IsAppEngine() {
		logger.For(nil).Info("Running in App Engine Mode")
		appengine.Main()
	} else {
		port := "4000"
		if it := os.Getenv("PORT"); it != "" {
			port = it
		}
		logger.For(nil).Infof("Running in Default Mode on :%s", port)
		if err := http.ListenAndServe(fmt.Sprintf(":%s", port), nil); err != nil {
			logger.For(nil).Fatalf("server stopped: %s", err)
		}
	}
}
