package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/liut/parley/htdocs"
	"github.com/liut/parley/pkg/services/audio"
	"github.com/liut/parley/pkg/services/chat"
	"github.com/liut/parley/pkg/services/inference"
	"github.com/liut/parley/pkg/services/objstore"
	"github.com/liut/parley/pkg/services/stores"
	"github.com/liut/parley/pkg/settings"
	"github.com/liut/parley/pkg/web"
)

func main() {
	app := &cli.App{
		Name:    settings.Name,
		Usage:   "chat with a remote inference API by text or voice",
		Version: settings.Current.Version,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "debug", Usage: "development logging and route dump"},
		},
		Before: setupLogger,
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the web front-end",
				Action: serve,
			},
			{
				Name:      "check",
				Usage:     "validate a recorded WAV file the way a submission would",
				ArgsUsage: "<file.wav>",
				Action:    check,
			},
			{
				Name:  "usage",
				Usage: "show environment settings",
				Action: func(*cli.Context) error {
					return settings.Usage()
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogger(c *cli.Context) error {
	if c.Bool("debug") {
		settings.Current.Develop = true
	}
	var zlogger *zap.Logger
	if settings.InDevelop() {
		zlogger, _ = zap.NewDevelopment()
	} else {
		zlogger, _ = zap.NewProduction()
	}
	zap.ReplaceGlobals(zlogger)
	return nil
}

func serve(c *cli.Context) error {
	sugar := zap.S()
	cfg := settings.Current

	uploader, err := objstore.New(c.Context, objstore.Config{
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		AccessKey: cfg.AwsAccessKey,
		SecretKey: cfg.AwsSecretKey,
		Endpoint:  cfg.S3Endpoint,
		Timeout:   cfg.UploadTimeout,
	})
	if err != nil {
		return err
	}
	orch := chat.New(audio.NewValidator(), uploader, inference.NewClient(cfg.APITimeout))

	preset, err := stores.LoadPreset()
	if err != nil {
		sugar.Infow("preset fallback to defaults", "err", err)
	}

	srv, err := web.New(web.Config{
		Addr:       cfg.HTTPListen,
		Debug:      settings.InDevelop(),
		DocHandler: http.FileServer(http.FS(htdocs.FS())),
		Chat:       orch,
		Sessions:   stores.NewSessions(cfg.SessionIdle),
		Preset:     preset,
		CookieName: cfg.CookieName,
		CookiePath: cfg.CookiePath,
		MaxUpload:  settings.MaxUploadBytes(),
		RateLimit:  cfg.RateLimit,
		Redis:      stores.SgtRC(),
	})
	if err != nil {
		return err
	}

	idleClosed := make(chan struct{})
	ctx := context.Background()
	go func() {
		quit := make(chan os.Signal, 2)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		sugar.Info("shuting down server...")
		sctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		if err := srv.Stop(sctx); err != nil {
			sugar.Infow("server shutdown:", "err", err)
		}
		close(idleClosed)
	}()

	if err := srv.Serve(ctx); err != nil {
		sugar.Infow("serve fail", "err", err)
		return err
	}

	<-idleClosed
	return nil
}

func check(c *cli.Context) error {
	path := c.Args().First()
	if len(path) == 0 {
		return cli.Exit("missing WAV file argument", 2)
	}
	info, err := audio.NewValidator().Probe(path)
	if info != nil {
		b, _ := json.MarshalIndent(info, "", "  ")
		fmt.Println(string(b))
	}
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	fmt.Println("ok")
	return nil
}
