package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	app "github.com/DexterZero/Spyro-API/internal/app"
	"github.com/DexterZero/Spyro-API/internal/config"
	"github.com/DexterZero/Spyro-API/pkg/logger"
	"github.com/DexterZero/Spyro-API/pkg/metrics"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init(logger.WithWriter(io.Discard))
}

func TestMainFunction(t *testing.T) {
	convey.Convey("Given the node command line", t, func() {
		ctx := context.Background()
		_ = os.Unsetenv("SPYRO_CONFIG")

		convey.Convey("When flags override the configuration", func() {
			f, err := parseFlags([]string{"-vv", "--http-addr", ":9999", "--postgres-url", "postgres://spyro@localhost/spyro"})
			convey.So(err, convey.ShouldBeNil)
			cfg, err := loadConfig(ctx, f)

			convey.Convey("Then the flags win", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(f.verbosity, convey.ShouldEqual, 2)
				convey.So(cfg.LogLevel, convey.ShouldEqual, "debug")
				convey.So(cfg.Addr, convey.ShouldEqual, ":9999")
				convey.So(cfg.Sink.Kind, convey.ShouldEqual, "postgres")
				convey.So(cfg.Sink.URL, convey.ShouldEqual, "postgres://spyro@localhost/spyro")
			})
		})

		convey.Convey("When a config file is named", func() {
			path := filepath.Join(t.TempDir(), "node.yaml")
			convey.So(os.WriteFile(path, []byte("addr: \":7000\"\nqueue_size: 8\n"), 0o600), convey.ShouldBeNil)
			f, err := parseFlags([]string{"--config", path})
			convey.So(err, convey.ShouldBeNil)
			cfg, err := loadConfig(ctx, f)

			convey.Convey("Then it is loaded", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7000")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 8)
			})
		})

		convey.Convey("When the config file is invalid", func() {
			path := filepath.Join(t.TempDir(), "bad.yaml")
			convey.So(os.WriteFile(path, []byte("sink:\n  kind: file\n"), 0o600), convey.ShouldBeNil)
			_, err := loadConfig(ctx, nodeFlags{configPath: path})

			convey.Convey("Then loading fails with ErrInvalidConfig", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When an unknown flag is passed", func() {
			_, err := parseFlags([]string{"--workers", "4"})

			convey.Convey("Then parsing fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "workers")
			})
		})
	})
}

func TestNewMux(t *testing.T) {
	convey.Convey("Given a started service and its mux", t, func() {
		ctx := context.Background()
		m := metrics.New()
		defer m.Close()
		svc := app.New(app.WithConfig(config.New()), app.WithMetrics(m))
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		mux := newMux(ctx, svc, m)

		for _, tc := range []struct {
			path string
			want string
		}{
			{"/healthz", `"status":"ok"`},
			{"/stats", `"instance"`},
			{"/openapi.yaml", "openapi:"},
			{"/metrics", "spyro_ingest_"},
			{"/providers/top", "[]"},
		} {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, http.NoBody))
			convey.So(rec.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(strings.TrimSpace(rec.Body.String()), convey.ShouldContainSubstring, tc.want)
		}
	})
}
