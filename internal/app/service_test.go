package service_test

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DexterZero/Spyro-API/internal/adapters/sink"
	"github.com/DexterZero/Spyro-API/internal/adapters/source"
	service "github.com/DexterZero/Spyro-API/internal/app"
	"github.com/DexterZero/Spyro-API/internal/config"
	model "github.com/DexterZero/Spyro-API/internal/domain/model"
	"github.com/DexterZero/Spyro-API/pkg/logger"
	"github.com/DexterZero/Spyro-API/pkg/metrics"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(logger.WithWriter(io.Discard)); err != nil {
		panic(err)
	}
}

// scriptedSource replays a fixed list of envelopes after the resume
// position and then idles until cancelled.
type scriptedSource struct {
	id   string
	envs []model.Envelope

	mu    sync.Mutex
	froms []model.Position
}

func (s *scriptedSource) ID() string { return s.id }

func (s *scriptedSource) OpenStream(_ context.Context, from model.Position) (source.Stream, error) {
	s.mu.Lock()
	s.froms = append(s.froms, from)
	s.mu.Unlock()

	var rest []model.Envelope
	for _, e := range s.envs {
		if e.Position.Number > from.Number {
			rest = append(rest, e)
		}
	}
	return &scriptedStream{envs: rest}, nil
}

func (s *scriptedSource) opened() []model.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Position(nil), s.froms...)
}

type scriptedStream struct {
	envs []model.Envelope
	next int
}

func (s *scriptedStream) Recv(ctx context.Context) (model.Envelope, error) {
	if s.next < len(s.envs) {
		e := s.envs[s.next]
		s.next++
		return e, nil
	}
	<-ctx.Done()
	return model.Envelope{}, ctx.Err()
}

func (s *scriptedStream) Close() error { return nil }

func renderScript(provider string, from uint64) []model.Envelope {
	return []model.Envelope{
		model.MustEnvelope(model.ModelMeta{
			Provider: provider, ModelID: "sd-v1", Version: "1.0", Params: 800_000_000, Timestamp: 10,
		}, model.Position{Number: from}),
		model.MustEnvelope(model.InferenceJobEvent{
			Provider: provider, JobID: "0xa1", ModelID: "sd-v1", LatencyMs: 120,
			CostWei: model.NewInt128(50_000), Success: true, Timestamp: 11,
		}, model.Position{Number: from + 1}),
		model.MustEnvelope(model.ProviderStats{
			Provider: provider, NodeID: "node-1", GPUUtil: 70, Score: 9000, Timestamp: 12,
		}, model.Position{Number: from + 2}),
	}
}

func testConfig() *config.Config {
	cfg := config.New()
	cfg.Backoff = config.Backoff{Floor: 10 * time.Millisecond, Ceiling: 20 * time.Millisecond, Factor: 2}
	cfg.CheckpointInterval = 0
	return cfg
}

func providerStats(svc *service.Service, name string) service.ProviderStats {
	for _, p := range svc.Providers() {
		if p.Name == name {
			return p
		}
	}
	return service.ProviderStats{}
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func stop(svc *service.Service) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return svc.Stop(ctx)
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then it is not started and has an instance id", func() {
			So(svc, ShouldNotBeNil)
			So(svc.Instance(), ShouldNotBeEmpty)
			stats := svc.GetStats()
			So(stats["started"], ShouldBeFalse)
			So(stats["sink"], ShouldEqual, "")
		})

		Convey("And stopping it before start is a no-op", func() {
			So(stop(svc), ShouldBeNil)
		})

		Convey("And reads report the missing store", func() {
			_, err := svc.Entity(context.Background(), model.EntityModel, "render:sd-v1")
			So(errors.Is(err, service.ErrNoStore), ShouldBeTrue)
		})
	})
}

func TestService_Scenario(t *testing.T) {
	Convey("Given a service with one scripted provider and the memory sink", t, func() {
		src := &scriptedSource{id: "render", envs: renderScript("render", 1)}
		m := metrics.New()
		defer m.Close()
		svc := service.New(
			service.WithConfig(testConfig()),
			service.WithSource(src),
			service.WithMetrics(m),
		)
		ctx := context.Background()

		So(svc.Start(ctx), ShouldBeNil)

		Convey("When the provider's records are processed", func() {
			ok := eventually(func() bool { return providerStats(svc, "render").Processed == 3 })
			So(ok, ShouldBeTrue)

			Convey("Then the entities are queryable", func() {
				mdl, err := svc.Entity(ctx, model.EntityModel, "render:sd-v1")
				So(err, ShouldBeNil)
				So(mdl.Fields["currentVersion"], ShouldEqual, "1.0")
				So(mdl.Fields["provider"], ShouldEqual, "render")

				jobs, err := svc.Entities(ctx, model.EntityInferenceJob, 10)
				So(err, ShouldBeNil)
				So(jobs, ShouldHaveLength, 1)
				So(jobs[0].Fields["model"], ShouldEqual, "render:sd-v1")

				top, err := svc.TopProviders(ctx, 5)
				So(err, ShouldBeNil)
				So(top, ShouldHaveLength, 1)
				So(top[0].Key, ShouldEqual, "render:node-1")
				So(top[0].Rank, ShouldEqual, 1)
			})

			Convey("And stats describe the pipeline", func() {
				ps := providerStats(svc, "render")
				So(ps.State, ShouldEqual, "streaming")
				So(ps.Position.Number, ShouldEqual, 3)
				So(ps.Failed, ShouldBeFalse)

				stats := svc.GetStats()
				So(stats["started"], ShouldBeTrue)
				So(stats["sink"], ShouldEqual, "memory")
				So(stats["entities"], ShouldResemble, map[string]int{"Provider": 1, "Model": 1, "InferenceJob": 1})
			})

			Convey("And Stop ends every pipeline cleanly", func() {
				So(stop(svc), ShouldBeNil)
				So(svc.Wait(), ShouldBeNil)
				So(svc.GetStats()["started"], ShouldBeFalse)
			})
		})

		Reset(func() { _ = stop(svc) })
	})
}

func TestService_SinkRejection(t *testing.T) {
	Convey("Given two providers sharing a sink that rejects one batch", t, func() {
		rejection := errors.New("constraint violated")
		bad := &scriptedSource{id: "akash", envs: renderScript("akash", 99)}
		good := &scriptedSource{id: "render", envs: renderScript("render", 1)}

		var mu sync.Mutex
		accepted := 0
		out := sink.Func(func(_ context.Context, mods []model.EntityModification) error {
			if len(mods) > 0 && mods[0].Position.Number == 99 {
				return rejection
			}
			mu.Lock()
			accepted += len(mods)
			mu.Unlock()
			return nil
		})

		svc := service.New(
			service.WithConfig(testConfig()),
			service.WithSource(bad),
			service.WithSource(good),
			service.WithSink(out, "test"),
		)
		So(svc.Start(context.Background()), ShouldBeNil)

		Convey("When the rejected provider stops", func() {
			ok := eventually(func() bool { return providerStats(svc, "akash").Failed })
			So(ok, ShouldBeTrue)

			Convey("Then the other provider keeps ingesting", func() {
				So(eventually(func() bool { return providerStats(svc, "render").Processed == 3 }), ShouldBeTrue)
				So(providerStats(svc, "render").Failed, ShouldBeFalse)
				So(providerStats(svc, "akash").Processed, ShouldEqual, 0)
				So(providerStats(svc, "akash").Error, ShouldContainSubstring, "constraint violated")
			})

			Convey("And Wait reports the exact sink error", func() {
				So(stop(svc), ShouldBeNil)
				err := svc.Wait()
				So(errors.Is(err, rejection), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "akash")
			})
		})

		Reset(func() { _ = stop(svc) })
	})
}

func TestService_CheckpointResume(t *testing.T) {
	Convey("Given a checkpoint file shared by two runs", t, func() {
		cfg := testConfig()
		cfg.CheckpointPath = filepath.Join(t.TempDir(), "cursors.json")

		first := &scriptedSource{id: "render", envs: renderScript("render", 1)}
		svc := service.New(service.WithConfig(cfg), service.WithSource(first))
		So(svc.Start(context.Background()), ShouldBeNil)
		So(eventually(func() bool { return providerStats(svc, "render").Processed == 3 }), ShouldBeTrue)
		So(stop(svc), ShouldBeNil)

		Convey("When the node restarts", func() {
			second := &scriptedSource{id: "render", envs: renderScript("render", 1)}
			again := service.New(service.WithConfig(cfg), service.WithSource(second))
			So(again.Start(context.Background()), ShouldBeNil)
			defer func() { _ = stop(again) }()

			So(eventually(func() bool { return len(second.opened()) > 0 }), ShouldBeTrue)

			Convey("Then the stream resumes after the last acknowledged block", func() {
				So(second.opened()[0].Number, ShouldEqual, 3)
				So(providerStats(again, "render").Processed, ShouldEqual, 0)
			})
		})

		Convey("When the provider config carries an explicit cursor", func() {
			cfg.Providers = []config.Provider{{Name: "render", Kind: "synthetic", Cursor: "from-ops"}}
			second := &scriptedSource{id: "render"}
			again := service.New(service.WithConfig(cfg), service.WithSource(second))
			So(again.Start(context.Background()), ShouldBeNil)
			defer func() { _ = stop(again) }()

			So(eventually(func() bool { return len(second.opened()) > 0 }), ShouldBeTrue)

			Convey("Then the checkpoint is ignored", func() {
				So(second.opened()[0].IsZero(), ShouldBeTrue)
			})
		})
	})
}

func TestService_ConfiguredProviders(t *testing.T) {
	Convey("Given a synthetic provider from configuration", t, func() {
		cfg := testConfig()
		cfg.Providers = []config.Provider{{Name: "demo", Kind: "synthetic", Limit: 5}}
		svc := service.New(service.WithConfig(cfg))
		So(svc.Start(context.Background()), ShouldBeNil)

		Convey("Then generated records flow into the store", func() {
			So(eventually(func() bool { return providerStats(svc, "demo").Processed >= 5 }), ShouldBeTrue)
			counts, _ := svc.GetStats()["entities"].(map[string]int)
			total := 0
			for _, n := range counts {
				total += n
			}
			So(total, ShouldBeGreaterThan, 0)
		})

		Reset(func() { _ = stop(svc) })
	})

	Convey("Given a file sink", t, func() {
		cfg := testConfig()
		cfg.Sink = config.Sink{Kind: "file", Path: filepath.Join(t.TempDir(), "mods.ndjson"), Format: "json", Compression: "none"}
		svc := service.New(service.WithConfig(cfg), service.WithSource(&scriptedSource{id: "render"}))
		So(svc.Start(context.Background()), ShouldBeNil)

		Convey("Then entity lookups are unavailable", func() {
			_, err := svc.TopProviders(context.Background(), 3)
			So(errors.Is(err, service.ErrNoStore), ShouldBeTrue)
			So(svc.GetStats()["sink"], ShouldEqual, "file")
		})

		Reset(func() { _ = stop(svc) })
	})

	Convey("Given a provider with an unknown source kind", t, func() {
		cfg := testConfig()
		cfg.Providers = []config.Provider{{Name: "x", Kind: "smoke-signal"}}
		svc := service.New(service.WithConfig(cfg))

		Convey("Then Start fails", func() {
			So(errors.Is(svc.Start(context.Background()), source.ErrUnknownKind), ShouldBeTrue)
		})
	})
}
