package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DexterZero/Spyro-API/internal/adapters/http/api"
	repository "github.com/DexterZero/Spyro-API/internal/adapters/repository"
	model "github.com/DexterZero/Spyro-API/internal/domain/model"
	"github.com/DexterZero/Spyro-API/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

// fakeDeps serves reads from a real memory store.
type fakeDeps struct {
	store   *repository.MemoryStore
	health  error
	noStore bool
}

func (f *fakeDeps) GetStats() map[string]interface{} {
	return map[string]interface{}{"started": true, "sink": "memory"}
}

func (f *fakeDeps) Health() error { return f.health }

func (f *fakeDeps) Entity(ctx context.Context, t model.EntityType, key string) (repository.Entity, error) {
	if f.noStore {
		return repository.Entity{}, repository.ErrNoStore
	}
	return f.store.Get(ctx, t, key)
}

func (f *fakeDeps) Entities(ctx context.Context, t model.EntityType, limit int) ([]repository.Entity, error) {
	if f.noStore {
		return nil, repository.ErrNoStore
	}
	return f.store.List(ctx, t, limit)
}

func (f *fakeDeps) TopProviders(ctx context.Context, n int) ([]repository.Ranked, error) {
	if f.noStore {
		return nil, repository.ErrNoStore
	}
	return f.store.TopProviders(ctx, n)
}

func provider(node string, rep model.Decimal) model.EntityModification {
	return model.EntityModification{
		Kind:       model.ModUpdate,
		EntityType: model.EntityProvider,
		Key:        "render:" + node,
		Data:       model.Fields{"id": node, "network": "render", "reputation": rep},
		Position:   model.Position{Number: 1},
	}
}

func newTestServer(deps *fakeDeps, m *metrics.Manager) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps, m).Register(context.Background(), mux)
	return mux
}

func get(mux http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServer_Routes(t *testing.T) {
	Convey("Given an API server over a populated store", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		err := store.Apply(ctx, []model.EntityModification{
			provider("n1", "0.9000"),
			provider("n2", "0.5000"),
			{
				Kind:       model.ModUpsert,
				EntityType: model.EntityModel,
				Key:        "render:sd-v1",
				Data:       model.Fields{"id": "sd-v1", "provider": "render", "currentVersion": "1.0", "params": int64(800000000)},
				Position:   model.Position{Number: 2},
			},
		})
		So(err, ShouldBeNil)

		m := metrics.New()
		defer m.Close()
		deps := &fakeDeps{store: store}
		mux := newTestServer(deps, m)

		Convey("When requesting /healthz", func() {
			rec := get(mux, "/healthz")

			Convey("Then it answers ok", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(rec.Body.String(), ShouldContainSubstring, `"status":"ok"`)
			})
		})

		Convey("When a pipeline has failed", func() {
			deps.health = errors.New("provider akash: rejected")
			rec := get(mux, "/healthz")

			Convey("Then health is degraded", func() {
				So(rec.Code, ShouldEqual, http.StatusServiceUnavailable)
				So(rec.Body.String(), ShouldContainSubstring, "akash")
			})
		})

		Convey("When requesting /stats", func() {
			rec := get(mux, "/stats")

			Convey("Then the service stats are encoded", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				var body map[string]any
				So(json.Unmarshal(rec.Body.Bytes(), &body), ShouldBeNil)
				So(body["sink"], ShouldEqual, "memory")
			})
		})

		Convey("When requesting the top providers", func() {
			rec := get(mux, "/providers/top?limit=1")

			Convey("Then the best reputation comes first", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				var ranked []repository.Ranked
				So(json.Unmarshal(rec.Body.Bytes(), &ranked), ShouldBeNil)
				So(ranked, ShouldHaveLength, 1)
				So(ranked[0].Key, ShouldEqual, "render:n1")
				So(ranked[0].Rank, ShouldEqual, 1)
			})
		})

		Convey("When listing providers", func() {
			rec := get(mux, "/providers")

			Convey("Then every provider is returned in key order", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				var rows []repository.Entity
				So(json.Unmarshal(rec.Body.Bytes(), &rows), ShouldBeNil)
				So(rows, ShouldHaveLength, 2)
				So(rows[0].Key, ShouldEqual, "render:n1")
			})
		})

		Convey("When the limit is out of range", func() {
			for _, path := range []string{"/providers/top?limit=0", "/providers?limit=abc", "/entities/model?limit=5000"} {
				So(get(mux, path).Code, ShouldEqual, http.StatusBadRequest)
			}
		})

		Convey("When looking up an entity", func() {
			rec := get(mux, "/entities/model/render:sd-v1")

			Convey("Then its fields are returned", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(rec.Body.String(), ShouldContainSubstring, `"currentVersion":"1.0"`)
			})
		})

		Convey("When looking up by table name", func() {
			So(get(mux, "/entities/inference_job?limit=3").Code, ShouldEqual, http.StatusOK)
			So(get(mux, "/entities/Provider/render:n2").Code, ShouldEqual, http.StatusOK)
		})

		Convey("When the entity does not exist", func() {
			rec := get(mux, "/entities/model/render:missing")

			Convey("Then it answers 404", func() {
				So(rec.Code, ShouldEqual, http.StatusNotFound)
				So(rec.Body.String(), ShouldContainSubstring, "not_found")
			})
		})

		Convey("When the entity type is unknown", func() {
			So(get(mux, "/entities/widget/x").Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the store is not active", func() {
			deps.noStore = true

			Convey("Then reads answer 503", func() {
				So(get(mux, "/providers/top").Code, ShouldEqual, http.StatusServiceUnavailable)
				So(get(mux, "/entities/model/render:sd-v1").Code, ShouldEqual, http.StatusServiceUnavailable)
			})
		})

		Convey("When a non-GET request arrives", func() {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stats", strings.NewReader("{}")))

			Convey("Then it is rejected", func() {
				So(rec.Code, ShouldEqual, http.StatusMethodNotAllowed)
			})
		})

		Convey("When requests have been served", func() {
			get(mux, "/healthz")
			get(mux, "/entities/model/render:missing")

			Convey("Then they are counted on the injected registry", func() {
				n, err := testutil.GatherAndCount(m.Registry(), "spyro_ingest_http_requests_total")
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 2)
				rec := get(mux, "/metrics")
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(rec.Body.String(), ShouldContainSubstring, `endpoint="entity"`)
			})
		})
	})
}

func TestServer_WithoutMetrics(t *testing.T) {
	Convey("Given a server without a metrics manager", t, func() {
		mux := newTestServer(&fakeDeps{store: repository.NewMemoryStore()}, nil)

		Convey("Then handlers still work and /metrics is absent", func() {
			So(get(mux, "/healthz").Code, ShouldEqual, http.StatusOK)
			So(get(mux, "/metrics").Code, ShouldEqual, http.StatusNotFound)
		})
	})
}
