package mapping_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/DexterZero/Spyro-API/internal/domain/mapping"
	model "github.com/DexterZero/Spyro-API/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

const (
	t1 = 1_700_000_000
	t2 = 1_700_000_012
)

func scenario() []model.Envelope {
	return []model.Envelope{
		model.MustEnvelope(model.ModelMeta{Provider: "render", ModelID: "sd-v1", Version: "1.0", Params: 800000000, Timestamp: t1}, model.Position{Number: 100}),
		model.MustEnvelope(model.InferenceJobEvent{Provider: "render", JobID: "jobA", ModelID: "sd-v1", LatencyMs: 120, CostWei: model.NewInt128(50_000), Success: true, Timestamp: t2}, model.Position{Number: 101}),
	}
}

func mapAll(e *mapping.Engine, envs []model.Envelope) ([]model.EntityModification, []error) {
	var (
		mods []model.EntityModification
		errs []error
	)
	for _, env := range envs {
		out, err := e.Map(env)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		mods = append(mods, out...)
	}
	return mods, errs
}

func TestEngineScenario(t *testing.T) {
	Convey("Given a model announcement followed by a job on it", t, func() {
		engine := mapping.New()

		mods, errs := mapAll(engine, scenario())

		Convey("Then a model upsert and a job insert come out in order", func() {
			So(errs, ShouldBeEmpty)
			So(mods, ShouldHaveLength, 2)

			So(mods[0].Kind, ShouldEqual, model.ModUpsert)
			So(mods[0].EntityType, ShouldEqual, model.EntityModel)
			So(mods[0].Key, ShouldEqual, "render:sd-v1")
			So(mods[0].Data, ShouldResemble, model.Fields{
				model.FieldID:             "render:sd-v1",
				model.FieldProvider:       "render",
				model.FieldCurrentVersion: "1.0",
				model.FieldParams:         int64(800000000),
			})

			So(mods[1].Kind, ShouldEqual, model.ModInsert)
			So(mods[1].EntityType, ShouldEqual, model.EntityInferenceJob)
			So(mods[1].Data, ShouldResemble, model.Fields{
				model.FieldID:             model.Bytes("jobA"),
				model.FieldModel:          "render:sd-v1",
				model.FieldLatency:        int32(120),
				model.FieldCost:           model.NewInt128(50000),
				model.FieldBlockTimestamp: int64(t2),
			})
			So(mods[1].Position.Number, ShouldEqual, 101)
		})
	})
}

func TestEngineDeterminism(t *testing.T) {
	Convey("Given the same envelopes mapped twice", t, func() {
		envs := append(scenario(), model.MustEnvelope(model.ProviderStats{
			Provider: "tao", NodeID: "5F3sa", GPUUtil: 80, Score: 9876, Timestamp: t2, Stake: ptr(model.MustInt128("1000000000000000000000")),
		}, model.Position{Number: 7}))

		a, _ := mapAll(mapping.New(), envs)
		b, _ := mapAll(mapping.New(), envs)

		Convey("Then the outputs are equal and encode identically", func() {
			So(a, ShouldResemble, b)
			for i := range a {
				ea, err := a[i].Encode()
				So(err, ShouldBeNil)
				eb, err := b[i].Encode()
				So(err, ShouldBeNil)
				So(bytes.Equal(ea, eb), ShouldBeTrue)
			}
		})

		Convey("Then mutating one result does not leak into the next call", func() {
			a[0].Data[model.FieldParams] = int64(1)
			c, _ := mapAll(mapping.New(), envs)
			So(c, ShouldResemble, b)
		})
	})
}

func TestEngineProviderStats(t *testing.T) {
	Convey("Given a heartbeat from a provider node", t, func() {
		engine := mapping.New()
		ev := model.ProviderStats{Provider: "render", NodeID: "node-42", GPUUtil: 55, Score: 9876, Timestamp: t1}

		mods, err := engine.MapEvent(ev, model.Position{Number: 3})

		Convey("Then one self-describing provider update is produced", func() {
			So(err, ShouldBeNil)
			So(mods, ShouldHaveLength, 1)
			So(mods[0].Kind, ShouldEqual, model.ModUpdate)
			So(mods[0].EntityType, ShouldEqual, model.EntityProvider)
			So(mods[0].Key, ShouldEqual, "render:node-42")
			So(mods[0].Data, ShouldResemble, model.Fields{
				model.FieldID:         "render:node-42",
				model.FieldNetwork:    "render",
				model.FieldReputation: model.Decimal("0.9876"),
			})
		})

		Convey("Then a declared stake is carried", func() {
			ev.Stake = ptr(model.NewInt128(42))
			mods, err := engine.MapEvent(ev, model.Position{Number: 3})
			So(err, ShouldBeNil)
			So(mods[0].Data[model.FieldStake], ShouldResemble, model.NewInt128(42))
		})
	})
}

func TestEngineIsolation(t *testing.T) {
	Convey("Given a batch where one envelope is malformed", t, func() {
		envs := scenario()
		bad := model.Envelope{
			Kind:     model.KindInferenceJob,
			Provider: "render",
			Payload:  json.RawMessage(`{"provider":"render","jobId":"jobB","latencyMs":"slow"}`),
			Position: model.Position{Number: 102},
		}
		envs = append(envs[:1], append([]model.Envelope{bad}, envs[1:]...)...)

		mods, errs := mapAll(mapping.New(), envs)

		Convey("Then the others still map and the bad one is reported", func() {
			So(mods, ShouldHaveLength, 2)
			So(errs, ShouldHaveLength, 1)
			So(errors.Is(errs[0], mapping.ErrMapping), ShouldBeTrue)

			var me *mapping.MappingError
			So(errors.As(errs[0], &me), ShouldBeTrue)
			So(me.Provider, ShouldEqual, "render")
			So(me.Kind, ShouldEqual, model.KindInferenceJob)
			So(me.Position.Number, ShouldEqual, 102)
			So(errors.Is(errs[0], model.ErrDecodePayload), ShouldBeTrue)
		})
	})
}

func TestEngineKeyStability(t *testing.T) {
	Convey("Given two versions of the same model", t, func() {
		engine := mapping.New()
		v1, err1 := engine.MapEvent(model.ModelMeta{Provider: "render", ModelID: "sd-v1", Version: "1.0", Params: 1, Timestamp: t1}, model.Position{Number: 1})
		v2, err2 := engine.MapEvent(model.ModelMeta{Provider: "render", ModelID: "sd-v1", Version: "2.0", Params: 1, Timestamp: t2}, model.Position{Number: 9})

		Convey("Then they address the same entity", func() {
			So(err1, ShouldBeNil)
			So(err2, ShouldBeNil)
			So(v1[0].Key, ShouldEqual, v2[0].Key)
			So(v2[0].Data[model.FieldCurrentVersion], ShouldEqual, "2.0")
		})
	})

	Convey("Given a job id given as a hash", t, func() {
		mods, err := mapping.New().MapEvent(model.InferenceJobEvent{
			Provider: "render", JobID: "0xABCD", ModelID: "m", LatencyMs: 1, Timestamp: t1,
			Requester: "0x01", InputHash: "0xbeef",
		}, model.Position{})

		Convey("Then the key is the lowercase hash and bytes columns decode", func() {
			So(err, ShouldBeNil)
			So(mods[0].Key, ShouldEqual, "0xabcd")
			So(mods[0].Data[model.FieldID], ShouldResemble, model.Bytes{0xab, 0xcd})
			So(mods[0].Data[model.FieldRequester], ShouldResemble, model.Bytes{0x01})
			So(mods[0].Data[model.FieldInputHash], ShouldResemble, model.Bytes{0xbe, 0xef})
		})
	})

	Convey("Given a plain job id and a hash of the same bytes", t, func() {
		engine := mapping.New()
		plain, err1 := engine.MapEvent(model.InferenceJobEvent{Provider: "render", JobID: "ab", LatencyMs: 1, Timestamp: t1}, model.Position{Number: 1})
		hash, err2 := engine.MapEvent(model.InferenceJobEvent{Provider: "render", JobID: "0x6162", LatencyMs: 1, Timestamp: t1}, model.Position{Number: 2})

		Convey("Then they address different jobs", func() {
			So(err1, ShouldBeNil)
			So(err2, ShouldBeNil)
			So(plain[0].Key, ShouldEqual, "6162")
			So(hash[0].Key, ShouldEqual, "0x6162")
		})
	})

	Convey("Given a job id that is only a 0x prefix", t, func() {
		_, err := mapping.New().MapEvent(model.InferenceJobEvent{Provider: "render", JobID: "0x", LatencyMs: 1, Timestamp: t1}, model.Position{Number: 1})

		Convey("Then it is rejected instead of mapping to an empty key", func() {
			So(errors.Is(err, mapping.ErrMapping), ShouldBeTrue)
			So(errors.Is(err, model.ErrInvalidField), ShouldBeTrue)
		})
	})
}

func TestEngineTransformContract(t *testing.T) {
	job := model.InferenceJobEvent{Provider: "akash", JobID: "j1", ModelID: "llama", LatencyMs: 5, Timestamp: t1}

	run := func(fn func(model.IngestEvent) ([]mapping.Output, error)) ([]model.EntityModification, error) {
		engine := mapping.New(mapping.WithTransform("akash", mapping.TransformFunc{ID: "custom", Fn: fn}))
		return engine.MapEvent(job, model.Position{Number: 1})
	}

	Convey("Given a custom transform for one provider", t, func() {
		Convey("When it behaves, other providers keep the canonical mapping", func() {
			engine := mapping.New(mapping.WithTransform("akash", mapping.TransformFunc{ID: "custom", Fn: mapping.Canonical{}.Apply}))
			So(engine.TransformFor("akash").Name(), ShouldEqual, "custom")
			So(engine.TransformFor("render").Name(), ShouldEqual, "canonical")

			mods, err := engine.MapEvent(job, model.Position{Number: 1})
			So(err, ShouldBeNil)
			So(mods, ShouldHaveLength, 1)
		})

		Convey("When it updates a job instead of inserting", func() {
			_, err := run(func(model.IngestEvent) ([]mapping.Output, error) {
				return []mapping.Output{{Op: model.ModUpdate, EntityType: model.EntityInferenceJob, Fields: model.Fields{model.FieldLatency: int32(1)}}}, nil
			})
			So(errors.Is(err, mapping.ErrContract), ShouldBeTrue)
			So(errors.Is(err, mapping.ErrMapping), ShouldBeTrue)
		})

		Convey("When it writes another entity type", func() {
			_, err := run(func(model.IngestEvent) ([]mapping.Output, error) {
				return []mapping.Output{{Op: model.ModUpsert, EntityType: model.EntityModel, Fields: model.Fields{model.FieldProvider: "akash"}}}, nil
			})
			So(errors.Is(err, mapping.ErrContract), ShouldBeTrue)
		})

		Convey("When it uses an unknown column or a float", func() {
			_, err := run(func(model.IngestEvent) ([]mapping.Output, error) {
				return []mapping.Output{{Op: model.ModInsert, EntityType: model.EntityInferenceJob, Fields: model.Fields{"gpu": "a100"}}}, nil
			})
			So(errors.Is(err, mapping.ErrContract), ShouldBeTrue)

			_, err = run(func(model.IngestEvent) ([]mapping.Output, error) {
				return []mapping.Output{{Op: model.ModInsert, EntityType: model.EntityInferenceJob, Fields: model.Fields{model.FieldLatency: 1.5}}}, nil
			})
			So(errors.Is(err, mapping.ErrContract), ShouldBeTrue)
		})

		Convey("When it supplies its own key", func() {
			_, err := run(func(model.IngestEvent) ([]mapping.Output, error) {
				return []mapping.Output{{Op: model.ModInsert, EntityType: model.EntityInferenceJob, Fields: model.Fields{model.FieldID: model.Bytes("other")}}}, nil
			})
			So(errors.Is(err, mapping.ErrContract), ShouldBeTrue)
		})

		Convey("When it leaves the id out, the engine fills it", func() {
			mods, err := run(func(model.IngestEvent) ([]mapping.Output, error) {
				return []mapping.Output{{Op: model.ModInsert, EntityType: model.EntityInferenceJob, Fields: model.Fields{model.FieldLatency: int32(5)}}}, nil
			})
			So(err, ShouldBeNil)
			So(mods[0].Data[model.FieldID], ShouldResemble, model.Bytes("j1"))
			So(mods[0].Key, ShouldEqual, "6a31")
		})

		Convey("When it panics", func() {
			mods, err := run(func(model.IngestEvent) ([]mapping.Output, error) {
				panic("boom")
			})
			So(mods, ShouldBeNil)
			So(errors.Is(err, mapping.ErrTransformPanic), ShouldBeTrue)
			So(errors.Is(err, mapping.ErrMapping), ShouldBeTrue)
		})
	})
}

func ptr[T any](v T) *T { return &v }

func TestEngineJobWithoutModel(t *testing.T) {
	Convey("Given a job envelope that names no model", t, func() {
		env := model.Envelope{
			Kind:     model.KindInferenceJob,
			Provider: "render",
			Payload:  json.RawMessage(`{"provider":"render","jobId":"jobA","latencyMs":120,"costWei":50000,"success":true,"timestamp":2}`),
			Position: model.Position{Number: 2},
		}

		mods, err := mapping.New().Map(env)

		Convey("Then the job is inserted without a model column", func() {
			So(err, ShouldBeNil)
			So(mods, ShouldHaveLength, 1)
			So(mods[0].Kind, ShouldEqual, model.ModInsert)
			So(mods[0].Key, ShouldEqual, "6a6f6241")
			So(mods[0].Data, ShouldNotContainKey, model.FieldModel)
			So(mods[0].Data[model.FieldLatency], ShouldEqual, int32(120))
			So(mods[0].Data[model.FieldBlockTimestamp], ShouldEqual, int64(2))
		})
	})
}
