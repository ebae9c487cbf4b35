package sink

import (
	"fmt"

	model "github.com/DexterZero/Spyro-API/internal/domain/model"
)

// Tables maps entity types to their storage table names.
var Tables = map[model.EntityType]string{
	model.EntityProvider:     "provider",
	model.EntityModel:        "model",
	model.EntityInferenceJob: "inference_job",
}

// table returns the storage table for t.
func table(t model.EntityType) (string, error) {
	name, ok := Tables[t]
	if !ok {
		return "", fmt.Errorf("%w: entity type %q", ErrConfig, t)
	}
	return name, nil
}

// plain converts field values to driver-neutral forms: Int128 and Decimal
// become their decimal strings, Bytes a byte slice.
func plain(f model.Fields) map[string]any {
	out := make(map[string]any, len(f))
	for k, v := range f {
		switch x := v.(type) {
		case model.Int128:
			out[k] = x.String()
		case model.Decimal:
			out[k] = string(x)
		case model.Bytes:
			out[k] = []byte(x)
		default:
			out[k] = v
		}
	}
	return out
}
