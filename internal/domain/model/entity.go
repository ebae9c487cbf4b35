package model

// EntityType names a canonical entity table.
type EntityType string

// Entity types.
const (
	EntityProvider     EntityType = "Provider"
	EntityModel        EntityType = "Model"
	EntityInferenceJob EntityType = "InferenceJob"
)

// Schema field names, exactly as stored downstream.
const (
	FieldID             = "id"
	FieldNetwork        = "network"
	FieldStake          = "stake"
	FieldReputation     = "reputation"
	FieldProvider       = "provider"
	FieldCurrentVersion = "currentVersion"
	FieldParams         = "params"
	FieldLicense        = "license"
	FieldModel          = "model"
	FieldRequester      = "requester"
	FieldInputHash      = "inputHash"
	FieldLatency        = "latency"
	FieldCost           = "cost"
	FieldBlockTimestamp = "blockTimestamp"
)

// FieldType is the storage type of a schema field.
type FieldType string

// Field types of the entity tables.
const (
	TypeString  FieldType = "string"
	TypeInt128  FieldType = "int128"
	TypeDecimal FieldType = "decimal"
	TypeInt64   FieldType = "int64"
	TypeInt32   FieldType = "int32"
	TypeBytes   FieldType = "bytes"
)

// Schema lists the fields of each entity table in column order.
var Schema = map[EntityType][]SchemaField{
	EntityProvider: {
		{FieldID, TypeString},
		{FieldNetwork, TypeString},
		{FieldStake, TypeInt128},
		{FieldReputation, TypeDecimal},
	},
	EntityModel: {
		{FieldID, TypeString},
		{FieldProvider, TypeString},
		{FieldCurrentVersion, TypeString},
		{FieldParams, TypeInt64},
		{FieldLicense, TypeString},
	},
	EntityInferenceJob: {
		{FieldID, TypeBytes},
		{FieldModel, TypeString},
		{FieldRequester, TypeBytes},
		{FieldInputHash, TypeBytes},
		{FieldLatency, TypeInt32},
		{FieldCost, TypeInt128},
		{FieldBlockTimestamp, TypeInt64},
	},
}

// SchemaField is one column of an entity table.
type SchemaField struct {
	Name string
	Type FieldType
}

// FieldTypeOf returns the declared type of field on entity t.
func FieldTypeOf(t EntityType, field string) (FieldType, bool) {
	for _, f := range Schema[t] {
		if f.Name == field {
			return f.Type, true
		}
	}
	return "", false
}

// Fields holds entity column values keyed by schema field name. Values are
// one of string, int64, int32, Bytes, Int128 or Decimal.
type Fields map[string]any

// Clone returns a shallow copy; Bytes values are copied.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		if b, ok := v.(Bytes); ok {
			v = append(Bytes(nil), b...)
		}
		out[k] = v
	}
	return out
}

// Provider is one compute node in a provider network.
type Provider struct {
	ID         string
	Network    string
	Stake      Int128
	Reputation Decimal
}

// Model is a model published by a provider.
type Model struct {
	ID             string
	Provider       string
	CurrentVersion string
	Params         int64
	License        string
}

// InferenceJob is an append-only record of one completed job.
type InferenceJob struct {
	ID             Bytes
	Model          string
	Requester      Bytes
	InputHash      Bytes
	Latency        int32
	Cost           Int128
	BlockTimestamp int64
}

// Fields returns the declared columns. Empty optional values are omitted so
// a partial write never clobbers stored data.
func (p Provider) Fields() Fields {
	f := Fields{FieldID: p.ID, FieldNetwork: p.Network}
	if p.Stake.Sign() != 0 {
		f[FieldStake] = p.Stake
	}
	if p.Reputation != "" {
		f[FieldReputation] = p.Reputation
	}
	return f
}

// Fields returns the declared columns.
func (m Model) Fields() Fields {
	f := Fields{
		FieldID:             m.ID,
		FieldProvider:       m.Provider,
		FieldCurrentVersion: m.CurrentVersion,
		FieldParams:         m.Params,
	}
	if m.License != "" {
		f[FieldLicense] = m.License
	}
	return f
}

// Fields returns the declared columns. A job whose upstream names no model
// has no model column.
func (j InferenceJob) Fields() Fields {
	f := Fields{
		FieldID:             j.ID,
		FieldLatency:        j.Latency,
		FieldCost:           j.Cost,
		FieldBlockTimestamp: j.BlockTimestamp,
	}
	if j.Model != "" {
		f[FieldModel] = j.Model
	}
	if len(j.Requester) > 0 {
		f[FieldRequester] = j.Requester
	}
	if len(j.InputHash) > 0 {
		f[FieldInputHash] = j.InputHash
	}
	return f
}
