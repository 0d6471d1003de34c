package models

import (
	"bytes"
	"encoding/json"

	"veriledger/internal/ledger/canonical"
	id "veriledger/pkg/domain"
	dErrors "veriledger/pkg/domain-errors"
)

// EnvelopeVersion is the payload layout version embedded in every entry.
const EnvelopeVersion = 1

// Envelope types. Records carry the entity type of their chain.
const (
	EnvelopeCorrection = "correction"
	EnvelopeVoid       = "void"
)

// EntryRef points at an earlier entry by seq, id and hash so the link survives
// in the sealed bytes themselves.
type EntryRef struct {
	Seq  int64  `json:"seq"`
	ID   string `json:"id"`
	Hash string `json:"hash"`
}

func (r EntryRef) object() canonical.Object {
	return canonical.Object{
		"seq":  canonical.Int(r.Seq),
		"id":   canonical.String(r.ID),
		"hash": canonical.String(r.Hash),
	}
}

// CorrectionMeta is the approval context sealed into correction and void entries.
type CorrectionMeta struct {
	RequestID   id.CorrectionID
	Reason      string
	RequestedBy id.UserID
	Approver    id.UserID
}

func (m CorrectionMeta) fill(obj canonical.Object) {
	obj["request_id"] = canonical.String(m.RequestID.String())
	obj["reason"] = canonical.String(m.Reason)
	obj["requested_by"] = canonical.String(m.RequestedBy.String())
	obj["approver"] = canonical.String(m.Approver.String())
}

// RecordPayload wraps a business payload in the record envelope.
func RecordPayload(b Business) (canonical.Object, error) {
	data, err := b.Canonical()
	if err != nil {
		return nil, err
	}
	return canonical.Object{
		"type": canonical.String(b.ChainType().EntityType()),
		"v":    canonical.Int(EnvelopeVersion),
		"data": data,
	}, nil
}

// CorrectionPayload builds the payload of the entry that supersedes original.
func CorrectionPayload(original *Entry, proposed Business, meta CorrectionMeta) (canonical.Object, error) {
	if proposed == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "a correction requires a proposed payload")
	}
	data, err := proposed.Canonical()
	if err != nil {
		return nil, err
	}
	obj := canonical.Object{
		"type":       canonical.String(EnvelopeCorrection),
		"v":          canonical.Int(EnvelopeVersion),
		"entity":     canonical.String(original.Scope.ChainType.EntityType()),
		"supersedes": original.Ref().object(),
		"data":       data,
	}
	meta.fill(obj)
	return obj, nil
}

// VoidPayload builds the payload of the entry that voids original. A void must
// carry either a rectifying payload or a reference to an already sealed
// rectifying entry.
func VoidPayload(original *Entry, rectification Business, rectifiedBy *Entry, meta CorrectionMeta) (canonical.Object, error) {
	if rectification == nil && rectifiedBy == nil {
		return nil, dErrors.New(dErrors.CodeIncompleteVoid, "a void requires a rectifying payload or entry")
	}
	obj := canonical.Object{
		"type":   canonical.String(EnvelopeVoid),
		"v":      canonical.Int(EnvelopeVersion),
		"entity": canonical.String(original.Scope.ChainType.EntityType()),
		"voids":  original.Ref().object(),
	}
	if rectification != nil {
		data, err := rectification.Canonical()
		if err != nil {
			return nil, err
		}
		obj["data"] = data
	}
	if rectifiedBy != nil {
		obj["rectified_by"] = rectifiedBy.Ref().object()
	}
	meta.fill(obj)
	return obj, nil
}

// Envelope is the parsed form of a sealed payload.
type Envelope struct {
	Type        string         `json:"type"`
	V           int            `json:"v"`
	Entity      string         `json:"entity,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Supersedes  *EntryRef      `json:"supersedes,omitempty"`
	Voids       *EntryRef      `json:"voids,omitempty"`
	RectifiedBy *EntryRef      `json:"rectified_by,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	RequestedBy string         `json:"requested_by,omitempty"`
	Approver    string         `json:"approver,omitempty"`
	RequestID   string         `json:"request_id,omitempty"`
}

// ParseEnvelope decodes sealed payload bytes.
func ParseEnvelope(payload []byte) (*Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeEncoding, "payload is not a ledger envelope")
	}
	if env.Type == "" || env.V != EnvelopeVersion {
		return nil, dErrors.New(dErrors.CodeEncoding, "unsupported envelope")
	}
	return &env, nil
}

// DataString returns a string field of the business data, or "".
func (e *Envelope) DataString(key string) string {
	if e == nil || e.Data == nil {
		return ""
	}
	switch v := e.Data[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// SealedTarget checks the kind and target columns of e against its sealed
// payload and returns the reference the payload embeds, nil for records. Those
// columns are outside the hash, so a status derived from them is only as good
// as this check. Payloads that are not envelopes can only be records.
func SealedTarget(e *Entry) (*EntryRef, bool) {
	env, err := ParseEnvelope(e.Payload)
	if err != nil {
		return nil, e.Kind == KindRecord && e.Supersedes == 0 && e.Voids == 0
	}
	switch env.Type {
	case EnvelopeCorrection:
		ok := e.Kind == KindCorrection && e.Voids == 0 && env.Voids == nil &&
			env.Supersedes != nil && env.Supersedes.Seq == e.Supersedes
		return env.Supersedes, ok
	case EnvelopeVoid:
		ok := e.Kind == KindVoid && e.Supersedes == 0 && env.Supersedes == nil &&
			env.Voids != nil && env.Voids.Seq == e.Voids
		return env.Voids, ok
	default:
		ok := e.Kind == KindRecord && e.Supersedes == 0 && e.Voids == 0 &&
			env.Supersedes == nil && env.Voids == nil
		return nil, ok
	}
}
