// Package codec encodes inbound events and outbound requests as JSON
// envelopes tagged with their kind.
package codec

import (
	"encoding/json"
	"reflect"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"tradecore/internal/model"
	"tradecore/internal/model/enum"
	"tradecore/pkg/exception"
)

// Envelope is the wire form of one event or request.
type Envelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

var api = sonic.ConfigFastest

// EncodeEvent wraps an event into an envelope.
func EncodeEvent(ev model.Event) ([]byte, error) {
	if ev == nil {
		return nil, exception.ErrNilInstance
	}
	return encode(ev.EventKind().String(), ev)
}

// DecodeEvent parses an envelope into the event value it carries.
func DecodeEvent(b []byte) (model.Event, error) {
	env, err := decodeEnvelope(b)
	if err != nil {
		return nil, err
	}
	kind, ok := enum.ParseEventKind(env.Kind)
	if !ok {
		return nil, errors.Wrapf(exception.ErrTypeUnsupported, "event kind %q", env.Kind)
	}
	ptr, _ := model.NewEvent(kind)
	if err := decodeData(env, ptr); err != nil {
		return nil, err
	}
	return deref(ptr).(model.Event), nil
}

// DecodeEventOrReport decodes an envelope, turning a failure into a
// DecodeErrorEvent so that the loop can count and drop it.
func DecodeEventOrReport(b []byte) model.Event {
	ev, err := DecodeEvent(b)
	if err != nil {
		raw := make([]byte, len(b))
		copy(raw, b)
		return model.DecodeErrorEvent{Reason: err.Error(), Raw: raw}
	}
	return ev
}

// EncodeRequest wraps a request into an envelope.
func EncodeRequest(req model.Request) ([]byte, error) {
	if req == nil {
		return nil, exception.ErrNilInstance
	}
	return encode(req.RequestKind().String(), req)
}

// DecodeRequest parses an envelope into the request value it carries.
func DecodeRequest(b []byte) (model.Request, error) {
	env, err := decodeEnvelope(b)
	if err != nil {
		return nil, err
	}
	kind, ok := enum.ParseRequestKind(env.Kind)
	if !ok {
		return nil, errors.Wrapf(exception.ErrTypeUnsupported, "request kind %q", env.Kind)
	}
	ptr, _ := model.NewRequest(kind)
	if err := decodeData(env, ptr); err != nil {
		return nil, err
	}
	return deref(ptr).(model.Request), nil
}

func encode(kind string, v any) ([]byte, error) {
	data, err := api.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s", kind)
	}
	out, err := api.Marshal(Envelope{Kind: kind, Data: data})
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s envelope", kind)
	}
	return out, nil
}

func decodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := api.Unmarshal(b, &env); err != nil {
		return env, errors.Wrapf(exception.ErrDecode, "envelope: %s", err.Error())
	}
	if env.Kind == "" {
		return env, errors.Wrap(exception.ErrDecode, "envelope without kind")
	}
	return env, nil
}

func decodeData(env Envelope, ptr any) error {
	if len(env.Data) == 0 {
		return nil
	}
	if err := api.Unmarshal(env.Data, ptr); err != nil {
		return errors.Wrapf(exception.ErrDecode, "%s: %s", env.Kind, err.Error())
	}
	return nil
}

func deref(ptr any) any {
	return reflect.ValueOf(ptr).Elem().Interface()
}
