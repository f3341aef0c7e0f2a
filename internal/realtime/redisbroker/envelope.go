package redisbroker

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Redis pub-sub carries a single string per message, so the event name
// travels next to the payload: {"event":"order-created","data":{...}}.

func encodeEnvelope(event string, payload []byte) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("event")
	e.Str(event)
	e.FieldStart("data")
	e.Raw(payload)
	e.ObjEnd()
	return e.Bytes()
}

func decodeEnvelope(msg []byte) (event string, payload []byte, err error) {
	err = jx.DecodeBytes(msg).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "event":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "event")
			}
			event = v
		case "data":
			raw, err := d.Raw()
			if err != nil {
				return errors.Wrap(err, "data")
			}
			payload = append([]byte(nil), raw...)
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return "", nil, errors.Wrap(err, "decode envelope")
	}
	if event == "" {
		return "", nil, errors.New("envelope without event")
	}
	return event, payload, nil
}
