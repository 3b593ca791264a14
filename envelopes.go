package nostr

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Envelope is one of the fixed-position JSON arrays exchanged with relays,
// identified by its label ("EVENT", "REQ", "OK", ...).
type Envelope interface {
	Label() string
	String() string
	UnmarshalJSON([]byte) error
	MarshalJSON() ([]byte, error)
}

var (
	_ Envelope = (*EventEnvelope)(nil)
	_ Envelope = (*ReqEnvelope)(nil)
	_ Envelope = (*NoticeEnvelope)(nil)
	_ Envelope = (*EOSEEnvelope)(nil)
	_ Envelope = (*CloseEnvelope)(nil)
	_ Envelope = (*ClosedEnvelope)(nil)
	_ Envelope = (*OKEnvelope)(nil)
	_ Envelope = (*AuthEnvelope)(nil)
)

// ParseMessage parses a relay message into an Envelope. Returns nil if the
// message doesn't conform to any of the expected shapes.
func ParseMessage(message []byte) Envelope {
	firstComma := bytes.Index(message, []byte{','})
	if firstComma == -1 {
		return nil
	}
	label := message[0:firstComma]

	var v Envelope
	switch {
	case bytes.Contains(label, []byte("EVENT")):
		v = &EventEnvelope{}
	case bytes.Contains(label, []byte("REQ")):
		v = &ReqEnvelope{}
	case bytes.Contains(label, []byte("NOTICE")):
		x := NoticeEnvelope("")
		v = &x
	case bytes.Contains(label, []byte("EOSE")):
		x := EOSEEnvelope("")
		v = &x
	case bytes.Contains(label, []byte("CLOSED")):
		v = &ClosedEnvelope{}
	case bytes.Contains(label, []byte("CLOSE")):
		x := CloseEnvelope("")
		v = &x
	case bytes.Contains(label, []byte("OK")):
		v = &OKEnvelope{}
	case bytes.Contains(label, []byte("AUTH")):
		v = &AuthEnvelope{}
	default:
		return nil
	}

	if err := v.UnmarshalJSON(message); err != nil {
		return nil
	}
	return v
}

type EventEnvelope struct {
	SubscriptionID *string
	Event
}

func (_ EventEnvelope) Label() string { return "EVENT" }

func (v *EventEnvelope) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	switch len(arr) {
	case 2:
		return json.Unmarshal([]byte(arr[1].Raw), &v.Event)
	case 3:
		v.SubscriptionID = &arr[1].Str
		return json.Unmarshal([]byte(arr[2].Raw), &v.Event)
	default:
		return fmt.Errorf("failed to decode EVENT envelope")
	}
}

func (v EventEnvelope) MarshalJSON() ([]byte, error) {
	b := &bytes.Buffer{}
	b.WriteString(`["EVENT",`)
	if v.SubscriptionID != nil {
		sub, err := json.Marshal(*v.SubscriptionID)
		if err != nil {
			return nil, err
		}
		b.Write(sub)
		b.WriteByte(',')
	}
	evt, err := json.Marshal(v.Event)
	if err != nil {
		return nil, err
	}
	b.Write(evt)
	b.WriteByte(']')
	return b.Bytes(), nil
}

func (v EventEnvelope) String() string {
	j, _ := v.MarshalJSON()
	return string(j)
}

type ReqEnvelope struct {
	SubscriptionID string
	Filters
}

func (_ ReqEnvelope) Label() string { return "REQ" }

func (v *ReqEnvelope) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 3 {
		return fmt.Errorf("failed to decode REQ envelope: missing filters")
	}
	v.SubscriptionID = arr[1].Str
	v.Filters = make(Filters, len(arr)-2)
	for i := 2; i < len(arr); i++ {
		if err := v.Filters[i-2].UnmarshalJSON([]byte(arr[i].Raw)); err != nil {
			return fmt.Errorf("%w -- on filter %d", err, i-2)
		}
	}
	return nil
}

func (v ReqEnvelope) MarshalJSON() ([]byte, error) {
	b := &bytes.Buffer{}
	b.WriteString(`["REQ",`)
	sub, err := json.Marshal(v.SubscriptionID)
	if err != nil {
		return nil, err
	}
	b.Write(sub)
	for _, filter := range v.Filters {
		b.WriteByte(',')
		jf, err := filter.MarshalJSON()
		if err != nil {
			return nil, err
		}
		b.Write(jf)
	}
	b.WriteByte(']')
	return b.Bytes(), nil
}

func (v ReqEnvelope) String() string {
	j, _ := v.MarshalJSON()
	return string(j)
}

type NoticeEnvelope string

func (_ NoticeEnvelope) Label() string { return "NOTICE" }

func (v *NoticeEnvelope) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 2 {
		return fmt.Errorf("failed to decode NOTICE envelope")
	}
	*v = NoticeEnvelope(arr[1].Str)
	return nil
}

func (v NoticeEnvelope) MarshalJSON() ([]byte, error) {
	b := &bytes.Buffer{}
	b.WriteString(`["NOTICE",`)
	msg, err := json.Marshal(string(v))
	if err != nil {
		return nil, err
	}
	b.Write(msg)
	b.WriteByte(']')
	return b.Bytes(), nil
}

func (v NoticeEnvelope) String() string {
	j, _ := v.MarshalJSON()
	return string(j)
}

type EOSEEnvelope string

func (_ EOSEEnvelope) Label() string { return "EOSE" }

func (v *EOSEEnvelope) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 2 {
		return fmt.Errorf("failed to decode EOSE envelope")
	}
	*v = EOSEEnvelope(arr[1].Str)
	return nil
}

func (v EOSEEnvelope) MarshalJSON() ([]byte, error) {
	b := &bytes.Buffer{}
	b.WriteString(`["EOSE",`)
	sub, err := json.Marshal(string(v))
	if err != nil {
		return nil, err
	}
	b.Write(sub)
	b.WriteByte(']')
	return b.Bytes(), nil
}

func (v EOSEEnvelope) String() string {
	j, _ := v.MarshalJSON()
	return string(j)
}

type CloseEnvelope string

func (_ CloseEnvelope) Label() string { return "CLOSE" }

func (v *CloseEnvelope) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 2 {
		return fmt.Errorf("failed to decode CLOSE envelope")
	}
	*v = CloseEnvelope(arr[1].Str)
	return nil
}

func (v CloseEnvelope) MarshalJSON() ([]byte, error) {
	b := &bytes.Buffer{}
	b.WriteString(`["CLOSE",`)
	sub, err := json.Marshal(string(v))
	if err != nil {
		return nil, err
	}
	b.Write(sub)
	b.WriteByte(']')
	return b.Bytes(), nil
}

func (v CloseEnvelope) String() string {
	j, _ := v.MarshalJSON()
	return string(j)
}

type ClosedEnvelope struct {
	SubscriptionID string
	Reason         string
}

func (_ ClosedEnvelope) Label() string { return "CLOSED" }

func (v *ClosedEnvelope) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 3 {
		return fmt.Errorf("failed to decode CLOSED envelope")
	}
	v.SubscriptionID = arr[1].Str
	v.Reason = arr[2].Str
	return nil
}

func (v ClosedEnvelope) MarshalJSON() ([]byte, error) {
	res, err := json.Marshal([]string{v.SubscriptionID, v.Reason})
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf(`["CLOSED",%s]`, res[1:len(res)-1])), nil
}

func (v ClosedEnvelope) String() string {
	j, _ := v.MarshalJSON()
	return string(j)
}

type OKEnvelope struct {
	EventID string
	OK      bool
	Reason  string
}

func (_ OKEnvelope) Label() string { return "OK" }

func (v *OKEnvelope) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 4 {
		return fmt.Errorf("failed to decode OK envelope: missing fields")
	}
	v.EventID = arr[1].Str
	v.OK = arr[2].Raw == "true"
	v.Reason = arr[3].Str
	return nil
}

func (v OKEnvelope) MarshalJSON() ([]byte, error) {
	b := &bytes.Buffer{}
	b.WriteString(`["OK",`)
	id, err := json.Marshal(v.EventID)
	if err != nil {
		return nil, err
	}
	b.Write(id)
	ok := ",false,"
	if v.OK {
		ok = ",true,"
	}
	b.WriteString(ok)
	reason, err := json.Marshal(v.Reason)
	if err != nil {
		return nil, err
	}
	b.Write(reason)
	b.WriteByte(']')
	return b.Bytes(), nil
}

func (v OKEnvelope) String() string {
	j, _ := v.MarshalJSON()
	return string(j)
}

type AuthEnvelope struct {
	Challenge *string
	Event     Event
}

func (_ AuthEnvelope) Label() string { return "AUTH" }

func (v *AuthEnvelope) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 2 {
		return fmt.Errorf("failed to decode AUTH envelope")
	}
	if arr[1].IsObject() {
		return json.Unmarshal([]byte(arr[1].Raw), &v.Event)
	}
	v.Challenge = &arr[1].Str
	return nil
}

func (v AuthEnvelope) MarshalJSON() ([]byte, error) {
	b := &bytes.Buffer{}
	b.WriteString(`["AUTH",`)
	if v.Challenge != nil {
		challenge, err := json.Marshal(*v.Challenge)
		if err != nil {
			return nil, err
		}
		b.Write(challenge)
	} else {
		evt, err := json.Marshal(v.Event)
		if err != nil {
			return nil, err
		}
		b.Write(evt)
	}
	b.WriteByte(']')
	return b.Bytes(), nil
}

func (v AuthEnvelope) String() string {
	j, _ := v.MarshalJSON()
	return string(j)
}
