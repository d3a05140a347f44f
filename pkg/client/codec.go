package client

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/jmerrifield20/tunnelagent/pkg/messages"
)

const errorTag = "error"

// wireError is the one error object the control plane sends:
//
//	{"type":"error","code":404,"message":"claim not found"}
type wireError struct {
	Type    string `json:"type"`
	Code    uint16 `json:"code"`
	Message string `json:"message"`
}

// shape is the set of top-level keys a variant declares and the subset an
// object must carry to be that variant. Keys are compared exactly. Keys the
// variant does not declare are ignored.
type shape struct {
	keys     map[string]bool
	required []string
}

func shapeOf(t reflect.Type) shape {
	s := shape{keys: make(map[string]bool)}
	collectKeys(t, &s)
	slices.Sort(s.required)
	return s
}

func collectKeys(t reflect.Type, s *shape) {
	for i := range t.NumField() {
		f := t.Field(i)
		name, opts, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" && opts == "" {
			continue
		}
		if f.Anonymous && name == "" && f.Type.Kind() == reflect.Struct {
			collectKeys(f.Type, s)
			continue
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		s.keys[name] = true
		if !slices.Contains(strings.Split(opts, ","), "omitempty") {
			s.required = append(s.required, name)
		}
	}
}

func (s shape) match(obj map[string]json.RawMessage) error {
	for _, k := range s.required {
		if _, ok := obj[k]; !ok {
			return fmt.Errorf("missing field %q", k)
		}
	}
	return nil
}

// covers reports whether every key of o is also a key of s.
func (s shape) covers(o shape) bool {
	for k := range o.keys {
		if !s.keys[k] {
			return false
		}
	}
	return true
}

var (
	errorShape     = shapeOf(reflect.TypeOf(wireError{}))
	responseShapes = func() map[messages.ResponseType]shape {
		m := make(map[messages.ResponseType]shape)
		for _, rt := range messages.ResponseTypes() {
			v, _ := messages.NewResponse(rt)
			m[rt] = shapeOf(reflect.TypeOf(v).Elem())
		}
		return m
	}()
)

// encodeRequest renders req as its payload object with a "type" tag beside
// the payload fields.
func encodeRequest(req messages.Request) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", req.RequestType(), err)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, fmt.Errorf("flatten %s: %w", req.RequestType(), err)
	}
	if obj == nil {
		obj = make(map[string]json.RawMessage, 1)
	}
	if _, clash := obj["type"]; clash {
		return nil, fmt.Errorf("%s payload has a field named type", req.RequestType())
	}
	tag, err := json.Marshal(string(req.RequestType()))
	if err != nil {
		return nil, err
	}
	obj["type"] = tag
	return json.Marshal(obj)
}

// decodeEnvelope resolves body to exactly one of a structured error or a
// response. The error shape is tried first, then the response shapes. A body
// that matches nothing, or whose response shape cannot be singled out, is an
// error.
func decodeEnvelope(body []byte) (messages.Response, *wireError, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, nil, fmt.Errorf("decode envelope: %w", err)
	}
	if obj == nil {
		return nil, nil, errors.New("decode envelope: not a JSON object")
	}

	werr, shapeErr := decodeWireError(obj, body)
	if shapeErr == nil {
		return nil, werr, nil
	}

	resp, err := decodeResponse(obj, body)
	if err != nil {
		return nil, nil, fmt.Errorf("not an error object (%v) and not a response: %w", shapeErr, err)
	}
	return resp, nil, nil
}

func decodeWireError(obj map[string]json.RawMessage, body []byte) (*wireError, error) {
	if err := errorShape.match(obj); err != nil {
		return nil, err
	}
	var w wireError
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, err
	}
	if w.Type != errorTag {
		return nil, fmt.Errorf("type is %q", w.Type)
	}
	return &w, nil
}

func decodeResponse(obj map[string]json.RawMessage, body []byte) (messages.Response, error) {
	candidates := messages.ResponseTypes()

	// A success object may name its variant. The tag then narrows the
	// candidates to that one shape.
	if raw, tagged := obj["type"]; tagged {
		var tag string
		if err := json.Unmarshal(raw, &tag); err != nil {
			return nil, fmt.Errorf("response tag: %w", err)
		}
		rt := messages.ResponseType(tag)
		if _, ok := responseShapes[rt]; !ok {
			return nil, fmt.Errorf("unknown response tag %q", tag)
		}
		candidates = []messages.ResponseType{rt}
	}

	rt, err := selectShape(candidates, obj)
	if err != nil {
		return nil, err
	}
	resp, _ := messages.NewResponse(rt)
	if err := json.Unmarshal(body, resp); err != nil {
		return nil, fmt.Errorf("%s: %w", rt, err)
	}
	return resp, nil
}

// selectShape picks the candidate whose required keys obj carries. When
// several fit, the one whose keys cover all the others wins, so an agent
// config is not mistaken for the agent secret it contains. Anything else is
// ambiguous.
func selectShape(candidates []messages.ResponseType, obj map[string]json.RawMessage) (messages.ResponseType, error) {
	var (
		matched []messages.ResponseType
		errs    []error
	)
	for _, rt := range candidates {
		if err := responseShapes[rt].match(obj); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rt, err))
			continue
		}
		matched = append(matched, rt)
	}
	if len(matched) == 0 {
		return "", errors.Join(errs...)
	}

	for _, rt := range matched {
		best := responseShapes[rt]
		widest := true
		for _, other := range matched {
			if !best.covers(responseShapes[other]) {
				widest = false
				break
			}
		}
		if widest {
			return rt, nil
		}
	}
	return "", fmt.Errorf("ambiguous response: fits %v", matched)
}

// lossyText renders body for logs, replacing invalid UTF-8 with U+FFFD.
func lossyText(body []byte) string {
	return strings.ToValidUTF8(string(body), "�")
}
