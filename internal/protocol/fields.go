package protocol

import "encoding/json"

// Message keys shared by every request and response.
const (
	KeyAction  = "action"
	KeyContent = "content"
	KeyStatus  = "status"

	KeyFilter  = "filter"
	KeyProduct = "product"
	KeyMin     = "min"
	KeyMax     = "max"
	KeyAddress = "address"
	KeyRating  = "rating"
	KeyDate    = "date"
	KeyID      = "id"
)

// Action identifiers carried in the action field.
const (
	ActionAddFilter             = "add_filter"
	ActionAddProduct            = "add_product"
	ActionAddRating             = "add_rating"
	ActionGetFiltersAndProducts = "get_filters_and_products"
	ActionGetRatings            = "get_ratings"
)

// Response status codes.
const (
	StatusOK    = 200
	StatusError = 400
)

// NewRequest builds one client request envelope. A nil content is allowed for
// actions that carry none.
func NewRequest(action string, content map[string]any) map[string]any {
	msg := map[string]any{KeyAction: action}
	if content != nil {
		msg[KeyContent] = content
	}
	return msg
}

// NewResponse builds one server response envelope. Failure responses carry no
// content key.
func NewResponse(action string, status int, content any) map[string]any {
	msg := map[string]any{
		KeyAction: action,
		KeyStatus: status,
	}
	if status == StatusOK {
		msg[KeyContent] = content
	}
	return msg
}

// Action returns the action field, or "" when absent or not a string.
func Action(msg map[string]any) string {
	s, _ := msg[KeyAction].(string)
	return s
}

// Status returns the status field of a response, or 0 when absent.
func Status(msg map[string]any) int {
	n, ok := Number(msg, KeyStatus)
	if !ok {
		return 0
	}
	return int(n)
}

// Content returns the content field as an object, or nil when absent or of a
// different shape.
func Content(msg map[string]any) map[string]any {
	m, _ := msg[KeyContent].(map[string]any)
	return m
}

// ContentList returns the content field as an array of objects.
func ContentList(msg map[string]any) []map[string]any {
	raw, ok := msg[KeyContent].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// String returns a string field from a decoded object.
func String(obj map[string]any, key string) (string, bool) {
	s, ok := obj[key].(string)
	return s, ok
}

// Number returns a numeric field from a decoded object. Decoded JSON numbers
// arrive as json.Number when the frame codec parsed them and as float64 when
// the message was built in-process.
func Number(obj map[string]any, key string) (float64, bool) {
	switch v := obj[key].(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// OptionalNumber distinguishes a missing or null field from a present one.
func OptionalNumber(obj map[string]any, key string) *float64 {
	if v, ok := obj[key]; !ok || v == nil {
		return nil
	}
	n, ok := Number(obj, key)
	if !ok {
		return nil
	}
	return &n
}
