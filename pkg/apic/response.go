package apic

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Attributes is the flat attribute map of one managed object. Non-string
// JSON values are kept in their textual form.
type Attributes map[string]string

// UnmarshalJSON accepts string, number, boolean and null values
func (a *Attributes) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	out := make(Attributes, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = val
		case json.Number:
			out[k] = val.String()
		case bool:
			out[k] = strconv.FormatBool(val)
		default:
			b, err := json.Marshal(val)
			if err != nil {
				return err
			}
			out[k] = string(b)
		}
	}
	*a = out
	return nil
}

// Record is one imdata element: the object class and its attributes
type Record struct {
	Class      string
	Attributes Attributes
}

// Response is a decoded controller query response
type Response struct {
	TotalCount     int
	SubscriptionID string
	Records        []Record
}

type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

type object struct {
	Attributes Attributes `json:"attributes"`
}

type rawResponse struct {
	TotalCount     flexInt             `json:"totalCount"`
	SubscriptionID string              `json:"subscriptionId"`
	Imdata         []map[string]object `json:"imdata"`
}

// ParseResponse decodes a query response body. An imdata element keyed
// "error" turns the whole response into a MalformedResponseError.
func ParseResponse(path string, body []byte) (*Response, error) {
	var raw rawResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &MalformedResponseError{Path: path, Reason: err.Error()}
	}

	resp := &Response{
		TotalCount:     int(raw.TotalCount),
		SubscriptionID: raw.SubscriptionID,
		Records:        make([]Record, 0, len(raw.Imdata)),
	}

	for i, item := range raw.Imdata {
		if len(item) != 1 {
			return nil, &MalformedResponseError{
				Path:   path,
				Reason: fmt.Sprintf("imdata[%d] has %d keys", i, len(item)),
			}
		}
		for class, obj := range item {
			if class == "error" {
				return nil, &MalformedResponseError{
					Path:   path,
					Code:   obj.Attributes["code"],
					Reason: obj.Attributes["text"],
				}
			}
			resp.Records = append(resp.Records, Record{Class: class, Attributes: obj.Attributes})
		}
	}

	return resp, nil
}

// First returns the attributes of the first record of class, or nil
func (r *Response) First(class string) Attributes {
	for _, rec := range r.Records {
		if rec.Class == class {
			return rec.Attributes
		}
	}
	return nil
}

// errorFromBody extracts a controller error object when a non-2xx response
// carries one
func errorFromBody(body []byte) (code, text string) {
	var raw rawResponse
	if json.Unmarshal(body, &raw) != nil {
		return "", ""
	}
	for _, item := range raw.Imdata {
		if obj, ok := item["error"]; ok {
			return obj.Attributes["code"], obj.Attributes["text"]
		}
	}
	return "", ""
}
