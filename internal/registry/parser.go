package registry

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/ashita-ai/kensa/internal/model"
)

// ErrNoRecord is returned when a payload parses but carries no identifier.
var ErrNoRecord = errors.New("registry: no record in response")

// Parser turns one wire format into a RegistryRecord.
type Parser interface {
	Parse(raw []byte) (model.RegistryRecord, error)
}

var jsonpWrapper = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*\(([\s\S]*)\);?$`)

// StripJSONP removes a callback(...) wrapper if present.
func StripJSONP(raw []byte) []byte {
	trimmed := bytes.TrimSpace(raw)
	if m := jsonpWrapper.FindSubmatch(trimmed); m != nil && len(bytes.TrimSpace(m[1])) > 0 {
		return bytes.TrimSpace(m[1])
	}
	return raw
}

// JSONParser handles the JSON endpoint, with or without a JSONP wrapper. It
// accepts both the flat AbnDetails shape and the nested Response.ResponseBody
// shape.
type JSONParser struct{}

type abrJSONBody struct {
	ABN          string          `json:"ABN"`
	ABNStatus    string          `json:"ABNStatus"`
	Abn          string          `json:"Abn"`
	AbnStatus    string          `json:"AbnStatus"`
	EntityName   string          `json:"EntityName"`
	BusinessName json.RawMessage `json:"BusinessName"`
	PreviousAbn  []string        `json:"PreviousAbn"`
	Gst          json.RawMessage `json:"Gst"`
	AddressState string          `json:"AddressState"`
	AddressPost  string          `json:"AddressPostcode"`
	MainAddress  *struct {
		State    string `json:"State"`
		Postcode string `json:"Postcode"`
	} `json:"MainBusinessAddress"`
}

type abrJSONEnvelope struct {
	Response *struct {
		ResponseBody *abrJSONBody `json:"ResponseBody"`
	} `json:"Response"`
}

func (JSONParser) Parse(raw []byte) (model.RegistryRecord, error) {
	payload := StripJSONP(raw)

	var env abrJSONEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return model.RegistryRecord{}, fmt.Errorf("registry: parse json: %w", err)
	}
	var body abrJSONBody
	if env.Response != nil && env.Response.ResponseBody != nil {
		body = *env.Response.ResponseBody
	} else if err := json.Unmarshal(payload, &body); err != nil {
		return model.RegistryRecord{}, fmt.Errorf("registry: parse json: %w", err)
	}

	rec := model.RegistryRecord{
		Identifier:  firstNonEmpty(body.ABN, body.Abn),
		Status:      firstNonEmpty(body.ABNStatus, body.AbnStatus),
		EntityName:  optional(body.EntityName),
		PreviousIDs: body.PreviousAbn,
		Raw:         append([]byte(nil), payload...),
	}
	if rec.Identifier == "" {
		return model.RegistryRecord{}, ErrNoRecord
	}

	rec.BusinessNames = decodeNames(body.BusinessName)
	applyGST(&rec, body.Gst)
	if body.MainAddress != nil {
		rec.State = optional(body.MainAddress.State)
		rec.Postcode = optional(body.MainAddress.Postcode)
	} else {
		rec.State = optional(body.AddressState)
		rec.Postcode = optional(body.AddressPost)
	}
	return rec, nil
}

// decodeNames accepts either ["a","b"] or "a".
func decodeNames(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return compact(list)
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil && one != "" {
		return []string{one}
	}
	return nil
}

// applyGST accepts {"GstFlag":..,"GstEffectiveFrom":..} or a bare date string.
func applyGST(rec *model.RegistryRecord, raw json.RawMessage) {
	if len(raw) == 0 || string(raw) == "null" {
		return
	}
	var obj struct {
		GstFlag          string `json:"GstFlag"`
		GstEffectiveFrom string `json:"GstEffectiveFrom"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		rec.GSTEffectiveFrom = optional(obj.GstEffectiveFrom)
		if obj.GstFlag != "" {
			registered := strings.EqualFold(obj.GstFlag, "y") || strings.EqualFold(obj.GstFlag, "true")
			rec.GSTRegistered = &registered
		}
		return
	}
	var date string
	if err := json.Unmarshal(raw, &date); err == nil && date != "" {
		registered := true
		rec.GSTRegistered = &registered
		rec.GSTEffectiveFrom = &date
	}
}

// SOAPParser handles SOAP/XML search responses. Element matching ignores
// namespaces and case, so prefixed and unprefixed payloads parse alike.
type SOAPParser struct{}

func (SOAPParser) Parse(raw []byte) (model.RegistryRecord, error) {
	fields, err := collectXML(raw)
	if err != nil {
		return model.RegistryRecord{}, err
	}

	rec := model.RegistryRecord{
		Identifier:       fields.first("abn"),
		Status:           fields.first("abnstatus"),
		EntityName:       optional(firstNonEmpty(fields.first("entityname"), fields.first("legalname"))),
		BusinessNames:    compact(fields.all("businessname")),
		PreviousIDs:      compact(fields.all("previousabn")),
		GSTEffectiveFrom: optional(fields.first("gsteffectivefrom")),
		State:            optional(fields.first("state")),
		Postcode:         optional(fields.first("postcode")),
		Raw:              append([]byte(nil), raw...),
	}
	if flag := fields.first("gstflag"); flag != "" {
		registered := strings.EqualFold(flag, "y") || strings.EqualFold(flag, "true")
		rec.GSTRegistered = &registered
	}
	if rec.Identifier == "" {
		return model.RegistryRecord{}, ErrNoRecord
	}
	return rec, nil
}

type xmlFields map[string][]string

func (f xmlFields) first(name string) string {
	if v := f[name]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func (f xmlFields) all(name string) []string { return f[name] }

// collectXML records the trimmed text content of every element, keyed by
// lower-cased local name, in document order.
func collectXML(raw []byte) (xmlFields, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.Strict = false

	type open struct {
		name string
		text strings.Builder
	}
	var stack []*open
	fields := xmlFields{}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("registry: parse xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, &open{name: strings.ToLower(t.Name.Local)})
		case xml.CharData:
			for _, o := range stack {
				o.text.Write(t)
			}
		case xml.EndElement:
			if len(stack) == 0 {
				continue
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			fields[top.name] = append(fields[top.name], strings.TrimSpace(top.text.String()))
		}
	}
	return fields, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func compact(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
