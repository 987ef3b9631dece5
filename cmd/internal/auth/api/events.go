package authapi

import (
	"fmt"
	"net/http"
	"sort"

	"netreaper/cmd/security/sanitize"
)

// Event is a telemetry or action record posted by a paired client. Known
// fields are lifted out; everything else rides along in Extra with
// credential-named keys removed and string values redacted.
type Event struct {
	Type     string
	DeviceID string
	Name     string
	TS       string
	Subject  string
	Extra    map[string]any
	Dropped  int
}

func (h *Handler) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	h.handleEvent(w, r, "telemetry", "kind")
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	h.handleEvent(w, r, "action", "action")
}

func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request, typ, nameKey string) {
	var body map[string]any
	if err := decodeLoose(w, r, h.cfg.MaxBodyBytes, &body); err != nil || body == nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be a JSON object")
		return
	}

	ev := newEvent(typ, nameKey, body)
	ev.Subject = claimsFrom(r.Context()).Subject

	h.log.Info(typ+".received",
		"subject", ev.Subject,
		"device_id", ev.DeviceID,
		nameKey, ev.Name,
		"ts", ev.TS,
		"fields", ev.Extra,
		"dropped_keys", ev.Dropped,
	)
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func newEvent(typ, nameKey string, body map[string]any) Event {
	ev := Event{Type: typ, Extra: make(map[string]any, len(body))}

	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := body[k]
		if sanitize.SecretKey(k) {
			ev.Dropped++
			continue
		}
		switch k {
		case "device_id", "deviceId":
			if ev.DeviceID == "" {
				ev.DeviceID = sanitize.Redact(scalar(v))
				continue
			}
		case nameKey:
			ev.Name = sanitize.Redact(scalar(v))
			continue
		case "ts":
			ev.TS = scalar(v)
			continue
		}
		clean, dropped := scrub(v)
		ev.Dropped += dropped
		ev.Extra[k] = clean
	}
	return ev
}

// scrub removes credential-named keys at any depth and redacts strings.
func scrub(v any) (any, int) {
	switch t := v.(type) {
	case string:
		return sanitize.Redact(t), 0
	case map[string]any:
		out := make(map[string]any, len(t))
		n := 0
		for k, inner := range t {
			if sanitize.SecretKey(k) {
				n++
				continue
			}
			clean, d := scrub(inner)
			n += d
			out[k] = clean
		}
		return out, n
	case []any:
		out := make([]any, len(t))
		n := 0
		for i, inner := range t {
			clean, d := scrub(inner)
			n += d
			out[i] = clean
		}
		return out, n
	default:
		return v, 0
	}
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
