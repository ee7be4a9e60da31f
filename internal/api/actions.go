package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"smartbox/internal/action"
	"smartbox/internal/bridge"
)

const maxEnvelopeBytes = 1 << 20

// postAction runs one envelope through the bridge and returns its reply.
// The HTTP status is 200 whenever an outcome was produced; the outcome
// itself says whether the action succeeded.
func (d Dependencies) postAction(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEnvelopeBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, "too_large", "Envelope too large", d.Log)
			return
		}
		WriteError(w, http.StatusBadRequest, "invalid_request", "Could not read body", d.Log)
		return
	}

	env, err := bridge.Decode(r.Context(), raw, d.Envelopes)
	if err != nil {
		d.Log.Warn("Rejected malformed envelope", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, bridge.Reply{
			Type:    "outcome",
			Outcome: action.Rejected(action.ReasonInvalidEnvelope, err.Error()),
		})
		return
	}

	writeJSON(w, http.StatusOK, d.Bridge.Handle(r.Context(), env))
}

type actionInfo struct {
	Action               string `json:"action"`
	RequiresConfirmation bool   `json:"requiresConfirmation"`
	FormData             string `json:"formData"`
	Async                bool   `json:"async"`
}

func (d Dependencies) listActions(w http.ResponseWriter, r *http.Request) {
	canonical := d.Registry.Actions()
	out := make([]actionInfo, 0, len(canonical))
	for _, c := range canonical {
		desc, ok := d.Registry.Resolve(c)
		if !ok {
			continue
		}
		out = append(out, actionInfo{
			Action:               c.String(),
			RequiresConfirmation: desc.RequiresConfirmation,
			FormData:             desc.FormData.String(),
			Async:                desc.Async,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"actions": out})
}

func (d Dependencies) getSettings(w http.ResponseWriter, r *http.Request) {
	m := d.Store.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version": m.Version,
		"fields":  d.Codec.Encode(m),
	})
}

func (d Dependencies) health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ok"}
	if d.Hub != nil {
		resp["connections"] = d.Hub.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
