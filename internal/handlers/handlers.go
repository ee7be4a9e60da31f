// Package handlers implements the actions the UI can send and registers
// them with an action registry.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"smartbox/internal/action"
	"smartbox/internal/capture"
	"smartbox/internal/config"
	"smartbox/internal/dicom"
	"smartbox/internal/retention"
	"smartbox/internal/settings"
	"smartbox/internal/storage"
)

// Notifier pushes events to connected UIs.
type Notifier interface {
	Publish(event string, data map[string]interface{})
}

// Cleaner runs a retention sweep on demand.
type Cleaner interface {
	Run(ctx context.Context, force bool) (retention.Result, error)
}

// SystemInfo is reported by getSystemInfo.
type SystemInfo struct {
	Version     string
	Environment string
}

const captureTimeout = 10 * time.Second

// Handlers holds the dependencies shared by all actions.
type Handlers struct {
	store    *config.Store
	codec    *settings.Codec
	prober   dicom.Prober
	capture  *capture.Manager
	cleaner  Cleaner
	notifier Notifier
	info     SystemInfo
	exit     func()
	log      *zap.Logger

	probeTimeout time.Duration
}

// Deps are the collaborators of NewHandlers. Notifier and Exit may be nil.
type Deps struct {
	Store        *config.Store
	Codec        *settings.Codec
	Prober       dicom.Prober
	Capture      *capture.Manager
	Cleaner      Cleaner
	Notifier     Notifier
	Info         SystemInfo
	Exit         func()
	ProbeTimeout time.Duration
}

func NewHandlers(d Deps, log *zap.Logger) *Handlers {
	h := &Handlers{
		store:        d.Store,
		codec:        d.Codec,
		prober:       d.Prober,
		capture:      d.Capture,
		cleaner:      d.Cleaner,
		notifier:     d.Notifier,
		info:         d.Info,
		exit:         d.Exit,
		log:          log,
		probeTimeout: d.ProbeTimeout,
	}
	if h.codec == nil {
		h.codec = settings.NewCodec()
	}
	if h.notifier == nil {
		h.notifier = nopNotifier{}
	}
	if h.exit == nil {
		h.exit = func() {}
	}
	return h
}

type nopNotifier struct{}

func (nopNotifier) Publish(string, map[string]interface{}) {}

var importSchema = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"document"},
	"properties": map[string]interface{}{
		"document": map[string]interface{}{"type": "string", "minLength": 2},
	},
}

var captureSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"deviceId": map[string]interface{}{"type": "string"},
		"quality":  map[string]interface{}{"type": "number", "minimum": 1, "maximum": 100},
	},
}

// Descriptors lists every action the host serves.
func (h *Handlers) Descriptors() []action.Descriptor {
	return []action.Descriptor{
		{Name: "ping", Handler: h.ping},
		{Name: "getSystemInfo", Handler: h.getSystemInfo},
		{Name: "openSettings", Handler: h.openSettings},
		{Name: "closeSettings", Handler: h.closeSettings},
		{Name: "getSettings", Handler: h.getSettings},
		{
			Name:       "saveSettings",
			Handler:    h.saveSettings,
			FormData:   action.CollectFullForm,
			FormFields: h.codec.RequiredFieldIDs(),
		},
		{Name: "resetSettings", Handler: h.resetSettings, RequiresConfirmation: true},
		{Name: "exportConfig", Handler: h.exportConfig},
		{
			Name:                 "importConfig",
			Handler:              h.importConfig,
			RequiresConfirmation: true,
			FormData:             action.UseGivenPayload,
			PayloadSchema:        importSchema,
		},
		{
			Name:     "testPacsConnection",
			Handler:  h.testPacsConnection,
			FormData: action.UseGivenPayload,
			Async:    true,
			Timeout:  h.probeTimeout,
		},
		{
			Name:     "testMwlConnection",
			Handler:  h.testMwlConnection,
			FormData: action.UseGivenPayload,
			Async:    true,
			Timeout:  h.probeTimeout,
		},
		{Name: "getCameras", Handler: h.getCameras},
		{
			Name:          "capturePhoto",
			Handler:       h.capturePhoto,
			FormData:      action.UseGivenPayload,
			PayloadSchema: captureSchema,
			Async:         true,
			Timeout:       captureTimeout,
		},
		{Name: "runCleanup", Handler: h.runCleanup},
		{Name: "cancel", Handler: h.cancel},
		{Name: "exit", Handler: h.exitApp, RequiresConfirmation: true},
	}
}

// Register adds every action to reg. A duplicate is returned as is and is
// fatal at startup.
func Register(reg *action.Registry, h *Handlers) error {
	if err := reg.RegisterAll(h.Descriptors()...); err != nil {
		return fmt.Errorf("register actions: %w", err)
	}
	return nil
}

func (h *Handlers) ping(ctx context.Context, req *action.Request) action.Outcome {
	return action.Ok(map[string]interface{}{
		"pong": true,
		"time": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (h *Handlers) getSystemInfo(ctx context.Context, req *action.Request) action.Outcome {
	m := h.store.Snapshot()
	return action.Ok(map[string]interface{}{
		"version":       h.info.Version,
		"environment":   h.info.Environment,
		"dicomEnabled":  m.Pacs.Enabled() || m.MwlSettings.Enabled(),
		"pacsEnabled":   m.Pacs.Enabled(),
		"mwlEnabled":    m.MwlSettings.Enabled(),
		"configVersion": m.Version,
		"cameras":       len(h.capture.Devices()),
	})
}

func (h *Handlers) openSettings(ctx context.Context, req *action.Request) action.Outcome {
	fields := h.codec.Encode(h.store.Snapshot())
	h.notifier.Publish("settings.opened", nil)
	return action.Ok(map[string]interface{}{"fields": map[string]interface{}(fields)})
}

func (h *Handlers) closeSettings(ctx context.Context, req *action.Request) action.Outcome {
	h.notifier.Publish("settings.closed", nil)
	return action.Ok(nil)
}

func (h *Handlers) getSettings(ctx context.Context, req *action.Request) action.Outcome {
	return h.settingsResult(h.store.Snapshot())
}

func (h *Handlers) settingsResult(m *config.Model) action.Outcome {
	return action.Ok(map[string]interface{}{
		"version": m.Version,
		"fields":  map[string]interface{}(h.codec.Encode(m)),
	})
}

// saveSettings applies a full form snapshot. Any invalid field rejects the
// whole save and the stored configuration stays as it was.
func (h *Handlers) saveSettings(ctx context.Context, req *action.Request) action.Outcome {
	patch, err := h.codec.DecodeFull(settings.FormFieldMap(req.Payload))
	if err != nil {
		return h.validationFailure(err)
	}

	if err := h.store.Update(ctx, patch.Apply); err != nil {
		if isValidation(err) {
			return h.validationFailure(err)
		}
		return storeFailure(err)
	}
	return h.settingsResult(h.store.Snapshot())
}

func (h *Handlers) resetSettings(ctx context.Context, req *action.Request) action.Outcome {
	if err := h.store.Reset(ctx); err != nil {
		return storeFailure(err)
	}
	return h.settingsResult(h.store.Snapshot())
}

func (h *Handlers) exportConfig(ctx context.Context, req *action.Request) action.Outcome {
	raw, err := h.store.Export()
	if err != nil {
		return storeFailure(err)
	}
	return action.Ok(map[string]interface{}{"document": string(raw)})
}

func (h *Handlers) importConfig(ctx context.Context, req *action.Request) action.Outcome {
	doc := cast.ToString(req.Payload["document"])
	applied, err := h.store.Import(ctx, []byte(doc))
	if err != nil {
		if isValidation(err) {
			return h.validationFailure(err)
		}
		return action.Failed(action.ReasonValidation, err.Error())
	}
	return action.Ok(map[string]interface{}{
		"applied": applied,
		"version": h.store.Snapshot().Version,
	})
}

func (h *Handlers) testPacsConnection(ctx context.Context, req *action.Request) action.Outcome {
	m, failed := h.probeModel(req)
	if failed != nil {
		return *failed
	}
	if !m.Pacs.Enabled() {
		return action.Failed(action.ReasonUnavailable, "PACS is not enabled")
	}
	return h.probe(ctx, "pacs", m.Pacs.Endpoint())
}

func (h *Handlers) testMwlConnection(ctx context.Context, req *action.Request) action.Outcome {
	m, failed := h.probeModel(req)
	if failed != nil {
		return *failed
	}
	if !m.MwlSettings.Enabled() {
		return action.Failed(action.ReasonUnavailable, "worklist is not enabled")
	}
	return h.probe(ctx, "mwl", m.MwlSettings.Endpoint())
}

// probeModel returns the stored configuration with any form values from the
// payload laid over it, so unsaved settings can be tested. Nothing is saved.
func (h *Handlers) probeModel(req *action.Request) (*config.Model, *action.Outcome) {
	m := h.store.Snapshot()
	if len(req.Payload) == 0 {
		return m, nil
	}
	patch, err := h.codec.Decode(settings.FormFieldMap(req.Payload))
	if err == nil {
		err = patch.Apply(m)
	}
	if err != nil {
		o := h.validationFailure(err)
		return nil, &o
	}
	return m, nil
}

func (h *Handlers) probe(ctx context.Context, target string, ep config.Endpoint) action.Outcome {
	if ep.Host == "" {
		return action.Failed(action.ReasonValidation, target+" host is not set")
	}
	if err := config.CheckPort(target+".port", ep.Port); err != nil {
		return h.validationFailure(err)
	}

	start := time.Now()
	err := h.prober.Probe(ctx, ep)
	elapsed := time.Since(start)
	if err != nil {
		kind := dicom.Categorize(err)
		h.log.Info("Connection test failed",
			zap.String("target", target),
			zap.String("host", ep.Host),
			zap.Int("port", ep.Port),
			zap.String("category", string(kind)),
			zap.Error(err),
		)
		return action.Failed(probeReason(kind), err.Error())
	}

	h.log.Info("Connection test succeeded",
		zap.String("target", target),
		zap.String("host", ep.Host),
		zap.Int("port", ep.Port),
		zap.Duration("elapsed", elapsed),
	)
	return action.Ok(map[string]interface{}{
		"host":          ep.Host,
		"port":          ep.Port,
		"calledAeTitle": ep.CalledAETitle,
		"elapsedMs":     elapsed.Milliseconds(),
	})
}

func probeReason(t dicom.ErrorType) action.Reason {
	switch t {
	case dicom.ErrorNetwork:
		return action.ReasonNetwork
	case dicom.ErrorTimeout:
		return action.ReasonTimeout
	case dicom.ErrorRejected:
		return action.ReasonPeerRejected
	default:
		return action.ReasonUnavailable
	}
}

func (h *Handlers) getCameras(ctx context.Context, req *action.Request) action.Outcome {
	devices := h.capture.Devices()
	cameras := make([]interface{}, 0, len(devices))
	for _, d := range devices {
		cameras = append(cameras, map[string]interface{}{"id": d.ID, "name": d.Name, "type": d.Type})
	}
	return action.Ok(map[string]interface{}{
		"cameras":  cameras,
		"selected": h.store.Snapshot().Video.DeviceID(),
	})
}

func (h *Handlers) capturePhoto(ctx context.Context, req *action.Request) action.Outcome {
	m := h.store.Snapshot()
	deviceID := m.Video.DeviceID()
	if v := cast.ToString(req.Payload["deviceId"]); v != "" {
		deviceID = v
	}
	quality := m.Video.JpegQuality()
	if v, ok := req.Payload["quality"]; ok {
		quality = cast.ToInt(v)
	}

	meta, err := h.capture.Capture(ctx, deviceID, m.Storage.PhotosPath(), quality)
	switch {
	case errors.Is(err, capture.ErrDeviceNotFound):
		return action.Failed(action.ReasonNotFound, err.Error())
	case errors.Is(err, storage.ErrPolicyViolation):
		return action.Failed(action.ReasonValidation, err.Error())
	case err != nil:
		return action.Failed(action.ReasonUnavailable, err.Error())
	}
	h.notifier.Publish("capture.stored", meta.ToMap())
	return action.Ok(meta.ToMap())
}

func (h *Handlers) runCleanup(ctx context.Context, req *action.Request) action.Outcome {
	res, err := h.cleaner.Run(ctx, true)
	if err != nil {
		return action.Failed(action.ReasonInternal, err.Error())
	}
	return action.Ok(res.ToMap())
}

func (h *Handlers) cancel(ctx context.Context, req *action.Request) action.Outcome {
	h.notifier.Publish("ui.cancelled", nil)
	return action.Ok(map[string]interface{}{"cancelled": true})
}

// exitApp replies first; the shutdown it triggers is asynchronous.
func (h *Handlers) exitApp(ctx context.Context, req *action.Request) action.Outcome {
	h.log.Info("Exit requested from UI", zap.String("id", req.ID))
	h.exit()
	return action.Ok(map[string]interface{}{"exiting": true})
}

func isValidation(err error) bool {
	var ve *config.ValidationError
	return errors.As(err, &ve)
}

// validationFailure lists the rejected fields by kind, keyed by form field
// id where the form has one.
func (h *Handlers) validationFailure(err error) action.Outcome {
	fields := map[string]interface{}{}
	h.collectValidation(err, fields)
	o := action.Failed(action.ReasonValidation, err.Error())
	if len(fields) > 0 {
		o.Result = map[string]interface{}{"fields": fields}
	}
	return o
}

func (h *Handlers) collectValidation(err error, into map[string]interface{}) {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, inner := range joined.Unwrap() {
			h.collectValidation(inner, into)
		}
		return
	}
	var ve *config.ValidationError
	if !errors.As(err, &ve) {
		return
	}
	key := ve.Field
	var fe *settings.FieldError
	if errors.As(err, &fe) {
		key = fe.ID
	} else if id, ok := h.codec.FieldForPath(ve.Field); ok {
		key = id
	}
	into[key] = string(ve.Kind)
}

func storeFailure(err error) action.Outcome {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return action.Failed(action.ReasonUnavailable, "configuration is busy")
	}
	return action.Failed(action.ReasonInternal, "could not save configuration")
}
