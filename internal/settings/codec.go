// Package settings maps the flat field collection used by the settings form
// onto the nested configuration model and back.
package settings

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/spf13/cast"

	"smartbox/internal/config"
)

// FormFieldMap is the transport shape between the settings form and the
// codec: UI field id to scalar value.
type FormFieldMap map[string]interface{}

type fieldKind int

const (
	kindString fieldKind = iota
	kindInt
	kindBool
)

type field struct {
	id   string
	kind fieldKind
	get  func(m *config.Model) interface{}
	set  func(m *config.Model, v interface{}) error
}

func str(id string, get func(m *config.Model) string, set func(m *config.Model, v string) error) field {
	return field{
		id:   id,
		kind: kindString,
		get:  func(m *config.Model) interface{} { return get(m) },
		set:  func(m *config.Model, v interface{}) error { return set(m, v.(string)) },
	}
}

func num(id string, get func(m *config.Model) int, set func(m *config.Model, v int) error) field {
	return field{
		id:   id,
		kind: kindInt,
		get:  func(m *config.Model) interface{} { return get(m) },
		set:  func(m *config.Model, v interface{}) error { return set(m, v.(int)) },
	}
}

func flag(id string, get func(m *config.Model) bool, set func(m *config.Model, v bool) error) field {
	return field{
		id:   id,
		kind: kindBool,
		get:  func(m *config.Model) interface{} { return get(m) },
		set:  func(m *config.Model, v interface{}) error { return set(m, v.(bool)) },
	}
}

func always(fn func()) error {
	fn()
	return nil
}

// Field ids for the retention pair, applied together so that enabling
// cleanup and raising the retention in one save is accepted.
const (
	fieldRetentionDays     = "storage-retention-days"
	fieldEnableAutoCleanup = "storage-enable-auto-cleanup"
)

var fields = []field{
	str("application-language",
		func(m *config.Model) string { return m.Application.Language() },
		func(m *config.Model, v string) error { return m.Application.SetLanguage(v) }),
	str("application-log-level",
		func(m *config.Model) string { return m.Application.LogLevel() },
		func(m *config.Model, v string) error { return m.Application.SetLogLevel(v) }),
	flag("application-kiosk-mode",
		func(m *config.Model) bool { return m.Application.KioskMode() },
		func(m *config.Model, v bool) error { return always(func() { m.Application.SetKioskMode(v) }) }),
	flag("application-dark-mode",
		func(m *config.Model) bool { return m.Application.DarkMode() },
		func(m *config.Model, v bool) error { return always(func() { m.Application.SetDarkMode(v) }) }),

	str("dicom-ae-title",
		func(m *config.Model) string { return m.Dicom.AETitle() },
		func(m *config.Model, v string) error { return m.Dicom.SetAETitle(v) }),
	str("dicom-station-name",
		func(m *config.Model) string { return m.Dicom.StationName() },
		func(m *config.Model, v string) error { return m.Dicom.SetStationName(v) }),
	str("dicom-modality",
		func(m *config.Model) string { return m.Dicom.Modality() },
		func(m *config.Model, v string) error { return m.Dicom.SetModality(v) }),
	str("dicom-institution-name",
		func(m *config.Model) string { return m.Dicom.InstitutionName() },
		func(m *config.Model, v string) error { return always(func() { m.Dicom.SetInstitutionName(v) }) }),
	num("dicom-local-port",
		func(m *config.Model) int { return m.Dicom.LocalPort() },
		func(m *config.Model, v int) error { return m.Dicom.SetLocalPort(v) }),

	str("storage-photos-path",
		func(m *config.Model) string { return m.Storage.PhotosPath() },
		func(m *config.Model, v string) error { return m.Storage.SetPhotosPath(v) }),
	str("storage-videos-path",
		func(m *config.Model) string { return m.Storage.VideosPath() },
		func(m *config.Model, v string) error { return m.Storage.SetVideosPath(v) }),
	str("storage-dicom-path",
		func(m *config.Model) string { return m.Storage.DicomPath() },
		func(m *config.Model, v string) error { return m.Storage.SetDicomPath(v) }),
	num(fieldRetentionDays,
		func(m *config.Model) int { return m.Storage.RetentionDays() },
		func(m *config.Model, v int) error { return m.Storage.SetRetentionDays(v) }),
	flag(fieldEnableAutoCleanup,
		func(m *config.Model) bool { return m.Storage.EnableAutoCleanup() },
		func(m *config.Model, v bool) error { return m.Storage.SetEnableAutoCleanup(v) }),

	flag("pacs-enabled",
		func(m *config.Model) bool { return m.Pacs.Enabled() },
		func(m *config.Model, v bool) error { return always(func() { m.Pacs.SetEnabled(v) }) }),
	str("pacs-host",
		func(m *config.Model) string { return m.Pacs.Host() },
		func(m *config.Model, v string) error { return always(func() { m.Pacs.SetHost(v) }) }),
	num("pacs-port",
		func(m *config.Model) int { return m.Pacs.Port() },
		func(m *config.Model, v int) error { return m.Pacs.SetPort(v) }),
	str("pacs-called-ae-title",
		func(m *config.Model) string { return m.Pacs.CalledAETitle() },
		func(m *config.Model, v string) error { return m.Pacs.SetCalledAETitle(v) }),
	str("pacs-calling-ae-title",
		func(m *config.Model) string { return m.Pacs.CallingAETitle() },
		func(m *config.Model, v string) error { return m.Pacs.SetCallingAETitle(v) }),
	num("pacs-timeout",
		func(m *config.Model) int { return m.Pacs.TimeoutSeconds() },
		func(m *config.Model, v int) error { return m.Pacs.SetTimeoutSeconds(v) }),
	num("pacs-max-retries",
		func(m *config.Model) int { return m.Pacs.MaxRetries() },
		func(m *config.Model, v int) error { return m.Pacs.SetMaxRetries(v) }),
	num("pacs-retry-delay",
		func(m *config.Model) int { return m.Pacs.RetryDelaySeconds() },
		func(m *config.Model, v int) error { return m.Pacs.SetRetryDelaySeconds(v) }),
	flag("pacs-use-tls",
		func(m *config.Model) bool { return m.Pacs.UseTLS() },
		func(m *config.Model, v bool) error { return always(func() { m.Pacs.SetUseTLS(v) }) }),

	flag("mwl-enabled",
		func(m *config.Model) bool { return m.MwlSettings.Enabled() },
		func(m *config.Model, v bool) error { return always(func() { m.MwlSettings.SetEnabled(v) }) }),
	str("mwl-host",
		func(m *config.Model) string { return m.MwlSettings.Host() },
		func(m *config.Model, v string) error { return always(func() { m.MwlSettings.SetHost(v) }) }),
	num("mwl-port",
		func(m *config.Model) int { return m.MwlSettings.Port() },
		func(m *config.Model, v int) error { return m.MwlSettings.SetPort(v) }),
	str("mwl-called-ae-title",
		func(m *config.Model) string { return m.MwlSettings.CalledAETitle() },
		func(m *config.Model, v string) error { return m.MwlSettings.SetCalledAETitle(v) }),
	str("mwl-calling-ae-title",
		func(m *config.Model) string { return m.MwlSettings.CallingAETitle() },
		func(m *config.Model, v string) error { return m.MwlSettings.SetCallingAETitle(v) }),
	num("mwl-timeout",
		func(m *config.Model) int { return m.MwlSettings.TimeoutSeconds() },
		func(m *config.Model, v int) error { return m.MwlSettings.SetTimeoutSeconds(v) }),
	str("mwl-query-period",
		func(m *config.Model) string { return string(m.MwlSettings.QueryPeriod()) },
		func(m *config.Model, v string) error { return m.MwlSettings.SetQueryPeriod(config.QueryPeriod(v)) }),
	num("mwl-query-days-before",
		func(m *config.Model) int { return m.MwlSettings.QueryDaysBefore() },
		func(m *config.Model, v int) error { return m.MwlSettings.SetQueryDaysBefore(v) }),
	num("mwl-query-days-after",
		func(m *config.Model) int { return m.MwlSettings.QueryDaysAfter() },
		func(m *config.Model, v int) error { return m.MwlSettings.SetQueryDaysAfter(v) }),

	str("video-device-id",
		func(m *config.Model) string { return m.Video.DeviceID() },
		func(m *config.Model, v string) error { return always(func() { m.Video.SetDeviceID(v) }) }),
	str("video-resolution",
		func(m *config.Model) string { return m.Video.Resolution() },
		func(m *config.Model, v string) error { return m.Video.SetResolution(v) }),
	num("video-frame-rate",
		func(m *config.Model) int { return m.Video.FrameRate() },
		func(m *config.Model, v int) error { return m.Video.SetFrameRate(v) }),
	str("video-codec",
		func(m *config.Model) string { return m.Video.Codec() },
		func(m *config.Model, v string) error { return m.Video.SetCodec(v) }),
	num("video-jpeg-quality",
		func(m *config.Model) int { return m.Video.JpegQuality() },
		func(m *config.Model, v int) error { return m.Video.SetJpegQuality(v) }),
}

// Codec translates between FormFieldMap and config.Model. It is stateless
// and safe for concurrent use.
type Codec struct {
	fields []field
	index  map[string]int
}

func NewCodec() *Codec {
	c := &Codec{fields: fields, index: make(map[string]int, len(fields))}
	for i, f := range fields {
		if _, dup := c.index[f.id]; dup {
			panic(fmt.Sprintf("settings: duplicate field id %q", f.id))
		}
		c.index[f.id] = i
	}
	return c
}

// FieldIDs lists every field id the form exposes, sorted.
func (c *Codec) FieldIDs() []string {
	ids := make([]string, len(c.fields))
	for i, f := range c.fields {
		ids[i] = f.id
	}
	sort.Strings(ids)
	return ids
}

// RequiredFieldIDs lists the ids a complete form snapshot always carries.
// Checkboxes are left out: browsers omit unchecked boxes.
func (c *Codec) RequiredFieldIDs() []string {
	var ids []string
	for _, f := range c.fields {
		if f.kind != kindBool {
			ids = append(ids, f.id)
		}
	}
	sort.Strings(ids)
	return ids
}

// FieldForPath maps a model path such as "dicom.aeTitle" to its form field
// id, here "dicom-ae-title".
func (c *Codec) FieldForPath(path string) (string, bool) {
	var b strings.Builder
	for _, r := range path {
		switch {
		case r == '.':
			b.WriteByte('-')
		case unicode.IsUpper(r):
			b.WriteByte('-')
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	id := b.String()
	if _, ok := c.index[id]; !ok {
		return "", false
	}
	return id, true
}

// Encode renders m as form state. Numbers are ints, checkboxes bools.
func (c *Codec) Encode(m *config.Model) FormFieldMap {
	out := make(FormFieldMap, len(c.fields))
	for _, f := range c.fields {
		out[f.id] = f.get(m)
	}
	return out
}

// Decode coerces the known fields present in form into a Patch. Unknown ids
// are ignored. Values that cannot be coerced are left out of the patch and
// reported as *config.ValidationError; the returned patch is usable either way.
func (c *Codec) Decode(form FormFieldMap) (Patch, error) {
	return c.decode(form, false)
}

// DecodeFull is Decode for a complete form snapshot: an absent checkbox
// means unchecked.
func (c *Codec) DecodeFull(form FormFieldMap) (Patch, error) {
	return c.decode(form, true)
}

func (c *Codec) decode(form FormFieldMap, full bool) (Patch, error) {
	p := Patch{codec: c, values: make(map[string]interface{})}
	var errs []error
	for _, f := range c.fields {
		raw, present := form[f.id]
		if !present {
			if full && f.kind == kindBool {
				p.values[f.id] = false
			}
			continue
		}
		v, err := coerce(f, raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		p.values[f.id] = v
	}
	return p, errors.Join(errs...)
}

func coerce(f field, raw interface{}) (interface{}, error) {
	switch f.kind {
	case kindBool:
		return parseCheckbox(f.id, raw)
	case kindInt:
		return parseInt(f.id, raw)
	default:
		if raw == nil {
			return "", nil
		}
		s, err := cast.ToStringE(raw)
		if err != nil {
			return nil, &config.ValidationError{Field: f.id, Kind: config.InvalidChoice, Value: raw}
		}
		return s, nil
	}
}

// parseCheckbox accepts what HTML forms and JS values produce for a checkbox.
func parseCheckbox(id string, raw interface{}) (bool, error) {
	switch v := raw.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "on", "1", "checked", "yes":
			return true, nil
		case "", "false", "off", "0", "no":
			return false, nil
		}
		return false, &config.ValidationError{Field: id, Kind: config.InvalidBool, Value: raw}
	}
	n, err := cast.ToFloat64E(raw)
	if err != nil || (n != 0 && n != 1) {
		return false, &config.ValidationError{Field: id, Kind: config.InvalidBool, Value: raw}
	}
	return n == 1, nil
}

// parseInt parses base-10 with a '.' decimal point regardless of locale.
// Fractions are rejected rather than truncated.
func parseInt(id string, raw interface{}) (int, error) {
	bad := &config.ValidationError{Field: id, Kind: config.InvalidNumber, Value: raw}
	if _, isBool := raw.(bool); isBool || raw == nil {
		return 0, bad
	}
	if s, ok := raw.(string); ok {
		raw = strings.TrimSpace(s)
	}
	n, err := cast.ToFloat64E(raw)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) {
		return 0, bad
	}
	if n > math.MaxInt32 || n < math.MinInt32 {
		return 0, bad
	}
	return int(n), nil
}

// FieldError ties a failure in Patch.Apply to the form field that caused it.
type FieldError struct {
	ID  string
	Err error
}

func (e *FieldError) Error() string { return e.ID + ": " + e.Err.Error() }
func (e *FieldError) Unwrap() error { return e.Err }

// Patch is a set of coerced field values waiting to be applied to a model.
type Patch struct {
	codec  *Codec
	values map[string]interface{}
}

// Fields lists the ids the patch will set, sorted.
func (p Patch) Fields() []string {
	ids := make([]string, 0, len(p.values))
	for id := range p.values {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p Patch) Len() int { return len(p.values) }

// Value returns the coerced value for id.
func (p Patch) Value(id string) (interface{}, bool) {
	v, ok := p.values[id]
	return v, ok
}

// Apply sets every patched field on m through its validating setter. Fields
// that fail keep their current value and their errors are joined.
func (p Patch) Apply(m *config.Model) error {
	if p.codec == nil {
		return nil
	}
	var errs []error
	for _, f := range p.codec.fields {
		if f.id == fieldRetentionDays || f.id == fieldEnableAutoCleanup {
			continue
		}
		v, ok := p.values[f.id]
		if !ok {
			continue
		}
		if err := f.set(m, v); err != nil {
			errs = append(errs, &FieldError{ID: f.id, Err: err})
		}
	}

	days, hasDays := p.values[fieldRetentionDays]
	enable, hasEnable := p.values[fieldEnableAutoCleanup]
	if hasDays || hasEnable {
		d, e := m.Storage.RetentionDays(), m.Storage.EnableAutoCleanup()
		if hasDays {
			d = days.(int)
		}
		if hasEnable {
			e = enable.(bool)
		}
		if err := m.Storage.SetRetentionPolicy(e, d); err != nil {
			id := fieldRetentionDays
			if !hasDays {
				id = fieldEnableAutoCleanup
			}
			errs = append(errs, &FieldError{ID: id, Err: err})
		}
	}
	return errors.Join(errs...)
}
