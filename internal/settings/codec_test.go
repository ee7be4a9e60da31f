package settings

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartbox/internal/config"
)

func defaults() config.Document {
	return config.Document{
		Application: config.ApplicationDoc{Language: "de", LogLevel: "info"},
		Dicom:       config.DicomDoc{AETitle: "SMARTBOX", StationName: "SMARTBOX-1", Modality: "XC", LocalPort: 11112},
		Storage: config.StorageDoc{
			PhotosPath: "/data/photos", VideosPath: "/data/videos", DicomPath: "/data/dicom",
			RetentionDays: 30,
		},
		Pacs: config.PacsDoc{
			Host: "localhost", Port: 104, CalledAETitle: "ORTHANC", CallingAETitle: "SMARTBOX",
			Timeout: 30, MaxRetries: 3, RetryDelay: 5,
		},
		MwlSettings: config.MwlDoc{
			Host: "localhost", Port: 105, CalledAETitle: "ORTHANC", CallingAETitle: "SMARTBOX",
			Timeout: 10, QueryPeriod: "today",
		},
		Video: config.VideoDoc{Resolution: "1920x1080", FrameRate: 30, Codec: "h264", JpegQuality: 90},
	}
}

// custom differs from defaults in every field.
func custom() config.Document {
	return config.Document{
		Application: config.ApplicationDoc{Language: "en", LogLevel: "debug", KioskMode: true, DarkMode: true},
		Dicom: config.DicomDoc{
			AETitle: "ENDO_3", StationName: "OR-7", Modality: "ES",
			InstitutionName: "Klinikum Nord", LocalPort: 4242,
		},
		Storage: config.StorageDoc{
			PhotosPath: "/mnt/p", VideosPath: "/mnt/v", DicomPath: "/mnt/d",
			RetentionDays: 14, EnableAutoCleanup: true,
		},
		Pacs: config.PacsDoc{
			Enabled: true, Host: "pacs.example.org", Port: 11112,
			CalledAETitle: "ARCHIVE", CallingAETitle: "ENDO_3",
			Timeout: 0, MaxRetries: 0, RetryDelay: 12, UseTLS: true,
		},
		MwlSettings: config.MwlDoc{
			Enabled: true, Host: "ris.example.org", Port: 2575,
			CalledAETitle: "RIS", CallingAETitle: "ENDO_3", Timeout: 45,
			QueryPeriod: "custom", QueryDaysBefore: 2, QueryDaysAfter: 5,
		},
		Video: config.VideoDoc{DeviceID: "cam-2", Resolution: "3840x2160", FrameRate: 60, Codec: "mjpeg", JpegQuality: 75},
	}
}

func model(t *testing.T, doc config.Document) *config.Model {
	t.Helper()
	m, err := config.New(doc)
	require.NoError(t, err)
	return m
}

func TestCodec_FieldsCoverDocument(t *testing.T) {
	c := NewCodec()
	// one id per persisted field, version metadata excluded
	assert.Len(t, c.FieldIDs(), 37)
	assert.Contains(t, c.FieldIDs(), "storage-photos-path")
	assert.IsIncreasing(t, c.FieldIDs())
}

func TestCodec_RoundTrip(t *testing.T) {
	c := NewCodec()
	src := model(t, custom())

	patch, err := c.Decode(c.Encode(src))
	require.NoError(t, err)
	assert.Equal(t, len(c.FieldIDs()), patch.Len())

	dst := model(t, defaults())
	require.NoError(t, patch.Apply(dst))
	assert.Equal(t, custom(), dst.Document())
}

func TestCodec_RoundTripThroughHTMLForm(t *testing.T) {
	c := NewCodec()
	src := model(t, custom())

	// Browsers submit strings and omit unchecked boxes.
	form := FormFieldMap{}
	for id, v := range c.Encode(src) {
		switch b := v.(type) {
		case bool:
			if b {
				form[id] = "on"
			}
		default:
			form[id] = fmt.Sprint(v)
		}
	}

	patch, err := c.DecodeFull(form)
	require.NoError(t, err)
	dst := model(t, defaults())
	require.NoError(t, patch.Apply(dst))
	assert.Equal(t, custom(), dst.Document())
}

func TestCodec_Checkbox(t *testing.T) {
	c := NewCodec()
	tests := []struct {
		in   interface{}
		want bool
	}{
		{true, true}, {"true", true}, {"on", true}, {"1", true}, {"checked", true}, {"ON", true},
		{false, false}, {"", false}, {"false", false}, {"off", false}, {"0", false}, {nil, false},
		{1, true}, {0.0, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%T(%v)", tt.in, tt.in), func(t *testing.T) {
			patch, err := c.Decode(FormFieldMap{"pacs-use-tls": tt.in})
			require.NoError(t, err)
			v, ok := patch.Value("pacs-use-tls")
			require.True(t, ok)
			assert.Equal(t, tt.want, v)
		})
	}

	_, err := c.Decode(FormFieldMap{"pacs-use-tls": "maybe"})
	assert.True(t, errors.Is(err, &config.ValidationError{Kind: config.InvalidBool}))
}

func TestCodec_DecodeFull_AbsentCheckboxIsFalse(t *testing.T) {
	c := NewCodec()
	m := model(t, custom())

	partial, err := c.Decode(FormFieldMap{"pacs-host": "other"})
	require.NoError(t, err)
	_, ok := partial.Value("pacs-use-tls")
	assert.False(t, ok)

	full, err := c.DecodeFull(FormFieldMap{"pacs-host": "other"})
	require.NoError(t, err)
	require.NoError(t, full.Apply(m))
	assert.False(t, m.Pacs.UseTLS())
	assert.False(t, m.Application.KioskMode())
	assert.Equal(t, "other", m.Pacs.Host())
	assert.Equal(t, "ARCHIVE", m.Pacs.CalledAETitle(), "non-checkbox fields keep their value")
}

func TestCodec_Numbers(t *testing.T) {
	c := NewCodec()
	for _, in := range []interface{}{"104", " 104 ", "104.0", 104, int64(104), 104.0, float32(104)} {
		patch, err := c.Decode(FormFieldMap{"pacs-port": in})
		require.NoError(t, err, "%#v", in)
		v, _ := patch.Value("pacs-port")
		assert.Equal(t, 104, v, "%#v", in)
	}

	for _, in := range []interface{}{"1,04", "abc", "", "10.5", nil, true, "1e400"} {
		m := model(t, defaults())
		patch, err := c.Decode(FormFieldMap{"pacs-port": in, "pacs-host": "kept"})
		assert.True(t, errors.Is(err, &config.ValidationError{Field: "pacs-port", Kind: config.InvalidNumber}), "%#v", in)
		require.NoError(t, patch.Apply(m))
		assert.Equal(t, 104, m.Pacs.Port(), "port keeps its value for %#v", in)
		assert.Equal(t, "kept", m.Pacs.Host(), "other fields still apply for %#v", in)
	}
}

func TestCodec_UnknownFieldsIgnored(t *testing.T) {
	c := NewCodec()
	patch, err := c.Decode(FormFieldMap{"pacs-favourite-colour": "blue", "dicom-ae-title": "NEW"})
	require.NoError(t, err)
	assert.Equal(t, []string{"dicom-ae-title"}, patch.Fields())
}

func TestPatch_ApplyKeepsPreviousOnInvalid(t *testing.T) {
	c := NewCodec()
	m := model(t, defaults())

	patch, err := c.Decode(FormFieldMap{"pacs-port": "70000", "dicom-ae-title": "lower", "pacs-timeout": "60"})
	require.NoError(t, err)

	err = patch.Apply(m)
	assert.True(t, errors.Is(err, &config.ValidationError{Kind: config.InvalidPort}))
	assert.True(t, errors.Is(err, &config.ValidationError{Kind: config.InvalidAeTitle}))
	assert.Equal(t, 104, m.Pacs.Port())
	assert.Equal(t, "SMARTBOX", m.Dicom.AETitle())
	assert.Equal(t, 60, m.Pacs.TimeoutSeconds())
}

func TestPatch_RetentionPair(t *testing.T) {
	c := NewCodec()

	t.Run("enable with zero days is rejected", func(t *testing.T) {
		m := model(t, defaults())
		patch, err := c.Decode(FormFieldMap{"storage-enable-auto-cleanup": "on", "storage-retention-days": "0"})
		require.NoError(t, err)
		assert.True(t, errors.Is(patch.Apply(m), &config.ValidationError{Kind: config.InconsistentRetentionPolicy}))
		assert.False(t, m.Storage.EnableAutoCleanup())
		assert.Equal(t, 30, m.Storage.RetentionDays())
	})

	t.Run("disable and zero together", func(t *testing.T) {
		m := model(t, custom())
		patch, err := c.Decode(FormFieldMap{"storage-enable-auto-cleanup": false, "storage-retention-days": 0})
		require.NoError(t, err)
		require.NoError(t, patch.Apply(m))
		assert.Equal(t, 0, m.Storage.RetentionDays())
	})

	t.Run("days alone uses current flag", func(t *testing.T) {
		m := model(t, custom())
		patch, err := c.Decode(FormFieldMap{"storage-retention-days": "0"})
		require.NoError(t, err)
		assert.Error(t, patch.Apply(m))
		assert.Equal(t, 14, m.Storage.RetentionDays())
	})
}

func TestPatch_ZeroValue(t *testing.T) {
	m := model(t, defaults())
	assert.NoError(t, Patch{}.Apply(m))
	assert.Equal(t, 0, Patch{}.Len())
}

func TestCodec_RequiredFieldIDs(t *testing.T) {
	c := NewCodec()
	req := c.RequiredFieldIDs()
	assert.NotContains(t, req, "pacs-enabled")
	assert.Contains(t, req, "pacs-host")
	assert.Len(t, req, 31)
}

func TestPatch_ApplyNamesFormField(t *testing.T) {
	c := NewCodec()
	m := model(t, custom())

	patch, err := c.Decode(FormFieldMap{"pacs-port": "0", "storage-retention-days": "0"})
	require.NoError(t, err)
	err = patch.Apply(m)

	var ids []string
	for _, inner := range err.(interface{ Unwrap() []error }).Unwrap() {
		var fe *FieldError
		require.True(t, errors.As(inner, &fe), "%v", inner)
		ids = append(ids, fe.ID)
	}
	assert.ElementsMatch(t, []string{"pacs-port", "storage-retention-days"}, ids)
	assert.True(t, errors.Is(err, &config.ValidationError{Kind: config.InvalidPort}))
}

func TestCodec_FieldForPath(t *testing.T) {
	c := NewCodec()
	tests := map[string]string{
		"dicom.aeTitle":             "dicom-ae-title",
		"pacs.port":                 "pacs-port",
		"mwl.host":                  "mwl-host",
		"storage.retentionDays":     "storage-retention-days",
		"storage.enableAutoCleanup": "storage-enable-auto-cleanup",
		"mwl.callingAeTitle":        "mwl-calling-ae-title",
	}
	for path, want := range tests {
		id, ok := c.FieldForPath(path)
		assert.True(t, ok, path)
		assert.Equal(t, want, id, path)
	}

	_, ok := c.FieldForPath("pacs.favouriteColour")
	assert.False(t, ok)
}
