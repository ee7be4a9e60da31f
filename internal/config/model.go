package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Model is the device configuration. Every setter validates its argument and
// leaves the field untouched when validation fails, so an invalid in-memory
// model cannot be reached through the API.
type Model struct {
	Application  Application
	Dicom        Dicom
	Storage      Storage
	Pacs         Pacs
	MwlSettings  MwlSettings
	Video        Video
	Version      int
	LastModified time.Time

	unknown unknownFields
}

// New builds a model from the defaults supplied by the embedding
// application. Defaults that violate an invariant are an error: the host
// must ship a valid baseline.
func New(defaults Document) (*Model, error) {
	m := &Model{}
	if errs := m.apply(defaults); len(errs) > 0 {
		return nil, fmt.Errorf("invalid defaults: %w", errors.Join(errs...))
	}
	m.Version = defaults.Version
	m.LastModified = defaults.LastModified
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid defaults: %w", err)
	}
	return m, nil
}

// Clone returns a deep copy.
func (m *Model) Clone() *Model {
	c := *m
	c.unknown = m.unknown.clone()
	return &c
}

// Validate re-checks cross-field invariants of the whole model.
func (m *Model) Validate() error {
	var errs []error
	if m.Storage.enableAutoCleanup && m.Storage.retentionDays == 0 {
		errs = append(errs, invalid("storage.retentionDays", InconsistentRetentionPolicy, 0))
	}
	if m.Pacs.enabled && m.Pacs.host == "" {
		errs = append(errs, invalid("pacs.host", Required, ""))
	}
	if m.MwlSettings.enabled && m.MwlSettings.host == "" {
		errs = append(errs, invalid("mwl.host", Required, ""))
	}
	return errors.Join(errs...)
}

// Application holds UI-level preferences.
type Application struct {
	language  string
	logLevel  string
	kioskMode bool
	darkMode  bool
}

var logLevels = []string{"debug", "info", "warn", "error"}

func (a Application) Language() string { return a.language }
func (a Application) LogLevel() string { return a.logLevel }
func (a Application) KioskMode() bool  { return a.kioskMode }
func (a Application) DarkMode() bool   { return a.darkMode }

func (a *Application) SetLanguage(v string) error {
	t, err := checkRequired("application.language", v)
	if err != nil {
		return err
	}
	a.language = t
	return nil
}

func (a *Application) SetLogLevel(v string) error {
	v = strings.ToLower(strings.TrimSpace(v))
	if err := checkChoice("application.logLevel", v, logLevels); err != nil {
		return err
	}
	a.logLevel = v
	return nil
}

func (a *Application) SetKioskMode(v bool) { a.kioskMode = v }
func (a *Application) SetDarkMode(v bool)  { a.darkMode = v }

// Dicom is the local application entity identity.
type Dicom struct {
	aeTitle         string
	stationName     string
	modality        string
	institutionName string
	localPort       int
}

func (d Dicom) AETitle() string         { return d.aeTitle }
func (d Dicom) StationName() string     { return d.stationName }
func (d Dicom) Modality() string        { return d.modality }
func (d Dicom) InstitutionName() string { return d.institutionName }
func (d Dicom) LocalPort() int          { return d.localPort }

func (d *Dicom) SetAETitle(v string) error {
	t, err := CheckAETitle("dicom.aeTitle", v)
	if err != nil {
		return err
	}
	d.aeTitle = t
	return nil
}

func (d *Dicom) SetStationName(v string) error {
	t, err := checkRequired("dicom.stationName", v)
	if err != nil {
		return err
	}
	d.stationName = t
	return nil
}

// SetModality accepts a two-letter-ish DICOM modality code such as XC or ES.
func (d *Dicom) SetModality(v string) error {
	t := strings.ToUpper(strings.TrimSpace(v))
	if t == "" || len(t) > 16 {
		return invalid("dicom.modality", InvalidChoice, v)
	}
	for _, r := range t {
		if !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') {
			return invalid("dicom.modality", InvalidChoice, v)
		}
	}
	d.modality = t
	return nil
}

func (d *Dicom) SetInstitutionName(v string) { d.institutionName = strings.TrimSpace(v) }

func (d *Dicom) SetLocalPort(v int) error {
	if err := CheckPort("dicom.localPort", v); err != nil {
		return err
	}
	d.localPort = v
	return nil
}

// Storage holds capture output locations and the retention policy.
type Storage struct {
	photosPath        string
	videosPath        string
	dicomPath         string
	retentionDays     int
	enableAutoCleanup bool
}

func (s Storage) PhotosPath() string      { return s.photosPath }
func (s Storage) VideosPath() string      { return s.videosPath }
func (s Storage) DicomPath() string       { return s.dicomPath }
func (s Storage) RetentionDays() int      { return s.retentionDays }
func (s Storage) EnableAutoCleanup() bool { return s.enableAutoCleanup }

func (s *Storage) SetPhotosPath(v string) error {
	t, err := checkRequired("storage.photosPath", v)
	if err != nil {
		return err
	}
	s.photosPath = t
	return nil
}

func (s *Storage) SetVideosPath(v string) error {
	t, err := checkRequired("storage.videosPath", v)
	if err != nil {
		return err
	}
	s.videosPath = t
	return nil
}

func (s *Storage) SetDicomPath(v string) error {
	t, err := checkRequired("storage.dicomPath", v)
	if err != nil {
		return err
	}
	s.dicomPath = t
	return nil
}

// SetRetentionDays sets the retention window; 0 means no automatic cleanup
// and is rejected while cleanup is enabled.
func (s *Storage) SetRetentionDays(v int) error {
	if err := checkNonNegative("storage.retentionDays", v); err != nil {
		return err
	}
	if v == 0 && s.enableAutoCleanup {
		return invalid("storage.retentionDays", InconsistentRetentionPolicy, v)
	}
	s.retentionDays = v
	return nil
}

func (s *Storage) SetEnableAutoCleanup(v bool) error {
	if v && s.retentionDays == 0 {
		return invalid("storage.enableAutoCleanup", InconsistentRetentionPolicy, v)
	}
	s.enableAutoCleanup = v
	return nil
}

// SetRetentionPolicy sets both retention fields in one step, which is the
// only way to move between e.g. (false, 0) and (true, 14) in either order.
func (s *Storage) SetRetentionPolicy(enable bool, days int) error {
	if err := checkNonNegative("storage.retentionDays", days); err != nil {
		return err
	}
	if enable && days == 0 {
		return invalid("storage.retentionDays", InconsistentRetentionPolicy, days)
	}
	s.enableAutoCleanup = enable
	s.retentionDays = days
	return nil
}

// Endpoint is the connection part shared by PACS and worklist settings.
type Endpoint struct {
	Host           string
	Port           int
	CalledAETitle  string
	CallingAETitle string
	Timeout        time.Duration
	UseTLS         bool
}

// Pacs is the remote archive connection.
type Pacs struct {
	enabled        bool
	host           string
	port           int
	calledAETitle  string
	callingAETitle string
	timeout        int
	maxRetries     int
	retryDelay     int
	useTLS         bool
}

func (p Pacs) Enabled() bool          { return p.enabled }
func (p Pacs) Host() string           { return p.host }
func (p Pacs) Port() int              { return p.port }
func (p Pacs) CalledAETitle() string  { return p.calledAETitle }
func (p Pacs) CallingAETitle() string { return p.callingAETitle }
func (p Pacs) TimeoutSeconds() int    { return p.timeout }
func (p Pacs) MaxRetries() int        { return p.maxRetries }
func (p Pacs) RetryDelaySeconds() int { return p.retryDelay }
func (p Pacs) UseTLS() bool           { return p.useTLS }

// Endpoint returns the connection parameters for a probe.
func (p Pacs) Endpoint() Endpoint {
	return Endpoint{
		Host:           p.host,
		Port:           p.port,
		CalledAETitle:  p.calledAETitle,
		CallingAETitle: p.callingAETitle,
		Timeout:        time.Duration(p.timeout) * time.Second,
		UseTLS:         p.useTLS,
	}
}

func (p *Pacs) SetEnabled(v bool) { p.enabled = v }
func (p *Pacs) SetHost(v string)  { p.host = strings.TrimSpace(v) }
func (p *Pacs) SetUseTLS(v bool)  { p.useTLS = v }

func (p *Pacs) SetPort(v int) error {
	if err := CheckPort("pacs.port", v); err != nil {
		return err
	}
	p.port = v
	return nil
}

func (p *Pacs) SetCalledAETitle(v string) error {
	t, err := CheckAETitle("pacs.calledAeTitle", v)
	if err != nil {
		return err
	}
	p.calledAETitle = t
	return nil
}

func (p *Pacs) SetCallingAETitle(v string) error {
	t, err := CheckAETitle("pacs.callingAeTitle", v)
	if err != nil {
		return err
	}
	p.callingAETitle = t
	return nil
}

func (p *Pacs) SetTimeoutSeconds(v int) error {
	if err := checkNonNegative("pacs.timeout", v); err != nil {
		return err
	}
	p.timeout = v
	return nil
}

// SetMaxRetries accepts 0, meaning no retry.
func (p *Pacs) SetMaxRetries(v int) error {
	if err := checkNonNegative("pacs.maxRetries", v); err != nil {
		return err
	}
	p.maxRetries = v
	return nil
}

func (p *Pacs) SetRetryDelaySeconds(v int) error {
	if err := checkNonNegative("pacs.retryDelay", v); err != nil {
		return err
	}
	p.retryDelay = v
	return nil
}

// QueryPeriod selects the worklist date window.
type QueryPeriod string

const (
	QueryToday  QueryPeriod = "today"
	QueryWeek   QueryPeriod = "week"
	QueryCustom QueryPeriod = "custom"
)

var queryPeriods = []string{string(QueryToday), string(QueryWeek), string(QueryCustom)}

// MwlSettings is the modality worklist query connection and window.
type MwlSettings struct {
	enabled         bool
	host            string
	port            int
	calledAETitle   string
	callingAETitle  string
	timeout         int
	queryPeriod     QueryPeriod
	queryDaysBefore int
	queryDaysAfter  int
}

func (w MwlSettings) Enabled() bool            { return w.enabled }
func (w MwlSettings) Host() string             { return w.host }
func (w MwlSettings) Port() int                { return w.port }
func (w MwlSettings) CalledAETitle() string    { return w.calledAETitle }
func (w MwlSettings) CallingAETitle() string   { return w.callingAETitle }
func (w MwlSettings) TimeoutSeconds() int      { return w.timeout }
func (w MwlSettings) QueryPeriod() QueryPeriod { return w.queryPeriod }
func (w MwlSettings) QueryDaysBefore() int     { return w.queryDaysBefore }
func (w MwlSettings) QueryDaysAfter() int      { return w.queryDaysAfter }

func (w MwlSettings) Endpoint() Endpoint {
	return Endpoint{
		Host:           w.host,
		Port:           w.port,
		CalledAETitle:  w.calledAETitle,
		CallingAETitle: w.callingAETitle,
		Timeout:        time.Duration(w.timeout) * time.Second,
	}
}

// QueryWindow returns the inclusive date range a worklist query should use.
// The day offsets only apply in custom mode.
func (w MwlSettings) QueryWindow(now time.Time) (from, to time.Time) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch w.queryPeriod {
	case QueryWeek:
		return day.AddDate(0, 0, -7), day.AddDate(0, 0, 7)
	case QueryCustom:
		return day.AddDate(0, 0, -w.queryDaysBefore), day.AddDate(0, 0, w.queryDaysAfter)
	default:
		return day, day
	}
}

func (w *MwlSettings) SetEnabled(v bool) { w.enabled = v }
func (w *MwlSettings) SetHost(v string)  { w.host = strings.TrimSpace(v) }

func (w *MwlSettings) SetPort(v int) error {
	if err := CheckPort("mwl.port", v); err != nil {
		return err
	}
	w.port = v
	return nil
}

func (w *MwlSettings) SetCalledAETitle(v string) error {
	t, err := CheckAETitle("mwl.calledAeTitle", v)
	if err != nil {
		return err
	}
	w.calledAETitle = t
	return nil
}

func (w *MwlSettings) SetCallingAETitle(v string) error {
	t, err := CheckAETitle("mwl.callingAeTitle", v)
	if err != nil {
		return err
	}
	w.callingAETitle = t
	return nil
}

func (w *MwlSettings) SetTimeoutSeconds(v int) error {
	if err := checkNonNegative("mwl.timeout", v); err != nil {
		return err
	}
	w.timeout = v
	return nil
}

func (w *MwlSettings) SetQueryPeriod(v QueryPeriod) error {
	v = QueryPeriod(strings.ToLower(strings.TrimSpace(string(v))))
	if err := checkChoice("mwl.queryPeriod", string(v), queryPeriods); err != nil {
		return err
	}
	w.queryPeriod = v
	return nil
}

func (w *MwlSettings) SetQueryDaysBefore(v int) error {
	if err := checkNonNegative("mwl.queryDaysBefore", v); err != nil {
		return err
	}
	w.queryDaysBefore = v
	return nil
}

func (w *MwlSettings) SetQueryDaysAfter(v int) error {
	if err := checkNonNegative("mwl.queryDaysAfter", v); err != nil {
		return err
	}
	w.queryDaysAfter = v
	return nil
}

// Video holds capture parameters.
type Video struct {
	deviceID    string
	resolution  string
	frameRate   int
	codec       string
	jpegQuality int
}

var (
	resolutions = []string{"640x480", "1280x720", "1920x1080", "3840x2160"}
	codecs      = []string{"h264", "mjpeg", "vp9"}
)

func (v Video) DeviceID() string   { return v.deviceID }
func (v Video) Resolution() string { return v.resolution }
func (v Video) FrameRate() int     { return v.frameRate }
func (v Video) Codec() string      { return v.codec }
func (v Video) JpegQuality() int   { return v.jpegQuality }

func (v *Video) SetDeviceID(id string) { v.deviceID = strings.TrimSpace(id) }

func (v *Video) SetResolution(r string) error {
	r = strings.ToLower(strings.TrimSpace(r))
	if err := checkChoice("video.resolution", r, resolutions); err != nil {
		return err
	}
	v.resolution = r
	return nil
}

func (v *Video) SetFrameRate(fps int) error {
	if err := checkRange("video.frameRate", fps, 1, 120); err != nil {
		return err
	}
	v.frameRate = fps
	return nil
}

func (v *Video) SetCodec(c string) error {
	c = strings.ToLower(strings.TrimSpace(c))
	if err := checkChoice("video.codec", c, codecs); err != nil {
		return err
	}
	v.codec = c
	return nil
}

func (v *Video) SetJpegQuality(q int) error {
	if err := checkRange("video.jpegQuality", q, 1, 100); err != nil {
		return err
	}
	v.jpegQuality = q
	return nil
}
