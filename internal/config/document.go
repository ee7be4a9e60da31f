package config

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Document is the persisted JSON shape of the model. The embedding
// application also uses it to supply defaults.
type Document struct {
	Application  ApplicationDoc `json:"application"`
	Dicom        DicomDoc       `json:"dicom"`
	Storage      StorageDoc     `json:"storage"`
	Pacs         PacsDoc        `json:"pacs"`
	MwlSettings  MwlDoc         `json:"mwlSettings"`
	Video        VideoDoc       `json:"video"`
	Version      int            `json:"version"`
	LastModified time.Time      `json:"lastModified"`
}

type ApplicationDoc struct {
	Language  string `json:"language"`
	LogLevel  string `json:"logLevel"`
	KioskMode bool   `json:"kioskMode"`
	DarkMode  bool   `json:"darkMode"`
}

type DicomDoc struct {
	AETitle         string `json:"aeTitle"`
	StationName     string `json:"stationName"`
	Modality        string `json:"modality"`
	InstitutionName string `json:"institutionName"`
	LocalPort       int    `json:"localPort"`
}

type StorageDoc struct {
	PhotosPath        string `json:"photosPath"`
	VideosPath        string `json:"videosPath"`
	DicomPath         string `json:"dicomPath"`
	RetentionDays     int    `json:"retentionDays"`
	EnableAutoCleanup bool   `json:"enableAutoCleanup"`
}

type PacsDoc struct {
	Enabled        bool   `json:"enabled"`
	Host           string `json:"host"`
	Port           int    `json:"port"`
	CalledAETitle  string `json:"calledAeTitle"`
	CallingAETitle string `json:"callingAeTitle"`
	Timeout        int    `json:"timeout"`
	MaxRetries     int    `json:"maxRetries"`
	RetryDelay     int    `json:"retryDelay"`
	UseTLS         bool   `json:"useTls"`
}

type MwlDoc struct {
	Enabled         bool   `json:"enabled"`
	Host            string `json:"host"`
	Port            int    `json:"port"`
	CalledAETitle   string `json:"calledAeTitle"`
	CallingAETitle  string `json:"callingAeTitle"`
	Timeout         int    `json:"timeout"`
	QueryPeriod     string `json:"queryPeriod"`
	QueryDaysBefore int    `json:"queryDaysBefore"`
	QueryDaysAfter  int    `json:"queryDaysAfter"`
}

type VideoDoc struct {
	DeviceID    string `json:"deviceId"`
	Resolution  string `json:"resolution"`
	FrameRate   int    `json:"frameRate"`
	Codec       string `json:"codec"`
	JpegQuality int    `json:"jpegQuality"`
}

// Document converts the model to its persisted shape.
func (m *Model) Document() Document {
	a, d, s, p, w, v := m.Application, m.Dicom, m.Storage, m.Pacs, m.MwlSettings, m.Video
	return Document{
		Application: ApplicationDoc{
			Language:  a.language,
			LogLevel:  a.logLevel,
			KioskMode: a.kioskMode,
			DarkMode:  a.darkMode,
		},
		Dicom: DicomDoc{
			AETitle:         d.aeTitle,
			StationName:     d.stationName,
			Modality:        d.modality,
			InstitutionName: d.institutionName,
			LocalPort:       d.localPort,
		},
		Storage: StorageDoc{
			PhotosPath:        s.photosPath,
			VideosPath:        s.videosPath,
			DicomPath:         s.dicomPath,
			RetentionDays:     s.retentionDays,
			EnableAutoCleanup: s.enableAutoCleanup,
		},
		Pacs: PacsDoc{
			Enabled:        p.enabled,
			Host:           p.host,
			Port:           p.port,
			CalledAETitle:  p.calledAETitle,
			CallingAETitle: p.callingAETitle,
			Timeout:        p.timeout,
			MaxRetries:     p.maxRetries,
			RetryDelay:     p.retryDelay,
			UseTLS:         p.useTLS,
		},
		MwlSettings: MwlDoc{
			Enabled:         w.enabled,
			Host:            w.host,
			Port:            w.port,
			CalledAETitle:   w.calledAETitle,
			CallingAETitle:  w.callingAETitle,
			Timeout:         w.timeout,
			QueryPeriod:     string(w.queryPeriod),
			QueryDaysBefore: w.queryDaysBefore,
			QueryDaysAfter:  w.queryDaysAfter,
		},
		Video: VideoDoc{
			DeviceID:    v.deviceID,
			Resolution:  v.resolution,
			FrameRate:   v.frameRate,
			Codec:       v.codec,
			JpegQuality: v.jpegQuality,
		},
		Version:      m.Version,
		LastModified: m.LastModified,
	}
}

// apply pushes every document field through its setter. Fields that fail
// keep their current value; the failures are returned.
func (m *Model) apply(doc Document) []error {
	var errs []error
	keep := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	a := &m.Application
	keep(a.SetLanguage(doc.Application.Language))
	keep(a.SetLogLevel(doc.Application.LogLevel))
	a.SetKioskMode(doc.Application.KioskMode)
	a.SetDarkMode(doc.Application.DarkMode)

	d := &m.Dicom
	keep(d.SetAETitle(doc.Dicom.AETitle))
	keep(d.SetStationName(doc.Dicom.StationName))
	keep(d.SetModality(doc.Dicom.Modality))
	d.SetInstitutionName(doc.Dicom.InstitutionName)
	keep(d.SetLocalPort(doc.Dicom.LocalPort))

	s := &m.Storage
	keep(s.SetPhotosPath(doc.Storage.PhotosPath))
	keep(s.SetVideosPath(doc.Storage.VideosPath))
	keep(s.SetDicomPath(doc.Storage.DicomPath))
	keep(s.SetRetentionPolicy(doc.Storage.EnableAutoCleanup, doc.Storage.RetentionDays))

	p := &m.Pacs
	p.SetEnabled(doc.Pacs.Enabled)
	p.SetHost(doc.Pacs.Host)
	keep(p.SetPort(doc.Pacs.Port))
	keep(p.SetCalledAETitle(doc.Pacs.CalledAETitle))
	keep(p.SetCallingAETitle(doc.Pacs.CallingAETitle))
	keep(p.SetTimeoutSeconds(doc.Pacs.Timeout))
	keep(p.SetMaxRetries(doc.Pacs.MaxRetries))
	keep(p.SetRetryDelaySeconds(doc.Pacs.RetryDelay))
	p.SetUseTLS(doc.Pacs.UseTLS)

	w := &m.MwlSettings
	w.SetEnabled(doc.MwlSettings.Enabled)
	w.SetHost(doc.MwlSettings.Host)
	keep(w.SetPort(doc.MwlSettings.Port))
	keep(w.SetCalledAETitle(doc.MwlSettings.CalledAETitle))
	keep(w.SetCallingAETitle(doc.MwlSettings.CallingAETitle))
	keep(w.SetTimeoutSeconds(doc.MwlSettings.Timeout))
	keep(w.SetQueryPeriod(QueryPeriod(doc.MwlSettings.QueryPeriod)))
	keep(w.SetQueryDaysBefore(doc.MwlSettings.QueryDaysBefore))
	keep(w.SetQueryDaysAfter(doc.MwlSettings.QueryDaysAfter))

	v := &m.Video
	v.SetDeviceID(doc.Video.DeviceID)
	keep(v.SetResolution(doc.Video.Resolution))
	keep(v.SetFrameRate(doc.Video.FrameRate))
	keep(v.SetCodec(doc.Video.Codec))
	keep(v.SetJpegQuality(doc.Video.JpegQuality))

	return errs
}

// unknownFields keeps document keys this build does not know, so a document
// written by a newer build survives a save by an older one.
type unknownFields struct {
	top      map[string]json.RawMessage
	sections map[string]map[string]json.RawMessage
}

func (u unknownFields) clone() unknownFields {
	c := unknownFields{}
	if u.top != nil {
		c.top = make(map[string]json.RawMessage, len(u.top))
		for k, v := range u.top {
			c.top[k] = v
		}
	}
	if u.sections != nil {
		c.sections = make(map[string]map[string]json.RawMessage, len(u.sections))
		for s, fields := range u.sections {
			cf := make(map[string]json.RawMessage, len(fields))
			for k, v := range fields {
				cf[k] = v
			}
			c.sections[s] = cf
		}
	}
	return c
}

// documentKeys lists the keys this build writes, per level.
var documentKeys = sync.OnceValue(func() map[string]map[string]bool {
	keys := map[string]map[string]bool{"": {}}

	var top map[string]json.RawMessage
	b, _ := json.Marshal(Document{})
	_ = json.Unmarshal(b, &top)
	for k, raw := range top {
		keys[""][k] = true
		var section map[string]json.RawMessage
		if json.Unmarshal(raw, &section) == nil {
			keys[k] = make(map[string]bool, len(section))
			for f := range section {
				keys[k][f] = true
			}
		}
	}
	return keys
})

// decodeDocument parses raw over base: keys missing from raw keep the base
// value, unknown keys are collected for preservation.
func decodeDocument(raw []byte, base Document) (Document, unknownFields, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return base, unknownFields{}, fmt.Errorf("parse document: %w", err)
	}

	doc := base
	if err := json.Unmarshal(raw, &doc); err != nil {
		return base, unknownFields{}, fmt.Errorf("decode document: %w", err)
	}

	keys := documentKeys()
	var u unknownFields
	for k, v := range top {
		sectionKeys, isSection := keys[k]
		if !keys[""][k] {
			if u.top == nil {
				u.top = make(map[string]json.RawMessage)
			}
			u.top[k] = v
			continue
		}
		if !isSection {
			continue
		}
		var section map[string]json.RawMessage
		if json.Unmarshal(v, &section) != nil {
			continue
		}
		for f, fv := range section {
			if sectionKeys[f] {
				continue
			}
			if u.sections == nil {
				u.sections = make(map[string]map[string]json.RawMessage)
			}
			if u.sections[k] == nil {
				u.sections[k] = make(map[string]json.RawMessage)
			}
			u.sections[k][f] = fv
		}
	}
	return doc, u, nil
}

// MarshalJSON writes the persisted document, merging back preserved unknown
// fields without letting them shadow known ones.
func (m *Model) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(m.Document())
	if err != nil {
		return nil, err
	}
	if m.unknown.top == nil && m.unknown.sections == nil {
		return b, nil
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(b, &top); err != nil {
		return nil, err
	}
	for section, extra := range m.unknown.sections {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(top[section], &fields); err != nil {
			return nil, fmt.Errorf("merge section %s: %w", section, err)
		}
		for k, v := range extra {
			if _, known := fields[k]; !known {
				fields[k] = v
			}
		}
		if top[section], err = json.Marshal(fields); err != nil {
			return nil, err
		}
	}
	for k, v := range m.unknown.top {
		if _, known := top[k]; !known {
			top[k] = v
		}
	}
	return json.Marshal(top)
}
