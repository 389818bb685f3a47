// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/woozymasta/pathrules"
	"gopkg.in/yaml.v3"
)

// ErrInvalidManifest is wrapped by manifest validation errors.
var ErrInvalidManifest = errors.New("invalid manifest")

// Manifest describes an archive build in YAML:
//
//	version: 2
//	hash_table_size: 64
//	listfile: true
//	attributes: [crc32, filetime, md5]
//	compress: ["*", "!*.wav"]
//	encrypt: ["scripts/**"]
//	files:
//	  - path: src/readme.txt
//	    name: Data\Readme.txt
//	  - name: Data\Old.txt
//	    delete: true
//
// Rules use gitignore-style patterns matched against the archive name with
// forward slashes, case-insensitively. A leading '!' excludes. Without
// compress rules every file is compressed; without encrypt rules none is
// encrypted.
type Manifest struct {
	Version         string   `yaml:"version"`
	HashTableSize   uint32   `yaml:"hash_table_size"`
	SectorSizeShift uint16   `yaml:"sector_size_shift"`
	Listfile        *bool    `yaml:"listfile"`
	Attributes      []string `yaml:"attributes"`
	UserData        string   `yaml:"user_data"`
	UserDataFile    string   `yaml:"user_data_file"`
	Compression     string   `yaml:"compression"`
	Compress        []string `yaml:"compress"`
	Encrypt         []string `yaml:"encrypt"`
	FixKey          bool     `yaml:"fix_key"`
	SectorCRC       bool     `yaml:"sector_crc"`

	Files []ManifestFile `yaml:"files"`

	// dir resolves relative paths; it is the manifest's directory.
	dir string
}

// ManifestFile is one entry of the files list. Unset booleans fall back to
// the archive-wide rules.
type ManifestFile struct {
	Path        string `yaml:"path"`
	Name        string `yaml:"name"`
	Locale      uint16 `yaml:"locale"`
	Platform    uint16 `yaml:"platform"`
	Compress    *bool  `yaml:"compress"`
	Encrypt     *bool  `yaml:"encrypt"`
	SingleUnit  bool   `yaml:"single_unit"`
	SectorCRC   *bool  `yaml:"sector_crc"`
	Compression string `yaml:"compression"`
	Delete      bool   `yaml:"delete"`
	Patch       bool   `yaml:"patch"`
}

// LoadManifest reads a YAML manifest. Relative paths inside it are resolved
// against the manifest's directory.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.dir = filepath.Dir(path)
	return m, nil
}

// ParseManifest decodes a YAML manifest. Relative paths are resolved
// against the working directory.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	for i, f := range m.Files {
		if f.Path == "" && !f.Delete {
			return nil, fmt.Errorf("%w: files[%d] has no path", ErrInvalidManifest, i)
		}
		if f.Path == "" && f.Name == "" {
			return nil, fmt.Errorf("%w: files[%d] has no name", ErrInvalidManifest, i)
		}
	}
	return &m, nil
}

// BuildOptions converts the archive-wide settings.
func (m *Manifest) BuildOptions() (BuildOptions, error) {
	version, err := ParseFormatVersion(m.Version)
	if err != nil {
		return BuildOptions{}, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	attrs, err := parseAttributeNames(m.Attributes)
	if err != nil {
		return BuildOptions{}, err
	}

	opts := BuildOptions{
		Version:         version,
		HashTableSize:   m.HashTableSize,
		SectorSizeShift: m.SectorSizeShift,
		Listfile:        m.Listfile == nil || *m.Listfile,
		Attributes:      attrs,
	}

	switch {
	case m.UserDataFile != "":
		data, err := os.ReadFile(m.resolve(m.UserDataFile))
		if err != nil {
			return BuildOptions{}, fmt.Errorf("read user data: %w", err)
		}
		opts.WithUserData = true
		opts.UserData = data
	case m.UserData != "":
		opts.WithUserData = true
		opts.UserData = []byte(m.UserData)
	}

	return opts, nil
}

// Records loads every listed file and applies the compress and encrypt
// rules.
func (m *Manifest) Records() ([]FileRecord, error) {
	compress, err := newRuleMatcher(m.Compress)
	if err != nil {
		return nil, fmt.Errorf("%w: compress rules: %w", ErrInvalidManifest, err)
	}
	encrypt, err := newRuleMatcher(m.Encrypt)
	if err != nil {
		return nil, fmt.Errorf("%w: encrypt rules: %w", ErrInvalidManifest, err)
	}

	defaultMethod, err := ParseCompressionType(m.Compression)
	if err != nil {
		return nil, err
	}

	records := make([]FileRecord, 0, len(m.Files))
	for _, f := range m.Files {
		name := f.Name
		if name == "" {
			name = filepath.ToSlash(f.Path)
		}
		name = NormalizePath(name)

		if f.Delete {
			records = append(records, FileRecord{
				Name:         name,
				Locale:       f.Locale,
				Platform:     f.Platform,
				DeleteMarker: true,
			})
			continue
		}

		rec, err := ReadFileRecord(m.resolve(f.Path), name)
		if err != nil {
			return nil, err
		}

		candidate := strings.ReplaceAll(name, `\`, "/")
		rec.Compress = compress == nil || compress.Included(candidate, false)
		rec.Encrypt = encrypt != nil && encrypt.Included(candidate, false)
		rec.FixKey = rec.Encrypt && m.FixKey
		rec.SectorCRC = m.SectorCRC
		rec.Compression = defaultMethod

		if f.Compress != nil {
			rec.Compress = *f.Compress
		}
		if f.Encrypt != nil {
			rec.Encrypt = *f.Encrypt
			rec.FixKey = rec.Encrypt && m.FixKey
		}
		if f.SectorCRC != nil {
			rec.SectorCRC = *f.SectorCRC
		}
		if f.Compression != "" {
			if rec.Compression, err = ParseCompressionType(f.Compression); err != nil {
				return nil, err
			}
		}
		rec.SingleUnit = f.SingleUnit
		rec.Locale = f.Locale
		rec.Platform = f.Platform
		rec.PatchFile = f.Patch

		records = append(records, rec)
	}

	return records, nil
}

func (m *Manifest) resolve(path string) string {
	if filepath.IsAbs(path) || m.dir == "" {
		return path
	}
	return filepath.Join(m.dir, path)
}

// newRuleMatcher compiles gitignore-style patterns. It returns nil when
// there are no patterns.
func newRuleMatcher(patterns []string) (*pathrules.Matcher, error) {
	rules := make([]pathrules.Rule, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(strings.ReplaceAll(p, `\`, "/"))
		action := pathrules.ActionInclude
		if rest, ok := strings.CutPrefix(p, "!"); ok {
			action = pathrules.ActionExclude
			p = rest
		}
		if p == "" {
			continue
		}
		rules = append(rules, pathrules.Rule{Action: action, Pattern: p})
	}
	if len(rules) == 0 {
		return nil, nil
	}

	return pathrules.NewMatcher(rules, pathrules.MatcherOptions{
		CaseInsensitive: true,
		DefaultAction:   pathrules.ActionExclude,
	})
}

func parseAttributeNames(names []string) (AttributeFlags, error) {
	var flags AttributeFlags
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "crc32", "crc":
			flags |= AttrCRC32
		case "filetime", "time":
			flags |= AttrFileTime
		case "md5":
			flags |= AttrMD5
		case "patch":
			flags |= AttrPatchBit
		case "all":
			flags |= AttrAll
		default:
			return 0, fmt.Errorf("%w: unknown attribute %q", ErrInvalidManifest, name)
		}
	}
	return flags, nil
}
