package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

const (
	keywordPrefix   = "Suchbegriffe_"
	exclusionPrefix = "Ausschluss_"
	emailPrefix     = "EMail_"
)

// Purpose bundles the files belonging to one independent keyword set.
type Purpose struct {
	Name          string
	KeywordFile   string
	ExclusionFile string
	EmailFile     string
	DatabasePath  string
	LogFile       string
}

// Purpose resolves the file layout of purpose name.
func (c Config) Purpose(name string) Purpose {
	return Purpose{
		Name:          name,
		KeywordFile:   filepath.Join(c.General.ConfigDir, keywordPrefix+name+".txt"),
		ExclusionFile: filepath.Join(c.General.ConfigDir, exclusionPrefix+name+".txt"),
		EmailFile:     filepath.Join(c.General.ConfigDir, emailPrefix+name+".yaml"),
		DatabasePath:  filepath.Join(c.General.DataDir, "tenders_"+name+".db"),
		LogFile:       filepath.Join(c.General.DataDir, "debug_"+name+".log"),
	}
}

// Validate reports missing purpose files. The email file is only required
// when requireEmail is set.
func (p Purpose) Validate(requireEmail bool) error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("purpose name is required")
	}
	var errs []error
	if _, err := os.Stat(p.KeywordFile); err != nil {
		errs = append(errs, fmt.Errorf("keyword file: %w", err))
	}
	if requireEmail {
		if _, err := os.Stat(p.EmailFile); err != nil {
			errs = append(errs, fmt.Errorf("email file: %w", err))
		}
	}
	return errors.Join(errs...)
}

// DiscoverPurposes lists purposes from Suchbegriffe_<P>.txt files in dir,
// sorted by name.
func DiscoverPurposes(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read config dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, keywordPrefix) || filepath.Ext(name) != ".txt" {
			continue
		}
		p := strings.TrimSuffix(strings.TrimPrefix(name, keywordPrefix), ".txt")
		if p != "" {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

// PurposeEmail is the content of EMail_<P>.yaml.
type PurposeEmail struct {
	Recipients struct {
		To  []string `mapstructure:"to"`
		Cc  []string `mapstructure:"cc"`
		Bcc []string `mapstructure:"bcc"`
	} `mapstructure:"recipients"`
	SubjectTemplate string `mapstructure:"subject_template"`
	SendEmptyReport *bool  `mapstructure:"send_empty_report"`
}

// LoadPurposeEmail reads a purpose's recipient file.
func LoadPurposeEmail(path string) (PurposeEmail, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return PurposeEmail{}, fmt.Errorf("read email file: %w", err)
	}
	var pe PurposeEmail
	if err := v.Unmarshal(&pe); err != nil {
		return PurposeEmail{}, fmt.Errorf("unmarshal email file: %w", err)
	}
	if len(pe.Recipients.To)+len(pe.Recipients.Cc)+len(pe.Recipients.Bcc) == 0 {
		return PurposeEmail{}, fmt.Errorf("email file %s lists no recipients", path)
	}
	return pe, nil
}

// SubjectTemplate picks the purpose's subject, then the global one. A
// template that does not mention {purpose} is replaced so digests of
// different purposes stay distinguishable.
func (c Config) SubjectTemplate(pe PurposeEmail) string {
	tmpl := strings.TrimSpace(pe.SubjectTemplate)
	if tmpl == "" {
		tmpl = strings.TrimSpace(c.Email.SubjectTemplate)
	}
	if !strings.Contains(tmpl, "{purpose}") {
		return "Ausschreibungen {purpose} - {date}"
	}
	return tmpl
}

// SendEmpty resolves the empty-digest policy for a purpose.
func (c Config) SendEmpty(pe PurposeEmail) bool {
	if pe.SendEmptyReport != nil {
		return *pe.SendEmptyReport
	}
	return c.Email.SendEmptyReport
}
