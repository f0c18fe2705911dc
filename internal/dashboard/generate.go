// Package dashboard renders the Grafana dashboard for the drone status
// table written by the GreptimeDB sink.
package dashboard

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"droneops-fleet/internal/telemetry"
)

//go:embed templates/*.json.tmpl
var templates embed.FS

// Battery thresholds of the voltage panel, in volts.
const (
	lowBattery      = 11.1
	criticalBattery = 10.8
)

// Options feed the dashboard template.
type Options struct {
	// Table defaults to telemetry.StatusTableName.
	Table string
	// TTL is the window the "active drones" panel counts over.
	TTL time.Duration
}

type templateData struct {
	Table           string
	TTLSeconds      int
	LowBattery      float64
	CriticalBattery float64
}

// Render parses dashboard templates and writes rendered dashboards to outDir.
// The datasource uid comes from GREPTIMEDB_DATASOURCE_UID.
func Render(outDir string, opts Options) error {
	funcMap := template.FuncMap{
		"env": func(key string) (string, error) {
			v := os.Getenv(key)
			if v == "" {
				return "", fmt.Errorf("environment variable %s not set", key)
			}
			return v, nil
		},
	}
	if opts.Table == "" {
		opts.Table = telemetry.StatusTableName
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	data := templateData{
		Table:           opts.Table,
		TTLSeconds:      int(opts.TTL.Seconds()),
		LowBattery:      lowBattery,
		CriticalBattery: criticalBattery,
	}

	names, err := templates.ReadDir("templates")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	for _, entry := range names {
		tplName := entry.Name()
		t, err := template.New(tplName).Funcs(funcMap).ParseFS(templates, "templates/"+tplName)
		if err != nil {
			return err
		}
		outPath := filepath.Join(outDir, strings.TrimSuffix(tplName, ".tmpl"))
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		if err := t.Execute(f, data); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}
