package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/meigma/unfreeze"
)

// reportFile is the YAML document written by --report.
type reportFile struct {
	Input     string        `yaml:"input"`
	OutputDir string        `yaml:"output_dir"`
	PyVersion string        `yaml:"python_version"`
	Summary   reportSummary `yaml:"summary"`
	Entries   []reportEntry `yaml:"entries"`
}

type reportSummary struct {
	Succeeded    int    `yaml:"succeeded"`
	Failed       int    `yaml:"failed"`
	Skipped      int    `yaml:"skipped"`
	BytesWritten uint64 `yaml:"bytes_written"`
}

type reportEntry struct {
	Name     string        `yaml:"name"`
	Type     string        `yaml:"type"`
	Path     string        `yaml:"path,omitempty"`
	Outcome  string        `yaml:"outcome"`
	Size     uint64        `yaml:"size,omitempty"`
	Digest   string        `yaml:"digest,omitempty"`
	Error    string        `yaml:"error,omitempty"`
	Children []reportEntry `yaml:"children,omitempty"`
}

func newReportFile(input string, r *unfreeze.Report) *reportFile {
	return &reportFile{
		Input:     input,
		OutputDir: r.OutputDir,
		PyVersion: r.PyVersion,
		Summary: reportSummary{
			Succeeded:    r.Succeeded,
			Failed:       r.Failed,
			Skipped:      r.Skipped,
			BytesWritten: r.BytesWritten,
		},
		Entries: reportEntries(r.Results),
	}
}

func reportEntries(results []unfreeze.Result) []reportEntry {
	if len(results) == 0 {
		return nil
	}
	out := make([]reportEntry, len(results))
	for i := range results {
		res := &results[i]
		e := reportEntry{
			Name:     res.Name,
			Type:     unfreeze.TypeCode(res.Type).String(),
			Path:     res.Path,
			Outcome:  res.Outcome.String(),
			Size:     res.Size,
			Digest:   res.Digest.String(),
			Children: reportEntries(res.Children),
		}
		if res.Err != nil {
			e.Error = res.Err.Error()
		}
		out[i] = e
	}
	return out
}

// writeReportFile writes the report as YAML to path.
func writeReportFile(path, input string, r *unfreeze.Report) error {
	data, err := yaml.Marshal(newReportFile(input, r))
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // report is not sensitive
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
