// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package report

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"github.com/awslabs/ar-soaap-tools/internal/formatutil"
)

// document is the structure of the JSON and XML reports
type document struct {
	XMLName     xml.Name     `json:"-" xml:"soaap"`
	Diagnostics []Diagnostic `json:"diagnostics" xml:"diagnostics>diagnostic"`
	Notes       []Note       `json:"notes,omitempty" xml:"notes>note,omitempty"`
}

func (r *Report) document() document {
	return document{Diagnostics: r.Diagnostics(), Notes: r.notes}
}

// WriteText writes the report for a human reader. Headings are colored when the standard output is a terminal.
func (r *Report) WriteText(w io.Writer) error {
	var kind Kind
	for _, d := range r.Diagnostics() {
		if d.Kind != kind {
			kind = d.Kind
			fmt.Fprintf(w, "%s\n", formatutil.Bold("* "+heading(kind)))
		}
		fmt.Fprintf(w, " *** %s\n", formatutil.Red(d.Message))
		fmt.Fprintf(w, " +++ %s\n", d.Location.Position())
		for _, detail := range d.Details {
			fmt.Fprintf(w, " +++ %s\n", detail)
		}
		if len(d.Trace) > 0 {
			fmt.Fprintf(w, " Possible trace:\n")
			trace, summarised := Summarise(d.Trace, r.Config.SummariseTraces)
			for i, frame := range trace {
				if summarised && i == r.Config.SummariseTraces {
					fmt.Fprintf(w, "      ...\n      ...\n      ...\n")
				}
				fmt.Fprintf(w, "      %s\n", frame)
			}
		}
		fmt.Fprintln(w)
	}
	for _, n := range r.notes {
		fmt.Fprintf(w, "%s %s", formatutil.Yellow("note:"), n.Message)
		if n.Location.Function != "" {
			fmt.Fprintf(w, " (%s)", n.Location)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// WriteJSON writes the report as a JSON document, indented when pretty-print is set
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	if r.Config.PrettyPrint {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(r.document())
}

// WriteXML writes the report as an XML document, indented when pretty-print is set
func (r *Report) WriteXML(w io.Writer) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	if r.Config.PrettyPrint {
		enc.Indent("", "  ")
	}
	if err := enc.Encode(r.document()); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

var htmlReport = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>SOAAP report</title></head>
<body>
<h1>SOAAP report</h1>
<table>
<tr><th>Kind</th><th>Sandbox</th><th>Message</th><th>Location</th><th>Trace</th></tr>
{{range .Diagnostics}}<tr>
<td>{{.Kind}}</td><td>{{.Sandbox}}</td><td>{{.Message}}{{range .Details}}<br>{{.}}{{end}}</td>
<td>{{.Location.Position}}</td><td>{{range .Trace}}{{.}}<br>{{end}}</td>
</tr>
{{end}}</table>
{{if .Notes}}<h2>Notes</h2>
<ul>
{{range .Notes}}<li>{{.Message}}</li>
{{end}}</ul>
{{end}}</body>
</html>
`))

// WriteHTML writes the report as an HTML table
func (r *Report) WriteHTML(w io.Writer) error {
	return htmlReport.Execute(w, r.document())
}

// Write writes the report in format to w
func (r *Report) Write(w io.Writer, format string) error {
	switch format {
	case config.FormatText:
		return r.WriteText(w)
	case config.FormatJSON:
		return r.WriteJSON(w)
	case config.FormatXML:
		return r.WriteXML(w)
	case config.FormatHTML:
		return r.WriteHTML(w)
	}
	return fmt.Errorf("report format %q: %w", format, config.ErrUnknownOption)
}

// WriteAll writes the report in every configured format: the text report to stdout, and every format to
// <reports-dir>/<prefix>.<format> when a reports directory is set. A file that cannot be written is logged and
// skipped. The names of the files written are returned.
func (r *Report) WriteAll(stdout io.Writer, logger *config.LogGroup) []string {
	var written []string
	for _, format := range r.Config.ReportOutputFormats {
		if format == config.FormatText {
			if err := r.WriteText(stdout); err != nil {
				logger.Errorf("could not write text report: %v", err)
			}
		}
		if r.Config.ReportsDir == "" {
			continue
		}
		name := filepath.Join(r.Config.ReportsDir, r.fileName(format))
		if err := r.writeFile(name, format); err != nil {
			logger.Errorf("could not write report %s: %v", name, err)
			continue
		}
		logger.Infof("Report written to %s", name)
		written = append(written, name)
	}
	return written
}

func (r *Report) fileName(format string) string {
	prefix := r.Config.ReportFilePrefix
	if prefix == "" {
		prefix = config.DefaultReportFilePrefix
	}
	ext := format
	if format == config.FormatText {
		ext = "txt"
	}
	return prefix + "." + ext
}

func (r *Report) writeFile(name, format string) error {
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return err
	}
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := r.Write(f, format); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func heading(k Kind) string {
	switch k {
	case KindVulnerability:
		return "Vulnerability warnings"
	case KindGlobalRead, KindGlobalWrite:
		return "Global variable accesses"
	case KindLostUpdate:
		return "Lost updates to shared global variables"
	case KindSysCall:
		return "System calls"
	case KindCapRights:
		return "File descriptor rights"
	case KindClassified:
		return "Classified data"
	case KindPrivateAccess:
		return "Accesses to sandbox-private data"
	case KindPrivateLeak:
		return "Leaks of sandbox-private data"
	case KindUntrustedFP:
		return "Untrusted function pointer calls"
	case KindPrivilegedCall:
		return "Calls to privileged functions"
	case KindSandboxedFunc:
		return "Sandboxed functions"
	case KindCreationMissing:
		return "Sandbox creation"
	}
	return strings.ReplaceAll(string(k), "_", " ")
}
