// Package nuclei shells out to the nuclei binary to execute external-template
// checks. The binary is optional at runtime; its absence degrades template
// execution into a deterministic TOOL_UNAVAILABLE fault.
package nuclei

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/basket/pocvault/internal/fault"
	"github.com/basket/pocvault/internal/verdict"
)

const probeTimeout = 5 * time.Second

// DefaultScanTimeout bounds a single template execution.
const DefaultScanTimeout = 30 * time.Second

// Adapter wraps one nuclei binary. The availability probe runs once per
// process and is cached for the adapter's lifetime.
type Adapter struct {
	path        string
	scanTimeout time.Duration
	logger      *slog.Logger

	probeOnce sync.Once
	available bool
	version   string
}

func NewAdapter(path string, scanTimeout time.Duration, logger *slog.Logger) *Adapter {
	if path == "" {
		path = "nuclei"
	}
	if scanTimeout <= 0 {
		scanTimeout = DefaultScanTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{path: path, scanTimeout: scanTimeout, logger: logger}
}

// Available probes the binary with -version and caches the answer.
func (a *Adapter) Available(ctx context.Context) bool {
	a.probeOnce.Do(func() {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()
		out, err := exec.CommandContext(probeCtx, a.path, "-version").CombinedOutput()
		if err != nil {
			a.logger.Warn("scanner binary unavailable", "path", a.path, "error", err)
			return
		}
		a.available = true
		a.version = firstLine(string(out))
		a.logger.Info("scanner binary available", "path", a.path, "version", a.version)
	})
	return a.available
}

// Version returns the probed version string, empty when unavailable.
func (a *Adapter) Version(ctx context.Context) string {
	a.Available(ctx)
	return a.version
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// Execute runs one template against one normalized target. No findings is a
// successful negative verdict, not an error.
func (a *Adapter) Execute(ctx context.Context, templatePath, targetURL string) (*verdict.Verdict, error) {
	if !a.Available(ctx) {
		return nil, fault.New(fault.KindToolUnavailable, "nuclei binary %q not available", a.path)
	}
	if _, err := os.Stat(templatePath); err != nil {
		return nil, fault.Wrap(fault.KindNotFound, err, "template %s", templatePath)
	}

	scanCtx, cancel := context.WithTimeout(ctx, a.scanTimeout)
	defer cancel()

	cmd := exec.CommandContext(scanCtx, a.path,
		"-t", templatePath,
		"-u", targetURL,
		"-jsonl", "-silent", "-nc")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if scanCtx.Err() != nil {
		return nil, fault.Wrap(fault.KindTimeout, scanCtx.Err(), "template scan exceeded %s", a.scanTimeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		// nuclei exits non-zero for engine failures; findings and clean scans
		// both exit zero, so any non-zero exit here is a runner fault.
		if errors.As(err, &exitErr) {
			return nil, fault.New(fault.KindRunnerException, "nuclei exited %d: %s",
				exitErr.ExitCode(), firstLine(stderr.String()))
		}
		return nil, fault.Wrap(fault.KindRunnerException, err, "spawn nuclei")
	}

	v := ParseFindings(stdout.Bytes())
	a.logger.Info("template scan finished",
		"template", templatePath,
		"target", targetURL,
		"vulnerable", v.Vulnerable)
	return v, nil
}

// ParseFindings interprets nuclei JSON-lines output. Malformed lines are
// skipped; the first well-formed finding decides the verdict.
func ParseFindings(raw []byte) *verdict.Verdict {
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var finding struct {
			TemplateID string `json:"template-id"`
			Info       struct {
				Name     string `json:"name"`
				Severity string `json:"severity"`
			} `json:"info"`
			MatchedAt        string   `json:"matched-at"`
			MatcherName      string   `json:"matcher-name"`
			ExtractedResults []string `json:"extracted-results"`
			CurlCommand      string   `json:"curl-command"`
		}
		if err := json.Unmarshal(line, &finding); err != nil {
			continue
		}
		if finding.TemplateID == "" {
			continue
		}
		details := map[string]any{
			"template_id":   finding.TemplateID,
			"template_name": finding.Info.Name,
			"severity":      finding.Info.Severity,
			"matched_at":    finding.MatchedAt,
			"raw_output":    string(line),
		}
		if finding.MatcherName != "" {
			details["matcher_name"] = finding.MatcherName
		}
		if len(finding.ExtractedResults) > 0 {
			details["extracted_results"] = finding.ExtractedResults
		}
		if finding.CurlCommand != "" {
			details["curl_command"] = finding.CurlCommand
		}
		reason := fmt.Sprintf("template %s matched", finding.TemplateID)
		if finding.MatchedAt != "" {
			reason = fmt.Sprintf("template %s matched at %s", finding.TemplateID, finding.MatchedAt)
		}
		return &verdict.Verdict{Vulnerable: true, Reason: reason, Details: details}
	}
	return &verdict.Verdict{Vulnerable: false, Reason: "no template matches against target"}
}

// Validate runs nuclei's own template validation.
func (a *Adapter) Validate(ctx context.Context, templatePath string) error {
	if _, err := os.Stat(templatePath); err != nil {
		return fault.Wrap(fault.KindNotFound, err, "template %s", templatePath)
	}
	if !a.Available(ctx) {
		return fault.New(fault.KindToolUnavailable, "nuclei binary %q not available", a.path)
	}

	valCtx, cancel := context.WithTimeout(ctx, probeTimeout*2)
	defer cancel()
	out, err := exec.CommandContext(valCtx, a.path, "-t", templatePath, "-validate").CombinedOutput()
	if err != nil {
		return fault.New(fault.KindValidation, "template failed validation: %s", firstLine(string(out)))
	}
	return nil
}

// TemplateInfo is the parsed header of a nuclei template.
type TemplateInfo struct {
	ID          string
	Name        string
	Severity    string
	Description string
	Tags        []string
}

// DescribeTemplate parses the template header. Parsing is best-effort: any
// failure yields nil rather than an error, matching how the catalog treats
// template metadata as advisory.
func DescribeTemplate(path string) *TemplateInfo {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var doc struct {
		ID   string `yaml:"id"`
		Info struct {
			Name        string `yaml:"name"`
			Severity    string `yaml:"severity"`
			Description string `yaml:"description"`
			Tags        string `yaml:"tags"`
		} `yaml:"info"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil || doc.ID == "" {
		return nil
	}
	info := &TemplateInfo{
		ID:          doc.ID,
		Name:        doc.Info.Name,
		Severity:    doc.Info.Severity,
		Description: doc.Info.Description,
	}
	for _, tag := range strings.Split(doc.Info.Tags, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			info.Tags = append(info.Tags, tag)
		}
	}
	return info
}
