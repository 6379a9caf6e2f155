// Package outputters renders scan results as JSON, Markdown and CSV, both
// as plain writers for the CLI and as chain outputters for module runs.
package outputters

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/praetorian-inc/janus-framework/pkg/chain"
	"github.com/praetorian-inc/janus-framework/pkg/chain/cfg"

	"github.com/praetorian-inc/oauthkitchen/internal/message"
	"github.com/praetorian-inc/oauthkitchen/pkg/types"
)

// WriteJSON renders the full analysis result as indented JSON.
func WriteJSON(w io.Writer, result *types.AnalysisResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("encode analysis result: %w", err)
	}
	return nil
}

// NamedOutputData pairs a payload with the file it should land in, so the
// producing link can pick the filename at runtime.
type NamedOutputData struct {
	OutputFilename string
	Data           any
}

const defaultJSONOutfile = "oauth-posture.json"

// PostureJSONOutputter writes analysis results produced by a module chain to
// a JSON file chosen at runtime.
type PostureJSONOutputter struct {
	*chain.BaseOutputter
	results []any
	outfile string
}

// NewPostureJSONOutputter creates the outputter.
func NewPostureJSONOutputter(configs ...cfg.Config) chain.Outputter {
	o := &PostureJSONOutputter{}
	o.BaseOutputter = chain.NewBaseOutputter(o, configs...)
	return o
}

func (o *PostureJSONOutputter) Initialize() error {
	outfile, err := cfg.As[string](o.Arg("outfile"))
	if err != nil || outfile == "" {
		outfile = defaultJSONOutfile
	}
	o.outfile = outfile
	return nil
}

// Output collects results in memory; everything is written at Complete.
func (o *PostureJSONOutputter) Output(val any) error {
	if named, ok := val.(NamedOutputData); ok {
		if named.OutputFilename != "" && o.outfile == defaultJSONOutfile {
			o.outfile = named.OutputFilename
		}
		o.results = append(o.results, named.Data)
		return nil
	}
	o.results = append(o.results, val)
	return nil
}

func (o *PostureJSONOutputter) Complete() error {
	if len(o.results) == 0 {
		slog.Info("no scan results to write")
		return nil
	}

	f, err := os.Create(o.outfile)
	if err != nil {
		return fmt.Errorf("create output file %s: %w", o.outfile, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")

	var payload any = o.results
	if len(o.results) == 1 {
		payload = o.results[0]
	}
	if err := enc.Encode(payload); err != nil {
		return fmt.Errorf("write output file %s: %w", o.outfile, err)
	}

	message.Success("Scan results written to %s", o.outfile)
	return nil
}

func (o *PostureJSONOutputter) Params() []cfg.Param {
	return []cfg.Param{
		cfg.NewParam[string]("outfile", "file to write the scan results to").WithDefault(defaultJSONOutfile),
	}
}
