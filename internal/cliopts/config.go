// Package cliopts assembles the flat Config a parabuild run executes
// against, parsed from the cobra/pflag root command surface defined in
// cmd/parabuild. Grounded on the teacher's cmd/wave/commands.RunOptions
// shape: a flag struct populated by cobra, then validated and normalized
// into a config the rest of the program consumes.
package cliopts

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/panjd123/parabuild/internal/record"
	"github.com/panjd123/parabuild/internal/security"
)

// ConfigError marks a fatal, pre-flight configuration problem (spec §7's
// Configuration error class): no workspace is ever provisioned for these.
type ConfigError struct {
	msg string
}

func (e *ConfigError) Error() string { return e.msg }

func configErrorf(format string, args ...interface{}) error {
	return &ConfigError{msg: fmt.Sprintf(format, args...)}
}

// ScriptSource holds the string/file pair for one of the three lifecycle
// scripts; the inline string wins when both are set (spec §6).
type ScriptSource struct {
	Inline string
	File   string
}

// Resolve returns the script body to run, or ok=false when neither was set.
func (s ScriptSource) Resolve() (string, bool, error) {
	if s.Inline != "" {
		return s.Inline, true, nil
	}
	if s.File != "" {
		data, err := os.ReadFile(s.File)
		if err != nil {
			return "", false, fmt.Errorf("read script file %s: %w", s.File, err)
		}
		return string(data), true, nil
	}
	return "", false, nil
}

// Flags mirrors the raw CLI surface before normalization, one field per
// flag named in spec §6 plus the SPEC_FULL.md additions.
type Flags struct {
	ProjectPath string
	TargetFiles []string

	TemplateFile      string
	SeparatedTemplate bool

	Data     string
	DataFile string

	OutputFile    string
	FormatOutput  bool
	DataSchema    string
	SortOutput    bool

	WorkspacesPath string
	NoCache        bool
	WithoutRsync   bool

	InitScript     string
	InitScriptFile string
	CompileScript     string
	CompileScriptFile string
	RunScript         string
	RunScriptFile     string

	InitCMakeArgs string
	MakeTarget    string
	Makefile      bool
	NoInit        bool

	BuildWorkers int
	RunWorkers   int
	RunInPlace   bool

	PanicOnCompileError bool
	Silent              bool

	Continue    string
	HasContinue bool
	Autosave    string
	AutosaveDir string
}

// Config is the normalized, validated form of Flags that the orchestrator
// consumes. Durations are parsed, data is loaded, defaults are applied.
type Config struct {
	ProjectPath string
	TargetFiles []string

	TemplateFile string
	InPlace      bool // template path == output path

	Data       []record.DataRecord
	DataSchema *record.SchemaValidator

	OutputFile   string
	FormatOutput bool
	SortOutput   bool

	WorkspacesPath string
	ClearCache     bool
	WithoutRsync   bool

	InitScript    string
	CompileScript string
	RunScript     string
	HasRunScript  bool

	InitCMakeArgs string
	MakeTarget    string
	Makefile      bool
	NoInit        bool

	BuildWorkers int
	RunWorkers   int
	RunInPlace   bool

	PanicOnCompileError bool
	Silent              bool

	ContinueFrom string // snapshot name, or "" when not resuming; "latest" is a valid name
	Resume       bool
	AutosaveEvery time.Duration
	AutosaveDir   string
}

const (
	defaultWorkspacesPath = ".parabuild/workspaces"
	defaultAutosaveDir    = ".parabuild/autosave"
	defaultAutosave       = "30m"
	defaultInitScript     = "cmake -S . -B build -DPARABUILD=ON"
	defaultCompileScript  = "cmake --build build --target all -- -B"
)

// Build validates Flags and produces a Config, performing every fatal
// Configuration check spec §7 calls for before any workspace is touched.
func Build(f Flags) (*Config, error) {
	if f.ProjectPath == "" {
		return nil, configErrorf("project_path is required")
	}
	if f.TemplateFile == "" {
		return nil, configErrorf("--template-file is required")
	}
	if _, err := os.Stat(f.TemplateFile); err != nil {
		return nil, configErrorf("template file %s: %v", f.TemplateFile, err)
	}

	data, err := loadData(f)
	if err != nil {
		return nil, err
	}

	var schema *record.SchemaValidator
	if f.DataSchema != "" {
		schema, err = record.NewSchemaValidator(f.DataSchema)
		if err != nil {
			return nil, configErrorf("%v", err)
		}
	}

	initScript, _, err := ScriptSource{Inline: f.InitScript, File: f.InitScriptFile}.Resolve()
	if err != nil {
		return nil, configErrorf("%v", err)
	}
	if initScript == "" {
		initScript = defaultInitScript
		if f.InitCMakeArgs != "" {
			initScript += " " + f.InitCMakeArgs
		}
	}

	compileScript, _, err := ScriptSource{Inline: f.CompileScript, File: f.CompileScriptFile}.Resolve()
	if err != nil {
		return nil, configErrorf("%v", err)
	}
	if compileScript == "" {
		target := f.MakeTarget
		if target == "" {
			target = "all"
		}
		compileScript = fmt.Sprintf("cmake --build build --target %s -- -B", target)
	}

	runScript, hasRunScript, err := ScriptSource{Inline: f.RunScript, File: f.RunScriptFile}.Resolve()
	if err != nil {
		return nil, configErrorf("%v", err)
	}

	if f.RunInPlace {
		if err := security.DistinctTargets(f.TargetFiles); err != nil {
			return nil, configErrorf("%v", err)
		}
	}

	autosaveStr := f.Autosave
	if autosaveStr == "" {
		autosaveStr = defaultAutosave
	}
	autosaveEvery, err := ParseDuration(autosaveStr)
	if err != nil {
		return nil, configErrorf("invalid --autosave duration %q: %v", autosaveStr, err)
	}

	workspacesPath := f.WorkspacesPath
	if workspacesPath == "" {
		workspacesPath = defaultWorkspacesPath
	}
	autosaveDir := f.AutosaveDir
	if autosaveDir == "" {
		autosaveDir = defaultAutosaveDir
	}

	cfg := &Config{
		ProjectPath:         f.ProjectPath,
		TargetFiles:         f.TargetFiles,
		TemplateFile:        f.TemplateFile,
		InPlace:             !f.SeparatedTemplate,
		Data:                data,
		DataSchema:          schema,
		OutputFile:          f.OutputFile,
		FormatOutput:        f.FormatOutput,
		SortOutput:          f.SortOutput,
		WorkspacesPath:      workspacesPath,
		ClearCache:          !f.NoCache,
		WithoutRsync:        f.WithoutRsync,
		InitScript:          initScript,
		CompileScript:       compileScript,
		RunScript:           runScript,
		HasRunScript:        hasRunScript,
		InitCMakeArgs:       f.InitCMakeArgs,
		MakeTarget:          f.MakeTarget,
		Makefile:            f.Makefile,
		NoInit:              f.NoInit,
		BuildWorkers:        f.BuildWorkers,
		RunWorkers:          f.RunWorkers,
		RunInPlace:          f.RunInPlace,
		PanicOnCompileError: f.PanicOnCompileError,
		Silent:              f.Silent,
		ContinueFrom:        f.Continue,
		Resume:              f.HasContinue,
		AutosaveEvery:       autosaveEvery,
		AutosaveDir:         autosaveDir,
	}

	if cfg.BuildWorkers <= 0 {
		return nil, configErrorf("-j (build workers) must be positive, got %d", cfg.BuildWorkers)
	}

	return cfg, nil
}

func loadData(f Flags) ([]record.DataRecord, error) {
	var raw string
	switch {
	case f.Data != "":
		raw = f.Data
	case f.DataFile != "":
		b, err := os.ReadFile(f.DataFile)
		if err != nil {
			return nil, configErrorf("read --data-file %s: %v", f.DataFile, err)
		}
		raw = string(b)
	default:
		return nil, configErrorf("one of --data or --data-file is required")
	}

	var records []record.DataRecord
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, configErrorf("malformed JSON data: %v", err)
	}
	return records, nil
}

var dayPattern = regexp.MustCompile(`^(\d+)d(.*)$`)

// ParseDuration extends time.ParseDuration with a "d" (day) suffix, adapted
// from the teacher's cmd/wave/commands.parseDuration, for --autosave and
// --older-than.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if m := dayPattern.FindStringSubmatch(s); len(m) == 3 {
		days, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, fmt.Errorf("invalid days value %q", m[1])
		}
		var rest time.Duration
		if m[2] != "" {
			var err error
			rest, err = time.ParseDuration(m[2])
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q", s)
			}
		}
		return time.Duration(days)*24*time.Hour + rest, nil
	}
	return time.ParseDuration(s)
}
