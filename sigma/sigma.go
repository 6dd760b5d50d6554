package sigma

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bradleyjkemp/sigma-go"
	"github.com/bradleyjkemp/sigma-go/evaluator"
	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/jnesss/proc-enforcer/process"
)

const (
	enabledDir  = "enabled_rules"
	disabledDir = "disabled_rules"
)

// Match is a rule that fired for a process.
type Match struct {
	RuleID     string
	Title      string
	Level      string
	Conditions []string
}

type matchKey struct {
	pid    uint32
	ruleID string
}

// Detector evaluates Sigma process_creation rules against process records.
// Rule files are read from <RulesDir>/enabled_rules and reloaded when that
// directory changes. The watcher goroutine only signals; rules are swapped
// in by PollReload on the caller's goroutine.
type Detector struct {
	RulesDir   string
	evaluators []*evaluator.RuleEvaluator // sorted by rule id
	reported   map[matchKey]struct{}
	users      func(uid uint32) string
	reloadChan chan bool
	watcher    *fsnotify.Watcher
}

// createHardcodedConfig maps Sigma field names onto the keys Event produces.
func createHardcodedConfig() sigma.Config {
	return sigma.Config{
		Title: "proc-enforcer process_creation",
		FieldMappings: map[string]sigma.FieldMapping{
			"CommandLine":       {TargetNames: []string{"CommandLine"}},
			"ParentCommandLine": {TargetNames: []string{"ParentCommandLine"}},
			"Image":             {TargetNames: []string{"Image"}},
			"ParentImage":       {TargetNames: []string{"ParentImage"}},
			"User":              {TargetNames: []string{"Username"}},
			"ProcessId":         {TargetNames: []string{"ProcessId"}},
			"ParentProcessId":   {TargetNames: []string{"ParentProcessId"}},
			"OriginalFileName":  {TargetNames: []string{"ProcessName"}},
		},
	}
}

// NewDetector creates the rule directories if needed, starts watching the
// enabled directory and loads the current rules. users resolves uids for
// the User field and may be nil.
func NewDetector(rulesDir string, users func(uid uint32) string) (*Detector, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	sd := &Detector{
		RulesDir:   rulesDir,
		reported:   make(map[matchKey]struct{}),
		users:      users,
		reloadChan: make(chan bool, 1),
		watcher:    watcher,
	}

	for _, dir := range []string{sd.enabledPath(), filepath.Join(rulesDir, disabledDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := sd.watcher.Add(sd.enabledPath()); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", sd.enabledPath(), err)
	}
	log.WithField("dir", sd.enabledPath()).Info("Watching Sigma rules")
	go sd.watchFileChanges()

	if err := sd.LoadRules(); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	return sd, nil
}

func (sd *Detector) enabledPath() string {
	return filepath.Join(sd.RulesDir, enabledDir)
}

func (sd *Detector) watchFileChanges() {
	for {
		select {
		case event, ok := <-sd.watcher.Events:
			if !ok {
				return
			}
			if !isRuleFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				log.WithFields(log.Fields{"file": event.Name, "op": event.Op.String()}).Debug("Detected rule change")
				sd.ReloadRules()
			}

		case err, ok := <-sd.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("File watcher error")
		}
	}
}

func isRuleFile(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yml" || ext == ".yaml"
}

// ReloadRules asks for a reload at the next PollReload. Requests coalesce.
func (sd *Detector) ReloadRules() {
	select {
	case sd.reloadChan <- true:
	default:
	}
}

// PollReload reloads rules if a reload was requested and reports whether
// it did. It never blocks.
func (sd *Detector) PollReload() bool {
	select {
	case <-sd.reloadChan:
	default:
		return false
	}
	if err := sd.LoadRules(); err != nil {
		log.WithError(err).Error("Error reloading rules")
		return false
	}
	return true
}

// LoadRules replaces the rule set with every parseable rule file in the
// enabled directory. Files that fail to parse are skipped with a warning.
func (sd *Detector) LoadRules() error {
	entries, err := os.ReadDir(sd.enabledPath())
	if err != nil {
		return err
	}

	var evaluators []*evaluator.RuleEvaluator
	for _, entry := range entries {
		if entry.IsDir() || !isRuleFile(entry.Name()) {
			continue
		}
		path := filepath.Join(sd.enabledPath(), entry.Name())
		ev, err := loadRuleFile(path)
		if err != nil {
			log.WithField("file", path).WithError(err).Warn("Failed to load rule file")
			continue
		}
		evaluators = append(evaluators, ev)
	}
	sort.Slice(evaluators, func(i, j int) bool {
		return evaluators[i].Rule.ID < evaluators[j].Rule.ID
	})

	sd.evaluators = evaluators
	log.WithFields(log.Fields{"count": len(evaluators), "dir": sd.enabledPath()}).Info("Loaded Sigma rules")
	return nil
}

func loadRuleFile(path string) (*evaluator.RuleEvaluator, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if sigma.InferFileType(content) != sigma.RuleFile {
		return nil, fmt.Errorf("file is not a Sigma rule: %s", path)
	}

	rule, err := sigma.ParseRule(content)
	if err != nil {
		return nil, err
	}
	if rule.ID == "" {
		rule.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	return evaluator.ForRule(rule,
		evaluator.WithConfig(createHardcodedConfig()),
		evaluator.WithPlaceholderExpander(func(ctx context.Context, placeholderName string) ([]string, error) {
			return nil, nil
		}),
		// aggregations need event history, which a single poll does not have
		evaluator.CountImplementation(func(ctx context.Context, key evaluator.GroupedByValues) (float64, error) {
			return 0, nil
		}),
		evaluator.SumImplementation(func(ctx context.Context, key evaluator.GroupedByValues, value float64) (float64, error) {
			return 0, nil
		}),
		evaluator.AverageImplementation(func(ctx context.Context, key evaluator.GroupedByValues, value float64) (float64, error) {
			return 0, nil
		})), nil
}

// RuleCount returns the number of loaded rules.
func (sd *Detector) RuleCount() int {
	return len(sd.evaluators)
}

// Event builds the field map rules are evaluated against. parent may be nil.
func (sd *Detector) Event(rec *process.Record, parent *process.Record) map[string]interface{} {
	image := rec.Path
	if image == "" {
		image = rec.Name
	}
	event := map[string]interface{}{
		"Image":           image,
		"ProcessName":     rec.Name,
		"CommandLine":     rec.CmdLine(),
		"ProcessId":       int64(rec.PID),
		"ParentProcessId": int64(rec.PPID),
	}
	if sd.users != nil {
		event["Username"] = sd.users(rec.UID)
	}
	if parent != nil {
		parentImage := parent.Path
		if parentImage == "" {
			parentImage = parent.Name
		}
		event["ParentImage"] = parentImage
		event["ParentCommandLine"] = parent.CmdLine()
	}
	return event
}

// Check evaluates every rule against rec and returns all matches in rule id order.
func (sd *Detector) Check(ctx context.Context, rec *process.Record, parent *process.Record) []Match {
	if len(sd.evaluators) == 0 {
		return nil
	}
	event := sd.Event(rec, parent)

	var matches []Match
	for _, ruleEvaluator := range sd.evaluators {
		result, err := ruleEvaluator.Matches(ctx, event)
		if err != nil {
			log.WithFields(log.Fields{"rule": ruleEvaluator.Rule.ID, "pid": rec.PID}).WithError(err).Debug("Error evaluating rule")
			continue
		}
		if !result.Match {
			continue
		}

		var conditions []string
		for k, v := range result.SearchResults {
			if v {
				conditions = append(conditions, k)
			}
		}
		sort.Strings(conditions)

		level := ruleEvaluator.Rule.Level
		if level == "" {
			level = "medium"
		}
		matches = append(matches, Match{
			RuleID:     ruleEvaluator.Rule.ID,
			Title:      ruleEvaluator.Rule.Title,
			Level:      level,
			Conditions: conditions,
		})
	}
	return matches
}

// Observe returns matches not yet reported for this pid and remembers them.
func (sd *Detector) Observe(ctx context.Context, rec *process.Record, parent *process.Record) []Match {
	var fresh []Match
	for _, m := range sd.Check(ctx, rec, parent) {
		key := matchKey{pid: rec.PID, ruleID: m.RuleID}
		if _, seen := sd.reported[key]; seen {
			continue
		}
		sd.reported[key] = struct{}{}
		fresh = append(fresh, m)
	}
	return fresh
}

// Evict forgets reported matches for pids not in alive.
func (sd *Detector) Evict(alive map[uint32]struct{}) {
	for key := range sd.reported {
		if _, ok := alive[key.pid]; !ok {
			delete(sd.reported, key)
		}
	}
}

// Close stops the directory watcher.
func (sd *Detector) Close() error {
	return sd.watcher.Close()
}
