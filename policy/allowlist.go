package policy

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ErrEmptyAllowlist is returned when a rule file yields no rules.
var ErrEmptyAllowlist = errors.New("allowlist is empty")

// LoadError points at the offending line of a rule file.
type LoadError struct {
	Line int
	Msg  string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("allowlist line %d: %s", e.Line, e.Msg)
}

// Rule is a compiled expr rule together with its source text.
type Rule struct {
	Source  string
	program *vm.Program
}

// Allowlist is the immutable trust policy for a run.
type Allowlist struct {
	Names  map[string]struct{}
	Paths  map[string]struct{}
	Hashes map[string]struct{} // lowercase hex
	UIDs   map[uint32]struct{}
	PPIDs  map[uint32]struct{}
	Args   []string // substrings; order and duplicates kept
	Exprs  []Rule
}

func newAllowlist() *Allowlist {
	return &Allowlist{
		Names:  make(map[string]struct{}),
		Paths:  make(map[string]struct{}),
		Hashes: make(map[string]struct{}),
		UIDs:   make(map[uint32]struct{}),
		PPIDs:  make(map[uint32]struct{}),
	}
}

// Len returns the total number of rules.
func (a *Allowlist) Len() int {
	return len(a.Names) + len(a.Paths) + len(a.Hashes) + len(a.UIDs) +
		len(a.PPIDs) + len(a.Args) + len(a.Exprs)
}

// exprEnv is the variable set an expr rule can reference.
func exprEnv() map[string]interface{} {
	return map[string]interface{}{
		"pid":     0,
		"ppid":    0,
		"uid":     0,
		"name":    "",
		"path":    "",
		"args":    []string{},
		"cmdline": "",
	}
}

// LoadFile reads and parses the rule file at path.
func LoadFile(path string) (*Allowlist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read allowlist %s: %w", path, err)
	}
	defer f.Close()

	a, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

// Parse reads "key: value" lines. Blank lines and lines starting with '#'
// are ignored. Keys are name, path, hash, uid, ppid, arg and expr.
func Parse(r io.Reader) (*Allowlist, error) {
	a := newAllowlist()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, &LoadError{Line: lineNo, Msg: fmt.Sprintf("expected key: value, got %q", line)}
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if value == "" {
			return nil, &LoadError{Line: lineNo, Msg: "empty value"}
		}

		if err := a.add(key, value); err != nil {
			return nil, &LoadError{Line: lineNo, Msg: err.Error()}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if a.Len() == 0 {
		return nil, ErrEmptyAllowlist
	}
	return a, nil
}

func (a *Allowlist) add(key, value string) error {
	switch key {
	case "name":
		a.Names[value] = struct{}{}
	case "path":
		a.Paths[value] = struct{}{}
	case "hash":
		a.Hashes[strings.ToLower(value)] = struct{}{}
	case "uid":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid uid %q", value)
		}
		a.UIDs[uint32(n)] = struct{}{}
	case "ppid":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid ppid %q", value)
		}
		a.PPIDs[uint32(n)] = struct{}{}
	case "arg":
		a.Args = append(a.Args, value)
	case "expr":
		program, err := expr.Compile(value, expr.Env(exprEnv()), expr.AsBool())
		if err != nil {
			return fmt.Errorf("invalid expression: %v", err)
		}
		a.Exprs = append(a.Exprs, Rule{Source: value, program: program})
	default:
		return fmt.Errorf("unknown key %q", key)
	}
	return nil
}
