package policy

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// Messages written to the error marker, prefixed with MarkerPrefix.
const (
	MessageClientBodyTempPath = "Usage of configuration parameter client_body_temp_path is not allowed.\n"
	MessageLogOutsideData     = "It's not allowed store access_log or error_log outside of /data/.\n"
	MessageInclude            = "You are not allowed to use include or load_module in the nginx config unless the path is relative " +
		"or in the main nginx config directory. " +
		"See the NGINX dos and don'ts in this article: " +
		"https://support.hypernode.com/knowledgebase/how-to-use-nginx/\n"
	MessageLuaInit = "Usage of Lua initialization is not allowed.\n"

	MarkerPrefix = "Unable to load config: "
)

const matchTimeout = 250 * time.Millisecond

// Rule is one forbidden-directive pattern evaluated per line.
type Rule struct {
	Name    string
	Message string
	pattern *regexp2.Regexp
}

// Match reports whether line triggers the rule.
func (r Rule) Match(line string) (bool, error) {
	return r.pattern.MatchString(line)
}

func newRule(name, expr, message string) (Rule, error) {
	re, err := regexp2.Compile(expr, regexp2.None)
	if err != nil {
		return Rule{}, fmt.Errorf("compile %s rule: %w", name, err)
	}
	re.MatchTimeout = matchTimeout
	return Rule{Name: name, Message: message, pattern: re}, nil
}

// RuleOptions parameterises the include rule.
type RuleOptions struct {
	MainConfigDir   string
	BackupConfigDir string
	AllowIncludes   bool
}

// Rules returns the forbidden-directive rules in evaluation order.
func Rules(opts RuleOptions) ([]Rule, error) {
	main := slashRun(opts.MainConfigDir)
	if main == "" {
		main = slashRun("/etc/nginx")
	}
	backup := slashRun(opts.BackupConfigDir)
	if backup == "" {
		backup = slashRun("/etc/nginx/app_bak")
	}

	defs := []struct{ name, expr, message string }{
		{"client_body_temp_path", `client_body_temp_path`, MessageClientBodyTempPath},
		{"log_outside_data",
			`^(?!\s*#)\s*(access|error)_log\s*["']?\s*` +
				`(?!(off|on|/+data/+|syslog:server=(?!unix)))(?=.*\.\.|/+(?!data)|\w)` +
				`["']?\s*`,
			MessageLogOutsideData},
		{"include",
			`^(?!\s*#)\s*(include|load_module)\s*["']?\s*` +
				`(?=.*\.\.|/+` + backup + `|/+(?!` + main + `))` +
				`["']?\s*`,
			MessageInclude},
		{"lua_init", `init_by_lua`, MessageLuaInit},
	}

	rules := make([]Rule, 0, len(defs))
	for _, def := range defs {
		if def.name == "include" && opts.AllowIncludes {
			continue
		}
		rule, err := newRule(def.name, def.expr, def.message)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// slashRun turns /etc/nginx into etc/+nginx so repeated slashes still match.
func slashRun(path string) string {
	path = filepath.ToSlash(filepath.Clean(strings.TrimSpace(path)))
	if path == "." || path == "/" {
		return ""
	}
	var parts []string
	for _, segment := range strings.Split(path, "/") {
		if segment != "" {
			parts = append(parts, regexp2.Escape(segment))
		}
	}
	return strings.Join(parts, "/+")
}
