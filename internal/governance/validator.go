package governance

import (
	"fmt"
	"log"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Validator decides whether a single parameter value may reach a tool.
type Validator interface {
	Validate(value string, class InputClass) (bool, string)
}

var (
	commandPatterns = mustCompile(
		`(?i)\b(rm|del|format|mkfs|dd)\b.*\s-[a-z]*[rf]`,
		`(?i)\b(sudo|su|doas)\b`,
		`\$\(`,
		"`",
		`>\s*/dev/`,
		`(?i)/etc/(passwd|shadow|sudoers)`,
		`(?i)\b(shutdown|reboot|halt)\b`,
	)
	shellMetachars = []string{"|", "&", ";", "$", "\n", "<", ">"}

	sqlPatterns = mustCompile(
		`(?i)\bunion\s+(all\s+)?select\b`,
		`(?i)\b(drop|truncate|alter)\s+table\b`,
		`(?i)\binsert\s+into\b`,
		`(?i)\bdelete\s+from\b`,
		`(?i)\bupdate\s+\w+\s+set\b`,
		`(--|/\*|\*/)`,
		`(?i)'\s*(or|and)\s*'?\d`,
		`;`,
	)

	xssPatterns = mustCompile(
		`(?is)<script[^>]*>`,
		`(?i)javascript:`,
		`(?i)\bon\w+\s*=`,
		`(?i)<(iframe|object|embed)\b`,
		`(?i)\beval\s*\(`,
	)

	dangerousExtensions = map[string]bool{
		".exe": true, ".dll": true, ".so": true, ".dylib": true,
		".sh": true, ".bat": true, ".cmd": true, ".ps1": true,
		".vbs": true, ".jar": true,
	}

	allowedSchemes = map[string]bool{"http": true, "https": true, "file": true}
)

func mustCompile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// DefaultValidator ships a small rule set per input class. It is not meant
// to be an exhaustive threat catalogue.
type DefaultValidator struct {
	StrictMode     bool
	AllowedDomains map[string]bool
	BlockedDomains map[string]bool
	// AllowedRoots confines path values in strict mode. Empty means any
	// absolute location is accepted.
	AllowedRoots []string

	markup *bluemonday.Policy
}

func NewDefaultValidator(strict bool) *DefaultValidator {
	return &DefaultValidator{
		StrictMode:     strict,
		AllowedDomains: make(map[string]bool),
		BlockedDomains: make(map[string]bool),
		markup:         bluemonday.UGCPolicy(),
	}
}

func (v *DefaultValidator) AllowDomain(host string) {
	v.AllowedDomains[strings.ToLower(host)] = true
}

func (v *DefaultValidator) BlockDomain(host string) {
	v.BlockedDomains[strings.ToLower(host)] = true
}

// AllowRoot adds a directory under which path values are accepted.
func (v *DefaultValidator) AllowRoot(dir string) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	v.AllowedRoots = append(v.AllowedRoots, filepath.Clean(abs))
}

func (v *DefaultValidator) Validate(value string, class InputClass) (bool, string) {
	if value == "" {
		return true, "empty input"
	}
	if strings.ContainsRune(value, 0) {
		return false, "null byte in input"
	}

	var ok bool
	var reason string
	switch class {
	case ClassCommand:
		ok, reason = v.validateCommand(value)
	case ClassPath:
		ok, reason = v.validatePath(value)
	case ClassURL:
		ok, reason = v.validateURL(value)
	case ClassSQL:
		ok, reason = v.validateSQL(value)
	case ClassHTML:
		ok, reason = v.validateHTML(value)
	default:
		ok, reason = v.validateGeneral(value)
	}
	if !ok {
		log.Printf("Security: rejected %s input %q: %s", class, truncate(value, 100), reason)
	}
	return ok, reason
}

func (v *DefaultValidator) validateCommand(command string) (bool, string) {
	for _, re := range commandPatterns {
		if re.MatchString(command) {
			return false, fmt.Sprintf("dangerous command pattern detected: %s", re.String())
		}
	}
	for _, ch := range shellMetachars {
		if strings.Contains(command, ch) {
			return false, fmt.Sprintf("shell metacharacter %q not allowed", ch)
		}
	}
	return true, "command validated"
}

func (v *DefaultValidator) validatePath(path string) (bool, string) {
	if strings.HasPrefix(path, "~") {
		return false, "home directory expansion not allowed"
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return false, "path traversal detected"
		}
	}
	if ext := strings.ToLower(filepath.Ext(path)); dangerousExtensions[ext] {
		return false, fmt.Sprintf("file extension %s not allowed", ext)
	}

	if v.StrictMode && len(v.AllowedRoots) > 0 {
		abs, err := filepath.Abs(path)
		if err != nil {
			return false, fmt.Sprintf("invalid path: %v", err)
		}
		for _, root := range v.AllowedRoots {
			rel, err := filepath.Rel(root, abs)
			if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				return true, "path validated"
			}
		}
		return false, "path outside allowed roots"
	}
	return true, "path validated"
}

func (v *DefaultValidator) validateURL(raw string) (bool, string) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false, fmt.Sprintf("invalid URL: %v", err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "javascript" || scheme == "data" {
		return false, "javascript: and data: URLs not allowed"
	}
	if !allowedSchemes[scheme] {
		return false, fmt.Sprintf("URL scheme '%s' not allowed", parsed.Scheme)
	}

	host := strings.ToLower(parsed.Hostname())
	if v.BlockedDomains[host] {
		return false, fmt.Sprintf("domain '%s' is blocked", host)
	}
	if len(v.AllowedDomains) > 0 && scheme != "file" && !v.AllowedDomains[host] {
		return false, fmt.Sprintf("domain '%s' not in allowed list", host)
	}
	return true, "URL validated"
}

func (v *DefaultValidator) validateSQL(query string) (bool, string) {
	for _, re := range sqlPatterns {
		if re.MatchString(query) {
			return false, fmt.Sprintf("SQL injection pattern detected: %s", re.String())
		}
	}
	return true, "SQL validated"
}

func (v *DefaultValidator) validateHTML(content string) (bool, string) {
	for _, re := range xssPatterns {
		if re.MatchString(content) {
			return false, fmt.Sprintf("XSS pattern detected: %s", re.String())
		}
	}
	// Markup that sanitizes down to nothing carried no safe content at all.
	if strings.Contains(content, "<") && strings.TrimSpace(v.markup.Sanitize(content)) == "" {
		return false, "markup contains no safe content"
	}
	return true, "HTML validated"
}

// validateGeneral applies the high-signal checks of every class without the
// strict metacharacter bans, so free text like prompts passes.
func (v *DefaultValidator) validateGeneral(text string) (bool, string) {
	for _, re := range commandPatterns {
		if re.MatchString(text) {
			return false, fmt.Sprintf("dangerous command pattern detected: %s", re.String())
		}
	}
	for _, re := range sqlPatterns[:5] {
		if re.MatchString(text) {
			return false, fmt.Sprintf("SQL injection pattern detected: %s", re.String())
		}
	}
	return v.validateHTML(text)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
