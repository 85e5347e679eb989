package governance

import "strings"

// InputClass selects the validation rules applied to a parameter value.
type InputClass string

const (
	ClassCommand InputClass = "command"
	ClassPath    InputClass = "path"
	ClassURL     InputClass = "url"
	ClassSQL     InputClass = "sql"
	ClassHTML    InputClass = "html"
	ClassGeneral InputClass = "general"
)

// DetectInputClass infers the class of a parameter from its name. The
// checks run in a fixed order, so "file_url" is a url, not a path.
func DetectInputClass(paramName string) InputClass {
	name := strings.ToLower(paramName)
	switch {
	case strings.Contains(name, "url"), strings.Contains(name, "link"):
		return ClassURL
	case strings.Contains(name, "path"), strings.Contains(name, "file"):
		return ClassPath
	case strings.Contains(name, "command"), strings.Contains(name, "cmd"):
		return ClassCommand
	case strings.Contains(name, "query"), strings.Contains(name, "sql"):
		return ClassSQL
	case strings.Contains(name, "html"), strings.Contains(name, "content"):
		return ClassHTML
	default:
		return ClassGeneral
	}
}
