package files

import (
	"path"
	"strings"
)

const languagePlaintext = "plaintext"

// languageByExtension maps filename extensions to editor language identifiers.
// Applied at create time and rename time only; content never changes a node's language.
var languageByExtension = map[string]string{
	".go":    "go",
	".js":    "javascript",
	".jsx":   "javascriptreact",
	".mjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescriptreact",
	".py":    "python",
	".rb":    "ruby",
	".rs":    "rust",
	".java":  "java",
	".kt":    "kotlin",
	".swift": "swift",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".php":   "php",
	".html":  "html",
	".htm":   "html",
	".css":   "css",
	".scss":  "scss",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".xml":   "xml",
	".md":    "markdown",
	".sql":   "sql",
	".sh":    "shellscript",
	".bash":  "shellscript",
	".txt":   languagePlaintext,
}

// DetectLanguage resolves an editor language identifier from a file name.
func DetectLanguage(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if language, ok := languageByExtension[ext]; ok {
		return language
	}
	return languagePlaintext
}
