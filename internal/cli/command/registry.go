package command

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// State defaults a field can fall back to.
const (
	DefaultUser       = "user"
	DefaultProblem    = "problem"
	DefaultSubmission = "submission"
)

var codeFields = []Field{
	{Name: "problem", Aliases: []string{"problem_id", "p"}, Prompt: "problem_id", Type: FieldString, Required: true, Default: DefaultProblem},
	{Name: "code_file", Aliases: []string{"file", "f"}, Prompt: "code_file", Type: FieldFile},
	{Name: "language", Aliases: []string{"lang", "l"}, Prompt: "language", Type: FieldString},
	{Name: "code", Prompt: "code", Type: FieldString},
}

// Registry returns all judge commands keyed by name.
func Registry() map[string]Command {
	commands := []Command{
		{
			Name:         "run",
			Summary:      "run code against the visible test cases",
			Method:       "POST",
			PathTemplate: "/api/v1/problems/:problem/run",
			Fields:       codeFields,
		},
		{
			Name:         "submit",
			Summary:      "submit code for full judging",
			Method:       "POST",
			PathTemplate: "/api/v1/problems/:problem/submit",
			Fields: append(append([]Field(nil), codeFields...),
				Field{Name: "wait", Aliases: []string{"w"}, Prompt: "wait", Type: FieldBool}),
		},
		{
			Name:         "status",
			Summary:      "show a submission",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions/:id",
			Fields: []Field{
				{Name: "id", Aliases: []string{"submission_id"}, Prompt: "submission_id", Type: FieldString, Required: true, Default: DefaultSubmission},
			},
		},
		{
			Name:         "watch",
			Summary:      "stream a submission until it finishes",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions/:id/watch",
			Stream:       true,
			Fields: []Field{
				{Name: "id", Aliases: []string{"submission_id"}, Prompt: "submission_id", Type: FieldString, Required: true, Default: DefaultSubmission},
			},
		},
		{
			Name:         "cancel",
			Summary:      "cancel a queued or running submission",
			Method:       "DELETE",
			PathTemplate: "/api/v1/submissions/:id",
			Fields: []Field{
				{Name: "id", Aliases: []string{"submission_id"}, Prompt: "submission_id", Type: FieldString, Required: true, Default: DefaultSubmission},
			},
		},
		{
			Name:         "history",
			Summary:      "list a user's submissions, newest first",
			Method:       "GET",
			PathTemplate: "/api/v1/users/:user/submissions",
			Fields: []Field{
				{Name: "user", Aliases: []string{"user_id", "u"}, Prompt: "user_id", Type: FieldString, Required: true, Default: DefaultUser},
				{Name: "limit", Prompt: "limit", Type: FieldInt},
				{Name: "offset", Prompt: "offset", Type: FieldInt},
			},
		},
		{
			Name:         "languages",
			Summary:      "list supported languages",
			Method:       "GET",
			PathTemplate: "/api/v1/languages",
		},
		{
			Name:         "stats",
			Summary:      "show worker pool statistics",
			Method:       "GET",
			PathTemplate: "/api/v1/judge/stats",
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Name] = cmd
	}
	return result
}

// Names returns command names in sorted order.
func Names(commands map[string]Command) []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyDefaults fills omitted fields from lookup, keyed by Field.Default.
func ApplyDefaults(cmd Command, params Params, lookup func(string) string) {
	if lookup == nil {
		return
	}
	for _, field := range cmd.Fields {
		if field.Default == "" || params.Get(field.Name) != "" {
			continue
		}
		if value := lookup(field.Default); value != "" {
			params.Set(field.Name, value)
		}
	}
}

// BuildRequest creates HTTP request spec based on command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	path, err := buildPath(cmd.PathTemplate, params)
	if err != nil {
		return RequestSpec{}, err
	}
	query, err := buildQuery(cmd, params)
	if err != nil {
		return RequestSpec{}, err
	}
	if query != "" {
		path += "?" + query
	}

	var body []byte
	if cmd.Method == "POST" {
		payload, err := buildCodePayload(params)
		if err != nil {
			return RequestSpec{}, err
		}
		body, err = json.Marshal(payload)
		if err != nil {
			return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
		}
	}

	return RequestSpec{
		Method:  cmd.Method,
		Path:    path,
		Headers: map[string]string{},
		Body:    body,
	}, nil
}

func buildPath(template string, params Params) (string, error) {
	segments := strings.Split(template, "/")
	for i, segment := range segments {
		if !strings.HasPrefix(segment, ":") {
			continue
		}
		key := segment[1:]
		value := strings.TrimSpace(params.Get(key))
		if value == "" {
			return "", fmt.Errorf("missing path parameter: %s", key)
		}
		segments[i] = url.PathEscape(value)
	}
	return strings.Join(segments, "/"), nil
}

func buildQuery(cmd Command, params Params) (string, error) {
	values := url.Values{}
	for _, field := range cmd.Fields {
		raw := strings.TrimSpace(params.Get(field.Name))
		if raw == "" {
			continue
		}
		switch field.Type {
		case FieldInt:
			n, err := strconv.Atoi(raw)
			if err != nil {
				return "", fmt.Errorf("invalid %s: %w", field.Name, err)
			}
			values.Set(field.Name, strconv.Itoa(n))
		case FieldBool:
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return "", fmt.Errorf("invalid %s: %w", field.Name, err)
			}
			if b {
				values.Set(field.Name, "true")
			}
		}
	}
	return values.Encode(), nil
}

// codePayload mirrors the judge API request body.
type codePayload struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

func buildCodePayload(params Params) (codePayload, error) {
	code := params.Get("code")
	file := params.Get("code_file")
	if code == "" && file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return codePayload{}, fmt.Errorf("read %s: %w", file, err)
		}
		code = string(data)
	}
	if strings.TrimSpace(code) == "" {
		return codePayload{}, fmt.Errorf("code or code_file is required")
	}
	lang := strings.TrimSpace(params.Get("language"))
	if lang == "" {
		lang = LanguageForFile(file)
	}
	if lang == "" {
		return codePayload{}, fmt.Errorf("language is required")
	}
	return codePayload{Language: lang, Code: code}, nil
}

var extensionLanguages = map[string]string{
	".js":   "javascript",
	".mjs":  "javascript",
	".py":   "python",
	".java": "java",
	".cpp":  "cpp",
	".cc":   "cpp",
	".cxx":  "cpp",
	".c":    "c",
	".go":   "go",
}

// LanguageForFile guesses a language id from the file extension.
func LanguageForFile(path string) string {
	return extensionLanguages[strings.ToLower(filepath.Ext(path))]
}
