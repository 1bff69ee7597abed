package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/npezzotti/devpair/internal/types"
)

var (
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrExecutionFailed     = errors.New("execution failed")
)

var extensions = map[string]string{
	"python3":    "py",
	"javascript": "js",
	"java":       "java",
	"cpp":        "cpp",
	"c":          "c",
	"csharp":     "cs",
	"go":         "go",
	"ruby":       "rb",
	"php":        "php",
	"typescript": "ts",
	"bash":       "sh",
	"rust":       "rs",
	"swift":      "swift",
	"kotlin":     "kt",
	"lua":        "lua",
	"haskell":    "hs",
	"r":          "r",
}

type Executor interface {
	Execute(ctx context.Context, language, code string) (types.ExecutionResult, error)
}

// Client runs code on a piston-compatible execution API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type pistonFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type pistonRequest struct {
	Language string       `json:"language"`
	Version  string       `json:"version"`
	Files    []pistonFile `json:"files"`
}

type pistonResponse struct {
	Run struct {
		Output string `json:"output"`
		Stderr string `json:"stderr"`
		Code   int    `json:"code"`
	} `json:"run"`
}

// NormalizeLanguage maps editor language names onto the execution API's
// names. "text" buffers run as javascript.
func NormalizeLanguage(language string) (string, string, error) {
	if language == "text" {
		language = "javascript"
	}

	ext, ok := extensions[language]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}

	return language, ext, nil
}

func (c *Client) Execute(ctx context.Context, language, code string) (types.ExecutionResult, error) {
	language, ext, err := NormalizeLanguage(language)
	if err != nil {
		return types.ExecutionResult{}, err
	}

	body, err := json.Marshal(pistonRequest{
		Language: language,
		Version:  "*",
		Files:    []pistonFile{{Name: "main." + ext, Content: code}},
	})
	if err != nil {
		return types.ExecutionResult{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return types.ExecutionResult{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.ExecutionResult{}, fmt.Errorf("%w: %v", ErrExecutionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return types.ExecutionResult{}, fmt.Errorf("%w: status %d: %s", ErrExecutionFailed, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var pr pistonResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return types.ExecutionResult{}, fmt.Errorf("%w: decode response: %v", ErrExecutionFailed, err)
	}

	return types.ExecutionResult{
		Output:   pr.Run.Output,
		Stderr:   pr.Run.Stderr,
		ExitCode: pr.Run.Code,
	}, nil
}
