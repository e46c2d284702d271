package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// extractResponse mirrors the llmscrape API response model.
type extractResponse struct {
	Success    bool            `json:"success"`
	URL        string          `json:"url"`
	Data       json.RawMessage `json:"data"`
	Dropped    []string        `json:"dropped"`
	TextTokens int             `json:"text_tokens"`
	Truncated  bool            `json:"truncated"`
	Timing     *struct {
		TotalMs int64 `json:"total_ms"`
	} `json:"timing"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func main() {
	apiURL := os.Getenv("LLMSCRAPE_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("LLMSCRAPE_API_KEY")

	s := server.NewMCPServer(
		"llmscrape",
		"0.1.0",
		server.WithToolCapabilities(false),
	)

	scrapeTool := mcp.NewTool("scrape_fields",
		mcp.WithDescription("Render a web page in a headless browser and extract the named fields with an LLM. Returns a JSON object holding exactly the requested fields; fields the page does not provide are null."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the web page to scrape"),
		),
		mcp.WithArray("fields",
			mcp.Required(),
			mcp.Description("Field names to extract, e.g. [\"name\", \"location\"]"),
		),
		mcp.WithNumber("wait_seconds",
			mcp.Description("Seconds to wait after the page loads so client-side rendering can settle (default: 0, max: 60)"),
		),
		mcp.WithBoolean("scroll",
			mcp.Description("Scroll to the bottom until the page stops growing before reading it"),
		),
	)
	s.AddTool(scrapeTool, handleScrapeFields(apiURL, apiKey))

	extractTool := mcp.NewTool("extract_fields",
		mcp.WithDescription("Extract the named fields from text you already have, using an LLM. Returns a JSON object holding exactly the requested fields."),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("The text to extract from"),
		),
		mcp.WithArray("fields",
			mcp.Required(),
			mcp.Description("Field names to extract"),
		),
	)
	s.AddTool(extractTool, handleExtractFields(apiURL, apiKey))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// apiPost sends a POST request to the llmscrape API and returns the response body.
func apiPost(ctx context.Context, client *http.Client, apiURL, apiKey, path string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func handleScrapeFields(apiURL, apiKey string) server.ToolHandlerFunc {
	// Navigation retries alone can take minutes.
	client := &http.Client{Timeout: 6 * time.Minute}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}
		fields, err := request.RequireStringSlice("fields")
		if err != nil || len(fields) == 0 {
			return mcp.NewToolResultError("fields is required and must be a non-empty array of strings"), nil
		}

		payload := map[string]interface{}{
			"url":    url,
			"fields": fields,
		}
		if wait := request.GetFloat("wait_seconds", 0); wait > 0 {
			payload["wait_seconds"] = wait
		}
		if request.GetBool("scroll", false) {
			payload["scroll"] = true
		}

		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/scrape", payload)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("scrape request failed: %v", err)), nil
		}
		return formatResult(respBody), nil
	}
}

func handleExtractFields(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 3 * time.Minute}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := request.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError("text is required"), nil
		}
		fields, err := request.RequireStringSlice("fields")
		if err != nil || len(fields) == 0 {
			return mcp.NewToolResultError("fields is required and must be a non-empty array of strings"), nil
		}

		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/extract", map[string]interface{}{
			"text":   text,
			"fields": fields,
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("extract request failed: %v", err)), nil
		}
		return formatResult(respBody), nil
	}
}

func formatResult(respBody []byte) *mcp.CallToolResult {
	var resp extractResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err))
	}

	if !resp.Success {
		errMsg := "extraction failed"
		if resp.Error != nil {
			errMsg = fmt.Sprintf("[%s] %s", resp.Error.Code, resp.Error.Message)
		}
		return mcp.NewToolResultError(errMsg)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, resp.Data, "", "  "); err != nil {
		pretty.Write(resp.Data)
	}

	var sb strings.Builder
	if resp.URL != "" {
		sb.WriteString(fmt.Sprintf("Source: %s\n\n", resp.URL))
	}
	sb.WriteString("Extracted Data:\n")
	sb.WriteString(pretty.String())
	if len(resp.Dropped) > 0 {
		sb.WriteString(fmt.Sprintf("\n\nIgnored keys: %s", strings.Join(resp.Dropped, ", ")))
	}
	sb.WriteString(fmt.Sprintf("\n\n---\nText tokens: %d", resp.TextTokens))
	if resp.Truncated {
		sb.WriteString(" (truncated)")
	}
	if resp.Timing != nil {
		sb.WriteString(fmt.Sprintf(", took %dms", resp.Timing.TotalMs))
	}

	return mcp.NewToolResultText(sb.String())
}
