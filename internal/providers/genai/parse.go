package genai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var fencePattern = regexp.MustCompile("```(?:json)?")

// ParseResult applies the response contract shared by every provider: strip
// code fences, keep the text between the first '{' and the last '}', decode
// it, and take the document from "html" or, failing that, "code".
func ParseResult(text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrEmptyResponse
	}

	clean := strings.TrimSpace(fencePattern.ReplaceAllString(text, ""))
	first := strings.Index(clean, "{")
	last := strings.LastIndex(clean, "}")
	if first < 0 || last < first {
		return Result{}, fmt.Errorf("%w: no JSON object in response", ErrInvalidResponse)
	}

	var payload struct {
		Summary string `json:"summary"`
		HTML    string `json:"html"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal([]byte(clean[first:last+1]), &payload); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	code := payload.HTML
	if code == "" {
		code = payload.Code
	}
	if strings.TrimSpace(code) == "" {
		return Result{}, fmt.Errorf("%w: no code in response", ErrInvalidResponse)
	}
	return Result{Code: code, Summary: payload.Summary}, nil
}
