package ragerr

import (
	"encoding/json"
)

// jsonError is the JSON representation of an error, for machine consumption.
type jsonError struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Category string            `json:"category"`
	Severity string            `json:"severity"`
	Details  map[string]string `json:"details,omitempty"`
	Cause    string            `json:"cause,omitempty"`
}

// FormatJSON returns a JSON representation of err. Non-RAGError values are
// wrapped as internal errors first.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}
	re, ok := err.(*RAGError)
	if !ok {
		re = New(CategoryInternal, err.Error(), err)
	}
	je := jsonError{
		Code:     re.Code,
		Message:  re.Message,
		Category: string(re.Category),
		Severity: string(re.Severity),
		Details:  re.Details,
	}
	if re.Cause != nil {
		je.Cause = re.Cause.Error()
	}
	return json.Marshal(je)
}

// LogAttrs returns key-value pairs suitable for slog attributes.
func LogAttrs(err error) map[string]any {
	if err == nil {
		return nil
	}
	re, ok := err.(*RAGError)
	if !ok {
		return map[string]any{"error": err.Error()}
	}
	attrs := map[string]any{
		"error_code": re.Code,
		"message":    re.Message,
		"category":   string(re.Category),
		"severity":   string(re.Severity),
	}
	if re.Cause != nil {
		attrs["cause"] = re.Cause.Error()
	}
	for k, v := range re.Details {
		attrs["detail_"+k] = v
	}
	return attrs
}
