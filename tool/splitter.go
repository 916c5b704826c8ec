package tool

import "strings"

// PresentationKey is the reserved top-level field through which a worker
// returns human-readable summary and interpretation text.
const PresentationKey = "_formatting"

// SplitResult holds the two disjoint parts of a successful worker document.
type SplitResult struct {
	// Body is validated against the tool's output schema. It never contains
	// PresentationKey.
	Body any
	// Presentation is passed through uninterpreted; nil when absent.
	Presentation any
}

// Split separates presentation metadata from the result body of a worker
// document. A document that reports its own failure (a non-empty "error"
// string or "success": false) is returned as a LOGICAL_FAILURE error even
// though the worker exited zero.
func Split(document any) (SplitResult, error) {
	object, ok := document.(map[string]any)
	if !ok {
		return SplitResult{Body: document}, nil
	}

	if err := logicalFailure(object); err != nil {
		return SplitResult{}, err
	}

	body := make(map[string]any, len(object))
	for key, value := range object {
		if key == PresentationKey {
			continue
		}
		body[key] = value
	}
	return SplitResult{
		Body:         body,
		Presentation: object[PresentationKey],
	}, nil
}

func logicalFailure(object map[string]any) error {
	message := ""
	failed := false

	if text, ok := object["error"].(string); ok && strings.TrimSpace(text) != "" {
		failed = true
		message = strings.TrimSpace(text)
	}
	if success, ok := object["success"].(bool); ok && !success {
		failed = true
	}
	if !failed {
		return nil
	}

	if message == "" {
		if text, ok := object["message"].(string); ok {
			message = strings.TrimSpace(text)
		}
	}
	if message == "" {
		message = "worker reported failure"
	}

	details := map[string]any{}
	if presentation, ok := object[PresentationKey]; ok && presentation != nil {
		details["presentation"] = presentation
	}
	return NewToolError(KindLogicalFailure, message, nil).WithDetails(details)
}
