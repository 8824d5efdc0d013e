package summarizer

import "strings"

// Fixed texts returned without calling a model.
const (
	InsufficientContent = "Not enough content to summarize (captions are missing or too short)."
	NoBriefingContent   = "No new video summaries today."
)

// Result is the outcome of one summarization: either text produced by a
// model or a failure reason. Only OK results are cached.
type Result struct {
	text   string
	model  string
	reason string
	ok     bool
}

// Ok returns a successful result. model is empty for fixed texts.
func Ok(text, model string) Result {
	return Result{text: text, model: model, ok: true}
}

// Failed returns a failed result carrying reason.
func Failed(reason string) Result {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown error"
	}
	return Result{reason: reason}
}

// OK reports whether the result holds model output that may be cached.
func (r Result) OK() bool { return r.ok }

// Text is the summary text. Empty for failed results.
func (r Result) Text() string { return r.text }

// Model names the model that produced the text.
func (r Result) Model() string { return r.model }

// Reason is the failure reason. Empty for OK results.
func (r Result) Reason() string { return r.reason }

// Display is the text shown to the user for either outcome.
func (r Result) Display() string {
	if r.ok {
		return r.text
	}
	return "⚠️ Summary failed: " + r.reason
}

func (r Result) String() string { return r.Display() }
