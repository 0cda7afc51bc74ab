package tools

// Result is the unified return type from tool execution.
type Result struct {
	ForLLM    string `json:"for_llm"`             // content sent to the LLM
	IsError   bool   `json:"is_error"`            // marks error
	Truncated bool   `json:"truncated,omitempty"` // output was cut to the size limit
	Err       error  `json:"-"`                   // internal error (not serialized)
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}
