package faults

import "strings"

// Category is one of the four coarse fault classes shared with the billing
// CSV validation pipeline. Pipeline failures are always mapped onto one of
// these so the operator sees a small, actionable set of messages instead of
// raw driver errors.
type Category string

const (
	// CategoryOrchestration covers transport and queueing failures between
	// the backend and its collaborators (Redis, OCR endpoint, network).
	CategoryOrchestration Category = "orchestration"
	// CategoryInput covers missing, unreadable or malformed source files.
	CategoryInput Category = "input"
	// CategoryData covers violated data or rule constraints; the system
	// itself behaved, the data did not.
	CategoryData Category = "data"
	// CategoryExecution covers abnormal worker termination and anything the
	// other categories did not match.
	CategoryExecution Category = "execution"
)

// Fault is what gets attached to a job on terminal failure. Message is the
// fixed user-facing (French) template for the category; Detail keeps the raw
// signal for diagnostics only.
type Fault struct {
	Category Category `json:"category"`
	Message  string   `json:"message"`
	Detail   string   `json:"detail"`
}

var messages = map[Category]string{
	CategoryOrchestration: "Erreur de communication avec le service de traitement. Veuillez réessayer dans quelques instants.",
	CategoryInput:         "Le fichier soumis est introuvable, illisible ou corrompu. Veuillez vérifier le document et le soumettre à nouveau.",
	CategoryData:          "Les données extraites ne respectent pas les règles de validation. Veuillez vérifier le document.",
	CategoryExecution:     "Une erreur inattendue est survenue pendant le traitement. Veuillez réessayer ou contacter le support.",
}

// rules are evaluated top to bottom; the first category whose keyword set
// matches wins. A signal may contain keywords from several categories
// ("connection timeout while validating"), so the order is part of the
// contract: orchestration > input > data > execution.
var rules = []struct {
	category Category
	keywords []string
}{
	{CategoryOrchestration, []string{
		"connection refused",
		"connection failed",
		"connection reset",
		"econnrefused",
		"timeout",
		"timed out",
		"network",
		"redis",
		"unavailable",
	}},
	{CategoryInput, []string{
		"no such file",
		"enoent",
		"file not found",
		"unreadable",
		"cannot read",
		"could not read",
		"malformed",
		"corrupt",
		"unsupported format",
		"empty file",
		"invalid encoding",
	}},
	{CategoryData, []string{
		"validation failed",
		"invalid data",
		"constraint",
		"violates",
		"rule violation",
	}},
	{CategoryExecution, []string{
		"sigterm",
		"sigkill",
		"panic",
		"killed",
		"out of memory",
	}},
}

// Classify maps a raw failure signal to a Fault. Matching is a
// case-insensitive substring scan; anything unmatched falls through to the
// execution category.
func Classify(signal string) Fault {
	lower := strings.ToLower(signal)
	for _, rule := range rules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return Fault{
					Category: rule.category,
					Message:  messages[rule.category],
					Detail:   signal,
				}
			}
		}
	}
	return Fault{
		Category: CategoryExecution,
		Message:  messages[CategoryExecution],
		Detail:   signal,
	}
}

// ClassifyErr is a convenience wrapper for error values.
func ClassifyErr(err error) Fault {
	if err == nil {
		return Fault{Category: CategoryExecution, Message: messages[CategoryExecution]}
	}
	return Classify(err.Error())
}
