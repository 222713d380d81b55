package expression

import (
	"fmt"
	"strconv"
	"strings"

	wferrors "github.com/tombee/conductor/pkg/errors"
)

// conditionOperators lists comparison operators in longest-first order so
// that e.g. ">=" is matched before ">".
var conditionOperators = []string{"==", "!=", ">=", "<=", ">", "<"}

// disallowedTokens catches the general-expression-language constructs this
// DSL intentionally excludes: boolean connectives, grouping, indexing, and
// pipelines. Their presence means the author wanted expr-lang's full
// language, which this condition grammar does not provide.
var disallowedTokens = []string{"&&", "||", "!", "(", ")", "[", "]", "?", ":", "|"}

// EvaluateCondition evaluates a condition string restricted to the workflow
// condition grammar: a single `LHS OP RHS` comparison (OP one of ==, !=, >=,
// <=, >, <) or a bare truthiness check of one value. It is not a general
// expression language — for anything else, ValidateConditionGrammar returns
// an error before evaluation is attempted.
func (e *Evaluator) EvaluateCondition(condition string, ctx map[string]interface{}) (bool, error) {
	trimmed := strings.TrimSpace(condition)
	if trimmed == "" {
		return true, nil
	}

	if err := ValidateConditionGrammar(trimmed); err != nil {
		return false, err
	}

	return e.Evaluate(trimmed, ctx)
}

// ValidateConditionGrammar rejects any condition that is not a single binary
// comparison or a bare truthiness check, before it ever reaches the
// expr-lang compiler.
func ValidateConditionGrammar(condition string) error {
	// Mask the != operator so its "!" is not taken for a negation.
	scan := strings.ReplaceAll(condition, "!=", "==")
	for _, tok := range disallowedTokens {
		if strings.Contains(scan, tok) {
			return &wferrors.ConditionEvaluationError{
				Condition: condition,
				Reason:    fmt.Sprintf("unsupported token %q: conditions are a single comparison or bare value, not a general expression", tok),
			}
		}
	}

	op, _, _, found := splitOnOperator(condition)
	if !found {
		// Bare truthiness: must be a single identifier/dotted-path/literal,
		// i.e. no embedded whitespace outside of a quoted string.
		if strings.ContainsAny(condition, " \t") && !looksLikeQuotedLiteral(condition) {
			return &wferrors.ConditionEvaluationError{
				Condition: condition,
				Reason:    "bare truthiness check must be a single value, not an expression",
			}
		}
		return nil
	}

	// Ensure only one comparison operator occurs.
	rest := strings.Replace(condition, op, "\x00", 1)
	for _, other := range conditionOperators {
		if strings.Contains(rest, other) {
			return &wferrors.ConditionEvaluationError{
				Condition: condition,
				Reason:    "only a single comparison operator is allowed",
			}
		}
	}

	return nil
}

// splitOnOperator finds the first (longest-match-first) comparison operator
// in condition and returns it along with the trimmed left/right operands.
func splitOnOperator(condition string) (op, lhs, rhs string, found bool) {
	for _, candidate := range conditionOperators {
		if idx := strings.Index(condition, candidate); idx >= 0 {
			return candidate, strings.TrimSpace(condition[:idx]), strings.TrimSpace(condition[idx+len(candidate):]), true
		}
	}
	return "", "", "", false
}

func looksLikeQuotedLiteral(s string) bool {
	if len(s) < 2 {
		return false
	}
	return (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'')
}

// isNumericLiteral reports whether s parses cleanly as a number, used by
// callers that need to distinguish bare identifiers from numeric constants.
func isNumericLiteral(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
