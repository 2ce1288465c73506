package policy

import (
	"encoding/json"
	"fmt"
	"os"
)

const currentVersion = "2024-01-01"

// LoadDocument reads a moderation ruleset from disk.
func LoadDocument(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}

	var doc Document
	err = json.Unmarshal(raw, &doc)
	if err != nil {
		return Document{}, fmt.Errorf("malformed policy document: %w", err)
	}

	if _, ok := doc.Versions[currentVersion]; !ok {
		return Document{}, fmt.Errorf("unsupported policy version")
	}

	return doc, nil
}

// SummarizeConclusion collapses per-statement conclusions into a final
// verdict, falling back to defaultAllow when nothing concluded.
func SummarizeConclusion(conclusions []Conclusion, defaultAllow bool) bool {
	result := UNSET
	for _, c := range conclusions {
		switch c {
		case ALLOW:
			return true
		case DENY:
			return false
		default:
			result = result.Or(c)
		}
	}
	if result == UNSET {
		return defaultAllow
	}
	return result == ALLOW
}

// Evaluate runs every statement for the given action against one record
// context and merges their conclusions.
func Evaluate(doc Document, ctx RecordContext, action string) (Conclusion, error) {

	ruleset, ok := doc.Versions[currentVersion]
	if !ok {
		return UNSET, fmt.Errorf("unsupported policy version")
	}

	statements, ok := ruleset.Statements[action]
	if !ok {
		// no statements for this action
		return UNSET, nil
	}

	conclusion := UNSET
	for _, stmt := range statements {
		evalResult, err := Eval(ctx, stmt.Condition)
		if err != nil {
			continue
		}

		if evalResult.Result == true {
			emit := ParseConclusion(stmt.Emit)
			conclusion = conclusion.Or(emit)
		}
	}
	return conclusion, nil
}

// Accepts evaluates the "accept" action for one record; it is the single
// question the indexer asks.
func Accepts(doc Document, ctx RecordContext) bool {
	conclusion, err := Evaluate(doc, ctx, "accept")
	if err != nil {
		return true
	}

	defaultAllow := true
	if ruleset, ok := doc.Versions[currentVersion]; ok {
		if v, ok := ruleset.Defaults["accept"]; ok {
			defaultAllow = v
		}
	}

	return SummarizeConclusion([]Conclusion{conclusion}, defaultAllow)
}

// Eval resolves one expression node; constants short-circuit, operator
// arguments are evaluated depth-first.
func Eval(ctx RecordContext, expr Expr) (EvalResult, error) {

	if expr.Const != nil {
		return EvalResult{
			Operator: "Const",
			Result:   expr.Const,
		}, nil
	}

	args := make([]any, 0, len(expr.Args))
	for _, arg := range expr.Args {
		result, err := Eval(ctx, arg)
		if err != nil {
			return EvalResult{
				Operator: expr.Operator,
				Error:    err.Error(),
			}, err
		}
		args = append(args, result.Result)
	}

	if operatorFunc, exists := operators[expr.Operator]; exists {
		return operatorFunc(ctx, args)
	}

	err := fmt.Errorf("unknown operator: %s", expr.Operator)
	return EvalResult{
		Operator: expr.Operator,
		Error:    err.Error(),
	}, err
}
