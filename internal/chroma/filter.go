package chroma

import (
	"fmt"

	"github.com/vmrag/vmrag/internal/errors"
)

// comparisonOps are the metadata operators accepted in a filter.
var comparisonOps = map[string]bool{
	"$eq": true, "$ne": true,
	"$gt": true, "$gte": true,
	"$lt": true, "$lte": true,
	"$in": true, "$nin": true,
}

// documentOps match against chunk text instead of metadata. Chroma routes
// them through where_document, so the translator splits them out.
var documentOps = map[string]bool{
	"$contains": true, "$not_contains": true,
}

// ValidateFilter checks a caller-supplied filter structurally before it is
// passed to the vector store. nil is a valid empty filter.
func ValidateFilter(filter map[string]any) error {
	if filter == nil {
		return nil
	}
	return validateNode(filter, true)
}

func validateNode(node map[string]any, topLevel bool) error {
	for key, value := range node {
		switch {
		case key == "$and" || key == "$or":
			clauses, ok := value.([]any)
			if !ok || len(clauses) == 0 {
				return errors.ValidationError(
					fmt.Sprintf("%s requires a non-empty array of filters", key), nil)
			}
			for _, clause := range clauses {
				sub, ok := clause.(map[string]any)
				if !ok {
					return errors.ValidationError(
						fmt.Sprintf("%s clauses must be filter objects", key), nil)
				}
				if err := validateNode(sub, false); err != nil {
					return err
				}
			}

		case documentOps[key]:
			if !topLevel {
				return errors.ValidationError(
					fmt.Sprintf("%s must appear at the top level of the filter", key), nil)
			}
			if _, ok := value.(string); !ok {
				return errors.ValidationError(
					fmt.Sprintf("%s requires a string value", key), nil)
			}

		case len(key) > 0 && key[0] == '$':
			return errors.ValidationError(
				fmt.Sprintf("unknown filter operator %q", key), nil)

		default:
			// Field condition: literal (implicit $eq) or {op: value}.
			cond, ok := value.(map[string]any)
			if !ok {
				continue
			}
			if len(cond) != 1 {
				return errors.ValidationError(
					fmt.Sprintf("field %q must use exactly one operator", key), nil)
			}
			for op, opVal := range cond {
				if !comparisonOps[op] {
					return errors.ValidationError(
						fmt.Sprintf("unknown operator %q on field %q", op, key), nil)
				}
				if op == "$in" || op == "$nin" {
					if _, ok := opVal.([]any); !ok {
						return errors.ValidationError(
							fmt.Sprintf("%s on field %q requires an array", op, key), nil)
					}
				}
			}
		}
	}
	return nil
}

// TranslateFilter splits a validated filter into the where and
// where_document maps Chroma expects. Document operators come out of the
// metadata filter; everything else passes through verbatim.
func TranslateFilter(filter map[string]any) (where, whereDocument map[string]any) {
	if filter == nil {
		return nil, nil
	}

	where = make(map[string]any)
	whereDocument = make(map[string]any)

	for key, value := range filter {
		if documentOps[key] {
			whereDocument[key] = value
		} else {
			where[key] = value
		}
	}

	if len(where) == 0 {
		where = nil
	}
	if len(whereDocument) == 0 {
		whereDocument = nil
	}
	return where, whereDocument
}
