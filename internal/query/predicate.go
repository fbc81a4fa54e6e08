package query

import (
	"strings"
	"unicode"

	"github.com/nlstn/go-admin/internal/errs"
	"github.com/nlstn/go-admin/internal/metadata"
)

// NullToken is the search token that matches unset values of exact-match
// properties.
const NullToken = "None"

// Tokenize splits a search string on whitespace. A token that starts with a
// single or double quote runs to the matching quote and keeps its spaces.
func Tokenize(search string) []string {
	var (
		tokens  []string
		current strings.Builder
		quote   rune
	)
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for _, r := range search {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				flush()
				continue
			}
			current.WriteRune(r)
		case (r == '"' || r == '\'') && current.Len() == 0:
			quote = r
		case unicode.IsSpace(r):
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return tokens
}

// BuildPredicate builds the filter for a search string: every token must
// match at least one searchable property. The custom predicate, when given,
// is ORed with the token predicate and applies alone when nothing is
// searchable. It returns nil when the search string is empty.
func BuildPredicate(searches []metadata.PropertySearch, search string, custom CustomSearch) (Expr, error) {
	if strings.TrimSpace(search) == "" {
		return nil, nil
	}
	tokens := Tokenize(search)
	if len(tokens) == 0 {
		return nil, nil
	}

	perToken := make([]Expr, 0, len(tokens))
	for _, token := range tokens {
		alternatives := make([]Expr, 0, len(searches))
		for _, ps := range searches {
			expr, err := tokenPredicate(ps, token)
			if err != nil {
				return nil, err
			}
			if expr != nil {
				alternatives = append(alternatives, expr)
			}
		}
		if e := or(alternatives); e != nil {
			perToken = append(perToken, e)
		}
	}

	predicate := and(perToken)
	if custom != nil {
		if extra := custom(search); extra != nil {
			if predicate == nil {
				return extra, nil
			}
			return Or{predicate, extra}, nil
		}
	}
	return predicate, nil
}

func tokenPredicate(ps metadata.PropertySearch, token string) (Expr, error) {
	switch ps.SearchType {
	case metadata.SearchNone:
		return nil, nil
	case metadata.SearchContains:
		return Compare{Path: ps.PropertyPath, Op: OpContainsFold, Value: strings.ToUpper(token)}, nil
	case metadata.SearchStartsWith:
		return Compare{Path: ps.PropertyPath, Op: OpHasPrefix, Value: token}, nil
	case metadata.SearchExact:
		if token == NullToken {
			return Compare{Path: ps.PropertyPath, Op: OpIsNull}, nil
		}
		return Compare{Path: ps.PropertyPath, Op: OpEqualFold, Value: strings.ToUpper(token)}, nil
	default:
		return nil, errs.InvalidArgumentf("unsupported search type %s for %s", ps.SearchType, ps.PropertyPath)
	}
}
