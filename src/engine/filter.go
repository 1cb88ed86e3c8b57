package engine

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var ErrUnsupportedOperator = errors.New("unsupported operator")

// matchDocument evaluates a filter document against doc. An empty filter
// matches every document.
func matchDocument(doc any, filter bson.D) (bool, error) {
	for _, clause := range filter {
		ok, err := matchClause(doc, clause.Key, clause.Value)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchClause(doc any, key string, cond any) (bool, error) {
	switch key {
	case "$and", "$or", "$nor":
		subs, ok := cond.(bson.A)
		if !ok {
			return false, fmt.Errorf("%s expects an array, got %T", key, cond)
		}
		return matchLogical(doc, key, subs)
	case "$comment":
		return true, nil
	}
	if strings.HasPrefix(key, "$") {
		return false, fmt.Errorf("%w: %s", ErrUnsupportedOperator, key)
	}

	values := resolve(doc, splitPath(key))
	if ops, ok := asDocument(cond); ok && isOperatorDocument(ops) {
		return matchOperators(values, ops)
	}
	return matchEquals(values, cond), nil
}

func matchLogical(doc any, op string, subs bson.A) (bool, error) {
	for _, sub := range subs {
		filter, ok := asDocument(sub)
		if !ok {
			return false, fmt.Errorf("%s entries must be documents, got %T", op, sub)
		}
		matched, err := matchDocument(doc, filter)
		if err != nil {
			return false, err
		}
		switch {
		case op == "$and" && !matched:
			return false, nil
		case op == "$or" && matched:
			return true, nil
		case op == "$nor" && matched:
			return false, nil
		}
	}
	return op != "$or", nil
}

// matchEquals implements implicit equality: a value matches when it is
// equal to target, or is an array holding an element equal to target.
// A missing field matches a nil target.
func matchEquals(values []any, target any) bool {
	if len(values) == 0 {
		return target == nil
	}
	re, isRegex := target.(primitive.Regex)
	for _, v := range values {
		if valuesEqual(v, target) {
			return true
		}
		if isRegex && regexMatches(v, re.Pattern, re.Options) {
			return true
		}
		if arr, ok := v.(bson.A); ok {
			for _, elem := range arr {
				if valuesEqual(elem, target) {
					return true
				}
				if isRegex && regexMatches(elem, re.Pattern, re.Options) {
					return true
				}
			}
		}
	}
	return false
}

func matchOperators(values []any, ops bson.D) (bool, error) {
	for _, op := range ops {
		ok, err := matchOperator(values, op.Key, op.Value, ops)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchOperator(values []any, op string, arg any, siblings bson.D) (bool, error) {
	switch op {
	case "$eq":
		return matchEquals(values, arg), nil
	case "$ne":
		return !matchEquals(values, arg), nil
	case "$gt", "$gte", "$lt", "$lte":
		return matchRange(values, op, arg), nil
	case "$in", "$nin":
		candidates, ok := arg.(bson.A)
		if !ok {
			return false, fmt.Errorf("%s needs an array, got %T", op, arg)
		}
		found := false
		for _, c := range candidates {
			if matchEquals(values, c) {
				found = true
				break
			}
		}
		return found == (op == "$in"), nil
	case "$exists":
		want := truthy(arg)
		return want == (len(values) > 0), nil
	case "$not":
		if re, ok := arg.(primitive.Regex); ok {
			return !matchEquals(values, re), nil
		}
		inner, ok := asDocument(arg)
		if !ok {
			return false, fmt.Errorf("$not needs a document or regex, got %T", arg)
		}
		matched, err := matchOperators(values, inner)
		return !matched, err
	case "$regex":
		pattern, options := regexArgs(arg, siblings)
		for _, v := range values {
			if regexMatches(v, pattern, options) {
				return true, nil
			}
			if arr, ok := v.(bson.A); ok {
				for _, elem := range arr {
					if regexMatches(elem, pattern, options) {
						return true, nil
					}
				}
			}
		}
		return false, nil
	case "$options":
		return true, nil
	case "$size":
		n, ok := toFloat(arg)
		if !ok {
			return false, fmt.Errorf("$size needs a number, got %T", arg)
		}
		for _, v := range values {
			if arr, ok := v.(bson.A); ok && float64(len(arr)) == n {
				return true, nil
			}
		}
		return false, nil
	case "$all":
		required, ok := arg.(bson.A)
		if !ok {
			return false, fmt.Errorf("$all needs an array, got %T", arg)
		}
		if len(required) == 0 {
			return false, nil
		}
		for _, r := range required {
			if !matchEquals(values, r) {
				return false, nil
			}
		}
		return true, nil
	case "$elemMatch":
		cond, ok := asDocument(arg)
		if !ok {
			return false, fmt.Errorf("$elemMatch needs a document, got %T", arg)
		}
		return matchElem(values, cond)
	case "$type":
		return matchType(values, arg), nil
	case "$mod":
		return matchMod(values, arg)
	}
	return false, fmt.Errorf("%w: %s", ErrUnsupportedOperator, op)
}

func matchRange(values []any, op string, arg any) bool {
	check := func(v any) bool {
		c, ok := compareValues(v, arg)
		if !ok {
			return false
		}
		switch op {
		case "$gt":
			return c > 0
		case "$gte":
			return c >= 0
		case "$lt":
			return c < 0
		default:
			return c <= 0
		}
	}
	for _, v := range values {
		if check(v) {
			return true
		}
		if arr, ok := v.(bson.A); ok {
			for _, elem := range arr {
				if check(elem) {
					return true
				}
			}
		}
	}
	return false
}

func matchElem(values []any, cond bson.D) (bool, error) {
	operatorsOnly := isOperatorDocument(cond)
	for _, v := range values {
		arr, ok := v.(bson.A)
		if !ok {
			continue
		}
		for _, elem := range arr {
			var matched bool
			var err error
			if operatorsOnly {
				matched, err = matchOperators([]any{elem}, cond)
			} else if isDocument(elem) {
				matched, err = matchDocument(elem, cond)
			}
			if err != nil {
				return false, err
			}
			if matched {
				return true, nil
			}
		}
	}
	return false, nil
}

var typeAliases = map[string]int{
	"double": 1, "string": 2, "object": 3, "array": 4, "binData": 5,
	"objectId": 7, "bool": 8, "date": 9, "null": 10, "regex": 11,
	"int": 16, "timestamp": 17, "long": 18, "decimal": 19,
}

func bsonTypeNumber(v any) int {
	switch v.(type) {
	case float64, float32:
		return 1
	case string:
		return 2
	case bson.D, bson.M:
		return 3
	case bson.A:
		return 4
	case primitive.Binary:
		return 5
	case primitive.ObjectID:
		return 7
	case bool:
		return 8
	case primitive.DateTime:
		return 9
	case nil, primitive.Null:
		return 10
	case primitive.Regex:
		return 11
	case int32:
		return 16
	case primitive.Timestamp:
		return 17
	case int64, int:
		return 18
	case primitive.Decimal128:
		return 19
	}
	return -1
}

func matchType(values []any, arg any) bool {
	wanted := map[int]bool{}
	numeric := false
	add := func(t any) {
		if s, ok := t.(string); ok {
			if s == "number" {
				numeric = true
				return
			}
			wanted[typeAliases[s]] = true
			return
		}
		if n, ok := toFloat(t); ok {
			wanted[int(n)] = true
		}
	}
	if arr, ok := arg.(bson.A); ok {
		for _, t := range arr {
			add(t)
		}
	} else {
		add(arg)
	}
	for _, v := range values {
		n := bsonTypeNumber(v)
		if wanted[n] || (numeric && (n == 1 || n == 16 || n == 18 || n == 19)) {
			return true
		}
	}
	return false
}

func matchMod(values []any, arg any) (bool, error) {
	pair, ok := arg.(bson.A)
	if !ok || len(pair) != 2 {
		return false, fmt.Errorf("$mod needs [divisor, remainder]")
	}
	divisor, ok1 := toFloat(pair[0])
	remainder, ok2 := toFloat(pair[1])
	if !ok1 || !ok2 || divisor == 0 {
		return false, fmt.Errorf("$mod needs a non-zero numeric divisor")
	}
	for _, v := range values {
		if n, ok := toFloat(v); ok && int64(n)%int64(divisor) == int64(remainder) {
			return true, nil
		}
	}
	return false, nil
}

func regexArgs(arg any, siblings bson.D) (string, string) {
	var pattern, options string
	switch r := arg.(type) {
	case primitive.Regex:
		pattern, options = r.Pattern, r.Options
	case string:
		pattern = r
	}
	if o, ok := getField(siblings, "$options"); ok {
		if s, isString := o.(string); isString {
			options = s
		}
	}
	return pattern, options
}

func regexMatches(v any, pattern, options string) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	flags := ""
	for _, o := range options {
		switch o {
		case 'i', 'm', 's':
			flags += string(o)
		}
	}
	if flags != "" {
		pattern = "(?" + flags + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case nil:
		return false
	}
	if n, ok := toFloat(v); ok {
		return n != 0
	}
	return true
}
