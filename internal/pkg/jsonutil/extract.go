package jsonutil

import (
	"strings"
)

const codeFence = "```"

// ExtractJSON returns the first balanced JSON object or array in raw. A fenced code
// block wins over bare text.
func ExtractJSON(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if block, ok := fencedBlock(raw); ok {
		if out, ok := firstBalanced(block); ok {
			return out, true
		}
	}
	return firstBalanced(raw)
}

// ExtractObject is like ExtractJSON but only accepts an object; an array wrapping
// objects yields its first element.
func ExtractObject(raw string) (string, bool) {
	out, ok := ExtractJSON(raw)
	if !ok {
		return "", false
	}
	if strings.HasPrefix(out, "{") {
		return out, true
	}
	inner := strings.TrimSpace(strings.TrimPrefix(out, "["))
	if !strings.HasPrefix(inner, "{") {
		return "", false
	}
	return scanBalanced(inner, 0, '{', '}')
}

// fencedBlock 返回第一个 ``` 代码块的内容，去掉 ```json 这类语言标记行。
func fencedBlock(raw string) (string, bool) {
	_, rest, ok := strings.Cut(raw, codeFence)
	if !ok {
		return "", false
	}
	block, _, ok := strings.Cut(rest, codeFence)
	if !ok {
		return "", false
	}
	if head, body, found := strings.Cut(block, "\n"); found {
		if h := strings.TrimSpace(head); h != "" && !strings.ContainsAny(h, "[{") {
			block = body
		}
	}
	return block, true
}

// firstBalanced picks whichever of '{' or '[' opens first so nested arrays inside an
// object never shadow the object itself.
func firstBalanced(raw string) (string, bool) {
	i := strings.IndexAny(raw, "{[")
	if i == -1 {
		return "", false
	}
	if raw[i] == '{' {
		return scanBalanced(raw, i, '{', '}')
	}
	return scanBalanced(raw, i, '[', ']')
}

func scanBalanced(raw string, start int, openCh, closeCh byte) (string, bool) {
	depth := 0
	inString := false
	escape := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case openCh:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				return strings.TrimSpace(raw[start : i+1]), true
			}
		}
	}
	return "", false
}
