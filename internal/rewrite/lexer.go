package rewrite

// Specifier is a module specifier found in a source text. Start and End are
// byte offsets of the specifier contents, excluding the surrounding quotes.
type Specifier struct {
	Start   int
	End     int
	Name    string
	Dynamic bool
}

// Parse returns every static and dynamic import/export specifier of src in
// source order. Text inside strings, template literals, comments and regular
// expression literals is never reported. Parse never fails: unterminated
// constructs simply end the scan.
func Parse(src string) []Specifier {
	s := &scanner{src: src, regexOK: true}
	s.run()

	return s.specs
}

// keywords after which a slash starts a regular expression, not a division.
var regexKeywords = map[string]bool{
	"return": true, "typeof": true, "instanceof": true, "in": true, "of": true,
	"new": true, "delete": true, "void": true, "throw": true, "case": true,
	"do": true, "else": true, "yield": true, "await": true,
}

// keywords whose parenthesised condition may be followed by a regular
// expression, as in if (x) /re/.test(s).
var conditionKeywords = map[string]bool{
	"if": true, "while": true, "for": true, "with": true,
}

type scanner struct {
	src     string
	pos     int
	specs   []Specifier
	regexOK bool
	// lastDot is set when the previous significant token was a '.', so that
	// member accesses such as foo.import are not treated as keywords.
	lastDot bool
	// condition is set when the previous significant token was one of
	// conditionKeywords.
	condition bool
	// parens records, per open '(', whether it began a keyword condition.
	parens []bool
}

func (s *scanner) run() {
	for s.pos < len(s.src) {
		s.step()
	}
}

// step consumes one token at the top level.
func (s *scanner) step() {
	c := s.src[s.pos]

	switch {
	case isSpace(c):
		s.pos++
	case c == '/' && s.peek(1) == '/':
		s.skipLineComment()
	case c == '/' && s.peek(1) == '*':
		s.skipBlockComment()
	case c == '\'' || c == '"':
		s.skipString(c)
		s.setValue()
	case c == '`':
		s.skipTemplate()
		s.setValue()
	case c == '/':
		if s.regexOK {
			s.skipRegex()
			s.setValue()
		} else {
			s.pos++
			s.setPunct()
		}
	case isIdentStart(c):
		word := s.readIdent()
		afterDot := s.lastDot
		s.lastDot = false
		if !afterDot {
			switch word {
			case "import":
				s.scanImport()
				return
			case "export":
				s.scanExport()
				return
			}
		}
		s.regexOK = regexKeywords[word]
		s.condition = conditionKeywords[word]
	case isDigit(c):
		for s.pos < len(s.src) && (isIdentPart(s.src[s.pos]) || s.src[s.pos] == '.') {
			s.pos++
		}
		s.setValue()
	case c == '(':
		s.parens = append(s.parens, s.condition)
		s.pos++
		s.setPunct()
	case c == ')':
		s.pos++
		if s.popParen() {
			s.setPunct()
		} else {
			s.setValue()
		}
	case c == ']' || c == '}':
		s.pos++
		s.setValue()
	case c == '.':
		s.pos++
		s.regexOK = true
		s.lastDot = true
	default:
		s.pos++
		s.setPunct()
	}
}

// scanImport handles the token stream following an import keyword.
func (s *scanner) scanImport() {
	s.skipTrivia()
	if s.pos >= len(s.src) {
		return
	}

	switch c := s.src[s.pos]; {
	case c == '(':
		// Dynamic import: only a string literal argument is a specifier.
		s.parens = append(s.parens, false)
		s.pos++
		s.skipTrivia()
		if s.pos < len(s.src) && (s.src[s.pos] == '\'' || s.src[s.pos] == '"') {
			s.readSpecifier(true)
		}
		s.setPunct()
	case c == '.':
		// import.meta
		s.pos++
		s.lastDot = true
		s.regexOK = true
	case c == '\'' || c == '"':
		s.readSpecifier(false)
		s.setValue()
	default:
		s.scanClause()
	}
}

// scanExport recognises re-exports ("export * from", "export {…} from").
// Any other export form is left to the regular scan.
func (s *scanner) scanExport() {
	s.skipTrivia()
	if s.pos >= len(s.src) {
		return
	}

	switch s.src[s.pos] {
	case '*', '{':
		s.scanClause()
	default:
		s.regexOK = true
	}
}

// scanClause consumes an import/export clause up to and including the
// specifier after "from". It stops without recording anything when the
// clause turns out not to end in a from-specifier.
func (s *scanner) scanClause() {
	closed := false
	for s.pos < len(s.src) {
		s.skipTrivia()
		if s.pos >= len(s.src) {
			return
		}

		c := s.src[s.pos]
		switch {
		case c == '{':
			s.skipBraces()
			closed = true
		case c == '*' || c == ',':
			s.pos++
		case isIdentStart(c):
			start := s.pos
			word := s.readIdent()
			if word == "from" {
				s.skipTrivia()
				if s.pos < len(s.src) && (s.src[s.pos] == '\'' || s.src[s.pos] == '"') {
					s.readSpecifier(false)
					s.setValue()
					return
				}
				// "from" used as a binding name; keep looking.
				continue
			}
			if closed {
				// A braced list not followed by from: an ordinary export.
				s.pos = start
				s.regexOK = true
				return
			}
		default:
			s.regexOK = true
			return
		}
	}
}

// readSpecifier records the string literal at the current position.
func (s *scanner) readSpecifier(dynamic bool) {
	quote := s.src[s.pos]
	start := s.pos + 1
	if !s.skipString(quote) {
		return
	}

	end := s.pos - 1
	if dynamic {
		// import("a" + b) resolves at runtime; leave it alone. A second
		// argument carries import attributes.
		save := s.pos
		s.skipTrivia()
		ended := s.pos < len(s.src) && (s.src[s.pos] == ')' || s.src[s.pos] == ',')
		s.pos = save
		if !ended {
			return
		}
	}

	s.specs = append(s.specs, Specifier{
		Start:   start,
		End:     end,
		Name:    s.src[start:end],
		Dynamic: dynamic,
	})
}

func (s *scanner) setValue() {
	s.regexOK = false
	s.lastDot = false
	s.condition = false
}

func (s *scanner) setPunct() {
	s.regexOK = true
	s.lastDot = false
	s.condition = false
}

// popParen closes the innermost '(' and reports whether it was a keyword
// condition. Unbalanced ')' report false.
func (s *scanner) popParen() bool {
	if len(s.parens) == 0 {
		return false
	}
	top := s.parens[len(s.parens)-1]
	s.parens = s.parens[:len(s.parens)-1]

	return top
}

func (s *scanner) peek(off int) byte {
	if s.pos+off < len(s.src) {
		return s.src[s.pos+off]
	}

	return 0
}

func (s *scanner) readIdent() string {
	start := s.pos
	for s.pos < len(s.src) && isIdentPart(s.src[s.pos]) {
		s.pos++
	}

	return s.src[start:s.pos]
}

// skipTrivia skips whitespace and comments.
func (s *scanner) skipTrivia() {
	for s.pos < len(s.src) {
		switch c := s.src[s.pos]; {
		case isSpace(c):
			s.pos++
		case c == '/' && s.peek(1) == '/':
			s.skipLineComment()
		case c == '/' && s.peek(1) == '*':
			s.skipBlockComment()
		default:
			return
		}
	}
}

func (s *scanner) skipLineComment() {
	for s.pos < len(s.src) && s.src[s.pos] != '\n' {
		s.pos++
	}
}

func (s *scanner) skipBlockComment() {
	s.pos += 2
	for s.pos < len(s.src) {
		if s.src[s.pos] == '*' && s.peek(1) == '/' {
			s.pos += 2
			return
		}
		s.pos++
	}
}

// skipString skips a quoted literal and reports whether it was terminated.
func (s *scanner) skipString(quote byte) bool {
	s.pos++
	for s.pos < len(s.src) {
		switch s.src[s.pos] {
		case '\\':
			s.pos += 2
			continue
		case quote:
			s.pos++
			return true
		case '\n':
			// Strings cannot span lines.
			return false
		}
		s.pos++
	}
	if s.pos > len(s.src) {
		s.pos = len(s.src)
	}

	return false
}

func (s *scanner) skipTemplate() {
	s.pos++
	for s.pos < len(s.src) {
		switch s.src[s.pos] {
		case '\\':
			s.pos += 2
			continue
		case '`':
			s.pos++
			return
		case '$':
			if s.peek(1) == '{' {
				s.pos++
				s.skipBraces()
				continue
			}
		}
		s.pos++
	}
}

// skipBraces skips a balanced {…} block starting at the current '{'.
func (s *scanner) skipBraces() {
	depth := 0
	for s.pos < len(s.src) {
		switch c := s.src[s.pos]; {
		case c == '{':
			depth++
			s.pos++
		case c == '}':
			depth--
			s.pos++
			if depth == 0 {
				return
			}
		case c == '\'' || c == '"':
			s.skipString(c)
		case c == '`':
			s.skipTemplate()
		case c == '/' && s.peek(1) == '/':
			s.skipLineComment()
		case c == '/' && s.peek(1) == '*':
			s.skipBlockComment()
		default:
			s.pos++
		}
	}
}

func (s *scanner) skipRegex() {
	s.pos++
	inClass := false
	for s.pos < len(s.src) {
		switch s.src[s.pos] {
		case '\\':
			s.pos += 2
			continue
		case '[':
			inClass = true
		case ']':
			inClass = false
		case '\n':
			return
		case '/':
			if !inClass {
				s.pos++
				for s.pos < len(s.src) && isIdentPart(s.src[s.pos]) {
					s.pos++
				}
				return
			}
		}
		s.pos++
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}
