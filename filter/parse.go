package filter

import (
	"encoding/json"
	"fmt"
	"strings"
)

// reserved are the characters that end a bare token.
const reserved = ":[](),;=\"#"

// Parse parses a filter chain such as ":/lib:prefix=vendor", or a workspace file
// made of "dst = filter" lines, and returns the optimized filter.
//
// An empty string is the [NopOp] filter.
func Parse(spec string) (Filter, error) {
	p := &parser{input: spec}
	entries, err := p.entries(false)
	if err != nil {
		return NopFilter, err
	}
	if !p.eof() {
		return NopFilter, p.errorf("unexpected %q, filters start with ':'", string(p.peek()))
	}

	var f Filter
	switch len(entries) {
	case 0:
		f = NopFilter
	case 1:
		f = entries[0]
	default:
		f = Compose(entries...)
	}

	return Optimize(f), nil
}

// MustParse parses the spec and panics on error.
func MustParse(spec string) Filter {
	f, err := Parse(spec)
	if err != nil {
		panic(err)
	}
	return f
}

// ParseWorkspace parses the content of a workspace file. Unlike [Parse] an empty
// workspace selects nothing.
func ParseWorkspace(content string) (Filter, error) {
	p := &parser{input: content}
	entries, err := p.entries(false)
	if err != nil {
		return EmptyFilter, err
	}
	if !p.eof() {
		return EmptyFilter, p.errorf("unexpected %q in workspace file", string(p.peek()))
	}
	return Optimize(Compose(entries...)), nil
}

type parser struct {
	input string
	pos   int
}

func (p *parser) eof() bool {
	return p.pos >= len(p.input)
}

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.input[p.pos]
}

func (p *parser) errorf(format string, args ...any) error {
	return &ParseError{Input: p.input, Pos: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expect(c byte, context string) error {
	if p.peek() != c {
		if p.eof() {
			return p.errorf("%s: expected %q but the filter ended", context, string(c))
		}
		return p.errorf("%s: expected %q", context, string(c))
	}
	p.pos++
	return nil
}

// skipSeparators skips white space, commas and # comments between entries.
func (p *parser) skipSeparators() {
	for !p.eof() {
		switch c := p.peek(); {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == ',':
			p.pos++
		case c == '#':
			for !p.eof() && p.peek() != '\n' {
				p.pos++
			}
		default:
			return
		}
	}
}

func (p *parser) skipSpaces() {
	for !p.eof() && (p.peek() == ' ' || p.peek() == '\t') {
		p.pos++
	}
}

// entries parses list entries until the end of input, or until ']' when inBracket is set.
func (p *parser) entries(inBracket bool) ([]Filter, error) {
	var r []Filter
	for {
		p.skipSeparators()
		if p.eof() {
			if inBracket {
				return nil, p.errorf("missing closing ']'")
			}
			return r, nil
		}
		if p.peek() == ']' {
			if !inBracket {
				return nil, p.errorf("unbalanced ']'")
			}
			return r, nil
		}
		f, err := p.entry()
		if err != nil {
			return nil, err
		}
		r = append(r, f)
	}
}

// entry parses a filter chain, or a "dst = chain" mapping, or a bare path
// which is short for "path = :/path".
func (p *parser) entry() (Filter, error) {
	if p.peek() == ':' {
		return p.chain()
	}

	start := p.pos
	dst, _, err := p.token()
	if err != nil {
		return NopFilter, err
	}
	if dst == "" {
		p.pos = start
		return NopFilter, p.errorf("expected a path or a filter starting with ':'")
	}
	p.skipSpaces()
	if p.peek() != '=' {
		return Chain(Subdir(dst), Prefix(dst)), nil
	}
	p.pos++
	p.skipSpaces()
	if p.peek() != ':' {
		return NopFilter, p.errorf("missing filter after %q =, e.g. %s = :/%s", dst, dst, dst)
	}
	f, err := p.chain()
	if err != nil {
		return NopFilter, err
	}
	return Chain(f, Prefix(dst)), nil
}

// chain parses consecutive ops.
func (p *parser) chain() (Filter, error) {
	var ops []Filter
	for p.peek() == ':' {
		f, err := p.op()
		if err != nil {
			return NopFilter, err
		}
		ops = append(ops, flattenChain(f)...)
	}
	return Chain(ops...), nil
}

func flattenChain(f Filter) []Filter {
	c, ischain := f.Op().(ChainOp)
	if !ischain {
		return []Filter{f}
	}
	return append(flattenChain(c.First), flattenChain(c.Second)...)
}

func (p *parser) op() (Filter, error) {
	start := p.pos
	p.pos++ // ':'

	switch p.peek() {
	case '/':
		p.pos++
		path, _, err := p.token()
		if err != nil {
			return NopFilter, err
		}
		if path == "" {
			return NopFilter, nil
		}
		return Subdir(path), nil
	case ':':
		p.pos++
		return p.fileOp()
	case '+':
		p.pos++
		path, _, err := p.token()
		if err != nil {
			return NopFilter, err
		}
		if path == "" {
			return NopFilter, p.errorf(":+ requires the path of a stored filter, e.g. :+filters/lib")
		}
		return New(StoredOp{Path: path}), nil
	case '[':
		p.pos++
		fs, err := p.bracketList()
		if err != nil {
			return NopFilter, err
		}
		return Compose(fs...), nil
	case '~':
		p.pos++
		return p.metaOp()
	}

	name := p.name()
	if name == "" {
		p.pos = start
		if p.pos+1 >= len(p.input) {
			return NopFilter, p.errorf("':' must be followed by a filter name")
		}
		return NopFilter, p.errorf("':' must be followed by a filter name, '/' or ':'")
	}

	switch p.peek() {
	case '=':
		p.pos++
		return p.argOp(name)
	case '[':
		p.pos++
		return p.listOp(name)
	case '(':
		p.pos++
		return p.parenOp(name)
	}

	switch name {
	case "empty":
		return EmptyFilter, nil
	case "nop":
		return NopFilter, nil
	case "unsign":
		return New(UnsignOp{}), nil
	case "linear":
		return New(LinearOp{}), nil
	case "prune":
		return New(PruneOp{}), nil
	case "squash":
		return New(SquashOp{}), nil
	case "PATHS":
		return New(PathsOp{}), nil
	case "INDEX":
		return New(IndexOp{}), nil
	case "INVERT":
		return New(InvertOp{}), nil
	case "FOLD":
		return New(FoldOp{}), nil
	case "prefix", "workspace", "author", "committer", "message", "subdir":
		return NopFilter, p.errorf("missing argument: %s", usage(name))
	case "exclude", "pin", "subtract":
		return NopFilter, p.errorf("missing filter list: %s", usage(name))
	case "rev", "replace":
		return NopFilter, p.errorf("missing entries: %s", usage(name))
	}

	p.pos = start
	return NopFilter, p.errorf("unknown filter :%s", name)
}

func usage(name string) string {
	switch name {
	case "prefix":
		return `:prefix requires a path, e.g. :prefix=sub/dir`
	case "subdir":
		return `:subdir requires a path, e.g. :subdir=sub/dir or :/sub/dir`
	case "workspace":
		return `:workspace requires a path, e.g. :workspace=ws/app`
	case "author", "committer":
		return fmt.Sprintf(`:%s requires a name and an email, e.g. :%[1]s="Jane Doe";"jane@example.com"`, name)
	case "message":
		return `:message requires a format and an optional regex, e.g. :message="{@message}";"(?s)^(?P<summary>[^\n]*)"`
	case "exclude", "pin":
		return fmt.Sprintf(`:%s requires filters in brackets, e.g. :%[1]s[::secret.txt]`, name)
	case "subtract":
		return `:subtract requires two filters in brackets, e.g. :subtract[:/a,:/a/b]`
	case "rev":
		return `:rev requires revision:filter entries, e.g. :rev(0123abcd:prefix=old)`
	case "replace":
		return `:replace requires "regex":"replacement" entries, e.g. :replace("foo":"bar")`
	case "squash":
		return `:squash takes an optional list of revision:filter entries, e.g. :squash(0123abcd:author="a";"a@b")`
	default:
		return ":" + name
	}
}

func (p *parser) name() string {
	start := p.pos
	for !p.eof() {
		c := p.peek()
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-' {
			p.pos++
			continue
		}
		break
	}
	return p.input[start:p.pos]
}

// token reads a bare or a JSON quoted string.
func (p *parser) token() (string, bool, error) {
	if p.peek() == '"' {
		s, err := p.quoted()
		return s, true, err
	}
	start := p.pos
	for !p.eof() {
		c := p.peek()
		if strings.IndexByte(reserved, c) >= 0 || c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			break
		}
		p.pos++
	}
	return p.input[start:p.pos], false, nil
}

func (p *parser) quoted() (string, error) {
	start := p.pos
	p.pos++
	for !p.eof() {
		switch p.peek() {
		case '\\':
			p.pos += 2
			continue
		case '"':
			p.pos++
			var s string
			if err := json.Unmarshal([]byte(p.input[start:p.pos]), &s); err != nil {
				p.pos = start
				return "", p.errorf("invalid quoted string: %s", err.Error())
			}
			return s, nil
		}
		p.pos++
	}
	p.pos = start
	return "", p.errorf("unterminated quoted string")
}

func (p *parser) fileOp() (Filter, error) {
	dst, _, err := p.token()
	if err != nil {
		return NopFilter, err
	}
	if dst == "" {
		return NopFilter, p.errorf(":: requires a path or a pattern, e.g. ::README.md or ::src/**/*.go")
	}
	if p.peek() == '=' {
		p.pos++
		src, _, err := p.token()
		if err != nil {
			return NopFilter, err
		}
		if src == "" {
			return NopFilter, p.errorf("missing source path in ::%s=", dst)
		}
		return File(dst, src), nil
	}

	switch {
	case hasGlob(dst):
		if !ValidGlob(dst) {
			return NopFilter, p.errorf("malformed pattern %q", dst)
		}
		return Pattern(dst), nil
	case strings.HasSuffix(dst, "/"):
		d := strings.TrimRight(dst, "/")
		if d == "" {
			return NopFilter, nil
		}
		return Chain(Subdir(d), Prefix(d)), nil
	default:
		return File(dst, dst), nil
	}
}

func hasGlob(s string) bool {
	return strings.ContainsAny(s, "*?")
}

// args reads arg (";" arg)*.
func (p *parser) args() ([]string, error) {
	var r []string
	for {
		s, _, err := p.token()
		if err != nil {
			return nil, err
		}
		r = append(r, s)
		if p.peek() != ';' {
			return r, nil
		}
		p.pos++
	}
}

func (p *parser) argOp(name string) (Filter, error) {
	args, err := p.args()
	if err != nil {
		return NopFilter, err
	}
	need := func(n int) error {
		if len(args) != n || args[0] == "" {
			return p.errorf("wrong number of arguments: %s", usage(name))
		}
		return nil
	}
	switch name {
	case "prefix":
		if err := need(1); err != nil {
			return NopFilter, err
		}
		return Prefix(args[0]), nil
	case "subdir":
		if err := need(1); err != nil {
			return NopFilter, err
		}
		return Subdir(args[0]), nil
	case "workspace":
		if err := need(1); err != nil {
			return NopFilter, err
		}
		return New(WorkspaceOp{Path: args[0]}), nil
	case "author", "committer":
		if err := need(2); err != nil {
			return NopFilter, err
		}
		if name == "author" {
			return New(AuthorOp{Name: args[0], Email: args[1]}), nil
		}
		return New(CommitterOp{Name: args[0], Email: args[1]}), nil
	case "message":
		switch len(args) {
		case 1:
			return New(MessageOp{Format: args[0]}), nil
		case 2:
			return New(MessageOp{Format: args[0], Regex: args[1]}), nil
		}
		return NopFilter, p.errorf("wrong number of arguments: %s", usage(name))
	case "prune":
		if len(args) != 1 || args[0] != "trivial-merge" {
			return NopFilter, p.errorf("unknown prune mode, only :prune=trivial-merge is supported")
		}
		return New(PruneOp{}), nil
	}
	return NopFilter, p.errorf("unknown filter :%s", name)
}

func (p *parser) bracketList() ([]Filter, error) {
	fs, err := p.entries(true)
	if err != nil {
		return nil, err
	}
	if err := p.expect(']', "filter list"); err != nil {
		return nil, err
	}
	return fs, nil
}

func single(fs []Filter) Filter {
	if len(fs) == 1 {
		return fs[0]
	}
	return Compose(fs...)
}

func (p *parser) listOp(name string) (Filter, error) {
	fs, err := p.bracketList()
	if err != nil {
		return NopFilter, err
	}
	switch name {
	case "exclude":
		return Exclude(single(fs)), nil
	case "pin":
		return New(PinOp{Filter: single(fs)}), nil
	case "subtract":
		if len(fs) != 2 {
			return NopFilter, p.errorf("wrong number of filters: %s", usage(name))
		}
		return Subtract(fs[0], fs[1]), nil
	}
	return NopFilter, p.errorf("unknown filter :%s[...]", name)
}

func (p *parser) parenOp(name string) (Filter, error) {
	switch name {
	case "rev", "squash":
		entries, err := p.revEntries(name)
		if err != nil {
			return NopFilter, err
		}
		if name == "rev" {
			return New(RevOp{Entries: entries}), nil
		}
		if entries == nil {
			entries = []RevFilter{}
		}
		return New(SquashOp{Points: entries}), nil
	case "replace":
		var rs []Replacement
		for {
			p.skipSeparators()
			if p.peek() == ')' {
				p.pos++
				break
			}
			re, quoted, err := p.token()
			if err != nil {
				return NopFilter, err
			}
			if !quoted {
				return NopFilter, p.errorf("replace entries must be quoted: %s", usage(name))
			}
			if err := p.expect(':', "replace entry"); err != nil {
				return NopFilter, err
			}
			rep, _, err := p.token()
			if err != nil {
				return NopFilter, err
			}
			rs = append(rs, Replacement{Regex: re, Replacement: rep})
		}
		if len(rs) == 0 {
			return NopFilter, p.errorf("missing entries: %s", usage(name))
		}
		return New(RegexReplaceOp{Replacements: rs}), nil
	}
	return NopFilter, p.errorf("unknown filter :%s(...)", name)
}

func (p *parser) revEntries(name string) ([]RevFilter, error) {
	var r []RevFilter
	for {
		p.skipSeparators()
		if p.eof() {
			return nil, p.errorf("missing closing ')': %s", usage(name))
		}
		if p.peek() == ')' {
			p.pos++
			return r, nil
		}
		rev, _, err := p.token()
		if err != nil {
			return nil, err
		}
		if rev == "" {
			return nil, p.errorf("missing revision: %s", usage(name))
		}
		if p.peek() != ':' {
			return nil, p.errorf("missing filter after revision %q: %s", rev, usage(name))
		}
		f, err := p.chain()
		if err != nil {
			return nil, err
		}
		if rev == "_" {
			rev = ""
		}
		r = append(r, RevFilter{Rev: rev, Filter: f})
	}
}

func (p *parser) metaOp() (Filter, error) {
	if err := p.expect('(', "annotations"); err != nil {
		return NopFilter, err
	}
	values := make(map[string]string)
	for {
		p.skipSeparators()
		if p.peek() == ')' {
			p.pos++
			break
		}
		key := p.name()
		if key == "" {
			return NopFilter, p.errorf(`annotations are key="value" pairs, e.g. :~(url="https://example.com/repo.git")[:/lib]`)
		}
		if err := p.expect('=', "annotation "+key); err != nil {
			return NopFilter, err
		}
		v, _, err := p.token()
		if err != nil {
			return NopFilter, err
		}
		values[key] = v
	}
	if err := p.expect('[', "annotated filter"); err != nil {
		return NopFilter, err
	}
	fs, err := p.bracketList()
	if err != nil {
		return NopFilter, err
	}
	return New(MetaOp{Values: values, Inner: single(fs)}), nil
}
