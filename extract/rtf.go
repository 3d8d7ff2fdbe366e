package extract

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// rtfSkipGroups are destinations whose content is not document text.
var rtfSkipGroups = map[string]bool{
	"fonttbl": true, "colortbl": true, "stylesheet": true, "listtable": true,
	"listoverridetable": true, "pict": true, "object": true, "header": true,
	"footer": true, "themedata": true, "datastore": true, "xmlnstbl": true,
	"rsidtbl": true, "generator": true, "latentstyles": true,
}

// extractRTF walks the control words of an RTF document. Hex escapes are
// decoded as Windows-1252 and \uN as Unicode; the info group feeds title
// and author metadata.
func extractRTF(_ context.Context, data []byte, _ string) Result {
	s := string(data)
	if !strings.HasPrefix(strings.TrimSpace(s), `{\rtf`) {
		return Fail(fmt.Errorf("rtf: missing {\\rtf header"))
	}

	p := rtfParser{src: s, meta: map[string]string{}}
	p.parse()
	text := normalizeLines(p.out.String())
	if text == "" {
		return Fail(fmt.Errorf("rtf: no text content"))
	}
	rec := newRecord()
	rec.RawText = text
	for k, v := range p.meta {
		rec.Metadata[k] = v
	}
	rec.Confidence = 0.85
	return OK(rec)
}

type rtfState struct {
	skip    bool
	info    bool
	infoKey string // set inside \info sub-groups such as \title
	ucSkip  int
}

type rtfParser struct {
	src         string
	pos         int
	out         strings.Builder
	field       strings.Builder
	meta        map[string]string
	stack       []rtfState
	cur         rtfState
	pendingSkip int
}

func (p *rtfParser) emit(s string) {
	if p.cur.skip && p.cur.infoKey == "" {
		return
	}
	if p.cur.infoKey != "" {
		p.field.WriteString(s)
		return
	}
	p.out.WriteString(s)
}

func (p *rtfParser) parse() {
	win := charmap.Windows1252.NewDecoder()
	p.cur.ucSkip = 1
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch c {
		case '{':
			p.stack = append(p.stack, p.cur)
			p.pos++
			if strings.HasPrefix(p.src[p.pos:], `\*`) {
				p.cur.skip = true
				p.pos += 2
			}
		case '}':
			if p.cur.infoKey != "" && (len(p.stack) == 0 || p.stack[len(p.stack)-1].infoKey == "") {
				if v := strings.TrimSpace(p.field.String()); v != "" {
					p.meta[p.cur.infoKey] = v
				}
				p.field.Reset()
			}
			if n := len(p.stack); n > 0 {
				p.cur = p.stack[n-1]
				p.stack = p.stack[:n-1]
			}
			p.pos++
		case '\\':
			p.controlWord(win)
		case '\r', '\n':
			p.pos++
		default:
			if p.pendingSkip > 0 {
				p.pendingSkip--
			} else {
				p.emit(string(c))
			}
			p.pos++
		}
	}
}

func (p *rtfParser) controlWord(win *encoding.Decoder) {
	p.pos++ // backslash
	if p.pos >= len(p.src) {
		return
	}
	c := p.src[p.pos]
	switch {
	case c == '\'':
		if p.pos+2 < len(p.src) {
			if b, err := strconv.ParseUint(p.src[p.pos+1:p.pos+3], 16, 8); err == nil {
				if p.pendingSkip > 0 {
					p.pendingSkip--
				} else if out, err := win.Bytes([]byte{byte(b)}); err == nil {
					p.emit(string(out))
				}
			}
		}
		p.pos += 3
		return
	case c == '\\' || c == '{' || c == '}':
		p.emit(string(c))
		p.pos++
		return
	case c == '~':
		p.emit(" ")
		p.pos++
		return
	case c == '-' || c == '_':
		if c == '_' {
			p.emit("-")
		}
		p.pos++
		return
	case c == '\n' || c == '\r':
		p.emit("\n")
		p.pos++
		return
	case !isASCIILetter(c):
		p.pos++
		return
	}

	start := p.pos
	for p.pos < len(p.src) && isASCIILetter(p.src[p.pos]) {
		p.pos++
	}
	word := p.src[start:p.pos]
	numStart := p.pos
	if p.pos < len(p.src) && p.src[p.pos] == '-' {
		p.pos++
	}
	for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
		p.pos++
	}
	arg, hasArg := 0, p.pos > numStart
	if hasArg {
		arg, _ = strconv.Atoi(p.src[numStart:p.pos])
	}
	if p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}

	switch word {
	case "par", "line", "sect", "page":
		p.emit("\n")
	case "tab", "cell":
		p.emit("\t")
	case "row":
		p.emit("\n")
	case "emdash":
		p.emit("—")
	case "endash":
		p.emit("–")
	case "lquote", "rquote":
		p.emit("'")
	case "ldblquote", "rdblquote":
		p.emit(`"`)
	case "bullet":
		p.emit("•")
	case "uc":
		if hasArg {
			p.cur.ucSkip = arg
		}
	case "u":
		if hasArg {
			if arg < 0 {
				arg += 65536
			}
			p.emit(string(rune(arg)))
			p.pendingSkip = p.cur.ucSkip
		}
	case "info":
		p.cur.skip = true
		p.cur.info = true
	case "title", "author", "subject", "keywords", "company", "operator":
		if p.cur.info {
			p.cur.infoKey = word
			p.field.Reset()
		}
	default:
		if rtfSkipGroups[word] {
			p.cur.skip = true
		}
	}
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// normalizeLines trims every line and collapses runs of blank lines.
func normalizeLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
